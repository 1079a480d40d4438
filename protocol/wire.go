package protocol

import (
	"fmt"
	"io"
)

// MarshalBinary encodes the frame as it appears on the wire: header then
// body. Checksums are written as they are, call UpdateChecksum first.
func (m *Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize+len(m.body))
	m.Header.put(b)
	copy(b[HeaderSize:], m.body)
	return b, nil
}

// UnmarshalBinary decodes a frame produced by MarshalBinary. Trailing bytes
// beyond Header.Size are ignored.
func (m *Message) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}

	end := HeaderSize + int(h.Size)
	if len(data) < end {
		return io.ErrUnexpectedEOF
	}

	m.Header = h
	m.body = append(m.body[:0], data[HeaderSize:end]...)
	return nil
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var (
		h   Header
		buf [HeaderSize]byte
	)

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return h, err
	}

	err := h.UnmarshalBinary(buf[:])
	return h, err
}

// ReadMessage reads one whole frame from r and validates its checksums.
//
// maxBody bounds the body size a peer may announce, 0 disables the bound.
func ReadMessage(r io.Reader, maxBody int) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: h}
	if !m.IsHeaderValid() {
		return nil, fmt.Errorf("Failed to read %s: %w", m, ErrHeaderChecksum)
	}

	if maxBody > 0 && int(h.Size) > maxBody {
		return nil, fmt.Errorf("Failed to read %s: %w", m, ErrBodyTooLarge)
	}

	if h.Size > 0 {
		m.body = make([]byte, h.Size)
		if _, err := io.ReadFull(r, m.body); err != nil {
			return nil, err
		}
	}

	if !m.IsBodyValid() {
		return nil, fmt.Errorf("Failed to read %s: %w", m, ErrBodyChecksum)
	}

	return m, nil
}

// WriteMessage recomputes the checksums of m and writes the frame to w.
func WriteMessage(w io.Writer, m *Message) error {
	m.UpdateChecksum()

	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}
