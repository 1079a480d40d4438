package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the number of bytes a Header occupies on the wire.
const HeaderSize = 16

var (
	ErrShortHeader    = errors.New("Header is malformed, it appears to be too short")
	ErrHeaderChecksum = errors.New("Header checksum does not match, the stream is out of sync")
	ErrBodyChecksum   = errors.New("Body checksum does not match, the stream is out of sync")
	ErrBodyTooLarge   = errors.New("Message body exceeds the configured maximum size")
)

// Header is the fixed size prefix of every frame.
type Header struct {
	// Application defined message type, 0 is reserved
	Type uint32

	// Number of body bytes that follow the header
	Size uint32

	HeaderChecksum uint32
	BodyChecksum   uint32
}

// MarshalBinary encodes the header in native byte order.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	h.put(b)
	return b, nil
}

func (h Header) put(b []byte) {
	binary.NativeEndian.PutUint32(b[0:4], h.Type)
	binary.NativeEndian.PutUint32(b[4:8], h.Size)
	binary.NativeEndian.PutUint32(b[8:12], h.HeaderChecksum)
	binary.NativeEndian.PutUint32(b[12:16], h.BodyChecksum)
}

// UnmarshalBinary decodes a header previously written by MarshalBinary.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortHeader
	}

	h.Type = binary.NativeEndian.Uint32(data[0:4])
	h.Size = binary.NativeEndian.Uint32(data[4:8])
	h.HeaderChecksum = binary.NativeEndian.Uint32(data[8:12])
	h.BodyChecksum = binary.NativeEndian.Uint32(data[12:16])

	return nil
}

func (h Header) checksum() uint32 {
	return h.Type + h.Size
}

// Message is a single frame: a header and the body it describes.
//
// The body is only ever changed through Message methods so that Header.Size
// always matches it. Checksums are only valid straight after UpdateChecksum.
type Message struct {
	Header Header

	body []byte
}

// New returns an empty message of the given type.
func New(t uint32) *Message {
	return &Message{Header: Header{Type: t}}
}

// Body returns the message body. The returned slice aliases the message.
func (m *Message) Body() []byte {
	return m.body
}

// Len returns the number of body bytes.
func (m *Message) Len() int {
	return len(m.body)
}

// SetBody replaces the message body with a copy of data.
func (m *Message) SetBody(data []byte) {
	m.body = append(m.body[:0], data...)
	m.resize()
}

// Reset empties the body, keeping the message type.
func (m *Message) Reset() {
	m.body = m.body[:0]
	m.resize()
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := &Message{Header: m.Header}
	if m.body != nil {
		c.body = append(make([]byte, 0, len(m.body)), m.body...)
	}
	return c
}

// UpdateChecksum recomputes both checksums. It must be called before the
// message is transmitted.
func (m *Message) UpdateChecksum() {
	m.Header.HeaderChecksum = m.Header.checksum()
	m.Header.BodyChecksum = sum(m.body)
}

// IsHeaderValid reports whether the header checksum matches Type and Size.
func (m *Message) IsHeaderValid() bool {
	return m.Header.checksum() == m.Header.HeaderChecksum
}

// IsBodyValid reports whether the header is valid and the body checksum
// matches the body bytes.
func (m *Message) IsBodyValid() bool {
	if !m.IsHeaderValid() {
		return false
	}

	return sum(m.body) == m.Header.BodyChecksum
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{type=%d size=%d}", m.Header.Type, m.Header.Size)
}

// resize keeps Header.Size in step with the body
func (m *Message) resize() {
	m.Header.Size = uint32(len(m.body))
}

func sum(data []byte) uint32 {
	var s uint32
	for _, b := range data {
		s += uint32(b)
	}
	return s
}

// Allocate returns a message for h whose body is h.Size zeroed bytes, ready
// to be filled from the wire through Body.
func Allocate(h Header) *Message {
	return &Message{Header: h, body: make([]byte, h.Size)}
}
