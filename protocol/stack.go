package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// sizeTagLen is the width of the length tag written after every pushed value.
const sizeTagLen = 4

// SchemaError is the panic value raised when a pop does not fit the body:
// the tag names a different size than the destination, or the body is too
// short to hold what the tag claims.
type SchemaError struct {
	Op   string
	Want int
	Got  int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("protocol: %s expected %d bytes, found %d", e.Op, e.Want, e.Got)
}

// appender lets encoding/binary write straight onto the body tail.
type appender struct {
	m *Message
}

func (a appender) Write(p []byte) (int, error) {
	a.m.body = append(a.m.body, p...)
	return len(p), nil
}

// Push appends a fixed size value, followed by its size tag. v must be
// accepted by encoding/binary: sized numbers, bools, arrays and structs of
// those. Platform sized ints and anything holding pointers or slices are
// rejected with a panic.
func (m *Message) Push(v any) *Message {
	n := binary.Size(v)
	if n < 0 {
		panic(fmt.Sprintf("protocol: cannot push %T, it is not a fixed size value", v))
	}

	if err := binary.Write(appender{m}, binary.NativeEndian, v); err != nil {
		panic(err)
	}

	m.pushSize(n)
	return m
}

// Pop removes the value on top of the stack into v, which must be a pointer
// to a fixed size value. It panics with a *SchemaError if the size tag does
// not match the size of *v.
func (m *Message) Pop(v any) *Message {
	want := binary.Size(v)
	if want < 0 {
		panic(fmt.Sprintf("protocol: cannot pop into %T, it is not a fixed size value", v))
	}

	got := m.popSize()
	if got != want {
		panic(&SchemaError{Op: "pop", Want: want, Got: got})
	}

	data := m.take(got)
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, v); err != nil {
		panic(err)
	}

	return m
}

// PushBytes appends a variable length byte slice followed by its length.
func (m *Message) PushBytes(data []byte) *Message {
	m.body = append(m.body, data...)
	m.pushSize(len(data))
	return m
}

// PopBytes removes the byte slice on top of the stack. The result is a copy.
func (m *Message) PopBytes() []byte {
	n := m.popSize()
	data := m.take(n)

	out := make([]byte, n)
	copy(out, data)
	return out
}

// PushString appends a string followed by its length.
func (m *Message) PushString(s string) *Message {
	m.body = append(m.body, s...)
	m.pushSize(len(s))
	return m
}

// PopString removes the string on top of the stack.
func (m *Message) PopString() string {
	n := m.popSize()
	return string(m.take(n))
}

func (m *Message) pushSize(n int) {
	var tag [sizeTagLen]byte
	binary.NativeEndian.PutUint32(tag[:], uint32(n))
	m.body = append(m.body, tag[:]...)
	m.resize()
}

func (m *Message) popSize() int {
	tag := m.take(sizeTagLen)
	return int(binary.NativeEndian.Uint32(tag))
}

// take cuts n bytes off the tail of the body and returns them. The returned
// slice stays valid until the next push.
func (m *Message) take(n int) []byte {
	if n > len(m.body) {
		panic(&SchemaError{Op: "pop", Want: n, Got: len(m.body)})
	}

	i := len(m.body) - n
	data := m.body[i:]
	m.body = m.body[:i]
	m.resize()

	return data
}
