package protocol

// This package implements the framing and payload conventions relay uses to
// move messages between a client and a server over a raw byte stream.
//
// The protocol aims to be
//
// - trivial to frame: a fixed size header tells the reader exactly how many
//   body bytes follow
// - cheap to validate: additive checksums catch stream desynchronisation
// - schema free: the message type is an opaque tag owned by the application
//
// === Frame
//
// Every frame is a 16 byte header followed by exactly `Size` body bytes:
//
//	┌──────────┬──────────┬────────────────┬──────────────┐
//	│ Type     │ Size     │ HeaderChecksum │ BodyChecksum │
//	│ 4 bytes  │ 4 bytes  │ 4 bytes        │ 4 bytes      │
//	└──────────┴──────────┴────────────────┴──────────────┘
//	│ Body (Size bytes)                                   │
//	└─────────────────────────────────────────────────────┘
//
// Integers are written in the host's native byte order. There is no
// negotiation, both peers must agree on byte order out of band.
//
// - `HeaderChecksum` is `Type + Size`, truncated to 32 bits
// - `BodyChecksum` is the sum of every body byte, truncated to 32 bits
//
// These are corruption checks, not tamper resistance. A reader that sees a bad
// checksum must assume it has lost its place in the stream and drop the
// connection.
//
// === Payload
//
// The body is used as a stack. Pushing a value appends its raw bytes followed
// by a 4 byte tag holding the value's length. Popping reads the tag at the
// tail, then the bytes in front of it. Values come back out in the reverse of
// the order they went in:
//
//	msg := protocol.New(ServerPing)
//	msg.Push(time.Now().UnixNano())
//	msg.PushString("hello")
//
//	greeting := msg.PopString()
//	var sent int64
//	msg.Pop(&sent)
//
// Popping a fixed size value whose tag does not match the destination's size
// means both ends disagree on the message schema. That is a programming error
// and Pop panics with a *SchemaError.
//
// Type 0 is reserved by convention and should not be used by applications.
