package cmd

// Message types spoken by the start and connect demos. 0 is reserved.
const (
	MsgNone uint32 = iota

	// server -> client
	MsgServerAccept
	// server -> client
	MsgServerDeny
	// both ways, the server bounces it back
	MsgServerPing
	// client -> server
	MsgMessageAll
	// server -> client, carries the sender's connection id
	MsgServerMessage
)
