package transport

import (
	"go.uber.org/zap"
)

// ConnOptions configures a single connection.
type ConnOptions struct {
	// MaxBodySize bounds the body size a peer may announce in a header. A
	// larger announcement is treated like a bad checksum and drops the
	// connection. 0 disables the bound.
	MaxBodySize int

	Metrics *Metrics

	Log *zap.Logger
}

// Options configures a Server.
type Options struct {
	// Reuseport controls setting SO_REUSEPORT on the listener
	Reuseport bool

	// MaxBodySize is applied to every accepted connection, see ConnOptions
	MaxBodySize int

	// OnClientConnect is called on the reactor goroutine for every accepted
	// connection, before its read loop is armed. Returning false refuses the
	// connection. A nil hook accepts everything.
	OnClientConnect func(conn *Conn) bool

	// OnClientDisconnect is called when a roster connection is found to be
	// disconnected, or is dropped with DisconnectClient.
	OnClientDisconnect func(conn *Conn)

	// OnMessage is called from Update for every inbound message.
	OnMessage func(msg Envelope)

	Metrics *Metrics

	Log *zap.Logger
}

func (o Options) connOptions(log *zap.Logger) ConnOptions {
	return ConnOptions{
		MaxBodySize: o.MaxBodySize,
		Metrics:     o.Metrics,
		Log:         log,
	}
}
