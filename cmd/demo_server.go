package cmd

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/storage"
	"github.com/luma/relay/transport"
)

// demoServer is the application side of the start command. It greets every
// client, bounces pings and relays MessageAll to everyone else.
type demoServer struct {
	server    *transport.Server
	directory *storage.Directory
	log       *zap.Logger
}

func newDemoServer(options transport.Options, directory *storage.Directory) *demoServer {
	d := &demoServer{
		directory: directory,
		log:       options.Log,
	}

	if d.log == nil {
		d.log = zap.NewNop()
	}

	options.OnClientConnect = d.onClientConnect
	options.OnClientDisconnect = d.onClientDisconnect
	options.OnMessage = d.onMessage

	d.server = transport.NewServer(options)
	return d
}

func (d *demoServer) onClientConnect(conn *transport.Conn) bool {
	d.log.Info("OnClientConnect", zap.Uint64("conn", conn.ID()))

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	err := d.directory.Add(context.Background(), storage.ClientInfo{
		ID:          conn.ID(),
		Remote:      remote,
		ConnectedAt: time.Now().UTC(),
	})
	if err != nil {
		d.log.Warn("Failed to record client", zap.Uint64("conn", conn.ID()), zap.Error(err))
	}

	d.server.Send(conn, protocol.New(MsgServerAccept))
	return true
}

func (d *demoServer) onClientDisconnect(conn *transport.Conn) {
	if conn == nil {
		return
	}

	d.log.Info("OnClientDisconnect", zap.Uint64("conn", conn.ID()))

	if err := d.directory.Remove(context.Background(), conn.ID()); err != nil {
		d.log.Warn("Failed to forget client", zap.Uint64("conn", conn.ID()), zap.Error(err))
	}
}

func (d *demoServer) onMessage(env transport.Envelope) {
	origin := env.Origin

	if err := d.directory.CountMessage(context.Background(), origin.ID()); err != nil {
		d.log.Warn("Failed to count message", zap.Uint64("conn", origin.ID()), zap.Error(err))
	}

	switch env.Header.Type {
	case MsgServerPing:
		d.log.Debug("OnServerPing", zap.Uint64("conn", origin.ID()))
		d.server.Send(origin, env.Message)

	case MsgMessageAll:
		d.log.Debug("OnMessageAll", zap.Uint64("conn", origin.ID()))
		d.server.Broadcast(protocol.New(MsgServerMessage).Push(origin.ID()), origin)

	default:
		d.log.Warn("Unknown message type",
			zap.Uint64("conn", origin.ID()),
			zap.Uint32("type", env.Header.Type))
	}
}
