package client

import (
	"errors"
	"net"
	"strconv"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/queue"
	"github.com/luma/relay/transport"
)

var ErrAlreadyConnected = errors.New("Client is already connected, call Disconnect first")

type Options struct {
	// OnMessage is called from Update for every message the server sends.
	OnMessage func(msg *protocol.Message)

	// MaxBodySize bounds the body size the server may announce, 0 disables
	// the bound.
	MaxBodySize int

	Metrics *transport.Metrics

	Log *zap.Logger
}

// Client owns a single connection to a server and the reactor that drives
// it. Inbound messages are handed to the application through Update, on the
// goroutine that calls it.
type Client struct {
	options Options

	incoming *queue.Queue[transport.Envelope]

	mu      sync.Mutex
	reactor *transport.Reactor
	conn    *transport.Conn

	log *zap.Logger
}

func New(options Options) *Client {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		options:  options,
		incoming: queue.New[transport.Envelope](),
		log:      log,
	}
}

// Connect resolves host and starts connecting to it. A nil error means the
// attempt is under way, the outcome is observable through IsConnected. On
// error the client is left disconnected.
func (c *Client) Connect(host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if c.conn.IsConnected() {
			return ErrAlreadyConnected
		}

		// The previous connection died on its own, release its reactor
		c.reactor.Stop()
		c.reactor = nil
		c.conn = nil
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.log.Error("Failed to resolve server address",
			zap.String("host", host),
			zap.Int("port", port),
			zap.Error(err))
		return pkgerrors.Wrapf(err, "resolve %s:%d", host, port)
	}

	reactor := transport.NewReactor(c.log.Named("reactor"))

	conn := transport.NewConn(transport.RoleClient, reactor, nil, c.incoming, transport.ConnOptions{
		MaxBodySize: c.options.MaxBodySize,
		Metrics:     c.options.Metrics,
		Log:         c.log.Named("conn"),
	})

	conn.ConnectToServer(addr)
	reactor.Start()

	c.reactor = reactor
	c.conn = conn

	c.log.Info("Connecting", zap.Stringer("addr", addr))
	return nil
}

// Disconnect closes the connection, stops the reactor and waits for it to
// exit. It is safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		c.conn.Disconnect()
	}

	if c.reactor != nil {
		c.reactor.Stop()
	}

	if c.conn != nil {
		c.log.Info("Disconnected", zap.Uint64("conn", c.conn.ID()))

		// Wake an Update parked in wait, the empty envelope is skipped
		c.incoming.PushBack(transport.Envelope{})
	}

	c.reactor = nil
	c.conn = nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && c.conn.IsConnected()
}

// Send queues msg for the server. It is silently dropped when the client is
// not connected, check IsConnected first if delivery matters.
func (c *Client) Send(msg *protocol.Message) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && conn.IsConnected() {
		conn.Send(msg)
	}
}

// Update hands up to maxMessages queued messages to OnMessage, oldest first.
// A negative maxMessages means no limit. With wait set, Update first blocks
// until a message is queued. Update does nothing while disconnected.
func (c *Client) Update(maxMessages int, wait bool) {
	if !c.IsConnected() {
		return
	}

	if wait {
		c.incoming.Wait()
	}

	for n := 0; maxMessages < 0 || n < maxMessages; {
		env, ok := c.incoming.PopFront()
		if !ok {
			break
		}

		if env.Message == nil {
			continue
		}
		n++

		if c.options.OnMessage != nil {
			c.options.OnMessage(env.Message)
		}
	}
}

// Incoming returns an upper bound on the messages waiting for Update, wake
// markers left by closed connections are counted too.
func (c *Client) Incoming() int {
	return c.incoming.Len()
}
