package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/queue"
)

// Role decides which side of a connection a Conn plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is a connection's position in its lifecycle. Connections only move
// forward: Idle -> (Connecting) -> Connected -> Closed.
type State int32

const (
	// StateIdle is a constructed connection whose read loop is not armed yet
	StateIdle State = iota
	// StateConnecting is a client connection with a dial in flight
	StateConnecting
	// StateConnected is a connection with its read loop armed
	StateConnected
	// StateClosed is terminal, the socket has been released
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Envelope is an inbound message together with the connection it arrived on.
// An Envelope without a Message only wakes the consumer and carries nothing.
type Envelope struct {
	*protocol.Message

	// Origin is only set on messages received by a Server, it is the
	// connection to reply to.
	Origin *Conn
}

var lastConnID atomic.Uint64

// Conn drives one socket. Inbound frames are assembled by a read state
// machine and pushed onto the owner's incoming queue, outbound messages are
// queued privately and drained onto the socket by a write state machine.
//
// Both state machines only ever run on the owner's Reactor.
type Conn struct {
	id      uint64
	role    Role
	reactor *Reactor

	state  atomic.Int32
	open   atomic.Bool
	remote atomic.Value

	// Only touched from the reactor
	raw       net.Conn
	outgoing  *queue.Queue[*protocol.Message]
	inbound   *protocol.Message
	headerBuf [protocol.HeaderSize]byte

	incoming *queue.Queue[Envelope]

	maxBody int
	metrics *Metrics
	log     *zap.Logger
}

// NewConn creates a connection in StateIdle. Server role connections are
// handed the already accepted socket in raw, client role connections pass
// nil and dial with ConnectToServer.
func NewConn(
	role Role,
	reactor *Reactor,
	raw net.Conn,
	incoming *queue.Queue[Envelope],
	options ConnOptions,
) *Conn {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conn{
		id:       lastConnID.Add(1),
		role:     role,
		reactor:  reactor,
		raw:      raw,
		outgoing: queue.New[*protocol.Message](),
		incoming: incoming,
		maxBody:  options.MaxBodySize,
		metrics:  options.Metrics,
	}

	c.log = log.With(zap.Uint64("conn", c.id), zap.Stringer("role", role))

	if raw != nil {
		c.open.Store(true)
		c.remote.Store(raw.RemoteAddr())
	}

	return c
}

// ID is unique for the life of the process, it is never reused.
func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) Role() Role {
	return c.role
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// RemoteAddr returns the peer's address, or nil before it is known.
func (c *Conn) RemoteAddr() net.Addr {
	addr, _ := c.remote.Load().(net.Addr)
	return addr
}

// RemotePort returns the peer's TCP port, or 0 when unknown.
func (c *Conn) RemotePort() int {
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// IsConnected reports whether the connection still holds an open socket. It
// is a local signal only, it says nothing about whether the peer is still
// reachable.
func (c *Conn) IsConnected() bool {
	return c.open.Load()
}

func (c *Conn) String() string {
	return fmt.Sprintf("[%d %s %v]", c.id, c.role, c.RemoteAddr())
}

// ConnectToClient arms the read loop of a server role connection whose
// socket was handed over by the acceptor. There is no handshake.
func (c *Conn) ConnectToClient() {
	if c.role != RoleServer {
		return
	}

	c.reactor.Post(c.arm)
}

// ConnectToServer starts dialing addr for a client role connection. The
// outcome is only observable through IsConnected, a failed dial closes the
// connection.
func (c *Conn) ConnectToServer(addr *net.TCPAddr) {
	if c.role != RoleClient {
		return
	}

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return
	}

	c.open.Store(true)
	c.remote.Store(net.Addr(addr))

	go func() {
		raw, err := net.DialTCP("tcp", nil, addr)
		posted := c.reactor.Post(func() {
			c.onConnect(raw, err)
		})

		if !posted && err == nil {
			raw.Close()
		}
	}()
}

func (c *Conn) onConnect(raw *net.TCPConn, err error) {
	if err != nil {
		c.log.Warn("Failed to connect", zap.Stringer("addr", c.RemoteAddr()), zap.Error(err))
		c.metrics.ioError("connect")
		c.close()
		return
	}

	if c.State() != StateConnecting {
		// Disconnected while the dial was in flight
		raw.Close()
		return
	}

	_ = raw.SetNoDelay(true)
	c.raw = raw

	c.log.Info("Connected to server", zap.Stringer("addr", raw.RemoteAddr()))
	c.start()
}

// arm moves an accepted connection from idle to connected
func (c *Conn) arm() {
	if c.State() != StateIdle || c.raw == nil {
		return
	}

	c.start()
}

func (c *Conn) start() {
	c.state.Store(int32(StateConnected))
	c.metrics.connOpened()

	c.readHeader()

	// Sends queued before the socket was ready are waiting on us
	if !c.outgoing.IsEmpty() {
		c.writeHeader()
	}
}

// Disconnect closes the connection. The close runs as a task on the reactor
// so it can never race a read or write completion already queued there.
func (c *Conn) Disconnect() {
	if !c.IsConnected() {
		return
	}

	if !c.reactor.Post(func() { c.close() }) && c.reactor.Done().Done() {
		c.close()
	}
}

// Send recomputes the checksums of msg and queues a copy of it for
// transmission. Messages are written in the order Send is called.
func (c *Conn) Send(msg *protocol.Message) {
	msg.UpdateChecksum()
	out := msg.Clone()

	c.reactor.Post(func() {
		if c.State() == StateClosed {
			return
		}

		// A non empty queue means a write chain is already running, or
		// will be started once the connection is armed.
		writing := !c.outgoing.IsEmpty()
		c.outgoing.PushBack(out)

		if !writing && c.State() == StateConnected {
			c.writeHeader()
		}
	})
}

//
// Read state machine: readHeader -> readBody -> deliver -> readHeader ...
//

func (c *Conn) readHeader() {
	c.readFull(c.headerBuf[:], c.onHeader)
}

func (c *Conn) onHeader(err error) {
	if c.State() == StateClosed {
		return
	}

	if err != nil {
		c.fail("read header", err)
		return
	}

	var h protocol.Header
	if err := h.UnmarshalBinary(c.headerBuf[:]); err != nil {
		c.fail("read header", err)
		return
	}

	c.inbound = protocol.Allocate(h)

	if !c.inbound.IsHeaderValid() {
		c.desync("read header", protocol.ErrHeaderChecksum)
		return
	}

	if c.maxBody > 0 && int(h.Size) > c.maxBody {
		c.desync("read header", protocol.ErrBodyTooLarge)
		return
	}

	if h.Size == 0 {
		c.deliver()
		return
	}

	c.readFull(c.inbound.Body(), c.onBody)
}

func (c *Conn) onBody(err error) {
	if c.State() == StateClosed {
		return
	}

	if err != nil {
		c.fail("read body", err)
		return
	}

	if !c.inbound.IsBodyValid() {
		c.desync("read body", protocol.ErrBodyChecksum)
		return
	}

	c.deliver()
}

func (c *Conn) deliver() {
	env := Envelope{Message: c.inbound}
	if c.role == RoleServer {
		env.Origin = c
	}
	c.inbound = nil

	c.metrics.frameIn(protocol.HeaderSize + env.Len())
	c.incoming.PushBack(env)

	c.readHeader()
}

// readFull fills buf from the socket on a helper goroutine and posts done
// back onto the reactor.
func (c *Conn) readFull(buf []byte, done func(error)) {
	raw := c.raw

	go func() {
		_, err := io.ReadFull(raw, buf)
		c.reactor.Post(func() {
			done(err)
		})
	}()
}

//
// Write state machine: writeHeader -> (writeBody) -> next header ...
//

func (c *Conn) writeHeader() {
	front, ok := c.outgoing.Front()
	if !ok {
		return
	}

	hdr, err := front.Header.MarshalBinary()
	if err != nil {
		c.fail("write header", err)
		return
	}

	c.writeAll(hdr, c.onHeaderWritten)
}

func (c *Conn) onHeaderWritten(err error) {
	if c.State() == StateClosed {
		return
	}

	if err != nil {
		c.fail("write header", err)
		return
	}

	front, ok := c.outgoing.Front()
	if !ok {
		return
	}

	if front.Len() > 0 {
		c.writeAll(front.Body(), c.onBodyWritten)
		return
	}

	c.next()
}

func (c *Conn) onBodyWritten(err error) {
	if c.State() == StateClosed {
		return
	}

	if err != nil {
		c.fail("write body", err)
		return
	}

	c.next()
}

// next retires the message at the front and starts on the following one
func (c *Conn) next() {
	if sent, ok := c.outgoing.PopFront(); ok {
		c.metrics.frameOut(protocol.HeaderSize + sent.Len())
	}

	if !c.outgoing.IsEmpty() {
		c.writeHeader()
	}
}

// writeAll writes buf on a helper goroutine and posts done back onto the
// reactor. net.Conn writes either complete or return an error.
func (c *Conn) writeAll(buf []byte, done func(error)) {
	raw := c.raw

	go func() {
		_, err := raw.Write(buf)
		c.reactor.Post(func() {
			done(err)
		})
	}()
}

//
// Failure handling
//

func (c *Conn) fail(op string, err error) {
	c.metrics.ioError(op)

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.log.Info("Peer went away", zap.String("op", op), zap.Error(err))
	} else {
		c.log.Warn("Socket failed", zap.String("op", op), zap.Error(err))
	}

	c.close()
}

// desync drops a connection whose stream can no longer be trusted
func (c *Conn) desync(op string, err error) {
	c.metrics.checksumFailed()
	c.log.Warn("Stream out of sync, closing", zap.String("op", op), zap.Error(err))
	c.close()
}

// close releases the socket and abandons anything still queued for it. It
// must run on the reactor, or after the reactor has exited.
func (c *Conn) close() error {
	prev := State(c.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return nil
	}

	c.open.Store(false)

	if prev == StateConnected {
		c.metrics.connClosed()
	}

	c.outgoing.Clear()
	c.inbound = nil

	// Wake the owner's Update so the loss is noticed without new traffic
	c.incoming.PushBack(Envelope{})

	var err error
	if c.raw != nil {
		err = c.raw.Close()
	}

	c.log.Info("Connection closed", zap.Stringer("from", prev))
	return err
}
