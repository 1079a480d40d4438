package transport

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	reuseport "github.com/kavu/go_reuseport"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/queue"
)

var (
	ErrAlreadyStarted = errors.New("Server has already been started")
	ErrNotStarted     = errors.New("Server has not been started")
	ErrStopped        = errors.New("Server has been stopped and cannot be restarted")
)

// Server accepts many clients and keeps a roster of their connections. All
// socket work happens on one reactor goroutine; messages are handed to the
// application through Update.
//
// Send, Broadcast, DisconnectClient, Update and UpdateDeadClients are meant
// to be called from one application goroutine. The roster itself is locked,
// so Clients may be read from anywhere.
type Server struct {
	options Options

	reactor  *Reactor
	listener net.Listener
	started  atomic.Bool

	incoming *queue.Queue[Envelope]

	mu     sync.Mutex
	roster []*Conn

	log *zap.Logger
}

func NewServer(options Options) *Server {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Server{
		options:  options,
		reactor:  NewReactor(log.Named("reactor")),
		incoming: queue.New[Envelope](),
		log:      log,
	}
}

// Start listens on port, on bindAddress or on every interface when
// bindAddress is empty, then starts accepting clients on the reactor. Port
// 0 picks a free port, see Addr.
func (s *Server) Start(port int, bindAddress string) error {
	if s.started.Load() {
		return ErrAlreadyStarted
	}

	if s.reactor.stopping.Load() {
		return ErrStopped
	}

	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))

	var (
		listener net.Listener
		err      error
	)

	if s.options.Reuseport {
		listener, err = reuseport.Listen("tcp", addr)
	} else {
		listener, err = net.Listen("tcp", addr)
	}

	if err != nil {
		s.log.Error("Failed to listen", zap.String("addr", addr), zap.Error(err))
		return pkgerrors.Wrapf(err, "listen on %s", addr)
	}

	s.listener = listener
	s.started.Store(true)

	s.waitForConnection()
	s.reactor.Start()

	s.log.Info("Server started", zap.Stringer("addr", listener.Addr()))
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the reactor and waits for it, then closes the listener and
// every connection still on the roster. An Update blocked waiting for a
// message returns.
func (s *Server) Stop() error {
	if !s.started.Swap(false) {
		return ErrNotStarted
	}

	s.reactor.Stop()

	err := s.listener.Close()

	// The reactor has exited, nothing else touches the connections now
	for _, conn := range s.Clients() {
		err = multierr.Append(err, conn.close())
	}

	// Wake an Update parked in wait, the empty envelope is skipped
	s.incoming.PushBack(Envelope{})

	if err != nil {
		s.log.Warn("Server did not stop cleanly", zap.Error(err))
	}

	s.log.Info("Server stopped")
	return err
}

// waitForConnection arms one accept. The completion runs on the reactor and
// re-arms the next accept.
func (s *Server) waitForConnection() {
	listener := s.listener

	go func() {
		raw, err := listener.Accept()
		posted := s.reactor.Post(func() {
			s.onAccept(raw, err)
		})

		if !posted && err == nil {
			raw.Close()
		}
	}()
}

func (s *Server) onAccept(raw net.Conn, err error) {
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			// The listener was closed while we were waiting for new
			// connections, that's fine.
			return
		}

		s.log.Warn("New connection error", zap.Error(err))
		s.waitForConnection()
		return
	}

	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	conn := NewConn(RoleServer, s.reactor, raw, s.incoming, s.options.connOptions(s.log.Named("conn")))
	s.log.Info("New connection", zap.Uint64("conn", conn.ID()), zap.Stringer("remote", raw.RemoteAddr()))

	if s.options.OnClientConnect == nil || s.options.OnClientConnect(conn) {
		s.mu.Lock()
		s.roster = append(s.roster, conn)
		s.mu.Unlock()

		conn.ConnectToClient()
		s.options.Metrics.admitted(true)

		s.log.Info("Connection approved", zap.Uint64("conn", conn.ID()))
	} else {
		// Never armed and never tracked, nothing else will release it
		conn.close()
		s.options.Metrics.admitted(false)

		s.log.Info("Connection denied", zap.Uint64("conn", conn.ID()))
	}

	s.waitForConnection()
}

// Clients returns a snapshot of the roster in the order clients were
// accepted.
func (s *Server) Clients() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conn, len(s.roster))
	copy(out, s.roster)
	return out
}

// Send queues msg for target. A target that is no longer connected is
// reported through OnClientDisconnect and dropped from the roster instead.
func (s *Server) Send(target *Conn, msg *protocol.Message) {
	if target != nil && target.IsConnected() {
		target.Send(msg)
		return
	}

	s.clientDisconnected(target)
	s.removeClients(target)
}

// Broadcast queues msg for every connected client except exclude, which may
// be nil. Clients found disconnected along the way are reported and then
// removed together once the scan is over.
func (s *Server) Broadcast(msg *protocol.Message, exclude *Conn) {
	var dead []*Conn

	for _, conn := range s.Clients() {
		if !conn.IsConnected() {
			s.clientDisconnected(conn)
			dead = append(dead, conn)
			continue
		}

		if conn != exclude {
			conn.Send(msg)
		}
	}

	s.removeClients(dead...)
}

// DisconnectClient reports target through OnClientDisconnect, drops it from
// the roster and closes it.
func (s *Server) DisconnectClient(target *Conn) {
	s.clientDisconnected(target)
	s.removeClients(target)

	if target != nil {
		target.Disconnect()
	}
}

// Update hands up to maxMessages queued messages to OnMessage, oldest first,
// then sweeps the roster for dead clients. A negative maxMessages means no
// limit. With wait set, Update first blocks until a message is queued.
func (s *Server) Update(maxMessages int, wait bool) {
	if wait {
		s.incoming.Wait()
	}

	for n := 0; maxMessages < 0 || n < maxMessages; {
		env, ok := s.incoming.PopFront()
		if !ok {
			break
		}

		if env.Message == nil {
			continue
		}
		n++

		if s.options.OnMessage != nil {
			s.options.OnMessage(env)
		}
	}

	s.UpdateDeadClients()
}

// UpdateDeadClients reports every roster connection that is no longer
// connected, then removes them all in one pass.
func (s *Server) UpdateDeadClients() {
	var dead []*Conn

	for _, conn := range s.Clients() {
		if !conn.IsConnected() {
			s.clientDisconnected(conn)
			dead = append(dead, conn)
		}
	}

	s.removeClients(dead...)
}

// Incoming returns an upper bound on the messages waiting for Update, wake
// markers left by closed connections are counted too.
func (s *Server) Incoming() int {
	return s.incoming.Len()
}

func (s *Server) clientDisconnected(conn *Conn) {
	if conn != nil {
		s.log.Info("Client disconnected", zap.Uint64("conn", conn.ID()))
	}

	if s.options.OnClientDisconnect != nil {
		s.options.OnClientDisconnect(conn)
	}
}

func (s *Server) removeClients(conns ...*Conn) {
	if len(conns) == 0 {
		return
	}

	drop := make(map[*Conn]struct{}, len(conns))
	for _, conn := range conns {
		drop[conn] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.roster[:0]
	for _, conn := range s.roster {
		if _, ok := drop[conn]; !ok {
			kept = append(kept, conn)
		}
	}

	// Let go of the removed tail
	for i := len(kept); i < len(s.roster); i++ {
		s.roster[i] = nil
	}

	s.roster = kept
}
