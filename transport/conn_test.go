package transport_test

import (
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/queue"
	"github.com/luma/relay/transport"
)

var _ = Describe("transport / Conn", func() {
	var (
		listener net.Listener
		reactor  *transport.Reactor
		incoming *queue.Queue[transport.Envelope]
		metrics  *transport.Metrics
		peers    []net.Conn
	)

	BeforeEach(func() {
		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())

		reactor = transport.NewReactor(nil)
		reactor.Start()

		incoming = queue.New[transport.Envelope]()
		metrics = transport.NewMetrics(prometheus.NewRegistry(), "test")
	})

	AfterEach(func() {
		reactor.Stop()
		listener.Close()

		for _, peer := range peers {
			peer.Close()
		}
		peers = nil
	})

	// pair returns an accepted server role connection and the raw socket of
	// its peer
	pair := func() (*transport.Conn, net.Conn) {
		peer, err := net.Dial("tcp", listener.Addr().String())
		Expect(err).To(Succeed())

		raw, err := listener.Accept()
		Expect(err).To(Succeed())

		conn := transport.NewConn(transport.RoleServer, reactor, raw, incoming, transport.ConnOptions{
			Metrics: metrics,
		})

		peers = append(peers, peer)
		Expect(peer.SetDeadline(time.Now().Add(10 * time.Second))).To(Succeed())

		return conn, peer
	}

	// next waits for the next envelope carrying a message
	next := func() transport.Envelope {
		var env transport.Envelope

		Eventually(func() bool {
			for {
				e, ok := incoming.PopFront()
				if !ok {
					return false
				}
				if e.Message != nil {
					env = e
					return true
				}
			}
		}).Should(BeTrue())

		return env
	}

	Describe("reading", func() {
		It("delivers frames written by the peer, tagged with their origin", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			Expect(protocol.WriteMessage(peer, protocol.New(7).PushString("hello"))).To(Succeed())

			env := next()
			Expect(env.Origin).To(BeIdenticalTo(conn))
			Expect(env.Header.Type).To(Equal(uint32(7)))
			Expect(env.PopString()).To(Equal("hello"))

			Expect(conn.State()).To(Equal(transport.StateConnected))
			Expect(testutil.ToFloat64(metrics.FramesIn())).To(Equal(1.0))
		})

		It("delivers frames with an empty body", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			Expect(protocol.WriteMessage(peer, protocol.New(7))).To(Succeed())
			Expect(protocol.WriteMessage(peer, protocol.New(8))).To(Succeed())

			first := next()
			Expect(first.Header.Type).To(Equal(uint32(7)))
			Expect(first.Len()).To(Equal(0))

			Expect(next().Header.Type).To(Equal(uint32(8)))
		})

		It("keeps the order of frames", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			for i := uint32(1); i <= 50; i++ {
				Expect(protocol.WriteMessage(peer, protocol.New(i).Push(i))).To(Succeed())
			}

			for i := uint32(1); i <= 50; i++ {
				env := next()
				Expect(env.Header.Type).To(Equal(i))

				var v uint32
				env.Pop(&v)
				Expect(v).To(Equal(i))
			}
		})

		It("closes the connection on a bad header checksum", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			hdr, err := protocol.Header{Type: 7, Size: 0, HeaderChecksum: 99}.MarshalBinary()
			Expect(err).To(Succeed())

			_, err = peer.Write(hdr)
			Expect(err).To(Succeed())

			Eventually(conn.IsConnected).Should(BeFalse())
			Expect(conn.State()).To(Equal(transport.StateClosed))
			Expect(testutil.ToFloat64(metrics.ChecksumFailures())).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.FramesIn())).To(Equal(0.0))
		})

		It("closes the connection on a bad body checksum", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			msg := protocol.New(7).PushString("hello")
			msg.UpdateChecksum()
			msg.Header.BodyChecksum++

			hdr, err := msg.Header.MarshalBinary()
			Expect(err).To(Succeed())

			_, err = peer.Write(append(hdr, msg.Body()...))
			Expect(err).To(Succeed())

			Eventually(conn.IsConnected).Should(BeFalse())
			Expect(testutil.ToFloat64(metrics.ChecksumFailures())).To(Equal(1.0))
		})

		It("closes the connection when a body exceeds the limit", func() {
			peer, err := net.Dial("tcp", listener.Addr().String())
			Expect(err).To(Succeed())
			defer peer.Close()

			raw, err := listener.Accept()
			Expect(err).To(Succeed())

			conn := transport.NewConn(transport.RoleServer, reactor, raw, incoming, transport.ConnOptions{
				MaxBodySize: 4,
			})
			conn.ConnectToClient()

			Expect(protocol.WriteMessage(peer, protocol.New(7).PushString("too long"))).To(Succeed())

			Eventually(conn.IsConnected).Should(BeFalse())
		})

		It("notices the peer going away", func() {
			conn, peer := pair()
			conn.ConnectToClient()
			Eventually(conn.State).Should(Equal(transport.StateConnected))

			peer.Close()

			Eventually(conn.IsConnected).Should(BeFalse())
			Expect(testutil.ToFloat64(metrics.Connections())).To(Equal(0.0))
		})
	})

	Describe("writing", func() {
		It("writes messages in the order they were sent", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			for i := uint32(1); i <= 20; i++ {
				conn.Send(protocol.New(i).PushString("payload"))
			}

			for i := uint32(1); i <= 20; i++ {
				msg, err := protocol.ReadMessage(peer, 0)
				Expect(err).To(Succeed())
				Expect(msg.Header.Type).To(Equal(i))
				Expect(msg.PopString()).To(Equal("payload"))
			}

			Eventually(func() float64 {
				return testutil.ToFloat64(metrics.FramesOut())
			}).Should(Equal(20.0))
		})

		It("writes messages with an empty body", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			conn.Send(protocol.New(7))

			msg, err := protocol.ReadMessage(peer, 0)
			Expect(err).To(Succeed())
			Expect(msg.Header.Type).To(Equal(uint32(7)))
			Expect(msg.Len()).To(Equal(0))
		})

		It("flushes messages sent before the connection was armed", func() {
			conn, peer := pair()

			conn.Send(protocol.New(1))
			conn.Send(protocol.New(2))
			conn.ConnectToClient()

			for i := uint32(1); i <= 2; i++ {
				msg, err := protocol.ReadMessage(peer, 0)
				Expect(err).To(Succeed())
				Expect(msg.Header.Type).To(Equal(i))
			}
		})

		It("sends a snapshot of the message", func() {
			conn, peer := pair()
			conn.ConnectToClient()

			msg := protocol.New(7).PushString("before")
			conn.Send(msg)
			msg.Reset()
			msg.PushString("after")

			received, err := protocol.ReadMessage(peer, 0)
			Expect(err).To(Succeed())
			Expect(received.PopString()).To(Equal("before"))
		})
	})

	Describe("Disconnect()", func() {
		It("closes the socket", func() {
			conn, peer := pair()
			conn.ConnectToClient()
			Eventually(conn.State).Should(Equal(transport.StateConnected))

			conn.Disconnect()

			Expect(peer.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			_, err := peer.Read(make([]byte, 1))
			Expect(err).To(MatchError(io.EOF))

			Expect(conn.IsConnected()).To(BeFalse())
			Expect(conn.State()).To(Equal(transport.StateClosed))
		})

		It("is a no-op on a closed connection", func() {
			conn, _ := pair()
			conn.ConnectToClient()

			conn.Disconnect()
			Eventually(conn.IsConnected).Should(BeFalse())

			Expect(conn.Disconnect).NotTo(Panic())
		})
	})

	Describe("client role", func() {
		It("dials the server", func() {
			conn := transport.NewConn(transport.RoleClient, reactor, nil, incoming, transport.ConnOptions{})

			Expect(conn.State()).To(Equal(transport.StateIdle))
			Expect(conn.IsConnected()).To(BeFalse())

			conn.ConnectToServer(listener.Addr().(*net.TCPAddr))
			Expect(conn.IsConnected()).To(BeTrue())

			peer, err := listener.Accept()
			Expect(err).To(Succeed())
			defer peer.Close()

			Eventually(conn.State).Should(Equal(transport.StateConnected))
			Expect(conn.RemotePort()).To(Equal(listener.Addr().(*net.TCPAddr).Port))

			Expect(protocol.WriteMessage(peer, protocol.New(3))).To(Succeed())

			env := next()
			Expect(env.Header.Type).To(Equal(uint32(3)))
			Expect(env.Origin).To(BeNil())
		})

		It("gives up when the dial fails", func() {
			closed, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(Succeed())
			addr := closed.Addr().(*net.TCPAddr)
			closed.Close()

			conn := transport.NewConn(transport.RoleClient, reactor, nil, incoming, transport.ConnOptions{})
			conn.ConnectToServer(addr)

			Eventually(conn.IsConnected).Should(BeFalse())
			Expect(conn.State()).To(Equal(transport.StateClosed))
		})
	})

	It("hands out unique ids", func() {
		a := transport.NewConn(transport.RoleClient, reactor, nil, incoming, transport.ConnOptions{})
		b := transport.NewConn(transport.RoleClient, reactor, nil, incoming, transport.ConnOptions{})

		Expect(a.ID()).NotTo(Equal(b.ID()))
		Expect(a.Role()).To(Equal(transport.RoleClient))
	})
})
