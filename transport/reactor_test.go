package transport_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/transport"
)

var _ = Describe("transport / Reactor", func() {
	It("runs tasks in the order they were posted", func() {
		reactor := transport.NewReactor(nil)
		reactor.Start()

		var ran []int
		for i := 0; i < 100; i++ {
			i := i
			Expect(reactor.Post(func() { ran = append(ran, i) })).To(BeTrue())
		}

		reactor.Stop()

		Expect(ran).To(HaveLen(100))
		for i, v := range ran {
			Expect(v).To(Equal(i))
		}
	})

	It("runs tasks posted before Start once started", func() {
		reactor := transport.NewReactor(nil)

		done := make(chan struct{})
		Expect(reactor.Post(func() { close(done) })).To(BeTrue())

		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

		reactor.Start()
		Eventually(done).Should(BeClosed())

		reactor.Stop()
	})

	It("runs every task on one goroutine at a time", func() {
		reactor := transport.NewReactor(nil)
		reactor.Start()
		defer reactor.Stop()

		var (
			wg      sync.WaitGroup
			counter int
		)

		// Unsynchronized on purpose, the race detector flags any overlap
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					reactor.Post(func() { counter++ })
				}
			}()
		}
		wg.Wait()

		result := make(chan int, 1)
		reactor.Post(func() { result <- counter })
		Eventually(result).Should(Receive(Equal(800)))
	})

	It("drops tasks posted after Stop", func() {
		reactor := transport.NewReactor(nil)
		reactor.Start()
		reactor.Stop()

		Expect(reactor.Post(func() { Fail("ran after Stop") })).To(BeFalse())
		Expect(reactor.Running()).To(BeFalse())
	})

	It("can be stopped without being started", func() {
		reactor := transport.NewReactor(nil)

		stopped := make(chan struct{})
		go func() {
			reactor.Stop()
			close(stopped)
		}()

		Eventually(stopped).Should(BeClosed())
		Expect(reactor.Done().Done()).To(BeTrue())

		// Start after Stop does nothing
		reactor.Start()
		Expect(reactor.Running()).To(BeFalse())
	})

	It("tolerates Stop being called twice", func() {
		reactor := transport.NewReactor(nil)
		reactor.Start()
		Expect(reactor.Running()).To(BeTrue())

		reactor.Stop()
		reactor.Stop()

		Expect(reactor.Running()).To(BeFalse())
	})
})
