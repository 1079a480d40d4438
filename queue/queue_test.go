package queue_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/relay/queue"
)

var _ = Describe("Queue", func() {
	var q *queue.Queue[string]

	BeforeEach(func() {
		q = queue.New[string]()
	})

	It("starts empty", func() {
		Expect(q.IsEmpty()).To(BeTrue())
		Expect(q.Len()).To(BeZero())

		_, ok := q.PopFront()
		Expect(ok).To(BeFalse())
		_, ok = q.Back()
		Expect(ok).To(BeFalse())
	})

	It("is FIFO with PushBack and PopFront", func() {
		q.PushBack("a")
		q.PushBack("b")

		item, ok := q.PopFront()
		Expect(ok).To(BeTrue())
		Expect(item).To(Equal("a"))
		Expect(q.Len()).To(Equal(1))
	})

	It("behaves as a double ended queue with PushFront and PopBack", func() {
		q.PushFront("b")
		q.PushFront("a")
		q.PushBack("c")

		front, _ := q.Front()
		back, _ := q.Back()
		Expect(front).To(Equal("a"))
		Expect(back).To(Equal("c"))

		item, _ := q.PopBack()
		Expect(item).To(Equal("c"))
		item, _ = q.PopBack()
		Expect(item).To(Equal("b"))
		item, _ = q.PopFront()
		Expect(item).To(Equal("a"))
		Expect(q.IsEmpty()).To(BeTrue())
	})

	It("peeks without removing", func() {
		q.PushBack("only")

		item, ok := q.Front()
		Expect(ok).To(BeTrue())
		Expect(item).To(Equal("only"))
		Expect(q.Len()).To(Equal(1))
	})

	It("clears every item", func() {
		q.PushBack("a")
		q.PushBack("b")
		q.Clear()

		Expect(q.IsEmpty()).To(BeTrue())
	})

	It("drains up to a limit in FIFO order", func() {
		for _, s := range []string{"a", "b", "c"} {
			q.PushBack(s)
		}

		Expect(q.Drain(2)).To(Equal([]string{"a", "b"}))
		Expect(q.Drain(-1)).To(Equal([]string{"c"}))
		Expect(q.Drain(-1)).To(BeEmpty())
	})

	Describe("Wait()", func() {
		It("returns straight away when items are queued", func() {
			q.PushBack("ready")

			done := make(chan struct{})
			go func() {
				defer close(done)
				q.Wait()
			}()

			Eventually(done).Should(BeClosed())
		})

		It("blocks until an item is pushed", func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				q.Wait()
			}()

			Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

			q.PushFront("late")
			Eventually(done).Should(BeClosed())
		})
	})

	It("neither loses nor duplicates items under concurrent pushers and poppers", func() {
		const (
			pushers   = 8
			poppers   = 4
			perPusher = 1000
		)

		ints := queue.New[int]()

		var (
			pushWG sync.WaitGroup
			popWG  sync.WaitGroup
			popped int64
			seen   sync.Map
		)

		for p := 0; p < pushers; p++ {
			pushWG.Add(1)
			go func(base int) {
				defer pushWG.Done()
				for i := 0; i < perPusher; i++ {
					if i%2 == 0 {
						ints.PushBack(base + i)
					} else {
						ints.PushFront(base + i)
					}
				}
			}(p * perPusher)
		}

		for c := 0; c < poppers; c++ {
			popWG.Add(1)
			go func(c int) {
				defer GinkgoRecover()
				defer popWG.Done()
				for atomic.LoadInt64(&popped) < pushers*perPusher/2 {
					var (
						item int
						ok   bool
					)
					if c%2 == 0 {
						item, ok = ints.PopFront()
					} else {
						item, ok = ints.PopBack()
					}
					if !ok {
						continue
					}

					_, dup := seen.LoadOrStore(item, true)
					Expect(dup).To(BeFalse())
					atomic.AddInt64(&popped, 1)
				}
			}(c)
		}

		pushWG.Wait()
		popWG.Wait()

		remaining := ints.Drain(-1)
		for _, item := range remaining {
			_, dup := seen.LoadOrStore(item, true)
			Expect(dup).To(BeFalse())
		}

		Expect(int64(len(remaining)) + atomic.LoadInt64(&popped)).To(Equal(int64(pushers * perPusher)))
	})
})
