package transport

import (
	"sync"
	"sync/atomic"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"

	"github.com/luma/relay/queue"
)

// Reactor runs posted tasks one at a time, in order, on a single goroutine.
//
// Every step of a connection's read and write state machines is a task on
// its owner's reactor, so connection state needs no locking of its own.
// Blocking socket calls happen on short lived helper goroutines that post
// their completion back here.
type Reactor struct {
	tasks *queue.Queue[func()]

	// mu orders Start and Post against Stop
	mu       sync.Mutex
	stopping atomic.Bool
	started  atomic.Bool
	stopD    syncx.DoneChan

	log *zap.Logger
}

func NewReactor(log *zap.Logger) *Reactor {
	if log == nil {
		log = zap.NewNop()
	}

	return &Reactor{
		tasks: queue.New[func()](),
		stopD: syncx.NewDoneChan(),
		log:   log,
	}
}

// Start launches the reactor goroutine. Calling it more than once, or after
// Stop, has no effect.
func (r *Reactor) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping.Load() || r.started.Load() {
		return
	}

	r.started.Store(true)
	go r.run()
}

func (r *Reactor) run() {
	defer r.stopD.SetDone()

	r.log.Debug("Reactor running")

	for {
		r.tasks.Wait()

		task, _ := r.tasks.PopFront()
		if task == nil {
			// Stop sentinel, everything posted before Stop has run
			r.log.Debug("Reactor stopped")
			return
		}

		task()
	}
}

// Post schedules task to run on the reactor goroutine. It returns false,
// and drops the task, once Stop has been called.
func (r *Reactor) Post(task func()) bool {
	if task == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping.Load() {
		return false
	}

	r.tasks.PushBack(task)
	return true
}

// Stop lets the tasks already posted run, then ends the reactor goroutine
// and waits for it to exit. Tasks posted after Stop are dropped. Stop must
// not be called from a task running on the reactor itself.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if !r.stopping.Load() {
		r.stopping.Store(true)

		if r.started.Load() {
			r.tasks.PushBack(nil)
		} else {
			r.stopD.SetDone()
		}
	}
	r.mu.Unlock()

	<-r.stopD
}

// Running returns true between Start and the reactor goroutine exiting.
func (r *Reactor) Running() bool {
	return r.started.Load() && !r.stopD.R().Done()
}

// Done is signalled once the reactor goroutine has exited.
func (r *Reactor) Done() syncx.DoneChanR {
	return r.stopD.R()
}
