package events

import (
	"context"
	"sync"
	"time"

	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/vm"
)

// ServiceThread consumes a Queue, posting each event to the environment it
// was enqueued for.
//
// The event being posted is still a root for the code cache sweeper: it
// is visited by CodesDo and OopsDo until its callback returns. Register
// the queue with the code cache before the service thread, so that an
// event moving from the queue to the service thread during a sweep is
// seen by one of the two.
type ServiceThread struct {
	q    *Queue
	poll time.Duration

	mu      sync.Mutex
	current *Deferred

	log  logflags.Logger
	done chan struct{}
}

// NewServiceThread returns a service thread for q. When idle it wakes up
// every poll interval to run the entry barriers of queued code; zero
// disables polling.
func NewServiceThread(q *Queue, poll time.Duration) *ServiceThread {
	return &ServiceThread{q: q, poll: poll, log: logflags.EventsLogger(), done: make(chan struct{})}
}

// Start runs the service thread in a new goroutine until ctx is done.
func (st *ServiceThread) Start(ctx context.Context) {
	go st.Run(ctx)
}

// Wait blocks until the service thread stopped.
func (st *ServiceThread) Wait() {
	<-st.done
}

// Run posts events until ctx is done. Events still queued when ctx is done
// stay in the queue.
func (st *ServiceThread) Run(ctx context.Context) {
	defer close(st.done)

	stop := make(chan struct{})
	defer close(stop)
	go st.wakeup(ctx, stop)

	for {
		st.q.Lock()
		for !st.q.HasEvents() && ctx.Err() == nil {
			st.q.runEntryBarriersLocked()
			st.q.Wait()
		}
		if ctx.Err() != nil {
			st.q.Unlock()
			st.log.Debugf("service thread stopped, %d events left", st.q.Len())
			return
		}
		env := st.q.head.Env
		st.q.Unlock()

		env.post.Lock()
		st.q.Lock()
		nd := st.q.takeFirst(env)
		if nd == nil {
			// posted by Queue.Post meanwhile
			st.q.Unlock()
			env.post.Unlock()
			continue
		}
		d := nd.Deferred
		st.setCurrent(&d)
		st.q.Unlock()

		if !env.deliver(d.Event) {
			st.log.Debugf("%v: %v not enabled", env, d.Event.Kind())
		}
		st.setCurrent(nil)
		env.post.Unlock()
	}
}

func (st *ServiceThread) wakeup(ctx context.Context, stop <-chan struct{}) {
	var tick <-chan time.Time
	if st.poll > 0 {
		t := time.NewTicker(st.poll)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			st.q.Notify()
			return
		case <-stop:
			return
		case <-tick:
			st.q.Notify()
		}
	}
}

func (st *ServiceThread) setCurrent(d *Deferred) {
	st.mu.Lock()
	st.current = d
	st.mu.Unlock()
}

// CodesDo calls fn for the code of the load event being posted, if any.
func (st *ServiceThread) CodesDo(fn func(*vm.Code)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != nil {
		codesDo(st.current.Event, fn)
	}
}

// OopsDo calls fn for the objects referenced by the event being posted.
func (st *ServiceThread) OopsDo(fn func(*vm.Instance)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.current != nil {
		oopsDo(st.current.Event, fn)
	}
}
