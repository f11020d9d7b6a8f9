package events

import (
	"sync"

	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/vm"
)

// Deferred is an event together with the environment it is for.
type Deferred struct {
	Env   *Env
	Event Event
}

type node struct {
	Deferred
	next *node
}

// Queue is a FIFO of deferred events. Producers call Enqueue. The consumer
// calls HasEvents and Dequeue while holding the queue lock, see Lock, or
// Post which takes the lock itself.
//
// Queued events, and events being posted by Post, are visited by CodesDo
// and OopsDo; register the queue with the code cache with AddRoots.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	head, tail *node
	n          int
	inflight   map[*node]struct{}

	// limit is the maximum number of queued events, 0 for no limit.
	// Events enqueued past the limit are dropped.
	limit   int
	dropped int

	log logflags.Logger
}

// NewQueue returns an empty queue holding at most limit events (0 for no
// limit).
func NewQueue(limit int) *Queue {
	q := &Queue{limit: limit, inflight: make(map[*node]struct{}), log: logflags.EventsLogger()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends ev for env and wakes up the consumer. If the queue is
// full the event is dropped and the consumer is not woken up.
func (q *Queue) Enqueue(env *Env, ev Event) {
	if env == nil || ev == nil {
		panic("events: nil environment or event")
	}
	q.mu.Lock()
	if q.limit > 0 && q.n >= q.limit {
		q.dropped++
		q.mu.Unlock()
		q.log.Warnf("queue full, dropping %v for %v", ev, env)
		return
	}
	nd := &node{Deferred: Deferred{Env: env, Event: ev}}
	if q.tail == nil {
		q.head = nd
	} else {
		q.tail.next = nd
	}
	q.tail = nd
	q.n++
	q.mu.Unlock()
	q.cond.Signal()
}

// Lock acquires the queue lock.
func (q *Queue) Lock() { q.mu.Lock() }

// Unlock releases the queue lock.
func (q *Queue) Unlock() { q.mu.Unlock() }

// Wait releases the queue lock until the queue is signaled. The lock must
// be held.
func (q *Queue) Wait() { q.cond.Wait() }

// Notify wakes up every goroutine blocked in Wait.
func (q *Queue) Notify() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// HasEvents reports whether the queue is not empty. The lock must be held.
func (q *Queue) HasEvents() bool {
	return q.head != nil
}

// Dequeue removes the first event. The lock must be held. The returned
// event belongs to the caller, which must keep its code reachable by the
// sweeper until it is posted.
func (q *Queue) Dequeue() (Deferred, bool) {
	nd := q.head
	if nd == nil {
		return Deferred{}, false
	}
	q.unlink(nil, nd)
	return nd.Deferred, true
}

func (q *Queue) unlink(prev, nd *node) {
	if prev == nil {
		q.head = nd.next
	} else {
		prev.next = nd.next
	}
	if q.tail == nd {
		q.tail = prev
	}
	nd.next = nil
	q.n--
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns the number of events dropped because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// takeAll unlinks every node for env, in order. The lock must be held.
func (q *Queue) takeAll(env *Env) []*node {
	var r []*node
	var prev *node
	for nd := q.head; nd != nil; {
		next := nd.next
		if nd.Env == env {
			q.unlink(prev, nd)
			r = append(r, nd)
		} else {
			prev = nd
		}
		nd = next
	}
	return r
}

// takeFirst unlinks the first node for env. The lock must be held.
func (q *Queue) takeFirst(env *Env) *node {
	var prev *node
	for nd := q.head; nd != nil; prev, nd = nd, nd.next {
		if nd.Env == env {
			q.unlink(prev, nd)
			return nd
		}
	}
	return nil
}

// Post delivers every queued event of env, in the order they were
// enqueued, and removes them from the queue. Events of other environments
// stay queued. Callbacks are called without the queue lock held, and
// never concurrently with other deliveries to env. Returns the number of
// events removed.
func (q *Queue) Post(env *Env) int {
	env.post.Lock()
	defer env.post.Unlock()
	n := 0
	for {
		q.mu.Lock()
		batch := q.takeAll(env)
		for _, nd := range batch {
			q.inflight[nd] = struct{}{}
		}
		q.mu.Unlock()
		if len(batch) == 0 {
			return n
		}

		for _, nd := range batch {
			if !env.deliver(nd.Event) {
				q.log.Debugf("%v: %v not enabled", env, nd.Event.Kind())
			}
			q.mu.Lock()
			delete(q.inflight, nd)
			q.mu.Unlock()
			n++
		}
	}
}

// Remove drops every queued event of env without delivering it.
func (q *Queue) Remove(env *Env) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.takeAll(env))
}

// Snapshot returns the queued events in order.
func (q *Queue) Snapshot() []Deferred {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := make([]Deferred, 0, q.n)
	for nd := q.head; nd != nil; nd = nd.next {
		r = append(r, nd.Deferred)
	}
	return r
}

func (q *Queue) eachLocked(fn func(Event)) {
	for nd := q.head; nd != nil; nd = nd.next {
		fn(nd.Event)
	}
	for nd := range q.inflight {
		fn(nd.Event)
	}
}

// CodesDo calls fn for the code of every queued or in flight load event.
// It does not modify the queue.
func (q *Queue) CodesDo(fn func(*vm.Code)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.eachLocked(func(ev Event) { codesDo(ev, fn) })
}

// OopsDo calls fn for every object referenced by queued or in flight
// events. It does not modify the queue.
func (q *Queue) OopsDo(fn func(*vm.Instance)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.eachLocked(func(ev Event) { oopsDo(ev, fn) })
}

// RunEntryBarriers brings the entry barriers of the code of every queued
// load event up to date.
func (q *Queue) RunEntryBarriers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.runEntryBarriersLocked()
}

func (q *Queue) runEntryBarriersLocked() {
	q.eachLocked(func(ev Event) {
		codesDo(ev, func(c *vm.Code) {
			if c.BarrierArmed() {
				c.RunEntryBarrier()
			}
		})
	})
}

func codesDo(ev Event, fn func(*vm.Code)) {
	if ev, ok := ev.(CompiledMethodLoadEvent); ok {
		fn(ev.Code)
	}
}

func oopsDo(ev Event, fn func(*vm.Instance)) {
	if ev, ok := ev.(CompiledMethodLoadEvent); ok {
		for _, obj := range ev.Code.Oops {
			fn(obj)
		}
	}
}

// GenerateEvents posts a load event to env for every live code blob of
// cache, regardless of when it was generated.
func GenerateEvents(env *Env, cache *vm.CodeCache) int {
	q := NewQueue(0)
	for _, c := range cache.Live() {
		if c.State() == vm.CodeAlive {
			q.Enqueue(env, NewCompiledMethodLoad(c))
		}
	}
	return q.Post(env)
}
