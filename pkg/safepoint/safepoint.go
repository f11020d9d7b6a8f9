// Package safepoint implements global pauses: operations that run on a
// dedicated VM goroutine while every mutator is stopped.
//
// Mutators are goroutines that touch VM state (thread stacks, breakpoint
// tables, code) while running. A mutator brackets its work with Enter and
// Leave and calls Poll at points where it may be stopped. An Operation
// passed to Execute runs only once all mutators are outside of such a
// bracket or blocked in Poll.
package safepoint

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vmagent/vmagent/pkg/logflags"
)

// Operation is the work performed during a global pause.
type Operation interface {
	Name() string
	// Doit runs with every mutator stopped.
	Doit()
}

// Prologuer is implemented by operations that want to do work, or bail
// out, before the world is stopped. If Prologue returns false the pause is
// skipped and Doit is never called.
type Prologuer interface {
	Prologue() bool
}

// ErrNotRunning is returned by Execute when the VM goroutine was never
// started or has been stopped.
var ErrNotRunning = errors.New("vm thread not running")

type request struct {
	op   Operation
	done chan struct{}
}

// VMThread is the goroutine executing global pause operations, one at a
// time in submission order.
type VMThread struct {
	world sync.RWMutex

	mu      sync.Mutex
	running bool
	reqs    chan request
	stopped chan struct{}

	inPause int32
	pauses  uint64

	log logflags.Logger
}

// New returns a VM thread. Call Start before Execute.
func New() *VMThread {
	return &VMThread{log: logflags.SafepointLogger()}
}

// Start launches the VM goroutine.
func (vt *VMThread) Start() {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if vt.running {
		return
	}
	vt.running = true
	vt.reqs = make(chan request)
	vt.stopped = make(chan struct{})
	go vt.loop(vt.reqs, vt.stopped)
}

// Stop terminates the VM goroutine after the operation in progress, if
// any, completes.
func (vt *VMThread) Stop() {
	vt.mu.Lock()
	if !vt.running {
		vt.mu.Unlock()
		return
	}
	vt.running = false
	close(vt.reqs)
	stopped := vt.stopped
	vt.mu.Unlock()
	<-stopped
}

func (vt *VMThread) loop(reqs <-chan request, stopped chan<- struct{}) {
	defer close(stopped)
	for req := range reqs {
		vt.run(req.op)
		close(req.done)
	}
}

func (vt *VMThread) run(op Operation) {
	if p, ok := op.(Prologuer); ok && !p.Prologue() {
		vt.log.Debugf("%s: prologue declined pause", op.Name())
		return
	}
	vt.world.Lock()
	atomic.StoreInt32(&vt.inPause, 1)
	n := atomic.AddUint64(&vt.pauses, 1)
	vt.log.Debugf("pause %d: %s", n, op.Name())
	defer func() {
		atomic.StoreInt32(&vt.inPause, 0)
		vt.world.Unlock()
	}()
	op.Doit()
}

// Execute runs op during a global pause and returns once op completed.
// Execute must not be called from Doit or by a mutator between Enter and
// Leave.
func (vt *VMThread) Execute(op Operation) error {
	vt.mu.Lock()
	if !vt.running {
		vt.mu.Unlock()
		return ErrNotRunning
	}
	req := request{op: op, done: make(chan struct{})}
	reqs := vt.reqs
	// the send happens under mu so that Stop can not close reqs under us;
	// the loop goroutine never takes mu.
	reqs <- req
	vt.mu.Unlock()
	<-req.done
	return nil
}

// InPause reports whether a global pause is in progress.
func (vt *VMThread) InPause() bool {
	return atomic.LoadInt32(&vt.inPause) != 0
}

// Pauses returns the number of global pauses performed so far.
func (vt *VMThread) Pauses() uint64 {
	return atomic.LoadUint64(&vt.pauses)
}

// Enter marks the calling goroutine as running VM code. It blocks while a
// pause is in progress.
func (vt *VMThread) Enter() {
	vt.world.RLock()
}

// Leave marks the calling goroutine as no longer running VM code.
func (vt *VMThread) Leave() {
	vt.world.RUnlock()
}

// Poll lets a pending pause proceed. It must be called between Enter and
// Leave.
func (vt *VMThread) Poll() {
	vt.world.RUnlock()
	vt.world.RLock()
}

// Func adapts a function to an Operation.
type Func struct {
	OpName string
	Fn     func()
}

func (f Func) Name() string { return f.OpName }
func (f Func) Doit()        { f.Fn() }
