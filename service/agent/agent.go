// Package agent implements the agent interface: the facade through which
// the REPL, scripts and protocol front ends set breakpoints, access local
// variables of suspended threads and receive deferred events.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vmagent/vmagent/pkg/agenterr"
	"github.com/vmagent/vmagent/pkg/breakpoint"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/locals"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/safepoint"
	"github.com/vmagent/vmagent/pkg/vm"
	"github.com/vmagent/vmagent/service/api"
)

// Agent service.
//
// Agent owns the VM thread that runs every global pause operation, the
// breakpoint registry, the deferred event queue and the service thread
// posting it.
type Agent struct {
	config *Config
	rt     *vm.Runtime

	vmthread *safepoint.VMThread
	registry *breakpoint.Registry
	resolver *vm.CachingResolver
	svc      *locals.Services

	queue   *events.Queue
	service *events.ServiceThread
	cancel  context.CancelFunc

	envsMu sync.Mutex
	envs   []*events.Env

	closeOnce sync.Once
	log       logflags.Logger
}

// Config provides the configuration to start an Agent.
type Config struct {
	// SelfFrameAccess is the policy for threads reading their own compiled
	// frames.
	SelfFrameAccess locals.Policy

	// ResolverCacheSize is the number of assignability results cached.
	ResolverCacheSize int

	// ServicePollInterval is the wake up interval of the idle service
	// thread, zero to only wake up for new events.
	ServicePollInterval time.Duration

	// EventQueueLimit is the maximum number of queued deferred events, zero
	// for no limit.
	EventQueueLimit int

	// Registry is the breakpoint registry to use. If nil the agent creates
	// its own.
	Registry *breakpoint.Registry
}

// ErrClosed is returned by operations on a closed agent.
var ErrClosed = errors.New("agent closed")

// New creates an agent for rt and starts its VM and service threads.
func New(config *Config, rt *vm.Runtime) (*Agent, error) {
	if config == nil {
		config = &Config{}
	}
	if rt == nil {
		return nil, errors.New("no runtime")
	}
	size := config.ResolverCacheSize
	if size <= 0 {
		size = 256
	}

	a := &Agent{
		config:   config,
		rt:       rt,
		vmthread: safepoint.New(),
		resolver: vm.NewCachingResolver(rt.Classes, size),
		queue:    events.NewQueue(config.EventQueueLimit),
		log:      logflags.AgentLogger(),
	}
	a.svc = &locals.Services{
		Deoptimizer: vm.NewEscapeBarrier(rt),
		Resolver:    a.resolver,
		SelfPolicy:  config.SelfFrameAccess,
	}
	a.registry = config.Registry
	if a.registry == nil {
		a.registry = breakpoint.NewRegistry(a.vmthread)
	} else {
		a.registry.SetPauseChecker(a.vmthread)
	}

	a.service = events.NewServiceThread(a.queue, config.ServicePollInterval)
	// The queue must be visited before the service thread, see
	// events.ServiceThread.
	rt.Code.AddRoots(a.queue)
	rt.Code.AddRoots(a.service)
	rt.Code.OnUnload(a.CompiledMethodUnloaded)

	a.vmthread.Start()
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.service.Start(ctx)

	a.log.Debugf("agent started, self frame access %v, resolver cache %d", config.SelfFrameAccess, size)
	return a, nil
}

// Runtime returns the runtime the agent is attached to.
func (a *Agent) Runtime() *vm.Runtime {
	return a.rt
}

// Registry returns the breakpoint registry of the agent.
func (a *Agent) Registry() *breakpoint.Registry {
	return a.registry
}

// Queue returns the deferred event queue.
func (a *Agent) Queue() *events.Queue {
	return a.queue
}

// Close stops the service and VM threads. Events still queued are not
// posted.
func (a *Agent) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.service.Wait()
		a.vmthread.Stop()
		a.log.Debugf("agent closed, %d events left in the queue", a.queue.Len())
	})
	return nil
}

func (a *Agent) execute(op safepoint.Operation) error {
	if err := a.vmthread.Execute(op); err != nil {
		if errors.Is(err, safepoint.ErrNotRunning) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// mutate runs fn as a mutator: no global pause is in progress while fn
// runs.
func (a *Agent) mutate(fn func()) {
	a.vmthread.Enter()
	defer a.vmthread.Leave()
	fn()
}

// FindMethod returns the method with the given qualified name.
func (a *Agent) FindMethod(qualified string) (*vm.Method, error) {
	m := a.rt.Classes.MethodByName(qualified)
	if m == nil {
		return nil, agenterr.New(agenterr.NotFound, "find method", "%s", qualified)
	}
	return m, nil
}

// FindMethods returns the qualified names of the loaded methods starting
// with prefix.
func (a *Agent) FindMethods(prefix string) []string {
	return a.rt.Classes.FindMethods(prefix)
}

// SetBreakpoint sets a breakpoint at bci of the method called qualified.
// Setting a breakpoint that already exists returns breakpoint.NotChanged.
func (a *Agent) SetBreakpoint(qualified string, bci int) (breakpoint.Status, error) {
	m, err := a.FindMethod(qualified)
	if err != nil {
		return breakpoint.NotChanged, err
	}
	if bci < 0 {
		return breakpoint.NotChanged, agenterr.New(agenterr.IllegalArgument, "set breakpoint", "negative bytecode offset %d", bci)
	}
	bp := breakpoint.New(m, bci)
	defer bp.Release()
	op := breakpoint.NewSetOp(a.registry, bp)
	if err := a.execute(op); err != nil {
		return breakpoint.NotChanged, err
	}
	return op.Status, op.Err
}

// ClearBreakpoint removes the breakpoint at bci of the method called
// qualified.
func (a *Agent) ClearBreakpoint(qualified string, bci int) error {
	m, err := a.FindMethod(qualified)
	if err != nil {
		return err
	}
	if bci < 0 {
		return agenterr.New(agenterr.IllegalArgument, "clear breakpoint", "negative bytecode offset %d", bci)
	}
	bp := breakpoint.New(m, bci)
	defer bp.Release()
	op := breakpoint.NewClearOp(a.registry, bp)
	if err := a.execute(op); err != nil {
		return err
	}
	return op.Err
}

// Breakpoints returns the breakpoints of the registry, read during a pause.
func (a *Agent) Breakpoints() ([]api.Breakpoint, error) {
	var r []api.Breakpoint
	err := a.execute(safepoint.Func{OpName: "list breakpoints", Fn: func() {
		for i, bp := range a.registry.Breakpoints() {
			r = append(r, api.ConvertBreakpoint(i+1, bp))
		}
	}})
	return r, err
}

// PrintBreakpoints writes the registry to w during a pause.
func (a *Agent) PrintBreakpoints(w io.Writer) error {
	return a.execute(safepoint.Func{OpName: "print breakpoints", Fn: func() {
		a.registry.Print(w)
	}})
}

// LocalRef names a local variable slot of a frame.
type LocalRef struct {
	// Thread is the platform or virtual thread owning the frame.
	Thread vm.ThreadID
	// Depth is the frame depth, 0 is the top frame.
	Depth int
	Slot  int
	Type  vm.BasicType
	// Caller is the thread issuing the request, zero for agent threads.
	// Requests of a thread for its own frames do not require it to be
	// suspended.
	Caller vm.ThreadID
}

func (ref LocalRef) self() bool {
	return ref.Caller != 0 && ref.Caller == ref.Thread
}

func (a *Agent) target(tid vm.ThreadID) (*vm.Thread, *vm.VirtualThread, error) {
	if t := a.rt.Thread(tid); t != nil {
		return t, nil, nil
	}
	if vt := a.rt.VirtualThread(tid); vt != nil {
		return nil, vt, nil
	}
	return nil, nil, agenterr.New(agenterr.NotFound, "find thread", "no thread %d", tid)
}

// GetLocal reads the slot named by ref.
func (a *Agent) GetLocal(ref LocalRef) (vm.Value, error) {
	t, vt, err := a.target(ref.Thread)
	if err != nil {
		return vm.Value{}, err
	}
	if vt != nil {
		return a.run(locals.NewVirtualGetLocal(a.svc, vt, ref.Depth, ref.Slot, ref.Type, ref.self()))
	}
	return a.run(locals.NewGetLocal(a.svc, t, ref.Depth, ref.Slot, ref.Type, ref.self()))
}

// SetLocal writes v into the slot named by ref.
func (a *Agent) SetLocal(ref LocalRef, v vm.Value) error {
	t, vt, err := a.target(ref.Thread)
	if err != nil {
		return err
	}
	if vt != nil {
		_, err = a.run(locals.NewVirtualSetLocal(a.svc, vt, ref.Depth, ref.Slot, ref.Type, v, ref.self()))
	} else {
		_, err = a.run(locals.NewSetLocal(a.svc, t, ref.Depth, ref.Slot, ref.Type, v, ref.self()))
	}
	return err
}

// GetReceiver reads the receiver of the frame at ref.Depth of ref.Thread.
// Slot and Type are ignored.
func (a *Agent) GetReceiver(ref LocalRef) (vm.Value, error) {
	t, vt, err := a.target(ref.Thread)
	if err != nil {
		return vm.Value{}, err
	}
	if vt != nil {
		return a.run(locals.NewVirtualGetReceiver(a.svc, vt, ref.Depth, ref.self()))
	}
	return a.run(locals.NewGetReceiver(a.svc, t, ref.Depth, ref.self()))
}

func (a *Agent) run(op *locals.Op) (vm.Value, error) {
	v, err := locals.Run(a.vmthread, op)
	if agenterr.Is(err, agenterr.Disposed) {
		return v, ErrClosed
	}
	return v, err
}

// Suspend suspends the thread tid.
func (a *Agent) Suspend(tid vm.ThreadID) error {
	return a.setSuspended(tid, true)
}

// Resume resumes the thread tid, installing pending updates of its
// compiled frames.
func (a *Agent) Resume(tid vm.ThreadID) error {
	return a.setSuspended(tid, false)
}

func (a *Agent) setSuspended(tid vm.ThreadID, suspend bool) error {
	t, vt, err := a.target(tid)
	if err != nil {
		return err
	}
	name := "resume"
	if suspend {
		name = "suspend"
	}
	return a.execute(safepoint.Func{OpName: fmt.Sprintf("%s %d", name, tid), Fn: func() {
		switch {
		case vt != nil && suspend:
			vt.Suspend()
		case vt != nil:
			vt.Resume()
		case suspend:
			t.Suspend()
		default:
			t.Resume()
		}
	}})
}

// Threads returns every platform and virtual thread, read during a pause.
func (a *Agent) Threads() ([]api.Thread, error) {
	var r []api.Thread
	err := a.execute(safepoint.Func{OpName: "list threads", Fn: func() {
		for _, t := range a.rt.Threads() {
			r = append(r, api.ConvertThread(t))
		}
		for _, vt := range a.rt.VirtualThreads() {
			r = append(r, api.ConvertVirtualThread(vt))
		}
	}})
	return r, err
}

// Stacktrace returns at most depth frames of thread tid, read during a
// pause. A negative depth returns every frame.
func (a *Agent) Stacktrace(tid vm.ThreadID, depth int) ([]api.Stackframe, error) {
	t, vt, err := a.target(tid)
	if err != nil {
		return nil, err
	}
	var r []api.Stackframe
	err = a.execute(safepoint.Func{OpName: fmt.Sprintf("stacktrace %d", tid), Fn: func() {
		var frames []*vm.Frame
		var deferred *vm.DeferredLocals
		if vt != nil {
			frames, deferred = vt.Frames(), vt.Deferred()
		} else {
			frames, deferred = t.OwnFrames(), t.Deferred()
		}
		for i, f := range frames {
			if depth >= 0 && i >= depth {
				break
			}
			r = append(r, api.ConvertFrame(i, f, deferred))
		}
	}})
	return r, err
}

// RedefineClass replaces the class name with nc during a pause. Every
// breakpoint in the class is cleared first and the resolver cache is
// purged. Returns the number of breakpoints cleared.
func (a *Agent) RedefineClass(name string, nc *vm.Class) (int, error) {
	if a.rt.Classes.Lookup(name) == nil {
		return 0, agenterr.New(agenterr.NotFound, "redefine class", "%s", name)
	}
	var cleared int
	var rerr error
	err := a.execute(safepoint.Func{OpName: "redefine " + name, Fn: func() {
		old := a.rt.Classes.Lookup(name)
		cleared = a.registry.ClearAllInClass(old.ID)
		if _, rerr = a.rt.Classes.Redefine(name, nc); rerr != nil {
			return
		}
		a.resolver.Purge()
	}})
	if err != nil {
		return 0, err
	}
	if rerr != nil {
		return cleared, agenterr.New(agenterr.InvalidClass, "redefine class", "%v", rerr)
	}
	a.log.Debugf("redefined %s, %d breakpoints cleared", name, cleared)
	return cleared, nil
}

// UnloadClass unloads the class name during a pause and enqueues a class
// unload event for every subscribed environment. It fails while a
// breakpoint holds the class alive.
func (a *Agent) UnloadClass(name string) error {
	c := a.rt.Classes.Lookup(name)
	if c == nil {
		return agenterr.New(agenterr.NotFound, "unload class", "%s", name)
	}
	var uerr error
	err := a.execute(safepoint.Func{OpName: "unload " + name, Fn: func() {
		if uerr = a.rt.Classes.Unload(c); uerr == nil {
			a.resolver.Purge()
		}
	}})
	if err != nil {
		return err
	}
	if uerr != nil {
		return agenterr.New(agenterr.IllegalArgument, "unload class", "%v", uerr)
	}
	a.ClassUnloaded(name)
	return nil
}

// Sweep reclaims unreferenced not entrant code. Unload events for the
// reclaimed code are enqueued by the unload hook installed by New.
func (a *Agent) Sweep() (reclaimed []*vm.Code) {
	a.mutate(func() {
		reclaimed = a.rt.Code.Sweep()
	})
	return reclaimed
}

// MakeNotEntrant marks the code starting at begin for reclamation.
func (a *Agent) MakeNotEntrant(begin uintptr) error {
	c := a.rt.Code.Lookup(begin)
	if c == nil {
		return agenterr.New(agenterr.NotFound, "make not entrant", "no code at %#x", begin)
	}
	a.mutate(func() {
		a.rt.Code.MakeNotEntrant(c)
	})
	return nil
}
