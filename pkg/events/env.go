package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vmagent/vmagent/pkg/vm"
)

// Callbacks are the event handlers of an agent environment. Nil handlers
// are skipped.
type Callbacks struct {
	CompiledMethodLoad   func(env *Env, code *vm.Code)
	CompiledMethodUnload func(env *Env, id vm.MethodID, begin uintptr)
	DynamicCodeGenerated func(env *Env, name string, begin, end uintptr)
	ClassUnload          func(env *Env, name string)
}

// Forward returns callbacks passing every event to fn.
func Forward(fn func(env *Env, ev Event)) Callbacks {
	return Callbacks{
		CompiledMethodLoad: func(env *Env, code *vm.Code) {
			fn(env, NewCompiledMethodLoad(code))
		},
		CompiledMethodUnload: func(env *Env, id vm.MethodID, begin uintptr) {
			fn(env, NewCompiledMethodUnload(id, begin))
		},
		DynamicCodeGenerated: func(env *Env, name string, begin, end uintptr) {
			fn(env, NewDynamicCodeGenerated(name, begin, end))
		},
		ClassUnload: func(env *Env, name string) {
			fn(env, NewClassUnload(name))
		},
	}
}

// Env is an agent environment: a set of callbacks and the kinds of events
// it subscribed to.
type Env struct {
	ID   uuid.UUID
	Name string

	mu        sync.Mutex
	callbacks Callbacks
	enabled   [numKinds]bool
	disposed  bool

	// post is held while events are delivered to the environment, by
	// Queue.Post and by the service thread. Callbacks must not post
	// events of their own environment.
	post sync.Mutex
}

// NewEnv returns an environment with no event enabled.
func NewEnv(name string, cb Callbacks) *Env {
	return &Env{ID: uuid.New(), Name: name, callbacks: cb}
}

func (e *Env) String() string {
	return e.Name + " (" + e.ID.String() + ")"
}

// SetCallbacks replaces the callbacks of e.
func (e *Env) SetCallbacks(cb Callbacks) {
	e.mu.Lock()
	e.callbacks = cb
	e.mu.Unlock()
}

// SetEventNotificationMode enables or disables the delivery of the given
// kinds of events.
func (e *Env) SetEventNotificationMode(enable bool, kinds ...Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range kinds {
		if k < numKinds {
			e.enabled[k] = enable
		}
	}
}

// Enabled reports whether e wants events of kind k.
func (e *Env) Enabled(k Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return k < numKinds && e.enabled[k] && !e.disposed
}

// Dispose disables every event of e. Events still queued for e are
// consumed without being delivered.
func (e *Env) Dispose() {
	e.mu.Lock()
	e.disposed = true
	e.mu.Unlock()
}

// Disposed reports whether Dispose was called.
func (e *Env) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// deliver calls the callback of e matching ev. Load events first bring
// the entry barrier of their code up to date, the code may have been
// generated before e subscribed.
func (e *Env) deliver(ev Event) bool {
	if !e.Enabled(ev.Kind()) {
		return false
	}
	e.mu.Lock()
	cb := e.callbacks
	e.mu.Unlock()

	switch ev := ev.(type) {
	case CompiledMethodLoadEvent:
		ev.Code.RunEntryBarrier()
		if cb.CompiledMethodLoad != nil {
			cb.CompiledMethodLoad(e, ev.Code)
		}
	case CompiledMethodUnloadEvent:
		if cb.CompiledMethodUnload != nil {
			cb.CompiledMethodUnload(e, ev.MethodID, ev.CodeBegin)
		}
	case DynamicCodeGeneratedEvent:
		if cb.DynamicCodeGenerated != nil {
			cb.DynamicCodeGenerated(e, ev.Name, ev.Begin, ev.End)
		}
	case ClassUnloadEvent:
		if cb.ClassUnload != nil {
			cb.ClassUnload(e, ev.Name)
		}
	}
	return true
}
