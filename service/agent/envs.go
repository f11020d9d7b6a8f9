package agent

import (
	"github.com/google/uuid"

	"github.com/vmagent/vmagent/pkg/agenterr"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/vm"
)

// CreateEnv creates an agent environment receiving the listed kinds of
// events through cb.
func (a *Agent) CreateEnv(name string, cb events.Callbacks, kinds ...events.Kind) *events.Env {
	env := events.NewEnv(name, cb)
	env.SetEventNotificationMode(true, kinds...)
	a.envsMu.Lock()
	a.envs = append(a.envs, env)
	a.envsMu.Unlock()
	a.log.Debugf("created %v", env)
	return env
}

// DisposeEnv disposes env and drops the events still queued for it.
func (a *Agent) DisposeEnv(env *events.Env) error {
	a.envsMu.Lock()
	found := false
	for i := range a.envs {
		if a.envs[i] == env {
			a.envs = append(a.envs[:i], a.envs[i+1:]...)
			found = true
			break
		}
	}
	a.envsMu.Unlock()
	if !found {
		return agenterr.New(agenterr.Disposed, "dispose env", "%v", env)
	}
	env.Dispose()
	n := a.queue.Remove(env)
	a.log.Debugf("disposed %v, %d queued events dropped", env, n)
	return nil
}

// Envs returns the live environments.
func (a *Agent) Envs() []*events.Env {
	a.envsMu.Lock()
	defer a.envsMu.Unlock()
	return append([]*events.Env(nil), a.envs...)
}

// Env returns the live environment with the given id.
func (a *Agent) Env(id uuid.UUID) *events.Env {
	a.envsMu.Lock()
	defer a.envsMu.Unlock()
	for _, env := range a.envs {
		if env.ID == id {
			return env
		}
	}
	return nil
}

func (a *Agent) enqueue(k events.Kind, mk func() events.Event) int {
	n := 0
	for _, env := range a.Envs() {
		if env.Enabled(k) {
			a.queue.Enqueue(env, mk())
			n++
		}
	}
	return n
}

// CompiledMethodLoaded enqueues a load event for code to every environment
// subscribed to them.
func (a *Agent) CompiledMethodLoaded(code *vm.Code) int {
	return a.enqueue(events.CompiledMethodLoad, func() events.Event { return events.NewCompiledMethodLoad(code) })
}

// CompiledMethodUnloaded enqueues an unload event for code, which is being
// reclaimed. Only the identity of the code is captured.
func (a *Agent) CompiledMethodUnloaded(code *vm.Code) {
	id, begin := code.MethodID, code.Begin
	a.enqueue(events.CompiledMethodUnload, func() events.Event { return events.NewCompiledMethodUnload(id, begin) })
}

// DynamicCodeGenerated enqueues an event for a stub occupying [begin, end).
func (a *Agent) DynamicCodeGenerated(name string, begin, end uintptr) int {
	return a.enqueue(events.DynamicCodeGenerated, func() events.Event { return events.NewDynamicCodeGenerated(name, begin, end) })
}

// ClassUnloaded enqueues a class unload event.
func (a *Agent) ClassUnloaded(name string) int {
	return a.enqueue(events.ClassUnload, func() events.Event { return events.NewClassUnload(name) })
}

// Compile installs size bytes of code for the method called qualified and
// enqueues its load event.
func (a *Agent) Compile(qualified string, size int) (*vm.Code, error) {
	m, err := a.FindMethod(qualified)
	if err != nil {
		return nil, err
	}
	if m.Native {
		return nil, agenterr.New(agenterr.IllegalArgument, "compile", "%v is native", m)
	}
	var code *vm.Code
	a.mutate(func() {
		code = a.rt.Code.Install(m, size)
	})
	a.CompiledMethodLoaded(code)
	return code, nil
}

// GenerateEvents posts a load event to env for all live code.
func (a *Agent) GenerateEvents(env *events.Env) int {
	return events.GenerateEvents(env, a.rt.Code)
}

// PostEvents posts the events queued for env from the calling goroutine.
func (a *Agent) PostEvents(env *events.Env) int {
	return a.queue.Post(env)
}
