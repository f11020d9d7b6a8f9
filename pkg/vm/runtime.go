// Package vm models the parts of a managed runtime the agent core talks
// to: classes and methods, generated code, threads and their frames, and
// the deoptimization and type resolution services.
package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Runtime groups the class table, the code cache and the threads of a
// running program.
type Runtime struct {
	Classes *ClassTable
	Code    *CodeCache

	mu       sync.Mutex
	threads  map[ThreadID]*Thread
	vthreads map[ThreadID]*VirtualThread
	named    map[string]*Instance
	nextObj  uint64
}

// NewRuntime returns an empty runtime using loader to load classes on
// demand.
func NewRuntime(loader Loader) *Runtime {
	return &Runtime{
		Classes:  NewClassTable(loader),
		Code:     NewCodeCache(),
		threads:  make(map[ThreadID]*Thread),
		vthreads: make(map[ThreadID]*VirtualThread),
		named:    make(map[string]*Instance),
	}
}

// Bind gives obj a name usable from the command line and scripts.
func (rt *Runtime) Bind(name string, obj *Instance) {
	rt.mu.Lock()
	rt.named[name] = obj
	rt.mu.Unlock()
}

// Named returns the object bound to name.
func (rt *Runtime) Named(name string) *Instance {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.named[name]
}

// NewInstance allocates an object of class c.
func (rt *Runtime) NewInstance(c *Class) *Instance {
	return &Instance{
		ID:     atomic.AddUint64(&rt.nextObj, 1),
		Class:  c,
		Fields: make(map[string]Value),
	}
}

// AddThread registers t.
func (rt *Runtime) AddThread(t *Thread) {
	rt.mu.Lock()
	rt.threads[t.ID] = t
	rt.mu.Unlock()
}

// AddVirtualThread registers vt.
func (rt *Runtime) AddVirtualThread(vt *VirtualThread) {
	rt.mu.Lock()
	rt.vthreads[vt.ID] = vt
	rt.mu.Unlock()
}

// Thread returns the platform thread with the given id.
func (rt *Runtime) Thread(id ThreadID) *Thread {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.threads[id]
}

// VirtualThread returns the virtual thread with the given id.
func (rt *Runtime) VirtualThread(id ThreadID) *VirtualThread {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.vthreads[id]
}

// Threads returns all platform threads ordered by id.
func (rt *Runtime) Threads() []*Thread {
	rt.mu.Lock()
	r := make([]*Thread, 0, len(rt.threads))
	for _, t := range rt.threads {
		r = append(r, t)
	}
	rt.mu.Unlock()
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// VirtualThreads returns all virtual threads ordered by id.
func (rt *Runtime) VirtualThreads() []*VirtualThread {
	rt.mu.Lock()
	r := make([]*VirtualThread, 0, len(rt.vthreads))
	for _, vt := range rt.vthreads {
		r = append(r, vt)
	}
	rt.mu.Unlock()
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}
