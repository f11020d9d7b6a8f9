package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Instance is a heap object.
type Instance struct {
	ID     uint64
	Class  *Class
	Fields map[string]Value
}

func (o *Instance) String() string {
	return fmt.Sprintf("%s@%x", o.Class.Name, o.ID)
}

// CodeState is the lifecycle state of generated code.
type CodeState uint8

const (
	CodeAlive CodeState = iota
	// CodeNotEntrant code can not be entered anymore and is reclaimed by
	// the next sweep unless a root still refers to it.
	CodeNotEntrant
	CodeUnloaded
)

func (s CodeState) String() string {
	switch s {
	case CodeAlive:
		return "alive"
	case CodeNotEntrant:
		return "not entrant"
	case CodeUnloaded:
		return "unloaded"
	}
	return "unknown"
}

// Code is a compiled version of a method living in the code cache.
type Code struct {
	Method   *Method
	MethodID MethodID
	Begin    uintptr
	End      uintptr
	// Oops are the objects embedded in the generated code.
	Oops []*Instance

	cache        *CodeCache
	mu           sync.Mutex
	state        CodeState
	patches      map[int]bool
	barrierEpoch uint64
}

func (c *Code) String() string {
	return fmt.Sprintf("%s [%#x, %#x)", c.Method.QualifiedName(), c.Begin, c.End)
}

// State returns the current lifecycle state of c.
func (c *Code) State() CodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Patched reports whether the breakpoint patch point for bci is active.
func (c *Code) Patched(bci int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patches[bci]
}

func (c *Code) patch(bci int, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		if c.patches == nil {
			c.patches = make(map[int]bool)
		}
		c.patches[bci] = true
	} else {
		delete(c.patches, bci)
	}
}

// BarrierArmed reports whether the entry barrier of c must run before the
// code is used again, i.e. a collection happened since the last time.
func (c *Code) BarrierArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.barrierEpoch != c.cache.Epoch()
}

// RunEntryBarrier brings the embedded oops of c up to date with the last
// collection and disarms the barrier.
func (c *Code) RunEntryBarrier() {
	c.mu.Lock()
	c.barrierEpoch = c.cache.Epoch()
	c.mu.Unlock()
}

// RootSource is implemented by holders of code references that must keep
// code from being swept, such as the deferred event queue.
type RootSource interface {
	CodesDo(fn func(*Code))
}

// CodeCache holds all generated code.
type CodeCache struct {
	mu       sync.Mutex
	codes    map[uintptr]*Code
	next     uintptr
	roots    []RootSource
	onUnload []func(*Code)
	epoch    uint64
}

const codeCacheBase = 0x7f0000010000

// NewCodeCache returns an empty code cache.
func NewCodeCache() *CodeCache {
	return &CodeCache{codes: make(map[uintptr]*Code), next: codeCacheBase, epoch: 1}
}

// Epoch returns the number of sweeps performed plus one.
func (cc *CodeCache) Epoch() uint64 {
	return atomic.LoadUint64(&cc.epoch)
}

// Install allocates size bytes of code for m and patches the breakpoints
// currently armed in m into it. Callers running concurrently with global
// pauses must call Install between safepoint Enter and Leave.
func (cc *CodeCache) Install(m *Method, size int, oops ...*Instance) *Code {
	if size <= 0 {
		size = 16
	}
	cc.mu.Lock()
	begin := cc.next
	cc.next += uintptr((size + 15) &^ 15)
	c := &Code{
		Method:       m,
		MethodID:     m.ID,
		Begin:        begin,
		End:          begin + uintptr(size),
		Oops:         oops,
		cache:        cc,
		barrierEpoch: cc.Epoch(),
	}
	cc.codes[begin] = c
	cc.mu.Unlock()
	m.addCode(c)
	return c
}

// Lookup returns the code starting at begin.
func (cc *CodeCache) Lookup(begin uintptr) *Code {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.codes[begin]
}

// Live returns all code that was not unloaded, ordered by address.
func (cc *CodeCache) Live() []*Code {
	cc.mu.Lock()
	r := make([]*Code, 0, len(cc.codes))
	for _, c := range cc.codes {
		r = append(r, c)
	}
	cc.mu.Unlock()
	sort.Slice(r, func(i, j int) bool { return r[i].Begin < r[j].Begin })
	return r
}

// MakeNotEntrant marks c for reclamation by the next Sweep.
func (cc *CodeCache) MakeNotEntrant(c *Code) {
	c.mu.Lock()
	if c.state == CodeAlive {
		c.state = CodeNotEntrant
	}
	c.mu.Unlock()
}

// AddRoots registers a source of code references consulted by Sweep.
func (cc *CodeCache) AddRoots(r RootSource) {
	cc.mu.Lock()
	cc.roots = append(cc.roots, r)
	cc.mu.Unlock()
}

// OnUnload registers fn to be called for every piece of code reclaimed by
// Sweep. fn is called after the code was removed from the cache.
func (cc *CodeCache) OnUnload(fn func(*Code)) {
	cc.mu.Lock()
	cc.onUnload = append(cc.onUnload, fn)
	cc.mu.Unlock()
}

// Sweep reclaims every not entrant code that is not referenced by a
// registered root source and arms the entry barriers of all remaining
// code. It returns the reclaimed code.
func (cc *CodeCache) Sweep() []*Code {
	cc.mu.Lock()
	marked := make(map[*Code]bool)
	for _, r := range cc.roots {
		r.CodesDo(func(c *Code) { marked[c] = true })
	}
	var reclaimed []*Code
	for begin, c := range cc.codes {
		c.mu.Lock()
		if c.state == CodeNotEntrant && !marked[c] {
			c.state = CodeUnloaded
			reclaimed = append(reclaimed, c)
			delete(cc.codes, begin)
		}
		c.mu.Unlock()
	}
	atomic.AddUint64(&cc.epoch, 1)
	hooks := cc.onUnload
	cc.mu.Unlock()

	sort.Slice(reclaimed, func(i, j int) bool { return reclaimed[i].Begin < reclaimed[j].Begin })
	for _, c := range reclaimed {
		c.Method.removeCode(c)
		for _, fn := range hooks {
			fn(c)
		}
	}
	return reclaimed
}
