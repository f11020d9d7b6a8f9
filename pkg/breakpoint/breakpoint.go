// Package breakpoint implements the breakpoint registry of the agent.
//
// The registry and the breakpoint tables of methods are plain
// unsynchronized data. They are only modified from inside a global pause,
// through a ChangeOp executed by the safepoint package.
package breakpoint

import (
	"fmt"
	"io"
	"sync"

	"github.com/vmagent/vmagent/pkg/agenterr"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/vm"
)

// Breakpoint is a bytecode offset in a method. It keeps the declaring
// class of the method alive until released.
type Breakpoint struct {
	method *vm.Method
	bci    int
	holder *vm.Holder
}

// New returns a breakpoint at bci of m. The caller must Release it.
func New(m *vm.Method, bci int) *Breakpoint {
	if m == nil {
		panic("breakpoint: nil method")
	}
	if bci < 0 {
		panic(fmt.Sprintf("breakpoint: negative bytecode offset %d", bci))
	}
	return &Breakpoint{method: m, bci: bci, holder: m.Class.Retain()}
}

// Method returns the method bp belongs to.
func (bp *Breakpoint) Method() *vm.Method { return bp.method }

// BCI returns the bytecode offset of bp.
func (bp *Breakpoint) BCI() int { return bp.bci }

// Equals reports whether bp and other designate the same offset of the
// same method.
func (bp *Breakpoint) Equals(other *Breakpoint) bool {
	return bp.method == other.method && bp.bci == other.bci
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("%s@%d", bp.method.QualifiedName(), bp.bci)
}

// Release drops the class keep-alive handle of bp.
func (bp *Breakpoint) Release() {
	bp.holder.Release()
}

func (bp *Breakpoint) copy() *Breakpoint {
	return &Breakpoint{method: bp.method, bci: bp.bci, holder: bp.method.Class.Retain()}
}

// arm patches every version of the method: the interpreter breakpoint
// table and the patch points of compiled code.
func (bp *Breakpoint) arm() {
	for _, m := range bp.method.Versions() {
		m.SetBreakpoint(bp.bci)
	}
}

func (bp *Breakpoint) disarm() {
	for _, m := range bp.method.Versions() {
		m.ClearBreakpoint(bp.bci)
	}
}

// Status is the outcome of a successful registry change.
type Status uint8

const (
	Changed Status = iota
	// NotChanged is returned when setting a breakpoint that is already
	// present.
	NotChanged
)

func (s Status) String() string {
	if s == NotChanged {
		return "not changed"
	}
	return "changed"
}

// PauseChecker reports whether the calling code runs inside a global
// pause.
type PauseChecker interface {
	InPause() bool
}

// Registry is the set of breakpoints armed in the runtime.
type Registry struct {
	bps   []*Breakpoint
	pause PauseChecker
	log   logflags.Logger
}

// NewRegistry returns an empty registry. If pause is not nil every
// mutation checks that it happens during a global pause.
func NewRegistry(pause PauseChecker) *Registry {
	return &Registry{pause: pause, log: logflags.BreakpointsLogger()}
}

// SetPauseChecker replaces the pause checker of r.
func (r *Registry) SetPauseChecker(pause PauseChecker) {
	r.pause = pause
}

func (r *Registry) mustBePaused(op string) {
	if r.pause != nil && !r.pause.InPause() {
		panic(fmt.Sprintf("breakpoint: %s outside of a global pause", op))
	}
}

func (r *Registry) find(bp *Breakpoint) int {
	for i := range r.bps {
		if r.bps[i].Equals(bp) {
			return i
		}
	}
	return -1
}

// Set adds bp to the registry and arms it. If an equal breakpoint is
// already present nothing is modified and NotChanged is returned.
func (r *Registry) Set(bp *Breakpoint) Status {
	r.mustBePaused("set")
	if r.find(bp) >= 0 {
		r.log.Debugf("set %v: already present", bp)
		return NotChanged
	}
	nbp := bp.copy()
	r.bps = append(r.bps, nbp)
	nbp.arm()
	r.log.Debugf("set %v", nbp)
	return Changed
}

// Clear removes the breakpoint equal to bp and disarms it. It returns an
// error with code agenterr.NotFound if there is no such breakpoint.
func (r *Registry) Clear(bp *Breakpoint) error {
	r.mustBePaused("clear")
	i := r.find(bp)
	if i < 0 {
		return agenterr.New(agenterr.NotFound, "clear breakpoint", "no breakpoint at %v", bp)
	}
	r.remove(i)
	return nil
}

func (r *Registry) remove(i int) {
	bp := r.bps[i]
	copy(r.bps[i:], r.bps[i+1:])
	r.bps[len(r.bps)-1] = nil
	r.bps = r.bps[:len(r.bps)-1]
	bp.disarm()
	bp.Release()
	r.log.Debugf("clear %v", bp)
}

// ClearAllInClass removes every breakpoint whose method belongs to a
// version of the class id. It is called by class redefinition, which
// already runs inside a global pause. Returns the number of breakpoints
// removed.
func (r *Registry) ClearAllInClass(id vm.ClassID) int {
	r.mustBePaused("clear all in class")
	n := 0
	for i := 0; i < len(r.bps); {
		if r.bps[i].method.Class.ID == id {
			r.remove(i)
			n++
			continue
		}
		i++
	}
	return n
}

// Len returns the number of breakpoints in r.
func (r *Registry) Len() int {
	return len(r.bps)
}

// Breakpoints returns a copy of the list of breakpoints in r. Outside of a
// pause the result is advisory only.
func (r *Registry) Breakpoints() []*Breakpoint {
	return append([]*Breakpoint(nil), r.bps...)
}

// Print writes one line per breakpoint to w. Outside of a pause the output
// is advisory only.
func (r *Registry) Print(w io.Writer) {
	for i, bp := range r.bps {
		fmt.Fprintf(w, "%d: %v\n", i, bp)
	}
}

// clearAll disarms and drops every breakpoint.
func (r *Registry) clearAll() {
	for len(r.bps) > 0 {
		r.remove(len(r.bps) - 1)
	}
}

var (
	currentOnce sync.Once
	current     *Registry
	currentMu   sync.Mutex
)

// Current returns the process wide registry, creating it on first use.
func Current() *Registry {
	currentMu.Lock()
	defer currentMu.Unlock()
	currentOnce.Do(func() {
		current = NewRegistry(nil)
	})
	return current
}

// Teardown disarms every breakpoint of the process wide registry and
// drops it. A later call to Current creates a new registry. Must be called
// at shutdown, with mutators stopped.
func Teardown() {
	currentMu.Lock()
	defer currentMu.Unlock()
	if current != nil {
		current.pause = nil
		current.clearAll()
	}
	current = nil
	currentOnce = sync.Once{}
}
