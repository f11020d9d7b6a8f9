package vm

import (
	"fmt"
	"sync/atomic"
)

// ThreadID identifies a platform or virtual thread.
type ThreadID int64

// FrameKind describes how a frame was produced.
type FrameKind uint8

const (
	Interpreted FrameKind = iota
	Compiled
	// NativeWrapper frames belong to native methods. They expose no
	// numbered locals, only the receiver of non static methods.
	NativeWrapper
)

func (k FrameKind) String() string {
	switch k {
	case Interpreted:
		return "interpreted"
	case Compiled:
		return "compiled"
	case NativeWrapper:
		return "native"
	}
	return "unknown"
}

// ScalarReplaced describes an allocation the optimizer removed: the object
// only exists as field values until the frame is materialized.
type ScalarReplaced struct {
	Slot   int
	Class  *Class
	Fields map[string]Value
}

// Frame is one activation on a thread's stack.
type Frame struct {
	Method *Method
	BCI    int
	Kind   FrameKind
	// Locals are the slot values. For compiled frames they reflect what the
	// compiled code sees, pending updates are kept in DeferredLocals.
	Locals []Value
	// Receiver is the receiver of a non static native method.
	Receiver *Instance

	// ScalarReplaced lists the eliminated allocations of a compiled frame.
	ScalarReplaced []ScalarReplaced
	// Unmaterializable makes materialization of this frame fail.
	Unmaterializable bool
	// Deoptimized is set once the frame was marked to resume in the
	// interpreter.
	Deoptimized bool
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s@%d (%s)", f.Method.QualifiedName(), f.BCI, f.Kind)
}

// DeferredLocals collects writes into compiled frames. They are applied to
// the frame when its owner resumes.
type DeferredLocals struct {
	m map[*Frame]map[int]Value
}

// Set records v for slot of f.
func (d *DeferredLocals) Set(f *Frame, slot int, v Value) {
	if d.m == nil {
		d.m = make(map[*Frame]map[int]Value)
	}
	if d.m[f] == nil {
		d.m[f] = make(map[int]Value)
	}
	d.m[f][slot] = v
}

// Get returns the pending value for slot of f.
func (d *DeferredLocals) Get(f *Frame, slot int) (Value, bool) {
	v, ok := d.m[f][slot]
	return v, ok
}

// Len returns the number of frames with pending updates.
func (d *DeferredLocals) Len() int {
	return len(d.m)
}

// apply writes all pending updates into their frames. Updated compiled
// frames continue in the interpreter.
func (d *DeferredLocals) apply() {
	for f, slots := range d.m {
		for slot, v := range slots {
			f.Locals[slot] = v
		}
		f.Deoptimized = true
		if f.Kind == Compiled {
			f.Kind = Interpreted
		}
	}
	d.m = nil
}

// Thread is a platform thread. Its stack is only touched by the thread
// itself while running or by pause operations while the world is stopped.
type Thread struct {
	ID   ThreadID
	Name string

	frames    []*Frame // frames[0] is the top of the stack
	suspended int32
	deferred  DeferredLocals

	mounted   *VirtualThread
	contDepth int
}

// NewThread returns a thread with the given stack, top frame first.
func NewThread(id ThreadID, name string, frames ...*Frame) *Thread {
	return &Thread{ID: id, Name: name, frames: frames}
}

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d %q", t.ID, t.Name)
}

// Frames returns the stack of t, top frame first.
func (t *Thread) Frames() []*Frame {
	return t.frames
}

// OwnFrames returns the frames of t below a mounted virtual thread, top
// frame first. Without a mounted virtual thread it is the same as Frames.
func (t *Thread) OwnFrames() []*Frame {
	return t.frames[t.contDepth:]
}

// Push makes f the top frame.
func (t *Thread) Push(f *Frame) {
	t.frames = append([]*Frame{f}, t.frames...)
	if t.mounted != nil {
		t.contDepth++
	}
}

// Pop removes the top frame.
func (t *Thread) Pop() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	f := t.frames[0]
	t.frames = t.frames[1:]
	if t.contDepth > 0 {
		t.contDepth--
	}
	return f
}

// Suspend marks t as suspended.
func (t *Thread) Suspend() {
	atomic.StoreInt32(&t.suspended, 1)
}

// Resume clears the suspended state and reinstalls pending local updates.
// It must be called with the world paused.
func (t *Thread) Resume() {
	t.deferred.apply()
	atomic.StoreInt32(&t.suspended, 0)
}

// Suspended reports whether t is suspended.
func (t *Thread) Suspended() bool {
	return atomic.LoadInt32(&t.suspended) != 0
}

// Deferred returns the pending compiled frame updates of t.
func (t *Thread) Deferred() *DeferredLocals {
	return &t.deferred
}

// Mounted returns the virtual thread currently carried by t.
func (t *Thread) Mounted() *VirtualThread {
	return t.mounted
}

// VirtualThread is a lightweight thread. While unmounted its frames live
// in its continuation, while mounted they are the top frames of its
// carrier.
type VirtualThread struct {
	ID   ThreadID
	Name string

	cont      []*Frame
	carrier   *Thread
	suspended int32
	deferred  DeferredLocals
}

// NewVirtualThread returns an unmounted virtual thread.
func NewVirtualThread(id ThreadID, name string, frames ...*Frame) *VirtualThread {
	return &VirtualThread{ID: id, Name: name, cont: frames}
}

func (vt *VirtualThread) String() string {
	return fmt.Sprintf("virtual thread %d %q", vt.ID, vt.Name)
}

// Carrier returns the thread vt is mounted on, or nil.
func (vt *VirtualThread) Carrier() *Thread {
	return vt.carrier
}

// Frames returns the frames of vt, top frame first.
func (vt *VirtualThread) Frames() []*Frame {
	if vt.carrier != nil {
		return vt.carrier.frames[:vt.carrier.contDepth]
	}
	return vt.cont
}

// Mount moves the continuation of vt on top of carrier's stack.
func (vt *VirtualThread) Mount(carrier *Thread) error {
	if vt.carrier != nil {
		return fmt.Errorf("%v already mounted on %v", vt, vt.carrier)
	}
	if carrier.mounted != nil {
		return fmt.Errorf("%v already carries %v", carrier, carrier.mounted)
	}
	carrier.frames = append(append([]*Frame{}, vt.cont...), carrier.frames...)
	carrier.mounted = vt
	carrier.contDepth = len(vt.cont)
	vt.carrier = carrier
	vt.cont = nil
	return nil
}

// Unmount saves the frames of vt back into its continuation.
func (vt *VirtualThread) Unmount() {
	c := vt.carrier
	if c == nil {
		return
	}
	vt.cont = append([]*Frame{}, c.frames[:c.contDepth]...)
	c.frames = c.frames[c.contDepth:]
	c.mounted = nil
	c.contDepth = 0
	vt.carrier = nil
}

// Suspend marks vt as suspended.
func (vt *VirtualThread) Suspend() {
	atomic.StoreInt32(&vt.suspended, 1)
}

// Resume clears the suspended state and reinstalls pending local updates.
// It must be called with the world paused.
func (vt *VirtualThread) Resume() {
	vt.deferred.apply()
	atomic.StoreInt32(&vt.suspended, 0)
}

// Suspended reports whether vt is suspended.
func (vt *VirtualThread) Suspended() bool {
	return atomic.LoadInt32(&vt.suspended) != 0
}

// Deferred returns the pending compiled frame updates of vt.
func (vt *VirtualThread) Deferred() *DeferredLocals {
	return &vt.deferred
}
