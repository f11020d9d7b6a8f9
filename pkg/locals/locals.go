// Package locals implements the global pause operations reading and
// writing local variable slots of suspended frames, of platform threads
// and of virtual threads.
package locals

import (
	"fmt"

	"github.com/vmagent/vmagent/pkg/agenterr"
	"github.com/vmagent/vmagent/pkg/logflags"
	"github.com/vmagent/vmagent/pkg/safepoint"
	"github.com/vmagent/vmagent/pkg/vm"
)

// Policy decides whether a thread accessing its own compiled frame has to
// materialize it first.
type Policy uint8

const (
	// SelfDirect reads a thread's own compiled frame in place when the
	// optimizer did not scalar replace any object in it.
	SelfDirect Policy = iota
	// SelfDeoptimize materializes every compiled frame, like cross thread
	// accesses do.
	SelfDeoptimize
)

func (p Policy) String() string {
	if p == SelfDeoptimize {
		return "deoptimize"
	}
	return "direct"
}

// ParsePolicy parses "direct" or "deoptimize". The empty string is
// SelfDirect.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "direct":
		return SelfDirect, nil
	case "deoptimize":
		return SelfDeoptimize, nil
	}
	return SelfDirect, fmt.Errorf("unknown self frame access policy %q", s)
}

// Services are the runtime services used by local variable operations.
type Services struct {
	Deoptimizer vm.Deoptimizer
	Resolver    vm.Resolver
	SelfPolicy  Policy
}

// State is the lifecycle state of an Op.
type State uint8

const (
	Created State = iota
	Queued
	Executing
	Completed
	Consumed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Queued:
		return "queued"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	case Consumed:
		return "consumed"
	}
	return "unknown"
}

// Op gets or sets one local variable slot, or the receiver, of the frame
// at a given depth of a thread. It is executed once, during a global
// pause.
type Op struct {
	svc *Services

	thread  *vm.Thread
	vthread *vm.VirtualThread

	depth int
	index int
	typ   vm.BasicType
	value vm.Value

	set      bool
	self     bool
	receiver bool
	state    State
	result   vm.Value
	err      error
	log      logflags.Logger
}

func newOp(svc *Services, depth, index int, typ vm.BasicType, self bool) *Op {
	return &Op{svc: svc, depth: depth, index: index, typ: typ, self: self, log: logflags.LocalsLogger()}
}

// NewGetLocal returns an operation reading slot index, of kind typ, of the
// frame at depth of t. self must be true if the calling thread is t.
func NewGetLocal(svc *Services, t *vm.Thread, depth, index int, typ vm.BasicType, self bool) *Op {
	op := newOp(svc, depth, index, typ, self)
	op.thread = t
	return op
}

// NewSetLocal returns an operation writing v into slot index of the frame
// at depth of t.
func NewSetLocal(svc *Services, t *vm.Thread, depth, index int, typ vm.BasicType, v vm.Value, self bool) *Op {
	op := NewGetLocal(svc, t, depth, index, typ, self)
	op.set = true
	op.value = v
	return op
}

// NewGetReceiver returns an operation reading the receiver of the frame at
// depth of t, including frames of native methods.
func NewGetReceiver(svc *Services, t *vm.Thread, depth int, self bool) *Op {
	op := NewGetLocal(svc, t, depth, 0, vm.Object, self)
	op.receiver = true
	return op
}

// NewVirtualGetLocal is NewGetLocal for a virtual thread. The frames of vt
// are found on its carrier if it is mounted, in its continuation otherwise.
func NewVirtualGetLocal(svc *Services, vt *vm.VirtualThread, depth, index int, typ vm.BasicType, self bool) *Op {
	op := newOp(svc, depth, index, typ, self)
	op.vthread = vt
	return op
}

// NewVirtualSetLocal is NewSetLocal for a virtual thread.
func NewVirtualSetLocal(svc *Services, vt *vm.VirtualThread, depth, index int, typ vm.BasicType, v vm.Value, self bool) *Op {
	op := NewVirtualGetLocal(svc, vt, depth, index, typ, self)
	op.set = true
	op.value = v
	return op
}

// NewVirtualGetReceiver is NewGetReceiver for a virtual thread.
func NewVirtualGetReceiver(svc *Services, vt *vm.VirtualThread, depth int, self bool) *Op {
	op := NewVirtualGetLocal(svc, vt, depth, 0, vm.Object, self)
	op.receiver = true
	return op
}

func (op *Op) Name() string {
	name := "get local"
	switch {
	case op.receiver:
		name = "get receiver"
	case op.set:
		name = "set local"
	}
	if op.vthread != nil {
		return "virtual thread " + name
	}
	return name
}

// State returns the lifecycle state of op.
func (op *Op) State() State {
	return op.state
}

// MarkQueued records that op was handed to the pause scheduler.
func (op *Op) MarkQueued() {
	if op.state == Created {
		op.state = Queued
	}
}

// Result returns the value read (for a write, the value written) and the
// error of the operation. It must be called after the operation ran.
func (op *Op) Result() (vm.Value, error) {
	if op.state == Created || op.state == Queued || op.state == Executing {
		panic(fmt.Sprintf("locals: result of %s read before completion", op.Name()))
	}
	op.state = Consumed
	return op.result, op.err
}

func (op *Op) fail(code agenterr.Code, format string, args ...interface{}) error {
	return agenterr.New(code, op.Name(), format, args...)
}

// Prologue rejects malformed requests before the world is stopped.
func (op *Op) Prologue() bool {
	switch {
	case op.depth < 0:
		op.err = op.fail(agenterr.IllegalArgument, "negative depth %d", op.depth)
	case op.index < 0:
		op.err = op.fail(agenterr.InvalidSlot, "negative slot %d", op.index)
	case op.set && !op.receiver && op.value.Kind.SlotKind() != op.typ.SlotKind():
		op.err = op.fail(agenterr.TypeMismatch, "%s value written as %s", op.value.Kind, op.typ)
	default:
		return true
	}
	op.state = Completed
	op.log.Debugf("%s: %v", op.Name(), op.err)
	return false
}

func (op *Op) Doit() {
	op.state = Executing
	op.err = op.doit()
	if op.err != nil {
		op.log.Debugf("%s: %v", op.Name(), op.err)
	}
	op.state = Completed
}

func (op *Op) doit() error {
	frames, deferred, suspended := op.target()
	if !op.self && !suspended {
		return op.fail(agenterr.ThreadNotSuspended, "%v", op.targetName())
	}
	if op.depth >= len(frames) {
		return op.fail(agenterr.NoSuchFrame, "depth %d of %v", op.depth, op.targetName())
	}
	f := frames[op.depth]

	if op.needsMaterialization(f) {
		if err := op.svc.Deoptimizer.Materialize(f); err != nil {
			return op.fail(agenterr.NoSuchFrame, "%v", err)
		}
	}

	if op.receiver {
		return op.getReceiver(f, deferred)
	}
	if f.Kind == vm.NativeWrapper || f.Method.Native {
		return op.fail(agenterr.OpaqueFrame, "%v", f)
	}
	if err := op.checkSlot(f); err != nil {
		return err
	}
	if op.set {
		op.write(f, deferred)
		return nil
	}
	op.read(f, deferred)
	return nil
}

func (op *Op) target() (frames []*vm.Frame, deferred *vm.DeferredLocals, suspended bool) {
	if op.vthread != nil {
		return op.vthread.Frames(), op.vthread.Deferred(), op.vthread.Suspended()
	}
	return op.thread.OwnFrames(), op.thread.Deferred(), op.thread.Suspended()
}

func (op *Op) targetName() string {
	if op.vthread != nil {
		return op.vthread.String()
	}
	return op.thread.String()
}

func (op *Op) needsMaterialization(f *vm.Frame) bool {
	if f.Kind != vm.Compiled || f.Deoptimized {
		return false
	}
	if op.self && op.svc.SelfPolicy == SelfDirect && !op.set && !vm.NeedsMaterialization(f) {
		return false
	}
	return true
}

func (op *Op) getReceiver(f *vm.Frame, deferred *vm.DeferredLocals) error {
	if f.Method.Static {
		return op.fail(agenterr.InvalidSlot, "%v is static", f.Method)
	}
	if f.Kind == vm.NativeWrapper || f.Method.Native {
		op.result = vm.ObjectValue(f.Receiver)
		return nil
	}
	if err := op.checkSlot(f); err != nil {
		return err
	}
	op.read(f, deferred)
	return nil
}

// checkSlot validates index and typ against the local variable table of
// the method, or the verifier's slot kinds if the method has none.
func (op *Op) checkSlot(f *vm.Frame) error {
	m := f.Method
	last := op.index + op.typ.Slots() - 1
	if last >= m.MaxLocals || last >= len(f.Locals) {
		return op.fail(agenterr.InvalidSlot, "slot %d of %v", op.index, m)
	}
	if m.HasLocalVariableTable() {
		return op.checkSlotLVT(f)
	}
	return op.checkSlotNoLVT(f)
}

func (op *Op) checkSlotLVT(f *vm.Frame) error {
	lv, ok := f.Method.LocalAt(op.index, f.BCI)
	if !ok {
		return op.fail(agenterr.InvalidSlot, "slot %d not live at %v", op.index, f)
	}
	declared := vm.BasicTypeOf(lv.Signature).SlotKind()
	if declared != op.typ.SlotKind() {
		return op.fail(agenterr.TypeMismatch, "slot %d (%s) is %s, not %s", op.index, lv.Name, declared, op.typ)
	}
	if op.set && declared == vm.Object {
		return op.checkAssignable(lv.Signature)
	}
	return nil
}

func (op *Op) checkSlotNoLVT(f *vm.Frame) error {
	kinds := f.Method.VerifierLocals
	if op.index >= len(kinds) || kinds[op.index] == vm.Illegal {
		return op.fail(agenterr.InvalidSlot, "slot %d of %v has no verified type", op.index, f)
	}
	if k := kinds[op.index].SlotKind(); k != op.typ.SlotKind() {
		return op.fail(agenterr.TypeMismatch, "slot %d is %s, not %s", op.index, k, op.typ)
	}
	return nil
}

func (op *Op) checkAssignable(signature string) error {
	obj := op.value.Ref
	if obj == nil {
		return nil
	}
	ok, err := op.svc.Resolver.IsAssignable(signature, obj.Class)
	if err != nil {
		return op.fail(agenterr.InvalidClass, "resolving %s: %v", signature, err)
	}
	if !ok {
		return op.fail(agenterr.InvalidClass, "%v is not assignable to %s", obj, signature)
	}
	return nil
}

func (op *Op) read(f *vm.Frame, deferred *vm.DeferredLocals) {
	v, ok := deferred.Get(f, op.index)
	if !ok {
		v = f.Locals[op.index]
	}
	if v.Kind == vm.Illegal {
		v = vm.Value{Kind: op.typ.SlotKind()}
	}
	op.result = v
}

// write stores the value in an interpreted frame directly. Compiled frames
// get a deferred update, installed when their thread resumes.
func (op *Op) write(f *vm.Frame, deferred *vm.DeferredLocals) {
	if f.Kind == vm.Compiled {
		deferred.Set(f, op.index, op.value)
	} else {
		f.Locals[op.index] = op.value
	}
	op.result = op.value
}

// Scheduler runs an operation during a global pause.
type Scheduler interface {
	Execute(op safepoint.Operation) error
}

// Run submits op to s, waits for it to complete and returns its result.
func Run(s Scheduler, op *Op) (vm.Value, error) {
	op.MarkQueued()
	if err := s.Execute(op); err != nil {
		op.state = Completed
		op.err = op.fail(agenterr.Disposed, "%v", err)
	}
	return op.Result()
}
