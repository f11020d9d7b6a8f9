package vm

import (
	"errors"
	"fmt"
)

// Deoptimizer turns an optimized frame into one whose slots are plain
// addressable values.
type Deoptimizer interface {
	// Materialize reallocates every object the optimizer removed from f and
	// marks f to continue in the interpreter. It is a no-op for frames that
	// are not compiled.
	Materialize(f *Frame) error
}

// ErrMaterializationFailed is returned when the eliminated objects of a
// frame could not be reallocated.
var ErrMaterializationFailed = errors.New("could not reallocate scalar replaced objects")

// EscapeBarrier is the Deoptimizer of a Runtime.
type EscapeBarrier struct {
	rt *Runtime
}

// NewEscapeBarrier returns a deoptimizer that allocates from rt.
func NewEscapeBarrier(rt *Runtime) *EscapeBarrier {
	return &EscapeBarrier{rt: rt}
}

// Materialize implements Deoptimizer.
func (eb *EscapeBarrier) Materialize(f *Frame) error {
	if f.Kind != Compiled {
		return nil
	}
	if f.Unmaterializable {
		return fmt.Errorf("%v: %w", f, ErrMaterializationFailed)
	}
	for _, sr := range f.ScalarReplaced {
		if sr.Slot < 0 || sr.Slot >= len(f.Locals) {
			return fmt.Errorf("%v: eliminated object in slot %d: %w", f, sr.Slot, ErrMaterializationFailed)
		}
		obj := eb.rt.NewInstance(sr.Class)
		for name, v := range sr.Fields {
			obj.Fields[name] = v
		}
		f.Locals[sr.Slot] = ObjectValue(obj)
	}
	f.ScalarReplaced = nil
	f.Deoptimized = true
	return nil
}

// NeedsMaterialization reports whether f holds objects that only exist in
// scalar replaced form.
func NeedsMaterialization(f *Frame) bool {
	return f.Kind == Compiled && (len(f.ScalarReplaced) > 0 || f.Unmaterializable)
}
