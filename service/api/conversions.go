package api

import (
	"fmt"

	"github.com/vmagent/vmagent/pkg/breakpoint"
	"github.com/vmagent/vmagent/pkg/events"
	"github.com/vmagent/vmagent/pkg/vm"
)

// ConvertBreakpoint converts a registry breakpoint to an API Breakpoint.
func ConvertBreakpoint(id int, bp *breakpoint.Breakpoint) Breakpoint {
	return Breakpoint{
		ID:           id,
		Method:       bp.Method().QualifiedName(),
		BCI:          bp.BCI(),
		ClassVersion: bp.Method().Class.Version,
	}
}

// ConvertThread converts a platform thread to an API Thread.
func ConvertThread(t *vm.Thread) Thread {
	r := Thread{
		ID:        int64(t.ID),
		Name:      t.Name,
		Suspended: t.Suspended(),
		Top:       topLocation(t.OwnFrames()),
	}
	if vt := t.Mounted(); vt != nil {
		r.Mounted = int64(vt.ID)
	}
	return r
}

// ConvertVirtualThread converts a virtual thread to an API Thread.
func ConvertVirtualThread(vt *vm.VirtualThread) Thread {
	r := Thread{
		ID:        int64(vt.ID),
		Name:      vt.Name,
		Virtual:   true,
		Suspended: vt.Suspended(),
		Top:       topLocation(vt.Frames()),
	}
	if c := vt.Carrier(); c != nil {
		r.Carrier = int64(c.ID)
	}
	return r
}

func topLocation(frames []*vm.Frame) *Location {
	if len(frames) == 0 {
		return nil
	}
	loc := ConvertLocation(frames[0])
	return &loc
}

// ConvertLocation returns the location of f.
func ConvertLocation(f *vm.Frame) Location {
	return Location{Method: f.Method.QualifiedName(), BCI: f.BCI, Kind: f.Kind.String()}
}

// ConvertFrame converts f, the frame at depth, listing the locals visible
// at its bytecode offset. Pending updates of compiled frames recorded in
// deferred take precedence over the frame's own values.
func ConvertFrame(depth int, f *vm.Frame, deferred *vm.DeferredLocals) Stackframe {
	sf := Stackframe{Location: ConvertLocation(f), Depth: depth, Deoptimized: f.Deoptimized}
	m := f.Method

	if f.Kind == vm.NativeWrapper || m.Native {
		if f.Receiver != nil {
			sf.Locals = append(sf.Locals, Variable{Name: "this", Slot: -1, Type: m.Class.Descriptor(), Value: f.Receiver.String()})
		}
		return sf
	}

	value := func(slot int) (string, bool) {
		if v, ok := deferred.Get(f, slot); ok {
			return ConvertValue(v), true
		}
		if slot < len(f.Locals) {
			return ConvertValue(f.Locals[slot]), false
		}
		return ConvertValue(vm.Value{}), false
	}

	if m.HasLocalVariableTable() {
		for _, lv := range m.LocalVariableTable {
			if !lv.Covers(f.BCI) {
				continue
			}
			v, pending := value(lv.Slot)
			sf.Locals = append(sf.Locals, Variable{Name: lv.Name, Slot: lv.Slot, Type: lv.Signature, Value: v, Pending: pending})
		}
		return sf
	}
	for slot, k := range m.VerifierLocals {
		if k == vm.Illegal {
			continue
		}
		v, pending := value(slot)
		sf.Locals = append(sf.Locals, Variable{Name: fmt.Sprintf("slot%d", slot), Slot: slot, Type: k.String(), Value: v, Pending: pending})
	}
	return sf
}

// ConvertValue returns the printed form of v.
func ConvertValue(v vm.Value) string {
	return v.String()
}

// ConvertEvent converts ev, posted to env, to an API Event.
func ConvertEvent(env *events.Env, ev events.Event) Event {
	r := Event{Env: env.Name, Kind: ev.Kind().String()}
	switch ev := ev.(type) {
	case events.CompiledMethodLoadEvent:
		r.Method = ev.Code.Method.QualifiedName()
		r.MethodID = uint64(ev.Code.MethodID)
		r.Begin, r.End = uint64(ev.Code.Begin), uint64(ev.Code.End)
	case events.CompiledMethodUnloadEvent:
		r.MethodID = uint64(ev.MethodID)
		r.Begin = uint64(ev.CodeBegin)
	case events.DynamicCodeGeneratedEvent:
		r.Name = ev.Name
		r.Begin, r.End = uint64(ev.Begin), uint64(ev.End)
	case events.ClassUnloadEvent:
		r.Name = ev.Name
	}
	return r
}

// ConvertEnv converts an agent environment to an API Env.
func ConvertEnv(env *events.Env) Env {
	r := Env{ID: env.ID.String(), Name: env.Name, Enabled: []string{}}
	for _, k := range events.Kinds() {
		if env.Enabled(k) {
			r.Enabled = append(r.Enabled, k.String())
		}
	}
	return r
}

// SlotType returns the basic type to access v with. Type is either a field
// descriptor or, for methods without a local variable table, the name of
// the verifier kind.
func (v *Variable) SlotType() vm.BasicType {
	if t, err := vm.ParseBasicType(v.Type); err == nil {
		return t
	}
	return vm.BasicTypeOf(v.Type)
}
