// Package events implements deferred agent events: events produced by
// threads that must not call agent callbacks themselves, queued and later
// posted by the service thread.
package events

import (
	"fmt"

	"github.com/vmagent/vmagent/pkg/vm"
)

// Kind is the kind of a deferred event.
type Kind uint8

const (
	CompiledMethodLoad Kind = iota
	CompiledMethodUnload
	DynamicCodeGenerated
	ClassUnload

	numKinds
)

var kindNames = [...]string{
	CompiledMethodLoad:   "compiled-method-load",
	CompiledMethodUnload: "compiled-method-unload",
	DynamicCodeGenerated: "dynamic-code-generated",
	ClassUnload:          "class-unload",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses the name of a kind as printed by String.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Kinds returns every event kind.
func Kinds() []Kind {
	return []Kind{CompiledMethodLoad, CompiledMethodUnload, DynamicCodeGenerated, ClassUnload}
}

// Event is one of CompiledMethodLoadEvent, CompiledMethodUnloadEvent,
// DynamicCodeGeneratedEvent and ClassUnloadEvent.
type Event interface {
	Kind() Kind
	String() string
	event()
}

// CompiledMethodLoadEvent holds a live reference to the code. While it is
// queued the code is a root for the code cache sweeper.
type CompiledMethodLoadEvent struct {
	Code *vm.Code
}

// CompiledMethodUnloadEvent only carries a snapshot of the identity of the
// code, which may be gone by the time the event is posted.
type CompiledMethodUnloadEvent struct {
	MethodID  vm.MethodID
	CodeBegin uintptr
}

type DynamicCodeGeneratedEvent struct {
	Name  string
	Begin uintptr
	End   uintptr
}

type ClassUnloadEvent struct {
	Name string
}

// NewCompiledMethodLoad returns a load event for code.
func NewCompiledMethodLoad(code *vm.Code) Event {
	if code == nil {
		panic("events: nil code")
	}
	return CompiledMethodLoadEvent{Code: code}
}

// NewCompiledMethodUnload returns an unload event for the code of method
// id that started at begin.
func NewCompiledMethodUnload(id vm.MethodID, begin uintptr) Event {
	return CompiledMethodUnloadEvent{MethodID: id, CodeBegin: begin}
}

// NewCompiledMethodUnloadOf captures the identity of code, which is about
// to be reclaimed.
func NewCompiledMethodUnloadOf(code *vm.Code) Event {
	return NewCompiledMethodUnload(code.MethodID, code.Begin)
}

// NewDynamicCodeGenerated returns an event for a stub named name occupying
// [begin, end).
func NewDynamicCodeGenerated(name string, begin, end uintptr) Event {
	return DynamicCodeGeneratedEvent{Name: name, Begin: begin, End: end}
}

// NewClassUnload returns an event for the unloading of the class name.
func NewClassUnload(name string) Event {
	return ClassUnloadEvent{Name: name}
}

func (CompiledMethodLoadEvent) Kind() Kind   { return CompiledMethodLoad }
func (CompiledMethodUnloadEvent) Kind() Kind { return CompiledMethodUnload }
func (DynamicCodeGeneratedEvent) Kind() Kind { return DynamicCodeGenerated }
func (ClassUnloadEvent) Kind() Kind          { return ClassUnload }

func (CompiledMethodLoadEvent) event()   {}
func (CompiledMethodUnloadEvent) event() {}
func (DynamicCodeGeneratedEvent) event() {}
func (ClassUnloadEvent) event()          {}

func (e CompiledMethodLoadEvent) String() string {
	return fmt.Sprintf("%v %v", e.Kind(), e.Code)
}

func (e CompiledMethodUnloadEvent) String() string {
	return fmt.Sprintf("%v method %d at %#x", e.Kind(), e.MethodID, e.CodeBegin)
}

func (e DynamicCodeGeneratedEvent) String() string {
	return fmt.Sprintf("%v %s [%#x, %#x)", e.Kind(), e.Name, e.Begin, e.End)
}

func (e ClassUnloadEvent) String() string {
	return fmt.Sprintf("%v %s", e.Kind(), e.Name)
}
