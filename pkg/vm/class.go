package vm

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ClassID identifies a class across redefinitions.
type ClassID uint64

// MethodID is a stable method identifier. It survives redefinition of the
// declaring class and the unloading of any compiled code of the method.
type MethodID uint64

// Class is a loaded class. After a redefinition the new Class keeps the ID
// of the class it replaces and links to it through Previous, so that
// methods of the old version that are still executing stay reachable.
type Class struct {
	ID         ClassID
	Name       string // binary name, e.g. "com.example.Foo" or "[I"
	Super      *Class
	Interfaces []*Class
	Methods    []*Method
	Previous   *Class
	Version    int

	holders  int32
	unloaded int32
	obsolete int32
}

// Descriptor returns the field descriptor of c, e.g. "Lcom/example/Foo;".
func (c *Class) Descriptor() string {
	if strings.HasPrefix(c.Name, "[") {
		return strings.Replace(c.Name, ".", "/", -1)
	}
	return "L" + strings.Replace(c.Name, ".", "/", -1) + ";"
}

func (c *Class) String() string {
	return c.Name
}

// IsSubclassOf reports whether an instance of c can be assigned to a
// variable of type k, walking superclasses and implemented interfaces.
func (c *Class) IsSubclassOf(k *Class) bool {
	if c == nil || k == nil {
		return false
	}
	if c.ID == k.ID {
		return true
	}
	for _, i := range c.Interfaces {
		if i.IsSubclassOf(k) {
			return true
		}
	}
	return c.Super.IsSubclassOf(k)
}

// Method returns the method of c with the given name and signature.
func (c *Class) Method(name, signature string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Signature == signature {
			return m
		}
	}
	return nil
}

// NewVersion returns an unregistered copy of c carrying the same methods,
// suitable for Redefine. Breakpoints and compiled code are not copied.
func (c *Class) NewVersion() *Class {
	nc := &Class{
		Name:       c.Name,
		Super:      c.Super,
		Interfaces: append([]*Class(nil), c.Interfaces...),
	}
	for _, m := range c.Methods {
		nc.Methods = append(nc.Methods, &Method{
			Class:              nc,
			Name:               m.Name,
			Signature:          m.Signature,
			Static:             m.Static,
			Native:             m.Native,
			MaxLocals:          m.MaxLocals,
			LocalVariableTable: append([]LocalVariable(nil), m.LocalVariableTable...),
			VerifierLocals:     append([]BasicType(nil), m.VerifierLocals...),
		})
	}
	return nc
}

// Holder keeps a class from being unloaded while it is alive.
type Holder struct {
	class    *Class
	released int32
}

// Retain returns a new keep-alive handle for c.
func (c *Class) Retain() *Holder {
	atomic.AddInt32(&c.holders, 1)
	return &Holder{class: c}
}

// Class returns the class held by h.
func (h *Holder) Class() *Class {
	return h.class
}

// Release drops the handle. Releasing twice is a no-op.
func (h *Holder) Release() {
	if h == nil || !atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		return
	}
	atomic.AddInt32(&h.class.holders, -1)
}

// Held reports whether at least one Holder for c is alive.
func (c *Class) Held() bool {
	return atomic.LoadInt32(&c.holders) > 0
}

// Unloaded reports whether c has been unloaded.
func (c *Class) Unloaded() bool {
	return atomic.LoadInt32(&c.unloaded) != 0
}

// Obsolete reports whether c was replaced by a redefinition.
func (c *Class) Obsolete() bool {
	return atomic.LoadInt32(&c.obsolete) != 0
}

// LocalVariable is an entry of a method's local variable table.
type LocalVariable struct {
	Slot      int
	Name      string
	Signature string
	StartBCI  int
	Length    int
}

// Covers reports whether lv is live at bci.
func (lv LocalVariable) Covers(bci int) bool {
	return bci >= lv.StartBCI && bci < lv.StartBCI+lv.Length
}

// Method is a method of a specific class version.
type Method struct {
	ID        MethodID
	Class     *Class
	Name      string
	Signature string
	Static    bool
	Native    bool
	MaxLocals int

	// LocalVariableTable is empty when the class was compiled without
	// debug information. VerifierLocals is used in that case.
	LocalVariableTable []LocalVariable
	// VerifierLocals are the slot kinds inferred by the verifier.
	VerifierLocals []BasicType

	// Interpreter breakpoint table, bci -> arm count. Only modified while
	// the world is paused.
	breakpoints map[int]int

	codeMu sync.Mutex
	code   []*Code
}

// QualifiedName returns "Class.name(signature)".
func (m *Method) QualifiedName() string {
	return fmt.Sprintf("%s.%s%s", m.Class.Name, m.Name, m.Signature)
}

func (m *Method) String() string {
	return m.QualifiedName()
}

// HasLocalVariableTable reports whether m carries debug information for
// its locals.
func (m *Method) HasLocalVariableTable() bool {
	return len(m.LocalVariableTable) > 0
}

// LocalAt returns the local variable table entry for slot live at bci.
func (m *Method) LocalAt(slot, bci int) (LocalVariable, bool) {
	for _, lv := range m.LocalVariableTable {
		if lv.Slot == slot && lv.Covers(bci) {
			return lv, true
		}
	}
	return LocalVariable{}, false
}

// Obsolete reports whether m belongs to a class version that was replaced
// by a redefinition.
func (m *Method) Obsolete() bool {
	return m.Class.Obsolete()
}

// Versions returns m followed by the method with the same name and
// signature in every previous version of its class.
func (m *Method) Versions() []*Method {
	versions := []*Method{m}
	for c := m.Class.Previous; c != nil; c = c.Previous {
		if old := c.Method(m.Name, m.Signature); old != nil {
			versions = append(versions, old)
		}
	}
	return versions
}

// SetBreakpoint arms bci in the interpreter breakpoint table of m and in
// every compiled code of m. Must be called with the world paused.
func (m *Method) SetBreakpoint(bci int) {
	if m.breakpoints == nil {
		m.breakpoints = make(map[int]int)
	}
	m.breakpoints[bci]++
	for _, c := range m.Code() {
		c.patch(bci, true)
	}
}

// ClearBreakpoint disarms one SetBreakpoint of bci. Must be called with the
// world paused.
func (m *Method) ClearBreakpoint(bci int) {
	n, ok := m.breakpoints[bci]
	if !ok {
		return
	}
	if n > 1 {
		m.breakpoints[bci] = n - 1
		return
	}
	delete(m.breakpoints, bci)
	for _, c := range m.Code() {
		c.patch(bci, false)
	}
}

// HasBreakpoint reports whether the interpreter would stop at bci.
func (m *Method) HasBreakpoint(bci int) bool {
	return m.breakpoints[bci] > 0
}

// BreakpointCount returns the number of armed bytecode offsets of m.
func (m *Method) BreakpointCount() int {
	return len(m.breakpoints)
}

// Code returns the compiled code currently installed for m.
func (m *Method) Code() []*Code {
	m.codeMu.Lock()
	defer m.codeMu.Unlock()
	r := make([]*Code, len(m.code))
	copy(r, m.code)
	return r
}

// addCode records c as installed code of m and patches every armed bci
// into it.
func (m *Method) addCode(c *Code) {
	m.codeMu.Lock()
	m.code = append(m.code, c)
	m.codeMu.Unlock()
	for bci := range m.breakpoints {
		c.patch(bci, true)
	}
}

func (m *Method) removeCode(c *Code) {
	m.codeMu.Lock()
	defer m.codeMu.Unlock()
	for i := range m.code {
		if m.code[i] == c {
			m.code = append(m.code[:i], m.code[i+1:]...)
			return
		}
	}
}
