package api

// Breakpoint is a breakpoint of the agent's registry.
type Breakpoint struct {
	// ID is the position of the breakpoint in the registry, starting at 1.
	ID int `json:"id"`
	// Method is the qualified name of the method, e.g.
	// "com.example.Foo.bar(I)V".
	Method string `json:"method"`
	// BCI is the bytecode offset within Method.
	BCI int `json:"bci"`
	// ClassVersion is the version of the declaring class the breakpoint was
	// set on.
	ClassVersion int `json:"classVersion"`
}

// Thread is a platform or virtual thread of the runtime.
type Thread struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Virtual   bool   `json:"virtual,omitempty"`
	Suspended bool   `json:"suspended"`
	// Carrier is the thread a mounted virtual thread runs on.
	Carrier int64 `json:"carrier,omitempty"`
	// Mounted is the virtual thread a carrier thread is running.
	Mounted int64 `json:"mounted,omitempty"`
	// Top is the location of the topmost frame, may be nil.
	Top *Location `json:"top,omitempty"`
}

// Location is a position in a method.
type Location struct {
	Method string `json:"method"`
	BCI    int    `json:"bci"`
	// Kind is one of "interpreted", "compiled" or "native".
	Kind string `json:"kind"`
}

// Stackframe is a frame of a thread with its local variables.
type Stackframe struct {
	Location
	Depth  int        `json:"depth"`
	Locals []Variable `json:"locals,omitempty"`
	// Deoptimized frames resume in the interpreter.
	Deoptimized bool `json:"deoptimized,omitempty"`
}

// Var returns the local variable called name.
func (frame *Stackframe) Var(name string) *Variable {
	for i := range frame.Locals {
		if frame.Locals[i].Name == name {
			return &frame.Locals[i]
		}
	}
	return nil
}

// Variable is a local variable slot.
type Variable struct {
	Name  string `json:"name"`
	Slot  int    `json:"slot"`
	Type  string `json:"type"`
	Value string `json:"value"`
	// Pending is true if the value was written into a compiled frame and
	// will be installed when the thread resumes.
	Pending bool `json:"pending,omitempty"`
}

// Event is a deferred event posted to an agent environment.
type Event struct {
	// Env is the name of the environment the event was posted to.
	Env  string `json:"env"`
	Kind string `json:"kind"`
	// Method and MethodID are set for compiled method events.
	Method   string `json:"method,omitempty"`
	MethodID uint64 `json:"methodId,omitempty"`
	// Name is the stub name of dynamic code events and the class name of
	// class unload events.
	Name  string `json:"name,omitempty"`
	Begin uint64 `json:"begin,omitempty"`
	End   uint64 `json:"end,omitempty"`
}

// Env describes an agent environment.
type Env struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled []string `json:"enabled"`
}
