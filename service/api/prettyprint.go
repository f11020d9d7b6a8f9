package api

import (
	"fmt"
	"io"
	"text/tabwriter"
)

const (
	// string used for one indentation level
	indentString = "\t"
)

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("%s@%d", bp.Method, bp.BCI)
}

func (loc *Location) String() string {
	return fmt.Sprintf("%s@%d (%s)", loc.Method, loc.BCI, loc.Kind)
}

func (t *Thread) String() string {
	kind := "thread"
	if t.Virtual {
		kind = "virtual thread"
	}
	s := fmt.Sprintf("%s %d %q", kind, t.ID, t.Name)
	switch {
	case t.Carrier != 0:
		s += fmt.Sprintf(" on %d", t.Carrier)
	case t.Mounted != 0:
		s += fmt.Sprintf(" carrying %d", t.Mounted)
	}
	if t.Suspended {
		s += " (suspended)"
	}
	if t.Top != nil {
		s += " at " + t.Top.String()
	}
	return s
}

// SinglelineString returns a representation of v on a single line.
func (v *Variable) SinglelineString() string {
	s := fmt.Sprintf("%s %s = %s", v.Type, v.Name, v.Value)
	if v.Pending {
		s += " (pending)"
	}
	return s
}

// PrintStack writes frames to w, one frame per line, optionally followed
// by their local variables.
func PrintStack(w io.Writer, frames []Stackframe, withLocals bool) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for _, f := range frames {
		fmt.Fprintf(tw, "%d\t%s\t@%d\t(%s)", f.Depth, f.Method, f.BCI, f.Kind)
		if f.Deoptimized {
			fmt.Fprint(tw, " deoptimized")
		}
		fmt.Fprintln(tw)
		if !withLocals {
			continue
		}
		for i := range f.Locals {
			fmt.Fprintf(tw, "%s%d: %s\n", indentString, f.Locals[i].Slot, f.Locals[i].SinglelineString())
		}
	}
	tw.Flush()
}

func (ev *Event) String() string {
	switch ev.Kind {
	case "compiled-method-load":
		return fmt.Sprintf("%s: %s %s [%#x, %#x)", ev.Env, ev.Kind, ev.Method, ev.Begin, ev.End)
	case "compiled-method-unload":
		return fmt.Sprintf("%s: %s method %d at %#x", ev.Env, ev.Kind, ev.MethodID, ev.Begin)
	case "dynamic-code-generated":
		return fmt.Sprintf("%s: %s %s [%#x, %#x)", ev.Env, ev.Kind, ev.Name, ev.Begin, ev.End)
	}
	return fmt.Sprintf("%s: %s %s", ev.Env, ev.Kind, ev.Name)
}
