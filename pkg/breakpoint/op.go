package breakpoint

// Mode selects what a ChangeOp does.
type Mode uint8

const (
	ModeSet Mode = iota
	ModeClear
)

func (m Mode) String() string {
	if m == ModeClear {
		return "clear"
	}
	return "set"
}

// ChangeOp is a global pause operation applying one Set or Clear to a
// registry. Status and Err are filled in by Doit.
type ChangeOp struct {
	Registry   *Registry
	Mode       Mode
	Breakpoint *Breakpoint

	Status Status
	Err    error
}

// NewSetOp returns an operation adding bp to r.
func NewSetOp(r *Registry, bp *Breakpoint) *ChangeOp {
	return &ChangeOp{Registry: r, Mode: ModeSet, Breakpoint: bp}
}

// NewClearOp returns an operation removing bp from r.
func NewClearOp(r *Registry, bp *Breakpoint) *ChangeOp {
	return &ChangeOp{Registry: r, Mode: ModeClear, Breakpoint: bp}
}

func (op *ChangeOp) Name() string {
	return op.Mode.String() + " breakpoint " + op.Breakpoint.String()
}

func (op *ChangeOp) Doit() {
	switch op.Mode {
	case ModeSet:
		op.Status = op.Registry.Set(op.Breakpoint)
	case ModeClear:
		op.Err = op.Registry.Clear(op.Breakpoint)
		if op.Err == nil {
			op.Status = Changed
		}
	}
}
