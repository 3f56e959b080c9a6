package ir

type (
	Terminator interface {
		Pos() Span
		Successors() []BlockID
	}

	Goto struct {
		Span

		Target BlockID
	}

	SwitchInt struct {
		Span

		Discr     Operand
		Values    []Int
		Targets   []BlockID
		Otherwise BlockID
	}

	// Call transfers control to Func. Target nil means the call never returns.
	// Unwind is the cleanup block taken if the callee panics.
	Call struct {
		Span

		Func   Operand
		Args   []Operand
		Dest   *Place
		Target *BlockID
		Unwind *BlockID
	}

	Return struct {
		Span
	}

	// Resume continues unwinding out of a cleanup block.
	Resume struct {
		Span
	}

	Abort struct {
		Span
	}

	Unreachable struct {
		Span
	}
)

func (t Goto) Successors() []BlockID { return []BlockID{t.Target} }

func (t SwitchInt) Successors() []BlockID {
	l := make([]BlockID, 0, len(t.Targets)+1)
	l = append(l, t.Targets...)

	return append(l, t.Otherwise)
}

func (t Call) Successors() []BlockID {
	var l []BlockID

	if t.Target != nil {
		l = append(l, *t.Target)
	}

	if t.Unwind != nil {
		l = append(l, *t.Unwind)
	}

	return l
}

func (Return) Successors() []BlockID      { return nil }
func (Resume) Successors() []BlockID      { return nil }
func (Abort) Successors() []BlockID       { return nil }
func (Unreachable) Successors() []BlockID { return nil }
