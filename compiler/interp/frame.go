package interp

import (
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	LocalState int

	// LocalValue is a local variable slot.
	// A live local holds either an immediate or the stack allocation it was spilled to.
	LocalValue struct {
		State LocalState
		Imm   *Immediate
		Alloc AllocID
	}

	FrameState int

	// StackPopCleanup tells where the caller continues after the frame is popped.
	// Nil Target means the call must not return.
	StackPopCleanup struct {
		Target *ir.BlockID
		Unwind *ir.BlockID
	}

	Frame struct {
		Func   *ir.Func
		Locals []LocalValue

		Block ir.BlockID
		Stmt  int

		// ReturnPlace is where the return value goes, nil to discard it.
		ReturnPlace *Place
		Cleanup     StackPopCleanup

		State FrameState

		allocs []AllocID
	}
)

const (
	LocalDead LocalState = iota
	LocalUninit
	LocalLive
)

const (
	FrameExecuting FrameState = iota
	FrameReturning
	FrameUnwinding
	FramePopped
)

func (s LocalState) String() string {
	switch s {
	case LocalDead:
		return "dead"
	case LocalUninit:
		return "uninit"
	case LocalLive:
		return "live"
	default:
		return "unknown"
	}
}

func (s FrameState) String() string {
	switch s {
	case FrameExecuting:
		return "executing"
	case FrameReturning:
		return "returning"
	case FrameUnwinding:
		return "unwinding"
	case FramePopped:
		return "popped"
	default:
		return "unknown"
	}
}

// PushFrame starts executing f with args.
func (m *Interp) PushFrame(f *ir.Func, args []Operand, ret *Place, cleanup StackPopCleanup) error {
	if len(args) != f.ArgCount() {
		return newError(ArgumentCountMismatch, "%v takes %d arguments, got %d", f.Name, f.ArgCount(), len(args))
	}

	for i, a := range args {
		if !tp.Equal(a.Type, f.Params[i]) {
			return newError(ArgumentTypeMismatch, "%v argument %d: expected %v, got %v", f.Name, i, f.Params[i], a.Type)
		}
	}

	if d := m.Config.MaxStackDepth; d != 0 && len(m.stack) >= d {
		return newError(StackOverflow, "call of %v at depth %d", f.Name, len(m.stack))
	}

	if len(f.Locals) < f.ArgCount()+1 {
		return newError(InvalidProgram, "%v has %d locals for %d arguments", f.Name, len(f.Locals), f.ArgCount())
	}

	if m.Config.Validation.Edges() {
		for i, a := range args {
			if err := m.Validate(a); err != nil {
				return withMsg(err, "argument %d of %v", i, f.Name)
			}
		}
	}

	fr := &Frame{
		Func:        f,
		Locals:      make([]LocalValue, len(f.Locals)),
		ReturnPlace: ret,
		Cleanup:     cleanup,
	}

	for i := range fr.Locals {
		fr.Locals[i].State = LocalUninit
	}

	m.stack = append(m.stack, fr)
	fi := len(m.stack) - 1

	for i, a := range args {
		pl, err := m.localPlace(fi, ir.Local(i+1))
		if err != nil {
			return err
		}

		err = m.WriteOperand(pl, a)
		if err != nil {
			return err
		}
	}

	tlog.V("frame").Printw("push frame", "func", f.Name, "depth", len(m.stack), "from", loc.Caller(1))

	return nil
}

// PopFrame finishes the current frame.
// Normal return writes the return value to the caller, unwinding continues at the caller's cleanup block
// or pops the caller as well if it has none.
func (m *Interp) PopFrame(unwinding bool) (err error) {
	fi := len(m.stack) - 1
	fr := m.stack[fi]

	if unwinding {
		fr.State = FrameUnwinding
	} else {
		fr.State = FrameReturning

		err = m.returnValue(fi, fr)
		if err != nil {
			return err
		}
	}

	for _, id := range fr.allocs {
		if err = m.Mem.Deallocate(id, KindStack); err != nil {
			return err
		}
	}

	fr.allocs = nil
	fr.State = FramePopped
	m.stack = m.stack[:fi]

	tlog.V("frame").Printw("pop frame", "func", fr.Func.Name, "unwinding", unwinding, "depth", len(m.stack), "from", loc.Caller(1))

	if len(m.stack) == 0 {
		if unwinding {
			return m.panicError()
		}

		return nil
	}

	caller := m.stack[fi-1]

	if unwinding {
		if fr.Cleanup.Unwind == nil {
			return m.PopFrame(true)
		}

		caller.Block, caller.Stmt = *fr.Cleanup.Unwind, 0

		return nil
	}

	if fr.Cleanup.Target == nil {
		return newError(ReachedUnreachable, "%v returned from a call that must not return", fr.Func.Name)
	}

	caller.Block, caller.Stmt = *fr.Cleanup.Target, 0

	return nil
}

func (m *Interp) returnValue(fi int, fr *Frame) error {
	op, err := m.localOperand(fi, ir.ReturnLocal)
	if err != nil {
		return err
	}

	if m.Config.Validation.Edges() {
		if err := m.Validate(op); err != nil {
			return withMsg(err, "return value of %v", fr.Func.Name)
		}
	}

	if fr.ReturnPlace == nil {
		return nil
	}

	return m.WriteOperand(*fr.ReturnPlace, op)
}

func (m *Interp) storageLive(fr *Frame, l ir.Local) error {
	if err := m.storageDead(fr, l); err != nil {
		return err
	}

	fr.Locals[l].State = LocalUninit

	return nil
}

func (m *Interp) storageDead(fr *Frame, l ir.Local) error {
	if l < 0 || int(l) >= len(fr.Locals) {
		return newError(InvalidProgram, "local _%d out of range", l)
	}

	lv := &fr.Locals[l]

	if lv.Alloc != 0 {
		if err := m.Mem.Deallocate(lv.Alloc, KindStack); err != nil {
			return err
		}

		for i, id := range fr.allocs {
			if id == lv.Alloc {
				fr.allocs = append(fr.allocs[:i], fr.allocs[i+1:]...)
				break
			}
		}
	}

	*lv = LocalValue{State: LocalDead}

	return nil
}

// Frame returns the i-th frame from the bottom of the stack.
func (m *Interp) Frame(i int) *Frame {
	if i < 0 || i >= len(m.stack) {
		return nil
	}

	return m.stack[i]
}

func (m *Interp) Depth() int { return len(m.stack) }

// LocalValue reads local l of frame fi. Frame 0 is the outermost one.
func (m *Interp) LocalValue(fi int, l ir.Local) (Operand, error) {
	if m.Frame(fi) == nil {
		return Operand{}, newError(InvalidProgram, "no frame %d", fi)
	}

	return m.localOperand(fi, l)
}

// SetLocal writes op to local l of frame fi making it live.
func (m *Interp) SetLocal(fi int, l ir.Local, op Operand) error {
	if m.Frame(fi) == nil {
		return newError(InvalidProgram, "no frame %d", fi)
	}

	pl, err := m.localPlace(fi, l)
	if err != nil {
		return err
	}

	return m.WriteOperand(pl, op)
}
