package interp

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

func (m *Interp) terminator(ctx context.Context, fr *Frame, blk *ir.Block) error {
	switch t := blk.Term.(type) {
	case ir.Goto:
		fr.Block, fr.Stmt = t.Target, 0
	case ir.SwitchInt:
		return m.switchInt(ctx, fr, t)
	case ir.Call:
		return m.call(ctx, fr, t)
	case ir.Return:
		return m.PopFrame(false)
	case ir.Resume:
		if !blk.Cleanup {
			return newError(InvalidProgram, "resume outside of cleanup block")
		}

		return m.PopFrame(true)
	case ir.Abort:
		return newError(Aborted, "abort")
	case ir.Unreachable:
		return newError(ReachedUnreachable, "unreachable")
	default:
		return newError(InvalidProgram, "unsupported terminator: %T", t)
	}

	return nil
}

func (m *Interp) switchInt(ctx context.Context, fr *Frame, t ir.SwitchInt) error {
	if len(t.Values) != len(t.Targets) {
		return newError(InvalidProgram, "switch has %d values and %d targets", len(t.Values), len(t.Targets))
	}

	op, err := m.EvalOperand(ctx, t.Discr)
	if err != nil {
		return err
	}

	s, err := m.ReadScalar(op)
	if err != nil {
		return err
	}

	if s.Ptr != nil && !m.Config.AllowPtrToInt {
		return newError(PointerToIntCast, "switch on a pointer")
	}

	target := t.Otherwise

	for i, v := range t.Values {
		c := ScalarBits(&v.V, s.Size)

		if c.Bits.Eq(&s.Bits) {
			target = t.Targets[i]
			break
		}
	}

	fr.Block, fr.Stmt = target, 0

	return nil
}

func (m *Interp) call(ctx context.Context, fr *Frame, t ir.Call) (err error) {
	name, err := m.callee(ctx, t.Func)
	if err != nil {
		return err
	}

	args := make([]Operand, len(t.Args))

	for i, a := range t.Args {
		args[i], err = m.EvalOperand(ctx, a)
		if err != nil {
			return withMsg(err, "argument %d", i)
		}
	}

	var dst *Place

	if t.Dest != nil {
		pl, err := m.EvalPlace(*t.Dest, false)
		if err != nil {
			return err
		}

		dst = &pl
	}

	if f := m.Prog.Func(name); f != nil {
		return m.PushFrame(f, args, dst, StackPopCleanup{Target: t.Target, Unwind: t.Unwind})
	}

	in := m.Intrinsics[name]
	if in == nil {
		return newError(InvalidProgram, "no function %v", name)
	}

	var ret tp.Type = tp.Unit
	if dst != nil {
		ret = dst.Type
	}

	res, err := m.callIntrinsic(ctx, in, args, ret)
	if IsKind(err, Panic) {
		return m.unwind(fr, t, err)
	}

	if err != nil {
		return err
	}

	if dst != nil {
		if err = m.WriteOperand(*dst, res); err != nil {
			return err
		}
	}

	if t.Target == nil {
		return newError(ReachedUnreachable, "%v returned from a call that must not return", name)
	}

	fr.Block, fr.Stmt = *t.Target, 0

	return nil
}

// callee resolves the called function name.
func (m *Interp) callee(ctx context.Context, f ir.Operand) (string, error) {
	if c, ok := f.(ir.Constant); ok {
		if r, ok := c.Value.(ir.FnRef); ok {
			return r.Name, nil
		}
	}

	op, err := m.EvalOperand(ctx, f)
	if err != nil {
		return "", err
	}

	if _, ok := tp.Underlying(op.Type).(tp.FnPtr); !ok {
		return "", newError(InvalidFunctionPointer, "call of %v", op.Type)
	}

	s, err := m.ReadScalar(op)
	if err != nil {
		return "", err
	}

	return m.Mem.FnName(s)
}

// unwind starts unwinding the current frame after a panic.
func (m *Interp) unwind(fr *Frame, t ir.Call, err error) error {
	var e *Error
	errors.As(err, &e)

	m.unwinding = m.locate(e, fr, fr.Block, -1, t.Span).(*Error)

	tlog.V("unwind").Printw("panic", "func", fr.Func.Name, "bb", fr.Block, "msg", e.Msg, "from", loc.Caller(1))

	if t.Unwind != nil {
		fr.Block, fr.Stmt = *t.Unwind, 0
		return nil
	}

	return m.PopFrame(true)
}
