package interp

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

// Step executes one statement or terminator of the current frame.
// done is true when the outermost frame has returned.
func (m *Interp) Step(ctx context.Context) (done bool, err error) {
	if len(m.stack) == 0 {
		return true, nil
	}

	fr := m.stack[len(m.stack)-1]
	bb := fr.Block

	if err := ctx.Err(); err != nil {
		return false, m.locate(wrapError(Canceled, err, "after %d steps", m.steps), fr, bb, fr.Stmt, ir.Span{})
	}

	m.steps++

	if m.Config.StepLimit > 0 && m.steps > m.Config.StepLimit {
		return false, m.locate(newError(StepLimitExceeded, "limit %d", m.Config.StepLimit), fr, bb, fr.Stmt, ir.Span{})
	}

	blk := fr.Func.Block(bb)
	if blk == nil {
		return false, m.locate(newError(InvalidProgram, "no block bb%d", bb), fr, bb, -1, ir.Span{})
	}

	if i := fr.Stmt; i < len(blk.Stmts) {
		s := blk.Stmts[i]

		if tr := tlog.SpanFromContext(ctx); tr.If("step") {
			tr.Printw("stmt", "func", fr.Func.Name, "bb", bb, "stmt", i, "type", tlog.NextAsType, s)
		}

		err = m.stmt(ctx, fr, s)
		if err != nil {
			return false, m.locate(err, fr, bb, i, s.Pos())
		}

		fr.Stmt++

		return false, nil
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("step") {
		tr.Printw("term", "func", fr.Func.Name, "bb", bb, "type", tlog.NextAsType, blk.Term)
	}

	err = m.terminator(ctx, fr, blk)
	if err != nil {
		return false, m.locate(err, fr, bb, -1, blk.Term.Pos())
	}

	return len(m.stack) == 0, nil
}

func (m *Interp) stmt(ctx context.Context, fr *Frame, s ir.Stmt) (err error) {
	switch s := s.(type) {
	case ir.Assign:
		return m.assign(ctx, s)
	case ir.StorageLive:
		return m.storageLive(fr, s.Local)
	case ir.StorageDead:
		return m.storageDead(fr, s.Local)
	case ir.SetDiscriminant:
		pl, err := m.EvalPlace(s.Place, true)
		if err != nil {
			return err
		}

		e, ok := tp.Underlying(pl.Type).(tp.Enum)
		if !ok {
			return newError(LayoutError, "set discriminant of non-enum %v", pl.Type)
		}

		vi := e.VariantIndex(s.Variant)
		if vi < 0 {
			return newError(LayoutError, "unknown variant %v of %v", s.Variant, pl.Type)
		}

		return m.writeTag(pl, vi)
	case ir.Assert:
		return m.assert(ctx, s)
	case ir.Nop:
		return nil
	default:
		return newError(InvalidProgram, "unsupported statement: %T", s)
	}
}

func (m *Interp) assert(ctx context.Context, s ir.Assert) error {
	op, err := m.EvalOperand(ctx, s.Cond)
	if err != nil {
		return err
	}

	v, err := m.readBool(op)
	if err != nil {
		return err
	}

	if v == s.Expected {
		return nil
	}

	k := Panic

	switch s.Kind {
	case ir.AssertOverflow:
		k = Overflow
	case ir.AssertBounds:
		k = BoundsCheckFailed
	case ir.AssertDivByZero:
		k = DivisionByZero
	case ir.AssertRemByZero:
		k = RemainderByZero
	}

	msg := s.Msg
	if msg == "" {
		msg = "assertion failed: " + s.Kind.String()
	}

	return newError(k, "%s", msg)
}

func (m *Interp) assign(ctx context.Context, s ir.Assign) error {
	pl, err := m.EvalPlace(s.Place, false)
	if err != nil {
		return err
	}

	err = m.evalRvalue(ctx, s.Rvalue, pl)
	if err != nil {
		return err
	}

	if m.Config.Validation.Assignments() {
		op, err := m.PlaceToOp(pl)
		if err != nil {
			return err
		}

		return m.Validate(op)
	}

	return nil
}

// evalRvalue evaluates rv and stores the result into dst.
func (m *Interp) evalRvalue(ctx context.Context, rv ir.Rvalue, dst Place) (err error) {
	var res Operand

	switch rv := rv.(type) {
	case ir.Use:
		res, err = m.EvalOperand(ctx, rv.X)
	case ir.BinaryOp:
		l, r, err := m.operandPair(ctx, rv.L, rv.R)
		if err != nil {
			return err
		}

		res, _, err = m.BinaryOp(rv.Op, l, r, false)
		if err != nil {
			return err
		}
	case ir.CheckedBinaryOp:
		l, r, err := m.operandPair(ctx, rv.L, rv.R)
		if err != nil {
			return err
		}

		res, err = m.CheckedBinaryOp(rv.Op, l, r)
		if err != nil {
			return err
		}
	case ir.UnaryOp:
		x, err := m.EvalOperand(ctx, rv.X)
		if err != nil {
			return err
		}

		res, err = m.UnaryOp(rv.Op, x)
		if err != nil {
			return err
		}
	case ir.Ref:
		res, err = m.addressOf(rv.Place, tp.Ptr{Mut: rv.Mut, Ref: true})
	case ir.AddressOf:
		res, err = m.addressOf(rv.Place, tp.Ptr{Mut: rv.Mut})
	case ir.Cast:
		x, err := m.EvalOperand(ctx, rv.X)
		if err != nil {
			return err
		}

		res, err = m.Cast(x, rv.Type)
		if err != nil {
			return err
		}
	case ir.Aggregate:
		return m.aggregate(ctx, rv, dst)
	case ir.Len:
		res, err = m.length(rv.Place)
	case ir.Discriminant:
		res, err = m.discriminant(rv.Place, dst.Type)
	case ir.SizeOf:
		res, err = m.layoutConst(rv.Type, false)
	case ir.AlignOf:
		res, err = m.layoutConst(rv.Type, true)
	default:
		return newError(InvalidProgram, "unsupported rvalue: %T", rv)
	}

	if err != nil {
		return err
	}

	return m.WriteOperand(dst, res)
}

func (m *Interp) operandPair(ctx context.Context, x, y ir.Operand) (l, r Operand, err error) {
	l, err = m.EvalOperand(ctx, x)
	if err != nil {
		return
	}

	r, err = m.EvalOperand(ctx, y)

	return
}

func (m *Interp) addressOf(p ir.Place, pt tp.Ptr) (Operand, error) {
	pl, err := m.EvalPlace(p, true)
	if err != nil {
		return Operand{}, err
	}

	pt.Elem = pl.Type

	ptr := pl.Mem.Ptr
	ptr.Tag = m.Mem.NewTag()

	return m.scalarOperand(ScalarPtr(ptr, m.Mem.PtrSize), pt)
}

func (m *Interp) length(p ir.Place) (Operand, error) {
	pl, err := m.EvalPlace(p, false)
	if err != nil {
		return Operand{}, err
	}

	a, ok := tp.Underlying(pl.Type).(tp.Array)
	if !ok {
		return Operand{}, newError(LayoutError, "len of non-array %v", pl.Type)
	}

	return m.usizeOperand(uint64(a.Len))
}

func (m *Interp) discriminant(p ir.Place, t tp.Type) (Operand, error) {
	pl, err := m.EvalPlace(p, false)
	if err != nil {
		return Operand{}, err
	}

	var d int64

	if e, ok := tp.Underlying(pl.Type).(tp.Enum); ok {
		op, err := m.PlaceToOp(pl)
		if err != nil {
			return Operand{}, err
		}

		vi, err := m.readVariant(op, e)
		if err != nil {
			return Operand{}, err
		}

		d = e.Variants[vi].Discr
	}

	return m.IntOperand(d, t)
}

func (m *Interp) layoutConst(t tp.Type, align bool) (Operand, error) {
	lay, err := m.layoutOf(t)
	if err != nil {
		return Operand{}, err
	}

	if align {
		return m.usizeOperand(uint64(lay.Align))
	}

	return m.usizeOperand(uint64(lay.Size))
}

// aggregate builds the value in scratch memory and moves it to dst.
func (m *Interp) aggregate(ctx context.Context, a ir.Aggregate, dst Place) error {
	t := dst.Type
	if a.Kind == ir.AggAdt {
		if !tp.Equal(a.Type, dst.Type) {
			return newError(LayoutError, "aggregate of %v assigned to %v", a.Type, dst.Type)
		}

		t = a.Type
	}

	lay := dst.Layout
	variant := 0
	offs := make([]int, len(a.Ops))
	var fts []tp.Type

	switch u := tp.Underlying(t).(type) {
	case tp.Array:
		if a.Kind != ir.AggArray || u.Len != len(a.Ops) {
			return newError(LayoutError, "%d elements for %v", len(a.Ops), t)
		}

		for i := range a.Ops {
			fts = append(fts, u.Elem)
			offs[i] = i * lay.Stride
		}
	case tp.Enum:
		variant = u.VariantIndex(a.Variant)
		if variant < 0 {
			return newError(LayoutError, "unknown variant %v of %v", a.Variant, t)
		}

		fts = u.Variants[variant].Fields
		if len(fts) != len(a.Ops) {
			return newError(LayoutError, "%d fields for %v::%v of %d fields", len(a.Ops), t, a.Variant, len(fts))
		}

		copy(offs, lay.Variants[variant])
	case tp.Union:
		fi := -1

		for i, f := range u.Fields {
			if f.Name == a.Variant {
				fi = i
			}
		}

		if fi < 0 || len(a.Ops) != 1 {
			return newError(LayoutError, "union %v initialized with field %q and %d values", t, a.Variant, len(a.Ops))
		}

		fts = []tp.Type{u.Fields[fi].Type}
	case tp.Tuple, tp.Struct:
		fts, _ = tp.Elems(u, 0)
		if len(fts) != len(a.Ops) {
			return newError(LayoutError, "%d fields for %v of %d fields", len(a.Ops), t, len(fts))
		}

		copy(offs, lay.Fields)
	default:
		return newError(LayoutError, "aggregate of %v", t)
	}

	tmp, err := m.tempAlloc(lay)
	if err != nil {
		return err
	}

	for i, x := range a.Ops {
		op, err := m.EvalOperand(ctx, x)
		if err != nil {
			return err
		}

		if !tp.Equal(op.Type, fts[i]) {
			return newError(LayoutError, "field %d of %v: expected %v, got %v", i, t, fts[i], op.Type)
		}

		f := tmp
		f.Ptr = f.Ptr.Add(offs[i])
		f.Align = fieldAlign(tmp.Align, offs[i])

		err = m.writeToMem(f, op, op.Layout)
		if err != nil {
			return err
		}
	}

	if _, ok := tp.Underlying(t).(tp.Enum); ok {
		err = m.writeTag(Place{Mem: &tmp, Type: t, Layout: lay}, variant)
		if err != nil {
			return err
		}
	}

	err = m.WriteOperand(dst, Operand{Mem: &tmp, Type: t, Layout: lay})
	if err != nil {
		return err
	}

	return m.freeTemp(tmp)
}

func (m *Interp) freeTemp(p MemPlace) error {
	fr := m.stack[len(m.stack)-1]

	for i, id := range fr.allocs {
		if id == p.Ptr.Alloc {
			fr.allocs = append(fr.allocs[:i], fr.allocs[i+1:]...)
			break
		}
	}

	return m.Mem.Deallocate(p.Ptr.Alloc, KindStack)
}
