package interp

import (
	"context"

	"fortio.org/safecast"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Place is a location a value can be written to.
	// Mem == nil means the whole local Local of frame Frame.
	Place struct {
		Mem *MemPlace

		Frame int
		Local ir.Local

		Type   tp.Type
		Layout *tp.Layout

		Variant  int
		Downcast bool
	}
)

func (m *Interp) localPlace(fi int, l ir.Local) (Place, error) {
	fr := m.stack[fi]

	t := fr.Func.LocalType(l)
	if t == nil {
		return Place{}, newError(InvalidProgram, "local _%d out of range", l)
	}

	lay, err := m.layoutOf(t)
	if err != nil {
		return Place{}, err
	}

	return Place{Frame: fi, Local: l, Type: t, Layout: lay}, nil
}

func (m *Interp) localValue(pl Place) *LocalValue {
	return &m.stack[pl.Frame].Locals[pl.Local]
}

// localOperand reads local l of frame fi.
func (m *Interp) localOperand(fi int, l ir.Local) (Operand, error) {
	pl, err := m.localPlace(fi, l)
	if err != nil {
		return Operand{}, err
	}

	lv := m.localValue(pl)

	switch lv.State {
	case LocalDead:
		return Operand{}, newError(DeadLocal, "read of _%d", l)
	case LocalUninit:
		if pl.Layout.IsZST() {
			return Operand{Imm: &Immediate{}, Type: pl.Type, Layout: pl.Layout}, nil
		}

		return Operand{}, newError(UseOfUninitializedLocal, "read of _%d", l)
	}

	if lv.Alloc != 0 {
		return Operand{Mem: &MemPlace{Ptr: Pointer{Alloc: lv.Alloc}, Align: pl.Layout.Align}, Type: pl.Type, Layout: pl.Layout}, nil
	}

	return Operand{Imm: lv.Imm, Type: pl.Type, Layout: pl.Layout}, nil
}

// PlaceToOp turns a place into an operand without reading memory.
func (m *Interp) PlaceToOp(pl Place) (Operand, error) {
	if pl.Mem == nil {
		op, err := m.localOperand(pl.Frame, pl.Local)
		if err != nil {
			return Operand{}, err
		}

		op.Variant, op.Downcast = pl.Variant, pl.Downcast

		return op, nil
	}

	return Operand{Mem: pl.Mem, Type: pl.Type, Layout: pl.Layout, Variant: pl.Variant, Downcast: pl.Downcast}, nil
}

// ForceAllocation moves a local into a stack allocation owned by its frame.
// The value is kept. Uninitialized locals get uninitialized memory.
func (m *Interp) ForceAllocation(pl Place) (Place, error) {
	if pl.Mem != nil {
		return pl, nil
	}

	fr := m.stack[pl.Frame]
	lv := m.localValue(pl)

	if lv.State == LocalDead {
		return Place{}, newError(DeadLocal, "use of _%d", pl.Local)
	}

	if lv.Alloc == 0 {
		id, err := m.Mem.Allocate(pl.Layout.Size, pl.Layout.Align, KindStack)
		if err != nil {
			return Place{}, err
		}

		fr.allocs = append(fr.allocs, id)
		lv.Alloc = id

		if lv.State == LocalLive && lv.Imm != nil {
			err = m.writeImmediate(MemPlace{Ptr: Pointer{Alloc: id}, Align: pl.Layout.Align}, lv.Imm, pl.Layout)
			if err != nil {
				return Place{}, err
			}
		}

		lv.Imm = nil
	}

	lv.State = LocalLive

	pl.Mem = &MemPlace{Ptr: Pointer{Alloc: lv.Alloc}, Align: pl.Layout.Align}

	return pl, nil
}

// WriteOperand stores op into pl.
func (m *Interp) WriteOperand(pl Place, op Operand) (err error) {
	if op.Layout.Size != pl.Layout.Size {
		return newError(LayoutError, "assignment of %v to %v", op.Type, pl.Type)
	}

	if pl.Mem == nil {
		lv := m.localValue(pl)

		if lv.State == LocalDead {
			return newError(DeadLocal, "write to _%d", pl.Local)
		}

		if lv.Alloc == 0 && (pl.Layout.IsImmediate() || pl.Layout.IsZST()) {
			imm, err := m.ReadImmediate(op)
			if err != nil {
				return err
			}

			lv.Imm = imm
			lv.State = LocalLive

			return nil
		}

		pl, err = m.ForceAllocation(pl)
		if err != nil {
			return err
		}
	}

	return m.writeToMem(*pl.Mem, op, pl.Layout)
}

func (m *Interp) writeToMem(dst MemPlace, op Operand, lay *tp.Layout) error {
	if lay.IsZST() {
		return nil
	}

	if err := m.Mem.CheckPtr(dst.Ptr, lay.Size, lay.Align); err != nil {
		return err
	}

	if op.Mem != nil {
		if op.Mem.Ptr.Alloc == dst.Ptr.Alloc && op.Mem.Ptr.Offset == dst.Ptr.Offset {
			return nil
		}

		return m.Mem.CopyRange(op.Mem.Ptr, dst.Ptr, lay.Size, false)
	}

	return m.writeImmediate(dst, op.Imm, lay)
}

// WriteImmediate stores imm at dst, padding bytes become uninitialized.
func (m *Interp) writeImmediate(dst MemPlace, imm *Immediate, lay *tp.Layout) error {
	switch lay.Abi {
	case tp.AbiScalar:
		if imm.Pair || imm.A.Size != lay.Scalar.Size {
			return newError(LayoutError, "immediate of size %d written as %d bytes", imm.A.Size, lay.Scalar.Size)
		}

		if lay.Size != lay.Scalar.Size {
			if err := m.Mem.MarkUninit(dst.Ptr, lay.Size); err != nil {
				return err
			}
		}

		return m.Mem.WriteScalar(dst.Ptr.Add(lay.Scalar.Offset), imm.A, lay.Scalar.Size)
	case tp.AbiScalarPair:
		if !imm.Pair || imm.A.Size != lay.Pair[0].Size || imm.B.Size != lay.Pair[1].Size {
			return newError(LayoutError, "immediate does not match scalar pair layout")
		}

		if err := m.Mem.MarkUninit(dst.Ptr, lay.Size); err != nil {
			return err
		}

		if err := m.Mem.WriteScalar(dst.Ptr.Add(lay.Pair[0].Offset), imm.A, lay.Pair[0].Size); err != nil {
			return err
		}

		return m.Mem.WriteScalar(dst.Ptr.Add(lay.Pair[1].Offset), imm.B, lay.Pair[1].Size)
	default:
		if lay.IsZST() {
			return nil
		}

		return newError(NotAnImmediate, "write of an immediate as %v", lay.Type)
	}
}

// EvalPlace resolves p in the current frame.
// Projected places and force are backed by memory.
func (m *Interp) EvalPlace(p ir.Place, force bool) (pl Place, err error) {
	pl, err = m.localPlace(len(m.stack)-1, p.Local)
	if err != nil {
		return Place{}, err
	}

	for _, e := range p.Proj {
		if _, ok := e.(ir.Deref); ok {
			op, err := m.PlaceToOp(pl)
			if err != nil {
				return Place{}, err
			}

			pl, err = m.Deref(op)
			if err != nil {
				return Place{}, err
			}

			continue
		}

		pl, err = m.ForceAllocation(pl)
		if err != nil {
			return Place{}, err
		}

		pl, err = m.project(pl, e)
		if err != nil {
			return Place{}, err
		}
	}

	if force {
		return m.ForceAllocation(pl)
	}

	return pl, nil
}

// EvalOperand evaluates op in the current frame.
// Moving a bare local leaves it uninitialized.
func (m *Interp) EvalOperand(ctx context.Context, op ir.Operand) (Operand, error) {
	switch op := op.(type) {
	case ir.Copy:
		return m.evalPlaceOperand(op.Place)
	case ir.Move:
		r, err := m.evalPlaceOperand(op.Place)
		if err != nil {
			return Operand{}, err
		}

		if op.Place.IsLocal() {
			lv := &m.stack[len(m.stack)-1].Locals[op.Place.Local]
			lv.State = LocalUninit
		}

		return r, nil
	case ir.Constant:
		return m.evalConstant(ctx, op)
	default:
		return Operand{}, newError(InvalidProgram, "unsupported operand: %T", op)
	}
}

func (m *Interp) evalPlaceOperand(p ir.Place) (op Operand, err error) {
	op, err = m.localOperand(len(m.stack)-1, p.Local)
	if err != nil {
		return Operand{}, err
	}

	for _, e := range p.Proj {
		switch e := e.(type) {
		case ir.Deref:
			var pl Place

			pl, err = m.Deref(op)
			if err != nil {
				return Operand{}, err
			}

			op, err = m.PlaceToOp(pl)
		case ir.Field:
			var ft tp.Type

			ft, err = fieldType(op.Type, op.Variant, op.Downcast, e.Index)
			if err != nil {
				return Operand{}, err
			}

			op, err = m.opField(op, e.Index, ft)
		case ir.Downcast:
			op.Variant, err = variantIndex(op.Type, e)
			op.Downcast = true
		default:
			var idx int

			idx, err = m.indexOf(e)
			if err != nil {
				return Operand{}, err
			}

			op, err = m.opIndex(op, idx)
		}

		if err != nil {
			return Operand{}, err
		}
	}

	return op, nil
}

func (m *Interp) project(pl Place, e ir.Elem) (Place, error) {
	switch e := e.(type) {
	case ir.Field:
		return m.PlaceField(pl, e.Index)
	case ir.Downcast:
		v, err := variantIndex(pl.Type, e)
		if err != nil {
			return Place{}, err
		}

		pl.Variant, pl.Downcast = v, true

		return pl, nil
	default:
		idx, err := m.indexOf(e)
		if err != nil {
			return Place{}, err
		}

		return m.PlaceIndex(pl, idx)
	}
}

func (m *Interp) indexOf(e ir.Elem) (int, error) {
	switch e := e.(type) {
	case ir.ConstIndex:
		return e.Offset, nil
	case ir.Index:
		op, err := m.localOperand(len(m.stack)-1, e.Local)
		if err != nil {
			return 0, err
		}

		v, err := m.readUint(op)
		if err != nil {
			return 0, err
		}

		i, err := safecast.Convert[int](v)
		if err != nil {
			return 0, wrapError(BoundsCheckFailed, err, "index %d", v)
		}

		return i, nil
	default:
		return 0, newError(InvalidProgram, "unsupported projection: %T", e)
	}
}

// PlaceField projects a place to field i.
// A local not yet in memory is moved there first.
func (m *Interp) PlaceField(pl Place, i int) (Place, error) {
	ft, err := fieldType(pl.Type, pl.Variant, pl.Downcast, i)
	if err != nil {
		return Place{}, err
	}

	pl, err = m.ForceAllocation(pl)
	if err != nil {
		return Place{}, err
	}

	op, err := m.opField(Operand{Mem: pl.Mem, Type: pl.Type, Layout: pl.Layout, Variant: pl.Variant}, i, ft)
	if err != nil {
		return Place{}, err
	}

	return Place{Mem: op.Mem, Type: op.Type, Layout: op.Layout}, nil
}

// PlaceIndex projects a place of array type to element i.
func (m *Interp) PlaceIndex(pl Place, i int) (Place, error) {
	el, off, err := m.elemAt(pl.Type, pl.Layout, i)
	if err != nil {
		return Place{}, err
	}

	pl, err = m.ForceAllocation(pl)
	if err != nil {
		return Place{}, err
	}

	lay, err := m.layoutOf(el)
	if err != nil {
		return Place{}, err
	}

	p := *pl.Mem
	p.Ptr = p.Ptr.Add(off)
	p.Align = fieldAlign(p.Align, off)

	return Place{Mem: &p, Type: el, Layout: lay}, nil
}

func (m *Interp) opIndex(op Operand, i int) (Operand, error) {
	if op.Mem != nil {
		pl, err := m.PlaceIndex(Place{Mem: op.Mem, Type: op.Type, Layout: op.Layout}, i)
		if err != nil {
			return Operand{}, err
		}

		return m.PlaceToOp(pl)
	}

	el, _, err := m.elemAt(op.Type, op.Layout, i)
	if err != nil {
		return Operand{}, err
	}

	lay, err := m.layoutOf(el)
	if err != nil {
		return Operand{}, err
	}

	if !lay.IsZST() {
		return Operand{}, newError(NotAnImmediate, "index of immediate %v", op.Type)
	}

	return Operand{Imm: &Immediate{}, Type: el, Layout: lay}, nil
}

func (m *Interp) elemAt(t tp.Type, lay *tp.Layout, i int) (tp.Type, int, error) {
	a, ok := tp.Underlying(t).(tp.Array)
	if !ok {
		return nil, 0, newError(LayoutError, "index of non-array %v", t)
	}

	if i < 0 || i >= a.Len {
		return nil, 0, newError(BoundsCheckFailed, "index %d out of bounds of %v", i, t)
	}

	return a.Elem, i * lay.Stride, nil
}

// Deref turns a pointer operand into the place it points to.
func (m *Interp) Deref(op Operand) (Place, error) {
	pt, ok := tp.Underlying(op.Type).(tp.Ptr)
	if !ok {
		return Place{}, newError(LayoutError, "deref of non-pointer %v", op.Type)
	}

	lay, err := m.layoutOf(pt.Elem)
	if err != nil {
		return Place{}, err
	}

	p, s, err := m.readPointer(op)
	if err != nil {
		return Place{}, err
	}

	switch {
	case s.IsNull():
		return Place{}, newError(NullPointerDeref, "deref of %v", op.Type)
	case p.Alloc == 0:
		return Place{}, newError(DanglingPointer, "deref of address %v without provenance", s)
	}

	return Place{Mem: &MemPlace{Ptr: p, Align: lay.Align}, Type: pt.Elem, Layout: lay}, nil
}

func fieldType(t tp.Type, variant int, downcast bool, i int) (tp.Type, error) {
	var fs []tp.Type

	switch u := tp.Underlying(t).(type) {
	case tp.Enum:
		if !downcast {
			return nil, newError(LayoutError, "field %d of enum %v without downcast", i, t)
		}

		if variant < 0 || variant >= len(u.Variants) {
			return nil, newError(LayoutError, "variant %d of %v", variant, t)
		}

		fs = u.Variants[variant].Fields
	case tp.Tuple, tp.Struct, tp.Union:
		fs, _ = tp.Elems(u, 0)
	default:
		return nil, newError(LayoutError, "field %d of %v", i, t)
	}

	if i < 0 || i >= len(fs) {
		return nil, newError(LayoutError, "field %d of %v with %d fields", i, t, len(fs))
	}

	return fs[i], nil
}

func variantIndex(t tp.Type, d ir.Downcast) (int, error) {
	e, ok := tp.Underlying(t).(tp.Enum)
	if !ok {
		return 0, newError(LayoutError, "downcast of non-enum %v", t)
	}

	idx := d.Index
	if d.Name != "" {
		idx = e.VariantIndex(d.Name)
	}

	if idx < 0 || idx >= len(e.Variants) {
		return 0, newError(LayoutError, "unknown variant %v of %v", variantName(d), t)
	}

	return idx, nil
}

func variantName(d ir.Downcast) any {
	if d.Name != "" {
		return d.Name
	}

	return d.Index
}
