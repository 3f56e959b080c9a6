package interp

import (
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Immediate is a value held outside of memory: nothing, one scalar or a scalar pair.
	Immediate struct {
		A, B ScalarMaybeUndef
		Pair bool
	}

	MemPlace struct {
		Ptr   Pointer
		Align int
	}

	// Operand is a value either in Imm or in memory at Mem.
	// Variant is the enum variant selected by a downcast.
	Operand struct {
		Imm *Immediate
		Mem *MemPlace

		Type   tp.Type
		Layout *tp.Layout

		Variant  int
		Downcast bool
	}
)

func ScalarImm(s Scalar) *Immediate {
	return &Immediate{A: defined(s)}
}

func PairImm(a, b Scalar) *Immediate {
	return &Immediate{A: defined(a), B: defined(b), Pair: true}
}

func (m *Interp) immOperand(imm *Immediate, t tp.Type) (Operand, error) {
	lay, err := m.layoutOf(t)
	if err != nil {
		return Operand{}, err
	}

	return Operand{Imm: imm, Type: t, Layout: lay}, nil
}

func (m *Interp) scalarOperand(s Scalar, t tp.Type) (Operand, error) {
	return m.immOperand(ScalarImm(s), t)
}

func (m *Interp) memOperand(p MemPlace, t tp.Type) (Operand, error) {
	lay, err := m.layoutOf(t)
	if err != nil {
		return Operand{}, err
	}

	return Operand{Mem: &p, Type: t, Layout: lay}, nil
}

func (m *Interp) layoutOf(t tp.Type) (*tp.Layout, error) {
	lay, err := m.Layouts.LayoutOf(t)
	if err != nil {
		return nil, wrapError(LayoutError, err, "layout of %v", t)
	}

	return lay, nil
}

// ReadImmediate loads op as an immediate.
// Uninitialized bytes are kept as undefined scalars.
func (m *Interp) ReadImmediate(op Operand) (*Immediate, error) {
	if op.Imm != nil {
		return op.Imm, nil
	}

	lay := op.Layout

	if lay.IsZST() {
		return &Immediate{}, nil
	}

	p := op.Mem.Ptr

	switch lay.Abi {
	case tp.AbiScalar:
		a, err := m.Mem.ReadScalar(p.Add(lay.Scalar.Offset), lay.Scalar.Size, lay.Scalar.Size, true)
		if err != nil {
			return nil, err
		}

		return &Immediate{A: a}, nil
	case tp.AbiScalarPair:
		a, err := m.Mem.ReadScalar(p.Add(lay.Pair[0].Offset), lay.Pair[0].Size, lay.Pair[0].Size, true)
		if err != nil {
			return nil, err
		}

		b, err := m.Mem.ReadScalar(p.Add(lay.Pair[1].Offset), lay.Pair[1].Size, lay.Pair[1].Size, true)
		if err != nil {
			return nil, err
		}

		return &Immediate{A: a, B: b, Pair: true}, nil
	default:
		return nil, newError(NotAnImmediate, "%v (size %d)", op.Type, lay.Size)
	}
}

// ReadScalar loads op as a single initialized scalar.
func (m *Interp) ReadScalar(op Operand) (Scalar, error) {
	imm, err := m.ReadImmediate(op)
	if err != nil {
		return Scalar{}, err
	}

	if imm.Pair || op.Layout.Abi != tp.AbiScalar {
		return Scalar{}, newError(NotAnImmediate, "%v is not a scalar", op.Type)
	}

	if imm.A.Undef {
		return Scalar{}, newError(InvalidUninitBytes, "read of uninitialized %v", op.Type)
	}

	return imm.A.Scalar, nil
}

func (m *Interp) readBool(op Operand) (bool, error) {
	s, err := m.ReadScalar(op)
	if err != nil {
		return false, err
	}

	switch {
	case s.Ptr != nil:
		return false, invalidValue("", "a boolean", "a pointer")
	case s.Bits.IsZero():
		return false, nil
	case s.Bits.IsUint64() && s.Bits.Uint64() == 1:
		return true, nil
	default:
		return false, invalidValue("", "a boolean", s.String())
	}
}

func (m *Interp) readUint(op Operand) (uint64, error) {
	s, err := m.ReadScalar(op)
	if err != nil {
		return 0, err
	}

	if s.Ptr != nil {
		return 0, newError(PointerToIntCast, "pointer %v used as an integer", s.Ptr)
	}

	if !s.Bits.IsUint64() {
		return 0, newError(Overflow, "%v does not fit in 64 bits", s)
	}

	return s.Bits.Uint64(), nil
}

// readPointer returns the pointer held by op.
// Address-less integers produce a pointer without an allocation.
func (m *Interp) readPointer(op Operand) (Pointer, Scalar, error) {
	s, err := m.ReadScalar(op)
	if err != nil {
		return Pointer{}, s, err
	}

	if s.Ptr != nil {
		return *s.Ptr, s, nil
	}

	return Pointer{}, s, nil
}

// opField projects an immediate to its field i.
func (m *Interp) opField(op Operand, i int, ft tp.Type) (Operand, error) {
	fl, err := m.layoutOf(ft)
	if err != nil {
		return Operand{}, err
	}

	off, ok := op.Layout.FieldOffset(op.Variant, i)
	if !ok {
		return Operand{}, newError(LayoutError, "field %d of %v", i, op.Type)
	}

	if op.Mem != nil {
		p := *op.Mem
		p.Ptr = p.Ptr.Add(off)
		p.Align = fieldAlign(p.Align, off)

		return Operand{Mem: &p, Type: ft, Layout: fl}, nil
	}

	r := Operand{Type: ft, Layout: fl}
	lay := op.Layout
	imm := op.Imm

	switch {
	case fl.IsZST():
		r.Imm = &Immediate{}
	case lay.Abi == tp.AbiScalar && off == 0 && fl.Size == lay.Size:
		r.Imm = &Immediate{A: imm.A}
	case lay.Abi == tp.AbiScalarPair && fl.Abi == tp.AbiScalarPair && off == 0:
		r.Imm = imm
	case lay.Abi == tp.AbiScalarPair && fl.Abi == tp.AbiScalar && off+fl.Scalar.Offset == lay.Pair[0].Offset:
		r.Imm = &Immediate{A: imm.A}
	case lay.Abi == tp.AbiScalarPair && fl.Abi == tp.AbiScalar && off+fl.Scalar.Offset == lay.Pair[1].Offset:
		r.Imm = &Immediate{A: imm.B}
	default:
		return Operand{}, newError(NotAnImmediate, "field %d of %v", i, op.Type)
	}

	return r, nil
}

func fieldAlign(align, off int) int {
	if align <= 1 {
		return 1
	}

	for off%align != 0 {
		align /= 2
	}

	return align
}
