package interp

import (
	"github.com/holiman/uint256"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

// BinaryOp computes l op r. Overflow reports arithmetic overflow for checkable operators,
// unchecked ones wrap.
func (m *Interp) BinaryOp(op ir.BinOp, l, r Operand, checked bool) (res Operand, overflow bool, err error) {
	a, err := m.ReadScalar(l)
	if err != nil {
		return Operand{}, false, err
	}

	b, err := m.ReadScalar(r)
	if err != nil {
		return Operand{}, false, err
	}

	if op != ir.Shl && op != ir.Shr && op != ir.Offset && !tp.Equal(l.Type, r.Type) {
		return Operand{}, false, newError(InvalidProgram, "%v of %v and %v", op, l.Type, r.Type)
	}

	var s Scalar
	rt := l.Type

	if op.IsComparison() {
		rt = tp.Bool{}
	}

	switch u := tp.Underlying(l.Type).(type) {
	case tp.Int:
		s, overflow, err = m.intBinOp(op, u, a, b, checked)
	case tp.Bool:
		s, err = boolBinOp(op, a, b)
	case tp.Char:
		s, err = cmpOp(op, &a.Bits, &b.Bits, false)
	case tp.Ptr, tp.FnPtr:
		s, err = m.ptrBinOp(op, l.Type, a, b)
	default:
		err = newError(InvalidProgram, "%v of %v", op, l.Type)
	}

	if err != nil {
		return Operand{}, false, err
	}

	res, err = m.scalarOperand(s, rt)

	return res, overflow, err
}

// CheckedBinaryOp computes (result, overflowed) pair.
func (m *Interp) CheckedBinaryOp(op ir.BinOp, l, r Operand) (Operand, error) {
	if !op.Checkable() {
		return Operand{}, newError(InvalidProgram, "%v has no checked form", op)
	}

	res, of, err := m.BinaryOp(op, l, r, true)
	if err != nil {
		return Operand{}, err
	}

	return m.immOperand(PairImm(res.Imm.A.Scalar, ScalarBool(of)), tp.Tuple{Elems: []tp.Type{res.Type, tp.Bool{}}})
}

func (m *Interp) intOperands(a, b Scalar) error {
	if (a.Ptr != nil || b.Ptr != nil) && !m.Config.AllowPtrToInt {
		return newError(PointerToIntCast, "arithmetic on a pointer")
	}

	return nil
}

// intValue returns the scalar extended to 256 bits.
func intValue(s Scalar, signed bool) uint256.Int {
	if signed {
		return s.Signed()
	}

	return s.Bits
}

func (m *Interp) intBinOp(op ir.BinOp, it tp.Int, a, b Scalar, checked bool) (s Scalar, overflow bool, err error) {
	if err = m.intOperands(a, b); err != nil {
		return
	}

	size := m.Layouts.IntSize(it)
	x := intValue(a, it.Signed)

	var r uint256.Int

	switch op {
	case ir.Shl, ir.Shr:
		return m.shift(op, it, size, x, b, checked)
	case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		y := intValue(b, it.Signed)

		s, err = cmpOp(op, &x, &y, it.Signed)

		return
	}

	y := intValue(b, it.Signed)

	switch op {
	case ir.Add:
		r.Add(&x, &y)
	case ir.Sub:
		r.Sub(&x, &y)
	case ir.Mul:
		r.Mul(&x, &y)
	case ir.Div, ir.Rem:
		if y.IsZero() {
			if op == ir.Div {
				return s, false, newError(DivisionByZero, "%v / 0", a)
			}

			return s, false, newError(RemainderByZero, "%v %% 0", a)
		}

		var q uint256.Int

		if it.Signed {
			q.SDiv(&x, &y)
		} else {
			q.Div(&x, &y)
		}

		if !fits(&q, size, it.Signed) {
			return s, false, newError(Overflow, "%v of %v by %v", op, it, b)
		}

		if op == ir.Div {
			r = q
		} else if it.Signed {
			r.SMod(&x, &y)
		} else {
			r.Mod(&x, &y)
		}
	case ir.BitAnd:
		r.And(&x, &y)
	case ir.BitOr:
		r.Or(&x, &y)
	case ir.BitXor:
		r.Xor(&x, &y)
	default:
		return s, false, newError(InvalidProgram, "%v of %v", op, it)
	}

	overflow = !fits(&r, size, it.Signed)

	return ScalarBits(&r, size), overflow, nil
}

func (m *Interp) shift(op ir.BinOp, it tp.Int, size int, x uint256.Int, b Scalar, checked bool) (s Scalar, overflow bool, err error) {
	bits := uint64(size * 8)

	// negative amounts are huge unsigned values
	amt := b.Bits

	var n uint64

	switch {
	case amt.IsUint64() && amt.Uint64() < bits:
		n = amt.Uint64()
	case checked:
		overflow = true
		n = amt.Uint64() & (bits - 1)
	default:
		return s, false, newError(Overflow, "%v of %v by %v", op, it, b)
	}

	var r uint256.Int

	switch {
	case op == ir.Shl:
		r.Lsh(&x, uint(n))
	case it.Signed:
		r.SRsh(&x, uint(n))
	default:
		r.Rsh(&x, uint(n))
	}

	return ScalarBits(&r, size), overflow, nil
}

// fits reports whether r sign or zero extended from size bytes is r itself.
func fits(r *uint256.Int, size int, signed bool) bool {
	t := ScalarBits(r, size)
	e := intValue(t, signed)

	return e.Eq(r)
}

func cmpOp(op ir.BinOp, x, y *uint256.Int, signed bool) (Scalar, error) {
	var lt, gt bool

	if signed {
		lt, gt = x.Slt(y), x.Sgt(y)
	} else {
		lt, gt = x.Lt(y), x.Gt(y)
	}

	eq := !lt && !gt

	var v bool

	switch op {
	case ir.Eq:
		v = eq
	case ir.Ne:
		v = !eq
	case ir.Lt:
		v = lt
	case ir.Le:
		v = lt || eq
	case ir.Gt:
		v = gt
	case ir.Ge:
		v = gt || eq
	default:
		return Scalar{}, newError(InvalidProgram, "%v is not a comparison", op)
	}

	return ScalarBool(v), nil
}

func boolBinOp(op ir.BinOp, a, b Scalar) (Scalar, error) {
	x, y := a.Uint64() != 0, b.Uint64() != 0

	switch op {
	case ir.BitAnd:
		return ScalarBool(x && y), nil
	case ir.BitOr:
		return ScalarBool(x || y), nil
	case ir.BitXor:
		return ScalarBool(x != y), nil
	}

	return cmpOp(op, &a.Bits, &b.Bits, false)
}

func (m *Interp) ptrBinOp(op ir.BinOp, t tp.Type, a, b Scalar) (Scalar, error) {
	if op == ir.Offset {
		return m.offset(t, a, b)
	}

	if !op.IsComparison() {
		return Scalar{}, newError(InvalidProgram, "%v of pointers", op)
	}

	if a.Ptr == nil && b.Ptr == nil {
		return cmpOp(op, &a.Bits, &b.Bits, false)
	}

	x, y := provenanceKey(a), provenanceKey(b)

	return cmpOp(op, &x, &y, false)
}

// provenanceKey orders pointers by allocation then offset.
// Address-less integers sort below any pointer with provenance.
// Truncated addresses are not used since they collide for small pointer sizes.
func provenanceKey(s Scalar) (k uint256.Int) {
	if s.Ptr == nil {
		return s.Bits
	}

	var off uint256.Int

	k.SetUint64(uint64(s.Ptr.Alloc))
	k.Lsh(&k, 64)
	off.SetUint64(uint64(s.Ptr.Offset))

	return *k.Or(&k, &off)
}

// offset moves pointer a by b elements.
func (m *Interp) offset(t tp.Type, a, b Scalar) (Scalar, error) {
	pt, ok := tp.Underlying(t).(tp.Ptr)
	if !ok {
		return Scalar{}, newError(InvalidProgram, "offset of %v", t)
	}

	lay, err := m.layoutOf(pt.Elem)
	if err != nil {
		return Scalar{}, err
	}

	n := b.Int64(true)
	delta := n * int64(lay.Size)

	if lay.Size != 0 && delta/int64(lay.Size) != n {
		return Scalar{}, newError(Overflow, "offset by %d elements of %v", n, pt.Elem)
	}

	if a.Ptr == nil {
		var d uint256.Int

		d.SetUint64(uint64(delta))
		d.Add(&a.Bits, &d)

		return ScalarBits(&d, a.Size), nil
	}

	p := *a.Ptr
	p.Offset += int(delta)

	al, err := m.Mem.Get(p.Alloc)
	if err != nil {
		return Scalar{}, err
	}

	if p.Offset < 0 || p.Offset > al.Size() {
		return Scalar{}, newError(PointerOutOfBounds, "offset %d of %v is out of allocation of size %d", delta, a.Ptr, al.Size())
	}

	return ScalarPtr(p, a.Size), nil
}

// UnaryOp computes op x wrapping on overflow.
func (m *Interp) UnaryOp(op ir.UnOp, x Operand) (Operand, error) {
	s, err := m.ReadScalar(x)
	if err != nil {
		return Operand{}, err
	}

	var r uint256.Int

	switch u := tp.Underlying(x.Type).(type) {
	case tp.Bool:
		if op != ir.Not {
			return Operand{}, newError(InvalidProgram, "%v of bool", op)
		}

		return m.scalarOperand(ScalarBool(s.Bits.IsZero()), x.Type)
	case tp.Int:
		if err = m.intOperands(s, Scalar{}); err != nil {
			return Operand{}, err
		}

		if op == ir.Not {
			r.Not(&s.Bits)
		} else {
			r.Neg(&s.Bits)
		}

		return m.scalarOperand(ScalarBits(&r, m.Layouts.IntSize(u)), x.Type)
	default:
		return Operand{}, newError(InvalidProgram, "%v of %v", op, x.Type)
	}
}
