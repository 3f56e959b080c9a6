package interp

import (
	"github.com/holiman/uint256"

	"github.com/slowlang/mir/compiler/tp"
)

// Cast converts op to type to.
func (m *Interp) Cast(op Operand, to tp.Type) (Operand, error) {
	lay, err := m.layoutOf(to)
	if err != nil {
		return Operand{}, err
	}

	s, err := m.ReadScalar(op)
	if err != nil {
		return Operand{}, err
	}

	r, err := m.castScalar(s, op.Type, to, lay)
	if err != nil {
		return Operand{}, err
	}

	return Operand{Imm: ScalarImm(r), Type: to, Layout: lay}, nil
}

func (m *Interp) castScalar(s Scalar, from, to tp.Type, lay *tp.Layout) (Scalar, error) {
	size := lay.Scalar.Size
	if lay.Abi != tp.AbiScalar {
		return Scalar{}, newError(InvalidProgram, "cast of %v to %v", from, to)
	}

	switch f := tp.Underlying(from).(type) {
	case tp.Int:
		if s.Ptr != nil && !m.Config.AllowPtrToInt {
			return Scalar{}, newError(PointerToIntCast, "cast of %v to %v", from, to)
		}

		x := intValue(s, f.Signed)

		switch tp.Underlying(to).(type) {
		case tp.Int, tp.Ptr:
			return ScalarBits(&x, size), nil
		case tp.Char:
			if !tp.Equal(f, tp.U8) && !tp.Equal(f, tp.U32) {
				break
			}

			if !validChar(&x) {
				return Scalar{}, invalidValue("", "a valid unicode scalar value", s.String())
			}

			return ScalarBits(&x, size), nil
		}
	case tp.Bool, tp.Char:
		switch tp.Underlying(to).(type) {
		case tp.Int:
			return ScalarBits(&s.Bits, size), nil
		}
	case tp.Ptr, tp.FnPtr:
		switch t := tp.Underlying(to).(type) {
		case tp.Ptr:
			return s, nil
		case tp.FnPtr:
			if _, ok := f.(tp.FnPtr); ok {
				return s, nil
			}
		case tp.Int:
			if s.Ptr != nil && !m.Config.AllowPtrToInt {
				return Scalar{}, newError(PointerToIntCast, "cast of %v to %v", from, t)
			}

			var x uint256.Int
			x.Set(&s.Bits)

			return ScalarBits(&x, size), nil
		}
	}

	return Scalar{}, newError(InvalidProgram, "cast of %v to %v", from, to)
}
