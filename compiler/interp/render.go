package interp

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/mir/compiler/tp"
)

// AppendValue appends human readable op to b.
// References are not followed, pointers are printed as allocN+off.
func (m *Interp) AppendValue(b []byte, op Operand) ([]byte, error) {
	switch u := tp.Underlying(op.Type).(type) {
	case tp.Int, tp.Bool, tp.Char, tp.Ptr, tp.FnPtr:
		imm, err := m.ReadImmediate(op)
		if err != nil {
			return b, err
		}

		return appendScalar(b, imm.A, u), nil
	case tp.Tuple:
		b = append(b, '(')

		b, err := m.appendFields(b, op, u.Elems, nil)
		if err != nil {
			return b, err
		}

		if len(u.Elems) == 1 {
			b = append(b, ',')
		}

		return append(b, ')'), nil
	case tp.Struct:
		fs, _ := tp.Elems(u, 0)

		if len(fs) == 0 {
			return hfmt.Appendf(b, "%v {}", op.Type), nil
		}

		b = hfmt.Appendf(b, "%v { ", op.Type)

		b, err := m.appendFields(b, op, fs, u.Fields)
		if err != nil {
			return b, err
		}

		return append(b, " }"...), nil
	case tp.Array:
		b = append(b, '[')

		for i := 0; i < u.Len; i++ {
			if i != 0 {
				b = append(b, ", "...)
			}

			el, err := m.opIndex(op, i)
			if err != nil {
				return b, err
			}

			b, err = m.AppendValue(b, el)
			if err != nil {
				return b, err
			}
		}

		return append(b, ']'), nil
	case tp.Enum:
		vi, err := m.readVariant(op, u)
		if err != nil {
			return b, err
		}

		v := u.Variants[vi]
		b = hfmt.Appendf(b, "%v::%s", op.Type, v.Name)

		if len(v.Fields) == 0 {
			return b, nil
		}

		op.Variant, op.Downcast = vi, true

		b = append(b, '(')

		b, err = m.appendFields(b, op, v.Fields, nil)
		if err != nil {
			return b, err
		}

		return append(b, ')'), nil
	default:
		return hfmt.Appendf(b, "<%v>", op.Type), nil
	}
}

func (m *Interp) appendFields(b []byte, op Operand, fs []tp.Type, names []tp.Field) (_ []byte, err error) {
	for i, ft := range fs {
		if i != 0 {
			b = append(b, ", "...)
		}

		if names != nil {
			b = hfmt.Appendf(b, "%s: ", names[i].Name)
		}

		f, err := m.opField(op, i, ft)
		if err != nil {
			return b, err
		}

		b, err = m.AppendValue(b, f)
		if err != nil {
			return b, err
		}
	}

	return b, nil
}

func appendScalar(b []byte, s ScalarMaybeUndef, t tp.Type) []byte {
	if s.Undef {
		return append(b, "<uninit>"...)
	}

	if s.Ptr != nil {
		return append(b, s.Ptr.String()...)
	}

	switch t := t.(type) {
	case tp.Bool:
		if s.Bits.IsZero() {
			return append(b, "false"...)
		}

		return append(b, "true"...)
	case tp.Char:
		return hfmt.Appendf(b, "%q", rune(s.Uint64()))
	case tp.Int:
		if t.Signed {
			x := s.Signed()

			if x.Sign() < 0 {
				x.Neg(&x)
				return append(append(b, '-'), x.Dec()...)
			}
		}

		return append(b, s.Bits.Dec()...)
	default:
		return append(b, s.String()...)
	}
}
