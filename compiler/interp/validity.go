package interp

import (
	"strconv"

	"github.com/holiman/uint256"

	"github.com/slowlang/mir/compiler/tp"
)

type (
	validator struct {
		m *Interp

		seen map[refKey]struct{}
	}

	refKey struct {
		p   Pointer
		typ string
	}
)

// Validate checks op is a valid value of its type.
// References are followed recursively.
func (m *Interp) Validate(op Operand) error {
	v := validator{
		m:    m,
		seen: make(map[refKey]struct{}),
	}

	return v.validate(op, "")
}

func (v *validator) validate(op Operand, path string) error {
	if op.Layout.Abi == tp.AbiUninhabited {
		return invalidValue(path, "a value of uninhabited type "+op.Type.String(), "a value")
	}

	switch u := tp.Underlying(op.Type).(type) {
	case tp.Bool:
		s, err := v.scalar(op, path, "a boolean")
		if err != nil {
			return err
		}

		if !s.Bits.IsUint64() || s.Bits.Uint64() > 1 {
			return invalidValue(path, "a boolean", s.String())
		}
	case tp.Char:
		s, err := v.scalar(op, path, "a unicode scalar value")
		if err != nil {
			return err
		}

		if !validChar(&s.Bits) {
			return invalidValue(path, "a valid unicode scalar value", s.String())
		}
	case tp.Int:
		_, err := v.scalar(op, path, "an initialized integer")
		if err != nil {
			return err
		}
	case tp.Ptr:
		return v.pointer(op, u, path)
	case tp.FnPtr:
		imm, err := v.m.ReadImmediate(op)
		if err != nil {
			return err
		}

		if imm.A.Undef {
			return invalidValue(path, "a function pointer", "uninitialized bytes")
		}

		if _, err := v.m.Mem.FnName(imm.A.Scalar); err != nil {
			return invalidValue(path, "a function pointer", imm.A.String())
		}
	case tp.Tuple, tp.Struct:
		return v.fields(op, path, u)
	case tp.Array:
		for i := 0; i < u.Len; i++ {
			el, err := v.m.opIndex(op, i)
			if err != nil {
				return err
			}

			if err = v.validate(el, path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	case tp.Enum:
		return v.enum(op, u, path)
	case tp.Union:
	}

	return nil
}

// scalar reads a scalar which must be initialized and must not carry a pointer.
func (v *validator) scalar(op Operand, path, expected string) (Scalar, error) {
	imm, err := v.m.ReadImmediate(op)
	if err != nil {
		return Scalar{}, err
	}

	switch {
	case imm.A.Undef:
		return Scalar{}, invalidValue(path, expected, "uninitialized bytes")
	case imm.A.Ptr != nil:
		return Scalar{}, invalidValue(path, expected, "a pointer")
	}

	return imm.A.Scalar, nil
}

func (v *validator) pointer(op Operand, pt tp.Ptr, path string) error {
	imm, err := v.m.ReadImmediate(op)
	if err != nil {
		return err
	}

	s := imm.A

	if s.Undef {
		return invalidValue(path, "an initialized pointer", "uninitialized bytes")
	}

	if !pt.Ref {
		return nil
	}

	switch {
	case s.IsNull():
		return invalidValue(path, "a non-null reference", "a null reference")
	case s.Ptr == nil:
		return invalidValue(path, "a dereferenceable reference", "a dangling reference "+s.String())
	}

	lay, err := v.m.layoutOf(pt.Elem)
	if err != nil {
		return err
	}

	if err = v.m.Mem.CheckPtr(*s.Ptr, lay.Size, lay.Align); err != nil {
		return invalidValue(path, "a dereferenceable reference", KindOf(err).String()+" "+s.Ptr.String())
	}

	key := refKey{p: Pointer{Alloc: s.Ptr.Alloc, Offset: s.Ptr.Offset}, typ: pt.Elem.String()}

	if _, ok := v.seen[key]; ok {
		return nil
	}

	v.seen[key] = struct{}{}

	return v.validate(Operand{Mem: &MemPlace{Ptr: *s.Ptr, Align: lay.Align}, Type: pt.Elem, Layout: lay}, path+".<deref>")
}

func (v *validator) fields(op Operand, path string, u tp.Type) error {
	fs, _ := tp.Elems(u, 0)

	var names []tp.Field
	if st, ok := u.(tp.Struct); ok {
		names = st.Fields
	}

	for i, ft := range fs {
		f, err := v.m.opField(op, i, ft)
		if err != nil {
			return err
		}

		name := strconv.Itoa(i)
		if names != nil {
			name = names[i].Name
		}

		if err = v.validate(f, path+"."+name); err != nil {
			return err
		}
	}

	return nil
}

func (v *validator) enum(op Operand, e tp.Enum, path string) error {
	vi, err := v.m.readVariant(op, e)
	if err != nil {
		return withPath(err, path)
	}

	op.Variant, op.Downcast = vi, true

	vr := e.Variants[vi]

	for i, ft := range vr.Fields {
		f, err := v.m.opField(op, i, ft)
		if err != nil {
			return err
		}

		if err = v.validate(f, path+".<variant "+vr.Name+">."+strconv.Itoa(i)); err != nil {
			return err
		}
	}

	return nil
}

// readVariant decodes the enum tag of op.
func (m *Interp) readVariant(op Operand, e tp.Enum) (int, error) {
	lay := op.Layout

	var tag ScalarMaybeUndef

	if op.Imm != nil {
		if lay.Abi != tp.AbiScalar {
			return 0, newError(NotAnImmediate, "enum %v", op.Type)
		}

		tag = op.Imm.A
	} else {
		var err error

		tag, err = m.Mem.ReadScalar(op.Mem.Ptr.Add(lay.TagOffset), lay.TagSize, lay.TagSize, true)
		if err != nil {
			return 0, err
		}
	}

	switch {
	case tag.Undef:
		return 0, invalidValue("", "an initialized enum tag", "uninitialized bytes")
	case tag.Ptr != nil:
		return 0, invalidValue("", "an enum tag", "a pointer")
	}

	d := tag.Int64(lay.TagSize == 8)

	vi := e.VariantByDiscr(d)
	if vi < 0 {
		return 0, invalidValue("", "a valid enum tag", strconv.FormatInt(d, 10))
	}

	return vi, nil
}

// writeTag sets the enum tag of memory place pl to variant vi.
func (m *Interp) writeTag(pl Place, vi int) error {
	e, ok := tp.Underlying(pl.Type).(tp.Enum)
	if !ok {
		return newError(LayoutError, "set discriminant of non-enum %v", pl.Type)
	}

	if vi < 0 || vi >= len(e.Variants) {
		return newError(LayoutError, "variant %d of %v", vi, pl.Type)
	}

	lay := pl.Layout
	tag := ScalarInt(e.Variants[vi].Discr, lay.TagSize)

	return m.Mem.WriteScalar(pl.Mem.Ptr.Add(lay.TagOffset), defined(tag), lay.TagSize)
}

func withPath(err error, path string) error {
	if e, ok := err.(*Error); ok && e.Kind == InvalidValue {
		e.Path = path + e.Path
	}

	return err
}

func validChar(x *uint256.Int) bool {
	if !x.IsUint64() {
		return false
	}

	c := x.Uint64()

	return c <= 0x10ffff && (c < 0xd800 || c > 0xdfff)
}
