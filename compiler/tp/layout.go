package tp

import (
	"tlog.app/go/errors"
)

type (
	Abi int

	ScalarKind int

	// Scalar describes a value held directly in a register.
	Scalar struct {
		Kind   ScalarKind
		Size   int
		Offset int
		Signed bool
	}

	Layout struct {
		Type Type

		Size  int
		Align int
		Abi   Abi

		// Scalar is set for AbiScalar, Pair for AbiScalarPair.
		Scalar Scalar
		Pair   [2]Scalar

		// Fields are offsets for tuples, structs and unions.
		Fields []int

		// Stride and Len are set for arrays.
		Stride int
		Len    int

		// Variants are field offsets per enum variant.
		Variants  [][]int
		TagOffset int
		TagSize   int
	}

	// Layouts is the type layout oracle.
	// It's not safe for concurrent use; give each interpreter its own.
	Layouts struct {
		PtrSize int

		cache map[string]*Layout
		busy  map[string]struct{}
	}

	RecursiveTypeError struct {
		Name string
	}
)

const (
	AbiAggregate Abi = iota
	AbiScalar
	AbiScalarPair
	AbiUninhabited
)

const (
	ScalarInt ScalarKind = iota
	ScalarBool
	ScalarChar
	ScalarPtr
	ScalarFn
)

func NewLayouts(ptrSize int) *Layouts {
	if ptrSize == 0 {
		ptrSize = 8
	}

	return &Layouts{
		PtrSize: ptrSize,
		cache:   make(map[string]*Layout),
		busy:    make(map[string]struct{}),
	}
}

// IntSize returns integer size in bytes.
func (l *Layouts) IntSize(x Int) int {
	if x.Bits == 0 {
		return l.PtrSize
	}

	return int(x.Bits) / 8
}

func (l *Layouts) LayoutOf(t Type) (lay *Layout, err error) {
	if t == nil {
		return nil, errors.New("nil type")
	}

	key := t.String()

	if lay, ok := l.cache[key]; ok {
		return lay, nil
	}

	if n, ok := t.(Named); ok {
		if _, ok := l.busy[n.Name]; ok {
			return nil, RecursiveTypeError{Name: n.Name}
		}

		l.busy[n.Name] = struct{}{}
		defer delete(l.busy, n.Name)
	}

	lay, err = l.compute(t)
	if err != nil {
		return nil, err
	}

	lay.Type = t
	l.cache[key] = lay

	return lay, nil
}

func (l *Layouts) compute(t Type) (_ *Layout, err error) {
	switch t := t.(type) {
	case Int:
		s := l.IntSize(t)
		return scalarLayout(Scalar{Kind: ScalarInt, Size: s, Signed: t.Signed}), nil
	case Bool:
		return scalarLayout(Scalar{Kind: ScalarBool, Size: 1}), nil
	case Char:
		return scalarLayout(Scalar{Kind: ScalarChar, Size: 4}), nil
	case Ptr:
		return scalarLayout(Scalar{Kind: ScalarPtr, Size: l.PtrSize}), nil
	case FnPtr:
		return scalarLayout(Scalar{Kind: ScalarFn, Size: l.PtrSize}), nil
	case Never:
		return &Layout{Align: 1, Abi: AbiUninhabited}, nil
	case Array:
		return l.arrayLayout(t)
	case Tuple:
		return l.fieldsLayout(t.Elems)
	case Named:
		u := Underlying(t)
		if u == nil {
			return nil, errors.New("undefined type %v", t.Name)
		}

		return l.compute(u)
	case Struct:
		return l.fieldsLayout(fieldTypes(t.Fields))
	case Union:
		return l.unionLayout(t)
	case Enum:
		return l.enumLayout(t)
	default:
		return nil, errors.New("unsupported type: %T", t)
	}
}

func (l *Layouts) arrayLayout(t Array) (*Layout, error) {
	if t.Len < 0 {
		return nil, errors.New("negative array length: %v", t)
	}

	el, err := l.LayoutOf(t.Elem)
	if err != nil {
		return nil, errors.Wrap(err, "array elem")
	}

	lay := &Layout{
		Size:   el.Size * t.Len,
		Align:  el.Align,
		Abi:    AbiAggregate,
		Stride: el.Size,
		Len:    t.Len,
	}

	if t.Len != 0 && el.Size != 0 && lay.Size/t.Len != el.Size {
		return nil, errors.New("array too large: %v", t)
	}

	if el.Abi == AbiUninhabited && t.Len != 0 {
		lay.Abi = AbiUninhabited
	}

	return lay, nil
}

func (l *Layouts) fieldsLayout(fs []Type) (_ *Layout, err error) {
	lay := &Layout{
		Align:  1,
		Abi:    AbiAggregate,
		Fields: make([]int, len(fs)),
	}

	fl := make([]*Layout, len(fs))
	off := 0

	for i, f := range fs {
		fl[i], err = l.LayoutOf(f)
		if err != nil {
			return nil, errors.Wrap(err, "field %d", i)
		}

		off = alignTo(off, fl[i].Align)
		lay.Fields[i] = off
		off += fl[i].Size

		if fl[i].Align > lay.Align {
			lay.Align = fl[i].Align
		}

		if fl[i].Abi == AbiUninhabited {
			lay.Abi = AbiUninhabited
		}
	}

	lay.Size = alignTo(off, lay.Align)

	if lay.Abi == AbiUninhabited {
		return lay, nil
	}

	switch {
	case len(fs) == 1 && fl[0].Abi == AbiScalar:
		lay.Abi = AbiScalar
		lay.Scalar = fl[0].Scalar
	case len(fs) == 1 && fl[0].Abi == AbiScalarPair:
		lay.Abi = AbiScalarPair
		lay.Pair = fl[0].Pair
	case len(fs) == 2 && fl[0].Abi == AbiScalar && fl[1].Abi == AbiScalar:
		lay.Abi = AbiScalarPair
		lay.Pair[0] = fl[0].Scalar
		lay.Pair[0].Offset += lay.Fields[0]
		lay.Pair[1] = fl[1].Scalar
		lay.Pair[1].Offset += lay.Fields[1]
	}

	return lay, nil
}

func (l *Layouts) unionLayout(t Union) (*Layout, error) {
	lay := &Layout{
		Align:  1,
		Abi:    AbiAggregate,
		Fields: make([]int, len(t.Fields)),
	}

	for _, f := range t.Fields {
		fl, err := l.LayoutOf(f.Type)
		if err != nil {
			return nil, errors.Wrap(err, "union field %v", f.Name)
		}

		if fl.Size > lay.Size {
			lay.Size = fl.Size
		}

		if fl.Align > lay.Align {
			lay.Align = fl.Align
		}
	}

	lay.Size = alignTo(lay.Size, lay.Align)

	return lay, nil
}

func (l *Layouts) enumLayout(t Enum) (*Layout, error) {
	if len(t.Variants) == 0 {
		return &Layout{Align: 1, Abi: AbiUninhabited}, nil
	}

	lo, hi := t.Variants[0].Discr, t.Variants[0].Discr
	for _, v := range t.Variants {
		lo = min(lo, v.Discr)
		hi = max(hi, v.Discr)
	}

	tag := 1
	switch {
	case lo >= 0 && hi < 1<<8:
	case lo >= 0 && hi < 1<<16:
		tag = 2
	case lo >= 0 && hi < 1<<32:
		tag = 4
	default:
		tag = 8
	}

	lay := &Layout{
		Align:    tag,
		Abi:      AbiAggregate,
		TagSize:  tag,
		Variants: make([][]int, len(t.Variants)),
	}

	size := tag
	payload := false

	for i, v := range t.Variants {
		offs := make([]int, len(v.Fields))
		off := tag

		for j, f := range v.Fields {
			fl, err := l.LayoutOf(f)
			if err != nil {
				return nil, errors.Wrap(err, "variant %v field %d", v.Name, j)
			}

			off = alignTo(off, fl.Align)
			offs[j] = off
			off += fl.Size
			payload = true

			if fl.Align > lay.Align {
				lay.Align = fl.Align
			}
		}

		lay.Variants[i] = offs

		if off > size {
			size = off
		}
	}

	lay.Size = alignTo(size, lay.Align)

	if !payload {
		lay.Abi = AbiScalar
		lay.Scalar = Scalar{Kind: ScalarInt, Size: tag}
	}

	return lay, nil
}

// FieldCount returns number of addressable fields of the layout for variant.
func (lay *Layout) FieldCount(variant int) int {
	switch {
	case lay.Variants != nil:
		if variant < 0 || variant >= len(lay.Variants) {
			return 0
		}

		return len(lay.Variants[variant])
	case lay.Stride != 0 || lay.Len != 0:
		return lay.Len
	default:
		return len(lay.Fields)
	}
}

// FieldOffset returns offset of field i in variant (-1 for non-enums).
func (lay *Layout) FieldOffset(variant, i int) (int, bool) {
	switch {
	case lay.Variants != nil:
		if variant < 0 || variant >= len(lay.Variants) || i < 0 || i >= len(lay.Variants[variant]) {
			return 0, false
		}

		return lay.Variants[variant][i], true
	case lay.Stride != 0 || lay.Len != 0:
		if i < 0 || i >= lay.Len {
			return 0, false
		}

		return i * lay.Stride, true
	default:
		if i < 0 || i >= len(lay.Fields) {
			return 0, false
		}

		return lay.Fields[i], true
	}
}

// IsImmediate reports whether values fit in at most two scalars.
func (lay *Layout) IsImmediate() bool {
	return lay.Abi == AbiScalar || lay.Abi == AbiScalarPair
}

func (lay *Layout) IsZST() bool {
	return lay.Size == 0
}

func (e RecursiveTypeError) Error() string {
	return "recursive type " + e.Name + " has infinite size"
}

func scalarLayout(s Scalar) *Layout {
	return &Layout{
		Size:   s.Size,
		Align:  s.Size,
		Abi:    AbiScalar,
		Scalar: s,
	}
}

func alignTo(off, align int) int {
	if align <= 1 {
		return off
	}

	return (off + align - 1) / align * align
}
