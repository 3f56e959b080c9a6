package tp

import (
	"fmt"
	"strings"
)

type (
	Type interface {
		String() string
	}

	// Int is a fixed width integer. Bits == 0 means pointer sized (isize/usize).
	Int struct {
		Bits   int16
		Signed bool
	}

	Bool struct{}

	Char struct{}

	// Never is the uninhabited type.
	Never struct{}

	// Ptr covers raw pointers and references.
	// References carry validity requirements, raw pointers do not.
	Ptr struct {
		Elem Type
		Mut  bool
		Ref  bool
	}

	FnPtr struct {
		In  []Type
		Out Type
	}

	Array struct {
		Elem Type
		Len  int
	}

	// Tuple with no elements is the unit type.
	Tuple struct {
		Elems []Type
	}

	Struct struct {
		Name   string
		Fields []Field
	}

	Union struct {
		Name   string
		Fields []Field
	}

	Enum struct {
		Name     string
		Variants []Variant
	}

	Field struct {
		Name string
		Type Type
	}

	Variant struct {
		Name   string
		Discr  int64
		Fields []Type
	}

	// Named refers to a declared struct, enum or union.
	// Decl is shared by all references so declarations may come later in the text.
	Named struct {
		Name string
		Decl *Decl
	}

	Decl struct {
		Name string
		Type Type
	}
)

var (
	I8    = Int{Bits: 8, Signed: true}
	I16   = Int{Bits: 16, Signed: true}
	I32   = Int{Bits: 32, Signed: true}
	I64   = Int{Bits: 64, Signed: true}
	I128  = Int{Bits: 128, Signed: true}
	Isize = Int{Signed: true}
	U8    = Int{Bits: 8}
	U16   = Int{Bits: 16}
	U32   = Int{Bits: 32}
	U64   = Int{Bits: 64}
	U128  = Int{Bits: 128}
	Usize = Int{}

	Unit = Tuple{}
)

var builtins = map[string]Type{
	"i8": I8, "i16": I16, "i32": I32, "i64": I64, "i128": I128, "isize": Isize,
	"u8": U8, "u16": U16, "u32": U32, "u64": U64, "u128": U128, "usize": Usize,
	"bool": Bool{},
	"char": Char{},
}

// Builtin returns primitive type by its name.
func Builtin(name string) (Type, bool) {
	t, ok := builtins[name]
	return t, ok
}

func (x Int) String() string {
	p := "u"
	if x.Signed {
		p = "i"
	}

	if x.Bits == 0 {
		return p + "size"
	}

	return fmt.Sprintf("%s%d", p, x.Bits)
}

func (Bool) String() string  { return "bool" }
func (Char) String() string  { return "char" }
func (Never) String() string { return "!" }

func (x Ptr) String() string {
	switch {
	case x.Ref && x.Mut:
		return "&mut " + x.Elem.String()
	case x.Ref:
		return "&" + x.Elem.String()
	case x.Mut:
		return "*mut " + x.Elem.String()
	default:
		return "*const " + x.Elem.String()
	}
}

func (x FnPtr) String() string {
	var b strings.Builder

	b.WriteString("fn(")
	joinTypes(&b, x.In)
	b.WriteString(")")

	if x.Out != nil && !IsUnit(x.Out) {
		b.WriteString(" -> ")
		b.WriteString(x.Out.String())
	}

	return b.String()
}

func (x Array) String() string {
	return fmt.Sprintf("[%v; %d]", x.Elem, x.Len)
}

func (x Tuple) String() string {
	var b strings.Builder

	b.WriteString("(")
	joinTypes(&b, x.Elems)

	if len(x.Elems) == 1 {
		b.WriteString(",")
	}

	b.WriteString(")")

	return b.String()
}

func (x Struct) String() string { return x.Name }
func (x Union) String() string  { return x.Name }
func (x Enum) String() string   { return x.Name }
func (x Named) String() string  { return x.Name }

// VariantIndex finds variant by name.
func (x Enum) VariantIndex(name string) int {
	for i, v := range x.Variants {
		if v.Name == name {
			return i
		}
	}

	return -1
}

// VariantByDiscr finds variant by its discriminant value.
func (x Enum) VariantByDiscr(d int64) int {
	for i, v := range x.Variants {
		if v.Discr == d {
			return i
		}
	}

	return -1
}

// Underlying resolves named types to their declarations.
func Underlying(t Type) Type {
	for {
		n, ok := t.(Named)
		if !ok {
			return t
		}

		if n.Decl == nil || n.Decl.Type == nil {
			return nil
		}

		t = n.Decl.Type
	}
}

// Equal reports type identity. Declared types are identical by name.
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.String() == b.String()
}

func IsUnit(t Type) bool {
	x, ok := t.(Tuple)

	return ok && len(x.Elems) == 0
}

func IsInt(t Type) bool {
	_, ok := t.(Int)
	return ok
}

func IsPtr(t Type) bool {
	switch t.(type) {
	case Ptr, FnPtr:
		return true
	}

	return false
}

// Elems returns field types of aggregate t.
// For enums variant selects the variant, otherwise it's ignored.
func Elems(t Type, variant int) ([]Type, bool) {
	switch u := Underlying(t).(type) {
	case Tuple:
		return u.Elems, true
	case Struct:
		return fieldTypes(u.Fields), true
	case Union:
		return fieldTypes(u.Fields), true
	case Enum:
		if variant < 0 || variant >= len(u.Variants) {
			return nil, false
		}

		return u.Variants[variant].Fields, true
	}

	return nil, false
}

func fieldTypes(fs []Field) []Type {
	l := make([]Type, len(fs))

	for i, f := range fs {
		l[i] = f.Type
	}

	return l
}

func joinTypes(b *strings.Builder, l []Type) {
	for i, t := range l {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(t.String())
	}
}
