package ir

import (
	"github.com/slowlang/mir/compiler/tp"
)

type (
	Stmt interface {
		Pos() Span
	}

	Assign struct {
		Span

		Place  Place
		Rvalue Rvalue
	}

	StorageLive struct {
		Span

		Local Local
	}

	StorageDead struct {
		Span

		Local Local
	}

	SetDiscriminant struct {
		Span

		Place   Place
		Variant string
	}

	// Assert fails with Kind unless Cond evaluates to Expected.
	Assert struct {
		Span

		Cond     Operand
		Expected bool
		Kind     AssertKind
		Msg      string
	}

	Nop struct {
		Span
	}

	AssertKind int
)

const (
	AssertOverflow AssertKind = iota
	AssertBounds
	AssertDivByZero
	AssertRemByZero
	AssertCustom
)

var assertNames = []string{
	AssertOverflow:  "overflow",
	AssertBounds:    "bounds",
	AssertDivByZero: "div_by_zero",
	AssertRemByZero: "rem_by_zero",
	AssertCustom:    "custom",
}

func (k AssertKind) String() string {
	if k < 0 || int(k) >= len(assertNames) {
		return "assert?"
	}

	return assertNames[k]
}

func ParseAssertKind(s string) (AssertKind, bool) {
	for k, n := range assertNames {
		if n == s {
			return AssertKind(k), true
		}
	}

	return 0, false
}

type (
	Rvalue interface {
		rvalue()
	}

	Use struct {
		X Operand
	}

	BinaryOp struct {
		Op   BinOp
		L, R Operand
	}

	// CheckedBinaryOp produces (result, overflowed) tuple.
	CheckedBinaryOp struct {
		Op   BinOp
		L, R Operand
	}

	UnaryOp struct {
		Op UnOp
		X  Operand
	}

	Ref struct {
		Place Place
		Mut   bool
	}

	AddressOf struct {
		Place Place
		Mut   bool
	}

	Cast struct {
		X    Operand
		Type tp.Type
	}

	// Aggregate builds a value field by field.
	// Type and Variant are used for declared types only,
	// tuples and arrays take the type of the destination.
	// For unions Variant names the initialized field.
	Aggregate struct {
		Kind    AggKind
		Type    tp.Type
		Variant string
		Ops     []Operand
	}

	Len struct {
		Place Place
	}

	Discriminant struct {
		Place Place
	}

	SizeOf struct {
		Type tp.Type
	}

	AlignOf struct {
		Type tp.Type
	}

	AggKind int

	BinOp int
	UnOp  int
)

const (
	AggTuple AggKind = iota
	AggArray
	AggAdt
)

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	Offset
)

const (
	Not UnOp = iota
	Neg
)

var binOpNames = []string{
	Add: "Add", Sub: "Sub", Mul: "Mul", Div: "Div", Rem: "Rem",
	BitAnd: "BitAnd", BitOr: "BitOr", BitXor: "BitXor", Shl: "Shl", Shr: "Shr",
	Eq: "Eq", Ne: "Ne", Lt: "Lt", Le: "Le", Gt: "Gt", Ge: "Ge",
	Offset: "Offset",
}

func (op BinOp) String() string {
	if op < 0 || int(op) >= len(binOpNames) {
		return "BinOp?"
	}

	return binOpNames[op]
}

func ParseBinOp(s string) (BinOp, bool) {
	for i, n := range binOpNames {
		if n == s {
			return BinOp(i), true
		}
	}

	return 0, false
}

// IsComparison reports whether op produces bool.
func (op BinOp) IsComparison() bool {
	return op >= Eq && op <= Ge
}

// Checkable reports whether op has a checked form.
func (op BinOp) Checkable() bool {
	switch op {
	case Add, Sub, Mul, Shl, Shr:
		return true
	}

	return false
}

func (op UnOp) String() string {
	if op == Neg {
		return "Neg"
	}

	return "Not"
}

func (Use) rvalue()             {}
func (BinaryOp) rvalue()        {}
func (CheckedBinaryOp) rvalue() {}
func (UnaryOp) rvalue()         {}
func (Ref) rvalue()             {}
func (AddressOf) rvalue()       {}
func (Cast) rvalue()            {}
func (Aggregate) rvalue()       {}
func (Len) rvalue()             {}
func (Discriminant) rvalue()    {}
func (SizeOf) rvalue()          {}
func (AlignOf) rvalue()         {}

type (
	Operand interface {
		operand()
	}

	Copy struct {
		Place Place
	}

	Move struct {
		Place Place
	}

	// Constant operand. Type may be nil for references to functions, statics and consts,
	// the interpreter derives it from the program.
	Constant struct {
		Value Value
		Type  tp.Type
	}
)

func (Copy) operand()     {}
func (Move) operand()     {}
func (Constant) operand() {}

type (
	Place struct {
		Local Local
		Proj  []Elem
	}

	Elem interface {
		elem()
	}

	Field struct {
		Index int
	}

	Index struct {
		Local Local
	}

	ConstIndex struct {
		Offset int
	}

	Deref struct{}

	// Downcast selects enum variant by Name, or by Index if Name is empty.
	Downcast struct {
		Name  string
		Index int
	}
)

func (Field) elem()      {}
func (Index) elem()      {}
func (ConstIndex) elem() {}
func (Deref) elem()      {}
func (Downcast) elem()   {}

func LocalPlace(l Local) Place {
	return Place{Local: l}
}

// IsLocal reports whether the place is a bare local without projections.
func (p Place) IsLocal() bool {
	return len(p.Proj) == 0
}

// Project returns a copy of p extended with e.
func (p Place) Project(e ...Elem) Place {
	proj := make([]Elem, 0, len(p.Proj)+len(e))
	proj = append(proj, p.Proj...)
	proj = append(proj, e...)

	return Place{Local: p.Local, Proj: proj}
}
