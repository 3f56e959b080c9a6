package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mir/compiler/tp"
)

const validityTypes = `
struct S { a: u8, b: (u8, bool) }
enum E { A, B(u8, bool) }
struct Cell { v: u8, me: &Cell }

fn main() {
	bb0: { return }
}
`

func named(t *testing.T, m *Interp, name string) tp.Type {
	t.Helper()

	d := m.Prog.Type(name)
	require.NotNil(t, d, "type %v", name)

	return tp.Named{Name: name, Decl: d}
}

// memValue allocates a value of type typ holding data.
// nil data leaves the memory uninitialized.
func memValue(t *testing.T, m *Interp, typ tp.Type, data []byte) Operand {
	t.Helper()

	lay, err := m.layoutOf(typ)
	require.NoError(t, err)

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindHeap)
	require.NoError(t, err)

	p := Pointer{Alloc: id}

	if data != nil {
		require.Len(t, data, lay.Size)
		require.NoError(t, m.Mem.WriteBytes(p, data))
	}

	return Operand{Mem: &MemPlace{Ptr: p, Align: lay.Align}, Type: typ, Layout: lay}
}

func requireInvalid(t *testing.T, err error, path, expected string) *Error {
	t.Helper()

	e := requireKind(t, err, InvalidValue)
	assert.Equal(t, path, e.Path)
	assert.Equal(t, expected, e.Expected)

	return e
}

func TestValidateAggregates(t *testing.T) {
	m := newTestInterp(t, validityTypes)

	s := named(t, m, "S")
	require.NoError(t, m.Validate(memValue(t, m, s, []byte{1, 2, 1})))

	e := requireInvalid(t, m.Validate(memValue(t, m, s, []byte{1, 2, 7})), ".b.1", "a boolean")
	assert.Equal(t, "0x7", e.Found)
	assert.Contains(t, e.Error(), "InvalidValue at .b.1: expected a boolean, found 0x7")

	arr := tp.Array{Elem: tp.Bool{}, Len: 4}
	requireInvalid(t, m.Validate(memValue(t, m, arr, []byte{1, 0, 1, 2})), "[3]", "a boolean")

	e = requireInvalid(t, m.Validate(memValue(t, m, tp.U32, nil)), "", "an initialized integer")
	assert.Equal(t, "uninitialized bytes", e.Found)

	ch := memValue(t, m, tp.Char{}, []byte{0x00, 0xd8, 0, 0})
	requireInvalid(t, m.Validate(ch), "", "a valid unicode scalar value")
}

func TestValidateEnums(t *testing.T) {
	m := newTestInterp(t, validityTypes)

	en := named(t, m, "E")

	require.NoError(t, m.Validate(memValue(t, m, en, []byte{0, 0xaa, 0xbb})))
	require.NoError(t, m.Validate(memValue(t, m, en, []byte{1, 7, 1})))

	e := requireInvalid(t, m.Validate(memValue(t, m, en, []byte{1, 7, 5})), ".<variant B>.1", "a boolean")
	assert.Equal(t, "0x5", e.Found)

	e = requireInvalid(t, m.Validate(memValue(t, m, en, []byte{9, 0, 0})), "", "a valid enum tag")
	assert.Equal(t, "9", e.Found)

	s := tp.Tuple{Elems: []tp.Type{tp.U8, en}}
	requireInvalid(t, m.Validate(memValue(t, m, s, []byte{0, 9, 0, 0})), ".1", "a valid enum tag")
}

func TestValidateReferences(t *testing.T) {
	m := newTestInterp(t, validityTypes)

	ref := tp.Ptr{Elem: tp.U32, Ref: true}
	raw := tp.Ptr{Elem: tp.U32}

	null, err := m.scalarOperand(ScalarUint(0, 8), ref)
	require.NoError(t, err)

	e := requireInvalid(t, m.Validate(null), "", "a non-null reference")
	assert.Equal(t, "a null reference", e.Found)

	null.Type = raw
	require.NoError(t, m.Validate(null))

	addr, err := m.scalarOperand(ScalarUint(0x1000, 8), ref)
	require.NoError(t, err)

	e = requireInvalid(t, m.Validate(addr), "", "a dereferenceable reference")
	assert.Contains(t, e.Found, "a dangling reference")

	id, err := m.Mem.Allocate(4, 4, KindHeap)
	require.NoError(t, err)

	p, err := m.scalarOperand(ScalarPtr(Pointer{Alloc: id}, 8), ref)
	require.NoError(t, err)

	e = requireInvalid(t, m.Validate(p), ".<deref>", "an initialized integer")
	assert.Equal(t, "uninitialized bytes", e.Found)

	require.NoError(t, m.Mem.WriteScalar(Pointer{Alloc: id}, defined(ScalarUint(5, 4)), 4))
	require.NoError(t, m.Validate(p))

	require.NoError(t, m.Mem.Deallocate(id, KindHeap))

	e = requireInvalid(t, m.Validate(p), "", "a dereferenceable reference")
	assert.Contains(t, e.Found, "DanglingPointer")

	small, err := m.Mem.Allocate(2, 2, KindHeap)
	require.NoError(t, err)

	p, err = m.scalarOperand(ScalarPtr(Pointer{Alloc: small}, 8), ref)
	require.NoError(t, err)

	e = requireInvalid(t, m.Validate(p), "", "a dereferenceable reference")
	assert.Contains(t, e.Found, "PointerOutOfBounds")

	ptrInt, err := m.scalarOperand(ScalarPtr(Pointer{Alloc: small}, 8), tp.U64)
	require.NoError(t, err)

	e = requireInvalid(t, m.Validate(ptrInt), "", "an initialized integer")
	assert.Equal(t, "a pointer", e.Found)
}

func TestValidateCycle(t *testing.T) {
	m := newTestInterp(t, validityTypes)

	cell := named(t, m, "Cell")
	op := memValue(t, m, cell, nil)

	lay := op.Layout
	self := op.Mem.Ptr

	require.NoError(t, m.Mem.WriteScalar(self, defined(ScalarUint(1, 1)), 1))
	require.NoError(t, m.Mem.WriteScalar(self.Add(lay.Fields[1]), defined(ScalarPtr(self, 8)), 8))

	require.NoError(t, m.Validate(op))

	require.NoError(t, m.Mem.WriteScalar(self, defined(ScalarUint(1, 1)), 1))

	other := memValue(t, m, cell, nil)
	require.NoError(t, m.Mem.WriteScalar(self.Add(lay.Fields[1]), defined(ScalarPtr(other.Mem.Ptr, 8)), 8))

	e := requireInvalid(t, m.Validate(op), ".me.<deref>.v", "an initialized integer")
	assert.Equal(t, "uninitialized bytes", e.Found)
}

func TestRenderValues(t *testing.T) {
	m := newTestInterp(t, validityTypes)

	for _, tc := range []struct {
		typ  tp.Type
		data []byte
		exp  string
	}{
		{typ: named(t, m, "S"), data: []byte{1, 2, 1}, exp: "S { a: 1, b: (2, true) }"},
		{typ: named(t, m, "E"), data: []byte{1, 7, 0}, exp: "E::B(7, false)"},
		{typ: named(t, m, "E"), data: []byte{0, 0, 0}, exp: "E::A"},
		{typ: tp.Array{Elem: tp.I8, Len: 3}, data: []byte{1, 0xff, 0x80}, exp: "[1, -1, -128]"},
		{typ: tp.Tuple{Elems: []tp.Type{tp.U16}}, data: []byte{0x34, 0x12}, exp: "(4660,)"},
		{typ: tp.Char{}, data: []byte{'x', 0, 0, 0}, exp: "'x'"},
	} {
		b, err := m.AppendValue(nil, memValue(t, m, tc.typ, tc.data))
		if assert.NoError(t, err, "%v", tc.typ) {
			assert.Equal(t, tc.exp, string(b), "%v", tc.typ)
		}
	}
}
