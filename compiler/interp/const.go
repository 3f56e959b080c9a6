package interp

import (
	"context"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/set"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// ConstResolver provides values of named constants.
	ConstResolver interface {
		ResolveConst(ctx context.Context, name string) (*ConstValue, error)
	}

	// ConstValue is a constant detached from any interpreter.
	// Init is the initialization mask, Funcs are function pointers stored at offsets.
	// Pointers to any other memory can't be a part of a constant.
	ConstValue struct {
		Type  string         `cbor:"1,keyasint"`
		Bytes []byte         `cbor:"2,keyasint"`
		Init  []uint64       `cbor:"3,keyasint"`
		Funcs map[int]string `cbor:"4,keyasint,omitempty"`

		typ tp.Type
	}
)

// NewConstValue makes a value of type t. Init and Funcs are filled by the caller.
func NewConstValue(t tp.Type, data []byte) *ConstValue {
	return &ConstValue{Type: t.String(), Bytes: data, typ: t}
}

func (v *ConstValue) TypeOf() tp.Type { return v.typ }

// SetType binds the decoded type name back to t.
func (v *ConstValue) SetType(t tp.Type) { v.typ = t }

func (v *ConstValue) InitMask() set.Bitmap { return set.FromWords(v.Init) }

// Snapshot detaches op from the interpreter memory.
func (m *Interp) Snapshot(op Operand) (*ConstValue, error) {
	lay := op.Layout

	src := op.Mem
	if src == nil {
		tmp, err := m.tempAlloc(lay)
		if err != nil {
			return nil, err
		}

		if err = m.writeToMem(tmp, op, lay); err != nil {
			return nil, err
		}

		src = &tmp
	}

	a, err := m.Mem.Get(src.Ptr.Alloc)
	if err != nil {
		return nil, err
	}

	if src.Ptr.Offset < 0 || src.Ptr.Offset+lay.Size > a.Size() {
		return nil, newError(PointerOutOfBounds, "snapshot of %d bytes at %v", lay.Size, src.Ptr)
	}

	off := src.Ptr.Offset

	v := NewConstValue(op.Type, append([]byte{}, a.Bytes[off:off+lay.Size]...))

	init := set.MakeBitmap(lay.Size)
	init.CopyFrom(0, &a.Init, off, lay.Size)
	v.Init = init.Words()

	for _, o := range a.relocsIn(off, lay.Size, m.Mem.PtrSize) {
		p := a.Relocs[o]

		name, err := m.Mem.FnName(ScalarPtr(p, m.Mem.PtrSize))
		if err != nil {
			return nil, newError(ConstHasPointer, "pointer to %v at offset %d", p, o-off)
		}

		if v.Funcs == nil {
			v.Funcs = make(map[int]string)
		}

		v.Funcs[o-off] = name
	}

	return v, nil
}

// materialize copies v into a fresh read-only allocation.
func (m *Interp) materialize(v *ConstValue, name string) (Pointer, error) {
	lay, err := m.layoutOf(v.typ)
	if err != nil {
		return Pointer{}, err
	}

	if lay.Size != len(v.Bytes) {
		return Pointer{}, newError(LayoutError, "constant %v has %d bytes, %v takes %d", name, len(v.Bytes), v.Type, lay.Size)
	}

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStatic)
	if err != nil {
		return Pointer{}, err
	}

	a, _ := m.Mem.Get(id)
	a.Name = name

	copy(a.Bytes, v.Bytes)

	init := v.InitMask()
	a.Init.CopyFrom(0, &init, 0, lay.Size)

	for off, fn := range v.Funcs {
		a.setReloc(off, m.Mem.FnPointer(fn))
	}

	return Pointer{Alloc: id}, nil
}

// Const returns the value of named constant materialized in the interpreter memory.
func (m *Interp) Const(ctx context.Context, name string) (Operand, error) {
	return m.constOperand(ctx, name)
}

func (m *Interp) constOperand(ctx context.Context, name string) (Operand, error) {
	c, ok := m.consts[name]
	if !ok {
		if m.Consts == nil {
			return Operand{}, newError(InvalidProgram, "constant %v: no resolver", name)
		}

		v, err := m.Consts.ResolveConst(ctx, name)
		if err != nil {
			return Operand{}, err
		}

		p, err := m.materialize(v, name)
		if err != nil {
			return Operand{}, err
		}

		c = constSlot{ptr: p, typ: v.typ}
		m.consts[name] = c
	}

	op, err := m.memOperand(MemPlace{Ptr: c.ptr}, c.typ)
	if err != nil {
		return Operand{}, err
	}

	op.Mem.Align = op.Layout.Align

	return op, nil
}

// staticPtr returns the allocation of static name initializing it on first use.
func (m *Interp) staticPtr(ctx context.Context, name string) (Pointer, error) {
	if id, ok := m.statics[name]; ok {
		return Pointer{Alloc: id}, nil
	}

	s := m.Prog.Static(name)
	if s == nil {
		return Pointer{}, newError(InvalidProgram, "no static %v", name)
	}

	lay, err := m.layoutOf(s.Type)
	if err != nil {
		return Pointer{}, err
	}

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStatic)
	if err != nil {
		return Pointer{}, err
	}

	m.statics[name] = id

	a, _ := m.Mem.Get(id)
	a.Name = name

	err = m.initStatic(ctx, a, s.Type, s.Init)
	if err != nil {
		return Pointer{}, withMsg(err, "static %v", name)
	}

	a.Mutable = s.Mut

	return Pointer{Alloc: id}, nil
}

func (m *Interp) initStatic(ctx context.Context, a *Allocation, t tp.Type, v ir.Value) error {
	a.Mutable = true
	defer func() { a.Mutable = false }()

	return m.writeValue(ctx, Pointer{Alloc: a.ID}, t, v)
}

// evalConstant evaluates a constant operand.
func (m *Interp) evalConstant(ctx context.Context, c ir.Constant) (Operand, error) {
	t := c.Type

	switch v := c.Value.(type) {
	case ir.FnRef:
		if t == nil {
			f := m.Prog.Func(v.Name)

			switch {
			case f != nil:
				t = f.Sig()
			case m.Intrinsics[v.Name] != nil:
				t = tp.FnPtr{Out: tp.Unit}
			default:
				return Operand{}, newError(InvalidProgram, "no function %v", v.Name)
			}
		}

		return m.scalarOperand(ScalarPtr(m.Mem.FnPointer(v.Name), m.Mem.PtrSize), t)
	case ir.StaticRef:
		s := m.Prog.Static(v.Name)
		if s == nil {
			return Operand{}, newError(InvalidProgram, "no static %v", v.Name)
		}

		if t == nil {
			t = tp.Ptr{Elem: s.Type, Mut: s.Mut, Ref: true}
		}

		p, err := m.staticPtr(ctx, v.Name)
		if err != nil {
			return Operand{}, err
		}

		return m.scalarOperand(ScalarPtr(p, m.Mem.PtrSize), t)
	case ir.ConstRef:
		op, err := m.constOperand(ctx, v.Name)
		if err != nil {
			return Operand{}, err
		}

		if t != nil && !tp.Equal(t, op.Type) {
			return Operand{}, newError(InvalidProgram, "constant %v is %v, used as %v", v.Name, op.Type, t)
		}

		return op, nil
	}

	if t == nil {
		return Operand{}, newError(InvalidProgram, "constant %v without a type", c.Value)
	}

	lay, err := m.layoutOf(t)
	if err != nil {
		return Operand{}, err
	}

	switch v := c.Value.(type) {
	case ir.Int:
		if lay.Abi != tp.AbiScalar {
			return Operand{}, newError(InvalidProgram, "integer constant of type %v", t)
		}

		return Operand{Imm: ScalarImm(ScalarBits(&v.V, lay.Scalar.Size)), Type: t, Layout: lay}, nil
	case ir.Bool:
		return Operand{Imm: ScalarImm(ScalarBool(bool(v))), Type: t, Layout: lay}, nil
	case ir.Unit:
		return Operand{Imm: &Immediate{}, Type: t, Layout: lay}, nil
	}

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStatic)
	if err != nil {
		return Operand{}, err
	}

	a, _ := m.Mem.Get(id)

	err = m.initStatic(ctx, a, t, c.Value)
	if err != nil {
		return Operand{}, err
	}

	return Operand{Mem: &MemPlace{Ptr: Pointer{Alloc: id}, Align: lay.Align}, Type: t, Layout: lay}, nil
}

// writeValue stores constant v of type t at p.
func (m *Interp) writeValue(ctx context.Context, p Pointer, t tp.Type, v ir.Value) error {
	lay, err := m.layoutOf(t)
	if err != nil {
		return err
	}

	ps := m.Mem.PtrSize

	switch v := v.(type) {
	case ir.Int:
		if lay.Abi != tp.AbiScalar {
			return newError(InvalidProgram, "integer constant of type %v", t)
		}

		return m.Mem.WriteScalar(p, defined(ScalarBits(&v.V, lay.Scalar.Size)), lay.Align)
	case ir.Bool:
		return m.Mem.WriteScalar(p, defined(ScalarBool(bool(v))), 1)
	case ir.Unit:
		if !lay.IsZST() {
			return newError(InvalidProgram, "unit constant of type %v", t)
		}

		return nil
	case ir.FnRef:
		if m.Prog.Func(v.Name) == nil && m.Intrinsics[v.Name] == nil {
			return newError(InvalidProgram, "no function %v", v.Name)
		}

		return m.Mem.WriteScalar(p, defined(ScalarPtr(m.Mem.FnPointer(v.Name), ps)), ps)
	case ir.StaticRef:
		sp, err := m.staticPtr(ctx, v.Name)
		if err != nil {
			return err
		}

		return m.Mem.WriteScalar(p, defined(ScalarPtr(sp, ps)), ps)
	case ir.ConstRef:
		op, err := m.constOperand(ctx, v.Name)
		if err != nil {
			return err
		}

		if !tp.Equal(op.Type, t) {
			return newError(InvalidProgram, "constant %v is %v, used as %v", v.Name, op.Type, t)
		}

		return m.Mem.CopyRange(op.Mem.Ptr, p, lay.Size, true)
	case ir.Bytes:
		return m.writeBytesValue(p, t, v)
	case ir.Array:
		return m.writeArrayValue(ctx, p, t, lay, v)
	default:
		return newError(InvalidProgram, "unsupported constant %T", v)
	}
}

func (m *Interp) writeBytesValue(p Pointer, t tp.Type, v ir.Bytes) error {
	switch u := tp.Underlying(t).(type) {
	case tp.Array:
		if !tp.Equal(u.Elem, tp.U8) || u.Len != len(v) {
			return newError(InvalidProgram, "byte string of %d bytes as %v", len(v), t)
		}

		return m.Mem.WriteBytes(p, v)
	case tp.Ptr:
		id, err := m.Mem.Allocate(len(v), 1, KindStatic)
		if err != nil {
			return err
		}

		a, _ := m.Mem.Get(id)

		copy(a.Bytes, v)
		a.Init.SetRange(0, len(v))

		return m.Mem.WriteScalar(p, defined(ScalarPtr(Pointer{Alloc: id}, m.Mem.PtrSize)), m.Mem.PtrSize)
	default:
		return newError(InvalidProgram, "byte string as %v", t)
	}
}

func (m *Interp) writeArrayValue(ctx context.Context, p Pointer, t tp.Type, lay *tp.Layout, v ir.Array) error {
	var elems []tp.Type

	switch u := tp.Underlying(t).(type) {
	case tp.Array:
		if u.Len != len(v) {
			return newError(InvalidProgram, "%d elements as %v", len(v), t)
		}

		elems = make([]tp.Type, len(v))
		for i := range elems {
			elems[i] = u.Elem
		}
	case tp.Tuple, tp.Struct:
		elems, _ = tp.Elems(u, 0)

		if len(elems) != len(v) {
			return newError(InvalidProgram, "%d elements as %v", len(v), t)
		}
	default:
		return newError(InvalidProgram, "aggregate constant as %v", t)
	}

	for i, x := range v {
		off, ok := lay.FieldOffset(0, i)
		if !ok {
			return newError(LayoutError, "field %d of %v", i, t)
		}

		err := m.writeValue(ctx, p.Add(off), elems[i], x)
		if err != nil {
			return withMsg(err, "element %d", i)
		}
	}

	return nil
}
