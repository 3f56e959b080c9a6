package interp

import (
	"context"
	"math/bits"
	"sort"

	"fortio.org/safecast"
	"github.com/holiman/uint256"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Intrinsic is a function implemented by the interpreter.
	// Args < 0 means any number of arguments.
	Intrinsic struct {
		Name      string
		Args      int
		Diverging bool

		Fn IntrinsicFunc
	}

	// IntrinsicFunc returns the call result of type ret.
	// A Panic error starts unwinding.
	IntrinsicFunc func(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error)
)

// DefaultIntrinsics returns a fresh registry of builtin functions.
func DefaultIntrinsics() map[string]*Intrinsic {
	l := []*Intrinsic{
		{Name: "panic", Args: -1, Diverging: true, Fn: intrPanic},
		{Name: "abort", Args: 0, Diverging: true, Fn: intrAbort},
		{Name: "alloc", Args: 2, Fn: intrAlloc},
		{Name: "dealloc", Args: 3, Fn: intrDealloc},
		{Name: "realloc", Args: 4, Fn: intrRealloc},
		{Name: "copy_nonoverlapping", Args: 3, Fn: intrCopy(true)},
		{Name: "copy", Args: 3, Fn: intrCopy(false)},
		{Name: "write_bytes", Args: 3, Fn: intrWriteBytes},
		{Name: "transmute", Args: 1, Fn: intrTransmute},
		{Name: "assume", Args: 1, Fn: intrAssume},
		{Name: "exact_div", Args: 2, Fn: intrExactDiv},
		{Name: "wrapping_add", Args: 2, Fn: intrWrapping(ir.Add)},
		{Name: "wrapping_sub", Args: 2, Fn: intrWrapping(ir.Sub)},
		{Name: "wrapping_mul", Args: 2, Fn: intrWrapping(ir.Mul)},
		{Name: "ctpop", Args: 1, Fn: intrCtpop},
		{Name: "black_box", Args: 1, Fn: intrBlackBox},
		{Name: "size_of", Args: 1, Fn: intrSizeOf},
		{Name: "align_of", Args: 1, Fn: intrAlignOf},
	}

	r := make(map[string]*Intrinsic, len(l))

	for _, in := range l {
		r[in.Name] = in
	}

	return r
}

// IsIntrinsic reports whether name is a default intrinsic.
func IsIntrinsic(name string) bool {
	_, ok := defaultNames[name]
	return ok
}

// IntrinsicNames lists default intrinsics.
func IntrinsicNames() []string {
	l := make([]string, 0, len(defaultNames))

	for n := range defaultNames {
		l = append(l, n)
	}

	sort.Strings(l)

	return l
}

var defaultNames = func() map[string]struct{} {
	r := map[string]struct{}{}

	for n := range DefaultIntrinsics() {
		r[n] = struct{}{}
	}

	return r
}()

func (m *Interp) callIntrinsic(ctx context.Context, in *Intrinsic, args []Operand, ret tp.Type) (Operand, error) {
	if in.Args >= 0 && len(args) != in.Args {
		return Operand{}, newError(ArgumentCountMismatch, "%v takes %d arguments, got %d", in.Name, in.Args, len(args))
	}

	if m.Config.Validation.Edges() {
		for i, a := range args {
			if err := m.Validate(a); err != nil {
				return Operand{}, withMsg(err, "argument %d of %v", i, in.Name)
			}
		}
	}

	return in.Fn(ctx, m, args, ret)
}

func intrPanic(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	msg := "explicit panic"

	if len(args) != 0 {
		if s, ok := m.readString(args[0]); ok {
			msg = s
		}
	}

	return Operand{}, newError(Panic, "%s", msg)
}

// readString reads a byte array or a reference to one.
func (m *Interp) readString(op Operand) (string, bool) {
	if pt, ok := tp.Underlying(op.Type).(tp.Ptr); ok {
		if _, ok := tp.Underlying(pt.Elem).(tp.Array); !ok {
			return "", false
		}

		pl, err := m.Deref(op)
		if err != nil {
			return "", false
		}

		op, err = m.PlaceToOp(pl)
		if err != nil {
			return "", false
		}
	}

	a, ok := tp.Underlying(op.Type).(tp.Array)
	if !ok || !tp.Equal(a.Elem, tp.U8) || op.Mem == nil {
		return "", false
	}

	b, err := m.Mem.ReadBytes(op.Mem.Ptr, a.Len)
	if err != nil {
		return "", false
	}

	return string(b), true
}

func intrAbort(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	return Operand{}, newError(Aborted, "abort called")
}

func (m *Interp) heapPtrType(ret tp.Type) tp.Type {
	if _, ok := tp.Underlying(ret).(tp.Ptr); ok {
		return ret
	}

	return tp.Ptr{Elem: tp.U8, Mut: true}
}

func intrAlloc(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	size, err := m.readUint(args[0])
	if err != nil {
		return Operand{}, err
	}

	align, err := m.readAlign(args[1])
	if err != nil {
		return Operand{}, err
	}

	id, err := m.Mem.AllocateSize(size, align, KindHeap)
	if err != nil {
		return Operand{}, err
	}

	return m.scalarOperand(ScalarPtr(Pointer{Alloc: id, Tag: m.Mem.NewTag()}, m.Mem.PtrSize), m.heapPtrType(ret))
}

func (m *Interp) readAlign(op Operand) (int, error) {
	a, err := m.readUint(op)
	if err != nil {
		return 0, err
	}

	if a == 0 || a&(a-1) != 0 || a > 1<<29 {
		return 0, newError(UndefinedBehavior, "invalid alignment %d", a)
	}

	return int(a), nil
}

// heapBlock checks p is the start of a heap allocation of size and align.
func (m *Interp) heapBlock(op Operand, sizeOp, alignOp Operand) (Pointer, error) {
	p, s, err := m.readPointer(op)
	if err != nil {
		return Pointer{}, err
	}

	if p.Alloc == 0 {
		return Pointer{}, newError(UndefinedBehavior, "dealloc of %v", s)
	}

	size, err := m.readUint(sizeOp)
	if err != nil {
		return Pointer{}, err
	}

	align, err := m.readAlign(alignOp)
	if err != nil {
		return Pointer{}, err
	}

	if p.Offset != 0 {
		return Pointer{}, newError(UndefinedBehavior, "dealloc of %v not at the start of allocation", p)
	}

	// freed allocations are reported by Deallocate
	if a, err := m.Mem.Get(p.Alloc); err == nil && (uint64(a.Size()) != size || a.Align != align) {
		return Pointer{}, newError(UndefinedBehavior, "dealloc of %v: size %d align %d, allocated with size %d align %d", p, size, align, a.Size(), a.Align)
	}

	return p, nil
}

func intrDealloc(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	p, err := m.heapBlock(args[0], args[1], args[2])
	if err != nil {
		return Operand{}, err
	}

	err = m.Mem.Deallocate(p.Alloc, KindHeap)
	if err != nil {
		return Operand{}, err
	}

	return m.unitOperand(), nil
}

func intrRealloc(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	p, err := m.heapBlock(args[0], args[1], args[2])
	if err != nil {
		return Operand{}, err
	}

	old, _ := m.readUint(args[1])
	align, _ := m.readAlign(args[2])

	size, err := m.readUint(args[3])
	if err != nil {
		return Operand{}, err
	}

	id, err := m.Mem.AllocateSize(size, align, KindHeap)
	if err != nil {
		return Operand{}, err
	}

	n, err := safecast.Convert[int](min(old, size))
	if err != nil {
		return Operand{}, wrapError(SizeOverflow, err, "realloc to %d bytes", size)
	}

	err = m.Mem.CopyRange(p, Pointer{Alloc: id}, n, true)
	if err != nil {
		return Operand{}, err
	}

	err = m.Mem.Deallocate(p.Alloc, KindHeap)
	if err != nil {
		return Operand{}, err
	}

	return m.scalarOperand(ScalarPtr(Pointer{Alloc: id, Tag: m.Mem.NewTag()}, m.Mem.PtrSize), args[0].Type)
}

// elemBytes returns the size of count elements pointed to by op.
func (m *Interp) elemBytes(op Operand, count Operand) (int, error) {
	pt, ok := tp.Underlying(op.Type).(tp.Ptr)
	if !ok {
		return 0, newError(InvalidProgram, "expected a pointer, got %v", op.Type)
	}

	lay, err := m.layoutOf(pt.Elem)
	if err != nil {
		return 0, err
	}

	n, err := m.readUint(count)
	if err != nil {
		return 0, err
	}

	total := n * uint64(lay.Size)
	if lay.Size != 0 && total/uint64(lay.Size) != n {
		return 0, newError(SizeOverflow, "%d elements of %v", n, pt.Elem)
	}

	b, err := safecast.Convert[int](total)
	if err != nil {
		return 0, wrapError(SizeOverflow, err, "%d elements of %v", n, pt.Elem)
	}

	return b, nil
}

func (m *Interp) ptrArg(op Operand, n int) (Pointer, error) {
	p, s, err := m.readPointer(op)
	if err != nil {
		return Pointer{}, err
	}

	if n != 0 && s.IsNull() {
		return Pointer{}, newError(NullPointerDeref, "access of %d bytes", n)
	}

	return p, nil
}

func intrCopy(nonoverlapping bool) IntrinsicFunc {
	return func(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
		n, err := m.elemBytes(args[0], args[2])
		if err != nil {
			return Operand{}, err
		}

		src, err := m.ptrArg(args[0], n)
		if err != nil {
			return Operand{}, err
		}

		dst, err := m.ptrArg(args[1], n)
		if err != nil {
			return Operand{}, err
		}

		err = m.Mem.CopyRange(src, dst, n, nonoverlapping)
		if err != nil {
			return Operand{}, err
		}

		return m.unitOperand(), nil
	}
}

func intrWriteBytes(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	n, err := m.elemBytes(args[0], args[2])
	if err != nil {
		return Operand{}, err
	}

	dst, err := m.ptrArg(args[0], n)
	if err != nil {
		return Operand{}, err
	}

	c, err := m.readUint(args[1])
	if err != nil {
		return Operand{}, err
	}

	err = m.Mem.WriteRepeat(dst, byte(c), n)
	if err != nil {
		return Operand{}, err
	}

	return m.unitOperand(), nil
}

func intrTransmute(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	x := args[0]

	lay, err := m.layoutOf(ret)
	if err != nil {
		return Operand{}, err
	}

	if lay.Size != x.Layout.Size {
		return Operand{}, newError(LayoutError, "transmute of %v (%d bytes) to %v (%d bytes)", x.Type, x.Layout.Size, ret, lay.Size)
	}

	tmp, err := m.tempAlloc(lay)
	if err != nil {
		return Operand{}, err
	}

	err = m.writeToMem(tmp, x, x.Layout)
	if err != nil {
		return Operand{}, err
	}

	res := Operand{Mem: &tmp, Type: ret, Layout: lay}

	if m.Config.Validation.Edges() {
		if err := m.Validate(res); err != nil {
			return Operand{}, withMsg(err, "transmute to %v", ret)
		}
	}

	return res, nil
}

func intrAssume(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	ok, err := m.readBool(args[0])
	if err != nil {
		return Operand{}, err
	}

	if !ok {
		return Operand{}, newError(UndefinedBehavior, "assume(false)")
	}

	return m.unitOperand(), nil
}

func intrExactDiv(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	r, _, err := m.BinaryOp(ir.Rem, args[0], args[1], false)
	if err != nil {
		if IsKind(err, RemainderByZero) {
			return Operand{}, newError(DivisionByZero, "exact_div by zero")
		}

		return Operand{}, err
	}

	if !r.Imm.A.Bits.IsZero() {
		return Operand{}, newError(UndefinedBehavior, "exact_div with remainder %v", r.Imm.A.Scalar)
	}

	q, _, err := m.BinaryOp(ir.Div, args[0], args[1], false)

	return q, err
}

func intrWrapping(op ir.BinOp) IntrinsicFunc {
	return func(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
		if !tp.IsInt(tp.Underlying(args[0].Type)) {
			return Operand{}, newError(InvalidProgram, "wrapping %v of %v", op, args[0].Type)
		}

		r, _, err := m.BinaryOp(op, args[0], args[1], false)

		return r, err
	}
}

func intrCtpop(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	s, err := m.ReadScalar(args[0])
	if err != nil {
		return Operand{}, err
	}

	if s.Ptr != nil {
		return Operand{}, newError(PointerToIntCast, "ctpop of a pointer")
	}

	n := 0
	for _, w := range s.Bits {
		n += bits.OnesCount64(w)
	}

	return m.scalarOperand(ScalarBits(uint256.NewInt(uint64(n)), s.Size), args[0].Type)
}

func intrBlackBox(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	return args[0], nil
}

func intrSizeOf(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	return m.usizeOperand(uint64(args[0].Layout.Size))
}

func intrAlignOf(ctx context.Context, m *Interp, args []Operand, ret tp.Type) (Operand, error) {
	return m.usizeOperand(uint64(args[0].Layout.Align))
}

func (m *Interp) usizeOperand(v uint64) (Operand, error) {
	return m.scalarOperand(ScalarUint(v, m.Mem.PtrSize), tp.Usize)
}
