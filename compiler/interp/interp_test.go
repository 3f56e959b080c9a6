package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/parse"
	"github.com/slowlang/mir/compiler/tp"
)

func newTestInterp(t *testing.T, text string, opts ...func(*config.Config)) *Interp {
	t.Helper()

	p, err := parse.Parse(context.Background(), []byte(text))
	require.NoError(t, err)

	cfg := config.Default()

	for _, o := range opts {
		o(&cfg)
	}

	return New(p, cfg)
}

// callText runs name and renders the result.
func callText(t *testing.T, m *Interp, name string, args ...Operand) (string, error) {
	t.Helper()

	res, err := m.Call(context.Background(), name, args...)
	if err != nil {
		return "", err
	}

	require.NoError(t, m.Validate(res))

	b, err := m.AppendValue(nil, res)
	require.NoError(t, err)

	return string(b), nil
}

func intArg(t *testing.T, m *Interp, v int64, typ tp.Type) Operand {
	t.Helper()

	op, err := m.IntOperand(v, typ)
	require.NoError(t, err)

	return op
}

func requireKind(t *testing.T, err error, k ErrorKind) *Error {
	t.Helper()

	require.Error(t, err)
	require.True(t, IsKind(err, k), "expected %v, got %v", k, err)

	var e *Error
	require.ErrorAs(t, err, &e)

	return e
}

func TestAddTwoTwo(t *testing.T) {
	m := newTestInterp(t, `
fn main() -> i32 {
	bb0: {
		_0 = Add(const 2: i32, const 2: i32)
		return
	}
}
`)

	res, err := m.Call(context.Background(), "main")
	require.NoError(t, err)
	require.NotNil(t, res.Imm)
	assert.Nil(t, res.Mem)
	assert.False(t, res.Imm.Pair)
	assert.True(t, res.Imm.A.Equal(ScalarInt(4, 4)), "%v", res.Imm.A)
}

const arithText = `
fn add(u8, u8) -> (u8, bool) {
	bb0: {
		_0 = CheckedAdd(copy _1, copy _2)
		return
	}
}

fn inc(i8) -> i8 {
	let _2: (i8, bool)

	bb0: {
		_2 = CheckedAdd(copy _1, const 1: i8)
		assert(copy _2.1, false, overflow, "attempt to add with overflow")
		_0 = copy _2.0
		return
	}
}

fn div(i32, i32) -> i32 {
	bb0: {
		_0 = Div(copy _1, copy _2)
		return
	}
}

fn rem(i32, i32) -> i32 {
	bb0: {
		_0 = Rem(copy _1, copy _2)
		return
	}
}

fn shl(u8, u32) -> u8 {
	bb0: {
		_0 = Shl(copy _1, copy _2)
		return
	}
}

fn checked_shl(u8, u32) -> (u8, bool) {
	bb0: {
		_0 = CheckedShl(copy _1, copy _2)
		return
	}
}

fn neg(i64) -> i64 {
	bb0: {
		_0 = Neg(copy _1)
		return
	}
}

fn wide(u128, u128) -> (u128, bool) {
	bb0: {
		_0 = CheckedMul(copy _1, copy _2)
		return
	}
}
`

func TestArithmetic(t *testing.T) {
	m := newTestInterp(t, arithText)

	for _, tc := range []struct {
		name string
		args []int64
		typ  tp.Type
		typ2 tp.Type
		exp  string
	}{
		{name: "add", args: []int64{1, 2}, typ: tp.U8, exp: "(3, false)"},
		{name: "add", args: []int64{200, 100}, typ: tp.U8, exp: "(44, true)"},
		{name: "inc", args: []int64{-5}, typ: tp.I8, exp: "-4"},
		{name: "div", args: []int64{-7, 2}, typ: tp.I32, exp: "-3"},
		{name: "rem", args: []int64{-7, 2}, typ: tp.I32, exp: "-1"},
		{name: "shl", args: []int64{3, 2}, typ: tp.U8, typ2: tp.U32, exp: "12"},
		{name: "checked_shl", args: []int64{1, 8}, typ: tp.U8, typ2: tp.U32, exp: "(1, true)"},
		{name: "neg", args: []int64{5}, typ: tp.I64, exp: "-5"},
		{name: "wide", args: []int64{1 << 62, 8}, typ: tp.U128, exp: "(36893488147419103232, false)"},
	} {
		var args []Operand

		for i, a := range tc.args {
			typ := tc.typ
			if i == 1 && tc.typ2 != nil {
				typ = tc.typ2
			}

			args = append(args, intArg(t, m, a, typ))
		}

		res, err := callText(t, m, tc.name, args...)
		if assert.NoError(t, err, "%v%v", tc.name, tc.args) {
			assert.Equal(t, tc.exp, res, "%v%v", tc.name, tc.args)
		}
	}
}

const ptrCmpText = `
fn ptr_eq() -> (bool, bool) {
	let _1: u8
	let _2: u8
	let _3: *const u8
	let _4: *const u8
	let _5: *const u8
	let _6: bool
	let _7: bool

	bb0: {
		_1 = const 1: u8
		_2 = const 2: u8
		_3 = &raw const _1
		_4 = &raw const _2
		_5 = &raw const _1
		_6 = Eq(copy _3, copy _4)
		_7 = Eq(copy _3, copy _5)
		_0 = (copy _6, copy _7)
		return
	}
}

fn ptr_order() -> (bool, bool) {
	let _1: [u8; 4]
	let _2: *const u8
	let _3: *const u8
	let _4: bool
	let _5: bool

	bb0: {
		_1 = [const 0: u8, const 0: u8, const 0: u8, const 0: u8]
		_2 = &raw const _1[0]
		_3 = &raw const _1[3]
		_4 = Lt(copy _2, copy _3)
		_5 = Ne(copy _3, copy _2)
		_0 = (copy _4, copy _5)
		return
	}
}
`

func TestPointerCompare(t *testing.T) {
	for _, ps := range []int{2, 4, 8} {
		m := newTestInterp(t, ptrCmpText, func(c *config.Config) { c.PointerSize = ps })

		res, err := callText(t, m, "ptr_eq")
		if assert.NoError(t, err, "pointer size %d", ps) {
			assert.Equal(t, "(false, true)", res, "pointer size %d", ps)
		}

		res, err = callText(t, m, "ptr_order")
		if assert.NoError(t, err, "pointer size %d", ps) {
			assert.Equal(t, "(true, true)", res, "pointer size %d", ps)
		}
	}
}

func TestArithmeticErrors(t *testing.T) {
	m := newTestInterp(t, arithText)

	_, err := m.Call(context.Background(), "inc", intArg(t, m, 127, tp.I8))
	e := requireKind(t, err, Overflow)
	assert.Equal(t, "inc", e.Func)
	assert.EqualValues(t, 0, e.Block)
	assert.Equal(t, 1, e.Stmt)
	assert.Equal(t, 14, e.Span.Line)
	assert.Contains(t, e.Error(), "inc: bb0[1] (14:3): Overflow: attempt to add with overflow")

	_, err = m.Call(context.Background(), "div", intArg(t, m, 1, tp.I32), intArg(t, m, 0, tp.I32))
	requireKind(t, err, DivisionByZero)

	_, err = m.Call(context.Background(), "rem", intArg(t, m, 1, tp.I32), intArg(t, m, 0, tp.I32))
	requireKind(t, err, RemainderByZero)

	_, err = m.Call(context.Background(), "div", intArg(t, m, -1<<31, tp.I32), intArg(t, m, -1, tp.I32))
	requireKind(t, err, Overflow)

	_, err = m.Call(context.Background(), "shl", intArg(t, m, 1, tp.U8), intArg(t, m, 8, tp.U32))
	requireKind(t, err, Overflow)

	_, err = m.Call(context.Background(), "add", intArg(t, m, 1, tp.U8))
	requireKind(t, err, ArgumentCountMismatch)

	_, err = m.Call(context.Background(), "add", intArg(t, m, 1, tp.U8), intArg(t, m, 1, tp.I8))
	requireKind(t, err, ArgumentTypeMismatch)

	_, err = m.Call(context.Background(), "nope")
	requireKind(t, err, InvalidProgram)
}

func TestFieldOutOfRange(t *testing.T) {
	m := newTestInterp(t, `
struct P { a: i32, b: i32, c: i32 }

fn third() -> i32 {
	let _1: P

	bb0: {
		_1 = P { const 1: i32, const 2: i32, const 3: i32 }
		_0 = copy _1.2
		return
	}
}

fn sixth() -> i32 {
	let _1: P

	bb0: {
		_1 = P { const 1: i32, const 2: i32, const 3: i32 }
		_0 = copy _1.5
		return
	}
}
`)

	res, err := callText(t, m, "third")
	require.NoError(t, err)
	assert.Equal(t, "3", res)

	r, err := m.Call(context.Background(), "sixth")
	e := requireKind(t, err, LayoutError)
	assert.Equal(t, ClassMalformed, e.Class())
	assert.Equal(t, "sixth", e.Func)
	assert.Equal(t, 1, e.Stmt)
	assert.Nil(t, r.Imm)
	assert.Nil(t, r.Mem)
}

func TestReachedUnreachable(t *testing.T) {
	m := newTestInterp(t, `
fn main() -> i32 {
	let _1: bool

	bb0: {
		_1 = Eq(const 1: i32, const 2: i32)
		switchInt(copy _1) -> [0: bb1, otherwise: bb2]
	}

	bb1: { unreachable }

	bb2: {
		_0 = const 5: i32
		return
	}
}
`)

	r, err := m.Call(context.Background(), "main")
	e := requireKind(t, err, ReachedUnreachable)
	assert.Equal(t, -1, e.Stmt)
	assert.EqualValues(t, 1, e.Block)
	assert.Nil(t, r.Imm)
	assert.Nil(t, r.Mem)
	assert.Equal(t, 0, m.Depth())
}

func TestLocals(t *testing.T) {
	m := newTestInterp(t, `
fn uninit() -> i32 {
	let _1: i32

	bb0: {
		_0 = copy _1
		return
	}
}

fn dead() -> i32 {
	let _1: i32

	bb0: {
		_1 = const 1: i32
		StorageDead(_1)
		_0 = copy _1
		return
	}
}

fn moved() -> (i32, i32) {
	let _1: (i32, i32)
	let _2: (i32, i32)

	bb0: {
		_1 = (const 1: i32, const 2: i32)
		_2 = move _1
		_0 = copy _1
		return
	}
}

fn revive() -> i32 {
	let _1: i32

	bb0: {
		StorageDead(_1)
		StorageLive(_1)
		_1 = const 8: i32
		_0 = copy _1
		return
	}
}

fn unit() {
	bb0: { return }
}
`)

	_, err := m.Call(context.Background(), "uninit")
	requireKind(t, err, UseOfUninitializedLocal)

	_, err = m.Call(context.Background(), "dead")
	requireKind(t, err, DeadLocal)

	_, err = m.Call(context.Background(), "moved")
	requireKind(t, err, UseOfUninitializedLocal)

	res, err := callText(t, m, "revive")
	require.NoError(t, err)
	assert.Equal(t, "8", res)

	res, err = callText(t, m, "unit")
	require.NoError(t, err)
	assert.Equal(t, "()", res)
}

const factText = `
fn fact(u64) -> u64 {
	let _2: bool
	let _3: u64
	let _4: u64

	bb0: {
		_2 = Eq(copy _1, const 0: u64)
		switchInt(copy _2) -> [0: bb1, otherwise: bb2]
	}

	bb1: {
		_3 = Sub(copy _1, const 1: u64)
		_4 = call fact(copy _3) -> bb3
	}

	bb2: {
		_0 = const 1: u64
		return
	}

	bb3: {
		_0 = Mul(copy _1, copy _4)
		return
	}
}

fn apply(fn(u64) -> u64, u64) -> u64 {
	bb0: {
		_0 = call (copy _1)(copy _2) -> bb1
	}

	bb1: { return }
}

fn main() -> u64 {
	let _1: fn(u64) -> u64

	bb0: {
		_1 = const fn fact
		_0 = call apply(copy _1, const 5: u64) -> bb1
	}

	bb1: { return }
}

fn forever(u64) -> u64 {
	bb0: {
		_0 = call forever(copy _1) -> bb1
	}

	bb1: { return }
}

fn bad_ptr() -> u64 {
	let _1: fn(u64) -> u64

	bb0: {
		_1 = const 0: fn(u64) -> u64
		_0 = call apply(copy _1, const 5: u64) -> bb1
	}

	bb1: { return }
}
`

func TestFactorial(t *testing.T) {
	m := newTestInterp(t, factText)

	res, err := callText(t, m, "fact", intArg(t, m, 10, tp.U64))
	require.NoError(t, err)
	assert.Equal(t, "3628800", res)

	res, err = callText(t, m, "fact", intArg(t, m, 20, tp.U64))
	require.NoError(t, err)
	assert.Equal(t, "2432902008176640000", res)

	res, err = callText(t, m, "main")
	require.NoError(t, err)
	assert.Equal(t, "120", res)
}

func TestCallErrors(t *testing.T) {
	m := newTestInterp(t, factText, func(c *config.Config) {
		c.MaxStackDepth = 16
	})

	_, err := m.Call(context.Background(), "forever", intArg(t, m, 1, tp.U64))
	e := requireKind(t, err, StackOverflow)
	assert.Equal(t, "forever", e.Func)

	_, err = m.Call(context.Background(), "bad_ptr")
	requireKind(t, err, InvalidValue)

	m.Config.Validation = config.ValidateNone

	_, err = m.Call(context.Background(), "bad_ptr")
	requireKind(t, err, InvalidFunctionPointer)
}

func TestStepLimitAndCancel(t *testing.T) {
	const text = `
fn spin() {
	bb0: { goto -> bb0 }
}
`

	m := newTestInterp(t, text, func(c *config.Config) {
		c.StepLimit = 100
	})

	_, err := m.Call(context.Background(), "spin")
	e := requireKind(t, err, StepLimitExceeded)
	assert.Equal(t, ClassDeferred, e.Class())
	assert.Equal(t, 101, m.Steps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = m.Call(ctx, "spin")
	requireKind(t, err, Canceled)
}

func TestEnumSwitch(t *testing.T) {
	m := newTestInterp(t, `
enum Opt { None, Some(i32) = 5 }

fn pick(Opt) -> i32 {
	let _2: isize

	bb0: {
		_2 = discriminant(_1)
		switchInt(copy _2) -> [5: bb1, otherwise: bb2]
	}

	bb1: {
		_0 = copy (_1 as Some).0
		return
	}

	bb2: {
		_0 = const -1: i32
		return
	}
}

fn some() -> i32 {
	let _1: Opt

	bb0: {
		_1 = Opt::Some { const 42: i32 }
		_0 = call pick(move _1) -> bb1
	}

	bb1: { return }
}

fn none() -> i32 {
	let _1: Opt

	bb0: {
		_1 = Opt::None {}
		_0 = call pick(move _1) -> bb1
	}

	bb1: { return }
}

fn make() -> Opt {
	bb0: {
		_0 = Opt::Some { const 7: i32 }
		set_discriminant(_0, None)
		return
	}
}
`)

	res, err := callText(t, m, "some")
	require.NoError(t, err)
	assert.Equal(t, "42", res)

	res, err = callText(t, m, "none")
	require.NoError(t, err)
	assert.Equal(t, "-1", res)

	res, err = callText(t, m, "make")
	require.NoError(t, err)
	assert.Equal(t, "Opt::None", res)
}

func TestStatics(t *testing.T) {
	m := newTestInterp(t, `
static mut COUNTER: u64 = 10
static GREETING: [u8; 2] = b"hi"

fn bump() -> u64 {
	let _1: &mut u64

	bb0: {
		_1 = const &COUNTER
		(*_1) = Add(copy (*_1), const 1: u64)
		_0 = copy (*_1)
		return
	}
}

fn first() -> u8 {
	let _1: &[u8; 2]

	bb0: {
		_1 = const &GREETING
		_0 = copy (*_1)[0]
		return
	}
}

fn poke() {
	let _1: &[u8; 2]

	bb0: {
		_1 = const &GREETING
		(*_1)[0] = const 0: u8
		return
	}
}
`)

	for _, exp := range []string{"11", "12"} {
		res, err := callText(t, m, "bump")
		require.NoError(t, err)
		assert.Equal(t, exp, res)
	}

	res, err := callText(t, m, "first")
	require.NoError(t, err)
	assert.Equal(t, "104", res)

	_, err = m.Call(context.Background(), "poke")
	requireKind(t, err, WriteToReadOnly)
}

func TestCasts(t *testing.T) {
	const text = `
fn widen() -> u32 {
	bb0: {
		_0 = cast(const -1: i8, u32)
		return
	}
}

fn narrow() -> u8 {
	bb0: {
		_0 = cast(const 300: u32, u8)
		return
	}
}

fn from_bool() -> i64 {
	bb0: {
		_0 = cast(const true, i64)
		return
	}
}

fn to_char() -> char {
	bb0: {
		_0 = cast(const 65: u8, char)
		return
	}
}

fn addr() -> usize {
	let _1: u8
	let _2: *const u8

	bb0: {
		_1 = const 1: u8
		_2 = &raw const _1
		_0 = cast(copy _2, usize)
		return
	}
}
`

	m := newTestInterp(t, text)

	for name, exp := range map[string]string{
		"widen":     "4294967295",
		"narrow":    "44",
		"from_bool": "1",
		"to_char":   "'A'",
	} {
		res, err := callText(t, m, name)
		if assert.NoError(t, err, name) {
			assert.Equal(t, exp, res, name)
		}
	}

	_, err := m.Call(context.Background(), "addr")
	e := requireKind(t, err, PointerToIntCast)
	assert.Equal(t, ClassDeferred, e.Class())

	m = newTestInterp(t, text, func(c *config.Config) {
		c.AllowPtrToInt = true
	})

	res, err := m.Call(context.Background(), "addr")
	require.NoError(t, err)
	assert.False(t, res.Imm.A.Bits.IsZero())
}

const panicText = `
fn boom() {
	bb0: {
		call panic(const b"oh no") -> bb1
	}

	bb1: { return }
}

fn cleanup() {
	let _1: *mut u8

	bb0: {
		_1 = call alloc(const 16: usize, const 8: usize) -> bb1
	}

	bb1: {
		call boom() -> [return: bb2, unwind: bb3]
	}

	bb2: {
		call dealloc(copy _1, const 16: usize, const 8: usize) -> bb4
	}

	bb3 (cleanup): {
		call dealloc(copy _1, const 16: usize, const 8: usize) -> bb5
	}

	bb4: { return }

	bb5 (cleanup): { resume }
}

fn no_cleanup() {
	let _1: *mut u8

	bb0: {
		_1 = call alloc(const 16: usize, const 8: usize) -> bb1
	}

	bb1: {
		call boom() -> bb2
	}

	bb2: {
		call dealloc(copy _1, const 16: usize, const 8: usize) -> bb3
	}

	bb3: { return }
}

fn stop() {
	bb0: {
		call abort()
	}
}
`

func TestPanicUnwind(t *testing.T) {
	m := newTestInterp(t, panicText)

	_, err := m.Call(context.Background(), "cleanup")
	e := requireKind(t, err, Panic)
	assert.Equal(t, "boom", e.Func)
	assert.Contains(t, e.Msg, "oh no")
	assert.Empty(t, m.Mem.Leaks())
	assert.Equal(t, 0, m.Depth())

	m = newTestInterp(t, panicText)

	_, err = m.Call(context.Background(), "no_cleanup")
	requireKind(t, err, Panic)
	assert.Len(t, m.Mem.Leaks(), 1)

	_, err = m.Call(context.Background(), "stop")
	requireKind(t, err, Aborted)
}

const listText = `
struct Node { val: i64, next: *mut Node }

fn push(*mut Node, i64) -> *mut Node {
	let _3: *mut u8
	let _4: *mut Node

	bb0: {
		_3 = call alloc(const 16: usize, const 8: usize) -> bb1
	}

	bb1: {
		_4 = cast(copy _3, *mut Node)
		(*_4) = Node { copy _2, copy _1 }
		_0 = copy _4
		return
	}
}

fn sum_free(*mut Node) -> i64 {
	let _2: *mut Node
	let _3: bool
	let _4: *mut Node
	let _5: *mut u8

	bb0: {
		_0 = const 0: i64
		_2 = copy _1
		goto -> bb1
	}

	bb1: {
		_3 = Eq(copy _2, const 0: *mut Node)
		switchInt(copy _3) -> [0: bb2, otherwise: bb4]
	}

	bb2: {
		_0 = Add(copy _0, copy (*_2).0)
		_4 = copy (*_2).1
		_5 = cast(copy _2, *mut u8)
		call dealloc(copy _5, const 16: usize, const 8: usize) -> bb3
	}

	bb3: {
		_2 = copy _4
		goto -> bb1
	}

	bb4: { return }
}

fn build() -> *mut Node {
	let _1: *mut Node
	let _2: *mut Node

	bb0: {
		_1 = call push(const 0: *mut Node, const 1: i64) -> bb1
	}

	bb1: {
		_2 = call push(copy _1, const 2: i64) -> bb2
	}

	bb2: {
		_0 = call push(copy _2, const 3: i64) -> bb3
	}

	bb3: { return }
}

fn main() -> i64 {
	let _1: *mut Node

	bb0: {
		_1 = call build() -> bb1
	}

	bb1: {
		_0 = call sum_free(copy _1) -> bb2
	}

	bb2: { return }
}

fn double_free() {
	let _1: *mut u8

	bb0: {
		_1 = call alloc(const 8: usize, const 1: usize) -> bb1
	}

	bb1: {
		call dealloc(copy _1, const 8: usize, const 1: usize) -> bb2
	}

	bb2: {
		call dealloc(copy _1, const 8: usize, const 1: usize) -> bb3
	}

	bb3: { return }
}

fn use_after_free() -> i64 {
	let _1: *mut Node

	bb0: {
		_1 = call push(const 0: *mut Node, const 1: i64) -> bb1
	}

	bb1: {
		_0 = call sum_free(copy _1) -> bb2
	}

	bb2: {
		_0 = copy (*_1).0
		return
	}
}
`

func TestLinkedList(t *testing.T) {
	m := newTestInterp(t, listText)

	res, err := callText(t, m, "main")
	require.NoError(t, err)
	assert.Equal(t, "6", res)
	assert.Empty(t, m.Mem.Leaks())

	_, err = m.Call(context.Background(), "build")
	e := requireKind(t, err, MemoryLeaked)
	assert.Equal(t, ClassDeferred, e.Class())
	assert.Len(t, m.Mem.Leaks(), 3)

	m = newTestInterp(t, listText, func(c *config.Config) {
		c.CheckLeaks = false
	})

	_, err = m.Call(context.Background(), "build")
	require.NoError(t, err)

	_, err = m.Call(context.Background(), "double_free")
	requireKind(t, err, DoubleFree)

	_, err = m.Call(context.Background(), "use_after_free")
	requireKind(t, err, DanglingPointer)
}

func TestTransmuteValidation(t *testing.T) {
	const text = `
fn bad() -> bool {
	bb0: {
		_0 = call transmute(const 3: u8) -> bb1
	}

	bb1: { return }
}

fn good() -> bool {
	bb0: {
		_0 = call transmute(const 1: u8) -> bb1
	}

	bb1: { return }
}

fn size() -> usize {
	bb0: {
		_0 = call transmute(const 1: u8) -> bb1
	}

	bb1: { return }
}
`

	m := newTestInterp(t, text)

	_, err := m.Call(context.Background(), "bad")
	e := requireKind(t, err, InvalidValue)
	assert.Equal(t, "a boolean", e.Expected)
	assert.Equal(t, "0x3", e.Found)

	res, err := callText(t, m, "good")
	require.NoError(t, err)
	assert.Equal(t, "true", res)

	_, err = m.Call(context.Background(), "size")
	requireKind(t, err, LayoutError)

	m = newTestInterp(t, text, func(c *config.Config) {
		c.Validation = config.ValidateNone
	})

	res2, err := m.Call(context.Background(), "bad")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res2.Imm.A.Uint64())
}

func TestIntrinsics(t *testing.T) {
	m := newTestInterp(t, `
fn exact(u32, u32) -> u32 {
	bb0: {
		_0 = call exact_div(copy _1, copy _2) -> bb1
	}

	bb1: { return }
}

fn wrap() -> u8 {
	bb0: {
		_0 = call wrapping_add(const 250: u8, const 10: u8) -> bb1
	}

	bb1: { return }
}

fn pop() -> u64 {
	bb0: {
		_0 = call ctpop(const 0xff00ff: u64) -> bb1
	}

	bb1: { return }
}

fn sizes() -> (usize, usize) {
	let _1: usize
	let _2: usize

	bb0: {
		_1 = call size_of(const 0: u128) -> bb1
	}

	bb1: {
		_2 = AlignOf((u8, u32))
		_0 = (copy _1, copy _2)
		return
	}
}

fn assume_false() {
	bb0: {
		call assume(const false) -> bb1
	}

	bb1: { return }
}

fn fill() -> u32 {
	let _1: *mut u8
	let _2: *mut u32

	bb0: {
		_1 = call alloc(const 4: usize, const 4: usize) -> bb1
	}

	bb1: {
		call write_bytes(copy _1, const 1: u8, const 4: usize) -> bb2
	}

	bb2: {
		_2 = cast(copy _1, *mut u32)
		_0 = copy (*_2)
		call dealloc(copy _1, const 4: usize, const 4: usize) -> bb3
	}

	bb3: { return }
}

fn bad_dealloc() {
	let _1: *mut u8

	bb0: {
		_1 = call alloc(const 4: usize, const 4: usize) -> bb1
	}

	bb1: {
		call dealloc(copy _1, const 8: usize, const 4: usize) -> bb2
	}

	bb2: { return }
}
`, func(c *config.Config) {
		c.CheckLeaks = false
	})

	res, err := callText(t, m, "exact", intArg(t, m, 12, tp.U32), intArg(t, m, 4, tp.U32))
	require.NoError(t, err)
	assert.Equal(t, "3", res)

	_, err = m.Call(context.Background(), "exact", intArg(t, m, 13, tp.U32), intArg(t, m, 4, tp.U32))
	requireKind(t, err, UndefinedBehavior)

	for name, exp := range map[string]string{
		"wrap":  "4",
		"pop":   "16",
		"sizes": "(16, 4)",
		"fill":  "16843009",
	} {
		res, err := callText(t, m, name)
		if assert.NoError(t, err, name) {
			assert.Equal(t, exp, res, name)
		}
	}

	_, err = m.Call(context.Background(), "assume_false")
	requireKind(t, err, UndefinedBehavior)

	_, err = m.Call(context.Background(), "bad_dealloc")
	requireKind(t, err, UndefinedBehavior)
}

func TestIntrinsicArgValidation(t *testing.T) {
	const text = `
fn launder() -> bool {
	let _1: u8
	let _2: *const u8
	let _3: *const bool
	let _4: bool

	bb0: {
		_1 = const 3: u8
		_2 = &raw const _1
		_3 = cast(copy _2, *const bool)
		_4 = copy (*_3)
		_0 = call black_box(copy _4) -> bb1
	}

	bb1: {
		return
	}
}
`

	m := newTestInterp(t, text)

	_, err := m.Call(context.Background(), "launder")
	e := requireKind(t, err, InvalidValue)
	assert.Contains(t, e.Error(), "argument 0 of black_box")
	assert.Equal(t, "launder", e.Func)

	m = newTestInterp(t, text, func(c *config.Config) {
		c.Validation = config.ValidateNone
	})

	res, err := m.Call(context.Background(), "launder")
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Imm.A.Uint64())
}

func TestHugeCounts(t *testing.T) {
	m := newTestInterp(t, `
fn huge_copy() {
	let _1: *mut u8

	bb0: {
		_1 = call alloc(const 4: usize, const 1: usize) -> bb1
	}

	bb1: {
		call copy_nonoverlapping(copy _1, copy _1, const 0xffffffffffffffff: usize) -> bb2
	}

	bb2: {
		return
	}
}

fn huge_index() -> u8 {
	let _1: [u8; 2]
	let _2: usize

	bb0: {
		_1 = [const 1: u8, const 2: u8]
		_2 = const 0xffffffffffffffff: usize
		_0 = copy _1[_2]
		return
	}
}
`)

	_, err := m.Call(context.Background(), "huge_copy")
	requireKind(t, err, SizeOverflow)

	_, err = m.Call(context.Background(), "huge_index")
	requireKind(t, err, BoundsCheckFailed)
}
