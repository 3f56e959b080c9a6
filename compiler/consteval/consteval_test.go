package consteval

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/interp"
	"github.com/slowlang/mir/compiler/parse"
	"github.com/slowlang/mir/compiler/set"
	"github.com/slowlang/mir/compiler/tp"
)

const constText = `
static COUNTER: u64 = 1

const ANSWER: u64 = answer
const DOUBLE: u64 = double
const PAIR: (u64, fn() -> u64) = pair
const REF: &u64 = reference
const BAD: u8 = bad
const A: u32 = a
const B: u32 = b

fn answer() -> u64 {
	bb0: {
		_0 = Mul(const 6: u64, const 7: u64)
		return
	}
}

fn double() -> u64 {
	bb0: {
		_0 = Add(const ANSWER, const ANSWER)
		return
	}
}

fn pair() -> (u64, fn() -> u64) {
	bb0: {
		_0 = (const 1: u64, const fn answer)
		return
	}
}

fn call_pair() -> u64 {
	let _1: (u64, fn() -> u64)
	let _2: fn() -> u64

	bb0: {
		_1 = const PAIR
		_2 = copy _1.1
		_0 = call (copy _2)() -> bb1
	}

	bb1: { return }
}

fn reference() -> &u64 {
	bb0: {
		_0 = const &COUNTER
		return
	}
}

fn bad() -> u8 {
	let _1: (u8, bool)

	bb0: {
		_1 = CheckedAdd(const 255: u8, const 1: u8)
		assert(copy _1.1, false, overflow, "attempt to add with overflow")
		_0 = copy _1.0
		return
	}
}

fn a() -> u32 {
	bb0: {
		_0 = Add(const B, const 1: u32)
		return
	}
}

fn b() -> u32 {
	bb0: {
		_0 = Add(const A, const 1: u32)
		return
	}
}
`

type memCache struct {
	m    map[string]*interp.ConstValue
	gets int
	puts int
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	p, err := parse.Parse(context.Background(), []byte(constText))
	require.NoError(t, err)

	return New(p, config.Default())
}

func u32Value(x uint32) *interp.ConstValue {
	init := set.MakeBitmap(4)
	init.SetRange(0, 4)

	v := interp.NewConstValue(tp.U32, binary.LittleEndian.AppendUint32(nil, x))
	v.Init = init.Words()

	return v
}

func TestEvalConst(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	v, err := e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, "u64", v.Type)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(v.Bytes))

	init := v.InitMask()
	assert.Equal(t, -1, init.FirstClear(0, 8))

	v2, err := e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Same(t, v, v2)

	v, err = e.EvalConst(ctx, "DOUBLE")
	require.NoError(t, err)
	assert.Equal(t, uint64(84), binary.LittleEndian.Uint64(v.Bytes))

	_, err = e.EvalConst(ctx, "NOPE")
	assert.True(t, interp.IsKind(err, interp.InvalidProgram), "%v", err)
	assert.Equal(t, Abort, Decide(err))
}

func TestConstFunctionPointers(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	v, err := e.EvalConst(ctx, "PAIR")
	require.NoError(t, err)
	assert.Equal(t, map[int]string{8: "answer"}, v.Funcs)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(v.Bytes))

	m := interp.New(e.Program, e.Config)
	m.Consts = e

	res, err := m.Call(ctx, "call_pair")
	require.NoError(t, err)

	s, err := m.ReadScalar(res)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), s.Uint64())
}

func TestConstErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.EvalConst(ctx, "REF")
	assert.True(t, interp.IsKind(err, interp.ConstHasPointer), "%v", err)
	assert.Equal(t, Defer, Decide(err))

	_, err = e.EvalConst(ctx, "BAD")
	assert.True(t, interp.IsKind(err, interp.Overflow), "%v", err)
	assert.Equal(t, Diagnose, Decide(err))

	var ie *interp.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "bad", ie.Func)
	assert.Equal(t, 1, ie.Stmt)

	assert.Equal(t, Abort, Decide(errors.New("parse failed")))

	deferred, err := e.EvalAll(ctx)
	assert.True(t, interp.IsKind(err, interp.Overflow), "%v", err)
	assert.Contains(t, deferred, "REF")
}

func TestConstCycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.EvalConst(ctx, "A")
	require.Error(t, err)
	assert.True(t, interp.IsKind(err, interp.ConstCycle), "%v", err)
	assert.Equal(t, Diagnose, Decide(err))
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestConstCycleFallbackDefault(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	var cycles [][]string

	e.RegisterFallback(tp.U32, FallbackFunc(func(ctx context.Context, name string, cycle []string) Fallback {
		cycles = append(cycles, cycle)

		return Fallback{Kind: FallbackDefault, Value: u32Value(0)}
	}))

	v, err := e.EvalConst(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(v.Bytes))
	assert.Equal(t, [][]string{{"A", "B", "A"}}, cycles)

	// Nothing on the cycle is memoized, B starts its own evaluation.
	v, err = e.EvalConst(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(v.Bytes))
	assert.Equal(t, [][]string{{"A", "B", "A"}, {"B", "A", "B"}}, cycles)
}

func TestConstCycleFallbackNotCached(t *testing.T) {
	ctx := context.Background()
	c := &memCache{m: make(map[string]*interp.ConstValue)}

	e := newTestEngine(t)
	e.Cache = c
	e.RegisterFallback(tp.U32, FallbackFunc(func(ctx context.Context, name string, cycle []string) Fallback {
		return Fallback{Kind: FallbackDefault, Value: u32Value(0)}
	}))

	_, err := e.EvalConst(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, c.puts)
	assert.Empty(t, c.m)

	_, err = e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, 1, c.puts)

	e = newTestEngine(t)
	e.Cache = c

	for _, name := range []string{"B", "A"} {
		_, err = e.EvalConst(ctx, name)
		assert.True(t, interp.IsKind(err, interp.ConstCycle), "%v: %v", name, err)
	}
}

func TestConstCycleFallbackError(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	cycleErr := errors.New("recursive constant")

	e.RegisterFallback(tp.U32, FallbackFunc(func(ctx context.Context, name string, cycle []string) Fallback {
		return Fallback{Kind: FallbackError, Err: cycleErr}
	}))

	_, err := e.EvalConst(ctx, "A")
	assert.ErrorIs(t, err, cycleErr)

	e = newTestEngine(t)
	e.RegisterFallback(tp.U32, FallbackFunc(func(ctx context.Context, name string, cycle []string) Fallback {
		return Fallback{Kind: FallbackDefault, Value: interp.NewConstValue(tp.U8, []byte{0})}
	}))

	_, err = e.EvalConst(ctx, "A")
	assert.True(t, interp.IsKind(err, interp.InvalidProgram), "%v", err)
}

func TestConstCache(t *testing.T) {
	ctx := context.Background()
	c := &memCache{m: make(map[string]*interp.ConstValue)}

	e := newTestEngine(t)
	e.Cache = c

	_, err := e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, 1, c.puts)
	require.Len(t, c.m, 1)

	for _, v := range c.m {
		v.Bytes = binary.LittleEndian.AppendUint64(nil, 99)
	}

	e = newTestEngine(t)
	e.Cache = c

	v, err := e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(v.Bytes))
	assert.Equal(t, 1, c.puts)
	assert.Equal(t, 2, c.gets)
	assert.True(t, tp.Equal(tp.U64, v.TypeOf()))

	e = newTestEngine(t)
	e.Cache = c
	e.Config.PointerSize = 4

	v, err = e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(v.Bytes))
	assert.Equal(t, 2, c.puts)

	e = newTestEngine(t)
	e.Cache = c
	e.Config.StepLimit = 10

	v, err = e.EvalConst(ctx, "ANSWER")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(v.Bytes))
	assert.Equal(t, 3, c.puts)
}

func (c *memCache) Get(ctx context.Context, key string) (*interp.ConstValue, error) {
	c.gets++

	return c.m[key], nil
}

func (c *memCache) Put(ctx context.Context, key string, v *interp.ConstValue) error {
	c.puts++
	c.m[key] = v

	return nil
}
