package interp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/parse"
	"github.com/slowlang/mir/compiler/tp"
)

const frameText = `
fn inner(u64) -> u64 {
	let _2: u64
	let _3: *const u64

	bb0: {
		_2 = Mul(copy _1, const 2: u64)
		_3 = &raw const _2
		_0 = copy (*_3)
		return
	}
}

fn outer() -> u64 {
	let _1: u64
	let _2: *const u64
	let _3: u64

	bb0: {
		_1 = const 7: u64
		_2 = &raw const _1
		_3 = call inner(copy _1) -> bb1
	}

	bb1: {
		_0 = Add(copy _3, copy (*_2))
		return
	}
}
`

func TestFramePushPopTransparent(t *testing.T) {
	ctx := context.Background()
	m := newTestInterp(t, frameText)

	f := m.Prog.Func("outer")
	require.NotNil(t, f)

	lay, err := m.layoutOf(f.Ret)
	require.NoError(t, err)

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStack)
	require.NoError(t, err)

	ret := Place{Mem: &MemPlace{Ptr: Pointer{Alloc: id}, Align: lay.Align}, Type: f.Ret, Layout: lay}

	require.NoError(t, m.PushFrame(f, nil, &ret, StackPopCleanup{}))

	fr := m.Frame(0)
	require.NotNil(t, fr)

	for fr.Stmt < len(f.Blocks[0].Stmts) {
		_, err = m.Step(ctx)
		require.NoError(t, err)
	}

	before := append([]LocalValue{}, fr.Locals[:3]...)
	require.Equal(t, LocalLive, before[1].State)
	require.NotZero(t, before[1].Alloc)

	a, err := m.Mem.Get(before[1].Alloc)
	require.NoError(t, err)

	bytes := append([]byte{}, a.Bytes...)
	live := m.Mem.Live()

	_, err = m.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, m.Depth())
	assert.Equal(t, FrameExecuting, m.Frame(1).State)

	for m.Depth() > 1 {
		_, err = m.Step(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, before, fr.Locals[:3])
	assert.Equal(t, bytes, a.Bytes)
	assert.Equal(t, live, m.Mem.Live())
	assert.EqualValues(t, 1, fr.Block)
	assert.Equal(t, 0, fr.Stmt)
	assert.Equal(t, LocalLive, fr.Locals[3].State)

	done := false
	for !done {
		done, err = m.Step(ctx)
		require.NoError(t, err)
	}

	res, err := m.PlaceToOp(ret)
	require.NoError(t, err)

	s, err := m.ReadScalar(res)
	require.NoError(t, err)
	assert.EqualValues(t, 21, s.Uint64())
}

func TestFrameStorage(t *testing.T) {
	m := newTestInterp(t, frameText)

	res, err := callText(t, m, "outer")
	require.NoError(t, err)
	assert.Equal(t, "21", res)
	assert.Equal(t, 0, m.Depth())
}

func TestFrameLocals(t *testing.T) {
	m := newTestInterp(t, frameText)

	f := m.Prog.Func("inner")
	require.NoError(t, m.PushFrame(f, []Operand{intArg(t, m, 3, tp.U64)}, nil, StackPopCleanup{}))

	_, err := m.LocalValue(0, 2)
	requireKind(t, err, UseOfUninitializedLocal)

	require.NoError(t, m.SetLocal(0, 2, intArg(t, m, 9, tp.U64)))
	assert.Equal(t, LocalLive, m.Frame(0).Locals[2].State)

	for l, exp := range map[ir.Local]uint64{1: 3, 2: 9} {
		op, err := m.LocalValue(0, l)
		require.NoError(t, err)

		s, err := m.ReadScalar(op)
		require.NoError(t, err)
		assert.Equal(t, exp, s.Uint64(), "_%d", l)
	}

	_, err = m.LocalValue(1, 1)
	requireKind(t, err, InvalidProgram)

	err = m.SetLocal(0, 9, intArg(t, m, 1, tp.U64))
	requireKind(t, err, InvalidProgram)
}

func TestPlaceFieldOfLocal(t *testing.T) {
	m := newTestInterp(t, `
fn sum() -> u64 {
	let _1: (u64, u64)

	bb0: {
		_1 = (const 1: u64, const 2: u64)
		_0 = Add(copy _1.0, copy _1.1)
		return
	}
}
`)

	f := m.Prog.Func("sum")
	require.NoError(t, m.PushFrame(f, nil, nil, StackPopCleanup{}))

	pl, err := m.EvalPlace(ir.LocalPlace(1), false)
	require.NoError(t, err)
	require.Nil(t, pl.Mem)

	fp, err := m.PlaceField(pl, 1)
	require.NoError(t, err)
	require.NotNil(t, fp.Mem)

	lv := m.Frame(0).Locals[1]
	assert.Equal(t, LocalLive, lv.State)
	assert.NotZero(t, lv.Alloc)

	require.NoError(t, m.WriteOperand(fp, intArg(t, m, 5, tp.U64)))

	op, err := m.PlaceToOp(fp)
	require.NoError(t, err)

	s, err := m.ReadScalar(op)
	require.NoError(t, err)
	assert.EqualValues(t, 5, s.Uint64())

	_, err = m.ReadScalar(Operand{Mem: &MemPlace{Ptr: Pointer{Alloc: lv.Alloc}, Align: 8}, Type: tp.U64, Layout: fp.Layout})
	requireKind(t, err, InvalidUninitBytes)

	_, err = m.PlaceField(pl, 2)
	requireKind(t, err, LayoutError)
}

func TestZeroConfig(t *testing.T) {
	p, err := parse.Parse(context.Background(), []byte(frameText))
	require.NoError(t, err)

	m := New(p, config.Config{})

	res, err := callText(t, m, "outer")
	require.NoError(t, err)
	assert.Equal(t, "21", res)
	assert.Equal(t, 8, m.Mem.PtrSize)
}
