package evalcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/consteval"
	"github.com/slowlang/mir/compiler/interp"
	"github.com/slowlang/mir/compiler/parse"
	"github.com/slowlang/mir/compiler/tp"
)

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sub", "cache.db")

	c, err := Open(ctx, path)
	require.NoError(t, err)

	v, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	val := interp.NewConstValue(tp.Tuple{Elems: []tp.Type{tp.U64, tp.FnPtr{Out: tp.U64}}}, []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	val.Init = []uint64{0xffff}
	val.Funcs = map[int]string{8: "answer"}

	require.NoError(t, c.Put(ctx, "k", val))
	require.NoError(t, c.Put(ctx, "k", val))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, c.Close())

	c, err = Open(ctx, path)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, c.Close())
	}()

	v, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, "(u64, fn() -> u64)", v.Type)
	assert.Equal(t, val.Bytes, v.Bytes)
	assert.Equal(t, val.Init, v.Init)
	assert.Equal(t, val.Funcs, v.Funcs)
	assert.Nil(t, v.TypeOf())
}

func TestEncodeCanonical(t *testing.T) {
	a := interp.NewConstValue(tp.U8, []byte{7})
	a.Init = []uint64{1}
	a.Funcs = map[int]string{3: "c", 1: "a", 2: "b"}

	b := interp.NewConstValue(tp.U8, []byte{7})
	b.Init = []uint64{1}
	b.Funcs = map[int]string{2: "b", 3: "c", 1: "a"}

	x, err := Encode(a)
	require.NoError(t, err)

	y, err := Encode(b)
	require.NoError(t, err)

	assert.Equal(t, x, y)

	_, err = Decode([]byte{0xa0})
	assert.Error(t, err)

	_, err = Decode([]byte{0xff})
	assert.Error(t, err)
}

func TestEngineWithCache(t *testing.T) {
	ctx := context.Background()

	p, err := parse.Parse(ctx, []byte(`
const ANSWER: u64 = answer

fn answer() -> u64 {
	bb0: {
		_0 = Mul(const 6: u64, const 7: u64)
		return
	}
}
`))
	require.NoError(t, err)

	c, err := Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, c.Close())
	}()

	for i := 0; i < 2; i++ {
		e := consteval.New(p, config.Default())
		e.Cache = c

		v, err := e.EvalConst(ctx, "ANSWER")
		require.NoError(t, err)
		assert.Equal(t, byte(42), v.Bytes[0])
		assert.True(t, tp.Equal(tp.U64, v.TypeOf()))
	}

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
