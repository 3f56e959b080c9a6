package format

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/parse"
)

const text = `struct Pair { a: i32, b: *const Pair }
enum Opt { None, Some(i32) = 5, Other }

static HELLO: [u8; 5] = b"hello"
static mut TABLE: [u32; 3] = [1, 2, 3]
const SEVEN: i32 = seven

fn seven() -> i32 {
	let _1: (i32, bool)
	let _2: Opt

	bb0: {
		_1 = CheckedAdd(const 3: i32, const 4: i32)
		assert(copy _1.1, false, overflow, "add \"overflow\"")
		_2 = Opt::Some {copy _1.0}
		_0 = copy (_2 as Some).0
		switchInt(copy _0) -> [7: bb1, -1: bb2, otherwise: bb3]
	}

	bb1: {
		_0 = call (copy _1.0)(const fn seven, const true) -> [return: bb2, unwind: bb4]
	}

	bb2: {
		return
	}

	bb3: {
		unreachable
	}

	bb4 (cleanup): {
		resume
	}
}

fn refs(&mut [i32; 4], usize) {
	let _3: *const i32
	let _4: &i32

	bb0: {
		_3 = &raw const (*_1)[_2]
		_4 = &(*_1)[3]
		StorageDead(_4)
		(*_1)[0] = Neg(const 1: i32)
		call exit(const (), const &HELLO)
	}
}
`

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	p, err := parse.Parse(ctx, []byte(text))
	require.NoError(t, err)

	b, err := Program(ctx, nil, p)
	require.NoError(t, err)

	assert.Equal(t, text, string(b))

	p2, err := parse.Parse(ctx, b)
	require.NoError(t, err)

	b2, err := Program(ctx, nil, p2)
	require.NoError(t, err)

	assert.Equal(t, string(b), string(b2))
}

func TestPlace(t *testing.T) {
	p := ir.LocalPlace(1).Project(ir.Deref{}, ir.Field{Index: 2}, ir.Downcast{Index: 1}, ir.ConstIndex{Offset: 3})

	assert.Equal(t, "((*_1).2 as 1)[3]", string(Place(nil, p)))
}

func TestValue(t *testing.T) {
	v := ir.Array{ir.IntOf(-5), ir.Bool(false), ir.Unit{}, ir.FnRef{Name: "f"}, ir.ConstRef{Name: "C"}, ir.Bytes("\x00a")}

	assert.Equal(t, `[-5, false, (), fn f, C, b"\x00a"]`, string(Value(nil, v)))
}
