package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory() *Memory {
	return NewMemory(8, 1<<20, true)
}

func TestMemoryReadAfterWrite(t *testing.T) {
	m := newTestMemory()

	id, err := m.Allocate(16, 8, KindHeap)
	require.NoError(t, err)

	p := Pointer{Alloc: id, Offset: 4}

	for _, size := range []int{1, 2, 4} {
		s := ScalarUint(0xdeadbeef, size)

		err = m.WriteScalar(p, defined(s), size)
		require.NoError(t, err)

		r, err := m.ReadScalar(p, size, size, false)
		require.NoError(t, err)
		assert.True(t, r.Equal(s), "size %d: %v != %v", size, r, s)
	}

	b, err := m.ReadBytes(p, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, b)
}

func TestMemoryUninitRead(t *testing.T) {
	m := newTestMemory()

	id, err := m.Allocate(8, 1, KindHeap)
	require.NoError(t, err)

	for off := 0; off < 8; off++ {
		_, err = m.ReadScalar(Pointer{Alloc: id, Offset: off}, 1, 1, false)
		assert.True(t, IsKind(err, InvalidUninitBytes), "offset %d: %v", off, err)
	}

	err = m.WriteScalar(Pointer{Alloc: id}, defined(ScalarUint(1, 2)), 1)
	require.NoError(t, err)

	_, err = m.ReadScalar(Pointer{Alloc: id}, 4, 1, false)
	assert.True(t, IsKind(err, InvalidUninitBytes), "%v", err)

	s, err := m.ReadScalar(Pointer{Alloc: id}, 4, 1, true)
	require.NoError(t, err)
	assert.True(t, s.Undef)
}

func TestMemoryMarkUninit(t *testing.T) {
	m := newTestMemory()

	id, err := m.Allocate(8, 8, KindHeap)
	require.NoError(t, err)

	p := Pointer{Alloc: id}

	require.NoError(t, m.WriteRepeat(p, 1, 8))
	require.NoError(t, m.MarkUninit(p.Add(2), 2))

	_, err = m.ReadBytes(p, 2)
	require.NoError(t, err)

	_, err = m.ReadBytes(p, 4)
	assert.True(t, IsKind(err, InvalidUninitBytes), "%v", err)

	require.NoError(t, m.MarkUninit(p, 8))

	a, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Init.FirstClear(0, 8))

	_, err = m.ReadBytes(p.Add(7), 1)
	assert.True(t, IsKind(err, InvalidUninitBytes), "%v", err)
}

func TestMemoryBounds(t *testing.T) {
	m := newTestMemory()

	id, err := m.Allocate(16, 4, KindStack)
	require.NoError(t, err)

	_, err = m.ReadScalar(Pointer{Alloc: id, Offset: 14}, 4, 1, true)
	assert.True(t, IsKind(err, PointerOutOfBounds), "%v", err)

	_, err = m.ReadScalar(Pointer{Alloc: id, Offset: -1}, 1, 1, true)
	assert.True(t, IsKind(err, PointerOutOfBounds), "%v", err)

	_, err = m.ReadScalar(Pointer{Alloc: id, Offset: 2}, 4, 4, true)
	assert.True(t, IsKind(err, Misaligned), "%v", err)

	_, err = m.ReadScalar(Pointer{Alloc: id}, 8, 8, true)
	assert.True(t, IsKind(err, Misaligned), "%v", err)

	_, err = m.ReadScalar(Pointer{}, 1, 1, true)
	assert.True(t, IsKind(err, NullPointerDeref), "%v", err)

	m.CheckAlignment = false

	_, err = m.ReadScalar(Pointer{Alloc: id, Offset: 2}, 4, 4, true)
	assert.NoError(t, err)
}

func TestMemoryPointers(t *testing.T) {
	m := newTestMemory()

	a, err := m.Allocate(24, 8, KindHeap)
	require.NoError(t, err)

	b, err := m.Allocate(4, 4, KindHeap)
	require.NoError(t, err)

	target := Pointer{Alloc: b, Offset: 2}

	err = m.WriteScalar(Pointer{Alloc: a, Offset: 8}, defined(ScalarPtr(target, 8)), 8)
	require.NoError(t, err)

	s, err := m.ReadScalar(Pointer{Alloc: a, Offset: 8}, 8, 8, false)
	require.NoError(t, err)
	require.NotNil(t, s.Ptr)
	assert.Equal(t, target, *s.Ptr)

	_, err = m.ReadScalar(Pointer{Alloc: a, Offset: 12}, 4, 4, false)
	assert.True(t, IsKind(err, PartialPointer), "%v", err)

	_, err = m.ReadBytes(Pointer{Alloc: a, Offset: 8}, 8)
	assert.True(t, IsKind(err, PartialPointer), "%v", err)

	err = m.CopyRange(Pointer{Alloc: a, Offset: 8}, Pointer{Alloc: a, Offset: 16}, 8, true)
	require.NoError(t, err)

	s, err = m.ReadScalar(Pointer{Alloc: a, Offset: 16}, 8, 8, false)
	require.NoError(t, err)
	require.NotNil(t, s.Ptr)
	assert.Equal(t, target, *s.Ptr)

	err = m.CopyRange(Pointer{Alloc: a, Offset: 8}, Pointer{Alloc: a, Offset: 12}, 8, true)
	assert.True(t, IsKind(err, UndefinedBehavior), "%v", err)

	err = m.CopyRange(Pointer{Alloc: a, Offset: 12}, Pointer{Alloc: a}, 4, false)
	assert.True(t, IsKind(err, PartialPointer), "%v", err)

	// overwriting part of a pointer removes it
	err = m.WriteScalar(Pointer{Alloc: a, Offset: 16}, defined(ScalarUint(0, 1)), 1)
	require.NoError(t, err)

	s, err = m.ReadScalar(Pointer{Alloc: a, Offset: 16}, 8, 8, false)
	require.NoError(t, err)
	assert.Nil(t, s.Ptr)
}

func TestMemoryDoubleFree(t *testing.T) {
	m := newTestMemory()

	id, err := m.Allocate(8, 8, KindHeap)
	require.NoError(t, err)

	err = m.Deallocate(id, KindHeap)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = m.Deallocate(id, KindHeap)
		assert.True(t, IsKind(err, DoubleFree), "attempt %d: %v", i, err)
	}

	_, err = m.ReadScalar(Pointer{Alloc: id}, 1, 1, true)
	assert.True(t, IsKind(err, DanglingPointer), "%v", err)
}

func TestMemoryDeallocKinds(t *testing.T) {
	m := newTestMemory()

	heap, err := m.Allocate(8, 8, KindHeap)
	require.NoError(t, err)

	static, err := m.Allocate(8, 8, KindStatic)
	require.NoError(t, err)

	err = m.Deallocate(heap, KindStack)
	assert.True(t, IsKind(err, DeallocKindMismatch), "%v", err)

	err = m.Deallocate(static, KindStatic)
	assert.True(t, IsKind(err, DeallocKindMismatch), "%v", err)

	err = m.WriteScalar(Pointer{Alloc: static}, defined(ScalarUint(1, 8)), 8)
	assert.True(t, IsKind(err, WriteToReadOnly), "%v", err)

	a, err := m.Get(static)
	require.NoError(t, err)

	a.setReloc(0, Pointer{Alloc: heap})

	err = m.Deallocate(heap, KindHeap)
	assert.True(t, IsKind(err, AllocationStillReferenced), "%v", err)

	delete(a.Relocs, 0)

	err = m.Deallocate(heap, KindHeap)
	assert.NoError(t, err)
}

func TestMemoryLimits(t *testing.T) {
	m := newTestMemory()

	_, err := m.Allocate(1<<21, 1, KindHeap)
	assert.True(t, IsKind(err, SizeOverflow), "%v", err)

	_, err = m.AllocateSize(1<<63, 1, KindHeap)
	assert.True(t, IsKind(err, SizeOverflow), "%v", err)

	_, err = m.Allocate(-1, 1, KindHeap)
	assert.True(t, IsKind(err, SizeOverflow), "%v", err)
}

func TestMemoryLeaks(t *testing.T) {
	m := newTestMemory()

	var ids []AllocID

	for i := 0; i < 3; i++ {
		id, err := m.Allocate(4, 4, KindHeap)
		require.NoError(t, err)

		ids = append(ids, id)
	}

	_, err := m.Allocate(4, 4, KindStack)
	require.NoError(t, err)

	require.NoError(t, m.Deallocate(ids[1], KindHeap))

	assert.Equal(t, []AllocID{ids[0], ids[2]}, m.Leaks())
}

func TestMemoryFnPointers(t *testing.T) {
	m := newTestMemory()

	p := m.FnPointer("fact")
	assert.Equal(t, p, m.FnPointer("fact"))
	assert.NotEqual(t, p, m.FnPointer("main"))

	name, err := m.FnName(ScalarPtr(p, 8))
	require.NoError(t, err)
	assert.Equal(t, "fact", name)

	id, err := m.Allocate(8, 8, KindHeap)
	require.NoError(t, err)

	_, err = m.FnName(ScalarPtr(Pointer{Alloc: id}, 8))
	assert.True(t, IsKind(err, InvalidFunctionPointer), "%v", err)

	_, err = m.FnName(ScalarUint(0, 8))
	assert.True(t, IsKind(err, InvalidFunctionPointer), "%v", err)

	_, err = m.ReadScalar(p, 1, 1, true)
	assert.True(t, IsKind(err, PointerOutOfBounds), "%v", err)
}
