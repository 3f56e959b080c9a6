package interp

import (
	"sort"

	"fortio.org/safecast"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"
)

type (
	// Memory owns all allocations of one interpreter instance.
	// It's not safe for concurrent use.
	Memory struct {
		PtrSize        int
		MaxAllocSize   int64
		CheckAlignment bool

		allocs map[AllocID]*Allocation
		freed  map[AllocID]AllocKind

		fns map[string]AllocID

		next AllocID
		tags uint64
	}
)

func NewMemory(ptrSize int, maxAlloc int64, checkAlign bool) *Memory {
	return &Memory{
		PtrSize:        ptrSize,
		MaxAllocSize:   maxAlloc,
		CheckAlignment: checkAlign,

		allocs: make(map[AllocID]*Allocation),
		freed:  make(map[AllocID]AllocKind),
		fns:    make(map[string]AllocID),
	}
}

// Allocate creates a zeroed, fully uninitialized allocation.
func (m *Memory) Allocate(size, align int, kind AllocKind) (AllocID, error) {
	if size < 0 || m.MaxAllocSize != 0 && int64(size) > m.MaxAllocSize {
		return 0, newError(SizeOverflow, "allocation of %d bytes exceeds limit %d", size, m.MaxAllocSize)
	}

	if align <= 0 {
		align = 1
	}

	m.next++
	id := m.next

	m.allocs[id] = newAllocation(id, size, align, kind)

	tlog.V("alloc").Printw("allocate", "id", id, "size", size, "align", align, "kind", kind, "from", loc.Caller(1))

	return id, nil
}

// AllocateSize is Allocate for sizes computed as 256-bit integers.
func (m *Memory) AllocateSize(size uint64, align int, kind AllocKind) (AllocID, error) {
	n, err := safecast.Convert[int](size)
	if err != nil {
		return 0, wrapError(SizeOverflow, err, "allocation size %d", size)
	}

	return m.Allocate(n, align, kind)
}

// Get returns a live allocation.
func (m *Memory) Get(id AllocID) (*Allocation, error) {
	a, ok := m.allocs[id]
	if ok {
		return a, nil
	}

	if k, ok := m.freed[id]; ok {
		return nil, newError(DanglingPointer, "alloc%d (%v) has been freed", id, k)
	}

	return nil, newError(DanglingPointer, "alloc%d does not exist", id)
}

// NewTag returns a fresh pointer tag.
func (m *Memory) NewTag() uint64 {
	m.tags++
	return m.tags
}

// check resolves an access of size bytes at p.
func (m *Memory) check(p Pointer, size, align int) (*Allocation, error) {
	if p.Alloc == 0 {
		return nil, newError(NullPointerDeref, "access of %d bytes", size)
	}

	a, err := m.Get(p.Alloc)
	if err != nil {
		return nil, err
	}

	if a.Kind == KindFunction && size != 0 {
		return nil, newError(PointerOutOfBounds, "access of function %v memory", a.Name)
	}

	if p.Offset < 0 || p.Offset+size > a.Size() || p.Offset > a.Size() {
		return nil, newError(PointerOutOfBounds, "%v: access of %d bytes, allocation size is %d", p, size, a.Size())
	}

	if m.CheckAlignment && align > 1 && (a.Align < align || p.Offset%align != 0) {
		return nil, newError(Misaligned, "%v: required alignment %d, allocation alignment %d", p, align, a.Align)
	}

	return a, nil
}

// CheckPtr verifies size bytes at p are dereferenceable.
func (m *Memory) CheckPtr(p Pointer, size, align int) error {
	_, err := m.check(p, size, align)
	return err
}

// ReadScalar reads size bytes at p.
// If allowUndef is set uninitialized bytes produce an undefined scalar instead of an error.
func (m *Memory) ReadScalar(p Pointer, size, align int, allowUndef bool) (ScalarMaybeUndef, error) {
	if size == 0 {
		return defined(Scalar{}), nil
	}

	a, err := m.check(p, size, align)
	if err != nil {
		return ScalarMaybeUndef{}, err
	}

	off := p.Offset

	if i := a.Init.FirstClear(off, off+size); i >= 0 {
		if allowUndef {
			return undef(size), nil
		}

		return ScalarMaybeUndef{}, newError(InvalidUninitBytes, "%v: byte %d of %d is uninitialized", p, i-off, size)
	}

	rel := a.relocsIn(off, size, m.PtrSize)

	switch {
	case len(rel) == 0:
		return defined(scalarFromBytes(a.Bytes[off : off+size])), nil
	case len(rel) == 1 && rel[0] == off && size == m.PtrSize:
		return defined(ScalarPtr(a.Relocs[off], size)), nil
	default:
		return ScalarMaybeUndef{}, newError(PartialPointer, "%v: read of %d bytes overlaps a pointer at offset %d", p, size, rel[0])
	}
}

// WriteScalar writes s at p marking the bytes initialized, or uninitialized if s is undefined.
func (m *Memory) WriteScalar(p Pointer, s ScalarMaybeUndef, align int) error {
	size := s.Size
	if size == 0 {
		return nil
	}

	a, err := m.checkWrite(p, size, align)
	if err != nil {
		return err
	}

	off := p.Offset

	a.clearRelocs(off, size, m.PtrSize)

	if s.Undef {
		a.Init.ClearRange(off, off+size)
		return nil
	}

	if s.Ptr != nil {
		if size != m.PtrSize {
			return newError(PartialPointer, "%v: write of a pointer as %d bytes", p, size)
		}

		a.setReloc(off, *s.Ptr)
	}

	copy(a.Bytes[off:], s.bytes())
	a.Init.SetRange(off, off+size)

	return nil
}

func (m *Memory) checkWrite(p Pointer, size, align int) (*Allocation, error) {
	a, err := m.check(p, size, align)
	if err != nil {
		return nil, err
	}

	if !a.Mutable {
		return nil, newError(WriteToReadOnly, "%v: %v allocation %v", p, a.Kind, a.Name)
	}

	return a, nil
}

// ReadBytes reads n initialized bytes without pointers.
func (m *Memory) ReadBytes(p Pointer, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	a, err := m.check(p, n, 1)
	if err != nil {
		return nil, err
	}

	if i := a.Init.FirstClear(p.Offset, p.Offset+n); i >= 0 {
		return nil, newError(InvalidUninitBytes, "%v: byte %d of %d is uninitialized", p, i-p.Offset, n)
	}

	if rel := a.relocsIn(p.Offset, n, m.PtrSize); len(rel) != 0 {
		return nil, newError(PartialPointer, "%v: byte read overlaps a pointer at offset %d", p, rel[0])
	}

	r := make([]byte, n)
	copy(r, a.Bytes[p.Offset:])

	return r, nil
}

func (m *Memory) WriteBytes(p Pointer, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	a, err := m.checkWrite(p, len(data), 1)
	if err != nil {
		return err
	}

	a.clearRelocs(p.Offset, len(data), m.PtrSize)
	copy(a.Bytes[p.Offset:], data)
	a.Init.SetRange(p.Offset, p.Offset+len(data))

	return nil
}

// WriteRepeat fills n bytes at p with c.
func (m *Memory) WriteRepeat(p Pointer, c byte, n int) error {
	if n == 0 {
		return nil
	}

	a, err := m.checkWrite(p, n, 1)
	if err != nil {
		return err
	}

	a.clearRelocs(p.Offset, n, m.PtrSize)

	for i := p.Offset; i < p.Offset+n; i++ {
		a.Bytes[i] = c
	}

	a.Init.SetRange(p.Offset, p.Offset+n)

	return nil
}

// MarkUninit makes n bytes at p uninitialized.
func (m *Memory) MarkUninit(p Pointer, n int) error {
	if n == 0 {
		return nil
	}

	a, err := m.checkWrite(p, n, 1)
	if err != nil {
		return err
	}

	a.clearRelocs(p.Offset, n, m.PtrSize)

	if p.Offset == 0 && n == a.Size() {
		a.Init.Reset()
	} else {
		a.Init.ClearRange(p.Offset, p.Offset+n)
	}

	return nil
}

// CopyRange copies n bytes with their init state and pointers.
// With nonoverlapping set overlapping ranges are undefined behavior.
func (m *Memory) CopyRange(src, dst Pointer, n int, nonoverlapping bool) error {
	if n == 0 {
		return nil
	}

	sa, err := m.check(src, n, 1)
	if err != nil {
		return err
	}

	da, err := m.checkWrite(dst, n, 1)
	if err != nil {
		return err
	}

	if nonoverlapping && sa == da && src.Offset < dst.Offset+n && dst.Offset < src.Offset+n {
		return newError(UndefinedBehavior, "copy_nonoverlapping of overlapping ranges %v and %v", src, dst)
	}

	bytes := make([]byte, n)
	copy(bytes, sa.Bytes[src.Offset:src.Offset+n])

	init := sa.Init.Copy()

	var rel []Pointer
	rels := sa.relocsIn(src.Offset, n, m.PtrSize)

	for _, o := range rels {
		if o < src.Offset || o+m.PtrSize > src.Offset+n {
			return newError(PartialPointer, "copy of %d bytes at %v splits a pointer at offset %d", n, src, o)
		}

		rel = append(rel, sa.Relocs[o])
	}

	da.clearRelocs(dst.Offset, n, m.PtrSize)
	copy(da.Bytes[dst.Offset:], bytes)
	da.Init.CopyFrom(dst.Offset, &init, src.Offset, n)

	for i, o := range rels {
		da.setReloc(o-src.Offset+dst.Offset, rel[i])
	}

	return nil
}

// Deallocate frees an allocation of the given kind.
// Freeing an already freed allocation fails with DoubleFree every time.
func (m *Memory) Deallocate(id AllocID, kind AllocKind) error {
	if k, ok := m.freed[id]; ok {
		return newError(DoubleFree, "alloc%d (%v) has already been freed", id, k)
	}

	a, ok := m.allocs[id]
	if !ok {
		return newError(DanglingPointer, "alloc%d does not exist", id)
	}

	if a.Kind == KindStatic || a.Kind == KindFunction {
		return newError(DeallocKindMismatch, "alloc%d: %v memory can't be freed", id, a.Kind)
	}

	if a.Kind != kind {
		return newError(DeallocKindMismatch, "alloc%d: %v memory freed as %v", id, a.Kind, kind)
	}

	for _, s := range m.allocs {
		if s.Kind == KindStatic && !s.Mutable && s.refersTo(id) {
			return newError(AllocationStillReferenced, "alloc%d is referenced by static %v", id, s.Name)
		}
	}

	delete(m.allocs, id)
	m.freed[id] = kind

	tlog.V("alloc").Printw("deallocate", "id", id, "kind", kind, "from", loc.Caller(1))

	return nil
}

// Leaks returns heap allocations still alive.
func (m *Memory) Leaks() []AllocID {
	var l []AllocID

	for id, a := range m.allocs {
		if a.Kind == KindHeap {
			l = append(l, id)
		}
	}

	sort.Slice(l, func(i, j int) bool { return l[i] < l[j] })

	return l
}

// Live returns the number of live allocations.
func (m *Memory) Live() int { return len(m.allocs) }

// FnPointer returns the pointer to function name. Each function has a single zero sized allocation.
func (m *Memory) FnPointer(name string) Pointer {
	if id, ok := m.fns[name]; ok {
		return Pointer{Alloc: id}
	}

	m.next++
	id := m.next

	a := newAllocation(id, 0, 1, KindFunction)
	a.Name = name

	m.allocs[id] = a
	m.fns[name] = id

	return Pointer{Alloc: id}
}

// FnName resolves a function pointer.
func (m *Memory) FnName(s Scalar) (string, error) {
	if s.Ptr == nil {
		if s.Bits.IsZero() {
			return "", newError(InvalidFunctionPointer, "null function pointer")
		}

		return "", newError(InvalidFunctionPointer, "%v is not a function", s)
	}

	a, ok := m.allocs[s.Ptr.Alloc]
	if !ok || a.Kind != KindFunction || s.Ptr.Offset != 0 {
		return "", newError(InvalidFunctionPointer, "%v is not a function", s.Ptr)
	}

	return a.Name, nil
}
