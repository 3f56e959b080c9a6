package interp

import (
	"sort"

	"github.com/slowlang/mir/compiler/set"
)

type (
	AllocKind int

	// Allocation is a single independently sized memory region.
	// Init tracks initialized bytes, Relocs records pointers stored at offsets.
	Allocation struct {
		ID      AllocID
		Kind    AllocKind
		Bytes   []byte
		Init    set.Bitmap
		Relocs  map[int]Pointer
		Align   int
		Mutable bool

		// Name is the static or function the allocation belongs to.
		Name string
	}
)

const (
	KindStack AllocKind = iota
	KindHeap
	KindStatic
	KindFunction
)

func (k AllocKind) String() string {
	switch k {
	case KindStack:
		return "stack"
	case KindHeap:
		return "heap"
	case KindStatic:
		return "static"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

func newAllocation(id AllocID, size, align int, kind AllocKind) *Allocation {
	return &Allocation{
		ID:      id,
		Kind:    kind,
		Bytes:   make([]byte, size),
		Init:    set.MakeBitmap(size),
		Align:   align,
		Mutable: kind == KindStack || kind == KindHeap,
	}
}

func (a *Allocation) Size() int { return len(a.Bytes) }

// relocsIn returns offsets of relocations overlapping [off, off+size).
func (a *Allocation) relocsIn(off, size, ptrSize int) []int {
	if len(a.Relocs) == 0 {
		return nil
	}

	var l []int

	for o := range a.Relocs {
		if o < off+size && o+ptrSize > off {
			l = append(l, o)
		}
	}

	sort.Ints(l)

	return l
}

func (a *Allocation) clearRelocs(off, size, ptrSize int) {
	for _, o := range a.relocsIn(off, size, ptrSize) {
		delete(a.Relocs, o)
	}
}

func (a *Allocation) setReloc(off int, p Pointer) {
	if a.Relocs == nil {
		a.Relocs = make(map[int]Pointer)
	}

	a.Relocs[off] = p
}

// refersTo reports whether any pointer stored in a points into id.
func (a *Allocation) refersTo(id AllocID) bool {
	for _, p := range a.Relocs {
		if p.Alloc == id {
			return true
		}
	}

	return false
}
