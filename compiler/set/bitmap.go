package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a dense bit set.
	// Allocations use it as the per-byte initialization mask.
	Bitmap struct {
		b []uint64
	}
)

func MakeBitmap(Len int) Bitmap {
	return Bitmap{
		b: make([]uint64, (Len+63)/64),
	}
}

func (s *Bitmap) Set(i int) {
	i, j := s.ij(i)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s *Bitmap) Clear(i int) {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

func (s *Bitmap) IsSet(i int) bool {
	i, j := s.ij(i)

	if i >= len(s.b) {
		return false
	}

	return (s.b[i] & (1 << j)) != 0
}

// SetRange sets bits [l, r).
func (s *Bitmap) SetRange(l, r int) {
	s.apply(l, r, func(w *uint64, m uint64) { *w |= m })
}

// ClearRange clears bits [l, r).
func (s *Bitmap) ClearRange(l, r int) {
	s.apply(l, r, func(w *uint64, m uint64) { *w &^= m })
}

// FirstClear returns the first unset bit in [l, r) or -1.
func (s *Bitmap) FirstClear(l, r int) int {
	for i := l; i < r; {
		wi, j := s.ij(i)

		var w uint64
		if wi < len(s.b) {
			w = s.b[wi]
		}

		if j == 0 && w == ^uint64(0) {
			i += 64
			continue
		}

		if w&(1<<j) == 0 {
			return i
		}

		i++
	}

	return -1
}

// CopyFrom copies n bits of src starting at so into s starting at do.
func (s *Bitmap) CopyFrom(do int, src *Bitmap, so, n int) {
	if n <= 0 {
		return
	}

	tmp := make([]bool, n)

	for k := range tmp {
		tmp[k] = src.IsSet(so + k)
	}

	for k, v := range tmp {
		if v {
			s.Set(do + k)
		} else {
			s.Clear(do + k)
		}
	}
}

func (s *Bitmap) Copy() Bitmap {
	r := Bitmap{b: make([]uint64, len(s.b))}
	copy(r.b, s.b)
	return r
}

func (s *Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

func (s *Bitmap) Range(f func(i int) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(i*64 + j) {
				return
			}
		}
	}
}

// Words exposes the backing words for serialization.
func (s *Bitmap) Words() []uint64 {
	return s.b
}

// FromWords rebuilds bitmap from serialized words.
func FromWords(w []uint64) Bitmap {
	b := make([]uint64, len(w))
	copy(b, w)

	return Bitmap{b: b}
}

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s *Bitmap) apply(l, r int, f func(w *uint64, m uint64)) {
	if l >= r {
		return
	}

	last, _ := s.ij(r - 1)
	s.grow(last)

	for i := l; i < r; {
		wi, j := s.ij(i)

		n := 64 - j
		if r-i < n {
			n = r - i
		}

		var m uint64
		if n == 64 {
			m = ^uint64(0)
		} else {
			m = (uint64(1)<<n - 1) << j
		}

		f(&s.b[wi], m)

		i += n
	}
}

func (s *Bitmap) ij(pos int) (i int, j int) {
	i, j = pos/64, pos%64

	return i, j
}

func (s *Bitmap) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
