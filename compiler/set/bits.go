package set

import (
	"math/bits"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a sparse-friendly set of small integer keys, like block ids.
	Bits[K Key] struct {
		b []uint64
	}
)

func (s *Bits[K]) Set(k K) {
	i, j := s.ij(k)

	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}

	s.b[i] |= 1 << j
}

func (s Bits[K]) IsSet(k K) bool {
	i, j := s.ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s Bits[K]) Range(f func(k K) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func (s Bits[K]) ij(k K) (i int, j int) {
	p := int(k)

	return p / 64, p % 64
}
