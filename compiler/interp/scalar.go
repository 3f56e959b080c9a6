package interp

import (
	"fmt"

	"github.com/holiman/uint256"
	"tlog.app/go/tlog/tlwire"
)

type (
	AllocID uint64

	// Pointer is an allocation relative address.
	// Tag distinguishes pointers created by different borrows of the same place.
	Pointer struct {
		Alloc  AllocID
		Offset int
		Tag    uint64
	}

	// Scalar is a Size bytes wide value.
	// Pointers keep their provenance in Ptr, Bits hold the raw address then.
	Scalar struct {
		Size int
		Bits uint256.Int
		Ptr  *Pointer
	}

	// ScalarMaybeUndef is a scalar with some bytes possibly uninitialized.
	ScalarMaybeUndef struct {
		Scalar
		Undef bool
	}
)

func ScalarUint(v uint64, size int) Scalar {
	s := Scalar{Size: size}
	s.Bits.SetUint64(v)
	s.truncate()

	return s
}

func ScalarInt(v int64, size int) Scalar {
	s := Scalar{Size: size}
	s.Bits.SetUint64(uint64(v))

	if v < 0 {
		s.Bits.Neg(uint256.NewInt(uint64(-v)))
	}

	s.truncate()

	return s
}

// ScalarBits truncates v to size bytes.
func ScalarBits(v *uint256.Int, size int) Scalar {
	s := Scalar{Size: size}
	s.Bits.Set(v)
	s.truncate()

	return s
}

func ScalarBool(v bool) Scalar {
	if v {
		return ScalarUint(1, 1)
	}

	return ScalarUint(0, 1)
}

func ScalarPtr(p Pointer, size int) Scalar {
	s := Scalar{Size: size, Ptr: &p}
	s.Bits.SetUint64(p.Address())
	s.truncate()

	return s
}

func defined(s Scalar) ScalarMaybeUndef {
	return ScalarMaybeUndef{Scalar: s}
}

func undef(size int) ScalarMaybeUndef {
	return ScalarMaybeUndef{Scalar: Scalar{Size: size}, Undef: true}
}

// Address is the integer address a pointer has when observed as bytes.
func (p Pointer) Address() uint64 {
	return uint64(p.Alloc)<<32 | uint64(uint32(p.Offset))
}

func (p Pointer) Add(off int) Pointer {
	p.Offset += off
	return p
}

func (p Pointer) String() string {
	return fmt.Sprintf("alloc%d+%d", p.Alloc, p.Offset)
}

func (p Pointer) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "alloc%d+%d", p.Alloc, p.Offset)
}

func (s *Scalar) truncate() {
	if s.Size >= 32 {
		return
	}

	var m uint256.Int
	m.Lsh(uint256.NewInt(1), uint(s.Size*8))
	m.SubUint64(&m, 1)

	s.Bits.And(&s.Bits, &m)
}

func (s Scalar) IsPtr() bool { return s.Ptr != nil }

// IsNull reports whether s is zero without provenance.
func (s Scalar) IsNull() bool { return s.Ptr == nil && s.Bits.IsZero() }

func (s Scalar) Uint64() uint64 { return s.Bits.Uint64() }

// Signed returns the value sign extended to 256 bits.
func (s Scalar) Signed() uint256.Int {
	var r uint256.Int

	r.Set(&s.Bits)

	if s.Size > 0 && s.Size < 32 {
		r.ExtendSign(&r, uint256.NewInt(uint64(s.Size-1)))
	}

	return r
}

// Int64 returns the value sign extended if signed.
func (s Scalar) Int64(signed bool) int64 {
	if !signed {
		return int64(s.Bits.Uint64())
	}

	r := s.Signed()

	return int64(r.Uint64())
}

func (s Scalar) Equal(x Scalar) bool {
	if s.Size != x.Size || (s.Ptr == nil) != (x.Ptr == nil) {
		return false
	}

	if s.Ptr != nil {
		return s.Ptr.Alloc == x.Ptr.Alloc && s.Ptr.Offset == x.Ptr.Offset
	}

	return s.Bits.Eq(&x.Bits)
}

func (s Scalar) String() string {
	if s.Ptr != nil {
		return s.Ptr.String()
	}

	return fmt.Sprintf("0x%s", s.Bits.Hex()[2:])
}

func (s ScalarMaybeUndef) String() string {
	if s.Undef {
		return "<uninit>"
	}

	return s.Scalar.String()
}

// bytes encodes s little endian.
func (s Scalar) bytes() []byte {
	b := make([]byte, s.Size)
	x := s.Bits

	for i := range b {
		b[i] = byte(x.Uint64())
		x.Rsh(&x, 8)
	}

	return b
}

func scalarFromBytes(b []byte) Scalar {
	s := Scalar{Size: len(b)}

	for i := len(b) - 1; i >= 0; i-- {
		s.Bits.Lsh(&s.Bits, 8)
		s.Bits.Or(&s.Bits, uint256.NewInt(uint64(b[i])))
	}

	return s
}
