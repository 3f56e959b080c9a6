package ir

import (
	"github.com/holiman/uint256"
)

type (
	// Value is a compile time constant.
	Value interface {
		value()
	}

	// Int is an integer constant in 256-bit two's complement.
	// It's truncated to the size of its type when materialized.
	Int struct {
		V uint256.Int
	}

	Bool bool

	Unit struct{}

	FnRef struct {
		Name string
	}

	StaticRef struct {
		Name string
	}

	ConstRef struct {
		Name string
	}

	Bytes []byte

	// Array is an element-wise constant for arrays, tuples and structs.
	Array []Value
)

func (Int) value()       {}
func (Bool) value()      {}
func (Unit) value()      {}
func (FnRef) value()     {}
func (StaticRef) value() {}
func (ConstRef) value()  {}
func (Bytes) value()     {}
func (Array) value()     {}

func IntOf(v int64) Int {
	var x Int

	x.V.SetUint64(uint64(v))

	if v < 0 {
		x.V.Neg(uint256.NewInt(uint64(-v)))
	}

	return x
}

func UintOf(v uint64) Int {
	var x Int

	x.V.SetUint64(v)

	return x
}

// IsNeg reports whether x is negative in 256-bit two's complement.
func (x Int) IsNeg() bool {
	return x.V.Sign() < 0
}

func (x Int) String() string {
	if x.IsNeg() {
		var a uint256.Int
		a.Neg(&x.V)

		return "-" + a.Dec()
	}

	return x.V.Dec()
}

func IsIntValue(v Value) bool {
	_, ok := v.(Int)
	return ok
}
