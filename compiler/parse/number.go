package parse

import (
	"context"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
)

type (
	// Int parses a possibly negative decimal or 0x/0b prefixed integer into ir.Int.
	Int struct{}

	// Uint parses a small non-negative decimal number into int.
	Uint struct{}
)

func (p Int) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	neg := i < len(b) && b[i] == '-'
	if neg {
		i++
	}

	base := 10

	if i+1 < len(b) && b[i] == '0' {
		switch b[i+1] {
		case 'x', 'X':
			base = 16
			i += 2
		case 'b', 'B':
			base = 2
			i += 2
		}
	}

	dst := i

	for i < len(b) && (isDigit(b[i], base) || b[i] == '_' && i != dst) {
		i++
	}

	if i == dst {
		return nil, st, errors.New("Int expected")
	}

	digits := strings.ReplaceAll(string(b[dst:i]), "_", "")

	var v ir.Int

	switch base {
	case 16:
		digits = strings.TrimLeft(digits, "0")
		if digits == "" {
			digits = "0"
		}

		err = v.V.SetFromHex("0x" + digits)
	case 2:
		for _, c := range digits {
			v.V.Lsh(&v.V, 1)
			if c == '1' {
				v.V.Or(&v.V, uint256.NewInt(1))
			}
		}
	default:
		err = v.V.SetFromDecimal(digits)
	}

	if err != nil {
		return nil, st, errors.Wrap(err, "Int value")
	}

	if neg {
		v.V.Neg(&v.V)
	}

	return v, i, nil
}

func (p Uint) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}

	if i == st {
		return nil, st, errors.New("number expected")
	}

	v, err := strconv.Atoi(string(b[st:i]))
	if err != nil {
		return nil, st, errors.Wrap(err, "number")
	}

	return v, i, nil
}

func isDigit(c byte, base int) bool {
	switch base {
	case 16:
		return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
	case 2:
		return c == '0' || c == '1'
	default:
		return c >= '0' && c <= '9'
	}
}
