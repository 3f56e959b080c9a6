package parse

import (
	"bytes"
	"context"
)

// lit skips blanks and expects s.
func lit(ctx context.Context, b []byte, st int, s string) (i int, err error) {
	_, i, err = Blank{Of: Const(s)}.Parse(ctx, b, st)
	return
}

// kw skips blanks and expects keyword s.
func kw(ctx context.Context, b []byte, st int, s string) (i int, err error) {
	_, i, err = Blank{Of: Keyword(s)}.Parse(ctx, b, st)
	return
}

// peek reports whether s follows after blanks.
func peek(b []byte, st int, s string) bool {
	return bytes.HasPrefix(b[skip(b, st):], []byte(s))
}

// peekKw reports whether keyword s follows after blanks.
func peekKw(b []byte, st int, s string) bool {
	i := skip(b, st)

	if !bytes.HasPrefix(b[i:], []byte(s)) {
		return false
	}

	i += len(s)

	return i == len(b) || !isIdentChar(b[i])
}

func ident(ctx context.Context, b []byte, st int) (string, int, error) {
	x, i, err := Blank{Of: Ident{}}.Parse(ctx, b, st)
	if err != nil {
		return "", i, err
	}

	return string(x.(Ident)), i, nil
}

func uintLit(ctx context.Context, b []byte, st int) (int, int, error) {
	x, i, err := Blank{Of: Uint{}}.Parse(ctx, b, st)
	if err != nil {
		return 0, i, err
	}

	return x.(int), i, nil
}

// prefixed parses names like _12 or bb3.
func prefixed(ctx context.Context, b []byte, st int, pref string) (int, int, error) {
	i, err := lit(ctx, b, st, pref)
	if err != nil {
		return 0, st, err
	}

	n, i, err := uintLit(ctx, b, i)
	if err != nil {
		return 0, i, err
	}

	return n, i, nil
}
