package parse

import (
	"bytes"
	"context"
	"strconv"
	"unicode/utf8"

	"tlog.app/go/errors"
)

type (
	Const []byte

	// Keyword is Const which must not be followed by an identifier char.
	Keyword string

	Ident []byte

	// Path is an identifier with optional :: separated segments.
	Path struct{}

	Bool struct{}

	// ByteString parses b"..." literals.
	ByteString struct{}

	// String parses Go style quoted strings.
	String struct{}
)

func (p Const) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if bytes.HasPrefix(b[st:], p) {
		return Const(b[st : st+len(p)]), st + len(p), nil
	}

	return nil, st, errors.New("%q expected", []byte(p))
}

func (p Keyword) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if !bytes.HasPrefix(b[st:], []byte(p)) {
		return nil, st, errors.New("%q expected", string(p))
	}

	i = st + len(p)

	if i < len(b) && isIdentChar(b[i]) {
		return nil, st, errors.New("%q expected", string(p))
	}

	return p, i, nil
}

func (p Ident) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) {
		return nil, st, errors.New("Ident expected")
	}

	i = st

	c := b[i]

	switch {
	case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_':
		i++
	default:
		return nil, st, errors.New("Ident expected")
	}

loop:
	for i < len(b) {
		c := b[i]

		switch {
		case isIdentChar(c):
			i++
		case c >= utf8.RuneSelf:
			if r, w := utf8.DecodeRune(b[i:]); r == utf8.RuneError {
				return nil, i, errors.New("bad rune")
			} else {
				i += w
			}
		default:
			break loop
		}
	}

	return Ident(b[st:i]), i, nil
}

func (p Path) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, st, err
	}

	for i+2 < len(b) && b[i] == ':' && b[i+1] == ':' {
		_, i, err = Ident{}.Parse(ctx, b, i+2)
		if err != nil {
			return nil, i, errors.Wrap(err, "path segment")
		}
	}

	return string(b[st:i]), i, nil
}

func (Bool) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	if _, i, err = Keyword("true").Parse(ctx, b, st); err == nil {
		return true, i, nil
	}

	if _, i, err = Keyword("false").Parse(ctx, b, st); err == nil {
		return false, i, nil
	}

	return nil, st, errors.New("Bool expected")
}

func (ByteString) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	if !bytes.HasPrefix(b[st:], []byte(`b"`)) {
		return nil, st, errors.New("byte string expected")
	}

	s, i, err := quoted(b, st+1)
	if err != nil {
		return nil, i, err
	}

	return []byte(s), i, nil
}

func (String) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	if st == len(b) || b[st] != '"' {
		return nil, st, errors.New("string expected")
	}

	return quoted(b, st)
}

func quoted(b []byte, st int) (string, int, error) {
	for j := st + 1; j < len(b); j++ {
		switch b[j] {
		case '\\':
			j++
		case '\n':
			return "", j, errors.New("unterminated string")
		case '"':
			s, err := strconv.Unquote(string(b[st : j+1]))
			if err != nil {
				return "", st, errors.Wrap(err, "string")
			}

			return s, j + 1, nil
		}
	}

	return "", len(b), errors.New("unterminated string")
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
