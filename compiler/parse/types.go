package parse

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/tp"
)

type (
	Type struct{}
)

func (p Type) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = skip(b, st)

	if i == len(b) {
		return nil, st, errors.New("type expected")
	}

	switch b[i] {
	case '(':
		l, j, err := typeList(ctx, b, i+1, ")")
		if err != nil {
			return nil, j, errors.Wrap(err, "tuple")
		}

		return tp.Tuple{Elems: l}, j, nil
	case '[':
		el, j, err := p.Parse(ctx, b, i+1)
		if err != nil {
			return nil, j, errors.Wrap(err, "array elem")
		}

		j, err = lit(ctx, b, j, ";")
		if err != nil {
			return nil, j, err
		}

		n, j, err := uintLit(ctx, b, j)
		if err != nil {
			return nil, j, errors.Wrap(err, "array len")
		}

		j, err = lit(ctx, b, j, "]")
		if err != nil {
			return nil, j, err
		}

		return tp.Array{Elem: el.(tp.Type), Len: n}, j, nil
	case '*':
		var mut bool

		j := i + 1

		switch {
		case peekKw(b, j, "mut"):
			mut = true
			j, _ = kw(ctx, b, j, "mut")
		case peekKw(b, j, "const"):
			j, _ = kw(ctx, b, j, "const")
		default:
			return nil, j, errors.New("const or mut expected")
		}

		el, j, err := p.Parse(ctx, b, j)
		if err != nil {
			return nil, j, errors.Wrap(err, "pointee")
		}

		return tp.Ptr{Elem: el.(tp.Type), Mut: mut}, j, nil
	case '&':
		j := i + 1

		mut := peekKw(b, j, "mut")
		if mut {
			j, _ = kw(ctx, b, j, "mut")
		}

		el, j, err := p.Parse(ctx, b, j)
		if err != nil {
			return nil, j, errors.Wrap(err, "referent")
		}

		return tp.Ptr{Elem: el.(tp.Type), Mut: mut, Ref: true}, j, nil
	case '!':
		return tp.Never{}, i + 1, nil
	}

	if peekKw(b, i, "fn") {
		return fnPtrType(ctx, b, i)
	}

	name, j, err := ident(ctx, b, i)
	if err != nil {
		return nil, st, errors.New("type expected")
	}

	if t, ok := tp.Builtin(name); ok {
		return t, j, nil
	}

	s := StateFromContext(ctx)
	if s == nil {
		return nil, i, errors.New("undefined type: %v", name)
	}

	return tp.Named{Name: name, Decl: s.Decl(name)}, j, nil
}

func fnPtrType(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i, err = kw(ctx, b, st, "fn")
	if err != nil {
		return nil, st, err
	}

	i, err = lit(ctx, b, i, "(")
	if err != nil {
		return nil, i, err
	}

	in, i, err := typeList(ctx, b, i, ")")
	if err != nil {
		return nil, i, errors.Wrap(err, "params")
	}

	out, i, err := retType(ctx, b, i)
	if err != nil {
		return nil, i, err
	}

	return tp.FnPtr{In: in, Out: out}, i, nil
}

// retType parses optional -> T, defaulting to unit.
func retType(ctx context.Context, b []byte, st int) (tp.Type, int, error) {
	if !peek(b, st, "->") {
		return tp.Unit, st, nil
	}

	i, _ := lit(ctx, b, st, "->")

	x, i, err := Type{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "result type")
	}

	return x.(tp.Type), i, nil
}

// typeList parses comma separated types up to and including end.
func typeList(ctx context.Context, b []byte, st int, end string) (l []tp.Type, i int, err error) {
	i = st

	for {
		if peek(b, i, end) {
			i, _ = lit(ctx, b, i, end)
			return l, i, nil
		}

		var x Node

		x, i, err = Type{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "elem %d", len(l))
		}

		l = append(l, x.(tp.Type))

		if peek(b, i, ",") {
			i, _ = lit(ctx, b, i, ",")
			continue
		}

		i, err = lit(ctx, b, i, end)
		if err != nil {
			return nil, i, err
		}

		return l, i, nil
	}
}
