package parse

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Program is the top level grammar: a sequence of declarations.
	Program struct{}

	TypeDecl struct{}

	StaticDecl struct{}

	ConstDecl struct{}
)

func (p Program) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	prog := &ir.Program{}

	items := AnyOf{TypeDecl{}, StaticDecl{}, ConstDecl{}, FuncDecl{}}

	i = st

	for {
		i = skip(b, i)
		if i == len(b) {
			break
		}

		var it Node

		it, i, err = items.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "item %d", len(prog.Types)+len(prog.Statics)+len(prog.Consts)+len(prog.Funcs))
		}

		switch it := it.(type) {
		case *tp.Decl:
			if prog.Type(it.Name) != nil {
				return nil, i, errors.New("type %v redeclared", it.Name)
			}

			prog.Types = append(prog.Types, it)
		case *ir.Static:
			if prog.Static(it.Name) != nil {
				return nil, i, errors.New("static %v redeclared", it.Name)
			}

			prog.Statics = append(prog.Statics, it)
		case *ir.Const:
			if prog.Const(it.Name) != nil {
				return nil, i, errors.New("const %v redeclared", it.Name)
			}

			prog.Consts = append(prog.Consts, it)
		case *ir.Func:
			if prog.Func(it.Name) != nil {
				return nil, i, errors.New("func %v redeclared", it.Name)
			}

			prog.Funcs = append(prog.Funcs, it)
		}
	}

	return prog, i, nil
}

func (p TypeDecl) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	var kind string

	for _, k := range []string{"struct", "enum", "union"} {
		if peekKw(b, st, k) {
			kind = k
		}
	}

	if kind == "" {
		return nil, st, errors.New("type declaration expected")
	}

	i, _ = kw(ctx, b, st, kind)

	name, i, err := ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v name", kind)
	}

	i, err = lit(ctx, b, i, "{")
	if err != nil {
		return nil, i, err
	}

	var t tp.Type

	switch kind {
	case "enum":
		var vs []tp.Variant

		vs, i, err = variants(ctx, b, i)
		t = tp.Enum{Name: name, Variants: vs}
	case "struct":
		var fs []tp.Field

		fs, i, err = fields(ctx, b, i)
		t = tp.Struct{Name: name, Fields: fs}
	case "union":
		var fs []tp.Field

		fs, i, err = fields(ctx, b, i)
		t = tp.Union{Name: name, Fields: fs}
	}

	if err != nil {
		return nil, i, errors.Wrap(err, "%v %v", kind, name)
	}

	d := &tp.Decl{Name: name}

	if s := StateFromContext(ctx); s != nil {
		d = s.Decl(name)
		if d.Type != nil {
			return nil, i, errors.New("type %v redeclared", name)
		}
	}

	d.Type = t

	return d, i, nil
}

func fields(ctx context.Context, b []byte, st int) (fs []tp.Field, i int, err error) {
	i = st

	for !peek(b, i, "}") {
		name, j, err := ident(ctx, b, i)
		if err != nil {
			return nil, j, errors.Wrap(err, "field name")
		}

		j, err = lit(ctx, b, j, ":")
		if err != nil {
			return nil, j, err
		}

		t, j, err := Type{}.Parse(ctx, b, j)
		if err != nil {
			return nil, j, errors.Wrap(err, "field %v", name)
		}

		fs = append(fs, tp.Field{Name: name, Type: t.(tp.Type)})

		i = j

		if !peek(b, i, ",") {
			break
		}

		i, _ = lit(ctx, b, i, ",")
	}

	i, err = lit(ctx, b, i, "}")

	return fs, i, err
}

func variants(ctx context.Context, b []byte, st int) (vs []tp.Variant, i int, err error) {
	i = st
	next := int64(0)

	for !peek(b, i, "}") {
		var v tp.Variant

		v.Name, i, err = ident(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "variant name")
		}

		if peek(b, i, "(") {
			i, _ = lit(ctx, b, i, "(")

			v.Fields, i, err = typeList(ctx, b, i, ")")
			if err != nil {
				return nil, i, errors.Wrap(err, "variant %v", v.Name)
			}
		}

		v.Discr = next

		if peek(b, i, "=") {
			i, _ = lit(ctx, b, i, "=")

			var x Node

			x, i, err = Blank{Of: Int{}}.Parse(ctx, b, i)
			if err != nil {
				return nil, i, errors.Wrap(err, "discriminant")
			}

			d := x.(ir.Int)
			if !d.V.IsUint64() && !d.IsNeg() {
				return nil, i, errors.New("discriminant too large")
			}

			v.Discr = int64(d.V.Uint64())
		}

		next = v.Discr + 1

		for _, u := range vs {
			if u.Discr == v.Discr {
				return nil, i, errors.New("variant %v: duplicate discriminant %d", v.Name, v.Discr)
			}
		}

		vs = append(vs, v)

		if !peek(b, i, ",") {
			break
		}

		i, _ = lit(ctx, b, i, ",")
	}

	i, err = lit(ctx, b, i, "}")

	return vs, i, err
}

func (p StaticDecl) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i, err = kw(ctx, b, st, "static")
	if err != nil {
		return nil, st, err
	}

	s := &ir.Static{Span: spanAt(ctx, skip(b, st))}

	if peekKw(b, i, "mut") {
		i, _ = kw(ctx, b, i, "mut")
		s.Mut = true
	}

	s.Name, i, err = ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "static name")
	}

	i, err = lit(ctx, b, i, ":")
	if err != nil {
		return nil, i, err
	}

	t, i, err := Type{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "static %v type", s.Name)
	}

	s.Type = t.(tp.Type)

	i, err = lit(ctx, b, i, "=")
	if err != nil {
		return nil, i, err
	}

	s.Init, i, err = value(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "static %v init", s.Name)
	}

	return s, i, nil
}

func (p ConstDecl) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i, err = kw(ctx, b, st, "const")
	if err != nil {
		return nil, st, err
	}

	c := &ir.Const{Span: spanAt(ctx, skip(b, st))}

	c.Name, i, err = ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "const name")
	}

	i, err = lit(ctx, b, i, ":")
	if err != nil {
		return nil, i, err
	}

	t, i, err := Type{}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "const %v type", c.Name)
	}

	c.Type = t.(tp.Type)

	i, err = lit(ctx, b, i, "=")
	if err != nil {
		return nil, i, err
	}

	c.Init, i, err = ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "const %v init func", c.Name)
	}

	return c, i, nil
}
