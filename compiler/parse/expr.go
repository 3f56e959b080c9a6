package parse

import (
	"context"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	PlaceExpr struct{}

	OperandExpr struct{}

	RvalueExpr struct{}

	ValueExpr struct{}
)

func (PlaceExpr) Parse(ctx context.Context, b []byte, st int) (Node, int, error) {
	return place(ctx, b, st)
}

func (OperandExpr) Parse(ctx context.Context, b []byte, st int) (Node, int, error) {
	return operand(ctx, b, st)
}

func (RvalueExpr) Parse(ctx context.Context, b []byte, st int) (Node, int, error) {
	return rvalue(ctx, b, st)
}

func (ValueExpr) Parse(ctx context.Context, b []byte, st int) (Node, int, error) {
	return value(ctx, b, st)
}

// place parses _N, (*place), (place as Variant) followed by .N, [_M], [N] projections.
func place(ctx context.Context, b []byte, st int) (p ir.Place, i int, err error) {
	i = skip(b, st)

	switch {
	case peek(b, i, "(*"):
		i, _ = lit(ctx, b, i, "(*")

		p, i, err = place(ctx, b, i)
		if err != nil {
			return p, i, errors.Wrap(err, "deref")
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return p, i, err
		}

		p = p.Project(ir.Deref{})
	case peek(b, i, "("):
		i, _ = lit(ctx, b, i, "(")

		p, i, err = place(ctx, b, i)
		if err != nil {
			return p, i, errors.Wrap(err, "downcast")
		}

		i, err = kw(ctx, b, i, "as")
		if err != nil {
			return p, i, err
		}

		var d ir.Downcast

		if n, j, err := uintLit(ctx, b, i); err == nil {
			d.Index = n
			i = j
		} else {
			d.Name, i, err = ident(ctx, b, i)
			if err != nil {
				return p, i, errors.Wrap(err, "variant")
			}
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return p, i, err
		}

		p = p.Project(d)
	default:
		var n int

		n, i, err = prefixed(ctx, b, i, "_")
		if err != nil {
			return p, st, errors.New("place expected")
		}

		p = ir.LocalPlace(ir.Local(n))
	}

	for i < len(b) {
		switch b[i] {
		case '.':
			var n int

			n, i, err = uintLit(ctx, b, i+1)
			if err != nil {
				return p, i, errors.Wrap(err, "field")
			}

			p = p.Project(ir.Field{Index: n})
		case '[':
			j := skip(b, i+1)

			if j < len(b) && b[j] == '_' {
				var n int

				n, j, err = prefixed(ctx, b, j, "_")
				if err != nil {
					return p, j, errors.Wrap(err, "index local")
				}

				p = p.Project(ir.Index{Local: ir.Local(n)})
			} else {
				var n int

				n, j, err = uintLit(ctx, b, j)
				if err != nil {
					return p, j, errors.Wrap(err, "index")
				}

				p = p.Project(ir.ConstIndex{Offset: n})
			}

			i, err = lit(ctx, b, j, "]")
			if err != nil {
				return p, i, err
			}
		default:
			return p, i, nil
		}
	}

	return p, i, nil
}

func operand(ctx context.Context, b []byte, st int) (op ir.Operand, i int, err error) {
	switch {
	case peekKw(b, st, "copy"):
		i, _ = kw(ctx, b, st, "copy")

		p, i, err := place(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "copy")
		}

		return ir.Copy{Place: p}, i, nil
	case peekKw(b, st, "move"):
		i, _ = kw(ctx, b, st, "move")

		p, i, err := place(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "move")
		}

		return ir.Move{Place: p}, i, nil
	case peekKw(b, st, "const"):
		i, _ = kw(ctx, b, st, "const")

		return constant(ctx, b, i)
	}

	return nil, st, errors.New("operand expected")
}

func constant(ctx context.Context, b []byte, st int) (op ir.Operand, i int, err error) {
	v, i, err := value(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "const")
	}

	c := ir.Constant{Value: v}

	switch v := v.(type) {
	case ir.Bool:
		c.Type = tp.Bool{}
	case ir.Unit:
		c.Type = tp.Unit
	case ir.Bytes:
		c.Type = tp.Array{Elem: tp.U8, Len: len(v)}
	}

	if peek(b, i, ":") {
		i, _ = lit(ctx, b, i, ":")

		t, j, err := Type{}.Parse(ctx, b, i)
		if err != nil {
			return nil, j, errors.Wrap(err, "const type")
		}

		c.Type = t.(tp.Type)
		i = j
	}

	if _, ok := v.(ir.Int); ok && c.Type == nil {
		return nil, i, errors.New("integer constant needs a type: const %v: T", v)
	}

	return c, i, nil
}

func operandList(ctx context.Context, b []byte, st int, end string) (l []ir.Operand, i int, err error) {
	i = st

	for {
		if peek(b, i, end) {
			i, _ = lit(ctx, b, i, end)
			return l, i, nil
		}

		var op ir.Operand

		op, i, err = operand(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "operand %d", len(l))
		}

		l = append(l, op)

		if peek(b, i, ",") {
			i, _ = lit(ctx, b, i, ",")
			continue
		}

		i, err = lit(ctx, b, i, end)

		return l, i, err
	}
}

func rvalue(ctx context.Context, b []byte, st int) (rv ir.Rvalue, i int, err error) {
	i = skip(b, st)

	switch {
	case peek(b, i, "&"):
		i, _ = lit(ctx, b, i, "&")

		raw := peekKw(b, i, "raw")
		if raw {
			i, _ = kw(ctx, b, i, "raw")
		}

		mut := peekKw(b, i, "mut")

		switch {
		case mut:
			i, _ = kw(ctx, b, i, "mut")
		case raw:
			i, err = kw(ctx, b, i, "const")
			if err != nil {
				return nil, i, err
			}
		}

		p, i, err := place(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "ref")
		}

		if raw {
			return ir.AddressOf{Place: p, Mut: mut}, i, nil
		}

		return ir.Ref{Place: p, Mut: mut}, i, nil
	case peek(b, i, "("):
		i, _ = lit(ctx, b, i, "(")

		ops, i, err := operandList(ctx, b, i, ")")
		if err != nil {
			return nil, i, errors.Wrap(err, "tuple")
		}

		return ir.Aggregate{Kind: ir.AggTuple, Ops: ops}, i, nil
	case peek(b, i, "["):
		i, _ = lit(ctx, b, i, "[")

		ops, i, err := operandList(ctx, b, i, "]")
		if err != nil {
			return nil, i, errors.Wrap(err, "array")
		}

		return ir.Aggregate{Kind: ir.AggArray, Ops: ops}, i, nil
	case peekKw(b, i, "copy"), peekKw(b, i, "move"), peekKw(b, i, "const"):
		op, i, err := operand(ctx, b, i)
		if err != nil {
			return nil, i, err
		}

		return ir.Use{X: op}, i, nil
	}

	name, j, err := ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.New("rvalue expected")
	}

	if peek(b, j, "(") {
		return callLike(ctx, b, j, name)
	}

	return aggregate(ctx, b, i)
}

func callLike(ctx context.Context, b []byte, st int, name string) (rv ir.Rvalue, i int, err error) {
	i, _ = lit(ctx, b, st, "(")

	switch name {
	case "cast":
		op, i, err := operand(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "cast operand")
		}

		i, err = lit(ctx, b, i, ",")
		if err != nil {
			return nil, i, err
		}

		t, i, err := Type{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "cast type")
		}

		i, err = lit(ctx, b, i, ")")

		return ir.Cast{X: op, Type: t.(tp.Type)}, i, err
	case "Len", "discriminant":
		p, i, err := place(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "%v", name)
		}

		i, err = lit(ctx, b, i, ")")

		if name == "Len" {
			return ir.Len{Place: p}, i, err
		}

		return ir.Discriminant{Place: p}, i, err
	case "SizeOf", "AlignOf":
		t, i, err := Type{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "%v", name)
		}

		i, err = lit(ctx, b, i, ")")

		if name == "SizeOf" {
			return ir.SizeOf{Type: t.(tp.Type)}, i, err
		}

		return ir.AlignOf{Type: t.(tp.Type)}, i, err
	case "Not", "Neg":
		op, i, err := operand(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "%v", name)
		}

		i, err = lit(ctx, b, i, ")")

		u := ir.Not
		if name == "Neg" {
			u = ir.Neg
		}

		return ir.UnaryOp{Op: u, X: op}, i, err
	}

	checked := strings.HasPrefix(name, "Checked")

	op, ok := ir.ParseBinOp(strings.TrimPrefix(name, "Checked"))
	if !ok || checked && !op.Checkable() {
		return nil, st, errors.New("unknown operation: %v", name)
	}

	ops, i, err := operandList(ctx, b, i, ")")
	if err != nil {
		return nil, i, errors.Wrap(err, "%v", name)
	}

	if len(ops) != 2 {
		return nil, i, errors.New("%v: 2 operands expected, got %d", name, len(ops))
	}

	if checked {
		return ir.CheckedBinaryOp{Op: op, L: ops[0], R: ops[1]}, i, nil
	}

	return ir.BinaryOp{Op: op, L: ops[0], R: ops[1]}, i, nil
}

// aggregate parses Type { ops } and Type::Variant { ops }.
func aggregate(ctx context.Context, b []byte, st int) (rv ir.Rvalue, i int, err error) {
	t, i, err := Type{}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "aggregate type")
	}

	a := ir.Aggregate{Kind: ir.AggAdt, Type: t.(tp.Type)}

	if i+1 < len(b) && b[i] == ':' && b[i+1] == ':' {
		a.Variant, i, err = ident(ctx, b, i+2)
		if err != nil {
			return nil, i, errors.Wrap(err, "variant")
		}
	}

	i, err = lit(ctx, b, i, "{")
	if err != nil {
		return nil, i, err
	}

	a.Ops, i, err = operandList(ctx, b, i, "}")
	if err != nil {
		return nil, i, errors.Wrap(err, "%v fields", t)
	}

	return a, i, nil
}

// value parses constant literals: ints, bools, (), b"..", fn NAME, &STATIC, NAME, [v, ..], (v, ..).
func value(ctx context.Context, b []byte, st int) (v ir.Value, i int, err error) {
	i = skip(b, st)

	if i == len(b) {
		return nil, st, errors.New("value expected")
	}

	switch c := b[i]; {
	case c == '-' || c >= '0' && c <= '9':
		x, j, err := Int{}.Parse(ctx, b, i)
		if err != nil {
			return nil, j, err
		}

		return x.(ir.Int), j, nil
	case c == '[' || c == '(':
		end := "]"
		if c == '(' {
			end = ")"
		}

		if c == '(' && peek(b, i+1, ")") {
			i, _ = lit(ctx, b, i+1, ")")
			return ir.Unit{}, i, nil
		}

		var l ir.Array

		i++

		for {
			if peek(b, i, end) {
				break
			}

			var x ir.Value

			x, i, err = value(ctx, b, i)
			if err != nil {
				return nil, i, errors.Wrap(err, "elem %d", len(l))
			}

			l = append(l, x)

			if !peek(b, i, ",") {
				break
			}

			i, _ = lit(ctx, b, i, ",")
		}

		i, err = lit(ctx, b, i, end)
		if err != nil {
			return nil, i, err
		}

		return l, i, nil
	case c == '&':
		name, j, err := ident(ctx, b, i+1)
		if err != nil {
			return nil, j, errors.Wrap(err, "static name")
		}

		return ir.StaticRef{Name: name}, j, nil
	case c == 'b' && peek(b, i, `b"`):
		x, j, err := ByteString{}.Parse(ctx, b, i)
		if err != nil {
			return nil, j, err
		}

		return ir.Bytes(x.([]byte)), j, nil
	}

	if x, j, err := (Bool{}).Parse(ctx, b, i); err == nil {
		return ir.Bool(x.(bool)), j, nil
	}

	if peekKw(b, i, "fn") {
		i, _ = kw(ctx, b, i, "fn")

		name, j, err := Blank{Of: Path{}}.Parse(ctx, b, i)
		if err != nil {
			return nil, j, errors.Wrap(err, "fn name")
		}

		return ir.FnRef{Name: name.(string)}, j, nil
	}

	name, j, err := ident(ctx, b, i)
	if err != nil {
		return nil, st, errors.New("value expected")
	}

	return ir.ConstRef{Name: name}, j, nil
}
