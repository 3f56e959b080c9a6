package parse

import (
	"context"

	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	FuncDecl struct{}

	// BlockDecl parses bbN [(cleanup)]: { stmts terminator }.
	BlockDecl struct {
		Func *ir.Func
	}

	// StmtOrTerm parses a single statement or a block terminator.
	StmtOrTerm struct{}
)

func (p FuncDecl) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i, err = kw(ctx, b, st, "fn")
	if err != nil {
		return nil, st, err
	}

	f := &ir.Func{Span: spanAt(ctx, skip(b, st))}

	f.Name, i, err = ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func name")
	}

	i, err = lit(ctx, b, i, "(")
	if err != nil {
		return nil, i, err
	}

	f.Params, i, err = typeList(ctx, b, i, ")")
	if err != nil {
		return nil, i, errors.Wrap(err, "func %v params", f.Name)
	}

	f.Ret, i, err = retType(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "func %v", f.Name)
	}

	f.Locals = append(f.Locals, ir.LocalDecl{Type: f.Ret})
	for _, t := range f.Params {
		f.Locals = append(f.Locals, ir.LocalDecl{Type: t})
	}

	i, err = lit(ctx, b, i, "{")
	if err != nil {
		return nil, i, err
	}

	for peekKw(b, i, "let") {
		var n int
		var t tp.Type

		n, t, i, err = parseLocalDecl(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "func %v", f.Name)
		}

		if n != len(f.Locals) {
			return nil, i, errors.New("func %v: locals must be declared in order: _%d expected, got _%d", f.Name, len(f.Locals), n)
		}

		f.Locals = append(f.Locals, ir.LocalDecl{Type: t})
	}

	for !peek(b, i, "}") {
		_, i, err = BlockDecl{Func: f}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "func %v: bb%d", f.Name, len(f.Blocks))
		}
	}

	i, err = lit(ctx, b, i, "}")
	if err != nil {
		return nil, i, err
	}

	return f, i, nil
}

func parseLocalDecl(ctx context.Context, b []byte, st int) (n int, t tp.Type, i int, err error) {
	i, err = kw(ctx, b, st, "let")
	if err != nil {
		return
	}

	n, i, err = prefixed(ctx, b, i, "_")
	if err != nil {
		return 0, nil, i, errors.Wrap(err, "local name")
	}

	i, err = lit(ctx, b, i, ":")
	if err != nil {
		return
	}

	x, i, err := Type{}.Parse(ctx, b, i)
	if err != nil {
		return 0, nil, i, errors.Wrap(err, "local _%d type", n)
	}

	if peek(b, i, ";") {
		i, _ = lit(ctx, b, i, ";")
	}

	return n, x.(tp.Type), i, nil
}

func (p BlockDecl) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	f := p.Func

	n, i, err := prefixed(ctx, b, st, "bb")
	if err != nil {
		return nil, i, errors.Wrap(err, "block name")
	}

	if n != len(f.Blocks) {
		return nil, i, errors.New("blocks must be numbered in order: bb%d expected, got bb%d", len(f.Blocks), n)
	}

	var blk ir.Block

	if peek(b, i, "(") {
		i, _ = lit(ctx, b, i, "(")

		i, err = kw(ctx, b, i, "cleanup")
		if err != nil {
			return nil, i, err
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return nil, i, err
		}

		blk.Cleanup = true
	}

	i, err = lit(ctx, b, i, ":")
	if err != nil {
		return nil, i, err
	}

	i, err = lit(ctx, b, i, "{")
	if err != nil {
		return nil, i, err
	}

	for {
		if peek(b, i, "}") {
			return nil, i, errors.New("block terminator expected")
		}

		var s Node

		s, i, err = StmtOrTerm{}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "stmt %d", len(blk.Stmts))
		}

		if peek(b, i, ";") {
			i, _ = lit(ctx, b, i, ";")
		}

		if t, ok := s.(ir.Terminator); ok {
			blk.Term = t
			break
		}

		blk.Stmts = append(blk.Stmts, s.(ir.Stmt))
	}

	i, err = lit(ctx, b, i, "}")
	if err != nil {
		return nil, i, errors.Wrap(err, "after terminator")
	}

	f.Blocks = append(f.Blocks, blk)

	return blk, i, nil
}

func (p StmtOrTerm) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	st = skip(b, st)
	sp := spanAt(ctx, st)

	switch {
	case peekKw(b, st, "goto"):
		i, _ = kw(ctx, b, st, "goto")

		i, err = lit(ctx, b, i, "->")
		if err != nil {
			return nil, i, err
		}

		bb, i, err := prefixed(ctx, b, i, "bb")
		if err != nil {
			return nil, i, errors.Wrap(err, "goto target")
		}

		return ir.Goto{Span: sp, Target: ir.BlockID(bb)}, i, nil
	case peekKw(b, st, "switchInt"):
		return switchInt(ctx, b, st, sp)
	case peekKw(b, st, "return"):
		i, _ = kw(ctx, b, st, "return")
		return ir.Return{Span: sp}, i, nil
	case peekKw(b, st, "resume"):
		i, _ = kw(ctx, b, st, "resume")
		return ir.Resume{Span: sp}, i, nil
	case peekKw(b, st, "abort"):
		i, _ = kw(ctx, b, st, "abort")
		return ir.Abort{Span: sp}, i, nil
	case peekKw(b, st, "unreachable"):
		i, _ = kw(ctx, b, st, "unreachable")
		return ir.Unreachable{Span: sp}, i, nil
	case peekKw(b, st, "call"):
		return call(ctx, b, st, sp, nil)
	case peekKw(b, st, "nop"):
		i, _ = kw(ctx, b, st, "nop")
		return ir.Nop{Span: sp}, i, nil
	case peekKw(b, st, "StorageLive"), peekKw(b, st, "StorageDead"):
		live := peekKw(b, st, "StorageLive")

		i, _ = kw(ctx, b, st, map[bool]string{true: "StorageLive", false: "StorageDead"}[live])

		i, err = lit(ctx, b, i, "(")
		if err != nil {
			return nil, i, err
		}

		n, i, err := prefixed(ctx, b, i, "_")
		if err != nil {
			return nil, i, errors.Wrap(err, "local")
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return nil, i, err
		}

		if live {
			return ir.StorageLive{Span: sp, Local: ir.Local(n)}, i, nil
		}

		return ir.StorageDead{Span: sp, Local: ir.Local(n)}, i, nil
	case peekKw(b, st, "assert"):
		return assert(ctx, b, st, sp)
	case peekKw(b, st, "set_discriminant"):
		i, _ = kw(ctx, b, st, "set_discriminant")

		i, err = lit(ctx, b, i, "(")
		if err != nil {
			return nil, i, err
		}

		pl, i, err := place(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "place")
		}

		i, err = lit(ctx, b, i, ",")
		if err != nil {
			return nil, i, err
		}

		v, i, err := ident(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "variant")
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return nil, i, err
		}

		return ir.SetDiscriminant{Span: sp, Place: pl, Variant: v}, i, nil
	}

	pl, i, err := place(ctx, b, st)
	if err != nil {
		return nil, i, errors.Wrap(err, "statement expected")
	}

	i, err = lit(ctx, b, i, "=")
	if err != nil {
		return nil, i, err
	}

	if peekKw(b, i, "call") {
		return call(ctx, b, i, sp, &pl)
	}

	rv, i, err := rvalue(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "rvalue")
	}

	return ir.Assign{Span: sp, Place: pl, Rvalue: rv}, i, nil
}

func switchInt(ctx context.Context, b []byte, st int, sp ir.Span) (x Node, i int, err error) {
	i, _ = kw(ctx, b, st, "switchInt")

	i, err = lit(ctx, b, i, "(")
	if err != nil {
		return nil, i, err
	}

	op, i, err := operand(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "discriminant")
	}

	i, err = lit(ctx, b, i, ")")
	if err != nil {
		return nil, i, err
	}

	i, err = lit(ctx, b, i, "->")
	if err != nil {
		return nil, i, err
	}

	i, err = lit(ctx, b, i, "[")
	if err != nil {
		return nil, i, err
	}

	t := ir.SwitchInt{Span: sp, Discr: op, Otherwise: -1}

	for {
		if peekKw(b, i, "otherwise") {
			i, _ = kw(ctx, b, i, "otherwise")

			i, err = lit(ctx, b, i, ":")
			if err != nil {
				return nil, i, err
			}

			bb, j, err := prefixed(ctx, b, i, "bb")
			if err != nil {
				return nil, j, errors.Wrap(err, "otherwise target")
			}

			t.Otherwise = ir.BlockID(bb)
			i = j
		} else {
			v, j, err := Blank{Of: Int{}}.Parse(ctx, b, i)
			if err != nil {
				return nil, j, errors.Wrap(err, "switch value")
			}

			j, err = lit(ctx, b, j, ":")
			if err != nil {
				return nil, j, err
			}

			bb, j, err := prefixed(ctx, b, j, "bb")
			if err != nil {
				return nil, j, errors.Wrap(err, "switch target")
			}

			t.Values = append(t.Values, v.(ir.Int))
			t.Targets = append(t.Targets, ir.BlockID(bb))
			i = j
		}

		if !peek(b, i, ",") {
			break
		}

		i, _ = lit(ctx, b, i, ",")
	}

	i, err = lit(ctx, b, i, "]")
	if err != nil {
		return nil, i, err
	}

	if t.Otherwise < 0 {
		return nil, i, errors.New("switchInt: otherwise target expected")
	}

	return t, i, nil
}

func call(ctx context.Context, b []byte, st int, sp ir.Span, dest *ir.Place) (x Node, i int, err error) {
	i, _ = kw(ctx, b, st, "call")

	c := ir.Call{Span: sp, Dest: dest}

	if peek(b, i, "(") {
		i, _ = lit(ctx, b, i, "(")

		c.Func, i, err = operand(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "callee")
		}

		i, err = lit(ctx, b, i, ")")
		if err != nil {
			return nil, i, err
		}
	} else {
		var name Node

		name, i, err = Blank{Of: Path{}}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "callee")
		}

		c.Func = ir.Constant{Value: ir.FnRef{Name: name.(string)}}
	}

	i, err = lit(ctx, b, i, "(")
	if err != nil {
		return nil, i, err
	}

	c.Args, i, err = operandList(ctx, b, i, ")")
	if err != nil {
		return nil, i, errors.Wrap(err, "args")
	}

	if !peek(b, i, "->") {
		return c, i, nil
	}

	i, _ = lit(ctx, b, i, "->")

	if !peek(b, i, "[") {
		bb, j, err := prefixed(ctx, b, i, "bb")
		if err != nil {
			return nil, j, errors.Wrap(err, "return target")
		}

		t := ir.BlockID(bb)
		c.Target = &t

		return c, j, nil
	}

	i, _ = lit(ctx, b, i, "[")

	for {
		key, j, err := ident(ctx, b, i)
		if err != nil {
			return nil, j, errors.Wrap(err, "edge kind")
		}

		j, err = lit(ctx, b, j, ":")
		if err != nil {
			return nil, j, err
		}

		bb, j, err := prefixed(ctx, b, j, "bb")
		if err != nil {
			return nil, j, errors.Wrap(err, "%v target", key)
		}

		t := ir.BlockID(bb)

		switch key {
		case "return":
			c.Target = &t
		case "unwind":
			c.Unwind = &t
		default:
			return nil, i, errors.New("unexpected call edge: %v", key)
		}

		i = j

		if !peek(b, i, ",") {
			break
		}

		i, _ = lit(ctx, b, i, ",")
	}

	i, err = lit(ctx, b, i, "]")
	if err != nil {
		return nil, i, err
	}

	return c, i, nil
}

func assert(ctx context.Context, b []byte, st int, sp ir.Span) (x Node, i int, err error) {
	i, _ = kw(ctx, b, st, "assert")

	i, err = lit(ctx, b, i, "(")
	if err != nil {
		return nil, i, err
	}

	a := ir.Assert{Span: sp}

	a.Cond, i, err = operand(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "condition")
	}

	i, err = lit(ctx, b, i, ",")
	if err != nil {
		return nil, i, err
	}

	exp, i, err := Blank{Of: Bool{}}.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "expected value")
	}

	a.Expected = exp.(bool)

	i, err = lit(ctx, b, i, ",")
	if err != nil {
		return nil, i, err
	}

	k, i, err := ident(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "assert kind")
	}

	var ok bool

	a.Kind, ok = ir.ParseAssertKind(k)
	if !ok {
		return nil, i, errors.New("unknown assert kind: %v", k)
	}

	if peek(b, i, ",") {
		i, _ = lit(ctx, b, i, ",")

		var msg Node

		msg, i, err = Blank{Of: String{}}.Parse(ctx, b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "message")
		}

		a.Msg = msg.(string)
	}

	i, err = lit(ctx, b, i, ")")
	if err != nil {
		return nil, i, err
	}

	return a, i, nil
}
