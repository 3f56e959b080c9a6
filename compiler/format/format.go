package format

import (
	"context"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

// Program prints p in the textual IR syntax accepted by parse.
func Program(ctx context.Context, b []byte, p *ir.Program) (_ []byte, err error) {
	for _, d := range p.Types {
		b, err = typeDecl(b, d)
		if err != nil {
			return nil, errors.Wrap(err, "type %v", d.Name)
		}
	}

	if len(p.Types) != 0 {
		b = append(b, '\n')
	}

	for _, s := range p.Statics {
		b = app(b, 0, "static ")

		if s.Mut {
			b = append(b, "mut "...)
		}

		b = app(b, 0, "%s: %v = ", s.Name, s.Type)
		b = Value(b, s.Init)
		b = append(b, '\n')
	}

	for _, c := range p.Consts {
		b = app(b, 0, "const %s: %v = %s\n", c.Name, c.Type, c.Init)
	}

	if len(p.Statics)+len(p.Consts) != 0 {
		b = append(b, '\n')
	}

	for i, f := range p.Funcs {
		if i != 0 {
			b = append(b, '\n')
		}

		b, err = Func(ctx, b, f)
		if err != nil {
			return nil, errors.Wrap(err, "func %v", f.Name)
		}
	}

	return b, nil
}

func typeDecl(b []byte, d *tp.Decl) ([]byte, error) {
	switch t := d.Type.(type) {
	case tp.Struct:
		b = app(b, 0, "struct %s {", d.Name)
		b = fields(b, t.Fields)
	case tp.Union:
		b = app(b, 0, "union %s {", d.Name)
		b = fields(b, t.Fields)
	case tp.Enum:
		b = app(b, 0, "enum %s {", d.Name)

		next := int64(0)

		for i, v := range t.Variants {
			if i != 0 {
				b = append(b, ',')
			}

			b = app(b, 0, " %s", v.Name)

			if len(v.Fields) != 0 {
				b = append(b, '(')
				b = types(b, v.Fields)
				b = append(b, ')')
			}

			if v.Discr != next {
				b = app(b, 0, " = %d", v.Discr)
			}

			next = v.Discr + 1
		}
	default:
		return nil, errors.New("unsupported type decl: %T", d.Type)
	}

	return append(b, " }\n"...), nil
}

func fields(b []byte, fs []tp.Field) []byte {
	for i, f := range fs {
		if i != 0 {
			b = append(b, ',')
		}

		b = app(b, 0, " %s: %v", f.Name, f.Type)
	}

	return b
}

func types(b []byte, l []tp.Type) []byte {
	for i, t := range l {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = append(b, t.String()...)
	}

	return b
}

func Func(ctx context.Context, b []byte, f *ir.Func) (_ []byte, err error) {
	b = app(b, 0, "fn %s(", f.Name)
	b = types(b, f.Params)
	b = append(b, ')')

	if f.Ret != nil && !tp.IsUnit(f.Ret) {
		b = app(b, 0, " -> %v", f.Ret)
	}

	b = append(b, " {\n"...)

	first := len(f.Params) + 1

	for l := first; l < len(f.Locals); l++ {
		b = app(b, 1, "let _%d: %v\n", l, f.Locals[l].Type)
	}

	for id := range f.Blocks {
		if id != 0 || len(f.Locals) > first {
			b = append(b, '\n')
		}

		b, err = block(b, ir.BlockID(id), &f.Blocks[id])
		if err != nil {
			return nil, errors.Wrap(err, "bb%d", id)
		}
	}

	return append(b, "}\n"...), nil
}

func block(b []byte, id ir.BlockID, blk *ir.Block) (_ []byte, err error) {
	b = app(b, 1, "bb%d", id)

	if blk.Cleanup {
		b = append(b, " (cleanup)"...)
	}

	b = append(b, ": {\n"...)

	for i, s := range blk.Stmts {
		b, err = Stmt(b, 2, s)
		if err != nil {
			return nil, errors.Wrap(err, "stmt %d", i)
		}
	}

	b, err = Term(b, 2, blk.Term)
	if err != nil {
		return nil, errors.Wrap(err, "terminator")
	}

	return app(b, 1, "}\n"), nil
}

func Stmt(b []byte, d int, s ir.Stmt) (_ []byte, err error) {
	switch s := s.(type) {
	case ir.Assign:
		b = app(b, d, "")
		b = Place(b, s.Place)
		b = append(b, " = "...)

		b, err = Rvalue(b, s.Rvalue)
		if err != nil {
			return nil, err
		}
	case ir.StorageLive:
		b = app(b, d, "StorageLive(_%d)", s.Local)
	case ir.StorageDead:
		b = app(b, d, "StorageDead(_%d)", s.Local)
	case ir.SetDiscriminant:
		b = app(b, d, "set_discriminant(")
		b = Place(b, s.Place)
		b = app(b, 0, ", %s)", s.Variant)
	case ir.Assert:
		b = app(b, d, "assert(")
		b = Operand(b, s.Cond)
		b = app(b, 0, ", %v, %v", s.Expected, s.Kind)

		if s.Msg != "" {
			b = append(b, ", "...)
			b = strconv.AppendQuote(b, s.Msg)
		}

		b = append(b, ')')
	case ir.Nop:
		b = app(b, d, "nop")
	default:
		return nil, errors.New("unsupported stmt: %T", s)
	}

	return append(b, '\n'), nil
}

func Term(b []byte, d int, t ir.Terminator) ([]byte, error) {
	switch t := t.(type) {
	case ir.Goto:
		b = app(b, d, "goto -> bb%d", t.Target)
	case ir.SwitchInt:
		b = app(b, d, "switchInt(")
		b = Operand(b, t.Discr)
		b = append(b, ") -> ["...)

		for i, v := range t.Values {
			b = app(b, 0, "%v: bb%d, ", v, t.Targets[i])
		}

		b = app(b, 0, "otherwise: bb%d]", t.Otherwise)
	case ir.Call:
		b = app(b, d, "")

		if t.Dest != nil {
			b = Place(b, *t.Dest)
			b = append(b, " = "...)
		}

		b = append(b, "call "...)

		if c, ok := t.Func.(ir.Constant); ok {
			if fn, ok := c.Value.(ir.FnRef); ok {
				b = append(b, fn.Name...)
			} else {
				b = append(b, '(')
				b = Operand(b, t.Func)
				b = append(b, ')')
			}
		} else {
			b = append(b, '(')
			b = Operand(b, t.Func)
			b = append(b, ')')
		}

		b = append(b, '(')
		b = operands(b, t.Args)
		b = append(b, ')')

		switch {
		case t.Unwind != nil && t.Target != nil:
			b = app(b, 0, " -> [return: bb%d, unwind: bb%d]", *t.Target, *t.Unwind)
		case t.Unwind != nil:
			b = app(b, 0, " -> [unwind: bb%d]", *t.Unwind)
		case t.Target != nil:
			b = app(b, 0, " -> bb%d", *t.Target)
		}
	case ir.Return:
		b = app(b, d, "return")
	case ir.Resume:
		b = app(b, d, "resume")
	case ir.Abort:
		b = app(b, d, "abort")
	case ir.Unreachable:
		b = app(b, d, "unreachable")
	case nil:
		return nil, errors.New("no terminator")
	default:
		return nil, errors.New("unsupported terminator: %T", t)
	}

	return append(b, '\n'), nil
}

func Rvalue(b []byte, rv ir.Rvalue) ([]byte, error) {
	switch rv := rv.(type) {
	case ir.Use:
		b = Operand(b, rv.X)
	case ir.BinaryOp:
		b = app(b, 0, "%v(", rv.Op)
		b = operands(b, []ir.Operand{rv.L, rv.R})
		b = append(b, ')')
	case ir.CheckedBinaryOp:
		b = app(b, 0, "Checked%v(", rv.Op)
		b = operands(b, []ir.Operand{rv.L, rv.R})
		b = append(b, ')')
	case ir.UnaryOp:
		b = app(b, 0, "%v(", rv.Op)
		b = Operand(b, rv.X)
		b = append(b, ')')
	case ir.Ref:
		b = append(b, '&')

		if rv.Mut {
			b = append(b, "mut "...)
		}

		b = Place(b, rv.Place)
	case ir.AddressOf:
		if rv.Mut {
			b = append(b, "&raw mut "...)
		} else {
			b = append(b, "&raw const "...)
		}

		b = Place(b, rv.Place)
	case ir.Cast:
		b = append(b, "cast("...)
		b = Operand(b, rv.X)
		b = app(b, 0, ", %v)", rv.Type)
	case ir.Aggregate:
		switch rv.Kind {
		case ir.AggTuple:
			b = append(b, '(')
			b = operands(b, rv.Ops)
			b = append(b, ')')
		case ir.AggArray:
			b = append(b, '[')
			b = operands(b, rv.Ops)
			b = append(b, ']')
		default:
			b = append(b, rv.Type.String()...)

			if rv.Variant != "" {
				b = app(b, 0, "::%s", rv.Variant)
			}

			b = append(b, " {"...)
			b = operands(b, rv.Ops)
			b = append(b, '}')
		}
	case ir.Len:
		b = append(b, "Len("...)
		b = Place(b, rv.Place)
		b = append(b, ')')
	case ir.Discriminant:
		b = append(b, "discriminant("...)
		b = Place(b, rv.Place)
		b = append(b, ')')
	case ir.SizeOf:
		b = app(b, 0, "SizeOf(%v)", rv.Type)
	case ir.AlignOf:
		b = app(b, 0, "AlignOf(%v)", rv.Type)
	default:
		return nil, errors.New("unsupported rvalue: %T", rv)
	}

	return b, nil
}

func operands(b []byte, l []ir.Operand) []byte {
	for i, op := range l {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = Operand(b, op)
	}

	return b
}

func Operand(b []byte, op ir.Operand) []byte {
	switch op := op.(type) {
	case ir.Copy:
		b = append(b, "copy "...)
		b = Place(b, op.Place)
	case ir.Move:
		b = append(b, "move "...)
		b = Place(b, op.Place)
	case ir.Constant:
		b = append(b, "const "...)
		b = Value(b, op.Value)

		if op.Type != nil && !implied(op) {
			b = app(b, 0, ": %v", op.Type)
		}
	default:
		b = app(b, 0, "<%T>", op)
	}

	return b
}

// implied reports whether the constant type is the one parse assigns by default.
func implied(c ir.Constant) bool {
	switch v := c.Value.(type) {
	case ir.Bool:
		return tp.Equal(c.Type, tp.Bool{})
	case ir.Unit:
		return tp.IsUnit(c.Type)
	case ir.Bytes:
		return tp.Equal(c.Type, tp.Array{Elem: tp.U8, Len: len(v)})
	}

	return false
}

func Place(b []byte, p ir.Place) []byte {
	s := "_" + strconv.Itoa(int(p.Local))

	for _, e := range p.Proj {
		switch e := e.(type) {
		case ir.Field:
			s += "." + strconv.Itoa(e.Index)
		case ir.Index:
			s += "[_" + strconv.Itoa(int(e.Local)) + "]"
		case ir.ConstIndex:
			s += "[" + strconv.Itoa(e.Offset) + "]"
		case ir.Deref:
			s = "(*" + s + ")"
		case ir.Downcast:
			v := e.Name
			if v == "" {
				v = strconv.Itoa(e.Index)
			}

			s = "(" + s + " as " + v + ")"
		}
	}

	return append(b, s...)
}

func Value(b []byte, v ir.Value) []byte {
	switch v := v.(type) {
	case ir.Int:
		b = append(b, v.String()...)
	case ir.Bool:
		b = strconv.AppendBool(b, bool(v))
	case ir.Unit:
		b = append(b, "()"...)
	case ir.FnRef:
		b = app(b, 0, "fn %s", v.Name)
	case ir.StaticRef:
		b = app(b, 0, "&%s", v.Name)
	case ir.ConstRef:
		b = append(b, v.Name...)
	case ir.Bytes:
		b = append(b, 'b')
		b = strconv.AppendQuote(b, string(v))
	case ir.Array:
		b = append(b, '[')

		for i, x := range v {
			if i != 0 {
				b = append(b, ", "...)
			}

			b = Value(b, x)
		}

		b = append(b, ']')
	default:
		b = app(b, 0, "<%T>", v)
	}

	return b
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
