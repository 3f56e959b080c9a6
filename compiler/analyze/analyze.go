package analyze

import (
	"context"
	"fmt"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/set"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Checker verifies IR well-formedness before interpretation.
	Checker struct {
		Layouts *tp.Layouts

		// Builtin reports whether a callee name is provided by the interpreter.
		Builtin func(name string) bool
	}

	// Error locates a verification failure.
	Error struct {
		Func  string
		Block ir.BlockID
		Stmt  int // -1 for the terminator or function level errors
		Span  ir.Span
		Err   error
	}

	funcChecker struct {
		*Checker
		prog *ir.Program
		f    *ir.Func
	}

	edge struct {
		bb      ir.BlockID
		cleanup bool
	}
)

func Check(ctx context.Context, p *ir.Program, l *tp.Layouts, builtin func(string) bool) error {
	c := &Checker{Layouts: l, Builtin: builtin}

	return c.Check(ctx, p)
}

func (c *Checker) Check(ctx context.Context, p *ir.Program) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "analyze", "funcs", len(p.Funcs))
	defer tr.Finish("err", &err)

	if c.Layouts == nil {
		c.Layouts = tp.NewLayouts(0)
	}

	for _, d := range p.Types {
		_, err = c.Layouts.LayoutOf(tp.Named{Name: d.Name, Decl: d})
		if err != nil {
			return errors.Wrap(err, "type %v", d.Name)
		}
	}

	for _, s := range p.Statics {
		_, err = c.Layouts.LayoutOf(s.Type)
		if err != nil {
			return errors.Wrap(err, "static %v", s.Name)
		}

		err = c.checkValue(p, s.Init)
		if err != nil {
			return errors.Wrap(err, "static %v", s.Name)
		}
	}

	for _, k := range p.Consts {
		f := p.Func(k.Init)

		switch {
		case f == nil:
			err = errors.New("undefined function %v", k.Init)
		case f.ArgCount() != 0:
			err = errors.New("initializer %v takes %d arguments", k.Init, f.ArgCount())
		case !tp.Equal(f.Ret, k.Type):
			err = errors.New("initializer %v returns %v, want %v", k.Init, f.Ret, k.Type)
		}

		if err != nil {
			return errors.Wrap(err, "const %v", k.Name)
		}
	}

	for _, f := range p.Funcs {
		fc := funcChecker{Checker: c, prog: p, f: f}

		err = fc.check(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *funcChecker) check(ctx context.Context) (err error) {
	f := c.f

	if len(f.Locals) < f.ArgCount()+1 {
		return c.errorf(0, -1, ir.Span{}, "%d locals for %d arguments", len(f.Locals), f.ArgCount())
	}

	if !tp.Equal(f.Locals[ir.ReturnLocal].Type, f.Ret) {
		return c.errorf(0, -1, ir.Span{}, "return local type %v, want %v", f.Locals[0].Type, f.Ret)
	}

	for l, d := range f.Locals {
		_, err = c.Layouts.LayoutOf(d.Type)
		if err != nil {
			return c.wrap(0, -1, ir.Span{}, errors.Wrap(err, "local _%d", l))
		}
	}

	if len(f.Blocks) == 0 {
		return c.errorf(0, -1, ir.Span{}, "no blocks")
	}

	if f.Blocks[ir.EntryBlock].Cleanup {
		return c.errorf(0, -1, ir.Span{}, "entry block is a cleanup block")
	}

	for id := range f.Blocks {
		err = c.checkBlock(ir.BlockID(id))
		if err != nil {
			return err
		}
	}

	return c.checkEdges(ctx)
}

// checkEdges walks the CFG from the entry block in block order.
// Normal edges must stay out of cleanup blocks, and cleanup code must not leave them.
func (c *funcChecker) checkEdges(ctx context.Context) error {
	var visited set.Bits[ir.BlockID]

	q := heap.Heap[edge]{Less: func(d []edge, i, j int) bool {
		return d[i].bb < d[j].bb
	}}

	q.Push(edge{bb: ir.EntryBlock})

	for q.Len() != 0 {
		e := q.Pop()

		blk := &c.f.Blocks[e.bb]

		if blk.Cleanup != e.cleanup {
			kind := "normal"
			if e.cleanup {
				kind = "unwind"
			}

			return c.errorf(e.bb, -1, ir.Span{}, "block cleanup=%v reached by %v edge", blk.Cleanup, kind)
		}

		if visited.IsSet(e.bb) {
			continue
		}

		visited.Set(e.bb)

		switch t := blk.Term.(type) {
		case ir.Resume:
			if !blk.Cleanup {
				return c.errorf(e.bb, -1, t.Span, "resume outside of cleanup block")
			}
		case ir.Call:
			if t.Target != nil {
				q.Push(edge{bb: *t.Target, cleanup: blk.Cleanup})
			}

			if t.Unwind != nil {
				if blk.Cleanup {
					return c.errorf(e.bb, -1, t.Span, "unwind edge from cleanup block")
				}

				q.Push(edge{bb: *t.Unwind, cleanup: true})
			}

			continue
		}

		for _, s := range blk.Term.Successors() {
			q.Push(edge{bb: s, cleanup: blk.Cleanup})
		}
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("analyze") {
		tr.Printw("cfg walked", "func", c.f.Name, "reachable", visited.Size(), "blocks", len(c.f.Blocks))
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("analyze") {
		for id := range c.f.Blocks {
			if !visited.IsSet(ir.BlockID(id)) {
				tr.Printw("unreachable block", "func", c.f.Name, "bb", id)
			}
		}
	}

	return nil
}

func (c *funcChecker) checkBlock(id ir.BlockID) (err error) {
	blk := &c.f.Blocks[id]

	for i, s := range blk.Stmts {
		err = c.checkStmt(s)
		if err != nil {
			return c.wrap(id, i, s.Pos(), err)
		}
	}

	if blk.Term == nil {
		return c.errorf(id, -1, ir.Span{}, "no terminator")
	}

	err = c.checkTerm(blk.Term)
	if err != nil {
		return c.wrap(id, -1, blk.Term.Pos(), err)
	}

	return nil
}

func (c *funcChecker) checkStmt(s ir.Stmt) error {
	switch s := s.(type) {
	case ir.Assign:
		if err := c.checkPlace(s.Place); err != nil {
			return err
		}

		return c.checkRvalue(s.Rvalue)
	case ir.StorageLive:
		return c.checkLocal(s.Local)
	case ir.StorageDead:
		return c.checkLocal(s.Local)
	case ir.SetDiscriminant:
		return c.checkPlace(s.Place)
	case ir.Assert:
		return c.checkOperand(s.Cond)
	case ir.Nop:
		return nil
	default:
		return errors.New("unsupported stmt: %T", s)
	}
}

func (c *funcChecker) checkTerm(t ir.Terminator) error {
	for _, s := range t.Successors() {
		if c.f.Block(s) == nil {
			return errors.New("target bb%d out of range", s)
		}
	}

	switch t := t.(type) {
	case ir.SwitchInt:
		if len(t.Values) != len(t.Targets) {
			return errors.New("switch: %d values for %d targets", len(t.Values), len(t.Targets))
		}

		seen := make(map[string]struct{}, len(t.Values))

		for _, v := range t.Values {
			k := v.String()

			if _, ok := seen[k]; ok {
				return errors.New("switch: duplicate value %v", k)
			}

			seen[k] = struct{}{}
		}

		return c.checkOperand(t.Discr)
	case ir.Call:
		if t.Dest != nil {
			if err := c.checkPlace(*t.Dest); err != nil {
				return errors.Wrap(err, "destination")
			}
		}

		if err := c.checkOperand(t.Func); err != nil {
			return errors.Wrap(err, "callee")
		}

		for i, a := range t.Args {
			if err := c.checkOperand(a); err != nil {
				return errors.Wrap(err, "arg %d", i)
			}
		}
	}

	return nil
}

func (c *funcChecker) checkRvalue(rv ir.Rvalue) error {
	switch rv := rv.(type) {
	case ir.Use:
		return c.checkOperand(rv.X)
	case ir.BinaryOp:
		return c.checkOperands(rv.L, rv.R)
	case ir.CheckedBinaryOp:
		if !rv.Op.Checkable() {
			return errors.New("%v has no checked form", rv.Op)
		}

		return c.checkOperands(rv.L, rv.R)
	case ir.UnaryOp:
		return c.checkOperand(rv.X)
	case ir.Ref:
		return c.checkPlace(rv.Place)
	case ir.AddressOf:
		return c.checkPlace(rv.Place)
	case ir.Cast:
		if _, err := c.Layouts.LayoutOf(rv.Type); err != nil {
			return errors.Wrap(err, "cast")
		}

		return c.checkOperand(rv.X)
	case ir.Aggregate:
		if rv.Kind == ir.AggAdt {
			if err := c.checkAdt(rv); err != nil {
				return err
			}
		}

		return c.checkOperands(rv.Ops...)
	case ir.Len:
		return c.checkPlace(rv.Place)
	case ir.Discriminant:
		return c.checkPlace(rv.Place)
	case ir.SizeOf:
		_, err := c.Layouts.LayoutOf(rv.Type)
		return err
	case ir.AlignOf:
		_, err := c.Layouts.LayoutOf(rv.Type)
		return err
	default:
		return errors.New("unsupported rvalue: %T", rv)
	}
}

func (c *funcChecker) checkAdt(rv ir.Aggregate) error {
	switch u := tp.Underlying(rv.Type).(type) {
	case tp.Enum:
		v := u.VariantIndex(rv.Variant)
		if v < 0 {
			return errors.New("%v has no variant %q", rv.Type, rv.Variant)
		}

		if n := len(u.Variants[v].Fields); n != len(rv.Ops) {
			return errors.New("%v::%v: %d fields, got %d", rv.Type, rv.Variant, n, len(rv.Ops))
		}
	case tp.Struct:
		if len(u.Fields) != len(rv.Ops) {
			return errors.New("%v: %d fields, got %d", rv.Type, len(u.Fields), len(rv.Ops))
		}
	case tp.Union:
		if len(rv.Ops) != 1 {
			return errors.New("%v: union aggregate takes one operand, got %d", rv.Type, len(rv.Ops))
		}

		if rv.Variant == "" {
			return errors.New("%v: union field name expected", rv.Type)
		}
	default:
		return errors.New("aggregate of non-adt type %v", rv.Type)
	}

	return nil
}

func (c *funcChecker) checkOperands(l ...ir.Operand) error {
	for i, op := range l {
		if err := c.checkOperand(op); err != nil {
			return errors.Wrap(err, "operand %d", i)
		}
	}

	return nil
}

func (c *funcChecker) checkOperand(op ir.Operand) error {
	switch op := op.(type) {
	case ir.Copy:
		return c.checkPlace(op.Place)
	case ir.Move:
		return c.checkPlace(op.Place)
	case ir.Constant:
		if ir.IsIntValue(op.Value) && op.Type == nil {
			return errors.New("untyped integer constant")
		}

		return c.checkValue(c.prog, op.Value)
	case nil:
		return errors.New("missing operand")
	default:
		return errors.New("unsupported operand: %T", op)
	}
}

func (c *Checker) checkValue(p *ir.Program, v ir.Value) error {
	switch v := v.(type) {
	case ir.FnRef:
		if p.Func(v.Name) == nil && (c.Builtin == nil || !c.Builtin(v.Name)) {
			return errors.New("undefined function %v", v.Name)
		}
	case ir.StaticRef:
		if p.Static(v.Name) == nil {
			return errors.New("undefined static %v", v.Name)
		}
	case ir.ConstRef:
		if p.Const(v.Name) == nil {
			return errors.New("undefined const %v", v.Name)
		}
	case ir.Array:
		for i, x := range v {
			if err := c.checkValue(p, x); err != nil {
				return errors.Wrap(err, "elem %d", i)
			}
		}
	}

	return nil
}

func (c *funcChecker) checkPlace(p ir.Place) error {
	if err := c.checkLocal(p.Local); err != nil {
		return err
	}

	for _, e := range p.Proj {
		if e, ok := e.(ir.Index); ok {
			if err := c.checkLocal(e.Local); err != nil {
				return errors.Wrap(err, "index")
			}
		}
	}

	return nil
}

func (c *funcChecker) checkLocal(l ir.Local) error {
	if l < 0 || int(l) >= len(c.f.Locals) {
		return errors.New("local _%d out of range", l)
	}

	return nil
}

func (c *funcChecker) errorf(bb ir.BlockID, stmt int, sp ir.Span, f string, args ...any) error {
	return c.wrap(bb, stmt, sp, errors.New(f, args...))
}

func (c *funcChecker) wrap(bb ir.BlockID, stmt int, sp ir.Span, err error) error {
	return &Error{Func: c.f.Name, Block: bb, Stmt: stmt, Span: sp, Err: err}
}

func (e *Error) Error() string {
	pos := ""
	if !e.Span.IsZero() {
		pos = fmt.Sprintf(" (%d:%d)", e.Span.Line, e.Span.Col)
	}

	if e.Stmt < 0 {
		return fmt.Sprintf("func %v: bb%d%s: %v", e.Func, e.Block, pos, e.Err)
	}

	return fmt.Sprintf("func %v: bb%d[%d]%s: %v", e.Func, e.Block, e.Stmt, pos, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
