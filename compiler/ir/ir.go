package ir

import (
	"github.com/slowlang/mir/compiler/tp"
)

type (
	BlockID int
	Local   int

	// Span is a source position of an IR item, 1-based. Zero Span is unknown.
	Span struct {
		Line int
		Col  int
	}

	Program struct {
		Types   []*tp.Decl
		Statics []*Static
		Consts  []*Const
		Funcs   []*Func
	}

	Static struct {
		Span

		Name string
		Type tp.Type
		Mut  bool
		Init Value
	}

	// Const is a named constant computed by calling Init function with no arguments.
	Const struct {
		Span

		Name string
		Type tp.Type
		Init string
	}

	Func struct {
		Span

		Name   string
		Params []tp.Type
		Ret    tp.Type

		// Locals[0] is the return place, Locals[1:len(Params)+1] are the arguments.
		Locals []LocalDecl
		Blocks []Block
	}

	LocalDecl struct {
		Type tp.Type
	}

	Block struct {
		Stmts   []Stmt
		Term    Terminator
		Cleanup bool
	}
)

const (
	ReturnLocal Local   = 0
	EntryBlock  BlockID = 0
)

func (s Span) Pos() Span { return s }

func (s Span) IsZero() bool { return s.Line == 0 }

func (p *Program) Func(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}

func (p *Program) Static(name string) *Static {
	for _, s := range p.Statics {
		if s.Name == name {
			return s
		}
	}

	return nil
}

func (p *Program) Const(name string) *Const {
	for _, c := range p.Consts {
		if c.Name == name {
			return c
		}
	}

	return nil
}

func (p *Program) Type(name string) *tp.Decl {
	for _, d := range p.Types {
		if d.Name == name {
			return d
		}
	}

	return nil
}

// Sig returns function pointer type of f.
func (f *Func) Sig() tp.FnPtr {
	return tp.FnPtr{
		In:  f.Params,
		Out: f.Ret,
	}
}

func (f *Func) ArgCount() int { return len(f.Params) }

func (f *Func) LocalType(l Local) tp.Type {
	if l < 0 || int(l) >= len(f.Locals) {
		return nil
	}

	return f.Locals[l].Type
}

func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}

	return &f.Blocks[id]
}
