package parse

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	Node = any

	State struct {
		b []byte // all files concatenated

		Grammar Parser

		files []file
		lines []int // line start offsets

		decls map[string]*tp.Decl
	}

	file struct {
		base int
		size int
		name string
	}

	Parser interface {
		Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error)
	}

	TypeExpectedError struct {
		T interface{}
	}

	PartialReadError struct {
		End int
	}

	// PosError attaches text position to a parse error.
	PosError struct {
		File string
		Line int
		Col  int
		Err  error
	}

	stateCtxKey struct{}
)

func ParseFile(ctx context.Context, name string) (*ir.Program, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	s := New()
	s.AddFile(name, data)

	return s.Parse(ctx)
}

func Parse(ctx context.Context, text []byte) (*ir.Program, error) {
	s := New()

	s.AddFile("", text)

	return s.Parse(ctx)
}

func New() *State {
	return &State{
		Grammar: Program{},
		decls:   make(map[string]*tp.Decl),
	}
}

func (s *State) Parse(ctx context.Context) (p *ir.Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "parse", "files", len(s.files), "size", len(s.b))
	defer tr.Finish("err", &err)

	ctx = context.WithValue(ctx, stateCtxKey{}, s)

	x, i, err := s.Grammar.Parse(ctx, s.b, 0)
	if err != nil {
		return nil, s.posError(i, errors.Wrap(err, "parse as grammar"))
	}

	i = skip(s.b, i)

	if i != len(s.b) {
		return nil, s.posError(i, PartialReadError{End: i})
	}

	p, ok := x.(*ir.Program)
	if !ok {
		return nil, NewTypeExpectedError(p)
	}

	for name, d := range s.decls {
		if d.Type == nil {
			return nil, errors.New("undefined type: %v", name)
		}
	}

	tr.Printw("parsed", "types", len(p.Types), "statics", len(p.Statics), "consts", len(p.Consts), "funcs", len(p.Funcs))

	return p, nil
}

func (s *State) AddFile(name string, text []byte) {
	f := file{
		name: name,
		base: len(s.b),
		size: len(text),
	}

	if len(s.b) != 0 && s.b[len(s.b)-1] != '\n' {
		s.b = append(s.b, '\n')
		f.base++
	}

	s.b = append(s.b, text...)

	s.files = append(s.files, f)
	s.lines = nil
}

func (s *State) Text(pos, end int) []byte {
	return s.b[pos:end]
}

// Span converts byte offset to line and column.
func (s *State) Span(pos int) ir.Span {
	if s.lines == nil {
		s.lines = append(s.lines, 0)

		for i, c := range s.b {
			if c == '\n' {
				s.lines = append(s.lines, i+1)
			}
		}
	}

	l := sort.Search(len(s.lines), func(i int) bool { return s.lines[i] > pos }) - 1
	if l < 0 {
		l = 0
	}

	return ir.Span{Line: l + 1, Col: pos - s.lines[l] + 1}
}

// Decl returns the declaration for a named type, creating a forward reference if needed.
func (s *State) Decl(name string) *tp.Decl {
	d, ok := s.decls[name]
	if !ok {
		d = &tp.Decl{Name: name}
		s.decls[name] = d
	}

	return d
}

func (s *State) posError(i int, err error) error {
	sp := s.Span(i)

	name := ""
	for _, f := range s.files {
		if i >= f.base {
			name = f.name
		}
	}

	return PosError{File: name, Line: sp.Line, Col: sp.Col, Err: err}
}

func NewTypeExpectedError(t interface{}) TypeExpectedError {
	return TypeExpectedError{
		T: t,
	}
}

func StateFromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateCtxKey{}).(*State)
	return s
}

func spanAt(ctx context.Context, i int) ir.Span {
	s := StateFromContext(ctx)
	if s == nil {
		return ir.Span{}
	}

	return s.Span(i)
}

func (e TypeExpectedError) Error() string {
	return fmt.Sprintf("%v expected", reflect.TypeOf(e.T))
}

func (e PartialReadError) Error() string {
	return fmt.Sprintf("partial read: unexpected text at %d", e.End)
}

func (e PosError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Col, e.Err)
	}

	return fmt.Sprintf("%d:%d: %v", e.Line, e.Col, e.Err)
}

func (e PosError) Unwrap() error { return e.Err }
