package compiler

import (
	"context"
	"os"
	"path/filepath"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/analyze"
	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/consteval"
	"github.com/slowlang/mir/compiler/evalcache"
	"github.com/slowlang/mir/compiler/interp"
	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/parse"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Session is a parsed and verified program ready to be interpreted.
	// Constants are shared by all runs of the session.
	Session struct {
		Program *ir.Program
		Config  config.Config
		Consts  *consteval.Engine

		cache *evalcache.Cache
	}
)

func ParseFiles(ctx context.Context, names ...string) (*ir.Program, error) {
	s := parse.New()

	for _, name := range names {
		text, err := os.ReadFile(name)
		if err != nil {
			return nil, errors.Wrap(err, "read file")
		}

		tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

		s.AddFile(name, text)
	}

	return s.Parse(ctx)
}

// Check verifies the program. Calls of interpreter intrinsics are allowed.
func Check(ctx context.Context, p *ir.Program, cfg config.Config) error {
	return analyze.Check(ctx, p, tp.NewLayouts(cfg.PointerSize), interp.IsIntrinsic)
}

// Open parses, verifies and prepares files for running.
func Open(ctx context.Context, cfg config.Config, names ...string) (s *Session, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "open session", "files", names)
	defer tr.Finish("err", &err)

	p, err := ParseFiles(ctx, names...)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}

	err = Check(ctx, p, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "check")
	}

	return New(ctx, p, cfg)
}

// New makes a session of an already verified program.
func New(ctx context.Context, p *ir.Program, cfg config.Config) (*Session, error) {
	s := &Session{
		Program: p,
		Config:  cfg,
		Consts:  consteval.New(p, cfg),
	}

	if cfg.CachePath != "" {
		path := cfg.CachePath
		if !filepath.IsAbs(path) && cfg.Dir != "" {
			path = filepath.Join(cfg.Dir, path)
		}

		c, err := evalcache.Open(ctx, path)
		if err != nil {
			return nil, errors.Wrap(err, "eval cache")
		}

		s.cache = c
		s.Consts.Cache = c
	}

	return s, nil
}

// Interp returns a fresh interpreter resolving constants through the session.
func (s *Session) Interp() *interp.Interp {
	m := interp.New(s.Program, s.Config)
	m.Consts = s.Consts

	return m
}

// Run calls function name with no arguments.
// The interpreter is returned to inspect and render the result.
func (s *Session) Run(ctx context.Context, name string) (*interp.Interp, interp.Operand, error) {
	m := s.Interp()

	res, err := m.Call(ctx, name)

	return m, res, err
}

// Const evaluates constant name. The operand lives in the returned interpreter memory.
func (s *Session) Const(ctx context.Context, name string) (*interp.Interp, interp.Operand, error) {
	m := s.Interp()

	res, err := m.Const(ctx, name)

	return m, res, err
}

func (s *Session) Close() error {
	if s.cache == nil {
		return nil
	}

	return s.cache.Close()
}
