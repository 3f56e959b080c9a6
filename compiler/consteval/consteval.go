package consteval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/format"
	"github.com/slowlang/mir/compiler/interp"
	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Engine evaluates named constants of a program.
	// Each constant is evaluated once in its own interpreter, results are memoized.
	Engine struct {
		Program *ir.Program
		Config  config.Config

		// Cache is optional persistent storage of evaluated constants.
		Cache Cache

		fallbacks map[string]CycleFallback
		values    map[string]*interp.ConstValue
		active    []activeConst

		progSum []byte
	}

	Cache interface {
		// Get returns nil value on a miss.
		Get(ctx context.Context, key string) (*interp.ConstValue, error)
		Put(ctx context.Context, key string, v *interp.ConstValue) error
	}

	FallbackKind int

	// Fallback is the outcome for a constant which depends on itself.
	Fallback struct {
		Kind FallbackKind

		Value *interp.ConstValue // FallbackDefault
		Err   error              // FallbackError
	}

	// CycleFallback provides values for constants of some type caught in a dependency cycle.
	CycleFallback interface {
		CycleFallback(ctx context.Context, name string, cycle []string) Fallback
	}

	FallbackFunc func(ctx context.Context, name string, cycle []string) Fallback

	// activeConst is a constant being evaluated.
	// fallback is set if its value depends on a cycle fallback,
	// such values are neither memoized nor cached.
	activeConst struct {
		name     string
		fallback bool
	}

	// Decision is what a compiler does with a failed evaluation.
	Decision int
)

const (
	FallbackDefault FallbackKind = iota
	FallbackError
)

const (
	// Abort compilation, the program is malformed.
	Abort Decision = iota

	// Diagnose reports the error at its source span.
	Diagnose

	// Defer leaves the expression to run time.
	Defer
)

var _ interp.ConstResolver = &Engine{}

func New(p *ir.Program, cfg config.Config) *Engine {
	return &Engine{
		Program: p,
		Config:  cfg,
	}
}

// RegisterFallback sets cycle handling for constants of type t.
func (e *Engine) RegisterFallback(t tp.Type, fb CycleFallback) {
	if e.fallbacks == nil {
		e.fallbacks = make(map[string]CycleFallback)
	}

	e.fallbacks[t.String()] = fb
}

func (e *Engine) ResolveConst(ctx context.Context, name string) (*interp.ConstValue, error) {
	return e.EvalConst(ctx, name)
}

// EvalConst returns the value of constant name.
func (e *Engine) EvalConst(ctx context.Context, name string) (v *interp.ConstValue, err error) {
	if v, ok := e.values[name]; ok {
		return v, nil
	}

	c := e.Program.Const(name)
	if c == nil {
		return nil, &interp.Error{Kind: interp.InvalidProgram, Msg: "no constant " + name, Stmt: -1}
	}

	if i := slices.IndexFunc(e.active, func(a activeConst) bool { return a.name == name }); i >= 0 {
		cycle := make([]string, 0, len(e.active)-i+1)

		for _, a := range e.active[i:] {
			cycle = append(cycle, a.name)
		}

		cycle = append(cycle, name)

		return e.cycle(ctx, c, cycle)
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "eval const", "name", name, "type", c.Type, "init", c.Init)
	defer tr.Finish("err", &err)

	key, err := e.key(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "cache key")
	}

	if e.Cache != nil {
		v, err = e.Cache.Get(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "cache")
		}

		if v != nil && v.Type == c.Type.String() {
			tr.V("cache").Printw("cache hit", "key", key)

			v.SetType(c.Type)
			e.memo(name, v)

			return v, nil
		}
	}

	e.active = append(e.active, activeConst{name: name})
	defer func() { e.active = e.active[:len(e.active)-1] }()

	v, err = e.eval(ctx, c)
	if err != nil {
		return nil, err
	}

	if e.active[len(e.active)-1].fallback {
		tr.V("cache").Printw("value depends on cycle fallback, not stored")

		return v, nil
	}

	e.memo(name, v)

	if e.Cache != nil {
		err = e.Cache.Put(ctx, key, v)
		if err != nil {
			return nil, errors.Wrap(err, "cache")
		}
	}

	return v, nil
}

// EvalAll evaluates every constant in declaration order.
// It stops at the first error which is not deferred to run time.
func (e *Engine) EvalAll(ctx context.Context) (deferred map[string]error, err error) {
	for _, c := range e.Program.Consts {
		_, err = e.EvalConst(ctx, c.Name)

		switch {
		case err == nil:
		case Decide(err) == Defer:
			if deferred == nil {
				deferred = make(map[string]error)
			}

			deferred[c.Name] = err
		default:
			return deferred, errors.Wrap(err, "const %v", c.Name)
		}
	}

	return deferred, nil
}

func (e *Engine) eval(ctx context.Context, c *ir.Const) (*interp.ConstValue, error) {
	f := e.Program.Func(c.Init)
	if f == nil {
		return nil, &interp.Error{Kind: interp.InvalidProgram, Msg: "no init function " + c.Init + " for constant " + c.Name, Stmt: -1}
	}

	if !tp.Equal(f.Ret, c.Type) {
		return nil, &interp.Error{Kind: interp.InvalidProgram, Msg: string(hfmt.Appendf(nil, "constant %v is %v, %v returns %v", c.Name, c.Type, f.Name, f.Ret)), Stmt: -1}
	}

	m := interp.New(e.Program, e.Config)
	m.Consts = e

	res, err := m.Call(ctx, c.Init)
	if err != nil {
		return nil, err
	}

	return m.Snapshot(res)
}

func (e *Engine) cycle(ctx context.Context, c *ir.Const, cycle []string) (*interp.ConstValue, error) {
	tlog.SpanFromContext(ctx).Printw("const cycle", "name", c.Name, "cycle", cycle)

	fb, ok := e.fallbacks[c.Type.String()]
	if !ok {
		return nil, &interp.Error{Kind: interp.ConstCycle, Msg: strings.Join(cycle, " -> "), Stmt: -1}
	}

	r := fb.CycleFallback(ctx, c.Name, cycle)

	switch r.Kind {
	case FallbackDefault:
		if r.Value == nil || r.Value.Type != c.Type.String() {
			return nil, &interp.Error{Kind: interp.InvalidProgram, Msg: "cycle fallback of wrong type for " + c.Name, Stmt: -1}
		}

		r.Value.SetType(c.Type)

		// Everyone on the stack consumes the value transitively.
		for i := range e.active {
			e.active[i].fallback = true
		}

		return r.Value, nil
	case FallbackError:
		if r.Err == nil {
			return nil, &interp.Error{Kind: interp.ConstCycle, Msg: strings.Join(cycle, " -> "), Stmt: -1}
		}

		return nil, r.Err
	default:
		return nil, errors.New("unsupported fallback kind: %v", r.Kind)
	}
}

func (e *Engine) memo(name string, v *interp.ConstValue) {
	if e.values == nil {
		e.values = make(map[string]*interp.ConstValue)
	}

	e.values[name] = v
}

// key identifies the constant together with everything its evaluation may depend on.
func (e *Engine) key(ctx context.Context, c *ir.Const) (string, error) {
	if e.progSum == nil {
		text, err := format.Program(ctx, nil, e.Program)
		if err != nil {
			return "", errors.Wrap(err, "format program")
		}

		sum := sha256.Sum256(text)
		e.progSum = sum[:]
	}

	cfg := e.Config

	b := hfmt.Appendf(nil, "%x %s ptr=%d align=%v validate=%v ptr2int=%v leaks=%v steps=%d depth=%d alloc=%d",
		e.progSum, c.Name, cfg.PointerSize, cfg.CheckAlignment, cfg.Validation, cfg.AllowPtrToInt, cfg.CheckLeaks,
		cfg.StepLimit, cfg.MaxStackDepth, cfg.MaxAllocSize)

	sum := sha256.Sum256(b)

	return hex.EncodeToString(sum[:]), nil
}

// Decide classifies an evaluation failure.
// Errors not coming from the interpreter abort compilation.
func Decide(err error) Decision {
	var e *interp.Error

	if !errors.As(err, &e) {
		return Abort
	}

	switch e.Class() {
	case interp.ClassDiagnostic:
		return Diagnose
	case interp.ClassDeferred:
		return Defer
	default:
		return Abort
	}
}

func (f FallbackFunc) CycleFallback(ctx context.Context, name string, cycle []string) Fallback {
	return f(ctx, name, cycle)
}

func (k FallbackKind) String() string {
	switch k {
	case FallbackDefault:
		return "default"
	case FallbackError:
		return "error"
	default:
		return string(hfmt.Appendf(nil, "FallbackKind(%d)", int(k)))
	}
}

func (d Decision) String() string {
	switch d {
	case Abort:
		return "abort"
	case Diagnose:
		return "diagnostic"
	case Defer:
		return "deferred"
	default:
		return string(hfmt.Appendf(nil, "Decision(%d)", int(d)))
	}
}
