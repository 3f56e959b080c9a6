package interp

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/ir"
	"github.com/slowlang/mir/compiler/tp"
)

type (
	// Interp executes functions of a single Program.
	// It's not safe for concurrent use. Create one per goroutine.
	Interp struct {
		Prog    *ir.Program
		Config  config.Config
		Layouts *tp.Layouts
		Mem     *Memory

		// Consts resolves named constants. Nil forbids const operands.
		Consts ConstResolver

		Intrinsics map[string]*Intrinsic

		stack []*Frame
		steps int

		statics map[string]AllocID
		consts  map[string]constSlot

		// panic being unwound
		unwinding *Error
	}

	constSlot struct {
		ptr Pointer
		typ tp.Type
	}
)

// New creates an interpreter. Zero cfg fields which have defaults get them.
func New(prog *ir.Program, cfg config.Config) *Interp {
	if cfg.PointerSize == 0 {
		cfg.PointerSize = 8
	}

	if cfg.Validation == "" {
		cfg.Validation = config.ValidateEdges
	}

	return &Interp{
		Prog:       prog,
		Config:     cfg,
		Layouts:    tp.NewLayouts(cfg.PointerSize),
		Mem:        NewMemory(cfg.PointerSize, cfg.MaxAllocSize, cfg.CheckAlignment),
		Intrinsics: DefaultIntrinsics(),

		statics: make(map[string]AllocID),
		consts:  make(map[string]constSlot),
	}
}

// Call runs function name to completion and returns its result.
// Immediate results are returned as Imm, others point to a detached allocation.
func (m *Interp) Call(ctx context.Context, name string, args ...Operand) (res Operand, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "interp", "func", name, "args", len(args))
	defer tr.Finish("err", &err)

	if len(m.stack) != 0 {
		return Operand{}, newError(InvalidProgram, "call of %v while %v is running", name, m.stack[0].Func.Name)
	}

	f := m.Prog.Func(name)
	if f == nil {
		return Operand{}, newError(InvalidProgram, "no function %v", name)
	}

	lay, err := m.layoutOf(f.Ret)
	if err != nil {
		return Operand{}, err
	}

	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStack)
	if err != nil {
		return Operand{}, err
	}

	ret := Place{Mem: &MemPlace{Ptr: Pointer{Alloc: id}, Align: lay.Align}, Type: f.Ret, Layout: lay}

	m.steps = 0
	m.unwinding = nil

	defer func() {
		if err != nil {
			m.stack = m.stack[:0]
		}
	}()

	err = m.PushFrame(f, args, &ret, StackPopCleanup{})
	if err != nil {
		return Operand{}, err
	}

	err = m.Run(ctx)
	if err != nil {
		return Operand{}, err
	}

	if tr.If("interp") {
		tr.Printw("finished", "steps", m.steps, "live_allocs", m.Mem.Live())
	}

	if m.Config.CheckLeaks {
		if l := m.Mem.Leaks(); len(l) != 0 {
			return Operand{}, newError(MemoryLeaked, "%d heap allocations are alive: %v", len(l), l)
		}
	}

	res, err = m.PlaceToOp(ret)
	if err != nil {
		return Operand{}, err
	}

	if lay.IsImmediate() || lay.IsZST() {
		res.Imm, err = m.ReadImmediate(res)
		if err != nil {
			return Operand{}, err
		}

		res.Mem = nil
	}

	return res, nil
}

// Run steps until the outermost frame returns.
func (m *Interp) Run(ctx context.Context) error {
	for {
		done, err := m.Step(ctx)
		if err != nil {
			return err
		}

		if done {
			return nil
		}
	}
}

// Steps returns the number of steps made by the last Call.
func (m *Interp) Steps() int { return m.steps }

// IntOperand makes an integer operand of type t.
func (m *Interp) IntOperand(v int64, t tp.Type) (Operand, error) {
	lay, err := m.layoutOf(t)
	if err != nil {
		return Operand{}, err
	}

	if lay.Abi != tp.AbiScalar {
		return Operand{}, newError(NotAnImmediate, "integer as %v", t)
	}

	return Operand{Imm: ScalarImm(ScalarInt(v, lay.Scalar.Size)), Type: t, Layout: lay}, nil
}

func (m *Interp) BoolOperand(v bool) Operand {
	op, _ := m.scalarOperand(ScalarBool(v), tp.Bool{})
	return op
}

func (m *Interp) unitOperand() Operand {
	op, _ := m.immOperand(&Immediate{}, tp.Unit)
	return op
}

// locate attaches IR position to err unless it already has one.
func (m *Interp) locate(err error, fr *Frame, bb ir.BlockID, stmt int, sp ir.Span) error {
	var e *Error

	if !errors.As(err, &e) {
		e = wrapError(InvalidProgram, err, "")
		err = e
	}

	if e.located() {
		return err
	}

	e.Func = fr.Func.Name
	e.Block = bb
	e.Stmt = stmt
	e.Span = sp

	return err
}

func (m *Interp) panicError() error {
	if m.unwinding == nil {
		return newError(Panic, "unwinding without a panic")
	}

	return m.unwinding
}

// tempAlloc allocates scratch memory freed with the current frame.
func (m *Interp) tempAlloc(lay *tp.Layout) (MemPlace, error) {
	id, err := m.Mem.Allocate(lay.Size, lay.Align, KindStack)
	if err != nil {
		return MemPlace{}, err
	}

	if n := len(m.stack); n != 0 {
		fr := m.stack[n-1]
		fr.allocs = append(fr.allocs, id)
	}

	return MemPlace{Ptr: Pointer{Alloc: id}, Align: lay.Align}, nil
}
