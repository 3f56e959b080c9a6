package interp

import (
	"fmt"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/mir/compiler/ir"
)

type (
	// ErrorKind is the closed set of interpreter failures.
	ErrorKind int

	// Class tells a caller what to do with a failure.
	Class int

	// Error is an interpreter failure with its IR location.
	Error struct {
		Kind ErrorKind
		Msg  string

		// Location. Func is empty if the error happened outside of any frame.
		Func  string
		Block ir.BlockID
		Stmt  int // -1 for terminators
		Span  ir.Span

		// Set for InvalidValue.
		Path     string
		Expected string
		Found    string

		Err error
	}
)

const (
	_ ErrorKind = iota

	PointerOutOfBounds
	InvalidUninitBytes
	DoubleFree
	DeallocKindMismatch
	AllocationStillReferenced
	SizeOverflow
	NullPointerDeref
	DanglingPointer
	Misaligned
	PartialPointer
	WriteToReadOnly
	MemoryLeaked
	InvalidFunctionPointer

	NotAnImmediate
	LayoutError
	BoundsCheckFailed

	ArgumentCountMismatch
	ArgumentTypeMismatch
	StackOverflow
	UseOfUninitializedLocal
	DeadLocal

	Panic
	Aborted
	StepLimitExceeded
	Canceled
	ReachedUnreachable
	InvalidProgram

	Overflow
	DivisionByZero
	RemainderByZero
	PointerToIntCast
	UndefinedBehavior

	InvalidValue

	ConstCycle
	ConstHasPointer

	kindCount
)

const (
	// ClassMalformed means the IR itself is broken: abort compilation.
	ClassMalformed Class = iota

	// ClassDiagnostic is a user error to report with its source span.
	ClassDiagnostic

	// ClassDeferred means the value is not a compile time constant: leave it to run time.
	ClassDeferred
)

var kindNames = [...]string{
	PointerOutOfBounds:        "PointerOutOfBounds",
	InvalidUninitBytes:        "InvalidUninitBytes",
	DoubleFree:                "DoubleFree",
	DeallocKindMismatch:       "DeallocKindMismatch",
	AllocationStillReferenced: "AllocationStillReferenced",
	SizeOverflow:              "SizeOverflow",
	NullPointerDeref:          "NullPointerDeref",
	DanglingPointer:           "DanglingPointer",
	Misaligned:                "Misaligned",
	PartialPointer:            "PartialPointer",
	WriteToReadOnly:           "WriteToReadOnly",
	MemoryLeaked:              "MemoryLeaked",
	InvalidFunctionPointer:    "InvalidFunctionPointer",
	NotAnImmediate:            "NotAnImmediate",
	LayoutError:               "LayoutError",
	BoundsCheckFailed:         "BoundsCheckFailed",
	ArgumentCountMismatch:     "ArgumentCountMismatch",
	ArgumentTypeMismatch:      "ArgumentTypeMismatch",
	StackOverflow:             "StackOverflow",
	UseOfUninitializedLocal:   "UseOfUninitializedLocal",
	DeadLocal:                 "DeadLocal",
	Panic:                     "Panic",
	Aborted:                   "Aborted",
	StepLimitExceeded:         "StepLimitExceeded",
	Canceled:                  "Canceled",
	ReachedUnreachable:        "ReachedUnreachable",
	InvalidProgram:            "InvalidProgram",
	Overflow:                  "Overflow",
	DivisionByZero:            "DivisionByZero",
	RemainderByZero:           "RemainderByZero",
	PointerToIntCast:          "PointerToIntCast",
	UndefinedBehavior:         "UndefinedBehavior",
	InvalidValue:              "InvalidValue",
	ConstCycle:                "ConstCycle",
	ConstHasPointer:           "ConstHasPointer",
}

func (k ErrorKind) String() string {
	if k <= 0 || k >= kindCount {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}

	return kindNames[k]
}

func (k ErrorKind) Class() Class {
	switch k {
	case NotAnImmediate, LayoutError, ArgumentCountMismatch, ArgumentTypeMismatch, InvalidProgram, InvalidFunctionPointer:
		return ClassMalformed
	case PointerToIntCast, StepLimitExceeded, Canceled, MemoryLeaked, ConstHasPointer:
		return ClassDeferred
	default:
		return ClassDiagnostic
	}
}

func (c Class) String() string {
	switch c {
	case ClassMalformed:
		return "abort"
	case ClassDiagnostic:
		return "diagnostic"
	case ClassDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

func newError(k ErrorKind, f string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(f, args...), Stmt: -1}
}

// wrapError attaches kind k to a lower level error.
func wrapError(k ErrorKind, err error, f string, args ...any) *Error {
	e := newError(k, f, args...)
	e.Err = err

	return e
}

func invalidValue(path, expected, found string) *Error {
	e := newError(InvalidValue, "")
	e.Path = path
	e.Expected = expected
	e.Found = found

	return e
}

// KindOf returns the kind of the interpreter error in the err chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error

	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// IsKind reports whether err is an interpreter error of kind k.
func IsKind(err error, k ErrorKind) bool {
	return KindOf(err) == k
}

// withMsg prefixes the interpreter error message with context.
func withMsg(err error, f string, args ...any) error {
	var e *Error

	if !errors.As(err, &e) {
		return err
	}

	msg := fmt.Sprintf(f, args...)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}

	e.Msg = msg

	return err
}

func (e *Error) Class() Class { return e.Kind.Class() }

func (e *Error) located() bool { return e.Func != "" }

func (e *Error) Error() string {
	var b strings.Builder

	if e.located() {
		fmt.Fprintf(&b, "%s: bb%d", e.Func, e.Block)

		if e.Stmt >= 0 {
			fmt.Fprintf(&b, "[%d]", e.Stmt)
		}

		if !e.Span.IsZero() {
			fmt.Fprintf(&b, " (%d:%d)", e.Span.Line, e.Span.Col)
		}

		b.WriteString(": ")
	}

	b.WriteString(e.Kind.String())

	if e.Kind == InvalidValue {
		fmt.Fprintf(&b, " at %s: expected %s, found %s", pathOrRoot(e.Path), e.Expected, e.Found)
	}

	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func pathOrRoot(p string) string {
	if p == "" {
		return "<root>"
	}

	return p
}
