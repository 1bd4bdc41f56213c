package harness

import (
	"errors"
	"fmt"
)

// Kind classifies a hard failure.
type Kind int

const (
	// Precondition failures abort before anything is mutated: the VM does
	// not exist, an image cannot be found, a target cannot be resolved.
	Precondition Kind = iota + 1
	// Operation failures come from a required step that did not succeed.
	Operation
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition"
	case Operation:
		return "operation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Failure fails the test run.
type Failure struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failed: %s", f.Kind, f.Msg)
	}
	return fmt.Sprintf("%s failed: %s: %v", f.Kind, f.Msg, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Preconditionf builds a precondition Failure wrapping err, which may be nil.
func Preconditionf(err error, format string, a ...any) error {
	return &Failure{Kind: Precondition, Msg: fmt.Sprintf(format, a...), Err: err}
}

// Operationf builds an operation Failure wrapping err, which may be nil.
func Operationf(err error, format string, a ...any) error {
	return &Failure{Kind: Operation, Msg: fmt.Sprintf(format, a...), Err: err}
}

// KindOf returns the Kind of the first Failure in err's chain, or 0.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
