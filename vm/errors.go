package vm

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Every *ExecutionError matches exactly one of the
// first five.
var (
	ErrInvalidInstruction   = errors.New("invalid instruction")
	ErrOutOfBounds          = errors.New("out of bounds access")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrUnexpectedEndOfInput = errors.New("unexpected end of input")
	ErrOutputPipeClosed     = errors.New("output pipe closed")

	ErrMalformedProgram = errors.New("malformed program")
	ErrPortClosed       = errors.New("port closed")
	ErrEngineConsumed   = errors.New("engine already executed")
	ErrNotParked        = errors.New("machine not parked on this operation")
)

// ErrorKind classifies an ExecutionError.
type ErrorKind int

const (
	InvalidInstruction ErrorKind = iota
	OutOfBoundsAccess
	InvalidAddress
	UnexpectedEndOfInput
	OutputPipeClosed
)

var kindSentinels = [...]error{
	InvalidInstruction:   ErrInvalidInstruction,
	OutOfBoundsAccess:    ErrOutOfBounds,
	InvalidAddress:       ErrInvalidAddress,
	UnexpectedEndOfInput: ErrUnexpectedEndOfInput,
	OutputPipeClosed:     ErrOutputPipeClosed,
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindSentinels) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindSentinels[k].Error()
}

// Sentinel returns the package-level error matching k.
func (k ErrorKind) Sentinel() error {
	if k < 0 || int(k) >= len(kindSentinels) {
		return nil
	}
	return kindSentinels[k]
}

// kindOf maps a cause onto its ErrorKind. Causes that carry no sentinel are
// treated as invalid instructions.
func kindOf(err error) ErrorKind {
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return ErrorKind(k)
		}
	}
	return InvalidInstruction
}

// ExecutionError reports a fault inside a running engine.
type ExecutionError struct {
	Kind   ErrorKind
	Engine int
	PC     Address
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("engine %d: pc %d: %s", e.Engine, e.PC, e.Kind)
	}
	return fmt.Sprintf("engine %d: pc %d: %s", e.Engine, e.PC, e.Detail)
}

// Is matches the sentinel of e's kind.
func (e *ExecutionError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func newExecutionError(engine int, pc Address, err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{
		Kind:   kindOf(err),
		Engine: engine,
		PC:     pc,
		Detail: err.Error(),
		Err:    err,
	}
}
