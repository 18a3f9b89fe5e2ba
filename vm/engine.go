package vm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("intcode.vm")

// Engine runs one Machine to completion on the calling goroutine, blocking
// on its ports at Input and Output. Ports default to closed: a program that
// reads fails with UnexpectedEndOfInput and one that writes fails with
// OutputPipeClosed.
type Engine struct {
	m   *Machine
	in  Source
	out Sink
	log commonlog.Logger

	consumed bool
	finished bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemoryLimit bounds how far writes may extend memory.
func WithMemoryLimit(words int) Option {
	return func(e *Engine) { e.m.SetMemoryLimit(words) }
}

// WithLogger replaces the package logger.
func WithLogger(l commonlog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithInput attaches src as the input port.
func WithInput(src Source) Option {
	return func(e *Engine) { e.in = src }
}

// WithOutput attaches dst as the output port.
func WithOutput(dst Sink) Option {
	return func(e *Engine) { e.out = dst }
}

// NewEngine creates an engine with the given id that owns mem.
func NewEngine(id int, mem *Memory, opts ...Option) *Engine {
	e := &Engine{
		m:   NewMachine(id, mem),
		in:  closedPort{},
		out: closedPort{},
		log: log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the engine id used in errors and logs.
func (e *Engine) ID() int { return e.m.ID() }

// Machine exposes the underlying state machine for inspection.
func (e *Engine) Machine() *Machine { return e.m }

// SingleInput makes w the only input word.
func (e *Engine) SingleInput(w Word) *Engine {
	e.in = Words(w)
	return e
}

// PipeInputsFrom attaches src as the input port.
func (e *Engine) PipeInputsFrom(src Source) *Engine {
	e.in = src
	return e
}

// PipeOutputsTo attaches dst as the output port.
func (e *Engine) PipeOutputsTo(dst Sink) *Engine {
	e.out = dst
	return e
}

// Step executes one instruction, including any port transfer it needs. It
// returns false once the engine has halted or failed.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	if e.finished {
		return false, e.m.Err()
	}
	st, err := e.m.Step()
	if err != nil {
		e.finish(err)
		return false, err
	}
	switch st {
	case AwaitingInput:
		w, err := e.in.Recv(ctx)
		if err != nil {
			return false, e.portFailure(ctx, err, ErrUnexpectedEndOfInput)
		}
		if err := e.m.Provide(w); err != nil {
			e.finish(err)
			return false, err
		}
	case AwaitingOutput:
		w, _ := e.m.PendingOutput()
		if err := e.out.Send(ctx, w); err != nil {
			return false, e.portFailure(ctx, err, ErrOutputPipeClosed)
		}
		if _, err := e.m.TakeOutput(); err != nil {
			e.finish(err)
			return false, err
		}
	case Halted:
		e.finish(nil)
		return false, nil
	}
	return true, nil
}

// Execute runs the program until it halts and returns the final memory. An
// Engine can be executed once.
func (e *Engine) Execute(ctx context.Context) (*Memory, error) {
	if e.consumed {
		return nil, ErrEngineConsumed
	}
	e.consumed = true

	done := ctx.Done()
	for {
		select {
		case <-done:
			e.finish(ctx.Err())
			return nil, ctx.Err()
		default:
		}
		more, err := e.Step(ctx)
		if err != nil {
			return nil, err
		}
		if !more {
			return e.m.Memory(), nil
		}
	}
}

func (e *Engine) portFailure(ctx context.Context, err error, kind error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		e.finish(err)
		return err
	}
	err = e.m.Fail(fmt.Errorf("%w: %v", kind, err))
	e.finish(err)
	return err
}

// finish releases both ports: downstream sees end of input and upstream sees
// a hung-up reader.
func (e *Engine) finish(err error) {
	if e.finished {
		return
	}
	e.finished = true
	if c, ok := e.out.(io.Closer); ok {
		c.Close()
	}
	if h, ok := e.in.(Hanger); ok {
		h.Hangup()
	}
	if err != nil {
		var ee *ExecutionError
		if errors.As(err, &ee) {
			e.log.Warning("engine faulted", "engine", e.m.ID(), "pc", ee.PC, "kind", ee.Kind.String())
		} else {
			e.log.Debug("engine stopped", "engine", e.m.ID(), "reason", err.Error())
		}
		return
	}
	e.log.Debug("engine halted", "engine", e.m.ID(), "steps", e.m.Steps())
}
