package vm

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// collector is a Sink that records every word and can be closed.
type collector struct {
	mu     sync.Mutex
	words  []Word
	closed bool
}

func (c *collector) Send(ctx context.Context, w Word) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrPortClosed
	}
	c.words = append(c.words, w)
	return nil
}

func (c *collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestEngineExecuteReturnsMemory(t *testing.T) {
	e := NewEngine(0, mustParse(t, "1,9,10,3,2,3,11,0,99,30,40,50"))
	mem, err := e.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := mem.String(), "3500,9,10,70,2,3,11,0,99,30,40,50"; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if _, err := e.Execute(context.Background()); !errors.Is(err, ErrEngineConsumed) {
		t.Errorf("second Execute: %v, want ErrEngineConsumed", err)
	}
}

func TestEngineSingleInput(t *testing.T) {
	out := &collector{}
	e := NewEngine(0, mustParse(t, compareToEight)).SingleInput(8).PipeOutputsTo(out)
	if _, err := e.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.words, []Word{1000}) {
		t.Errorf("got %v, want [1000]", out.words)
	}
	if !out.closed {
		t.Error("engine should close its output when it halts")
	}
}

func TestEngineDefaultPortsAreClosed(t *testing.T) {
	_, err := NewEngine(1, mustParse(t, "3,0,99")).Execute(context.Background())
	if !errors.Is(err, ErrUnexpectedEndOfInput) {
		t.Errorf("read with no input: %v, want ErrUnexpectedEndOfInput", err)
	}
	_, err = NewEngine(2, mustParse(t, "104,1,99")).Execute(context.Background())
	if !errors.Is(err, ErrOutputPipeClosed) {
		t.Errorf("write with no output: %v, want ErrOutputPipeClosed", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Engine != 2 || ee.PC != 0 {
		t.Errorf("got %#v, want engine 2 at pc 0", err)
	}
}

func TestEngineInputExhausted(t *testing.T) {
	e := NewEngine(0, mustParse(t, "3,0,3,1,99")).SingleInput(4)
	_, err := e.Execute(context.Background())
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Kind != UnexpectedEndOfInput || ee.PC != 2 {
		t.Errorf("got %v, want UnexpectedEndOfInput at pc 2", err)
	}
}

func TestEnginePipeline(t *testing.T) {
	// The first engine doubles its input, the second adds one.
	tx, rx := NewPipe(DefaultPipeCapacity)
	out := &collector{}
	a := NewEngine(0, mustParse(t, "3,0,1002,0,2,0,4,0,99")).SingleInput(21).PipeOutputsTo(tx)
	b := NewEngine(1, mustParse(t, "3,0,1001,0,1,0,4,0,99")).PipeInputsFrom(rx).PipeOutputsTo(out)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, e := range []*Engine{a, b} {
		wg.Add(1)
		go func(i int, e *Engine) {
			defer wg.Done()
			_, errs[i] = e.Execute(context.Background())
		}(i, e)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("engine %d: %v", i, err)
		}
	}
	if !reflect.DeepEqual(out.words, []Word{43}) {
		t.Errorf("got %v, want [43]", out.words)
	}
}

func TestEngineHangupFailsUpstream(t *testing.T) {
	// Upstream outputs forever; downstream reads one word and halts.
	tx, rx := NewPipe(0)
	up := NewEngine(0, mustParse(t, "104,1,1105,1,0")).PipeOutputsTo(tx)
	down := NewEngine(1, mustParse(t, "3,0,99")).PipeInputsFrom(rx)

	upErr := make(chan error, 1)
	go func() {
		_, err := up.Execute(context.Background())
		upErr <- err
	}()
	if _, err := down.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-upErr:
		if !errors.Is(err, ErrOutputPipeClosed) {
			t.Errorf("upstream: %v, want ErrOutputPipeClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upstream did not notice the hangup")
	}
}

func TestEngineCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tx, rx := NewPipe(0)
	defer tx.Close()
	e := NewEngine(0, mustParse(t, "3,0,99")).PipeInputsFrom(rx)

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("engine ignored cancellation")
	}
}

func TestEngineCancelledBusyLoop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewEngine(0, mustParse(t, "1105,1,0")).Execute(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

func TestEngineStep(t *testing.T) {
	out := &collector{}
	e := NewEngine(0, mustParse(t, "1101,2,3,0,4,0,99")).PipeOutputsTo(out)
	ctx := context.Background()
	steps := 0
	for {
		more, err := e.Step(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !more {
			break
		}
		steps++
	}
	if steps != 2 {
		t.Errorf("got %d steps, want 2", steps)
	}
	if !reflect.DeepEqual(out.words, []Word{5}) {
		t.Errorf("got %v, want [5]", out.words)
	}
}

func TestEngineMemoryLimitOption(t *testing.T) {
	_, err := NewEngine(0, mustParse(t, "1101,1,1,1000,99"), WithMemoryLimit(16)).Execute(context.Background())
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("got %v, want ErrOutOfBounds", err)
	}
}
