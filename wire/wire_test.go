package wire

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/intcode/vm"
)

func mustParse(t *testing.T, text string) *vm.Memory {
	t.Helper()
	mem, err := vm.ParseMemory(text)
	if err != nil {
		t.Fatal(err)
	}
	return mem
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunQuine(t *testing.T) {
	program := "109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99"
	mem := mustParse(t, program)
	want := mem.Words()
	out, _, err := Run(testContext(t), 0, mem, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestRunReportsEngineError(t *testing.T) {
	_, _, err := Run(testContext(t), 4, mustParse(t, "3,0,3,0,99"), []vm.Word{1})
	var ee *vm.ExecutionError
	if !errors.As(err, &ee) || ee.Kind != vm.UnexpectedEndOfInput || ee.Engine != 4 {
		t.Errorf("got %v, want UnexpectedEndOfInput from engine 4", err)
	}
}

const amplifier = "3,15,3,16,1002,16,10,16,1,16,15,15,4,15,99,0,0"

func TestPipeChain(t *testing.T) {
	ctx := testContext(t)
	phases := []vm.Word{4, 3, 2, 1, 0}
	engines := make([]*vm.Engine, len(phases))
	for i := range engines {
		engines[i] = vm.NewEngine(i, mustParse(t, amplifier))
	}

	injectors := []*vm.Sender{Input(engines[0])}
	for i := 1; i < len(engines); i++ {
		injectors = append(injectors, Pipe(engines[i-1], engines[i]))
	}
	drain := Drain(ctx, engines[len(engines)-1])

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range engines {
		e := e
		g.Go(func() error {
			_, err := e.Execute(gctx)
			return err
		})
	}
	g.Go(func() error {
		defer func() {
			for _, tx := range injectors {
				tx.Close()
			}
		}()
		// Every phase is queued before the signal, so no engine can read
		// its upstream's output as a phase.
		for i, tx := range injectors {
			if err := tx.Send(gctx, phases[i]); err != nil {
				return err
			}
		}
		return injectors[0].Send(gctx, 0)
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	out, err := drain.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []vm.Word{43210}) {
		t.Errorf("got %v, want [43210]", out)
	}
}

func TestBufferFeedbackLoop(t *testing.T) {
	// Each pass doubles the signal; the loop runs until the counter at 20
	// reaches zero.
	ctx := testContext(t)
	program := "3,19,1002,19,2,19,4,19,1001,20,-1,20,1005,20,0,99,0,0,0,0,3"
	e := vm.NewEngine(0, mustParse(t, program))
	tee := Buffer(ctx, e, e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.Execute(gctx)
		return err
	})
	g.Go(func() error {
		return Inject(gctx, tee.Injector(), 1)
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if err := tee.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	last, ok := tee.Last()
	if !ok || last != 8 {
		t.Errorf("Last() = %d, %v; want 8, true", last, ok)
	}
	if tee.Count() != 3 {
		t.Errorf("Count() = %d, want 3", tee.Count())
	}
}

func TestWatch(t *testing.T) {
	w := NewWatch(3)
	if w.Load() != 3 || w.Version() != 0 {
		t.Fatalf("fresh watch = %d (v%d), want 3 (v0)", w.Load(), w.Version())
	}

	// An engine publishes its outputs; a reader only ever sees the latest.
	ctx := testContext(t)
	e := vm.NewEngine(0, mustParse(t, "104,1,104,2,104,3,99")).PipeOutputsTo(w)
	if _, err := e.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	if w.Load() != 3 || w.Version() != 3 {
		t.Errorf("after run = %d (v%d), want 3 (v3)", w.Load(), w.Version())
	}

	// A polling engine reads the current value without blocking.
	w.Store(41)
	reader := vm.NewEngine(2, mustParse(t, "3,0,1001,0,1,0,4,0,99")).PipeInputsFrom(w)
	drain := Drain(ctx, reader)
	if _, err := reader.Execute(ctx); err != nil {
		t.Fatal(err)
	}
	out, err := drain.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []vm.Word{42}) {
		t.Errorf("got %v, want [42]", out)
	}
}
