package coop

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

func mustParse(t *testing.T, text string) *vm.Memory {
	t.Helper()
	mem, err := vm.ParseMemory(text)
	if err != nil {
		t.Fatal(err)
	}
	return mem
}

const quine = "109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99"

func TestExecutorSingleTask(t *testing.T) {
	x := NewExecutor(DefaultQueueCapacity)
	task := x.Spawn(0, mustParse(t, quine))
	out := x.Drain(task)
	if err := x.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := mustParse(t, quine).Words(); !reflect.DeepEqual(out.Words(), want) {
		t.Errorf("got %v, want %v", out.Words(), want)
	}
	if !out.Done() {
		t.Error("collector should see the task finish")
	}
}

func TestExecutorFeedbackLoop(t *testing.T) {
	program := "3,26,1001,26,-4,26,3,27,1002,27,2,27,1,27,26,27,4,27,1001,28,-1,28,1005,28,6,99,0,0,5"
	phases := []vm.Word{9, 8, 7, 6, 5}

	x := NewExecutor(DefaultQueueCapacity)
	tasks := make([]*Task, len(phases))
	for i := range tasks {
		tasks[i] = x.Spawn(i, mustParse(t, program))
	}
	queues := make([]*Queue, len(tasks))
	for i := 1; i < len(tasks); i++ {
		queues[i] = x.Pipe(tasks[i-1], tasks[i])
	}
	tee := x.Buffer(tasks[len(tasks)-1], tasks[0])
	queues[0] = tee.Queue()

	x.Inject(queues[0], phases[0], 0)
	for i := 1; i < len(queues); i++ {
		x.Inject(queues[i], phases[i])
	}
	if err := x.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if last, ok := tee.Last(); !ok || last != 139629729 {
		t.Errorf("Last() = %d, %v; want 139629729", last, ok)
	}
}

func TestExecutorDeadlock(t *testing.T) {
	x := NewExecutor(DefaultQueueCapacity)
	a := x.Spawn(0, mustParse(t, "3,0,4,0,99"))
	b := x.Spawn(1, mustParse(t, "3,0,4,0,99"))
	x.Pipe(a, b)
	x.Pipe(b, a)
	if err := x.Run(context.Background()); !errors.Is(err, ErrDeadlock) {
		t.Errorf("got %v, want ErrDeadlock", err)
	}
}

func TestExecutorTaskErrors(t *testing.T) {
	tests := []struct {
		name    string
		program string
		inject  bool
		kind    vm.ErrorKind
	}{
		{"no input queue", "3,0,99", false, vm.UnexpectedEndOfInput},
		{"no output queue", "104,1,99", false, vm.OutputPipeClosed},
		{"input closed", "3,0,3,0,99", true, vm.UnexpectedEndOfInput},
		{"bad opcode", "98", false, vm.InvalidInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewExecutor(DefaultQueueCapacity)
			task := x.Spawn(5, mustParse(t, tt.program))
			if tt.inject {
				x.Inject(x.Input(task), 1)
			}
			err := x.Run(context.Background())
			var ee *vm.ExecutionError
			if !errors.As(err, &ee) || ee.Kind != tt.kind || ee.Engine != 5 {
				t.Errorf("got %v, want %s from engine 5", err, tt.kind)
			}
		})
	}
}

func TestExecutorHungUpDownstream(t *testing.T) {
	x := NewExecutor(DefaultQueueCapacity)
	up := x.Spawn(0, mustParse(t, "104,1,1105,1,0"))
	down := x.Spawn(1, mustParse(t, "3,0,99"))
	x.Pipe(up, down)
	err := x.Run(context.Background())
	if !errors.Is(err, vm.ErrOutputPipeClosed) {
		t.Errorf("got %v, want ErrOutputPipeClosed", err)
	}
}

func TestExecutorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x := NewExecutor(DefaultQueueCapacity)
	x.Spawn(0, mustParse(t, "99"))
	if err := x.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestExecutorBusyLoopHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	x := NewExecutor(DefaultQueueCapacity)
	x.Spawn(0, mustParse(t, "1105,1,0"))
	if err := x.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}

// Both schedulers must agree on outputs and final memory.
func TestSchedulerEquivalence(t *testing.T) {
	tests := []struct {
		name    string
		program string
		inputs  []vm.Word
	}{
		{"quine", quine, nil},
		{"compare", "3,9,8,9,10,9,4,9,99,-1,8", []vm.Word{8}},
		{"arithmetic", "1,9,10,3,2,3,11,0,99,30,40,50", nil},
		{"relative", "109,100,203,2,204,2,1101,5,6,200,4,200,99", []vm.Word{77}},
		{"echo three", "3,0,4,0,3,0,4,0,3,0,4,0,99", []vm.Word{1, -2, 3}},
		{"unread input", "3,0,4,0,99", []vm.Word{7, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantOut, wantMem, err := wire.Run(context.Background(), 0, mustParse(t, tt.program), tt.inputs)
			if err != nil {
				t.Fatal(err)
			}

			x := NewExecutor(DefaultQueueCapacity)
			task := x.Spawn(0, mustParse(t, tt.program))
			if len(tt.inputs) > 0 {
				x.Inject(x.Input(task), tt.inputs...)
			}
			out := x.Drain(task)
			if err := x.Run(context.Background()); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(out.Words(), wantOut) {
				t.Errorf("outputs: got %v, want %v", out.Words(), wantOut)
			}
			if got := task.Memory().String(); got != wantMem.String() {
				t.Errorf("memory: got %s, want %s", got, wantMem.String())
			}
		})
	}
}

func TestExecutorWatch(t *testing.T) {
	w := wire.NewWatch(3)

	// A publishing task never parks; the watch keeps only the latest word.
	x := NewExecutor(DefaultQueueCapacity)
	writer := x.Spawn(0, mustParse(t, "104,1,104,2,104,3,99"))
	x.Publish(writer, w)
	if err := x.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.Load() != 3 || w.Version() != 3 {
		t.Errorf("after run = %d (v%d), want 3 (v3)", w.Load(), w.Version())
	}

	// A subscribed task reads the current value and never sees end of input.
	w.Store(41)
	x = NewExecutor(DefaultQueueCapacity)
	reader := x.Spawn(2, mustParse(t, "3,0,1001,0,1,0,4,0,3,1,4,1,99"))
	x.Subscribe(reader, w)
	out := x.Drain(reader)
	if err := x.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []vm.Word{42, 41}; !reflect.DeepEqual(out.Words(), want) {
		t.Errorf("got %v, want %v", out.Words(), want)
	}
}

func TestExecutorWatchBetweenTasks(t *testing.T) {
	w := wire.NewWatch(0)
	x := NewExecutor(DefaultQueueCapacity)
	writer := x.Spawn(0, mustParse(t, "104,5,99"))
	x.Publish(writer, w)
	// The reader spins until it sees a non-zero value.
	reader := x.Spawn(1, mustParse(t, "3,9,1006,9,0,4,9,99,0,0"))
	x.Subscribe(reader, w)
	out := x.Drain(reader)
	if err := x.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := []vm.Word{5}; !reflect.DeepEqual(out.Words(), want) {
		t.Errorf("got %v, want %v", out.Words(), want)
	}
}
