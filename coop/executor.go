// Package coop runs many Intcode machines on a single goroutine. Tasks are
// polled round-robin and suspend only where a machine parks on Input or
// Output, so for the same program and inputs the results match the blocking
// engines of package vm.
package coop

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

var log = commonlog.GetLogger("intcode.coop")

// ErrDeadlock is returned when a full round makes no progress while tasks
// remain.
var ErrDeadlock = errors.New("coop: deadlock: no task can make progress")

// task is anything the executor polls. poll runs until the task would block
// and reports whether it did any work and whether it is finished.
type task interface {
	poll() (progressed, done bool, err error)
	String() string
}

// Executor owns a set of tasks and the queues between them.
type Executor struct {
	tasks    []task
	capacity int
	rounds   int
}

// NewExecutor returns an empty executor whose queues hold capacity words.
func NewExecutor(capacity int) *Executor {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Executor{capacity: capacity}
}

// Rounds returns how many scheduling rounds the last Run took.
func (x *Executor) Rounds() int { return x.rounds }

// Spawn adds a machine task with the given id that owns mem.
func (x *Executor) Spawn(id int, mem *vm.Memory) *Task {
	t := &Task{m: vm.NewMachine(id, mem)}
	x.tasks = append(x.tasks, t)
	return t
}

// Pipe connects src's output to dst's input and returns the queue, which
// also accepts injected words.
func (x *Executor) Pipe(src, dst *Task) *Queue {
	q := NewQueue(x.capacity)
	q.attach()
	src.out = q
	dst.in = q
	return q
}

// Input gives t a fresh input queue.
func (x *Executor) Input(t *Task) *Queue {
	q := NewQueue(x.capacity)
	t.in = q
	return q
}

// Inject queues words on q ahead of anything else written after this call.
// The words are delivered by a task, so the queue capacity is respected.
// Words the reader never consumes are discarded once it finishes.
func (x *Executor) Inject(q *Queue, words ...vm.Word) {
	q.attach()
	x.tasks = append(x.tasks, &injector{q: q, words: append([]vm.Word(nil), words...)})
}

// Buffer connects src to dst through a relay task that remembers the last
// word.
func (x *Executor) Buffer(src, dst *Task) *Tee {
	up := NewQueue(x.capacity)
	up.attach()
	down := NewQueue(x.capacity)
	down.attach()
	src.out = up
	dst.in = down
	t := &Tee{in: up, out: down, forwarding: true}
	x.tasks = append(x.tasks, t)
	return t
}

// Publish makes t store every output in w. Publishing never parks the task.
func (x *Executor) Publish(t *Task, w *wire.Watch) {
	t.out = watchPort{w}
}

// Subscribe makes every Input of t read the current value of w. Reading
// never parks the task.
func (x *Executor) Subscribe(t *Task, w *wire.Watch) {
	t.in = watchPort{w}
}

// Drain collects everything t emits.
func (x *Executor) Drain(t *Task) *Collector {
	q := NewQueue(x.capacity)
	q.attach()
	t.out = q
	c := &Collector{in: q}
	x.tasks = append(x.tasks, c)
	return c
}

// Run polls tasks until all finish. The first task error stops the run.
func (x *Executor) Run(ctx context.Context) error {
	live := append([]task(nil), x.tasks...)
	x.rounds = 0
	for len(live) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		x.rounds++
		progressed := false
		next := live[:0]
		for _, t := range live {
			p, done, err := t.poll()
			if err != nil {
				return err
			}
			if p {
				progressed = true
			}
			if !done {
				next = append(next, t)
			}
		}
		live = next
		if !progressed && len(live) > 0 {
			log.Warning("deadlock", "tasks", len(live), "rounds", x.rounds)
			return fmt.Errorf("%w (%d tasks blocked, first %s)", ErrDeadlock, len(live), live[0])
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Task: one machine
// ---------------------------------------------------------------------------

// sliceSteps bounds how many instructions a task runs per poll, so a task
// that never does I/O still lets Run observe cancellation.
const sliceSteps = 4096

// Task drives one vm.Machine. Ports without a queue behave like the closed
// default ports of vm.Engine.
type Task struct {
	m    *vm.Machine
	in   inPort
	out  outPort
	done bool
}

func (t *Task) String() string { return fmt.Sprintf("task %d", t.m.ID()) }

// Machine exposes the underlying machine, for its final memory and state.
func (t *Task) Machine() *vm.Machine { return t.m }

// Memory returns the task's memory.
func (t *Task) Memory() *vm.Memory { return t.m.Memory() }

func (t *Task) poll() (bool, bool, error) {
	if t.done {
		return false, true, nil
	}
	progressed := false
	for steps := 0; ; steps++ {
		if steps == sliceSteps {
			return true, false, nil
		}
		st, err := t.m.Step()
		if err != nil {
			t.finish()
			return true, true, err
		}
		switch st {
		case vm.Running:
			progressed = true

		case vm.AwaitingInput:
			if t.in == nil {
				return true, true, t.fail(vm.ErrUnexpectedEndOfInput, vm.ErrPortClosed)
			}
			w, ok, err := t.in.tryRecv()
			if err != nil {
				return true, true, t.fail(vm.ErrUnexpectedEndOfInput, err)
			}
			if !ok {
				return progressed, false, nil
			}
			if err := t.m.Provide(w); err != nil {
				t.finish()
				return true, true, err
			}
			progressed = true

		case vm.AwaitingOutput:
			if t.out == nil {
				return true, true, t.fail(vm.ErrOutputPipeClosed, vm.ErrPortClosed)
			}
			w, _ := t.m.PendingOutput()
			sent, err := t.out.trySend(w)
			if err != nil {
				return true, true, t.fail(vm.ErrOutputPipeClosed, err)
			}
			if !sent {
				return progressed, false, nil
			}
			if _, err := t.m.TakeOutput(); err != nil {
				t.finish()
				return true, true, err
			}
			progressed = true

		case vm.Halted:
			t.finish()
			log.Debug("task halted", "task", t.m.ID(), "steps", t.m.Steps())
			return true, true, nil
		}
	}
}

func (t *Task) fail(kind, cause error) error {
	err := t.m.Fail(fmt.Errorf("%w: %v", kind, cause))
	t.finish()
	return err
}

func (t *Task) finish() {
	if t.done {
		return
	}
	t.done = true
	if t.out != nil {
		t.out.release()
	}
	if t.in != nil {
		t.in.hangup()
	}
}

// ---------------------------------------------------------------------------
// Supporting tasks
// ---------------------------------------------------------------------------

type injector struct {
	q     *Queue
	words []vm.Word
}

func (j *injector) String() string { return "injector" }

func (j *injector) poll() (bool, bool, error) {
	progressed := false
	for len(j.words) > 0 {
		sent, err := j.q.trySend(j.words[0])
		if err != nil {
			// reader finished; the rest is unread input
			log.Debug("inject: reader gone", "unread", len(j.words))
			j.words = nil
			j.q.release()
			return true, true, nil
		}
		if !sent {
			return progressed, false, nil
		}
		j.words = j.words[1:]
		progressed = true
	}
	j.q.release()
	return true, true, nil
}

// Tee relays words between two tasks and remembers the last one. When the
// downstream task is gone it keeps consuming so upstream can finish.
type Tee struct {
	in, out    *Queue
	last       vm.Word
	seen       bool
	count      int
	held       vm.Word
	holding    bool
	forwarding bool
}

func (t *Tee) String() string { return "tee" }

// Queue returns the downstream queue, for injecting words ahead of the
// relayed ones.
func (t *Tee) Queue() *Queue { return t.out }

// Last returns the most recent relayed word.
func (t *Tee) Last() (vm.Word, bool) { return t.last, t.seen }

// Count returns how many words passed through.
func (t *Tee) Count() int { return t.count }

func (t *Tee) poll() (bool, bool, error) {
	progressed := false
	for {
		if t.holding {
			sent, err := t.out.trySend(t.held)
			switch {
			case err != nil:
				t.forwarding = false
				t.holding = false
			case !sent:
				return progressed, false, nil
			default:
				t.holding = false
				progressed = true
			}
		}
		w, ok, err := t.in.tryRecv()
		if err != nil {
			t.out.release()
			return true, true, nil
		}
		if !ok {
			return progressed, false, nil
		}
		t.last, t.seen = w, true
		t.count++
		if t.forwarding {
			t.held, t.holding = w, true
		}
		progressed = true
	}
}

// Collector gathers every word a task emits.
type Collector struct {
	in    *Queue
	words []vm.Word
	done  bool
}

func (c *Collector) String() string { return "collector" }

// Words returns what was collected so far.
func (c *Collector) Words() []vm.Word { return c.words }

// Done reports whether the upstream task has finished.
func (c *Collector) Done() bool { return c.done }

func (c *Collector) poll() (bool, bool, error) {
	progressed := false
	for {
		w, ok, err := c.in.tryRecv()
		if err != nil {
			c.done = true
			return true, true, nil
		}
		if !ok {
			return progressed, false, nil
		}
		c.words = append(c.words, w)
		progressed = true
	}
}
