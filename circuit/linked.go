package circuit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/intcode/coop"
	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

var log = commonlog.GetLogger("intcode.circuit")

// ErrNoSignal is returned when a circuit finishes without producing a result.
var ErrNoSignal = errors.New("circuit: no signal produced")

// Scheduler selects how engines are run.
type Scheduler int

const (
	// Threads runs every engine on its own goroutine with blocking pipes.
	Threads Scheduler = iota
	// Cooperative runs every engine on the calling goroutine.
	Cooperative
)

func (s Scheduler) String() string {
	switch s {
	case Threads:
		return "threads"
	case Cooperative:
		return "cooperative"
	}
	return fmt.Sprintf("Scheduler(%d)", int(s))
}

// ParseScheduler accepts "threads" or "cooperative" ("coop").
func ParseScheduler(name string) (Scheduler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "threads", "thread":
		return Threads, nil
	case "cooperative", "coop":
		return Cooperative, nil
	}
	return Threads, fmt.Errorf("circuit: unknown scheduler %q", name)
}

// Linked is a set of engines running copies of one program, connected by a
// Topology. Every engine first reads its phase; the entry engine then reads
// the signal.
type Linked struct {
	Program     *vm.Memory
	Topology    *Topology
	Phases      []vm.Word
	Signal      vm.Word
	Scheduler   Scheduler
	MemoryLimit int
}

// Feedback runs one engine per phase in a ring and returns the last value
// that travelled from the final engine back to the first.
func Feedback(ctx context.Context, prog *vm.Memory, phases []vm.Word, signal vm.Word, sched Scheduler) (vm.Word, error) {
	topo, err := Ring(len(phases))
	if err != nil {
		return 0, err
	}
	l := &Linked{Program: prog, Topology: topo, Phases: phases, Signal: signal, Scheduler: sched}
	return l.Run(ctx)
}

// Amplify runs one engine per phase in an open chain and returns the last
// word emitted by the final engine.
func Amplify(ctx context.Context, prog *vm.Memory, phases []vm.Word, signal vm.Word, sched Scheduler) (vm.Word, error) {
	topo, err := Chain(len(phases))
	if err != nil {
		return 0, err
	}
	l := &Linked{Program: prog, Topology: topo, Phases: phases, Signal: signal, Scheduler: sched}
	return l.Run(ctx)
}

// Run executes the circuit. Any engine error fails the whole circuit.
func (l *Linked) Run(ctx context.Context) (vm.Word, error) {
	if l.Program == nil || l.Topology == nil {
		return 0, fmt.Errorf("circuit: program and topology are required")
	}
	if len(l.Phases) != l.Topology.Nodes() {
		return 0, fmt.Errorf("%w: %d phases for %d nodes", ErrTopology, len(l.Phases), l.Topology.Nodes())
	}
	entry, sink, err := l.endpoints()
	if err != nil {
		return 0, err
	}
	log.Debug("running circuit", "nodes", l.Topology.Nodes(), "scheduler", l.Scheduler.String())
	if l.Scheduler == Cooperative {
		return l.runCooperative(ctx, entry, sink)
	}
	return l.runThreads(ctx, entry, sink)
}

// endpoints picks the node that receives the signal and, for open
// topologies, the node whose output is the result (sink is -1 for rings).
func (l *Linked) endpoints() (entry, sink int, err error) {
	if closing, ok := l.Topology.Closing(); ok {
		return closing.To, -1, nil
	}
	entry, sink = -1, -1
	for i := 0; i < l.Topology.Nodes(); i++ {
		if _, ok := l.Topology.Inbound(i); !ok {
			if entry >= 0 {
				return 0, 0, fmt.Errorf("%w: more than one entry node", ErrTopology)
			}
			entry = i
		}
		if _, ok := l.Topology.Outbound(i); !ok {
			if sink >= 0 {
				return 0, 0, fmt.Errorf("%w: more than one exit node", ErrTopology)
			}
			sink = i
		}
	}
	if entry < 0 || sink < 0 {
		return 0, 0, fmt.Errorf("%w: no entry or exit node", ErrTopology)
	}
	return entry, sink, nil
}

func (l *Linked) words(node, entry int) []vm.Word {
	words := []vm.Word{l.Phases[node]}
	if node == entry {
		words = append(words, l.Signal)
	}
	return words
}

func (l *Linked) runThreads(ctx context.Context, entry, sink int) (vm.Word, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := l.Topology.Nodes()
	engines := make([]*vm.Engine, n)
	for i := range engines {
		engines[i] = vm.NewEngine(i, l.Program.Clone(), vm.WithMemoryLimit(l.MemoryLimit))
	}

	injectors := make([]*vm.Sender, n)
	var tee *wire.Tee
	closing, ring := l.Topology.Closing()
	for _, e := range l.Topology.Edges() {
		if ring && e == closing {
			tee = wire.Buffer(ctx, engines[e.From], engines[e.To])
			injectors[e.To] = tee.Injector()
			continue
		}
		injectors[e.To] = wire.Pipe(engines[e.From], engines[e.To])
	}
	for i, tx := range injectors {
		if tx == nil {
			injectors[i] = wire.Input(engines[i])
		}
	}
	var drain *wire.Collector
	if sink >= 0 {
		drain = wire.Drain(ctx, engines[sink])
	}

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
		// Phases go out in engine order, and all of them before the
		// signal, so no engine reads its upstream's output as a phase.
		for i, tx := range injectors {
			if err := tx.Send(gctx, l.Phases[i]); err != nil {
				return fmt.Errorf("circuit: inject phase into node %d: %w", i, err)
			}
		}
		if err := injectors[entry].Send(gctx, l.Signal); err != nil {
			return fmt.Errorf("circuit: inject signal into node %d: %w", entry, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if tee != nil {
		if err := tee.Wait(ctx); err != nil {
			return 0, err
		}
		if w, ok := tee.Last(); ok {
			return w, nil
		}
		return 0, ErrNoSignal
	}
	out, err := drain.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, ErrNoSignal
	}
	return out[len(out)-1], nil
}

func (l *Linked) runCooperative(ctx context.Context, entry, sink int) (vm.Word, error) {
	n := l.Topology.Nodes()
	x := coop.NewExecutor(coop.DefaultQueueCapacity)
	tasks := make([]*coop.Task, n)
	for i := range tasks {
		tasks[i] = x.Spawn(i, l.Program.Clone())
		tasks[i].Machine().SetMemoryLimit(l.MemoryLimit)
	}

	queues := make([]*coop.Queue, n)
	var tee *coop.Tee
	closing, ring := l.Topology.Closing()
	for _, e := range l.Topology.Edges() {
		if ring && e == closing {
			tee = x.Buffer(tasks[e.From], tasks[e.To])
			queues[e.To] = tee.Queue()
			continue
		}
		queues[e.To] = x.Pipe(tasks[e.From], tasks[e.To])
	}
	for i, q := range queues {
		if q == nil {
			queues[i] = x.Input(tasks[i])
		}
	}
	var col *coop.Collector
	if sink >= 0 {
		col = x.Drain(tasks[sink])
	}
	for i, q := range queues {
		x.Inject(q, l.words(i, entry)...)
	}

	if err := x.Run(ctx); err != nil {
		return 0, err
	}
	if tee != nil {
		if w, ok := tee.Last(); ok {
			return w, nil
		}
		return 0, ErrNoSignal
	}
	out := col.Words()
	if len(out) == 0 {
		return 0, ErrNoSignal
	}
	return out[len(out)-1], nil
}
