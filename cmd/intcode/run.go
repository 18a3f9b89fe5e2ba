package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/chazu/intcode/circuit"
	"github.com/chazu/intcode/coop"
	"github.com/chazu/intcode/manifest"
	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

// handleRunCommand processes the `intcode run` subcommand.
// Usage:
//
//	intcode run -in 1 prog.ic           # one input word
//	intcode run -in 1,2 -dump prog.ic   # print the final memory too
func handleRunCommand(ctx context.Context, args []string, m *manifest.Manifest, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var in wordsFlag
	fs.Var(&in, "in", "Input words, comma separated (repeatable)")
	schedName := fs.String("sched", "", "Scheduler: threads or cooperative")
	limit := fs.Int("memory-limit", 0, "Maximum memory words (0 = unlimited)")
	dump := fs.Bool("dump", false, "Print the final memory after the outputs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mem, err := loadProgram(fs.Args(), m, stdin)
	if err != nil {
		return err
	}
	inputs := in.words
	if !in.set && m != nil {
		inputs = m.Inputs()
	}
	sched, err := pickScheduler(*schedName, m)
	if err != nil {
		return err
	}

	out, final, err := runSingle(ctx, mem, inputs, sched, pickLimit(*limit, m))
	if err != nil {
		return err
	}
	printWords(stdout, out)
	if *dump {
		fmt.Fprintln(stdout, final.String())
	}
	return nil
}

// handleFeedbackCommand processes the `intcode feedback` subcommand.
func handleFeedbackCommand(ctx context.Context, args []string, m *manifest.Manifest, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("feedback", flag.ContinueOnError)
	var phases wordsFlag
	fs.Var(&phases, "phases", "Phase per engine, comma separated")
	signal := fs.Int64("signal", 0, "Signal fed to the first engine")
	open := fs.Bool("open", false, "Link the engines in an open chain instead of a ring")
	schedName := fs.String("sched", "", "Scheduler: threads or cooperative")
	limit := fs.Int("memory-limit", 0, "Maximum memory words per engine (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mem, err := loadProgram(fs.Args(), m, stdin)
	if err != nil {
		return err
	}
	ph := phases.words
	sig := vm.Word(*signal)
	if m != nil {
		if !phases.set {
			ph = m.Phases()
		}
		if !flagSet(fs, "signal") {
			sig = vm.Word(m.Run.Signal)
		}
		if !flagSet(fs, "open") {
			*open = m.Run.Mode == manifest.ModeAmplify
		}
	}
	sched, err := pickScheduler(*schedName, m)
	if err != nil {
		return err
	}

	result, err := runLinked(ctx, mem, ph, sig, *open, sched, pickLimit(*limit, m))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, result)
	return nil
}

// handleNetworkCommand processes the `intcode network` subcommand.
func handleNetworkCommand(ctx context.Context, args []string, m *manifest.Manifest, stdin io.Reader, stdout io.Writer) error {
	cfg := circuit.DefaultNetworkConfig()
	if m != nil {
		var err error
		if cfg, err = m.NetworkConfig(); err != nil {
			return err
		}
	}

	fs := flag.NewFlagSet("network", flag.ContinueOnError)
	fs.IntVar(&cfg.Size, "size", cfg.Size, "Number of nodes")
	fs.IntVar(&cfg.Monitor, "monitor", cfg.Monitor, "Address captured by the NAT")
	fs.IntVar(&cfg.WakeAddress, "wake", cfg.WakeAddress, "Node woken when the network idles")
	fs.IntVar(&cfg.IdleThreshold, "idle", cfg.IdleThreshold, "Empty polls before a node counts as idle")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "How often the NAT checks for idleness")
	fs.IntVar(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "Maximum memory words per node (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mem, err := loadProgram(fs.Args(), m, stdin)
	if err != nil {
		return err
	}
	return runNetwork(ctx, mem, cfg, stdout)
}

// handleDisCommand processes the `intcode dis` subcommand.
func handleDisCommand(args []string, m *manifest.Manifest, stdin io.Reader, stdout io.Writer) error {
	mem, err := loadProgram(args, m, stdin)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, vm.Disassemble(mem))
	return nil
}

// runManifest runs whatever the manifest's [run] table describes.
func runManifest(ctx context.Context, m *manifest.Manifest, stdout io.Writer) error {
	mem, err := m.LoadProgram()
	if err != nil {
		return err
	}
	sched, err := m.Scheduler()
	if err != nil {
		return err
	}
	switch m.Run.Mode {
	case manifest.ModeAmplify, manifest.ModeFeedback:
		open := m.Run.Mode == manifest.ModeAmplify
		result, err := runLinked(ctx, mem, m.Phases(), vm.Word(m.Run.Signal), open, sched, m.Run.MemoryLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, result)
		return nil
	case manifest.ModeNetwork:
		cfg, err := m.NetworkConfig()
		if err != nil {
			return err
		}
		return runNetwork(ctx, mem, cfg, stdout)
	}
	out, _, err := runSingle(ctx, mem, m.Inputs(), sched, m.Run.MemoryLimit)
	if err != nil {
		return err
	}
	printWords(stdout, out)
	return nil
}

// runSingle runs mem on one engine with either scheduler.
func runSingle(ctx context.Context, mem *vm.Memory, inputs []vm.Word, sched circuit.Scheduler, limit int) ([]vm.Word, *vm.Memory, error) {
	if sched == circuit.Threads {
		return wire.Run(ctx, 0, mem, inputs, vm.WithMemoryLimit(limit))
	}
	x := coop.NewExecutor(coop.DefaultQueueCapacity)
	t := x.Spawn(0, mem)
	t.Machine().SetMemoryLimit(limit)
	x.Inject(x.Input(t), inputs...)
	col := x.Drain(t)
	if err := x.Run(ctx); err != nil {
		return nil, nil, err
	}
	return col.Words(), t.Memory(), nil
}

func runLinked(ctx context.Context, mem *vm.Memory, phases []vm.Word, signal vm.Word, open bool, sched circuit.Scheduler, limit int) (vm.Word, error) {
	build := circuit.Ring
	if open {
		build = circuit.Chain
	}
	topo, err := build(len(phases))
	if err != nil {
		return 0, err
	}
	l := &circuit.Linked{
		Program:     mem,
		Topology:    topo,
		Phases:      phases,
		Signal:      signal,
		Scheduler:   sched,
		MemoryLimit: limit,
	}
	return l.Run(ctx)
}

func runNetwork(ctx context.Context, mem *vm.Memory, cfg circuit.NetworkConfig, stdout io.Writer) error {
	nw, err := circuit.NewNetwork(mem, cfg)
	if err != nil {
		return err
	}
	res, err := nw.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "first %d %d\n", res.First.X, res.First.Y)
	fmt.Fprintf(stdout, "repeated %d %d after %d wakeups\n", res.Repeated.X, res.Repeated.Y, res.Wakeups)
	return nil
}

func pickScheduler(name string, m *manifest.Manifest) (circuit.Scheduler, error) {
	if name == "" && m != nil {
		return m.Scheduler()
	}
	return circuit.ParseScheduler(name)
}

func pickLimit(limit int, m *manifest.Manifest) int {
	if limit == 0 && m != nil {
		return m.Run.MemoryLimit
	}
	return limit
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func printWords(w io.Writer, words []vm.Word) {
	for _, word := range words {
		fmt.Fprintln(w, word)
	}
}
