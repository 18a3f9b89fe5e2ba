// Package wire connects blocking engines with pipes. Each helper attaches
// ports to engines that have not started yet; the caller then runs every
// engine on its own goroutine.
package wire

import (
	"context"
	"errors"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/intcode/vm"
)

var log = commonlog.GetLogger("intcode.wire")

// Pipe connects src's output to dst's input and returns an extra sender
// handle for injecting words ahead of src. The caller must Close the
// returned handle, or dst never sees end of input.
func Pipe(src, dst *vm.Engine) *vm.Sender {
	tx, rx := vm.NewPipe(vm.DefaultPipeCapacity)
	src.PipeOutputsTo(tx)
	dst.PipeInputsFrom(rx)
	return tx.Clone()
}

// Input gives e a fresh input pipe and returns its sender.
func Input(e *vm.Engine) *vm.Sender {
	tx, rx := vm.NewPipe(vm.DefaultPipeCapacity)
	e.PipeInputsFrom(rx)
	return tx
}

// Inject sends words on tx in order and then closes it.
func Inject(ctx context.Context, tx *vm.Sender, words ...vm.Word) error {
	defer tx.Close()
	for _, w := range words {
		if err := tx.Send(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tee: relay that remembers the last value
// ---------------------------------------------------------------------------

// Tee relays every word from one engine to another and remembers the last
// word seen. Once the downstream engine hangs up the relay keeps draining
// its input, so the upstream engine can still finish cleanly.
type Tee struct {
	in     *vm.Receiver
	out    *vm.Sender
	inject *vm.Sender
	done   chan struct{}

	mu    sync.Mutex
	last  vm.Word
	seen  bool
	count int
	err   error
}

// Buffer connects src to dst through a relay goroutine and returns it. The
// relay stops when src's output closes or ctx is done.
func Buffer(ctx context.Context, src, dst *vm.Engine) *Tee {
	upTx, upRx := vm.NewPipe(vm.DefaultPipeCapacity)
	downTx, downRx := vm.NewPipe(vm.DefaultPipeCapacity)
	src.PipeOutputsTo(upTx)
	dst.PipeInputsFrom(downRx)

	t := &Tee{
		in:     upRx,
		out:    downTx,
		inject: downTx.Clone(),
		done:   make(chan struct{}),
	}
	go t.relay(ctx)
	return t
}

// Injector returns the sender for words that dst should see before any
// relayed value. The caller must Close it.
func (t *Tee) Injector() *vm.Sender {
	return t.inject
}

func (t *Tee) relay(ctx context.Context) {
	defer close(t.done)
	defer t.out.Close()
	defer t.in.Hangup()

	forwarding := true
	for {
		w, err := t.in.Recv(ctx)
		if err != nil {
			if !errors.Is(err, vm.ErrPortClosed) {
				t.mu.Lock()
				t.err = err
				t.mu.Unlock()
			}
			return
		}
		t.mu.Lock()
		t.last = w
		t.seen = true
		t.count++
		t.mu.Unlock()

		if !forwarding {
			continue
		}
		if err := t.out.Send(ctx, w); err != nil {
			log.Debug("tee downstream gone", "word", int64(w), "reason", err.Error())
			forwarding = false
		}
	}
}

// Wait blocks until the relay stops.
func (t *Tee) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last returns the most recent relayed word. ok is false if nothing passed
// through.
func (t *Tee) Last() (w vm.Word, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.seen
}

// Count returns how many words passed through.
func (t *Tee) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// ---------------------------------------------------------------------------
// Drain: collect everything an engine emits
// ---------------------------------------------------------------------------

// Collector gathers all of an engine's output.
type Collector struct {
	done  chan struct{}
	words []vm.Word
	err   error
}

// Drain attaches a Collector to e's output. Collection stops when e's output
// closes or ctx is done.
func Drain(ctx context.Context, e *vm.Engine) *Collector {
	tx, rx := vm.NewPipe(vm.DefaultPipeCapacity)
	e.PipeOutputsTo(tx)
	d := &Collector{done: make(chan struct{})}
	go d.collect(ctx, rx)
	return d
}

func (d *Collector) collect(ctx context.Context, rx *vm.Receiver) {
	defer close(d.done)
	defer rx.Hangup()
	for {
		w, err := rx.Recv(ctx)
		if err != nil {
			if !errors.Is(err, vm.ErrPortClosed) {
				d.err = err
			}
			return
		}
		d.words = append(d.words, w)
	}
}

// Wait returns the collected words, in order, once the engine's output has
// closed.
func (d *Collector) Wait(ctx context.Context) ([]vm.Word, error) {
	select {
	case <-d.done:
		return d.words, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
