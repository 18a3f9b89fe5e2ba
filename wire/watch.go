package wire

import (
	"context"
	"sync/atomic"

	"github.com/chazu/intcode/vm"
)

// Watch is a latest-value cell: one writer publishes, any number of readers
// observe the most recent word without blocking. It is a vm.Sink for the
// writing engine and a vm.Source for polling engines.
type Watch struct {
	value   atomic.Int64
	version atomic.Uint64
}

// NewWatch returns a Watch holding initial.
func NewWatch(initial vm.Word) *Watch {
	w := &Watch{}
	w.value.Store(int64(initial))
	return w
}

// Store publishes v.
func (w *Watch) Store(v vm.Word) {
	w.value.Store(int64(v))
	w.version.Add(1)
}

// Load returns the latest published word.
func (w *Watch) Load() vm.Word {
	return vm.Word(w.value.Load())
}

// Version counts Store calls. Readers compare versions to detect change.
func (w *Watch) Version() uint64 {
	return w.version.Load()
}

// Send implements vm.Sink.
func (w *Watch) Send(ctx context.Context, v vm.Word) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.Store(v)
	return nil
}

// Recv implements vm.Source. It never blocks.
func (w *Watch) Recv(ctx context.Context) (vm.Word, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return w.Load(), nil
}
