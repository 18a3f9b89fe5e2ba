package wire

import (
	"context"

	"github.com/chazu/intcode/vm"
)

// Run executes mem on a single engine fed with inputs and returns everything
// it emitted together with the final memory.
func Run(ctx context.Context, id int, mem *vm.Memory, inputs []vm.Word, opts ...vm.Option) ([]vm.Word, *vm.Memory, error) {
	e := vm.NewEngine(id, mem, opts...).PipeInputsFrom(vm.Words(inputs...))
	drain := Drain(ctx, e)
	final, err := e.Execute(ctx)
	if err != nil {
		return nil, nil, err
	}
	out, err := drain.Wait(ctx)
	if err != nil {
		return nil, nil, err
	}
	return out, final, nil
}

// Stream executes mem on a single engine and forwards each output word to
// sink as it is produced.
func Stream(ctx context.Context, id int, mem *vm.Memory, inputs []vm.Word, sink vm.Sink, opts ...vm.Option) (*vm.Memory, error) {
	e := vm.NewEngine(id, mem, opts...).
		PipeInputsFrom(vm.Words(inputs...)).
		PipeOutputsTo(sink)
	return e.Execute(ctx)
}
