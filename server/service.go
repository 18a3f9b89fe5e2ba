package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/intcode/circuit"
	"github.com/chazu/intcode/coop"
	"github.com/chazu/intcode/store"
	"github.com/chazu/intcode/vm"
	"github.com/chazu/intcode/wire"
)

// Service implements the intcode Connect handlers.
type Service struct {
	pool        *Pool
	runs        *store.RunStore
	timeout     time.Duration
	memoryLimit int
}

// NewService creates a Service. runs may be nil to disable the journal.
func NewService(pool *Pool, runs *store.RunStore, timeout time.Duration, memoryLimit int) *Service {
	return &Service{
		pool:        pool,
		runs:        runs,
		timeout:     timeout,
		memoryLimit: memoryLimit,
	}
}

type runResult struct {
	out []vm.Word
	mem *vm.Memory
}

// Run executes a program on a single engine.
func (s *Service) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	mem, err := parseProgram(req.Msg.Program)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	inputs := toWords(req.Msg.Inputs)
	limit := s.limit(req.Msg.MemoryLimit)
	started := time.Now()

	v, err := s.do(ctx, func(ctx context.Context) (any, error) {
		out, final, err := wire.Run(ctx, 0, mem.Clone(), inputs, vm.WithMemoryLimit(limit))
		if err != nil {
			return nil, err
		}
		return runResult{out: out, mem: final}, nil
	})
	res, _ := v.(runResult)
	s.record(ctx, store.Run{
		ID:          id,
		ProgramHash: store.ProgramHash(mem),
		Mode:        "run",
		Inputs:      inputs,
		Outputs:     res.out,
		Started:     started,
		Duration:    time.Since(started),
	}, err)
	if err != nil {
		return nil, toConnectError(err)
	}

	resp := &RunResponse{RunID: id, Outputs: toInts(res.out)}
	if req.Msg.ReturnMemory {
		resp.Memory = toInts(res.mem.Words())
	}
	return connect.NewResponse(resp), nil
}

// RunFeedback runs a linked circuit and returns its final signal.
func (s *Service) RunFeedback(
	ctx context.Context,
	req *connect.Request[FeedbackRequest],
) (*connect.Response[FeedbackResponse], error) {
	mem, err := parseProgram(req.Msg.Program)
	if err != nil {
		return nil, err
	}
	sched, err := circuit.ParseScheduler(req.Msg.Scheduler)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	build, mode := circuit.Ring, "feedback"
	if req.Msg.Open {
		build, mode = circuit.Chain, "amplify"
	}
	topo, err := build(len(req.Msg.Phases))
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	l := &circuit.Linked{
		Program:     mem,
		Topology:    topo,
		Phases:      toWords(req.Msg.Phases),
		Signal:      vm.Word(req.Msg.Signal),
		Scheduler:   sched,
		MemoryLimit: s.limit(req.Msg.MemoryLimit),
	}
	id := uuid.NewString()
	started := time.Now()

	v, err := s.do(ctx, func(ctx context.Context) (any, error) {
		return l.Run(ctx)
	})
	signal, _ := v.(vm.Word)
	run := store.Run{
		ID:          id,
		ProgramHash: store.ProgramHash(mem),
		Mode:        mode,
		Inputs:      append(toWords(req.Msg.Phases), vm.Word(req.Msg.Signal)),
		Started:     started,
		Duration:    time.Since(started),
	}
	if err == nil {
		run.Outputs = []vm.Word{signal}
	}
	s.record(ctx, run, err)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FeedbackResponse{RunID: id, Signal: int64(signal)}), nil
}

// sinkFunc adapts a function to vm.Sink.
type sinkFunc func(context.Context, vm.Word) error

func (f sinkFunc) Send(ctx context.Context, w vm.Word) error { return f(ctx, w) }

// Stream executes a program and sends each output word as it is produced.
func (s *Service) Stream(
	ctx context.Context,
	req *connect.Request[RunRequest],
	stream *connect.ServerStream[StreamMessage],
) error {
	mem, err := parseProgram(req.Msg.Program)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	inputs := toWords(req.Msg.Inputs)
	limit := s.limit(req.Msg.MemoryLimit)
	started := time.Now()

	// Only the worker goroutine touches outputs until do returns.
	var outputs []vm.Word
	sink := sinkFunc(func(_ context.Context, w vm.Word) error {
		msg := &StreamMessage{RunID: id, Index: len(outputs), Output: int64(w)}
		outputs = append(outputs, w)
		return stream.Send(msg)
	})
	_, err = s.do(ctx, func(ctx context.Context) (any, error) {
		return wire.Stream(ctx, 0, mem.Clone(), inputs, sink, vm.WithMemoryLimit(limit))
	})
	s.record(ctx, store.Run{
		ID:          id,
		ProgramHash: store.ProgramHash(mem),
		Mode:        "stream",
		Inputs:      inputs,
		Outputs:     outputs,
		Started:     started,
		Duration:    time.Since(started),
	}, err)
	if err != nil {
		return toConnectError(err)
	}
	return nil
}

// ListRuns returns the most recent journalled runs.
func (s *Service) ListRuns(
	ctx context.Context,
	req *connect.Request[ListRunsRequest],
) (*connect.Response[ListRunsResponse], error) {
	if s.runs == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("run journal is disabled"))
	}
	runs, err := s.runs.List(ctx, req.Msg.Limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := &ListRunsResponse{Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, summarize(r))
	}
	return connect.NewResponse(resp), nil
}

// GetRun returns one journalled run.
func (s *Service) GetRun(
	ctx context.Context,
	req *connect.Request[GetRunRequest],
) (*connect.Response[RunSummary], error) {
	if s.runs == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("run journal is disabled"))
	}
	if req.Msg.RunID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("run_id is required"))
	}
	r, err := s.runs.Get(ctx, req.Msg.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %q not found", req.Msg.RunID))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	summary := summarize(r)
	return connect.NewResponse(&summary), nil
}

func (s *Service) do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.pool.Do(ctx, fn)
}

// limit lets a request tighten, but never lift, the server's memory limit.
func (s *Service) limit(requested int) int {
	if s.memoryLimit > 0 && (requested <= 0 || requested > s.memoryLimit) {
		return s.memoryLimit
	}
	return requested
}

func (s *Service) record(ctx context.Context, r store.Run, err error) {
	if s.runs == nil {
		return
	}
	r.Status = store.StatusOK
	if err != nil {
		r.Status = store.StatusFailed
		r.Error = err.Error()
	}
	if rerr := s.runs.Record(context.WithoutCancel(ctx), r); rerr != nil {
		log.Warning("could not record run", "run", r.ID, "error", rerr.Error())
	}
}

func parseProgram(text string) (*vm.Memory, error) {
	if strings.TrimSpace(text) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program is required"))
	}
	mem, err := vm.ParseMemory(text)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return mem, nil
}

func toConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}
	return connect.NewError(errorCode(err), err)
}

func errorCode(err error) connect.Code {
	var ee *vm.ExecutionError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, vm.ErrMalformedProgram), errors.Is(err, circuit.ErrTopology):
		return connect.CodeInvalidArgument
	case errors.As(err, &ee), errors.Is(err, coop.ErrDeadlock), errors.Is(err, circuit.ErrNoSignal):
		return connect.CodeAborted
	case errors.Is(err, ErrPoolStopped):
		return connect.CodeUnavailable
	}
	return connect.CodeInternal
}
