package server

import (
	"github.com/chazu/intcode/store"
	"github.com/chazu/intcode/vm"
)

// Procedure paths served by the intcode service.
const (
	ServiceName = "intcode.v1.IntcodeService"

	RunProcedure         = "/" + ServiceName + "/Run"
	RunFeedbackProcedure = "/" + ServiceName + "/RunFeedback"
	StreamProcedure      = "/" + ServiceName + "/Stream"
	ListRunsProcedure    = "/" + ServiceName + "/ListRuns"
	GetRunProcedure      = "/" + ServiceName + "/GetRun"
)

// RunRequest runs one program on one engine.
type RunRequest struct {
	Program     string  `json:"program"`
	Inputs      []int64 `json:"inputs,omitempty"`
	MemoryLimit int     `json:"memory_limit,omitempty"`
	// ReturnMemory asks for the final memory image in the response.
	ReturnMemory bool `json:"return_memory,omitempty"`
}

type RunResponse struct {
	RunID   string  `json:"run_id"`
	Outputs []int64 `json:"outputs"`
	Memory  []int64 `json:"memory,omitempty"`
}

// FeedbackRequest runs one engine per phase, linked in a ring, or in an
// open chain when Open is set.
type FeedbackRequest struct {
	Program     string  `json:"program"`
	Phases      []int64 `json:"phases"`
	Signal      int64   `json:"signal,omitempty"`
	Scheduler   string  `json:"scheduler,omitempty"`
	Open        bool    `json:"open,omitempty"`
	MemoryLimit int     `json:"memory_limit,omitempty"`
}

type FeedbackResponse struct {
	RunID  string `json:"run_id"`
	Signal int64  `json:"signal"`
}

// StreamMessage is one output word of a streamed run.
type StreamMessage struct {
	RunID  string `json:"run_id"`
	Index  int    `json:"index"`
	Output int64  `json:"output"`
}

type ListRunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

type GetRunRequest struct {
	RunID string `json:"run_id"`
}

// RunSummary is the wire form of a journalled run.
type RunSummary struct {
	RunID       string  `json:"run_id"`
	ProgramHash string  `json:"program_hash"`
	Mode        string  `json:"mode"`
	Status      string  `json:"status"`
	Inputs      []int64 `json:"inputs,omitempty"`
	Outputs     []int64 `json:"outputs,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedUnix int64   `json:"started_unix_ms"`
	DurationMs  int64   `json:"duration_ms"`
}

func summarize(r store.Run) RunSummary {
	return RunSummary{
		RunID:       r.ID,
		ProgramHash: r.ProgramHash,
		Mode:        r.Mode,
		Status:      r.Status,
		Inputs:      toInts(r.Inputs),
		Outputs:     toInts(r.Outputs),
		Error:       r.Error,
		StartedUnix: r.Started.UnixMilli(),
		DurationMs:  r.Duration.Milliseconds(),
	}
}

func toInts(ws []vm.Word) []int64 {
	out := make([]int64, len(ws))
	for i, w := range ws {
		out[i] = int64(w)
	}
	return out
}

func toWords(xs []int64) []vm.Word {
	out := make([]vm.Word, len(xs))
	for i, x := range xs {
		out[i] = vm.Word(x)
	}
	return out
}
