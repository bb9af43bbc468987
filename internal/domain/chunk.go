package domain

import "time"

type TaskChunk[T any] struct {
	Index int
	Items []T
}

// ChunkState is the lifecycle of one chunk inside a run:
// Pending -> Assigning -> Executing -> {Succeeded | Retrying -> Assigning | Failed}.
type ChunkState string

const (
	ChunkPending   ChunkState = "pending"
	ChunkAssigning ChunkState = "assigning"
	ChunkExecuting ChunkState = "executing"
	ChunkRetrying  ChunkState = "retrying"
	ChunkSucceeded ChunkState = "succeeded"
	ChunkFailed    ChunkState = "failed"
)

func (s ChunkState) Terminal() bool {
	return s == ChunkSucceeded || s == ChunkFailed
}

type ChunkFailure struct {
	Class  FailureClass `json:"class"`
	Reason string       `json:"reason"`
}

func (f ChunkFailure) Err() error {
	return f.Class.sentinel()
}

type ChunkResult struct {
	Index    int           `json:"index"`
	Items    int           `json:"items"`
	State    ChunkState    `json:"state"`
	Records  []Record      `json:"records,omitempty"`
	Failure  *ChunkFailure `json:"failure,omitempty"`
	Attempts int           `json:"attempts"`
	Account  string        `json:"account,omitempty"`
	Proxy    string        `json:"proxy,omitempty"`
}

func (r ChunkResult) Succeeded() bool {
	return r.State == ChunkSucceeded
}

type RunStatus string

const (
	RunSucceeded          RunStatus = "succeeded"
	RunPartiallySucceeded RunStatus = "partially_succeeded"
	RunFailed             RunStatus = "failed"
	RunCancelled          RunStatus = "cancelled"
)

type RunReport struct {
	ID         string        `json:"id"`
	Platform   Platform      `json:"platform"`
	Kind       JobKind       `json:"kind"`
	Status     RunStatus     `json:"status"`
	Results    []ChunkResult `json:"results"`
	Records    []Record      `json:"records"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Summarize derives the overall status and merges records in chunk order.
// A cancelled run stays cancelled whatever its chunks did.
func (r *RunReport) Summarize(cancelled bool) {
	records := make([]Record, 0)
	succeeded := 0
	for _, result := range r.Results {
		if result.Succeeded() {
			succeeded++
			records = append(records, result.Records...)
		}
	}
	r.Records = records

	switch {
	case cancelled:
		r.Status = RunCancelled
	case succeeded == len(r.Results):
		r.Status = RunSucceeded
	case succeeded == 0:
		r.Status = RunFailed
	default:
		r.Status = RunPartiallySucceeded
	}
}

func (r RunReport) Failures() []ChunkResult {
	failed := make([]ChunkResult, 0)
	for _, result := range r.Results {
		if !result.Succeeded() {
			failed = append(failed, result)
		}
	}
	return failed
}
