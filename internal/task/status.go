// status.go defines the task kinds, their statuses, and the transition table
// every store update is checked against.
package task

import "fmt"

// Kind identifies one of the three independently tracked task families.
type Kind string

const (
	KindCodeDiff    Kind = "code_diff"
	KindRequirement Kind = "requirement_parse"
	KindPipeline    Kind = "pipeline"
)

// Kinds lists every task kind in display order.
var Kinds = []Kind{KindCodeDiff, KindRequirement, KindPipeline}

// ParseKind accepts the canonical kind names plus the short "requirement" alias.
func ParseKind(s string) (Kind, error) {
	switch s {
	case string(KindCodeDiff), "code-diff":
		return KindCodeDiff, nil
	case string(KindRequirement), "requirement":
		return KindRequirement, nil
	case string(KindPipeline):
		return KindPipeline, nil
	}
	return "", fmt.Errorf("%w: unknown task kind %q", ErrInvalidInput, s)
}

// StepsTotal is the fixed number of progress checkpoints a run of the kind
// reports. It only drives the progress bar.
func (k Kind) StepsTotal() int {
	switch k {
	case KindCodeDiff:
		return 1
	case KindRequirement:
		return 4
	case KindPipeline:
		return 5
	}
	return 0
}

// Status is the lifecycle state of a task record.
//
// Lifecycle: pending -> processing|queued -> running -> completed | failed
//
//	any non-terminal -> cancelled
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing" // dispatched code-diff / requirement task
	StatusQueued     Status = "queued"     // dispatched pipeline task
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no worker will touch a task in this status again
// without a fresh dispatch.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusProcessing, StatusQueued, StatusRunning:
		return false
	}
	return false
}

// InFlight reports whether a dispatch owns the task right now.
func (s Status) InFlight() bool {
	switch s {
	case StatusProcessing, StatusQueued, StatusRunning:
		return true
	case StatusPending, StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	return false
}

// Statuses returns every status a task of kind k can hold, in lifecycle order.
func Statuses(k Kind) []Status {
	return []Status{StatusPending, DispatchStatus(k), StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
}

// Valid reports whether s belongs to the state machine of kind k.
func (s Status) Valid(k Kind) bool {
	for _, st := range Statuses(k) {
		if st == s {
			return true
		}
	}
	return false
}

// DispatchStatus is the status a task enters when it is handed to the queue.
// Pipelines are "queued"; the two input kinds are "processing".
func DispatchStatus(k Kind) Status {
	if k == KindPipeline {
		return StatusQueued
	}
	return StatusProcessing
}

// DispatchableFrom lists the statuses a new dispatch may start from. Re-runs
// of completed or failed tasks are allowed and produce a new execution record;
// cancelled is final.
func DispatchableFrom(Kind) []Status {
	return []Status{StatusPending, StatusFailed, StatusCompleted}
}

// StartableFrom lists the statuses a worker may flip to running. A first
// delivery must find the dispatch status; a retry delivery (same dispatch)
// may also find the task failed by the previous attempt, or still running
// when the previous worker died and the queue lease expired.
func StartableFrom(k Kind, redelivery bool) []Status {
	if redelivery {
		return []Status{DispatchStatus(k), StatusFailed, StatusRunning}
	}
	return []Status{DispatchStatus(k)}
}

// CancellableFrom lists every non-terminal status of kind k.
func CancellableFrom(k Kind) []Status {
	return []Status{StatusPending, DispatchStatus(k), StatusRunning}
}

// CanTransition encodes the normal (first delivery) state machine.
func CanTransition(k Kind, from, to Status) bool {
	if !from.Valid(k) || !to.Valid(k) {
		return false
	}
	switch to {
	case DispatchStatus(k):
		return contains(DispatchableFrom(k), from)
	case StatusRunning:
		return from == DispatchStatus(k)
	case StatusCompleted:
		return from == StatusRunning
	case StatusFailed:
		// A dispatch whose enqueue failed never reaches running.
		return from == StatusRunning || from == DispatchStatus(k)
	case StatusCancelled:
		return !from.Terminal()
	case StatusPending:
		return false
	}
	return false
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PipelineType discriminates what a pipeline asks the model to produce.
type PipelineType string

const (
	PipelineCodeReview     PipelineType = "code_review"
	PipelineTestGeneration PipelineType = "test_generation"
	PipelineDocumentation  PipelineType = "documentation"
	PipelineOther          PipelineType = "other"
)

// Valid reports whether t is one of the known pipeline types.
func (t PipelineType) Valid() bool {
	switch t {
	case PipelineCodeReview, PipelineTestGeneration, PipelineDocumentation, PipelineOther:
		return true
	}
	return false
}
