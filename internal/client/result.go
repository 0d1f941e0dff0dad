package client

import "fmt"

// DegradedID marks fallback payloads so they can never be mistaken for real records.
const DegradedID = -1

// Outcome classifies a remote read.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unavailable"
	}
}

// Degraded describes why a remote read fell back.
type Degraded struct {
	ID      int    `json:"id"`
	Service string `json:"service"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Result is a tagged remote read. Value is only meaningful when Outcome is OutcomeOK.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	Degraded *Degraded
	Err      error
}

// OK reports whether Value holds real data.
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeOK
}

func found[T any](v T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Value: v}
}

func notFound[T any]() Result[T] {
	return Result[T]{Outcome: OutcomeNotFound}
}

func degraded[T any](fallback T, service, reason string, err error) Result[T] {
	return Result[T]{
		Outcome: OutcomeUnavailable,
		Value:   fallback,
		Degraded: &Degraded{
			ID:      DegradedID,
			Service: service,
			Message: fmt.Sprintf("%s service is temporarily unavailable", service),
			Reason:  reason,
		},
		Err: err,
	}
}

// WriteOutcome classifies a remote write.
type WriteOutcome int

const (
	WriteOK WriteOutcome = iota
	WriteNotFound
	WriteRejected
	WriteUnavailable
)

func (o WriteOutcome) String() string {
	switch o {
	case WriteOK:
		return "ok"
	case WriteNotFound:
		return "not_found"
	case WriteRejected:
		return "rejected"
	default:
		return "unavailable"
	}
}

// WriteResult is the outcome of a remote write.
type WriteResult struct {
	Outcome    WriteOutcome
	StatusCode int
	Err        error
}

// Retryable reports whether repeating the same write might succeed.
func (w WriteResult) Retryable() bool {
	return w.Outcome == WriteUnavailable
}
