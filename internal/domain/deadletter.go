package domain

import (
	"time"

	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// DeadLetterState is the lifecycle of a dead letter entry.
type DeadLetterState string

const (
	DeadLetterPending      DeadLetterState = "pending"
	DeadLetterReprocessing DeadLetterState = "reprocessing"
	DeadLetterResolved     DeadLetterState = "resolved"
	DeadLetterDiscarded    DeadLetterState = "discarded"
)

// AllDeadLetterStates lists every state in a stable order.
var AllDeadLetterStates = []DeadLetterState{
	DeadLetterPending, DeadLetterReprocessing, DeadLetterResolved, DeadLetterDiscarded,
}

// Valid reports whether s is a known state.
func (s DeadLetterState) Valid() bool {
	for _, known := range AllDeadLetterStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether retention may sweep entries in this state.
func (s DeadLetterState) Terminal() bool {
	return s == DeadLetterResolved || s == DeadLetterDiscarded
}

// DeadLetterEntry is a snapshot of an event that could not be processed.
type DeadLetterEntry struct {
	ID                 string          `json:"id"`
	Event              RawEvent        `json:"event"`
	OriginalEnqueuedAt time.Time       `json:"original_enqueued_at"`
	RetryCount         int             `json:"retry_count"`
	FailedAt           time.Time       `json:"failed_at"`
	ErrorKind          apperrors.Kind  `json:"error_kind"`
	ErrorMessage       string          `json:"error_message"`
	State              DeadLetterState `json:"state"`
	BatchID            string          `json:"batch_id,omitempty"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Requeue returns the fresh event that reprocessing puts back on the queue.
func (e DeadLetterEntry) Requeue() RawEvent {
	ev := e.Event
	ev.ID = 0
	ev.EnqueuedAt = time.Time{}
	ev.RetryCount = e.RetryCount + 1
	ev.DeadLetterID = e.ID
	return ev
}

// DeadLetterFilter narrows dead letter listings. Zero values match all.
type DeadLetterFilter struct {
	Kind   apperrors.Kind
	State  DeadLetterState
	Limit  int
	Offset int
}

// DeadLetterStats counts entries by kind and state.
type DeadLetterStats map[apperrors.Kind]map[DeadLetterState]int64

// Total returns the number of entries across all kinds and states.
func (s DeadLetterStats) Total() int64 {
	var n int64
	for _, byState := range s {
		for _, c := range byState {
			n += c
		}
	}
	return n
}

// Add increments the counter for kind/state.
func (s DeadLetterStats) Add(kind apperrors.Kind, state DeadLetterState, n int64) {
	byState, ok := s[kind]
	if !ok {
		byState = map[DeadLetterState]int64{}
		s[kind] = byState
	}
	byState[state] += n
}
