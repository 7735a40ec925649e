// Package eventlog is the append-only audit trail of processed events,
// segmented by event date. Retention drops whole days.
package eventlog

import (
	"context"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
)

// Batch tags the records written by one processor batch.
type Batch struct {
	ID               string
	ProcessedAt      time.Time
	ProcessingTimeMS int64
}

// Partition describes one day segment.
type Partition struct {
	Name string    `json:"name"`
	Date time.Time `json:"date"`
	Rows int64     `json:"rows"`
}

// Log is the event log contract.
type Log interface {
	// LogEvents appends events tagged with batch and returns how many were
	// written. Missing day segments are created on demand.
	LogEvents(ctx context.Context, events []domain.RawEvent, batch Batch) (int, error)

	// EnsurePartitionExists creates the segment of date if absent.
	EnsurePartitionExists(ctx context.Context, date time.Time) error

	// DropPartitionsOlderThan drops every segment dated before today-days
	// and returns the dropped names. Nothing to drop is not an error.
	DropPartitionsOlderThan(ctx context.Context, days int) ([]string, error)

	// ListPartitions returns the segments ordered by date.
	ListPartitions(ctx context.Context) ([]Partition, error)

	// Count returns the number of records with from <= event_date <= to.
	Count(ctx context.Context, from, to time.Time) (int64, error)
}

// PartitionName is the segment name of date.
func PartitionName(date time.Time) string {
	return "stock_event_log_p" + domain.Day(date).Format("20060102")
}

// ParsePartitionName returns the date encoded in a segment name.
func ParsePartitionName(name string) (time.Time, bool) {
	const prefix = "stock_event_log_p"
	if len(name) != len(prefix)+8 || name[:len(prefix)] != prefix {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102", name[len(prefix):], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Records converts events into log records.
func Records(events []domain.RawEvent, batch Batch) []domain.EventLogRecord {
	out := make([]domain.EventLogRecord, len(events))
	for i, ev := range events {
		ev.EventDate = domain.Day(ev.EventDate)
		out[i] = domain.EventLogRecord{
			RawEvent:         ev,
			ProcessedAt:      batch.ProcessedAt.UTC(),
			BatchID:          batch.ID,
			ProcessingTimeMS: batch.ProcessingTimeMS,
		}
	}
	return out
}

func cutoff(now time.Time, days int) time.Time {
	return domain.Day(now).AddDate(0, 0, -days)
}

func distinctDays(events []domain.RawEvent) []time.Time {
	seen := map[time.Time]struct{}{}
	var out []time.Time
	for _, ev := range events {
		d := domain.Day(ev.EventDate)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
