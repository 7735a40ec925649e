// Package domain defines the records that flow through the demand pipeline.
package domain

import (
	"fmt"
	"time"
)

// RecordType distinguishes the two demand flows.
type RecordType string

const (
	RecordSale     RecordType = "sale"
	RecordTransfer RecordType = "transfer"
	// RecordCombined merges sale and transfer totals for hybrid warehouses.
	// It only exists on rolling statistics, never on raw events.
	RecordCombined RecordType = "combined"
)

// EventRecordTypes are the record types a RawEvent may carry.
var EventRecordTypes = []RecordType{RecordSale, RecordTransfer}

// Valid reports whether r is a raw event record type.
func (r RecordType) Valid() bool {
	return r == RecordSale || r == RecordTransfer
}

// ValidStat reports whether r may key a rolling statistic.
func (r RecordType) ValidStat() bool {
	return r.Valid() || r == RecordCombined
}

// RawEvent is one sale-summary or transfer-line commit waiting in the intake
// queue. It is immutable once enqueued.
type RawEvent struct {
	// ID is the queue sequence, assigned on enqueue. Zero before.
	ID             int64      `json:"id"`
	ProductID      int64      `json:"product_id" validate:"gt=0"`
	WarehouseID    int64      `json:"warehouse_id" validate:"gt=0"`
	Quantity       float64    `json:"quantity" validate:"finite"`
	EventDate      time.Time  `json:"event_date" validate:"nonzerotime"`
	RecordType     RecordType `json:"record_type" validate:"oneof=sale transfer"`
	IsLegacySource bool       `json:"is_legacy_source"`
	SourceRef      string     `json:"source_ref" validate:"max=255"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`

	// RetryCount is the number of times this event was re-enqueued, from
	// the dead letter store or after a transient batch failure.
	RetryCount int `json:"retry_count"`
	// DeadLetterID links a re-enqueued copy to its dead letter entry.
	DeadLetterID string `json:"dead_letter_id,omitempty"`
}

// Pair returns the product/warehouse pair the event belongs to.
func (e RawEvent) Pair() Pair {
	return Pair{ProductID: e.ProductID, WarehouseID: e.WarehouseID}
}

// Pair identifies demand of one product at one warehouse.
type Pair struct {
	ProductID   int64 `json:"product_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// String implements fmt.Stringer.
func (p Pair) String() string {
	return fmt.Sprintf("%d@%d", p.ProductID, p.WarehouseID)
}

// Less orders pairs by product, then warehouse.
func (p Pair) Less(o Pair) bool {
	if p.ProductID != o.ProductID {
		return p.ProductID < o.ProductID
	}
	return p.WarehouseID < o.WarehouseID
}

// DateLayout is the wire and partition date format.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// EventLogRecord is the audit copy of a processed event.
type EventLogRecord struct {
	RawEvent
	ProcessedAt      time.Time `json:"processed_at"`
	BatchID          string    `json:"batch_id"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
}

// QueueStats is an on-demand snapshot of the intake queue.
type QueueStats struct {
	Count            int64           `json:"count"`
	OldestAgeSeconds float64         `json:"oldest_age_seconds"`
	AvgAgeSeconds    float64         `json:"avg_age_seconds"`
	ByWarehouse      map[int64]int64 `json:"by_warehouse"`
}
