package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a pipeline failure. The string values are persisted as
// dead-letter error kinds.
type Kind string

const (
	// KindTransient: storage unavailable or contended; the batch is retried on the next run.
	KindTransient Kind = "transient_storage_error"
	// KindReferential: referenced product or warehouse does not exist.
	KindReferential Kind = "referential_error"
	// KindValidation: malformed event shape.
	KindValidation Kind = "validation_error"
	// KindRuleEngineTimeout: the reorder rule engine did not answer in time.
	KindRuleEngineTimeout Kind = "rule_engine_timeout"
	// KindUnclassified: anything else; the whole batch is deferred to dead letter.
	KindUnclassified Kind = "database_error"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{KindTransient, KindReferential, KindValidation, KindRuleEngineTimeout, KindUnclassified}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// AutoRetryable reports whether dead letters of this kind may be re-enqueued
// without operator action.
func (k Kind) AutoRetryable() bool {
	return k == KindTransient || k == KindUnclassified
}

// PipelineError attaches a Kind and the failing operation to a cause.
type PipelineError struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient storage failure.
func Transient(op string, err error) error {
	return &PipelineError{Kind: KindTransient, Op: op, Err: err}
}

// Referential reports a missing referenced entity.
func Referential(op string, err error) error {
	return &PipelineError{Kind: KindReferential, Op: op, Err: err}
}

// Validation reports a malformed event.
func Validation(op string, err error) error {
	return &PipelineError{Kind: KindValidation, Op: op, Err: err}
}

// RuleEngineTimeout reports a timed out rule evaluation.
func RuleEngineTimeout(op string, err error) error {
	return &PipelineError{Kind: KindRuleEngineTimeout, Op: op, Err: err}
}

// PostgreSQL SQLSTATE classes and codes that indicate a retryable condition.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// KindOf classifies err. Explicit PipelineErrors keep their kind; PostgreSQL
// connection-level and contention errors are transient; everything else is
// unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientSQLStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08") {
			return KindTransient
		}
		return KindUnclassified
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnclassified
}

// IsTransient reports whether err should be retried on the next run.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
