package errors

import "net/http"

// Error code constants returned by the HTTP API.

// Intake error codes.
const (
	CodeEnqueueFailed  = "ENQUEUE_FAILED"
	CodeInvalidEvent   = "INVALID_EVENT"
	CodeQueueStatsFail = "QUEUE_STATS_FAILED"
)

// Dead letter error codes.
const (
	CodeDeadLetterNotFound = "DEAD_LETTER_NOT_FOUND"
	CodeDeadLetterState    = "DEAD_LETTER_INVALID_STATE"
	CodeDeadLetterAction   = "DEAD_LETTER_ACTION_FAILED"
)

// Statistics error codes.
const (
	CodeRollingStatNotFound = "ROLLING_STAT_NOT_FOUND"
	CodeInvalidWindow       = "INVALID_WINDOW"
)

// Maintenance error codes.
const (
	CodeProcessorRunFailed = "PROCESSOR_RUN_FAILED"
	CodeRetentionFailed    = "RETENTION_SWEEP_FAILED"
	CodePartitionListFail  = "PARTITION_LIST_FAILED"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeValidationFailed    = "VALIDATION_FAILED"
)

// ErrInvalidRequestFieldf creates a bad request error for a malformed field.
func ErrInvalidRequestFieldf(fieldName string) *AppError {
	return &AppError{
		Code:       CodeInvalidRequestField,
		Message:    "request contains invalid field: " + fieldName,
		HTTPStatus: http.StatusBadRequest,
		Params:     map[string]interface{}{"field": fieldName},
	}
}

// ErrRollingStatNotFoundf reports a missing rolling statistic.
func ErrRollingStatNotFoundf(productID, warehouseID int64, recordType string) *AppError {
	return &AppError{
		Code:       CodeRollingStatNotFound,
		Message:    "no rolling statistics for product/warehouse",
		HTTPStatus: http.StatusNotFound,
		Params: map[string]interface{}{
			"product_id":   productID,
			"warehouse_id": warehouseID,
			"record_type":  recordType,
		},
	}
}
