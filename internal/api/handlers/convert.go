package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// eventRequest is the producer wire shape. event_date accepts YYYY-MM-DD or
// an RFC 3339 timestamp.
type eventRequest struct {
	ProductID      int64   `json:"product_id"`
	WarehouseID    int64   `json:"warehouse_id"`
	Quantity       float64 `json:"quantity"`
	EventDate      string  `json:"event_date"`
	RecordType     string  `json:"record_type"`
	IsLegacySource bool    `json:"is_legacy_source"`
	SourceRef      string  `json:"source_ref"`
}

// idsRequest is the body of the dead letter actions.
type idsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// decodeEvents accepts a single object or an array.
func decodeEvents(body []byte) ([]eventRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, apperrors.BadRequest(apperrors.CodeValidationFailed, "request body is empty")
	}
	if body[0] == '[' {
		var reqs []eventRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeValidationFailed, "malformed event array", http.StatusBadRequest)
		}
		return reqs, nil
	}
	var req eventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeValidationFailed, "malformed event", http.StatusBadRequest)
	}
	return []eventRequest{req}, nil
}

func (r eventRequest) toDomain(index int) (domain.RawEvent, error) {
	date, err := parseEventDate(r.EventDate)
	if err != nil {
		return domain.RawEvent{}, apperrors.ErrInvalidRequestFieldf("event_date").
			WithParams(map[string]interface{}{"field": "event_date", "index": index})
	}
	return domain.RawEvent{
		ProductID:      r.ProductID,
		WarehouseID:    r.WarehouseID,
		Quantity:       r.Quantity,
		EventDate:      date,
		RecordType:     domain.RecordType(r.RecordType),
		IsLegacySource: r.IsLegacySource,
		SourceRef:      r.SourceRef,
	}, nil
}

func parseEventDate(s string) (time.Time, error) {
	if d, err := domain.ParseDay(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return domain.Day(t), nil
}

func queryInt(raw, field string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ErrInvalidRequestFieldf(field)
	}
	return v, nil
}

func pathID(raw, field string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, apperrors.ErrInvalidRequestFieldf(field)
	}
	return v, nil
}
