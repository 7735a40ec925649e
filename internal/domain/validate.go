package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
)

// eventValidate is shared; validator caches struct metadata per instance.
var eventValidate *validator.Validate

func init() {
	eventValidate = validator.New()
	_ = eventValidate.RegisterValidation("finite", validateFinite)
	_ = eventValidate.RegisterValidation("nonzerotime", validateNonZeroTime)
}

func validateFinite(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func validateNonZeroTime(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	return ok && !t.IsZero()
}

// ValidateEvent checks the shape of e. The returned error is classified as
// apperrors.KindValidation.
func ValidateEvent(e RawEvent) error {
	err := eventValidate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("validate event", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return apperrors.Validation("validate event", errors.New(strings.Join(parts, "; ")))
}
