package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ProcessValidationErrors flattens binding failures into a field->tag
// map for the response body.
func ProcessValidationErrors(err error) map[string]string {

	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["error"] = err.Error()
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

// MonthBucket derives the reporting month ("2006-01") a timestamp falls
// into. Scan history rows and the dashboard group by this value.
func MonthBucket(t time.Time) string {
	return t.Format("2006-01")
}

func CurrentMonthBucket() string {
	return MonthBucket(time.Now())
}

func IsValidMonthBucket(s string) bool {
	_, err := time.Parse("2006-01", s)
	return err == nil
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}

// SplitAndTrim splits on sep, trims each piece and drops empties.
func SplitAndTrim(s string, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
