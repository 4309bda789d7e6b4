// Package errors derives low-cardinality error classes for metric tags and logs.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"

	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// Classify returns a normalized error class. Job failures report their failure kind,
// application errors their code, and anything else the innermost concrete type name.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var jobErr *apperrors.JobError
	if goerrors.As(err, &jobErr) {
		return string(jobErr.Kind)
	}
	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		return string(appErr.Code)
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
