package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "job not found"},
			want: "job not found",
		},
		{
			name: "error with cause",
			err:  &AppError{Code: ErrCodeInternal, Message: "failed to claim", Cause: errors.New("underlying error")},
			want: "failed to claim: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{name: "not found", err: NotFoundf("job %s not found", "j1"), fn: IsNotFound, want: true},
		{name: "wrapped conflict", err: fmt.Errorf("cancel: %w", Conflictf("job is terminal")), fn: IsConflict, want: true},
		{name: "validation", err: ValidationField("type", "invalid"), fn: IsValidation, want: true},
		{name: "timeout", err: Wrap(context.DeadlineExceeded, ErrCodeTimeout, "slow"), fn: IsTimeout, want: true},
		{name: "other code", err: Internalf("boom"), fn: IsNotFound, want: false},
		{name: "standard error", err: errors.New("standard"), fn: IsConflict, want: false},
		{name: "nil error", err: nil, fn: IsValidation, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "message"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestGetField(t *testing.T) {
	if got := GetField(ValidationField("max_attempts", "must be positive")); got != "max_attempts" {
		t.Errorf("GetField() = %q, want max_attempts", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField() = %q, want empty", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      Kind
		retryable bool
	}{
		{name: "nil", err: nil, want: "", retryable: false},
		{name: "validation", err: ValidationErrorf("missing %s", "name"), want: KindValidation},
		{name: "app validation", err: Validation("bad"), want: KindValidation},
		{name: "transient", err: Transient("screening backend", errors.New("503")), want: KindTransient, retryable: true},
		{name: "wrapped capability", err: fmt.Errorf("run: %w", CapabilityUnavailable("ocr")), want: KindCapabilityUnavailable},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindTimeout, retryable: true},
		{name: "unclassified", err: errors.New("connection reset"), want: KindTransient, retryable: true},
		{name: "conflict", err: ErrConcurrencyConflict, want: KindConcurrencyConflict, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(tt.err)
			if got != tt.want {
				t.Fatalf("KindOf() = %v, want %v", got, tt.want)
			}
			if got.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got.IsRetryable(), tt.retryable)
			}
		})
	}
}

func TestIsConcurrencyConflict(t *testing.T) {
	wrapped := fmt.Errorf("update job: %w", &JobError{Kind: KindConcurrencyConflict, Message: "version mismatch"})
	if !IsConcurrencyConflict(wrapped) {
		t.Error("expected wrapped conflict to match sentinel")
	}
	if IsConcurrencyConflict(Transient("x", nil)) {
		t.Error("transient error must not match conflict sentinel")
	}
	if !IsCapabilityUnavailable(CapabilityUnavailable("screening")) {
		t.Error("expected capability unavailable")
	}
}
