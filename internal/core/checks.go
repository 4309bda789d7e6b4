package core

import (
	"context"
	"encoding/json"

	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// CheckKind names an external verification capability.
type CheckKind string

const (
	CheckIdentity             CheckKind = "identity"
	CheckScreening            CheckKind = "screening"
	CheckDocumentOCR          CheckKind = "document_ocr"
	CheckDocumentVerification CheckKind = "document_verification"
)

// CheckRequest is handed to an external check.
type CheckRequest struct {
	Kind      CheckKind       `json:"kind"`
	JobID     string          `json:"job_id"`
	SubjectID string          `json:"subject_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ExternalCheck is a black-box verification backend. Implementations return
// apperrors.Transient for retryable outages and apperrors.ValidationErrorf for rejected input.
type ExternalCheck interface {
	Run(ctx context.Context, req CheckRequest) (json.RawMessage, error)
}

// CheckFunc adapts a function to ExternalCheck.
type CheckFunc func(ctx context.Context, req CheckRequest) (json.RawMessage, error)

// Run calls f.
func (f CheckFunc) Run(ctx context.Context, req CheckRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

// Checks is the capability table processors draw from.
type Checks map[CheckKind]ExternalCheck

// Run dispatches req to the configured check or reports the capability as unavailable.
func (c Checks) Run(ctx context.Context, req CheckRequest) (json.RawMessage, error) {
	check, ok := c[req.Kind]
	if !ok || check == nil {
		return nil, apperrors.CapabilityUnavailable(string(req.Kind))
	}
	return check.Run(ctx, req)
}
