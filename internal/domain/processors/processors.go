// Package processors turns a claimed job's input into its output.
// Processors know nothing about queues or persistence; the dispatcher owns both.
package processors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// Processor executes one job type.
type Processor interface {
	Process(ctx context.Context, job *model.Job) (json.RawMessage, error)
}

// Func adapts a function to Processor.
type Func func(ctx context.Context, job *model.Job) (json.RawMessage, error)

// Process calls f.
func (f Func) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	return f(ctx, job)
}

// Deps are the collaborators processors may call.
type Deps struct {
	Checks core.Checks
	Clock  core.Clock
	Rules  core.RuleRepository
	Risk   core.RiskAssessor
}

// ErrNoProcessor is returned for a job type without a registered processor.
var ErrNoProcessor = errors.New("no processor registered for job type")

// Registry maps job types to processors.
type Registry struct {
	procs map[model.JobType]Processor
}

// NewRegistry registers the built-in processor for every job type.
func NewRegistry(deps Deps) *Registry {
	if deps.Clock == nil {
		deps.Clock = core.SystemClock{}
	}
	r := &Registry{procs: make(map[model.JobType]Processor)}
	r.Register(model.JobTypeIdentityVerification, &identity{deps: deps})
	r.Register(model.JobTypeScreening, &screening{deps: deps})
	r.Register(model.JobTypeRiskScoring, &riskScoring{deps: deps})
	r.Register(model.JobTypeAlertGeneration, &alertGeneration{deps: deps})
	r.Register(model.JobTypeReviewReminder, &reviewReminder{deps: deps})
	r.Register(model.JobTypeDocumentOCR, &documentOCR{deps: deps})
	r.Register(model.JobTypeDocumentVerification, &documentVerification{deps: deps})
	r.Register(model.JobTypeDocumentExpiryCheck, &documentExpiry{deps: deps})
	r.Register(model.JobTypeRulesExecution, &rulesExecution{deps: deps})
	return r
}

// Register installs or replaces the processor for t.
func (r *Registry) Register(t model.JobType, p Processor) {
	r.procs[t] = p
}

// Get returns the processor for t.
func (r *Registry) Get(t model.JobType) (Processor, error) {
	p, ok := r.procs[t]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoProcessor, t)
	}
	return p, nil
}

// Validate reports every job type that has no processor.
func (r *Registry) Validate() error {
	var errs []error
	for _, t := range model.AllJobTypes() {
		if _, err := r.Get(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// decodeInput decodes a job input. Malformed input is a validation failure.
func decodeInput(job *model.Job, dst any) error {
	raw := job.Input
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.ValidationErrorf("decode %s input: %v", job.Type, err)
	}
	return nil
}

// decodeCheck decodes an external check response. An unreadable response is retried.
func decodeCheck(kind core.CheckKind, raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.Transient(fmt.Sprintf("decode %s check response", kind), err)
	}
	return nil
}

func encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return b, nil
}

// subjectOf prefers an explicit clientId and falls back to the job's subject.
func subjectOf(job *model.Job, clientID string) (string, error) {
	if id := strings.TrimSpace(clientID); id != "" {
		return id, nil
	}
	if id := job.Subject(); id != "" {
		return id, nil
	}
	return "", apperrors.ValidationErrorf("%s requires clientId or a job subject", job.Type)
}

func required(job *model.Job, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.ValidationErrorf("%s input: %s is required", job.Type, field)
	}
	return nil
}

func checkRequest(kind core.CheckKind, job *model.Job, subject string) core.CheckRequest {
	payload := job.Input
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return core.CheckRequest{Kind: kind, JobID: job.ID, SubjectID: subject, Payload: payload}
}
