package processors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// UnverifiedIdentityImpact is the risk impact of an identity the check could not verify.
const UnverifiedIdentityImpact = 20

// IdentityInput is the input of IDENTITY_VERIFICATION.
type IdentityInput struct {
	ClientID       string `json:"clientId,omitempty"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	FullName       string `json:"fullName,omitempty"`
	DateOfBirth    string `json:"dateOfBirth,omitempty"`
	Nationality    string `json:"nationality,omitempty"`
	DocumentType   string `json:"documentType,omitempty"`
	DocumentNumber string `json:"documentNumber,omitempty"`
}

type identityCheckResponse struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes"`
}

type identity struct{ deps Deps }

func (p *identity) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in IdentityInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	subject, err := subjectOf(job, in.ClientID)
	if err != nil {
		return nil, err
	}
	if in.FullName == "" && in.LastName == "" {
		return nil, required(job, "fullName or lastName", "")
	}

	raw, err := p.deps.Checks.Run(ctx, checkRequest(core.CheckIdentity, job, subject))
	if err != nil {
		return nil, err
	}
	var resp identityCheckResponse
	if err := decodeCheck(core.CheckIdentity, raw, &resp); err != nil {
		return nil, err
	}

	out := model.IdentityResult{
		Verified:         resp.Verified,
		VerificationDate: p.deps.Clock.Now(),
		Confidence:       resp.Confidence,
		Notes:            resp.Notes,
	}
	if !resp.Verified {
		out.RiskImpact = UnverifiedIdentityImpact
	}
	return encode(out)
}

// ReviewReminderInput is the input of REVIEW_REMINDER.
type ReviewReminderInput struct {
	ClientID   string     `json:"clientId,omitempty"`
	ReviewDate *time.Time `json:"reviewDate,omitempty"`
}

type reviewReminder struct{ deps Deps }

// Process records that the reminder fired. Delivery belongs to the notification sink.
func (p *reviewReminder) Process(_ context.Context, job *model.Job) (json.RawMessage, error) {
	var in ReviewReminderInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	if _, err := subjectOf(job, in.ClientID); err != nil {
		return nil, err
	}
	return encode(model.ReminderResult{
		ReminderSent: true,
		ReminderDate: p.deps.Clock.Now(),
		ReviewDate:   in.ReviewDate,
	})
}
