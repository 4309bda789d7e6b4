package processors

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const (
	// FailedVerificationImpact is the risk impact of a document that failed verification.
	FailedVerificationImpact = 20
	// ExpiryWarningDays is how early an upcoming expiry is reported.
	ExpiryWarningDays = 30
)

// DocumentInput is the input of DOCUMENT_OCR and DOCUMENT_VERIFICATION.
type DocumentInput struct {
	ClientID     string `json:"clientId,omitempty"`
	DocumentID   string `json:"documentId"`
	DocumentType string `json:"documentType,omitempty"`
	FileURL      string `json:"fileUrl,omitempty"`
}

type ocrCheckResponse struct {
	DocumentType  string         `json:"documentType"`
	ExtractedData map[string]any `json:"extractedData"`
	Confidence    float64        `json:"confidence"`
}

type documentOCR struct{ deps Deps }

func (p *documentOCR) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in DocumentInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	if err := required(job, "documentId", in.DocumentID); err != nil {
		return nil, err
	}

	raw, err := p.deps.Checks.Run(ctx, checkRequest(core.CheckDocumentOCR, job, job.Subject()))
	if err != nil {
		return nil, err
	}
	var resp ocrCheckResponse
	if err := decodeCheck(core.CheckDocumentOCR, raw, &resp); err != nil {
		return nil, err
	}

	out := model.OCRResult{
		ProcessingDate: p.deps.Clock.Now(),
		DocumentID:     in.DocumentID,
		DocumentType:   in.DocumentType,
		ExtractedData:  resp.ExtractedData,
		Confidence:     resp.Confidence,
	}
	if out.DocumentType == "" {
		out.DocumentType = resp.DocumentType
	}
	if out.ExtractedData == nil {
		out.ExtractedData = map[string]any{}
	}
	return encode(out)
}

type verificationCheckResponse struct {
	Authenticity    model.VerificationSection `json:"authenticity"`
	DataConsistency model.VerificationSection `json:"dataConsistency"`
}

type documentVerification struct{ deps Deps }

func (p *documentVerification) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in DocumentInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	if err := required(job, "documentId", in.DocumentID); err != nil {
		return nil, err
	}

	raw, err := p.deps.Checks.Run(ctx, checkRequest(core.CheckDocumentVerification, job, job.Subject()))
	if err != nil {
		return nil, err
	}
	var resp verificationCheckResponse
	if err := decodeCheck(core.CheckDocumentVerification, raw, &resp); err != nil {
		return nil, err
	}

	out := model.DocumentVerificationResult{
		VerificationDate:    p.deps.Clock.Now(),
		DocumentID:          in.DocumentID,
		Authenticity:        resp.Authenticity,
		DataConsistency:     resp.DataConsistency,
		OverallVerification: model.VerificationPassed,
		RiskLevel:           model.SeverityLow,
	}
	if out.Authenticity.Checks == nil {
		out.Authenticity.Checks = []model.VerificationCheck{}
	}
	if out.DataConsistency.Checks == nil {
		out.DataConsistency.Checks = []model.VerificationCheck{}
	}
	if !resp.Authenticity.Verified || !resp.DataConsistency.Verified {
		out.OverallVerification = model.VerificationFailed
		out.RiskLevel = model.SeverityHigh
		out.RiskImpact = FailedVerificationImpact
	}
	return encode(out)
}

// ExpiryInput is the input of DOCUMENT_EXPIRY_CHECK.
type ExpiryInput struct {
	ClientID   string    `json:"clientId,omitempty"`
	DocumentID string    `json:"documentId"`
	ExpiryDate time.Time `json:"expiryDate"`
}

type documentExpiry struct{ deps Deps }

func (p *documentExpiry) Process(_ context.Context, job *model.Job) (json.RawMessage, error) {
	var in ExpiryInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	if err := required(job, "documentId", in.DocumentID); err != nil {
		return nil, err
	}
	if in.ExpiryDate.IsZero() {
		return nil, apperrors.ValidationErrorf("%s input: expiryDate is required", job.Type)
	}

	now := p.deps.Clock.Now()
	return encode(ExpiryStatus(in.DocumentID, in.ExpiryDate, now))
}

// ExpiryStatus classifies a document's expiry relative to now. Days are whole days, rounded down.
func ExpiryStatus(documentID string, expiry, now time.Time) model.ExpiryCheckResult {
	days := int(math.Floor(expiry.Sub(now).Hours() / 24))
	res := model.ExpiryCheckResult{
		CheckDate:       now,
		DocumentID:      documentID,
		ExpiryDate:      expiry,
		DaysUntilExpiry: days,
		IsExpiringSoon:  days <= ExpiryWarningDays && days > 0,
		IsExpired:       days <= 0,
	}
	res.ActionRequired = res.IsExpiringSoon || res.IsExpired
	switch {
	case res.IsExpired:
		res.RecommendedAction = "Document expired - renewal required"
	case res.IsExpiringSoon:
		res.RecommendedAction = "Document expiring soon - renewal recommended"
	default:
		res.RecommendedAction = "No action required"
	}
	return res
}
