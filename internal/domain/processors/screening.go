package processors

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// DefaultWatchlists are screened when the input does not name any.
var DefaultWatchlists = []string{"OFAC", "UN", "EU", "PEP"}

// ScreeningInput is the input of SCREENING.
type ScreeningInput struct {
	ClientID    string   `json:"clientId,omitempty"`
	Name        string   `json:"name"`
	DateOfBirth string   `json:"dateOfBirth,omitempty"`
	Nationality string   `json:"nationality,omitempty"`
	Watchlists  []string `json:"watchlists,omitempty"`
}

type screeningCheckResponse struct {
	WatchlistsChecked []string               `json:"watchlistsChecked"`
	Matches           []model.ScreeningMatch `json:"matches"`
	RiskIndicators    []model.RiskIndicator  `json:"riskIndicators"`
}

type screening struct{ deps Deps }

func (p *screening) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in ScreeningInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	subject, err := subjectOf(job, in.ClientID)
	if err != nil {
		return nil, err
	}
	if err := required(job, "name", in.Name); err != nil {
		return nil, err
	}

	raw, err := p.deps.Checks.Run(ctx, checkRequest(core.CheckScreening, job, subject))
	if err != nil {
		return nil, err
	}
	var resp screeningCheckResponse
	if err := decodeCheck(core.CheckScreening, raw, &resp); err != nil {
		return nil, err
	}

	out := model.ScreeningResult{
		ScreeningDate:     p.deps.Clock.Now(),
		WatchlistsChecked: resp.WatchlistsChecked,
		Matches:           resp.Matches,
		RiskIndicators:    resp.RiskIndicators,
		OverallRisk:       model.SeverityLow,
	}
	if len(out.WatchlistsChecked) == 0 {
		out.WatchlistsChecked = in.Watchlists
	}
	if len(out.WatchlistsChecked) == 0 {
		out.WatchlistsChecked = DefaultWatchlists
	}
	if out.Matches == nil {
		out.Matches = []model.ScreeningMatch{}
	}
	if out.RiskIndicators == nil {
		out.RiskIndicators = []model.RiskIndicator{}
	}
	for _, m := range out.Matches {
		if m.Severity.Rank() > out.OverallRisk.Rank() {
			out.OverallRisk = m.Severity
		}
	}
	return encode(out)
}

// High-score recommendation sets.
var (
	EnhancedRecommendations = []string{
		"Enhanced due diligence required",
		"Increased monitoring frequency",
		"Additional documentation required",
	}
	StandardRecommendations = []string{
		"Standard due diligence sufficient",
		"Regular monitoring recommended",
	}
)

// EnhancedDueDiligenceScore is the score above which enhanced recommendations apply.
const EnhancedDueDiligenceScore = 60

// RiskScoringInput is the input of RISK_SCORING.
type RiskScoringInput struct {
	ClientID string `json:"clientId,omitempty"`
}

type riskScoring struct{ deps Deps }

// Process snapshots the subject's current assessment.
func (p *riskScoring) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in RiskScoringInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	subject, err := subjectOf(job, in.ClientID)
	if err != nil {
		return nil, err
	}
	if p.deps.Risk == nil {
		return nil, apperrors.CapabilityUnavailable("risk assessment")
	}

	assessment, err := p.deps.Risk.ComputeRiskAssessment(ctx, subject)
	if err != nil {
		return nil, err
	}

	recs := StandardRecommendations
	if assessment.Score > EnhancedDueDiligenceScore {
		recs = EnhancedRecommendations
	}
	return encode(model.RiskScoringResult{
		ScoringDate:     p.deps.Clock.Now(),
		RiskScore:       assessment.Score,
		RiskLevel:       assessment.Level,
		Factors:         assessment.ContributingFactors,
		Recommendations: recs,
	})
}

// AlertInput is the input of ALERT_GENERATION.
type AlertInput struct {
	ClientID string `json:"clientId,omitempty"`
	model.AlertData
}

const defaultAlertMessage = "Risk threshold exceeded"

type alertGeneration struct{ deps Deps }

func (p *alertGeneration) Process(_ context.Context, job *model.Job) (json.RawMessage, error) {
	var in AlertInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}

	out := model.AlertResult{
		AlertID:     "ALT-" + job.ID,
		GeneratedAt: p.deps.Clock.Now(),
		ClientID:    strings.TrimSpace(in.ClientID),
		AlertType:   in.Type,
		Severity:    in.Severity,
		Message:     in.Message,
		Details:     in.Details,
	}
	if out.ClientID == "" {
		out.ClientID = job.Subject()
	}
	if out.AlertType == "" {
		out.AlertType = model.AlertTypeRiskThreshold
	}
	if out.Severity == "" {
		out.Severity = model.SeverityHigh
	}
	if out.Message == "" {
		out.Message = defaultAlertMessage
	}
	if out.Details == nil {
		out.Details = map[string]any{}
	}
	return encode(out)
}
