package model

import "time"

// Processor outputs. Field names follow the compliance platform's wire format, which is camelCase.

// DegradedResult is stored as the output of a job whose external check is not configured.
type DegradedResult struct {
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// IdentityResult is the output of IDENTITY_VERIFICATION.
type IdentityResult struct {
	Verified         bool      `json:"verified"`
	VerificationDate time.Time `json:"verificationDate"`
	Confidence       float64   `json:"confidence"`
	Notes            string    `json:"notes,omitempty"`
	RiskImpact       int       `json:"riskImpact"`
}

// ScreeningMatch is a watchlist hit.
type ScreeningMatch struct {
	Name     string   `json:"name"`
	List     string   `json:"list"`
	Severity Severity `json:"severity"`
	Score    float64  `json:"score"`
	Impact   int      `json:"impact"`
}

// RiskIndicator is a non-match screening signal.
type RiskIndicator struct {
	Type        string   `json:"type,omitempty"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Impact      int      `json:"impact"`
}

// ScreeningResult is the output of SCREENING.
type ScreeningResult struct {
	ScreeningDate     time.Time        `json:"screeningDate"`
	WatchlistsChecked []string         `json:"watchlistsChecked"`
	Matches           []ScreeningMatch `json:"matches"`
	RiskIndicators    []RiskIndicator  `json:"riskIndicators"`
	OverallRisk       Severity         `json:"overallRisk"`
}

// RiskScoringResult is the output of RISK_SCORING.
type RiskScoringResult struct {
	ScoringDate     time.Time    `json:"scoringDate"`
	RiskScore       int          `json:"riskScore"`
	RiskLevel       RiskLevel    `json:"riskLevel"`
	Factors         []RiskFactor `json:"factors"`
	Recommendations []string     `json:"recommendations"`
}

// AlertTypeRiskThreshold marks alerts raised by the engine after aggregation.
const AlertTypeRiskThreshold = "RISK_THRESHOLD"

// AlertData is the input of ALERT_GENERATION.
type AlertData struct {
	Type     string         `json:"type,omitempty"`
	Severity Severity       `json:"severity,omitempty"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// AlertResult is the output of ALERT_GENERATION.
type AlertResult struct {
	AlertID        string         `json:"alertId"`
	GeneratedAt    time.Time      `json:"generatedAt"`
	ClientID       string         `json:"clientId,omitempty"`
	AlertType      string         `json:"alertType"`
	Severity       Severity       `json:"severity"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy *string        `json:"acknowledgedBy"`
	AcknowledgedAt *time.Time     `json:"acknowledgedAt"`
}

// ReminderResult is the output of REVIEW_REMINDER.
type ReminderResult struct {
	ReminderSent bool       `json:"reminderSent"`
	ReminderDate time.Time  `json:"reminderDate"`
	ReviewDate   *time.Time `json:"reviewDate,omitempty"`
}

// OCRResult is the output of DOCUMENT_OCR.
type OCRResult struct {
	ProcessingDate time.Time      `json:"processingDate"`
	DocumentID     string         `json:"documentId"`
	DocumentType   string         `json:"documentType"`
	ExtractedData  map[string]any `json:"extractedData"`
	Confidence     float64        `json:"confidence"`
}

// VerificationCheck is one authenticity or consistency check.
type VerificationCheck struct {
	Type       string  `json:"type"`
	Passed     bool    `json:"passed"`
	Confidence float64 `json:"confidence"`
}

// VerificationSection groups related checks.
type VerificationSection struct {
	Verified   bool                `json:"verified"`
	Confidence float64             `json:"confidence"`
	Checks     []VerificationCheck `json:"checks"`
}

const (
	VerificationPassed = "PASSED"
	VerificationFailed = "FAILED"
)

// DocumentVerificationResult is the output of DOCUMENT_VERIFICATION.
type DocumentVerificationResult struct {
	VerificationDate    time.Time           `json:"verificationDate"`
	DocumentID          string              `json:"documentId"`
	Authenticity        VerificationSection `json:"authenticity"`
	DataConsistency     VerificationSection `json:"dataConsistency"`
	OverallVerification string              `json:"overallVerification"`
	RiskLevel           Severity            `json:"riskLevel"`
	RiskImpact          int                 `json:"riskImpact"`
}

// ExpiryCheckResult is the output of DOCUMENT_EXPIRY_CHECK.
type ExpiryCheckResult struct {
	CheckDate         time.Time `json:"checkDate"`
	DocumentID        string    `json:"documentId"`
	ExpiryDate        time.Time `json:"expiryDate"`
	DaysUntilExpiry   int       `json:"daysUntilExpiry"`
	IsExpiringSoon    bool      `json:"isExpiringSoon"`
	IsExpired         bool      `json:"isExpired"`
	ActionRequired    bool      `json:"actionRequired"`
	RecommendedAction string    `json:"recommendedAction"`
}

// RulesExecutionResult is the output of RULES_EXECUTION.
type RulesExecutionResult struct {
	ExecutionDate     time.Time    `json:"executionDate"`
	ClientID          string       `json:"clientId,omitempty"`
	RulesExecuted     []string     `json:"rulesExecuted"`
	Results           []RuleResult `json:"results"`
	TotalRules        int          `json:"totalRules"`
	PassedRules       int          `json:"passedRules"`
	FailedRules       int          `json:"failedRules"`
	OverallRiskImpact int          `json:"overallRiskImpact"`
	Recommendations   []string     `json:"recommendations"`
}
