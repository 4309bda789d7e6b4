package model

import (
	"errors"
	"strings"
	"time"
)

// RuleType categorises compliance rules.
type RuleType string

const (
	RuleTypeKYCVerification       RuleType = "KYC_VERIFICATION"
	RuleTypeAMLScreening          RuleType = "AML_SCREENING"
	RuleTypeRiskScoring           RuleType = "RISK_SCORING"
	RuleTypeDocumentVerification  RuleType = "DOCUMENT_VERIFICATION"
	RuleTypeTransactionMonitoring RuleType = "TRANSACTION_MONITORING"
	RuleTypeSanctionsCheck        RuleType = "SANCTIONS_CHECK"
	RuleTypePEPCheck              RuleType = "PEP_CHECK"
	RuleTypeAdverseMediaCheck     RuleType = "ADVERSE_MEDIA_CHECK"
	RuleTypeGeographicRisk        RuleType = "GEOGRAPHIC_RISK"
	RuleTypeBusinessTypeRisk      RuleType = "BUSINESS_TYPE_RISK"
	RuleTypeCustom                RuleType = "CUSTOM"
)

// Valid returns true for known rule types.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeKYCVerification, RuleTypeAMLScreening, RuleTypeRiskScoring, RuleTypeDocumentVerification,
		RuleTypeTransactionMonitoring, RuleTypeSanctionsCheck, RuleTypePEPCheck, RuleTypeAdverseMediaCheck,
		RuleTypeGeographicRisk, RuleTypeBusinessTypeRisk, RuleTypeCustom:
		return true
	default:
		return false
	}
}

// RuleStatus controls whether a rule participates in evaluation.
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "ACTIVE"
	RuleStatusInactive RuleStatus = "INACTIVE"
)

// PredicateKind selects the evaluation strategy for a rule violation.
type PredicateKind string

const (
	// PredicateJMESPath holds when the expression result is truthy.
	PredicateJMESPath PredicateKind = "jmespath"
	// PredicateIn holds when the value at Field is one of Values.
	PredicateIn PredicateKind = "in"
	// PredicateAnyIn holds when any element of the list at Field is one of Values.
	PredicateAnyIn PredicateKind = "any_in"
	// PredicateDomainIn holds when the registrable domain of the email or URL at Field is one of Values.
	PredicateDomainIn PredicateKind = "domain_in"
)

// Predicate describes the condition under which a rule is violated.
type Predicate struct {
	Kind       PredicateKind `json:"kind"`
	Expression string        `json:"expression,omitempty"`
	Field      string        `json:"field,omitempty"`
	Values     []string      `json:"values,omitempty"`
}

// Validate checks the predicate is complete for its kind.
func (p Predicate) Validate() error {
	switch p.Kind {
	case PredicateJMESPath:
		if strings.TrimSpace(p.Expression) == "" {
			return errors.New("jmespath predicate requires an expression")
		}
	case PredicateIn, PredicateAnyIn, PredicateDomainIn:
		if strings.TrimSpace(p.Field) == "" {
			return errors.New("predicate requires a field")
		}
		if len(p.Values) == 0 {
			return errors.New("predicate requires at least one value")
		}
	default:
		return errors.New("unknown predicate kind")
	}
	return nil
}

// Rule is a deterministic compliance rule.
type Rule struct {
	ID              string     `json:"id"                db:"id"`
	Name            string     `json:"name"              db:"name"`
	Description     string     `json:"description"       db:"description"`
	Type            RuleType   `json:"type"              db:"type"`
	Severity        Severity   `json:"severity"          db:"severity"`
	RiskScoreImpact int        `json:"risk_score_impact" db:"risk_score_impact"`
	Status          RuleStatus `json:"status"            db:"status"`
	Violation       Predicate  `json:"violation"         db:"violation"`
	PassMessage     string     `json:"pass_message"      db:"pass_message"`
	FailMessage     string     `json:"fail_message"      db:"fail_message"`
	Recommendation  string     `json:"recommendation"    db:"recommendation"`
	CreatedAt       time.Time  `json:"created_at"        db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"        db:"updated_at"`
}

// Validate validates the rule definition.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("rule id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name is required")
	}
	if !r.Type.Valid() {
		return errors.New("invalid rule type")
	}
	if !r.Severity.Valid() {
		return errors.New("invalid rule severity")
	}
	if r.RiskScoreImpact < 0 || r.RiskScoreImpact > 100 {
		return errors.New("risk score impact must be between 0 and 100")
	}
	return r.Violation.Validate()
}

// Active reports whether the rule participates in evaluation.
func (r *Rule) Active() bool {
	return r.Status == "" || r.Status == RuleStatusActive
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	RuleID      string   `json:"ruleId"`
	RuleName    string   `json:"ruleName"`
	Description string   `json:"description"`
	Passed      bool     `json:"passed"`
	Severity    Severity `json:"severity"`
	Impact      int      `json:"impact"`
	Message     string   `json:"message"`
}
