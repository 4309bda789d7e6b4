package rules

import (
	"fmt"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// Built-in rule identifiers. RULE_001 to RULE_003 run when a request names no rules.
const (
	RuleHighRiskJurisdiction = "RULE_001"
	RulePEPScreening         = "RULE_002"
	RuleBusinessActivity     = "RULE_003"
	RuleDisposableEmail      = "RULE_004"
	RuleLargeCash            = "RULE_005"
)

// DefaultRuleIDs is the rule set executed when a rules request omits ruleIds.
func DefaultRuleIDs() []string {
	return []string{RuleHighRiskJurisdiction, RulePEPScreening, RuleBusinessActivity}
}

// DefaultCatalog returns the built-in compliance rules.
func DefaultCatalog() []*model.Rule {
	return []*model.Rule{
		{
			ID:              RuleHighRiskJurisdiction,
			Name:            "High-Risk Jurisdiction Check",
			Description:     "Check if client is located in or does business with high-risk jurisdictions",
			Type:            model.RuleTypeGeographicRisk,
			Severity:        model.SeverityHigh,
			RiskScoreImpact: 20,
			Status:          model.RuleStatusActive,
			Violation: model.Predicate{
				Kind:   model.PredicateAnyIn,
				Field:  "[country, businessCountries[]][]",
				Values: []string{"AF", "IR", "KP", "MM", "SY", "YE"},
			},
			PassMessage:    "Client is not located in a high-risk jurisdiction",
			FailMessage:    "Client is located in or does business with high-risk jurisdictions",
			Recommendation: "Apply enhanced due diligence for high-risk jurisdictions",
		},
		{
			ID:              RulePEPScreening,
			Name:            "PEP Screening",
			Description:     "Screen client against Politically Exposed Persons database",
			Type:            model.RuleTypePEPCheck,
			Severity:        model.SeverityHigh,
			RiskScoreImpact: 25,
			Status:          model.RuleStatusActive,
			Violation: model.Predicate{
				Kind:       model.PredicateJMESPath,
				Expression: "isPep == `true` || length(pepMatches || `[]`) > `0`",
			},
			PassMessage:    "No PEP matches found",
			FailMessage:    "Client matches a Politically Exposed Person",
			Recommendation: "Obtain senior management approval for PEP relationship",
		},
		{
			ID:              RuleBusinessActivity,
			Name:            "Business Activity Verification",
			Description:     "Verify that business activity is legitimate and compliant",
			Type:            model.RuleTypeBusinessTypeRisk,
			Severity:        model.SeverityMedium,
			RiskScoreImpact: 15,
			Status:          model.RuleStatusActive,
			Violation: model.Predicate{
				Kind:   model.PredicateAnyIn,
				Field:  "businessActivities",
				Values: []string{"GAMBLING", "CRYPTO_EXCHANGE", "MONEY_SERVICES", "ARMS_TRADE", "PRECIOUS_METALS"},
			},
			PassMessage:    "Business activity verified",
			FailMessage:    "Business activity requires additional verification",
			Recommendation: "Additional verification required for business activity",
		},
		{
			ID:              RuleDisposableEmail,
			Name:            "Disposable Email Domain",
			Description:     "Flag contact emails hosted on disposable mailbox providers",
			Type:            model.RuleTypeKYCVerification,
			Severity:        model.SeverityLow,
			RiskScoreImpact: 5,
			Status:          model.RuleStatusActive,
			Violation: model.Predicate{
				Kind:   model.PredicateDomainIn,
				Field:  "email",
				Values: []string{"mailinator.com", "guerrillamail.com", "10minutemail.com", "yopmail.com"},
			},
			PassMessage:    "Contact email domain is acceptable",
			FailMessage:    "Contact email uses a disposable mailbox provider",
			Recommendation: "Request a verified business email address",
		},
		{
			ID:              RuleLargeCash,
			Name:            "Large Cash Transactions",
			Description:     "Detect cash transactions at or above the reporting threshold",
			Type:            model.RuleTypeTransactionMonitoring,
			Severity:        model.SeverityMedium,
			RiskScoreImpact: 10,
			Status:          model.RuleStatusActive,
			Violation: model.Predicate{
				Kind:       model.PredicateJMESPath,
				Expression: "length(transactions[?type == 'CASH' && amount >= `10000`] || `[]`) > `0`",
			},
			PassMessage:    "No reportable cash transactions",
			FailMessage:    "Cash transactions at or above the reporting threshold",
			Recommendation: "File a currency transaction report",
		},
	}
}

// Pick arranges the rules named by ids in request order, skipping inactive ones.
// An id missing from byID returns model.ErrRuleNotFound.
func Pick(ids []string, byID map[string]*model.Rule) ([]*model.Rule, error) {
	out := make([]*model.Rule, 0, len(ids))
	for _, id := range ids {
		rule, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrRuleNotFound, id)
		}
		if rule.Active() {
			out = append(out, rule)
		}
	}
	return out, nil
}
