package processors

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

// RulesInput is the input of RULES_EXECUTION.
type RulesInput struct {
	ClientID string         `json:"clientId,omitempty"`
	RuleIDs  []string       `json:"ruleIds,omitempty"`
	Facts    map[string]any `json:"facts,omitempty"`
}

type rulesExecution struct {
	deps Deps
	eval rules.Evaluator
}

func (p *rulesExecution) Process(ctx context.Context, job *model.Job) (json.RawMessage, error) {
	var in RulesInput
	if err := decodeInput(job, &in); err != nil {
		return nil, err
	}
	if p.deps.Rules == nil {
		return nil, apperrors.CapabilityUnavailable("rule catalog")
	}
	ids := in.RuleIDs
	if len(ids) == 0 {
		ids = rules.DefaultRuleIDs()
	}

	defs, err := p.deps.Rules.ListRules(ctx, ids)
	if err != nil {
		if errors.Is(err, model.ErrRuleNotFound) {
			return nil, apperrors.ValidationErrorf("%v", err)
		}
		return nil, err
	}
	facts := in.Facts
	if facts == nil {
		facts = map[string]any{}
	}

	sum, err := p.eval.EvaluateAll(defs, facts)
	if err != nil {
		return nil, apperrors.ValidationErrorf("%v", err)
	}

	executed := make([]string, 0, len(defs))
	for _, d := range defs {
		executed = append(executed, d.ID)
	}
	clientID := in.ClientID
	if clientID == "" {
		clientID = job.Subject()
	}
	return encode(model.RulesExecutionResult{
		ExecutionDate:     p.deps.Clock.Now(),
		ClientID:          clientID,
		RulesExecuted:     executed,
		Results:           sum.Results,
		TotalRules:        len(sum.Results),
		PassedRules:       sum.Passed,
		FailedRules:       sum.Failed,
		OverallRiskImpact: sum.RiskImpact,
		Recommendations:   sum.Recommendations,
	})
}
