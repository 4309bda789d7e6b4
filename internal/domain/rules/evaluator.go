// Package rules evaluates compliance rules against a subject's facts.
package rules

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/net/publicsuffix"

	"github.com/sa32552/regtech-engine/internal/domain/model"
)

// ErrInvalidRule is returned when a rule definition cannot be evaluated.
var ErrInvalidRule = errors.New("invalid rule")

// Facts is the JSON-decoded data a rule is evaluated against.
type Facts = map[string]any

// Evaluator runs rule predicates. The zero value is ready to use.
type Evaluator struct{}

// Validate reports whether the rule can be evaluated.
func (Evaluator) Validate(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRule, rule.ID, err)
	}
	expr := rule.Violation.Expression
	if rule.Violation.Kind != model.PredicateJMESPath {
		expr = rule.Violation.Field
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRule, rule.ID, err)
	}
	return nil
}

// Evaluate runs one rule. A rule whose violation predicate holds has not passed.
func (e Evaluator) Evaluate(rule *model.Rule, facts Facts) (model.RuleResult, error) {
	if err := e.Validate(rule); err != nil {
		return model.RuleResult{}, err
	}

	violated, err := violates(rule.Violation, facts)
	if err != nil {
		return model.RuleResult{}, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
	}

	res := model.RuleResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Description: rule.Description,
		Passed:      !violated,
		Severity:    rule.Severity,
	}
	if violated {
		res.Impact = rule.RiskScoreImpact
		res.Message = firstNonEmpty(rule.FailMessage, rule.Name+" violated")
	} else {
		res.Message = firstNonEmpty(rule.PassMessage, rule.Name+" passed")
	}
	return res, nil
}

// Summary aggregates a batch of rule results.
type Summary struct {
	Results         []model.RuleResult
	Passed          int
	Failed          int
	RiskImpact      int
	Recommendations []string
}

// EvaluateAll runs rules in order and stops at the first rule that cannot be evaluated.
func (e Evaluator) EvaluateAll(rules []*model.Rule, facts Facts) (Summary, error) {
	sum := Summary{Results: make([]model.RuleResult, 0, len(rules)), Recommendations: []string{}}
	for _, rule := range rules {
		res, err := e.Evaluate(rule, facts)
		if err != nil {
			return Summary{}, err
		}
		sum.Results = append(sum.Results, res)
		if res.Passed {
			sum.Passed++
			continue
		}
		sum.Failed++
		sum.RiskImpact += res.Impact
		if rule.Recommendation != "" {
			sum.Recommendations = append(sum.Recommendations, rule.Recommendation)
		}
	}
	return sum, nil
}

func violates(p model.Predicate, facts Facts) (bool, error) {
	expr := p.Field
	if p.Kind == model.PredicateJMESPath {
		expr = p.Expression
	}
	v, err := jmespath.Search(expr, facts)
	if err != nil {
		return false, err
	}

	switch p.Kind {
	case model.PredicateJMESPath:
		return truthy(v), nil
	case model.PredicateIn:
		return v != nil && contains(p.Values, fmt.Sprint(v)), nil
	case model.PredicateAnyIn:
		list, ok := v.([]any)
		if !ok {
			return v != nil && contains(p.Values, fmt.Sprint(v)), nil
		}
		for _, item := range list {
			if item != nil && contains(p.Values, fmt.Sprint(item)) {
				return true, nil
			}
		}
		return false, nil
	case model.PredicateDomainIn:
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		domain := registrableDomain(s)
		if domain == "" {
			return false, nil
		}
		for _, candidate := range p.Values {
			if registrableDomain(candidate) == domain {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: unknown predicate kind %q", ErrInvalidRule, p.Kind)
	}
}

// truthy follows JMESPath truthiness: false, null, "" and empty collections are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive // every other scalar is truthy
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	default:
		return true
	}
}

func contains(values []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, candidate := range values {
		if strings.EqualFold(strings.TrimSpace(candidate), v) {
			return true
		}
	}
	return false
}

// registrableDomain extracts the eTLD+1 from an email address, URL or bare host.
func registrableDomain(s string) string {
	host := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(host, "://"):
		u, err := url.Parse(host)
		if err != nil {
			return ""
		}
		host = u.Hostname()
	case strings.Contains(host, "@"):
		host = host[strings.LastIndex(host, "@")+1:]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	return etld1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
