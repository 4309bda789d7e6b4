package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
)

// ListRules returns the requested rules in request order, or every active rule sorted by id.
func (s *Store) ListRules(_ context.Context, ids []string) ([]*model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]*model.Rule, len(s.rules))
	for id, r := range s.rules {
		cp := *r
		byID[id] = &cp
	}
	if len(ids) > 0 {
		return rules.Pick(ids, byID)
	}

	out := make([]*model.Rule, 0, len(byID))
	for _, r := range byID {
		if r.Active() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// UpsertRule validates and stores a rule.
func (s *Store) UpsertRule(_ context.Context, rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if err := (rules.Evaluator{}).Validate(rule); err != nil {
		return err
	}
	cp := *rule
	if cp.Status == "" {
		cp.Status = model.RuleStatusActive
	}
	s.mu.Lock()
	s.rules[rule.ID] = &cp
	s.mu.Unlock()
	return nil
}
