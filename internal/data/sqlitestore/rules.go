package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
)

const ruleColumns = `id, name, description, type, severity, risk_score_impact, status, violation,
  pass_message, fail_message, recommendation, created_at, updated_at`

// ListRules returns the requested rules in request order, or every active rule sorted by id.
func (s *Store) ListRules(ctx context.Context, ids []string) ([]*model.Rule, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE status = 'ACTIVE' ORDER BY id`)
	} else {
		marks := make([]string, len(ids))
		args := make([]any, len(ids))
		for i, id := range ids {
			marks[i] = "?"
			args[i] = id
		}
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+ruleColumns+` FROM rules WHERE id IN (`+strings.Join(marks, ",")+`)`, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []*model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]*model.Rule, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}
	return rules.Pick(ids, byID)
}

// UpsertRule validates and stores a rule definition.
func (s *Store) UpsertRule(ctx context.Context, rule *model.Rule) error {
	if rule == nil {
		return errors.New("rule is required")
	}
	if err := (rules.Evaluator{}).Validate(rule); err != nil {
		return err
	}
	violation, err := json.Marshal(rule.Violation)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	status := rule.Status
	if status == "" {
		status = model.RuleStatusActive
	}
	now := millis(time.Now())
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
		  name = excluded.name,
		  description = excluded.description,
		  type = excluded.type,
		  severity = excluded.severity,
		  risk_score_impact = excluded.risk_score_impact,
		  status = excluded.status,
		  violation = excluded.violation,
		  pass_message = excluded.pass_message,
		  fail_message = excluded.fail_message,
		  recommendation = excluded.recommendation,
		  updated_at = excluded.updated_at`,
		rule.ID, rule.Name, rule.Description, string(rule.Type), string(rule.Severity), rule.RiskScoreImpact,
		string(status), string(violation), rule.PassMessage, rule.FailMessage, rule.Recommendation, now, now)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", mapError(err))
	}
	return nil
}

func scanRule(row rowScanner) (*model.Rule, error) {
	var (
		r                                model.Rule
		ruleType, severity, status, viol string
		createdAt, updatedAt             int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &ruleType, &severity, &r.RiskScoreImpact, &status, &viol,
		&r.PassMessage, &r.FailMessage, &r.Recommendation, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(viol), &r.Violation); err != nil {
		return nil, fmt.Errorf("decode violation for %s: %w", r.ID, err)
	}
	r.Type = model.RuleType(ruleType)
	r.Severity = model.Severity(severity)
	r.Status = model.RuleStatus(status)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}
