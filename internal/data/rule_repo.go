package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sa32552/regtech-engine/internal/core"
	"github.com/sa32552/regtech-engine/internal/domain/model"
	"github.com/sa32552/regtech-engine/internal/domain/rules"
	apperrors "github.com/sa32552/regtech-engine/internal/errors"
)

const ruleColumns = `id, name, description, type, severity, risk_score_impact, status, violation,
  pass_message, fail_message, recommendation, created_at, updated_at`

// RuleRepo stores compliance rule definitions in Postgres.
type RuleRepo struct {
	DB     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewRuleRepo creates a RuleRepo.
func NewRuleRepo(db *sql.DB, logger *slog.Logger) *RuleRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleRepo{
		DB:     db,
		logger: logger.With("component", "rule_repo"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ core.RuleRepository = (*RuleRepo)(nil)

// ListRules returns the requested active rules in request order, or every active rule when ids is empty.
func (r *RuleRepo) ListRules(ctx context.Context, ids []string) ([]*model.Rule, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT `+ruleColumns+`
			FROM rules
			WHERE status = 'ACTIVE'
			ORDER BY id
		`)
	} else {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT `+ruleColumns+`
			FROM rules
			WHERE id = ANY($1)
		`, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*model.Rule)
	var ordered []*model.Rule
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan rule: %w", scanErr)
		}
		byID[rule.ID] = rule
		ordered = append(ordered, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	if len(ids) == 0 {
		return ordered, nil
	}
	return rules.Pick(ids, byID)
}

// UpsertRule validates and stores a rule definition.
func (r *RuleRepo) UpsertRule(ctx context.Context, rule *model.Rule) error {
	if rule == nil {
		return ErrRuleRequired
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
	now := r.now()

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    type = EXCLUDED.type,
		    severity = EXCLUDED.severity,
		    risk_score_impact = EXCLUDED.risk_score_impact,
		    status = EXCLUDED.status,
		    violation = EXCLUDED.violation,
		    pass_message = EXCLUDED.pass_message,
		    fail_message = EXCLUDED.fail_message,
		    recommendation = EXCLUDED.recommendation,
		    updated_at = EXCLUDED.updated_at
	`, rule.ID, rule.Name, rule.Description, string(rule.Type), string(rule.Severity), rule.RiskScoreImpact,
		string(status), violation, rule.PassMessage, rule.FailMessage, rule.Recommendation, now)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, apperrors.MapDBError(err))
	}
	return nil
}

// SeedDefaults upserts the built-in catalog. Existing rows are overwritten so catalog edits ship with releases.
func (r *RuleRepo) SeedDefaults(ctx context.Context) error {
	for _, rule := range rules.DefaultCatalog() {
		if err := r.UpsertRule(ctx, rule); err != nil {
			return err
		}
	}
	r.logger.InfoContext(ctx, "seeded rule catalog", "count", len(rules.DefaultCatalog()))
	return nil
}

func scanRule(scanner jobRowScanner) (*model.Rule, error) {
	var (
		rule                  model.Rule
		ruleType, sev, status string
		violation             []byte
	)
	if err := scanner.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&ruleType,
		&sev,
		&rule.RiskScoreImpact,
		&status,
		&violation,
		&rule.PassMessage,
		&rule.FailMessage,
		&rule.Recommendation,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Type = model.RuleType(ruleType)
	rule.Severity = model.Severity(sev)
	rule.Status = model.RuleStatus(status)
	if err := json.Unmarshal(violation, &rule.Violation); err != nil {
		return nil, fmt.Errorf("decode violation of %s: %w", rule.ID, err)
	}
	return &rule, nil
}
