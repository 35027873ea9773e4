package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"calwake/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RuleRepository 规则仓库
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository 创建规则仓库
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		logger: logger,
	}
}

const ruleColumns = `
	rule_id,
	name,
	keyword_pattern,
	match_mode,
	calendar_scope,
	lead_time_minutes,
	enabled,
	first_event_of_day,
	created_at
`

// GetRule 根据 rule_id 获取单条规则
func (r *RuleRepository) GetRule(ctx context.Context, ruleID string) (*models.Rule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE rule_id = $1
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, ruleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule not found: rule_id=%s", ruleID)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// CreateRule 创建规则
// 匹配模式在保存时由模式字符串分类确定，之后匹配过程不再重新推断
func (r *RuleRepository) CreateRule(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.KeywordPattern == "" {
		return fmt.Errorf("keyword_pattern is required")
	}
	if rule.LeadTimeMinutes < 0 {
		return fmt.Errorf("lead_time_minutes must be >= 0")
	}

	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}
	rule.MatchMode = models.ClassifyPattern(rule.KeywordPattern)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	scopeJSON, err := json.Marshal(rule.CalendarScope)
	if err != nil {
		return fmt.Errorf("failed to marshal calendar scope: %w", err)
	}

	query := `
		INSERT INTO rules (
			rule_id,
			name,
			keyword_pattern,
			match_mode,
			calendar_scope,
			lead_time_minutes,
			enabled,
			first_event_of_day,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.RuleID,
		rule.Name,
		rule.KeywordPattern,
		string(rule.MatchMode),
		scopeJSON,
		rule.LeadTimeMinutes,
		rule.Enabled,
		rule.FirstEventOfDay,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

// UpdateRule 更新规则（模式有变化时重新分类匹配模式）
func (r *RuleRepository) UpdateRule(ctx context.Context, rule *models.Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if rule.KeywordPattern == "" {
		return fmt.Errorf("keyword_pattern is required")
	}

	rule.MatchMode = models.ClassifyPattern(rule.KeywordPattern)

	scopeJSON, err := json.Marshal(rule.CalendarScope)
	if err != nil {
		return fmt.Errorf("failed to marshal calendar scope: %w", err)
	}

	query := `
		UPDATE rules
		SET name = $1,
		    keyword_pattern = $2,
		    match_mode = $3,
		    calendar_scope = $4,
		    lead_time_minutes = $5,
		    enabled = $6,
		    first_event_of_day = $7
		WHERE rule_id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		rule.KeywordPattern,
		string(rule.MatchMode),
		scopeJSON,
		rule.LeadTimeMinutes,
		rule.Enabled,
		rule.FirstEventOfDay,
		rule.RuleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule not found: rule_id=%s", rule.RuleID)
	}

	return nil
}

// DeleteRule 删除规则
func (r *RuleRepository) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule not found: rule_id=%s", ruleID)
	}

	return nil
}

// ListRules 获取所有规则
func (r *RuleRepository) ListRules(ctx context.Context) ([]models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		ORDER BY created_at ASC
	`
	return r.queryRules(ctx, query)
}

// ListEnabledRules 获取所有启用的规则（匹配轮使用）
func (r *RuleRepository) ListEnabledRules(ctx context.Context) ([]models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE enabled = TRUE
		ORDER BY created_at ASC
	`
	return r.queryRules(ctx, query)
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]models.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []models.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	return rules, nil
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows 的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var rule models.Rule
	var matchMode string
	var scopeJSON []byte

	err := row.Scan(
		&rule.RuleID,
		&rule.Name,
		&rule.KeywordPattern,
		&matchMode,
		&scopeJSON,
		&rule.LeadTimeMinutes,
		&rule.Enabled,
		&rule.FirstEventOfDay,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.MatchMode = models.MatchMode(matchMode)

	if len(scopeJSON) > 0 {
		if err := json.Unmarshal(scopeJSON, &rule.CalendarScope); err != nil {
			// 作用域损坏按空作用域（所有日历）处理，不让单条脏数据中断整轮
			rule.CalendarScope = nil
		}
	}

	return &rule, nil
}
