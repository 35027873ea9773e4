package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"calwake/internal/models"

	"go.uber.org/zap"
)

// LedgerRepository 报警台账仓库（对应 scheduled_alarms 表）
// (event_id, rule_id) 为唯一键，每对至多一条台账
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerRepository 创建报警台账仓库
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

const alarmColumns = `
	request_code,
	event_id,
	rule_id,
	event_title,
	alarm_time_utc,
	event_start_utc,
	last_event_modified_utc,
	user_dismissed,
	scheduled_at
`

// GetByEventAndRule 按唯一键查询台账，不存在时返回 (nil, nil)
func (r *LedgerRepository) GetByEventAndRule(ctx context.Context, eventID, ruleID string) (*models.ScheduledAlarm, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		WHERE event_id = $1
		  AND rule_id = $2
	`

	alarm, err := scanAlarm(r.db.QueryRowContext(ctx, query, eventID, ruleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scheduled alarm: %w", err)
	}

	return alarm, nil
}

// GetByRequestCode 按 request code 查询台账（驳回信号回查用），不存在时返回 (nil, nil)
func (r *LedgerRepository) GetByRequestCode(ctx context.Context, requestCode int32) (*models.ScheduledAlarm, error) {
	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		WHERE request_code = $1
	`

	alarm, err := scanAlarm(r.db.QueryRowContext(ctx, query, requestCode))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scheduled alarm: %w", err)
	}

	return alarm, nil
}

// ListAll 获取全部台账（对账轮的差异基准）
func (r *LedgerRepository) ListAll(ctx context.Context) ([]models.ScheduledAlarm, error) {
	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		ORDER BY alarm_time_utc ASC
	`
	return r.queryAlarms(ctx, query)
}

// ListActive 获取活跃台账（报警时刻在未来且未被驳回，供展示层查询）
func (r *LedgerRepository) ListActive(ctx context.Context, now time.Time) ([]models.ScheduledAlarm, error) {
	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		WHERE alarm_time_utc > $1
		  AND user_dismissed = FALSE
		ORDER BY alarm_time_utc ASC
	`
	return r.queryAlarms(ctx, query, now)
}

// ListByRule 获取某条规则名下的全部台账
func (r *LedgerRepository) ListByRule(ctx context.Context, ruleID string) ([]models.ScheduledAlarm, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		WHERE rule_id = $1
		ORDER BY alarm_time_utc ASC
	`
	return r.queryAlarms(ctx, query, ruleID)
}

// ListByEvent 获取某个事件名下的全部台账
func (r *LedgerRepository) ListByEvent(ctx context.Context, eventID string) ([]models.ScheduledAlarm, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event_id is required")
	}

	query := `
		SELECT ` + alarmColumns + `
		FROM scheduled_alarms
		WHERE event_id = $1
		ORDER BY alarm_time_utc ASC
	`
	return r.queryAlarms(ctx, query, eventID)
}

// Insert 写入新台账
func (r *LedgerRepository) Insert(ctx context.Context, alarm *models.ScheduledAlarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}
	if alarm.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if alarm.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	query := `
		INSERT INTO scheduled_alarms (
			request_code,
			event_id,
			rule_id,
			event_title,
			alarm_time_utc,
			event_start_utc,
			last_event_modified_utc,
			user_dismissed,
			scheduled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		alarm.RequestCode,
		alarm.EventID,
		alarm.RuleID,
		alarm.EventTitle,
		alarm.AlarmTimeUTC,
		alarm.EventStartUTC,
		alarm.LastEventModified,
		alarm.UserDismissed,
		alarm.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scheduled alarm: %w", err)
	}

	return nil
}

// Update 按唯一键整体更新台账（时间、标题、修改戳、驳回标记）
func (r *LedgerRepository) Update(ctx context.Context, alarm *models.ScheduledAlarm) error {
	if alarm == nil {
		return fmt.Errorf("alarm is required")
	}
	if alarm.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if alarm.RuleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	query := `
		UPDATE scheduled_alarms
		SET event_title = $1,
		    alarm_time_utc = $2,
		    event_start_utc = $3,
		    last_event_modified_utc = $4,
		    user_dismissed = $5,
		    scheduled_at = $6
		WHERE event_id = $7
		  AND rule_id = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		alarm.EventTitle,
		alarm.AlarmTimeUTC,
		alarm.EventStartUTC,
		alarm.LastEventModified,
		alarm.UserDismissed,
		alarm.ScheduledAt,
		alarm.EventID,
		alarm.RuleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled alarm: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scheduled alarm not found: event_id=%s, rule_id=%s", alarm.EventID, alarm.RuleID)
	}

	return nil
}

// MarkDismissed 按 request code 标记驳回
// 返回是否有台账被标记（code 未命中任何台账不是错误，信号可能晚于 GC 到达）
func (r *LedgerRepository) MarkDismissed(ctx context.Context, requestCode int32) (bool, error) {
	query := `
		UPDATE scheduled_alarms
		SET user_dismissed = TRUE
		WHERE request_code = $1
	`

	result, err := r.db.ExecContext(ctx, query, requestCode)
	if err != nil {
		return false, fmt.Errorf("failed to mark alarm dismissed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Delete 按唯一键删除台账
func (r *LedgerRepository) Delete(ctx context.Context, eventID, ruleID string) error {
	if eventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if ruleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduled_alarms WHERE event_id = $1 AND rule_id = $2`,
		eventID, ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled alarm: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("scheduled alarm not found: event_id=%s, rule_id=%s", eventID, ruleID)
	}

	return nil
}

// DeleteOlderThan 删除报警时刻早于 cutoff 的台账（GC 扫描用）
func (r *LedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM scheduled_alarms WHERE alarm_time_utc < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired alarms: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (r *LedgerRepository) queryAlarms(ctx context.Context, query string, args ...interface{}) ([]models.ScheduledAlarm, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled alarms: %w", err)
	}
	defer rows.Close()

	alarms := []models.ScheduledAlarm{}
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled alarm: %w", err)
		}
		alarms = append(alarms, *alarm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled alarms: %w", err)
	}

	return alarms, nil
}

func scanAlarm(row rowScanner) (*models.ScheduledAlarm, error) {
	var alarm models.ScheduledAlarm

	err := row.Scan(
		&alarm.RequestCode,
		&alarm.EventID,
		&alarm.RuleID,
		&alarm.EventTitle,
		&alarm.AlarmTimeUTC,
		&alarm.EventStartUTC,
		&alarm.LastEventModified,
		&alarm.UserDismissed,
		&alarm.ScheduledAt,
	)
	if err != nil {
		return nil, err
	}

	return &alarm, nil
}
