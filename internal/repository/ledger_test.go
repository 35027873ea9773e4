package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"calwake/internal/models"
)

func setupMockLedgerDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *LedgerRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewLedgerRepository(db, logger)

	return db, mock, repo
}

func alarmRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"request_code", "event_id", "rule_id", "event_title", "alarm_time_utc",
		"event_start_utc", "last_event_modified_utc", "user_dismissed", "scheduled_at",
	})
}

func TestGetByEventAndRule_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	ruleID := uuid.New().String()
	now := time.Now()

	rows := alarmRows().AddRow(
		int32(1234567), eventID, ruleID, "Team Meeting",
		now.Add(time.Hour), now.Add(90*time.Minute), now, false, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(eventID, ruleID).
		WillReturnRows(rows)

	alarm, err := repo.GetByEventAndRule(ctx, eventID, ruleID)

	require.NoError(t, err)
	assert.NotNil(t, alarm)
	assert.Equal(t, int32(1234567), alarm.RequestCode)
	assert.Equal(t, eventID, alarm.EventID)
	assert.Equal(t, ruleID, alarm.RuleID)
	assert.Equal(t, "Team Meeting", alarm.EventTitle)
	assert.False(t, alarm.UserDismissed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEventAndRule_NotFoundIsNil(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	ruleID := uuid.New().String()

	mock.ExpectQuery(`SELECT`).
		WithArgs(eventID, ruleID).
		WillReturnError(sql.ErrNoRows)

	alarm, err := repo.GetByEventAndRule(ctx, eventID, ruleID)

	// 不存在不是错误，对账轮按"无现有台账"分支处理
	require.NoError(t, err)
	assert.Nil(t, alarm)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByRequestCode_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	rows := alarmRows().AddRow(
		int32(-99), uuid.New().String(), uuid.New().String(), "Dentist",
		now, now, now, false, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(int32(-99)).
		WillReturnRows(rows)

	alarm, err := repo.GetByRequestCode(ctx, -99)

	require.NoError(t, err)
	assert.NotNil(t, alarm)
	assert.Equal(t, "Dentist", alarm.EventTitle)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	alarm := &models.ScheduledAlarm{
		RequestCode:       int32(42),
		EventID:           uuid.New().String(),
		RuleID:            uuid.New().String(),
		EventTitle:        "Team Meeting",
		AlarmTimeUTC:      now.Add(30 * time.Minute),
		EventStartUTC:     now.Add(time.Hour),
		LastEventModified: now,
		ScheduledAt:       now,
	}

	mock.ExpectExec(`INSERT INTO scheduled_alarms`).
		WithArgs(
			alarm.RequestCode, alarm.EventID, alarm.RuleID, alarm.EventTitle,
			alarm.AlarmTimeUTC, alarm.EventStartUTC, alarm.LastEventModified,
			false, alarm.ScheduledAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(ctx, alarm)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_MissingKey(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()

	err := repo.Insert(ctx, &models.ScheduledAlarm{RuleID: "r1"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "event_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	alarm := &models.ScheduledAlarm{
		RequestCode:       int32(42),
		EventID:           uuid.New().String(),
		RuleID:            uuid.New().String(),
		EventTitle:        "Team Meeting (moved)",
		AlarmTimeUTC:      now.Add(2 * time.Hour),
		EventStartUTC:     now.Add(150 * time.Minute),
		LastEventModified: now,
		UserDismissed:     false,
		ScheduledAt:       now,
	}

	mock.ExpectExec(`UPDATE scheduled_alarms`).
		WithArgs(
			alarm.EventTitle, alarm.AlarmTimeUTC, alarm.EventStartUTC,
			alarm.LastEventModified, false, alarm.ScheduledAt,
			alarm.EventID, alarm.RuleID,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(ctx, alarm)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_NotFound(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	alarm := &models.ScheduledAlarm{
		EventID: uuid.New().String(),
		RuleID:  uuid.New().String(),
	}

	mock.ExpectExec(`UPDATE scheduled_alarms`).
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), alarm.EventID, alarm.RuleID,
		).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(ctx, alarm)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDismissed_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectExec(`UPDATE scheduled_alarms`).
		WithArgs(int32(777)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	marked, err := repo.MarkDismissed(ctx, 777)

	require.NoError(t, err)
	assert.True(t, marked)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDismissed_UnknownCodeIsNotError(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectExec(`UPDATE scheduled_alarms`).
		WithArgs(int32(777)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	marked, err := repo.MarkDismissed(ctx, 777)

	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAll_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	rows := alarmRows().
		AddRow(int32(1), "e1", "r1", "One", now, now, now, false, now).
		AddRow(int32(2), "e1", "r2", "One", now, now, now, true, now)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	alarms, err := repo.ListAll(ctx)

	require.NoError(t, err)
	assert.Len(t, alarms, 2)
	assert.Equal(t, "r2", alarms[1].RuleID)
	assert.True(t, alarms[1].UserDismissed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	rows := alarmRows().
		AddRow(int32(1), "e1", "r1", "Future", now.Add(time.Hour), now, now, false, now)

	mock.ExpectQuery(`SELECT`).
		WithArgs(now).
		WillReturnRows(rows)

	alarms, err := repo.ListActive(ctx, now)

	require.NoError(t, err)
	assert.Len(t, alarms, 1)
	assert.Equal(t, "Future", alarms[0].EventTitle)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	eventID := uuid.New().String()
	ruleID := uuid.New().String()

	mock.ExpectExec(`DELETE FROM scheduled_alarms`).
		WithArgs(eventID, ruleID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(ctx, eventID, ruleID)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan_Success(t *testing.T) {
	db, mock, repo := setupMockLedgerDB(t)
	defer db.Close()

	ctx := context.Background()
	cutoff := time.Now().Add(-48 * time.Hour)

	mock.ExpectExec(`DELETE FROM scheduled_alarms`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := repo.DeleteOlderThan(ctx, cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}
