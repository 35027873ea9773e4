package daytrack

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestTracker(t *testing.T) (*miniredis.Miniredis, *Tracker) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	logger := zap.NewNop()
	tracker := NewTracker("calwake:daytrack:", redisClient, logger)

	return mr, tracker
}

func TestTracker_MarkAndHasTriggered(t *testing.T) {
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	triggered, err := tracker.HasTriggered(ctx, "rule-1", "2026-08-31")
	require.NoError(t, err)
	assert.False(t, triggered)

	err = tracker.MarkTriggered(ctx, "rule-1", "2026-08-31")
	require.NoError(t, err)

	triggered, err = tracker.HasTriggered(ctx, "rule-1", "2026-08-31")
	require.NoError(t, err)
	assert.True(t, triggered)
}

func TestTracker_StaleDateSuperseded(t *testing.T) {
	// 昨天的标记在日期推进后自然失效，无需显式重置
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkTriggered(ctx, "rule-1", "2026-08-30"))

	triggered, err := tracker.HasTriggered(ctx, "rule-1", "2026-08-31")
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestTracker_TriggeredDatesSnapshot(t *testing.T) {
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkTriggered(ctx, "rule-1", "2026-08-31"))
	require.NoError(t, tracker.MarkTriggered(ctx, "rule-2", "2026-08-30"))

	dates, err := tracker.TriggeredDates(ctx)
	require.NoError(t, err)

	assert.Len(t, dates, 2)
	assert.Equal(t, "2026-08-31", dates["rule-1"])
	assert.Equal(t, "2026-08-30", dates["rule-2"])
}

func TestTracker_ResetForNewDay(t *testing.T) {
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkTriggered(ctx, "rule-old", "2026-08-30"))
	require.NoError(t, tracker.MarkTriggered(ctx, "rule-today", "2026-08-31"))

	err := tracker.ResetForNewDay(ctx, "2026-08-31")
	require.NoError(t, err)

	dates, err := tracker.TriggeredDates(ctx)
	require.NoError(t, err)

	// 当日的标记保留，过期的被清理
	assert.Len(t, dates, 1)
	assert.Equal(t, "2026-08-31", dates["rule-today"])
}

func TestTracker_ForceReset(t *testing.T) {
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkTriggered(ctx, "rule-1", "2026-08-31"))
	require.NoError(t, tracker.MarkTriggered(ctx, "rule-2", "2026-08-31"))

	err := tracker.ForceReset(ctx)
	require.NoError(t, err)

	dates, err := tracker.TriggeredDates(ctx)
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestTracker_MarkTriggered_Validation(t *testing.T) {
	_, tracker := setupTestTracker(t)
	ctx := context.Background()

	err := tracker.MarkTriggered(ctx, "", "2026-08-31")
	assert.Error(t, err)

	err = tracker.MarkTriggered(ctx, "rule-1", "")
	assert.Error(t, err)
}

func TestLocalDate(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// UTC 凌晨 03:00 在纽约仍是前一天
	instant := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-30", LocalDate(instant, loc))
	assert.Equal(t, "2026-08-31", LocalDate(instant, time.UTC))
}
