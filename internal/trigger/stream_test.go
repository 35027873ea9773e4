package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReconciler struct {
	mu        sync.Mutex
	reasons   []string
	dismissed []int32
	timezones []string
	sweeps    int
	loc       *time.Location
}

func (f *fakeReconciler) Trigger(ctx context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeReconciler) HandleDismissal(ctx context.Context, requestCode int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, requestCode)
	return nil
}

func (f *fakeReconciler) HandleTimezoneChange(ctx context.Context, timezoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timezones = append(f.timezones, timezoneID)
	return nil
}

func (f *fakeReconciler) SweepExpired(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return nil
}

func (f *fakeReconciler) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loc == nil {
		return time.UTC
	}
	return f.loc
}

func (f *fakeReconciler) triggerReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func TestStreamConsumer_TriggersOnMessage(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	engine := &fakeReconciler{}

	consumer := NewStreamConsumer(redisClient, "calwake:triggers", "consumer-1", engine, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Start(ctx))

	_, err := redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: "calwake:triggers",
		Values: map[string]interface{}{"reason": "calendar-change"},
	}).Result()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		reasons := engine.triggerReasons()
		return len(reasons) == 1 && reasons[0] == "calendar-change"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStreamConsumer_DefaultReason(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	engine := &fakeReconciler{}

	consumer := NewStreamConsumer(redisClient, "calwake:triggers", "consumer-1", engine, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, consumer.Start(ctx))

	_, err := redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: "calwake:triggers",
		Values: map[string]interface{}{"origin": "unknown"},
	}).Result()
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		reasons := engine.triggerReasons()
		return len(reasons) == 1 && reasons[0] == "trigger-bus"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStreamConsumer_StartIsIdempotent(t *testing.T) {
	// 消费者组已存在（BUSYGROUP）不算启动失败
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := NewStreamConsumer(redisClient, "calwake:triggers", "consumer-1", &fakeReconciler{}, zap.NewNop())
	require.NoError(t, first.Start(ctx))

	second := NewStreamConsumer(redisClient, "calwake:triggers", "consumer-2", &fakeReconciler{}, zap.NewNop())
	require.NoError(t, second.Start(ctx))
}
