package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"calwake/internal/daytrack"
)

// CronScheduler 定时触发：周期性刷新、本地午夜边界、过期台账 GC
type CronScheduler struct {
	cron            *cron.Cron
	engine          Reconciler
	dayState        DayResetter
	loc             *time.Location
	intervalMinutes int
	logger          *zap.Logger
}

// NewCronScheduler 创建定时触发器（午夜任务按设备时区对齐）
func NewCronScheduler(engine Reconciler, dayState DayResetter, loc *time.Location, intervalMinutes int, logger *zap.Logger) *CronScheduler {
	return &CronScheduler{
		cron:            cron.New(cron.WithLocation(loc)),
		engine:          engine,
		dayState:        dayState,
		loc:             loc,
		intervalMinutes: intervalMinutes,
		logger:          logger,
	}
}

// Start 注册定时任务并启动
func (s *CronScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", s.intervalMinutes), func() {
		s.engine.Trigger(ctx, "periodic")
	}); err != nil {
		return fmt.Errorf("failed to register periodic trigger: %w", err)
	}

	// 本地午夜：清掉过期的按日状态再重算一轮
	if _, err := s.cron.AddFunc("0 0 * * *", func() {
		s.onMidnight(ctx)
	}); err != nil {
		return fmt.Errorf("failed to register midnight trigger: %w", err)
	}

	if _, err := s.cron.AddFunc("@every 1h", func() {
		if err := s.engine.SweepExpired(ctx); err != nil {
			s.logger.Error("Failed to sweep expired alarms",
				zap.Error(err),
			)
		}
	}); err != nil {
		return fmt.Errorf("failed to register gc trigger: %w", err)
	}

	s.cron.Start()

	s.logger.Info("Cron scheduler started",
		zap.Int("interval_minutes", s.intervalMinutes),
		zap.String("timezone", s.loc.String()),
	)

	return nil
}

func (s *CronScheduler) onMidnight(ctx context.Context) {
	// 时区取引擎当前值而非构造时的快照：时区变更后按旧时区算"今天"会把
	// 当日刚写入的触发标记误删。cron 条目本身仍按启动时区走，下次重启对齐
	today := daytrack.LocalDate(time.Now(), s.engine.Location())

	if err := s.dayState.ResetForNewDay(ctx, today); err != nil {
		s.logger.Error("Failed to reset day tracking state at midnight",
			zap.Error(err),
		)
	}

	s.engine.Trigger(ctx, "midnight")
}

// Stop 停止定时任务，等待在跑的任务收尾
func (s *CronScheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
