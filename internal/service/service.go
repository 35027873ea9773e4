package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"calwake/internal/calendar"
	"calwake/internal/config"
	"calwake/internal/daytrack"
	"calwake/internal/engine"
	"calwake/internal/models"
	"calwake/internal/repository"
	"calwake/internal/scheduler"
	"calwake/internal/trigger"
)

// WakeService 日历唤醒服务（整合各层）
type WakeService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	ruleRepo       *repository.RuleRepository
	ledgerRepo     *repository.LedgerRepository
	dayTracker     *daytrack.Tracker
	wakeClient     *scheduler.Client
	eventSource    *calendar.Source
	engine         *engine.Engine
	cronScheduler  *trigger.CronScheduler
	streamConsumer *trigger.StreamConsumer
	mqttConsumer   *trigger.MQTTConsumer
}

// NewWakeService 创建日历唤醒服务
func NewWakeService(cfg *config.Config, logger *zap.Logger) (*WakeService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 设备时区与全天默认时刻
	loc, err := deviceLocation(cfg)
	if err != nil {
		return nil, err
	}

	allDayClock, err := models.ParseAllDayClock(cfg.Reconcile.AllDayAlarmTime, cfg.Reconcile.AllDayDayOffset)
	if err != nil {
		return nil, fmt.Errorf("invalid all_day_alarm_time: %w", err)
	}

	// 4. 创建 Repository 层
	ruleRepo := repository.NewRuleRepository(db, logger)
	ledgerRepo := repository.NewLedgerRepository(db, logger)

	// 5. 状态与外部依赖
	dayTracker := daytrack.NewTracker(cfg.Reconcile.DayTrackPrefix, redisClient, logger)

	wakeClient := scheduler.NewClient(
		cfg.Scheduler.BaseURL,
		time.Duration(cfg.Scheduler.TimeoutSeconds)*time.Second,
		logger,
	)

	eventSource := calendar.NewSource(
		cfg.Calendar.Sources,
		time.Duration(cfg.Calendar.LookaheadHours)*time.Hour,
		time.Duration(cfg.Calendar.FetchTimeout)*time.Second,
		logger,
	)

	// 6. 对账引擎
	eng := engine.NewEngine(
		ruleRepo,
		ledgerRepo,
		dayTracker,
		wakeClient,
		eventSource,
		models.Settings{AllDayAlarm: allDayClock},
		loc,
		time.Duration(cfg.Reconcile.RetentionHours)*time.Hour,
		logger,
	)

	// 7. 触发层
	cronScheduler := trigger.NewCronScheduler(eng, dayTracker, loc, cfg.Reconcile.IntervalMinutes, logger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "calwake"
	}
	streamConsumer := trigger.NewStreamConsumer(redisClient, cfg.Reconcile.TriggerStream, hostname, eng, logger)

	mqttConsumer, err := trigger.NewMQTTConsumer(cfg, eng, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create MQTT consumer: %w", err)
	}

	return &WakeService{
		config:         cfg,
		db:             db,
		redisClient:    redisClient,
		logger:         logger,
		ruleRepo:       ruleRepo,
		ledgerRepo:     ledgerRepo,
		dayTracker:     dayTracker,
		wakeClient:     wakeClient,
		eventSource:    eventSource,
		engine:         eng,
		cronScheduler:  cronScheduler,
		streamConsumer: streamConsumer,
		mqttConsumer:   mqttConsumer,
	}, nil
}

// Start 启动服务：先全量对账一轮（设备重启后恢复状态），再挂上触发层
func (s *WakeService) Start(ctx context.Context) error {
	s.logger.Info("Starting wake service")

	s.engine.Trigger(ctx, "startup")

	if err := s.cronScheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cron scheduler: %w", err)
	}

	if err := s.streamConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start trigger stream consumer: %w", err)
	}

	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *WakeService) Stop() error {
	s.logger.Info("Stopping wake service")

	s.cronScheduler.Stop()
	s.mqttConsumer.Stop()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// buildDSN 构建数据库连接字符串
func buildDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.SSLMode,
	)
}

// deviceLocation 解析配置的设备时区，空值退回进程本地时区
func deviceLocation(cfg *config.Config) (*time.Location, error) {
	if cfg.Reconcile.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(cfg.Reconcile.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Reconcile.Timezone, err)
	}
	return loc, nil
}
