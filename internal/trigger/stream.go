package trigger

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 触发总线消费者组。宿主端（日历变更监听、规则管理界面）往 Stream 里
// XADD 一条 {reason: ...}，引擎侧消费后触发对账。
const consumerGroup = "calwake-engine"

// StreamConsumer Redis Stream 触发总线消费者
type StreamConsumer struct {
	redisClient *redis.Client
	stream      string
	consumer    string
	engine      Reconciler
	logger      *zap.Logger
}

// NewStreamConsumer 创建触发总线消费者
func NewStreamConsumer(redisClient *redis.Client, stream, consumer string, engine Reconciler, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		redisClient: redisClient,
		stream:      stream,
		consumer:    consumer,
		engine:      engine,
		logger:      logger,
	}
}

// Start 创建消费者组并启动消费循环
func (s *StreamConsumer) Start(ctx context.Context) error {
	err := s.redisClient.XGroupCreateMkStream(ctx, s.stream, consumerGroup, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	go s.loop(ctx)

	s.logger.Info("Trigger stream consumer started",
		zap.String("stream", s.stream),
		zap.String("group", consumerGroup),
		zap.String("consumer", s.consumer),
	)

	return nil
}

func (s *StreamConsumer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Trigger stream consumer stopped")
			return
		default:
		}

		streams, err := s.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    16,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			s.logger.Error("Failed to read trigger stream",
				zap.Error(err),
			)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handleMessage(ctx, msg)
			}
		}
	}
}

func (s *StreamConsumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	reason := "trigger-bus"
	if v, ok := msg.Values["reason"].(string); ok && v != "" {
		reason = v
	}

	s.engine.Trigger(ctx, reason)

	if err := s.redisClient.XAck(ctx, s.stream, consumerGroup, msg.ID).Err(); err != nil {
		s.logger.Error("Failed to ack trigger message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}
