package daytrack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DateLayout 按日触发状态使用的本地日期格式
const DateLayout = "2006-01-02"

// 状态自然过期时间。日期推进后旧值本身已失效（比较总是按当前日期进行），
// TTL 只负责清理不再被写入的规则键。
const stateTTL = 48 * time.Hour

// Tracker 按日触发状态管理器
// 记录每条规则最近一次产生新报警的本地日期，键为 prefix+rule_id，值为日期字符串。
// 日期比较永远使用当前设备时区重新计算，不跨时区变更缓存。
type Tracker struct {
	prefix      string
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewTracker 创建按日触发状态管理器
func NewTracker(prefix string, redisClient *redis.Client, logger *zap.Logger) *Tracker {
	return &Tracker{
		prefix:      prefix,
		redisClient: redisClient,
		logger:      logger,
	}
}

// LocalDate 时间点在指定时区的日期字符串
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// TriggeredDates 读取全部规则的最近触发日期快照（匹配轮只读这个快照）
func (t *Tracker) TriggeredDates(ctx context.Context) (map[string]string, error) {
	dates := make(map[string]string)

	iter := t.redisClient.Scan(ctx, 0, t.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := t.redisClient.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue // 键在扫描与读取之间过期
			}
			return nil, fmt.Errorf("failed to read day tracking state: %w", err)
		}
		ruleID := strings.TrimPrefix(key, t.prefix)
		dates[ruleID] = val
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan day tracking keys: %w", err)
	}

	return dates, nil
}

// HasTriggered 规则在指定本地日期是否已经产生过报警
func (t *Tracker) HasTriggered(ctx context.Context, ruleID, localDate string) (bool, error) {
	val, err := t.redisClient.Get(ctx, t.prefix+ruleID).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to read day tracking state: %w", err)
	}
	return val == localDate, nil
}

// MarkTriggered 记录规则在指定本地日期已产生报警
// 只允许对账引擎在台账成功落库之后调用，保证状态与报警实际存在不发散
func (t *Tracker) MarkTriggered(ctx context.Context, ruleID, localDate string) error {
	if ruleID == "" {
		return fmt.Errorf("rule_id is required")
	}
	if localDate == "" {
		return fmt.Errorf("local_date is required")
	}

	err := t.redisClient.Set(ctx, t.prefix+ruleID, localDate, stateTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to mark rule triggered: %w", err)
	}

	t.logger.Debug("Marked rule triggered for day",
		zap.String("rule_id", ruleID),
		zap.String("local_date", localDate),
	)

	return nil
}

// ResetForNewDay 清理非当日的触发状态（本地午夜边界信号调用）
// 过期日期本来就不会再命中比较，这里只是安全网
func (t *Tracker) ResetForNewDay(ctx context.Context, today string) error {
	iter := t.redisClient.Scan(ctx, 0, t.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := t.redisClient.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return fmt.Errorf("failed to read day tracking state: %w", err)
		}
		if val != today {
			if err := t.redisClient.Del(ctx, key).Err(); err != nil {
				return fmt.Errorf("failed to reset day tracking state: %w", err)
			}
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan day tracking keys: %w", err)
	}

	return nil
}

// ForceReset 清空全部触发状态（时区变更时"今天"的边界立即移动，不能依赖旧日期）
func (t *Tracker) ForceReset(ctx context.Context) error {
	var deleted int
	iter := t.redisClient.Scan(ctx, 0, t.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := t.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to force reset day tracking state: %w", err)
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan day tracking keys: %w", err)
	}

	t.logger.Info("Day tracking state force reset",
		zap.Int("deleted", deleted),
	)

	return nil
}
