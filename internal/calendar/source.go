package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"calwake/internal/config"
	"calwake/internal/models"
)

// Source ICS 订阅源集合（engine.EventSource 的实现）
type Source struct {
	sources    []config.CalendarSource
	httpClient *resty.Client
	lookahead  time.Duration
	logger     *zap.Logger
}

// NewSource 创建日历事件源
func NewSource(sources []config.CalendarSource, lookahead, fetchTimeout time.Duration, logger *zap.Logger) *Source {
	client := resty.New().
		SetTimeout(fetchTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Accept", "text/calendar")

	return &Source{
		sources:    sources,
		httpClient: client,
		lookahead:  lookahead,
		logger:     logger,
	}
}

// FetchEvents 拉取全部订阅源并展开滚动窗口 [now, now+lookahead] 内的事件
//
// 单个源失败跳过并记日志，剩余源照常参与；全部源都失败才算整轮失败，
// 由引擎放弃本轮对账（旧台账原样保留，比按空事件集清空要安全）。
func (s *Source) FetchEvents(ctx context.Context, now time.Time) ([]models.CalendarEvent, error) {
	windowStart := now
	windowEnd := now.Add(s.lookahead)

	var all []models.CalendarEvent
	failed := 0

	for _, src := range s.sources {
		body, err := s.fetch(ctx, src.URL)
		if err != nil {
			s.logger.Error("Failed to fetch calendar source",
				zap.String("calendar_id", src.ID),
				zap.Error(err),
			)
			failed++
			continue
		}

		parsed, err := parseCalendar(body)
		if err != nil {
			s.logger.Error("Failed to parse calendar source",
				zap.String("calendar_id", src.ID),
				zap.Error(err),
			)
			failed++
			continue
		}

		events := expandWindow(parsed, src.ID, windowStart, windowEnd)
		s.logger.Debug("Fetched calendar source",
			zap.String("calendar_id", src.ID),
			zap.Int("parsed", len(parsed)),
			zap.Int("in_window", len(events)),
		)

		all = append(all, events...)
	}

	if len(s.sources) > 0 && failed == len(s.sources) {
		return nil, fmt.Errorf("all %d calendar sources failed", failed)
	}

	return all, nil
}

func (s *Source) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ICS: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ICS endpoint error: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
