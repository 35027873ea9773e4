// Package scheduler 外部唤醒网关客户端。
//
// 网关是实际向操作系统下发精确唤醒的守护进程；本客户端只负责 HTTP 调用。
// 同一 request code 的重复调度是覆盖语义，取消不存在的唤醒按成功处理。
package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// wakeRequest 调度唤醒请求体
type wakeRequest struct {
	RequestCode int32     `json:"request_code"`
	FireAt      time.Time `json:"fire_at"`
}

// capabilityResponse 能力探测响应体
type capabilityResponse struct {
	CanScheduleExact bool `json:"can_schedule_exact"`
}

// Client 唤醒网关 HTTP 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建唤醒网关客户端
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// ScheduleExactWake 下发一条精确唤醒（同 code 覆盖已有唤醒）
func (c *Client) ScheduleExactWake(ctx context.Context, requestCode int32, fireAt time.Time) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(wakeRequest{
			RequestCode: requestCode,
			FireAt:      fireAt.UTC(),
		}).
		Post("/v1/wakes")

	if err != nil {
		return fmt.Errorf("failed to call wake gateway: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Wake gateway rejected schedule request",
			zap.Int32("request_code", requestCode),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("wake gateway error: status %d", resp.StatusCode())
	}

	c.logger.Debug("Scheduled exact wake",
		zap.Int32("request_code", requestCode),
		zap.Time("fire_at", fireAt.UTC()),
	)

	return nil
}

// CancelWake 撤销一条唤醒
// 网关返回 404 表示唤醒不存在，与目标状态一致，按成功处理
func (c *Client) CancelWake(ctx context.Context, requestCode int32) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/v1/wakes/%d", requestCode))

	if err != nil {
		return fmt.Errorf("failed to call wake gateway: %w", err)
	}

	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		c.logger.Error("Wake gateway rejected cancel request",
			zap.Int32("request_code", requestCode),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("wake gateway error: status %d", resp.StatusCode())
	}

	c.logger.Debug("Canceled wake",
		zap.Int32("request_code", requestCode),
	)

	return nil
}

// CanScheduleExact 探测精确调度能力是否可用
func (c *Client) CanScheduleExact(ctx context.Context) (bool, error) {
	var capability capabilityResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&capability).
		Get("/v1/capability")

	if err != nil {
		return false, fmt.Errorf("failed to probe wake gateway capability: %w", err)
	}

	if resp.IsError() {
		return false, fmt.Errorf("wake gateway error: status %d", resp.StatusCode())
	}

	return capability.CanScheduleExact, nil
}
