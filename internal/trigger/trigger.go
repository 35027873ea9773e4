// Package trigger 对账触发层：定时任务、Redis Stream 触发总线与 MQTT 信号。
//
// 触发层只负责把外部信号翻译成引擎调用，本身不含对账逻辑；重叠触发的
// 合并由引擎的单飞控制完成。
package trigger

import (
	"context"
	"time"
)

// Reconciler 触发层对引擎的依赖（engine.Engine 实现）
type Reconciler interface {
	Trigger(ctx context.Context, reason string)
	HandleDismissal(ctx context.Context, requestCode int32) error
	HandleTimezoneChange(ctx context.Context, timezoneID string) error
	SweepExpired(ctx context.Context) error
	Location() *time.Location
}

// DayResetter 午夜边界的按日状态清理（daytrack.Tracker 实现）
type DayResetter interface {
	ResetForNewDay(ctx context.Context, today string) error
}
