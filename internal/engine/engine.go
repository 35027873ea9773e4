// Package engine 对账引擎：把 (规则, 事件窗口, 台账) 收敛为最小调度操作集。
//
// 引擎是全量对账而非增量打补丁：每轮重新计算"应该存在哪些唤醒"，与台账
// 逐条比对，只对差异发出外部调度调用。输入不变时重跑一轮必须零调用。
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"calwake/internal/daytrack"
	"calwake/internal/matcher"
	"calwake/internal/models"
	"calwake/internal/requestcode"
)

// RuleStore 规则读取接口（消费方定义，repository.RuleRepository 实现）
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]models.Rule, error)
}

// Ledger 报警台账接口（repository.LedgerRepository 实现）
type Ledger interface {
	ListAll(ctx context.Context) ([]models.ScheduledAlarm, error)
	Insert(ctx context.Context, alarm *models.ScheduledAlarm) error
	Update(ctx context.Context, alarm *models.ScheduledAlarm) error
	Delete(ctx context.Context, eventID, ruleID string) error
	MarkDismissed(ctx context.Context, requestCode int32) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DayState 按日触发状态接口（daytrack.Tracker 实现）
type DayState interface {
	TriggeredDates(ctx context.Context) (map[string]string, error)
	MarkTriggered(ctx context.Context, ruleID, localDate string) error
	ForceReset(ctx context.Context) error
}

// WakeScheduler 外部唤醒网关接口（scheduler.Client 实现）
// 同一 request code 重复调度是覆盖语义，取消不存在的唤醒不是错误。
type WakeScheduler interface {
	ScheduleExactWake(ctx context.Context, requestCode int32, fireAt time.Time) error
	CancelWake(ctx context.Context, requestCode int32) error
	CanScheduleExact(ctx context.Context) (bool, error)
}

// EventSource 日历事件源接口（calendar.Source 实现）
// 每轮返回当前滚动窗口内的全部事件，引擎不保留跨轮事件副本。
type EventSource interface {
	FetchEvents(ctx context.Context, now time.Time) ([]models.CalendarEvent, error)
}

// Engine 对账引擎
type Engine struct {
	ruleStore RuleStore
	ledger    Ledger
	dayState  DayState
	scheduler WakeScheduler
	events    EventSource
	settings  models.Settings
	retention time.Duration
	logger    *zap.Logger

	// 设备时区可在运行中变更（时区信号），读写都走锁
	locMu sync.RWMutex
	loc   *time.Location

	// 单飞控制：任何时刻至多一轮对账在跑，重叠触发合并为一次待执行
	runMu   sync.Mutex
	running bool
	pending bool

	// 测试注入点
	nowFunc func() time.Time
}

// NewEngine 创建对账引擎
func NewEngine(
	ruleStore RuleStore,
	ledger Ledger,
	dayState DayState,
	scheduler WakeScheduler,
	events EventSource,
	settings models.Settings,
	loc *time.Location,
	retention time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		ruleStore: ruleStore,
		ledger:    ledger,
		dayState:  dayState,
		scheduler: scheduler,
		events:    events,
		settings:  settings,
		retention: retention,
		logger:    logger,
		loc:       loc,
		nowFunc:   time.Now,
	}
}

// Location 当前设备时区
func (e *Engine) Location() *time.Location {
	e.locMu.RLock()
	defer e.locMu.RUnlock()
	return e.loc
}

// Trigger 触发一轮对账（单飞 + 合并）
//
// 正在对账时的触发不排队、不并发，只置一个待执行标记；当前轮结束后
// 合并补跑一次。调用方（定时器、触发总线消费者）在自己的 goroutine 里
// 同步调用。
func (e *Engine) Trigger(ctx context.Context, reason string) {
	e.runMu.Lock()
	if e.running {
		e.pending = true
		e.runMu.Unlock()
		e.logger.Debug("Reconcile already running, coalescing trigger",
			zap.String("reason", reason),
		)
		return
	}
	e.running = true
	e.runMu.Unlock()

	for {
		report, err := e.Reconcile(ctx)
		if err != nil {
			e.logger.Error("Reconcile pass failed",
				zap.String("reason", reason),
				zap.Error(err),
			)
		} else {
			e.logger.Info("Reconcile pass completed",
				zap.String("reason", reason),
				zap.Int("scheduled", len(report.Scheduled)),
				zap.Int("updated", len(report.Updated)),
				zap.Int("skipped_dismissed", len(report.SkippedDismissed)),
				zap.Int("canceled_obsolete", len(report.CanceledObsolete)),
				zap.Int("failed", len(report.Failed)),
			)
		}

		e.runMu.Lock()
		if !e.pending {
			e.running = false
			e.runMu.Unlock()
			return
		}
		e.pending = false
		e.runMu.Unlock()
		reason = "coalesced"
	}
}

// Reconcile 执行一轮完整对账
//
// 流程：能力检查 → 拉取事件/规则/按日状态/台账 → 匹配 → 逐条差异比对 →
// 清理孤儿台账。单条匹配的失败记入报告，不中断其余匹配。
func (e *Engine) Reconcile(ctx context.Context) (*models.ReconcileReport, error) {
	now := e.nowFunc().UTC()
	loc := e.Location()
	report := &models.ReconcileReport{}

	// 精确调度能力被收回时停止排新唤醒，但不取消已有的：能力丢失
	// 不代表事件消失，销毁是不可逆的
	canExact, err := e.scheduler.CanScheduleExact(ctx)
	if err != nil {
		return nil, newSourceError("failed to probe scheduler capability", err)
	}
	if !canExact {
		e.logger.Warn("Exact wake capability unavailable, skipping reconcile pass")
		return report, nil
	}

	events, err := e.events.FetchEvents(ctx, now)
	if err != nil {
		return nil, newSourceError("failed to fetch calendar events", err)
	}

	rules, err := e.ruleStore.ListEnabledRules(ctx)
	if err != nil {
		return nil, newSourceError("failed to list rules", err)
	}

	dayState, err := e.dayState.TriggeredDates(ctx)
	if err != nil {
		return nil, newSourceError("failed to read day tracking state", err)
	}

	existing, err := e.ledger.ListAll(ctx)
	if err != nil {
		return nil, newSourceError("failed to list alarm ledger", err)
	}

	matches, suppressed, invalidRules := matcher.Match(events, rules, dayState, e.settings, now, loc)
	for _, ruleID := range invalidRules {
		e.logger.Warn("Skipping rule with invalid pattern",
			zap.String("rule_id", ruleID),
		)
	}

	ledgerIndex := make(map[string]*models.ScheduledAlarm, len(existing))
	for i := range existing {
		ledgerIndex[ledgerKey(existing[i].EventID, existing[i].RuleID)] = &existing[i]
	}

	seen := make(map[string]bool, len(matches))
	codes := make(map[int32]string, len(matches))
	for _, match := range matches {
		key := ledgerKey(match.Event.EventID, match.Rule.RuleID)
		seen[key] = true

		// request code 碰撞接受不解决：同一轮内撞上只告警，后来者覆盖前者的唤醒
		code := requestcode.For(match.Event.EventID, match.Rule.RuleID)
		if prev, ok := codes[code]; ok {
			e.logger.Warn("Request code collision",
				zap.Int32("request_code", code),
				zap.String("first", prev),
				zap.String("second", key),
			)
		} else {
			codes[code] = key
		}

		e.reconcileMatch(ctx, match, ledgerIndex[key], now, loc, report)
	}

	// 按日闸门拦下的候选只禁止排新报警。已有台账的条目仍然命中，照常
	// 参与差异比对——否则上一轮刚排好的当日报警会在下一轮被当孤儿撤掉
	for _, match := range suppressed {
		key := ledgerKey(match.Event.EventID, match.Rule.RuleID)
		existing := ledgerIndex[key]
		if existing == nil {
			continue
		}
		seen[key] = true
		e.reconcileMatch(ctx, match, existing, now, loc, report)
	}

	// 孤儿台账：事件移出窗口或不再命中规则，未来的唤醒要撤掉。
	// 报警时刻已过的台账不动，留给保留期 GC。
	for i := range existing {
		entry := &existing[i]
		if seen[ledgerKey(entry.EventID, entry.RuleID)] {
			continue
		}
		if !entry.AlarmTimeUTC.After(now) {
			continue
		}

		if err := e.scheduler.CancelWake(ctx, entry.RequestCode); err != nil {
			report.Failed = append(report.Failed, models.MatchFailure{
				EventID: entry.EventID,
				RuleID:  entry.RuleID,
				Kind:    models.FailureScheduling,
				Reason:  err.Error(),
			})
			continue
		}
		if err := e.ledger.Delete(ctx, entry.EventID, entry.RuleID); err != nil {
			report.Failed = append(report.Failed, models.MatchFailure{
				EventID: entry.EventID,
				RuleID:  entry.RuleID,
				Kind:    models.FailurePersistence,
				Reason:  err.Error(),
			})
			continue
		}
		report.CanceledObsolete = append(report.CanceledObsolete, *entry)
	}

	return report, nil
}

// reconcileMatch 单条匹配与台账的差异比对
func (e *Engine) reconcileMatch(
	ctx context.Context,
	match models.MatchResult,
	existing *models.ScheduledAlarm,
	now time.Time,
	loc *time.Location,
	report *models.ReconcileReport,
) {
	if existing == nil {
		e.scheduleNew(ctx, match, now, loc, report)
		return
	}

	// 事件内容变更（last_modified 严格递增）：复活。驳回标记清除，
	// 用户驳回的是旧版本的事件
	if match.Event.LastModifiedUTC.After(existing.LastEventModified) {
		e.reschedule(ctx, match, existing, now, loc, report)
		return
	}

	// 事件未变且已驳回：驳回粘滞，不重排
	if existing.UserDismissed {
		report.SkippedDismissed = append(report.SkippedDismissed, *existing)
		return
	}

	// 事件未变但报警时刻不同（规则提前量或全天默认时刻被改）
	if !existing.AlarmTimeUTC.Equal(match.AlarmTimeUTC) {
		e.reschedule(ctx, match, existing, now, loc, report)
		return
	}

	// 完全一致：零操作，这是幂等性的来源
}

// scheduleNew 新匹配：生成 request code，调度成功后落库
func (e *Engine) scheduleNew(ctx context.Context, match models.MatchResult, now time.Time, loc *time.Location, report *models.ReconcileReport) {
	code := requestcode.For(match.Event.EventID, match.Rule.RuleID)

	if err := e.scheduler.ScheduleExactWake(ctx, code, match.AlarmTimeUTC); err != nil {
		e.logger.Error("Failed to schedule wake",
			zap.Int32("request_code", code),
			zap.String("event_id", match.Event.EventID),
			zap.String("rule_id", match.Rule.RuleID),
			zap.Error(err),
		)
		report.Failed = append(report.Failed, models.MatchFailure{
			EventID: match.Event.EventID,
			RuleID:  match.Rule.RuleID,
			Kind:    models.FailureScheduling,
			Reason:  err.Error(),
		})
		return
	}

	alarm := models.ScheduledAlarm{
		RequestCode:       code,
		EventID:           match.Event.EventID,
		RuleID:            match.Rule.RuleID,
		EventTitle:        match.Event.Title,
		AlarmTimeUTC:      match.AlarmTimeUTC,
		EventStartUTC:     match.Event.StartUTC,
		LastEventModified: match.Event.LastModifiedUTC,
		ScheduledAt:       now,
	}

	if err := e.ledger.Insert(ctx, &alarm); err != nil {
		// 调度已发出但台账缺失，下一轮对同一 code 重新调度即收敛
		report.Failed = append(report.Failed, models.MatchFailure{
			EventID: match.Event.EventID,
			RuleID:  match.Rule.RuleID,
			Kind:    models.FailurePersistence,
			Reason:  err.Error(),
		})
		return
	}

	report.Scheduled = append(report.Scheduled, alarm)
	e.commitDayState(ctx, match, loc)
}

// reschedule 已有台账的重排：同一 request code 覆盖调度，更新落库
func (e *Engine) reschedule(ctx context.Context, match models.MatchResult, existing *models.ScheduledAlarm, now time.Time, loc *time.Location, report *models.ReconcileReport) {
	if err := e.scheduler.ScheduleExactWake(ctx, existing.RequestCode, match.AlarmTimeUTC); err != nil {
		report.Failed = append(report.Failed, models.MatchFailure{
			EventID: match.Event.EventID,
			RuleID:  match.Rule.RuleID,
			Kind:    models.FailureScheduling,
			Reason:  err.Error(),
		})
		return
	}

	alarm := models.ScheduledAlarm{
		RequestCode:       existing.RequestCode,
		EventID:           match.Event.EventID,
		RuleID:            match.Rule.RuleID,
		EventTitle:        match.Event.Title,
		AlarmTimeUTC:      match.AlarmTimeUTC,
		EventStartUTC:     match.Event.StartUTC,
		LastEventModified: match.Event.LastModifiedUTC,
		UserDismissed:     false,
		ScheduledAt:       now,
	}

	if err := e.ledger.Update(ctx, &alarm); err != nil {
		report.Failed = append(report.Failed, models.MatchFailure{
			EventID: match.Event.EventID,
			RuleID:  match.Rule.RuleID,
			Kind:    models.FailurePersistence,
			Reason:  err.Error(),
		})
		return
	}

	report.Updated = append(report.Updated, alarm)
	e.commitDayState(ctx, match, loc)
}

// commitDayState 台账落库成功后才提交按日触发标记
// 标记失败只记日志：最坏情形是当日多触发一次，比堵死当日要好
func (e *Engine) commitDayState(ctx context.Context, match models.MatchResult, loc *time.Location) {
	if !match.Rule.FirstEventOfDay {
		return
	}

	localDate := daytrack.LocalDate(match.AlarmTimeUTC, loc)
	if err := e.dayState.MarkTriggered(ctx, match.Rule.RuleID, localDate); err != nil {
		e.logger.Error("Failed to commit day tracking state",
			zap.String("rule_id", match.Rule.RuleID),
			zap.String("local_date", localDate),
			zap.Error(err),
		)
	}
}

// HandleDismissal 处理用户驳回信号
// code 未命中台账不是错误：信号可能晚于 GC 或事件删除到达
func (e *Engine) HandleDismissal(ctx context.Context, requestCode int32) error {
	marked, err := e.ledger.MarkDismissed(ctx, requestCode)
	if err != nil {
		return err
	}

	if marked {
		e.logger.Info("Alarm dismissed by user",
			zap.Int32("request_code", requestCode),
		)
	} else {
		e.logger.Warn("Dismissal signal for unknown request code",
			zap.Int32("request_code", requestCode),
		)
	}

	return nil
}

// HandleTimezoneChange 处理设备时区变更
// "今天"的边界立即移动，按日状态全部作废，随后触发一轮重算
func (e *Engine) HandleTimezoneChange(ctx context.Context, timezoneID string) error {
	loc, err := time.LoadLocation(timezoneID)
	if err != nil {
		return &ReconcileError{
			Code:    ErrCodeSourceUnavailable,
			Message: "unknown timezone: " + timezoneID,
			Err:     err,
		}
	}

	e.locMu.Lock()
	e.loc = loc
	e.locMu.Unlock()

	if err := e.dayState.ForceReset(ctx); err != nil {
		return err
	}

	e.logger.Info("Device timezone changed",
		zap.String("timezone_id", timezoneID),
	)

	e.Trigger(ctx, "timezone-change")
	return nil
}

// SweepExpired 清理报警时刻超出保留期的台账（GC 定时任务调用）
func (e *Engine) SweepExpired(ctx context.Context) error {
	cutoff := e.nowFunc().UTC().Add(-e.retention)

	deleted, err := e.ledger.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		e.logger.Info("Swept expired alarm ledger entries",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}

	return nil
}

func ledgerKey(eventID, ruleID string) string {
	return eventID + "|" + ruleID
}
