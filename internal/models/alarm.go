package models

import (
	"time"
)

// ScheduledAlarm 报警台账条目（系统对"哪些唤醒应该存在"的唯一事实来源）
// (event_id, rule_id) 是唯一键：一个事件命中 N 条规则产生 N 条独立台账
type ScheduledAlarm struct {
	RequestCode       int32     `json:"request_code" db:"request_code"`
	EventID           string    `json:"event_id" db:"event_id"`
	RuleID            string    `json:"rule_id" db:"rule_id"`
	EventTitle        string    `json:"event_title" db:"event_title"`
	AlarmTimeUTC      time.Time `json:"alarm_time_utc" db:"alarm_time_utc"`
	EventStartUTC     time.Time `json:"event_start_utc" db:"event_start_utc"`
	LastEventModified time.Time `json:"last_event_modified_utc" db:"last_event_modified_utc"`
	UserDismissed     bool      `json:"user_dismissed" db:"user_dismissed"`
	ScheduledAt       time.Time `json:"scheduled_at" db:"scheduled_at"`
}

// MatchResult 规则匹配结果：事件、命中的规则以及计算出的报警时刻
type MatchResult struct {
	Event        CalendarEvent
	Rule         Rule
	AlarmTimeUTC time.Time
}

// FailureKind 单条匹配的失败类别（见错误分级设计）
type FailureKind string

const (
	FailureScheduling  FailureKind = "scheduling"
	FailurePersistence FailureKind = "persistence"
)

// MatchFailure 单条匹配的失败记录（一条失败不得中断同批其他匹配）
type MatchFailure struct {
	EventID string
	RuleID  string
	Kind    FailureKind
	Reason  string
}

// ReconcileReport 一轮对账的聚合结果
type ReconcileReport struct {
	Scheduled        []ScheduledAlarm
	Updated          []ScheduledAlarm
	SkippedDismissed []ScheduledAlarm
	CanceledObsolete []ScheduledAlarm
	Failed           []MatchFailure
}

// SchedulerCalls 本轮实际发出的外部调度调用次数（幂等性验证用）
func (r *ReconcileReport) SchedulerCalls() int {
	return len(r.Scheduled) + len(r.Updated) + len(r.CanceledObsolete)
}
