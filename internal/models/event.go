package models

import (
	"time"
)

// CalendarEvent 日历事件（由日历源每轮刷新提供，核心不保留长期副本）
type CalendarEvent struct {
	EventID         string    `json:"event_id"`
	Title           string    `json:"title"`
	StartUTC        time.Time `json:"start_utc"`
	EndUTC          time.Time `json:"end_utc"`
	CalendarID      string    `json:"calendar_id"`
	IsAllDay        bool      `json:"is_all_day"`
	TimezoneID      string    `json:"timezone_id"`
	LastModifiedUTC time.Time `json:"last_modified_utc"`
}

// LocalDate 事件开始时间在指定时区的本地日期
func (e *CalendarEvent) LocalDate(loc *time.Location) time.Time {
	local := e.StartUTC.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
