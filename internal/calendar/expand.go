package calendar

import (
	"time"

	"github.com/teambition/rrule-go"

	"calwake/internal/models"
)

// 单事件展开上限，防止畸形 RRULE 撑爆窗口
const maxOccurrencesPerEvent = 1000

// expandWindow 把解析后的事件展开为窗口内的具体事件实例
//
// 非重复事件按原始时间取舍；RRULE 事件展开出窗口内的每个实例，实例的
// event_id 为 "UID#实例开始时间"，保证跨轮稳定（request code 依赖它）。
// 全天事件的开始时间统一为日期的 UTC 零点。
func expandWindow(parsed []parsedEvent, calendarID string, windowStart, windowEnd time.Time) []models.CalendarEvent {
	var out []models.CalendarEvent

	for _, ev := range parsed {
		if ev.rawRRule == "" {
			if !overlaps(ev.start, ev.end, windowStart, windowEnd) {
				continue
			}
			out = append(out, toEvent(ev, calendarID, ev.start, ev.end, ev.uid))
			continue
		}

		out = append(out, expandRecurring(ev, calendarID, windowStart, windowEnd)...)
	}

	return out
}

func expandRecurring(ev parsedEvent, calendarID string, windowStart, windowEnd time.Time) []models.CalendarEvent {
	r, err := rrule.StrToRRule(ev.rawRRule)
	if err != nil {
		// 畸形 RRULE 只丢这一个事件
		return nil
	}
	r.DTStart(ev.start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.exDates {
		set.ExDate(ex.In(ev.start.Location()))
	}

	occTimes := set.Between(windowStart.In(ev.start.Location()), windowEnd.In(ev.start.Location()), true)
	if len(occTimes) > maxOccurrencesPerEvent {
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	duration := ev.end.Sub(ev.start)

	var out []models.CalendarEvent
	for _, occStart := range occTimes {
		occEnd := occStart.Add(duration)
		instanceID := ev.uid + "#" + occStart.UTC().Format(time.RFC3339)
		out = append(out, toEvent(ev, calendarID, occStart, occEnd, instanceID))
	}

	return out
}

func toEvent(ev parsedEvent, calendarID string, start, end time.Time, eventID string) models.CalendarEvent {
	event := models.CalendarEvent{
		EventID:         eventID,
		Title:           ev.summary,
		CalendarID:      calendarID,
		IsAllDay:        ev.allDay,
		LastModifiedUTC: ev.lastModified.UTC(),
	}

	if ev.allDay {
		// 全天事件约定为日期的 UTC 零点起 24 小时
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		event.StartUTC = day
		event.EndUTC = day.Add(24 * time.Hour)
	} else {
		event.StartUTC = start.UTC()
		event.EndUTC = end.UTC()
	}

	return event
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
