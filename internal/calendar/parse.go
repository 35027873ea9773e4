// Package calendar ICS 日历订阅源：拉取、解析并把滚动窗口内的事件
// 展开成引擎消费的标准事件。
package calendar

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// parsedEvent VEVENT 的标准化中间表示（窗口展开在 expand.go 进行）
type parsedEvent struct {
	uid          string
	summary      string
	start        time.Time
	end          time.Time
	allDay       bool
	rawRRule     string
	exDates      []time.Time
	lastModified time.Time
}

// parseCalendar 解析一份 ICS 文本
// 单个 VEVENT 解析失败跳过，不中断整份日历
func parseCalendar(body []byte) ([]parsedEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ICS: %w", err)
	}

	var events []parsedEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, fmt.Errorf("missing UID")
	}
	out.uid = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("missing DTSTART: %w", err)
	}
	out.start = start

	if end, err := ve.GetEndAt(); err == nil {
		out.end = end
	} else {
		out.end = start.Add(time.Hour)
	}

	// 全天判定：VALUE=DATE 参数或值里没有时间部分
	if dtStart := ve.GetProperty(ical.ComponentPropertyDtStart); dtStart != nil {
		if params := dtStart.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.allDay = true
			}
		}
		if !strings.Contains(dtStart.Value, "T") {
			out.allDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.rawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := propertyLocation(p)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTimeIn(part, loc); err == nil {
				out.exDates = append(out.exDates, t)
			}
		}
	}

	// 变更戳：LAST-MODIFIED 优先，缺失时退回 DTSTAMP
	out.lastModified = parseModifiedStamp(ve)

	return out, nil
}

// parseModifiedStamp 事件的最后修改时间（复活判定的依据）
func parseModifiedStamp(ve *ical.VEvent) time.Time {
	if p := ve.GetProperty("LAST-MODIFIED"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			return t
		}
	}
	if p := ve.GetProperty("DTSTAMP"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			return t
		}
	}
	return time.Time{}
}

// propertyLocation 属性 TZID 参数对应的时区；无参数或无法加载时退回 UTC
func propertyLocation(p *ical.IANAProperty) *time.Location {
	if p == nil || p.ICalParameters == nil {
		return time.UTC
	}
	tzids, ok := p.ICalParameters["TZID"]
	if !ok || len(tzids) == 0 {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzids[0])
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseICSTime 解析基本的 ICS 日期/时间值（UTC、本地、纯日期三种形式）
func parseICSTime(v string) (time.Time, error) {
	return parseICSTimeIn(v, time.UTC)
}

// parseICSTimeIn 同 parseICSTime，无 Z 后缀的值按 loc 解释（EXDATE 带 TZID 时）
func parseICSTimeIn(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
