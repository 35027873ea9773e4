package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AllDayClock 全天事件的默认报警时刻（时:分 + 相对事件日期的天偏移）
// 例如"前一天 21:00"为 {Hour:21, Minute:0, DayOffset:-1}
// 全天事件不叠加规则的提前量，默认时刻本身已经表达了期望的偏移
type AllDayClock struct {
	Hour      int `json:"hour" yaml:"hour"`
	Minute    int `json:"minute" yaml:"minute"`
	DayOffset int `json:"day_offset" yaml:"day_offset"`
}

// ParseAllDayClock 解析 "HH:MM" 形式的时刻字符串
func ParseAllDayClock(s string, dayOffset int) (AllDayClock, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return AllDayClock{}, fmt.Errorf("invalid clock value: %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return AllDayClock{}, fmt.Errorf("invalid hour in clock value: %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return AllDayClock{}, fmt.Errorf("invalid minute in clock value: %q", s)
	}
	return AllDayClock{Hour: hour, Minute: minute, DayOffset: dayOffset}, nil
}

// On 计算指定本地日期上该时刻对应的时间点（返回 loc 时区的时间）
func (c AllDayClock) On(localDate time.Time, loc *time.Location) time.Time {
	return time.Date(
		localDate.Year(), localDate.Month(), localDate.Day(),
		c.Hour, c.Minute, 0, 0, loc,
	).AddDate(0, 0, c.DayOffset)
}

// Settings 传入每轮匹配/对账的显式配置值
// 作为参数传递而非读全局状态，保证引擎行为是输入的纯函数
type Settings struct {
	AllDayAlarm AllDayClock
}
