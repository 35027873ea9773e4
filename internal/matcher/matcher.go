// Package matcher 将 (事件, 规则, 按日状态) 映射为候选报警集合。
//
// 匹配是纯函数：不读全局状态、不写按日状态、不做任何 I/O。按日触发标记的
// 提交属于对账引擎，且只在外部唤醒成功落库之后进行，避免调度失败悄悄
// 堵死当日的后续尝试。
package matcher

import (
	"sort"
	"time"

	"calwake/internal/models"
)

// Match 对一批事件执行全部启用规则，返回候选报警、被按日闸门拦下的候选
// 与无效规则列表
//
// dayState 是按日触发状态快照（rule_id → 最近触发的本地日期），只读。
// loc 是当前设备时区；全天事件与按日去重的日期计算都以它为准。
// suppressed 里的候选只是"当日不排新报警"，并非不再命中：已有台账的
// 对应条目仍然有效，由引擎决定去留，匹配层不替它做取消决定。
// 无效规则（空模式或正则无法编译）跳过并上报，不中断整轮匹配。
func Match(
	events []models.CalendarEvent,
	rules []models.Rule,
	dayState map[string]string,
	settings models.Settings,
	now time.Time,
	loc *time.Location,
) (results, suppressed []models.MatchResult, invalidRules []string) {
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}

		compiled := rule.Compile()
		if compiled == nil {
			invalidRules = append(invalidRules, rule.RuleID)
			continue
		}

		candidates := matchRule(events, compiled, settings, now, loc)

		if rule.FirstEventOfDay {
			kept, gated := gateFirstOfDay(candidates, dayState[rule.RuleID], loc)
			results = append(results, kept...)
			suppressed = append(suppressed, gated...)
			continue
		}

		results = append(results, candidates...)
	}

	return results, suppressed, invalidRules
}

// matchRule 单条规则的作用域过滤、标题匹配与报警时刻计算
func matchRule(
	events []models.CalendarEvent,
	compiled *models.CompiledRule,
	settings models.Settings,
	now time.Time,
	loc *time.Location,
) []models.MatchResult {
	rule := compiled.Rule
	var out []models.MatchResult

	for _, event := range events {
		if !rule.InScope(event.CalendarID) {
			continue
		}
		if !compiled.MatchTitle(event.Title) {
			continue
		}

		alarmTime := AlarmTime(event, rule, settings, loc)
		if !alarmTime.After(now) {
			// 报警时刻已经过去，无法再排唤醒
			continue
		}

		out = append(out, models.MatchResult{
			Event:        event,
			Rule:         *rule,
			AlarmTimeUTC: alarmTime,
		})
	}

	// 按事件开始时间稳定排序，保证多次匹配输出一致
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Event.StartUTC.Before(out[j].Event.StartUTC)
	})

	return out
}

// AlarmTime 计算事件在规则下的报警时刻（UTC）
//
// 定时事件：开始时间减去规则提前量。
// 全天事件：事件日期（全天事件的开始时间约定为日期的 UTC 零点）套用全局
// 默认报警时刻后按设备当前时区转 UTC。提前量对全天事件永不生效——默认
// 时刻本身已表达期望的偏移，这是固定设计而非缺陷。
func AlarmTime(event models.CalendarEvent, rule *models.Rule, settings models.Settings, loc *time.Location) time.Time {
	if event.IsAllDay {
		day := event.StartUTC.UTC()
		localDate := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		return settings.AllDayAlarm.On(localDate, loc).UTC()
	}

	return event.StartUTC.Add(-time.Duration(rule.LeadTimeMinutes) * time.Minute).UTC()
}

// gateFirstOfDay 按日首个事件过滤
//
// 去重键取报警时刻的本地日期（而非事件的本地日期）：提前量把报警推过
// 本地午夜时，以报警落在哪一天为准，保证确定性。
// 同一轮内每个日期只保留最早的候选；按日状态已标记的日期整体进 gated。
// 被拦下的候选原样返回而不是丢弃——闸门只管"不排新的"，不管"撤已有的"。
func gateFirstOfDay(candidates []models.MatchResult, triggeredDate string, loc *time.Location) (kept, gated []models.MatchResult) {
	keptDates := make(map[string]bool)

	for _, c := range candidates {
		date := c.AlarmTimeUTC.In(loc).Format("2006-01-02")
		if date == triggeredDate {
			gated = append(gated, c)
			continue
		}
		if keptDates[date] {
			gated = append(gated, c)
			continue
		}
		keptDates[date] = true
		kept = append(kept, c)
	}

	return kept, gated
}
