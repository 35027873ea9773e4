package models

import (
	"regexp"
	"strings"
	"time"
)

// MatchMode 规则匹配模式（保存规则时确定，匹配时不再重新推断）
type MatchMode string

const (
	MatchModeLiteral MatchMode = "literal"
	MatchModeRegex   MatchMode = "regex"
)

// regexMetaChars 正则元字符集（用于保存时的模式分类启发式）
const regexMetaChars = `.*+?[]{}()^$|\`

// ClassifyPattern 根据原始模式字符串决定匹配模式
// 含任一正则元字符 → Regex，否则 → Literal。只在规则保存时调用一次。
func ClassifyPattern(pattern string) MatchMode {
	if strings.ContainsAny(pattern, regexMetaChars) {
		return MatchModeRegex
	}
	return MatchModeLiteral
}

// Rule 关键词报警规则（对应 rules 表）
type Rule struct {
	RuleID          string    `json:"rule_id" db:"rule_id"`
	Name            string    `json:"name" db:"name"`
	KeywordPattern  string    `json:"keyword_pattern" db:"keyword_pattern"`
	MatchMode       MatchMode `json:"match_mode" db:"match_mode"`
	CalendarScope   []string  `json:"calendar_scope" db:"calendar_scope"` // 空 = 所有日历
	LeadTimeMinutes int       `json:"lead_time_minutes" db:"lead_time_minutes"`
	Enabled         bool      `json:"enabled" db:"enabled"`
	FirstEventOfDay bool      `json:"first_event_of_day" db:"first_event_of_day"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// InScope 判断日历是否在规则作用域内（空作用域匹配所有日历）
func (r *Rule) InScope(calendarID string) bool {
	if len(r.CalendarScope) == 0 {
		return true
	}
	for _, id := range r.CalendarScope {
		if id == calendarID {
			return true
		}
	}
	return false
}

// Compile 编译规则的标题匹配器
// 空模式或无法编译的正则返回 nil，调用方需跳过该规则（规则无效不允许中断整轮匹配）
func (r *Rule) Compile() *CompiledRule {
	if strings.TrimSpace(r.KeywordPattern) == "" {
		return nil
	}

	if r.MatchMode == MatchModeRegex {
		re, err := regexp.Compile("(?i)" + r.KeywordPattern)
		if err != nil {
			return nil
		}
		return &CompiledRule{Rule: r, regex: re}
	}

	return &CompiledRule{Rule: r, literal: strings.ToLower(r.KeywordPattern)}
}

// CompiledRule 已编译的规则（匹配模式在保存时已固定为带标签的变体）
type CompiledRule struct {
	Rule    *Rule
	regex   *regexp.Regexp
	literal string
}

// MatchTitle 标题匹配测试（大小写不敏感的包含匹配）
func (c *CompiledRule) MatchTitle(title string) bool {
	if c.regex != nil {
		return c.regex.MatchString(title)
	}
	return strings.Contains(strings.ToLower(title), c.literal)
}
