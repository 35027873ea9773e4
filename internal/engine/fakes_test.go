package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calwake/internal/models"
)

// ============================================================
// 引擎接口的手写假实现（仅测试用）
// ============================================================

type fakeRuleStore struct {
	rules []models.Rule
	err   error
}

func (f *fakeRuleStore) ListEnabledRules(ctx context.Context) ([]models.Rule, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	entries   map[string]models.ScheduledAlarm
	insertErr error
	updateErr error
}

func newFakeLedger(seed ...models.ScheduledAlarm) *fakeLedger {
	l := &fakeLedger{entries: make(map[string]models.ScheduledAlarm)}
	for _, a := range seed {
		l.entries[ledgerKey(a.EventID, a.RuleID)] = a
	}
	return l
}

func (f *fakeLedger) get(eventID, ruleID string) (models.ScheduledAlarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.entries[ledgerKey(eventID, ruleID)]
	return a, ok
}

func (f *fakeLedger) ListAll(ctx context.Context) ([]models.ScheduledAlarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ScheduledAlarm, 0, len(f.entries))
	for _, a := range f.entries {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeLedger) Insert(ctx context.Context, alarm *models.ScheduledAlarm) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[ledgerKey(alarm.EventID, alarm.RuleID)] = *alarm
	return nil
}

func (f *fakeLedger) Update(ctx context.Context, alarm *models.ScheduledAlarm) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(alarm.EventID, alarm.RuleID)
	if _, ok := f.entries[key]; !ok {
		return fmt.Errorf("scheduled alarm not found: event_id=%s, rule_id=%s", alarm.EventID, alarm.RuleID)
	}
	f.entries[key] = *alarm
	return nil
}

func (f *fakeLedger) Delete(ctx context.Context, eventID, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ledgerKey(eventID, ruleID)
	if _, ok := f.entries[key]; !ok {
		return fmt.Errorf("scheduled alarm not found: event_id=%s, rule_id=%s", eventID, ruleID)
	}
	delete(f.entries, key)
	return nil
}

func (f *fakeLedger) MarkDismissed(ctx context.Context, requestCode int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, a := range f.entries {
		if a.RequestCode == requestCode {
			a.UserDismissed = true
			f.entries[key] = a
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, a := range f.entries {
		if a.AlarmTimeUTC.Before(cutoff) {
			delete(f.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

type fakeDayState struct {
	mu     sync.Mutex
	dates  map[string]string
	resets int
}

func newFakeDayState() *fakeDayState {
	return &fakeDayState{dates: make(map[string]string)}
}

func (f *fakeDayState) TriggeredDates(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.dates))
	for k, v := range f.dates {
		out[k] = v
	}
	return out, nil
}

func (f *fakeDayState) MarkTriggered(ctx context.Context, ruleID, localDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates[ruleID] = localDate
	return nil
}

func (f *fakeDayState) ForceReset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates = make(map[string]string)
	f.resets++
	return nil
}

type fakeScheduler struct {
	mu             sync.Mutex
	canExact       bool
	scheduled      map[int32]time.Time
	canceled       []int32
	scheduleCalls  int
	scheduleErrFor map[int32]error
	cancelErr      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		canExact:       true,
		scheduled:      make(map[int32]time.Time),
		scheduleErrFor: make(map[int32]error),
	}
}

func (f *fakeScheduler) ScheduleExactWake(ctx context.Context, requestCode int32, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduleCalls++
	if err, ok := f.scheduleErrFor[requestCode]; ok {
		return err
	}
	f.scheduled[requestCode] = fireAt
	return nil
}

func (f *fakeScheduler) CancelWake(ctx context.Context, requestCode int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	delete(f.scheduled, requestCode)
	f.canceled = append(f.canceled, requestCode)
	return nil
}

func (f *fakeScheduler) CanScheduleExact(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canExact, nil
}

func (f *fakeScheduler) totalScheduleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduleCalls
}

type fakeEventSource struct {
	mu         sync.Mutex
	events     []models.CalendarEvent
	err        error
	fetchCalls int

	// 合并测试用：started 在每次拉取开始时收到信号，gate 非空时拉取阻塞等待放行
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeEventSource) FetchEvents(ctx context.Context, now time.Time) ([]models.CalendarEvent, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeEventSource) totalFetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}
