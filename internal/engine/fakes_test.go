package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notification-engine/internal/channel"
	"notification-engine/internal/model"
)

var errNotFound = errors.New("not found")

// In-memory stores backing the engine tests. Behavior mirrors the SQL
// repositories: missing-policy and missing-rule lookups return nil
// without error, claims are conditional transitions.

type memThrottleStore struct {
	mu       sync.Mutex
	policies map[string]*model.RateLimitPolicy
	windows  map[string]int
}

func newMemThrottleStore() *memThrottleStore {
	return &memThrottleStore{
		policies: map[string]*model.RateLimitPolicy{},
		windows:  map[string]int{},
	}
}

func policyMapKey(userID string, channel model.Channel, templateType, category string) string {
	return fmt.Sprintf("%s|%s|%s|%s", userID, channel, templateType, category)
}

func windowMapKey(policyKey string, wt model.WindowType, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", policyKey, wt, start.Unix())
}

func (s *memThrottleStore) FindPolicy(_ context.Context, userID string, channel model.Channel, templateType, category string) (*model.RateLimitPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyMapKey(userID, channel, templateType, category)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memThrottleStore) CreatePolicy(_ context.Context, policy *model.RateLimitPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := policyMapKey(policy.UserID, policy.Channel, policy.TemplateType, policy.Category)
	if _, exists := s.policies[key]; !exists {
		cp := *policy
		s.policies[key] = &cp
	}
	return nil
}

func (s *memThrottleStore) WindowCount(_ context.Context, policyKey string, wt model.WindowType, start time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windows[windowMapKey(policyKey, wt, start)], nil
}

func (s *memThrottleStore) IncrementWindows(_ context.Context, _ string, windows []model.ThrottleWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		s.windows[windowMapKey(w.PolicyKey, w.WindowType, w.WindowStart)]++
	}
	return nil
}

type memTemplateStore struct {
	mu       sync.Mutex
	byID     map[string]*model.Template
	versions map[string][]model.TemplateVersion
}

func newMemTemplateStore() *memTemplateStore {
	return &memTemplateStore{
		byID:     map[string]*model.Template{},
		versions: map[string][]model.TemplateVersion{},
	}
}

func (s *memTemplateStore) GetTemplate(_ context.Context, id string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.byID[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *tpl
	return &cp, nil
}

func (s *memTemplateStore) GetTemplateByType(_ context.Context, templateType string) (*model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tpl := range s.byID {
		if tpl.Type == templateType {
			cp := *tpl
			return &cp, nil
		}
	}
	return nil, errNotFound
}

func (s *memTemplateStore) CreateTemplate(_ context.Context, tpl *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	s.byID[tpl.ID] = &cp
	s.versions[tpl.ID] = append(s.versions[tpl.ID], model.TemplateVersion{
		TemplateID: tpl.ID,
		Version:    tpl.CurrentVersion,
		Title:      tpl.Title,
		Body:       tpl.Body,
		Variables:  tpl.Variables,
	})
	return nil
}

func (s *memTemplateStore) AddVersion(_ context.Context, tpl *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tpl.ID]; !ok {
		return errNotFound
	}
	cp := *tpl
	s.byID[tpl.ID] = &cp
	s.versions[tpl.ID] = append(s.versions[tpl.ID], model.TemplateVersion{
		TemplateID: tpl.ID,
		Version:    tpl.CurrentVersion,
		Title:      tpl.Title,
		Body:       tpl.Body,
		Variables:  tpl.Variables,
	})
	return nil
}

func (s *memTemplateStore) ListVersions(_ context.Context, id string) ([]model.TemplateVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TemplateVersion{}, s.versions[id]...), nil
}

type memPreferenceStore struct {
	mu    sync.Mutex
	prefs map[string]*model.Preference
}

func newMemPreferenceStore() *memPreferenceStore {
	return &memPreferenceStore{prefs: map[string]*model.Preference{}}
}

func (s *memPreferenceStore) GetOrCreate(_ context.Context, userID, templateType string) (*model.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + "|" + templateType
	if p, ok := s.prefs[key]; ok {
		cp := *p
		return &cp, nil
	}
	p := &model.Preference{
		ID:           key,
		UserID:       userID,
		TemplateType: templateType,
		Enabled:      true,
		AppEnabled:   true,
		EmailEnabled: true,
		PushEnabled:  true,
		Digest:       model.DigestImmediate,
	}
	s.prefs[key] = p
	cp := *p
	return &cp, nil
}

func (s *memPreferenceStore) Update(_ context.Context, pref *model.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pref
	s.prefs[pref.UserID+"|"+pref.TemplateType] = &cp
	return nil
}

type memABTestStore struct {
	mu     sync.Mutex
	tests  map[string]*model.ABTest
	events []model.ABTestEvent
}

func newMemABTestStore() *memABTestStore {
	return &memABTestStore{tests: map[string]*model.ABTest{}}
}

func (s *memABTestStore) GetTest(_ context.Context, id string) (*model.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memABTestStore) CreateTest(_ context.Context, test *model.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *test
	s.tests[test.ID] = &cp
	return nil
}

func (s *memABTestStore) UpdateTest(_ context.Context, test *model.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tests[test.ID]; !ok {
		return errNotFound
	}
	cp := *test
	s.tests[test.ID] = &cp
	return nil
}

func (s *memABTestStore) ActiveTestForTemplate(_ context.Context, templateID string) (*model.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tests {
		if t.TemplateID == templateID && t.Status == model.ABTestStatusActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memABTestStore) InsertEvent(_ context.Context, event *model.ABTestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memABTestStore) EventCounts(_ context.Context, testID string) (map[string]map[model.ABTestEventType]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]map[model.ABTestEventType]int64{}
	for _, e := range s.events {
		if e.TestID != testID {
			continue
		}
		if counts[e.VariantID] == nil {
			counts[e.VariantID] = map[model.ABTestEventType]int64{}
		}
		counts[e.VariantID][e.Event]++
	}
	return counts, nil
}

type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]*model.ScheduledNotification
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: map[string]*model.ScheduledNotification{}}
}

func (s *memScheduleStore) CreateSchedule(_ context.Context, sched *model.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *memScheduleStore) GetSchedule(_ context.Context, id string) (*model.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *sched
	return &cp, nil
}

func (s *memScheduleStore) UpdateSchedule(_ context.Context, sched *model.ScheduledNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sched.ID]; !ok {
		return errNotFound
	}
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *memScheduleStore) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

func (s *memScheduleStore) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []model.ScheduledNotification{}
	for _, sched := range s.schedules {
		if sched.Status == model.ScheduleStatusPending && !sched.NextRunAt.After(now) {
			due = append(due, *sched)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *memScheduleStore) ClaimSchedule(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok || sched.Status != model.ScheduleStatusPending {
		return false, nil
	}
	sched.Status = model.ScheduleStatusProcessing
	return true, nil
}

func (s *memScheduleStore) FinishSchedule(_ context.Context, id string, status model.ScheduleStatus, nextRunAt *time.Time, lastRunAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return errNotFound
	}
	sched.Status = status
	if nextRunAt != nil {
		sched.NextRunAt = *nextRunAt
	}
	sched.LastRunAt = &lastRunAt
	sched.Error = errMsg
	return nil
}

type memBatchStore struct {
	mu      sync.Mutex
	rules   []*model.BatchingRule
	batches map[string]*model.NotificationBatch
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{batches: map[string]*model.NotificationBatch{}}
}

func (s *memBatchStore) FindRule(_ context.Context, userID, templateType, category string) (*model.BatchingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.BatchingRule
	bestScore := -1
	for _, r := range s.rules {
		if r.UserID != userID {
			continue
		}
		if r.TemplateType != "" && r.TemplateType != templateType {
			continue
		}
		if r.Category != "" && r.Category != category {
			continue
		}
		score := 0
		if r.TemplateType != "" {
			score += 2
		}
		if r.Category != "" {
			score++
		}
		if score > bestScore {
			best = r
			bestScore = score
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memBatchStore) SaveRule(_ context.Context, rule *model.BatchingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rule
	s.rules = append(s.rules, &cp)
	return nil
}

func (s *memBatchStore) AppendToOpenBatch(_ context.Context, userID, templateType, category, groupID, notificationID string, digest bool, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.UserID == userID && b.TemplateType == templateType && b.Category == category &&
			b.GroupID == groupID && b.Digest == digest && b.Status == model.BatchStatusPending &&
			b.Count < b.MaxSize && b.CreatedAt.After(cutoff) {
			b.NotificationIDs = append(b.NotificationIDs, notificationID)
			b.Count++
			return true, nil
		}
	}
	return false, nil
}

func (s *memBatchStore) CreateBatch(_ context.Context, batch *model.NotificationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *batch
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.batches[batch.ID] = &cp
	return nil
}

func (s *memBatchStore) ListDueBatches(_ context.Context, now time.Time, digest bool, limit int) ([]model.NotificationBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := []model.NotificationBatch{}
	for _, b := range s.batches {
		if b.Status == model.BatchStatusPending && b.Digest == digest && b.Due(now) {
			due = append(due, *b)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *memBatchStore) ClaimBatch(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok || b.Status != model.BatchStatusPending {
		return false, nil
	}
	b.Status = model.BatchStatusProcessing
	return true, nil
}

func (s *memBatchStore) MarkBatchSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		b.Status = model.BatchStatusSent
	}
	return nil
}

func (s *memBatchStore) MarkBatchFailed(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		b.Status = model.BatchStatusFailed
		b.Error = errMsg
	}
	return nil
}

type memDeliveryStore struct {
	mu      sync.Mutex
	records []model.DeliveryRecord
}

func newMemDeliveryStore() *memDeliveryStore {
	return &memDeliveryStore{}
}

func (s *memDeliveryStore) InsertRecord(_ context.Context, rec *model.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = time.Now()
	s.records = append(s.records, *rec)
	return nil
}

func (s *memDeliveryStore) CountRecords(_ context.Context, userID string, from, to *time.Time) (*DeliveryCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := &DeliveryCounts{
		ByChannel:       map[model.Channel]int64{},
		ByStatus:        map[model.DeliveryStatus]int64{},
		FailedByChannel: map[model.Channel]int64{},
	}
	for _, rec := range s.records {
		if userID != "" && rec.UserID != userID {
			continue
		}
		if from != nil && rec.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && rec.CreatedAt.After(*to) {
			continue
		}
		counts.Total++
		counts.ByChannel[rec.Channel]++
		counts.ByStatus[rec.Status]++
		switch rec.Status {
		case model.DeliveryStatusFailed:
			counts.FailedByChannel[rec.Channel]++
		case model.DeliveryStatusDelivered:
			counts.Delivered++
		case model.DeliveryStatusClicked:
			counts.Clicked++
		}
	}
	return counts, nil
}

func (s *memDeliveryStore) byChannel(ch model.Channel) []model.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.DeliveryRecord{}
	for _, rec := range s.records {
		if rec.Channel == ch {
			out = append(out, rec)
		}
	}
	return out
}

type memNotificationStore struct {
	mu            sync.Mutex
	notifications map[string]*model.Notification
	groupOrders   map[string]int
}

func newMemNotificationStore() *memNotificationStore {
	return &memNotificationStore{
		notifications: map[string]*model.Notification{},
		groupOrders:   map[string]int{},
	}
}

func (s *memNotificationStore) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.GroupID != "" {
		s.groupOrders[n.GroupID]++
		n.GroupOrder = s.groupOrders[n.GroupID]
	}
	n.CreatedAt = time.Now()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *memNotificationStore) GetNotification(_ context.Context, id string) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *memNotificationStore) GetNotifications(_ context.Context, ids []string) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Notification{}
	for _, id := range ids {
		if n, ok := s.notifications[id]; ok {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *memNotificationStore) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notifications[id]; ok {
		n.Read = true
	}
	return nil
}

func (s *memNotificationStore) MarkDismissed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notifications[id]; ok {
		n.Dismissed = true
	}
	return nil
}

// fakeSender records every channel send and can fail selected channels.
type fakeSender struct {
	mu       sync.Mutex
	sends    []fakeSend
	failures map[model.Channel]error
}

type fakeSend struct {
	Channel model.Channel
	Address string
	Payload channel.Payload
}

func newFakeSender() *fakeSender {
	return &fakeSender{failures: map[model.Channel]error{}}
}

func (f *fakeSender) failChannel(ch model.Channel, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[ch] = err
}

func (f *fakeSender) Send(_ context.Context, ch model.Channel, address string, p channel.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[ch]; err != nil {
		return err
	}
	f.sends = append(f.sends, fakeSend{Channel: ch, Address: address, Payload: p})
	return nil
}

func (f *fakeSender) sent(ch model.Channel) []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []fakeSend{}
	for _, s := range f.sends {
		if s.Channel == ch {
			out = append(out, s)
		}
	}
	return out
}
