package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	mqcontracts "notification-engine/contracts/mq"
	"notification-engine/internal/catalog"
	"notification-engine/internal/model"

	"go.uber.org/zap"
)

type orchEnv struct {
	notifs     *memNotificationStore
	deliveries *memDeliveryStore
	batches    *memBatchStore
	prefs      *memPreferenceStore
	throttle   *memThrottleStore
	abtests    *memABTestStore
	sender     *fakeSender
	registry   *Registry
	selector   *Selector
	orch       *Orchestrator
}

// newOrchEnv wires a full delivery pipeline over in-memory stores with
// the default template catalog seeded.
func newOrchEnv(t *testing.T, maxPerMinute int) *orchEnv {
	t.Helper()
	nop := zap.NewNop()
	ctx := context.Background()

	env := &orchEnv{
		notifs:     newMemNotificationStore(),
		deliveries: newMemDeliveryStore(),
		batches:    newMemBatchStore(),
		prefs:      newMemPreferenceStore(),
		throttle:   newMemThrottleStore(),
		abtests:    newMemABTestStore(),
		sender:     newFakeSender(),
	}

	env.registry = NewRegistry(newMemTemplateStore(), nop)
	for _, tpl := range catalog.DefaultTemplates() {
		seed := tpl
		if err := env.registry.Create(ctx, &seed); err != nil {
			t.Fatalf("seed template %s: %v", tpl.Type, err)
		}
	}

	limiter := NewRateLimiter(env.throttle, time.UTC, maxPerMinute, 500, 2000, nop)
	limiter.now = func() time.Time { return time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC) }

	env.selector = NewSelector(env.abtests, nop)
	env.selector.rng = rand.New(rand.NewSource(1))

	gate := NewGate(env.prefs, nop)
	batcher := NewBatcher(env.batches, nop)
	tracker := NewTracker(env.deliveries, nop)

	env.orch = NewOrchestrator(
		catalog.Default(), gate, limiter, env.selector, env.registry,
		batcher, tracker, env.notifs, env.sender, nop,
	)
	batcher.SetSink(env.orch)
	return env
}

func taskAssignedEvent(assignees ...string) mqcontracts.TaskAssignedPayload {
	return mqcontracts.TaskAssignedPayload{
		TaskID:      "t1",
		TaskTitle:   "Fix login bug",
		ProjectID:   "p1",
		ProjectName: "Apollo",
		AssignerID:  "actor",
		AssigneeIDs: assignees,
	}
}

func TestDeliverFansOutToRecipients(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	// actor is both assigner and assignee, u1 appears twice.
	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1", "u2", "actor", "u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered %d notifications, want 2 (actor excluded, duplicates collapsed)", len(delivered))
	}

	for _, n := range delivered {
		if n.Title != "New task: Fix login bug" {
			t.Errorf("title = %q", n.Title)
		}
		if n.GroupID != "tasks:Apollo" {
			t.Errorf("group id = %q, want tasks:Apollo", n.GroupID)
		}
		if n.Priority != model.PriorityHigh {
			t.Errorf("priority = %q, want high", n.Priority)
		}
	}

	if got := len(env.deliveries.byChannel(model.ChannelApp)); got != 2 {
		t.Errorf("app delivery records = %d, want 2", got)
	}
	if got := len(env.sender.sent(model.ChannelEmail)); got != 2 {
		t.Errorf("email sends = %d, want 2", got)
	}
	if got := len(env.sender.sent(model.ChannelPush)); got != 2 {
		t.Errorf("push sends = %d, want 2", got)
	}
}

func TestDeliverAssignsIncreasingGroupOrder(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	first, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	second, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected one notification per delivery")
	}

	if first[0].GroupID != "tasks:Apollo" || second[0].GroupID != first[0].GroupID {
		t.Fatalf("group ids = %q, %q", first[0].GroupID, second[0].GroupID)
	}
	if first[0].GroupOrder != 1 || second[0].GroupOrder != 2 {
		t.Errorf("group orders = %d, %d, want 1, 2", first[0].GroupOrder, second[0].GroupOrder)
	}
}

func TestDeliverChannelFailureIsIsolated(t *testing.T) {
	env := newOrchEnv(t, 60)
	env.sender.failChannel(model.ChannelPush, errors.New("fcm unavailable"))
	ctx := context.Background()

	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("push outage must not block the notification, got %d", len(delivered))
	}

	pushRecs := env.deliveries.byChannel(model.ChannelPush)
	if len(pushRecs) != 1 || pushRecs[0].Status != model.DeliveryStatusFailed {
		t.Errorf("push records = %+v, want one failed record", pushRecs)
	}
	if pushRecs[0].Error == "" {
		t.Error("failed record should carry the transport error")
	}
	if got := len(env.sender.sent(model.ChannelEmail)); got != 1 {
		t.Errorf("email sends = %d, want 1 (independent of push)", got)
	}
}

func TestDeliverRateLimited(t *testing.T) {
	env := newOrchEnv(t, 1)
	ctx := context.Background()

	first, _ := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if len(first) != 1 {
		t.Fatalf("first delivery should pass, got %d", len(first))
	}

	second, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(second) != 0 {
		t.Error("second delivery inside the minute window should be dropped")
	}
	if len(env.notifs.notifications) != 1 {
		t.Errorf("notification count = %d, want 1", len(env.notifs.notifications))
	}
}

func TestDeliverBlockedByPreference(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	pref, _ := env.prefs.GetOrCreate(ctx, "u1", "task_assigned")
	pref.Enabled = false
	env.prefs.Update(ctx, pref)

	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 0 || len(env.notifs.notifications) != 0 {
		t.Error("disabled preference must suppress the notification entirely")
	}
}

func TestDeliverBatchingRuleDefersChannels(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	env.batches.SaveRule(ctx, &model.BatchingRule{
		UserID: "u1", Enabled: true,
		BatchWindowSeconds: 300, MinBatchSize: 2, MaxBatchSize: 10,
	})

	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("notification should still be created, got %d", len(delivered))
	}

	if got := len(env.deliveries.byChannel(model.ChannelApp)); got != 1 {
		t.Errorf("app record = %d, want 1 (in-app is immediate)", got)
	}
	if got := len(env.sender.sends); got != 0 {
		t.Errorf("channel sends = %d, want 0 while batched", got)
	}
	if len(env.batches.batches) != 1 {
		t.Errorf("batch count = %d, want 1", len(env.batches.batches))
	}
}

func TestDeliverDigestPreferenceParks(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	pref, _ := env.prefs.GetOrCreate(ctx, "u1", "task_assigned")
	pref.Digest = model.DigestHourly
	env.prefs.Update(ctx, pref)

	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatalf("digest preference still creates the in-app notification")
	}
	if got := len(env.sender.sends); got != 0 {
		t.Errorf("channel sends = %d, want 0 until the digest fires", got)
	}

	found := false
	for _, b := range env.batches.batches {
		if b.Digest && b.UserID == "u1" {
			found = true
		}
	}
	if !found {
		t.Error("hourly digest batch should exist")
	}
}

func TestEmitDigestCombinesMembers(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	// Digest preference on: the combined notification must not be
	// parked again.
	pref, _ := env.prefs.GetOrCreate(ctx, "u1", "task_assigned")
	pref.Digest = model.DigestHourly
	env.prefs.Update(ctx, pref)

	ids := []string{"n1", "n2", "n3"}
	for _, id := range ids {
		env.notifs.InsertNotification(ctx, &model.Notification{
			ID: id, UserID: "u1", Type: "task_assigned", Category: "tasks",
			Priority: model.PriorityHigh, Title: "Task " + id,
		})
	}
	batch := &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "task_assigned", Category: "tasks",
		Priority: model.PriorityHigh, Count: 3, NotificationIDs: ids,
	}

	if err := env.orch.EmitDigest(ctx, batch); err != nil {
		t.Fatalf("EmitDigest: %v", err)
	}

	var combined *model.Notification
	for _, n := range env.notifs.notifications {
		if n.Metadata["batch_id"] == "b1" {
			combined = n
		}
	}
	if combined == nil {
		t.Fatal("combined digest notification not found")
	}
	if combined.Title != "3 new tasks notifications" {
		t.Errorf("digest title = %q", combined.Title)
	}
	if combined.Metadata["batch_count"] != "3" {
		t.Errorf("batch_count = %q, want 3", combined.Metadata["batch_count"])
	}
	if got := len(env.sender.sent(model.ChannelEmail)); got != 1 {
		t.Errorf("digest email sends = %d, want exactly 1", got)
	}
	for _, b := range env.batches.batches {
		if b.Digest {
			t.Error("digest emission must not open a new digest batch")
		}
	}
}

func TestDeliverAppliesActiveExperiment(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	tpl, err := env.registry.GetByType(ctx, "task_assigned")
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}

	test := &model.ABTest{
		TemplateID: tpl.ID,
		Name:       "urgent subject",
		Variants: []model.Variant{
			{Title: "Heads up: {{taskTitle}}", Body: "{{taskTitle}} is waiting in {{projectName}}.", Weight: 1},
		},
	}
	if err := env.selector.CreateTest(ctx, test); err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	if _, err := env.selector.UpdateStatus(ctx, test.ID, model.ABTestStatusActive, ""); err != nil {
		t.Fatalf("activate: %v", err)
	}

	delivered, err := env.orch.Deliver(ctx, taskAssignedEvent("u1"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(delivered) != 1 {
		t.Fatal("expected one notification")
	}

	n := delivered[0]
	if n.Title != "Heads up: Fix login bug" {
		t.Errorf("variant title not applied: %q", n.Title)
	}
	if n.Metadata["ab_test_id"] != test.ID {
		t.Errorf("ab_test_id = %q, want %s", n.Metadata["ab_test_id"], test.ID)
	}

	counts, _ := env.abtests.EventCounts(ctx, test.ID)
	variant := counts[n.Metadata["ab_variant_id"]]
	if variant[model.ABEventSent] != 1 {
		t.Errorf("sent events = %d, want 1", variant[model.ABEventSent])
	}
	// Email and push each confirm delivery.
	if variant[model.ABEventDelivered] != 2 {
		t.Errorf("delivered events = %d, want 2", variant[model.ABEventDelivered])
	}
}

func TestMarkDismissedRecordsFact(t *testing.T) {
	env := newOrchEnv(t, 60)
	ctx := context.Background()

	env.notifs.InsertNotification(ctx, &model.Notification{
		ID: "n1", UserID: "u1", Type: "task_assigned", Category: "tasks", Title: "t",
	})

	if err := env.orch.MarkDismissed(ctx, "n1"); err != nil {
		t.Fatalf("MarkDismissed: %v", err)
	}

	n, _ := env.notifs.GetNotification(ctx, "n1")
	if !n.Dismissed {
		t.Error("notification should be flagged dismissed")
	}
	recs := env.deliveries.byChannel(model.ChannelApp)
	if len(recs) != 1 || recs[0].Status != model.DeliveryStatusDismissed {
		t.Errorf("records = %+v, want one dismissed record", recs)
	}
}
