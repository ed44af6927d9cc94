package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"notification-engine/internal/model"

	"go.uber.org/zap"
)

type fakeSink struct {
	mu         sync.Mutex
	digests    []string
	individual []string
	digestErr  error
}

func (f *fakeSink) EmitDigest(_ context.Context, batch *model.NotificationBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digestErr != nil {
		return f.digestErr
	}
	f.digests = append(f.digests, batch.ID)
	return nil
}

func (f *fakeSink) SendIndividually(_ context.Context, batch *model.NotificationBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.individual = append(f.individual, batch.ID)
	return nil
}

func newTestBatcher(store BatchStore, now time.Time) (*Batcher, *fakeSink) {
	sink := &fakeSink{}
	b := NewBatcher(store, zap.NewNop())
	b.SetSink(sink)
	b.now = func() time.Time { return now }
	return b, sink
}

func testNotification(id string) *model.Notification {
	return &model.Notification{
		ID:       id,
		UserID:   "u1",
		Type:     "comment_posted",
		Category: "comments",
		Priority: model.PriorityNormal,
	}
}

func TestEnqueueWithoutRuleSendsImmediately(t *testing.T) {
	store := newMemBatchStore()
	b, _ := newTestBatcher(store, time.Now())

	admitted, err := b.Enqueue(context.Background(), testNotification("n1"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if admitted {
		t.Fatal("no rule: notification must not be batched")
	}
}

func TestEnqueueDisabledRuleSendsImmediately(t *testing.T) {
	store := newMemBatchStore()
	store.SaveRule(context.Background(), &model.BatchingRule{
		UserID: "u1", Enabled: false,
		BatchWindowSeconds: 60, MinBatchSize: 2, MaxBatchSize: 5,
	})
	b, _ := newTestBatcher(store, time.Now())

	admitted, _ := b.Enqueue(context.Background(), testNotification("n1"))
	if admitted {
		t.Fatal("disabled rule must not batch")
	}
}

func TestEnqueueOpensThenAppends(t *testing.T) {
	store := newMemBatchStore()
	store.SaveRule(context.Background(), &model.BatchingRule{
		UserID: "u1", Enabled: true,
		BatchWindowSeconds: 60, MinBatchSize: 3, MaxBatchSize: 5,
	})
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, _ := newTestBatcher(store, now)
	ctx := context.Background()

	for i, id := range []string{"n1", "n2", "n3"} {
		admitted, err := b.Enqueue(ctx, testNotification(id))
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		if !admitted {
			t.Fatalf("notification %d should be batched", i)
		}
	}

	if len(store.batches) != 1 {
		t.Fatalf("batch count = %d, want 1 (appends, not new batches)", len(store.batches))
	}
	for _, batch := range store.batches {
		if batch.Count != 3 || len(batch.NotificationIDs) != 3 {
			t.Errorf("batch count = %d, ids = %d, want 3", batch.Count, len(batch.NotificationIDs))
		}
		if !batch.ScheduledFor.Equal(now.Add(60 * time.Second)) {
			t.Errorf("scheduled_for = %v, want window end", batch.ScheduledFor)
		}
		if batch.MinSize != 3 || batch.MaxSize != 5 {
			t.Errorf("rule bounds not snapshotted: %d/%d", batch.MinSize, batch.MaxSize)
		}
	}
}

func TestEnqueueKeepsGroupsSeparate(t *testing.T) {
	store := newMemBatchStore()
	store.SaveRule(context.Background(), &model.BatchingRule{
		UserID: "u1", Enabled: true,
		BatchWindowSeconds: 60, MinBatchSize: 2, MaxBatchSize: 5,
	})
	b, _ := newTestBatcher(store, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	nA1 := testNotification("a1")
	nA1.GroupID = "comments:task-A"
	nB1 := testNotification("b1")
	nB1.GroupID = "comments:task-B"
	nA2 := testNotification("a2")
	nA2.GroupID = "comments:task-A"

	for _, n := range []*model.Notification{nA1, nB1, nA2} {
		if _, err := b.Enqueue(ctx, n); err != nil {
			t.Fatalf("Enqueue %s: %v", n.ID, err)
		}
	}

	if len(store.batches) != 2 {
		t.Fatalf("batch count = %d, want one per group", len(store.batches))
	}
	for _, batch := range store.batches {
		switch batch.GroupID {
		case "comments:task-A":
			if batch.Count != 2 {
				t.Errorf("group A count = %d, want 2", batch.Count)
			}
			for _, id := range batch.NotificationIDs {
				if id == "b1" {
					t.Error("group B member leaked into group A batch")
				}
			}
		case "comments:task-B":
			if batch.Count != 1 || batch.NotificationIDs[0] != "b1" {
				t.Errorf("group B batch = %+v", batch)
			}
		default:
			t.Errorf("unexpected batch group %q", batch.GroupID)
		}
	}
}

func TestEnqueueFullBatchOpensNew(t *testing.T) {
	store := newMemBatchStore()
	store.SaveRule(context.Background(), &model.BatchingRule{
		UserID: "u1", Enabled: true,
		BatchWindowSeconds: 60, MinBatchSize: 1, MaxBatchSize: 2,
	})
	b, _ := newTestBatcher(store, time.Now())
	ctx := context.Background()

	for _, id := range []string{"n1", "n2", "n3"} {
		if _, err := b.Enqueue(ctx, testNotification(id)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if len(store.batches) != 2 {
		t.Errorf("batch count = %d, want 2 after max size reached", len(store.batches))
	}
}

func TestSweepEmitsDigestAtMinSize(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)

	store.CreateBatch(context.Background(), &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "comment_posted", Category: "comments",
		Status: model.BatchStatusPending, Count: 3, MinSize: 2, MaxSize: 5,
		NotificationIDs: []string{"n1", "n2", "n3"},
		ScheduledFor:    now.Add(-time.Second),
		CreatedAt:       now.Add(-time.Minute),
	})

	if err := b.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(sink.digests) != 1 || sink.digests[0] != "b1" {
		t.Errorf("digests = %v, want [b1]", sink.digests)
	}
	if store.batches["b1"].Status != model.BatchStatusSent {
		t.Errorf("batch status = %q, want sent", store.batches["b1"].Status)
	}
}

func TestSweepFallsBackUnderMinSize(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)

	store.CreateBatch(context.Background(), &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "comment_posted", Category: "comments",
		Status: model.BatchStatusPending, Count: 1, MinSize: 3, MaxSize: 5,
		NotificationIDs: []string{"n1"},
		ScheduledFor:    now.Add(-time.Second),
		CreatedAt:       now.Add(-time.Minute),
	})

	b.Sweep(context.Background())

	if len(sink.digests) != 0 {
		t.Error("under-minimum batch must not digest")
	}
	if len(sink.individual) != 1 {
		t.Errorf("individual sends = %v, want [b1]", sink.individual)
	}
	if store.batches["b1"].Status != model.BatchStatusSent {
		t.Errorf("batch status = %q, want sent", store.batches["b1"].Status)
	}
}

func TestSweepDigestFailureFallsBack(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)
	sink.digestErr = errors.New("render failed")

	store.CreateBatch(context.Background(), &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "comment_posted", Category: "comments",
		Status: model.BatchStatusPending, Count: 3, MinSize: 2, MaxSize: 5,
		NotificationIDs: []string{"n1", "n2", "n3"},
		ScheduledFor:    now.Add(-time.Second),
		CreatedAt:       now.Add(-time.Minute),
	})

	b.Sweep(context.Background())

	if store.batches["b1"].Status != model.BatchStatusFailed {
		t.Errorf("batch status = %q, want failed", store.batches["b1"].Status)
	}
	if len(sink.individual) != 1 {
		t.Error("failed digest should still deliver members individually")
	}
}

func TestSweepSkipsNotYetDue(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)

	store.CreateBatch(context.Background(), &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "comment_posted", Category: "comments",
		Status: model.BatchStatusPending, Count: 2, MinSize: 2, MaxSize: 5,
		NotificationIDs: []string{"n1", "n2"},
		ScheduledFor:    now.Add(time.Minute),
		CreatedAt:       now,
	})

	b.Sweep(context.Background())

	if len(sink.digests)+len(sink.individual) != 0 {
		t.Error("batch inside its window must not be processed")
	}
	if store.batches["b1"].Status != model.BatchStatusPending {
		t.Errorf("batch status = %q, want pending", store.batches["b1"].Status)
	}
}

func TestSweepProcessesFullBatchEarly(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)

	// Window still open but the batch hit max size.
	store.CreateBatch(context.Background(), &model.NotificationBatch{
		ID: "b1", UserID: "u1", TemplateType: "comment_posted", Category: "comments",
		Status: model.BatchStatusPending, Count: 5, MinSize: 2, MaxSize: 5,
		NotificationIDs: []string{"n1", "n2", "n3", "n4", "n5"},
		ScheduledFor:    now.Add(time.Minute),
		CreatedAt:       now,
	})

	b.Sweep(context.Background())

	if len(sink.digests) != 1 {
		t.Error("full batch should be processed before its window ends")
	}
}

func TestEnqueueDigestSeparateFromRuleBatches(t *testing.T) {
	store := newMemBatchStore()
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	b, sink := newTestBatcher(store, now)
	ctx := context.Background()

	if err := b.EnqueueDigest(ctx, testNotification("n1"), model.DigestHourly); err != nil {
		t.Fatalf("EnqueueDigest: %v", err)
	}
	if err := b.EnqueueDigest(ctx, testNotification("n2"), model.DigestHourly); err != nil {
		t.Fatalf("EnqueueDigest: %v", err)
	}

	if len(store.batches) != 1 {
		t.Fatalf("batch count = %d, want 1", len(store.batches))
	}
	var id string
	for _, batch := range store.batches {
		id = batch.ID
		if !batch.Digest {
			t.Error("digest batch should be flagged")
		}
		if !batch.ScheduledFor.Equal(now.Add(time.Hour)) {
			t.Errorf("hourly digest scheduled for %v", batch.ScheduledFor)
		}
	}

	// The rule sweep must not touch digest batches.
	b.now = func() time.Time { return now.Add(2 * time.Hour) }
	b.Sweep(ctx)
	if store.batches[id].Status != model.BatchStatusPending {
		t.Error("rule sweep must skip digest batches")
	}

	b.SweepDigests(ctx)
	if len(sink.digests) != 1 {
		t.Errorf("digest sweep should emit, got %v", sink.digests)
	}
}
