package engine

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/model"
	"notification-engine/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchStore persists batching rules and in-flight batches.
// AppendToOpenBatch must be a single conditional update (open batch,
// under max size, inside the window) so concurrent enqueues cannot lose
// counts; ClaimBatch is the atomic pending -> processing transition.
type BatchStore interface {
	FindRule(ctx context.Context, userID, templateType, category string) (*model.BatchingRule, error)
	SaveRule(ctx context.Context, rule *model.BatchingRule) error
	AppendToOpenBatch(ctx context.Context, userID, templateType, category, groupID, notificationID string, digest bool, cutoff time.Time) (bool, error)
	CreateBatch(ctx context.Context, batch *model.NotificationBatch) error
	ListDueBatches(ctx context.Context, now time.Time, digest bool, limit int) ([]model.NotificationBatch, error)
	ClaimBatch(ctx context.Context, id string) (bool, error)
	MarkBatchSent(ctx context.Context, id string) error
	MarkBatchFailed(ctx context.Context, id, errMsg string) error
}

// DigestSink emits a processed batch back into the delivery path.
// Implemented by the Orchestrator and wired after construction.
type DigestSink interface {
	EmitDigest(ctx context.Context, batch *model.NotificationBatch) error
	SendIndividually(ctx context.Context, batch *model.NotificationBatch) error
}

// Batcher groups closely-timed notifications for the same
// user/template/category into a single digest-like batch.
type Batcher struct {
	store  BatchStore
	sink   DigestSink
	logger *zap.Logger
	now    func() time.Time
}

func NewBatcher(store BatchStore, logger *zap.Logger) *Batcher {
	return &Batcher{store: store, logger: logger, now: time.Now}
}

// SetSink wires the digest emitter. Set once at boot.
func (b *Batcher) SetSink(sink DigestSink) {
	b.sink = sink
}

// Enqueue tries to admit a notification into a batch. Returns false
// when no enabled rule matches; the caller must then send immediately.
func (b *Batcher) Enqueue(ctx context.Context, n *model.Notification) (bool, error) {
	rule, err := b.store.FindRule(ctx, n.UserID, n.Type, n.Category)
	if err != nil {
		return false, fmt.Errorf("failed to resolve batching rule: %w", err)
	}
	if rule == nil || !rule.Enabled {
		return false, nil
	}

	now := b.now()
	cutoff := now.Add(-time.Duration(rule.BatchWindowSeconds) * time.Second)

	appended, err := b.store.AppendToOpenBatch(ctx, n.UserID, n.Type, n.Category, n.GroupID, n.ID, false, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to append to batch: %w", err)
	}
	if appended {
		return true, nil
	}

	batch := &model.NotificationBatch{
		ID:              uuid.NewString(),
		UserID:          n.UserID,
		TemplateType:    n.Type,
		Category:        n.Category,
		GroupID:         n.GroupID,
		Priority:        n.Priority,
		Status:          model.BatchStatusPending,
		Count:           1,
		MinSize:         rule.MinBatchSize,
		MaxSize:         rule.MaxBatchSize,
		NotificationIDs: []string{n.ID},
		ScheduledFor:    now.Add(time.Duration(rule.BatchWindowSeconds) * time.Second),
	}
	if err := b.store.CreateBatch(ctx, batch); err != nil {
		return false, fmt.Errorf("failed to create batch: %w", err)
	}

	b.logger.Debug("Batch opened",
		zap.String("batch_id", batch.ID),
		zap.String("user_id", n.UserID),
		zap.String("template_type", n.Type),
		zap.Time("scheduled_for", batch.ScheduledFor),
	)
	return true, nil
}

// EnqueueDigest parks a notification for a user whose preference defers
// this template type into an hourly or daily digest. Digest batches
// always combine (min size 1) on their cadence.
func (b *Batcher) EnqueueDigest(ctx context.Context, n *model.Notification, freq model.DigestFrequency) error {
	window := time.Hour
	if freq == model.DigestDaily {
		window = 24 * time.Hour
	}

	now := b.now()
	cutoff := now.Add(-window)

	appended, err := b.store.AppendToOpenBatch(ctx, n.UserID, n.Type, n.Category, n.GroupID, n.ID, true, cutoff)
	if err != nil {
		return fmt.Errorf("failed to append to digest batch: %w", err)
	}
	if appended {
		return nil
	}

	batch := &model.NotificationBatch{
		ID:              uuid.NewString(),
		UserID:          n.UserID,
		TemplateType:    n.Type,
		Category:        n.Category,
		GroupID:         n.GroupID,
		Priority:        n.Priority,
		Status:          model.BatchStatusPending,
		Digest:          true,
		Count:           1,
		MinSize:         1,
		MaxSize:         500,
		NotificationIDs: []string{n.ID},
		ScheduledFor:    now.Add(window),
	}
	if err := b.store.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to create digest batch: %w", err)
	}
	return nil
}

// Sweep finds batches whose window elapsed or size limit was reached
// and processes each: a combined digest when the batch reached its
// minimum size, individual sends otherwise. Failures are isolated per
// batch.
func (b *Batcher) Sweep(ctx context.Context) error {
	return b.sweep(ctx, false)
}

// SweepDigests processes due digest-cadence batches.
func (b *Batcher) SweepDigests(ctx context.Context) error {
	return b.sweep(ctx, true)
}

func (b *Batcher) sweep(ctx context.Context, digest bool) error {
	now := b.now()
	due, err := b.store.ListDueBatches(ctx, now, digest, 100)
	if err != nil {
		return fmt.Errorf("failed to list due batches: %w", err)
	}

	for i := range due {
		batch := &due[i]

		claimed, err := b.store.ClaimBatch(ctx, batch.ID)
		if err != nil {
			b.logger.Error("Failed to claim batch",
				zap.String("batch_id", batch.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		b.processOne(ctx, batch)
	}
	return nil
}

func (b *Batcher) processOne(ctx context.Context, batch *model.NotificationBatch) {
	if batch.Count < batch.MinSize {
		// Too small to digest: fall back to sending every member
		// individually.
		if err := b.sink.SendIndividually(ctx, batch); err != nil {
			b.logger.Error("Batch individual fallback failed",
				zap.String("batch_id", batch.ID),
				zap.Error(err),
			)
			b.fail(ctx, batch, err)
			return
		}
		if err := b.store.MarkBatchSent(ctx, batch.ID); err != nil {
			b.logger.Error("Failed to mark batch sent", zap.Error(err))
		}
		metrics.RecordBatchSweep("fallback")
		return
	}

	if err := b.sink.EmitDigest(ctx, batch); err != nil {
		b.logger.Error("Digest emission failed",
			zap.String("batch_id", batch.ID),
			zap.Error(err),
		)
		b.fail(ctx, batch, err)
		// Members still get delivered one by one.
		if fbErr := b.sink.SendIndividually(ctx, batch); fbErr != nil {
			b.logger.Error("Batch individual fallback failed",
				zap.String("batch_id", batch.ID),
				zap.Error(fbErr),
			)
		}
		return
	}

	if err := b.store.MarkBatchSent(ctx, batch.ID); err != nil {
		b.logger.Error("Failed to mark batch sent", zap.Error(err))
	}
	metrics.RecordBatchSweep("digest")
	b.logger.Info("Batch digested",
		zap.String("batch_id", batch.ID),
		zap.Int("count", batch.Count),
	)
}

func (b *Batcher) fail(ctx context.Context, batch *model.NotificationBatch, cause error) {
	if err := b.store.MarkBatchFailed(ctx, batch.ID, cause.Error()); err != nil {
		b.logger.Error("Failed to mark batch failed", zap.Error(err))
	}
	metrics.RecordBatchSweep("failed")
}
