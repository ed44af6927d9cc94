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

// DeliveryCounts is the raw aggregate a DeliveryStore returns for an
// analytics query; the Tracker derives rates from it.
type DeliveryCounts struct {
	Total           int64
	ByChannel       map[model.Channel]int64
	ByStatus        map[model.DeliveryStatus]int64
	FailedByChannel map[model.Channel]int64
	Delivered       int64
	Clicked         int64
}

// DeliveryStore is append-only storage for delivery records.
type DeliveryStore interface {
	InsertRecord(ctx context.Context, rec *model.DeliveryRecord) error
	CountRecords(ctx context.Context, userID string, from, to *time.Time) (*DeliveryCounts, error)
}

// Tracker records one immutable event per attempted channel delivery
// and exposes aggregate analytics.
type Tracker struct {
	store  DeliveryStore
	logger *zap.Logger
}

func NewTracker(store DeliveryStore, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Record appends one delivery fact. Records are never updated; status
// evolution adds new rows.
func (t *Tracker) Record(ctx context.Context, notificationID, userID string, channel model.Channel, status model.DeliveryStatus, deliveryErr error, metadata map[string]string) error {
	rec := &model.DeliveryRecord{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		UserID:         userID,
		Channel:        channel,
		Status:         status,
		Metadata:       metadata,
	}
	if deliveryErr != nil {
		rec.Error = deliveryErr.Error()
	}

	if err := t.store.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert delivery record: %w", err)
	}
	metrics.RecordDelivery(string(channel), string(status))

	t.logger.Debug("Delivery recorded",
		zap.String("notification_id", notificationID),
		zap.String("channel", string(channel)),
		zap.String("status", string(status)),
	)
	return nil
}

// Analytics aggregates delivery records, optionally filtered by user
// and date range. Ratios are zero when their denominator is zero.
func (t *Tracker) Analytics(ctx context.Context, userID string, from, to *time.Time) (*model.DeliveryAnalytics, error) {
	counts, err := t.store.CountRecords(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate delivery records: %w", err)
	}

	failureRates := make(map[model.Channel]float64, len(counts.ByChannel))
	for ch, total := range counts.ByChannel {
		if total == 0 {
			failureRates[ch] = 0
			continue
		}
		failureRates[ch] = float64(counts.FailedByChannel[ch]) / float64(total)
	}

	clickRate := 0.0
	if counts.Delivered > 0 {
		clickRate = float64(counts.Clicked) / float64(counts.Delivered)
	}

	return &model.DeliveryAnalytics{
		Total:        counts.Total,
		ByChannel:    counts.ByChannel,
		ByStatus:     counts.ByStatus,
		FailureRates: failureRates,
		ClickRate:    clickRate,
	}, nil
}
