package engine

import (
	"context"
	"errors"
	"testing"

	"notification-engine/internal/model"

	"go.uber.org/zap"
)

func TestRecordCapturesError(t *testing.T) {
	store := newMemDeliveryStore()
	tracker := NewTracker(store, zap.NewNop())

	cause := errors.New("smtp timeout")
	err := tracker.Record(context.Background(), "n1", "u1", model.ChannelEmail, model.DeliveryStatusFailed, cause, nil)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	recs := store.byChannel(model.ChannelEmail)
	if len(recs) != 1 {
		t.Fatalf("record count = %d, want 1", len(recs))
	}
	if recs[0].Error != "smtp timeout" {
		t.Errorf("error = %q, want cause message", recs[0].Error)
	}
	if recs[0].ID == "" {
		t.Error("record id should be assigned")
	}
}

func TestAnalyticsRates(t *testing.T) {
	store := newMemDeliveryStore()
	tracker := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	record := func(ch model.Channel, status model.DeliveryStatus, n int) {
		for i := 0; i < n; i++ {
			tracker.Record(ctx, "n1", "u1", ch, status, nil, nil)
		}
	}
	record(model.ChannelPush, model.DeliveryStatusSent, 4)
	record(model.ChannelPush, model.DeliveryStatusFailed, 1)
	record(model.ChannelEmail, model.DeliveryStatusDelivered, 2)
	record(model.ChannelEmail, model.DeliveryStatusClicked, 1)

	analytics, err := tracker.Analytics(ctx, "", nil, nil)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if analytics.Total != 8 {
		t.Errorf("total = %d, want 8", analytics.Total)
	}
	if got := analytics.FailureRates[model.ChannelPush]; got != 0.2 {
		t.Errorf("push failure rate = %v, want 0.2", got)
	}
	if got := analytics.FailureRates[model.ChannelEmail]; got != 0 {
		t.Errorf("email failure rate = %v, want 0", got)
	}
	if analytics.ClickRate != 0.5 {
		t.Errorf("click rate = %v, want 0.5", analytics.ClickRate)
	}
}

func TestAnalyticsEmptyIsZeroNotNaN(t *testing.T) {
	tracker := NewTracker(newMemDeliveryStore(), zap.NewNop())

	analytics, err := tracker.Analytics(context.Background(), "nobody", nil, nil)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if analytics.Total != 0 {
		t.Errorf("total = %d, want 0", analytics.Total)
	}
	if analytics.ClickRate != 0 {
		t.Errorf("click rate = %v, want 0", analytics.ClickRate)
	}
	for ch, rate := range analytics.FailureRates {
		if rate != 0 {
			t.Errorf("failure rate for %s = %v, want 0", ch, rate)
		}
	}
}

func TestAnalyticsFiltersByUser(t *testing.T) {
	store := newMemDeliveryStore()
	tracker := NewTracker(store, zap.NewNop())
	ctx := context.Background()

	tracker.Record(ctx, "n1", "u1", model.ChannelApp, model.DeliveryStatusSent, nil, nil)
	tracker.Record(ctx, "n2", "u2", model.ChannelApp, model.DeliveryStatusSent, nil, nil)

	analytics, _ := tracker.Analytics(ctx, "u1", nil, nil)
	if analytics.Total != 1 {
		t.Errorf("filtered total = %d, want 1", analytics.Total)
	}
}
