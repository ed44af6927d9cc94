package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notification-engine/internal/model"
	"notification-engine/pkg/metrics"

	"go.uber.org/zap"
)

// ThrottleStore is the persistence contract for policies and windows.
// IncrementWindows must be an atomic upsert-and-increment keyed by
// (policy key, window type, window start); a plain read-modify-write is
// a race under concurrent senders.
type ThrottleStore interface {
	FindPolicy(ctx context.Context, userID string, channel model.Channel, templateType, category string) (*model.RateLimitPolicy, error)
	CreatePolicy(ctx context.Context, policy *model.RateLimitPolicy) error
	WindowCount(ctx context.Context, policyKey string, windowType model.WindowType, windowStart time.Time) (int, error)
	IncrementWindows(ctx context.Context, policyKey string, windows []model.ThrottleWindow) error
}

// RateLimiter enforces per-key caps over fixed minute/hour/day windows.
// Windows are hard-edged, not sliding: bursts are possible at window
// boundaries.
type RateLimiter struct {
	store    ThrottleStore
	tz       *time.Location
	defaults model.RateLimitPolicy
	logger   *zap.Logger
	now      func() time.Time
}

func NewRateLimiter(store ThrottleStore, tz *time.Location, maxPerMinute, maxPerHour, maxPerDay int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store: store,
		tz:    tz,
		defaults: model.RateLimitPolicy{
			MaxPerMinute: maxPerMinute,
			MaxPerHour:   maxPerHour,
			MaxPerDay:    maxPerDay,
		},
		logger: logger,
		now:    time.Now,
	}
}

// PolicyKey builds the canonical key for a (user, channel, type, category)
// tuple. Empty parts are skipped so partial keys stay stable.
func PolicyKey(userID string, channel model.Channel, templateType, category string) string {
	parts := []string{userID, string(channel)}
	if templateType != "" {
		parts = append(parts, templateType)
	}
	if category != "" {
		parts = append(parts, category)
	}
	return strings.Join(parts, ":")
}

// Check is a pure read: it never increments, so a caller can check
// before committing to render and send.
func (l *RateLimiter) Check(ctx context.Context, userID string, channel model.Channel, templateType, category string) (model.RateLimitDecision, error) {
	policy, err := l.resolvePolicy(ctx, userID, channel, templateType, category)
	if err != nil {
		return model.RateLimitDecision{}, err
	}

	key := PolicyKey(userID, channel, templateType, category)
	now := l.now()

	for _, wt := range []model.WindowType{model.WindowMinute, model.WindowHour, model.WindowDay} {
		start, end := l.windowBounds(wt, now)
		count, err := l.store.WindowCount(ctx, key, wt, start)
		if err != nil {
			return model.RateLimitDecision{}, fmt.Errorf("failed to read %s window: %w", wt, err)
		}

		max := policy.MaxFor(wt)
		if count >= max {
			metrics.RecordRateLimitDenial(string(wt))
			next := end
			return model.RateLimitDecision{
				Allowed:       false,
				Reason:        fmt.Sprintf("%s window limit reached (%d/%d)", wt, count, max),
				NextAllowedAt: &next,
			}, nil
		}
	}

	return model.RateLimitDecision{Allowed: true}, nil
}

// TrackSent increments all three window counters atomically. Call
// exactly once per successfully dispatched notification.
func (l *RateLimiter) TrackSent(ctx context.Context, userID string, channel model.Channel, templateType, category string) error {
	key := PolicyKey(userID, channel, templateType, category)
	now := l.now()

	windows := make([]model.ThrottleWindow, 0, 3)
	for _, wt := range []model.WindowType{model.WindowMinute, model.WindowHour, model.WindowDay} {
		start, end := l.windowBounds(wt, now)
		windows = append(windows, model.ThrottleWindow{
			PolicyKey:   key,
			WindowType:  wt,
			WindowStart: start,
			WindowEnd:   end,
		})
	}

	if err := l.store.IncrementWindows(ctx, key, windows); err != nil {
		return fmt.Errorf("failed to increment throttle windows: %w", err)
	}
	return nil
}

// resolvePolicy finds the policy for a key, creating one with defaults
// on first use so a new key is never blocked.
func (l *RateLimiter) resolvePolicy(ctx context.Context, userID string, channel model.Channel, templateType, category string) (*model.RateLimitPolicy, error) {
	policy, err := l.store.FindPolicy(ctx, userID, channel, templateType, category)
	if err != nil {
		return nil, fmt.Errorf("failed to look up rate limit policy: %w", err)
	}
	if policy != nil {
		return policy, nil
	}

	policy = &model.RateLimitPolicy{
		UserID:       userID,
		Channel:      channel,
		TemplateType: templateType,
		Category:     category,
		MaxPerMinute: l.defaults.MaxPerMinute,
		MaxPerHour:   l.defaults.MaxPerHour,
		MaxPerDay:    l.defaults.MaxPerDay,
	}
	if err := l.store.CreatePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to create default rate limit policy: %w", err)
	}

	l.logger.Debug("Created default rate limit policy",
		zap.String("user_id", userID),
		zap.String("channel", string(channel)),
		zap.String("template_type", templateType),
	)
	return policy, nil
}

// windowBounds computes the canonical fixed window containing now.
// Minute and hour windows truncate in UTC; day windows run midnight to
// midnight in the reference timezone.
func (l *RateLimiter) windowBounds(wt model.WindowType, now time.Time) (time.Time, time.Time) {
	switch wt {
	case model.WindowMinute:
		start := now.UTC().Truncate(time.Minute)
		return start, start.Add(time.Minute)
	case model.WindowHour:
		start := now.UTC().Truncate(time.Hour)
		return start, start.Add(time.Hour)
	default:
		local := now.In(l.tz)
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.tz)
		return start.UTC(), start.AddDate(0, 0, 1).UTC()
	}
}
