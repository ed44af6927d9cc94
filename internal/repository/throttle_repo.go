package repository

import (
	"context"
	"errors"
	"time"

	"notification-engine/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ThrottleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewThrottleRepository(db *pgxpool.Pool, logger *zap.Logger) *ThrottleRepository {
	return &ThrottleRepository{db: db, logger: logger}
}

// FindPolicy returns the exact policy for a key, or nil when none
// exists yet.
func (r *ThrottleRepository) FindPolicy(ctx context.Context, userID string, channel model.Channel, templateType, category string) (*model.RateLimitPolicy, error) {
	query := `
        SELECT id, user_id, channel, template_type, category,
               max_per_minute, max_per_hour, max_per_day, created_at, updated_at
        FROM rate_limit_policies
        WHERE user_id = $1 AND channel = $2 AND template_type = $3 AND category = $4
    `
	var p model.RateLimitPolicy
	err := r.db.QueryRow(ctx, query, userID, channel, templateType, category).Scan(
		&p.ID,
		&p.UserID,
		&p.Channel,
		&p.TemplateType,
		&p.Category,
		&p.MaxPerMinute,
		&p.MaxPerHour,
		&p.MaxPerDay,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find rate limit policy",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, err
	}
	return &p, nil
}

// CreatePolicy inserts a policy, tolerating a concurrent insert of the
// same key.
func (r *ThrottleRepository) CreatePolicy(ctx context.Context, policy *model.RateLimitPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	query := `
        INSERT INTO rate_limit_policies
            (id, user_id, channel, template_type, category, max_per_minute, max_per_hour, max_per_day)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id, channel, template_type, category) DO NOTHING
    `
	_, err := r.db.Exec(ctx, query,
		policy.ID,
		policy.UserID,
		policy.Channel,
		policy.TemplateType,
		policy.Category,
		policy.MaxPerMinute,
		policy.MaxPerHour,
		policy.MaxPerDay,
	)
	if err != nil {
		r.logger.Error("Failed to create rate limit policy",
			zap.Error(err),
			zap.String("user_id", policy.UserID),
		)
		return err
	}
	return nil
}

// UpdatePolicy replaces the caps for an existing key.
func (r *ThrottleRepository) UpdatePolicy(ctx context.Context, policy *model.RateLimitPolicy) error {
	query := `
        UPDATE rate_limit_policies
        SET max_per_minute = $2, max_per_hour = $3, max_per_day = $4, updated_at = NOW()
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query,
		policy.ID,
		policy.MaxPerMinute,
		policy.MaxPerHour,
		policy.MaxPerDay,
	)
	if err != nil {
		r.logger.Error("Failed to update rate limit policy", zap.Error(err))
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ThrottleRepository) WindowCount(ctx context.Context, policyKey string, windowType model.WindowType, windowStart time.Time) (int, error) {
	query := `
        SELECT count FROM throttle_windows
        WHERE policy_key = $1 AND window_type = $2 AND window_start = $3
    `
	var count int
	err := r.db.QueryRow(ctx, query, policyKey, windowType, windowStart).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		r.logger.Error("Failed to read throttle window",
			zap.Error(err),
			zap.String("policy_key", policyKey),
		)
		return 0, err
	}
	return count, nil
}

// IncrementWindows bumps all three counters in one transaction. The
// upsert increments in the database, so concurrent senders never lose
// counts to a read-modify-write race.
func (r *ThrottleRepository) IncrementWindows(ctx context.Context, policyKey string, windows []model.ThrottleWindow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO throttle_windows (policy_key, window_type, window_start, window_end, count)
        VALUES ($1, $2, $3, $4, 1)
        ON CONFLICT (policy_key, window_type, window_start)
        DO UPDATE SET count = throttle_windows.count + 1
    `
	for _, w := range windows {
		if _, err := tx.Exec(ctx, query, w.PolicyKey, w.WindowType, w.WindowStart, w.WindowEnd); err != nil {
			r.logger.Error("Failed to increment throttle window",
				zap.Error(err),
				zap.String("policy_key", policyKey),
				zap.String("window_type", string(w.WindowType)),
			)
			return err
		}
	}
	return tx.Commit(ctx)
}

// PurgeExpiredWindows drops windows that ended before the cutoff.
// Called periodically; stale windows are never read, this just bounds
// table growth.
func (r *ThrottleRepository) PurgeExpiredWindows(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM throttle_windows WHERE window_end < $1`, before)
	if err != nil {
		r.logger.Error("Failed to purge throttle windows", zap.Error(err))
		return 0, err
	}
	return result.RowsAffected(), nil
}
