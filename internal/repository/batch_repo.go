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

type BatchRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewBatchRepository(db *pgxpool.Pool, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{db: db, logger: logger}
}

// FindRule picks the most specific enabled-or-disabled rule for a key:
// exact match beats type-only beats category-only beats the user-wide
// default. Nil when no rule matches at all.
func (r *BatchRepository) FindRule(ctx context.Context, userID, templateType, category string) (*model.BatchingRule, error) {
	query := `
        SELECT id, user_id, template_type, category, enabled,
               batch_window_seconds, min_batch_size, max_batch_size, created_at
        FROM batching_rules
        WHERE user_id = $1
          AND (template_type = $2 OR template_type = '')
          AND (category = $3 OR category = '')
        ORDER BY (template_type <> '')::int + (category <> '')::int DESC,
                 (template_type <> '')::int DESC
        LIMIT 1
    `
	var rule model.BatchingRule
	err := r.db.QueryRow(ctx, query, userID, templateType, category).Scan(
		&rule.ID,
		&rule.UserID,
		&rule.TemplateType,
		&rule.Category,
		&rule.Enabled,
		&rule.BatchWindowSeconds,
		&rule.MinBatchSize,
		&rule.MaxBatchSize,
		&rule.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find batching rule",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, err
	}
	return &rule, nil
}

func (r *BatchRepository) SaveRule(ctx context.Context, rule *model.BatchingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	query := `
        INSERT INTO batching_rules
            (id, user_id, template_type, category, enabled, batch_window_seconds, min_batch_size, max_batch_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (user_id, template_type, category)
        DO UPDATE SET enabled = $5, batch_window_seconds = $6, min_batch_size = $7, max_batch_size = $8
    `
	_, err := r.db.Exec(ctx, query,
		rule.ID,
		rule.UserID,
		rule.TemplateType,
		rule.Category,
		rule.Enabled,
		rule.BatchWindowSeconds,
		rule.MinBatchSize,
		rule.MaxBatchSize,
	)
	if err != nil {
		r.logger.Error("Failed to save batching rule",
			zap.Error(err),
			zap.String("user_id", rule.UserID),
		)
		return err
	}
	return nil
}

// AppendToOpenBatch adds a notification to an open batch in one
// conditional update. The batch key is (user, template type, category,
// group, digest); the subselect pins exactly one open row so a stray
// second batch for the same key never receives duplicate members. Zero
// rows affected means the caller must open a new batch.
func (r *BatchRepository) AppendToOpenBatch(ctx context.Context, userID, templateType, category, groupID, notificationID string, digest bool, cutoff time.Time) (bool, error) {
	query := `
        UPDATE notification_batches
        SET notification_ids = array_append(notification_ids, $6),
            count = count + 1
        WHERE id = (
            SELECT id FROM notification_batches
            WHERE user_id = $1 AND template_type = $2 AND category = $3
              AND group_id = $4 AND digest = $5
              AND status = 'pending'
              AND count < max_size
              AND created_at > $7
            ORDER BY created_at ASC
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
    `
	result, err := r.db.Exec(ctx, query, userID, templateType, category, groupID, digest, notificationID, cutoff)
	if err != nil {
		r.logger.Error("Failed to append to batch",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("notification_id", notificationID),
		)
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *BatchRepository) CreateBatch(ctx context.Context, batch *model.NotificationBatch) error {
	query := `
        INSERT INTO notification_batches
            (id, user_id, template_type, category, group_id, priority, status, digest,
             count, min_size, max_size, notification_ids, scheduled_for)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		batch.ID,
		batch.UserID,
		batch.TemplateType,
		batch.Category,
		batch.GroupID,
		batch.Priority,
		batch.Status,
		batch.Digest,
		batch.Count,
		batch.MinSize,
		batch.MaxSize,
		batch.NotificationIDs,
		batch.ScheduledFor,
	).Scan(&batch.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create batch",
			zap.Error(err),
			zap.String("user_id", batch.UserID),
		)
		return err
	}
	return nil
}

func (r *BatchRepository) ListDueBatches(ctx context.Context, now time.Time, digest bool, limit int) ([]model.NotificationBatch, error) {
	query := `
        SELECT id, user_id, template_type, category, group_id, priority, status, digest,
               count, min_size, max_size, COALESCE(notification_ids, '{}'),
               scheduled_for, error, created_at
        FROM notification_batches
        WHERE status = 'pending' AND digest = $2
          AND (scheduled_for <= $1 OR count >= max_size)
        ORDER BY scheduled_for ASC
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, now, digest, limit)
	if err != nil {
		r.logger.Error("Failed to list due batches", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	batches := []model.NotificationBatch{}
	for rows.Next() {
		var b model.NotificationBatch
		if err := rows.Scan(
			&b.ID,
			&b.UserID,
			&b.TemplateType,
			&b.Category,
			&b.GroupID,
			&b.Priority,
			&b.Status,
			&b.Digest,
			&b.Count,
			&b.MinSize,
			&b.MaxSize,
			&b.NotificationIDs,
			&b.ScheduledFor,
			&b.Error,
			&b.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan batch row", zap.Error(err))
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// ClaimBatch is the atomic pending -> processing transition; false
// means another sweep already owns the batch.
func (r *BatchRepository) ClaimBatch(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE notification_batches
        SET status = 'processing'
        WHERE id = $1 AND status = 'pending'
    `
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to claim batch",
			zap.Error(err),
			zap.String("batch_id", id),
		)
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *BatchRepository) MarkBatchSent(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_batches SET status = 'sent' WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to mark batch sent",
			zap.Error(err),
			zap.String("batch_id", id),
		)
	}
	return err
}

func (r *BatchRepository) MarkBatchFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE notification_batches SET status = 'failed', error = $2 WHERE id = $1`, id, errMsg)
	if err != nil {
		r.logger.Error("Failed to mark batch failed",
			zap.Error(err),
			zap.String("batch_id", id),
		)
	}
	return err
}
