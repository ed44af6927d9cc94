package repository

import (
	"context"

	"notification-engine/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type NotificationRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

// InsertNotification persists a notification. Grouped inserts take
// their position from a per-group counter row; the upsert-increment
// row-locks the counter, so concurrent inserts into the same group
// serialize and positions are strictly increasing.
func (r *NotificationRepository) InsertNotification(ctx context.Context, n *model.Notification) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	order := 0
	if n.GroupID != "" {
		err = tx.QueryRow(ctx, `
            INSERT INTO notification_group_counters (group_id, count)
            VALUES ($1, 1)
            ON CONFLICT (group_id)
            DO UPDATE SET count = notification_group_counters.count + 1
            RETURNING count
        `, n.GroupID).Scan(&order)
		if err != nil {
			r.logger.Error("Failed to advance group counter",
				zap.Error(err),
				zap.String("group_id", n.GroupID),
			)
			return err
		}
	}

	err = tx.QueryRow(ctx, `
        INSERT INTO notifications
            (id, user_id, type, category, priority, title, message, group_id, group_order, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at
    `,
		n.ID,
		n.UserID,
		n.Type,
		n.Category,
		n.Priority,
		n.Title,
		n.Message,
		n.GroupID,
		order,
		n.Metadata,
	).Scan(&n.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert notification",
			zap.Error(err),
			zap.String("user_id", n.UserID),
			zap.String("type", n.Type),
		)
		return err
	}
	n.GroupOrder = order

	return tx.Commit(ctx)
}

func (r *NotificationRepository) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	query := `
        SELECT id, user_id, type, category, priority, title, message,
               group_id, group_order, read, dismissed,
               COALESCE(metadata, '{}'::jsonb), created_at
        FROM notifications
        WHERE id = $1
    `
	var n model.Notification
	err := r.db.QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Category,
		&n.Priority,
		&n.Title,
		&n.Message,
		&n.GroupID,
		&n.GroupOrder,
		&n.Read,
		&n.Dismissed,
		&n.Metadata,
		&n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id),
		)
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) GetNotifications(ctx context.Context, ids []string) ([]model.Notification, error) {
	query := `
        SELECT id, user_id, type, category, priority, title, message,
               group_id, group_order, read, dismissed,
               COALESCE(metadata, '{}'::jsonb), created_at
        FROM notifications
        WHERE id = ANY($1)
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		r.logger.Error("Failed to query notifications", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Category,
			&n.Priority,
			&n.Title,
			&n.Message,
			&n.GroupID,
			&n.GroupOrder,
			&n.Read,
			&n.Dismissed,
			&n.Metadata,
			&n.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan notification row", zap.Error(err))
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	query := `
        SELECT id, user_id, type, category, priority, title, message,
               group_id, group_order, read, dismissed,
               COALESCE(metadata, '{}'::jsonb), created_at
        FROM notifications
        WHERE user_id = $1 AND NOT dismissed
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		r.logger.Error("Failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, err
	}
	defer rows.Close()

	notifications := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Category,
			&n.Priority,
			&n.Title,
			&n.Message,
			&n.GroupID,
			&n.GroupOrder,
			&n.Read,
			&n.Dismissed,
			&n.Metadata,
			&n.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan notification row", zap.Error(err))
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `UPDATE notifications SET read = true WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to mark notification read",
			zap.Error(err),
			zap.String("notification_id", id),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		r.logger.Debug("Notification not found for read",
			zap.String("notification_id", id),
		)
	}
	return nil
}

func (r *NotificationRepository) MarkDismissed(ctx context.Context, id string) error {
	query := `UPDATE notifications SET dismissed = true WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to dismiss notification",
			zap.Error(err),
			zap.String("notification_id", id),
		)
		return err
	}
	return nil
}
