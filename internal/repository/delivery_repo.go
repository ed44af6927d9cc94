package repository

import (
	"context"
	"fmt"
	"time"

	"notification-engine/internal/engine"
	"notification-engine/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DeliveryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDeliveryRepository(db *pgxpool.Pool, logger *zap.Logger) *DeliveryRepository {
	return &DeliveryRepository{db: db, logger: logger}
}

func (r *DeliveryRepository) InsertRecord(ctx context.Context, rec *model.DeliveryRecord) error {
	query := `
        INSERT INTO delivery_records
            (id, notification_id, user_id, channel, status, error, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		rec.ID,
		rec.NotificationID,
		rec.UserID,
		rec.Channel,
		rec.Status,
		rec.Error,
		rec.Metadata,
	).Scan(&rec.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to insert delivery record",
			zap.Error(err),
			zap.String("notification_id", rec.NotificationID),
			zap.String("channel", string(rec.Channel)),
		)
		return err
	}
	return nil
}

func (r *DeliveryRepository) ListByNotification(ctx context.Context, notificationID string) ([]model.DeliveryRecord, error) {
	query := `
        SELECT id, notification_id, user_id, channel, status, error,
               COALESCE(metadata, '{}'::jsonb), created_at
        FROM delivery_records
        WHERE notification_id = $1
        ORDER BY created_at ASC
    `
	rows, err := r.db.Query(ctx, query, notificationID)
	if err != nil {
		r.logger.Error("Failed to query delivery records",
			zap.Error(err),
			zap.String("notification_id", notificationID),
		)
		return nil, err
	}
	defer rows.Close()

	records := []model.DeliveryRecord{}
	for rows.Next() {
		var rec model.DeliveryRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.NotificationID,
			&rec.UserID,
			&rec.Channel,
			&rec.Status,
			&rec.Error,
			&rec.Metadata,
			&rec.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan delivery record", zap.Error(err))
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords aggregates by channel and status in one grouped query;
// the derived counters come out of the same pass.
func (r *DeliveryRepository) CountRecords(ctx context.Context, userID string, from, to *time.Time) (*engine.DeliveryCounts, error) {
	query := `SELECT channel, status, COUNT(*) FROM delivery_records WHERE 1=1`
	args := []any{}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query += " GROUP BY channel, status"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to aggregate delivery records", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	counts := &engine.DeliveryCounts{
		ByChannel:       map[model.Channel]int64{},
		ByStatus:        map[model.DeliveryStatus]int64{},
		FailedByChannel: map[model.Channel]int64{},
	}
	for rows.Next() {
		var (
			channel model.Channel
			status  model.DeliveryStatus
			count   int64
		)
		if err := rows.Scan(&channel, &status, &count); err != nil {
			r.logger.Error("Failed to scan aggregate row", zap.Error(err))
			return nil, err
		}

		counts.Total += count
		counts.ByChannel[channel] += count
		counts.ByStatus[status] += count
		switch status {
		case model.DeliveryStatusFailed:
			counts.FailedByChannel[channel] += count
		case model.DeliveryStatusDelivered:
			counts.Delivered += count
		case model.DeliveryStatusClicked:
			counts.Clicked += count
		}
	}
	return counts, rows.Err()
}
