package repository

import (
	"context"
	"time"

	"notification-engine/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ScheduleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewScheduleRepository(db *pgxpool.Pool, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

func (r *ScheduleRepository) CreateSchedule(ctx context.Context, s *model.ScheduledNotification) error {
	query := `
        INSERT INTO scheduled_notifications
            (id, template_id, recipients, config, data, status, next_run_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.TemplateID,
		s.Recipients,
		s.Config,
		s.Data,
		s.Status,
		s.NextRunAt,
	).Scan(&s.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create schedule",
			zap.Error(err),
			zap.String("template_id", s.TemplateID),
		)
		return err
	}
	return nil
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	query := `
        SELECT id, template_id, recipients, config, COALESCE(data, '{}'::jsonb),
               status, next_run_at, last_run_at, error, created_at
        FROM scheduled_notifications
        WHERE id = $1
    `
	var s model.ScheduledNotification
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.TemplateID,
		&s.Recipients,
		&s.Config,
		&s.Data,
		&s.Status,
		&s.NextRunAt,
		&s.LastRunAt,
		&s.Error,
		&s.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get schedule",
			zap.Error(err),
			zap.String("schedule_id", id),
		)
		return nil, err
	}
	return &s, nil
}

func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, s *model.ScheduledNotification) error {
	query := `
        UPDATE scheduled_notifications
        SET recipients = $2, config = $3, data = $4, next_run_at = $5
        WHERE id = $1 AND status = 'pending'
    `
	result, err := r.db.Exec(ctx, query,
		s.ID,
		s.Recipients,
		s.Config,
		s.Data,
		s.NextRunAt,
	)
	if err != nil {
		r.logger.Error("Failed to update schedule",
			zap.Error(err),
			zap.String("schedule_id", s.ID),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM scheduled_notifications WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete schedule",
			zap.Error(err),
			zap.String("schedule_id", id),
		)
	}
	return err
}

func (r *ScheduleRepository) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]model.ScheduledNotification, error) {
	query := `
        SELECT id, template_id, recipients, config, COALESCE(data, '{}'::jsonb),
               status, next_run_at, last_run_at, error, created_at
        FROM scheduled_notifications
        WHERE status = 'pending' AND next_run_at <= $1
        ORDER BY next_run_at ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		r.logger.Error("Failed to list due schedules", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	schedules := []model.ScheduledNotification{}
	for rows.Next() {
		var s model.ScheduledNotification
		if err := rows.Scan(
			&s.ID,
			&s.TemplateID,
			&s.Recipients,
			&s.Config,
			&s.Data,
			&s.Status,
			&s.NextRunAt,
			&s.LastRunAt,
			&s.Error,
			&s.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan schedule row", zap.Error(err))
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// ClaimSchedule is the atomic pending -> processing transition.
func (r *ScheduleRepository) ClaimSchedule(ctx context.Context, id string) (bool, error) {
	query := `
        UPDATE scheduled_notifications
        SET status = 'processing'
        WHERE id = $1 AND status = 'pending'
    `
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to claim schedule",
			zap.Error(err),
			zap.String("schedule_id", id),
		)
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// FinishSchedule closes out a processing run: back to pending with a
// new next_run_at for recurring schedules, terminal otherwise.
func (r *ScheduleRepository) FinishSchedule(ctx context.Context, id string, status model.ScheduleStatus, nextRunAt *time.Time, lastRunAt time.Time, errMsg string) error {
	query := `
        UPDATE scheduled_notifications
        SET status = $2, next_run_at = COALESCE($3, next_run_at), last_run_at = $4, error = $5
        WHERE id = $1
    `
	_, err := r.db.Exec(ctx, query, id, status, nextRunAt, lastRunAt, errMsg)
	if err != nil {
		r.logger.Error("Failed to finish schedule",
			zap.Error(err),
			zap.String("schedule_id", id),
			zap.String("status", string(status)),
		)
	}
	return err
}
