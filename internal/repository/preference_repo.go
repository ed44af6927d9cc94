package repository

import (
	"context"

	"notification-engine/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type PreferenceRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPreferenceRepository(db *pgxpool.Pool, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, logger: logger}
}

// GetOrCreate returns the preference row for a user/template pair,
// inserting enabled-everywhere defaults on first access. The insert
// tolerates a concurrent first access for the same pair.
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, userID, templateType string) (*model.Preference, error) {
	insert := `
        INSERT INTO preferences
            (id, user_id, template_type, enabled, app_enabled, email_enabled, push_enabled, digest)
        VALUES ($1, $2, $3, true, true, true, true, 'immediate')
        ON CONFLICT (user_id, template_type) DO NOTHING
    `
	if _, err := r.db.Exec(ctx, insert, uuid.NewString(), userID, templateType); err != nil {
		r.logger.Error("Failed to ensure preference",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("template_type", templateType),
		)
		return nil, err
	}

	query := `
        SELECT id, user_id, template_type, enabled, app_enabled, email_enabled, push_enabled,
               COALESCE(windows, '[]'::jsonb), digest, created_at, updated_at
        FROM preferences
        WHERE user_id = $1 AND template_type = $2
    `
	var p model.Preference
	err := r.db.QueryRow(ctx, query, userID, templateType).Scan(
		&p.ID,
		&p.UserID,
		&p.TemplateType,
		&p.Enabled,
		&p.AppEnabled,
		&p.EmailEnabled,
		&p.PushEnabled,
		&p.Windows,
		&p.Digest,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get preference",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, err
	}
	return &p, nil
}

func (r *PreferenceRepository) Update(ctx context.Context, pref *model.Preference) error {
	query := `
        UPDATE preferences
        SET enabled = $3, app_enabled = $4, email_enabled = $5, push_enabled = $6,
            windows = $7, digest = $8, updated_at = NOW()
        WHERE user_id = $1 AND template_type = $2
    `
	result, err := r.db.Exec(ctx, query,
		pref.UserID,
		pref.TemplateType,
		pref.Enabled,
		pref.AppEnabled,
		pref.EmailEnabled,
		pref.PushEnabled,
		pref.Windows,
		pref.Digest,
	)
	if err != nil {
		r.logger.Error("Failed to update preference",
			zap.Error(err),
			zap.String("user_id", pref.UserID),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
