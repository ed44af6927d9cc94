package repository

import (
	"context"

	"notification-engine/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type TemplateRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewTemplateRepository(db *pgxpool.Pool, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *TemplateRepository) GetTemplateByType(ctx context.Context, templateType string) (*model.Template, error) {
	return r.getOne(ctx, `WHERE type = $1`, templateType)
}

func (r *TemplateRepository) getOne(ctx context.Context, where string, arg any) (*model.Template, error) {
	query := `
        SELECT id, type, title, body, variables,
               COALESCE(metadata, '{}'::jsonb), is_active, current_version,
               created_at, updated_at
        FROM templates ` + where
	var tpl model.Template
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&tpl.ID,
		&tpl.Type,
		&tpl.Title,
		&tpl.Body,
		&tpl.Variables,
		&tpl.Metadata,
		&tpl.IsActive,
		&tpl.CurrentVersion,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get template", zap.Error(err))
		return nil, err
	}
	return &tpl, nil
}

// CreateTemplate inserts the template and its version 1 row in one
// transaction so the version history never starts empty.
func (r *TemplateRepository) CreateTemplate(ctx context.Context, tpl *model.Template) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO templates (id, type, title, body, variables, metadata, is_active, current_version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING created_at, updated_at
    `,
		tpl.ID,
		tpl.Type,
		tpl.Title,
		tpl.Body,
		tpl.Variables,
		tpl.Metadata,
		tpl.IsActive,
		tpl.CurrentVersion,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert template",
			zap.Error(err),
			zap.String("type", tpl.Type),
		)
		return err
	}

	if err := insertVersion(ctx, tx, tpl); err != nil {
		r.logger.Error("Failed to insert template version", zap.Error(err))
		return err
	}
	return tx.Commit(ctx)
}

// AddVersion updates the template content and appends the version row
// in one transaction.
func (r *TemplateRepository) AddVersion(ctx context.Context, tpl *model.Template) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
        UPDATE templates
        SET title = $2, body = $3, variables = $4, current_version = $5, updated_at = NOW()
        WHERE id = $1
    `,
		tpl.ID,
		tpl.Title,
		tpl.Body,
		tpl.Variables,
		tpl.CurrentVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update template",
			zap.Error(err),
			zap.String("template_id", tpl.ID),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	if err := insertVersion(ctx, tx, tpl); err != nil {
		r.logger.Error("Failed to insert template version", zap.Error(err))
		return err
	}
	return tx.Commit(ctx)
}

func insertVersion(ctx context.Context, tx pgx.Tx, tpl *model.Template) error {
	_, err := tx.Exec(ctx, `
        INSERT INTO template_versions (template_id, version, title, body, variables)
        VALUES ($1, $2, $3, $4, $5)
    `,
		tpl.ID,
		tpl.CurrentVersion,
		tpl.Title,
		tpl.Body,
		tpl.Variables,
	)
	return err
}

func (r *TemplateRepository) ListVersions(ctx context.Context, id string) ([]model.TemplateVersion, error) {
	query := `
        SELECT template_id, version, title, body, variables, created_at
        FROM template_versions
        WHERE template_id = $1
        ORDER BY version ASC
    `
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		r.logger.Error("Failed to list template versions",
			zap.Error(err),
			zap.String("template_id", id),
		)
		return nil, err
	}
	defer rows.Close()

	versions := []model.TemplateVersion{}
	for rows.Next() {
		var v model.TemplateVersion
		if err := rows.Scan(
			&v.TemplateID,
			&v.Version,
			&v.Title,
			&v.Body,
			&v.Variables,
			&v.CreatedAt,
		); err != nil {
			r.logger.Error("Failed to scan template version", zap.Error(err))
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
