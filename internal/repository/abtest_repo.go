package repository

import (
	"context"
	"errors"

	"notification-engine/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type ABTestRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewABTestRepository(db *pgxpool.Pool, logger *zap.Logger) *ABTestRepository {
	return &ABTestRepository{db: db, logger: logger}
}

func (r *ABTestRepository) GetTest(ctx context.Context, id string) (*model.ABTest, error) {
	query := `
        SELECT id, template_id, name, variants, status, winning_variant, created_at, updated_at
        FROM ab_tests
        WHERE id = $1
    `
	var t model.ABTest
	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.TemplateID,
		&t.Name,
		&t.Variants,
		&t.Status,
		&t.WinningVariant,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to get a/b test",
			zap.Error(err),
			zap.String("test_id", id),
		)
		return nil, err
	}
	return &t, nil
}

func (r *ABTestRepository) CreateTest(ctx context.Context, test *model.ABTest) error {
	query := `
        INSERT INTO ab_tests (id, template_id, name, variants, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		test.ID,
		test.TemplateID,
		test.Name,
		test.Variants,
		test.Status,
	).Scan(&test.CreatedAt, &test.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to create a/b test",
			zap.Error(err),
			zap.String("template_id", test.TemplateID),
		)
		return err
	}
	return nil
}

func (r *ABTestRepository) UpdateTest(ctx context.Context, test *model.ABTest) error {
	query := `
        UPDATE ab_tests
        SET variants = $2, status = $3, winning_variant = $4, updated_at = NOW()
        WHERE id = $1
    `
	result, err := r.db.Exec(ctx, query,
		test.ID,
		test.Variants,
		test.Status,
		test.WinningVariant,
	)
	if err != nil {
		r.logger.Error("Failed to update a/b test",
			zap.Error(err),
			zap.String("test_id", test.ID),
		)
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ActiveTestForTemplate returns the running experiment on a template,
// nil when none. A partial unique index keeps at most one active test
// per template.
func (r *ABTestRepository) ActiveTestForTemplate(ctx context.Context, templateID string) (*model.ABTest, error) {
	query := `
        SELECT id, template_id, name, variants, status, winning_variant, created_at, updated_at
        FROM ab_tests
        WHERE template_id = $1 AND status = 'active'
        LIMIT 1
    `
	var t model.ABTest
	err := r.db.QueryRow(ctx, query, templateID).Scan(
		&t.ID,
		&t.TemplateID,
		&t.Name,
		&t.Variants,
		&t.Status,
		&t.WinningVariant,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to look up active a/b test",
			zap.Error(err),
			zap.String("template_id", templateID),
		)
		return nil, err
	}
	return &t, nil
}

func (r *ABTestRepository) InsertEvent(ctx context.Context, event *model.ABTestEvent) error {
	query := `
        INSERT INTO ab_test_events (id, test_id, variant_id, user_id, event)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.TestID,
		event.VariantID,
		event.UserID,
		event.Event,
	)
	if err != nil {
		r.logger.Error("Failed to insert a/b event",
			zap.Error(err),
			zap.String("test_id", event.TestID),
		)
	}
	return err
}

func (r *ABTestRepository) EventCounts(ctx context.Context, testID string) (map[string]map[model.ABTestEventType]int64, error) {
	query := `
        SELECT variant_id, event, COUNT(*)
        FROM ab_test_events
        WHERE test_id = $1
        GROUP BY variant_id, event
    `
	rows, err := r.db.Query(ctx, query, testID)
	if err != nil {
		r.logger.Error("Failed to aggregate a/b events",
			zap.Error(err),
			zap.String("test_id", testID),
		)
		return nil, err
	}
	defer rows.Close()

	counts := map[string]map[model.ABTestEventType]int64{}
	for rows.Next() {
		var (
			variantID string
			event     model.ABTestEventType
			count     int64
		)
		if err := rows.Scan(&variantID, &event, &count); err != nil {
			r.logger.Error("Failed to scan a/b aggregate row", zap.Error(err))
			return nil, err
		}
		if counts[variantID] == nil {
			counts[variantID] = map[model.ABTestEventType]int64{}
		}
		counts[variantID][event] = count
	}
	return counts, rows.Err()
}
