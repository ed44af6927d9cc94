package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// MembershipRepository resolves audience criteria on scheduled
// notifications ("project:<id>", "user:<id>") into user id lists.
type MembershipRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewMembershipRepository(db *pgxpool.Pool, logger *zap.Logger) *MembershipRepository {
	return &MembershipRepository{db: db, logger: logger}
}

func (r *MembershipRepository) Resolve(ctx context.Context, audience string) ([]string, error) {
	scope, id, ok := strings.Cut(audience, ":")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid audience %q", audience)
	}

	switch scope {
	case "user":
		return []string{id}, nil
	case "project":
		return r.projectMembers(ctx, id)
	default:
		return nil, fmt.Errorf("unknown audience scope %q", scope)
	}
}

func (r *MembershipRepository) projectMembers(ctx context.Context, projectID string) ([]string, error) {
	query := `SELECT user_id FROM project_members WHERE project_id = $1`
	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		r.logger.Error("Failed to resolve project members",
			zap.Error(err),
			zap.String("project_id", projectID),
		)
		return nil, err
	}
	defer rows.Close()

	users := []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
