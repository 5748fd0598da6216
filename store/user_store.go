package store

import (
	"context"
	"database/sql"
	"fmt"

	"revsend/api/models"
)

type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// ListUserProfiles returns every user in signup order. A user that was
// never seen reports their signup time as LastSeenAt.
func (s *UserStore) ListUserProfiles(ctx context.Context) ([]models.UserProfile, error) {
	query := `
		SELECT id::text, coalesce(plan, ''), created_at, coalesce(last_seen_at, created_at)
		FROM users
		ORDER BY created_at ASC, id ASC;
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list user profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.UserProfile
	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.UserID, &p.Plan, &p.CreatedAt, &p.LastSeenAt); err != nil {
			return nil, fmt.Errorf("failed to scan user profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for user profiles: %w", err)
	}

	return profiles, nil
}
