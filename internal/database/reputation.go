package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aaronwang/campus-auction/internal/models"
)

// ErrUserNotFound is returned when no account row matches the id
var ErrUserNotFound = errors.New("user not found")

// ReputationStore reads and adjusts account reputation scores
type ReputationStore struct {
	db *sql.DB
}

// NewReputationStore creates a reputation store on an existing client
func NewReputationStore(c *PostgresClient) *ReputationStore {
	return &ReputationStore{db: c.db}
}

// Get returns the current reputation score of a user
func (s *ReputationStore) Get(ctx context.Context, userID string) (int64, error) {
	var score int64
	err := s.db.QueryRowContext(ctx,
		"SELECT reputation_score FROM users WHERE id = $1", userID).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get reputation: %w", err)
	}
	return score, nil
}

// Increment adds delta to a user's score and returns the new value
func (s *ReputationStore) Increment(ctx context.Context, userID string, delta int64) (int64, error) {
	var score int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE users SET reputation_score = reputation_score + $1 WHERE id = $2 RETURNING reputation_score",
		delta, userID).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to increment reputation: %w", err)
	}
	return score, nil
}

// UpsertUser creates or renames an account row
func (s *ReputationStore) UpsertUser(ctx context.Context, id, nickname string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, nickname)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET nickname = EXCLUDED.nickname
		RETURNING id, nickname, reputation_score, created_at
	`, id, nickname).Scan(&user.ID, &user.Nickname, &user.ReputationScore, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}
