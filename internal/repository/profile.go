package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"geohunt/internal/model"
)

// ProfileRepository handles hunter profile persistence. Writes use
// optimistic concurrency on the version column: every update names the
// version it read, and loses cleanly when another writer got there first.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository instance.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

const profileColumns = `
	hunter_id, wallet_address, hunter_rank, total_treasures_found, total_score,
	current_streak, longest_streak, last_discovery_at, version, created_at, updated_at`

func scanProfile(row pgx.Row) (*model.HunterProfile, error) {
	var p model.HunterProfile
	var rank string
	err := row.Scan(
		&p.HunterID,
		&p.WalletAddress,
		&rank,
		&p.TotalTreasuresFound,
		&p.TotalScore,
		&p.CurrentStreak,
		&p.LongestStreak,
		&p.LastDiscoveryAt,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Rank, _ = model.ParseRank(rank)
	return &p, nil
}

// Create registers a new hunter profile with zeroed progression.
func (r *ProfileRepository) Create(ctx context.Context, hunterID, walletAddress string) (*model.HunterProfile, error) {
	const query = `
		INSERT INTO hunter_profiles (hunter_id, wallet_address, hunter_rank, total_treasures_found,
			total_score, current_streak, longest_streak, last_discovery_at, version, created_at, updated_at)
		VALUES ($1, $2, 'beginner', 0, 0, 0, 0, NULL, 1, NOW(), NOW())
		RETURNING` + profileColumns

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, hunterID, walletAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to create hunter profile: %w", err)
	}

	return profile, nil
}

// GetByID retrieves a hunter profile by ID.
// Returns ErrProfileNotFound if the profile does not exist.
func (r *ProfileRepository) GetHunterProfile(ctx context.Context, hunterID string) (*model.HunterProfile, error) {
	const query = `
		SELECT` + profileColumns + `
		FROM hunter_profiles
		WHERE hunter_id = $1
	`

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, hunterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get hunter profile: %w", err)
	}

	return profile, nil
}

// Update applies a profile mutation with a compare-and-swap on the version
// the caller read. Returns ErrVersionConflict when another writer updated
// the profile in between; the caller should re-read and recompute.
func (r *ProfileRepository) UpdateHunterProfile(ctx context.Context, p *model.HunterProfile) (*model.HunterProfile, error) {
	const query = `
		UPDATE hunter_profiles
		SET hunter_rank = $3, total_treasures_found = $4, total_score = $5,
			current_streak = $6, longest_streak = $7, last_discovery_at = $8,
			version = version + 1, updated_at = NOW()
		WHERE hunter_id = $1 AND version = $2
		RETURNING` + profileColumns

	updated, err := scanProfile(r.pool.QueryRow(ctx, query,
		p.HunterID, p.Version,
		p.Rank.String(), p.TotalTreasuresFound, p.TotalScore,
		p.CurrentStreak, p.LongestStreak, p.LastDiscoveryAt,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update hunter profile: %w", err)
	}

	// No row matched: either the profile is gone or the version moved.
	if _, getErr := r.GetHunterProfile(ctx, p.HunterID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrVersionConflict
}
