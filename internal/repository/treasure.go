// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"geohunt/internal/model"
)

// Common errors for repository operations.
var (
	ErrTreasureNotFound  = errors.New("treasure not found")
	ErrProfileNotFound   = errors.New("hunter profile not found")
	ErrDiscoveryNotFound = errors.New("discovery not found")
	// ErrDuplicateTreasure means the treasure slot is already occupied by a
	// non-failed discovery.
	ErrDuplicateTreasure = errors.New("treasure slot already occupied")
	// ErrDuplicateToken means a discovery already exists for the
	// idempotency token.
	ErrDuplicateToken = errors.New("idempotency token already used")
	// ErrVersionConflict means a profile update lost a compare-and-swap
	// race and should be retried from a fresh read.
	ErrVersionConflict = errors.New("profile version conflict")
)

// TreasureRepository handles treasure registry persistence. The pipeline
// only reads treasures; Create and Deactivate exist for admin tooling and
// tests.
type TreasureRepository struct {
	pool *pgxpool.Pool
}

// NewTreasureRepository creates a new TreasureRepository instance.
func NewTreasureRepository(pool *pgxpool.Pool) *TreasureRepository {
	return &TreasureRepository{pool: pool}
}

// Create registers a new treasure.
func (r *TreasureRepository) Create(ctx context.Context, t *model.Treasure) (*model.Treasure, error) {
	const query = `
		INSERT INTO treasures (treasure_id, latitude, longitude, rarity, required_rank, reward_points, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING treasure_id, latitude, longitude, rarity, required_rank, reward_points, active, created_at
	`

	var created model.Treasure
	err := r.pool.QueryRow(ctx, query,
		t.TreasureID, t.Latitude, t.Longitude, t.Rarity, t.RequiredRank, t.RewardPoints, t.Active,
	).Scan(
		&created.TreasureID,
		&created.Latitude,
		&created.Longitude,
		&created.Rarity,
		&created.RequiredRank,
		&created.RewardPoints,
		&created.Active,
		&created.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create treasure: %w", err)
	}

	return &created, nil
}

// GetByID retrieves a treasure by its ID.
// Returns ErrTreasureNotFound if the treasure does not exist.
func (r *TreasureRepository) GetByID(ctx context.Context, treasureID string) (*model.Treasure, error) {
	const query = `
		SELECT treasure_id, latitude, longitude, rarity, required_rank, reward_points, active, created_at
		FROM treasures
		WHERE treasure_id = $1
	`

	var t model.Treasure
	err := r.pool.QueryRow(ctx, query, treasureID).Scan(
		&t.TreasureID,
		&t.Latitude,
		&t.Longitude,
		&t.Rarity,
		&t.RequiredRank,
		&t.RewardPoints,
		&t.Active,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTreasureNotFound
		}
		return nil, fmt.Errorf("failed to get treasure: %w", err)
	}

	return &t, nil
}

// Deactivate marks a treasure as no longer discoverable. Treasures are
// never deleted.
func (r *TreasureRepository) Deactivate(ctx context.Context, treasureID string) error {
	const query = `UPDATE treasures SET active = FALSE WHERE treasure_id = $1`

	result, err := r.pool.Exec(ctx, query, treasureID)
	if err != nil {
		return fmt.Errorf("failed to deactivate treasure: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrTreasureNotFound
	}

	return nil
}

// Registry combines treasure reads with the settled-discovery pre-check,
// giving the pipeline its registry view over both tables.
type Registry struct {
	treasures   *TreasureRepository
	discoveries *DiscoveryRepository
}

// NewRegistry creates a Registry over the two repositories.
func NewRegistry(treasures *TreasureRepository, discoveries *DiscoveryRepository) *Registry {
	return &Registry{treasures: treasures, discoveries: discoveries}
}

// GetTreasure retrieves a treasure by ID.
func (r *Registry) GetTreasure(ctx context.Context, treasureID string) (*model.Treasure, error) {
	return r.treasures.GetByID(ctx, treasureID)
}

// HasSettledDiscovery reports whether a settled discovery exists for the
// treasure.
func (r *Registry) HasSettledDiscovery(ctx context.Context, treasureID string) (bool, error) {
	return r.discoveries.HasSettled(ctx, treasureID)
}
