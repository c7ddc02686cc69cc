// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"geohunt/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runTestMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runTestMigrations applies the database schema
func runTestMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS treasures (
			treasure_id VARCHAR(255) PRIMARY KEY,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			rarity VARCHAR(20) NOT NULL,
			required_rank SMALLINT NOT NULL DEFAULT 0,
			reward_points BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS hunter_profiles (
			hunter_id VARCHAR(255) PRIMARY KEY,
			wallet_address VARCHAR(255) NOT NULL,
			hunter_rank VARCHAR(20) NOT NULL DEFAULT 'beginner',
			total_treasures_found BIGINT NOT NULL DEFAULT 0,
			total_score BIGINT NOT NULL DEFAULT 0,
			current_streak BIGINT NOT NULL DEFAULT 0,
			longest_streak BIGINT NOT NULL DEFAULT 0,
			last_discovery_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS discoveries (
			discovery_id UUID PRIMARY KEY,
			idempotency_token VARCHAR(255) NOT NULL,
			treasure_id VARCHAR(255) NOT NULL REFERENCES treasures(treasure_id),
			hunter_id VARCHAR(255) NOT NULL REFERENCES hunter_profiles(hunter_id),
			location_proof JSONB NOT NULL,
			discovered_at TIMESTAMPTZ NOT NULL,
			nft_object_id VARCHAR(255),
			tx_id VARCHAR(255),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			fail_kind VARCHAR(50),
			fail_reason TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_discoveries_token
			ON discoveries(idempotency_token);
		CREATE UNIQUE INDEX IF NOT EXISTS uq_discoveries_treasure_slot
			ON discoveries(treasure_id) WHERE status <> 'failed';
	`)
	return err
}

func seedTreasure(t *testing.T, pool *pgxpool.Pool, treasureID string) *model.Treasure {
	t.Helper()
	repo := NewTreasureRepository(pool)
	created, err := repo.Create(context.Background(), &model.Treasure{
		TreasureID:   treasureID,
		Latitude:     21.0285,
		Longitude:    105.8542,
		Rarity:       model.RarityRare,
		RequiredRank: model.RankBeginner,
		RewardPoints: 100,
		Active:       true,
	})
	require.NoError(t, err)
	return created
}

func seedHunter(t *testing.T, pool *pgxpool.Pool, hunterID string) *model.HunterProfile {
	t.Helper()
	repo := NewProfileRepository(pool)
	created, err := repo.Create(context.Background(), hunterID, "0x"+hunterID)
	require.NoError(t, err)
	return created
}

func pendingDiscovery(treasureID, hunterID, token string) *model.Discovery {
	return &model.Discovery{
		DiscoveryID:      uuid.NewString(),
		IdempotencyToken: token,
		TreasureID:       treasureID,
		HunterID:         hunterID,
		LocationProof:    []byte(`{"fix":{"latitude":21.0285,"longitude":105.8542}}`),
		DiscoveredAt:     time.Now().UTC(),
	}
}

// ============================================================================
// TreasureRepository Tests
// ============================================================================

func TestTreasureRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTreasureRepository(pool)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		created := seedTreasure(t, pool, "t-create")
		assert.Equal(t, "t-create", created.TreasureID)
		assert.True(t, created.Active)

		got, err := repo.GetByID(ctx, "t-create")
		require.NoError(t, err)
		assert.Equal(t, created.TreasureID, got.TreasureID)
		assert.Equal(t, model.RarityRare, got.Rarity)
		assert.Equal(t, int64(100), got.RewardPoints)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "t-missing")
		assert.ErrorIs(t, err, ErrTreasureNotFound)
	})

	t.Run("deactivate", func(t *testing.T) {
		seedTreasure(t, pool, "t-deact")

		require.NoError(t, repo.Deactivate(ctx, "t-deact"))

		got, err := repo.GetByID(ctx, "t-deact")
		require.NoError(t, err)
		assert.False(t, got.Active)

		assert.ErrorIs(t, repo.Deactivate(ctx, "t-missing"), ErrTreasureNotFound)
	})
}

// ============================================================================
// ProfileRepository Tests
// ============================================================================

func TestProfileRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewProfileRepository(pool)
	ctx := context.Background()

	t.Run("create defaults", func(t *testing.T) {
		created := seedHunter(t, pool, "h-new")
		assert.Equal(t, model.RankBeginner, created.Rank)
		assert.Equal(t, int64(0), created.TotalTreasuresFound)
		assert.Equal(t, int64(1), created.Version)
		assert.Nil(t, created.LastDiscoveryAt)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.GetHunterProfile(ctx, "h-missing")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("version-checked update", func(t *testing.T) {
		created := seedHunter(t, pool, "h-cas")

		next := *created
		next.TotalTreasuresFound = 1
		next.TotalScore = 100
		next.CurrentStreak = 1
		next.LongestStreak = 1
		now := time.Now().UTC()
		next.LastDiscoveryAt = &now

		updated, err := repo.UpdateHunterProfile(ctx, &next)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, int64(1), updated.TotalTreasuresFound)
		require.NotNil(t, updated.LastDiscoveryAt)

		// A write carrying the original version must lose.
		stale := *created
		stale.TotalScore = 999
		_, err = repo.UpdateHunterProfile(ctx, &stale)
		assert.ErrorIs(t, err, ErrVersionConflict)

		// The losing write changed nothing.
		got, err := repo.GetHunterProfile(ctx, "h-cas")
		require.NoError(t, err)
		assert.Equal(t, int64(100), got.TotalScore)
	})

	t.Run("update missing profile", func(t *testing.T) {
		ghost := &model.HunterProfile{HunterID: "h-ghost", Version: 1}
		_, err := repo.UpdateHunterProfile(ctx, ghost)
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("rank round-trips through storage", func(t *testing.T) {
		created := seedHunter(t, pool, "h-rank")

		next := *created
		next.TotalTreasuresFound = 25
		next.Rank = model.RankHunter

		updated, err := repo.UpdateHunterProfile(ctx, &next)
		require.NoError(t, err)
		assert.Equal(t, model.RankHunter, updated.Rank)
	})
}

// ============================================================================
// DiscoveryRepository Tests
// ============================================================================

func TestDiscoveryRepository_InsertAndLookup(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDiscoveryRepository(pool)
	ctx := context.Background()

	seedTreasure(t, pool, "t-1")
	seedHunter(t, pool, "h-1")

	d := pendingDiscovery("t-1", "h-1", "tok-1")
	require.NoError(t, repo.InsertPending(ctx, d))
	assert.Equal(t, model.StatusPending, d.Status)

	got, err := repo.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, d.DiscoveryID, got.DiscoveryID)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.TxID)

	byID, err := repo.GetByID(ctx, d.DiscoveryID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", byID.IdempotencyToken)

	_, err = repo.GetByToken(ctx, "tok-unknown")
	assert.ErrorIs(t, err, ErrDiscoveryNotFound)
}

func TestDiscoveryRepository_UniquenessGuarantees(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDiscoveryRepository(pool)
	ctx := context.Background()

	seedTreasure(t, pool, "t-1")
	seedTreasure(t, pool, "t-2")
	seedHunter(t, pool, "h-1")
	seedHunter(t, pool, "h-2")

	require.NoError(t, repo.InsertPending(ctx, pendingDiscovery("t-1", "h-1", "tok-1")))

	// Reusing the idempotency token is rejected even for another treasure.
	err := repo.InsertPending(ctx, pendingDiscovery("t-2", "h-1", "tok-1"))
	assert.ErrorIs(t, err, ErrDuplicateToken)

	// A second claim on the same treasure loses the slot.
	err = repo.InsertPending(ctx, pendingDiscovery("t-1", "h-2", "tok-2"))
	assert.ErrorIs(t, err, ErrDuplicateTreasure)
}

func TestDiscoveryRepository_Settlement(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDiscoveryRepository(pool)
	ctx := context.Background()

	seedTreasure(t, pool, "t-1")
	seedHunter(t, pool, "h-1")

	d := pendingDiscovery("t-1", "h-1", "tok-1")
	require.NoError(t, repo.InsertPending(ctx, d))

	settled, err := repo.HasSettled(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, settled)

	require.NoError(t, repo.MarkSettled(ctx, d.DiscoveryID, "tx-1", "nft-1"))

	got, err := repo.GetByID(ctx, d.DiscoveryID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettled, got.Status)
	require.NotNil(t, got.TxID)
	assert.Equal(t, "tx-1", *got.TxID)
	require.NotNil(t, got.NFTObjectID)
	assert.Equal(t, "nft-1", *got.NFTObjectID)

	settled, err = repo.HasSettled(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, settled)

	// Settlement is not repeatable: the row is no longer pending.
	assert.ErrorIs(t, repo.MarkSettled(ctx, d.DiscoveryID, "tx-2", "nft-2"), ErrDiscoveryNotFound)
}

func TestDiscoveryRepository_FailedReopensSlot(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDiscoveryRepository(pool)
	ctx := context.Background()

	seedTreasure(t, pool, "t-1")
	seedHunter(t, pool, "h-1")
	seedHunter(t, pool, "h-2")

	d := pendingDiscovery("t-1", "h-1", "tok-1")
	require.NoError(t, repo.InsertPending(ctx, d))
	require.NoError(t, repo.MarkFailed(ctx, d.DiscoveryID, "insufficient_funds", "wallet cannot fund the mint"))

	got, err := repo.GetByID(ctx, d.DiscoveryID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.FailKind)
	assert.Equal(t, "insufficient_funds", *got.FailKind)

	// Failed rows drop out of the partial index, so the treasure is
	// claimable again.
	require.NoError(t, repo.InsertPending(ctx, pendingDiscovery("t-1", "h-2", "tok-2")))
}

func TestDiscoveryRepository_RejectedKeepsSlotClosed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewDiscoveryRepository(pool)
	ctx := context.Background()

	seedTreasure(t, pool, "t-1")
	seedHunter(t, pool, "h-1")
	seedHunter(t, pool, "h-2")

	d := pendingDiscovery("t-1", "h-1", "tok-1")
	require.NoError(t, repo.InsertPending(ctx, d))
	require.NoError(t, repo.MarkRejected(ctx, d.DiscoveryID, "ledger_rejected", "treasure already minted on ledger"))

	got, err := repo.GetByID(ctx, d.DiscoveryID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, got.Status)

	// Rejected rows still occupy the treasure slot.
	err = repo.InsertPending(ctx, pendingDiscovery("t-1", "h-2", "tok-2"))
	assert.ErrorIs(t, err, ErrDuplicateTreasure)
}

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistry(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	treasures := NewTreasureRepository(pool)
	discoveries := NewDiscoveryRepository(pool)
	registry := NewRegistry(treasures, discoveries)

	seedTreasure(t, pool, "t-1")
	seedHunter(t, pool, "h-1")

	got, err := registry.GetTreasure(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.TreasureID)

	claimed, err := registry.HasSettledDiscovery(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	d := pendingDiscovery("t-1", "h-1", "tok-1")
	require.NoError(t, discoveries.InsertPending(ctx, d))
	require.NoError(t, discoveries.MarkSettled(ctx, d.DiscoveryID, "tx-1", "nft-1"))

	claimed, err = registry.HasSettledDiscovery(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, claimed)
}
