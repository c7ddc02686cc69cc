package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"geohunt/internal/model"
)

// Index names backing the discovery uniqueness guarantees. The treasure slot
// index is partial: failed rows are excluded, so a failed settlement frees
// the treasure for other claimants.
const (
	treasureSlotIndex = "uq_discoveries_treasure_slot"
	tokenIndex        = "uq_discoveries_token"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// DiscoveryRepository handles discovery record persistence.
type DiscoveryRepository struct {
	pool *pgxpool.Pool
}

// NewDiscoveryRepository creates a new DiscoveryRepository instance.
func NewDiscoveryRepository(pool *pgxpool.Pool) *DiscoveryRepository {
	return &DiscoveryRepository{pool: pool}
}

const discoveryColumns = `
	discovery_id, idempotency_token, treasure_id, hunter_id, location_proof,
	discovered_at, nft_object_id, tx_id, status, fail_kind, fail_reason`

func scanDiscovery(row pgx.Row) (*model.Discovery, error) {
	var d model.Discovery
	err := row.Scan(
		&d.DiscoveryID,
		&d.IdempotencyToken,
		&d.TreasureID,
		&d.HunterID,
		&d.LocationProof,
		&d.DiscoveredAt,
		&d.NFTObjectID,
		&d.TxID,
		&d.Status,
		&d.FailKind,
		&d.FailReason,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertPending creates a discovery record in pending status. The database's
// unique indexes decide races: a second non-failed row for the same treasure
// returns ErrDuplicateTreasure, a reused idempotency token returns
// ErrDuplicateToken.
func (r *DiscoveryRepository) InsertPending(ctx context.Context, d *model.Discovery) error {
	const query = `
		INSERT INTO discoveries (discovery_id, idempotency_token, treasure_id, hunter_id,
			location_proof, discovered_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
	`

	_, err := r.pool.Exec(ctx, query,
		d.DiscoveryID, d.IdempotencyToken, d.TreasureID, d.HunterID,
		d.LocationProof, d.DiscoveredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case tokenIndex:
				return ErrDuplicateToken
			case treasureSlotIndex:
				return ErrDuplicateTreasure
			}
			return ErrDuplicateTreasure
		}
		return fmt.Errorf("failed to insert pending discovery: %w", err)
	}

	d.Status = model.StatusPending
	return nil
}

// GetByToken retrieves a discovery by its idempotency token.
// Returns ErrDiscoveryNotFound if no discovery exists for the token.
func (r *DiscoveryRepository) GetByToken(ctx context.Context, token string) (*model.Discovery, error) {
	const query = `
		SELECT` + discoveryColumns + `
		FROM discoveries
		WHERE idempotency_token = $1
	`

	d, err := scanDiscovery(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiscoveryNotFound
		}
		return nil, fmt.Errorf("failed to get discovery by token: %w", err)
	}

	return d, nil
}

// GetByID retrieves a discovery by its ID.
func (r *DiscoveryRepository) GetByID(ctx context.Context, discoveryID string) (*model.Discovery, error) {
	const query = `
		SELECT` + discoveryColumns + `
		FROM discoveries
		WHERE discovery_id = $1
	`

	d, err := scanDiscovery(r.pool.QueryRow(ctx, query, discoveryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDiscoveryNotFound
		}
		return nil, fmt.Errorf("failed to get discovery: %w", err)
	}

	return d, nil
}

// MarkSettled flips a pending discovery to settled with its mint references.
func (r *DiscoveryRepository) MarkSettled(ctx context.Context, discoveryID, txID, nftObjectID string) error {
	const query = `
		UPDATE discoveries
		SET status = 'settled', tx_id = $2, nft_object_id = $3, fail_kind = NULL, fail_reason = NULL
		WHERE discovery_id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, discoveryID, txID, nftObjectID)
	if err != nil {
		return fmt.Errorf("failed to mark discovery settled: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrDiscoveryNotFound
	}

	return nil
}

// MarkFailed flips a pending discovery to failed, recording why. Failed
// rows fall out of the treasure slot index, re-opening the treasure.
func (r *DiscoveryRepository) MarkFailed(ctx context.Context, discoveryID, kind, reason string) error {
	return r.markTerminal(ctx, discoveryID, string(model.StatusFailed), kind, reason)
}

// MarkRejected flips a pending discovery to rejected. Rejected rows keep the
// treasure slot occupied: the ledger already minted this treasure.
func (r *DiscoveryRepository) MarkRejected(ctx context.Context, discoveryID, kind, reason string) error {
	return r.markTerminal(ctx, discoveryID, string(model.StatusRejected), kind, reason)
}

func (r *DiscoveryRepository) markTerminal(ctx context.Context, discoveryID, status, kind, reason string) error {
	const query = `
		UPDATE discoveries
		SET status = $2, fail_kind = $3, fail_reason = $4
		WHERE discovery_id = $1 AND status = 'pending'
	`

	result, err := r.pool.Exec(ctx, query, discoveryID, status, kind, reason)
	if err != nil {
		return fmt.Errorf("failed to mark discovery %s: %w", status, err)
	}

	if result.RowsAffected() == 0 {
		return ErrDiscoveryNotFound
	}

	return nil
}

// HasSettled reports whether a settled discovery exists for the treasure.
func (r *DiscoveryRepository) HasSettled(ctx context.Context, treasureID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM discoveries WHERE treasure_id = $1 AND status = 'settled')`

	var exists bool
	err := r.pool.QueryRow(ctx, query, treasureID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check settled discovery: %w", err)
	}

	return exists, nil
}
