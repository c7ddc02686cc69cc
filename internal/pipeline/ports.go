package pipeline

import (
	"context"

	"geohunt/internal/model"
)

// DiscoveryLookup reads the treasure registry and answers the advisory
// already-claimed pre-check. The pre-check exists to fail fast; correctness
// of the at-most-once guarantee rests on the storage constraint enforced at
// commit time, not on this read.
type DiscoveryLookup interface {
	GetTreasure(ctx context.Context, treasureID string) (*model.Treasure, error)
	HasSettledDiscovery(ctx context.Context, treasureID string) (bool, error)
}

// ProfileStore reads and writes hunter progression state. UpdateHunterProfile
// is a compare-and-swap on the profile's version field: it succeeds only when
// the stored version matches the one the caller read, and returns the
// persisted profile with its new version.
type ProfileStore interface {
	GetHunterProfile(ctx context.Context, hunterID string) (*model.HunterProfile, error)
	UpdateHunterProfile(ctx context.Context, profile *model.HunterProfile) (*model.HunterProfile, error)
}

// DiscoveryStore persists discovery records. InsertPending is the linchpin of
// the at-most-once guarantee: the store must reject a second non-failed row
// for the same treasure and a second row for the same idempotency token.
type DiscoveryStore interface {
	InsertPending(ctx context.Context, d *model.Discovery) error
	GetByToken(ctx context.Context, token string) (*model.Discovery, error)
	MarkSettled(ctx context.Context, discoveryID, txID, nftObjectID string) error
	// MarkFailed releases the treasure slot for other claimants.
	MarkFailed(ctx context.Context, discoveryID, kind, reason string) error
	// MarkRejected keeps the slot closed: the ledger already holds a token
	// for the treasure, so no further claim can ever succeed.
	MarkRejected(ctx context.Context, discoveryID, kind, reason string) error
}
