// Package pipeline implements the discovery verification pipeline: it takes
// a raw physical-proximity claim (scan payload plus GPS fix) and turns it
// into an at-most-once, verifiable, rewarded discovery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"geohunt/internal/geo"
	"geohunt/internal/ledger"
	"geohunt/internal/model"
	"geohunt/internal/pkg/lock"
	"geohunt/internal/repository"
	"geohunt/internal/scan"
)

// Config holds the coordinator's timing and policy knobs.
type Config struct {
	Policy        geo.Policy
	StreakWindow  time.Duration
	StoreTimeout  time.Duration
	LedgerTimeout time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryAttempts int
}

// DefaultConfig returns the production coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Policy:        geo.DefaultPolicy(),
		StreakWindow:  24 * time.Hour,
		StoreTimeout:  10 * time.Second,
		LedgerTimeout: 30 * time.Second,
		RetryBase:     500 * time.Millisecond,
		RetryMax:      8 * time.Second,
		RetryAttempts: 4,
	}
}

// DiscoverRequest is a single discovery attempt as submitted by the client
// layer. IdempotencyToken is client-generated and dedupes retried requests
// for the same logical attempt.
type DiscoverRequest struct {
	IdempotencyToken string
	TreasureID       string
	HunterID         string
	Payload          []byte
	Source           model.ScanSource
	Fix              model.LocationFix
}

// DiscoveryResult bundles everything a successful settlement produced.
type DiscoveryResult struct {
	Discovery   *model.Discovery
	TxID        string
	NFTObjectID string
	Profile     *model.HunterProfile
}

// Coordinator orchestrates decode, verification, eligibility, commit and
// settlement for discovery attempts. Each attempt is a single logical task;
// concurrent attempts are safe under interleaving because the at-most-once
// guarantee lives in the discovery store's uniqueness constraint.
type Coordinator struct {
	registry    DiscoveryLookup
	profiles    ProfileStore
	discoveries DiscoveryStore
	ledger      ledger.Capability
	locks       *lock.HunterLock
	cfg         Config

	now func() time.Time
}

// New creates a Coordinator.
func New(
	registry DiscoveryLookup,
	profiles ProfileStore,
	discoveries DiscoveryStore,
	ldg ledger.Capability,
	locks *lock.HunterLock,
	cfg Config,
) *Coordinator {
	if locks == nil {
		locks = lock.NewHunterLock()
	}
	return &Coordinator{
		registry:    registry,
		profiles:    profiles,
		discoveries: discoveries,
		ledger:      ldg,
		locks:       locks,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Discover runs one discovery attempt end to end.
//
// Attempts that fail before the commit step leave no trace and can simply be
// re-run. Once a pending record is committed, the rest of the pipeline runs
// detached from the caller's cancellation so a torn-down client can never
// strand a mint mid-flight, and the idempotency token can be used to fetch
// the outcome.
func (c *Coordinator) Discover(ctx context.Context, req *DiscoverRequest) (*DiscoveryResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	// A prior discovery for this token means the client is retrying after a
	// lost response: replay the recorded outcome instead of re-running.
	prior, err := c.getByToken(ctx, req.IdempotencyToken)
	if err == nil {
		return c.replay(ctx, prior)
	}
	if !errors.Is(err, repository.ErrDiscoveryNotFound) {
		return nil, failure(KindStoreUnavailable, "discovery store unavailable", err)
	}

	claim, err := scan.Decode(req.Payload, req.Source)
	if err != nil {
		return nil, failure(KindDecode, err.Error(), err)
	}
	if claim.TreasureID != req.TreasureID {
		return nil, failure(KindDecode,
			fmt.Sprintf("payload names treasure %q, request names %q", claim.TreasureID, req.TreasureID), nil)
	}

	treasure, err := c.getTreasure(ctx, req.TreasureID)
	if err != nil {
		return nil, err
	}

	if err := geo.Verify(&req.Fix, treasure.Latitude, treasure.Longitude, c.now(), c.cfg.Policy); err != nil {
		return nil, proximityFailure(err)
	}

	hunter, err := c.getProfile(ctx, req.HunterID)
	if err != nil {
		return nil, err
	}

	if err := c.checkEligibility(ctx, hunter, treasure); err != nil {
		return nil, err
	}

	discovery, err := c.commit(ctx, req, claim)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, err
		}
		return nil, failure(KindStoreUnavailable, "failed to commit discovery", err)
	}
	if discovery == nil {
		// Lost the token race to a concurrent identical request.
		prior, err := c.getByToken(ctx, req.IdempotencyToken)
		if err != nil {
			return nil, failure(KindStoreUnavailable, "discovery store unavailable", err)
		}
		return c.replay(ctx, prior)
	}

	// Past this point the pending row exists; caller cancellation must not
	// cut the settlement short.
	settleCtx := context.WithoutCancel(ctx)
	return c.settle(settleCtx, discovery, hunter, treasure)
}

// Replay returns the recorded outcome for an idempotency token.
func (c *Coordinator) Replay(ctx context.Context, token string) (*DiscoveryResult, error) {
	if token == "" {
		return nil, fmt.Errorf("idempotency token is required")
	}
	prior, err := c.getByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrDiscoveryNotFound) {
			return nil, failure(KindNotFound, "no discovery for token", err)
		}
		return nil, failure(KindStoreUnavailable, "discovery store unavailable", err)
	}
	return c.replay(ctx, prior)
}

// replay reconstructs the result or error recorded for a prior attempt.
// Replays never create rows and never re-run side effects.
func (c *Coordinator) replay(ctx context.Context, d *model.Discovery) (*DiscoveryResult, error) {
	switch d.Status {
	case model.StatusSettled:
		profile, err := c.getProfile(ctx, d.HunterID)
		if err != nil {
			return nil, err
		}
		res := &DiscoveryResult{Discovery: d, Profile: profile}
		if d.TxID != nil {
			res.TxID = *d.TxID
		}
		if d.NFTObjectID != nil {
			res.NFTObjectID = *d.NFTObjectID
		}
		return res, nil

	case model.StatusPending:
		return nil, failure(KindSettlementInProgress, "prior attempt is still settling", nil)

	default:
		kind := KindLedgerRejected
		if d.FailKind != nil {
			kind = Kind(*d.FailKind)
		}
		reason := "prior attempt failed"
		if d.FailReason != nil {
			reason = *d.FailReason
		}
		return nil, failure(kind, reason, nil)
	}
}

// commit atomically creates the pending discovery record. A nil, nil return
// means a concurrent request with the same token won the insert and the
// caller should replay. Losing the treasure slot is a CommitConflict: the
// earlier advisory check passed, but another claimant got there first.
func (c *Coordinator) commit(ctx context.Context, req *DiscoverRequest, claim *model.ScanClaim) (*model.Discovery, error) {
	proof, err := json.Marshal(struct {
		Fix       model.LocationFix `json:"fix"`
		Signature []byte            `json:"signature,omitempty"`
		Source    model.ScanSource  `json:"source"`
	}{Fix: req.Fix, Signature: claim.Signature, Source: claim.Source})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize location proof: %w", err)
	}

	discovery := &model.Discovery{
		DiscoveryID:      uuid.NewString(),
		IdempotencyToken: req.IdempotencyToken,
		TreasureID:       req.TreasureID,
		HunterID:         req.HunterID,
		LocationProof:    proof,
		DiscoveredAt:     c.now().UTC(),
		Status:           model.StatusPending,
	}

	err = c.retryStore(ctx, func(opCtx context.Context) error {
		return c.discoveries.InsertPending(opCtx, discovery)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTreasure) {
			return nil, failure(KindCommitConflict, "another claim for this treasure settled first", err)
		}
		if errors.Is(err, repository.ErrDuplicateToken) {
			return nil, nil
		}
		return nil, err
	}

	log.Info().
		Str("discovery_id", discovery.DiscoveryID).
		Str("treasure_id", discovery.TreasureID).
		Str("hunter_id", discovery.HunterID).
		Msg("discovery committed as pending")

	return discovery, nil
}

// getByToken looks up a discovery by idempotency token with store retries.
func (c *Coordinator) getByToken(ctx context.Context, token string) (*model.Discovery, error) {
	var d *model.Discovery
	err := c.retryStore(ctx, func(opCtx context.Context) error {
		var err error
		d, err = c.discoveries.GetByToken(opCtx, token)
		return err
	})
	return d, err
}

func (c *Coordinator) getTreasure(ctx context.Context, treasureID string) (*model.Treasure, error) {
	var t *model.Treasure
	err := c.retryStore(ctx, func(opCtx context.Context) error {
		var err error
		t, err = c.registry.GetTreasure(opCtx, treasureID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrTreasureNotFound) {
			return nil, failure(KindNotFound, fmt.Sprintf("treasure %q is not registered", treasureID), err)
		}
		return nil, failure(KindStoreUnavailable, "treasure registry unavailable", err)
	}
	return t, nil
}

func (c *Coordinator) getProfile(ctx context.Context, hunterID string) (*model.HunterProfile, error) {
	var p *model.HunterProfile
	err := c.retryStore(ctx, func(opCtx context.Context) error {
		var err error
		p, err = c.profiles.GetHunterProfile(opCtx, hunterID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrProfileNotFound) {
			return nil, failure(KindNotFound, fmt.Sprintf("hunter %q is not registered", hunterID), err)
		}
		return nil, failure(KindStoreUnavailable, "profile store unavailable", err)
	}
	return p, nil
}

// retryStore runs a store operation with a bounded timeout per attempt and
// exponential backoff between attempts. Known data outcomes (not found,
// duplicates, version conflicts) are never retried; everything else is
// treated as transient infrastructure failure.
func (c *Coordinator) retryStore(ctx context.Context, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBase
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0

	attempts := 0
	return backoff.Retry(func() error {
		attempts++
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		defer cancel()

		err := fn(opCtx)
		if err == nil {
			return nil
		}
		if isDataOutcome(err) || attempts >= c.cfg.RetryAttempts {
			return backoff.Permanent(err)
		}

		log.Warn().Err(err).Int("attempt", attempts).Msg("transient store failure, retrying")
		return err
	}, backoff.WithContext(b, ctx))
}

// isDataOutcome reports whether a store error is a definite answer about the
// data rather than an infrastructure failure.
func isDataOutcome(err error) bool {
	return errors.Is(err, repository.ErrTreasureNotFound) ||
		errors.Is(err, repository.ErrProfileNotFound) ||
		errors.Is(err, repository.ErrDiscoveryNotFound) ||
		errors.Is(err, repository.ErrDuplicateTreasure) ||
		errors.Is(err, repository.ErrDuplicateToken) ||
		errors.Is(err, repository.ErrVersionConflict)
}

func validateRequest(req *DiscoverRequest) error {
	switch {
	case req.IdempotencyToken == "":
		return fmt.Errorf("idempotency token is required")
	case req.TreasureID == "":
		return fmt.Errorf("treasure id is required")
	case req.HunterID == "":
		return fmt.Errorf("hunter id is required")
	default:
		return nil
	}
}

func proximityFailure(err error) *Error {
	switch {
	case errors.Is(err, geo.ErrTooFar):
		return failure(KindTooFar, err.Error(), err)
	case errors.Is(err, geo.ErrStaleFix):
		return failure(KindStaleFix, err.Error(), err)
	case errors.Is(err, geo.ErrLowAccuracy):
		return failure(KindLowAccuracy, err.Error(), err)
	default:
		return failure(KindTooFar, err.Error(), err)
	}
}
