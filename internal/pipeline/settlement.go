package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"geohunt/internal/ledger"
	"geohunt/internal/model"
	"geohunt/internal/repository"
)

// profileUpdateRetries bounds the compare-and-swap loop for a single profile
// write. Each retry recomputes from a fresh read, so the loop only spins
// while other settlements for the same hunter are landing.
const profileUpdateRetries = 5

// settle mints the treasure's NFT and applies the reward to the hunter's
// profile. The mint and the profile-plus-status flip form one logical unit
// from the coordinator's perspective: once the mint succeeds, only the
// profile update and the status flip are ever retried, never the mint.
func (c *Coordinator) settle(ctx context.Context, d *model.Discovery, hunter *model.HunterProfile, treasure *model.Treasure) (*DiscoveryResult, error) {
	metadata := map[string]string{
		"discovery_id":   d.DiscoveryID,
		"treasure_id":    treasure.TreasureID,
		"rarity":         string(treasure.Rarity),
		"location_proof": string(d.LocationProof),
	}

	mint, err := c.mint(ctx, hunter.WalletAddress, treasure.TreasureID, metadata)
	if err != nil {
		return nil, c.settleFailure(ctx, d, err)
	}

	updated, err := c.applyReward(ctx, hunter.HunterID, treasure.RewardPoints)
	if err != nil {
		// The token is minted; the pending row stays so the sweep (or a
		// client replay once the store recovers) can finish the bookkeeping.
		log.Error().Err(err).
			Str("discovery_id", d.DiscoveryID).
			Str("tx_id", mint.TxID).
			Msg("mint succeeded but profile update failed")
		return nil, failure(KindStoreUnavailable, "reward bookkeeping incomplete, retry later", err)
	}

	err = c.retryStore(ctx, func(opCtx context.Context) error {
		return c.discoveries.MarkSettled(opCtx, d.DiscoveryID, mint.TxID, mint.NFTObjectID)
	})
	if err != nil {
		log.Error().Err(err).
			Str("discovery_id", d.DiscoveryID).
			Str("tx_id", mint.TxID).
			Msg("mint and profile settled but status flip failed")
		return nil, failure(KindStoreUnavailable, "settlement record incomplete, retry later", err)
	}

	d.Status = model.StatusSettled
	d.TxID = &mint.TxID
	d.NFTObjectID = &mint.NFTObjectID

	log.Info().
		Str("discovery_id", d.DiscoveryID).
		Str("treasure_id", treasure.TreasureID).
		Str("hunter_id", hunter.HunterID).
		Str("nft_object_id", mint.NFTObjectID).
		Str("rank", updated.Rank.String()).
		Int64("streak", updated.CurrentStreak).
		Msg("discovery settled")

	return &DiscoveryResult{
		Discovery:   d,
		TxID:        mint.TxID,
		NFTObjectID: mint.NFTObjectID,
		Profile:     updated,
	}, nil
}

// mint submits the mint and, when the gateway answers before finality, polls
// the transaction until it settles. Submissions carry the discovery ID as a
// reference, so resubmitting after a timeout cannot double-mint: the gateway
// returns the original transaction.
func (c *Coordinator) mint(ctx context.Context, hunterAddress, treasureID string, metadata map[string]string) (*ledger.MintResult, error) {
	var result *ledger.MintResult

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBase
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.LedgerTimeout)
		defer cancel()

		var err error
		result, err = c.ledger.MintTreasureNFT(opCtx, hunterAddress, treasureID, metadata)
		if err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrTimeout) && attempts < c.cfg.RetryAttempts {
			log.Warn().Err(err).Int("attempt", attempts).Msg("ledger mint timed out, resubmitting")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}

	if result.NFTObjectID != "" {
		return result, nil
	}
	return c.awaitMint(ctx, result)
}

// awaitMint polls the ledger for a submitted transaction's outcome.
func (c *Coordinator) awaitMint(ctx context.Context, submitted *ledger.MintResult) (*ledger.MintResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBase
	b.MaxInterval = c.cfg.RetryMax
	b.MaxElapsedTime = 0

	attempts := 0
	var result *ledger.MintResult
	err := backoff.Retry(func() error {
		attempts++
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.LedgerTimeout)
		defer cancel()

		status, err := c.ledger.QueryMintStatus(opCtx, submitted.TxID)
		if err == nil && status.Status == ledger.StatusSettled {
			result = &ledger.MintResult{TxID: submitted.TxID, NFTObjectID: status.NFTObjectID}
			return nil
		}
		if attempts >= c.cfg.RetryAttempts {
			return backoff.Permanent(fmt.Errorf("%w: tx %s still unconfirmed", ledger.ErrTimeout, submitted.TxID))
		}
		if err != nil {
			log.Warn().Err(err).Str("tx_id", submitted.TxID).Msg("mint status query failed, retrying")
			return err
		}
		return fmt.Errorf("tx %s not yet settled (%s)", submitted.TxID, status.Status)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settleFailure records a settlement failure on the discovery row and maps
// it to a pipeline error. Whether the treasure slot re-opens depends on the
// failure: the hunter's own resource exhaustion or a generic rejection frees
// the slot (nothing was minted); a ledger-side double-claim keeps it closed;
// an unknown outcome leaves the row pending for the sweep to reconcile.
func (c *Coordinator) settleFailure(ctx context.Context, d *model.Discovery, cause error) error {
	switch {
	case errors.Is(cause, ledger.ErrInsufficientFunds):
		c.markTerminal(ctx, d, false, KindInsufficientFunds, "wallet cannot fund the mint")
		return failure(KindInsufficientFunds, "wallet cannot fund the mint", cause)

	case errors.Is(cause, ledger.ErrAlreadyMinted):
		c.markTerminal(ctx, d, true, KindLedgerRejected, "treasure already minted on ledger")
		return failure(KindLedgerRejected, "treasure already minted on ledger", cause)

	case errors.Is(cause, ledger.ErrTimeout):
		// Outcome unknown: do not release the slot and do not mark terminal.
		return failure(KindLedgerTimeout, "ledger outcome unknown, retry with the same token", cause)

	default:
		c.markTerminal(ctx, d, false, KindLedgerRejected, cause.Error())
		return failure(KindLedgerRejected, "ledger rejected the mint", cause)
	}
}

// markTerminal best-effort flips the discovery to failed or rejected. A
// failure here leaves the row pending, which the sweep resolves; the user
// already has their verdict either way.
func (c *Coordinator) markTerminal(ctx context.Context, d *model.Discovery, keepSlot bool, kind Kind, reason string) {
	err := c.retryStore(ctx, func(opCtx context.Context) error {
		if keepSlot {
			return c.discoveries.MarkRejected(opCtx, d.DiscoveryID, string(kind), reason)
		}
		return c.discoveries.MarkFailed(opCtx, d.DiscoveryID, string(kind), reason)
	})
	if err != nil {
		log.Error().Err(err).Str("discovery_id", d.DiscoveryID).Msg("failed to record settlement failure")
		return
	}
	if keepSlot {
		d.Status = model.StatusRejected
	} else {
		d.Status = model.StatusFailed
	}
}

// applyReward serializes the profile mutation per hunter and retries the
// compare-and-swap from a fresh read on every conflict. Recomputation is
// idempotent: rank and streak derive from the re-read counters, not from
// the stale copy the attempt started with.
func (c *Coordinator) applyReward(ctx context.Context, hunterID string, rewardPoints int64) (*model.HunterProfile, error) {
	var updated *model.HunterProfile

	err := c.locks.WithLock(hunterID, func() error {
		for attempt := 0; attempt < profileUpdateRetries; attempt++ {
			current, err := c.getProfile(ctx, hunterID)
			if err != nil {
				return err
			}

			next := current.ApplyReward(rewardPoints, c.now(), c.cfg.StreakWindow)

			err = c.retryStore(ctx, func(opCtx context.Context) error {
				var err error
				updated, err = c.profiles.UpdateHunterProfile(opCtx, &next)
				return err
			})
			if err == nil {
				return nil
			}
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return err
		}
		return repository.ErrVersionConflict
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
