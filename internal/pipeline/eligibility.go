package pipeline

import (
	"context"
	"fmt"

	"geohunt/internal/model"
)

// checkEligibility validates the hunter against the treasure's requirements
// and runs the advisory already-claimed pre-check. The pre-check only fails
// fast; a claim that slips past it still loses the commit-time race at the
// discovery store's uniqueness constraint.
func (c *Coordinator) checkEligibility(ctx context.Context, hunter *model.HunterProfile, treasure *model.Treasure) error {
	if !treasure.Active {
		return failure(KindTreasureInactive,
			fmt.Sprintf("treasure %q has been deactivated", treasure.TreasureID), nil)
	}

	if hunter.Rank < treasure.RequiredRank {
		return failure(KindRankTooLow,
			fmt.Sprintf("rank %s is below required %s", hunter.Rank, treasure.RequiredRank), nil)
	}

	var claimed bool
	err := c.retryStore(ctx, func(opCtx context.Context) error {
		var err error
		claimed, err = c.registry.HasSettledDiscovery(opCtx, treasure.TreasureID)
		return err
	})
	if err != nil {
		return failure(KindStoreUnavailable, "discovery lookup unavailable", err)
	}
	if claimed {
		return failure(KindAlreadyClaimed,
			fmt.Sprintf("treasure %q was already found", treasure.TreasureID), nil)
	}

	return nil
}
