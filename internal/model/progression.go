package model

import "time"

// Rank promotion thresholds, expressed as the minimum number of settled
// discoveries required for each tier.
const (
	ExplorerThreshold = 5
	HunterThreshold   = 20
	MasterThreshold   = 50
)

// RankForCount returns the rank a hunter holds after the given number of
// settled discoveries. Rank is a pure function of the count, so recomputing
// it is always safe, including on settlement retries.
func RankForCount(totalFound int64) Rank {
	switch {
	case totalFound >= MasterThreshold:
		return RankMaster
	case totalFound >= HunterThreshold:
		return RankHunter
	case totalFound >= ExplorerThreshold:
		return RankExplorer
	default:
		return RankBeginner
	}
}

// NextStreak computes the streak value after a settlement at now.
// The streak continues when the previous discovery falls within a rolling
// window measured in UTC; otherwise it resets to 1. A nil last discovery
// time always starts a fresh streak.
func NextStreak(current int64, last *time.Time, now time.Time, window time.Duration) int64 {
	if last == nil {
		return 1
	}
	if now.UTC().Sub(last.UTC()) <= window {
		return current + 1
	}
	return 1
}

// ApplyReward returns a copy of the profile with one settled discovery worth
// rewardPoints applied at now. The rank is recomputed from the new total
// rather than incremented, keeping the update idempotent with respect to
// rank derivation.
func (p HunterProfile) ApplyReward(rewardPoints int64, now time.Time, streakWindow time.Duration) HunterProfile {
	next := p
	next.TotalTreasuresFound = p.TotalTreasuresFound + 1
	next.TotalScore = p.TotalScore + rewardPoints
	next.CurrentStreak = NextStreak(p.CurrentStreak, p.LastDiscoveryAt, now, streakWindow)
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.Rank = RankForCount(next.TotalTreasuresFound)
	ts := now.UTC()
	next.LastDiscoveryAt = &ts
	return next
}
