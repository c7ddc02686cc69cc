// Package model defines the data models for the discovery pipeline.
package model

import "time"

// Rank is a hunter's progression tier. Ranks are ordinal: a higher value
// always means a higher tier, so requirement checks are plain comparisons.
type Rank int16

const (
	RankBeginner Rank = iota
	RankExplorer
	RankHunter
	RankMaster
)

// String returns the canonical lowercase name of the rank.
func (r Rank) String() string {
	switch r {
	case RankBeginner:
		return "beginner"
	case RankExplorer:
		return "explorer"
	case RankHunter:
		return "hunter"
	case RankMaster:
		return "master"
	default:
		return "unknown"
	}
}

// ParseRank converts a stored rank name back to its ordinal value.
func ParseRank(s string) (Rank, bool) {
	switch s {
	case "beginner":
		return RankBeginner, true
	case "explorer":
		return RankExplorer, true
	case "hunter":
		return RankHunter, true
	case "master":
		return RankMaster, true
	default:
		return RankBeginner, false
	}
}

// Rarity classifies how hard a treasure is to find.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityLegendary Rarity = "legendary"
)

// ScanSource identifies the physical medium a claim was scanned from.
type ScanSource string

const (
	SourceNFC ScanSource = "nfc"
	SourceQR  ScanSource = "qr"
)

// DiscoveryStatus is the lifecycle state of a discovery record.
//
// A treasure slot is occupied by any discovery whose status is not "failed":
// pending and settled rows block other claimants, and a rejected row blocks
// them permanently because the token already exists on the ledger.
type DiscoveryStatus string

const (
	StatusPending  DiscoveryStatus = "pending"
	StatusSettled  DiscoveryStatus = "settled"
	StatusFailed   DiscoveryStatus = "failed"
	StatusRejected DiscoveryStatus = "rejected"
)

// Treasure is a registered discoverable location. Treasures are created by an
// external admin process and are read-only to the pipeline; they are never
// deleted, only deactivated.
type Treasure struct {
	TreasureID   string    `db:"treasure_id"`
	Latitude     float64   `db:"latitude"`
	Longitude    float64   `db:"longitude"`
	Rarity       Rarity    `db:"rarity"`
	RequiredRank Rank      `db:"required_rank"`
	RewardPoints int64     `db:"reward_points"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
}

// ScanClaim is the decoded output of a physical scan. It is produced per
// attempt and consumed immediately; it is never persisted as-is.
type ScanClaim struct {
	TreasureID string
	Latitude   float64
	Longitude  float64
	Timestamp  int64
	Signature  []byte
	Source     ScanSource
}

// LocationFix is a device-reported position with quality metadata.
type LocationFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// HunterProfile is the acting user's progression state. It is mutated
// exclusively by reward settlement; Version supports optimistic-concurrency
// updates so two rapid discoveries by the same hunter cannot clobber each
// other across processes.
type HunterProfile struct {
	HunterID            string     `db:"hunter_id"`
	WalletAddress       string     `db:"wallet_address"`
	Rank                Rank       `db:"hunter_rank"`
	TotalTreasuresFound int64      `db:"total_treasures_found"`
	TotalScore          int64      `db:"total_score"`
	CurrentStreak       int64      `db:"current_streak"`
	LongestStreak       int64      `db:"longest_streak"`
	LastDiscoveryAt     *time.Time `db:"last_discovery_at"`
	Version             int64      `db:"version"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Discovery is the durable record of a claim that passed verification.
// For a given treasure at most one discovery ever reaches settled status.
type Discovery struct {
	DiscoveryID      string          `db:"discovery_id"`
	IdempotencyToken string          `db:"idempotency_token"`
	TreasureID       string          `db:"treasure_id"`
	HunterID         string          `db:"hunter_id"`
	LocationProof    []byte          `db:"location_proof"`
	DiscoveredAt     time.Time       `db:"discovered_at"`
	NFTObjectID      *string         `db:"nft_object_id"`
	TxID             *string         `db:"tx_id"`
	Status           DiscoveryStatus `db:"status"`
	FailKind         *string         `db:"fail_kind"`
	FailReason       *string         `db:"fail_reason"`
}
