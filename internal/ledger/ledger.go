// Package ledger defines the narrow capability interface the pipeline uses
// to talk to the append-only reward ledger, plus an HTTP client for a ledger
// gateway node. The pipeline never sees transaction building; it only mints
// and queries.
package ledger

import (
	"context"
	"errors"
)

// Ledger errors, mapped from gateway responses.
var (
	// ErrInsufficientFunds means the hunter's wallet cannot pay for the
	// mint. Terminal for this attempt, but the treasure stays huntable.
	ErrInsufficientFunds = errors.New("insufficient funds for mint")
	// ErrAlreadyMinted means the ledger already holds a token for this
	// treasure. Terminal, and the treasure slot must stay closed.
	ErrAlreadyMinted = errors.New("treasure already minted on ledger")
	// ErrRejected covers any other ledger-side rejection.
	ErrRejected = errors.New("ledger rejected mint")
	// ErrTimeout means the call did not complete; the mint's actual outcome
	// is unknown and must be queried before any retry.
	ErrTimeout = errors.New("ledger call timed out")
)

// MintStatus is the ledger's view of a submitted mint transaction.
type MintStatus string

const (
	StatusSettled MintStatus = "settled"
	StatusPending MintStatus = "pending"
	StatusUnknown MintStatus = "unknown"
)

// MintResult is the outcome of a mint submission. NFTObjectID may be empty
// until the transaction settles; TxID is assigned at acceptance.
type MintResult struct {
	TxID        string
	NFTObjectID string
}

// StatusResult reports the state of a previously submitted transaction.
// NFTObjectID is populated once the mint has settled.
type StatusResult struct {
	Status      MintStatus
	NFTObjectID string
}

// Capability is the abstract ledger the pipeline consumes. Mint submissions
// are idempotent per reference: submitting the same reference twice returns
// the original transaction instead of minting twice.
type Capability interface {
	// MintTreasureNFT submits a mint of the treasure's token to the
	// hunter's address, attaching metadata (location proof, discovery
	// reference) as provenance.
	MintTreasureNFT(ctx context.Context, hunterAddress, treasureID string, metadata map[string]string) (*MintResult, error)

	// QueryMintStatus reports the outcome of a submitted transaction.
	QueryMintStatus(ctx context.Context, txID string) (*StatusResult, error)
}
