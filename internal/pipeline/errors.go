package pipeline

import "fmt"

// Kind classifies a pipeline failure. The taxonomy is deliberately flat so
// the client layer can map every kind to a distinct user-facing message;
// kinds are never collapsed into a generic failure.
type Kind string

const (
	KindDecode               Kind = "decode"
	KindTooFar               Kind = "too_far"
	KindStaleFix             Kind = "stale_fix"
	KindLowAccuracy          Kind = "low_accuracy"
	KindRankTooLow           Kind = "rank_too_low"
	KindAlreadyClaimed       Kind = "already_claimed"
	KindTreasureInactive     Kind = "treasure_inactive"
	KindCommitConflict       Kind = "commit_conflict"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindLedgerRejected       Kind = "ledger_rejected"
	KindLedgerTimeout        Kind = "ledger_timeout"
	KindStoreUnavailable     Kind = "store_unavailable"
	KindNotFound             Kind = "not_found"
	KindSettlementInProgress Kind = "settlement_in_progress"
)

// Error is the structured failure the pipeline surfaces to its caller.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the attempt. StaleFix and
// LowAccuracy need a fresh location fix; the rest need the same request
// replayed after the transient condition clears.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindStaleFix, KindLowAccuracy, KindLedgerTimeout, KindStoreUnavailable, KindSettlementInProgress:
		return true
	default:
		return false
	}
}

// failure builds a pipeline error wrapping cause.
func failure(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}
