package game

import "context"

// Store is the durable record of matches, deposits and claims. Every call may
// fail transiently; the Manager keeps playing from memory when it does.
type Store interface {
	CreateMatch(ctx context.Context, s *MatchSession) error
	// LoadMatch returns ErrNotFound when no such match exists
	LoadMatch(ctx context.Context, id string) (*MatchSession, error)
	SaveMatchState(ctx context.Context, s *MatchSession) error
	// AppendDeposit returns ErrDuplicateDeposit when the asset is already staked
	AppendDeposit(ctx context.Context, d MatchDeposit) error
	// CreateClaim returns ErrAlreadyFinished when a claim already exists
	CreateClaim(ctx context.Context, c MatchClaim) error
	UpdateClaimSettlementRef(ctx context.Context, matchID, txRef string) error
	MarkDepositVerified(ctx context.Context, matchID string, seq int) error
	RecordResult(ctx context.Context, winnerID, loserID int64) error
}

// SnapshotCache keeps hot copies of live sessions so a restarted process can
// resume matches that never reached durable storage.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, s *MatchSession) error
	LoadSnapshot(ctx context.Context, id string) (*MatchSession, error)
	DeleteSnapshot(ctx context.Context, id string) error
}
