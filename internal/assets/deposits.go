package assets

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/triadarena/backend/internal/game"
	"github.com/triadarena/backend/internal/store"
)

const depositBatch = 100

// PendingSource lists deposits still waiting for on-chain confirmation
type PendingSource interface {
	UnverifiedDeposits(ctx context.Context, limit int) ([]store.PendingDeposit, error)
}

// TxChecker resolves the state of a transaction
type TxChecker interface {
	TxStatus(ctx context.Context, txHash, sender string) (TxStatus, error)
}

// DepositVerifier marks a deposit as confirmed
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, matchID string, seq int) (game.Durability, error)
}

// DepositChecker confirms staked deposits against the chain
type DepositChecker struct {
	source   PendingSource
	chain    TxChecker
	verifier DepositVerifier
}

// NewDepositChecker creates a checker
func NewDepositChecker(source PendingSource, chain TxChecker, verifier DepositVerifier) *DepositChecker {
	return &DepositChecker{source: source, chain: chain, verifier: verifier}
}

// CheckPending runs one pass and returns how many deposits were verified
func (d *DepositChecker) CheckPending(ctx context.Context) int {
	pending, err := d.source.UnverifiedDeposits(ctx, depositBatch)
	if err != nil {
		log.Printf("[DEPOSITS] Failed to fetch pending deposits: %v", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	log.Printf("[DEPOSITS] Checking %d pending deposit(s)", len(pending))

	verified := 0
	for _, dep := range pending {
		if !dep.NearAccountID.Valid || dep.NearAccountID.String == "" {
			log.Printf("[DEPOSITS] Deposit %s#%d has no NEAR account, skipping", dep.MatchID, dep.Seq)
			continue
		}

		status, err := d.chain.TxStatus(ctx, dep.TxHash, dep.NearAccountID.String)
		if err != nil {
			log.Printf("[DEPOSITS] Failed to get status for %s#%d: %v", dep.MatchID, dep.Seq, err)
			continue
		}

		switch status {
		case TxSuccess:
			if _, err := d.verifier.VerifyDeposit(ctx, dep.MatchID, dep.Seq); err != nil {
				if !errors.Is(err, game.ErrNotFound) {
					log.Printf("[DEPOSITS] Failed to verify %s#%d: %v", dep.MatchID, dep.Seq, err)
				}
				continue
			}
			verified++
			log.Printf("[DEPOSITS] ✓ Deposit %s#%d confirmed (tx=%s)", dep.MatchID, dep.Seq, dep.TxHash)
		case TxFailed:
			log.Printf("[DEPOSITS] Deposit %s#%d tx %s failed on chain", dep.MatchID, dep.Seq, dep.TxHash)
		default:
			log.Printf("[DEPOSITS] Deposit %s#%d still pending", dep.MatchID, dep.Seq)
		}
	}
	return verified
}

// Schedule registers the periodic check with the scheduler
func (d *DepositChecker) Schedule(ctx context.Context, sched gocron.Scheduler, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	_, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { d.CheckPending(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	log.Printf("[DEPOSITS] Deposit checker scheduled every %v", interval)
	return nil
}
