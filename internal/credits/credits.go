// Package credits gates job execution on a per-user credit balance.
package credits

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hive-sim/internal/store"
)

// ErrInsufficientCredits signals the requester cannot afford the job.
var ErrInsufficientCredits = errors.New("credits: insufficient balance")

// Biller checks and charges a requester for a job before it runs.
type Biller interface {
	CheckAndDeduct(ctx context.Context, userID string, cost int) error
}

// Ledger is a store-backed Biller.
type Ledger struct {
	store store.Store
}

func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// CheckAndDeduct atomically charges cost against the user's balance.
// Returns ErrInsufficientCredits when the balance cannot cover it.
// A zero cost always succeeds without touching the ledger.
func (l *Ledger) CheckAndDeduct(ctx context.Context, userID string, cost int) error {
	if cost < 0 {
		return eris.Errorf("credits: negative cost %d", cost)
	}
	if cost == 0 {
		return nil
	}
	ok, err := l.store.DeductCredits(ctx, userID, cost)
	if err != nil {
		return eris.Wrapf(err, "credits: deduct for %s", userID)
	}
	if !ok {
		zap.L().Debug("credit deduction refused",
			zap.String("user_id", userID),
			zap.Int("cost", cost))
		return ErrInsufficientCredits
	}
	return nil
}

// Grant adds credits to a user's balance, creating the account if needed.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return eris.Errorf("credits: grant amount must be positive, got %d", amount)
	}
	return l.store.GrantCredits(ctx, userID, amount)
}

// Balance returns the user's current balance, zero for unknown users.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	return l.store.CreditBalance(ctx, userID)
}

// FreeBiller approves every job without charging. Used when billing is
// disabled in config.
type FreeBiller struct{}

func (FreeBiller) CheckAndDeduct(context.Context, string, int) error { return nil }
