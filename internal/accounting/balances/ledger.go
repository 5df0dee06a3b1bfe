package balances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

// Store is the write side of the ledger, bound to an open storage transaction.
type Store interface {
	// LockBalance returns the account's balance row and holds a write lock on it
	// until the enclosing transaction ends.
	LockBalance(ctx context.Context, accountID uuid.UUID) (Balance, error)
	// SaveBalance persists debit, credit and net; it fails with
	// shared.ErrConcurrencyConflict when b.Version is stale.
	SaveBalance(ctx context.Context, b Balance) error
}

// Reader serves read-only balance snapshots.
type Reader interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (Balance, error)
}

// Ledger applies posting deltas to account balances.
type Ledger struct {
	reader Reader
	logger *slog.Logger
}

// NewLedger constructs the balance ledger.
func NewLedger(reader Reader, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{reader: reader, logger: logger}
}

// GetBalance returns the current balance of an account.
func (l *Ledger) GetBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	if accountID == uuid.Nil {
		return Balance{}, shared.Invalid("accountId", "account id required")
	}
	return l.reader.GetBalance(ctx, accountID)
}

// ApplyDelta adds debit and credit to one account inside the caller's transaction.
// Deactivated accounts refuse new postings with shared.ErrInactiveAccount.
func (l *Ledger) ApplyDelta(ctx context.Context, store Store, accountID uuid.UUID, debit, credit decimal.Decimal) (Balance, error) {
	return l.applyDelta(ctx, store, Delta{AccountID: accountID, Debit: debit, Credit: credit}, false)
}

func (l *Ledger) applyDelta(ctx context.Context, store Store, d Delta, allowInactive bool) (Balance, error) {
	if d.Debit.IsNegative() || d.Credit.IsNegative() {
		return Balance{}, shared.Invalid("amount", "balance deltas must be non-negative")
	}
	current, err := store.LockBalance(ctx, d.AccountID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			l.logger.Error("apply balance delta on missing account", slog.String("account_id", d.AccountID.String()))
		}
		return Balance{}, err
	}
	if !current.IsActive && !allowInactive {
		return Balance{}, fmt.Errorf("%w: %s", shared.ErrInactiveAccount, current.Code)
	}
	next := current.apply(d.Debit, d.Credit)
	if err := store.SaveBalance(ctx, next); err != nil {
		return Balance{}, err
	}
	next.Version = current.Version + 1
	return next, nil
}

// ApplyAll aggregates deltas per account and applies them in ascending id
// order. The first failure is returned and the caller must abort its transaction.
func (l *Ledger) ApplyAll(ctx context.Context, store Store, deltas []Delta) ([]Balance, error) {
	return l.applyAll(ctx, store, deltas, false)
}

// ApplyReversal is ApplyAll for reversing entries. It also reaches
// deactivated accounts, since it only undoes what an earlier posting added.
func (l *Ledger) ApplyReversal(ctx context.Context, store Store, deltas []Delta) ([]Balance, error) {
	return l.applyAll(ctx, store, deltas, true)
}

func (l *Ledger) applyAll(ctx context.Context, store Store, deltas []Delta, allowInactive bool) ([]Balance, error) {
	merged := Aggregate(deltas)
	out := make([]Balance, 0, len(merged))
	for _, d := range merged {
		b, err := l.applyDelta(ctx, store, d, allowInactive)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
