package balances

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

const balanceColumns = `id, institution_id, code, type, currency, is_active, debit_balance, credit_balance, balance, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (Balance, error) {
	var b Balance
	err := row.Scan(&b.AccountID, &b.InstitutionID, &b.Code, &b.Type, &b.Currency, &b.IsActive,
		&b.Debit, &b.Credit, &b.Net, &b.Version, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, shared.ErrAccountNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pool-backed balance reader.
func NewRepository(db *pgxpool.Pool) Reader {
	return &repository{db: db}
}

func (r *repository) GetBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	return scanBalance(r.db.QueryRow(ctx, `SELECT `+balanceColumns+` FROM accounts WHERE id=$1`, accountID))
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a Store to an open transaction so balance updates commit
// or roll back together with the caller's other writes.
func NewTxStore(tx pgx.Tx) Store {
	return &txStore{tx: tx}
}

func (s *txStore) LockBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	return scanBalance(s.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, accountID))
}

func (s *txStore) SaveBalance(ctx context.Context, b Balance) error {
	cmd, err := s.tx.Exec(ctx, `UPDATE accounts SET debit_balance=$2, credit_balance=$3, balance=$4, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$5`, b.AccountID, b.Debit, b.Credit, b.Net, b.Version)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}
