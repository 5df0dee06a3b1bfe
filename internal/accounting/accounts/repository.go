package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	"github.com/eduai/schoolledger/internal/platform/db"
)

const uniqueCodeConstraint = "uq_accounts_institution_code"

// Repository provides account persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Account, error)
	GetByCode(ctx context.Context, institutionID, code string) (Account, error)
	List(ctx context.Context, filter ListFilter) ([]Account, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes that must share one storage transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (Account, error)
	// CodeTaken reports whether code is used in the institution by an account other than exclude.
	CodeTaken(ctx context.Context, institutionID, code string, exclude uuid.UUID) (bool, error)
	Insert(ctx context.Context, a Account) error
	// Update persists a and advances its version; a.Version must hold the
	// revision that was read.
	Update(ctx context.Context, a Account) error
}

const accountColumns = `id, institution_id, code, name, description, type, category, sub_category, currency, is_active,
parent_id, child_ids, level, debit_balance, credit_balance, balance,
bank_name, bank_account_number, bank_routing_number, bank_iban, bank_swift_code,
tax_code, is_taxable, budget_limit, warning_threshold, budget_period, version,
created_by, updated_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a         Account
		parent    uuid.NullUUID
		limit     decimal.NullDecimal
		threshold decimal.NullDecimal
	)
	err := row.Scan(&a.ID, &a.InstitutionID, &a.Code, &a.Name, &a.Description, &a.Type, &a.Category, &a.SubCategory, &a.Currency, &a.IsActive,
		&parent, &a.ChildIDs, &a.Level, &a.DebitBalance, &a.CreditBalance, &a.Balance,
		&a.Bank.BankName, &a.Bank.AccountNumber, &a.Bank.RoutingNumber, &a.Bank.IBAN, &a.Bank.SwiftCode,
		&a.TaxCode, &a.IsTaxable, &limit, &threshold, &a.BudgetPeriod, &a.Version,
		&a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrAccountNotFound
		}
		return Account{}, err
	}
	if parent.Valid {
		id := parent.UUID
		a.ParentID = &id
	}
	if limit.Valid {
		v := limit.Decimal
		a.BudgetLimit = &v
	}
	if threshold.Valid {
		v := threshold.Decimal
		a.WarningThreshold = &v
	}
	if a.ChildIDs == nil {
		a.ChildIDs = []uuid.UUID{}
	}
	return a, nil
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL account repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
}

func (r *repository) GetByCode(ctx context.Context, institutionID, code string) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE institution_id=$1 AND code=$2`, institutionID, code))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, fmt.Sprintf("institution_id = $%d", argPos))
	args = append(args, filter.InstitutionID)
	argPos++

	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, filter.Type)
		argPos++
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argPos))
		args = append(args, filter.Category)
		argPos++
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+filter.Search+"%")
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + strings.Join(conditions, " AND ") + ` ORDER BY code`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) CodeTaken(ctx context.Context, institutionID, code string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE institution_id=$1 AND code=$2 AND id<>$3)`,
		institutionID, code, exclude).Scan(&taken)
	return taken, err
}

func (r *txRepository) Insert(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)`,
		a.ID, a.InstitutionID, a.Code, a.Name, a.Description, a.Type, a.Category, a.SubCategory, a.Currency, a.IsActive,
		nullableUUID(a.ParentID), childIDs(a.ChildIDs), a.Level, a.DebitBalance, a.CreditBalance, a.Balance,
		a.Bank.BankName, a.Bank.AccountNumber, a.Bank.RoutingNumber, a.Bank.IBAN, a.Bank.SwiftCode,
		a.TaxCode, a.IsTaxable, nullableDecimal(a.BudgetLimit), nullableDecimal(a.WarningThreshold), a.BudgetPeriod, a.Version,
		a.CreatedBy, a.UpdatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueCodeConstraint) {
			return shared.ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *txRepository) Update(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET code=$2, name=$3, description=$4, category=$5, sub_category=$6, currency=$7,
is_active=$8, child_ids=$9, bank_name=$10, bank_account_number=$11, bank_routing_number=$12, bank_iban=$13, bank_swift_code=$14,
tax_code=$15, is_taxable=$16, budget_limit=$17, warning_threshold=$18, budget_period=$19, updated_by=$20, updated_at=$21,
version=version+1
WHERE id=$1 AND version=$22`,
		a.ID, a.Code, a.Name, a.Description, a.Category, a.SubCategory, a.Currency,
		a.IsActive, childIDs(a.ChildIDs), a.Bank.BankName, a.Bank.AccountNumber, a.Bank.RoutingNumber, a.Bank.IBAN, a.Bank.SwiftCode,
		a.TaxCode, a.IsTaxable, nullableDecimal(a.BudgetLimit), nullableDecimal(a.WarningThreshold), a.BudgetPeriod, a.UpdatedBy, a.UpdatedAt,
		a.Version)
	if err != nil {
		if db.IsUniqueViolation(err, uniqueCodeConstraint) {
			return shared.ErrDuplicateCode
		}
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

func childIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
