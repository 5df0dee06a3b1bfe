package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/accounting/shared"
	"github.com/eduai/schoolledger/internal/platform/db"
)

// Repository reads transactions and opens storage transactions.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
	List(ctx context.Context, filter ListFilter) ([]Transaction, int, error)
	Statistics(ctx context.Context, institutionID string, from, to time.Time) (Statistics, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// WithInsertTx runs fn at ReadCommitted. It is for writes that touch no
	// balances, so concurrent creates queue on the numbering counter row
	// instead of aborting each other.
	WithInsertTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the writes of one storage transaction. Balances is bound
// to the same transaction so postings commit atomically with status changes.
type TxRepository interface {
	// NextSequence atomically increments and returns the counter for (institution, period).
	NextSequence(ctx context.Context, institutionID, period string) (int64, error)
	GetAccount(ctx context.Context, id uuid.UUID) (accounts.Account, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error)
	Insert(ctx context.Context, t Transaction) error
	UpdateHeader(ctx context.Context, t Transaction) error
	ReplaceEntries(ctx context.Context, id uuid.UUID, entries []JournalEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	Balances() balances.Store
}

const transactionColumns = `id, institution_id, number, description, reference, type, category, status, approval_status,
total_amount, currency, txn_date, student_id, employee_id, vendor_id, invoice_id,
payment_method, payment_reference, check_number, notes, approved_by, approved_at, approval_comments,
posted_by, posted_at, reversal_of, reversed_by, created_by, updated_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		t          Transaction
		reversalOf uuid.NullUUID
		reversedBy uuid.NullUUID
	)
	err := row.Scan(&t.ID, &t.InstitutionID, &t.Number, &t.Description, &t.Reference, &t.Type, &t.Category, &t.Status, &t.ApprovalStatus,
		&t.TotalAmount, &t.Currency, &t.Date, &t.StudentID, &t.EmployeeID, &t.VendorID, &t.InvoiceID,
		&t.Payment.Method, &t.Payment.Reference, &t.Payment.CheckNumber, &t.Notes, &t.ApprovedBy, &t.ApprovedAt, &t.ApprovalComments,
		&t.PostedBy, &t.PostedAt, &reversalOf, &reversedBy, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	if reversalOf.Valid {
		id := reversalOf.UUID
		t.ReversalOf = &id
	}
	if reversedBy.Valid {
		id := reversedBy.UUID
		t.ReversedBy = &id
	}
	return t, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadEntries(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID][]JournalEntry, error) {
	out := make(map[uuid.UUID][]JournalEntry, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT transaction_id, account_id, account_code, account_name, debit, credit, description
FROM transaction_lines WHERE transaction_id = ANY($1) ORDER BY transaction_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var txnID uuid.UUID
		var e JournalEntry
		if err := rows.Scan(&txnID, &e.AccountID, &e.AccountCode, &e.AccountName, &e.DebitAmount, &e.CreditAmount, &e.Description); err != nil {
			return nil, err
		}
		out[txnID] = append(out[txnID], e)
	}
	return out, rows.Err()
}

func getWithEntries(ctx context.Context, q querier, query string, id uuid.UUID) (Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		return Transaction{}, err
	}
	entries, err := loadEntries(ctx, q, []uuid.UUID{t.ID})
	if err != nil {
		return Transaction{}, err
	}
	t.Entries = entries[t.ID]
	return t, nil
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL transaction repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return getWithEntries(ctx, r.pool, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, fmt.Sprintf("institution_id = $%d", argPos))
	args = append(args, filter.InstitutionID)
	argPos++

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, filter.Status)
		argPos++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, filter.Type)
		argPos++
	}
	if filter.AccountID != nil {
		conditions = append(conditions, fmt.Sprintf("id IN (SELECT transaction_id FROM transaction_lines WHERE account_id = $%d)", argPos))
		args = append(args, *filter.AccountID)
		argPos++
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("txn_date >= $%d", argPos))
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("txn_date <= $%d", argPos))
		args = append(args, *filter.To)
		argPos++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(number ILIKE $%d OR description ILIKE $%d OR reference ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY txn_date DESC, number DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, whereClause, argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	var list []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		list = append(list, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	ids := make([]uuid.UUID, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	entries, err := loadEntries(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range list {
		list[i].Entries = entries[list[i].ID]
	}
	return list, total, nil
}

func (r *repository) Statistics(ctx context.Context, institutionID string, from, to time.Time) (Statistics, error) {
	stats := Statistics{ByStatus: map[Status]int{}, ByType: map[Type]int{}, PostedTotal: decimal.Zero}
	rows, err := r.pool.Query(ctx, `SELECT status, type, COUNT(*), COALESCE(SUM(total_amount), 0)
FROM transactions WHERE institution_id=$1 AND txn_date BETWEEN $2 AND $3 GROUP BY status, type`, institutionID, from, to)
	if err != nil {
		return Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status Status
			typ    Type
			count  int
			sum    decimal.Decimal
		)
		if err := rows.Scan(&status, &typ, &count, &sum); err != nil {
			return Statistics{}, err
		}
		stats.ByStatus[status] += count
		stats.ByType[typ] += count
		if status == StatusPosted {
			stats.PostedTotal = stats.PostedTotal.Add(sum)
		}
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, err
	}
	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE institution_id=$1 AND status='PENDING'`, institutionID).
		Scan(&stats.PendingApprovals)
	return stats, err
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, store: balances.NewTxStore(tx)})
	})
}

func (r *repository) WithInsertTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxLevel(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, store: balances.NewTxStore(tx)})
	})
}

type txRepository struct {
	tx    pgx.Tx
	store balances.Store
}

func (r *txRepository) Balances() balances.Store {
	return r.store
}

func (r *txRepository) NextSequence(ctx context.Context, institutionID, period string) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transaction_sequences (institution_id, period, last_seq) VALUES ($1, $2, 1)
ON CONFLICT (institution_id, period) DO UPDATE SET last_seq = transaction_sequences.last_seq + 1
RETURNING last_seq`, institutionID, period).Scan(&seq)
	return seq, err
}

func (r *txRepository) GetAccount(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	var a accounts.Account
	err := r.tx.QueryRow(ctx, `SELECT id, institution_id, code, name, type, currency, is_active FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.InstitutionID, &a.Code, &a.Name, &a.Type, &a.Currency, &a.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, shared.ErrAccountNotFound
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	return getWithEntries(ctx, r.tx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id)
}

func (r *txRepository) Insert(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)`,
		t.ID, t.InstitutionID, t.Number, t.Description, t.Reference, t.Type, t.Category, t.Status, t.ApprovalStatus,
		t.TotalAmount, t.Currency, t.Date, t.StudentID, t.EmployeeID, t.VendorID, t.InvoiceID,
		t.Payment.Method, t.Payment.Reference, t.Payment.CheckNumber, t.Notes, t.ApprovedBy, t.ApprovedAt, t.ApprovalComments,
		t.PostedBy, t.PostedAt, nullUUID(t.ReversalOf), nullUUID(t.ReversedBy), t.CreatedBy, t.UpdatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	return r.insertEntries(ctx, t.ID, t.Entries)
}

func (r *txRepository) insertEntries(ctx context.Context, id uuid.UUID, entries []JournalEntry) error {
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`INSERT INTO transaction_lines (transaction_id, line_no, account_id, account_code, account_name, debit, credit, description)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, id, i+1, e.AccountID, e.AccountCode, e.AccountName, e.DebitAmount, e.CreditAmount, e.Description)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) UpdateHeader(ctx context.Context, t Transaction) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE transactions SET description=$2, reference=$3, type=$4, category=$5, status=$6, approval_status=$7,
total_amount=$8, currency=$9, txn_date=$10, student_id=$11, employee_id=$12, vendor_id=$13, invoice_id=$14,
payment_method=$15, payment_reference=$16, check_number=$17, notes=$18, approved_by=$19, approved_at=$20, approval_comments=$21,
posted_by=$22, posted_at=$23, reversal_of=$24, reversed_by=$25, updated_by=$26, updated_at=$27
WHERE id=$1`,
		t.ID, t.Description, t.Reference, t.Type, t.Category, t.Status, t.ApprovalStatus,
		t.TotalAmount, t.Currency, t.Date, t.StudentID, t.EmployeeID, t.VendorID, t.InvoiceID,
		t.Payment.Method, t.Payment.Reference, t.Payment.CheckNumber, t.Notes, t.ApprovedBy, t.ApprovedAt, t.ApprovalComments,
		t.PostedBy, t.PostedAt, nullUUID(t.ReversalOf), nullUUID(t.ReversedBy), t.UpdatedBy, t.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) ReplaceEntries(ctx context.Context, id uuid.UUID, entries []JournalEntry) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM transaction_lines WHERE transaction_id=$1`, id); err != nil {
		return err
	}
	return r.insertEntries(ctx, id, entries)
}

func (r *txRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM transactions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrTransactionNotFound
	}
	return nil
}
