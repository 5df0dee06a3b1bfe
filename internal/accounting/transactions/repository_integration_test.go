//go:build integration

package transactions

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/platform/db"
)

type pgFixture struct {
	ctx   context.Context
	pool  *pgxpool.Pool
	svc   *Service
	inst  string
	cash  uuid.UUID
	fees  uuid.UUID
	reads balances.Reader
}

func newPGFixture(t *testing.T) *pgFixture {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("LEDGER_TEST_PG_DSN"))
	if dsn == "" {
		t.Skip("LEDGER_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../../migrations/0001_ledger.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	f := &pgFixture{
		ctx:   ctx,
		pool:  pool,
		inst:  "itg-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		reads: balances.NewRepository(pool),
	}
	f.cash = f.addAccount(t, "1110", accounts.AccountTypeAsset, accounts.CategoryCurrentAssets)
	f.fees = f.addAccount(t, "4100", accounts.AccountTypeIncome, accounts.CategoryOperatingIncome)
	f.svc = NewService(NewRepository(pool), balances.NewLedger(f.reads, nil), nil, nil)
	f.svc.WithNow(func() time.Time { return testNow })
	return f
}

func (f *pgFixture) addAccount(t *testing.T, code string, typ accounts.AccountType, category accounts.AccountCategory) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := f.pool.Exec(f.ctx, `INSERT INTO accounts (id, institution_id, code, name, type, category) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, f.inst, code, "Account "+code, typ, category)
	require.NoError(t, err)
	return id
}

func (f *pgFixture) feeInput(amount string) CreateInput {
	return CreateInput{
		InstitutionID: f.inst,
		Actor:         "clerk",
		Details: Details{
			Description: "Term 1 tuition",
			Type:        TypeIncome,
			Category:    CategoryStudentFees,
			Entries: []EntryInput{
				{AccountID: f.cash, DebitAmount: dec(amount), Description: "cash received"},
				{AccountID: f.fees, CreditAmount: dec(amount), Description: "tuition"},
			},
		},
	}
}

func (f *pgFixture) post(t *testing.T, amount string) Transaction {
	t.Helper()
	txn, err := f.svc.Create(f.ctx, f.feeInput(amount))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(f.ctx, txn.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Approve(f.ctx, txn.ID, "principal", "ok")
	require.NoError(t, err)
	txn, err = f.svc.Post(f.ctx, txn.ID, "bursar")
	require.NoError(t, err)
	return txn
}

func (f *pgFixture) requireNet(t *testing.T, id uuid.UUID, net string) {
	t.Helper()
	b, err := f.reads.GetBalance(f.ctx, id)
	require.NoError(t, err)
	require.True(t, b.Net.Equal(dec(net)), "net %s, want %s", b.Net, net)
}

func TestPostgresLifecycleNumbersPostsAndReverses(t *testing.T) {
	f := newPGFixture(t)

	first := f.post(t, "150.00")
	second := f.post(t, "50.00")
	prefix := "TXN-ITG-202403-"
	require.Equal(t, prefix+"000001", first.Number)
	require.Equal(t, prefix+"000002", second.Number)

	f.requireNet(t, f.cash, "200")
	f.requireNet(t, f.fees, "200")

	got, err := f.svc.Get(f.ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, got.Status)
	require.Len(t, got.Entries, 2)
	require.Equal(t, "1110", got.Entries[0].AccountCode)

	reversal, err := f.svc.Reverse(f.ctx, first.ID, "duplicate receipt", "bursar")
	require.NoError(t, err)
	require.Equal(t, prefix+"000003", reversal.Number)
	f.requireNet(t, f.cash, "50")
	f.requireNet(t, f.fees, "50")

	original, err := f.svc.Get(f.ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReversed, original.Status)
	require.NotNil(t, original.ReversedBy)
	require.Equal(t, reversal.ID, *original.ReversedBy)
}

func TestPostgresForbidsChangingPostedLines(t *testing.T) {
	f := newPGFixture(t)
	txn := f.post(t, "75.00")

	_, err := f.pool.Exec(f.ctx, `UPDATE transaction_lines SET debit = debit + 1 WHERE transaction_id = $1 AND line_no = 1`, txn.ID)
	requireCheckViolation(t, err)

	_, err = f.pool.Exec(f.ctx, `DELETE FROM transaction_lines WHERE transaction_id = $1`, txn.ID)
	requireCheckViolation(t, err)

	draft, err := f.svc.Create(f.ctx, f.feeInput("10.00"))
	require.NoError(t, err)
	_, err = f.pool.Exec(f.ctx, `UPDATE transaction_lines SET description = 'amended' WHERE transaction_id = $1`, draft.ID)
	require.NoError(t, err)
}

func requireCheckViolation(t *testing.T, err error) {
	t.Helper()
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "expected a postgres error, got %v", err)
	require.Equal(t, "23514", pgErr.Code)
	require.Contains(t, pgErr.Message, "immutable once posted")
}
