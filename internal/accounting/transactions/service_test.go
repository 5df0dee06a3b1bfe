package transactions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/accounting/events"
	"github.com/eduai/schoolledger/internal/accounting/shared"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

const inst = "greenfield-academy"

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

type recordingAudit struct {
	mu   sync.Mutex
	logs []internalShared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log internalShared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type recordingCharts struct {
	mu            sync.Mutex
	invalidations map[string]int
}

func (c *recordingCharts) InvalidateChart(ctx context.Context, institutionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidations == nil {
		c.invalidations = map[string]int{}
	}
	c.invalidations[institutionID]++
}

type countingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	retries     map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{transitions: map[string]int{}, retries: map[string]int{}}
}

func (m *countingMetrics) ObserveTransition(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[event]++
}

func (m *countingMetrics) ObserveConflictRetry(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[op]++
}

type fixture struct {
	svc       *Service
	repo      *memoryRepo
	audit     *recordingAudit
	publisher *recordingPublisher
	charts    *recordingCharts
	metrics   *countingMetrics
	cash      accounts.Account
	bank      accounts.Account
	fees      accounts.Account
	utilities accounts.Account
}

func newFixture(policy ApprovalPolicy) *fixture {
	repo := newMemoryRepo()
	f := &fixture{
		repo:      repo,
		audit:     &recordingAudit{},
		publisher: &recordingPublisher{},
		charts:    &recordingCharts{},
		metrics:   newCountingMetrics(),
		cash:      repo.addAccount("1110", accounts.AccountTypeAsset),
		bank:      repo.addAccount("1120", accounts.AccountTypeAsset),
		fees:      repo.addAccount("4100", accounts.AccountTypeIncome),
		utilities: repo.addAccount("5200", accounts.AccountTypeExpense),
	}
	f.svc = NewService(repo, balances.NewLedger(repo, nil), policy, nil)
	f.svc.WithNow(func() time.Time { return testNow })
	f.svc.WithAudit(f.audit)
	f.svc.WithPublisher(f.publisher)
	f.svc.WithChartInvalidator(f.charts)
	f.svc.WithMetrics(f.metrics)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) feeInput(amount string) CreateInput {
	return CreateInput{
		InstitutionID: inst,
		Actor:         "clerk",
		Details: Details{
			Description: "Term 1 tuition",
			Type:        TypeIncome,
			Category:    CategoryStudentFees,
			StudentID:   "stu-42",
			Entries: []EntryInput{
				{AccountID: f.cash.ID, DebitAmount: dec(amount), Description: "cash received"},
				{AccountID: f.fees.ID, CreditAmount: dec(amount), Description: "tuition"},
			},
		},
	}
}

func (f *fixture) posted(t *testing.T, amount string) Transaction {
	t.Helper()
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput(amount))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, txn.ID, "principal", "ok")
	require.NoError(t, err)
	txn, err = f.svc.Post(ctx, txn.ID, "bursar")
	require.NoError(t, err)
	return txn
}

func requireBalance(t *testing.T, repo *memoryRepo, id uuid.UUID, debit, credit, net string) {
	t.Helper()
	a := repo.account(id)
	require.True(t, a.DebitBalance.Equal(dec(debit)), "debit %s, want %s", a.DebitBalance, debit)
	require.True(t, a.CreditBalance.Equal(dec(credit)), "credit %s, want %s", a.CreditBalance, credit)
	require.True(t, a.Balance.Equal(dec(net)), "net %s, want %s", a.Balance, net)
}

func TestCreateAllocatesNumberAndSnapshotsAccounts(t *testing.T) {
	f := newFixture(nil)
	txn, err := f.svc.Create(context.Background(), f.feeInput("500.00"))
	require.NoError(t, err)

	require.Equal(t, "TXN-GRE-202403-000001", txn.Number)
	require.Equal(t, StatusDraft, txn.Status)
	require.Equal(t, ApprovalNotRequired, txn.ApprovalStatus)
	require.True(t, txn.TotalAmount.Equal(dec("500")))
	require.Equal(t, "USD", txn.Currency)
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), txn.Date)
	require.Len(t, txn.Entries, 2)
	require.Equal(t, "1110", txn.Entries[0].AccountCode)
	require.Equal(t, "Account 4100", txn.Entries[1].AccountName)
	require.Equal(t, "clerk", txn.CreatedBy)

	next, err := f.svc.Create(context.Background(), f.feeInput("20"))
	require.NoError(t, err)
	require.Equal(t, "TXN-GRE-202403-000002", next.Number)
	require.Equal(t, []string{"transaction.create", "transaction.create"}, f.audit.actions())
}

func TestCreateRejectsMalformedEntries(t *testing.T) {
	f := newFixture(nil)
	cases := []struct {
		name   string
		mutate func(*CreateInput)
		target error
	}{
		{"unbalanced", func(in *CreateInput) { in.Entries[1].CreditAmount = dec("499.99") }, shared.ErrUnbalanced},
		{"single line", func(in *CreateInput) { in.Entries = in.Entries[:1] }, shared.ErrTooFewLines},
		{"zero", func(in *CreateInput) {
			in.Entries[0].DebitAmount = decimal.Zero
			in.Entries[1].CreditAmount = decimal.Zero
		}, shared.ErrValidation},
		{"both sides", func(in *CreateInput) { in.Entries[0].CreditAmount = dec("1") }, shared.ErrValidation},
		{"negative", func(in *CreateInput) { in.Entries[0].DebitAmount = dec("-500") }, shared.ErrValidation},
		{"sub-cent precision", func(in *CreateInput) {
			in.Entries[0].DebitAmount = dec("500.00001")
			in.Entries[1].CreditAmount = dec("500.00001")
		}, shared.ErrValidation},
		{"missing description", func(in *CreateInput) { in.Description = "  " }, shared.ErrValidation},
		{"missing type", func(in *CreateInput) { in.Type = "" }, shared.ErrValidation},
		{"missing institution", func(in *CreateInput) { in.InstitutionID = "" }, shared.ErrValidation},
		{"bad currency", func(in *CreateInput) { in.Currency = "ZZZ" }, shared.ErrValidation},
		{"nil account", func(in *CreateInput) { in.Entries[0].AccountID = uuid.Nil }, shared.ErrValidation},
		{"unknown account", func(in *CreateInput) { in.Entries[0].AccountID = uuid.New() }, shared.ErrUnknownAccount},
		{"currency mismatch", func(in *CreateInput) { in.Currency = "EUR" }, shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := f.feeInput("500")
			in.Entries = append([]EntryInput(nil), in.Entries...)
			tc.mutate(&in)
			_, err := f.svc.Create(context.Background(), in)
			require.ErrorIs(t, err, tc.target)
		})
	}
	items, total, err := f.svc.List(context.Background(), ListFilter{InstitutionID: inst})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, items)
}

func TestCreateRejectsInactiveOrForeignAccounts(t *testing.T) {
	f := newFixture(nil)
	f.repo.setActive(f.fees.ID, false)
	_, err := f.svc.Create(context.Background(), f.feeInput("10"))
	require.ErrorIs(t, err, shared.ErrUnknownAccount)
	require.ErrorIs(t, err, shared.ErrNotFound)

	f.repo.setActive(f.fees.ID, true)
	in := f.feeInput("10")
	in.InstitutionID = "riverside-college"
	_, err = f.svc.Create(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrUnknownAccount)
}

func TestLifecyclePostsBalancesAndPublishes(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("500.00"))
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, txn.ID, "bursar")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	submitted, err := f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusPending, submitted.Status)
	require.Equal(t, ApprovalPending, submitted.ApprovalStatus)

	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	approved, err := f.svc.Approve(ctx, txn.ID, "principal", "fees confirmed")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, ApprovalApproved, approved.ApprovalStatus)
	require.Equal(t, "principal", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	require.Equal(t, "fees confirmed", approved.ApprovalComments)

	posted, err := f.svc.Post(ctx, txn.ID, "bursar")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.Equal(t, "bursar", posted.PostedBy)
	require.Equal(t, testNow, *posted.PostedAt)

	requireBalance(t, f.repo, f.cash.ID, "500", "0", "500")
	requireBalance(t, f.repo, f.fees.ID, "0", "500", "500")

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	require.Equal(t, events.TypeTransactionPosted, ev.Type)
	require.Equal(t, posted.Number, ev.Number)
	require.True(t, ev.TotalAmount.Equal(dec("500")))
	require.Equal(t, 1, f.charts.invalidations[inst])
	require.Equal(t, []string{"transaction.create", "transaction.submit", "transaction.approve", "transaction.post"}, f.audit.actions())
	require.Equal(t, 1, f.metrics.transitions["post"])

	_, err = f.svc.Post(ctx, txn.ID, "bursar")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	requireBalance(t, f.repo, f.cash.ID, "500", "0", "500")
}

func TestRejectReturnsToDraftForAmendment(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("75"))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, txn.ID, "", "no")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.svc.Reject(ctx, txn.ID, "principal", "wrong student")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, rejected.Status)
	require.Equal(t, ApprovalRejected, rejected.ApprovalStatus)
	require.Equal(t, "wrong student", rejected.ApprovalComments)

	_, err = f.svc.Approve(ctx, txn.ID, "principal", "")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	in := f.feeInput("80")
	amended, err := f.svc.Update(ctx, txn.ID, UpdateInput{Details: in.Details, Actor: "clerk"})
	require.NoError(t, err)
	require.True(t, amended.TotalAmount.Equal(dec("80")))
	resubmitted, err := f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusPending, resubmitted.Status)
}

func TestThresholdPolicyWaivesApproval(t *testing.T) {
	f := newFixture(NewThresholdPolicy(dec("100"), []string{string(CategoryUtilities)}))
	ctx := context.Background()

	small, err := f.svc.Create(ctx, f.feeInput("100"))
	require.NoError(t, err)
	small, err = f.svc.SubmitForApproval(ctx, small.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, small.Status)
	require.Equal(t, ApprovalNotRequired, small.ApprovalStatus)
	_, err = f.svc.Post(ctx, small.ID, "bursar")
	require.NoError(t, err)

	large, err := f.svc.Create(ctx, f.feeInput("100.01"))
	require.NoError(t, err)
	large, err = f.svc.SubmitForApproval(ctx, large.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusPending, large.Status)

	bill, err := f.svc.CreateExpense(ctx, Movement{InstitutionID: inst, Description: "Electricity", Amount: dec("900"), Actor: "clerk"}, f.utilities.ID, f.cash.ID)
	require.NoError(t, err)
	bill, err = f.svc.SubmitForApproval(ctx, bill.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, bill.Status)
}

func TestPostIsAllOrNothing(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("250"))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, txn.ID, "principal", "")
	require.NoError(t, err)

	// Locks follow account id order, so fail each side in turn.
	f.repo.setActive(f.fees.ID, false)
	_, err = f.svc.Post(ctx, txn.ID, "bursar")
	require.ErrorIs(t, err, shared.ErrInactiveAccount)
	require.ErrorIs(t, err, shared.ErrValidation)
	requireBalance(t, f.repo, f.cash.ID, "0", "0", "0")
	requireBalance(t, f.repo, f.fees.ID, "0", "0", "0")

	f.repo.setActive(f.fees.ID, true)
	f.repo.setActive(f.cash.ID, false)
	_, err = f.svc.Post(ctx, txn.ID, "bursar")
	require.ErrorIs(t, err, shared.ErrInactiveAccount)
	requireBalance(t, f.repo, f.fees.ID, "0", "0", "0")

	current, err := f.svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, current.Status)
	require.Nil(t, current.PostedAt)
	require.Empty(t, f.publisher.events)
}

func TestReverseNeutralisesBalances(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	original := f.posted(t, "500.00")

	_, err := f.svc.Reverse(ctx, original.ID, " ", "bursar")
	require.ErrorIs(t, err, shared.ErrValidation)

	reversal, err := f.svc.Reverse(ctx, original.ID, "duplicate receipt", "bursar")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, reversal.Status)
	require.Equal(t, ApprovalApproved, reversal.ApprovalStatus)
	require.Equal(t, "bursar", reversal.ApprovedBy)
	require.Equal(t, "REVERSAL: Term 1 tuition", reversal.Description)
	require.Equal(t, "REV-"+original.Number, reversal.Reference)
	require.Equal(t, "TXN-GRE-202403-000002", reversal.Number)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.Contains(t, reversal.Notes, "Reason: duplicate receipt")
	require.Len(t, reversal.Entries, 2)
	require.True(t, reversal.Entries[0].CreditAmount.Equal(dec("500")))
	require.True(t, reversal.Entries[0].DebitAmount.IsZero())
	require.Equal(t, "Reversal: cash received", reversal.Entries[0].Description)

	requireBalance(t, f.repo, f.cash.ID, "500", "500", "0")
	requireBalance(t, f.repo, f.fees.ID, "500", "500", "0")

	marked, err := f.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReversed, marked.Status)
	require.Equal(t, reversal.ID, *marked.ReversedBy)
	require.Contains(t, marked.Notes, "REVERSED on 2024-03-15 by bursar: duplicate receipt")
	require.Equal(t, original.Entries, marked.Entries)

	_, err = f.svc.Reverse(ctx, original.ID, "again", "bursar")
	require.ErrorIs(t, err, shared.ErrNotPosted)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	require.Len(t, f.publisher.events, 2)
	require.Equal(t, events.TypeTransactionReversed, f.publisher.events[1].Type)
	require.Equal(t, original.ID, *f.publisher.events[1].ReversalOf)
}

func TestReverseRequiresPostedTransaction(t *testing.T) {
	f := newFixture(nil)
	txn, err := f.svc.Create(context.Background(), f.feeInput("10"))
	require.NoError(t, err)
	_, err = f.svc.Reverse(context.Background(), txn.ID, "mistake", "bursar")
	require.ErrorIs(t, err, shared.ErrNotPosted)

	_, err = f.svc.Reverse(context.Background(), uuid.New(), "mistake", "bursar")
	require.ErrorIs(t, err, shared.ErrTransactionNotFound)
}

func TestPostedTransactionsAreImmutable(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	posted := f.posted(t, "40")

	in := f.feeInput("41")
	_, err := f.svc.Update(ctx, posted.ID, UpdateInput{Details: in.Details, Actor: "clerk"})
	require.ErrorIs(t, err, shared.ErrPostedImmutable)
	require.ErrorIs(t, f.svc.Delete(ctx, posted.ID, "clerk"), shared.ErrPostedImmutable)
	_, err = f.svc.Cancel(ctx, posted.ID, "clerk", "")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	_, err = f.svc.Reverse(ctx, posted.ID, "wrong amount", "bursar")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.Delete(ctx, posted.ID, "clerk"), shared.ErrPostedImmutable)
}

func TestUpdateApprovedReturnsToDraft(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("60"))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, txn.ID, "principal", "")
	require.NoError(t, err)

	in := f.feeInput("65")
	in.Entries[0].AccountID = f.bank.ID
	updated, err := f.svc.Update(ctx, txn.ID, UpdateInput{Details: in.Details, Actor: "clerk"})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, updated.Status)
	require.Equal(t, ApprovalNotRequired, updated.ApprovalStatus)
	require.Empty(t, updated.ApprovedBy)
	require.Equal(t, txn.Number, updated.Number)
	require.Equal(t, "1120", updated.Entries[0].AccountCode)

	stored, err := f.svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.True(t, stored.TotalAmount.Equal(dec("65")))
	require.Equal(t, f.bank.ID, stored.Entries[0].AccountID)

	bad := f.feeInput("65")
	bad.Entries[1].CreditAmount = dec("64")
	_, err = f.svc.Update(ctx, txn.ID, UpdateInput{Details: bad.Details, Actor: "clerk"})
	require.ErrorIs(t, err, shared.ErrUnbalanced)
}

func TestCancelAndDelete(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("30"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, txn.ID, "clerk", "entered twice")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Contains(t, cancelled.Notes, "entered twice")

	_, err = f.svc.Cancel(ctx, txn.ID, "clerk", "")
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
	require.ErrorIs(t, f.svc.Delete(ctx, txn.ID, "clerk"), shared.ErrInvalidStateTransition)
	in := f.feeInput("30")
	_, err = f.svc.Update(ctx, txn.ID, UpdateInput{Details: in.Details, Actor: "clerk"})
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	draft, err := f.svc.Create(ctx, f.feeInput("31"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, draft.ID, "clerk"))
	_, err = f.svc.Get(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrTransactionNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, draft.ID, "clerk"), shared.ErrNotFound)
}

func TestTransitionsRetryConflicts(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	txn, err := f.svc.Create(ctx, f.feeInput("15"))
	require.NoError(t, err)

	f.repo.conflictsLeft = 2
	submitted, err := f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	require.Equal(t, StatusPending, submitted.Status)
	require.Equal(t, 2, f.metrics.retries["submit"])

	f.repo.conflictsLeft = 10
	_, err = f.svc.Approve(ctx, txn.ID, "principal", "")
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	current, err := f.svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, current.Status)
}

func TestConcurrentCreatesGetUniqueNumbers(t *testing.T) {
	f := newFixture(nil)
	const n = 40
	numbers := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, err := f.svc.Create(context.Background(), f.feeInput(fmt.Sprintf("%d.50", i+1)))
			if err != nil {
				numbers <- "error: " + err.Error()
				return
			}
			numbers <- txn.Number
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := map[string]bool{}
	for num := range numbers {
		require.NotContains(t, num, "error")
		require.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
	require.Len(t, seen, n)
	require.True(t, seen[FormatNumber(inst, "202403", n)])
}

func TestConcurrentPostingsSumExactly(t *testing.T) {
	f := newFixture(RequireAll{})
	ctx := context.Background()
	const n = 25
	ids := make([]uuid.UUID, n)
	for i := range ids {
		txn, err := f.svc.Create(ctx, f.feeInput("0.10"))
		require.NoError(t, err)
		_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, txn.ID, "principal", "")
		require.NoError(t, err)
		ids[i] = txn.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for _, id := range ids {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				_, err := f.svc.Post(ctx, id, "bursar")
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrInvalidStateTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, n, ok)
	require.Equal(t, n, rejected)
	requireBalance(t, f.repo, f.cash.ID, "2.50", "0", "2.50")
	requireBalance(t, f.repo, f.fees.ID, "0", "2.50", "2.50")
}

func TestFacadesBuildTwoLineEntries(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	base := Movement{InstitutionID: inst, Description: "movement", Amount: dec("120"), Actor: "clerk"}

	income, err := f.svc.CreateIncome(ctx, base, f.cash.ID, f.fees.ID)
	require.NoError(t, err)
	require.Equal(t, TypeIncome, income.Type)
	require.Equal(t, CategoryStudentFees, income.Category)
	require.Equal(t, f.cash.ID, income.Entries[0].AccountID)
	require.True(t, income.Entries[0].DebitAmount.Equal(dec("120")))
	require.Equal(t, f.fees.ID, income.Entries[1].AccountID)
	require.True(t, income.Entries[1].CreditAmount.Equal(dec("120")))

	expense, err := f.svc.CreateExpense(ctx, base, f.utilities.ID, f.cash.ID)
	require.NoError(t, err)
	require.Equal(t, TypeExpense, expense.Type)
	require.Equal(t, CategoryUtilities, expense.Category)
	require.Equal(t, f.utilities.ID, expense.Entries[0].AccountID)
	require.Equal(t, f.cash.ID, expense.Entries[1].AccountID)

	transfer, err := f.svc.CreateTransfer(ctx, base, f.cash.ID, f.bank.ID)
	require.NoError(t, err)
	require.Equal(t, TypeTransfer, transfer.Type)
	require.Equal(t, CategoryAccountTransfer, transfer.Category)
	require.Equal(t, f.bank.ID, transfer.Entries[0].AccountID)
	require.True(t, transfer.Entries[0].DebitAmount.Equal(dec("120")))
	require.Equal(t, f.cash.ID, transfer.Entries[1].AccountID)

	base.Amount = decimal.Zero
	_, err = f.svc.CreateIncome(ctx, base, f.cash.ID, f.fees.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListFiltersAndStatistics(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.posted(t, "100")
	f.posted(t, "50")
	pending, err := f.svc.Create(ctx, f.feeInput("7"))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, pending.ID, "clerk")
	require.NoError(t, err)
	_, err = f.svc.CreateExpense(ctx, Movement{InstitutionID: inst, Description: "Water bill", Amount: dec("12"), Actor: "clerk"}, f.utilities.ID, f.bank.ID)
	require.NoError(t, err)

	items, total, err := f.svc.List(ctx, ListFilter{InstitutionID: inst, Status: StatusPosted})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, items, 2)

	items, total, err = f.svc.List(ctx, ListFilter{InstitutionID: inst, AccountID: &f.bank.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Water bill", items[0].Description)

	items, total, err = f.svc.List(ctx, ListFilter{InstitutionID: inst, Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, items, 1)

	_, _, err = f.svc.List(ctx, ListFilter{InstitutionID: inst, Status: "SHIPPED"})
	require.ErrorIs(t, err, shared.ErrValidation)

	stats, err := f.svc.Statistics(ctx, inst, testNow.AddDate(0, -1, 0), testNow)
	require.NoError(t, err)
	require.Equal(t, 2, stats.ByStatus[StatusPosted])
	require.Equal(t, 1, stats.PendingApprovals)
	require.Equal(t, 3, stats.ByType[TypeIncome])
	require.True(t, stats.PostedTotal.Equal(dec("150")))

	_, err = f.svc.Statistics(ctx, inst, testNow, testNow.AddDate(0, -1, 0))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPublishFailureDoesNotFailPosting(t *testing.T) {
	f := newFixture(nil)
	f.publisher.err = errors.New("broker unavailable")
	posted := f.posted(t, "5")
	require.Equal(t, StatusPosted, posted.Status)
	requireBalance(t, f.repo, f.cash.ID, "5", "0", "5")
}

func TestBulkApproveAndPostReportPerTransactionOutcome(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	pending := func() Transaction {
		txn, err := f.svc.Create(ctx, f.feeInput("100"))
		require.NoError(t, err)
		txn, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
		require.NoError(t, err)
		return txn
	}
	a, b := pending(), pending()
	draft, err := f.svc.Create(ctx, f.feeInput("5"))
	require.NoError(t, err)

	otherCash := f.repo.addInstitutionAccount("riverside-high", "1110", accounts.AccountTypeAsset)
	otherFees := f.repo.addInstitutionAccount("riverside-high", "4100", accounts.AccountTypeIncome)
	foreignIn := f.feeInput("70")
	foreignIn.InstitutionID = "riverside-high"
	foreignIn.Entries[0].AccountID = otherCash.ID
	foreignIn.Entries[1].AccountID = otherFees.ID
	foreign, err := f.svc.Create(ctx, foreignIn)
	require.NoError(t, err)
	foreign, err = f.svc.SubmitForApproval(ctx, foreign.ID, "clerk")
	require.NoError(t, err)
	missing := uuid.New()

	res, err := f.svc.BulkApprove(ctx, inst, []uuid.UUID{a.ID, draft.ID, b.ID, foreign.ID, missing, a.ID}, "principal", "term close")
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 2)
	require.Equal(t, a.ID, res.Succeeded[0].ID)
	require.Equal(t, b.ID, res.Succeeded[1].ID)
	require.Equal(t, "term close", res.Succeeded[0].ApprovalComments)
	require.Len(t, res.Failed, 3)
	require.ErrorIs(t, res.Failed[0].Err, shared.ErrInvalidStateTransition)
	require.Equal(t, draft.ID, res.Failed[0].ID)
	require.ErrorIs(t, res.Failed[1].Err, shared.ErrNotFound)
	require.ErrorIs(t, res.Failed[2].Err, shared.ErrNotFound)

	untouched, err := f.svc.Get(ctx, foreign.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, untouched.Status)

	res, err = f.svc.BulkPost(ctx, inst, []uuid.UUID{a.ID, draft.ID, b.ID}, "bursar")
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	require.Equal(t, draft.ID, res.Failed[0].ID)
	requireBalance(t, f.repo, f.cash.ID, "200", "0", "200")
	requireBalance(t, f.repo, f.fees.ID, "0", "200", "200")

	_, err = f.svc.BulkPost(ctx, inst, nil, "bursar")
	require.ErrorIs(t, err, shared.ErrValidation)
	tooMany := make([]uuid.UUID, MaxBulkIDs+1)
	_, err = f.svc.BulkApprove(ctx, inst, tooMany, "principal", "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReverseAfterAccountDeactivated(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	orig := f.posted(t, "80")
	f.repo.setActive(f.fees.ID, false)

	_, err := f.svc.Create(ctx, f.feeInput("1"))
	require.ErrorIs(t, err, shared.ErrUnknownAccount)

	reversal, err := f.svc.Reverse(ctx, orig.ID, "fee line retired", "bursar")
	require.NoError(t, err)
	require.Equal(t, StatusPosted, reversal.Status)
	requireBalance(t, f.repo, f.fees.ID, "80", "80", "0")
	requireBalance(t, f.repo, f.cash.ID, "80", "80", "0")
}

func TestCreateRunsAtReadCommittedAndPostingAtRepeatableRead(t *testing.T) {
	f := newFixture(nil)
	f.posted(t, "12")
	// create, submit, approve, post
	require.Equal(t, []string{"read-committed", "repeatable-read", "repeatable-read", "repeatable-read"}, f.repo.isolation())
}
