package transactions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[module+"/"+key]; ok {
		return internalShared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = ""
	return nil
}

func (m *memoryIdempotency) Complete(ctx context.Context, key, module, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[module+"/"+key] = resourceID
	return nil
}

func (m *memoryIdempotency) Resolve(ctx context.Context, key, module string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[module+"/"+key]
	if !ok {
		return "", internalShared.ErrNotFound
	}
	return id, nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *fixture, *memoryIdempotency) {
	t.Helper()
	f := newFixture(nil)
	idem := &memoryIdempotency{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, idem)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, f, idem
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func actor(name string) map[string]string {
	return map[string]string{"X-Actor-ID": name}
}

func feeBody(f *fixture, debit, credit string) string {
	return fmt.Sprintf(`{"description":"Term 1 tuition","type":"INCOME","category":"STUDENT_FEES","date":"2024-03-01",
"entries":[{"accountId":%q,"debitAmount":%q},{"accountId":%q,"creditAmount":%q}]}`, f.cash.ID, debit, f.fees.ID, credit)
}

func decodeTxn(t *testing.T, rec *httptest.ResponseRecorder) Transaction {
	t.Helper()
	var txn Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txn), rec.Body.String())
	return txn
}

func TestHandlerLifecycle(t *testing.T) {
	router, f, _ := newTestRouter(t)
	base := "/institutions/" + inst + "/transactions"

	rec := do(t, router, http.MethodPost, base, feeBody(f, "250.00", "250.00"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, base, feeBody(f, "250.00", "200.00"), actor("clerk"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"entries"`)

	rec = do(t, router, http.MethodPost, base, feeBody(f, "250.00", "250.00"), actor("clerk"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeTxn(t, rec)
	require.Equal(t, StatusDraft, txn.Status)
	require.Equal(t, "2024-03-01", txn.Date.Format("2006-01-02"))

	path := "/transactions/" + txn.ID.String()
	rec = do(t, router, http.MethodPost, path+"/post", "", actor("bursar"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, path+"/submit", "", actor("clerk"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, path+"/approve", `{"comments":"ok"}`, actor("principal"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "ok", decodeTxn(t, rec).ApprovalComments)
	rec = do(t, router, http.MethodPost, path+"/post", "", actor("bursar"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, StatusPosted, decodeTxn(t, rec).Status)

	rec = do(t, router, http.MethodDelete, path, "", actor("clerk"))
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, router, http.MethodPut, path, feeBody(f, "1", "1"), actor("clerk"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, path+"/reverse", "", actor("bursar"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, router, http.MethodPost, path+"/reverse", `{"reason":"wrong student"}`, actor("bursar"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversal := decodeTxn(t, rec)
	require.Equal(t, txn.ID, *reversal.ReversalOf)

	rec = do(t, router, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusReversed, decodeTxn(t, rec).Status)

	rec = do(t, router, http.MethodGet, "/transactions/00000000-0000-4000-8000-000000000001", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerIdempotentCreate(t *testing.T) {
	router, f, idem := newTestRouter(t)
	base := "/institutions/" + inst + "/transactions"
	headers := map[string]string{"X-Actor-ID": "clerk", IdempotencyKeyHeader: "receipt-0091"}

	first := do(t, router, http.MethodPost, base, feeBody(f, "10", "10"), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := do(t, router, http.MethodPost, base, feeBody(f, "10", "10"), headers)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	require.Equal(t, decodeTxn(t, first).ID, decodeTxn(t, second).ID)

	items, total, err := f.svc.List(context.Background(), ListFilter{InstitutionID: inst})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)

	headers[IdempotencyKeyHeader] = "receipt-0092"
	failed := do(t, router, http.MethodPost, base, feeBody(f, "10", "9"), headers)
	require.Equal(t, http.StatusUnprocessableEntity, failed.Code)
	_, err = idem.Resolve(context.Background(), "receipt-0092", idempotencyScope(inst, "create"))
	require.ErrorIs(t, err, internalShared.ErrNotFound)

	require.NoError(t, idem.CheckAndInsert(context.Background(), "receipt-0093", idempotencyScope(inst, "create")))
	headers[IdempotencyKeyHeader] = "receipt-0093"
	inFlight := do(t, router, http.MethodPost, base, feeBody(f, "10", "10"), headers)
	require.Equal(t, http.StatusConflict, inFlight.Code)
}

func TestHandlerIdempotencyKeysAreScopedPerInstitutionAndEndpoint(t *testing.T) {
	router, f, idem := newTestRouter(t)
	const other = "riverside-high"
	otherCash := f.repo.addInstitutionAccount(other, "1110", accounts.AccountTypeAsset)
	otherFees := f.repo.addInstitutionAccount(other, "4100", accounts.AccountTypeIncome)
	headers := map[string]string{"X-Actor-ID": "clerk", IdempotencyKeyHeader: "k-1"}

	first := do(t, router, http.MethodPost, "/institutions/"+inst+"/transactions", feeBody(f, "10", "10"), headers)
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	ours := decodeTxn(t, first)

	body := fmt.Sprintf(`{"description":"Term 1 tuition","type":"INCOME","category":"STUDENT_FEES","date":"2024-03-01",
"entries":[{"accountId":%q,"debitAmount":"20"},{"accountId":%q,"creditAmount":"20"}]}`, otherCash.ID, otherFees.ID)
	second := do(t, router, http.MethodPost, "/institutions/"+other+"/transactions", body, headers)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	theirs := decodeTxn(t, second)
	require.NotEqual(t, ours.ID, theirs.ID)
	require.Equal(t, other, theirs.InstitutionID)

	income := fmt.Sprintf(`{"description":"Lab fee","amount":"45.00","fromAccountId":%q,"toAccountId":%q}`, f.fees.ID, f.cash.ID)
	rec := do(t, router, http.MethodPost, "/institutions/"+inst+"/transactions/income", income, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotEqual(t, ours.ID, decodeTxn(t, rec).ID)

	// a key row pointing at another school's transaction is refused, not replayed
	ctx := context.Background()
	require.NoError(t, idem.CheckAndInsert(ctx, "k-2", idempotencyScope(other, "create")))
	require.NoError(t, idem.Complete(ctx, "k-2", idempotencyScope(other, "create"), ours.ID.String()))
	headers[IdempotencyKeyHeader] = "k-2"
	rec = do(t, router, http.MethodPost, "/institutions/"+other+"/transactions", body, headers)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	require.NotContains(t, rec.Body.String(), ours.Number)
}

func TestHandlerListPaginatesAndShortcuts(t *testing.T) {
	router, f, _ := newTestRouter(t)
	base := "/institutions/" + inst + "/transactions"
	for i := 0; i < 3; i++ {
		rec := do(t, router, http.MethodPost, base, feeBody(f, "5", "5"), actor("clerk"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	body := fmt.Sprintf(`{"description":"Lab fee","amount":"45.00","fromAccountId":%q,"toAccountId":%q}`, f.fees.ID, f.cash.ID)
	rec := do(t, router, http.MethodPost, base+"/income", body, actor("clerk"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	income := decodeTxn(t, rec)
	require.Equal(t, f.cash.ID, income.Entries[0].AccountID)
	require.True(t, income.Entries[0].DebitAmount.Equal(dec("45")))

	rec = do(t, router, http.MethodGet, base+"?page=2&perPage=3", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, 4, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)

	rec = do(t, router, http.MethodGet, base+"?from=yesterday", "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, base+"/stats?from=2024-01-01&to=2024-12-31", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 4, stats.ByStatus[StatusDraft])
}

func TestHandlerBulkApproveAndPost(t *testing.T) {
	router, f, _ := newTestRouter(t)
	ctx := context.Background()
	base := "/institutions/" + inst + "/transactions/bulk"
	txn, err := f.svc.Create(ctx, f.feeInput("40"))
	require.NoError(t, err)
	_, err = f.svc.SubmitForApproval(ctx, txn.ID, "clerk")
	require.NoError(t, err)
	draft, err := f.svc.Create(ctx, f.feeInput("15"))
	require.NoError(t, err)
	body := fmt.Sprintf(`{"transactionIds":[%q,%q],"comments":"bulk"}`, txn.ID, draft.ID)

	rec := do(t, router, http.MethodPost, base+"/approve", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(t, router, http.MethodPost, base+"/approve", `{"transactionIds":[]}`, actor("principal"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, base+"/approve", body, actor("principal"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved struct {
		Approved      []Transaction `json:"approved"`
		ApprovedCount int           `json:"approvedCount"`
		Errors        []BulkFailure `json:"errors"`
		ErrorCount    int           `json:"errorCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	require.Equal(t, 1, approved.ApprovedCount)
	require.Equal(t, StatusApproved, approved.Approved[0].Status)
	require.Equal(t, 1, approved.ErrorCount)
	require.Equal(t, draft.ID, approved.Errors[0].ID)
	require.Contains(t, approved.Errors[0].Error, "cannot approve")

	rec = do(t, router, http.MethodPost, base+"/post", body, actor("bursar"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var posted map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posted))
	require.EqualValues(t, 1, posted["postedCount"])
	require.EqualValues(t, 1, posted["errorCount"])
	requireBalance(t, f.repo, f.cash.ID, "40", "0", "40")
}
