package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	"github.com/eduai/schoolledger/internal/platform/httpx"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

// IdempotencyKeyHeader lets clients retry transaction creation safely.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyModule = "ledger.transactions"

// idempotencyScope partitions keys by institution and endpoint, so one school
// reusing another's key, or the same key on /income and on plain create, are
// distinct requests.
func idempotencyScope(institutionID, endpoint string) string {
	return idempotencyModule + ":" + institutionID + ":" + endpoint
}

// IdempotencyPort claims request keys and remembers what they produced.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, module, resourceID string) error
	Resolve(ctx context.Context, key, module string) (string, error)
	Delete(ctx context.Context, key, module string) error
}

// Handler serves the transaction engine over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	idem    IdempotencyPort
}

func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, idem: idem}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, shared.Invalid("id", "invalid transaction id")
	}
	return id, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	page, perPage = internalShared.NormalizePage(page, perPage)
	filter := ListFilter{
		InstitutionID: chi.URLParam(r, "institutionID"),
		Status:        Status(strings.ToUpper(q.Get("status"))),
		Type:          Type(strings.ToUpper(q.Get("type"))),
		Search:        q.Get("search"),
		Limit:         perPage,
		Offset:        (page - 1) * perPage,
	}
	if raw := q.Get("accountId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.fail(w, r, "list transactions", shared.Invalid("accountId", "invalid account id"))
			return
		}
		filter.AccountID = &id
	}
	for _, p := range []struct {
		name   string
		target **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		t, err := parseDate(p.name, q.Get(p.name))
		if err != nil {
			h.fail(w, r, "list transactions", err)
			return
		}
		if !t.IsZero() {
			*p.target = &t
		}
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list transactions", err)
		return
	}
	if items == nil {
		items = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, ListResponse{Items: items, Pagination: internalShared.NewPagination(page, perPage, total)})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "create transaction", err)
		return
	}
	var req TransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create transaction", err)
		return
	}
	details, err := req.details()
	if err != nil {
		h.fail(w, r, "create transaction", err)
		return
	}
	in := CreateInput{InstitutionID: chi.URLParam(r, "institutionID"), Details: details, Actor: actor}
	h.idempotent(w, r, "create transaction", "create", func(ctx context.Context) (Transaction, error) {
		return h.service.Create(ctx, in)
	})
}

// idempotent runs create at most once per Idempotency-Key within the path
// institution and endpoint. A replayed key returns the transaction the first
// request produced.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, op, endpoint string, create func(context.Context) (Transaction, error)) {
	ctx := r.Context()
	institutionID := chi.URLParam(r, "institutionID")
	scope := idempotencyScope(institutionID, endpoint)
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.idem == nil {
		t, err := create(ctx)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, t)
		return
	}
	if err := h.idem.CheckAndInsert(ctx, key, scope); err != nil {
		if !errors.Is(err, internalShared.ErrIdempotencyConflict) {
			h.fail(w, r, op, err)
			return
		}
		h.replay(w, r, op, key, scope, institutionID)
		return
	}
	t, err := create(ctx)
	if err != nil {
		if derr := h.idem.Delete(context.WithoutCancel(ctx), key, scope); derr != nil {
			h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
		}
		h.fail(w, r, op, err)
		return
	}
	if err := h.idem.Complete(ctx, key, scope, t.ID.String()); err != nil {
		h.logger.Warn("complete idempotency key", slog.String("key", key), slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, op, key, scope, institutionID string) {
	raw, err := h.idem.Resolve(r.Context(), key, scope)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if raw == "" {
		h.fail(w, r, op, fmt.Errorf("%w: request %q is still in progress", shared.ErrConcurrencyConflict, key))
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if t.InstitutionID != institutionID {
		h.logger.Warn("idempotency key resolved across institutions",
			slog.String("key", key), slog.String("institution", institutionID), slog.String("owner", t.InstitutionID))
		h.fail(w, r, op, shared.Invalid("Idempotency-Key", "key belongs to another institution"))
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op, endpoint string, create func(context.Context, Movement, uuid.UUID, uuid.UUID) (Transaction, error)) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	var req MovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}
	m, err := req.movement(chi.URLParam(r, "institutionID"), actor)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.idempotent(w, r, op, endpoint, func(ctx context.Context) (Transaction, error) {
		return create(ctx, m, req.FromAccount, req.ToAccount)
	})
}

// Income expects fromAccountId to be the income account and toAccountId the cash account.
func (h *Handler) Income(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "record income", "income", func(ctx context.Context, m Movement, from, to uuid.UUID) (Transaction, error) {
		return h.service.CreateIncome(ctx, m, to, from)
	})
}

// Expense expects fromAccountId to be the cash account and toAccountId the expense account.
func (h *Handler) Expense(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "record expense", "expense", func(ctx context.Context, m Movement, from, to uuid.UUID) (Transaction, error) {
		return h.service.CreateExpense(ctx, m, to, from)
	})
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "record transfer", "transfer", h.service.CreateTransfer)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "get transaction", err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "update transaction", err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "update transaction", err)
		return
	}
	var req TransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update transaction", err)
		return
	}
	details, err := req.details()
	if err != nil {
		h.fail(w, r, "update transaction", err)
		return
	}
	t, err := h.service.Update(r.Context(), id, UpdateInput{Details: details, Actor: actor})
	if err != nil {
		h.fail(w, r, "update transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "delete transaction", err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "delete transaction", err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.fail(w, r, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// action is the shape shared by the lifecycle endpoints.
type action func(ctx context.Context, id uuid.UUID, actor, note string) (Transaction, error)

func (h *Handler) lifecycle(op string, noteRequired bool, fn action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		var note string
		if noteRequired || r.ContentLength > 0 {
			var req NoteRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				h.fail(w, r, op, err)
				return
			}
			note = req.note()
		}
		t, err := fn(r.Context(), id, actor, note)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) Submit() http.HandlerFunc {
	return h.lifecycle("submit transaction", false, func(ctx context.Context, id uuid.UUID, actor, _ string) (Transaction, error) {
		return h.service.SubmitForApproval(ctx, id, actor)
	})
}

func (h *Handler) Approve() http.HandlerFunc {
	return h.lifecycle("approve transaction", false, h.service.Approve)
}

func (h *Handler) Reject() http.HandlerFunc {
	return h.lifecycle("reject transaction", false, h.service.Reject)
}

func (h *Handler) Post() http.HandlerFunc {
	return h.lifecycle("post transaction", false, func(ctx context.Context, id uuid.UUID, actor, _ string) (Transaction, error) {
		return h.service.Post(ctx, id, actor)
	})
}

func (h *Handler) Reverse() http.HandlerFunc {
	return h.lifecycle("reverse transaction", true, func(ctx context.Context, id uuid.UUID, actor, reason string) (Transaction, error) {
		return h.service.Reverse(ctx, id, reason, actor)
	})
}

func (h *Handler) Cancel() http.HandlerFunc {
	return h.lifecycle("cancel transaction", false, h.service.Cancel)
}

type bulkAction func(ctx context.Context, institutionID string, ids []uuid.UUID, actor, comments string) (BulkResult, error)

// bulk answers 200 with per-id outcomes even when some ids fail; only a
// malformed request or a cancelled context fails the whole call.
func (h *Handler) bulk(op, verb string, fn bulkAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		var req BulkRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, op, err)
			return
		}
		res, err := fn(r.Context(), chi.URLParam(r, "institutionID"), req.TransactionIDs, actor, req.Comments)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}
		httpx.JSON(w, http.StatusOK, bulkResponse(verb, res))
	}
}

func (h *Handler) BulkApprove() http.HandlerFunc {
	return h.bulk("bulk approve transactions", "approved", h.service.BulkApprove)
}

func (h *Handler) BulkPost() http.HandlerFunc {
	return h.bulk("bulk post transactions", "posted", func(ctx context.Context, institutionID string, ids []uuid.UUID, actor, _ string) (BulkResult, error) {
		return h.service.BulkPost(ctx, institutionID, ids, actor)
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		h.fail(w, r, "transaction statistics", err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		h.fail(w, r, "transaction statistics", err)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = time.Date(to.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	stats, err := h.service.Statistics(r.Context(), chi.URLParam(r, "institutionID"), from, to)
	if err != nil {
		h.fail(w, r, "transaction statistics", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
