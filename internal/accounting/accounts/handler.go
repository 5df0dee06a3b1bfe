package accounts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	"github.com/eduai/schoolledger/internal/platform/httpx"
)

// Handler serves the account registry over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
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
		return uuid.Nil, shared.Invalid("id", "invalid account id")
	}
	return id, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeOnly, _ := strconv.ParseBool(q.Get("active"))
	list, err := h.service.List(r.Context(), ListFilter{
		InstitutionID: chi.URLParam(r, "institutionID"),
		Type:          AccountType(q.Get("type")),
		Category:      AccountCategory(q.Get("category")),
		ActiveOnly:    activeOnly,
		Search:        q.Get("search"),
	})
	if err != nil {
		h.fail(w, r, "list accounts", err)
		return
	}
	if list == nil {
		list = []Account{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	var req CreateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	acct, err := h.service.Create(r.Context(), req.toInput(chi.URLParam(r, "institutionID"), actor))
	if err != nil {
		h.fail(w, r, "create account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acct)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	acct, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

// ByCode resolves an account by its institution-scoped code.
func (h *Handler) ByCode(w http.ResponseWriter, r *http.Request) {
	acct, err := h.service.GetByCode(r.Context(), chi.URLParam(r, "institutionID"), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "get account by code", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	var req UpdateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	acct, err := h.service.Update(r.Context(), id, req.toInput(actor))
	if err != nil {
		h.fail(w, r, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "deactivate account", err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "deactivate account", err)
		return
	}
	acct, err := h.service.Deactivate(r.Context(), id, actor)
	if err != nil {
		h.fail(w, r, "deactivate account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acct)
}

func (h *Handler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, "account hierarchy", err)
		return
	}
	list, err := h.service.Hierarchy(r.Context(), id)
	if err != nil {
		h.fail(w, r, "account hierarchy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) Chart(w http.ResponseWriter, r *http.Request) {
	chart, err := h.service.ChartOfAccounts(r.Context(), chi.URLParam(r, "institutionID"))
	if err != nil {
		h.fail(w, r, "chart of accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, chart)
}

func (h *Handler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, "bootstrap chart", err)
		return
	}
	created, err := h.service.BootstrapDefaultChart(r.Context(), chi.URLParam(r, "institutionID"), actor)
	if err != nil {
		h.fail(w, r, "bootstrap chart", err)
		return
	}
	if created == nil {
		created = []Account{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"created": created})
}

func (h *Handler) BudgetAlerts(w http.ResponseWriter, r *http.Request) {
	state := BudgetState(r.URL.Query().Get("state"))
	if state == "" {
		state = BudgetApproaching
	}
	list, err := h.service.BudgetAlerts(r.Context(), chi.URLParam(r, "institutionID"), state)
	if err != nil {
		h.fail(w, r, "budget alerts", err)
		return
	}
	if list == nil {
		list = []Account{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context(), chi.URLParam(r, "institutionID"))
	if err != nil {
		h.fail(w, r, "account statistics", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}
