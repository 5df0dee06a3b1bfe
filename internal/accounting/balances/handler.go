package balances

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	"github.com/eduai/schoolledger/internal/platform/httpx"
)

// Handler exposes read-only balance snapshots.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
}

func NewHandler(logger *slog.Logger, ledger *Ledger) *Handler {
	return &Handler{logger: logger, ledger: ledger}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{id}/balance", h.Show)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("id", "invalid account id"))
		return
	}
	b, err := h.ledger.GetBalance(r.Context(), id)
	if err != nil {
		if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("get balance", slog.Any("error", err), slog.String("account_id", id.String()))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}
