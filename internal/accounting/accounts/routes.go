package accounts

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/institutions/{institutionID}/accounts", h.List)
	r.Post("/institutions/{institutionID}/accounts", h.Create)
	r.Get("/institutions/{institutionID}/accounts/budget-alerts", h.BudgetAlerts)
	r.Get("/institutions/{institutionID}/accounts/stats", h.Stats)
	r.Get("/institutions/{institutionID}/accounts/code/{code}", h.ByCode)
	r.Post("/institutions/{institutionID}/accounts/bootstrap", h.Bootstrap)
	r.Get("/institutions/{institutionID}/chart", h.Chart)

	r.Get("/accounts/{id}", h.Show)
	r.Put("/accounts/{id}", h.Update)
	r.Post("/accounts/{id}/deactivate", h.Deactivate)
	r.Get("/accounts/{id}/hierarchy", h.Hierarchy)
}
