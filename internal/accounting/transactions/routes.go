package transactions

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/institutions/{institutionID}/transactions", h.List)
	r.Post("/institutions/{institutionID}/transactions", h.Create)
	r.Get("/institutions/{institutionID}/transactions/stats", h.Stats)
	r.Post("/institutions/{institutionID}/transactions/income", h.Income)
	r.Post("/institutions/{institutionID}/transactions/expense", h.Expense)
	r.Post("/institutions/{institutionID}/transactions/transfer", h.Transfer)
	r.Post("/institutions/{institutionID}/transactions/bulk/approve", h.BulkApprove())
	r.Post("/institutions/{institutionID}/transactions/bulk/post", h.BulkPost())

	r.Get("/transactions/{id}", h.Show)
	r.Put("/transactions/{id}", h.Update)
	r.Delete("/transactions/{id}", h.Delete)
	r.Post("/transactions/{id}/submit", h.Submit())
	r.Post("/transactions/{id}/approve", h.Approve())
	r.Post("/transactions/{id}/reject", h.Reject())
	r.Post("/transactions/{id}/post", h.Post())
	r.Post("/transactions/{id}/reverse", h.Reverse())
	r.Post("/transactions/{id}/cancel", h.Cancel())
}
