package transactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

type EntryRequest struct {
	AccountID    uuid.UUID       `json:"accountId" validate:"required"`
	DebitAmount  decimal.Decimal `json:"debitAmount"`
	CreditAmount decimal.Decimal `json:"creditAmount"`
	Description  string          `json:"description,omitempty" validate:"max=500"`
}

type TransactionRequest struct {
	Description string         `json:"description" validate:"required,max=500"`
	Reference   string         `json:"reference,omitempty" validate:"max=100"`
	Type        Type           `json:"type" validate:"required"`
	Category    Category       `json:"category,omitempty"`
	Date        string         `json:"date,omitempty"`
	Currency    string         `json:"currency,omitempty" validate:"omitempty,len=3"`
	StudentID   string         `json:"studentId,omitempty"`
	EmployeeID  string         `json:"employeeId,omitempty"`
	VendorID    string         `json:"vendorId,omitempty"`
	InvoiceID   string         `json:"invoiceId,omitempty"`
	Payment     PaymentDetails `json:"payment"`
	Notes       string         `json:"notes,omitempty" validate:"max=2000"`
	Entries     []EntryRequest `json:"entries" validate:"required,min=2,dive"`
}

func (req TransactionRequest) details() (Details, error) {
	date, err := parseDate("date", req.Date)
	if err != nil {
		return Details{}, err
	}
	entries := make([]EntryInput, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = EntryInput{
			AccountID:    e.AccountID,
			DebitAmount:  e.DebitAmount,
			CreditAmount: e.CreditAmount,
			Description:  e.Description,
		}
	}
	return Details{
		Description: req.Description,
		Reference:   req.Reference,
		Type:        req.Type,
		Category:    req.Category,
		Date:        date,
		Currency:    req.Currency,
		StudentID:   req.StudentID,
		EmployeeID:  req.EmployeeID,
		VendorID:    req.VendorID,
		InvoiceID:   req.InvoiceID,
		Payment:     req.Payment,
		Notes:       req.Notes,
		Entries:     entries,
	}, nil
}

// MovementRequest is the body of the income, expense and transfer shortcuts.
// Debit and Credit name the accounts in ledger terms for each shortcut.
type MovementRequest struct {
	Description string          `json:"description" validate:"required,max=500"`
	Reference   string          `json:"reference,omitempty" validate:"max=100"`
	Category    Category        `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Date        string          `json:"date,omitempty"`
	FromAccount uuid.UUID       `json:"fromAccountId" validate:"required"`
	ToAccount   uuid.UUID       `json:"toAccountId" validate:"required"`
	StudentID   string          `json:"studentId,omitempty"`
	EmployeeID  string          `json:"employeeId,omitempty"`
	VendorID    string          `json:"vendorId,omitempty"`
	InvoiceID   string          `json:"invoiceId,omitempty"`
	Payment     PaymentDetails  `json:"payment"`
	Notes       string          `json:"notes,omitempty" validate:"max=2000"`
}

func (req MovementRequest) movement(institutionID, actor string) (Movement, error) {
	date, err := parseDate("date", req.Date)
	if err != nil {
		return Movement{}, err
	}
	return Movement{
		InstitutionID: institutionID,
		Description:   req.Description,
		Reference:     req.Reference,
		Category:      req.Category,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Date:          date,
		StudentID:     req.StudentID,
		EmployeeID:    req.EmployeeID,
		VendorID:      req.VendorID,
		InvoiceID:     req.InvoiceID,
		Payment:       req.Payment,
		Notes:         req.Notes,
		Actor:         actor,
	}, nil
}

// NoteRequest carries approval comments or a cancel/reversal reason.
type NoteRequest struct {
	Comments string `json:"comments,omitempty" validate:"max=2000"`
	Reason   string `json:"reason,omitempty" validate:"max=2000"`
}

func (req NoteRequest) note() string {
	if req.Reason != "" {
		return req.Reason
	}
	return req.Comments
}

// BulkRequest lists the transactions a bulk approve or post should move.
type BulkRequest struct {
	TransactionIDs []uuid.UUID `json:"transactionIds" validate:"required,min=1,max=100"`
	Comments       string      `json:"comments,omitempty" validate:"max=2000"`
}

// bulkResponse names the succeeded list after the operation, e.g. "approved".
func bulkResponse(verb string, res BulkResult) map[string]any {
	return map[string]any{
		verb:           res.Succeeded,
		verb + "Count": len(res.Succeeded),
		"errors":       res.Failed,
		"errorCount":   len(res.Failed),
	}
}

type ListResponse struct {
	Items      []Transaction             `json:"items"`
	Pagination internalShared.Pagination `json:"pagination"`
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, shared.Invalid(field, "expected YYYY-MM-DD, got %q", raw)
}
