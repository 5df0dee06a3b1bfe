package transactions

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

const (
	defaultCurrency = "USD"
	// amountScale matches the NUMERIC scale of stored amounts.
	amountScale = 4
)

// EntryInput is a requested journal line before account resolution.
type EntryInput struct {
	AccountID    uuid.UUID
	DebitAmount  decimal.Decimal
	CreditAmount decimal.Decimal
	Description  string
}

// Details are the caller-supplied fields shared by create and update.
type Details struct {
	Description string
	Reference   string
	Type        Type
	Category    Category
	Date        time.Time
	Currency    string
	StudentID   string
	EmployeeID  string
	VendorID    string
	InvoiceID   string
	Payment     PaymentDetails
	Notes       string
	Entries     []EntryInput
}

// CreateInput requests a new DRAFT transaction.
type CreateInput struct {
	InstitutionID string
	Details
	Actor string
}

// UpdateInput replaces the details of a transaction that is not yet posted.
type UpdateInput struct {
	Details
	Actor string
}

// Validate checks the request and returns the derived total amount.
func (in *CreateInput) Validate() (decimal.Decimal, error) {
	in.InstitutionID = strings.TrimSpace(in.InstitutionID)
	if in.InstitutionID == "" {
		return decimal.Zero, shared.Invalid("institutionId", "institution id is required")
	}
	return in.Details.validate()
}

// Validate checks the request and returns the derived total amount.
func (in *UpdateInput) Validate() (decimal.Decimal, error) {
	return in.Details.validate()
}

func (d *Details) validate() (decimal.Decimal, error) {
	d.Description = strings.TrimSpace(d.Description)
	if d.Description == "" {
		return decimal.Zero, shared.Invalid("description", "transaction description is required")
	}
	if d.Type == "" {
		return decimal.Zero, shared.Invalid("type", "transaction type is required")
	}
	if !d.Type.Valid() {
		return decimal.Zero, shared.Invalid("type", "unknown transaction type %q", d.Type)
	}
	if !d.Category.Valid() {
		return decimal.Zero, shared.Invalid("category", "unknown transaction category %q", d.Category)
	}
	if !d.Payment.Method.Valid() {
		return decimal.Zero, shared.Invalid("payment.method", "unknown payment method %q", d.Payment.Method)
	}
	cur := strings.ToUpper(strings.TrimSpace(d.Currency))
	if cur == "" {
		cur = defaultCurrency
	}
	unit, err := currency.ParseISO(cur)
	if err != nil {
		return decimal.Zero, shared.Invalid("currency", "unknown ISO-4217 currency %q", d.Currency)
	}
	d.Currency = unit.String()
	return ValidateEntries(d.Entries)
}

// ValidateEntries enforces double-entry rules and returns the total debit amount.
func ValidateEntries(entries []EntryInput) (decimal.Decimal, error) {
	if len(entries) < 2 {
		return decimal.Zero, shared.ErrTooFewLines
	}
	debit, credit := decimal.Zero, decimal.Zero
	for i, e := range entries {
		field := fmt.Sprintf("entries[%d]", i)
		if e.AccountID == uuid.Nil {
			return decimal.Zero, shared.Invalid(field+".accountId", "journal entry must reference an account")
		}
		if e.DebitAmount.IsNegative() || e.CreditAmount.IsNegative() {
			return decimal.Zero, shared.Invalid(field, "amounts must not be negative")
		}
		hasDebit, hasCredit := !e.DebitAmount.IsZero(), !e.CreditAmount.IsZero()
		if hasDebit == hasCredit {
			return decimal.Zero, shared.Invalid(field, "journal entry must have exactly one of debit or credit")
		}
		if !e.DebitAmount.Equal(e.DebitAmount.Truncate(amountScale)) || !e.CreditAmount.Equal(e.CreditAmount.Truncate(amountScale)) {
			return decimal.Zero, shared.Invalid(field, "amounts support at most %d decimal places", amountScale)
		}
		debit = debit.Add(e.DebitAmount)
		credit = credit.Add(e.CreditAmount)
	}
	if !debit.IsPositive() {
		return decimal.Zero, shared.ErrZeroAmount
	}
	if !debit.Equal(credit) {
		return decimal.Zero, fmt.Errorf("%w (debits %s, credits %s)", shared.ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return debit, nil
}
