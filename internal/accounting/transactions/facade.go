package transactions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Movement describes a two-line cash movement built by the facades below.
type Movement struct {
	InstitutionID string
	Description   string
	Reference     string
	Category      Category
	Amount        decimal.Decimal
	Currency      string
	Date          time.Time
	StudentID     string
	EmployeeID    string
	VendorID      string
	InvoiceID     string
	Payment       PaymentDetails
	Notes         string
	Actor         string
}

// CreateIncome records money received: debit cash, credit income.
func (s *Service) CreateIncome(ctx context.Context, m Movement, cashAccount, incomeAccount uuid.UUID) (Transaction, error) {
	if m.Category == "" {
		m.Category = CategoryStudentFees
	}
	return s.Create(ctx, m.input(TypeIncome, cashAccount, incomeAccount))
}

// CreateExpense records money paid out: debit expense, credit cash.
func (s *Service) CreateExpense(ctx context.Context, m Movement, expenseAccount, cashAccount uuid.UUID) (Transaction, error) {
	if m.Category == "" {
		m.Category = CategoryUtilities
	}
	return s.Create(ctx, m.input(TypeExpense, expenseAccount, cashAccount))
}

// CreateTransfer moves money between two accounts: debit to, credit from.
func (s *Service) CreateTransfer(ctx context.Context, m Movement, fromAccount, toAccount uuid.UUID) (Transaction, error) {
	if m.Category == "" {
		m.Category = CategoryAccountTransfer
	}
	return s.Create(ctx, m.input(TypeTransfer, toAccount, fromAccount))
}

func (m Movement) input(t Type, debit, credit uuid.UUID) CreateInput {
	return CreateInput{
		InstitutionID: m.InstitutionID,
		Actor:         m.Actor,
		Details: Details{
			Description: m.Description,
			Reference:   m.Reference,
			Type:        t,
			Category:    m.Category,
			Date:        m.Date,
			Currency:    m.Currency,
			StudentID:   m.StudentID,
			EmployeeID:  m.EmployeeID,
			VendorID:    m.VendorID,
			InvoiceID:   m.InvoiceID,
			Payment:     m.Payment,
			Notes:       m.Notes,
			Entries: []EntryInput{
				{AccountID: debit, DebitAmount: m.Amount, Description: m.Description},
				{AccountID: credit, CreditAmount: m.Amount, Description: m.Description},
			},
		},
	}
}
