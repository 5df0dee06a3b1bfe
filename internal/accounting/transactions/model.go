package transactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies what a transaction records.
type Type string

const (
	TypeIncome         Type = "INCOME"
	TypeExpense        Type = "EXPENSE"
	TypeTransfer       Type = "TRANSFER"
	TypeAdjustment     Type = "ADJUSTMENT"
	TypeOpeningBalance Type = "OPENING_BALANCE"
	TypeClosingBalance Type = "CLOSING_BALANCE"
)

// Valid reports whether t is a known transaction type.
func (t Type) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer, TypeAdjustment, TypeOpeningBalance, TypeClosingBalance:
		return true
	}
	return false
}

// Category is the business reason for a transaction.
type Category string

const (
	CategoryStudentFees          Category = "STUDENT_FEES"
	CategoryRegistrationFees     Category = "REGISTRATION_FEES"
	CategoryExaminationFees      Category = "EXAMINATION_FEES"
	CategoryLibraryFees          Category = "LIBRARY_FEES"
	CategoryTransportationFees   Category = "TRANSPORTATION_FEES"
	CategoryLateFees             Category = "LATE_FEES"
	CategoryDonations            Category = "DONATIONS"
	CategoryGrants               Category = "GRANTS"
	CategoryInvestmentIncome     Category = "INVESTMENT_INCOME"
	CategoryOtherIncome          Category = "OTHER_INCOME"
	CategorySalariesAndWages     Category = "SALARIES_AND_WAGES"
	CategoryBenefits             Category = "BENEFITS"
	CategoryUtilities            Category = "UTILITIES"
	CategoryRent                 Category = "RENT"
	CategoryMaintenance          Category = "MAINTENANCE"
	CategorySupplies             Category = "SUPPLIES"
	CategoryEquipment            Category = "EQUIPMENT"
	CategoryInsurance            Category = "INSURANCE"
	CategoryMarketing            Category = "MARKETING"
	CategoryProfessionalServices Category = "PROFESSIONAL_SERVICES"
	CategoryTravel               Category = "TRAVEL"
	CategoryTraining             Category = "TRAINING"
	CategoryDepreciation         Category = "DEPRECIATION"
	CategoryTaxes                Category = "TAXES"
	CategoryInterest             Category = "INTEREST"
	CategoryOtherExpenses        Category = "OTHER_EXPENSES"
	CategoryBankTransfer         Category = "BANK_TRANSFER"
	CategoryCashTransfer         Category = "CASH_TRANSFER"
	CategoryAccountTransfer      Category = "ACCOUNT_TRANSFER"
)

var categories = map[Category]struct{}{
	CategoryStudentFees: {}, CategoryRegistrationFees: {}, CategoryExaminationFees: {}, CategoryLibraryFees: {},
	CategoryTransportationFees: {}, CategoryLateFees: {}, CategoryDonations: {}, CategoryGrants: {},
	CategoryInvestmentIncome: {}, CategoryOtherIncome: {}, CategorySalariesAndWages: {}, CategoryBenefits: {},
	CategoryUtilities: {}, CategoryRent: {}, CategoryMaintenance: {}, CategorySupplies: {}, CategoryEquipment: {},
	CategoryInsurance: {}, CategoryMarketing: {}, CategoryProfessionalServices: {}, CategoryTravel: {},
	CategoryTraining: {}, CategoryDepreciation: {}, CategoryTaxes: {}, CategoryInterest: {},
	CategoryOtherExpenses: {}, CategoryBankTransfer: {}, CategoryCashTransfer: {}, CategoryAccountTransfer: {},
}

// Valid reports whether c is empty or a known category.
func (c Category) Valid() bool {
	if c == "" {
		return true
	}
	_, ok := categories[c]
	return ok
}

// Status is the posting lifecycle position.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusPosted    Status = "POSTED"
	StatusReversed  Status = "REVERSED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusPosted, StatusReversed, StatusCancelled:
		return true
	}
	return false
}

// Immutable reports whether journal lines are frozen.
func (s Status) Immutable() bool {
	return s == StatusPosted || s == StatusReversed
}

// ApprovalStatus tracks the approval workflow separately from posting.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "NOT_REQUIRED"
	ApprovalPending     ApprovalStatus = "PENDING"
	ApprovalApproved    ApprovalStatus = "APPROVED"
	ApprovalRejected    ApprovalStatus = "REJECTED"
)

// PaymentMethod records how money moved.
type PaymentMethod string

const (
	PaymentCash           PaymentMethod = "CASH"
	PaymentCheck          PaymentMethod = "CHECK"
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentCreditCard     PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard      PaymentMethod = "DEBIT_CARD"
	PaymentOnline         PaymentMethod = "ONLINE_PAYMENT"
	PaymentMobile         PaymentMethod = "MOBILE_PAYMENT"
	PaymentCryptocurrency PaymentMethod = "CRYPTOCURRENCY"
	PaymentOther          PaymentMethod = "OTHER"
)

// Valid reports whether m is empty or a known method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case "", PaymentCash, PaymentCheck, PaymentBankTransfer, PaymentCreditCard, PaymentDebitCard,
		PaymentOnline, PaymentMobile, PaymentCryptocurrency, PaymentOther:
		return true
	}
	return false
}

// PaymentDetails is optional payment metadata.
type PaymentDetails struct {
	Method      PaymentMethod `json:"method,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	CheckNumber string        `json:"checkNumber,omitempty"`
}

// JournalEntry is one line of a transaction. Exactly one of DebitAmount and
// CreditAmount is non-zero.
type JournalEntry struct {
	AccountID    uuid.UUID       `json:"accountId"`
	AccountCode  string          `json:"accountCode"`
	AccountName  string          `json:"accountName"`
	DebitAmount  decimal.Decimal `json:"debitAmount"`
	CreditAmount decimal.Decimal `json:"creditAmount"`
	Description  string          `json:"description,omitempty"`
}

// Transaction is a double-entry journal with its approval and posting state.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	InstitutionID    string          `json:"institutionId"`
	Number           string          `json:"number"`
	Description      string          `json:"description"`
	Reference        string          `json:"reference,omitempty"`
	Type             Type            `json:"type"`
	Category         Category        `json:"category,omitempty"`
	Status           Status          `json:"status"`
	ApprovalStatus   ApprovalStatus  `json:"approvalStatus"`
	Entries          []JournalEntry  `json:"entries"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Currency         string          `json:"currency"`
	Date             time.Time       `json:"date"`
	StudentID        string          `json:"studentId,omitempty"`
	EmployeeID       string          `json:"employeeId,omitempty"`
	VendorID         string          `json:"vendorId,omitempty"`
	InvoiceID        string          `json:"invoiceId,omitempty"`
	Payment          PaymentDetails  `json:"payment"`
	Notes            string          `json:"notes,omitempty"`
	ApprovedBy       string          `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	ApprovalComments string          `json:"approvalComments,omitempty"`
	PostedBy         string          `json:"postedBy,omitempty"`
	PostedAt         *time.Time      `json:"postedAt,omitempty"`
	ReversalOf       *uuid.UUID      `json:"reversalOf,omitempty"`
	ReversedBy       *uuid.UUID      `json:"reversedBy,omitempty"`
	CreatedBy        string          `json:"createdBy"`
	UpdatedBy        string          `json:"updatedBy"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Totals sums the debit and credit sides.
func Totals(entries []JournalEntry) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.DebitAmount)
		credit = credit.Add(e.CreditAmount)
	}
	return debit, credit
}

// IsBalanced reports whether debits equal credits exactly.
func (t Transaction) IsBalanced() bool {
	debit, credit := Totals(t.Entries)
	return debit.Equal(credit)
}

// ListFilter narrows transaction listings.
type ListFilter struct {
	InstitutionID string
	Status        Status
	Type          Type
	AccountID     *uuid.UUID
	From          *time.Time
	To            *time.Time
	Search        string
	Limit         int
	Offset        int
}

// Statistics summarises an institution's transactions within a date range.
type Statistics struct {
	ByStatus         map[Status]int  `json:"byStatus"`
	ByType           map[Type]int    `json:"byType"`
	PostedTotal      decimal.Decimal `json:"postedTotal"`
	PendingApprovals int             `json:"pendingApprovals"`
}
