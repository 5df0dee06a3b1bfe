package accounts

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CreateInput carries the fields of a new account.
type CreateInput struct {
	InstitutionID    string
	Code             string
	Name             string
	Description      string
	Type             AccountType
	Category         AccountCategory
	SubCategory      AccountSubCategory
	Currency         string
	ParentID         *uuid.UUID
	Bank             BankDetails
	TaxCode          string
	IsTaxable        bool
	BudgetLimit      *decimal.Decimal
	WarningThreshold *decimal.Decimal
	BudgetPeriod     BudgetPeriod
	Actor            string
}

// Validate checks field-level rules that need no storage access.
func (in *CreateInput) Validate() error {
	in.InstitutionID = strings.TrimSpace(in.InstitutionID)
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.InstitutionID == "" {
		return shared.Invalid("institutionId", "institution id is required")
	}
	if !in.Type.Valid() {
		return shared.Invalid("type", "unknown account type %q", in.Type)
	}
	if err := validateAttributes(in.Code, in.Name, in.Category, in.SubCategory, in.BudgetLimit, in.WarningThreshold, in.BudgetPeriod); err != nil {
		return err
	}
	cur, err := normalizeCurrency(in.Currency)
	if err != nil {
		return err
	}
	in.Currency = cur
	if in.ParentID != nil && *in.ParentID == uuid.Nil {
		in.ParentID = nil
	}
	return nil
}

// UpdateInput carries the mutable fields of an account. Type, institution and
// hierarchy position are fixed once created.
type UpdateInput struct {
	Code             string
	Name             string
	Description      string
	Category         AccountCategory
	SubCategory      AccountSubCategory
	Currency         string
	Bank             BankDetails
	TaxCode          string
	IsTaxable        bool
	BudgetLimit      *decimal.Decimal
	WarningThreshold *decimal.Decimal
	BudgetPeriod     BudgetPeriod
	// Version, when non-zero, must match the stored revision.
	Version int64
	Actor   string
}

// Validate checks field-level rules.
func (in *UpdateInput) Validate() error {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateAttributes(in.Code, in.Name, in.Category, in.SubCategory, in.BudgetLimit, in.WarningThreshold, in.BudgetPeriod); err != nil {
		return err
	}
	cur, err := normalizeCurrency(in.Currency)
	if err != nil {
		return err
	}
	in.Currency = cur
	return nil
}

func validateAttributes(code, name string, cat AccountCategory, sub AccountSubCategory, limit, threshold *decimal.Decimal, period BudgetPeriod) error {
	if code == "" {
		return shared.Invalid("code", "account code is required")
	}
	if !codePattern.MatchString(code) {
		return shared.Invalid("code", "account code can only contain letters, numbers, hyphens, and underscores")
	}
	if name == "" {
		return shared.Invalid("name", "account name is required")
	}
	if !cat.Valid() {
		return shared.Invalid("category", "unknown account category %q", cat)
	}
	if !sub.Valid() {
		return shared.Invalid("subCategory", "unknown account sub-category %q", sub)
	}
	if !period.Valid() {
		return shared.Invalid("budgetPeriod", "unknown budget period %q", period)
	}
	if limit != nil && limit.IsNegative() {
		return shared.Invalid("budgetLimit", "budget limit must not be negative")
	}
	if threshold != nil && (threshold.IsNegative() || threshold.GreaterThan(decimal.NewFromInt(100))) {
		return shared.Invalid("warningThreshold", "warning threshold must be a percentage between 0 and 100")
	}
	return nil
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", shared.Invalid("currency", "unknown ISO-4217 currency %q", code)
	}
	return unit.String(), nil
}
