package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates the five account classes.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether the account grows with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountTypeAsset || t == AccountTypeExpense
}

// AccountCategory groups accounts for statements.
type AccountCategory string

const (
	CategoryCurrentAssets          AccountCategory = "CURRENT_ASSETS"
	CategoryFixedAssets            AccountCategory = "FIXED_ASSETS"
	CategoryIntangibleAssets       AccountCategory = "INTANGIBLE_ASSETS"
	CategoryCurrentLiabilities     AccountCategory = "CURRENT_LIABILITIES"
	CategoryLongTermLiabilities    AccountCategory = "LONG_TERM_LIABILITIES"
	CategoryOwnersEquity           AccountCategory = "OWNERS_EQUITY"
	CategoryRetainedEarnings       AccountCategory = "RETAINED_EARNINGS"
	CategoryOperatingIncome        AccountCategory = "OPERATING_INCOME"
	CategoryNonOperatingIncome     AccountCategory = "NON_OPERATING_INCOME"
	CategoryOperatingExpenses      AccountCategory = "OPERATING_EXPENSES"
	CategoryAdministrativeExpenses AccountCategory = "ADMINISTRATIVE_EXPENSES"
	CategoryFinancialExpenses      AccountCategory = "FINANCIAL_EXPENSES"
)

var accountCategories = map[AccountCategory]struct{}{
	CategoryCurrentAssets: {}, CategoryFixedAssets: {}, CategoryIntangibleAssets: {},
	CategoryCurrentLiabilities: {}, CategoryLongTermLiabilities: {},
	CategoryOwnersEquity: {}, CategoryRetainedEarnings: {},
	CategoryOperatingIncome: {}, CategoryNonOperatingIncome: {},
	CategoryOperatingExpenses: {}, CategoryAdministrativeExpenses: {}, CategoryFinancialExpenses: {},
}

// Valid reports whether c is a known category.
func (c AccountCategory) Valid() bool {
	_, ok := accountCategories[c]
	return ok
}

// AccountSubCategory refines the category; optional.
type AccountSubCategory string

const (
	SubCategoryCashAndEquivalents      AccountSubCategory = "CASH_AND_CASH_EQUIVALENTS"
	SubCategoryAccountsReceivable      AccountSubCategory = "ACCOUNTS_RECEIVABLE"
	SubCategoryStudentFeesReceivable   AccountSubCategory = "STUDENT_FEES_RECEIVABLE"
	SubCategoryInventory               AccountSubCategory = "INVENTORY"
	SubCategoryPrepaidExpenses         AccountSubCategory = "PREPAID_EXPENSES"
	SubCategoryBuildings               AccountSubCategory = "BUILDINGS"
	SubCategoryEquipment               AccountSubCategory = "EQUIPMENT"
	SubCategoryFurniture               AccountSubCategory = "FURNITURE"
	SubCategoryVehicles                AccountSubCategory = "VEHICLES"
	SubCategoryAccumulatedDepreciation AccountSubCategory = "ACCUMULATED_DEPRECIATION"
	SubCategoryAccountsPayable         AccountSubCategory = "ACCOUNTS_PAYABLE"
	SubCategorySalariesPayable         AccountSubCategory = "SALARIES_PAYABLE"
	SubCategoryTaxesPayable            AccountSubCategory = "TAXES_PAYABLE"
	SubCategoryStudentDeposits         AccountSubCategory = "STUDENT_DEPOSITS"
	SubCategoryTuitionFees             AccountSubCategory = "TUITION_FEES"
	SubCategoryRegistrationFees        AccountSubCategory = "REGISTRATION_FEES"
	SubCategoryExaminationFees         AccountSubCategory = "EXAMINATION_FEES"
	SubCategoryLibraryFees             AccountSubCategory = "LIBRARY_FEES"
	SubCategoryTransportationFees      AccountSubCategory = "TRANSPORTATION_FEES"
	SubCategoryDonations               AccountSubCategory = "DONATIONS"
	SubCategoryGrants                  AccountSubCategory = "GRANTS"
	SubCategoryTeachingSalaries        AccountSubCategory = "TEACHING_SALARIES"
	SubCategoryAdministrativeSalaries  AccountSubCategory = "ADMINISTRATIVE_SALARIES"
	SubCategoryUtilities               AccountSubCategory = "UTILITIES"
	SubCategoryMaintenance             AccountSubCategory = "MAINTENANCE"
	SubCategorySupplies                AccountSubCategory = "SUPPLIES"
	SubCategoryInsurance               AccountSubCategory = "INSURANCE"
	SubCategoryMarketing               AccountSubCategory = "MARKETING"
	SubCategoryDepreciation            AccountSubCategory = "DEPRECIATION"
)

var subCategories = map[AccountSubCategory]struct{}{
	SubCategoryCashAndEquivalents: {}, SubCategoryAccountsReceivable: {}, SubCategoryStudentFeesReceivable: {},
	SubCategoryInventory: {}, SubCategoryPrepaidExpenses: {}, SubCategoryBuildings: {}, SubCategoryEquipment: {},
	SubCategoryFurniture: {}, SubCategoryVehicles: {}, SubCategoryAccumulatedDepreciation: {},
	SubCategoryAccountsPayable: {}, SubCategorySalariesPayable: {}, SubCategoryTaxesPayable: {},
	SubCategoryStudentDeposits: {}, SubCategoryTuitionFees: {}, SubCategoryRegistrationFees: {},
	SubCategoryExaminationFees: {}, SubCategoryLibraryFees: {}, SubCategoryTransportationFees: {},
	SubCategoryDonations: {}, SubCategoryGrants: {}, SubCategoryTeachingSalaries: {},
	SubCategoryAdministrativeSalaries: {}, SubCategoryUtilities: {}, SubCategoryMaintenance: {},
	SubCategorySupplies: {}, SubCategoryInsurance: {}, SubCategoryMarketing: {}, SubCategoryDepreciation: {},
}

// Valid reports whether s is empty or a known sub-category.
func (s AccountSubCategory) Valid() bool {
	if s == "" {
		return true
	}
	_, ok := subCategories[s]
	return ok
}

// BudgetPeriod is the window a budget limit applies to.
type BudgetPeriod string

const (
	BudgetMonthly   BudgetPeriod = "MONTHLY"
	BudgetQuarterly BudgetPeriod = "QUARTERLY"
	BudgetAnnually  BudgetPeriod = "ANNUALLY"
)

// Valid reports whether p is empty or a known period.
func (p BudgetPeriod) Valid() bool {
	switch p {
	case "", BudgetMonthly, BudgetQuarterly, BudgetAnnually:
		return true
	}
	return false
}

// BudgetState summarises an account's position against its budget.
type BudgetState string

const (
	BudgetOK          BudgetState = "OK"
	BudgetApproaching BudgetState = "APPROACHING"
	BudgetExceeded    BudgetState = "EXCEEDED"
)

// DefaultWarningPercent applies when an account has a limit but no threshold.
var DefaultWarningPercent = decimal.NewFromInt(80)

// DefaultCurrency is used when none is supplied.
const DefaultCurrency = "USD"

// BankDetails holds optional bank identifiers for cash accounts.
type BankDetails struct {
	BankName      string `json:"bankName,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	RoutingNumber string `json:"routingNumber,omitempty"`
	IBAN          string `json:"iban,omitempty"`
	SwiftCode     string `json:"swiftCode,omitempty"`
}

// Account models a chart of accounts node.
type Account struct {
	ID               uuid.UUID          `json:"id"`
	InstitutionID    string             `json:"institutionId"`
	Code             string             `json:"code"`
	Name             string             `json:"name"`
	Description      string             `json:"description,omitempty"`
	Type             AccountType        `json:"type"`
	Category         AccountCategory    `json:"category"`
	SubCategory      AccountSubCategory `json:"subCategory,omitempty"`
	Currency         string             `json:"currency"`
	IsActive         bool               `json:"isActive"`
	ParentID         *uuid.UUID         `json:"parentId,omitempty"`
	ChildIDs         []uuid.UUID        `json:"childIds"`
	Level            int                `json:"level"`
	DebitBalance     decimal.Decimal    `json:"debitBalance"`
	CreditBalance    decimal.Decimal    `json:"creditBalance"`
	Balance          decimal.Decimal    `json:"balance"`
	Bank             BankDetails        `json:"bank"`
	TaxCode          string             `json:"taxCode,omitempty"`
	IsTaxable        bool               `json:"isTaxable"`
	BudgetLimit      *decimal.Decimal   `json:"budgetLimit,omitempty"`
	WarningThreshold *decimal.Decimal   `json:"warningThreshold,omitempty"`
	BudgetPeriod     BudgetPeriod       `json:"budgetPeriod,omitempty"`
	Version          int64              `json:"version"`
	CreatedBy        string             `json:"createdBy"`
	UpdatedBy        string             `json:"updatedBy"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// NetBalance derives the signed balance from the running totals.
func NetBalance(t AccountType, debit, credit decimal.Decimal) decimal.Decimal {
	if t.DebitNormal() {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}

// NetBalance returns the account's balance per its normal side.
func (a Account) NetBalance() decimal.Decimal {
	return NetBalance(a.Type, a.DebitBalance, a.CreditBalance)
}

// IsParent reports whether the account has children.
func (a Account) IsParent() bool {
	return len(a.ChildIDs) > 0
}

// AddChild appends id unless already present.
func (a *Account) AddChild(id uuid.UUID) {
	for _, existing := range a.ChildIDs {
		if existing == id {
			return
		}
	}
	a.ChildIDs = append(a.ChildIDs, id)
}

// RemoveChild drops id from the child list.
func (a *Account) RemoveChild(id uuid.UUID) {
	out := a.ChildIDs[:0]
	for _, existing := range a.ChildIDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	a.ChildIDs = out
}

// BudgetState compares the absolute net balance against the budget limit.
// The warning threshold is a percentage of the limit.
func (a Account) BudgetState() BudgetState {
	if a.BudgetLimit == nil || !a.BudgetLimit.IsPositive() {
		return BudgetOK
	}
	spent := a.NetBalance().Abs()
	if spent.GreaterThan(*a.BudgetLimit) {
		return BudgetExceeded
	}
	pct := DefaultWarningPercent
	if a.WarningThreshold != nil {
		pct = *a.WarningThreshold
	}
	warnAt := a.BudgetLimit.Mul(pct).Div(decimal.NewFromInt(100))
	if spent.GreaterThanOrEqual(warnAt) {
		return BudgetApproaching
	}
	return BudgetOK
}

// ChartNode is one account in the chart of accounts tree.
type ChartNode struct {
	Account  Account     `json:"account"`
	Children []ChartNode `json:"children,omitempty"`
}

// ListFilter narrows account listings.
type ListFilter struct {
	InstitutionID string
	Type          AccountType
	Category      AccountCategory
	ActiveOnly    bool
	Search        string
}

// Statistics aggregates counts for an institution's chart.
type Statistics struct {
	ByType           map[AccountType]int `json:"byType"`
	TotalActive      int                 `json:"totalActive"`
	ApproachingLimit int                 `json:"approachingBudget"`
	ExceedingLimit   int                 `json:"exceedingBudget"`
}
