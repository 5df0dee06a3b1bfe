package accounts

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreateAccountRequest struct {
	Code             string             `json:"code" validate:"required,max=32"`
	Name             string             `json:"name" validate:"required,max=200"`
	Description      string             `json:"description,omitempty" validate:"max=1000"`
	Type             AccountType        `json:"type" validate:"required"`
	Category         AccountCategory    `json:"category" validate:"required"`
	SubCategory      AccountSubCategory `json:"subCategory,omitempty"`
	Currency         string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	ParentID         *uuid.UUID         `json:"parentId,omitempty"`
	Bank             BankDetails        `json:"bank"`
	TaxCode          string             `json:"taxCode,omitempty" validate:"max=32"`
	IsTaxable        bool               `json:"isTaxable"`
	BudgetLimit      *decimal.Decimal   `json:"budgetLimit,omitempty"`
	WarningThreshold *decimal.Decimal   `json:"warningThreshold,omitempty"`
	BudgetPeriod     BudgetPeriod       `json:"budgetPeriod,omitempty"`
}

func (req CreateAccountRequest) toInput(institutionID, actor string) CreateInput {
	return CreateInput{
		InstitutionID:    institutionID,
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		Type:             req.Type,
		Category:         req.Category,
		SubCategory:      req.SubCategory,
		Currency:         req.Currency,
		ParentID:         req.ParentID,
		Bank:             req.Bank,
		TaxCode:          req.TaxCode,
		IsTaxable:        req.IsTaxable,
		BudgetLimit:      req.BudgetLimit,
		WarningThreshold: req.WarningThreshold,
		BudgetPeriod:     req.BudgetPeriod,
		Actor:            actor,
	}
}

type UpdateAccountRequest struct {
	Code             string             `json:"code" validate:"required,max=32"`
	Name             string             `json:"name" validate:"required,max=200"`
	Description      string             `json:"description,omitempty" validate:"max=1000"`
	Category         AccountCategory    `json:"category" validate:"required"`
	SubCategory      AccountSubCategory `json:"subCategory,omitempty"`
	Currency         string             `json:"currency,omitempty" validate:"omitempty,len=3"`
	Bank             BankDetails        `json:"bank"`
	TaxCode          string             `json:"taxCode,omitempty" validate:"max=32"`
	IsTaxable        bool               `json:"isTaxable"`
	BudgetLimit      *decimal.Decimal   `json:"budgetLimit,omitempty"`
	WarningThreshold *decimal.Decimal   `json:"warningThreshold,omitempty"`
	BudgetPeriod     BudgetPeriod       `json:"budgetPeriod,omitempty"`
	Version          int64              `json:"version" validate:"gte=0"`
}

func (req UpdateAccountRequest) toInput(actor string) UpdateInput {
	return UpdateInput{
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		Category:         req.Category,
		SubCategory:      req.SubCategory,
		Currency:         req.Currency,
		Bank:             req.Bank,
		TaxCode:          req.TaxCode,
		IsTaxable:        req.IsTaxable,
		BudgetLimit:      req.BudgetLimit,
		WarningThreshold: req.WarningThreshold,
		BudgetPeriod:     req.BudgetPeriod,
		Version:          req.Version,
		Actor:            actor,
	}
}
