package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/shared"
	internalShared "github.com/eduai/schoolledger/internal/shared"
)

// AuditPort records registry changes.
type AuditPort interface {
	Record(ctx context.Context, log internalShared.AuditLog) error
}

// Service owns the chart of accounts tree.
type Service struct {
	repo    Repository
	cache   ChartCache
	audit   AuditPort
	logger  *slog.Logger
	retries int
	now     func() time.Time
}

// NewService constructs the account registry. cache and audit may be nil.
func NewService(repo Repository, cache ChartCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, retries: shared.DefaultConflictRetries, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetries overrides the number of attempts made on concurrency conflicts.
func (s *Service) WithRetries(n int) {
	if n > 0 {
		s.retries = n
	}
}

// Create validates and inserts an account, linking it under its parent.
func (s *Service) Create(ctx context.Context, in CreateInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var created Account
	err := shared.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			taken, err := tx.CodeTaken(ctx, in.InstitutionID, in.Code, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return shared.ErrDuplicateCode
			}
			now := s.now().UTC()
			acct := Account{
				ID:               uuid.New(),
				InstitutionID:    in.InstitutionID,
				Code:             in.Code,
				Name:             in.Name,
				Description:      in.Description,
				Type:             in.Type,
				Category:         in.Category,
				SubCategory:      in.SubCategory,
				Currency:         in.Currency,
				IsActive:         true,
				ChildIDs:         []uuid.UUID{},
				DebitBalance:     decimal.Zero,
				CreditBalance:    decimal.Zero,
				Balance:          decimal.Zero,
				Bank:             in.Bank,
				TaxCode:          in.TaxCode,
				IsTaxable:        in.IsTaxable,
				BudgetLimit:      in.BudgetLimit,
				WarningThreshold: in.WarningThreshold,
				BudgetPeriod:     in.BudgetPeriod,
				Version:          1,
				CreatedBy:        in.Actor,
				UpdatedBy:        in.Actor,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if in.ParentID != nil {
				parent, err := tx.GetForUpdate(ctx, *in.ParentID)
				if err != nil {
					if errors.Is(err, shared.ErrNotFound) {
						return fmt.Errorf("parent %s: %w", *in.ParentID, shared.ErrAccountNotFound)
					}
					return err
				}
				if err := checkParent(parent, acct); err != nil {
					return err
				}
				parentID := parent.ID
				acct.ParentID = &parentID
				acct.Level = parent.Level + 1
				parent.AddChild(acct.ID)
				parent.UpdatedBy = in.Actor
				parent.UpdatedAt = now
				if err := tx.Insert(ctx, acct); err != nil {
					return err
				}
				if err := tx.Update(ctx, parent); err != nil {
					return err
				}
			} else if err := tx.Insert(ctx, acct); err != nil {
				return err
			}
			created = acct
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	s.afterWrite(ctx, created, "account.create", in.Actor, map[string]any{"code": created.Code, "level": created.Level})
	return created, nil
}

func checkParent(parent, child Account) error {
	if parent.InstitutionID != child.InstitutionID {
		return shared.Invalid("parentId", "parent account belongs to another institution")
	}
	if !parent.IsActive {
		return shared.Invalid("parentId", "parent account %s is inactive", parent.Code)
	}
	if parent.Type != child.Type {
		return shared.Invalid("parentId", "parent account %s is %s, child is %s", parent.Code, parent.Type, child.Type)
	}
	if parent.ID == child.ID {
		return shared.ErrHierarchyCycle
	}
	return nil
}

// Update overwrites the mutable fields of an account.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var updated Account
	err := shared.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if in.Version != 0 && in.Version != current.Version {
				return fmt.Errorf("%w: account %s is at version %d", shared.ErrConcurrencyConflict, current.Code, current.Version)
			}
			if in.Code != current.Code {
				taken, err := tx.CodeTaken(ctx, current.InstitutionID, in.Code, current.ID)
				if err != nil {
					return err
				}
				if taken {
					return shared.ErrDuplicateCode
				}
			}
			current.Code = in.Code
			current.Name = in.Name
			current.Description = in.Description
			current.Category = in.Category
			current.SubCategory = in.SubCategory
			current.Currency = in.Currency
			current.Bank = in.Bank
			current.TaxCode = in.TaxCode
			current.IsTaxable = in.IsTaxable
			current.BudgetLimit = in.BudgetLimit
			current.WarningThreshold = in.WarningThreshold
			current.BudgetPeriod = in.BudgetPeriod
			current.UpdatedBy = in.Actor
			current.UpdatedAt = s.now().UTC()
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			current.Version++
			updated = current
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	s.afterWrite(ctx, updated, "account.update", in.Actor, map[string]any{"code": updated.Code})
	return updated, nil
}

// Deactivate soft-deletes a leaf account and unlinks it from its parent.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID, actor string) (Account, error) {
	var deactivated Account
	err := shared.RetryOnConflict(ctx, s.retries, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !current.IsActive {
				return shared.StateError("deactivate", "inactive account")
			}
			if current.IsParent() {
				return fmt.Errorf("%w: %s has %d children", shared.ErrHasChildren, current.Code, len(current.ChildIDs))
			}
			now := s.now().UTC()
			current.IsActive = false
			current.UpdatedBy = actor
			current.UpdatedAt = now
			if err := tx.Update(ctx, current); err != nil {
				return err
			}
			current.Version++
			if current.ParentID != nil {
				parent, err := tx.GetForUpdate(ctx, *current.ParentID)
				switch {
				case errors.Is(err, shared.ErrNotFound):
					s.logger.Error("deactivate: parent account missing", slog.String("account_id", current.ID.String()), slog.String("parent_id", current.ParentID.String()))
				case err != nil:
					return err
				default:
					parent.RemoveChild(current.ID)
					parent.UpdatedBy = actor
					parent.UpdatedAt = now
					if err := tx.Update(ctx, parent); err != nil {
						return err
					}
				}
			}
			deactivated = current
			return nil
		})
	})
	if err != nil {
		return Account{}, err
	}
	s.afterWrite(ctx, deactivated, "account.deactivate", actor, map[string]any{"code": deactivated.Code})
	return deactivated, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode returns an account by its institution-scoped code.
func (s *Service) GetByCode(ctx context.Context, institutionID, code string) (Account, error) {
	return s.repo.GetByCode(ctx, institutionID, strings.TrimSpace(code))
}

// List returns accounts matching filter ordered by code.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	if strings.TrimSpace(filter.InstitutionID) == "" {
		return nil, shared.Invalid("institutionId", "institution id is required")
	}
	return s.repo.List(ctx, filter)
}

// Hierarchy returns the account followed by all of its descendants.
func (s *Service) Hierarchy(ctx context.Context, id uuid.UUID) ([]Account, error) {
	root, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.repo.List(ctx, ListFilter{InstitutionID: root.InstitutionID})
	if err != nil {
		return nil, err
	}
	arena := make(map[uuid.UUID]Account, len(all)+1)
	for _, a := range all {
		arena[a.ID] = a
	}
	arena[root.ID] = root
	return Descendants(arena, root.ID)
}

// ChartOfAccounts returns the institution's active accounts as an ordered tree.
func (s *Service) ChartOfAccounts(ctx context.Context, institutionID string) ([]ChartNode, error) {
	if strings.TrimSpace(institutionID) == "" {
		return nil, shared.Invalid("institutionId", "institution id is required")
	}
	load := func(ctx context.Context) ([]ChartNode, error) {
		list, err := s.repo.List(ctx, ListFilter{InstitutionID: institutionID, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		return BuildChart(list)
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Chart(ctx, institutionID, load)
}

// InvalidateChart drops the cached chart after balances or structure change.
func (s *Service) InvalidateChart(ctx context.Context, institutionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, institutionID); err != nil {
		s.logger.Warn("invalidate chart cache", slog.String("institution_id", institutionID), slog.Any("error", err))
	}
}

// BootstrapDefaultChart creates the standard school chart, skipping codes that
// already exist. It returns only the accounts it created.
func (s *Service) BootstrapDefaultChart(ctx context.Context, institutionID, actor string) ([]Account, error) {
	existing, err := s.List(ctx, ListFilter{InstitutionID: institutionID})
	if err != nil {
		return nil, err
	}
	idByCode := make(map[string]uuid.UUID, len(existing)+len(DefaultChart))
	for _, a := range existing {
		idByCode[a.Code] = a.ID
	}
	var created []Account
	for _, def := range DefaultChart {
		if _, ok := idByCode[def.Code]; ok {
			continue
		}
		in := CreateInput{
			InstitutionID: institutionID,
			Code:          def.Code,
			Name:          def.Name,
			Description:   "Default " + def.Name + " account",
			Type:          def.Type,
			Category:      def.Category,
			Currency:      DefaultCurrency,
			Actor:         actor,
		}
		if def.ParentCode != "" {
			parentID, ok := idByCode[def.ParentCode]
			if !ok {
				return created, fmt.Errorf("accounting: default chart parent %s missing for %s", def.ParentCode, def.Code)
			}
			in.ParentID = &parentID
		}
		acct, err := s.Create(ctx, in)
		if err != nil {
			if errors.Is(err, shared.ErrDuplicateCode) {
				// Created concurrently; pick up its id so children still link.
				if other, getErr := s.repo.GetByCode(ctx, institutionID, def.Code); getErr == nil {
					idByCode[def.Code] = other.ID
					continue
				}
			}
			return created, err
		}
		idByCode[acct.Code] = acct.ID
		created = append(created, acct)
	}
	return created, nil
}

// BudgetAlerts lists active accounts whose budget position equals state.
func (s *Service) BudgetAlerts(ctx context.Context, institutionID string, state BudgetState) ([]Account, error) {
	if state != BudgetApproaching && state != BudgetExceeded {
		return nil, shared.Invalid("state", "budget alert state must be %s or %s", BudgetApproaching, BudgetExceeded)
	}
	list, err := s.List(ctx, ListFilter{InstitutionID: institutionID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range list {
		if a.BudgetState() == state {
			out = append(out, a)
		}
	}
	return out, nil
}

// Statistics counts accounts per type and budget position.
func (s *Service) Statistics(ctx context.Context, institutionID string) (Statistics, error) {
	list, err := s.List(ctx, ListFilter{InstitutionID: institutionID})
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{ByType: map[AccountType]int{}}
	for _, a := range list {
		stats.ByType[a.Type]++
		if !a.IsActive {
			continue
		}
		stats.TotalActive++
		switch a.BudgetState() {
		case BudgetApproaching:
			stats.ApproachingLimit++
		case BudgetExceeded:
			stats.ExceedingLimit++
		}
	}
	return stats, nil
}

func (s *Service) afterWrite(ctx context.Context, acct Account, action, actor string, meta map[string]any) {
	s.InvalidateChart(ctx, acct.InstitutionID)
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{
		ActorID:       actor,
		InstitutionID: acct.InstitutionID,
		Action:        action,
		Entity:        "account",
		EntityID:      acct.ID.String(),
		Meta:          meta,
		At:            s.now(),
	}); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
