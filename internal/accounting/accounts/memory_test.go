package accounts

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

type memoryRepo struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]Account
	conflictsLeft int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: map[uuid.UUID]Account{}}
}

func clone(a Account) Account {
	a.ChildIDs = slices.Clone(a.ChildIDs)
	if a.ChildIDs == nil {
		a.ChildIDs = []uuid.UUID{}
	}
	return a
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrAccountNotFound
	}
	return clone(a), nil
}

func (m *memoryRepo) GetByCode(ctx context.Context, institutionID, code string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.InstitutionID == institutionID && a.Code == code {
			return clone(a), nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Account
	for _, a := range m.accounts {
		if a.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Category != "" && a.Category != filter.Category {
			continue
		}
		if filter.ActiveOnly && !a.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(a.Code+" "+a.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, clone(a))
	}
	slices.SortFunc(out, func(a, b Account) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[uuid.UUID]Account, len(m.accounts))
	for id, a := range m.accounts {
		snapshot[id] = clone(a)
	}
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.accounts = snapshot
		return err
	}
	return nil
}

func (m *memoryRepo) put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = clone(a)
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Account, error) {
	a, ok := t.repo.accounts[id]
	if !ok {
		return Account{}, shared.ErrAccountNotFound
	}
	return clone(a), nil
}

func (t *memoryTx) CodeTaken(ctx context.Context, institutionID, code string, exclude uuid.UUID) (bool, error) {
	for _, a := range t.repo.accounts {
		if a.InstitutionID == institutionID && a.Code == code && a.ID != exclude {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) Insert(ctx context.Context, a Account) error {
	if taken, _ := t.CodeTaken(ctx, a.InstitutionID, a.Code, uuid.Nil); taken {
		return shared.ErrDuplicateCode
	}
	t.repo.accounts[a.ID] = clone(a)
	return nil
}

func (t *memoryTx) Update(ctx context.Context, a Account) error {
	if t.repo.conflictsLeft > 0 {
		t.repo.conflictsLeft--
		return shared.ErrConcurrencyConflict
	}
	current, ok := t.repo.accounts[a.ID]
	if !ok || current.Version != a.Version {
		return shared.ErrConcurrencyConflict
	}
	a.Version++
	a.DebitBalance = current.DebitBalance
	a.CreditBalance = current.CreditBalance
	a.Balance = current.Balance
	t.repo.accounts[a.ID] = clone(a)
	return nil
}
