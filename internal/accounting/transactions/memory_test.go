package transactions

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
	"github.com/eduai/schoolledger/internal/accounting/balances"
	"github.com/eduai/schoolledger/internal/accounting/shared"
)

type memoryRepo struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]accounts.Account
	txns          map[uuid.UUID]Transaction
	sequences     map[string]int64
	conflictsLeft int
	levels        []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts:  map[uuid.UUID]accounts.Account{},
		txns:      map[uuid.UUID]Transaction{},
		sequences: map[string]int64{},
	}
}

func cloneTxn(t Transaction) Transaction {
	t.Entries = slices.Clone(t.Entries)
	return t
}

func (m *memoryRepo) addAccount(code string, typ accounts.AccountType) accounts.Account {
	return m.addInstitutionAccount(inst, code, typ)
}

func (m *memoryRepo) addInstitutionAccount(institutionID, code string, typ accounts.AccountType) accounts.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := accounts.Account{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		Code:          code,
		Name:          "Account " + code,
		Type:          typ,
		Currency:      "USD",
		IsActive:      true,
		Version:       1,
	}
	m.accounts[a.ID] = a
	return a
}

func (m *memoryRepo) setActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[id]
	a.IsActive = active
	m.accounts[id] = a
}

func (m *memoryRepo) account(id uuid.UUID) accounts.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id]
}

func (m *memoryRepo) GetBalance(ctx context.Context, id uuid.UUID) (balances.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return balances.Balance{}, shared.ErrAccountNotFound
	}
	return toBalance(a), nil
}

func toBalance(a accounts.Account) balances.Balance {
	return balances.Balance{
		AccountID:     a.ID,
		InstitutionID: a.InstitutionID,
		Code:          a.Code,
		Type:          a.Type,
		Currency:      a.Currency,
		IsActive:      a.IsActive,
		Debit:         a.DebitBalance,
		Credit:        a.CreditBalance,
		Net:           a.Balance,
		Version:       a.Version,
	}
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return Transaction{}, shared.ErrTransactionNotFound
	}
	return cloneTxn(t), nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.txns {
		if t.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.AccountID != nil && !slices.ContainsFunc(t.Entries, func(e JournalEntry) bool { return e.AccountID == *filter.AccountID }) {
			continue
		}
		if filter.From != nil && t.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && t.Date.After(*filter.To) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(t.Number+" "+t.Description+" "+t.Reference), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, cloneTxn(t))
	}
	slices.SortFunc(out, func(a, b Transaction) int { return strings.Compare(a.Number, b.Number) })
	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *memoryRepo) Statistics(ctx context.Context, institutionID string, from, to time.Time) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Statistics{ByStatus: map[Status]int{}, ByType: map[Type]int{}, PostedTotal: decimal.Zero}
	for _, t := range m.txns {
		if t.InstitutionID != institutionID || t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		stats.ByStatus[t.Status]++
		stats.ByType[t.Type]++
		if t.Status == StatusPosted {
			stats.PostedTotal = stats.PostedTotal.Add(t.TotalAmount)
		}
		if t.Status == StatusPending {
			stats.PendingApprovals++
		}
	}
	return stats, nil
}

func (m *memoryRepo) WithInsertTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.withTx(ctx, "read-committed", fn)
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.withTx(ctx, "repeatable-read", fn)
}

// isolation returns the level of every storage transaction opened so far.
func (m *memoryRepo) isolation() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.levels...)
}

func (m *memoryRepo) withTx(ctx context.Context, level string, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = append(m.levels, level)
	accts := make(map[uuid.UUID]accounts.Account, len(m.accounts))
	for id, a := range m.accounts {
		accts[id] = a
	}
	txns := make(map[uuid.UUID]Transaction, len(m.txns))
	for id, t := range m.txns {
		txns[id] = cloneTxn(t)
	}
	seqs := make(map[string]int64, len(m.sequences))
	for k, v := range m.sequences {
		seqs[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.accounts, m.txns, m.sequences = accts, txns, seqs
		return err
	}
	return nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Balances() balances.Store { return t }

func (t *memoryTx) LockBalance(ctx context.Context, id uuid.UUID) (balances.Balance, error) {
	a, ok := t.repo.accounts[id]
	if !ok {
		return balances.Balance{}, shared.ErrAccountNotFound
	}
	return toBalance(a), nil
}

func (t *memoryTx) SaveBalance(ctx context.Context, b balances.Balance) error {
	a, ok := t.repo.accounts[b.AccountID]
	if !ok || a.Version != b.Version {
		return shared.ErrConcurrencyConflict
	}
	a.DebitBalance, a.CreditBalance, a.Balance = b.Debit, b.Credit, b.Net
	a.Version++
	t.repo.accounts[a.ID] = a
	return nil
}

func (t *memoryTx) NextSequence(ctx context.Context, institutionID, period string) (int64, error) {
	key := institutionID + "/" + period
	t.repo.sequences[key]++
	return t.repo.sequences[key], nil
}

func (t *memoryTx) GetAccount(ctx context.Context, id uuid.UUID) (accounts.Account, error) {
	a, ok := t.repo.accounts[id]
	if !ok {
		return accounts.Account{}, shared.ErrAccountNotFound
	}
	return a, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	txn, ok := t.repo.txns[id]
	if !ok {
		return Transaction{}, shared.ErrTransactionNotFound
	}
	return cloneTxn(txn), nil
}

func (t *memoryTx) Insert(ctx context.Context, txn Transaction) error {
	for _, existing := range t.repo.txns {
		if existing.InstitutionID == txn.InstitutionID && existing.Number == txn.Number {
			return shared.ErrConcurrencyConflict
		}
	}
	t.repo.txns[txn.ID] = cloneTxn(txn)
	return nil
}

func (t *memoryTx) UpdateHeader(ctx context.Context, txn Transaction) error {
	if t.repo.conflictsLeft > 0 {
		t.repo.conflictsLeft--
		return shared.ErrConcurrencyConflict
	}
	current, ok := t.repo.txns[txn.ID]
	if !ok {
		return shared.ErrTransactionNotFound
	}
	txn.Entries = current.Entries
	t.repo.txns[txn.ID] = cloneTxn(txn)
	return nil
}

func (t *memoryTx) ReplaceEntries(ctx context.Context, id uuid.UUID, entries []JournalEntry) error {
	current, ok := t.repo.txns[id]
	if !ok {
		return shared.ErrTransactionNotFound
	}
	current.Entries = slices.Clone(entries)
	t.repo.txns[id] = current
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.repo.txns[id]; !ok {
		return shared.ErrTransactionNotFound
	}
	delete(t.repo.txns, id)
	return nil
}
