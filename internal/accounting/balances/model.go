package balances

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eduai/schoolledger/internal/accounting/accounts"
)

// Balance is the running debit/credit position of a single account.
type Balance struct {
	AccountID     uuid.UUID            `json:"accountId"`
	InstitutionID string               `json:"institutionId"`
	Code          string               `json:"code"`
	Type          accounts.AccountType `json:"type"`
	Currency      string               `json:"currency"`
	IsActive      bool                 `json:"isActive"`
	Debit         decimal.Decimal      `json:"debitBalance"`
	Credit        decimal.Decimal      `json:"creditBalance"`
	Net           decimal.Decimal      `json:"balance"`
	Version       int64                `json:"version"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

// Delta is an amount to add to one account's debit and credit totals.
type Delta struct {
	AccountID uuid.UUID
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// apply adds the delta and recomputes the net per the account's normal balance.
func (b Balance) apply(debit, credit decimal.Decimal) Balance {
	b.Debit = b.Debit.Add(debit)
	b.Credit = b.Credit.Add(credit)
	b.Net = accounts.NetBalance(b.Type, b.Debit, b.Credit)
	return b
}

// Aggregate sums deltas per account and returns them in ascending account id
// order, which is the order rows must be locked in.
func Aggregate(deltas []Delta) []Delta {
	byID := make(map[uuid.UUID]Delta, len(deltas))
	for _, d := range deltas {
		cur, ok := byID[d.AccountID]
		if !ok {
			cur = Delta{AccountID: d.AccountID, Debit: decimal.Zero, Credit: decimal.Zero}
		}
		cur.Debit = cur.Debit.Add(d.Debit)
		cur.Credit = cur.Credit.Add(d.Credit)
		byID[d.AccountID] = cur
	}
	out := make([]Delta, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AccountID.String() < out[j].AccountID.String()
	})
	return out
}
