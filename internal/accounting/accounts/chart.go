package accounts

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/eduai/schoolledger/internal/accounting/shared"
)

// DefaultAccount describes one row of the standard school chart.
type DefaultAccount struct {
	Code       string
	Name       string
	Type       AccountType
	Category   AccountCategory
	ParentCode string
}

// DefaultChart is the standard school chart, parents before children.
var DefaultChart = []DefaultAccount{
	{"1000", "Assets", AccountTypeAsset, CategoryCurrentAssets, ""},
	{"1100", "Current Assets", AccountTypeAsset, CategoryCurrentAssets, "1000"},
	{"1110", "Cash", AccountTypeAsset, CategoryCurrentAssets, "1100"},
	{"1120", "Bank - Checking", AccountTypeAsset, CategoryCurrentAssets, "1100"},
	{"1130", "Accounts Receivable", AccountTypeAsset, CategoryCurrentAssets, "1100"},
	{"1140", "Student Fees Receivable", AccountTypeAsset, CategoryCurrentAssets, "1100"},
	{"1200", "Fixed Assets", AccountTypeAsset, CategoryFixedAssets, "1000"},
	{"1210", "Buildings", AccountTypeAsset, CategoryFixedAssets, "1200"},
	{"1220", "Equipment", AccountTypeAsset, CategoryFixedAssets, "1200"},
	{"2000", "Liabilities", AccountTypeLiability, CategoryCurrentLiabilities, ""},
	{"2100", "Current Liabilities", AccountTypeLiability, CategoryCurrentLiabilities, "2000"},
	{"2110", "Accounts Payable", AccountTypeLiability, CategoryCurrentLiabilities, "2100"},
	{"2120", "Salaries Payable", AccountTypeLiability, CategoryCurrentLiabilities, "2100"},
	{"3000", "Equity", AccountTypeEquity, CategoryOwnersEquity, ""},
	{"3100", "Retained Earnings", AccountTypeEquity, CategoryRetainedEarnings, "3000"},
	{"4000", "Income", AccountTypeIncome, CategoryOperatingIncome, ""},
	{"4100", "Tuition Income", AccountTypeIncome, CategoryOperatingIncome, "4000"},
	{"4110", "Registration Fees", AccountTypeIncome, CategoryOperatingIncome, "4100"},
	{"4120", "Examination Fees", AccountTypeIncome, CategoryOperatingIncome, "4100"},
	{"5000", "Expenses", AccountTypeExpense, CategoryOperatingExpenses, ""},
	{"5100", "Salaries and Wages", AccountTypeExpense, CategoryOperatingExpenses, "5000"},
	{"5200", "Utilities", AccountTypeExpense, CategoryOperatingExpenses, "5000"},
	{"5300", "Supplies", AccountTypeExpense, CategoryOperatingExpenses, "5000"},
}

// BuildChart arranges accounts into a forest ordered by code. Accounts whose
// parent is not in the set become roots.
func BuildChart(list []Account) ([]ChartNode, error) {
	byID := make(map[uuid.UUID]Account, len(list))
	for _, a := range list {
		byID[a.ID] = a
	}
	children := make(map[uuid.UUID][]uuid.UUID, len(list))
	var roots []uuid.UUID
	for _, a := range list {
		if a.ParentID != nil {
			if _, ok := byID[*a.ParentID]; ok {
				children[*a.ParentID] = append(children[*a.ParentID], a.ID)
				continue
			}
		}
		roots = append(roots, a.ID)
	}
	byCode := func(ids []uuid.UUID) {
		sort.Slice(ids, func(i, j int) bool { return byID[ids[i]].Code < byID[ids[j]].Code })
	}
	byCode(roots)

	visited := make(map[uuid.UUID]bool, len(list))
	var build func(id uuid.UUID, depth int) (ChartNode, error)
	build = func(id uuid.UUID, depth int) (ChartNode, error) {
		if visited[id] || depth > len(list) {
			return ChartNode{}, fmt.Errorf("%w: %s", shared.ErrHierarchyCycle, byID[id].Code)
		}
		visited[id] = true
		node := ChartNode{Account: byID[id]}
		kids := children[id]
		byCode(kids)
		for _, kid := range kids {
			child, err := build(kid, depth+1)
			if err != nil {
				return ChartNode{}, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	out := make([]ChartNode, 0, len(roots))
	for _, id := range roots {
		node, err := build(id, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	if len(visited) != len(list) {
		// Whatever was never reached sits on a parent loop with no root.
		for _, a := range list {
			if !visited[a.ID] {
				return nil, fmt.Errorf("%w: %s", shared.ErrHierarchyCycle, a.Code)
			}
		}
	}
	return out, nil
}

// Descendants walks ChildIDs breadth-first from root over the arena and returns
// root followed by every descendant. Revisiting a node is reported as a cycle.
func Descendants(arena map[uuid.UUID]Account, root uuid.UUID) ([]Account, error) {
	start, ok := arena[root]
	if !ok {
		return nil, shared.ErrAccountNotFound
	}
	out := []Account{start}
	seen := map[uuid.UUID]bool{root: true}
	queue := append([]uuid.UUID(nil), start.ChildIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			return nil, fmt.Errorf("%w: %s revisited under %s", shared.ErrHierarchyCycle, id, start.Code)
		}
		seen[id] = true
		child, ok := arena[id]
		if !ok {
			continue
		}
		out = append(out, child)
		queue = append(queue, child.ChildIDs...)
	}
	return out, nil
}
