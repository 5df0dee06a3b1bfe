package transactions

import "github.com/shopspring/decimal"

// ApprovalPolicy decides whether a submitted transaction needs a human approver.
type ApprovalPolicy interface {
	RequiresApproval(t Transaction) bool
}

// RequireAll sends every transaction through approval.
type RequireAll struct{}

func (RequireAll) RequiresApproval(Transaction) bool { return true }

// ThresholdPolicy auto-approves transactions at or below a limit and those in
// exempt categories. A zero limit disables the amount rule.
type ThresholdPolicy struct {
	AutoApproveLimit decimal.Decimal
	Exempt           map[Category]struct{}
}

// NewThresholdPolicy builds a policy from configuration values.
func NewThresholdPolicy(limit decimal.Decimal, exempt []string) ThresholdPolicy {
	p := ThresholdPolicy{AutoApproveLimit: limit, Exempt: make(map[Category]struct{}, len(exempt))}
	for _, c := range exempt {
		if c != "" {
			p.Exempt[Category(c)] = struct{}{}
		}
	}
	return p
}

func (p ThresholdPolicy) RequiresApproval(t Transaction) bool {
	if _, ok := p.Exempt[t.Category]; ok && t.Category != "" {
		return false
	}
	if p.AutoApproveLimit.IsPositive() && t.TotalAmount.LessThanOrEqual(p.AutoApproveLimit) {
		return false
	}
	return true
}
