package app

import (
	"github.com/adlane/budget-approval-service/internal/domain"
)

// EvaluateEscalation decides whether a request must be flagged for escalation.
// It is a pure function: true if any active rule has a matching currency and a
// threshold less than or equal to the amount (the boundary is inclusive, so
// exactly-at-threshold triggers). Rules in a different currency are ignored
// entirely; there is no cross-currency conversion.
func EvaluateEscalation(amount int64, currency string, rules []domain.EscalationRule) bool {
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.ThresholdCurrency != currency {
			continue
		}
		if rule.ThresholdAmount <= amount {
			return true
		}
	}
	return false
}
