package app

import (
	"testing"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/google/uuid"
)

func activeRule(threshold int64, currency string) domain.EscalationRule {
	return domain.EscalationRule{
		ID:                uuid.New(),
		PoolID:            uuid.New(),
		ThresholdAmount:   threshold,
		ThresholdCurrency: currency,
		EscalateToRole:    "finance_director",
		IsActive:          true,
	}
}

func TestEvaluateEscalation_AmountEqualToThresholdEscalates(t *testing.T) {
	rules := []domain.EscalationRule{activeRule(500000, "USD")}

	if !EvaluateEscalation(500000, "USD", rules) {
		t.Fatal("expected amount equal to threshold to escalate")
	}
}

func TestEvaluateEscalation_OneCentBelowThresholdDoesNotEscalate(t *testing.T) {
	rules := []domain.EscalationRule{activeRule(500000, "USD")}

	if EvaluateEscalation(499999, "USD", rules) {
		t.Fatal("expected amount one cent below threshold not to escalate")
	}
}

func TestEvaluateEscalation_CurrencyMismatchedRuleIsSkipped(t *testing.T) {
	rules := []domain.EscalationRule{activeRule(100, "EUR")}

	if EvaluateEscalation(1000000, "USD", rules) {
		t.Fatal("expected rule with mismatched currency to be skipped")
	}
}

func TestEvaluateEscalation_InactiveRuleIsSkipped(t *testing.T) {
	rule := activeRule(100, "USD")
	rule.IsActive = false

	if EvaluateEscalation(1000000, "USD", []domain.EscalationRule{rule}) {
		t.Fatal("expected inactive rule to be skipped")
	}
}

func TestEvaluateEscalation_NoRulesNeverEscalates(t *testing.T) {
	if EvaluateEscalation(1_000_000_00, "USD", nil) {
		t.Fatal("expected no escalation without any rules")
	}
}

func TestEvaluateEscalation_AnySingleMatchingRuleWins(t *testing.T) {
	inactive := activeRule(100, "USD")
	inactive.IsActive = false
	rules := []domain.EscalationRule{
		inactive,
		activeRule(900000, "EUR"),
		activeRule(200000, "USD"),
	}

	if !EvaluateEscalation(250000, "USD", rules) {
		t.Fatal("expected one matching rule among several non-matching to escalate")
	}
}
