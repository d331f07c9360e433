/**
 * @description
 * This file defines the core domain models for the budget-approval-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - A BudgetRequest's status is only ever written by the guarded transition
 *   methods on the store; no other code path mutates it.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus enumerates the budget request lifecycle.
// locked and rejected are terminal.
type RequestStatus string

const (
	StatusDraft       RequestStatus = "draft"
	StatusSubmitted   RequestStatus = "submitted"
	StatusUnderReview RequestStatus = "under_review"
	StatusApproved    RequestStatus = "approved"
	StatusRejected    RequestStatus = "rejected"
	StatusLocked      RequestStatus = "locked"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusLocked || s == StatusRejected
}

// DecisionAction enumerates the audit-trail actions recorded against a request.
type DecisionAction string

const (
	ActionSubmit  DecisionAction = "submit"
	ActionReview  DecisionAction = "review"
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
	ActionForward DecisionAction = "forward"
	ActionLock    DecisionAction = "lock"
)

// BudgetPool represents a shared budget allocation scoped to an organization
// and ad channel. This struct maps directly to the `budget_pools` table.
// used_amount only ever grows, and only inside the lock-commit transaction.
type BudgetPool struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	Name        string    `json:"name"`
	AdChannel   string    `json:"ad_channel"`
	Currency    string    `json:"currency"`
	TotalAmount int64     `json:"total_amount"` // in cents
	UsedAmount  int64     `json:"used_amount"`  // in cents
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AvailableAmount is the derived headroom left in the pool.
func (p *BudgetPool) AvailableAmount() int64 {
	return p.TotalAmount - p.UsedAmount
}

// BudgetRequest represents one spend request drawing from exactly one pool.
// The pool reference is immutable after creation.
type BudgetRequest struct {
	ID              uuid.UUID     `json:"id"`
	PoolID          uuid.UUID     `json:"pool_id"`
	RequestedBy     uuid.UUID     `json:"requested_by"`
	CurrentApprover *uuid.UUID    `json:"current_approver,omitempty"`
	Amount          int64         `json:"amount"` // in cents
	Currency        string        `json:"currency"`
	Status          RequestStatus `json:"status"`
	AdChannel       string        `json:"ad_channel"`
	IsEscalated     bool          `json:"is_escalated"`
	Notes           string        `json:"notes"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ApprovalDecision is one append-only audit record of an action taken on a
// request. Decision rows are never updated or deleted.
type ApprovalDecision struct {
	ID           uuid.UUID      `json:"id"`
	RequestID    uuid.UUID      `json:"request_id"`
	ActorID      uuid.UUID      `json:"actor_id"`
	Action       DecisionAction `json:"action"`
	NextApprover *uuid.UUID     `json:"next_approver,omitempty"`
	Comment      string         `json:"comment"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EscalationRule configures when a request against a pool must be flagged for
// escalation. Rules are administered elsewhere and read-only to this service.
type EscalationRule struct {
	ID                uuid.UUID `json:"id"`
	PoolID            uuid.UUID `json:"pool_id"`
	ThresholdAmount   int64     `json:"threshold_amount"` // in cents
	ThresholdCurrency string    `json:"threshold_currency"`
	EscalateToRole    string    `json:"escalate_to_role"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// CreateDraftRequest is the DTO for creating a new budget request draft.
type CreateDraftRequest struct {
	PoolID     uuid.UUID `json:"pool_id"`
	Amount     int64     `json:"amount"` // in cents
	Currency   string    `json:"currency"`
	AdChannel  string    `json:"ad_channel"`
	ApproverID uuid.UUID `json:"approver_id"`
	Notes      string    `json:"notes"`
}

// SubmitRequest is the DTO for submitting a draft to an approver.
type SubmitRequest struct {
	ApproverID uuid.UUID `json:"approver_id"`
}

// DecideRequest is the DTO for an approve/reject/forward decision.
// NextApprover non-nil on approval forwards the request instead of
// finalizing it.
type DecideRequest struct {
	Approve      bool       `json:"approve"`
	NextApprover *uuid.UUID `json:"next_approver,omitempty"`
	Comment      string     `json:"comment"`
}

// RequestListOptions controls pagination for request listings.
type RequestListOptions struct {
	Limit  int
	Offset int
	Status string
}

// EscalationJob is the message payload published to RabbitMQ when a request
// is flagged for escalation during StartReview.
type EscalationJob struct {
	RequestID uuid.UUID `json:"request_id"`
	PoolID    uuid.UUID `json:"pool_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// EscalationNotificationFailure captures one recipient that could not be
// notified during a dispatch run.
type EscalationNotificationFailure struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
}

// EscalationDispatchResult is the structured outcome of one dispatcher run.
// A run with no matching rules or no resolvable users is still Success=true
// with an empty user list.
type EscalationDispatchResult struct {
	Success         bool                            `json:"success"`
	EscalationUsers []uuid.UUID                     `json:"escalation_users"`
	Failures        []EscalationNotificationFailure `json:"failures"`
}
