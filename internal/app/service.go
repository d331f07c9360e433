/**
 * @description
 * This file contains the core business logic for the budget-approval-service. The
 * `Service` struct owns the budget-request state machine, coordinating between the
 * database repository and the message broker.
 *
 * Key features:
 * - Implements the request lifecycle: CreateDraft, Submit, StartReview, Decide, Lock.
 * - Delegates all status writes to the repository's guarded transitions so that
 *   concurrent decisions on the same request resolve to exactly one winner.
 * - Evaluates escalation rules during StartReview and publishes an escalation job
 *   to RabbitMQ only after the review transaction has committed.
 * - Never retries ErrPoolBusy or ErrInsufficientBudget internally; retry is the
 *   caller's decision.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing escalation jobs.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/adlane/budget-approval-service/internal/store"
	"github.com/adlane/budget-approval-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const (
	EventsExchange        = "adlane.events"
	EscalationRoutingKey  = "budget.request.escalated"
	submitRateLimitScope  = "budget_request_submit"
	submitRateLimitWindow = time.Minute
)

var (
	ErrInvalidAmount    = errors.New("request amount must be greater than zero")
	ErrInvalidCurrency  = errors.New("currency must be a 3-letter code")
	ErrCurrencyMismatch = errors.New("request currency must match the pool currency")
	ErrMissingApprover  = errors.New("an approver is required")
	ErrSelfApproval     = errors.New("requester cannot be their own approver")
	ErrRateLimited      = errors.New("too many submissions; please slow down")
)

// RateLimiter is the contract for the distributed submission rate limiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for budget approvals.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher

	rateLimiter          RateLimiter
	submitLimitPerMinute int
}

// NewService creates a new budget approval service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
	}
}

// SetSubmitRateLimiter enables per-requester submission rate limiting.
func (s *Service) SetSubmitRateLimiter(limiter RateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.submitLimitPerMinute = limitPerMinute
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, c := range currency {
		if c < 'A' || c > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return currency, nil
}

// CreateDraft validates and creates a new budget request in draft status.
// A currency mismatch against the pool is rejected here, before any locks are
// touched, so later sufficiency checks always compare like currencies.
func (s *Service) CreateDraft(ctx context.Context, requesterID uuid.UUID, req domain.CreateDraftRequest) (*domain.BudgetRequest, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.ApproverID == uuid.Nil {
		return nil, ErrMissingApprover
	}
	if req.ApproverID == requesterID {
		return nil, ErrSelfApproval
	}

	pool, err := s.repo.FindPoolByID(ctx, req.PoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to find budget pool: %w", err)
	}
	if pool.Currency != currency {
		return nil, ErrCurrencyMismatch
	}

	approverID := req.ApproverID
	record := &domain.BudgetRequest{
		ID:              uuid.New(),
		PoolID:          pool.ID,
		RequestedBy:     requesterID,
		CurrentApprover: &approverID,
		Amount:          req.Amount,
		Currency:        currency,
		Status:          domain.StatusDraft,
		AdChannel:       req.AdChannel,
		Notes:           req.Notes,
	}
	if err := s.repo.CreateRequest(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create budget request: %w", err)
	}

	log.Printf("level=info component=service op=create_draft request_id=%s pool_id=%s amount=%d currency=%s", record.ID, pool.ID, record.Amount, currency)
	return record, nil
}

// Submit moves a draft request to submitted and assigns the approver.
// No pool check happens yet; sufficiency is validated at StartReview.
func (s *Service) Submit(ctx context.Context, requestID uuid.UUID, requesterID uuid.UUID, approverID uuid.UUID) (*domain.BudgetRequest, error) {
	if approverID == uuid.Nil {
		return nil, ErrMissingApprover
	}
	if approverID == requesterID {
		return nil, ErrSelfApproval
	}

	if s.rateLimiter != nil && s.submitLimitPerMinute > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, submitRateLimitScope, requesterID.String(), s.submitLimitPerMinute, submitRateLimitWindow)
		if err != nil {
			// Rate limiting is best-effort hardening; a broken limiter must not
			// block legitimate submissions.
			log.Printf("level=warn component=service op=submit msg=\"rate limiter unavailable\" requester_id=%s err=%v", requesterID, err)
		} else if count > s.submitLimitPerMinute {
			log.Printf("level=warn component=service op=submit outcome=rate_limited requester_id=%s count=%d retry_after_s=%d", requesterID, count, retryAfter)
			return nil, ErrRateLimited
		}
	}

	req, err := s.repo.SubmitRequest(ctx, requestID, approverID)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=submit request_id=%s approver_id=%s", requestID, approverID)
	return req, nil
}

// StartReview transitions a submitted request into review. The repository
// validates pool sufficiency under a fail-fast lock; on ErrPoolBusy or
// ErrInsufficientBudget the request stays submitted and the caller may retry.
// When escalation rules fire, the job is published only after the transaction
// has committed so a rolled-back transition never notifies anyone.
func (s *Service) StartReview(ctx context.Context, requestID uuid.UUID) (*domain.BudgetRequest, error) {
	req, err := s.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusSubmitted {
		return nil, store.ErrInvalidTransition
	}

	rules, err := s.repo.FindActiveEscalationRules(ctx, req.PoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation rules: %w", err)
	}
	escalated := EvaluateEscalation(req.Amount, req.Currency, rules)

	updated, err := s.repo.StartRequestReview(ctx, requestID, escalated)
	if err != nil {
		return nil, err
	}

	if escalated && s.eventProducer != nil {
		job := domain.EscalationJob{
			RequestID: updated.ID,
			PoolID:    updated.PoolID,
			Amount:    updated.Amount,
			Currency:  updated.Currency,
			Timestamp: time.Now().UTC(),
		}
		if err := s.eventProducer.Publish(ctx, EventsExchange, EscalationRoutingKey, job); err != nil {
			// The flag is already committed; the dispatcher is idempotent, so a
			// lost publish can be repaired by re-enqueueing the request id.
			log.Printf("level=error component=service op=start_review msg=\"escalation publish failed\" request_id=%s err=%v", updated.ID, err)
		}
	}

	log.Printf("level=info component=service op=start_review request_id=%s escalated=%t", requestID, escalated)
	return updated, nil
}

// Decide applies an approve/reject/forward decision. The repository enforces
// both the current-approver check and the status compare-and-swap.
func (s *Service) Decide(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID, decision domain.DecideRequest) (*domain.BudgetRequest, error) {
	if decision.Approve && decision.NextApprover != nil && *decision.NextApprover == actorID {
		return nil, ErrSelfApproval
	}

	req, err := s.repo.DecideRequest(ctx, requestID, actorID, decision.Approve, decision.NextApprover, decision.Comment)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=decide request_id=%s actor_id=%s approve=%t status=%s", requestID, actorID, decision.Approve, req.Status)
	return req, nil
}

// Lock commits an approved request's funds against the pool. On
// ErrInsufficientBudget or ErrPoolBusy the request remains approved and Lock
// may be retried by the caller.
func (s *Service) Lock(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID) (*domain.BudgetRequest, error) {
	req, pool, err := s.repo.LockRequest(ctx, requestID, actorID)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=service op=lock request_id=%s pool_id=%s amount=%d pool_used=%d pool_total=%d", requestID, pool.ID, req.Amount, pool.UsedAmount, pool.TotalAmount)
	return req, nil
}

// GetRequest returns a request together with its decision audit trail.
func (s *Service) GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.BudgetRequest, []domain.ApprovalDecision, error) {
	req, err := s.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	decisions, err := s.repo.ListDecisionsByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, decisions, nil
}

// ListMyRequests returns requests created by the given user.
func (s *Service) ListMyRequests(ctx context.Context, requesterID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error) {
	return s.repo.ListRequestsByRequester(ctx, requesterID, opts)
}

// ListAssignedRequests returns requests currently waiting on the given approver.
func (s *Service) ListAssignedRequests(ctx context.Context, approverID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error) {
	return s.repo.ListRequestsByApprover(ctx, approverID, opts)
}

// GetPool returns a budget pool with its live totals.
func (s *Service) GetPool(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.repo.FindPoolByID(ctx, poolID)
}
