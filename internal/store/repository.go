/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the budget-approval-service. By defining an
 * interface, we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The guarded transition methods (SubmitRequest, StartRequestReview, DecideRequest,
 * LockRequest) are the only code paths that may write a request's status column.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Pool methods
	FindPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error)

	// Request lifecycle methods. Each guarded transition runs inside one short
	// transaction that verifies the expected source status under a row lock,
	// so exactly one of two racing callers succeeds; the loser observes
	// ErrInvalidTransition.
	CreateRequest(ctx context.Context, req *domain.BudgetRequest) error
	FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BudgetRequest, error)
	SubmitRequest(ctx context.Context, requestID uuid.UUID, approverID uuid.UUID) (*domain.BudgetRequest, error)

	// StartRequestReview moves a submitted request into review. Inside the same
	// transaction it takes the pool row with a non-blocking exclusive lock
	// (NOWAIT) and verifies amount <= available; used_amount is NOT mutated.
	// Contention surfaces as ErrPoolBusy, shortfall as ErrInsufficientBudget,
	// and in both cases the request stays submitted.
	StartRequestReview(ctx context.Context, requestID uuid.UUID, escalated bool) (*domain.BudgetRequest, error)

	// DecideRequest applies an approve/reject/forward decision. Only the
	// current approver may decide (ErrNotCurrentApprover otherwise). A non-nil
	// nextApprover on approval keeps the request under review with the new
	// approver; otherwise approval finalizes to approved and rejection to
	// rejected. The decision audit row is appended in the same transaction.
	DecideRequest(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID, approve bool, nextApprover *uuid.UUID, comment string) (*domain.BudgetRequest, error)

	// LockRequest commits an approved request against its pool: pool row taken
	// NOWAIT, sufficiency re-validated against the live row, used_amount
	// incremented and status flipped to locked atomically. On
	// ErrInsufficientBudget or ErrPoolBusy the request remains approved and
	// the call is retryable.
	LockRequest(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID) (*domain.BudgetRequest, *domain.BudgetPool, error)

	// Listing and audit methods
	ListRequestsByRequester(ctx context.Context, requesterID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error)
	ListRequestsByApprover(ctx context.Context, approverID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error)
	ListDecisionsByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.ApprovalDecision, error)

	// Escalation rule methods (read-only to the engine)
	FindActiveEscalationRules(ctx context.Context, poolID uuid.UUID) ([]domain.EscalationRule, error)
}
