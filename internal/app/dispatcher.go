package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/adlane/budget-approval-service/internal/store"
	"github.com/google/uuid"
)

// RoleDirectory resolves the users holding a role within an organization.
type RoleDirectory interface {
	UsersWithRole(ctx context.Context, role string, orgID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier delivers one notification to one user. Implementations must not
// panic or return transport errors as failures that abort a dispatch run; a
// false return marks that single recipient as failed.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, message string) bool
}

// EscalationDispatcher consumes escalation jobs from the queue and notifies
// the role holders configured on the pool's escalation rules. It is idempotent:
// a re-delivered or duplicate job for a request that no longer exists or is no
// longer escalated is a successful no-op.
type EscalationDispatcher struct {
	repo      store.Repository
	directory RoleDirectory
	notifier  Notifier
}

func NewEscalationDispatcher(repo store.Repository, directory RoleDirectory, notifier Notifier) *EscalationDispatcher {
	return &EscalationDispatcher{repo: repo, directory: directory, notifier: notifier}
}

// HandleMessage is the queue-consumer entry point. Returning true acknowledges
// the message; false re-queues it for another attempt.
func (d *EscalationDispatcher) HandleMessage(body []byte) bool {
	var job domain.EscalationJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("escalation-dispatcher: failed to unmarshal payload: %v", err)
		return true
	}

	if job.RequestID == uuid.Nil {
		log.Printf("escalation-dispatcher: missing request id in job %+v", job)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := d.Dispatch(ctx, job.RequestID)
	if err != nil {
		log.Printf("escalation-dispatcher: dispatch error for request %s: %v", job.RequestID, err)
		return false
	}

	log.Printf("level=info component=escalation_dispatcher request_id=%s success=%t notified=%d failed=%d",
		job.RequestID, result.Success, len(result.EscalationUsers), len(result.Failures))
	return true
}

// Dispatch re-fetches the request, resolves the deduplicated set of role
// holders across all matching active rules, and sends one notification per
// resolved user. Individual notification failures are collected, never raised.
// Zero matching rules or zero resolvable users is still a success with an
// empty user list; absence of a rule is not an error.
func (d *EscalationDispatcher) Dispatch(ctx context.Context, requestID uuid.UUID) (domain.EscalationDispatchResult, error) {
	result := domain.EscalationDispatchResult{
		Success:         true,
		EscalationUsers: []uuid.UUID{},
		Failures:        []domain.EscalationNotificationFailure{},
	}

	req, err := d.repo.FindRequestByID(ctx, requestID)
	if err != nil {
		if err == store.ErrRequestNotFound {
			log.Printf("escalation-dispatcher: request %s no longer exists; nothing to do", requestID)
			return result, nil
		}
		return result, fmt.Errorf("lookup request: %w", err)
	}
	if !req.IsEscalated {
		// Defensive check against duplicate or stale enqueues.
		log.Printf("escalation-dispatcher: request %s is not escalated; nothing to do", requestID)
		return result, nil
	}

	rules, err := d.repo.FindActiveEscalationRules(ctx, req.PoolID)
	if err != nil {
		return result, fmt.Errorf("load escalation rules: %w", err)
	}

	pool, err := d.repo.FindPoolByID(ctx, req.PoolID)
	if err != nil {
		return result, fmt.Errorf("lookup pool: %w", err)
	}

	seen := make(map[uuid.UUID]bool)
	var recipients []uuid.UUID
	for _, rule := range rules {
		if rule.ThresholdCurrency != req.Currency || rule.ThresholdAmount > req.Amount {
			continue
		}
		users, err := d.directory.UsersWithRole(ctx, rule.EscalateToRole, pool.OrgID)
		if err != nil {
			return result, fmt.Errorf("resolve role %q: %w", rule.EscalateToRole, err)
		}
		for _, userID := range users {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			recipients = append(recipients, userID)
		}
	}

	message := fmt.Sprintf(
		"Budget request %s for %d %s against pool %q requires escalated review.",
		req.ID, req.Amount, req.Currency, pool.Name,
	)
	for _, userID := range recipients {
		if d.notifier.Notify(ctx, userID, message) {
			result.EscalationUsers = append(result.EscalationUsers, userID)
			continue
		}
		result.Failures = append(result.Failures, domain.EscalationNotificationFailure{
			UserID: userID,
			Reason: "notification delivery failed",
		})
	}

	return result, nil
}
