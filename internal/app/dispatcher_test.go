package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/adlane/budget-approval-service/internal/store"
	"github.com/google/uuid"
)

type dispatcherRepoStub struct {
	store.Repository

	request *domain.BudgetRequest
	pool    *domain.BudgetPool
	rules   []domain.EscalationRule

	findRequestErr error
	rulesErr       error
}

func (s *dispatcherRepoStub) FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BudgetRequest, error) {
	if s.findRequestErr != nil {
		return nil, s.findRequestErr
	}
	return s.request, nil
}

func (s *dispatcherRepoStub) FindPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error) {
	return s.pool, nil
}

func (s *dispatcherRepoStub) FindActiveEscalationRules(ctx context.Context, poolID uuid.UUID) ([]domain.EscalationRule, error) {
	if s.rulesErr != nil {
		return nil, s.rulesErr
	}
	return s.rules, nil
}

type directoryStub struct {
	membersByRole map[string][]uuid.UUID
	err           error

	calls []string
}

func (d *directoryStub) UsersWithRole(ctx context.Context, role string, orgID uuid.UUID) ([]uuid.UUID, error) {
	d.calls = append(d.calls, role)
	if d.err != nil {
		return nil, d.err
	}
	return d.membersByRole[role], nil
}

type notifierStub struct {
	failFor map[uuid.UUID]bool

	notified []uuid.UUID
}

func (n *notifierStub) Notify(ctx context.Context, userID uuid.UUID, message string) bool {
	n.notified = append(n.notified, userID)
	return !n.failFor[userID]
}

func escalatedFixture() (*dispatcherRepoStub, *directoryStub, *notifierStub) {
	poolID := uuid.New()
	repo := &dispatcherRepoStub{
		request: &domain.BudgetRequest{
			ID:          uuid.New(),
			PoolID:      poolID,
			Amount:      600000,
			Currency:    "USD",
			Status:      domain.StatusUnderReview,
			IsEscalated: true,
		},
		pool: &domain.BudgetPool{
			ID:       poolID,
			OrgID:    uuid.New(),
			Name:     "Q3 Paid Social",
			Currency: "USD",
		},
	}
	return repo, &directoryStub{membersByRole: map[string][]uuid.UUID{}}, &notifierStub{failFor: map[uuid.UUID]bool{}}
}

func TestDispatch_MissingRequestIsASuccessfulNoOp(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	repo.findRequestErr = store.ErrRequestNotFound
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success for a request that no longer exists")
	}
	if len(notifier.notified) != 0 {
		t.Fatal("did not expect notifications for a missing request")
	}
}

func TestDispatch_NotEscalatedRequestIsASuccessfulNoOp(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	repo.request.IsEscalated = false
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), repo.request.ID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success for a non-escalated request")
	}
	if len(directory.calls) != 0 {
		t.Fatal("did not expect role resolution for a non-escalated request")
	}
}

func TestDispatch_ZeroMatchingRulesIsASuccessWithNoRecipients(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), repo.request.ID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success with zero rules")
	}
	if len(result.EscalationUsers) != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected empty outcome, got users=%d failures=%d", len(result.EscalationUsers), len(result.Failures))
	}
}

func TestDispatch_DeduplicatesUsersAcrossOverlappingRules(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	shared := uuid.New()
	directorOnly := uuid.New()
	cfoOnly := uuid.New()
	directory.membersByRole["finance_director"] = []uuid.UUID{shared, directorOnly}
	directory.membersByRole["cfo"] = []uuid.UUID{shared, cfoOnly}
	repo.rules = []domain.EscalationRule{
		{PoolID: repo.request.PoolID, ThresholdAmount: 100000, ThresholdCurrency: "USD", EscalateToRole: "finance_director", IsActive: true},
		{PoolID: repo.request.PoolID, ThresholdAmount: 500000, ThresholdCurrency: "USD", EscalateToRole: "cfo", IsActive: true},
	}
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), repo.request.ID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(result.EscalationUsers) != 3 {
		t.Fatalf("expected 3 distinct recipients, got %d", len(result.EscalationUsers))
	}
	if len(notifier.notified) != 3 {
		t.Fatalf("expected each distinct recipient notified exactly once, got %d notifications", len(notifier.notified))
	}
}

func TestDispatch_SkipsRulesBelowAmountOrWrongCurrency(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	directory.membersByRole["finance_director"] = []uuid.UUID{uuid.New()}
	directory.membersByRole["cfo"] = []uuid.UUID{uuid.New()}
	repo.rules = []domain.EscalationRule{
		{PoolID: repo.request.PoolID, ThresholdAmount: 700000, ThresholdCurrency: "USD", EscalateToRole: "cfo", IsActive: true},
		{PoolID: repo.request.PoolID, ThresholdAmount: 100000, ThresholdCurrency: "EUR", EscalateToRole: "cfo", IsActive: true},
		{PoolID: repo.request.PoolID, ThresholdAmount: 600000, ThresholdCurrency: "USD", EscalateToRole: "finance_director", IsActive: true},
	}
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), repo.request.ID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(directory.calls) != 1 || directory.calls[0] != "finance_director" {
		t.Fatalf("expected only the matching rule's role to be resolved, got %v", directory.calls)
	}
	if len(result.EscalationUsers) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(result.EscalationUsers))
	}
}

func TestDispatch_CollectsPerUserFailuresWithoutFailingTheRun(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	okUser := uuid.New()
	badUser := uuid.New()
	directory.membersByRole["finance_director"] = []uuid.UUID{okUser, badUser}
	notifier.failFor[badUser] = true
	repo.rules = []domain.EscalationRule{
		{PoolID: repo.request.PoolID, ThresholdAmount: 100000, ThresholdCurrency: "USD", EscalateToRole: "finance_director", IsActive: true},
	}
	d := NewEscalationDispatcher(repo, directory, notifier)

	result, err := d.Dispatch(context.Background(), repo.request.ID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected the run to succeed despite a recipient failure")
	}
	if len(result.EscalationUsers) != 1 || result.EscalationUsers[0] != okUser {
		t.Fatalf("expected only the deliverable recipient in EscalationUsers, got %v", result.EscalationUsers)
	}
	if len(result.Failures) != 1 || result.Failures[0].UserID != badUser {
		t.Fatalf("expected one recorded failure for %s, got %v", badUser, result.Failures)
	}
}

func TestDispatch_DirectoryErrorIsRetryable(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	directory.err = errors.New("directory unavailable")
	repo.rules = []domain.EscalationRule{
		{PoolID: repo.request.PoolID, ThresholdAmount: 100000, ThresholdCurrency: "USD", EscalateToRole: "finance_director", IsActive: true},
	}
	d := NewEscalationDispatcher(repo, directory, notifier)

	_, err := d.Dispatch(context.Background(), repo.request.ID)
	if err == nil {
		t.Fatal("expected an error when role resolution fails")
	}
	if len(notifier.notified) != 0 {
		t.Fatal("did not expect notifications after a role resolution failure")
	}
}

func TestHandleMessage_MalformedPayloadIsAcked(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	d := NewEscalationDispatcher(repo, directory, notifier)

	if !d.HandleMessage([]byte("{not json")) {
		t.Fatal("expected malformed payload to be acked, not requeued")
	}
}

func TestHandleMessage_DispatchErrorRequeues(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	repo.findRequestErr = errors.New("db unavailable")
	d := NewEscalationDispatcher(repo, directory, notifier)

	body, _ := json.Marshal(domain.EscalationJob{RequestID: uuid.New()})
	if d.HandleMessage(body) {
		t.Fatal("expected transient dispatch failure to requeue the message")
	}
}

func TestHandleMessage_DuplicateDeliveryIsAcked(t *testing.T) {
	repo, directory, notifier := escalatedFixture()
	repo.request.IsEscalated = false
	d := NewEscalationDispatcher(repo, directory, notifier)

	body, _ := json.Marshal(domain.EscalationJob{RequestID: repo.request.ID})
	if !d.HandleMessage(body) {
		t.Fatal("expected duplicate delivery for a non-escalated request to be acked")
	}
}
