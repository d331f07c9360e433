/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL for budget pools, budget requests, the decision audit
 * trail, and escalation rules.
 *
 * Concurrency notes:
 * - Pool rows are taken with `SELECT ... FOR UPDATE NOWAIT`. Postgres raises
 *   SQLSTATE 55P03 when the row is already locked, which maps to ErrPoolBusy.
 *   The caller gets an immediate failure instead of queueing behind the lock.
 * - Request transitions lock the request row with `SELECT ... FOR UPDATE` and
 *   verify the expected source status before writing, so two racing decisions
 *   resolve to exactly one winner.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrPoolNotFound       = errors.New("budget pool not found")
	ErrRequestNotFound    = errors.New("budget request not found")
	ErrInvalidTransition  = errors.New("request is not in the expected status for this transition")
	ErrNotCurrentApprover = errors.New("actor is not the current approver for this request")
	ErrInsufficientBudget = errors.New("insufficient available budget in pool")
	ErrPoolBusy           = errors.New("budget pool row is locked by another operation")
)

// pgLockNotAvailable is the SQLSTATE Postgres returns for FOR UPDATE NOWAIT
// contention.
const pgLockNotAvailable = "55P03"

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `
	id, pool_id, requested_by, current_approver, amount, currency, status,
	ad_channel, is_escalated, COALESCE(notes, '') AS notes, created_at, updated_at
`

func scanRequest(row pgx.Row) (*domain.BudgetRequest, error) {
	var req domain.BudgetRequest
	err := row.Scan(
		&req.ID,
		&req.PoolID,
		&req.RequestedBy,
		&req.CurrentApprover,
		&req.Amount,
		&req.Currency,
		&req.Status,
		&req.AdChannel,
		&req.IsEscalated,
		&req.Notes,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// FindPoolByID retrieves a budget pool by its ID.
func (r *PostgresRepository) FindPoolByID(ctx context.Context, poolID uuid.UUID) (*domain.BudgetPool, error) {
	var pool domain.BudgetPool
	query := `
		SELECT id, org_id, name, ad_channel, currency, total_amount, used_amount, created_at, updated_at
		FROM budget_pools
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, poolID).Scan(
		&pool.ID, &pool.OrgID, &pool.Name, &pool.AdChannel, &pool.Currency,
		&pool.TotalAmount, &pool.UsedAmount, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// CreateRequest inserts a new budget request record in draft status.
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *domain.BudgetRequest) error {
	query := `
		INSERT INTO budget_requests (
			id, pool_id, requested_by, current_approver, amount, currency,
			status, ad_channel, is_escalated, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		req.ID,
		req.PoolID,
		req.RequestedBy,
		req.CurrentApprover,
		req.Amount,
		req.Currency,
		req.Status,
		req.AdChannel,
		req.IsEscalated,
		req.Notes,
	)
	return err
}

// FindRequestByID retrieves a budget request by its ID.
func (r *PostgresRepository) FindRequestByID(ctx context.Context, requestID uuid.UUID) (*domain.BudgetRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM budget_requests WHERE id = $1`
	req, err := scanRequest(r.db.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return req, nil
}

// lockRequestRow loads a request inside an open transaction with FOR UPDATE and
// verifies it is in the expected source status.
func lockRequestRow(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, expected domain.RequestStatus) (*domain.BudgetRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM budget_requests WHERE id = $1 FOR UPDATE`
	req, err := scanRequest(tx.QueryRow(ctx, query, requestID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if req.Status != expected {
		return nil, ErrInvalidTransition
	}
	return req, nil
}

// lockPoolRowNowait takes the pool row with a non-blocking exclusive lock and
// returns the live totals. Contention maps to ErrPoolBusy, never a wait.
func lockPoolRowNowait(ctx context.Context, tx pgx.Tx, poolID uuid.UUID) (*domain.BudgetPool, error) {
	var pool domain.BudgetPool
	query := `
		SELECT id, org_id, name, ad_channel, currency, total_amount, used_amount, created_at, updated_at
		FROM budget_pools
		WHERE id = $1
		FOR UPDATE NOWAIT
	`
	err := tx.QueryRow(ctx, query, poolID).Scan(
		&pool.ID, &pool.OrgID, &pool.Name, &pool.AdChannel, &pool.Currency,
		&pool.TotalAmount, &pool.UsedAmount, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPoolNotFound
		}
		if isLockNotAvailable(err) {
			return nil, ErrPoolBusy
		}
		return nil, err
	}
	return &pool, nil
}

func appendDecision(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, actorID uuid.UUID, action domain.DecisionAction, nextApprover *uuid.UUID, comment string) error {
	query := `
		INSERT INTO approval_decisions (id, request_id, actor_id, action, next_approver, comment)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, query, uuid.New(), requestID, actorID, action, nextApprover, comment)
	return err
}

// SubmitRequest transitions a draft request to submitted and assigns the
// current approver.
func (r *PostgresRepository) SubmitRequest(ctx context.Context, requestID uuid.UUID, approverID uuid.UUID) (*domain.BudgetRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := lockRequestRow(ctx, tx, requestID, domain.StatusDraft)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE budget_requests
		SET status = $2, current_approver = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, requestID, domain.StatusSubmitted, approverID); err != nil {
		return nil, err
	}
	if err := appendDecision(ctx, tx, requestID, req.RequestedBy, domain.ActionSubmit, &approverID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = domain.StatusSubmitted
	req.CurrentApprover = &approverID
	return req, nil
}

// StartRequestReview transitions a submitted request into review after
// validating pool sufficiency under a NOWAIT lock. used_amount is not
// mutated here; consumption is deferred to LockRequest because the amount
// approved may differ from the amount at submission and not every in-flight
// request is guaranteed to land.
func (r *PostgresRepository) StartRequestReview(ctx context.Context, requestID uuid.UUID, escalated bool) (*domain.BudgetRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := lockRequestRow(ctx, tx, requestID, domain.StatusSubmitted)
	if err != nil {
		return nil, err
	}

	pool, err := lockPoolRowNowait(ctx, tx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if req.Amount > pool.AvailableAmount() {
		return nil, ErrInsufficientBudget
	}

	query := `
		UPDATE budget_requests
		SET status = $2, is_escalated = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, requestID, domain.StatusUnderReview, escalated); err != nil {
		return nil, err
	}
	actor := req.RequestedBy
	if req.CurrentApprover != nil {
		actor = *req.CurrentApprover
	}
	if err := appendDecision(ctx, tx, requestID, actor, domain.ActionReview, nil, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = domain.StatusUnderReview
	req.IsEscalated = escalated
	return req, nil
}

// decisionOutcome resolves the target status, audit action, resulting current
// approver, and the next approver recorded on the audit row. Only a forward
// records a next approver in the audit trail; a stray next_approver sent with
// a rejection is ignored so the trail cannot imply a forward that never
// happened.
func decisionOutcome(currentApprover *uuid.UUID, approve bool, nextApprover *uuid.UUID) (domain.RequestStatus, domain.DecisionAction, *uuid.UUID, *uuid.UUID) {
	if !approve {
		return domain.StatusRejected, domain.ActionReject, currentApprover, nil
	}
	if nextApprover != nil {
		// Forwarding: the request re-enters review with a new approver.
		return domain.StatusUnderReview, domain.ActionForward, nextApprover, nextApprover
	}
	return domain.StatusApproved, domain.ActionApprove, currentApprover, nil
}

// DecideRequest applies an approve, reject, or forward decision to a request
// under review. The status check and write happen under the same row lock, so
// a concurrent second decision observes ErrInvalidTransition.
func (r *PostgresRepository) DecideRequest(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID, approve bool, nextApprover *uuid.UUID, comment string) (*domain.BudgetRequest, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	req, err := lockRequestRow(ctx, tx, requestID, domain.StatusUnderReview)
	if err != nil {
		return nil, err
	}
	if req.CurrentApprover == nil || *req.CurrentApprover != actorID {
		return nil, ErrNotCurrentApprover
	}

	newStatus, action, newApprover, auditedApprover := decisionOutcome(req.CurrentApprover, approve, nextApprover)

	query := `
		UPDATE budget_requests
		SET status = $2, current_approver = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, requestID, newStatus, newApprover); err != nil {
		return nil, err
	}
	if err := appendDecision(ctx, tx, requestID, actorID, action, auditedApprover, comment); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	req.Status = newStatus
	req.CurrentApprover = newApprover
	return req, nil
}

// LockRequest commits an approved request against its pool. Sufficiency is
// re-validated against the live pool row because other requests may have
// consumed the pool since review started; the used_amount increment and the
// status flip to locked commit in the same transaction.
func (r *PostgresRepository) LockRequest(ctx context.Context, requestID uuid.UUID, actorID uuid.UUID) (*domain.BudgetRequest, *domain.BudgetPool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	req, err := lockRequestRow(ctx, tx, requestID, domain.StatusApproved)
	if err != nil {
		return nil, nil, err
	}

	pool, err := lockPoolRowNowait(ctx, tx, req.PoolID)
	if err != nil {
		return nil, nil, err
	}
	if req.Amount > pool.AvailableAmount() {
		return nil, nil, ErrInsufficientBudget
	}

	poolQuery := `
		UPDATE budget_pools
		SET used_amount = used_amount + $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, poolQuery, pool.ID, req.Amount); err != nil {
		return nil, nil, err
	}

	requestQuery := `
		UPDATE budget_requests
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, requestQuery, requestID, domain.StatusLocked); err != nil {
		return nil, nil, err
	}
	if err := appendDecision(ctx, tx, requestID, actorID, domain.ActionLock, nil, ""); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	req.Status = domain.StatusLocked
	pool.UsedAmount += req.Amount
	return req, pool, nil
}

func clampListOptions(opts domain.RequestListOptions) (int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// collectRequests drains a request result set. rows.Err() is checked after the
// loop because pgx reports a connection dropped mid-result-set there, not from
// Next(); without the check a truncated read would look like a short page.
func collectRequests(rows pgx.Rows, capacity int) ([]domain.BudgetRequest, error) {
	defer rows.Close()

	requests := make([]domain.BudgetRequest, 0, capacity)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *PostgresRepository) listRequests(ctx context.Context, column string, subjectID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error) {
	limit, offset := clampListOptions(opts)

	query := `SELECT ` + requestColumns + ` FROM budget_requests WHERE ` + column + ` = $1`
	args := []interface{}{subjectID}
	if opts.Status != "" {
		query += ` AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, opts.Status, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows, limit)
}

// ListRequestsByRequester retrieves requests created by a specific user.
func (r *PostgresRepository) ListRequestsByRequester(ctx context.Context, requesterID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error) {
	return r.listRequests(ctx, "requested_by", requesterID, opts)
}

// ListRequestsByApprover retrieves requests currently assigned to an approver.
func (r *PostgresRepository) ListRequestsByApprover(ctx context.Context, approverID uuid.UUID, opts domain.RequestListOptions) ([]domain.BudgetRequest, error) {
	return r.listRequests(ctx, "current_approver", approverID, opts)
}

// ListDecisionsByRequestID retrieves the append-only decision trail for a request.
func (r *PostgresRepository) ListDecisionsByRequestID(ctx context.Context, requestID uuid.UUID) ([]domain.ApprovalDecision, error) {
	query := `
		SELECT id, request_id, actor_id, action, next_approver, COALESCE(comment, '') AS comment, created_at
		FROM approval_decisions
		WHERE request_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	return collectDecisions(rows)
}

func collectDecisions(rows pgx.Rows) ([]domain.ApprovalDecision, error) {
	defer rows.Close()

	var decisions []domain.ApprovalDecision
	for rows.Next() {
		var d domain.ApprovalDecision
		err := rows.Scan(&d.ID, &d.RequestID, &d.ActorID, &d.Action, &d.NextApprover, &d.Comment, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// FindActiveEscalationRules retrieves the active escalation rules for a pool.
func (r *PostgresRepository) FindActiveEscalationRules(ctx context.Context, poolID uuid.UUID) ([]domain.EscalationRule, error) {
	query := `
		SELECT id, pool_id, threshold_amount, threshold_currency, escalate_to_role, is_active, created_at
		FROM budget_escalation_rules
		WHERE pool_id = $1 AND is_active = true
		ORDER BY threshold_amount ASC
	`
	rows, err := r.db.Query(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	return collectRules(rows)
}

// collectRules must never return a partial rule set as success: escalation is
// evaluated over whatever comes back, so a truncated read could leave a
// threshold-crossing request unescalated.
func collectRules(rows pgx.Rows) ([]domain.EscalationRule, error) {
	defer rows.Close()

	var rules []domain.EscalationRule
	for rows.Next() {
		var rule domain.EscalationRule
		err := rows.Scan(
			&rule.ID, &rule.PoolID, &rule.ThresholdAmount, &rule.ThresholdCurrency,
			&rule.EscalateToRole, &rule.IsActive, &rule.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
