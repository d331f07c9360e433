/**
 * @description
 * This file contains the HTTP handlers for the budget-approval-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP response.
 * They act as the bridge between the web layer and the business logic layer.
 *
 * Error mapping (business errors are all typed sentinels):
 * - validation errors            -> 400
 * - wrong actor                  -> 403
 * - missing pool/request         -> 404
 * - invalid transition (lost CAS)-> 409 "already acted on"
 * - contended pool row           -> 409 retryable
 * - insufficient budget          -> 402 retryable
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/adlane/budget-approval-service/internal/app"
	"github.com/adlane/budget-approval-service/internal/domain"
	"github.com/adlane/budget-approval-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// BudgetHandlers holds the application service that handlers will use.
type BudgetHandlers struct {
	service *app.Service
}

// NewBudgetHandlers creates a new instance of BudgetHandlers.
func NewBudgetHandlers(service *app.Service) *BudgetHandlers {
	return &BudgetHandlers{service: service}
}

// requestResponse is sent back to the client after any lifecycle operation.
type requestResponse struct {
	RequestID       string  `json:"request_id"`
	PoolID          string  `json:"pool_id"`
	Status          string  `json:"status"`
	Amount          int64   `json:"amount"`
	Currency        string  `json:"currency"`
	CurrentApprover *string `json:"current_approver,omitempty"`
	IsEscalated     bool    `json:"is_escalated"`
	Message         string  `json:"message"`
}

type requestDetailResponse struct {
	requestResponse
	Decisions []domain.ApprovalDecision `json:"decisions"`
}

type poolResponse struct {
	PoolID          string `json:"pool_id"`
	Name            string `json:"name"`
	AdChannel       string `json:"ad_channel"`
	Currency        string `json:"currency"`
	TotalAmount     int64  `json:"total_amount"`
	UsedAmount      int64  `json:"used_amount"`
	AvailableAmount int64  `json:"available_amount"`
}

func buildRequestResponse(req *domain.BudgetRequest, message string) requestResponse {
	resp := requestResponse{
		RequestID:   req.ID.String(),
		PoolID:      req.PoolID.String(),
		Status:      string(req.Status),
		Amount:      req.Amount,
		Currency:    req.Currency,
		IsEscalated: req.IsEscalated,
		Message:     message,
	}
	if req.CurrentApprover != nil {
		approver := req.CurrentApprover.String()
		resp.CurrentApprover = &approver
	}
	return resp
}

func (h *BudgetHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *BudgetHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// authenticatedUserID resolves the caller's UUID from the validated JWT subject.
func (h *BudgetHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

func requestIDFromURL(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "requestID"))
}

// writeBusinessError maps the service's typed errors onto HTTP statuses.
func (h *BudgetHandlers) writeBusinessError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidCurrency),
		errors.Is(err, app.ErrCurrencyMismatch),
		errors.Is(err, app.ErrMissingApprover),
		errors.Is(err, app.ErrSelfApproval):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, store.ErrNotCurrentApprover):
		h.writeError(w, http.StatusForbidden, "You are not the current approver for this request")
	case errors.Is(err, store.ErrRequestNotFound), errors.Is(err, store.ErrPoolNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "This request was already acted on")
	case errors.Is(err, store.ErrPoolBusy):
		h.writeError(w, http.StatusConflict, "The budget pool is busy; please try again")
	case errors.Is(err, store.ErrInsufficientBudget):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient available budget in pool")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// CreateDraftHandler handles requests to create a new budget request draft.
func (h *BudgetHandlers) CreateDraftHandler(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req domain.CreateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_draft outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	created, err := h.service.CreateDraft(r.Context(), requesterID, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_draft outcome=failed requester_id=%s err=%v", requesterID, err)
		h.writeBusinessError(w, "create_draft", err)
		return
	}

	log.Printf("level=info component=api endpoint=create_draft outcome=accepted requester_id=%s request_id=%s amount=%d", requesterID, created.ID, created.Amount)
	h.writeJSON(w, http.StatusCreated, buildRequestResponse(created, "Draft created"))
}

// SubmitHandler handles requests to submit a draft to an approver.
func (h *BudgetHandlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	requestID, err := requestIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	submitted, err := h.service.Submit(r.Context(), requestID, requesterID, req.ApproverID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit outcome=failed request_id=%s err=%v", requestID, err)
		h.writeBusinessError(w, "submit", err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildRequestResponse(submitted, "Request submitted"))
}

// StartReviewHandler handles requests to move a submitted request into review.
func (h *BudgetHandlers) StartReviewHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedUserID(w, r); !ok {
		return
	}
	requestID, err := requestIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	reviewed, err := h.service.StartReview(r.Context(), requestID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=start_review outcome=failed request_id=%s err=%v", requestID, err)
		h.writeBusinessError(w, "start_review", err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildRequestResponse(reviewed, "Review started"))
}

// DecideHandler handles approve/reject/forward decisions on a request.
func (h *BudgetHandlers) DecideHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	requestID, err := requestIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	var decision domain.DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	decided, err := h.service.Decide(r.Context(), requestID, actorID, decision)
	if err != nil {
		log.Printf("level=warn component=api endpoint=decide outcome=failed request_id=%s actor_id=%s err=%v", requestID, actorID, err)
		h.writeBusinessError(w, "decide", err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildRequestResponse(decided, "Decision recorded"))
}

// LockHandler handles requests to lock an approved request's funds.
func (h *BudgetHandlers) LockHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	requestID, err := requestIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	locked, err := h.service.Lock(r.Context(), requestID, actorID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=lock outcome=failed request_id=%s err=%v", requestID, err)
		h.writeBusinessError(w, "lock", err)
		return
	}

	h.writeJSON(w, http.StatusOK, buildRequestResponse(locked, "Funds locked against pool"))
}

// GetRequestHandler returns one request with its decision audit trail.
func (h *BudgetHandlers) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedUserID(w, r); !ok {
		return
	}
	requestID, err := requestIDFromURL(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request ID")
		return
	}

	req, decisions, err := h.service.GetRequest(r.Context(), requestID)
	if err != nil {
		h.writeBusinessError(w, "get_request", err)
		return
	}

	h.writeJSON(w, http.StatusOK, requestDetailResponse{
		requestResponse: buildRequestResponse(req, ""),
		Decisions:       decisions,
	})
}

func listOptionsFromQuery(r *http.Request) domain.RequestListOptions {
	opts := domain.RequestListOptions{Status: r.URL.Query().Get("status")}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.Limit = limit
	}
	if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		opts.Offset = offset
	}
	return opts
}

// ListMyRequestsHandler returns the caller's own requests.
func (h *BudgetHandlers) ListMyRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListMyRequests(r.Context(), requesterID, listOptionsFromQuery(r))
	if err != nil {
		h.writeBusinessError(w, "list_my_requests", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// ListAssignedRequestsHandler returns requests waiting on the caller's decision.
func (h *BudgetHandlers) ListAssignedRequestsHandler(w http.ResponseWriter, r *http.Request) {
	approverID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	requests, err := h.service.ListAssignedRequests(r.Context(), approverID, listOptionsFromQuery(r))
	if err != nil {
		h.writeBusinessError(w, "list_assigned_requests", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// GetPoolHandler returns a budget pool with its live totals.
func (h *BudgetHandlers) GetPoolHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticatedUserID(w, r); !ok {
		return
	}
	poolID, err := uuid.Parse(chi.URLParam(r, "poolID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID")
		return
	}

	pool, err := h.service.GetPool(r.Context(), poolID)
	if err != nil {
		h.writeBusinessError(w, "get_pool", err)
		return
	}

	h.writeJSON(w, http.StatusOK, poolResponse{
		PoolID:          pool.ID.String(),
		Name:            pool.Name,
		AdChannel:       pool.AdChannel,
		Currency:        pool.Currency,
		TotalAmount:     pool.TotalAmount,
		UsedAmount:      pool.UsedAmount,
		AvailableAmount: pool.AvailableAmount(),
	})
}
