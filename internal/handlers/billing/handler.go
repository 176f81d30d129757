// Package billing exposes the billing engine as a JSON HTTP API.
package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain"
	"github.com/kevin07696/subscription-billing/internal/handlers"
	billingsvc "github.com/kevin07696/subscription-billing/internal/services/billing"
)

// UserIDHeader carries the authenticated user id set by the upstream auth layer
const UserIDHeader = "X-User-ID"

// Service is the subset of the billing engine the API needs
type Service interface {
	Purchase(ctx context.Context, req billingsvc.PurchaseRequest) (*billingsvc.PurchaseResult, error)
	Deposit(ctx context.Context, req billingsvc.DepositRequest) (*billingsvc.DepositResult, error)
	Refund(ctx context.Context, req billingsvc.RefundRequest) (*billingsvc.RefundResult, error)
	CancelSubscription(ctx context.Context, req billingsvc.CancelRequest) (*billingsvc.CancelResult, error)
	ToggleAutoRenew(ctx context.Context, req billingsvc.AutoRenewRequest) (*domain.UserSubscription, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*billingsvc.Balance, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, q billingsvc.TransactionQuery) ([]*domain.Transaction, error)
	ListSubscriptions(ctx context.Context, userID uuid.UUID, statuses ...domain.SubscriptionStatus) ([]*domain.UserSubscription, error)
	GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*domain.UserSubscription, error)
	ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error)
	ListActivePromoCodes(ctx context.Context) ([]*domain.PromoCode, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Notification, error)
}

// Handler serves the /api/v1 routes
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a billing API handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the API. Catalog routes are public; everything else needs
// the user id header.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/plans", h.ListPlans)
	r.Get("/promo-codes", h.ListPromoCodes)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.ListSubscriptions)
			r.Post("/", h.Purchase)
			r.Get("/{id}", h.GetSubscription)
			r.Post("/{id}/cancel", h.CancelSubscription)
			r.Post("/{id}/auto-renew", h.ToggleAutoRenew)
		})

		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions/{id}/refund", h.Refund)

		r.Get("/balance", h.GetBalance)
		r.Post("/balance/deposit", h.Deposit)

		r.Get("/notifications", h.ListNotifications)
	})

	return r
}

type userKey struct{}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			handlers.WriteErrorMessage(w, h.logger, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+UserIDHeader+" header")
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			handlers.WriteErrorMessage(w, h.logger, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userKey{}).(uuid.UUID)
	return id
}

// PurchaseRequest is the body of POST /subscriptions
type PurchaseRequest struct {
	PromoCode string `json:"promo_code"`
	PlanID    string `json:"plan_id"`
}

// Purchase handles POST /subscriptions
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var body PurchaseRequest
	if !h.decode(w, r, &body) {
		return
	}
	planID, ok := h.parseID(w, body.PlanID, "plan_id")
	if !ok {
		return
	}

	result, err := h.service.Purchase(r.Context(), billingsvc.PurchaseRequest{
		UserID:    userFrom(r),
		PlanID:    planID,
		PromoCode: body.PromoCode,
	})
	if err != nil {
		writeFailure(h, w, err, result)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusCreated, result)
}

// DepositRequest is the body of POST /balance/deposit
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Deposit handles POST /balance/deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var body DepositRequest
	if !h.decode(w, r, &body) {
		return
	}

	result, err := h.service.Deposit(r.Context(), billingsvc.DepositRequest{
		UserID: userFrom(r),
		Amount: body.Amount,
	})
	if err != nil {
		writeFailure(h, w, err, result)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusCreated, result)
}

// ReasonRequest is the optional body of cancel and refund
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// Refund handles POST /transactions/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	txnID, ok := h.parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var body ReasonRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}

	result, err := h.service.Refund(r.Context(), billingsvc.RefundRequest{
		UserID:        userFrom(r),
		TransactionID: txnID,
		Reason:        body.Reason,
	})
	if err != nil {
		writeFailure(h, w, err, result)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, result)
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := h.parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var body ReasonRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}

	result, err := h.service.CancelSubscription(r.Context(), billingsvc.CancelRequest{
		UserID:         userFrom(r),
		SubscriptionID: subID,
		Reason:         body.Reason,
	})
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, result)
}

// AutoRenewRequest sets auto-renew explicitly; an empty body flips it
type AutoRenewRequest struct {
	AutoRenew *bool `json:"auto_renew"`
}

// ToggleAutoRenew handles POST /subscriptions/{id}/auto-renew
func (h *Handler) ToggleAutoRenew(w http.ResponseWriter, r *http.Request) {
	subID, ok := h.parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var body AutoRenewRequest
	if !h.decodeOptional(w, r, &body) {
		return
	}

	sub, err := h.service.ToggleAutoRenew(r.Context(), billingsvc.AutoRenewRequest{
		UserID:         userFrom(r),
		SubscriptionID: subID,
		Desired:        body.AutoRenew,
	})
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, sub)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	subID, ok := h.parseID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	sub, err := h.service.GetSubscription(r.Context(), userFrom(r), subID)
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, sub)
}

// ListSubscriptions handles GET /subscriptions?status=active,pending_renewal
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.SubscriptionStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.SubscriptionStatus(strings.TrimSpace(s)))
		}
	}
	subs, err := h.service.ListSubscriptions(r.Context(), userFrom(r), statuses...)
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

// ListTransactions handles GET /transactions?type=&status=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := h.parseInt(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := h.parseInt(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	txns, err := h.service.ListTransactions(r.Context(), userFrom(r), billingsvc.TransactionQuery{
		Type:   domain.TransactionType(q.Get("type")),
		Status: domain.TransactionStatus(q.Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{"transactions": txns})
}

// GetBalance handles GET /balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), userFrom(r))
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, balance)
}

// ListNotifications handles GET /notifications?limit=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.parseInt(w, r.URL.Query().Get("limit"), "limit")
	if !ok {
		return
	}
	notifications, err := h.service.ListNotifications(r.Context(), userFrom(r), limit)
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// ListPlans handles GET /plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{"plans": plans})
}

// ListPromoCodes handles GET /promo-codes
func (h *Handler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	promos, err := h.service.ListActivePromoCodes(r.Context())
	if err != nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{"promo_codes": promos})
}

// writeFailure keeps the committed record of a gateway failure in the body
func writeFailure[T any](h *Handler, w http.ResponseWriter, err error, result *T) {
	if result == nil {
		handlers.WriteError(w, h.logger, err)
		return
	}
	handlers.WriteErrorWithResult(w, h.logger, err, result)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		handlers.WriteErrorMessage(w, h.logger, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "invalid request body")
		return false
	}
	return true
}

func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return h.decode(w, r, v)
}

func (h *Handler) parseID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		handlers.WriteError(w, h.logger, domain.NewDomainError(domain.ErrorCodeValidationFailed, "invalid id").
			WithDetail("field", field))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) parseInt(w http.ResponseWriter, raw, field string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		handlers.WriteError(w, h.logger, domain.NewDomainError(domain.ErrorCodeValidationFailed, "invalid query parameter").
			WithDetail("field", field))
		return 0, false
	}
	return n, true
}
