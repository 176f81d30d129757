// Package cron exposes the billing sweeps to an external scheduler.
package cron

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-billing/internal/domain/ports"
	"github.com/kevin07696/subscription-billing/internal/handlers"
	"github.com/kevin07696/subscription-billing/internal/services/billing"
	"github.com/kevin07696/subscription-billing/pkg/resilience"
	"github.com/kevin07696/subscription-billing/pkg/shutdown"
	"github.com/kevin07696/subscription-billing/pkg/timeutil"
)

// Sweeper runs the periodic billing sweeps
type Sweeper interface {
	RenewalSweep(ctx context.Context, now time.Time) (*billing.SweepResult, error)
	RetrySweep(ctx context.Context, now time.Time) (*billing.SweepResult, error)
	ExpireSweep(ctx context.Context, now time.Time) (*billing.SweepResult, error)
	ExpiringNoticeSweep(ctx context.Context, now time.Time) (*billing.SweepResult, error)
}

type sweepFunc func(ctx context.Context, now time.Time) (*billing.SweepResult, error)

// BillingHandler handles the sweep trigger endpoints
type BillingHandler struct {
	sweeper    Sweeper
	locker     ports.Locker
	inflight   *shutdown.InFlightTracker
	logger     *zap.Logger
	now        timeutil.Clock
	cronSecret string
	leaseTTL   time.Duration
	timeouts   resilience.TimeoutConfig
}

// NewBillingHandler creates a sweep trigger handler. locker may be nil, in
// which case overlapping invocations are not rejected.
func NewBillingHandler(sweeper Sweeper, locker ports.Locker, cronSecret string, leaseTTL time.Duration, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		sweeper:    sweeper,
		locker:     locker,
		logger:     logger,
		now:        timeutil.Now,
		cronSecret: cronSecret,
		leaseTTL:   leaseTTL,
		timeouts:   resilience.DefaultTimeoutConfig(),
	}
}

// TrackInFlight makes shutdown wait for running sweeps. New triggers are
// refused with 503 once shutdown starts.
func (h *BillingHandler) TrackInFlight(t *shutdown.InFlightTracker) {
	h.inflight = t
}

// SweepRequest is the optional body of a sweep trigger
type SweepRequest struct {
	// AsOf overrides the sweep clock (RFC 3339), for backfills
	AsOf *string `json:"as_of"`
}

// Routes mounts the sweep endpoints
func (h *BillingHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/renewals", h.handle(billing.SweepRenewal, h.sweeper.RenewalSweep))
		r.Post("/retries", h.handle(billing.SweepRetry, h.sweeper.RetrySweep))
		r.Post("/expirations", h.handle(billing.SweepExpire, h.sweeper.ExpireSweep))
		r.Post("/expiring-notices", h.handle(billing.SweepExpiringNotice, h.sweeper.ExpiringNoticeSweep))
	})
	return r
}

func (h *BillingHandler) handle(name string, run sweepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.logger.Info("Sweep triggered",
			zap.String("sweep", name),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		now := h.now()
		var req SweepRequest
		if r.Body != nil && r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				handlers.WriteErrorMessage(w, h.logger, http.StatusBadRequest, "VALIDATION_FAILED", "invalid request body")
				return
			}
		}
		if req.AsOf != nil {
			parsed, err := timeutil.ParseRFC3339(*req.AsOf)
			if err != nil {
				handlers.WriteErrorMessage(w, h.logger, http.StatusBadRequest, "VALIDATION_FAILED", "as_of must be RFC 3339")
				return
			}
			now = parsed
		}

		if h.inflight != nil {
			if !h.inflight.Add() {
				handlers.WriteErrorMessage(w, h.logger, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is shutting down")
				return
			}
			defer h.inflight.Done()
		}

		release, ok := h.acquire(r.Context(), name)
		if !ok {
			h.logger.Warn("Sweep already running", zap.String("sweep", name))
			handlers.WriteErrorMessage(w, h.logger, http.StatusConflict, "SWEEP_IN_PROGRESS", name+" sweep is already running")
			return
		}
		defer release()

		// the sweep outlives a scheduler that hangs up
		sweepCtx, cancel := h.timeouts.SweepContext(r.Context())
		defer cancel()
		result, err := run(sweepCtx, now)
		if err != nil {
			h.logger.Error("Sweep failed", zap.String("sweep", name), zap.Error(err))
			handlers.WriteError(w, h.logger, err)
			return
		}

		h.logger.Info("Sweep completed",
			zap.String("sweep", name),
			zap.Int("checked", result.Checked),
			zap.Int("renewed", result.Renewed),
			zap.Int("failed", result.Failed),
			zap.Int("expired", result.Expired),
			zap.Int("errors", result.Errors),
		)

		status := http.StatusOK
		if result.HasErrors() {
			// partial success
			status = http.StatusPartialContent
		}
		handlers.WriteJSON(w, h.logger, status, result)
	}
}

// acquire takes the sweep lease. A lease store outage does not block the
// sweep; row locks keep concurrent runs safe.
func (h *BillingHandler) acquire(ctx context.Context, name string) (func(), bool) {
	noop := func() {}
	if h.locker == nil {
		return noop, true
	}

	release, acquired, err := h.locker.TryAcquire(ctx, "sweep:"+name, h.leaseTTL)
	if err != nil {
		h.logger.Warn("Sweep lease unavailable, running without it", zap.String("sweep", name), zap.Error(err))
		return noop, true
	}
	if !acquired {
		return nil, false
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("Failed to release sweep lease", zap.String("sweep", name), zap.Error(err))
		}
	}, true
}

// authenticate accepts the shared secret in X-Cron-Secret or as a bearer token
func (h *BillingHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
			handlers.WriteErrorMessage(w, h.logger, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *BillingHandler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secret := r.Header.Get("X-Cron-Secret"); secret != "" {
		return secretEqual(secret, h.cronSecret)
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return secretEqual(token, h.cronSecret)
	}
	return false
}

func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HealthCheck handles GET /cron/health
func (h *BillingHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}
