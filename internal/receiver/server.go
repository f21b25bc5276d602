package receiver

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/config"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/utils"
)

// maxWebhookBodyBytes caps incoming webhook bodies. Stripe events are small;
// anything larger is hostile.
const maxWebhookBodyBytes = 256 * 1024

const defaultDispatchTimeout = 30 * time.Second

// Dispatcher processes a verified webhook payload inline.
type Dispatcher interface {
	ProcessWebhook(ctx context.Context, webhookType string, payload []byte) (model.DispatchOutcome, error)
}

// BatchRunner drains one batch of due retry items.
type BatchRunner interface {
	RunBatch(ctx context.Context) (model.BatchSummary, error)
}

// Server is the HTTP surface: the provider webhook endpoint, the retry batch
// trigger, health checks, and optionally metrics.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	cfg        *config.Config
	dispatcher Dispatcher
	queue      storage.RetryQueueRepo
	runner     BatchRunner
}

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// webhookResponse acknowledges a webhook delivery.
type webhookResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(port string, cfg *config.Config, log *zap.Logger, dispatcher Dispatcher, queue storage.RetryQueueRepo, runner BatchRunner) *Server {
	mux := http.NewServeMux()

	server := &Server{
		httpServer: &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		},
		mux:        mux,
		logger:     log,
		cfg:        cfg,
		dispatcher: dispatcher,
		queue:      queue,
		runner:     runner,
	}

	mux.HandleFunc("/webhooks/stripe", server.handleStripeWebhook)
	mux.HandleFunc("/internal/retries/process", server.handleRetryTrigger)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)

	return server
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.mux.Handle("/metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleStripeWebhook verifies and dispatches one provider delivery. Once
// the signature checks out the provider always gets a 2xx: a payload that
// fails transiently is parked on the retry queue instead of bubbling a 5xx
// back, so the provider never redelivers what we already hold.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := stripe.ConstructEvent(body, r.Header.Get("Stripe-Signature"), s.cfg.Stripe.WebhookSecret)
	if err != nil {
		observer.IncWebhookSignatureFailure()
		s.logger.Warn("Webhook signature verification failed", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	observer.IncWebhooksReceived(string(event.Type))

	requestID := uuid.NewString()
	log := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	log.Debug("Webhook received",
		zap.String("body_size", utils.ByteCountSI(len(body))),
		zap.Time("event_created", utils.UnixToTime(event.Created)))

	timeout := s.cfg.Scheduler.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	ctx = logger.WithRequestID(ctx, requestID)
	ctx = logger.WithLogger(ctx, log)

	outcome, dispatchErr := s.dispatcher.ProcessWebhook(ctx, string(model.WebhookTypeStripe), body)
	if dispatchErr == nil {
		status := "ok"
		if outcome == model.OutcomeSkipped {
			status = "ignored"
		}
		utils.WriteJSONResponse(w, http.StatusOK, webhookResponse{Status: status, EventID: event.ID})
		return
	}

	if apperrors.IsFatal(dispatchErr) {
		// Permanent. Redelivery would fail identically, so acknowledge and
		// leave the details in the log.
		log.Error("Webhook failed permanently, acknowledging", zap.Error(dispatchErr))
		utils.WriteJSONResponse(w, http.StatusOK, webhookResponse{Status: "failed", EventID: event.ID})
		return
	}

	log.Warn("Webhook dispatch failed, enqueueing for retry", zap.Error(dispatchErr))
	if _, qErr := s.queue.Enqueue(ctx, string(model.WebhookTypeStripe), event.ID, body, 0); qErr != nil {
		// Could not park the payload either. Surface a 5xx so the provider
		// redelivers; its retry schedule is the fallback queue.
		log.Error("Failed to enqueue webhook for retry", zap.Error(qErr))
		http.Error(w, "failed to queue event", http.StatusInternalServerError)
		return
	}
	observer.IncWebhooksEnqueued(string(model.WebhookTypeStripe))
	utils.WriteJSONResponse(w, http.StatusOK, webhookResponse{Status: "queued", EventID: event.ID})
}

// handleRetryTrigger runs one retry batch on demand. Meant for an external
// scheduler (a cron hitting this endpoint), guarded by a bearer token.
func (s *Server) handleRetryTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.cfg.Scheduler.AuthToken == "" {
		http.Error(w, "trigger not configured", http.StatusServiceUnavailable)
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Scheduler.AuthToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	requestID := uuid.NewString()
	ctx := logger.WithRequestID(r.Context(), requestID)
	ctx = logger.WithLogger(ctx, s.logger.With(zap.String("request_id", requestID)))

	summary, err := s.runner.RunBatch(ctx)
	if err != nil {
		s.logger.Error("Retry batch trigger failed", zap.Error(err))
		http.Error(w, "batch failed", http.StatusInternalServerError)
		return
	}

	utils.WriteJSONResponse(w, http.StatusOK, summary)
}

// handleHealth handles the /health endpoint for liveness checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "UP",
		Version: "1.0.0",
	}

	utils.WriteJSONResponse(w, http.StatusOK, resp)
}

// handleReady handles the /ready endpoint for readiness checks
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	details := map[string]string{
		"timestamp": utils.FormatISO8601(utils.Now()),
	}

	if _, err := s.queue.CountPending(r.Context()); err != nil {
		details["database"] = "unreachable"
		utils.WriteJSONResponse(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "NOT_READY",
			Details: details,
		})
		return
	}
	details["database"] = "ok"

	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{
		Status:  "READY",
		Details: details,
	})
}
