package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qrpay/qr-gateway/internal/audit"
	"github.com/qrpay/qr-gateway/internal/domain"
	"github.com/qrpay/qr-gateway/internal/metrics"
	"github.com/qrpay/qr-gateway/internal/notifications"
	"github.com/qrpay/qr-gateway/internal/ratelimit"
	"github.com/qrpay/qr-gateway/internal/resolver"
	"github.com/qrpay/qr-gateway/internal/telemetry"
)

type HandlerConfig struct {
	Limiter  *ratelimit.Limiter
	Resolver *resolver.Resolver
	Auditor  audit.Publisher
	Abuse    *notifications.AbuseReporter
	Timeout  time.Duration
	Checkers []HealthChecker
}

type Handler struct {
	limiter  *ratelimit.Limiter
	resolver *resolver.Resolver
	auditor  audit.Publisher
	abuse    *notifications.AbuseReporter
	timeout  time.Duration
	mux      *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	auditor := cfg.Auditor
	if auditor == nil {
		auditor = audit.NopPublisher{}
	}

	h := &Handler{
		limiter:  cfg.Limiter,
		resolver: cfg.Resolver,
		auditor:  auditor,
		abuse:    cfg.Abuse,
		timeout:  timeout,
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /v1/qr", h.handleResolve)
	h.mux.HandleFunc("OPTIONS /v1/qr", h.handlePreflight)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, timeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleResolve is the public resolution endpoint. Admission control runs
// first: a denied client never reaches parameter validation or the
// resolver, and a missing qrId still consumes quota.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)
	setCORSHeaders(w)

	ctx, span := telemetry.StartSpan(ctx, "qr.resolve")
	defer span.End()

	identity := clientIdentity(r)
	telemetry.AddRequestAttributes(span, identity, requestID)

	allowed, remaining, resetAt, err := h.limiter.Allow(ctx, identity)
	if err != nil {
		slog.Error("rate limiter store failure", "error", err, "client", identity, "request_id", requestID)
		telemetry.AddErrorAttribute(span, err)
		h.respond(w, r, identity, "", "error", http.StatusInternalServerError, "Internal Server Error", start)
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.limiter.Limit()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		slog.Warn("rate limit exceeded", "client", identity, "request_id", requestID)
		metrics.RecordRateLimitHit()
		if h.abuse != nil {
			h.abuse.RecordDenied(ctx, identity)
		}
		h.respond(w, r, identity, "", "rate_limited", http.StatusTooManyRequests, "Too Many Requests", start)
		return
	}

	qrID := r.URL.Query().Get("qrId")
	if qrID == "" {
		h.respond(w, r, identity, "", "invalid", http.StatusBadRequest, "Missing or invalid qrId parameter", start)
		return
	}

	rec, err := h.resolver.Resolve(ctx, qrID)
	switch {
	case errors.Is(err, domain.ErrInvalidQRID):
		h.respond(w, r, identity, qrID, "invalid", http.StatusBadRequest, "Missing or invalid qrId parameter", start)
		return
	case errors.Is(err, domain.ErrNotFound):
		h.respond(w, r, identity, qrID, "not_found", http.StatusNotFound, "QR not found", start)
		return
	case errors.Is(err, domain.ErrExpired):
		h.respond(w, r, identity, qrID, "expired", http.StatusBadRequest, "QR has expired", start)
		return
	case err != nil:
		slog.Error("resolution failed", "error", err, "qr_id", qrID, "request_id", requestID)
		telemetry.AddErrorAttribute(span, err)
		h.respond(w, r, identity, qrID, "error", http.StatusInternalServerError, "Internal Server Error", start)
		return
	}

	telemetry.AddResolveAttributes(span, qrID, "found")

	latency := time.Since(start)
	slog.Info("qr resolved",
		"qr_id", qrID,
		"client", identity,
		"request_id", requestID,
		"latency_ms", latency.Milliseconds(),
	)

	metrics.RecordRequest(strconv.Itoa(http.StatusOK), latency.Seconds())
	metrics.RecordResolution("found")
	h.auditor.Publish(audit.ScanEvent{
		ID:      uuid.New().String(),
		QRID:    qrID,
		Client:  identity,
		Outcome: "found",
		At:      time.Now(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(rec.Payload)
}

// respond writes an early-exit plain text response and records the outcome.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, identity, qrID, outcome string, status int, message string, start time.Time) {
	metrics.RecordRequest(strconv.Itoa(status), time.Since(start).Seconds())
	metrics.RecordResolution(outcome)
	h.auditor.Publish(audit.ScanEvent{
		ID:      uuid.New().String(),
		QRID:    qrID,
		Client:  identity,
		Outcome: outcome,
		At:      time.Now(),
	})

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(message))
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
}

// clientIdentity derives the rate-limit key: first entry of
// X-Forwarded-For when present, otherwise the peer address. Best effort
// only; proxies and NATs may share one identity.
func clientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
