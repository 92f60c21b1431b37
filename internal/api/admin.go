package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/qrpay/qr-gateway/internal/auth"
	"github.com/qrpay/qr-gateway/internal/ratelimit"
)

// AdminHandler exposes rate-limit inspection and reset for operators.
// Unlike the public resolve endpoint it sits behind basic auth.
type AdminHandler struct {
	limiter *ratelimit.Limiter
	mux     *http.ServeMux
}

type rateLimitUsageResponse struct {
	Identity    string    `json:"identity"`
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start,omitempty"`
	Active      bool      `json:"active"`
}

func NewAdminHandler(limiter *ratelimit.Limiter, mw *auth.Middleware) *AdminHandler {
	h := &AdminHandler{
		limiter: limiter,
		mux:     http.NewServeMux(),
	}

	read := mw.RequirePermission(auth.PermissionRateLimitRead)
	reset := mw.RequirePermission(auth.PermissionRateLimitReset)

	h.mux.Handle("GET /admin/ratelimits/{identity}",
		mw.RequireAuth(read(http.HandlerFunc(h.handleGetUsage))))
	h.mux.Handle("DELETE /admin/ratelimits/{identity}",
		mw.RequireAuth(reset(http.HandlerFunc(h.handleReset))))

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	window, active, err := h.limiter.Usage(r.Context(), identity)
	if err != nil {
		slog.Error("failed to read rate limit usage", "identity", identity, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := rateLimitUsageResponse{
		Identity: identity,
		Limit:    h.limiter.Limit(),
		Active:   active,
	}
	if active {
		resp.Count = window.Count
		resp.WindowStart = window.WindowStart
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *AdminHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	identity := r.PathValue("identity")
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	if err := h.limiter.Reset(r.Context(), identity); err != nil {
		slog.Error("failed to reset rate limit", "identity", identity, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	user, _ := auth.UserFromContext(r.Context())
	username := ""
	if user != nil {
		username = user.Username
	}
	slog.Info("rate limit reset", "identity", identity, "by", username)

	w.WriteHeader(http.StatusNoContent)
}
