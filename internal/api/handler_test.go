package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/qrpay/qr-gateway/internal/domain"
	"github.com/qrpay/qr-gateway/internal/ratelimit"
	"github.com/qrpay/qr-gateway/internal/resolver"
)

type countingLocator struct {
	mu    sync.Mutex
	inner *resolver.InMemoryLocator
	calls int
}

func (l *countingLocator) FindByQRID(ctx context.Context, qrID string) ([]domain.QRRecord, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.inner.FindByQRID(ctx, qrID)
}

func (l *countingLocator) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, key string) (domain.RateWindow, bool, error) {
	return domain.RateWindow{}, false, errors.New("store down")
}

func (failingStore) Set(ctx context.Context, key string, w domain.RateWindow) error {
	return errors.New("store down")
}

type testEnv struct {
	handler *Handler
	locator *countingLocator
}

func newTestEnv(t *testing.T, limit int, records ...domain.QRRecord) *testEnv {
	t.Helper()

	inner := resolver.NewInMemoryLocator()
	for _, rec := range records {
		inner.Add(rec)
	}
	locator := &countingLocator{inner: inner}

	limiter := ratelimit.NewLimiter(ratelimit.NewInMemoryCounterStore(), ratelimit.Config{
		Limit:  limit,
		Window: time.Minute,
	})

	h := NewHandler(HandlerConfig{
		Limiter:  limiter,
		Resolver: resolver.New(resolver.Config{Locator: locator}),
	})

	return &testEnv{handler: h, locator: locator}
}

func doResolve(h *Handler, qrID, from string) *httptest.ResponseRecorder {
	target := "/v1/qr"
	if qrID != "" {
		target += "?qrId=" + qrID
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = from + ":51234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func validRecord(qrID string) domain.QRRecord {
	return domain.QRRecord{
		QRID:       qrID,
		TenantPath: "tenants/acme/qr_codes",
		Payload:    json.RawMessage(`{"amount":1250,"currency":"BRL","merchant":"acme"}`),
		CreatedAt:  time.Now(),
	}
}

func TestResolve_Found(t *testing.T) {
	env := newTestEnv(t, 10, validRecord("QR123"))

	w := doResolve(env.handler, "QR123", "10.0.0.1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var payload map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if payload["merchant"] != "acme" {
		t.Errorf("payload = %v, want the stored record payload verbatim", payload)
	}
	if _, ok := payload["tenant_path"]; ok {
		t.Error("response must not leak internal record fields")
	}
}

func TestResolve_NotFound(t *testing.T) {
	env := newTestEnv(t, 10)

	w := doResolve(env.handler, "NOPE", "10.0.0.1")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := w.Body.String(); body != "QR not found" {
		t.Errorf("body = %q, want %q", body, "QR not found")
	}
}

func TestResolve_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	rec := validRecord("OLD")
	rec.ExpiresAt = &past
	env := newTestEnv(t, 10, rec)

	w := doResolve(env.handler, "OLD", "10.0.0.1")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := w.Body.String(); body != "QR has expired" {
		t.Errorf("body = %q, want %q", body, "QR has expired")
	}
}

func TestResolve_MissingQRID(t *testing.T) {
	env := newTestEnv(t, 10)

	w := doResolve(env.handler, "", "10.0.0.1")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := w.Body.String(); body != "Missing or invalid qrId parameter" {
		t.Errorf("body = %q", body)
	}
	if env.locator.callCount() != 0 {
		t.Error("missing qrId must not reach the locator")
	}
}

func TestResolve_MissingQRIDStillConsumesQuota(t *testing.T) {
	env := newTestEnv(t, 3, validRecord("QR123"))

	for i := 0; i < 3; i++ {
		doResolve(env.handler, "", "10.0.0.1")
	}

	// Quota is spent even though every request was malformed.
	w := doResolve(env.handler, "QR123", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after quota exhausted by invalid requests", w.Code)
	}
}

func TestResolve_RateLimited(t *testing.T) {
	env := newTestEnv(t, 2, validRecord("QR123"))

	for i := 0; i < 2; i++ {
		if w := doResolve(env.handler, "QR123", "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}

	w := doResolve(env.handler, "QR123", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if body := w.Body.String(); body != "Too Many Requests" {
		t.Errorf("body = %q, want %q", body, "Too Many Requests")
	}
	if env.locator.callCount() != 2 {
		t.Errorf("locator calls = %d, denied request must not resolve", env.locator.callCount())
	}
}

func TestResolve_RateLimitPrecedesValidation(t *testing.T) {
	env := newTestEnv(t, 1)

	doResolve(env.handler, "", "10.0.0.1")

	// Past the limit, a malformed request reports 429, not 400.
	w := doResolve(env.handler, "", "10.0.0.1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 before parameter validation", w.Code)
	}
}

func TestResolve_RateLimitHeaders(t *testing.T) {
	env := newTestEnv(t, 5, validRecord("QR123"))

	w := doResolve(env.handler, "QR123", "10.0.0.1")

	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Error("X-RateLimit-Reset missing")
	}
}

func TestResolve_IdentitiesHaveSeparateQuotas(t *testing.T) {
	env := newTestEnv(t, 1, validRecord("QR123"))

	if w := doResolve(env.handler, "QR123", "10.0.0.1"); w.Code != http.StatusOK {
		t.Fatalf("first client: status = %d", w.Code)
	}
	if w := doResolve(env.handler, "QR123", "10.0.0.1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second request: status = %d, want 429", w.Code)
	}
	if w := doResolve(env.handler, "QR123", "10.0.0.2"); w.Code != http.StatusOK {
		t.Fatalf("second client: status = %d, want 200", w.Code)
	}
}

func TestResolve_ForwardedForIdentity(t *testing.T) {
	env := newTestEnv(t, 1, validRecord("QR123"))

	req := httptest.NewRequest(http.MethodGet, "/v1/qr?qrId=QR123", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.9")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	// Same forwarded client through a different peer shares the quota.
	req = httptest.NewRequest(http.MethodGet, "/v1/qr?qrId=QR123", nil)
	req.RemoteAddr = "10.0.0.8:40000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 keyed on the forwarded address", w.Code)
	}
}

func TestResolve_LimiterStoreFailure(t *testing.T) {
	limiter := ratelimit.NewLimiter(failingStore{}, ratelimit.Config{})
	h := NewHandler(HandlerConfig{
		Limiter:  limiter,
		Resolver: resolver.New(resolver.Config{Locator: resolver.NewInMemoryLocator()}),
	})

	w := doResolve(h, "QR123", "10.0.0.1")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when the counter store is down", w.Code)
	}
	if body := w.Body.String(); body != "Internal Server Error" {
		t.Errorf("body = %q", body)
	}
}

func TestResolve_CORSHeaders(t *testing.T) {
	env := newTestEnv(t, 10, validRecord("QR123"))

	w := doResolve(env.handler, "QR123", "10.0.0.1")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/v1/qr", nil)
	req.RemoteAddr = "10.0.0.1:51234"
	pre := httptest.NewRecorder()
	env.handler.ServeHTTP(pre, req)
	if pre.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", pre.Code)
	}
	if got := pre.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("preflight missing Access-Control-Allow-Methods")
	}
}

func TestResolve_RequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, 10, validRecord("QR123"))

	req := httptest.NewRequest(http.MethodGet, "/v1/qr?qrId=QR123", nil)
	req.RemoteAddr = "10.0.0.1:51234"
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Errorf("X-Request-ID = %q, want echoed", got)
	}

	w2 := doResolve(env.handler, "QR123", "10.0.0.2")
	if w2.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be generated when absent")
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, 10)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestHealthReady_FailingChecker(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewInMemoryCounterStore(), ratelimit.Config{})
	h := NewHandler(HandlerConfig{
		Limiter:  limiter,
		Resolver: resolver.New(resolver.Config{Locator: resolver.NewInMemoryLocator()}),
		Checkers: []HealthChecker{failingChecker{}},
	})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("status = %q", status.Status)
	}
	if status.Checks["broken"].Error == "" {
		t.Error("check error missing from response")
	}
}

type failingChecker struct{}

func (failingChecker) Name() string                    { return "broken" }
func (failingChecker) Check(ctx context.Context) error { return errors.New("dial refused") }

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	if len(body) == 0 {
		t.Error("metrics body is empty")
	}
}

func TestClientIdentity(t *testing.T) {
	cases := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "203.0.113.7", "10.0.0.1:1234", "203.0.113.7"},
		{"forwarded chain picks first", "203.0.113.7, 70.1.2.3", "10.0.0.1:1234", "203.0.113.7"},
		{"forwarded with spaces", "  203.0.113.7 ,70.1.2.3", "10.0.0.1:1234", "203.0.113.7"},
		{"peer address", "", "10.0.0.1:1234", "10.0.0.1"},
		{"peer without port", "", "10.0.0.1", "10.0.0.1"},
		{"nothing", "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/qr", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIdentity(req); got != tc.want {
				t.Errorf("clientIdentity() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_BurstThenRecovery(t *testing.T) {
	env := newTestEnv(t, 10, validRecord("QR123"))

	var ok, denied int
	for i := 0; i < 15; i++ {
		w := doResolve(env.handler, "QR123", "10.0.0.1")
		switch w.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			denied++
		default:
			t.Fatalf("request %d: unexpected status %d", i+1, w.Code)
		}
	}
	if ok != 10 || denied != 5 {
		t.Fatalf("ok = %d, denied = %d, want 10/5", ok, denied)
	}
}

func TestResolve_InterleavedClients(t *testing.T) {
	env := newTestEnv(t, 2, validRecord("QR123"))

	for i := 0; i < 2; i++ {
		for _, client := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
			if w := doResolve(env.handler, "QR123", client); w.Code != http.StatusOK {
				t.Fatalf("%s request %d: status = %d", client, i+1, w.Code)
			}
		}
	}
	for _, client := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if w := doResolve(env.handler, "QR123", client); w.Code != http.StatusTooManyRequests {
			t.Fatalf("%s: status = %d, want 429", client, w.Code)
		}
	}
}

func TestResolve_DistinctQRIDsShareQuota(t *testing.T) {
	records := make([]domain.QRRecord, 4)
	for i := range records {
		records[i] = validRecord(fmt.Sprintf("QR%d", i))
	}
	env := newTestEnv(t, 3, records...)

	for i := 0; i < 3; i++ {
		if w := doResolve(env.handler, fmt.Sprintf("QR%d", i), "10.0.0.1"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}
	if w := doResolve(env.handler, "QR3", "10.0.0.1"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, quota is per client not per code", w.Code)
	}
}
