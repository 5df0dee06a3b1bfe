package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/eduai/schoolledger/internal/observability"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type echoHandler struct{}

func (echoHandler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chi.URLParam(r, "id")))
	})
}

func testRouter(cfg *Config, db Pinger) http.Handler {
	return NewRouter(RouterParams{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:          cfg,
		AccountsHandler: echoHandler{},
		Database:        db,
		Metrics:         observability.NewMetrics(),
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterServesHealthAndAPI(t *testing.T) {
	router := testRouter(&Config{RateLimitPerMin: 100}, nil)

	rec := get(router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = get(router, "/api/v1/accounts/42")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "42", rec.Body.String())

	rec = get(router, "/api/v1/nowhere")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `schoolledger_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterReadiness(t *testing.T) {
	healthy := testRouter(&Config{}, pingFunc(func(ctx context.Context) error { return nil }))
	require.Equal(t, http.StatusOK, get(healthy, "/readyz").Code)

	down := testRouter(&Config{}, pingFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }))
	rec := get(down, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotContains(t, rec.Body.String(), "refused")
}

func TestRouterRateLimits(t *testing.T) {
	router := testRouter(&Config{RateLimitPerMin: 2}, nil)
	require.Equal(t, http.StatusOK, get(router, "/healthz").Code)
	require.Equal(t, http.StatusOK, get(router, "/healthz").Code)
	rec := get(router, "/healthz")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "rate limit exceeded")
}
