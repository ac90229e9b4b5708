package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"timetrack/internal/config"
	"timetrack/internal/metrics"
	"timetrack/internal/model"
	"timetrack/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-test-secret-router-test-secret"

type stubBilling struct{ service.BillingService }

func (stubBilling) GetSubscription(ctx context.Context, userID string) (*model.Subscription, error) {
	return &model.Subscription{OwnerID: userID, Status: model.StatusActive, SubscriptionType: model.TypeMonthly}, nil
}

type stubWebhooks struct{ called bool }

func (s *stubWebhooks) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	s.called = true
	return nil
}

type idleListener struct{}

func (idleListener) Listen(ctx context.Context, userID string, onChange func()) error {
	<-ctx.Done()
	return nil
}

func newTestRouter(ready func(*http.Request) error) (http.Handler, *stubWebhooks) {
	wh := &stubWebhooks{}
	cfg := &config.Config{JWTSecret: secret, Environment: "development"}
	return New(cfg, Dependencies{
		Billing:  stubBilling{},
		Webhooks: wh,
		Changes:  idleListener{},
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Ready:    ready,
	}, zerolog.Nop()), wh
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	h, _ := newTestRouter(nil)
	for _, path := range []string{"/v1/subscriptions/me", "/v1/subscriptions/me/events"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
	}
}

func TestAuthenticatedRequest(t *testing.T) {
	h, _ := newTestRouter(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/me", nil)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"owner_id":"user-1"`)
}

func TestWebhookSkipsBearerAuth(t *testing.T) {
	h, wh := newTestRouter(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, wh.called)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "timetrack_http_request_duration_seconds")

	unhealthy, _ := newTestRouter(func(*http.Request) error { return errors.New("db down") })
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLegacyAPIPrefixRedirects(t *testing.T) {
	h, _ := newTestRouter(nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subscriptions/me", nil))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/v1/subscriptions/me", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/subscriptions/cancel", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/v1/subscriptions/cancel", rec.Header().Get("Location"))
}
