package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"timetrack/internal/api/v1/dto"
	"timetrack/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeAPI serves the subset of the billing API subctl calls.
type fakeAPI struct {
	mu        sync.Mutex
	sub       *model.Subscription
	meCalls   atomic.Int32
	connected chan struct{}
	changed   chan struct{}
}

func newFakeAPI(sub *model.Subscription) *fakeAPI {
	return &fakeAPI{sub: sub, connected: make(chan struct{}, 1), changed: make(chan struct{}, 1)}
}

func (f *fakeAPI) setStatus(status model.SubscriptionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sub.Status = status
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	sub := f.sub
	if sub != nil {
		cp := *sub
		sub = &cp
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/subscriptions/me":
		f.meCalls.Add(1)
		if sub == nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "subscription not found", Code: "not_found"})
			return
		}
		json.NewEncoder(w).Encode(dto.SubscriptionResponse{Subscription: sub})
	case "/v1/subscriptions/checkout":
		var req dto.CheckoutRequest
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"url":"https://checkout.stripe.com/c/pay/%s"}`, req.PriceID)
	case "/v1/subscriptions/cancel":
		f.setStatus(model.StatusCanceled)
		json.NewEncoder(w).Encode(dto.CancelResponse{Success: true, Status: model.StatusCanceled})
	case "/v1/subscriptions/change-plan":
		fmt.Fprint(w, `{"url":"https://checkout.stripe.com/c/pay/upgrade"}`)
	case "/v1/billing/history":
		fmt.Fprint(w, `{"invoices":[{"id":"in_1","number":"TT-0001","status":"paid","amount_paid":1299,"currency":"usd","created":"2026-02-01T00:00:00Z"}]}`)
	case "/v1/billing/invoice-pdf":
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"subscription not found","code":"not_found"}`)
	case "/v1/subscriptions/me/events":
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		w.(http.Flusher).Flush()
		f.connected <- struct{}{}
		for {
			select {
			case <-r.Context().Done():
				return
			case <-f.changed:
				fmt.Fprint(w, "event: subscription.changed\ndata: {\"owner_id\":\"user-1\"}\n\n")
				w.(http.Flusher).Flush()
			}
		}
	default:
		http.NotFound(w, r)
	}
}

func monthlySub() *model.Subscription {
	start := time.Now().UTC().AddDate(0, 0, -10)
	end := time.Now().UTC().AddDate(0, 0, 20)
	return &model.Subscription{
		ID:                 "row-1",
		OwnerID:            "user-1",
		Status:             model.StatusActive,
		SubscriptionType:   model.TypeMonthly,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		PriceID:            "price_monthly",
	}
}

type harness struct {
	t        *testing.T
	api      *fakeAPI
	url      string
	cacheDir string
	token    string
}

func newHarness(t *testing.T, sub *model.Subscription) *harness {
	t.Helper()
	for _, k := range []string{"SUBCTL_API_URL", "SUBCTL_TOKEN", "SUBCTL_CACHE_DIR", "SUBCTL_REDIS_ADDR", "SUBCTL_JSON", "SUBCTL_VERBOSE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	api := newFakeAPI(sub)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	return &harness{t: t, api: api, url: srv.URL, cacheDir: t.TempDir(), token: token}
}

func (h *harness) run(ctx context.Context, out io.Writer, args ...string) error {
	cmd := NewRootCommand(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--api-url", h.url, "--token", h.token, "--cache-dir", h.cacheDir}, args...))
	return cmd.ExecuteContext(ctx)
}

func (h *harness) output(args ...string) string {
	h.t.Helper()
	var out syncBuffer
	require.NoError(h.t, h.run(context.Background(), &out, args...))
	return out.String()
}

func TestStatusUsesFileCacheAcrossInvocations(t *testing.T) {
	h := newHarness(t, monthlySub())

	first := h.output("status")
	assert.Contains(t, first, "Plan:   Monthly")
	assert.Contains(t, first, "Status: active")
	assert.Contains(t, first, "(in 20 days)")
	assert.Contains(t, first, "Access: premium")

	second := h.output("status")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), h.api.meCalls.Load())

	h.output("refresh")
	assert.Equal(t, int32(2), h.api.meCalls.Load())
}

func TestStatusWithoutSubscription(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, "No subscription.\n", h.output("status"))
}

func TestStatusJSON(t *testing.T) {
	h := newHarness(t, monthlySub())
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(h.output("status", "--json")), &got))
	assert.Equal(t, true, got["is_active"])
	assert.Equal(t, "active", got["ui_status"])
	assert.Equal(t, "monthly", got["subscription"].(map[string]any)["subscription_type"])
}

func TestCancelRefetchesFreshState(t *testing.T) {
	h := newHarness(t, monthlySub())
	h.output("status")

	out := h.output("cancel")
	assert.Contains(t, out, "Status: canceled")
	assert.Contains(t, out, "Ends:")
	assert.Contains(t, out, "Access: premium")
	assert.Equal(t, int32(2), h.api.meCalls.Load())
}

func TestCheckoutAndChangePlanPrintURLs(t *testing.T) {
	h := newHarness(t, nil)
	assert.Contains(t, h.output("checkout", "free-trial"), "https://checkout.stripe.com/c/pay/free_trial")
	assert.Contains(t, h.output("change-plan", "yearly"), "https://checkout.stripe.com/c/pay/upgrade")

	err := h.run(context.Background(), io.Discard, "checkout", "lifetime")
	assert.ErrorIs(t, err, errUnknownPlan)
}

func TestInvoices(t *testing.T) {
	h := newHarness(t, nil)
	out := h.output("invoices")
	assert.Contains(t, out, "TT-0001")
	assert.Contains(t, out, "2026-02-01")
	assert.Contains(t, out, "12.99 USD")

	err := h.run(context.Background(), io.Discard, "invoice-pdf", "in_other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no invoice in_other")
}

func TestMissingToken(t *testing.T) {
	h := newHarness(t, nil)
	cmd := NewRootCommand(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--api-url", h.url, "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUBCTL_TOKEN")
}

func TestWatchPrintsEachChange(t *testing.T) {
	h := newHarness(t, monthlySub())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- h.run(ctx, &out, "watch") }()

	select {
	case <-h.api.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("watch never opened the event stream")
	}
	assert.Contains(t, out.String(), "Status: active")

	h.api.setStatus(model.StatusCanceled)
	h.api.changed <- struct{}{}
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Status: canceled"))
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestRelative(t *testing.T) {
	assert.Equal(t, "in 20 days", relative(20*24*time.Hour-time.Minute))
	assert.Equal(t, "in 1 day", relative(24*time.Hour))
	assert.Equal(t, "today", relative(3*time.Hour))
	assert.Equal(t, "today", relative(-3*time.Hour))
	assert.Equal(t, "1 day ago", relative(-24*time.Hour))
	assert.Equal(t, "3 days ago", relative(-72*time.Hour))
}
