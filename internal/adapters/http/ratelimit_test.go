package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/application"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

// fakeRateLimitStore counts per key in memory with a fixed window start, which
// is enough to exercise the middleware's headers and deny path.
type fakeRateLimitStore struct {
	mu     sync.Mutex
	counts map[string]int
	fail   bool
}

func newFakeRateLimitStore() *fakeRateLimitStore {
	return &fakeRateLimitStore{counts: map[string]int{}}
}

func (f *fakeRateLimitStore) Check(_ context.Context, key string, limit int, window time.Duration, now time.Time) (ports.RateLimitDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return ports.RateLimitDecision{}, fmt.Errorf("%w: limiter down", domain.ErrStoreUnavailable)
	}
	f.counts[key]++
	count := f.counts[key]
	decision := ports.RateLimitDecision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   now.Add(window),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		decision.RetryAfter = window
	}
	return decision, nil
}

func newRateLimitTestHandler(store ports.RateLimitStore, policies []RatePolicy) (*Handler, http.Handler) {
	h := NewHandler(nil, store, Config{RatePolicies: policies}, nil)
	wrapped := h.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, wrapped
}

func TestMatchPolicyLongestPrefixWins(t *testing.T) {
	t.Parallel()

	policies := []RatePolicy{
		{Name: "all", Pattern: "/auth/v1", Limit: 100},
		{Name: "magic", Pattern: "/auth/v1/magic-link", Limit: 5},
		{Name: "magic_verify", Pattern: "/auth/v1/magic-link/verify", Limit: 10},
	}

	cases := map[string]string{
		"/auth/v1/magic-link":        "magic",
		"/auth/v1/magic-link/verify": "magic_verify",
		"/auth/v1/sessions":          "all",
	}
	for path, want := range cases {
		policy, ok := matchPolicy(path, policies)
		if !ok || policy.Name != want {
			t.Fatalf("path %s: expected policy %q, got %q (matched=%v)", path, want, policy.Name, ok)
		}
	}

	if _, ok := matchPolicy("/healthz", policies); ok {
		t.Fatalf("unmatched path must be unlimited")
	}
}

func TestRateLimitAllowsWithinBudgetThenDenies(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: 5, Window: time.Minute, Mode: rateModeIP},
	})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
		req.RemoteAddr = "203.0.113.9:4410"
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected admit, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
			t.Fatalf("expected limit header 5, got %q", got)
		}
		wantRemaining := fmt.Sprintf("%d", 5-(i+1))
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Fatalf("request %d: expected remaining %s, got %q", i+1, wantRemaining, got)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
	req.RemoteAddr = "203.0.113.9:4410"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over budget, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0 on deny, got %q", got)
	}
}

func TestRateLimitKeysByIP(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: 1, Window: time.Minute, Mode: rateModeIP},
	})

	for _, addr := range []string{"203.0.113.1:1000", "203.0.113.2:1000"} {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("addr %s: expected independent budget, got %d", addr, rec.Code)
		}
	}
}

func TestRateLimitAccountModeUsesSession(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "register", Pattern: "/auth/v1/passkeys/register", Limit: 1, Window: time.Minute, Mode: rateModeAccount},
	})

	accountID := uuid.New()
	session := application.ResolveResult{Account: domain.Account{AccountID: accountID}}

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/passkeys/register/begin", nil)
		req.RemoteAddr = remoteAddr
		req = req.WithContext(context.WithValue(req.Context(), ctxKeySession, session))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Same account from two addresses shares one budget.
	if code := send("203.0.113.1:1000"); code != http.StatusNoContent {
		t.Fatalf("first request: expected admit, got %d", code)
	}
	if code := send("203.0.113.2:1000"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected account-keyed deny, got %d", code)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	wantKey := "ratelimit:register:" + accountID.String()
	if store.counts[wantKey] != 2 {
		t.Fatalf("expected both requests under key %q, got %v", wantKey, store.counts)
	}
}

func TestRateLimitAccountModeSkipsWithoutSession(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "register", Pattern: "/auth/v1/passkeys/register", Limit: 1, Window: time.Minute, Mode: rateModeAccount},
	})

	// No session in context: an account-keyed policy has nothing to key by
	// and must not silently degrade to IP keying.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/passkeys/register/begin", nil)
		req.RemoteAddr = "203.0.113.1:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected pass-through, got %d", i+1, rec.Code)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.counts) != 0 {
		t.Fatalf("sessionless request must not consume any budget, got %v", store.counts)
	}
}

func TestRateLimitFailsClosed(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	store.fail = true
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: 5, Window: time.Minute, Mode: rateModeIP},
	})

	req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
	req.RemoteAddr = "203.0.113.9:4410"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when limiter is unreachable, got %d", rec.Code)
	}
}

func TestRateLimitUnmatchedPathPassesThrough(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: 0, Window: time.Minute, Mode: rateModeIP},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected unmatched path to pass, got %d", rec.Code)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.counts) != 0 {
		t.Fatalf("unmatched path must not touch the store")
	}
}

// slidingWindowStore mirrors the production store's prune-count-insert step
// under one lock, so the admission bound can be exercised against genuinely
// concurrent callers without a live backend.
type slidingWindowStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newSlidingWindowStore() *slidingWindowStore {
	return &slidingWindowStore{entries: map[string][]time.Time{}}
}

func (s *slidingWindowStore) Check(_ context.Context, key string, limit int, window time.Duration, now time.Time) (ports.RateLimitDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := now.Add(-window)
	kept := s.entries[key][:0]
	for _, ts := range s.entries[key] {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	s.entries[key] = kept

	if len(kept) < limit {
		s.entries[key] = append(kept, now)
		return ports.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(kept) - 1,
			ResetAt:   now.Add(window),
		}, nil
	}

	retryAfter := kept[0].Add(window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return ports.RateLimitDecision{
		Limit:      limit,
		ResetAt:    kept[0].Add(window),
		RetryAfter: retryAfter,
	}, nil
}

func TestRateLimitSequentialBudgetCountdown(t *testing.T) {
	t.Parallel()

	store := newSlidingWindowStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		decision, err := store.Check(context.Background(), "ip:9.9.9.9", 5, time.Minute, now)
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !decision.Allowed || decision.Remaining != wantRemaining {
			t.Fatalf("check %d: expected allowed with remaining %d, got %+v", i+1, wantRemaining, decision)
		}
	}

	decision, err := store.Check(context.Background(), "ip:9.9.9.9", 5, time.Minute, now)
	if err != nil {
		t.Fatal(err)
	}
	if decision.Allowed {
		t.Fatal("sixth check must be denied")
	}
	if decision.RetryAfter < time.Second || decision.RetryAfter > time.Minute {
		t.Fatalf("retry-after must land in [1s, 60s], got %s", decision.RetryAfter)
	}
}

func TestRateLimitConcurrentAdmissionsBounded(t *testing.T) {
	t.Parallel()

	const limit = 5
	store := newSlidingWindowStore()
	_, handler := newRateLimitTestHandler(store, []RatePolicy{
		{Name: "magic_link", Pattern: "/auth/v1/magic-link", Limit: limit, Window: time.Minute, Mode: rateModeIP},
	})

	var wg sync.WaitGroup
	codes := make(chan int, limit*10)
	for i := 0; i < limit*10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
			req.RemoteAddr = "203.0.113.9:4410"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	wg.Wait()
	close(codes)

	admitted := 0
	for code := range codes {
		switch code {
		case http.StatusNoContent:
			admitted++
		case http.StatusTooManyRequests:
		default:
			t.Fatalf("unexpected status %d", code)
		}
	}
	if admitted > limit {
		t.Fatalf("concurrent admissions exceeded the window limit: %d > %d", admitted, limit)
	}
	if admitted != limit {
		t.Fatalf("expected exactly %d admissions, got %d", limit, admitted)
	}
}

func TestMagicLinkEmailBudgetDenialCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	store := newFakeRateLimitStore()
	h := NewHandler(nil, store, Config{
		MagicLinkEmailLimit:  2,
		MagicLinkEmailWindow: 5 * time.Minute,
	}, nil)

	send := func() (*httptest.ResponseRecorder, error) {
		req := httptest.NewRequest(http.MethodPost, "/auth/v1/magic-link", nil)
		rec := httptest.NewRecorder()
		err := h.checkEmailRate(rec, req, "User@Example.com")
		return rec, err
	}

	for i := 0; i < 2; i++ {
		if _, err := send(); err != nil {
			t.Fatalf("request %d: expected within budget, got %v", i+1, err)
		}
	}

	rec, err := send()
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != 5*time.Minute {
		t.Fatalf("expected retry-after of the window, got %v", err)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining header on denial, got %q", got)
	}

	// The boundary writer turns the typed error into the wire contract.
	rec = httptest.NewRecorder()
	writeMappedError(context.Background(), rec, "magic_link_request", err)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "300" {
		t.Fatalf("expected Retry-After 300, got %q", got)
	}
	var body struct {
		RetryAfter int64 `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.RetryAfter != 300 {
		t.Fatalf("expected retry_after 300 in body, got %d", body.RetryAfter)
	}
}
