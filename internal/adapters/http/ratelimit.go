package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

// RatePolicy binds one sliding-window budget to a path prefix. Mode picks the
// identifier the window is keyed by: "ip" the client address, "account"
// strictly the authenticated account (skipped when no session exists), and
// "account_or_ip" the account with an IP fallback.
type RatePolicy struct {
	Name    string
	Pattern string
	Limit   int
	Window  time.Duration
	Mode    string
}

const (
	rateModeIP          = "ip"
	rateModeAccount     = "account"
	rateModeAccountOrIP = "account_or_ip"
)

// matchPolicy picks the policy whose pattern is the longest prefix of path.
// No match means the endpoint is unlimited.
func matchPolicy(path string, policies []RatePolicy) (RatePolicy, bool) {
	var best RatePolicy
	found := false
	for _, p := range policies {
		if !strings.HasPrefix(path, p.Pattern) {
			continue
		}
		if !found || len(p.Pattern) > len(best.Pattern) {
			best = p
			found = true
		}
	}
	return best, found
}

func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy, ok := matchPolicy(r.URL.Path, h.cfg.RatePolicies)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		identifier := h.rateIdentifier(r, policy.Mode)
		if identifier == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := "ratelimit:" + policy.Name + ":" + identifier
		decision, err := h.limits.Check(r.Context(), key, policy.Limit, policy.Window, h.nowFn())
		if err != nil {
			// Fail closed: an unreachable limiter must not become an open gate.
			writeMappedError(r.Context(), w, "rate_limit", err)
			return
		}

		writeRateHeaders(w, decision)
		if !decision.Allowed {
			httpLogger().WarnContext(r.Context(), "request rate limited",
				"operation", "rate_limit",
				"outcome", "denied",
				"policy", policy.Name,
				"path", r.URL.Path,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeRetryError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", decision.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateIdentifier(r *http.Request, mode string) string {
	switch mode {
	case rateModeIP:
		return readIP(r)
	case rateModeAccount:
		// Strictly account-keyed. Before a session exists there is no
		// account to key by, so the policy does not apply.
		if res, ok := sessionFromContext(r.Context()); ok {
			return res.Account.AccountID.String()
		}
		return ""
	case rateModeAccountOrIP:
		if res, ok := sessionFromContext(r.Context()); ok {
			return res.Account.AccountID.String()
		}
		return readIP(r)
	default:
		return ""
	}
}

// writeRateHeaders mirrors the window state on every limited endpoint's
// response. Retry-After is owned by the denial writer.
func writeRateHeaders(w http.ResponseWriter, decision ports.RateLimitDecision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// checkEmailRate applies the per-address budget on magic-link issuance. The
// path-level policy keys by IP; this one closes the hole where one client
// floods a single inbox from many addresses.
func (h *Handler) checkEmailRate(w http.ResponseWriter, r *http.Request, email string) error {
	if h.cfg.MagicLinkEmailLimit <= 0 {
		return nil
	}
	key := "ratelimit:magic_link_email:" + strings.ToLower(strings.TrimSpace(email))
	decision, err := h.limits.Check(r.Context(), key, h.cfg.MagicLinkEmailLimit, h.cfg.MagicLinkEmailWindow, h.nowFn())
	if err != nil {
		return err
	}
	if !decision.Allowed {
		writeRateHeaders(w, decision)
		return &domain.RateLimitedError{RetryAfter: decision.RetryAfter}
	}
	return nil
}
