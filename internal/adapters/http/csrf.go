package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// csrfExemptPaths are endpoints reachable before any session exists, or whose
// state change is already protected by a single-use token or challenge nonce.
var csrfExemptPaths = map[string]struct{}{
	"/auth/v1/magic-link":            {},
	"/auth/v1/magic-link/verify":     {},
	"/auth/v1/email/verify":          {},
	"/auth/v1/passkeys/login/begin":  {},
	"/auth/v1/passkeys/login/finish": {},
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// csrfMiddleware is both halves of the double-submit contract: safe methods
// and cookieless requests get a fresh token issued on the response, and
// unsafe methods on non-exempt paths are checked. The rejection is one
// uniform 403 for every failure shape; the precise reason only reaches the
// log.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie := cookieValue(r, csrfCookieName)
		if !isUnsafeMethod(r.Method) {
			h.setCSRFCookie(w, newCSRFToken(), h.nowFn().Add(h.cfg.SessionLifetime))
			next.ServeHTTP(w, r)
			return
		}
		if _, exempt := csrfExemptPaths[r.URL.Path]; exempt {
			if cookie == "" {
				h.setCSRFCookie(w, newCSRFToken(), h.nowFn().Add(h.cfg.SessionLifetime))
			}
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(csrfHeaderName))
		if !csrfTokensMatch(cookie, header) {
			reason := "mismatch"
			switch {
			case cookie == "":
				// Hand out a token with the rejection so the client
				// can retry instead of staying locked out.
				h.setCSRFCookie(w, newCSRFToken(), h.nowFn().Add(h.cfg.SessionLifetime))
				reason = "missing cookie"
			case header == "":
				reason = "missing header"
			}
			httpLogger().WarnContext(r.Context(), "csrf check failed",
				"operation", "csrf_check",
				"outcome", "failure",
				"reason", reason,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeError(w, http.StatusForbidden, "CSRF_REJECTED", "request rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func csrfTokensMatch(cookie, header string) bool {
	if cookie == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) == 1
}
