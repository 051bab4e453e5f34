package http

import (
	"net/http"

	"github.com/latchkey/auth-service/internal/application"
)

func (h *Handler) magicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var req application.MagicLinkRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "magic_link_request", err)
		return
	}
	req.Meta = requestMeta(r)

	if err := h.checkEmailRate(w, r, req.Email); err != nil {
		writeMappedError(r.Context(), w, "magic_link_request", err)
		return
	}
	if err := h.service.RequestMagicLink(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "magic_link_request", err)
		return
	}

	// 202 regardless of whether the address was known.
	writeMessage(w, http.StatusAccepted, "if the address is valid, a sign-in link has been sent")
}

func (h *Handler) magicLinkVerify(w http.ResponseWriter, r *http.Request) {
	var req application.VerifyMagicLinkRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "magic_link_verify", err)
		return
	}
	req.Meta = requestMeta(r)

	grant, err := h.service.VerifyMagicLink(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "magic_link_verify", err)
		return
	}

	h.issueAuthCookies(w, grant)
	writeSuccess(w, http.StatusOK, map[string]any{
		"account_id": grant.Account.AccountID,
		"email":      grant.Account.Email,
		"expires_at": grant.Session.ExpiresAt,
	})
}

func (h *Handler) emailVerifyRequest(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	if err := h.service.RequestEmailVerification(r.Context(), res.Account.AccountID); err != nil {
		writeMappedError(r.Context(), w, "email_verify_request", err)
		return
	}
	writeMessage(w, http.StatusAccepted, "verification link sent")
}

func (h *Handler) emailVerify(w http.ResponseWriter, r *http.Request) {
	var req application.VerifyEmailRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "email_verify", err)
		return
	}
	if err := h.service.VerifyEmail(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "email_verify", err)
		return
	}
	writeMessage(w, http.StatusOK, "email verified")
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	if err := h.service.Logout(r.Context(), res.Session.SessionID); err != nil {
		writeMappedError(r.Context(), w, "logout", err)
		return
	}
	h.clearAuthCookies(w)
	writeMessage(w, http.StatusOK, "logged out")
}

// issueAuthCookies installs both halves of the browser credential: the
// HttpOnly session cookie and the script-readable CSRF token, aligned to the
// session's expiry.
func (h *Handler) issueAuthCookies(w http.ResponseWriter, grant application.SessionGrant) {
	h.setSessionCookie(w, grant.Token, grant.Session.ExpiresAt)
	h.setCSRFCookie(w, newCSRFToken(), grant.Session.ExpiresAt)
}

func requestMeta(r *http.Request) application.RequestMeta {
	return application.RequestMeta{
		IPAddress: readIP(r),
		UserAgent: r.UserAgent(),
	}
}
