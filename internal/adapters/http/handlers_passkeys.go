package http

import (
	"net/http"

	"github.com/latchkey/auth-service/internal/application"
)

func (h *Handler) passkeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	ceremony, err := h.service.BeginPasskeyRegistration(r.Context(), res.Account.AccountID)
	if err != nil {
		writeMappedError(r.Context(), w, "passkey_register_begin", err)
		return
	}
	writeSuccess(w, http.StatusOK, ceremony)
}

func (h *Handler) passkeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	var req application.FinishPasskeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "passkey_register_finish", err)
		return
	}
	req.Meta = requestMeta(r)

	credential, err := h.service.FinishPasskeyRegistration(r.Context(), res.Account.AccountID, req)
	if err != nil {
		writeMappedError(r.Context(), w, "passkey_register_finish", err)
		return
	}

	// A new credential changes the account's auth surface, so the session is
	// rotated immediately. Rotation failure does not undo the registration.
	if grant, rErr := h.service.ForceRotate(r.Context(), res.Session); rErr == nil {
		h.issueAuthCookies(w, grant)
	} else {
		httpLogger().WarnContext(r.Context(), "post-registration rotation failed",
			"operation", "passkey_register_finish",
			"outcome", "partial",
			"error", rErr.Error(),
			"request_id", requestIDFromContext(r.Context()),
		)
	}

	writeSuccess(w, http.StatusCreated, map[string]any{
		"credential_id": credential.CredentialID,
		"created_at":    credential.CreatedAt,
	})
}

func (h *Handler) passkeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	ceremony, err := h.service.BeginPasskeyLogin(r.Context())
	if err != nil {
		writeMappedError(r.Context(), w, "passkey_login_begin", err)
		return
	}
	writeSuccess(w, http.StatusOK, ceremony)
}

func (h *Handler) passkeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	var req application.FinishPasskeyRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "passkey_login_finish", err)
		return
	}
	req.Meta = requestMeta(r)

	grant, err := h.service.FinishPasskeyLogin(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "passkey_login_finish", err)
		return
	}

	h.issueAuthCookies(w, grant)
	writeSuccess(w, http.StatusOK, map[string]any{
		"account_id": grant.Account.AccountID,
		"email":      grant.Account.Email,
		"expires_at": grant.Session.ExpiresAt,
	})
}
