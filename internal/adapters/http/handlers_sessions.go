package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/domain"
)

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	items, err := h.service.ListSessions(r.Context(), res.Account.AccountID, res.Session.SessionID)
	if err != nil {
		writeMappedError(r.Context(), w, "list_sessions", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"sessions": items})
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	sessionID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "session_id")))
	if err != nil {
		writeMappedError(r.Context(), w, "revoke_session", domain.ErrNotFound)
		return
	}
	if err := h.service.RevokeSession(r.Context(), res.Account.AccountID, sessionID); err != nil {
		writeMappedError(r.Context(), w, "revoke_session", err)
		return
	}
	if sessionID == res.Session.SessionID {
		h.clearAuthCookies(w)
	}
	writeMessage(w, http.StatusOK, "session revoked")
}

func (h *Handler) revokeAllSessions(w http.ResponseWriter, r *http.Request) {
	res, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired credential")
		return
	}
	if err := h.service.RevokeAllSessions(r.Context(), res.Account.AccountID); err != nil {
		writeMappedError(r.Context(), w, "revoke_all_sessions", err)
		return
	}
	h.clearAuthCookies(w)
	writeMessage(w, http.StatusOK, "all sessions revoked")
}
