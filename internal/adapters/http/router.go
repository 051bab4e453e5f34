package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/latchkey/auth-service/internal/application"
	"github.com/latchkey/auth-service/internal/ports"
)

// Config carries the transport-level knobs: cookie hardening, the rate-limit
// policy table and the per-address magic-link budget. SessionLifetime bounds
// the CSRF cookie issued outside the login path.
type Config struct {
	SecureCookies        bool
	SessionLifetime      time.Duration
	RatePolicies         []RatePolicy
	MagicLinkEmailLimit  int
	MagicLinkEmailWindow time.Duration
}

// Handler is the HTTP adapter entrypoint. It owns only transport concerns;
// every decision with security weight lives in the application service.
type Handler struct {
	service *application.Service
	limits  ports.RateLimitStore
	cfg     Config
	ready   func(ctx context.Context) error
	nowFn   func() time.Time
}

func NewHandler(service *application.Service, limits ports.RateLimitStore, cfg Config, ready func(ctx context.Context) error) *Handler {
	return &Handler{
		service: service,
		limits:  limits,
		cfg:     cfg,
		ready:   ready,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// NewRouter wires the middleware stack and routes. CSRF runs for every
// request. The limiter runs before session auth on pre-session endpoints
// (IP-keyed policies) and after it on the authed group, where account-keyed
// policies can see who is asking.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(handler.csrfMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(handler.rateLimitMiddleware)
			r.Post("/magic-link", handler.magicLinkRequest)
			r.Post("/magic-link/verify", handler.magicLinkVerify)
			r.Post("/email/verify", handler.emailVerify)
			r.Post("/passkeys/login/begin", handler.passkeyLoginBegin)
			r.Post("/passkeys/login/finish", handler.passkeyLoginFinish)
		})

		r.Group(func(r chi.Router) {
			r.Use(handler.sessionMiddleware)
			r.Use(handler.rateLimitMiddleware)
			r.Post("/logout", handler.logout)
			r.Post("/email/verify-request", handler.emailVerifyRequest)
			r.Post("/passkeys/register/begin", handler.passkeyRegisterBegin)
			r.Post("/passkeys/register/finish", handler.passkeyRegisterFinish)
			r.Get("/sessions", handler.listSessions)
			r.Delete("/sessions/{session_id}", handler.revokeSession)
			r.Delete("/sessions", handler.revokeAllSessions)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
			return
		}
	}
	writeMessage(w, http.StatusOK, "ready")
}
