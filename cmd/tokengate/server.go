package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/tokengate"
	promexport "github.com/MrEthical07/tokengate/metrics/export/prometheus"
	"github.com/MrEthical07/tokengate/middleware"
)

type challengeResponse struct {
	ID        string    `json:"id"`
	Image     string    `json:"image,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginBody struct {
	Mode         string `json:"mode"`
	Identifier   string `json:"identifier"`
	Password     string `json:"password"`
	CaptchaID    string `json:"captcha_id"`
	CaptchaValue string `json:"captcha_value"`
}

type tokenResponse struct {
	Principal string    `json:"principal"`
	Token     string    `json:"token,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// newServer wires the HTTP routes around engine.
func newServer(engine *tokengate.Engine, logger *slog.Logger, trustForwarded bool) http.Handler {
	guard := middleware.RequireToken(engine)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /captcha", captchaHandler(engine, logger))
	mux.HandleFunc("POST /tokens", loginHandler(engine, logger))
	mux.Handle("DELETE /tokens", guard(logoutHandler(engine, logger)))
	mux.Handle("GET /me", guard(http.HandlerFunc(meHandler)))
	mux.Handle("GET /metrics", promexport.NewCollector(engine).Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return middleware.ClientIP(trustForwarded)(mux)
}

func captchaHandler(engine *tokengate.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := engine.IssueCaptcha(r.Context())
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, challengeResponse{ID: ch.ID, Image: ch.Image, ExpiresAt: ch.ExpiresAt})
	}
}

func loginHandler(engine *tokengate.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed_body"})
			return
		}

		mode, err := tokengate.ParseLoginMode(body.Mode)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}

		tok, err := engine.Login(r.Context(), tokengate.LoginRequest{
			Mode:         mode,
			Identifier:   body.Identifier,
			Password:     body.Password,
			CaptchaID:    body.CaptchaID,
			CaptchaValue: body.CaptchaValue,
		})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, tokenResponse{
			Principal: tok.Principal,
			Token:     tok.Token,
			IssuedAt:  tok.IssuedAt,
			ExpiresAt: tok.ExpiresAt,
		})
	}
}

func logoutHandler(engine *tokengate.Engine, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := middleware.SessionFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		if err := engine.Logout(r.Context(), session.Principal); err != nil {
			writeError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Principal: session.Principal,
		IssuedAt:  session.IssuedAt,
		ExpiresAt: session.ExpiresAt,
	})
}

// writeError maps engine errors onto status codes. Unknown identities and wrong
// passwords share one response.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var statusErr *tokengate.UserStatusError
	switch {
	case errors.Is(err, tokengate.ErrValidationFailed):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed"})
	case errors.Is(err, tokengate.ErrCaptchaInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "captcha_invalid"})
	case errors.Is(err, tokengate.ErrLoginInfoInvalid):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "login_info_invalid"})
	case errors.As(err, &statusErr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "user_status_invalid", Reason: statusErr.Reason.String()})
	case errors.Is(err, tokengate.ErrLoginRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited"})
	case errors.Is(err, tokengate.ErrCaptchaUnavailable),
		errors.Is(err, tokengate.ErrSessionUnavailable),
		errors.Is(err, tokengate.ErrIdentityUnavailable),
		errors.Is(err, tokengate.ErrThrottleUnavailable):
		logger.ErrorContext(r.Context(), "backend failure", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
