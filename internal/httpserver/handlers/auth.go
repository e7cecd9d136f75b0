// Package handlers implements the thin HTTP shell over the core, grounded
// on the teacher's internal/api handler set (strict JSON decoding, typed
// request/response structs, bearer-token session extraction) generalized
// to the document-store/JWT stack.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/credential"
	"github.com/homestead-systems/assistant-core/internal/httpserver/middleware"
	"github.com/homestead-systems/assistant-core/internal/notify"
)

// AuthHandler exposes registration, login, refresh, logout, and password
// reset over the password credential provider. The router registers no
// HTTP routes for other providers (e.g. OAuth).
type AuthHandler struct {
	auth   *authsvc.Service
	mailer notify.EmailSender
	appURL string
}

func NewAuthHandler(auth *authsvc.Service, mailer notify.EmailSender, appURL string) *AuthHandler {
	return &AuthHandler{auth: auth, mailer: mailer, appURL: appURL}
}

type registerRequest struct {
	Email                string   `json:"email"`
	Password             string   `json:"password"`
	Allergies            []string `json:"allergies,omitempty"`
	DietTypes            []string `json:"diet_types,omitempty"`
	CulturalRestrictions []string `json:"cultural_restrictions,omitempty"`
}

func (req registerRequest) validate() error {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return errors.New("invalid email format")
	}
	if req.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds := credential.Credentials{Email: req.Email, Password: req.Password}
	profile := credential.Profile{
		Allergies:            req.Allergies,
		DietTypes:            req.DietTypes,
		CulturalRestrictions: req.CulturalRestrictions,
	}

	result, pair, err := h.auth.RegisterUser(r.Context(), "password", creds, profile)
	if err != nil {
		h.writeRegisterAuthenticateError(w, err)
		return
	}

	switch result.Kind {
	case credential.ResultSuccess:
		writeJSON(w, http.StatusCreated, tokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	case credential.ResultRequiresVerification:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification_required"})
	default:
		writeError(w, http.StatusBadRequest, result.Reason)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	creds := credential.Credentials{Email: req.Email, Password: req.Password}
	result, pair, err := h.auth.AuthenticateUser(r.Context(), "password", creds)
	if err != nil {
		h.writeRegisterAuthenticateError(w, err)
		return
	}

	switch result.Kind {
	case credential.ResultSuccess:
		writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	case credential.ResultRequiresVerification:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "verification_required"})
	default:
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.auth.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		slog.Warn("refresh_failed", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	token := r.Header.Get("Authorization")
	if len(token) > 7 {
		token = token[7:]
	}
	if err := h.auth.Logout(r.Context(), token); err != nil {
		slog.Error("logout_failed", "error", err, "user_id", session.UserID.Hex())
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": session.UserID.Hex(), "email": session.Email})
}

type requestResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset always responds 202 regardless of whether the email
// is registered, so a caller can never use this endpoint to enumerate
// accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if err := decodeJSON(r, &req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	token, err := h.auth.RequestPasswordReset(r.Context(), "password", req.Email)
	if err != nil {
		slog.Error("password_reset_request_failed", "error", err)
	} else if token != "" {
		if err := h.mailer.SendPasswordReset(r.Context(), req.Email, token, h.appURL); err != nil {
			slog.Error("password_reset_email_failed", "error", err)
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

type completeResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req completeResetRequest
	if err := decodeJSON(r, &req); err != nil || req.Token == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "token and new_password are required")
		return
	}

	if err := h.auth.CompletePasswordReset(r.Context(), "password", req.Token, req.NewPassword); err != nil {
		if errors.Is(err, credential.ErrInvalidResetToken) {
			writeError(w, http.StatusBadRequest, "invalid or expired reset token")
			return
		}
		slog.Error("password_reset_complete_failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeRegisterAuthenticateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credential.ErrEmailInUse):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, credential.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, credential.ErrAccountLocked):
		writeError(w, http.StatusLocked, "account is locked, try again later")
	case errors.Is(err, credential.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	default:
		slog.Error("auth_request_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
	}
}
