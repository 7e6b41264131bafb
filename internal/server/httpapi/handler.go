// Package httpapi exposes the sample HTTP surface over the identity store:
// registration, sign-in with lockout bookkeeping, e-mail confirmation, and a
// token-protected profile endpoint.
//
// Every request runs in its own docstore session, matching the one-session-
// per-unit-of-work model the stores require.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/identikit/identikit/internal/common"
	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/identity"
	"github.com/identikit/identikit/internal/logging"
	"github.com/identikit/identikit/internal/server/auth"
	"github.com/identikit/identikit/internal/server/config"
	"github.com/identikit/identikit/internal/store"
)

type Handler struct {
	openSession func() docstore.Session
	logger      logging.Logger
	cfg         *config.Config
}

func NewHandler(openSession func() docstore.Session, logger logging.Logger, cfg *config.Config) *Handler {
	return &Handler{openSession: openSession, logger: logger, cfg: cfg}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/register", h.register)
	r.Post("/api/login", h.login)
	r.Post("/api/confirm-email", h.confirmEmail)
	r.Get("/api/me", h.me)

	return r
}

func (h *Handler) accounts() (*store.AccountStore, error) {
	return store.NewAccountStore(h.openSession())
}

type registerRequest struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	accounts, err := h.accounts()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	account, err := identity.NewAccount(req.UserName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user name is required")
		return
	}
	account.Email = req.Email
	account.LockoutEnabled = true

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if err := accounts.SetPasswordHash(account, string(hash)); err != nil {
		h.serverError(w, r, err)
		return
	}

	if err := accounts.Create(r.Context(), account); err != nil {
		switch {
		case errors.Is(err, common.ErrDuplicateValue):
			writeError(w, http.StatusConflict, "username or e-mail already taken")
		case errors.Is(err, common.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "invalid account")
		case errors.Is(err, common.ErrConcurrentModification):
			writeError(w, http.StatusConflict, "please retry")
		default:
			h.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": account.ID})
}

type loginRequest struct {
	UserName string `json:"userName"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accounts, err := h.accounts()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	account, err := accounts.FindByUserName(r.Context(), req.UserName)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if account == nil {
		writeError(w, http.StatusUnauthorized, common.ErrInvalidCredentials.Error())
		return
	}
	if account.LockedOut(time.Now().UTC()) {
		writeError(w, http.StatusForbidden, common.ErrAccountLockedOut.Error())
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		count, err := accounts.IncrementAccessFailedCount(account)
		if err == nil && count >= h.cfg.MaxAccessFailedCount && account.LockoutEnabled {
			_ = accounts.SetLockoutEndDate(account, time.Now().UTC().Add(h.cfg.LockoutDuration))
			_ = accounts.ResetAccessFailedCount(account)
		}
		if err := accounts.Update(r.Context(), account); err != nil {
			h.logger.Warn(r.Context(), "failed to persist lockout state", "error", err.Error())
		}
		writeError(w, http.StatusUnauthorized, common.ErrInvalidCredentials.Error())
		return
	}

	if account.AccessFailedCount > 0 {
		if err := accounts.ResetAccessFailedCount(account); err == nil {
			if err := accounts.Update(r.Context(), account); err != nil {
				h.logger.Warn(r.Context(), "failed to reset access failed count", "error", err.Error())
			}
		}
	}

	token, err := auth.GenerateToken(account.ID, account.SecurityStamp, []byte(h.cfg.SecretKey), h.cfg.AccessTokenValidityDuration)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

type confirmEmailRequest struct {
	Email string `json:"email"`
}

func (h *Handler) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accounts, err := h.accounts()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	account, err := accounts.FindByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, common.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "e-mail is required")
			return
		}
		h.serverError(w, r, err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, common.ErrNotFound.Error())
		return
	}

	if err := accounts.SetEmailConfirmed(r.Context(), account, true); err != nil {
		if errors.Is(err, common.ErrPreconditionFailed) {
			writeError(w, http.StatusConflict, "e-mail cannot be confirmed")
			return
		}
		h.serverError(w, r, err)
		return
	}
	if err := accounts.Update(r.Context(), account); err != nil {
		h.serverError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type profileResponse struct {
	ID                   string   `json:"id"`
	UserName             string   `json:"userName"`
	Email                string   `json:"email,omitempty"`
	EmailConfirmed       bool     `json:"emailConfirmed"`
	PhoneNumber          string   `json:"phoneNumber,omitempty"`
	PhoneNumberConfirmed bool     `json:"phoneNumberConfirmed"`
	TwoFactorEnabled     bool     `json:"twoFactorEnabled"`
	Roles                []string `json:"roles"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	claims, err := auth.ParseToken(tokenString, []byte(h.cfg.SecretKey))
	if err != nil {
		writeError(w, http.StatusUnauthorized, common.ErrInvalidToken.Error())
		return
	}

	accounts, err := h.accounts()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	account, err := accounts.FindByID(r.Context(), claims.AccountID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	if account == nil || account.SecurityStamp != claims.SecurityStamp {
		writeError(w, http.StatusUnauthorized, common.ErrInvalidToken.Error())
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		ID:                   account.ID,
		UserName:             account.UserName,
		Email:                account.Email,
		EmailConfirmed:       account.EmailConfirmed,
		PhoneNumber:          account.PhoneNumber,
		PhoneNumberConfirmed: account.PhoneNumberConfirmed,
		TwoFactorEnabled:     account.TwoFactorEnabled,
		Roles:                account.Roles,
	})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error(r.Context(), "internal error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
