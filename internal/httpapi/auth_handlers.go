package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"gatehouse.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Tenant   string `json:"tenant,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresAt        string `json:"expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

type checkRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

// Both unknown-email and wrong-password land here, and so does a locked
// account's body: the response must not let a caller enumerate accounts.
const authFailedMsg = "authentication failed"

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.auth.Login(r.Context(), req.Email, req.Password, req.Tenant)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      session.AccessToken,
		RefreshToken:     session.RefreshToken,
		TokenType:        "bearer",
		ExpiresAt:        formatExpiry(session.AccessExpiresAt),
		RefreshExpiresAt: formatExpiry(session.RefreshExpiresAt),
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      session.AccessToken,
		RefreshToken:     session.RefreshToken,
		TokenType:        "bearer",
		ExpiresAt:        formatExpiry(session.AccessExpiresAt),
		RefreshExpiresAt: formatExpiry(session.RefreshExpiresAt),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.auth.Logout(r.Context(), token); err != nil {
		writeAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action == "" || req.Resource == "" {
		writeError(w, http.StatusBadRequest, "action and resource are required")
		return
	}

	err := a.auth.Authorize(r.Context(), token, req.Action, req.Resource)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"decision": "allow"})
	case errors.Is(err, auth.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]any{"decision": "deny"})
	default:
		writeAuthError(w, err)
	}
}

// writeAuthError maps core errors onto the wire. Invalid credentials and
// locked accounts share one body; lockout only surfaces through Retry-After.
func writeAuthError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter/time.Second)))
		writeError(w, http.StatusUnauthorized, authFailedMsg)
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusUnauthorized, authFailedMsg)
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrRefreshReplay):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
