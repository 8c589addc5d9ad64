package httpapi

import (
	"errors"
	"net/http"
	"time"

	"csebu.org/internal/auth"
)

type registerResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type sessionResponse struct {
	OK        bool          `json:"ok"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.Snapshot `json:"user"`
}

type meResponse struct {
	OK   bool          `json:"ok"`
	User auth.Identity `json:"user"`
}

// loginRequest defaults Remember to true when omitted.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember *bool  `json:"remember"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	u, err := a.auth.Register(r.Context(), req)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.register", map[string]any{"user_id": u.ID, "email": u.Email})
	writeJSON(w, http.StatusCreated, registerResponse{
		OK:      true,
		Message: "Registered successfully. Awaiting approval.",
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	remember := true
	if req.Remember != nil {
		remember = *req.Remember
	}
	sess, err := a.auth.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Remember: remember,
	})
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			a.audit(r.Context(), "auth.login.failed", map[string]any{"email": auth.NormalizeEmail(req.Email)})
			writeError(w, r, http.StatusUnauthorized, "login failed")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.login", map[string]any{"user_id": sess.User.ID, "remember": remember})
	a.deliverSession(w, sess)
}

// me returns the normalized claims carried by the token.
func (a *API) me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{OK: true, User: id})
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "unauthorized")
		return
	}
	sess, err := a.auth.Refresh(r.Context(), claims)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.refresh", map[string]any{"ttl_hours": int(sess.TTL.Hours())})
	a.deliverSession(w, sess)
}

// logout clears both cookies unconditionally. The token itself stays valid
// until it expires.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	a.cookies.Revoke(w)
	a.audit(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) deliverSession(w http.ResponseWriter, sess auth.Session) {
	snap := sess.User.Snapshot()
	a.cookies.Deliver(w, sess.Token, snap, sess.TTL)
	writeJSON(w, http.StatusOK, sessionResponse{
		OK:        true,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      snap,
	})
}
