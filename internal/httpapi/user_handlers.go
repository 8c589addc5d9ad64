package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"csebu.org/internal/asset"
	"csebu.org/internal/auth"
	"csebu.org/internal/payment"
)

type setRoleRequest struct {
	Role string `json:"role"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type profileResponse struct {
	OK   bool       `json:"ok"`
	User *auth.User `json:"user"`
}

// --- admin ---

func (a *API) adminListUsers(w http.ResponseWriter, r *http.Request) {
	var status auth.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := auth.ParseStatus(raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		status = st
	}
	users, err := a.auth.ListByStatus(r.Context(), status)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) adminSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	u, err := a.auth.SetRole(r.Context(), id, role)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.role", map[string]any{"target_id": id, "role": string(role)})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) adminApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := a.auth.Approve(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.approve", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) adminReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	u, err := a.auth.Reject(r.Context(), id, req.Reason)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.reject", map[string]any{"target_id": id, "reason": u.RejectionReason})
	writeJSON(w, http.StatusOK, u)
}

func (a *API) adminDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.payments != nil {
		owned, err := a.payments.ListMine(r.Context(), id, payment.NewestFirst)
		if err != nil {
			handlePaymentError(w, r, err)
			return
		}
		if len(owned) > 0 {
			handleAuthError(w, r, auth.ErrInUse)
			return
		}
	}
	if err := a.auth.Delete(r.Context(), id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.delete", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- directory and profile ---

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := auth.UserFilter{Query: q.Get("q")}
	if raw := strings.TrimSpace(q.Get("role")); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		f.Role = role
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := auth.ParseStatus(raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		f.Status = st
	}
	page, err := parseIntParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := parseIntParam(q.Get("limit"), auth.DefaultPageSize)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if limit < 1 {
		limit = 1
	}
	res, err := a.auth.List(r.Context(), f, page, limit)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.auth.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) getMe(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.UserIDFromContext(r.Context())
	u, err := a.auth.Get(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{OK: true, User: u})
}

func (a *API) updateMe(w http.ResponseWriter, r *http.Request) {
	var upd auth.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.UserIDFromContext(r.Context())
	u, err := a.auth.UpdateProfile(r.Context(), id, upd)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.profile.update", nil)
	a.refreshSnapshot(w, r, u)
	writeJSON(w, http.StatusOK, profileResponse{OK: true, User: u})
}

func (a *API) updateAvatar(w http.ResponseWriter, r *http.Request) {
	var rec asset.Asset
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.UserIDFromContext(r.Context())
	u, err := a.auth.SetAvatar(r.Context(), id, rec)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.avatar.update", map[string]any{"public_id": rec.PublicID})
	a.refreshSnapshot(w, r, u)
	writeJSON(w, http.StatusOK, profileResponse{OK: true, User: u})
}

// refreshSnapshot keeps the readable cookie in step with profile edits for
// the rest of the current token's lifetime.
func (a *API) refreshSnapshot(w http.ResponseWriter, r *http.Request, u *auth.User) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		return
	}
	a.cookies.DeliverSnapshot(w, u.Snapshot(), claims.Remaining(a.auth.Tokens().Now()))
}

func parseIntParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
