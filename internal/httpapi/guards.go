package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"csebu.org/internal/auth"
)

type claimsKey struct{}

// Guard resolves the caller from the session token. The role and approval
// gates below run after it and only read the identity it attached.
type Guard struct {
	tokens  *auth.TokenService
	cookies *auth.Cookies
}

func NewGuard(tokens *auth.TokenService, cookies *auth.Cookies) *Guard {
	return &Guard{tokens: tokens, cookies: cookies}
}

func (g *Guard) authenticate(r *http.Request) (auth.Claims, error) {
	token := g.cookies.Token(r)
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return g.tokens.Verify(token)
}

func withClaims(r *http.Request, claims auth.Claims) *http.Request {
	ctx := context.WithValue(r.Context(), claimsKey{}, claims)
	ctx = auth.ContextWithIdentity(ctx, claims.Identity())
	return r.WithContext(ctx)
}

func claimsFromContext(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return c, ok
}

// RequireAuth rejects requests without a valid session token.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := g.authenticate(r)
		if err != nil {
			unauthorized(w, r, "unauthorized")
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	})
}

// OptionalAuth attaches the identity when a valid token is present and never
// rejects. A bad token clears both cookies; a missing snapshot is re-issued.
func (g *Guard) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cookies.Token(r) == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := g.authenticate(r)
		if err != nil {
			g.cookies.Revoke(w)
			next.ServeHTTP(w, r)
			return
		}
		if !g.cookies.HasSnapshot(r) {
			snap := auth.Snapshot{ID: claims.ID, Name: claims.Name, Role: claims.Role, Status: claims.Status}
			g.cookies.DeliverSnapshot(w, snap, claims.Remaining(g.tokens.Now()))
		}
		next.ServeHTTP(w, withClaims(r, claims))
	})
}

// Allow passes only identities whose role is in roles.
func Allow(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "unauthorized")
				return
			}
			if !id.HasRole(roles...) {
				forbidden(w, r, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireApproved blocks pending and rejected accounts. Admins always pass.
func RequireApproved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			unauthorized(w, r, "unauthorized")
			return
		}
		if !id.Approved() {
			forbidden(w, r, "account not approved yet")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AllowSelfOrRole passes when the URL parameter param names the caller, or the
// caller holds one of roles.
func AllowSelfOrRole(param string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "unauthorized")
				return
			}
			owner := strings.TrimSpace(chi.URLParam(r, param))
			if !id.CanActOn(owner, roles...) {
				forbidden(w, r, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="csebu"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="csebu", error="insufficient_scope"`)
	writeError(w, r, http.StatusForbidden, msg)
}
