package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"csebu.org/internal/audit"
	"csebu.org/internal/auth"
	"csebu.org/internal/booking"
	"csebu.org/internal/obs"
	"csebu.org/internal/payment"
)

const serviceName = "csebu-api"

// ReadyProbe checks dependencies for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the domain services into the HTTP layer. Payments may be nil
// when no gateway account is configured; payment routes then answer 503.
type Options struct {
	Auth     *auth.Service
	Cookies  *auth.Cookies
	Payments *payment.Manager
	Bookings *booking.Service
	Ready    ReadyProbe
	Version  string

	CORSOrigins    []string
	MaxBodyBytes   int64
	AuthRateBurst  int
	AuthRatePerSec float64
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	auth     *auth.Service
	cookies  *auth.Cookies
	guard    *Guard
	payments *payment.Manager
	bookings *booking.Service
	ready    ReadyProbe
	version  string

	origins    []string
	maxBody    int64
	rateBurst  int
	ratePerSec float64
	proxies    []netip.Prefix
}

func New(opts Options) *API {
	a := &API{
		auth:       opts.Auth,
		cookies:    opts.Cookies,
		guard:      NewGuard(opts.Auth.Tokens(), opts.Cookies),
		payments:   opts.Payments,
		bookings:   opts.Bookings,
		ready:      opts.Ready,
		version:    opts.Version,
		origins:    opts.CORSOrigins,
		maxBody:    opts.MaxBodyBytes,
		rateBurst:  opts.AuthRateBurst,
		ratePerSec: opts.AuthRatePerSec,
		proxies:    opts.TrustedProxies,
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 1
	}
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	g := a.guard
	admins := Allow(auth.AdminsOnly...)
	limit := func(next http.Handler) http.Handler {
		return RateLimit(next, a.rateBurst, a.ratePerSec)
	}

	r := chi.NewRouter()
	r.Use(TrustProxies(a.proxies), RequestID, LoggingJSON, obs.Instrument, SecurityHeaders, CORS(a.origins), MaxBodyBytes(a.maxBody))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/api/health", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/api/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.With(limit).Post("/register", a.register)
		r.With(limit).Post("/login", a.login)
		r.With(g.RequireAuth).Get("/me", a.me)
		r.With(g.RequireAuth).Post("/refresh", a.refresh)
		r.Post("/logout", a.logout)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(g.RequireAuth, admins)
		r.Get("/users", a.adminListUsers)
		r.Patch("/users/{id}/role", a.adminSetRole)
		r.Patch("/users/{id}/approve", a.adminApprove)
		r.Patch("/users/{id}/reject", a.adminReject)
		r.Delete("/users/{id}", a.adminDelete)
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(g.RequireAuth)
		r.With(admins).Get("/", a.listUsers)
		r.Get("/me", a.getMe)
		r.Put("/me", a.updateMe)
		r.Put("/me/avatar", a.updateAvatar)
		r.With(AllowSelfOrRole("id", auth.AdminsOnly...)).Get("/{id}", a.getUser)
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Use(a.requirePayments)
		r.Post("/ssl/"+payment.KindSuccess, a.sslSuccess)
		r.Post("/ssl/"+payment.KindFail, a.sslFail)
		r.Post("/ssl/"+payment.KindCancel, a.sslCancel)
		r.Post("/ssl/"+payment.KindNotify, a.sslNotify)
		r.Group(func(r chi.Router) {
			r.Use(g.RequireAuth)
			r.Post("/session", a.createPaymentSession)
			r.Get("/me", a.listMyPayments)
			r.Get("/{tranId}", a.getPayment)
		})
	})

	r.Route("/api/room-bookings", func(r chi.Router) {
		r.With(g.OptionalAuth).Get("/", a.listBookings)
		r.With(g.RequireAuth, Allow(auth.RoleCR), RequireApproved).Post("/", a.createBooking)
		r.With(g.RequireAuth).Delete("/{id}", a.cancelBooking)
	})

	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.Warn("readiness check failed", map[string]any{"error": err})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	b := obs.CurrentBuild()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"commit":    b.Commit,
		"goVersion": b.GoVersion,
		"uptime":    time.Since(b.StartedAt).Round(time.Second).String(),
		"payments":  a.payments != nil,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Warn("audit log failed", map[string]any{"event": event, "error": err})
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
