package auth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTokenCookie    = "session-token"
	DefaultSnapshotCookie = "session-snapshot"

	authHeader   = "Authorization"
	bearerPrefix = "bearer "
)

// CookieConfig names and scopes the two identity cookies.
type CookieConfig struct {
	TokenName    string
	SnapshotName string
	Secure       bool
}

// Cookies delivers the server-only token cookie together with the readable
// snapshot cookie, and extracts the token from inbound requests.
type Cookies struct {
	cfg CookieConfig
}

func NewCookies(cfg CookieConfig) *Cookies {
	if cfg.TokenName == "" {
		cfg.TokenName = DefaultTokenCookie
	}
	if cfg.SnapshotName == "" {
		cfg.SnapshotName = DefaultSnapshotCookie
	}
	return &Cookies{cfg: cfg}
}

// Deliver sets both cookies with max-age equal to ttl.
func (c *Cookies) Deliver(w http.ResponseWriter, token string, snap Snapshot, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.TokenName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge(ttl),
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.DeliverSnapshot(w, snap, ttl)
}

// DeliverSnapshot sets only the readable snapshot cookie.
func (c *Cookies) DeliverSnapshot(w http.ResponseWriter, snap Snapshot, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.SnapshotName,
		Value:    EncodeSnapshot(snap),
		Path:     "/",
		MaxAge:   maxAge(ttl),
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Revoke deletes both cookies. Tokens already copied elsewhere stay valid
// until they expire; there is no server-side revocation list.
func (c *Cookies) Revoke(w http.ResponseWriter) {
	for _, name := range []string{c.cfg.TokenName, c.cfg.SnapshotName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: name == c.cfg.TokenName,
			Secure:   c.cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// Token returns the session token, preferring an explicit bearer credential
// over the cookie.
func (c *Cookies) Token(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		if tok := strings.TrimSpace(header[len(bearerPrefix):]); tok != "" {
			return tok
		}
	}
	if ck, err := r.Cookie(c.cfg.TokenName); err == nil {
		return ck.Value
	}
	return ""
}

// HasSnapshot reports whether the request carries a snapshot cookie.
func (c *Cookies) HasSnapshot(r *http.Request) bool {
	ck, err := r.Cookie(c.cfg.SnapshotName)
	return err == nil && ck.Value != ""
}

// EncodeSnapshot renders the snapshot as URL-escaped JSON so it survives
// cookie value rules.
func EncodeSnapshot(s Snapshot) string {
	data, _ := json.Marshal(s)
	return url.PathEscape(string(data))
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(v string) (Snapshot, error) {
	raw, err := url.PathUnescape(v)
	if err != nil {
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func maxAge(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 {
		return -1
	}
	return secs
}
