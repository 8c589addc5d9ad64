// Package audit writes the security trail: who did what to which account,
// payment or booking. Lines share the obs logger so they ship with the rest
// of the service logs, tagged type=audit.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"csebu.org/internal/auth"
	"csebu.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

const redacted = "[redacted]"

// sensitive field names are never written, whatever the caller passes.
var sensitive = []string{"password", "secret", "token", "passwd", "hash"}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes one audit entry. The actor is taken from the authenticated
// identity in ctx, when there is one.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": "info",
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if id, ok := auth.IdentityFromContext(ctx); ok && id.ID != "" {
		entry["user_id"] = id.ID
		entry["role"] = string(id.Role)
	}
	entry["fields"] = scrub(fields)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

func scrub(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitive {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
