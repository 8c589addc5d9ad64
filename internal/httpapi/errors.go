package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"csebu.org/internal/auth"
	"csebu.org/internal/booking"
	"csebu.org/internal/obs"
	"csebu.org/internal/payment"
)

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, auth.ErrInvalidInput))
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		unauthorized(w, r, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		forbidden(w, r, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInUse):
		writeError(w, r, http.StatusConflict, "account has payment records and cannot be deleted")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "email already registered")
	default:
		internalError(w, r, err)
	}
}

func handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, payment.ErrInvalidInput))
	case errors.Is(err, payment.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "transaction not found")
	case errors.Is(err, payment.ErrUpstream):
		obs.Warn("payment gateway error", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err,
		})
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable")
	default:
		internalError(w, r, err)
	}
}

func handleBookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, publicMessage(err, booking.ErrInvalidInput))
	case errors.Is(err, booking.ErrForbidden):
		forbidden(w, r, "not allowed")
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "booking not found")
	case errors.Is(err, booking.ErrConflict):
		writeError(w, r, http.StatusConflict, "room already booked")
	default:
		internalError(w, r, err)
	}
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Error("request failed", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"path":       r.URL.Path,
		"error":      err,
	})
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

// publicMessage strips the sentinel prefix from a wrapped validation error,
// leaving the detail that was written for the caller.
func publicMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return "invalid input"
}
