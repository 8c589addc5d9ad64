package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"csebu.org/internal/auth"
	"csebu.org/internal/booking"
)

func (a *API) listBookings(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.UserIDFromContext(r.Context())
	items, err := a.bookings.List(r.Context(), viewer)
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) createBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	by, _ := auth.IdentityFromContext(r.Context())
	b, err := a.bookings.Create(r.Context(), by, req)
	if err != nil {
		handleBookingError(w, r, err)
		return
	}
	a.audit(r.Context(), "booking.create", map[string]any{"booking_id": b.ID, "room": string(b.RoomKey)})
	w.Header().Set("Location", "/api/room-bookings/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) cancelBooking(w http.ResponseWriter, r *http.Request) {
	by, _ := auth.IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := a.bookings.Cancel(r.Context(), by, id); err != nil {
		handleBookingError(w, r, err)
		return
	}
	a.audit(r.Context(), "booking.cancel", map[string]any{"booking_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
