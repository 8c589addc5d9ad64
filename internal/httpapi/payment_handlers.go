package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"csebu.org/internal/auth"
	"csebu.org/internal/obs"
	"csebu.org/internal/payment"
)

type listTransactionsResponse struct {
	OK    bool                  `json:"ok"`
	Items []payment.Transaction `json:"items"`
}

func (a *API) requirePayments(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.payments == nil {
			writeError(w, r, http.StatusServiceUnavailable, "payments are not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) createPaymentSession(w http.ResponseWriter, r *http.Request) {
	var req payment.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, payment.ErrInvalidInput) {
			handlePaymentError(w, r, err)
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, _ := auth.UserIDFromContext(r.Context())
	u, err := a.auth.Get(r.Context(), id)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	sess, err := a.payments.CreateSession(r.Context(), payment.PayerFromUser(u), req)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	a.audit(r.Context(), "payment.session.create", map[string]any{
		"tran_id": sess.TranID,
		"purpose": string(req.Purpose),
		"amount":  req.Amount.String(),
	})
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) listMyPayments(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.UserIDFromContext(r.Context())
	order := payment.ParseOrder(r.URL.Query().Get("order"))
	items, err := a.payments.ListMine(r.Context(), id, order)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	if items == nil {
		items = []payment.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{OK: true, Items: items})
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.IdentityFromContext(r.Context())
	tx, err := a.payments.Get(r.Context(), viewer, chi.URLParam(r, "tranId"))
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Gateway callbacks. These are public and form-encoded. The browser-facing
// ones always end in a redirect to the result page.

func (a *API) callback(r *http.Request) payment.Callback {
	if err := r.ParseForm(); err != nil {
		obs.Warn("payment callback form parse failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
	}
	return payment.CallbackFromForm(r.PostForm)
}

func (a *API) sslSuccess(w http.ResponseWriter, r *http.Request) {
	cb := a.callback(r)
	out, err := a.payments.Success(r.Context(), cb)
	if err != nil {
		obs.Warn("payment success validation failed", map[string]any{"tran_id": cb.TranID, "error": err})
	}
	a.finishRedirect(w, r, payment.KindSuccess, cb, out)
}

func (a *API) sslFail(w http.ResponseWriter, r *http.Request) {
	cb := a.callback(r)
	a.finishRedirect(w, r, payment.KindFail, cb, a.payments.Fail(r.Context(), cb))
}

func (a *API) sslCancel(w http.ResponseWriter, r *http.Request) {
	cb := a.callback(r)
	a.finishRedirect(w, r, payment.KindCancel, cb, a.payments.Cancel(r.Context(), cb))
}

func (a *API) finishRedirect(w http.ResponseWriter, r *http.Request, kind string, cb payment.Callback, out payment.Outcome) {
	status := out.Status
	if status == "" {
		status = payment.StatusFailed
	}
	a.audit(r.Context(), "payment.callback."+kind, map[string]any{
		"tran_id": cb.TranID,
		"status":  string(status),
		"found":   out.Found,
	})
	http.Redirect(w, r, a.payments.ResultURL(status, cb.TranID), http.StatusSeeOther)
}

// sslNotify acknowledges the server-to-server notification. An upstream
// failure answers 502 so the gateway redelivers.
func (a *API) sslNotify(w http.ResponseWriter, r *http.Request) {
	cb := a.callback(r)
	out, err := a.payments.Notify(r.Context(), cb)
	a.audit(r.Context(), "payment.callback."+payment.KindNotify, map[string]any{
		"tran_id": cb.TranID,
		"status":  string(out.Status),
		"found":   out.Found,
	})
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"tran_id": out.TranID,
		"status":  out.Status,
	})
}
