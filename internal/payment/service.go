package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"csebu.org/internal/auth"
	"csebu.org/internal/ids"
	"csebu.org/internal/obs"
)

const gatewayName = "sslcommerz"

// Callback kinds as they appear in routes and metrics.
const (
	KindSuccess = "success"
	KindFail    = "fail"
	KindCancel  = "cancel"
	KindNotify  = "ipn"
)

// Config is the explicit configuration handed to the Manager at startup.
type Config struct {
	// ServerOrigin is the public base URL of this API; gateway callbacks land here.
	ServerOrigin string
	// AppOrigin is the web application that renders the payment result page.
	AppOrigin string
	Currency  string
	// Address is the institutional address sent in the customer block.
	Address Address
	// GatewayBudget bounds one gateway exchange, retries included. It must
	// stay below the server's write timeout so a redirect can still be sent.
	GatewayBudget time.Duration
}

// DefaultGatewayBudget applies when Config.GatewayBudget is zero.
const DefaultGatewayBudget = 20 * time.Second

// DefaultAddress is the department's postal address.
var DefaultAddress = Address{
	Line1:    "CSE, Barishal University",
	Line2:    "Barishal",
	City:     "Barishal",
	State:    "Barishal",
	Postcode: "8200",
	Country:  "Bangladesh",
}

// Payer is the customer snapshot taken when a session is created.
type Payer struct {
	UserID   string
	Name     string
	Email    string
	Phone    string
	Roll     string
	Semester int
}

// PayerFromUser snapshots the account fields the gateway needs.
func PayerFromUser(u *auth.User) Payer {
	return Payer{
		UserID:   u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Phone:    u.Phone,
		Roll:     u.Roll,
		Semester: u.Semester,
	}
}

// CreateInput is the caller's payment request.
type CreateInput struct {
	Purpose     Purpose `json:"purpose"`
	Description string  `json:"otherDescription"`
	Method      Method  `json:"method"`
	Amount      Amount  `json:"amount"`
}

// Session is returned to the client to continue payment out-of-band.
type Session struct {
	GatewayURL string `json:"gatewayUrl"`
	TranID     string `json:"tranId"`
}

// Callback is a gateway form post. Fields holds the whole body.
type Callback struct {
	TranID string
	ValID  string
	Fields map[string]string
}

// CallbackFromForm extracts a Callback from a parsed form body.
func CallbackFromForm(form url.Values) Callback {
	fields := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return Callback{
		TranID: strings.TrimSpace(form.Get("tran_id")),
		ValID:  strings.TrimSpace(form.Get("val_id")),
		Fields: fields,
	}
}

// Outcome is the result of applying one callback.
type Outcome struct {
	TranID string
	Status Status
	// Found is false when no transaction matched TranID; nothing was written.
	Found bool
}

// Manager creates gateway sessions and reconciles callbacks into transactions.
type Manager struct {
	store   Store
	gateway Gateway
	cfg     Config
	newID   func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator overrides transaction id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func NewManager(store Store, gateway Gateway, cfg Config, opts ...Option) *Manager {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.Address == (Address{}) {
		cfg.Address = DefaultAddress
	}
	if cfg.GatewayBudget <= 0 {
		cfg.GatewayBudget = DefaultGatewayBudget
	}
	cfg.ServerOrigin = strings.TrimRight(cfg.ServerOrigin, "/")
	cfg.AppOrigin = strings.TrimRight(cfg.AppOrigin, "/")
	m := &Manager{store: store, gateway: gateway, cfg: cfg, newID: ids.TranID}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (in CreateInput) validate() error {
	if !in.Purpose.Valid() {
		return fmt.Errorf("%w: purpose is required", ErrInvalidInput)
	}
	if !in.Method.Valid() {
		return fmt.Errorf("%w: method is required", ErrInvalidInput)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	if in.Purpose == PurposeOther && strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description is required when purpose is other", ErrInvalidInput)
	}
	return nil
}

// CreateSession persists an initiated transaction and then opens a gateway
// checkout. When the gateway refuses, the row stays initiated with the error
// recorded and ErrUpstream is returned.
func (m *Manager) CreateSession(ctx context.Context, payer Payer, in CreateInput) (Session, error) {
	if strings.TrimSpace(payer.UserID) == "" {
		return Session{}, fmt.Errorf("%w: payer is required", ErrInvalidInput)
	}
	if err := in.validate(); err != nil {
		obs.ObservePaymentSession("invalid")
		return Session{}, err
	}

	tx := &Transaction{
		TranID:      m.newID(),
		UserID:      payer.UserID,
		Roll:        orNA(payer.Roll),
		Semester:    semesterLabel(payer.Semester),
		Purpose:     in.Purpose,
		Description: strings.TrimSpace(in.Description),
		Method:      in.Method,
		Amount:      in.Amount,
		Currency:    m.cfg.Currency,
		Status:      StatusInitiated,
		Gateway:     gatewayName,
	}
	if err := m.store.CreateTransaction(ctx, tx); err != nil {
		obs.ObservePaymentSession("error")
		return Session{}, err
	}

	gctx, cancel := m.gatewayContext(ctx)
	res, err := m.gateway.Init(gctx, m.initRequest(tx, payer))
	cancel()
	if err == nil && strings.TrimSpace(res.RedirectURL) == "" {
		err = errors.New("gateway returned no redirect url")
	}
	if err != nil {
		obs.ObservePaymentSession("rejected")
		obs.Warn("payment session rejected", map[string]any{"tran_id": tx.TranID, "error": err})
		// keep the row initiated; the notify path can still reconcile it
		if _, uerr := m.store.UpdateTransactionStatus(ctx, tx.TranID, StatusInitiated, errorPayload(err)); uerr != nil {
			obs.Error("record gateway rejection", map[string]any{"tran_id": tx.TranID, "error": uerr})
		}
		if errors.Is(err, ErrUpstream) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	obs.ObservePaymentSession("created")
	return Session{GatewayURL: res.RedirectURL, TranID: tx.TranID}, nil
}

func (m *Manager) initRequest(tx *Transaction, payer Payer) InitRequest {
	return InitRequest{
		TranID:          tx.TranID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		SuccessURL:      m.callbackURL(KindSuccess),
		FailURL:         m.callbackURL(KindFail),
		CancelURL:       m.callbackURL(KindCancel),
		NotifyURL:       m.callbackURL(KindNotify),
		ProductName:     tx.Purpose.Label(),
		ProductCategory: string(tx.Purpose),
		Customer: Customer{
			Name:    fallback(payer.Name, "Student"),
			Email:   fallback(payer.Email, "student@example.com"),
			Phone:   fallback(payer.Phone, "00000000000"),
			Address: m.cfg.Address,
		},
		PassThrough: PassThrough{
			UserID:   payer.UserID,
			Roll:     payer.Roll,
			Semester: semesterValue(payer.Semester),
			Purpose:  tx.Purpose,
		},
	}
}

func (m *Manager) callbackURL(kind string) string {
	return m.cfg.ServerOrigin + "/api/payments/ssl/" + kind
}

// ResultURL is where the payer's browser is sent after a callback.
func (m *Manager) ResultURL(status Status, tranID string) string {
	q := url.Values{}
	q.Set("status", string(status))
	q.Set("tranId", tranID)
	return m.cfg.AppOrigin + "/payment/result?" + q.Encode()
}

// Success re-validates the payment with the gateway before recording it. A
// redirect alone never marks a transaction paid. Upstream failures are
// recorded as failed and returned alongside the outcome.
func (m *Manager) Success(ctx context.Context, cb Callback) (Outcome, error) {
	if cb.ValID == "" {
		out := m.record(ctx, KindSuccess, cb.TranID, StatusFailed, errorPayload(errors.New("missing val_id")))
		return out, nil
	}
	v, err := m.validate(ctx, cb.ValID)
	if err != nil {
		out := m.record(ctx, KindSuccess, cb.TranID, StatusFailed, errorPayload(err))
		return out, upstream(err)
	}
	return m.reconcile(ctx, KindSuccess, cb, v), nil
}

// Fail records a failed payment straight from the callback body.
func (m *Manager) Fail(ctx context.Context, cb Callback) Outcome {
	return m.record(ctx, KindFail, cb.TranID, StatusFailed, fieldsPayload(cb.Fields))
}

// Cancel records a canceled payment straight from the callback body.
func (m *Manager) Cancel(ctx context.Context, cb Callback) Outcome {
	return m.record(ctx, KindCancel, cb.TranID, StatusCanceled, fieldsPayload(cb.Fields))
}

// Notify handles the server-to-server notification. Without a validation id
// it is acknowledged without changes. An upstream failure leaves the row
// untouched so the gateway's redelivery can settle it.
func (m *Manager) Notify(ctx context.Context, cb Callback) (Outcome, error) {
	if cb.ValID == "" {
		obs.ObserveCallback(KindNotify, "ignored")
		return Outcome{TranID: cb.TranID}, nil
	}
	v, err := m.validate(ctx, cb.ValID)
	if err != nil {
		obs.ObserveCallback(KindNotify, "error")
		return Outcome{TranID: cb.TranID}, upstream(err)
	}
	return m.reconcile(ctx, KindNotify, cb, v), nil
}

// gatewayContext derives the deadline for one gateway exchange. Records are
// still written with the caller's ctx after it expires.
func (m *Manager) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.GatewayBudget)
}

func (m *Manager) validate(ctx context.Context, valID string) (Validation, error) {
	gctx, cancel := m.gatewayContext(ctx)
	defer cancel()
	return m.gateway.Validate(gctx, valID)
}

func (m *Manager) reconcile(ctx context.Context, kind string, cb Callback, v Validation) Outcome {
	tranID := cb.TranID
	if tranID == "" {
		tranID = v.TranID
	}
	status := StatusFailed
	if v.Valid() && m.matches(ctx, tranID, v) {
		status = StatusSuccess
	}
	resp := v.Raw
	if len(resp) == 0 {
		resp, _ = json.Marshal(map[string]string{"status": v.Status, "val_id": v.ValID, "tran_id": v.TranID})
	}
	return m.record(ctx, kind, tranID, status, resp)
}

// matches cross-checks the gateway's echo against the stored transaction.
func (m *Manager) matches(ctx context.Context, tranID string, v Validation) bool {
	if v.TranID != "" && v.TranID != tranID {
		obs.Warn("payment validation tran_id mismatch", map[string]any{"tran_id": tranID, "gateway_tran_id": v.TranID})
		return false
	}
	tx, err := m.store.Transaction(ctx, tranID)
	if errors.Is(err, ErrNotFound) {
		// unknown rows are never written
		return true
	}
	if err != nil {
		return false
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, tx.Currency) {
		obs.Warn("payment validation currency mismatch", map[string]any{"tran_id": tranID, "currency": v.Currency})
		return false
	}
	if v.Amount != "" {
		amt, err := ParseAmount(v.Amount)
		if err != nil || amt != tx.Amount {
			obs.Warn("payment validation amount mismatch", map[string]any{"tran_id": tranID, "amount": v.Amount})
			return false
		}
	}
	return true
}

// record applies update-if-exists. A missing or unknown tranID is logged and
// otherwise ignored.
func (m *Manager) record(ctx context.Context, kind, tranID string, status Status, resp json.RawMessage) Outcome {
	out := Outcome{TranID: tranID, Status: status}
	obs.ObserveCallback(kind, string(status))
	if tranID == "" {
		obs.Warn("payment callback without tran_id", map[string]any{"kind": kind})
		return out
	}
	found, err := m.store.UpdateTransactionStatus(ctx, tranID, status, resp)
	if err != nil {
		obs.Error("payment callback update failed", map[string]any{"kind": kind, "tran_id": tranID, "error": err})
		return out
	}
	if !found {
		obs.Warn("payment callback for unknown transaction", map[string]any{"kind": kind, "tran_id": tranID})
	}
	out.Found = found
	return out
}

// ListMine returns the caller's transactions.
func (m *Manager) ListMine(ctx context.Context, userID string, order Order) ([]Transaction, error) {
	return m.store.TransactionsByUser(ctx, userID, order)
}

// Get returns one transaction to its owner or to admin and staff. Other
// callers get ErrNotFound so ids cannot be enumerated.
func (m *Manager) Get(ctx context.Context, viewer auth.Identity, tranID string) (Transaction, error) {
	tx, err := m.store.Transaction(ctx, tranID)
	if err != nil {
		return Transaction{}, err
	}
	if !viewer.CanActOn(tx.UserID, auth.Auditors...) {
		return Transaction{}, ErrNotFound
	}
	return tx, nil
}

// Helpers -----------------------------------------------------------------

func upstream(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func errorPayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"error": err.Error(),
		"at":    time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

func fieldsPayload(fields map[string]string) json.RawMessage {
	if fields == nil {
		fields = map[string]string{}
	}
	data, _ := json.Marshal(fields)
	return data
}

func semesterLabel(sem int) string {
	if sem <= 0 {
		return "N/A"
	}
	return fmt.Sprint(sem)
}

func semesterValue(sem int) string {
	if sem <= 0 {
		return ""
	}
	return fmt.Sprint(sem)
}

func orNA(s string) string { return fallback(s, "N/A") }

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
