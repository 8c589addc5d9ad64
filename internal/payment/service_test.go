package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csebu.org/internal/auth"
)

type fakeGateway struct {
	mu          sync.Mutex
	store       Store
	initErr     error
	redirect    string
	validations map[string]Validation
	validateErr error
	seenInit    []InitRequest
	seenAtInit  []Status
}

func (g *fakeGateway) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seenInit = append(g.seenInit, req)
	if tx, err := g.store.Transaction(ctx, req.TranID); err == nil {
		g.seenAtInit = append(g.seenAtInit, tx.Status)
	}
	if g.initErr != nil {
		return InitResult{}, g.initErr
	}
	return InitResult{RedirectURL: g.redirect}, nil
}

func (g *fakeGateway) Validate(ctx context.Context, valID string) (Validation, error) {
	if g.validateErr != nil {
		return Validation{}, g.validateErr
	}
	v, ok := g.validations[valID]
	if !ok {
		return Validation{Status: "INVALID_TRANSACTION"}, nil
	}
	return v, nil
}

func newTestManager(t *testing.T) (*Manager, *InMemory, *fakeGateway) {
	t.Helper()
	store := NewInMemory()
	gw := &fakeGateway{store: store, redirect: "https://sandbox.example/pay/abc", validations: map[string]Validation{}}
	m := NewManager(store, gw, Config{ServerOrigin: "https://api.example/", AppOrigin: "https://app.example"})
	return m, store, gw
}

var alice = Payer{UserID: "u-alice", Name: "Alice", Email: "a@b.edu", Roll: "17CSE001", Semester: 5}

func createSemesterFee(t *testing.T, m *Manager) Session {
	t.Helper()
	sess, err := m.CreateSession(context.Background(), alice, CreateInput{
		Purpose: PurposeSemesterFee, Method: MethodMobileBanking, Amount: 50000,
	})
	require.NoError(t, err)
	return sess
}

func TestCreateSessionPersistsInitiatedBeforeGateway(t *testing.T) {
	m, store, gw := newTestManager(t)

	sess := createSemesterFee(t, m)
	assert.Equal(t, "https://sandbox.example/pay/abc", sess.GatewayURL)
	assert.NotEmpty(t, sess.TranID)

	require.Equal(t, []Status{StatusInitiated}, gw.seenAtInit)
	req := gw.seenInit[0]
	assert.Equal(t, sess.TranID, req.TranID)
	assert.Equal(t, Amount(50000), req.Amount)
	assert.Equal(t, "BDT", req.Currency)
	assert.Equal(t, "https://api.example/api/payments/ssl/success", req.SuccessURL)
	assert.Equal(t, "https://api.example/api/payments/ssl/ipn", req.NotifyURL)
	assert.Equal(t, "SEMESTER FEE", req.ProductName)
	assert.Equal(t, DefaultAddress, req.Customer.Address)
	assert.Equal(t, PassThrough{UserID: "u-alice", Roll: "17CSE001", Semester: "5", Purpose: PurposeSemesterFee}, req.PassThrough)

	tx, err := store.Transaction(context.Background(), sess.TranID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, tx.Status)
	assert.Equal(t, "5", tx.Semester)
}

func TestCreateSessionScenario(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var in CreateInput
	require.NoError(t, json.Unmarshal([]byte(`{"purpose":"semester_fee","method":"mobile_banking","amount":500}`), &in))
	sess, err := m.CreateSession(ctx, alice, in)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.GatewayURL)

	tx, err := m.Get(ctx, auth.Identity{ID: alice.UserID, Role: auth.RoleStudent}, sess.TranID)
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, tx.Status)
	assert.Equal(t, Amount(50000), tx.Amount)
}

func TestCreateSessionValidation(t *testing.T) {
	m, _, gw := newTestManager(t)
	ctx := context.Background()
	cases := map[string]CreateInput{
		"no purpose":          {Method: MethodCard, Amount: 100},
		"bad method":          {Purpose: PurposeWelfareFee, Method: "cash", Amount: 100},
		"zero amount":         {Purpose: PurposeWelfareFee, Method: MethodCard},
		"other without descr": {Purpose: PurposeOther, Method: MethodCard, Amount: 100},
	}
	for name, in := range cases {
		_, err := m.CreateSession(ctx, alice, in)
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}
	assert.Empty(t, gw.seenInit)

	_, err := m.CreateSession(ctx, alice, CreateInput{Purpose: PurposeOther, Description: "lab deposit", Method: MethodCard, Amount: 100})
	assert.NoError(t, err)
}

func TestCreateSessionGatewayRejectionKeepsRow(t *testing.T) {
	for name, gwSetup := range map[string]func(*fakeGateway){
		"error":       func(g *fakeGateway) { g.initErr = errors.New("connection refused") },
		"no redirect": func(g *fakeGateway) { g.redirect = "" },
	} {
		t.Run(name, func(t *testing.T) {
			m, store, gw := newTestManager(t)
			gwSetup(gw)
			_, err := m.CreateSession(context.Background(), alice, CreateInput{Purpose: PurposeSemesterFee, Method: MethodCard, Amount: 100})
			require.ErrorIs(t, err, ErrUpstream)

			require.Len(t, gw.seenInit, 1)
			tx, err := store.Transaction(context.Background(), gw.seenInit[0].TranID)
			require.NoError(t, err)
			assert.Equal(t, StatusInitiated, tx.Status)
			assert.Contains(t, string(tx.GatewayResponse), "error")
		})
	}
}

func TestTranIDsAreDistinct(t *testing.T) {
	m, _, _ := newTestManager(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		sess := createSemesterFee(t, m)
		require.False(t, seen[sess.TranID], "duplicate %s", sess.TranID)
		seen[sess.TranID] = true
	}
}

func TestSuccessRequiresGatewayValidation(t *testing.T) {
	m, store, gw := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)

	// forged redirect: body claims VALID but the gateway disagrees
	forged := CallbackFromForm(url.Values{"tran_id": {sess.TranID}, "val_id": {"forged"}, "status": {"VALID"}})
	out, err := m.Success(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	tx, _ := store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusFailed, tx.Status)

	gw.validations["v1"] = Validation{Status: "VALID", TranID: sess.TranID, Amount: "500.00", Currency: "BDT", Raw: json.RawMessage(`{"status":"VALID"}`)}
	out, err = m.Success(ctx, Callback{TranID: sess.TranID, ValID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Found)
	tx, _ = store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusSuccess, tx.Status)
	assert.JSONEq(t, `{"status":"VALID"}`, string(tx.GatewayResponse))
}

func TestSuccessCrossChecksEcho(t *testing.T) {
	cases := map[string]Validation{
		"amount":   {Status: "VALIDATED", Amount: "1.00", Currency: "BDT"},
		"currency": {Status: "VALIDATED", Amount: "500.00", Currency: "USD"},
		"tran id":  {Status: "VALIDATED", TranID: "TXNOTHER", Amount: "500.00"},
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			m, store, gw := newTestManager(t)
			ctx := context.Background()
			sess := createSemesterFee(t, m)
			gw.validations["v"] = v
			out, err := m.Success(ctx, Callback{TranID: sess.TranID, ValID: "v"})
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, out.Status)
			tx, _ := store.Transaction(ctx, sess.TranID)
			assert.Equal(t, StatusFailed, tx.Status)
		})
	}
}

func TestSuccessUpstreamErrorDegradesToFailed(t *testing.T) {
	m, store, gw := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)
	gw.validateErr = fmt.Errorf("%w: timeout", ErrUpstream)

	out, err := m.Success(ctx, Callback{TranID: sess.TranID, ValID: "v1"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, StatusFailed, out.Status)
	tx, _ := store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusFailed, tx.Status)
}

func TestTerminalCallbacksAreIdempotent(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)
	cb := CallbackFromForm(url.Values{"tran_id": {sess.TranID}, "status": {"CANCELLED"}})

	for i := 0; i < 2; i++ {
		out := m.Cancel(ctx, cb)
		assert.Equal(t, StatusCanceled, out.Status)
		assert.True(t, out.Found)
		tx, err := store.Transaction(ctx, sess.TranID)
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, tx.Status)
		assert.JSONEq(t, fmt.Sprintf(`{"tran_id":%q,"status":"CANCELLED"}`, sess.TranID), string(tx.GatewayResponse))
	}

	// redelivery of a different terminal status overwrites
	out := m.Fail(ctx, cb)
	assert.Equal(t, StatusFailed, out.Status)
	tx, _ := store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusFailed, tx.Status)
}

func TestCallbacksTolerateUnknownTranID(t *testing.T) {
	m, _, gw := newTestManager(t)
	ctx := context.Background()
	gw.validations["v"] = Validation{Status: "VALID"}

	assert.False(t, m.Fail(ctx, Callback{TranID: "TXNNOPE"}).Found)
	assert.False(t, m.Cancel(ctx, Callback{}).Found)
	out, err := m.Success(ctx, Callback{TranID: "TXNNOPE", ValID: "v"})
	assert.NoError(t, err)
	assert.False(t, out.Found)
	out, err = m.Notify(ctx, Callback{TranID: "TXNNOPE", ValID: "v"})
	assert.NoError(t, err)
	assert.False(t, out.Found)
}

func TestNotify(t *testing.T) {
	m, store, gw := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)

	out, err := m.Notify(ctx, Callback{TranID: sess.TranID})
	require.NoError(t, err)
	assert.False(t, out.Found)
	tx, _ := store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusInitiated, tx.Status)

	gw.validateErr = errors.New("dial tcp: i/o timeout")
	_, err = m.Notify(ctx, Callback{TranID: sess.TranID, ValID: "v"})
	assert.ErrorIs(t, err, ErrUpstream)
	tx, _ = store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusInitiated, tx.Status)

	gw.validateErr = nil
	gw.validations["v"] = Validation{Status: "VALID", TranID: sess.TranID, Amount: "500", Currency: "BDT"}
	out, err = m.Notify(ctx, Callback{TranID: sess.TranID, ValID: "v"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, out.Status)
	tx, _ = store.Transaction(ctx, sess.TranID)
	assert.Equal(t, StatusSuccess, tx.Status)
}

func TestConcurrentCallbacksConverge(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb := Callback{TranID: sess.TranID, Fields: map[string]string{"n": fmt.Sprint(i)}}
			if i%2 == 0 {
				m.Fail(ctx, cb)
			} else {
				m.Cancel(ctx, cb)
			}
		}(i)
	}
	wg.Wait()

	tx, err := store.Transaction(ctx, sess.TranID)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusFailed, StatusCanceled}, tx.Status)
	var body map[string]string
	require.NoError(t, json.Unmarshal(tx.GatewayResponse, &body))
	assert.Contains(t, body, "n")
}

func TestGetVisibility(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	sess := createSemesterFee(t, m)

	_, err := m.Get(ctx, auth.Identity{ID: "someone-else", Role: auth.RoleStudent}, sess.TranID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, auth.Identity{ID: "s", Role: auth.RoleStaff}, sess.TranID)
	assert.NoError(t, err)
	_, err = m.Get(ctx, auth.Identity{ID: "a", Role: auth.RoleAdmin}, sess.TranID)
	assert.NoError(t, err)
	_, err = m.Get(ctx, auth.Identity{ID: alice.UserID}, "TXNMISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMineOrdering(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	first := createSemesterFee(t, m)
	second := createSemesterFee(t, m)

	desc, err := m.ListMine(ctx, alice.UserID, NewestFirst)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, second.TranID, desc[0].TranID)

	asc, err := m.ListMine(ctx, alice.UserID, ParseOrder("asc"))
	require.NoError(t, err)
	assert.Equal(t, first.TranID, asc[0].TranID)

	none, err := m.ListMine(ctx, "nobody", NewestFirst)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResultURL(t *testing.T) {
	m, _, _ := newTestManager(t)
	assert.Equal(t, "https://app.example/payment/result?status=success&tranId=TXN1", m.ResultURL(StatusSuccess, "TXN1"))
}

// stallingGateway blocks every call until the caller's context ends.
type stallingGateway struct{}

func (stallingGateway) Init(ctx context.Context, req InitRequest) (InitResult, error) {
	<-ctx.Done()
	return InitResult{}, fmt.Errorf("%w: %v", ErrUpstream, ctx.Err())
}

func (stallingGateway) Validate(ctx context.Context, valID string) (Validation, error) {
	<-ctx.Done()
	return Validation{}, fmt.Errorf("%w: %v", ErrUpstream, ctx.Err())
}

func TestGatewayBudgetBoundsSlowGateway(t *testing.T) {
	store := NewInMemory()
	m := NewManager(store, stallingGateway{}, Config{
		ServerOrigin:  "https://api.example",
		AppOrigin:     "https://app.example",
		GatewayBudget: 50 * time.Millisecond,
	}, WithIDGenerator(func() string { return "TXNSLOW" }))
	ctx := context.Background()

	start := time.Now()
	_, err := m.CreateSession(ctx, Payer{UserID: "u1"}, CreateInput{Purpose: PurposeSemesterFee, Method: MethodCard, Amount: 50000})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Less(t, time.Since(start), 2*time.Second)

	tx, err := store.Transaction(ctx, "TXNSLOW")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, tx.Status)

	start = time.Now()
	out, err := m.Success(ctx, Callback{TranID: "TXNSLOW", ValID: "v1"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusFailed, out.Status)

	tx, err = store.Transaction(ctx, "TXNSLOW")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, tx.Status)
}
