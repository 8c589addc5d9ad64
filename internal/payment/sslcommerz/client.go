// Package sslcommerz adapts the SSLCommerz hosted checkout API to payment.Gateway.
package sslcommerz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"csebu.org/internal/obs"
	"csebu.org/internal/payment"
)

const (
	SandboxBaseURL = "https://sandbox.sslcommerz.com"
	LiveBaseURL    = "https://securepay.sslcommerz.com"

	initPath     = "/gwprocess/v4/api.php"
	validatePath = "/validator/api/validationserverAPI.php"

	defaultTimeout = 6 * time.Second
	defaultRetries = 3
	defaultBackoff = 500 * time.Millisecond
	maxBody        = 1 << 20
)

// Config holds merchant credentials and transport policy.
type Config struct {
	StoreID       string
	StorePassword string
	Live          bool
	// BaseURL overrides the sandbox/live endpoint (tests).
	BaseURL string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// Retries is the number of validate attempts. Init is never retried.
	Retries    int
	Backoff    time.Duration
	HTTPClient *http.Client
}

// Client talks to the gateway over HTTPS.
type Client struct {
	storeID  string
	password string
	baseURL  string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	http     *http.Client
}

var _ payment.Gateway = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.StoreID) == "" || cfg.StorePassword == "" {
		return nil, errors.New("sslcommerz: store id and password are required")
	}
	c := &Client{
		storeID:  cfg.StoreID,
		password: cfg.StorePassword,
		baseURL:  SandboxBaseURL,
		timeout:  cfg.Timeout,
		retries:  cfg.Retries,
		backoff:  cfg.Backoff,
		http:     cfg.HTTPClient,
	}
	if cfg.Live {
		c.baseURL = LiveBaseURL
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retries <= 0 {
		c.retries = defaultRetries
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c, nil
}

type initResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type validationResponse struct {
	Status   string `json:"status"`
	TranID   string `json:"tran_id"`
	ValID    string `json:"val_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// Init opens a checkout session. It is attempted once; the caller's
// transaction row already exists, so a retry would only risk duplicate sessions.
func (c *Client) Init(ctx context.Context, req payment.InitRequest) (payment.InitResult, error) {
	form := c.initForm(req)
	start := time.Now()
	status, body, err := c.do(ctx, http.MethodPost, c.baseURL+initPath, strings.NewReader(form.Encode()))
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("%w: init returned http %d", payment.ErrUpstream, status)
	}
	if err != nil {
		obs.ObserveGateway("init", false, time.Since(start))
		return payment.InitResult{}, err
	}

	var resp initResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		obs.ObserveGateway("init", false, time.Since(start))
		return payment.InitResult{}, fmt.Errorf("%w: decode init response: %v", payment.ErrUpstream, err)
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		obs.ObserveGateway("init", false, time.Since(start))
		reason := resp.FailedReason
		if reason == "" {
			reason = "no gateway page url"
		}
		return payment.InitResult{}, fmt.Errorf("%w: init rejected: %s", payment.ErrUpstream, reason)
	}
	obs.ObserveGateway("init", true, time.Since(start))
	return payment.InitResult{RedirectURL: resp.GatewayPageURL, SessionKey: resp.SessionKey, Raw: body}, nil
}

func (c *Client) initForm(req payment.InitRequest) url.Values {
	cus := req.Customer
	form := url.Values{}
	form.Set("store_id", c.storeID)
	form.Set("store_passwd", c.password)
	form.Set("total_amount", req.Amount.String())
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TranID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.NotifyURL)
	form.Set("shipping_method", "NO")
	form.Set("product_name", req.ProductName)
	form.Set("product_category", req.ProductCategory)
	form.Set("product_profile", "general")
	form.Set("cus_name", cus.Name)
	form.Set("cus_email", cus.Email)
	form.Set("cus_add1", cus.Address.Line1)
	form.Set("cus_add2", cus.Address.Line2)
	form.Set("cus_city", cus.Address.City)
	form.Set("cus_state", cus.Address.State)
	form.Set("cus_postcode", cus.Address.Postcode)
	form.Set("cus_country", cus.Address.Country)
	form.Set("cus_phone", cus.Phone)
	form.Set("cus_fax", cus.Phone)
	form.Set("value_a", req.PassThrough.UserID)
	form.Set("value_b", req.PassThrough.Roll)
	form.Set("value_c", req.PassThrough.Semester)
	form.Set("value_d", string(req.PassThrough.Purpose))
	return form
}

// Validate asks the gateway for its verdict on valID, retrying transport
// errors, 429 and 5xx with exponential backoff.
func (c *Client) Validate(ctx context.Context, valID string) (payment.Validation, error) {
	if strings.TrimSpace(valID) == "" {
		return payment.Validation{}, fmt.Errorf("%w: val_id is required", payment.ErrInvalidInput)
	}
	q := url.Values{}
	q.Set("val_id", valID)
	q.Set("store_id", c.storeID)
	q.Set("store_passwd", c.password)
	q.Set("v", "1")
	q.Set("format", "json")
	endpoint := c.baseURL + validatePath + "?" + q.Encode()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				obs.ObserveGateway("validate", false, time.Since(start))
				return payment.Validation{}, fmt.Errorf("%w: %v", payment.ErrUpstream, ctx.Err())
			}
		}

		status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("%w: validate returned http %d", payment.ErrUpstream, status)
			continue
		}
		if status != http.StatusOK {
			obs.ObserveGateway("validate", false, time.Since(start))
			return payment.Validation{}, fmt.Errorf("%w: validate returned http %d", payment.ErrUpstream, status)
		}

		var resp validationResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			obs.ObserveGateway("validate", false, time.Since(start))
			return payment.Validation{}, fmt.Errorf("%w: decode validation: %v", payment.ErrUpstream, err)
		}
		obs.ObserveGateway("validate", true, time.Since(start))
		return payment.Validation{
			Status:   resp.Status,
			TranID:   resp.TranID,
			ValID:    resp.ValID,
			Amount:   resp.Amount,
			Currency: resp.Currency,
			Raw:      body,
		}, nil
	}
	obs.ObserveGateway("validate", false, time.Since(start))
	return payment.Validation{}, lastErr
}

// do performs one bounded attempt. Transport errors are stripped of the
// request URL, which carries the store password.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request", payment.ErrUpstream)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return 0, nil, fmt.Errorf("%w: %v", payment.ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", payment.ErrUpstream, err)
	}
	return resp.StatusCode, data, nil
}
