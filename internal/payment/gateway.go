package payment

import (
	"context"
	"encoding/json"
	"strings"
)

// Gateway is the external payment processor.
type Gateway interface {
	// Init opens a hosted checkout session.
	Init(ctx context.Context, req InitRequest) (InitResult, error)
	// Validate asks the processor to confirm a completed payment by validation id.
	Validate(ctx context.Context, valID string) (Validation, error)
}

// Address is a postal address sent with the customer block.
type Address struct {
	Line1    string
	Line2    string
	City     string
	State    string
	Postcode string
	Country  string
}

// Customer identifies the payer to the gateway.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// PassThrough values are echoed back by the gateway on callbacks.
type PassThrough struct {
	UserID   string
	Roll     string
	Semester string
	Purpose  Purpose
}

// InitRequest is everything the gateway needs to open a checkout session.
type InitRequest struct {
	TranID          string
	Amount          Amount
	Currency        string
	SuccessURL      string
	FailURL         string
	CancelURL       string
	NotifyURL       string
	ProductName     string
	ProductCategory string
	Customer        Customer
	PassThrough     PassThrough
}

// InitResult carries the hosted checkout URL returned by the gateway.
type InitResult struct {
	RedirectURL string
	SessionKey  string
	Raw         json.RawMessage
}

// Validation is the gateway's independent verdict on a payment.
type Validation struct {
	Status   string
	TranID   string
	ValID    string
	Amount   string
	Currency string
	Raw      json.RawMessage
}

// Valid reports whether the gateway confirmed the payment.
func (v Validation) Valid() bool {
	switch strings.ToUpper(strings.TrimSpace(v.Status)) {
	case "VALID", "VALIDATED":
		return true
	}
	return false
}
