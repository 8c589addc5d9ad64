package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultCurrency is the only currency the department gateway account accepts.
const DefaultCurrency = "BDT"

type Purpose string

const (
	PurposeSemesterFee  Purpose = "semester_fee"
	PurposeAdmissionFee Purpose = "admission_fee"
	PurposeWelfareFee   Purpose = "welfare_fee"
	PurposeOther        Purpose = "other"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeSemesterFee, PurposeAdmissionFee, PurposeWelfareFee, PurposeOther:
		return true
	}
	return false
}

// Label renders the purpose as a product name, e.g. "SEMESTER FEE".
func (p Purpose) Label() string {
	return strings.ToUpper(strings.ReplaceAll(string(p), "_", " "))
}

type Method string

const (
	MethodMobileBanking Method = "mobile_banking"
	MethodCard          Method = "card"
	MethodOther         Method = "other"
)

func (m Method) Valid() bool {
	switch m {
	case MethodMobileBanking, MethodCard, MethodOther:
		return true
	}
	return false
}

// Status is the transaction state. Initiated is the only non-terminal state.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Amount is represented in minor units (poisha). No floats.
type Amount int64

// ParseAmount reads a decimal amount with at most two fractional digits.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if strings.HasPrefix(whole, "-") {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	if !digits(whole) || (hasFrac && !digits(frac)) {
		return 0, fmt.Errorf("%w: malformed amount %q", ErrInvalidInput, s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: amount %q must have at most two decimals", ErrInvalidInput, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (math.MaxInt64-99)/100 {
		return 0, fmt.Errorf("%w: amount %q is out of range", ErrInvalidInput, s)
	}
	f, _ := strconv.ParseInt(frac, 10, 64)
	return Amount(w*100 + f), nil
}

// digits reports whether s is a non-empty run of ASCII digits.
func digits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String formats the amount with two decimals, e.g. "500.00".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Transaction is one payment attempt keyed by its gateway transaction id.
type Transaction struct {
	TranID          string          `json:"tranId"`
	UserID          string          `json:"userId"`
	Roll            string          `json:"roll"`
	Semester        string          `json:"semester"`
	Purpose         Purpose         `json:"purpose"`
	Description     string          `json:"otherDescription"`
	Method          Method          `json:"method"`
	Amount          Amount          `json:"amount"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	Gateway         string          `json:"gateway"`
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

var (
	ErrNotFound     = errors.New("payment: not found")
	ErrInvalidInput = errors.New("payment: invalid input")
	ErrUpstream     = errors.New("payment: gateway unavailable")
	ErrDuplicate    = errors.New("payment: duplicate transaction id")
)
