// Package balance implements per-payment-method money vectors used for
// register opening, expected, closing and discrepancy balances.
package balance

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	Cash        PaymentMethod = "cash"
	Card        PaymentMethod = "card"
	Bank        PaymentMethod = "bank"
	Wave        PaymentMethod = "wave"
	Mobile      PaymentMethod = "mobile"
	Unspecified PaymentMethod = "unspecified"
)

// Methods lists every payment method in canonical order.
var Methods = [...]PaymentMethod{Cash, Card, Bank, Wave, Mobile, Unspecified}

var (
	ErrUnknownMethod = errors.New("unknown payment method")
	ErrMissingMethod = errors.New("missing payment method")
)

func (m PaymentMethod) Valid() bool {
	return m.index() >= 0
}

func (m PaymentMethod) index() int {
	for i, candidate := range Methods {
		if candidate == m {
			return i
		}
	}
	return -1
}

// ParseMethod normalizes raw input into a PaymentMethod.
func ParseMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, raw)
	}
	return m, nil
}

// Vector holds one amount per payment method. Every method is always
// present; the zero value is the all-zero vector.
type Vector struct {
	amounts [len(Methods)]decimal.Decimal
}

func Zero() Vector {
	return Vector{}
}

// FromMap builds a vector from a keyed map. Every method must be present.
func FromMap(values map[PaymentMethod]decimal.Decimal) (Vector, error) {
	var v Vector
	for key := range values {
		if !key.Valid() {
			return Vector{}, fmt.Errorf("%w: %q", ErrUnknownMethod, key)
		}
	}
	for i, m := range Methods {
		amount, ok := values[m]
		if !ok {
			return Vector{}, fmt.Errorf("%w: %s", ErrMissingMethod, m)
		}
		v.amounts[i] = amount
	}
	return v, nil
}

// Of builds a vector from the given non-zero amounts; omitted methods are zero.
func Of(values map[PaymentMethod]decimal.Decimal) (Vector, error) {
	var v Vector
	for m, amount := range values {
		i := m.index()
		if i < 0 {
			return Vector{}, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
		}
		v.amounts[i] = amount
	}
	return v, nil
}

// Amount returns the amount for m. It panics on an unknown method, which
// can only happen when a caller skipped validation.
func (v Vector) Amount(m PaymentMethod) decimal.Decimal {
	i := m.index()
	if i < 0 {
		panic(fmt.Sprintf("balance: unknown payment method %q", m))
	}
	return v.amounts[i]
}

func (v Vector) Map() map[PaymentMethod]decimal.Decimal {
	out := make(map[PaymentMethod]decimal.Decimal, len(Methods))
	for i, m := range Methods {
		out[m] = v.amounts[i]
	}
	return out
}

func Add(a, b Vector) Vector {
	var out Vector
	for i := range out.amounts {
		out.amounts[i] = a.amounts[i].Add(b.amounts[i])
	}
	return out
}

func Subtract(a, b Vector) Vector {
	var out Vector
	for i := range out.amounts {
		out.amounts[i] = a.amounts[i].Sub(b.amounts[i])
	}
	return out
}

// ScaleByMethod returns a copy of v with delta added to the given method.
func ScaleByMethod(v Vector, m PaymentMethod, delta decimal.Decimal) (Vector, error) {
	i := m.index()
	if i < 0 {
		return Vector{}, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
	v.amounts[i] = v.amounts[i].Add(delta)
	return v, nil
}

func IsZero(v Vector) bool {
	for _, amount := range v.amounts {
		if !amount.IsZero() {
			return false
		}
	}
	return true
}

func Sum(v Vector) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range v.amounts {
		total = total.Add(amount)
	}
	return total
}

func (v Vector) Negate() Vector {
	var out Vector
	for i, amount := range v.amounts {
		out.amounts[i] = amount.Neg()
	}
	return out
}

// HasNegative reports whether any method carries a negative amount.
func (v Vector) HasNegative() bool {
	for _, amount := range v.amounts {
		if amount.IsNegative() {
			return true
		}
	}
	return false
}

// Shortage returns the methods whose amount is negative, in canonical order.
func (v Vector) Shortage() []PaymentMethod {
	var short []PaymentMethod
	for i, amount := range v.amounts {
		if amount.IsNegative() {
			short = append(short, Methods[i])
		}
	}
	return short
}

func (v Vector) Equal(other Vector) bool {
	for i := range v.amounts {
		if !v.amounts[i].Equal(other.amounts[i]) {
			return false
		}
	}
	return true
}

// Format renders the non-zero methods in the given ISO currency, for
// example "cash=-$5.00 card=$80.00". The all-zero vector renders as "0".
func (v Vector) Format(currency string) string {
	cur := money.GetCurrency(currency)
	parts := make([]string, 0, len(Methods))
	for i, amount := range v.amounts {
		if amount.IsZero() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", Methods[i], formatAmount(amount, cur, currency)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

func formatAmount(amount decimal.Decimal, cur *money.Currency, code string) string {
	if cur == nil {
		return amount.String()
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}

func (v Vector) String() string {
	parts := make([]string, len(Methods))
	for i, amount := range v.amounts {
		parts[i] = fmt.Sprintf("%s:%s", Methods[i], amount.String())
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func (v Vector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON requires all six methods and rejects unknown keys.
func (v *Vector) UnmarshalJSON(data []byte) error {
	var raw map[PaymentMethod]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
