package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrUnsupportedCurrency is returned for an unknown ISO currency code.
	ErrUnsupportedCurrency = errors.New("money: unsupported currency")
	// ErrNegativeAmount is returned when a non-negative amount is required.
	ErrNegativeAmount = errors.New("money: amount cannot be negative")
)

// minor-unit exponents for currencies that deviate from the common 2.
var minorUnits = map[string]int32{
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "OMR": 3, "TND": 3,
	"JPY": 0, "KRW": 0, "VND": 0, "IDR": 0,
}

// Money is a fixed-point amount in a single ISO currency. Arithmetic keeps
// full decimal precision; callers round explicitly via Round when a value
// crosses a persistence or wire boundary.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// New builds a Money from a decimal amount and an ISO currency code.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if len(code) != 3 {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return Money{amount: amount, currency: code}, nil
}

// FromString parses a decimal string amount, e.g. "299.99".
func FromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return New(d, currency)
}

// MustParse is a test and fixture helper that panics on malformed input.
func MustParse(amount, currency string) Money {
	m, err := FromString(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Amount exposes the underlying decimal.
func (m Money) Amount() decimal.Decimal { return m.amount }

// Currency returns the ISO currency code.
func (m Money) Currency() string { return m.currency }

// MinorUnitExponent returns the number of decimal places for the currency.
func (m Money) MinorUnitExponent() int32 {
	if exp, ok := minorUnits[m.currency]; ok {
		return exp
	}
	return 2
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Mul scales the amount by the given factor without rounding.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{amount: m.amount.Mul(factor), currency: m.currency}
}

// MulBps applies a basis-point rate (e.g. 1000 bps = 10%) without rounding.
func (m Money) MulBps(bps int64) Money {
	return m.Mul(decimal.New(bps, -4))
}

// Ratio returns m / denominator as an unrounded decimal share.
func (m Money) Ratio(denominator Money) (decimal.Decimal, error) {
	if err := m.sameCurrency(denominator); err != nil {
		return decimal.Zero, err
	}
	if denominator.amount.IsZero() {
		return decimal.Zero, errors.New("money: division by zero amount")
	}
	return m.amount.Div(denominator.amount), nil
}

// Round rounds half-up to the currency's minor-unit precision. Amounts in
// this domain are non-negative, so half away from zero and half up coincide.
func (m Money) Round() Money {
	return Money{amount: m.amount.Round(m.MinorUnitExponent()), currency: m.currency}
}

// Cmp compares amounts; it panics never and returns an error on mixed currencies.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.amount.IsNegative() }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.amount.IsZero() }

// Equal reports amount and currency equality.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// String renders the amount at minor-unit precision with the currency code.
func (m Money) String() string {
	return m.amount.StringFixed(m.MinorUnitExponent()) + " " + m.currency
}

type wireMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes as {"amount": "12.34", "currency": "USD"}. Raw floats
// never cross a boundary.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMoney{
		Amount:   m.amount.StringFixed(m.MinorUnitExponent()),
		Currency: m.currency,
	})
}

// UnmarshalJSON decodes the decimal-string wire form.
func (m *Money) UnmarshalJSON(data []byte) error {
	var w wireMoney
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := FromString(w.Amount, w.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

// Sum adds a sequence of amounts sharing one currency. The zero value of the
// first element's currency seeds the accumulator.
func Sum(values ...Money) (Money, error) {
	if len(values) == 0 {
		return Money{}, errors.New("money: sum of empty sequence")
	}
	total := Zero(values[0].currency)
	for _, v := range values {
		var err error
		total, err = total.Add(v)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
