package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in the currency's minor units (cents for USD).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
}

func (m Money) Validate() error {
	if m.Amount < 0 {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if len(m.Currency) != 3 || strings.ToUpper(m.Currency) != m.Currency {
		return &ValidationError{Field: "currency", Message: "must be an ISO 4217 code"}
	}
	return nil
}

func (m Money) exponent() int32 {
	if zeroDecimalCurrencies[m.Currency] {
		return 0
	}
	return 2
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -m.exponent())
}

func (m Money) String() string {
	return m.Decimal().StringFixed(m.exponent()) + " " + m.Currency
}
