package money

import (
	"errors"
	"fmt"
	"math/big"
)

// NanosPerUnit is the number of nanos in one currency unit.
const NanosPerUnit = 1_000_000_000

// Money is a fixed-point amount of a single currency. Nanos carries the
// sub-unit remainder and stays in [0, NanosPerUnit) after every operation.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Units        int64  `json:"units"`
	Nanos        int32  `json:"nanos"`
}

// New constructs a Money and normalizes nanos into range.
func New(currencyCode string, units int64, nanos int64) (Money, error) {
	if currencyCode == "" {
		return Money{}, ErrMissingCurrencyCode
	}

	total := units*NanosPerUnit + nanos
	if total < 0 {
		return Money{}, ErrNegativeAmount
	}

	return fromTotalNanos(currencyCode, total), nil
}

// TotalNanos returns the amount as a single nanos figure.
func (m Money) TotalNanos() int64 {
	return m.Units*NanosPerUnit + int64(m.Nanos)
}

// Add returns the sum of two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.CurrencyCode != other.CurrencyCode {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.CurrencyCode, other.CurrencyCode)
	}
	return fromTotalNanos(m.CurrencyCode, m.TotalNanos()+other.TotalNanos()), nil
}

// Mul returns the amount multiplied by a non-negative integer quantity.
func (m Money) Mul(quantity int64) (Money, error) {
	if quantity < 0 {
		return Money{}, ErrNegativeAmount
	}
	total := new(big.Int).Mul(big.NewInt(m.TotalNanos()), big.NewInt(quantity))
	if !total.IsInt64() {
		return Money{}, ErrAmountOverflow
	}
	return fromTotalNanos(m.CurrencyCode, total.Int64()), nil
}

func (m Money) String() string {
	return fmt.Sprintf("%s %d.%09d", m.CurrencyCode, m.Units, m.Nanos)
}

func fromTotalNanos(currencyCode string, total int64) Money {
	return Money{
		CurrencyCode: currencyCode,
		Units:        total / NanosPerUnit,
		Nanos:        int32(total % NanosPerUnit),
	}
}

var (
	ErrMissingCurrencyCode = errors.New("currency code is required")
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrCurrencyMismatch    = errors.New("currency codes do not match")
	ErrAmountOverflow      = errors.New("amount overflows fixed-point range")
)
