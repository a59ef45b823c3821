package money

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

//go:embed rates.json
var ratesJSON []byte

// ErrUnknownCurrency is returned for currency codes absent from the rates table.
var ErrUnknownCurrency = errors.New("unknown currency code")

// Converter converts fixed-point amounts between currencies using a table of
// rates relative to EUR. Rates are held as nanos-scaled integers so the
// conversion stays exact up to nanos rounding, with no float drift.
type Converter struct {
	rateNanos map[string]int64
}

// NewConverter loads the embedded rates table.
func NewConverter() (*Converter, error) {
	var raw map[string]string
	if err := json.Unmarshal(ratesJSON, &raw); err != nil {
		return nil, fmt.Errorf("parse rates: %w", err)
	}

	rates := make(map[string]int64, len(raw))
	for code, rate := range raw {
		nanos, err := parseRateNanos(rate)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		rates[code] = nanos
	}
	return &Converter{rateNanos: rates}, nil
}

// Codes returns the supported currency codes, sorted.
func (c *Converter) Codes() []string {
	codes := make([]string, 0, len(c.rateNanos))
	for code := range c.rateNanos {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Convert returns the amount expressed in toCode. Converting to the amount's
// own currency is the identity.
func (c *Converter) Convert(m Money, toCode string) (Money, error) {
	from, ok := c.rateNanos[m.CurrencyCode]
	if !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, m.CurrencyCode)
	}
	to, ok := c.rateNanos[toCode]
	if !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, toCode)
	}

	if m.CurrencyCode == toCode {
		return m, nil
	}

	// total * to / from in big integers; both rates carry the same scale so
	// it cancels out.
	total := new(big.Int).Mul(big.NewInt(m.TotalNanos()), big.NewInt(to))
	total.Quo(total, big.NewInt(from))
	if !total.IsInt64() {
		return Money{}, ErrAmountOverflow
	}

	return fromTotalNanos(toCode, total.Int64()), nil
}

// parseRateNanos parses a decimal rate string into a nanos-scaled integer,
// truncating past nine fractional digits.
func parseRateNanos(rate string) (int64, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(rate), ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))

	var total int64
	for _, digits := range []string{whole, frac} {
		for _, r := range digits {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("malformed rate %q", rate)
			}
			total = total*10 + int64(r-'0')
		}
	}
	if total <= 0 {
		return 0, fmt.Errorf("rate %q must be positive", rate)
	}
	return total, nil
}
