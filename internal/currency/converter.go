// Package currency normalizes bid prices to USD. Conversion failures are
// soft: a bid with an unknown currency keeps its original price and simply
// has no USD value for ranking.
package currency

import (
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// USDPrecision is the decimal places kept on normalized CPM values
const USDPrecision = 3

// Converter resolves a CPM in an arbitrary currency to USD. The boolean is
// false when no rate is known for the currency.
type Converter interface {
	ToUSD(amount float64, currency string) (float64, bool)
}

// ToUSD normalizes a CPM through conv, returning nil when the amount is not a
// positive finite number or the currency has no known rate. Empty currency is
// treated as USD.
func ToUSD(conv Converter, amount float64, currency string) *float64 {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil
	}

	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" || cur == "USD" {
		v := round(amount)
		return &v
	}

	if conv == nil {
		return nil
	}
	converted, ok := conv.ToUSD(amount, cur)
	if !ok {
		return nil
	}
	v := round(converted)
	return &v
}

func round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(USDPrecision).Float64()
	return f
}

// Static converts using a fixed USD-per-unit rate table
type Static struct {
	mu    sync.RWMutex
	rates map[string]float64
}

// NewStatic creates a converter over a rate table keyed by uppercase currency
// code, each value being USD per one unit of that currency
func NewStatic(rates map[string]float64) *Static {
	normalized := make(map[string]float64, len(rates))
	for code, rate := range rates {
		if rate > 0 {
			normalized[strings.ToUpper(code)] = rate
		}
	}
	return &Static{rates: normalized}
}

// DefaultRates is a conservative fallback table used when no live rate source
// is configured
func DefaultRates() map[string]float64 {
	return map[string]float64{
		"EUR": 1.08,
		"GBP": 1.27,
		"CAD": 0.73,
		"AUD": 0.66,
		"JPY": 0.0067,
	}
}

// ToUSD implements Converter
func (s *Static) ToUSD(amount float64, currency string) (float64, bool) {
	s.mu.RLock()
	rate, ok := s.rates[currency]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

// Update replaces the rate table
func (s *Static) Update(rates map[string]float64) {
	normalized := make(map[string]float64, len(rates))
	for code, rate := range rates {
		if rate > 0 {
			normalized[strings.ToUpper(code)] = rate
		}
	}
	s.mu.Lock()
	s.rates = normalized
	s.mu.Unlock()
}
