package monitoring

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrZeroReference indicates a balance against a zero reference mass.
var ErrZeroReference = errors.New("monitoring: zero reference mass")

// Status is the classification of a monitoring row.
type Status string

const (
	StatusOK    Status = "OK"
	StatusAlert Status = "ALERT"
	StatusFail  Status = "FAIL"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	return s == StatusOK || s == StatusAlert || s == StatusFail
}

// Limits are the percentage limits applied to a row.
type Limits struct {
	HCAlertPct        float64
	HCFailPct         float64
	TotalAlertPct     float64
	TotalFailPct      float64
	SeparatorAlertPct float64
}

// DefaultLimits returns the regulatory limits.
func DefaultLimits() Limits {
	return Limits{HCAlertPct: 7, HCFailPct: 10, TotalAlertPct: 5, TotalFailPct: 7, SeparatorAlertPct: 5}
}

// BalancePercent returns (measured - reference) / reference * 100 rounded to two decimals.
func BalancePercent(measured, reference float64) (float64, error) {
	if reference == 0 {
		return 0, ErrZeroReference
	}
	m := decimal.NewFromFloat(measured)
	r := decimal.NewFromFloat(reference)
	pct, _ := m.Sub(r).Div(r).Mul(decimal.NewFromInt(100)).Round(2).Float64()
	return pct, nil
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	out, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return out
}

// Classify derives the row status. Nil balances are ignored.
func Classify(hc, total, separator *float64, limits Limits) Status {
	if exceeds(hc, limits.HCFailPct) || exceeds(total, limits.TotalFailPct) {
		return StatusFail
	}
	if exceeds(hc, limits.HCAlertPct) || exceeds(total, limits.TotalAlertPct) || exceeds(separator, limits.SeparatorAlertPct) {
		return StatusAlert
	}
	return StatusOK
}

func exceeds(value *float64, limit float64) bool {
	return value != nil && math.Abs(*value) > limit
}
