package kfactor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrZeroMeasured indicates a K-factor against a zero measured mass.
	ErrZeroMeasured = errors.New("kfactor: zero measured mass")
	// ErrNotFound indicates a missing tracker.
	ErrNotFound = errors.New("kfactor: not found")
)

// Phase is a produced fluid phase.
type Phase string

const (
	PhaseOil   Phase = "oil"
	PhaseGas   Phase = "gas"
	PhaseWater Phase = "water"
)

// Phases lists phases in report order.
var Phases = []Phase{PhaseOil, PhaseGas, PhaseWater}

// Range is the accepted K-factor interval, bounds inclusive.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultRange returns the regulatory interval.
func DefaultRange() Range {
	return Range{Min: 0.8, Max: 1.2}
}

// InRange reports whether k lies within r.
func InRange(k float64, r Range) bool {
	return k >= r.Min && k <= r.Max
}

// Compute returns reference / measured rounded to four decimals.
func Compute(reference, measured float64) (float64, error) {
	if measured == 0 {
		return 0, ErrZeroMeasured
	}
	k, _ := decimal.NewFromFloat(reference).Div(decimal.NewFromFloat(measured)).Round(4).Float64()
	return k, nil
}

// Masses are per-phase masses from one measurement point.
type Masses struct {
	Oil   float64
	Gas   float64
	Water float64
}

func (m Masses) phase(p Phase) float64 {
	switch p {
	case PhaseOil:
		return m.Oil
	case PhaseGas:
		return m.Gas
	default:
		return m.Water
	}
}

// Check is one phase K-factor computed for a meter on a day.
type Check struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	MeterTag      string    `json:"meter_tag"`
	Date          time.Time `json:"date"`
	Phase         Phase     `json:"phase"`
	ReferenceMass float64   `json:"reference_mass"`
	MeasuredMass  float64   `json:"measured_mass"`
	KFactor       float64   `json:"k_factor"`
	InRange       bool      `json:"in_range"`
	CreatedAt     time.Time `json:"created_at"`
}

// BuildChecks computes a check for every phase with a reference mass. A phase
// the meter reads as zero against a reference flow is out of range with K 0.
func BuildChecks(reference, measured Masses, r Range) []Check {
	checks := make([]Check, 0, len(Phases))
	for _, phase := range Phases {
		ref := reference.phase(phase)
		meas := measured.phase(phase)
		if ref == 0 {
			continue
		}
		check := Check{Phase: phase, ReferenceMass: ref, MeasuredMass: meas}
		if k, err := Compute(ref, meas); err == nil {
			check.KFactor = k
			check.InRange = InRange(k, r)
		}
		checks = append(checks, check)
	}
	return checks
}

// DayOutOfRange reports whether any check on the day is out of range.
func DayOutOfRange(checks []Check) bool {
	for _, check := range checks {
		if !check.InRange {
			return true
		}
	}
	return false
}

// TrackerState counts consecutive out-of-range days for a meter. The prior
// fields hold the state before LastDate was applied so a resubmitted day can
// replace its earlier verdict.
type TrackerState struct {
	TenantID              string    `json:"tenant_id"`
	MeterTag              string    `json:"meter_tag"`
	ConsecutiveOutOfRange int       `json:"consecutive_out_of_range"`
	CalibrationRequired   bool      `json:"calibration_required"`
	LastDate              time.Time `json:"last_date,omitempty"`
	LastOutOfRange        bool      `json:"last_out_of_range"`
	PriorConsecutive      int       `json:"-"`
	PriorRequired         bool      `json:"-"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Advance applies one day's result. Days before LastDate are ignored and a
// repeated LastDate replaces that day's verdict without counting twice.
// It returns true when the state changed.
func (s *TrackerState) Advance(day time.Time, outOfRange bool, threshold int, at time.Time) bool {
	switch {
	case s.LastDate.IsZero() || day.After(s.LastDate):
		s.PriorConsecutive = s.ConsecutiveOutOfRange
		s.PriorRequired = s.CalibrationRequired
		s.LastDate = day
	case day.Equal(s.LastDate) && outOfRange != s.LastOutOfRange:
		s.ConsecutiveOutOfRange = s.PriorConsecutive
		s.CalibrationRequired = s.PriorRequired
	default:
		return false
	}
	s.UpdatedAt = at
	s.LastOutOfRange = outOfRange
	if !outOfRange {
		s.ConsecutiveOutOfRange = 0
		return true
	}
	s.ConsecutiveOutOfRange++
	if threshold > 0 && s.ConsecutiveOutOfRange >= threshold {
		s.CalibrationRequired = true
	}
	return true
}

// Reset clears the counter and the calibration flag.
func (s *TrackerState) Reset(at time.Time) {
	s.ConsecutiveOutOfRange = 0
	s.CalibrationRequired = false
	s.LastOutOfRange = false
	s.PriorConsecutive = 0
	s.PriorRequired = false
	s.UpdatedAt = at
}

// HistoryFilter narrows check listings.
type HistoryFilter struct {
	MeterTag string
	Phase    Phase
	From     time.Time
	To       time.Time
	Limit    int
}

// HistoryRepository persists K-factor checks.
type HistoryRepository interface {
	Save(ctx context.Context, checks []Check) error
	List(ctx context.Context, tenantID string, filter HistoryFilter) ([]Check, error)
}

// TrackerRepository persists tracker states.
type TrackerRepository interface {
	Get(ctx context.Context, tenantID, meterTag string) (*TrackerState, error)
	Save(ctx context.Context, state *TrackerState) error
	List(ctx context.Context, tenantID string, onlyRequired bool) ([]TrackerState, error)
}
