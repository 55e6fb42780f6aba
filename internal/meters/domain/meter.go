package meters

import (
	"context"
	"errors"
	"strings"
	"time"

	"mpfm-monitor/internal/validation"
)

// Location is where a meter is installed.
type Location string

const (
	LocationTopside Location = "TOPSIDE"
	LocationSubsea  Location = "SUBSEA"
)

// DefaultCalibrationIntervalDays applies when a meter has no explicit interval.
const DefaultCalibrationIntervalDays = 365

var (
	// ErrNotFound indicates a missing meter.
	ErrNotFound = errors.New("meter: not found")
	// ErrDuplicateTag indicates the tag is already registered for the tenant.
	ErrDuplicateTag = errors.New("meter: duplicate tag")
)

// Valid reports whether the location is supported.
func (l Location) Valid() bool {
	return l == LocationTopside || l == LocationSubsea
}

// ParseLocation normalizes free-form input.
func ParseLocation(value string) (Location, bool) {
	loc := Location(strings.ToUpper(strings.TrimSpace(value)))
	return loc, loc.Valid()
}

// KFactors holds per-phase calibration correction factors.
type KFactors struct {
	Oil   float64 `json:"oil" validate:"gt=0"`
	Gas   float64 `json:"gas" validate:"gt=0"`
	Water float64 `json:"water" validate:"gt=0"`
}

// DefaultKFactors is the neutral correction.
func DefaultKFactors() KFactors {
	return KFactors{Oil: 1, Gas: 1, Water: 1}
}

// Meter is a registered multiphase flow meter.
type Meter struct {
	ID                      string    `json:"id"`
	TenantID                string    `json:"tenant_id" validate:"required"`
	Tag                     string    `json:"tag" validate:"required,max=64"`
	Name                    string    `json:"name" validate:"required"`
	Location                Location  `json:"location" validate:"oneof=TOPSIDE SUBSEA"`
	KFactors                KFactors  `json:"k_factors"`
	CalibrationIntervalDays int       `json:"calibration_interval_days" validate:"gte=0"`
	LastCalibration         time.Time `json:"last_calibration,omitempty"`
	NextCalibration         time.Time `json:"next_calibration,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Normalize trims identifiers and fills defaults.
func (m *Meter) Normalize() {
	m.Tag = strings.ToUpper(strings.TrimSpace(m.Tag))
	m.Name = strings.TrimSpace(m.Name)
	m.Location = Location(strings.ToUpper(string(m.Location)))
	if m.KFactors == (KFactors{}) {
		m.KFactors = DefaultKFactors()
	}
	if m.CalibrationIntervalDays == 0 {
		m.CalibrationIntervalDays = DefaultCalibrationIntervalDays
	}
	if m.NextCalibration.IsZero() && !m.LastCalibration.IsZero() {
		m.NextCalibration = m.LastCalibration.AddDate(0, 0, m.CalibrationIntervalDays)
	}
}

// Validate checks meter invariants.
func (m Meter) Validate() error {
	return validation.Struct(m)
}

// CalibrationDue reports whether the scheduled calibration date has been reached.
func (m Meter) CalibrationDue(now time.Time) bool {
	if m.NextCalibration.IsZero() {
		return false
	}
	return !now.Before(m.NextCalibration)
}

// ApplyCalibration stores new factors and reschedules the next calibration.
func (m *Meter) ApplyCalibration(factors KFactors, calibratedAt time.Time) {
	m.KFactors = factors
	m.LastCalibration = calibratedAt.UTC()
	interval := m.CalibrationIntervalDays
	if interval <= 0 {
		interval = DefaultCalibrationIntervalDays
	}
	m.NextCalibration = m.LastCalibration.AddDate(0, 0, interval)
}

// Filter narrows meter listings.
type Filter struct {
	Location Location
}

// Repository persists meters.
type Repository interface {
	Create(ctx context.Context, meter *Meter) error
	Update(ctx context.Context, meter *Meter) error
	Delete(ctx context.Context, tenantID, id string) error
	Get(ctx context.Context, tenantID, id string) (*Meter, error)
	GetByTag(ctx context.Context, tenantID, tag string) (*Meter, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]Meter, error)
}
