package monitoring

import (
	"context"
	"errors"
	"strings"
	"time"

	"mpfm-monitor/internal/validation"
)

var (
	// ErrNotFound indicates a missing monitoring row.
	ErrNotFound = errors.New("monitoring: not found")
)

// Phases holds daily masses per phase, in tonnes.
type Phases struct {
	Oil   float64 `json:"oil" validate:"gte=0"`
	Gas   float64 `json:"gas" validate:"gte=0"`
	Water float64 `json:"water" validate:"gte=0"`
}

// HC returns the hydrocarbon mass.
func (p Phases) HC() float64 {
	return p.Oil + p.Gas
}

// Total returns the mass of all phases.
func (p Phases) Total() float64 {
	return p.Oil + p.Gas + p.Water
}

// IsZero reports whether no mass was recorded.
func (p Phases) IsZero() bool {
	return p == Phases{}
}

// Row is one day of production masses for a meter.
type Row struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenant_id" validate:"required"`
	MeterTag              string    `json:"meter_tag" validate:"required,max=64"`
	Date                  time.Time `json:"date"`
	Subsea                Phases    `json:"subsea"`
	Topside               Phases    `json:"topside"`
	Separator             Phases    `json:"separator"`
	HCBalancePct          *float64  `json:"hc_balance_pct"`
	TotalBalancePct       *float64  `json:"total_balance_pct"`
	SeparatorDeviationPct *float64  `json:"separator_deviation_pct"`
	Status                Status    `json:"status"`
	Notes                 string    `json:"notes,omitempty" validate:"max=2000"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Normalize trims identifiers and truncates the date.
func (r *Row) Normalize() {
	r.MeterTag = strings.ToUpper(strings.TrimSpace(r.MeterTag))
	r.Notes = strings.TrimSpace(r.Notes)
	if !r.Date.IsZero() {
		r.Date = Day(r.Date)
	}
}

// Validate checks the recorded masses.
func (r Row) Validate() error {
	if r.Date.IsZero() {
		return validation.Errorf("date is required")
	}
	return validation.Struct(r)
}

// HasSeparator reports whether test separator masses were recorded.
func (r Row) HasSeparator() bool {
	return !r.Separator.IsZero()
}

// Evaluate derives the balances and status from the recorded masses.
func (r *Row) Evaluate(limits Limits) {
	r.HCBalancePct = balance(r.Topside.HC(), r.Subsea.HC())
	r.TotalBalancePct = balance(r.Topside.Total(), r.Subsea.Total())
	r.SeparatorDeviationPct = nil
	if r.HasSeparator() {
		r.SeparatorDeviationPct = balance(r.Topside.HC(), r.Separator.HC())
	}
	r.Status = Classify(r.HCBalancePct, r.TotalBalancePct, r.SeparatorDeviationPct, limits)
}

func balance(measured, reference float64) *float64 {
	pct, err := BalancePercent(measured, reference)
	if err != nil {
		return nil
	}
	return &pct
}

// Filter narrows row listings.
type Filter struct {
	MeterTag string
	From     time.Time
	To       time.Time
	Status   Status
	Limit    int
}

// Counts is the number of rows per status.
type Counts map[Status]int

// Repository persists monitoring rows.
type Repository interface {
	// Upsert stores row keyed by tenant, meter and day, returning the stored version.
	Upsert(ctx context.Context, row *Row) (*Row, error)
	Get(ctx context.Context, tenantID, id string) (*Row, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]Row, error)
	Delete(ctx context.Context, tenantID, id string) error
	CountByStatus(ctx context.Context, tenantID string, from time.Time) (Counts, error)
}
