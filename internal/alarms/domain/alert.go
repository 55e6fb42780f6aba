package alarms

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a missing alert record.
	ErrNotFound = errors.New("alert: not found")
	// ErrInvalidTransition indicates an ack or resolve on a closed alert.
	ErrInvalidTransition = errors.New("alert: invalid transition")
)

// Type classifies what raised an alert.
type Type string

const (
	TypeBalance        Type = "BALANCE"
	TypeKFactor        Type = "KFACTOR"
	TypeCalibrationDue Type = "CALIBRATION_DUE"
	TypeDeadline       Type = "DEADLINE"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	switch t {
	case TypeBalance, TypeKFactor, TypeCalibrationDue, TypeDeadline:
		return true
	}
	return false
}

// Severity ranks alerts.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above target.
func (s Severity) AtLeast(target Severity) bool {
	return s.Rank() >= target.Rank()
}

// Valid reports whether the severity is known.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

const (
	StatusActive       = "active"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Alert is a raised compliance alert.
type Alert struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	MeterTag   string    `json:"meter_tag"`
	Type       Type      `json:"type"`
	Severity   Severity  `json:"severity"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	RefID      string    `json:"ref_id,omitempty"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	StartAt    time.Time `json:"start_at"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	AckedAt    time.Time `json:"acked_at,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsOpen reports whether the alert is active or acknowledged.
func (a Alert) IsOpen() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// Observe moves LastSeenAt forward to the date of the latest reading behind the alert.
func (a *Alert) Observe(at time.Time) {
	if at.After(a.LastSeenAt) {
		a.LastSeenAt = at.UTC()
	}
}

// ClearedBy reports whether a good reading dated at is recent enough to clear the alert.
// Readings older than the latest bad one do not.
func (a Alert) ClearedBy(at time.Time) bool {
	last := a.LastSeenAt
	if last.IsZero() {
		last = a.StartAt
	}
	return !at.Before(last)
}

// Refresh updates the reading of an open alert. Severity is only ever raised.
// It returns true when the severity increased.
func (a *Alert) Refresh(severity Severity, value, threshold float64, message string, at time.Time) bool {
	raised := severity.Rank() > a.Severity.Rank()
	if raised {
		a.Severity = severity
	}
	a.Value = value
	a.Threshold = threshold
	if message != "" {
		a.Message = message
	}
	a.UpdatedAt = at
	return raised
}

// Acknowledge marks an active alert as seen.
func (a *Alert) Acknowledge(at time.Time) error {
	switch a.Status {
	case StatusAcknowledged:
		return nil
	case StatusActive:
		a.Status = StatusAcknowledged
		a.AckedAt = at
		a.UpdatedAt = at
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Resolve closes an open alert.
func (a *Alert) Resolve(at time.Time) error {
	if !a.IsOpen() {
		return ErrInvalidTransition
	}
	a.Status = StatusResolved
	a.ResolvedAt = at
	a.UpdatedAt = at
	return nil
}

// Key identifies the single open alert allowed per meter, type and reference.
type Key struct {
	TenantID string
	MeterTag string
	Type     Type
	RefID    string
}

// Filter narrows alert listings.
type Filter struct {
	MeterTag string
	Status   string
	Type     Type
	From     time.Time
	To       time.Time
	Limit    int
}

// Repository persists alerts.
type Repository interface {
	Create(ctx context.Context, alert *Alert) error
	Update(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, tenantID, id string) (*Alert, error)
	FindOpen(ctx context.Context, key Key) (*Alert, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]Alert, error)
	CountOpenBySeverity(ctx context.Context, tenantID string) (map[Severity]int, error)
}
