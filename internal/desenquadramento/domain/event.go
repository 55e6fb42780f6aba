package desenquadramento

import (
	"context"
	"errors"
	"strings"
	"time"

	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

var (
	// ErrNotFound indicates a missing event.
	ErrNotFound = errors.New("desenquadramento: not found")
	// ErrInvalidTransition indicates a status change the workflow does not allow.
	ErrInvalidTransition = errors.New("desenquadramento: invalid transition")
)

// Status is the workflow state of an event.
type Status string

const (
	StatusOpen              Status = "OPEN"
	StatusInvestigating     Status = "INVESTIGATING"
	StatusPartialReportSent Status = "PARTIAL_REPORT_SENT"
	StatusFinalReportSent   Status = "FINAL_REPORT_SENT"
	StatusClosed            Status = "CLOSED"
)

var transitions = map[Status][]Status{
	StatusOpen:              {StatusInvestigating, StatusPartialReportSent},
	StatusInvestigating:     {StatusPartialReportSent},
	StatusPartialReportSent: {StatusFinalReportSent},
	StatusFinalReportSent:   {StatusClosed},
}

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusPartialReportSent, StatusFinalReportSent, StatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event is a reportable out-of-compliance occurrence for a meter.
type Event struct {
	ID                  string          `json:"id"`
	TenantID            string          `json:"tenant_id" validate:"required"`
	MeterTag            string          `json:"meter_tag" validate:"required,max=64"`
	Location            meters.Location `json:"location" validate:"oneof=TOPSIDE SUBSEA"`
	OccurredAt          time.Time       `json:"occurred_at"`
	DetectedAt          time.Time       `json:"detected_at"`
	Cause               string          `json:"cause" validate:"required,max=500"`
	Description         string          `json:"description,omitempty" validate:"max=4000"`
	CorrectiveActions   string          `json:"corrective_actions,omitempty" validate:"max=4000"`
	Status              Status          `json:"status"`
	PartialReportDue    time.Time       `json:"partial_report_due"`
	FinalReportDue      time.Time       `json:"final_report_due"`
	PartialReportSentAt time.Time       `json:"partial_report_sent_at,omitempty"`
	FinalReportSentAt   time.Time       `json:"final_report_sent_at,omitempty"`
	ClosedAt            time.Time       `json:"closed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Normalize trims free-form fields.
func (e *Event) Normalize() {
	e.MeterTag = strings.ToUpper(strings.TrimSpace(e.MeterTag))
	e.Location = meters.Location(strings.ToUpper(strings.TrimSpace(string(e.Location))))
	e.Cause = strings.TrimSpace(e.Cause)
	e.Description = strings.TrimSpace(e.Description)
	e.CorrectiveActions = strings.TrimSpace(e.CorrectiveActions)
}

// Validate checks the event fields.
func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return validation.Errorf("occurred_at is required")
	}
	return validation.Struct(e)
}

// IsOpen reports whether the event still needs work.
func (e Event) IsOpen() bool {
	return e.Status != StatusClosed
}

// ScheduleDeadlines sets the report due dates from the occurrence date.
func (e *Event) ScheduleDeadlines(offsets Offsets) {
	e.PartialReportDue, e.FinalReportDue = ComputeDeadlines(e.OccurredAt, e.Location, offsets)
}

// Transition moves the event to the next status and stamps the matching date.
func (e *Event) Transition(to Status, at time.Time) error {
	if !to.Valid() {
		return validation.Errorf("unknown status %q", to)
	}
	if !CanTransition(e.Status, to) {
		return ErrInvalidTransition
	}
	at = at.UTC()
	switch to {
	case StatusPartialReportSent:
		e.PartialReportSentAt = at
	case StatusFinalReportSent:
		e.FinalReportSentAt = at
	case StatusClosed:
		e.ClosedAt = at
	}
	e.Status = to
	e.UpdatedAt = at
	return nil
}

// Filter narrows event listings.
type Filter struct {
	MeterTag string
	Status   Status
	OpenOnly bool
	Limit    int
}

// Repository persists events.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	Update(ctx context.Context, event *Event) error
	Get(ctx context.Context, tenantID, id string) (*Event, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]Event, error)
	// FindOpen returns the newest event for the meter that is not closed.
	FindOpen(ctx context.Context, tenantID, meterTag string) (*Event, error)
}
