package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	kfactor "mpfm-monitor/internal/kfactor/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

var (
	// ErrNotFound indicates a missing calibration event.
	ErrNotFound = errors.New("calibration: not found")
	// ErrInvalidTransition indicates the event cannot change in its current status.
	ErrInvalidTransition = errors.New("calibration: invalid transition")
	// ErrStepOutOfOrder indicates a step ahead of the current one was submitted.
	ErrStepOutOfOrder = errors.New("calibration: step out of order")
)

// Status is the lifecycle state of a calibration event.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Step names one stage of the calibration workflow.
type Step string

const (
	StepRegistration   Step = "registration"
	StepPVT            Step = "pvt"
	StepTotalizers     Step = "totalizers"
	StepKFactors       Step = "kfactors"
	StepBalance        Step = "balance"
	StepPostMonitoring Step = "post_monitoring"
	StepAlarms         Step = "alarms"
)

// Steps lists the workflow in order.
var Steps = []Step{
	StepRegistration, StepPVT, StepTotalizers, StepKFactors,
	StepBalance, StepPostMonitoring, StepAlarms,
}

// Number returns the 1-based position of the step, 0 when unknown.
func (s Step) Number() int {
	for i, step := range Steps {
		if step == s {
			return i + 1
		}
	}
	return 0
}

// ParseStep accepts a step name or its 1-based number.
func ParseStep(value string) (Step, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	for i, step := range Steps {
		if string(step) == value || value == strconv.Itoa(i+1) {
			return step, true
		}
	}
	return "", false
}

// StepRecord is the submitted payload of a completed step.
type StepRecord struct {
	Data        json.RawMessage `json:"data,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Event is one calibration of a meter.
type Event struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id" validate:"required"`
	MeterTag    string              `json:"meter_tag" validate:"required,max=64"`
	Status      Status              `json:"status"`
	CurrentStep int                 `json:"current_step"`
	Steps       map[Step]StepRecord `json:"steps"`
	Progress    int                 `json:"progress"`
	CreatedBy   string              `json:"created_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt time.Time           `json:"completed_at,omitempty"`
}

// NewEvent starts a draft at the first step.
func NewEvent(id, tenantID, meterTag string, at time.Time) (*Event, error) {
	event := &Event{
		ID:          id,
		TenantID:    tenantID,
		MeterTag:    strings.ToUpper(strings.TrimSpace(meterTag)),
		Status:      StatusDraft,
		CurrentStep: 1,
		Steps:       map[Step]StepRecord{},
		CreatedAt:   at.UTC(),
		UpdatedAt:   at.UTC(),
	}
	if err := validation.Struct(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Closed reports whether the event accepts no more changes.
func (e *Event) Closed() bool {
	return e.Status == StatusCompleted || e.Status == StatusCancelled
}

// CompleteStep records a step. Only the current step advances the pointer;
// earlier steps may be re-submitted in place. Completing the last step
// completes the event.
func (e *Event) CompleteStep(step Step, data json.RawMessage, limits kfactor.Range, at time.Time) error {
	if e.Closed() {
		return ErrInvalidTransition
	}
	number := step.Number()
	if number == 0 {
		return validation.Errorf("unknown step %q", step)
	}
	if number > e.CurrentStep {
		return ErrStepOutOfOrder
	}
	if step == StepKFactors {
		if _, err := parseKFactors(data, limits); err != nil {
			return err
		}
	}
	if e.Steps == nil {
		e.Steps = map[Step]StepRecord{}
	}
	e.Steps[step] = StepRecord{Data: data, CompletedAt: at.UTC()}
	e.UpdatedAt = at.UTC()
	e.Progress = progress(len(e.Steps))
	if number < e.CurrentStep {
		return nil
	}
	if number == len(Steps) {
		e.Status = StatusCompleted
		e.CompletedAt = at.UTC()
		return nil
	}
	e.CurrentStep = number + 1
	e.Status = StatusInProgress
	return nil
}

// Cancel abandons the event.
func (e *Event) Cancel(at time.Time) error {
	switch e.Status {
	case StatusCompleted:
		return ErrInvalidTransition
	case StatusCancelled:
		return nil
	}
	e.Status = StatusCancelled
	e.UpdatedAt = at.UTC()
	return nil
}

// KFactors returns the factors submitted in the kfactors step.
func (e *Event) KFactors(limits kfactor.Range) (meters.KFactors, error) {
	record, ok := e.Steps[StepKFactors]
	if !ok {
		return meters.KFactors{}, validation.Errorf("kfactors step not completed")
	}
	return parseKFactors(record.Data, limits)
}

func parseKFactors(data json.RawMessage, limits kfactor.Range) (meters.KFactors, error) {
	var factors meters.KFactors
	if len(data) == 0 {
		return factors, validation.Errorf("k-factors required")
	}
	if err := json.Unmarshal(data, &factors); err != nil {
		return factors, validation.Errorf("invalid k-factors: %v", err)
	}
	if err := validation.Struct(factors); err != nil {
		return factors, err
	}
	for _, check := range []struct {
		phase string
		value float64
	}{{"oil", factors.Oil}, {"gas", factors.Gas}, {"water", factors.Water}} {
		if !kfactor.InRange(check.value, limits) {
			return factors, validation.Errorf("k-factor %s %.4f outside [%.2f, %.2f]", check.phase, check.value, limits.Min, limits.Max)
		}
	}
	return factors, nil
}

func progress(completed int) int {
	return int(math.Round(float64(completed) / float64(len(Steps)) * 100))
}

// Filter narrows event listings.
type Filter struct {
	MeterTag string
	Status   Status
	Limit    int
}

// Repository persists calibration events.
type Repository interface {
	Create(ctx context.Context, event *Event) error
	Update(ctx context.Context, event *Event) error
	Get(ctx context.Context, tenantID, id string) (*Event, error)
	List(ctx context.Context, tenantID string, filter Filter) ([]Event, error)
}
