package application

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarmapp "mpfm-monitor/internal/alarms/application"
	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/config"
	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const resourceType = "desenquadramento_event"

// MeterLookup resolves registered meters.
type MeterLookup interface {
	GetByTag(ctx context.Context, tag string) (*meters.Meter, error)
}

// DeadlineSource provides the reporting offsets.
type DeadlineSource interface {
	DeadlineOffsets() config.Deadlines
}

// DeadlineAlerts resolves deadline alerts once a report is sent.
type DeadlineAlerts interface {
	ResolveDeadline(ctx context.Context, notice alarmapp.DeadlineNotice) error
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// OpenInput describes a new event.
type OpenInput struct {
	MeterTag    string          `json:"meter_tag"`
	Location    meters.Location `json:"location,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Cause       string          `json:"cause"`
	Description string          `json:"description,omitempty"`
}

// DetailsInput carries editable narrative fields; nil leaves a field unchanged.
type DetailsInput struct {
	Cause             *string `json:"cause,omitempty"`
	Description       *string `json:"description,omitempty"`
	CorrectiveActions *string `json:"corrective_actions,omitempty"`
}

// Service runs the desenquadramento workflow.
type Service struct {
	repo     desenquadramento.Repository
	meters   MeterLookup
	rules    DeadlineSource
	alerts   DeadlineAlerts
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithMeters resolves meter locations from the registry.
func WithMeters(lookup MeterLookup) ServiceOption {
	return func(s *Service) {
		s.meters = lookup
	}
}

// WithRules assigns the deadline offsets source.
func WithRules(rules DeadlineSource) ServiceOption {
	return func(s *Service) {
		s.rules = rules
	}
}

// WithAlerts assigns the alert engine.
func WithAlerts(alerts DeadlineAlerts) ServiceOption {
	return func(s *Service) {
		s.alerts = alerts
	}
}

// WithAuditor assigns an auditor.
func WithAuditor(auditor Auditor) ServiceOption {
	return func(s *Service) {
		s.auditor = auditor
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a desenquadramento service.
func NewService(repo desenquadramento.Repository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("desenquadramento: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("desenquadramento: empty tenant id")
	}
	service := &Service{
		repo:     repo,
		rules:    config.DefaultRules(),
		clock:    systemClock{},
		logger:   zap.NewNop(),
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Open registers a new event and schedules its report deadlines.
func (s *Service) Open(ctx context.Context, in OpenInput) (*desenquadramento.Event, error) {
	now := s.clock.Now().UTC()
	event := &desenquadramento.Event{
		ID:          uuid.NewString(),
		TenantID:    s.tenant(ctx),
		MeterTag:    in.MeterTag,
		Location:    in.Location,
		OccurredAt:  in.OccurredAt.UTC(),
		DetectedAt:  now,
		Cause:       in.Cause,
		Description: in.Description,
		Status:      desenquadramento.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	event.Normalize()
	if s.meters != nil && event.MeterTag != "" {
		meter, err := s.meters.GetByTag(ctx, event.MeterTag)
		switch {
		case errors.Is(err, meters.ErrNotFound):
			return nil, validation.Errorf("meter %s is not registered", event.MeterTag)
		case err != nil:
			return nil, err
		case event.Location == "":
			event.Location = meter.Location
		}
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.OccurredAt.After(now) {
		return nil, validation.Errorf("occurred_at is in the future")
	}
	event.ScheduleDeadlines(s.offsets())
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, err
	}
	metrics.IncDesenquadramentoTransition(string(event.Status))
	s.record(ctx, audit.ActionCreate, event, audit.Metadata(map[string]any{
		"occurred_at":        event.OccurredAt,
		"partial_report_due": event.PartialReportDue,
		"final_report_due":   event.FinalReportDue,
	}), "")
	s.logger.Info("desenquadramento opened",
		zap.String("tenant_id", event.TenantID),
		zap.String("meter_tag", event.MeterTag),
		zap.String("event_id", event.ID),
		zap.Time("final_report_due", event.FinalReportDue),
	)
	return event, nil
}

// OpenForFailure opens an event for the meter unless one is already open.
// It reports whether a new event was created.
func (s *Service) OpenForFailure(ctx context.Context, meterTag string, location meters.Location, occurredAt time.Time, description string) (bool, error) {
	meterTag = strings.ToUpper(strings.TrimSpace(meterTag))
	if _, err := s.repo.FindOpen(ctx, s.tenant(ctx), meterTag); err == nil {
		return false, nil
	} else if !errors.Is(err, desenquadramento.ErrNotFound) {
		return false, err
	}
	_, err := s.Open(ctx, OpenInput{
		MeterTag:    meterTag,
		Location:    location,
		OccurredAt:  occurredAt,
		Cause:       "Mass balance FAIL",
		Description: description,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// OpenForMeter returns the open event for a meter, or ErrNotFound.
func (s *Service) OpenForMeter(ctx context.Context, meterTag string) (*desenquadramento.Event, error) {
	return s.repo.FindOpen(ctx, s.tenant(ctx), strings.ToUpper(strings.TrimSpace(meterTag)))
}

// Get loads an event by id.
func (s *Service) Get(ctx context.Context, id string) (*desenquadramento.Event, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Errorf("event id required")
	}
	return s.repo.Get(ctx, s.tenant(ctx), id)
}

// List returns events matching filter.
func (s *Service) List(ctx context.Context, filter desenquadramento.Filter) ([]desenquadramento.Event, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validation.Errorf("unknown status %q", filter.Status)
	}
	filter.MeterTag = strings.ToUpper(strings.TrimSpace(filter.MeterTag))
	return s.repo.List(ctx, s.tenant(ctx), filter)
}

// Transition moves an event along the workflow. Sending a report resolves its deadline alert.
func (s *Service) Transition(ctx context.Context, id string, to desenquadramento.Status) (*desenquadramento.Event, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := event.Status
	if err := event.Transition(to, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	metrics.IncDesenquadramentoTransition(string(to))
	s.record(ctx, audit.ActionTransition, event, audit.Metadata(map[string]any{"from": from, "to": to}), "")

	if s.alerts != nil {
		report := ""
		switch to {
		case desenquadramento.StatusPartialReportSent:
			report = desenquadramento.ReportPartial
		case desenquadramento.StatusFinalReportSent:
			report = desenquadramento.ReportFinal
		}
		if report != "" {
			notice := alarmapp.DeadlineNotice{EventID: event.ID, MeterTag: event.MeterTag, Report: report}
			if err := s.alerts.ResolveDeadline(ctx, notice); err != nil {
				s.logger.Warn("deadline alert resolution failed", zap.String("event_id", event.ID), zap.Error(err))
			}
		}
	}
	return event, nil
}

// MarkPartialSent records the partial report submission.
func (s *Service) MarkPartialSent(ctx context.Context, id string) (*desenquadramento.Event, error) {
	return s.Transition(ctx, id, desenquadramento.StatusPartialReportSent)
}

// MarkFinalSent records the final report submission.
func (s *Service) MarkFinalSent(ctx context.Context, id string) (*desenquadramento.Event, error) {
	return s.Transition(ctx, id, desenquadramento.StatusFinalReportSent)
}

// Close ends the workflow.
func (s *Service) Close(ctx context.Context, id string) (*desenquadramento.Event, error) {
	return s.Transition(ctx, id, desenquadramento.StatusClosed)
}

// UpdateDetails edits the narrative fields of an event that is not closed.
func (s *Service) UpdateDetails(ctx context.Context, id string, in DetailsInput) (*desenquadramento.Event, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !event.IsOpen() {
		return nil, desenquadramento.ErrInvalidTransition
	}
	before := *event
	if in.Cause != nil {
		event.Cause = *in.Cause
	}
	if in.Description != nil {
		event.Description = *in.Description
	}
	if in.CorrectiveActions != nil {
		event.CorrectiveActions = *in.CorrectiveActions
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, err
	}
	event.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, event); err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUpdate, event, nil, audit.Diff(before, *event))
	return event, nil
}

// Deadlines returns the deadlines of every open event, soonest first.
func (s *Service) Deadlines(ctx context.Context) ([]desenquadramento.Deadline, error) {
	events, err := s.repo.List(ctx, s.tenant(ctx), desenquadramento.Filter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	dueSoon := s.offsets().DueSoonDays
	var deadlines []desenquadramento.Deadline
	for _, event := range events {
		deadlines = append(deadlines, event.Deadlines(now, dueSoon)...)
	}
	sort.SliceStable(deadlines, func(i, j int) bool {
		return deadlines[i].Due.Before(deadlines[j].Due)
	})
	return deadlines, nil
}

// EventDeadlines classifies the deadlines of one event at the current time.
func (s *Service) EventDeadlines(event desenquadramento.Event) []desenquadramento.Deadline {
	return event.Deadlines(s.clock.Now().UTC(), s.offsets().DueSoonDays)
}

func (s *Service) offsets() desenquadramento.Offsets {
	d := s.rules.DeadlineOffsets()
	return desenquadramento.Offsets{
		PartialDays:      d.PartialDays,
		FinalTopsideDays: d.FinalTopsideDays,
		FinalSubseaDays:  d.FinalSubseaDays,
		DueSoonDays:      d.DueSoonDays,
	}
}

func (s *Service) tenant(ctx context.Context) string {
	return auth.ResolveTenant(ctx, s.tenantID)
}

func (s *Service) record(ctx context.Context, action string, event *desenquadramento.Event, metadata []byte, diff string) {
	if s.auditor == nil || event == nil {
		return
	}
	s.auditor.Record(ctx, audit.Entry{
		ID:            audit.NewID(),
		TenantID:      event.TenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    event.ID,
		MeterTag:      event.MeterTag,
		Metadata:      metadata,
		Diff:          diff,
		PayloadDigest: audit.DigestJSON(metadata),
	})
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
