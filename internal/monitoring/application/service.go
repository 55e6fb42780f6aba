package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/config"
	kfactorapp "mpfm-monitor/internal/kfactor/application"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	meters "mpfm-monitor/internal/meters/domain"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const resourceType = "monitoring_row"

// RuleSource resolves thresholds and the auto-open policy.
type RuleSource interface {
	ForMeter(tag string) config.Thresholds
	AutoOpen() bool
}

// MeterLookup resolves registered meters.
type MeterLookup interface {
	GetByTag(ctx context.Context, tag string) (*meters.Meter, error)
}

// KFactorRecorder advances the K-factor tracker for a day.
type KFactorRecorder interface {
	RecordDaily(ctx context.Context, meterTag string, day time.Time, reference, measured kfactor.Masses) (*kfactorapp.Result, error)
}

// AlertEvaluator raises alerts from recorded rows.
type AlertEvaluator interface {
	EvaluateRow(ctx context.Context, row monitoring.Row) error
	RaiseKFactor(ctx context.Context, state kfactor.TrackerState) error
}

// EventOpener opens a desenquadramento event unless one is already open for the meter.
type EventOpener interface {
	OpenForFailure(ctx context.Context, meterTag string, location meters.Location, occurredAt time.Time, description string) (bool, error)
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Input is one day of masses for a meter.
type Input struct {
	MeterTag  string            `json:"meter_tag"`
	Date      time.Time         `json:"date"`
	Subsea    monitoring.Phases `json:"subsea"`
	Topside   monitoring.Phases `json:"topside"`
	Separator monitoring.Phases `json:"separator"`
	Notes     string            `json:"notes"`
}

// Outcome reports a recorded row and the effects it drove.
type Outcome struct {
	Row     *monitoring.Row    `json:"row"`
	KFactor *kfactorapp.Result `json:"kfactor,omitempty"`
	// EventOpened is true when the row opened a desenquadramento event.
	EventOpened bool `json:"event_opened"`
}

// Service records monitoring rows and drives the downstream rules.
type Service struct {
	repo     monitoring.Repository
	meters   MeterLookup
	kfactors KFactorRecorder
	alerts   AlertEvaluator
	events   EventOpener
	rules    RuleSource
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithMeters requires rows to reference registered meters.
func WithMeters(lookup MeterLookup) ServiceOption {
	return func(s *Service) {
		s.meters = lookup
	}
}

// WithKFactors assigns the K-factor tracker.
func WithKFactors(recorder KFactorRecorder) ServiceOption {
	return func(s *Service) {
		s.kfactors = recorder
	}
}

// WithAlerts assigns the alert engine.
func WithAlerts(alerts AlertEvaluator) ServiceOption {
	return func(s *Service) {
		s.alerts = alerts
	}
}

// WithEventOpener assigns the desenquadramento opener.
func WithEventOpener(opener EventOpener) ServiceOption {
	return func(s *Service) {
		s.events = opener
	}
}

// WithRules assigns the threshold source.
func WithRules(rules RuleSource) ServiceOption {
	return func(s *Service) {
		s.rules = rules
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

// NewService constructs a monitoring service.
func NewService(repo monitoring.Repository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("monitoring: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("monitoring: empty tenant id")
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

// Record evaluates and stores a row, replacing any row for the same meter and day.
func (s *Service) Record(ctx context.Context, in Input) (*Outcome, error) {
	tenantID := s.tenant(ctx)
	row := &monitoring.Row{
		TenantID:  tenantID,
		MeterTag:  in.MeterTag,
		Date:      in.Date,
		Subsea:    in.Subsea,
		Topside:   in.Topside,
		Separator: in.Separator,
		Notes:     in.Notes,
	}
	row.Normalize()
	if err := row.Validate(); err != nil {
		return nil, err
	}

	var meter *meters.Meter
	if s.meters != nil {
		found, err := s.meters.GetByTag(ctx, row.MeterTag)
		if err != nil {
			if errors.Is(err, meters.ErrNotFound) {
				return nil, validation.Errorf("meter %s is not registered", row.MeterTag)
			}
			return nil, err
		}
		meter = found
	}

	thresholds := s.rules.ForMeter(row.MeterTag)
	row.Evaluate(limitsFrom(thresholds))

	previous, err := s.existing(ctx, tenantID, row.MeterTag, row.Date)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now
	stored, err := s.repo.Upsert(ctx, row)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRow(string(stored.Status), stored.HCBalancePct, stored.TotalBalancePct)
	if previous == nil {
		s.record(ctx, audit.ActionCreate, stored, "")
	} else {
		s.record(ctx, audit.ActionUpdate, stored, audit.Diff(*previous, *stored))
	}

	outcome := &Outcome{Row: stored}
	s.drive(ctx, stored, meter, outcome)
	return outcome, nil
}

// drive applies K-factor tracking, alert evaluation and event opening. Failures
// are logged and leave the stored row in place.
func (s *Service) drive(ctx context.Context, row *monitoring.Row, meter *meters.Meter, outcome *Outcome) {
	logger := s.logger.With(
		zap.String("tenant_id", row.TenantID),
		zap.String("meter_tag", row.MeterTag),
		zap.Time("date", row.Date),
	)
	if s.kfactors != nil && row.HasSeparator() {
		result, err := s.kfactors.RecordDaily(ctx, row.MeterTag, row.Date, massesOf(row.Separator), massesOf(row.Topside))
		if err != nil {
			logger.Warn("kfactor tracking failed", zap.Error(err))
		} else {
			outcome.KFactor = result
			if s.alerts != nil && result.State != nil {
				if err := s.alerts.RaiseKFactor(ctx, *result.State); err != nil {
					logger.Warn("kfactor alert failed", zap.Error(err))
				}
			}
		}
	}
	if s.alerts != nil {
		if err := s.alerts.EvaluateRow(ctx, *row); err != nil {
			logger.Warn("balance alert failed", zap.Error(err))
		}
	}
	if s.events != nil && row.Status == monitoring.StatusFail && s.rules.AutoOpen() {
		location := meters.LocationTopside
		if meter != nil {
			location = meter.Location
		}
		opened, err := s.events.OpenForFailure(ctx, row.MeterTag, location, row.Date, failureDescription(*row))
		if err != nil {
			logger.Warn("desenquadramento auto-open failed", zap.Error(err))
			return
		}
		outcome.EventOpened = opened
	}
}

// Get loads a row by id.
func (s *Service) Get(ctx context.Context, id string) (*monitoring.Row, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Errorf("row id required")
	}
	return s.repo.Get(ctx, s.tenant(ctx), id)
}

// List returns rows matching filter ordered by date.
func (s *Service) List(ctx context.Context, filter monitoring.Filter) ([]monitoring.Row, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validation.Errorf("unknown status %q", filter.Status)
	}
	filter.MeterTag = strings.ToUpper(strings.TrimSpace(filter.MeterTag))
	return s.repo.List(ctx, s.tenant(ctx), filter)
}

// Delete removes a row.
func (s *Service) Delete(ctx context.Context, id string) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, row.TenantID, row.ID); err != nil {
		return err
	}
	s.record(ctx, audit.ActionDelete, row, "")
	return nil
}

// CountByStatus counts rows dated on or after from.
func (s *Service) CountByStatus(ctx context.Context, from time.Time) (monitoring.Counts, error) {
	return s.repo.CountByStatus(ctx, s.tenant(ctx), from)
}

func (s *Service) existing(ctx context.Context, tenantID, meterTag string, day time.Time) (*monitoring.Row, error) {
	list, err := s.repo.List(ctx, tenantID, monitoring.Filter{MeterTag: meterTag, From: day, To: day.AddDate(0, 0, 1), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (s *Service) tenant(ctx context.Context) string {
	return auth.ResolveTenant(ctx, s.tenantID)
}

func (s *Service) record(ctx context.Context, action string, row *monitoring.Row, diff string) {
	if s.auditor == nil || row == nil {
		return
	}
	metadata := audit.Metadata(map[string]any{
		"date":   row.Date.Format("2006-01-02"),
		"status": row.Status,
	})
	s.auditor.Record(ctx, audit.Entry{
		ID:            audit.NewID(),
		TenantID:      row.TenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    row.ID,
		MeterTag:      row.MeterTag,
		Metadata:      metadata,
		Diff:          diff,
		PayloadDigest: audit.DigestJSON(metadata),
	})
}

func limitsFrom(th config.Thresholds) monitoring.Limits {
	return monitoring.Limits{
		HCAlertPct:        th.HCAlertPct,
		HCFailPct:         th.HCFailPct,
		TotalAlertPct:     th.TotalAlertPct,
		TotalFailPct:      th.TotalFailPct,
		SeparatorAlertPct: th.SeparatorAlertPct,
	}
}

func massesOf(p monitoring.Phases) kfactor.Masses {
	return kfactor.Masses{Oil: p.Oil, Gas: p.Gas, Water: p.Water}
}

func failureDescription(row monitoring.Row) string {
	parts := []string{"mass balance outside limits"}
	if row.HCBalancePct != nil {
		parts = append(parts, fmt.Sprintf("HC %.2f%%", *row.HCBalancePct))
	}
	if row.TotalBalancePct != nil {
		parts = append(parts, fmt.Sprintf("total %.2f%%", *row.TotalBalancePct))
	}
	return strings.Join(parts, ", ")
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
