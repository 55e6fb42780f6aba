package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "mpfm-monitor/internal/alarms/domain"
	"mpfm-monitor/internal/audit"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/config"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

// Lifecycle event types published to notifiers.
const (
	EventActive       = "active"
	EventUpdated      = "updated"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
	EventEscalated    = "escalated"
)

const (
	resourceType  = "alert"
	openScanLimit = 5000
)

// AlertNotifier publishes alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertEvent)
}

// AlertEvent represents a lifecycle update.
type AlertEvent struct {
	Type  string       `json:"type"`
	Alert alarms.Alert `json:"alert"`
}

// RuleSource resolves per-meter thresholds.
type RuleSource interface {
	ForMeter(tag string) config.Thresholds
}

// Auditor records audit entries.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// DeadlineNotice describes a reporting deadline that needs attention.
type DeadlineNotice struct {
	EventID  string
	MeterTag string
	Report   string
	Status   string
	Due      time.Time
}

// Service is the alert engine: it raises, refreshes and resolves alerts.
type Service struct {
	repo     alarms.Repository
	rules    RuleSource
	notifier AlertNotifier
	auditor  Auditor
	clock    Clock
	logger   *zap.Logger
	tenantID string
}

// ServiceOption customizes the alert service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
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

// NewService constructs an alert service.
func NewService(repo alarms.Repository, tenantID string, opts ...ServiceOption) (*Service, error) {
	if repo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("alarms: empty tenant id")
	}
	service := &Service{
		repo:     repo,
		rules:    config.DefaultRules(),
		tenantID: tenantID,
		clock:    systemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// EvaluateRow raises or refreshes the meter's BALANCE alert for ALERT and FAIL rows
// and resolves it for OK rows.
func (s *Service) EvaluateRow(ctx context.Context, row monitoring.Row) error {
	key := alarms.Key{TenantID: s.tenantFor(ctx, row.TenantID), MeterTag: row.MeterTag, Type: alarms.TypeBalance}
	if row.Status == monitoring.StatusOK || row.Status == "" {
		return s.resolveOpenIf(ctx, key, func(open alarms.Alert) bool { return open.ClearedBy(row.Date) })
	}
	severity := alarms.SeverityMedium
	if row.Status == monitoring.StatusFail {
		severity = alarms.SeverityHigh
	}
	value, threshold, label := worstBalance(row, s.rules.ForMeter(row.MeterTag))
	message := fmt.Sprintf("%s %s: %s %.2f%% exceeds ±%.2f%% on %s",
		row.MeterTag, row.Status, label, value, threshold, row.Date.Format("2006-01-02"))
	return s.raise(ctx, key, severity, value, threshold, message, row.Date)
}

// RaiseKFactor raises a KFACTOR alert when the tracker requires calibration,
// and resolves it once the tracker is clear.
func (s *Service) RaiseKFactor(ctx context.Context, state kfactor.TrackerState) error {
	key := alarms.Key{TenantID: s.tenantFor(ctx, state.TenantID), MeterTag: state.MeterTag, Type: alarms.TypeKFactor}
	if !state.CalibrationRequired {
		return s.resolveOpen(ctx, key)
	}
	threshold := s.rules.ForMeter(state.MeterTag).ConsecutiveDays
	message := fmt.Sprintf("%s K-factor out of range for %d consecutive days; calibration required",
		state.MeterTag, state.ConsecutiveOutOfRange)
	return s.raise(ctx, key, alarms.SeverityHigh, float64(state.ConsecutiveOutOfRange), float64(threshold), message, state.LastDate)
}

// RaiseCalibrationDue raises a CALIBRATION_DUE alert for a meter whose next calibration date passed.
// More than thirty days overdue escalates to high.
func (s *Service) RaiseCalibrationDue(ctx context.Context, meterTag string, due time.Time) error {
	now := s.clock.Now().UTC()
	overdueDays := math.Floor(now.Sub(due).Hours() / 24)
	if overdueDays < 0 {
		overdueDays = 0
	}
	severity := alarms.SeverityMedium
	if overdueDays > 30 {
		severity = alarms.SeverityHigh
	}
	key := alarms.Key{TenantID: s.tenantFor(ctx, ""), MeterTag: meterTag, Type: alarms.TypeCalibrationDue}
	message := fmt.Sprintf("%s calibration due since %s (%d days)", meterTag, due.Format("2006-01-02"), int(overdueDays))
	return s.raise(ctx, key, severity, overdueDays, 0, message, due)
}

// ResolveCalibrationDue closes the meter's CALIBRATION_DUE alert.
func (s *Service) ResolveCalibrationDue(ctx context.Context, meterTag string) error {
	return s.resolveOpen(ctx, alarms.Key{TenantID: s.tenantFor(ctx, ""), MeterTag: meterTag, Type: alarms.TypeCalibrationDue})
}

// OpenCalibrationDue lists the meters with an open CALIBRATION_DUE alert.
func (s *Service) OpenCalibrationDue(ctx context.Context) ([]string, error) {
	open, err := s.List(ctx, alarms.Filter{Type: alarms.TypeCalibrationDue, Status: "open", Limit: openScanLimit})
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(open))
	for _, alert := range open {
		tags = append(tags, alert.MeterTag)
	}
	return tags, nil
}

// RaiseDeadline raises a DEADLINE alert: high when due soon, critical when overdue.
func (s *Service) RaiseDeadline(ctx context.Context, notice DeadlineNotice) error {
	severity := alarms.SeverityHigh
	if strings.EqualFold(notice.Status, "OVERDUE") {
		severity = alarms.SeverityCritical
	}
	now := s.clock.Now().UTC()
	daysLeft := math.Ceil(notice.Due.Sub(now).Hours() / 24)
	key := alarms.Key{TenantID: s.tenantFor(ctx, ""), MeterTag: notice.MeterTag, Type: alarms.TypeDeadline, RefID: deadlineRef(notice)}
	message := fmt.Sprintf("%s %s report for event %s is %s (due %s)",
		notice.MeterTag, notice.Report, notice.EventID, notice.Status, notice.Due.Format("2006-01-02"))
	return s.raise(ctx, key, severity, daysLeft, 0, message, now)
}

// ResolveDeadline closes the DEADLINE alert for an event report.
func (s *Service) ResolveDeadline(ctx context.Context, notice DeadlineNotice) error {
	return s.resolveOpen(ctx, alarms.Key{TenantID: s.tenantFor(ctx, ""), MeterTag: notice.MeterTag, Type: alarms.TypeDeadline, RefID: deadlineRef(notice)})
}

// Ack acknowledges an alert.
func (s *Service) Ack(ctx context.Context, id string) (*alarms.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == alarms.StatusAcknowledged {
		return alert, nil
	}
	if err := alert.Acknowledge(s.clock.Now().UTC()); err != nil {
		return nil, validation.Errorf("alert %s is %s", alert.ID, alert.Status)
	}
	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	s.notify(ctx, EventAcknowledged, *alert)
	s.record(ctx, audit.ActionAck, *alert)
	return alert, nil
}

// Resolve closes an alert manually.
func (s *Service) Resolve(ctx context.Context, id string) (*alarms.Alert, error) {
	alert, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Status == alarms.StatusResolved {
		return alert, nil
	}
	if err := alert.Resolve(s.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, err
	}
	s.notify(ctx, EventResolved, *alert)
	s.record(ctx, audit.ActionResolve, *alert)
	return alert, nil
}

// Get loads an alert.
func (s *Service) Get(ctx context.Context, id string) (*alarms.Alert, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validation.Errorf("alert id required")
	}
	return s.repo.Get(ctx, s.tenantFor(ctx, ""), id)
}

// List returns alerts matching filter.
func (s *Service) List(ctx context.Context, filter alarms.Filter) ([]alarms.Alert, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, validation.Errorf("unknown alert type %q", filter.Type)
	}
	switch filter.Status {
	case "", "open", alarms.StatusActive, alarms.StatusAcknowledged, alarms.StatusResolved:
	default:
		return nil, validation.Errorf("unknown alert status %q", filter.Status)
	}
	filter.MeterTag = strings.ToUpper(strings.TrimSpace(filter.MeterTag))
	return s.repo.List(ctx, s.tenantFor(ctx, ""), filter)
}

// OpenCounts returns open alerts by severity.
func (s *Service) OpenCounts(ctx context.Context) (map[alarms.Severity]int, error) {
	return s.repo.CountOpenBySeverity(ctx, s.tenantFor(ctx, ""))
}

func (s *Service) raise(ctx context.Context, key alarms.Key, severity alarms.Severity, value, threshold float64, message string, startAt time.Time) error {
	now := s.clock.Now().UTC()
	open, err := s.repo.FindOpen(ctx, key)
	switch {
	case err == nil:
		raised := open.Refresh(severity, value, threshold, message, now)
		open.Observe(startAt)
		if err := s.repo.Update(ctx, open); err != nil {
			return err
		}
		if raised {
			s.notify(ctx, EventUpdated, *open)
		}
		return nil
	case !errors.Is(err, alarms.ErrNotFound):
		return err
	}

	if startAt.IsZero() {
		startAt = now
	}
	alert := &alarms.Alert{
		ID:         uuid.NewString(),
		TenantID:   key.TenantID,
		MeterTag:   key.MeterTag,
		Type:       key.Type,
		Severity:   severity,
		Status:     alarms.StatusActive,
		Message:    message,
		RefID:      key.RefID,
		Value:      value,
		Threshold:  threshold,
		StartAt:    startAt.UTC(),
		LastSeenAt: startAt.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, alert); err != nil {
		return err
	}
	s.logger.Info("alert raised",
		zap.String("tenant_id", alert.TenantID),
		zap.String("meter_tag", alert.MeterTag),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
	)
	s.notify(ctx, EventActive, *alert)
	return nil
}

func (s *Service) resolveOpen(ctx context.Context, key alarms.Key) error {
	return s.resolveOpenIf(ctx, key, nil)
}

// resolveOpenIf resolves the open alert for key when accept is nil or returns true.
func (s *Service) resolveOpenIf(ctx context.Context, key alarms.Key, accept func(alarms.Alert) bool) error {
	open, err := s.repo.FindOpen(ctx, key)
	if errors.Is(err, alarms.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if accept != nil && !accept(*open) {
		return nil
	}
	if err := open.Resolve(s.clock.Now().UTC()); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, open); err != nil {
		return err
	}
	s.notify(ctx, EventResolved, *open)
	return nil
}

func (s *Service) notify(ctx context.Context, eventType string, alert alarms.Alert) {
	metrics.IncAlertEvent(string(alert.Type), eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertEvent{Type: eventType, Alert: alert})
}

func (s *Service) record(ctx context.Context, action string, alert alarms.Alert) {
	if s.auditor == nil {
		return
	}
	metadata := audit.Metadata(map[string]any{"status": alert.Status, "type": alert.Type, "severity": alert.Severity})
	s.auditor.Record(ctx, audit.Entry{
		ID:            audit.NewID(),
		TenantID:      alert.TenantID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    alert.ID,
		MeterTag:      alert.MeterTag,
		Metadata:      metadata,
		PayloadDigest: audit.DigestJSON(metadata),
	})
}

func (s *Service) tenantFor(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return auth.ResolveTenant(ctx, s.tenantID)
}

// worstBalance picks the balance furthest beyond its alert limit.
func worstBalance(row monitoring.Row, th config.Thresholds) (float64, float64, string) {
	type candidate struct {
		value *float64
		limit float64
		label string
	}
	candidates := []candidate{
		{row.HCBalancePct, th.HCAlertPct, "HC balance"},
		{row.TotalBalancePct, th.TotalAlertPct, "total balance"},
		{row.SeparatorDeviationPct, th.SeparatorAlertPct, "separator deviation"},
	}
	if row.Status == monitoring.StatusFail {
		candidates[0].limit = th.HCFailPct
		candidates[1].limit = th.TotalFailPct
		candidates = candidates[:2]
	}
	var (
		bestValue, bestLimit float64
		bestLabel            = "balance"
		bestExcess           = math.Inf(-1)
	)
	for _, c := range candidates {
		if c.value == nil {
			continue
		}
		excess := math.Abs(*c.value) - c.limit
		if excess > bestExcess {
			bestExcess = excess
			bestValue = *c.value
			bestLimit = c.limit
			bestLabel = c.label
		}
	}
	return bestValue, bestLimit, bestLabel
}

func deadlineRef(notice DeadlineNotice) string {
	return notice.EventID + ":" + strings.ToLower(notice.Report)
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
