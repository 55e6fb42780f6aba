package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	alarmapp "mpfm-monitor/internal/alarms/application"
	alarms "mpfm-monitor/internal/alarms/domain"
	meters "mpfm-monitor/internal/meters/domain"
)

// MeterReader loads meter metadata.
type MeterReader interface {
	GetByTag(ctx context.Context, tenantID, tag string) (*meters.Meter, error)
}

// AlertReader loads alert records.
type AlertReader interface {
	Get(ctx context.Context, tenantID, id string) (*alarms.Alert, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// ReportURLResolver provides a link for an alert when available.
type ReportURLResolver func(ctx context.Context, alert alarms.Alert, meter *meters.Meter) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier sends alert notifications via a channel and handles escalation.
type Notifier struct {
	meters         MeterReader
	alerts         AlertReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	reportURL      ReportURLResolver
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures escalation delay for high and critical alerts.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger for delivery failures.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithReportURLResolver injects a report link resolver.
func WithReportURLResolver(resolver ReportURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.reportURL = resolver
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(meterReader MeterReader, alertReader AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alertReader == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		meters:         meterReader,
		alerts:         alertReader,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements AlertNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	meter := n.lookup(ctx, event.Alert)
	n.dispatch(ctx, event.Type, event.Alert, meter)

	switch event.Type {
	case alarmapp.EventActive, alarmapp.EventUpdated:
		n.scheduleEscalation(event.Alert)
	case alarmapp.EventResolved:
		n.cancelEscalation(event.Alert.ID)
	}
}

// Close stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) lookup(ctx context.Context, alert alarms.Alert) *meters.Meter {
	if n.meters == nil {
		return nil
	}
	meter, err := n.meters.GetByTag(ctx, alert.TenantID, alert.MeterTag)
	if err != nil {
		return nil
	}
	return meter
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alarms.Alert, meter *meters.Meter) {
	reportURL := ""
	if n.reportURL != nil {
		reportURL = n.reportURL(ctx, alert, meter)
	}
	content, err := n.template.Render(buildTemplateData(eventType, alert, meter, reportURL))
	if err != nil {
		n.logger.Warn("alert template render failed", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn("alert notification failed",
			zap.String("alert_id", alert.ID),
			zap.String("event", eventType),
			zap.Error(err),
		)
		return
	}
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alarms.Alert) {
	if n.escalation <= 0 || alert.ID == "" || !alert.Severity.AtLeast(alarms.SeverityHigh) {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok && existing != nil {
		existing.Stop()
	}
	tenantID, alertID := alert.TenantID, alert.ID
	n.timers[alert.ID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(tenantID, alertID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// runEscalation re-notifies alerts still active (not acknowledged) after the escalation delay.
func (n *Notifier) runEscalation(tenantID, alertID string) {
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alert, err := n.alerts.Get(ctx, tenantID, alertID)
	if err != nil || alert == nil {
		return
	}
	if alert.Status != alarms.StatusActive || !alert.Severity.AtLeast(alarms.SeverityHigh) {
		return
	}
	n.dispatch(ctx, alarmapp.EventEscalated, *alert, n.lookup(ctx, *alert))
}

func buildTemplateData(eventType string, alert alarms.Alert, meter *meters.Meter, reportURL string) TemplateData {
	meterName := alert.MeterTag
	location := ""
	if meter != nil {
		if meter.Name != "" {
			meterName = meter.Name
		}
		location = string(meter.Location)
	}
	startAt := alert.StartAt
	if startAt.IsZero() {
		startAt = alert.CreatedAt
	}
	return TemplateData{
		Meter:      meterName,
		MeterTag:   alert.MeterTag,
		Location:   location,
		AlertID:    alert.ID,
		AlertType:  string(alert.Type),
		Message:    alert.Message,
		Value:      formatFloat(alert.Value),
		Threshold:  formatFloat(alert.Threshold),
		StartTime:  startAt.UTC().Format(time.RFC3339),
		Status:     alert.Status,
		Severity:   string(alert.Severity),
		Suggestion: suggestionFor(alert),
		ReportURL:  reportURL,
		Event:      eventType,
		EventLabel: eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case alarmapp.EventActive:
		return "Triggered"
	case alarmapp.EventUpdated:
		return "Worsened"
	case alarmapp.EventAcknowledged:
		return "Acknowledged"
	case alarmapp.EventResolved:
		return "Resolved"
	case alarmapp.EventEscalated:
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(alert alarms.Alert) string {
	switch alert.Type {
	case alarms.TypeBalance:
		if alert.Severity.AtLeast(alarms.SeverityHigh) {
			return "Check the meter and open a desenquadramento investigation."
		}
		return "Compare topside and subsea totalizers and confirm the readings."
	case alarms.TypeKFactor:
		return "Schedule a calibration and register it in the calibration workflow."
	case alarms.TypeCalibrationDue:
		return "Plan the periodic calibration for this meter."
	case alarms.TypeDeadline:
		return "Submit the ANP report before the deadline."
	default:
		return "Review the alert condition."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
