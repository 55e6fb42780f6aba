package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	alarmapp "mpfm-monitor/internal/alarms/application"
	alarms "mpfm-monitor/internal/alarms/domain"
	meters "mpfm-monitor/internal/meters/domain"
)

type stubMeterRepo struct {
	meter *meters.Meter
}

func (s stubMeterRepo) GetByTag(_ context.Context, _ string, _ string) (*meters.Meter, error) {
	return s.meter, nil
}

type stubAlertRepo struct {
	mu    sync.Mutex
	alert *alarms.Alert
}

func (s *stubAlertRepo) Get(_ context.Context, _ string, _ string) (*alarms.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.alert
	return &copied, nil
}

func (s *stubAlertRepo) setStatus(status string) {
	s.mu.Lock()
	s.alert.Status = status
	s.mu.Unlock()
}

func sampleAlert(id string, at time.Time) *alarms.Alert {
	return &alarms.Alert{
		ID:        id,
		TenantID:  "FPSO-01",
		MeterTag:  "MPFM-01",
		Type:      alarms.TypeBalance,
		Severity:  alarms.SeverityHigh,
		Status:    alarms.StatusActive,
		Message:   "MPFM-01 FAIL: HC balance 12.40% exceeds ±10.00%",
		Value:     12.4,
		Threshold: 10,
		StartAt:   at,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	meter := &meters.Meter{Tag: "MPFM-01", Name: "Train A", Location: meters.LocationTopside}
	alert := sampleAlert("alert-1", time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC))

	notifier, err := NewNotifier(
		stubMeterRepo{meter: meter},
		&stubAlertRepo{alert: alert},
		channel,
		tpl,
		WithReportURLResolver(func(_ context.Context, _ alarms.Alert, _ *meters.Meter) string {
			return "http://example.com/report"
		}),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[MPFM Alert Triggered]",
			"Meter: Train A (MPFM-01)",
			"Type: BALANCE",
			"Severity: high",
			"Value: 12.40",
			"Threshold: 10.00",
			"Start Time: 2026-01-26T08:00:00Z",
			"Current Status: active",
			"Suggestion:",
			"Report: http://example.com/report",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

func TestWebhookRetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithRetry(3, time.Millisecond), WithRatePerMinute(60))
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := sampleAlert("alert-1", clock.Now())

	notifier, err := NewNotifier(nil, &stubAlertRepo{alert: alert}, channel, nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := sampleAlert("alert-2", clock.Now())

	notifier, err := NewNotifier(nil, &stubAlertRepo{alert: alert}, channel, nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	alert.Value = 15
	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierEscalation(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-3", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))

	notifier, err := NewNotifier(nil, &stubAlertRepo{alert: alert}, channel, nil,
		WithEscalation(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})

	deadline := time.After(500 * time.Millisecond)
	for channel.Count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected escalation notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !strings.Contains(channel.Latest(), "Escalated") {
		t.Fatalf("expected escalated notification content, got %s", channel.Latest())
	}
}

func TestNotifierSkipsEscalationOnceAcknowledged(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-4", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	repo := &stubAlertRepo{alert: alert}

	notifier, err := NewNotifier(nil, repo, channel, nil, WithEscalation(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: *alert})
	repo.setStatus(alarms.StatusAcknowledged)
	time.Sleep(80 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected no escalation after ack, got %d notifications", got)
	}
}

func TestMultiNotifierFansOut(t *testing.T) {
	first, second := &recordingChannel{}, &recordingChannel{}
	alert := sampleAlert("alert-5", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	n1, _ := NewNotifier(nil, &stubAlertRepo{alert: alert}, first, nil)
	n2, _ := NewNotifier(nil, &stubAlertRepo{alert: alert}, second, nil)

	NewMultiNotifier(n1, nil, n2).Notify(context.Background(), alarmapp.AlertEvent{Type: alarmapp.EventResolved, Alert: *alert})
	if first.Count() != 1 || second.Count() != 1 {
		t.Fatalf("expected both channels notified, got %d and %d", first.Count(), second.Count())
	}
}
