package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarmapp "mpfm-monitor/internal/alarms/application"
	alarms "mpfm-monitor/internal/alarms/domain"
	"mpfm-monitor/internal/alarms/infrastructure/sqlstore"
	"mpfm-monitor/internal/auth"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/storage"
)

func newService(t *testing.T, opts ...alarmapp.ServiceOption) *alarmapp.Service {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc, err := alarmapp.NewService(sqlstore.NewAlertRepository(db), "FPSO-01", opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc
}

func raiseKFactor(t *testing.T, svc *alarmapp.Service) {
	t.Helper()
	state := kfactor.TrackerState{TenantID: "FPSO-01", MeterTag: "MPFM-01", ConsecutiveOutOfRange: 10, CalibrationRequired: true}
	if err := svc.RaiseKFactor(context.Background(), state); err != nil {
		t.Fatalf("raise: %v", err)
	}
}

func TestAlertListAckResolve(t *testing.T) {
	svc := newService(t)
	raiseKFactor(t, svc)
	handler, err := NewHandler(svc, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?status=open&type=KFACTOR", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list []alarms.Alert
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("list = %+v err=%v", list, err)
	}
	id := list[0].ID

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+id+"/ack", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ack status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+id+"/resolve", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+id+"/ack", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("ack resolved status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/missing/ack", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts?type=NOISE", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type status = %d", rec.Code)
	}
}

func TestAlertStreamDeliversTenantEvents(t *testing.T) {
	broker := NewSSEBroker()
	svc := newService(t, alarmapp.WithNotifier(broker))
	handler, err := NewHandler(svc, NewStreamHandler(broker, "FPSO-01"))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/alerts/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return strings.Join(lines, "\n")
			}
			lines = append(lines, line)
		}
	}
	if ready := readEvent(); !strings.Contains(ready, "event: ready") {
		t.Fatalf("first event = %q", ready)
	}

	for broker.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	other := kfactor.TrackerState{TenantID: "OTHER", MeterTag: "X", CalibrationRequired: true}
	if err := svc.RaiseKFactor(context.Background(), other); err != nil {
		t.Fatalf("raise other: %v", err)
	}
	raiseKFactor(t, svc)

	event := readEvent()
	if !strings.Contains(event, "event: alert") || !strings.Contains(event, `"meter_tag":"MPFM-01"`) {
		t.Fatalf("alert event = %q", event)
	}
}

func TestBrokerUnsubscribeDuringBroadcast(t *testing.T) {
	broker := NewSSEBroker()
	event := alarmapp.AlertEvent{Type: alarmapp.EventActive, Alert: alarms.Alert{TenantID: "FPSO-01"}}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ch := broker.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				broker.Notify(context.Background(), event)
			}
		}()
		go func() {
			defer wg.Done()
			broker.Unsubscribe(ch)
			broker.Unsubscribe(ch)
		}()
	}
	wg.Wait()

	if got := broker.Clients(); got != 0 {
		t.Fatalf("expected no clients, got %d", got)
	}
	broker.Notify(context.Background(), event)
}

func TestAlertOfAnotherTenantIsNotFound(t *testing.T) {
	svc := newService(t)
	raiseKFactor(t, svc)
	list, err := svc.List(context.Background(), alarms.Filter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %+v err=%v", list, err)
	}
	handler, err := NewHandler(svc, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/"+list[0].ID+"/ack", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "FPSO-02", auth.RoleOperator, "op"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant ack status = %d", rec.Code)
	}

	stored, err := svc.Get(context.Background(), list[0].ID)
	if err != nil || stored.Status != alarms.StatusActive {
		t.Fatalf("stored = %+v err=%v", stored, err)
	}
}
