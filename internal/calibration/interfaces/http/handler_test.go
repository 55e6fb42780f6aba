package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	calibrationapp "mpfm-monitor/internal/calibration/application"
	calibration "mpfm-monitor/internal/calibration/domain"
	"mpfm-monitor/internal/calibration/infrastructure/sqlstore"
	meterapp "mpfm-monitor/internal/meters/application"
	meters "mpfm-monitor/internal/meters/domain"
	meterstore "mpfm-monitor/internal/meters/infrastructure/sqlstore"
	"mpfm-monitor/internal/storage"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	meterSvc, err := meterapp.NewService(meterstore.NewMeterRepository(db), "FPSO-01")
	if err != nil {
		t.Fatalf("meters: %v", err)
	}
	if _, err := meterSvc.Create(ctx, meterapp.Input{Tag: "MPFM-01", Name: "Train A", Location: meters.LocationSubsea}); err != nil {
		t.Fatalf("create meter: %v", err)
	}
	svc, err := calibrationapp.NewService(sqlstore.NewEventRepository(db), meterSvc, "FPSO-01")
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	handler, err := NewHandler(svc)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func do(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestCalibrationWorkflowOverHTTP(t *testing.T) {
	handler := newHandler(t)

	rec := do(handler, http.MethodPost, "/api/v1/calibrations", `{"meter_tag":"MPFM-01"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	var event calibration.Event
	if err := json.NewDecoder(rec.Body).Decode(&event); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/"+event.ID+"/steps/pvt", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("out of order status = %d", rec.Code)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/"+event.ID+"/steps/1", `{"operator":"ana"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("step status = %d body=%s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.CurrentStep != 2 || event.Status != calibration.StatusInProgress {
		t.Fatalf("event = %+v", event)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/"+event.ID+"/steps/2", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad payload status = %d", rec.Code)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/"+event.ID+"/steps/nine", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown step status = %d", rec.Code)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/"+event.ID+"/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}

	rec = do(handler, http.MethodGet, "/api/v1/calibrations?status=cancelled", "")
	var list []calibration.Event
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || len(list) != 1 {
		t.Fatalf("list = %+v err=%v", list, err)
	}

	rec = do(handler, http.MethodGet, "/api/v1/calibrations/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}
}

func TestParseReportEndpoint(t *testing.T) {
	handler := newHandler(t)
	rec := do(handler, http.MethodPost, "/api/v1/calibrations/parse-report", "Tag: MPFM-01\nDate: 2026-02-15\nK oil: 1.02")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var data calibration.ReportData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.MeterTag != "MPFM-01" || data.KOil == nil || len(data.Missing) != 2 {
		t.Fatalf("data = %+v", data)
	}

	rec = do(handler, http.MethodPost, "/api/v1/calibrations/parse-report", "  ")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty status = %d", rec.Code)
	}
}
