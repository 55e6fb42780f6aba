package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	monitoringapp "mpfm-monitor/internal/monitoring/application"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/monitoring/infrastructure/sqlstore"
	"mpfm-monitor/internal/storage"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := storage.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc, err := monitoringapp.NewService(sqlstore.NewRowRepository(db), "FPSO-01")
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	handler, err := NewHandler(svc, "FPSO-01")
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

const rowBody = `{"meter_tag":"MPFM-01","date":"2026-02-10",
"subsea":{"oil":1000,"gas":100,"water":50},
"topside":{"oil":1250,"gas":100,"water":50}}`

func TestRecordAndListRows(t *testing.T) {
	handler := newHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/rows", strings.NewReader(rowBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d body=%s", rec.Code, rec.Body.String())
	}
	var outcome monitoringapp.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Row == nil || outcome.Row.Status != monitoring.StatusFail {
		t.Fatalf("outcome = %+v", outcome)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/rows?meter=MPFM-01&status=FAIL", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var rows []monitoring.Row
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil || len(rows) != 1 {
		t.Fatalf("rows = %+v err=%v", rows, err)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/rows/"+rows[0].ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/monitoring/rows/"+rows[0].ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/rows/"+rows[0].ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", rec.Code)
	}
}

func TestRecordRejectsBadDate(t *testing.T) {
	handler := newHandler(t)
	rec := httptest.NewRecorder()
	body := strings.Replace(rowBody, "2026-02-10", "10/02/2026", 1)
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/rows", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestExportFormats(t *testing.T) {
	handler := newHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/rows", strings.NewReader(rowBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d", rec.Code)
	}

	cases := map[string]string{
		"csv":  "text/csv",
		"json": "application/json",
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"pdf":  "application/pdf",
	}
	for format, contentType := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/export."+format, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", format, rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != contentType {
			t.Fatalf("%s content type = %s", format, got)
		}
		if rec.Body.Len() == 0 {
			t.Fatalf("%s empty body", format)
		}
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/export.csv", nil))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "2026-02-10,MPFM-01,1000,100,50,1250") {
		t.Fatalf("csv = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/export.doc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported status = %d", rec.Code)
	}
}

func TestExportedWorkbookImportsBack(t *testing.T) {
	handler := newHandler(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/rows", strings.NewReader(rowBody)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/export.xlsx", nil))
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	_ = book.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "monitoring.xlsx")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(rec.Body.Bytes())
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d body=%s", rec.Code, rec.Body.String())
	}
	var report monitoringapp.ImportReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Imported != 1 || len(report.Rejected) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestImportRequiresFile(t *testing.T) {
	handler := newHandler(t)
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("other", "x")
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/import", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
