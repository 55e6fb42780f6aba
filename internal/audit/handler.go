package audit

import (
	"context"
	"errors"
	"net/http"
	"time"

	apihttp "mpfm-monitor/internal/api/http"
	"mpfm-monitor/internal/auth"
	"mpfm-monitor/internal/observability/metrics"
)

// Reader lists audit entries.
type Reader interface {
	List(ctx context.Context, tenantID string, filter Filter) ([]Entry, error)
}

// Handler serves /api/v1/audit and its exports.
type Handler struct {
	reader   Reader
	tenantID string
}

// NewHandler constructs a handler.
func NewHandler(reader Reader, tenantID string) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("audit handler: nil reader")
	}
	return &Handler{reader: reader, tenantID: tenantID}, nil
}

// ServeHTTP handles GET /api/v1/audit and GET /api/v1/audit/export.{csv|xlsx}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := apihttp.SplitPath(r.URL.Path, "/api/v1/audit")
	filter, err := parseFilter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	tenantID := auth.ResolveTenant(r.Context(), h.tenantID)
	entries, err := h.reader.List(r.Context(), tenantID, filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}

	switch len(parts) {
	case 0:
		apihttp.WriteJSON(w, http.StatusOK, entries)
	case 1:
		format, ok := apihttp.ExportFormat(parts[0], "export")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.export(w, format, entries)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) export(w http.ResponseWriter, format string, entries []Entry) {
	start := time.Now()
	var (
		data []byte
		err  error
	)
	switch format {
	case "csv":
		data, err = BuildCSV(entries)
	case "xlsx":
		data, err = BuildXLSX(entries)
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.ObserveExport("audit", format, metrics.ResultError, time.Since(start))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("audit", format, metrics.ResultSuccess, time.Since(start))
	apihttp.WriteFile(w, apihttp.ContentType(format), "audit."+format, data)
}

func parseFilter(r *http.Request) (Filter, error) {
	from, to, err := apihttp.ParseRange(r)
	if err != nil {
		return Filter{}, err
	}
	limit, err := apihttp.ParseIntQuery(r, "limit", 0)
	if err != nil {
		return Filter{}, err
	}
	q := r.URL.Query()
	return Filter{
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		MeterTag:     q.Get("meter_tag"),
		Actor:        q.Get("actor"),
		From:         from,
		To:           to,
		Limit:        limit,
	}, nil
}
