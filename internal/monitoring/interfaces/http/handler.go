package http

import (
	"errors"
	"net/http"
	"time"

	apihttp "mpfm-monitor/internal/api/http"
	"mpfm-monitor/internal/auth"
	monitoringapp "mpfm-monitor/internal/monitoring/application"
	monitoring "mpfm-monitor/internal/monitoring/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const (
	basePath = "/api/v1/monitoring"

	maxUploadBytes = 10 << 20
)

// Handler provides monitoring row endpoints.
type Handler struct {
	service  *monitoringapp.Service
	tenantID string
}

// NewHandler constructs a handler.
func NewHandler(service *monitoringapp.Service, tenantID string) (*Handler, error) {
	if service == nil {
		return nil, errors.New("monitoring handler: nil service")
	}
	apihttp.RegisterNotFound(monitoring.ErrNotFound)
	return &Handler{service: service, tenantID: tenantID}, nil
}

type rowRequest struct {
	MeterTag  string            `json:"meter_tag"`
	Date      string            `json:"date"`
	Subsea    monitoring.Phases `json:"subsea"`
	Topside   monitoring.Phases `json:"topside"`
	Separator monitoring.Phases `json:"separator"`
	Notes     string            `json:"notes"`
}

// ServeHTTP handles /api/v1/monitoring/rows, /import and /export.{format}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case parts[0] == "rows" && len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleRecord(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case parts[0] == "rows" && len(parts) == 2:
		h.handleItem(w, r, parts[1])
	case parts[0] == "import" && len(parts) == 1:
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleImport(w, r)
	case len(parts) == 1:
		format, ok := apihttp.ExportFormat(parts[0], "export")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, format)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []monitoring.Row{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req rowRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if req.Date == "" {
		apihttp.WriteError(w, validation.Errorf("date is required"))
		return
	}
	date, err := apihttp.ParseTime("date", req.Date)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	outcome, err := h.service.Record(r.Context(), monitoringapp.Input{
		MeterTag:  req.MeterTag,
		Date:      date,
		Subsea:    req.Subsea,
		Topside:   req.Topside,
		Separator: req.Separator,
		Notes:     req.Notes,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, outcome)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		row, err := h.service.Get(r.Context(), id)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, row)
	case http.MethodDelete:
		if err := h.service.Delete(r.Context(), id); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apihttp.WriteError(w, validation.Errorf("invalid multipart body: %v", err))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apihttp.WriteError(w, validation.Errorf("file field required"))
		return
	}
	defer file.Close()
	report, err := h.service.ImportXLSX(r.Context(), file)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	filter, err := parseFilter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	rows, err := h.service.List(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}

	start := time.Now()
	var data []byte
	switch format {
	case "csv":
		data, err = BuildCSV(rows)
	case "json":
		data, err = BuildJSON(rows)
	case "xlsx":
		data, err = BuildXLSX(rows)
	case "pdf":
		data, err = BuildPDF(auth.ResolveTenant(r.Context(), h.tenantID), rows)
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.ObserveExport("monitoring", format, metrics.ResultError, time.Since(start))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("monitoring", format, metrics.ResultSuccess, time.Since(start))
	apihttp.WriteFile(w, apihttp.ContentType(format), "monitoring."+format, data)
}

func parseFilter(r *http.Request) (monitoring.Filter, error) {
	from, to, err := apihttp.ParseRange(r)
	if err != nil {
		return monitoring.Filter{}, err
	}
	limit, err := apihttp.ParseIntQuery(r, "limit", 0)
	if err != nil {
		return monitoring.Filter{}, err
	}
	q := r.URL.Query()
	return monitoring.Filter{
		MeterTag: q.Get("meter"),
		From:     from,
		To:       to,
		Status:   monitoring.Status(q.Get("status")),
		Limit:    limit,
	}, nil
}
