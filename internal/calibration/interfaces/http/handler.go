package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	apihttp "mpfm-monitor/internal/api/http"
	calibrationapp "mpfm-monitor/internal/calibration/application"
	calibration "mpfm-monitor/internal/calibration/domain"
	"mpfm-monitor/internal/validation"
)

const (
	basePath = "/api/v1/calibrations"

	maxReportBytes = 1 << 20
)

// Handler provides calibration workflow endpoints.
type Handler struct {
	service *calibrationapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *calibrationapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("calibration handler: nil service")
	}
	apihttp.RegisterNotFound(calibration.ErrNotFound)
	apihttp.RegisterConflict(calibration.ErrInvalidTransition, calibration.ErrStepOutOfOrder)
	return &Handler{service: service}, nil
}

type createRequest struct {
	MeterTag string `json:"meter_tag"`
}

// ServeHTTP handles /api/v1/calibrations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 1 && parts[0] == "parse-report":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleParseReport(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		event, err := h.service.Get(r.Context(), parts[0])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, event)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		event, err := h.service.Cancel(r.Context(), parts[0])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, event)
	case len(parts) == 3 && parts[1] == "steps":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleStep(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := apihttp.ParseIntQuery(r, "limit", 0)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	list, err := h.service.List(r.Context(), calibration.Filter{
		MeterTag: q.Get("meter"),
		Status:   calibration.Status(strings.ToUpper(q.Get("status"))),
		Limit:    limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []calibration.Event{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	event, err := h.service.Create(r.Context(), req.MeterTag)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleStep(w http.ResponseWriter, r *http.Request, id, name string) {
	step, ok := calibration.ParseStep(name)
	if !ok {
		apihttp.WriteError(w, validation.Errorf("unknown step %q", name))
		return
	}
	var data json.RawMessage
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes))
		if err != nil {
			apihttp.WriteError(w, validation.Errorf("read body: %v", err))
			return
		}
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			if !json.Valid([]byte(trimmed)) {
				apihttp.WriteError(w, validation.Errorf("step payload must be json"))
				return
			}
			data = json.RawMessage(trimmed)
		}
	}
	event, err := h.service.CompleteStep(r.Context(), id, step, data)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, event)
}

func (h *Handler) handleParseReport(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		apihttp.WriteError(w, validation.Errorf("report text required"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes))
	if err != nil {
		apihttp.WriteError(w, validation.Errorf("read body: %v", err))
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		apihttp.WriteError(w, validation.Errorf("report text required"))
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, calibration.ParseReport(string(body)))
}
