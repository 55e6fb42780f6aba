package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	apihttp "mpfm-monitor/internal/api/http"
	desenquadramentoapp "mpfm-monitor/internal/desenquadramento/application"
	desenquadramento "mpfm-monitor/internal/desenquadramento/domain"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/observability/metrics"
	"mpfm-monitor/internal/validation"
)

const basePath = "/api/v1/desenquadramentos"

// Handler provides desenquadramento workflow endpoints.
type Handler struct {
	service *desenquadramentoapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *desenquadramentoapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("desenquadramento handler: nil service")
	}
	apihttp.RegisterNotFound(desenquadramento.ErrNotFound)
	apihttp.RegisterConflict(desenquadramento.ErrInvalidTransition)
	return &Handler{service: service}, nil
}

type openRequest struct {
	MeterTag    string `json:"meter_tag"`
	Location    string `json:"location"`
	OccurredAt  string `json:"occurred_at"`
	Cause       string `json:"cause"`
	Description string `json:"description"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

// ServeHTTP handles /api/v1/desenquadramentos and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleOpen(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 1 && parts[0] == "deadlines":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		deadlines, err := h.service.Deadlines(r.Context())
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		if deadlines == nil {
			deadlines = []desenquadramento.Deadline{}
		}
		apihttp.WriteJSON(w, http.StatusOK, deadlines)
	case len(parts) == 1:
		h.handleItem(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "transition":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTransition(w, r, parts[0])
	case len(parts) == 2:
		format, ok := apihttp.ExportFormat(parts[1], "report")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleReport(w, r, parts[0], format)
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
	openOnly := false
	if value := q.Get("open"); value != "" {
		openOnly, err = strconv.ParseBool(value)
		if err != nil {
			apihttp.WriteError(w, validation.Errorf("open must be a boolean"))
			return
		}
	}
	list, err := h.service.List(r.Context(), desenquadramento.Filter{
		MeterTag: q.Get("meter"),
		Status:   desenquadramento.Status(strings.ToUpper(q.Get("status"))),
		OpenOnly: openOnly,
		Limit:    limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []desenquadramento.Event{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if req.OccurredAt == "" {
		apihttp.WriteError(w, validation.Errorf("occurred_at is required"))
		return
	}
	occurredAt, err := apihttp.ParseTime("occurred_at", req.OccurredAt)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	in := desenquadramentoapp.OpenInput{
		MeterTag:    req.MeterTag,
		OccurredAt:  occurredAt,
		Cause:       req.Cause,
		Description: req.Description,
	}
	if req.Location != "" {
		location, ok := meters.ParseLocation(req.Location)
		if !ok {
			apihttp.WriteError(w, validation.Errorf("location must be TOPSIDE or SUBSEA"))
			return
		}
		in.Location = location
	}
	event, err := h.service.Open(r.Context(), in)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		event, err := h.service.Get(r.Context(), id)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, event)
	case http.MethodPatch:
		var in desenquadramentoapp.DetailsInput
		if err := apihttp.DecodeJSON(r, &in); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		event, err := h.service.UpdateDetails(r.Context(), id, in)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, event)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, id string) {
	var req transitionRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	to := desenquadramento.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	event, err := h.service.Transition(r.Context(), id, to)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, event)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, id, format string) {
	event, err := h.service.Get(r.Context(), id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	deadlines := h.service.EventDeadlines(*event)

	start := time.Now()
	var data []byte
	switch format {
	case "xml":
		data, err = BuildXML(*event, deadlines, start)
	case "pdf":
		data, err = BuildPDF(*event, deadlines)
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.ObserveExport("desenquadramento", format, metrics.ResultError, time.Since(start))
		http.Error(w, "report failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport("desenquadramento", format, metrics.ResultSuccess, time.Since(start))
	apihttp.WriteFile(w, apihttp.ContentType(format), "desenquadramento-"+event.ID+"."+format, data)
}
