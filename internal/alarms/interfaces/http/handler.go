package http

import (
	"errors"
	"net/http"

	alarmapp "mpfm-monitor/internal/alarms/application"
	alarms "mpfm-monitor/internal/alarms/domain"
	apihttp "mpfm-monitor/internal/api/http"
)

const basePath = "/api/v1/alerts"

// Handler provides alert HTTP endpoints.
type Handler struct {
	service *alarmapp.Service
	stream  http.Handler
}

// NewHandler constructs a handler. stream may be nil when SSE is disabled.
func NewHandler(service *alarmapp.Service, stream http.Handler) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	apihttp.RegisterNotFound(alarms.ErrNotFound)
	apihttp.RegisterConflict(alarms.ErrInvalidTransition)
	return &Handler{service: service, stream: stream}, nil
}

// ServeHTTP handles /api/v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	switch {
	case len(parts) == 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case len(parts) == 1 && parts[0] == "stream":
		if h.stream == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.stream.ServeHTTP(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		alert, err := h.service.Get(r.Context(), parts[0])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, alert)
	case len(parts) == 2:
		h.handleAction(w, r, parts[0], parts[1])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	from, to, err := apihttp.ParseRange(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	limit, err := apihttp.ParseIntQuery(r, "limit", 0)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	query := r.URL.Query()
	list, err := h.service.List(r.Context(), alarms.Filter{
		MeterTag: query.Get("meter"),
		Status:   query.Get("status"),
		Type:     alarms.Type(query.Get("type")),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []alarms.Alert{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var (
		alert *alarms.Alert
		err   error
	)
	switch action {
	case "ack":
		alert, err = h.service.Ack(r.Context(), id)
	case "resolve":
		alert, err = h.service.Resolve(r.Context(), id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, alert)
}
