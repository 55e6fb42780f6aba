package http

import (
	"errors"
	"net/http"

	apihttp "mpfm-monitor/internal/api/http"
	meterapp "mpfm-monitor/internal/meters/application"
	meters "mpfm-monitor/internal/meters/domain"
	"mpfm-monitor/internal/validation"
)

const basePath = "/api/v1/meters"

// Handler provides meter registry endpoints.
type Handler struct {
	service *meterapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *meterapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("meters handler: nil service")
	}
	apihttp.RegisterNotFound(meters.ErrNotFound)
	apihttp.RegisterConflict(meters.ErrDuplicateTag)
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/meters and /api/v1/meters/{id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		h.handleItem(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := meters.Filter{}
	if value := r.URL.Query().Get("location"); value != "" {
		location, ok := meters.ParseLocation(value)
		if !ok {
			apihttp.WriteError(w, validation.Errorf("location must be TOPSIDE or SUBSEA"))
			return
		}
		filter.Location = location
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []meters.Meter{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in meterapp.Input
	if err := apihttp.DecodeJSON(r, &in); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	meter, err := h.service.Create(r.Context(), in)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusCreated, meter)
}

func (h *Handler) handleItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		meter, err := h.service.Get(r.Context(), id)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, meter)
	case http.MethodPut:
		var in meterapp.Input
		if err := apihttp.DecodeJSON(r, &in); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		meter, err := h.service.Update(r.Context(), id, in)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, meter)
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
