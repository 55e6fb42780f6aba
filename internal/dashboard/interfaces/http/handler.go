package http

import (
	"errors"
	"net/http"

	apihttp "mpfm-monitor/internal/api/http"
	dashboardapp "mpfm-monitor/internal/dashboard/application"
)

const basePath = "/api/v1/dashboard"

// Handler serves the tenant summary.
type Handler struct {
	service *dashboardapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *dashboardapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("dashboard handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles GET /api/v1/dashboard?days=N.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(apihttp.SplitPath(r.URL.Path, basePath)) != 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	days, err := apihttp.ParseIntQuery(r, "days", 0)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), days)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, summary)
}
