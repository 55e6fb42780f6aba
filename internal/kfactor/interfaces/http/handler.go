package http

import (
	"errors"
	"net/http"
	"strconv"

	apihttp "mpfm-monitor/internal/api/http"
	kfactorapp "mpfm-monitor/internal/kfactor/application"
	kfactor "mpfm-monitor/internal/kfactor/domain"
	"mpfm-monitor/internal/validation"
)

const basePath = "/api/v1/kfactor"

// Handler provides K-factor history and tracker endpoints.
type Handler struct {
	service *kfactorapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *kfactorapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("kfactor handler: nil service")
	}
	apihttp.RegisterNotFound(kfactor.ErrNotFound)
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/kfactor/history and /api/v1/kfactor/trackers.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := apihttp.SplitPath(r.URL.Path, basePath)
	if len(parts) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case parts[0] == "history" && len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHistory(w, r)
	case parts[0] == "trackers" && len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTrackers(w, r)
	case parts[0] == "trackers" && len(parts) == 2:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, err := h.service.Tracker(r.Context(), parts[1])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, state)
	case parts[0] == "trackers" && len(parts) == 3 && parts[2] == "reset":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		state, err := h.service.ResetAfterCalibration(r.Context(), parts[1])
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, state)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
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
	filter := kfactor.HistoryFilter{
		MeterTag: r.URL.Query().Get("meter"),
		Phase:    kfactor.Phase(r.URL.Query().Get("phase")),
		From:     from,
		To:       to,
		Limit:    limit,
	}
	switch filter.Phase {
	case "", kfactor.PhaseOil, kfactor.PhaseGas, kfactor.PhaseWater:
	default:
		apihttp.WriteError(w, validation.Errorf("phase must be oil, gas or water"))
		return
	}
	list, err := h.service.History(r.Context(), filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []kfactor.Check{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) handleTrackers(w http.ResponseWriter, r *http.Request) {
	onlyRequired := false
	if value := r.URL.Query().Get("required"); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			apihttp.WriteError(w, validation.Errorf("required must be a boolean"))
			return
		}
		onlyRequired = parsed
	}
	list, err := h.service.Trackers(r.Context(), onlyRequired)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []kfactor.TrackerState{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}
