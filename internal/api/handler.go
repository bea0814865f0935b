package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"multimet/internal/apperr"
	"multimet/internal/service"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	maxAPIForecastDays = 7
	maxGeocodeResults  = 10
	requestIDHeader    = "X-Request-ID"
)

// ForecastService is the slice of the service layer the handlers need.
type ForecastService interface {
	ForecastByQuery(ctx context.Context, query string, days int, models []weather.Model) (*service.ForecastResponse, error)
	ForecastByCoords(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*service.ForecastResponse, error)
	Compare(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*service.CompareResponse, error)
	CompareByQuery(ctx context.Context, query string, days int, models []weather.Model) (*service.CompareResponse, error)
	Geocode(ctx context.Context, query string, count int) ([]weather.GeocodingResult, error)
}

type Handler struct {
	service ForecastService
}

func NewHandler(svc ForecastService) *Handler {
	return &Handler{service: svc}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/forecast", h.getForecast)
	mux.HandleFunc("GET /v1/compare", h.getCompare)
	mux.HandleFunc("GET /v1/geocode", h.getGeocode)
	mux.HandleFunc("GET /health", h.health)
}

// forecastParams are the query parameters shared by /v1/forecast and
// /v1/compare. Either q or lat+lon locates the forecast.
type forecastParams struct {
	query  string
	coords units.Coordinates
	byName bool
	days   int
	models []weather.Model
}

func parseForecastParams(r *http.Request) (forecastParams, error) {
	q := r.URL.Query()
	var p forecastParams

	p.query = strings.TrimSpace(q.Get("q"))
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	switch {
	case p.query != "":
		p.byName = true
	case latStr != "" && lonStr != "":
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return p, apperr.New(apperr.InvalidInput, "invalid lat parameter")
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return p, apperr.New(apperr.InvalidInput, "invalid lon parameter")
		}
		coords, err := units.NewCoordinates(lat, lon)
		if err != nil {
			return p, err
		}
		p.coords = coords
	default:
		return p, apperr.New(apperr.InvalidInput, "either q or lat and lon are required")
	}

	p.days = maxAPIForecastDays
	if daysStr := q.Get("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 || days > maxAPIForecastDays {
			return p, apperr.Newf(apperr.InvalidInput, "days must be an integer between 1 and %d", maxAPIForecastDays)
		}
		p.days = days
	}

	if modelsStr := q.Get("models"); modelsStr != "" {
		for _, name := range strings.Split(modelsStr, ",") {
			m, err := weather.ParseModel(strings.TrimSpace(name))
			if err != nil {
				return p, err
			}
			p.models = append(p.models, m)
		}
	}

	return p, nil
}

func (h *Handler) getForecast(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	params, err := parseForecastParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var resp *service.ForecastResponse
	if params.byName {
		resp, err = h.service.ForecastByQuery(r.Context(), params.query, params.days, params.models)
	} else {
		resp, err = h.service.ForecastByCoords(r.Context(), params.coords, params.days, params.models)
	}
	if err != nil {
		slog.Error("forecast request failed", "err", err, "request_id", requestID)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCompare(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	params, err := parseForecastParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var resp *service.CompareResponse
	if params.byName {
		resp, err = h.service.CompareByQuery(r.Context(), params.query, params.days, params.models)
	} else {
		resp, err = h.service.Compare(r.Context(), params.coords, params.days, params.models)
	}
	if err != nil {
		slog.Error("compare request failed", "err", err, "request_id", requestID)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getGeocode(w http.ResponseWriter, r *http.Request) {
	requestID := ensureRequestID(w, r)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	count := 5
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		c, err := strconv.Atoi(countStr)
		if err != nil || c < 1 || c > maxGeocodeResults {
			writeError(w, apperr.Newf(apperr.InvalidInput, "count must be an integer between 1 and %d", maxGeocodeResults))
			return
		}
		count = c
	}

	results, err := h.service.Geocode(r.Context(), query, count)
	if err != nil {
		slog.Error("geocode request failed", "err", err, "request_id", requestID)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ensureRequestID echoes the caller's request id or assigns a fresh one.
func ensureRequestID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	return id
}

// statusForKind maps error kinds onto HTTP statuses. Unknown kinds are
// internal errors.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidInput, apperr.GeocodingInvalidInput:
		return http.StatusBadRequest
	case apperr.GeocodingNotFound:
		return http.StatusNotFound
	case apperr.ApiRateLimited:
		return http.StatusTooManyRequests
	case apperr.ApiTimeout:
		return http.StatusGatewayTimeout
	case apperr.ApiUnavailable, apperr.ApiInvalidResponse, apperr.GeocodingServiceError:
		return http.StatusBadGateway
	case apperr.Cancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	msg := apperr.Message(err)
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"kind":  kind.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
