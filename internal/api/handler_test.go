package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimet/internal/apperr"
	"multimet/internal/service"
	"multimet/internal/units"
	"multimet/internal/weather"
)

type stubService struct {
	forecast *service.ForecastResponse
	compare  *service.CompareResponse
	geocode  []weather.GeocodingResult
	err      error

	gotDays   int
	gotModels []weather.Model
	gotQuery  string
}

func (s *stubService) ForecastByQuery(ctx context.Context, query string, days int, models []weather.Model) (*service.ForecastResponse, error) {
	s.gotQuery, s.gotDays, s.gotModels = query, days, models
	return s.forecast, s.err
}

func (s *stubService) ForecastByCoords(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*service.ForecastResponse, error) {
	s.gotDays, s.gotModels = days, models
	return s.forecast, s.err
}

func (s *stubService) Compare(ctx context.Context, coords units.Coordinates, days int, models []weather.Model) (*service.CompareResponse, error) {
	s.gotDays, s.gotModels = days, models
	return s.compare, s.err
}

func (s *stubService) CompareByQuery(ctx context.Context, query string, days int, models []weather.Model) (*service.CompareResponse, error) {
	s.gotQuery, s.gotDays, s.gotModels = query, days, models
	return s.compare, s.err
}

func (s *stubService) Geocode(ctx context.Context, query string, count int) ([]weather.GeocodingResult, error) {
	s.gotQuery = query
	return s.geocode, s.err
}

func serve(t *testing.T, svc *stubService, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestGetForecastByCoords(t *testing.T) {
	svc := &stubService{forecast: &service.ForecastResponse{SuccessRate: 1}}
	rr := serve(t, svc, "/v1/forecast?lat=60.17&lon=24.94&days=3")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, svc.gotDays)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=300", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body["success_rate"])
}

func TestGetForecastByName(t *testing.T) {
	svc := &stubService{forecast: &service.ForecastResponse{}}
	rr := serve(t, svc, "/v1/forecast?q=Helsinki")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Helsinki", svc.gotQuery)
	// Days default to the API maximum horizon.
	assert.Equal(t, 7, svc.gotDays)
}

func TestGetForecastModelSubset(t *testing.T) {
	svc := &stubService{forecast: &service.ForecastResponse{}}
	rr := serve(t, svc, "/v1/forecast?q=Helsinki&models=ecmwf,gfs")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []weather.Model{weather.ModelECMWF, weather.ModelGFS}, svc.gotModels)
}

func TestGetForecastValidation(t *testing.T) {
	cases := map[string]string{
		"missing location": "/v1/forecast",
		"bad latitude":     "/v1/forecast?lat=abc&lon=24.9",
		"lat out of range": "/v1/forecast?lat=91&lon=24.9",
		"days too large":   "/v1/forecast?q=Helsinki&days=8",
		"days zero":        "/v1/forecast?q=Helsinki&days=0",
		"unknown model":    "/v1/forecast?q=Helsinki&models=hirlam",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rr := serve(t, &stubService{forecast: &service.ForecastResponse{}}, target)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		kind   apperr.Kind
		status int
	}{
		{apperr.GeocodingNotFound, http.StatusNotFound},
		{apperr.GeocodingInvalidInput, http.StatusBadRequest},
		{apperr.ApiRateLimited, http.StatusTooManyRequests},
		{apperr.ApiTimeout, http.StatusGatewayTimeout},
		{apperr.ApiUnavailable, http.StatusBadGateway},
		{apperr.Unknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			svc := &stubService{err: apperr.New(tc.kind, "nope")}
			rr := serve(t, svc, "/v1/forecast?q=Helsinki")
			assert.Equal(t, tc.status, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.kind.String(), body["kind"])
		})
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	svc := &stubService{err: apperr.New(apperr.Unknown, "pgx: connection refused")}
	rr := serve(t, svc, "/v1/forecast?q=Helsinki")

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "pgx")
}

func TestGetCompare(t *testing.T) {
	svc := &stubService{compare: &service.CompareResponse{
		Outliers: []weather.Model{weather.ModelGEM},
	}}
	rr := serve(t, svc, "/v1/compare?lat=60.17&lon=24.94")

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Outliers []string `json:"outliers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []string{"gem"}, body.Outliers)
}

func TestGetGeocode(t *testing.T) {
	svc := &stubService{geocode: []weather.GeocodingResult{{Name: "Helsinki"}}}
	rr := serve(t, svc, "/v1/geocode?q=Helsinki&count=3")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Helsinki", svc.gotQuery)

	var body struct {
		Results []weather.GeocodingResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "Helsinki", body.Results[0].Name)
}

func TestGetGeocodeBadCount(t *testing.T) {
	rr := serve(t, &stubService{}, "/v1/geocode?q=Helsinki&count=99")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&stubService{forecast: &service.ForecastResponse{}}).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/forecast?q=Helsinki", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))
}

func TestHealth(t *testing.T) {
	rr := serve(t, &stubService{}, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
