package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"multimet/internal/apperr"
	"multimet/internal/units"
	"multimet/internal/weather"
)

const (
	defaultTimeout = 30 * time.Second
	retryBackoff   = 500 * time.Millisecond
	maxRetries     = 1

	// bodyExcerptLimit bounds how much upstream body ends up in error
	// messages and logs.
	bodyExcerptLimit = 256

	MinForecastDays = 1
	MaxForecastDays = 16
)

// Client fetches per-model forecasts and geocoding results. Safe for
// concurrent use.
type Client struct {
	forecastBaseURL  string
	geocodingBaseURL string
	timeout          time.Duration
	httpClient       *http.Client
	now              func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// withClock pins the clock in tests.
func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient builds a client. Empty base URLs fall back to the public
// Open-Meteo hosts; tests point them at httptest servers.
func NewClient(forecastBaseURL, geocodingBaseURL string, opts ...Option) *Client {
	c := &Client{
		forecastBaseURL:  strings.TrimSuffix(forecastBaseURL, "/"),
		geocodingBaseURL: strings.TrimSuffix(geocodingBaseURL, "/"),
		timeout:          defaultTimeout,
		httpClient:       &http.Client{},
		now:              time.Now,
	}
	if c.forecastBaseURL == "" {
		c.forecastBaseURL = DefaultForecastBaseURL
	}
	if c.geocodingBaseURL == "" {
		c.geocodingBaseURL = DefaultGeocodingBaseURL
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch retrieves and normalizes one model's forecast.
func (c *Client) Fetch(ctx context.Context, model weather.Model, coords units.Coordinates, forecastDays int, timezone string) (weather.ModelForecast, error) {
	if forecastDays < MinForecastDays || forecastDays > MaxForecastDays {
		return weather.ModelForecast{}, apperr.Newf(apperr.InvalidInput, "forecast days %d out of range [%d, %d]", forecastDays, MinForecastDays, MaxForecastDays)
	}
	if timezone == "" {
		timezone = "auto"
	}

	ep, err := ResolveEndpoint(model)
	if err != nil {
		return weather.ModelForecast{}, err
	}

	params := url.Values{
		"latitude":      {fmt.Sprintf("%.4f", float64(coords.Lat))},
		"longitude":     {fmt.Sprintf("%.4f", float64(coords.Lon))},
		"hourly":        {strings.Join(hourlyVariables, ",")},
		"daily":         {strings.Join(dailyVariables, ",")},
		"timezone":      {timezone},
		"forecast_days": {strconv.Itoa(forecastDays)},
	}
	if ep.Selector != "" {
		params.Set("models", ep.Selector)
	}

	body, err := c.get(ctx, c.forecastBaseURL+ep.Path, params)
	if err != nil {
		return weather.ModelForecast{}, fmt.Errorf("fetch %s forecast: %w", model, err)
	}
	return parseForecast(model, coords, body, c.now())
}

// get issues a GET with one bounded retry on transient failures (5xx,
// timeout, connection reset). 429 and other 4xx never retry.
func (c *Client) get(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, apperr.Wrap(apperr.Cancelled, "request cancelled", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, retryable, err := c.getOnce(ctx, rawURL, params)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, rawURL string, params url.Values) (body []byte, retryable bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Unknown, "build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, apperr.Wrap(apperr.ApiUnavailable, "read upstream response", err)
		}
		return data, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		msg := "upstream rate limit reached"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg = fmt.Sprintf("upstream rate limit reached, retry after %ss", ra)
		}
		return nil, false, apperr.New(apperr.ApiRateLimited, msg)

	case resp.StatusCode >= 500:
		return nil, true, apperr.Newf(apperr.ApiUnavailable, "upstream returned %d: %s", resp.StatusCode, bodyExcerpt(resp.Body))

	default: // remaining 4xx
		return nil, false, apperr.Newf(apperr.ApiInvalidResponse, "upstream returned %d: %s", resp.StatusCode, bodyExcerpt(resp.Body))
	}
}

// classifyTransportErr maps transport failures onto the error taxonomy.
// Caller cancellation is distinguished from the per-request deadline.
func classifyTransportErr(parent context.Context, err error) (body []byte, retryable bool, out error) {
	if parent.Err() != nil {
		return nil, false, apperr.Wrap(apperr.Cancelled, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, true, apperr.Wrap(apperr.ApiTimeout, "upstream request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil, true, apperr.Wrap(apperr.ApiTimeout, "upstream request timed out", err)
	}
	return nil, true, apperr.Wrap(apperr.ApiUnavailable, "upstream unreachable", err)
}

func bodyExcerpt(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, bodyExcerptLimit))
	return strings.TrimSpace(string(data))
}
