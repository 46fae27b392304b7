// Package sitingapi is a client for the facility siting data API.
package sitingapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/coverage-map/internal/model"
	"github.com/sells-group/coverage-map/internal/resilience"
)

const serviceName = "sitingapi"

// Client reads facilities, recommendations and population data.
type Client interface {
	// Facilities lists every facility.
	Facilities(ctx context.Context) ([]model.Facility, error)

	// Recommendations lists siting recommendations for the given parameters.
	Recommendations(ctx context.Context, params model.RecommendationParams) (*model.RecommendationList, error)

	// PopulationGrid returns heatmap cells.
	PopulationGrid(ctx context.Context) ([]model.HeatPoint, error)

	// PopulationEstimate returns the grid plus per-district totals.
	PopulationEstimate(ctx context.Context) (*model.PopulationEstimate, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *client) {
		c.apiKey = key
	}
}

// WithRateLimit caps requests per second. Zero or less disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *client) {
		c.retry = cfg
	}
}

// WithBreaker routes every request through b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *client) {
		c.breaker = b
	}
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.Breaker
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Facilities(ctx context.Context) ([]model.Facility, error) {
	var out []model.Facility
	if err := c.get(ctx, "facilities", "/facilities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Recommendations(ctx context.Context, params model.RecommendationParams) (*model.RecommendationList, error) {
	q := url.Values{}
	if params.FacilityType != "" && params.FacilityType != model.FilterAll {
		q.Set("facility_type", params.FacilityType)
	}
	if params.MaxTravelTimeMinutes > 0 {
		q.Set("max_travel_time", strconv.FormatFloat(params.MaxTravelTimeMinutes, 'f', -1, 64))
	}

	var out model.RecommendationList
	if err := c.get(ctx, "recommendations", "/recommendations", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) PopulationGrid(ctx context.Context) ([]model.HeatPoint, error) {
	var out []model.HeatPoint
	if err := c.get(ctx, "population grid", "/population/grid", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) PopulationEstimate(ctx context.Context) (*model.PopulationEstimate, error) {
	var out model.PopulationEstimate
	if err := c.get(ctx, "population estimate", "/population/estimate", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get fetches path and decodes the JSON body into dst, retrying transient
// failures.
func (c *client) get(ctx context.Context, op, path string, q url.Values, dst any) error {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(serviceName, op)
	}

	body, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		if c.breaker == nil {
			return c.fetch(ctx, op, reqURL)
		}
		return resilience.Execute(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
			return c.fetch(ctx, op, reqURL)
		})
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return eris.Wrapf(err, "sitingapi: parse %s", op)
	}
	return nil
}

func (c *client) fetch(ctx context.Context, op, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "sitingapi: %s rate limit", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "sitingapi: %s build request", op)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "sitingapi: %s request", op)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "sitingapi: %s read body", op)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("sitingapi: %s returned status %d: %s", op, resp.StatusCode, snippet(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	return body, nil
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
