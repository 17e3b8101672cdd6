// Package renderclient provides the HTTP client for the external headless
// render service: budget gating, retries with backoff, and error
// classification. It implements the serving pipeline's Renderer interface.
package renderclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/seoshield/seo-shield-proxy-sub001/pkg/ratelimit"
	"github.com/seoshield/seo-shield-proxy-sub001/pkg/swr"
)

// Prometheus metrics for render service calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_render_client_requests_total",
		Help: "Total render service requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seoshield_render_client_request_duration_seconds",
		Help:    "Render service request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seoshield_render_client_errors_total",
		Help: "Total render service errors by class",
	}, []string{"class"})
)

// maxResponseBytes caps the rendered HTML we accept from the service.
const maxResponseBytes = 16 << 20

// Config holds the render service client configuration.
type Config struct {
	// BaseURL is the render service endpoint, e.g. "http://renderer:3000".
	BaseURL string

	// Token is the optional bearer token for the render service.
	Token string

	// UserAgent identifies this proxy to the render service.
	UserAgent string

	// Timeout bounds each HTTP request to the render service.
	Timeout time.Duration

	// Budget is the optional shared render budget tracker. Nil disables
	// budget gating.
	Budget *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "seo-shield-proxy/1.0",
		Timeout:   30 * time.Second,
	}
}

// Client calls the headless render service over HTTP.
type Client struct {
	httpClient *http.Client
	budget     *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

var _ swr.Renderer = (*Client)(nil)

// New creates a new render service client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("render service base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse render service base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		budget: cfg.Budget,
		config: cfg,
		logger: logger,
	}, nil
}

// Render fetches a fully rendered snapshot of pageURL from the render
// service. The service returns the rendered HTML in the body and the
// origin's status code in the X-Origin-Status header, so a rendered 404
// page is still a successful render.
func (c *Client) Render(ctx context.Context, pageURL string, profile swr.WaitProfile) (*swr.RenderResult, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(startTime).Seconds())
	}()

	if c.budget != nil {
		allowed, err := c.budget.ShouldAllowRender(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("Render budget check failed")
			return nil, fmt.Errorf("render budget check: %w", err)
		}
		if !allowed {
			requestsTotal.WithLabelValues("budget_blocked").Inc()
			return nil, ErrBudgetExhausted
		}
	}

	endpoint := c.config.BaseURL + "/render?" + url.Values{
		"url":  {pageURL},
		"wait": {string(profile)},
	}.Encode()

	var result *swr.RenderResult

	retryErr := retryWithBackoff(ctx, c.logger, func() (ErrorClass, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return ErrorClassNetwork, fmt.Errorf("create render request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		if c.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.Token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error().Err(err).Str("url", pageURL).Msg("Render service request failed")
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues("network_error").Inc()
			return ErrorClassNetwork, err
		}
		defer resp.Body.Close()

		if err := c.updateBudget(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update render budget from headers")
		}

		if resp.StatusCode != http.StatusOK {
			errClass := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("url", pageURL).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Render service error")

			return errClass, &ServiceError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return ErrorClassNetwork, fmt.Errorf("read render response: %w", err)
		}

		requestsTotal.WithLabelValues("200").Inc()
		result = &swr.RenderResult{
			HTML:       string(body),
			StatusCode: originStatus(resp.Header),
		}
		return "", nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	c.logger.Debug().
		Str("url", pageURL).
		Str("profile", string(profile)).
		Int("origin_status", result.StatusCode).
		Int("bytes", len(result.HTML)).
		Dur("duration", time.Since(startTime)).
		Msg("Render complete")

	return result, nil
}

// updateBudget feeds response headers to the budget tracker, detached from
// the caller's context so a cancelled render still records the headers.
func (c *Client) updateBudget(ctx context.Context, headers http.Header) error {
	if c.budget == nil {
		return nil
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return c.budget.UpdateFromHeaders(ctx, headers)
}

// classifyStatus maps a render service status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// originStatus extracts the rendered page's own status code. Services that
// omit the header rendered a 200 page.
func originStatus(headers http.Header) int {
	if v := headers.Get("X-Origin-Status"); v != "" {
		if code, err := strconv.Atoi(v); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return http.StatusOK
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
