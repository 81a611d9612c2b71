// Package client fetches current conditions from WeatherAPI.com and
// normalizes them into types.Record values.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"

	"weatherpipe/internal/modules/weather/types"
)

const maxBodyBytes = 1 << 20

// Fetcher is the contract the pipeline depends on.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (types.Record, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Breaker enables a circuit breaker that fails fast after repeated
	// network or 5xx failures.
	Breaker bool
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	validate *validator.Validate
	logger   *slog.Logger
}

var errServerStatus = errors.New("server error status")

// exchange is one completed HTTP round trip.
type exchange struct {
	status int
	body   []byte
}

func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		http:     httpClient,
		validate: newValidator(),
		logger:   logger,
	}
	if cfg.Breaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "weatherapi",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Fetch performs exactly one GET for query. It never retries; failures are
// returned as *Error.
func (c *Client) Fetch(ctx context.Context, query string) (types.Record, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return types.Record{}, &Error{Kind: ErrInvalidQuery, Message: "location query is empty"}
	}

	start := time.Now()
	ex, err := c.roundTrip(ctx, query)
	if err != nil && ex == nil {
		c.logger.Warn("weather api request failed", "query", query, "err", err, "duration", time.Since(start))
		return types.Record{}, &Error{Kind: ErrNetwork, Query: query, Err: err}
	}
	c.logger.Debug("weather api response", "query", query, "status", ex.status, "bytes", len(ex.body), "duration", time.Since(start))

	if ex.status < 200 || ex.status >= 300 {
		return types.Record{}, c.apiError(query, ex)
	}
	return c.decode(query, ex.body)
}

// roundTrip returns a nil exchange only when no response was obtained.
func (c *Client) roundTrip(ctx context.Context, query string) (*exchange, error) {
	if c.breaker == nil {
		return c.do(ctx, query)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, err
	}
	ex, _ := out.(*exchange)
	return ex, err
}

func (c *Client) do(ctx context.Context, query string) (*exchange, error) {
	values := url.Values{}
	values.Set("key", c.apiKey)
	values.Set("q", query)
	values.Set("aqi", "no")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/current.json?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, redactKey(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	ex := &exchange{status: resp.StatusCode, body: body}
	if resp.StatusCode >= 500 {
		return ex, errServerStatus
	}
	return ex, nil
}

func (c *Client) apiError(query string, ex *exchange) error {
	e := &Error{Query: query, StatusCode: ex.status}
	var payload apiErrorResponse
	if err := json.Unmarshal(ex.body, &payload); err == nil && payload.Error != nil {
		e.APICode = payload.Error.Code
		e.Message = payload.Error.Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(ex.status)
	}
	e.Kind = classify(ex.status, e.APICode)
	return e
}

func (c *Client) decode(query string, body []byte) (types.Record, error) {
	var payload currentResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		e := &Error{Kind: ErrMalformedResponse, Query: query, Err: err}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			e.Field = typeErr.Field
		}
		return types.Record{}, e
	}
	if err := c.validate.Struct(&payload); err != nil {
		field := firstMissingField(err)
		return types.Record{}, &Error{Kind: ErrMalformedResponse, Query: query, Field: field, Message: "missing required field " + field}
	}
	rec, field, err := payload.toRecord()
	if err != nil {
		return types.Record{}, &Error{Kind: ErrMalformedResponse, Query: query, Field: field, Err: err}
	}
	return rec, nil
}

// redactKey strips the API key from *url.Error messages before they reach logs.
func redactKey(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		return err
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}
