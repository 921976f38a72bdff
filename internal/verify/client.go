// Package verify calls an external email-validation API with retries,
// per-attempt timeouts and a circuit breaker. An outage of the validation
// service must never halt a campaign: every failure path degrades to an
// "unknown, treat as risky" result instead of an error.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Status is the validation verdict for one address
type Status string

const (
	StatusOK         Status = "ok"
	StatusInvalid    Status = "invalid"
	StatusCatchAll   Status = "catch_all"
	StatusDisposable Status = "disposable"
	StatusSpamtrap   Status = "spamtrap"
	StatusUnknown    Status = "unknown"
)

// Result is what the orchestrator acts on. Only Valid addresses are sent;
// Risky ones (catch-all domains included: accept-risk is not confirmed
// deliverable) are skipped.
type Result struct {
	Status Status `json:"status"`
	Valid  bool   `json:"valid"`
	Risky  bool   `json:"risky"`
}

// Options configures the client
type Options struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration // per attempt
	MaxRetries   int
	RetryBackoff time.Duration // doubled each attempt

	BreakerThreshold int
	BreakerReset     time.Duration
}

// Client verifies email addresses against the external validation API
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	breaker      *Breaker
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	logger       *slog.Logger
}

// NewClient creates a verification client with its own breaker
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}

	return &Client{
		baseURL:      opts.BaseURL,
		apiKey:       opts.APIKey,
		httpClient:   &http.Client{},
		breaker:      NewBreaker(opts.BreakerThreshold, opts.BreakerReset),
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       logger,
	}
}

// BreakerState exposes the breaker position for metrics and tests
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// apiResponse is the validation API's wire format
type apiResponse struct {
	Status     string `json:"status"`
	Disposable bool   `json:"disposable"`
	CatchAll   bool   `json:"catchall"`
}

// unknownRisky is the degraded result used whenever the API cannot answer
var unknownRisky = Result{Status: StatusUnknown, Valid: false, Risky: true}

// Verify validates one address. It retries transient failures with
// exponential backoff, short-circuits while the breaker is open and always
// returns a usable Result, so a verification outage degrades sends to skips
// instead of failing the caller's loop.
func (c *Client) Verify(ctx context.Context, email string) Result {
	if !c.breaker.Allow() {
		c.logger.Debug("verification short-circuited, breaker open", "email", email)
		return unknownRisky
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(ctx, email)
		if err == nil {
			c.breaker.RecordSuccess()
			return mapResponse(resp)
		}
		lastErr = err

		if ctx.Err() != nil || attempt >= c.maxRetries {
			break
		}

		backoff := c.retryBackoff * (1 << attempt)
		select {
		case <-ctx.Done():
			c.breaker.RecordFailure()
			c.logger.Warn("verification cancelled", "email", email, "error", ctx.Err())
			return unknownRisky
		case <-time.After(backoff):
		}
	}

	c.breaker.RecordFailure()
	c.logger.Warn("verification failed, treating as risky",
		"email", email,
		"attempts", c.maxRetries+1,
		"error", lastErr,
	)
	return unknownRisky
}

// attempt performs one time-bounded API call
func (c *Client) attempt(ctx context.Context, email string) (*apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/v1/verify?" + url.Values{"email": {email}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// mapResponse turns the wire response into a verdict. Catch-all and
// disposable results are flagged risky even when the API calls them ok.
func mapResponse(resp *apiResponse) Result {
	switch {
	case resp.CatchAll:
		return Result{Status: StatusCatchAll, Valid: false, Risky: true}
	case resp.Disposable:
		return Result{Status: StatusDisposable, Valid: false, Risky: true}
	}

	switch resp.Status {
	case "ok", "valid":
		return Result{Status: StatusOK, Valid: true, Risky: false}
	case "invalid":
		return Result{Status: StatusInvalid, Valid: false, Risky: false}
	case "spamtrap":
		return Result{Status: StatusSpamtrap, Valid: false, Risky: true}
	case "catch_all", "catchall":
		return Result{Status: StatusCatchAll, Valid: false, Risky: true}
	case "disposable":
		return Result{Status: StatusDisposable, Valid: false, Risky: true}
	default:
		return unknownRisky
	}
}
