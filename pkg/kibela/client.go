package kibela

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kibela/kibela-to-kibela/pkg/kibela/ops"
	"github.com/kibela/kibela-to-kibela/pkg/kibela/wire"
	"github.com/kibela/kibela-to-kibela/pkg/logging"
)

// Defaults and protocol constants.
const (
	// DefaultEndpointTemplate is expanded by substituting the team name.
	DefaultEndpointTemplate = "https://{team}.kibela.com/api/v1"

	// DefaultLeastDelay is the steady-state pre-attempt delay after a
	// successful call.
	DefaultLeastDelay = 100 * time.Millisecond

	// leastDelayAfterNetworkError floors the exponential backoff applied
	// after a transport failure, so a single blip never causes a tight
	// retry storm.
	leastDelayAfterNetworkError = 2 * time.Second

	// runtimeHeader carries server-side processing time in fractional
	// seconds. Diagnostics only.
	runtimeHeader = "X-Runtime"
)

// HTTPDoer is the minimal transport interface; *http.Client satisfies it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config holds client construction parameters. Zero values fall back to
// the documented defaults.
type Config struct {
	// Team is the Kibela team (tenant) subdomain. Required.
	Team string
	// AccessToken authenticates every request. Required.
	AccessToken string
	// EndpointTemplate contains a {team} placeholder.
	EndpointTemplate string
	// UserAgent identifies this tool to the provider.
	UserAgent string
	// Format is the wire content type (wire.FormatJSON or wire.FormatMsgpack).
	Format string
	// LeastDelay is the steady-state pre-attempt delay.
	LeastDelay time.Duration
	// RetryCount is the number of retries beyond the first attempt.
	RetryCount int
	// HTTPClient overrides the transport. Defaults to an *http.Client
	// with a 60s timeout.
	HTTPClient HTTPDoer
	// Logger receives per-attempt diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger
}

// Client executes GraphQL operations against one Kibela team.
type Client struct {
	endpoint   string
	header     http.Header
	format     string
	leastDelay time.Duration
	retryCount int
	doer       HTTPDoer
	logger     *slog.Logger

	// delay is the adaptive pre-attempt wait. It carries across logical
	// calls on purpose: provider throttling is a cross-call condition.
	mu    sync.Mutex
	delay time.Duration

	// sleep is swapped out by tests to observe waits synthetically.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient validates cfg and returns a ready client. The endpoint URL and
// header set are fixed for the client's lifetime.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Team == "" {
		return nil, fmt.Errorf("%w: team is required", ErrConfiguration)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrConfiguration)
	}
	if cfg.Format == "" {
		cfg.Format = wire.FormatJSON
	}
	if !wire.Supported(cfg.Format) {
		return nil, fmt.Errorf("%w: %w: %q", ErrConfiguration, wire.ErrUnsupportedFormat, cfg.Format)
	}
	if cfg.EndpointTemplate == "" {
		cfg.EndpointTemplate = DefaultEndpointTemplate
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "kibela-to-kibela"
	}
	if cfg.LeastDelay <= 0 {
		cfg.LeastDelay = DefaultLeastDelay
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	accept := cfg.Format
	if cfg.Format != wire.FormatJSON {
		// Offer JSON as a fallback so error pages from intermediaries
		// still decode on the uniform path.
		accept = cfg.Format + ", " + wire.FormatJSON
	}
	header := http.Header{}
	header.Set("Content-Type", cfg.Format)
	header.Set("Accept", accept)
	header.Set("Authorization", "Bearer "+cfg.AccessToken)
	header.Set("User-Agent", cfg.UserAgent)

	return &Client{
		endpoint:   strings.ReplaceAll(cfg.EndpointTemplate, "{team}", cfg.Team),
		header:     header,
		format:     cfg.Format,
		leastDelay: cfg.LeastDelay,
		retryCount: cfg.RetryCount,
		doer:       cfg.HTTPClient,
		logger:     cfg.Logger,
		sleep:      sleepContext,
	}, nil
}

// Endpoint returns the derived endpoint URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Response is the result of a successful call. Data is never nil.
type Response struct {
	Data map[string]any
	Meta Meta
}

// Meta carries response diagnostics.
type Meta struct {
	ContentType string
	Timing      Timing
}

// Timing is the wall-clock breakdown of the successful attempt.
type Timing struct {
	Serialize     time.Duration
	Network       time.Duration
	ServerRuntime time.Duration
	Decode        time.Duration
	Total         time.Duration
	Attempts      int
}

// Request executes op with the given variables. It serializes the envelope
// once, then runs up to RetryCount+1 sequential attempts, sleeping the
// client's adaptive delay before each one. Transport failures double the
// delay (floored at 2s); a sole budget-exhausted error adopts the remote's
// suggested wait; any other application error is terminal. On success the
// delay resets to the configured least delay.
func (c *Client) Request(ctx context.Context, op *ops.Operation, variables map[string]any) (*Response, error) {
	start := time.Now()

	name := op.Name()
	if name == "" {
		return nil, fmt.Errorf("%w: operation has no name", ErrConfiguration)
	}
	body, err := wire.Marshal(c.format, &wire.Envelope{
		Query:         op.Source(),
		OperationName: name,
		Variables:     variables,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	serialize := time.Since(start)

	// The operation name on the URL is for log correlation only; the
	// wire-level operationName field is authoritative.
	endpoint := c.endpoint + "?operation=" + url.QueryEscape(name)

	var (
		causes    []error
		appErrors []ErrorRecord
		result    *Response
		attempts  int
	)
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}
		attempts++

		netStart := time.Now()
		resp, err := c.send(ctx, endpoint, body)
		if err != nil {
			causes = append(causes, err)
			c.backOff()
			c.logger.Debug("request failed at transport level",
				"operation", name, "attempt", attempts, "error", err)
			continue
		}
		network := time.Since(netStart)

		decodeStart := time.Now()
		contentType := resp.Header.Get("Content-Type")
		decoded, decodeErr := wire.Unmarshal(contentType, resp.Body)
		_ = resp.Body.Close()
		if decodeErr != nil {
			causes = append(causes, decodeErr)
			c.backOff()
			continue
		}
		decode := time.Since(decodeStart)

		if records := parseErrorRecords(decoded["errors"]); len(records) > 0 {
			appErrors = records
			wait, throttled := budgetWait(records, c.leastDelay)
			if !throttled {
				break
			}
			c.setDelay(wait)
			c.logger.Debug("budget exhausted, honoring suggested wait",
				"operation", name, "attempt", attempts, "wait", wait)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if data, ok := decoded["data"].(map[string]any); ok && data != nil {
				result = &Response{
					Data: data,
					Meta: Meta{
						ContentType: contentType,
						Timing: Timing{
							Serialize:     serialize,
							Network:       network,
							ServerRuntime: serverRuntime(resp.Header),
							Decode:        decode,
							Total:         time.Since(start),
							Attempts:      attempts,
						},
					},
				}
				break
			}
		}
		causes = append(causes, fmt.Errorf("incomplete response: status %d, content-type %q",
			resp.StatusCode, contentType))
	}

	if result != nil {
		c.setDelay(c.leastDelay)
		return result, nil
	}
	// Application errors take priority in reporting even when attempts
	// also failed at the transport level.
	if len(appErrors) > 0 {
		return nil, &GraphQLError{
			Message:   appErrors[0].Message,
			Query:     op.Source(),
			Variables: variables,
			Errors:    appErrors,
		}
	}
	return nil, &NetworkError{Attempts: attempts, Causes: causes}
}

func (c *Client) send(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = c.header.Clone()
	return c.doer.Do(req)
}

// waitTurn sleeps the current adaptive delay.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	return c.sleep(ctx, d)
}

// backOff doubles the delay after a transport failure, floored so a cold
// client (delay 0) still waits a meaningful interval.
func (c *Client) backOff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay *= 2
	if c.delay < leastDelayAfterNetworkError {
		c.delay = leastDelayAfterNetworkError
	}
}

func (c *Client) setDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// serverRuntime parses the fractional-seconds processing time header.
func serverRuntime(h http.Header) time.Duration {
	raw := h.Get(runtimeHeader)
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
