package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/c360/fedgateway/errors"
)

// ClientConfig holds subgraph client settings.
type ClientConfig struct {
	// Timeout bounds a single HTTP round trip to a subgraph
	Timeout time.Duration
	// RetryMax is the number of retries for query dispatch (0 disables)
	RetryMax int
	// RetryWaitMin/Max bound the backoff between retries
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultClientConfig returns sensible client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      10 * time.Second,
		RetryMax:     2,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// Client talks to subgraph GraphQL endpoints over HTTP.
type Client struct {
	retrying *retryablehttp.Client
	plain    *http.Client
	logger   *slog.Logger
}

// NewClient creates a subgraph client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = &retryLogger{logger: logger.With("component", "subgraph-client")}

	return &Client{
		retrying: rc,
		plain:    &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "subgraph-client"),
	}
}

// Query sends a GraphQL request to the given endpoint and decodes the
// standard {data, errors} response. Transport failures are classified as
// transient; the caller scopes them to the affected fetch branch.
func (c *Client) Query(ctx context.Context, endpoint string, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Query", "encode request")
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Query", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.retrying.Do(httpReq)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Query", "subgraph request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrSubgraphUnavailable, resp.StatusCode),
			"Client", "Query", "subgraph request")
	}

	return decodeResponse(resp.Body)
}

// FetchSDL retrieves the subgraph's SDL via the _service { sdl } contract call.
func (c *Client) FetchSDL(ctx context.Context, endpoint string) (string, error) {
	resp, err := c.Query(ctx, endpoint, Request{Query: serviceSDLQuery})
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", errors.WrapInvalid(
			fmt.Errorf("_service query rejected: %s", resp.Errors[0].Message),
			"Client", "FetchSDL", "sdl retrieval")
	}

	var payload struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return "", errors.WrapInvalid(err, "Client", "FetchSDL", "decode _service payload")
	}
	if payload.Service.SDL == "" {
		return "", errors.WrapInvalid(errors.ErrMalformedSDL, "Client", "FetchSDL", "empty sdl")
	}

	return payload.Service.SDL, nil
}

// Probe issues a single-shot { __typename } query and returns the observed
// latency. No retries: the health monitor needs to see real failures.
func (c *Client) Probe(ctx context.Context, endpoint string) (time.Duration, error) {
	body, err := json.Marshal(Request{Query: probeQuery})
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "Probe", "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, errors.WrapInvalid(err, "Client", "Probe", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.plain.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return latency, errors.WrapTransient(err, "Client", "Probe", "probe request")
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return latency, errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrSubgraphUnavailable, resp.StatusCode),
			"Client", "Probe", "probe request")
	}

	return latency, nil
}

func decodeResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, errors.WrapTransient(err, "Client", "decodeResponse", "decode response body")
	}
	return &resp, nil
}

// retryLogger adapts slog to retryablehttp's LeveledLogger interface.
type retryLogger struct {
	logger *slog.Logger
}

func (l *retryLogger) Error(msg string, kv ...any) { l.logger.Error(msg, kv...) }
func (l *retryLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, kv...) }
func (l *retryLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l *retryLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, kv...) }
