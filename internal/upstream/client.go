// Package upstream implements the OpenAI-compatible chat completion client
// used for every fallback attempt.
//
// Upstreams are not guaranteed to be well behaved, so the client returns the
// richest value it can decode (completion, JSON document, chunk stream or
// text) and leaves reply extraction to the normalizer.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"chatgate/internal/core"
)

// maxBodySize bounds non-streaming response bodies.
const maxBodySize = 32 * 1024 * 1024

// Config holds configuration for the upstream client
type Config struct {
	// Default is used for attempts that name no provider
	Default core.Provider
	// Stream asks every upstream for a server-sent event response
	Stream bool
	// CircuitBreaker is applied per provider; nil disables it
	CircuitBreaker *CircuitBreakerConfig
}

// Client sends chat completion requests to OpenAI-compatible endpoints.
type Client struct {
	httpClient *http.Client
	config     Config

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

// New creates a new upstream client
func New(httpClient *http.Client, config Config) *Client {
	if config.Default.Name == "" {
		config.Default.Name = core.DefaultProviderLabel
	}
	if config.CircuitBreaker != nil && config.CircuitBreaker.FailureThreshold <= 0 {
		config.CircuitBreaker = nil
	}
	return &Client{
		httpClient: httpClient,
		config:     config,
		breakers:   make(map[string]*circuitBreaker),
	}
}

type completionBody struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

// CreateCompletion implements core.Upstream.
func (c *Client) CreateCompletion(ctx context.Context, req *core.CompletionRequest) (any, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("completion request is required", nil)
	}

	provider := req.Provider
	if provider == nil {
		provider = &c.config.Default
	}
	name := provider.Name

	breaker := c.breaker(name)
	if breaker != nil && !breaker.Allow() {
		return nil, core.NewProviderError(name, http.StatusServiceUnavailable,
			"circuit breaker is open - provider temporarily unavailable", nil)
	}

	stream := req.Stream || c.config.Stream
	httpReq, err := c.buildRequest(ctx, provider, completionBody{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, core.NewProviderError(name, http.StatusBadGateway, "failed to send request: "+err.Error(), err)
	}

	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		_ = resp.Body.Close()
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, core.NewProviderError(name, http.StatusBadGateway, "failed to decode response: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(io.LimitReader(reader, maxBodySize))
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()

		if breaker != nil && (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) {
			breaker.RecordFailure()
		}
		return nil, core.ParseProviderError(name, resp.StatusCode, respBody, nil)
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readEvents(readCloser{Reader: reader, Closer: resp.Body}, streamError(name)), nil
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		return nil, core.NewProviderError(name, http.StatusBadGateway, "failed to read response: "+err.Error(), err)
	}
	return parseBody(body), nil
}

// BreakerState reports the circuit state for a provider, "closed" when the
// provider has not been called yet or breaking is disabled.
func (c *Client) BreakerState(provider string) string {
	c.mu.Lock()
	cb, ok := c.breakers[provider]
	c.mu.Unlock()
	if !ok {
		return "closed"
	}
	return cb.State()
}

func (c *Client) breaker(provider string) *circuitBreaker {
	if c.config.CircuitBreaker == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[provider]
	if !ok {
		cb = newCircuitBreaker(*c.config.CircuitBreaker)
		c.breakers[provider] = cb
	}
	return cb
}

func (c *Client) buildRequest(ctx context.Context, provider *core.Provider, body completionBody) (*http.Request, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to marshal request", err)
	}

	url := strings.TrimRight(provider.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if provider.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)
	}
	for key, value := range provider.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
