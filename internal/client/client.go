package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"lock-credential-bridge/internal/config"
	"lock-credential-bridge/internal/logging"
	"lock-credential-bridge/internal/types"
)

// HTTPClient talks to the upstream device-management service
type HTTPClient struct {
	httpClient   *http.Client
	baseURL      string
	apiToken     string
	logger       *logrus.Entry
	callTimeout  time.Duration
	pageSize     int
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
}

// ClientConfig holds configuration for the HTTP client
type ClientConfig struct {
	BaseURL      string
	APIToken     string
	CallTimeout  time.Duration
	PageSize     int
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultClientConfig returns a client configuration with sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		CallTimeout:  15 * time.Second,
		PageSize:     100,
		MaxRetries:   2,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.1,
	}
}

// NewHTTPClient creates a client for the configured upstream service
func NewHTTPClient(cfg *config.Config, logger *logrus.Logger) (*HTTPClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream base url is required")
	}

	clientCfg := DefaultClientConfig()
	clientCfg.BaseURL = cfg.Upstream.BaseURL
	clientCfg.APIToken = cfg.Upstream.APIToken
	if cfg.Upstream.CallTimeout > 0 {
		clientCfg.CallTimeout = cfg.Upstream.CallTimeout
	}
	if cfg.Upstream.PageSize > 0 {
		clientCfg.PageSize = cfg.Upstream.PageSize
	}
	if cfg.Upstream.MaxRetries >= 0 {
		clientCfg.MaxRetries = cfg.Upstream.MaxRetries
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	return &HTTPClient{
		httpClient:   httpClient,
		baseURL:      strings.TrimSuffix(clientCfg.BaseURL, "/"),
		apiToken:     clientCfg.APIToken,
		logger:       logging.NewServiceLogger(logger, "upstream"),
		callTimeout:  clientCfg.CallTimeout,
		pageSize:     clientCfg.PageSize,
		maxRetries:   clientCfg.MaxRetries,
		baseDelay:    clientCfg.BaseDelay,
		maxDelay:     clientCfg.MaxDelay,
		jitterFactor: clientCfg.JitterFactor,
	}, nil
}

// Request represents an HTTP request to be made
type Request struct {
	Op     string
	Method string
	Path   string
	Body   interface{}
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Do executes a request with a per-attempt timeout and retries transient
// failures. Every failure is returned as a *types.RemoteError.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	var lastErr *types.RemoteError
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateDelay(attempt)
			c.logger.WithFields(logrus.Fields{
				"op":      req.Op,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-ctx.Done():
				return nil, &types.RemoteError{Op: req.Op, Err: ctx.Err(), Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded)}
			case <-time.After(delay):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil || !c.shouldRetry(err) {
			return resp, err
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"op":      req.Op,
			"attempt": attempt + 1,
		}).Warn("Request failed, will retry")
	}

	return nil, lastErr
}

// doRequest performs a single HTTP request bounded by the call timeout
func (c *HTTPClient) doRequest(ctx context.Context, req *Request) (*Response, *types.RemoteError) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	fullURL := c.baseURL + req.Path

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &types.RemoteError{Op: req.Op, Err: fmt.Errorf("failed to marshal request body: %w", err)}
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, &types.RemoteError{Op: req.Op, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	c.logger.WithFields(logrus.Fields{
		"op":     req.Op,
		"method": req.Method,
		"url":    fullURL,
	}).Debug("Making HTTP request")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.RemoteError{Op: req.Op, Err: err, Timeout: isTimeout(err)}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &types.RemoteError{Op: req.Op, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err), Timeout: isTimeout(err)}
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		Headers:    httpResp.Header,
	}

	c.logger.WithFields(logrus.Fields{
		"op":          req.Op,
		"status_code": httpResp.StatusCode,
		"body_length": len(respBody),
	}).Debug("HTTP response received")

	if httpResp.StatusCode >= 400 {
		return resp, &types.RemoteError{
			Op:         req.Op,
			StatusCode: httpResp.StatusCode,
			Body:       errorMessage(respBody),
		}
	}

	return resp, nil
}

// shouldRetry retries network failures, throttling and server errors.
// Timeouts and auth failures are returned immediately.
func (c *HTTPClient) shouldRetry(err *types.RemoteError) bool {
	if err.Timeout || err.IsAuth() {
		return false
	}

	switch {
	case err.StatusCode == http.StatusTooManyRequests:
		return true
	case err.StatusCode >= 500:
		return true
	case err.StatusCode == 0 && err.Err != nil:
		return isNetworkError(err.Err)
	}
	return false
}

// calculateDelay calculates the delay for exponential backoff with jitter
func (c *HTTPClient) calculateDelay(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))

	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}

	jitter := delay * c.jitterFactor * (rand.Float64()*2 - 1)
	delay += jitter

	if delay < float64(c.baseDelay) {
		delay = float64(c.baseDelay)
	}

	return time.Duration(delay)
}

// Close closes idle connections
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isNetworkError checks if an error is a network-related error that should be retried
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, netErr := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"eof",
	} {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// errorMessage extracts the upstream message from an error body
func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return strings.TrimSpace(string(body))
}
