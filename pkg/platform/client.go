// Package platform is the social platform API client. A Client is a
// capability object bound to a single account's access token; the vault
// constructs one per dispatch after making sure the token is fresh.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientOption allows for customization of the client
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// Client talks to the platform API on behalf of one account.
type Client struct {
	config      *Config
	accessToken string
	http        *http.Client
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

// NewClient creates a client bound to the given access token.
func NewClient(config *Config, accessToken string, opts ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	window := time.Duration(config.RateWindow) * time.Minute
	client := &Client{
		config:      config,
		accessToken: accessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(window/time.Duration(config.RateLimit)), 1),
		logger:      config.Logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// makeRequest performs an authenticated JSON request against the v2 API.
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	fullURL := c.config.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	return resp, nil
}

// handleResponse checks for API errors in the response and converts them to
// an APIError the retry policy can classify.
func (c *Client) handleResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read error response: %w", err)
	}

	apiErr := parseAPIError(resp.StatusCode, body)
	c.logger.WithFields(logrus.Fields{
		"status_code": apiErr.StatusCode,
		"error_code":  apiErr.Code,
		"message":     apiErr.Message,
	}).Error("platform API error")
	return apiErr
}

// waitForWriteSlot blocks on the write-call throttle.
func (c *Client) waitForWriteSlot(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}
