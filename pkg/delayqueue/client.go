// Package delayqueue is the client for the external delayed-delivery
// service: hand it a target URL, an opaque JSON payload and a delay, and it
// calls the URL back at or after the requested time, at least once, with a
// signed request (see signature.go).
package delayqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds delay-queue service connection settings.
type Config struct {
	APIBaseURL     string
	AuthToken      string
	RequestTimeout time.Duration
	Logger         *logrus.Logger
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("delay-queue API base URL is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("delay-queue auth token is required")
	}
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
	return nil
}

// Client talks to the delay-queue service REST API.
type Client struct {
	config *Config
	client *http.Client
	logger *logrus.Logger
}

// NewClient creates a delay-queue client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.RequestTimeout},
		logger: config.Logger,
	}, nil
}

type publishRequest struct {
	URL          string          `json:"url"`
	Body         json.RawMessage `json:"body"`
	DelaySeconds int64           `json:"delaySeconds"`
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

// Publish enqueues a delayed HTTP callback and returns the message handle
// needed to cancel it.
func (c *Client) Publish(ctx context.Context, targetURL string, payload json.RawMessage, delay time.Duration) (string, error) {
	if delay < 0 {
		delay = 0
	}

	reqBody, err := json.Marshal(publishRequest{
		URL:          targetURL,
		Body:         payload,
		DelaySeconds: int64(delay / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling publish request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.APIBaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("error creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("delay-queue publish failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"body":        string(body),
		}).Error("delay-queue publish rejected")
		return "", fmt.Errorf("delay-queue publish rejected: status=%d", resp.StatusCode)
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("error decoding publish response: %w", err)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("delay-queue returned no message id")
	}

	c.logger.WithFields(logrus.Fields{
		"queue_handle":  out.MessageID,
		"delay_seconds": int64(delay / time.Second),
	}).Debug("delayed callback enqueued")
	return out.MessageID, nil
}

// Delete cancels a pending message by handle. Best-effort at call sites:
// a message already delivered or expired is gone either way, and the
// dispatcher's status guard makes a late callback harmless.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", c.config.APIBaseURL+"/v1/messages/"+messageID, nil)
	if err != nil {
		return fmt.Errorf("error creating delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delay-queue delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delay-queue delete rejected: status=%d", resp.StatusCode)
	}
	return nil
}
