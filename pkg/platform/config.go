package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds platform API settings shared by every account-bound client.
// Authentication is per-client: a Client is always bound to one account's
// access token (see NewClient).
type Config struct {
	// API Endpoints
	BaseURL        string // v2 JSON API
	UploadBaseURL  string // media upload API
	TweetEndpoint  string
	MeEndpoint     string
	UploadEndpoint string

	// Chunked upload tuning
	ChunkSize          int           // APPEND segment size in bytes
	ProcessingMaxPolls int           // STATUS poll attempts before giving up
	ProcessingInterval time.Duration // fixed delay between STATUS polls

	// Write throttle
	RateLimit  int // requests per window
	RateWindow int // window length in minutes

	// Sleep is called between STATUS polls; tests inject a fake.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *logrus.Logger
}

// NewConfig builds a Config from the environment with sensible defaults.
func NewConfig(logger *logrus.Logger) (*Config, error) {
	rateLimit, _ := strconv.Atoi(getEnvOrDefault("PLATFORM_RATE_LIMIT", "180"))
	rateWindow, _ := strconv.Atoi(getEnvOrDefault("PLATFORM_RATE_WINDOW", "15"))
	maxPolls, _ := strconv.Atoi(getEnvOrDefault("PLATFORM_PROCESSING_MAX_POLLS", "10"))
	pollSecs, _ := strconv.Atoi(getEnvOrDefault("PLATFORM_PROCESSING_POLL_SECONDS", "2"))
	chunkSize, _ := strconv.Atoi(getEnvOrDefault("PLATFORM_UPLOAD_CHUNK_BYTES", "5242880"))

	config := &Config{
		BaseURL:        getEnvOrDefault("PLATFORM_API_BASE_URL", "https://api.twitter.com/2"),
		UploadBaseURL:  getEnvOrDefault("PLATFORM_UPLOAD_BASE_URL", "https://upload.twitter.com/1.1"),
		TweetEndpoint:  "/tweets",
		MeEndpoint:     "/users/me",
		UploadEndpoint: "/media/upload.json",

		ChunkSize:          chunkSize,
		ProcessingMaxPolls: maxPolls,
		ProcessingInterval: time.Duration(pollSecs) * time.Second,

		RateLimit:  rateLimit,
		RateWindow: rateWindow,

		Logger: logger,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration and fills defaults for zero values.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("rate limit must be positive")
	}
	if c.RateWindow < 1 {
		return fmt.Errorf("rate window must be positive")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.ProcessingMaxPolls < 1 {
		return fmt.Errorf("processing max polls must be positive")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.twitter.com/2"
	}
	if c.UploadBaseURL == "" {
		c.UploadBaseURL = "https://upload.twitter.com/1.1"
	}
	if c.TweetEndpoint == "" {
		c.TweetEndpoint = "/tweets"
	}
	if c.Sleep == nil {
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
