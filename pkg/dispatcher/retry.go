package dispatcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/platform"
)

const (
	// DefaultMaxRetries is how many times a rate-limited post call is retried
	// after the initial attempt.
	DefaultMaxRetries = 3
	// DefaultBackoffStep is the linear backoff increment between retries.
	DefaultBackoffStep = 30 * time.Second
)

// RetryPolicy re-issues a platform post call when it is rejected for rate
// limiting. Backoff grows linearly: step, 2*step, 3*step. Any other error
// fails immediately; partial thread failures are not resumed.
type RetryPolicy struct {
	MaxRetries  int
	BackoffStep time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *logrus.Logger
}

// NewRetryPolicy creates a policy with the default retry schedule.
func NewRetryPolicy(logger *logrus.Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:  DefaultMaxRetries,
		BackoffStep: DefaultBackoffStep,
		Sleep:       sleepContext,
		Logger:      logger,
	}
}

// Do runs fn, retrying on rate-limit errors per the policy schedule. The
// returned error is the last attempt's error.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !platform.IsRateLimit(err) || attempt >= p.MaxRetries {
			return err
		}

		delay := time.Duration(attempt+1) * p.BackoffStep
		p.Logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay.String(),
		}).Warn("rate limited by platform, backing off")
		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
