// Package scheduler converts a publish request into a durable delayed
// trigger: it validates the target time, enqueues a signed callback with
// the delay-queue service, and persists the post so the operation survives
// process restarts.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

const (
	// MaxHorizon is the furthest ahead a publish may be scheduled.
	MaxHorizon = 7 * 24 * time.Hour
	// MediaRetention is the media store's retention window. Posts with
	// media cannot be scheduled past it or the blobs would be gone at
	// dispatch time.
	MediaRetention = 24 * time.Hour
)

// Queue is the slice of the delay-queue client the scheduler needs.
type Queue interface {
	Publish(ctx context.Context, targetURL string, payload json.RawMessage, delay time.Duration) (string, error)
	Delete(ctx context.Context, messageID string) error
}

// PostStore is the slice of the store the scheduler needs.
type PostStore interface {
	CreateScheduled(ctx context.Context, post *models.Post) error
	FindByPublicID(ctx context.Context, publicID string) (*models.Post, error)
	CancelScheduled(ctx context.Context, postID uint, at time.Time) error
}

// queuePayload is the delay-queue message body. It carries the public id
// only: the dispatcher re-reads the authoritative record from storage, so
// neither secrets nor content ever transit the queue.
type queuePayload struct {
	Type     string `json:"type"`
	PublicID string `json:"publicId"`
}

// UnitInput is one unit of a publish request after boundary normalization.
type UnitInput struct {
	Content   string
	MediaKeys []string
}

// Request is a normalized publish request.
type Request struct {
	UserID       uint
	AccountID    uint
	Units        []UnitInput
	ScheduledFor time.Time
}

// Scheduled reports a successfully scheduled publish.
type Scheduled struct {
	PublicID    string
	QueueHandle string
}

// Scheduler schedules and cancels delayed publishes.
type Scheduler struct {
	posts      PostStore
	queue      Queue
	webhookURL string
	logger     *logrus.Logger
	now        func() time.Time
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithClock injects a clock (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler. webhookURL is the dispatch endpoint the
// delay-queue service will call back.
func New(posts PostStore, queue Queue, webhookURL string, logger *logrus.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		posts:      posts,
		queue:      queue,
		webhookURL: webhookURL,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule validates the request, enqueues the delayed trigger and persists
// the post as scheduled. On delay-queue failure nothing is persisted; the
// caller sees the error and may retry.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*Scheduled, error) {
	if len(req.Units) == 0 {
		return nil, puberr.New(puberr.ErrCodeValidation, "at least one unit is required")
	}
	for i, u := range req.Units {
		if strings.TrimSpace(u.Content) == "" {
			return nil, puberr.New(puberr.ErrCodeValidation, fmt.Sprintf("unit %d has no content", i))
		}
	}

	now := s.now()
	if !req.ScheduledFor.After(now) {
		return nil, puberr.New(puberr.ErrCodeValidation, "scheduled time must be in the future")
	}
	delay := req.ScheduledFor.Sub(now)
	if delay > MaxHorizon {
		return nil, puberr.New(puberr.ErrCodeHorizonExceeded,
			fmt.Sprintf("scheduled time exceeds the %s horizon", MaxHorizon))
	}

	hasMedia := false
	for _, u := range req.Units {
		if len(u.MediaKeys) > 0 {
			hasMedia = true
			break
		}
	}
	if hasMedia && delay > MediaRetention {
		return nil, puberr.New(puberr.ErrCodeMediaExpiry,
			fmt.Sprintf("posts with media cannot be scheduled more than %s out", MediaRetention))
	}

	publicID := uuid.NewString()
	payload, err := json.Marshal(queuePayload{Type: "publish", PublicID: publicID})
	if err != nil {
		return nil, puberr.Wrap(puberr.ErrCodeUpstream, "failed to marshal queue payload", err)
	}

	handle, err := s.queue.Publish(ctx, s.webhookURL, payload, delay)
	if err != nil {
		return nil, puberr.Wrap(puberr.ErrCodeUpstream, "failed to enqueue delayed trigger", err)
	}

	post := buildPost(req, publicID, handle)
	if err := s.posts.CreateScheduled(ctx, post); err != nil {
		// The queued message will still fire; its dispatch will 404 and be
		// dropped by the delay-queue service. Surface the persistence error.
		s.logger.WithError(err).WithField("queue_handle", handle).
			Error("scheduled post persistence failed after enqueue")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"public_id":     publicID,
		"queue_handle":  handle,
		"scheduled_for": req.ScheduledFor,
		"units":         len(req.Units),
	}).Info("publish scheduled")

	return &Scheduled{PublicID: publicID, QueueHandle: handle}, nil
}

// Cancel moves a scheduled post back to draft. The delay-queue delete is
// best-effort: if it fails, the dispatcher's status re-check turns the late
// callback into a no-op.
func (s *Scheduler) Cancel(ctx context.Context, publicID string) error {
	post, err := s.posts.FindByPublicID(ctx, publicID)
	if err != nil {
		return err
	}
	if post.Status != models.StatusScheduled {
		return puberr.New(puberr.ErrCodeConflict, "only scheduled posts can be cancelled")
	}

	if post.QueueHandle != nil {
		if err := s.queue.Delete(ctx, *post.QueueHandle); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"public_id":    publicID,
				"queue_handle": *post.QueueHandle,
			}).Warn("delay-queue delete failed; relying on dispatch status guard")
		}
	}

	if err := s.posts.CancelScheduled(ctx, post.ID, s.now()); err != nil {
		return err
	}

	s.logger.WithField("public_id", publicID).Info("scheduled publish cancelled")
	return nil
}

func buildPost(req Request, publicID, handle string) *models.Post {
	kind := models.KindSingle
	if len(req.Units) > 1 {
		kind = models.KindThread
	}

	units := make([]models.PostUnit, len(req.Units))
	contents := make([]string, len(req.Units))
	for i, u := range req.Units {
		units[i] = models.PostUnit{
			Position:  i,
			Content:   u.Content,
			MediaKeys: u.MediaKeys,
		}
		contents[i] = u.Content
	}

	scheduledFor := req.ScheduledFor
	return &models.Post{
		PublicID:     publicID,
		Body:         strings.Join(contents, "\n\n"),
		Kind:         kind,
		Status:       models.StatusScheduled,
		ScheduledFor: &scheduledFor,
		QueueHandle:  &handle,
		UserID:       req.UserID,
		AccountID:    req.AccountID,
		Units:        units,
	}
}
