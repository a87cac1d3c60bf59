// Package dispatcher executes due posts. It terminates every delay-queue
// delivery for a scheduled post in exactly one of three ways: a successful
// transition to posted, a terminal transition to failed, or a no-op when the
// post already left the scheduled state.
package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/delayqueue"
	"github.com/featherpost/publisher-go/pkg/mediaproc"
	"github.com/featherpost/publisher-go/pkg/notify"
	"github.com/featherpost/publisher-go/pkg/platform"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

// PostSource is the slice of the post store the dispatcher needs.
type PostSource interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.Post, error)
	MarkPosted(ctx context.Context, postID uint, platformPostID string, at time.Time) error
	MarkFailed(ctx context.Context, postID uint, errText string, at time.Time) error
}

// PlatformClient is the slice of the platform client used at dispatch time.
type PlatformClient interface {
	mediaproc.Uploader
	PostTweet(ctx context.Context, text string, opts *platform.TweetOptions) (*platform.Tweet, error)
	PostThread(ctx context.Context, units []platform.ThreadUnit) (*platform.ThreadResult, error)
}

// ClientProvider resolves an authorized platform client for a connected
// account, refreshing credentials when needed.
type ClientProvider interface {
	ClientFor(ctx context.Context, userID, accountID uint) (PlatformClient, error)
}

// MediaResolver turns stored media keys into platform media ids.
type MediaResolver interface {
	Resolve(ctx context.Context, keys []string, up mediaproc.Uploader) ([]string, error)
}

// MediaCleaner removes consumed media objects after a successful post.
type MediaCleaner interface {
	Delete(ctx context.Context, keys ...string) error
}

// Notifier pushes post status changes to the owning user. Best-effort.
type Notifier interface {
	Broadcast(userID uint, event notify.Event)
}

// queuePayload mirrors the body the scheduler enqueues. It carries only the
// public id; content and credentials are loaded fresh at dispatch time.
type queuePayload struct {
	Type     string `json:"type"`
	PublicID string `json:"publicId"`
}

// Dispatcher handles delay-queue webhook deliveries.
type Dispatcher struct {
	posts    PostSource
	clients  ClientProvider
	media    MediaResolver
	cleaner  MediaCleaner
	notifier Notifier
	verifier *delayqueue.Verifier
	retry    *RetryPolicy
	logger   *logrus.Logger
	now      func() time.Time
}

// Option configures optional Dispatcher behavior.
type Option func(*Dispatcher)

// WithClock overrides the dispatcher's time source for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a dispatcher.
func New(posts PostSource, clients ClientProvider, media MediaResolver, cleaner MediaCleaner, notifier Notifier, verifier *delayqueue.Verifier, retry *RetryPolicy, logger *logrus.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		posts:    posts,
		clients:  clients,
		media:    media,
		cleaner:  cleaner,
		notifier: notifier,
		verifier: verifier,
		retry:    retry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle is the webhook endpoint the delay queue calls when a trigger fires.
// It always terminates the delivery: the queue is never asked to retry, so a
// failed post stays failed until a human intervenes.
func (d *Dispatcher) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		d.respondError(w, http.StatusBadRequest, puberr.Wrap(puberr.ErrCodeValidation, "failed to read webhook body", err))
		return
	}

	if err := d.verifier.Verify(r.Header.Get(delayqueue.SignatureHeader), body); err != nil {
		d.logger.WithError(err).Warn("rejected webhook with invalid signature")
		d.respondError(w, http.StatusUnauthorized, puberr.Wrap(puberr.ErrCodeAuth, "invalid delivery signature", err))
		return
	}

	var payload queuePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.PublicID == "" {
		d.respondError(w, http.StatusBadRequest, puberr.New(puberr.ErrCodeValidation, "malformed queue payload"))
		return
	}

	log := d.logger.WithField("public_id", payload.PublicID)

	post, err := d.posts.FindByPublicID(r.Context(), payload.PublicID)
	if err != nil {
		if puberr.HasCode(err, puberr.ErrCodeNotFound) {
			log.Warn("webhook references unknown post")
			d.respondError(w, http.StatusNotFound, err)
			return
		}
		d.respondError(w, http.StatusInternalServerError, err)
		return
	}

	// At-least-once deliveries and races with cancellation both land here:
	// anything not still scheduled is acknowledged without side effects.
	if post.Status != models.StatusScheduled {
		log.WithField("status", post.Status).Info("post no longer scheduled, ignoring delivery")
		d.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	result, err := d.publish(r.Context(), post)
	if err != nil {
		d.fail(r.Context(), log, post, err)
		status := http.StatusBadGateway
		if platform.IsRateLimit(err) || puberr.HasCode(err, puberr.ErrCodeRateLimited) {
			status = http.StatusTooManyRequests
		}
		d.respondError(w, status, err)
		return
	}

	d.succeed(r.Context(), log, post, result)
	d.respondJSON(w, http.StatusOK, map[string]string{
		"status":         string(models.StatusPosted),
		"platformPostId": result,
	})
}

// publish resolves media and posts the content, returning the platform post
// id (the first unit's id for threads).
func (d *Dispatcher) publish(ctx context.Context, post *models.Post) (string, error) {
	client, err := d.clients.ClientFor(ctx, post.UserID, post.AccountID)
	if err != nil {
		return "", err
	}

	mediaIDs := make([][]string, len(post.Units))
	for i, unit := range post.Units {
		if len(unit.MediaKeys) == 0 {
			continue
		}
		ids, err := d.media.Resolve(ctx, unit.MediaKeys, client)
		if err != nil {
			return "", err
		}
		mediaIDs[i] = ids
	}

	if post.Kind == models.KindThread {
		units := make([]platform.ThreadUnit, len(post.Units))
		for i, unit := range post.Units {
			units[i] = platform.ThreadUnit{Text: unit.Content, MediaIDs: mediaIDs[i]}
		}
		var result *platform.ThreadResult
		err = d.retry.Do(ctx, func() error {
			var postErr error
			result, postErr = client.PostThread(ctx, units)
			return postErr
		})
		if err != nil {
			return "", err
		}
		return result.FirstID, nil
	}

	var tweet *platform.Tweet
	err = d.retry.Do(ctx, func() error {
		var postErr error
		tweet, postErr = client.PostTweet(ctx, post.Units[0].Content, &platform.TweetOptions{MediaIDs: mediaIDs[0]})
		return postErr
	})
	if err != nil {
		return "", err
	}
	return tweet.ID, nil
}

func (d *Dispatcher) succeed(ctx context.Context, log *logrus.Entry, post *models.Post, platformPostID string) {
	if err := d.posts.MarkPosted(ctx, post.ID, platformPostID, d.now().UTC()); err != nil {
		// A concurrent cancellation won the race after we posted. The
		// platform post exists; record keeping lost, so log loudly.
		log.WithError(err).Error("posted to platform but could not record transition")
		return
	}
	log.WithField("platform_post_id", platformPostID).Info("post published")

	d.notifier.Broadcast(post.UserID, notify.Event{
		ItemID:         post.PublicID,
		Status:         string(models.StatusPosted),
		PlatformPostID: platformPostID,
	})
	d.cleanupMedia(ctx, log, post)
}

func (d *Dispatcher) fail(ctx context.Context, log *logrus.Entry, post *models.Post, cause error) {
	log.WithError(cause).Error("post dispatch failed")
	if err := d.posts.MarkFailed(ctx, post.ID, cause.Error(), d.now().UTC()); err != nil {
		log.WithError(err).Error("could not record failed transition")
	}
	d.notifier.Broadcast(post.UserID, notify.Event{
		ItemID: post.PublicID,
		Status: string(models.StatusFailed),
		Error:  cause.Error(),
	})
}

// cleanupMedia deletes consumed media objects. Failures leave orphans for the
// retention sweep, never a failed post.
func (d *Dispatcher) cleanupMedia(ctx context.Context, log *logrus.Entry, post *models.Post) {
	var keys []string
	for _, unit := range post.Units {
		keys = append(keys, unit.MediaKeys...)
	}
	if len(keys) == 0 {
		return
	}
	if err := d.cleaner.Delete(ctx, keys...); err != nil {
		log.WithError(err).Warn("failed to delete consumed media objects")
	}
}

func (d *Dispatcher) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		d.logger.WithError(err).Error("failed to write webhook response")
	}
}

func (d *Dispatcher) respondError(w http.ResponseWriter, status int, err error) {
	d.respondJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  puberr.Code(err),
	})
}
