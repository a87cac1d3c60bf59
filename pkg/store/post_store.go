// Package store is the persistence layer for the publishing pipeline. The
// database is the single source of truth: every state transition goes
// through a conditional update (update only while the current status still
// allows the transition), which is what makes duplicate delay-queue
// deliveries and late cancellations safe without in-process locks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

// PostStore persists posts and drives their status transitions.
type PostStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewPostStore creates a new post store
func NewPostStore(db *gorm.DB, logger *logrus.Logger) *PostStore {
	return &PostStore{
		db:     db,
		logger: logger,
	}
}

// CreateScheduled inserts the post and its units in one transaction. The
// post must already carry status=scheduled, scheduledFor and queueHandle;
// the scheduler only calls this after the delay-queue enqueue succeeded.
func (s *PostStore) CreateScheduled(ctx context.Context, post *models.Post) error {
	if len(post.Units) == 0 {
		return puberr.New(puberr.ErrCodeValidation, "post must have at least one unit")
	}
	if post.Status != models.StatusScheduled || post.ScheduledFor == nil || post.QueueHandle == nil {
		return puberr.New(puberr.ErrCodeValidation, "scheduled post requires scheduledFor and queueHandle")
	}

	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return puberr.Wrap(puberr.ErrCodeUpstream, "failed to persist scheduled post", err)
	}

	s.logger.WithFields(logrus.Fields{
		"public_id":     post.PublicID,
		"scheduled_for": post.ScheduledFor,
		"queue_handle":  *post.QueueHandle,
		"units":         len(post.Units),
	}).Info("scheduled post persisted")
	return nil
}

// FindByPublicID loads a post with its units ordered by position.
func (s *PostStore) FindByPublicID(ctx context.Context, publicID string) (*models.Post, error) {
	var post models.Post
	err := s.db.WithContext(ctx).
		Preload("Units", func(db *gorm.DB) *gorm.DB {
			return db.Order("post_units.position ASC")
		}).
		Where("public_id = ?", publicID).
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, puberr.New(puberr.ErrCodeNotFound, "post not found: "+publicID)
	}
	if err != nil {
		return nil, puberr.Wrap(puberr.ErrCodeUpstream, "failed to load post", err)
	}
	return &post, nil
}

// MarkPosted transitions scheduled→posted. It is a conditional write: if a
// concurrent delivery already moved the post out of scheduled, no row is
// updated and a CONFLICT is returned so the caller can treat the delivery
// as a duplicate.
func (s *PostStore) MarkPosted(ctx context.Context, postID uint, platformPostID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":           models.StatusPosted,
			"posted_at":        at,
			"platform_post_id": platformPostID,
			"scheduled_for":    nil,
			"error_text":       "",
			"updated_at":       at,
		})
	return s.transitionResult(res, postID, models.StatusPosted)
}

// MarkFailed transitions scheduled→failed, retaining the error text for
// operator visibility. Conditional like MarkPosted.
func (s *PostStore) MarkFailed(ctx context.Context, postID uint, errText string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"scheduled_for": nil,
			"error_text":    errText,
			"updated_at":    at,
		})
	return s.transitionResult(res, postID, models.StatusFailed)
}

// CancelScheduled transitions scheduled→draft, clearing the scheduling
// fields. Legal only from scheduled; anything else is a CONFLICT.
func (s *PostStore) CancelScheduled(ctx context.Context, postID uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("id = ? AND status = ?", postID, models.StatusScheduled).
		Updates(map[string]interface{}{
			"status":        models.StatusDraft,
			"scheduled_for": nil,
			"queue_handle":  nil,
			"updated_at":    at,
		})
	return s.transitionResult(res, postID, models.StatusDraft)
}

func (s *PostStore) transitionResult(res *gorm.DB, postID uint, to models.PostStatus) error {
	if res.Error != nil {
		return puberr.Wrap(puberr.ErrCodeUpstream, "status transition failed", res.Error)
	}
	if res.RowsAffected == 0 {
		s.logger.WithFields(logrus.Fields{
			"post_id": postID,
			"to":      to,
		}).Warn("status transition lost: post no longer scheduled")
		return puberr.New(puberr.ErrCodeConflict, "post is not in a schedulable state")
	}
	s.logger.WithFields(logrus.Fields{
		"post_id": postID,
		"to":      to,
	}).Debug("status transition applied")
	return nil
}
