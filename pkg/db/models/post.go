package models

import (
	"time"

	"github.com/lib/pq"
)

// PostKind distinguishes a single post from a reply-chained thread
type PostKind string

const (
	KindSingle PostKind = "single"
	KindThread PostKind = "thread"
)

// PostStatus is the post's position in the publish state machine.
// scheduled → posted|failed; posted and failed are terminal.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusScheduled PostStatus = "scheduled"
	StatusPosted    PostStatus = "posted"
	StatusFailed    PostStatus = "failed"
)

// Post is the persisted publishable item. The authoritative per-unit
// content lives in Units; Body is display-only for threads.
type Post struct {
	ID        uint      `gorm:"primaryKey;column:id"`
	PublicID  string    `gorm:"column:public_id;uniqueIndex;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	Kind      PostKind  `gorm:"column:kind;type:post_kind;not null"`
	Status    PostStatus `gorm:"column:status;type:post_status;not null;default:'draft';index"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`

	// Scheduling fields. ScheduledFor is non-nil iff status is scheduled;
	// QueueHandle is the delay-queue message id needed for cancellation.
	ScheduledFor *time.Time `gorm:"column:scheduled_for"`
	QueueHandle  *string    `gorm:"column:queue_handle"`

	// Outcome fields. PlatformPostID is non-nil iff status is posted and,
	// for threads, holds the first unit's id. ErrorText retains the failure
	// cause for operator visibility.
	PostedAt       *time.Time `gorm:"column:posted_at"`
	PlatformPostID *string    `gorm:"column:platform_post_id"`
	ErrorText      string     `gorm:"column:error_text;type:text"`

	// Ownership, immutable after creation
	UserID    uint `gorm:"column:user_id;not null;index"`
	AccountID uint `gorm:"column:account_id;not null;index"`

	Units []PostUnit `gorm:"foreignKey:PostID"`
}

// TableName specifies the table name for the Post model
func (Post) TableName() string {
	return "posts"
}

// PostUnit is one post's worth of content within an item. Position is the
// reply chain order for threads; a single post has exactly one unit at
// position 0.
type PostUnit struct {
	ID        uint           `gorm:"primaryKey;column:id"`
	PostID    uint           `gorm:"column:post_id;not null;index"`
	Position  int            `gorm:"column:position;not null"`
	Content   string         `gorm:"column:content;type:text;not null"`
	MediaKeys pq.StringArray `gorm:"column:media_keys;type:text[]"`
}

// TableName specifies the table name for the PostUnit model
func (PostUnit) TableName() string {
	return "post_units"
}

// HasMedia reports whether any unit references media keys.
func (p *Post) HasMedia() bool {
	for _, u := range p.Units {
		if len(u.MediaKeys) > 0 {
			return true
		}
	}
	return false
}
