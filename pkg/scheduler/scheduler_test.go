package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/puberr"
	"github.com/featherpost/publisher-go/pkg/scheduler"
)

type fakeQueue struct {
	published  []publishCall
	publishErr error
	deleted    []string
	deleteErr  error
}

type publishCall struct {
	targetURL string
	payload   json.RawMessage
	delay     time.Duration
}

func (q *fakeQueue) Publish(_ context.Context, targetURL string, payload json.RawMessage, delay time.Duration) (string, error) {
	if q.publishErr != nil {
		return "", q.publishErr
	}
	q.published = append(q.published, publishCall{targetURL, payload, delay})
	return "handle-1", nil
}

func (q *fakeQueue) Delete(_ context.Context, messageID string) error {
	q.deleted = append(q.deleted, messageID)
	return q.deleteErr
}

type fakeStore struct {
	created   []*models.Post
	createErr error
	byID      map[string]*models.Post
	cancelled []uint
	cancelErr error
}

func (s *fakeStore) CreateScheduled(_ context.Context, post *models.Post) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, post)
	return nil
}

func (s *fakeStore) FindByPublicID(_ context.Context, publicID string) (*models.Post, error) {
	post, ok := s.byID[publicID]
	if !ok {
		return nil, puberr.New(puberr.ErrCodeNotFound, "post not found: "+publicID)
	}
	return post, nil
}

func (s *fakeStore) CancelScheduled(_ context.Context, postID uint, _ time.Time) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.cancelled = append(s.cancelled, postID)
	return nil
}

var _ = Describe("Scheduler", func() {
	var (
		queue *fakeQueue
		posts *fakeStore
		sched *scheduler.Scheduler
		now   time.Time
	)

	newRequest := func(offset time.Duration, units ...scheduler.UnitInput) scheduler.Request {
		return scheduler.Request{
			UserID:       7,
			AccountID:    3,
			Units:        units,
			ScheduledFor: now.Add(offset),
		}
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		queue = &fakeQueue{}
		posts = &fakeStore{byID: map[string]*models.Post{}}
		sched = scheduler.New(posts, queue, "https://api.example.com/api/webhooks/publish", logger,
			scheduler.WithClock(func() time.Time { return now }))
	})

	Describe("Schedule", func() {
		It("enqueues a trigger and persists the post as scheduled", func() {
			result, err := sched.Schedule(context.Background(), newRequest(2*time.Hour,
				scheduler.UnitInput{Content: "hello world"}))

			Expect(err).NotTo(HaveOccurred())
			Expect(result.PublicID).NotTo(BeEmpty())
			Expect(result.QueueHandle).To(Equal("handle-1"))

			Expect(queue.published).To(HaveLen(1))
			Expect(queue.published[0].delay).To(Equal(2 * time.Hour))

			Expect(posts.created).To(HaveLen(1))
			post := posts.created[0]
			Expect(post.Status).To(Equal(models.StatusScheduled))
			Expect(post.Kind).To(Equal(models.KindSingle))
			Expect(post.PublicID).To(Equal(result.PublicID))
			Expect(*post.QueueHandle).To(Equal("handle-1"))
		})

		It("puts only the public id on the queue, never content", func() {
			result, err := sched.Schedule(context.Background(), newRequest(time.Hour,
				scheduler.UnitInput{Content: "secret launch announcement"}))
			Expect(err).NotTo(HaveOccurred())

			var payload map[string]string
			Expect(json.Unmarshal(queue.published[0].payload, &payload)).To(Succeed())
			Expect(payload).To(Equal(map[string]string{
				"type":     "publish",
				"publicId": result.PublicID,
			}))
		})

		It("builds a thread from multiple units with positions preserved", func() {
			_, err := sched.Schedule(context.Background(), newRequest(time.Hour,
				scheduler.UnitInput{Content: "one"},
				scheduler.UnitInput{Content: "two"},
				scheduler.UnitInput{Content: "three"}))
			Expect(err).NotTo(HaveOccurred())

			post := posts.created[0]
			Expect(post.Kind).To(Equal(models.KindThread))
			Expect(post.Units).To(HaveLen(3))
			for i, unit := range post.Units {
				Expect(unit.Position).To(Equal(i))
			}
			Expect(post.Units[2].Content).To(Equal("three"))
		})

		It("rejects an empty unit list", func() {
			_, err := sched.Schedule(context.Background(), newRequest(time.Hour))
			Expect(puberr.HasCode(err, puberr.ErrCodeValidation)).To(BeTrue())
			Expect(queue.published).To(BeEmpty())
		})

		It("rejects a target time in the past", func() {
			_, err := sched.Schedule(context.Background(), newRequest(-time.Minute,
				scheduler.UnitInput{Content: "late"}))
			Expect(puberr.HasCode(err, puberr.ErrCodeValidation)).To(BeTrue())
		})

		It("rejects a target beyond the scheduling horizon", func() {
			_, err := sched.Schedule(context.Background(), newRequest(7*24*time.Hour+time.Minute,
				scheduler.UnitInput{Content: "too far out"}))
			Expect(puberr.HasCode(err, puberr.ErrCodeHorizonExceeded)).To(BeTrue())
			Expect(queue.published).To(BeEmpty())
		})

		It("accepts a target exactly at the horizon", func() {
			_, err := sched.Schedule(context.Background(), newRequest(7*24*time.Hour,
				scheduler.UnitInput{Content: "right on the edge"}))
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects media posts scheduled beyond the media retention window", func() {
			_, err := sched.Schedule(context.Background(), newRequest(25*time.Hour,
				scheduler.UnitInput{Content: "pic", MediaKeys: []string{"media/7/a.png"}}))
			Expect(puberr.HasCode(err, puberr.ErrCodeMediaExpiry)).To(BeTrue())
		})

		It("allows media posts inside the retention window", func() {
			_, err := sched.Schedule(context.Background(), newRequest(23*time.Hour,
				scheduler.UnitInput{Content: "pic", MediaKeys: []string{"media/7/a.png"}}))
			Expect(err).NotTo(HaveOccurred())
		})

		It("persists nothing when the delay queue rejects the trigger", func() {
			queue.publishErr = errors.New("queue unavailable")

			_, err := sched.Schedule(context.Background(), newRequest(time.Hour,
				scheduler.UnitInput{Content: "hello"}))

			Expect(puberr.HasCode(err, puberr.ErrCodeUpstream)).To(BeTrue())
			Expect(posts.created).To(BeEmpty())
		})
	})

	Describe("Cancel", func() {
		var handle string

		scheduledPost := func(status models.PostStatus) *models.Post {
			handle = "handle-42"
			return &models.Post{
				ID:          11,
				PublicID:    "pub-1",
				Status:      status,
				QueueHandle: &handle,
			}
		}

		It("deletes the trigger and reverts the post to draft", func() {
			posts.byID["pub-1"] = scheduledPost(models.StatusScheduled)

			Expect(sched.Cancel(context.Background(), "pub-1")).To(Succeed())
			Expect(queue.deleted).To(Equal([]string{"handle-42"}))
			Expect(posts.cancelled).To(Equal([]uint{11}))
		})

		It("still cancels when the delay-queue delete fails", func() {
			posts.byID["pub-1"] = scheduledPost(models.StatusScheduled)
			queue.deleteErr = errors.New("gone away")

			Expect(sched.Cancel(context.Background(), "pub-1")).To(Succeed())
			Expect(posts.cancelled).To(Equal([]uint{11}))
		})

		It("refuses to cancel a post that already published", func() {
			posts.byID["pub-1"] = scheduledPost(models.StatusPosted)

			err := sched.Cancel(context.Background(), "pub-1")
			Expect(puberr.HasCode(err, puberr.ErrCodeConflict)).To(BeTrue())
			Expect(posts.cancelled).To(BeEmpty())
		})

		It("reports an unknown public id", func() {
			err := sched.Cancel(context.Background(), "missing")
			Expect(puberr.HasCode(err, puberr.ErrCodeNotFound)).To(BeTrue())
		})
	})
})
