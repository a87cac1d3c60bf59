package dispatcher_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/db/models"
	"github.com/featherpost/publisher-go/pkg/delayqueue"
	"github.com/featherpost/publisher-go/pkg/dispatcher"
	"github.com/featherpost/publisher-go/pkg/mediaproc"
	"github.com/featherpost/publisher-go/pkg/notify"
	"github.com/featherpost/publisher-go/pkg/platform"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

type fakePosts struct {
	byID      map[string]*models.Post
	posted    []postedCall
	postedErr error
	failed    []failedCall
	failedErr error
}

type postedCall struct {
	postID         uint
	platformPostID string
}

type failedCall struct {
	postID  uint
	errText string
}

func (s *fakePosts) FindByPublicID(_ context.Context, publicID string) (*models.Post, error) {
	post, ok := s.byID[publicID]
	if !ok {
		return nil, puberr.New(puberr.ErrCodeNotFound, "post not found: "+publicID)
	}
	return post, nil
}

func (s *fakePosts) MarkPosted(_ context.Context, postID uint, platformPostID string, _ time.Time) error {
	if s.postedErr != nil {
		return s.postedErr
	}
	s.posted = append(s.posted, postedCall{postID, platformPostID})
	return nil
}

func (s *fakePosts) MarkFailed(_ context.Context, postID uint, errText string, _ time.Time) error {
	if s.failedErr != nil {
		return s.failedErr
	}
	s.failed = append(s.failed, failedCall{postID, errText})
	return nil
}

type fakeClient struct {
	tweets     []string
	threads    [][]platform.ThreadUnit
	tweetErrs  []error
	threadErrs []error
}

func (c *fakeClient) PostTweet(_ context.Context, text string, _ *platform.TweetOptions) (*platform.Tweet, error) {
	if len(c.tweetErrs) > 0 {
		err := c.tweetErrs[0]
		c.tweetErrs = c.tweetErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c.tweets = append(c.tweets, text)
	return &platform.Tweet{ID: "tw-1", Text: text}, nil
}

func (c *fakeClient) PostThread(_ context.Context, units []platform.ThreadUnit) (*platform.ThreadResult, error) {
	if len(c.threadErrs) > 0 {
		err := c.threadErrs[0]
		c.threadErrs = c.threadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	c.threads = append(c.threads, units)
	ids := make([]string, len(units))
	for i := range units {
		ids[i] = "tw-" + string(rune('a'+i))
	}
	return &platform.ThreadResult{FirstID: ids[0], IDs: ids}, nil
}

func (c *fakeClient) UploadMedia(_ context.Context, _ []byte, _ platform.MediaCategory) (string, error) {
	return "m-1", nil
}

func (c *fakeClient) UploadMediaChunked(_ context.Context, _ []byte, _ string, _ platform.MediaCategory) (string, error) {
	return "m-1", nil
}

type fakeProvider struct {
	client *fakeClient
	err    error
}

func (p *fakeProvider) ClientFor(_ context.Context, _, _ uint) (dispatcher.PlatformClient, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

type fakeResolver struct {
	resolved [][]string
	err      error
}

func (r *fakeResolver) Resolve(_ context.Context, keys []string, _ mediaproc.Uploader) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.resolved = append(r.resolved, keys)
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = "media-" + key
	}
	return ids, nil
}

type fakeCleaner struct {
	deleted []string
	err     error
}

func (c *fakeCleaner) Delete(_ context.Context, keys ...string) error {
	if c.err != nil {
		return c.err
	}
	c.deleted = append(c.deleted, keys...)
	return nil
}

type fakeNotifier struct {
	events []notify.Event
	users  []uint
}

func (n *fakeNotifier) Broadcast(userID uint, event notify.Event) {
	n.users = append(n.users, userID)
	n.events = append(n.events, event)
}

var _ = Describe("Dispatcher", func() {
	var (
		posts    *fakePosts
		client   *fakeClient
		provider *fakeProvider
		resolver *fakeResolver
		cleaner  *fakeCleaner
		notifier *fakeNotifier
		signer   *delayqueue.Signer
		slept    []time.Duration
		disp     *dispatcher.Dispatcher
		now      time.Time
	)

	signingKey := []byte("test-signing-key")

	deliver := func(body []byte, sign bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/publish", bytes.NewReader(body))
		if sign {
			req.Header.Set(delayqueue.SignatureHeader, signer.Sign(body, now))
		}
		rec := httptest.NewRecorder()
		disp.Handle(rec, req)
		return rec
	}

	payloadFor := func(publicID string) []byte {
		body, err := json.Marshal(map[string]string{"type": "publish", "publicId": publicID})
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
		posts = &fakePosts{byID: map[string]*models.Post{}}
		client = &fakeClient{}
		provider = &fakeProvider{client: client}
		resolver = &fakeResolver{}
		cleaner = &fakeCleaner{}
		notifier = &fakeNotifier{}
		signer = delayqueue.NewSigner(signingKey)
		slept = nil

		verifier, err := delayqueue.NewVerifier([][]byte{signingKey}, 5*time.Minute)
		Expect(err).NotTo(HaveOccurred())
		verifier.WithClock(func() time.Time { return now })

		retry := &dispatcher.RetryPolicy{
			MaxRetries:  3,
			BackoffStep: 30 * time.Second,
			Sleep: func(_ context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			},
			Logger: logger,
		}

		disp = dispatcher.New(posts, provider, resolver, cleaner, notifier, verifier, retry, logger,
			dispatcher.WithClock(func() time.Time { return now }))
	})

	scheduledSingle := func(publicID string, mediaKeys ...string) *models.Post {
		post := &models.Post{
			ID:       21,
			PublicID: publicID,
			Kind:     models.KindSingle,
			Status:   models.StatusScheduled,
			UserID:   7,
			Units: []models.PostUnit{
				{Position: 0, Content: "hello", MediaKeys: mediaKeys},
			},
		}
		posts.byID[publicID] = post
		return post
	}

	Describe("signature checks", func() {
		It("rejects an unsigned delivery", func() {
			rec := deliver(payloadFor("pub-1"), false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(client.tweets).To(BeEmpty())
		})

		It("rejects a tampered body", func() {
			scheduledSingle("pub-1")
			body := payloadFor("pub-1")
			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/publish", bytes.NewReader([]byte(`{"type":"publish","publicId":"pub-2"}`)))
			req.Header.Set(delayqueue.SignatureHeader, signer.Sign(body, now))
			rec := httptest.NewRecorder()
			disp.Handle(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects a stale signature", func() {
			body := payloadFor("pub-1")
			req := httptest.NewRequest(http.MethodPost, "/api/webhooks/publish", bytes.NewReader(body))
			req.Header.Set(delayqueue.SignatureHeader, signer.Sign(body, now.Add(-time.Hour)))
			rec := httptest.NewRecorder()
			disp.Handle(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("payload and lookup", func() {
		It("rejects a malformed payload", func() {
			rec := deliver([]byte(`{"nope":`), true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns not found for an unknown public id", func() {
			rec := deliver(payloadFor("missing"), true)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("duplicate and late deliveries", func() {
		It("ignores a delivery for a post no longer scheduled", func() {
			post := scheduledSingle("pub-1")
			post.Status = models.StatusPosted

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(client.tweets).To(BeEmpty())
			Expect(posts.posted).To(BeEmpty())
			Expect(notifier.events).To(BeEmpty())
		})

		It("ignores a delivery that arrives after cancellation", func() {
			post := scheduledSingle("pub-1")
			post.Status = models.StatusDraft

			rec := deliver(payloadFor("pub-1"), true)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(client.tweets).To(BeEmpty())
		})
	})

	Describe("successful dispatch", func() {
		It("posts a single, records the transition and notifies", func() {
			scheduledSingle("pub-1")

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(client.tweets).To(Equal([]string{"hello"}))
			Expect(posts.posted).To(Equal([]postedCall{{21, "tw-1"}}))

			Expect(notifier.users).To(Equal([]uint{7}))
			Expect(notifier.events[0].Status).To(Equal("posted"))
			Expect(notifier.events[0].PlatformPostID).To(Equal("tw-1"))
		})

		It("posts a three-unit thread in order and records the first id", func() {
			posts.byID["pub-t"] = &models.Post{
				ID:       22,
				PublicID: "pub-t",
				Kind:     models.KindThread,
				Status:   models.StatusScheduled,
				UserID:   7,
				Units: []models.PostUnit{
					{Position: 0, Content: "one"},
					{Position: 1, Content: "two"},
					{Position: 2, Content: "three"},
				},
			}

			rec := deliver(payloadFor("pub-t"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(client.threads).To(HaveLen(1))
			units := client.threads[0]
			Expect(units).To(HaveLen(3))
			Expect(units[0].Text).To(Equal("one"))
			Expect(units[2].Text).To(Equal("three"))
			Expect(posts.posted).To(Equal([]postedCall{{22, "tw-a"}}))
		})

		It("resolves media keys and deletes the objects after posting", func() {
			scheduledSingle("pub-1", "media/7/a.png", "media/7/b.png")

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(resolver.resolved).To(Equal([][]string{{"media/7/a.png", "media/7/b.png"}}))
			Expect(cleaner.deleted).To(Equal([]string{"media/7/a.png", "media/7/b.png"}))
		})

		It("treats a media cleanup failure as non-fatal", func() {
			scheduledSingle("pub-1", "media/7/a.png")
			cleaner.err = errors.New("bucket unavailable")

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(posts.posted).To(HaveLen(1))
		})
	})

	Describe("failed dispatch", func() {
		It("marks the post failed when media resolution fails", func() {
			scheduledSingle("pub-1", "media/7/a.png")
			resolver.err = puberr.New(puberr.ErrCodeMedia, "object expired")

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(posts.failed).To(HaveLen(1))
			Expect(posts.failed[0].errText).To(ContainSubstring("object expired"))
			Expect(notifier.events[0].Status).To(Equal("failed"))
		})

		It("marks the post failed when credentials are unusable", func() {
			scheduledSingle("pub-1")
			provider.err = puberr.New(puberr.ErrCodeTokenExpired, "access token expired and no refresh token available")

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(posts.failed).To(HaveLen(1))
			Expect(client.tweets).To(BeEmpty())
		})

		It("fails immediately on a non-rate-limit platform error", func() {
			scheduledSingle("pub-1")
			client.tweetErrs = []error{&platform.APIError{StatusCode: 403, Message: "duplicate content"}}

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(slept).To(BeEmpty())
			Expect(posts.failed).To(HaveLen(1))
		})
	})

	Describe("rate limiting", func() {
		rateLimited := func() error {
			return &platform.APIError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit exceeded"}
		}

		It("retries with linear backoff and succeeds", func() {
			scheduledSingle("pub-1")
			client.tweetErrs = []error{rateLimited(), rateLimited(), nil}

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(slept).To(Equal([]time.Duration{30 * time.Second, 60 * time.Second}))
			Expect(posts.posted).To(HaveLen(1))
		})

		It("gives up after the retry cap and reports a rate-limited failure", func() {
			scheduledSingle("pub-1")
			client.tweetErrs = []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}

			rec := deliver(payloadFor("pub-1"), true)

			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(slept).To(Equal([]time.Duration{30 * time.Second, 60 * time.Second, 90 * time.Second}))
			Expect(posts.failed).To(HaveLen(1))
			Expect(notifier.events[0].Status).To(Equal("failed"))
		})

		It("never asks the queue to redeliver a failed post", func() {
			post := scheduledSingle("pub-1")
			client.tweetErrs = []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}

			deliver(payloadFor("pub-1"), true)

			// A redelivery after the terminal failure is a no-op.
			post.Status = models.StatusFailed
			rec := deliver(payloadFor("pub-1"), true)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(posts.failed).To(HaveLen(1))
		})
	})
})
