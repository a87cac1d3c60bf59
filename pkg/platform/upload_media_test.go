package platform_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/platform"
)

type uploadCall struct {
	command      string
	mediaData    []byte
	segmentIndex string
	totalBytes   string
	category     string
}

// fakeUploadAPI records every upload call and plays back scripted STATUS
// responses.
type fakeUploadAPI struct {
	calls    []uploadCall
	statuses []string // playback of processing_info.state per STATUS poll
	polls    int
}

func (f *fakeUploadAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			state := "in_progress"
			if f.polls < len(f.statuses) {
				state = f.statuses[f.polls]
			}
			f.polls++
			if state == "done" {
				fmt.Fprint(w, `{"media_id_string":"mid-1"}`)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"media_id_string": "mid-1",
				"processing_info": map[string]interface{}{"state": state},
			})
			return
		}

		Expect(r.ParseForm()).To(Succeed())
		call := uploadCall{
			command:      r.PostForm.Get("command"),
			segmentIndex: r.PostForm.Get("segment_index"),
			totalBytes:   r.PostForm.Get("total_bytes"),
			category:     r.PostForm.Get("media_category"),
		}
		if raw := r.PostForm.Get("media_data"); raw != "" {
			data, err := base64.StdEncoding.DecodeString(raw)
			Expect(err).NotTo(HaveOccurred())
			call.mediaData = data
		}
		f.calls = append(f.calls, call)

		switch call.command {
		case "APPEND":
			w.WriteHeader(http.StatusNoContent)
		case "FINALIZE":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"media_id_string": "mid-1",
				"processing_info": map[string]interface{}{"state": "pending"},
			})
		default: // INIT and the simple single-call upload
			fmt.Fprint(w, `{"media_id_string":"mid-1"}`)
		}
	}
}

func (f *fakeUploadAPI) commands() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.command
	}
	return out
}

var _ = Describe("Media upload", func() {
	var (
		api    *fakeUploadAPI
		server *httptest.Server
		slept  []time.Duration
		client *platform.Client
	)

	newClient := func(maxPolls int) *platform.Client {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		cfg := &platform.Config{
			BaseURL:            server.URL,
			UploadBaseURL:      server.URL,
			UploadEndpoint:     "/media/upload.json",
			ChunkSize:          4,
			ProcessingMaxPolls: maxPolls,
			ProcessingInterval: 2 * time.Second,
			RateLimit:          1000,
			RateWindow:         15,
			Sleep: func(_ context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			},
			Logger: logger,
		}
		c, err := platform.NewClient(cfg, "test-token")
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		api = &fakeUploadAPI{}
		server = httptest.NewServer(api.handler())
		slept = nil
		client = newClient(3)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("UploadMedia", func() {
		It("uploads in a single call and returns the media id", func() {
			id, err := client.UploadMedia(context.Background(), []byte("png-bytes"), platform.CategoryImage)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("mid-1"))

			Expect(api.calls).To(HaveLen(1))
			Expect(api.calls[0].mediaData).To(Equal([]byte("png-bytes")))
			Expect(api.calls[0].category).To(Equal("tweet_image"))
		})
	})

	Describe("UploadMediaChunked", func() {
		It("splits the payload into fixed-size ordered segments", func() {
			api.statuses = []string{"succeeded"}

			data := []byte("0123456789") // 10 bytes, chunk size 4 → 3 segments
			id, err := client.UploadMediaChunked(context.Background(), data, "video/mp4", platform.CategoryVideo)
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("mid-1"))

			Expect(api.commands()).To(Equal([]string{"INIT", "APPEND", "APPEND", "APPEND", "FINALIZE"}))
			Expect(api.calls[0].totalBytes).To(Equal("10"))

			var reassembled []byte
			for _, call := range api.calls[1:4] {
				reassembled = append(reassembled, call.mediaData...)
			}
			Expect(bytes.Equal(reassembled, data)).To(BeTrue())
			Expect(api.calls[1].segmentIndex).To(Equal("0"))
			Expect(api.calls[3].segmentIndex).To(Equal("2"))
		})

		It("polls processing status until it succeeds", func() {
			api.statuses = []string{"in_progress", "in_progress", "succeeded"}

			_, err := client.UploadMediaChunked(context.Background(), []byte("vid"), "video/mp4", platform.CategoryVideo)
			Expect(err).NotTo(HaveOccurred())
			Expect(api.polls).To(Equal(3))
			Expect(slept).To(Equal([]time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}))
		})

		It("gives up when processing does not finish within the poll limit", func() {
			api.statuses = []string{"in_progress", "in_progress", "in_progress", "in_progress"}

			_, err := client.UploadMediaChunked(context.Background(), []byte("vid"), "video/mp4", platform.CategoryVideo)
			Expect(err).To(MatchError(ContainSubstring("still processing after 3 polls")))
			Expect(api.polls).To(Equal(3))
		})

		It("surfaces a processing failure", func() {
			api.statuses = []string{"failed"}

			_, err := client.UploadMediaChunked(context.Background(), []byte("vid"), "video/mp4", platform.CategoryVideo)
			Expect(err).To(MatchError(ContainSubstring("media processing failed")))
		})
	})
})
