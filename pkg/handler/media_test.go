package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/handler"
)

type fakeObjects struct {
	put     map[string][]byte
	putType map[string]string
	deleted []string
}

func (f *fakeObjects) Put(_ context.Context, key string, body []byte, contentType string) error {
	f.put[key] = body
	f.putType[key] = contentType
	return nil
}

func (f *fakeObjects) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

var _ = Describe("MediaHandler", func() {
	var (
		objects *fakeObjects
		h       *handler.MediaHandler
	)

	upload := func(filename string, content []byte, withUser bool) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(mw.Close()).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/api/media", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if withUser {
			req.Header.Set(handler.UserIDHeader, "7")
		}
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		return rec
	}

	deleteKeys := func(keys []string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string][]string{"keys": keys})
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodDelete, "/api/media", bytes.NewReader(body))
		req.Header.Set(handler.UserIDHeader, "7")
		rec := httptest.NewRecorder()
		h.Delete(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)

		objects = &fakeObjects{put: map[string][]byte{}, putType: map[string]string{}}
		h = handler.NewMediaHandler(objects, logger)
	})

	Describe("Upload", func() {
		It("stores the file under the caller's key prefix", func() {
			rec := upload("photo.png", []byte("png-bytes"), true)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var body map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			key := body["key"].(string)
			Expect(strings.HasPrefix(key, "media/7/")).To(BeTrue())
			Expect(strings.HasSuffix(key, ".png")).To(BeTrue())
			Expect(objects.put[key]).To(Equal([]byte("png-bytes")))
			Expect(objects.putType[key]).To(Equal("image/png"))
		})

		It("rejects an unsupported extension", func() {
			rec := upload("malware.exe", []byte("nope"), true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(objects.put).To(BeEmpty())
		})

		It("rejects an oversized image", func() {
			rec := upload("big.png", make([]byte, (5<<20)+1), true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(objects.put).To(BeEmpty())
		})

		It("requires the trusted user header", func() {
			rec := upload("photo.png", []byte("png-bytes"), false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Delete", func() {
		It("deletes keys the caller owns", func() {
			rec := deleteKeys([]string{"media/7/a.png", "media/7/b.png"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(objects.deleted).To(Equal([]string{"media/7/a.png", "media/7/b.png"}))
		})

		It("refuses keys outside the caller's prefix and deletes nothing", func() {
			rec := deleteKeys([]string{"media/7/a.png", "media/9/b.png"})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(objects.deleted).To(BeEmpty())
		})

		It("rejects an empty key list", func() {
			rec := deleteKeys(nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
