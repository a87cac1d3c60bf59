// Package mediaproc resolves object media store keys into platform media
// ids at dispatch time: download each blob through a short-lived signed URL,
// classify it from the key's file extension, and route it to the simple or
// chunked upload path.
package mediaproc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/platform"
	"github.com/featherpost/publisher-go/pkg/puberr"
)

// Uploader is the slice of the platform client the processor needs.
type Uploader interface {
	UploadMedia(ctx context.Context, data []byte, category platform.MediaCategory) (string, error)
	UploadMediaChunked(ctx context.Context, data []byte, contentType string, category platform.MediaCategory) (string, error)
}

// ObjectSource issues signed download URLs for stored media keys.
type ObjectSource interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Processor turns media keys into platform media ids.
type Processor struct {
	objects ObjectSource
	http    *http.Client
	urlTTL  time.Duration
	logger  *logrus.Logger
}

// NewProcessor creates a media processor.
func NewProcessor(objects ObjectSource, logger *logrus.Logger) *Processor {
	return &Processor{
		objects: objects,
		http:    &http.Client{Timeout: 2 * time.Minute},
		urlTTL:  15 * time.Minute,
		logger:  logger,
	}
}

// Resolve uploads every key for one post unit, preserving input order. A
// single failed key aborts the whole resolution; no partial lists are
// returned.
func (p *Processor) Resolve(ctx context.Context, keys []string, up Uploader) ([]string, error) {
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, err := p.resolveOne(ctx, key, up)
		if err != nil {
			return nil, puberr.Wrap(puberr.ErrCodeMedia, "failed to resolve media key "+key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Processor) resolveOne(ctx context.Context, key string, up Uploader) (string, error) {
	data, err := p.download(ctx, key)
	if err != nil {
		return "", err
	}

	class := Classify(key)
	p.logger.WithFields(logrus.Fields{
		"key":      key,
		"bytes":    len(data),
		"category": class.Category,
		"chunked":  class.Chunked,
	}).Debug("resolving media key")

	if class.Chunked {
		return up.UploadMediaChunked(ctx, data, class.ContentType, class.Category)
	}
	return up.UploadMedia(ctx, data, class.Category)
}

func (p *Processor) download(ctx context.Context, key string) ([]byte, error) {
	url, err := p.objects.PresignGet(ctx, key, p.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download failed: status=%d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MediaClass is the upload routing decision for one key.
type MediaClass struct {
	Category    platform.MediaCategory
	ContentType string
	Chunked     bool
}

// Classify maps a key's file extension to its platform media class.
// Video-like types go through the chunked async pipeline; everything else
// uploads in a single call.
func Classify(key string) MediaClass {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(key), ".")) {
	case "mp4", "m4v":
		return MediaClass{Category: platform.CategoryVideo, ContentType: "video/mp4", Chunked: true}
	case "mov":
		return MediaClass{Category: platform.CategoryVideo, ContentType: "video/quicktime", Chunked: true}
	case "gif":
		return MediaClass{Category: platform.CategoryGIF, ContentType: "image/gif", Chunked: false}
	case "png":
		return MediaClass{Category: platform.CategoryImage, ContentType: "image/png", Chunked: false}
	case "webp":
		return MediaClass{Category: platform.CategoryImage, ContentType: "image/webp", Chunked: false}
	default:
		return MediaClass{Category: platform.CategoryImage, ContentType: "image/jpeg", Chunked: false}
	}
}
