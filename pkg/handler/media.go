package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/puberr"
)

// Upload size caps per media class.
const (
	maxImageBytes = 5 << 20
	maxGIFBytes   = 15 << 20
	maxVideoBytes = 512 << 20
)

// ObjectStore is the slice of the media store the upload handlers need.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Delete(ctx context.Context, keys ...string) error
}

// MediaHandler serves pre-dispatch media upload and deletion. Objects live
// under a per-user key prefix; the prefix doubles as the ownership check.
type MediaHandler struct {
	store  ObjectStore
	logger *logrus.Logger
}

// NewMediaHandler creates the media handler.
func NewMediaHandler(store ObjectStore, logger *logrus.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logger}
}

var mediaContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
}

// Upload handles POST /api/media. Multipart form with a single "file" part;
// responds with the stored object key the schedule call will reference.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "malformed multipart body"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "file part is required"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(path.Ext(header.Filename))
	contentType, ok := mediaContentTypes[ext]
	if !ok {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "unsupported media type: "+ext))
		return
	}

	limit := sizeLimit(ext)
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		respondError(w, h.logger, puberr.Wrap(puberr.ErrCodeValidation, "failed to read upload", err))
		return
	}
	if int64(len(data)) > limit {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation,
			fmt.Sprintf("file exceeds the %d byte limit for %s media", limit, ext)))
		return
	}

	key := fmt.Sprintf("%s%s%s", userPrefix(uid), uuid.New().String(), ext)
	if err := h.store.Put(r.Context(), key, data, contentType); err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(data),
	}).Info("stored media object")
	respondJSON(w, h.logger, http.StatusCreated, map[string]interface{}{
		"key":  key,
		"size": len(data),
	})
}

type deleteMediaRequest struct {
	Keys []string `json:"keys"`
}

// Delete handles DELETE /api/media. Keys outside the caller's prefix are
// rejected before anything is removed.
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req deleteMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keys) == 0 {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "keys is required"))
		return
	}

	prefix := userPrefix(uid)
	for _, key := range req.Keys {
		if !strings.HasPrefix(key, prefix) {
			respondError(w, h.logger, puberr.New(puberr.ErrCodeAuth, "key is not owned by the caller: "+key))
			return
		}
	}

	if err := h.store.Delete(r.Context(), req.Keys...); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"deleted": len(req.Keys),
	})
}

func sizeLimit(ext string) int64 {
	switch ext {
	case ".gif":
		return maxGIFBytes
	case ".mp4", ".m4v", ".mov":
		return maxVideoBytes
	default:
		return maxImageBytes
	}
}

func userPrefix(uid uint) string {
	return fmt.Sprintf("media/%d/", uid)
}
