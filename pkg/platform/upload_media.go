package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MediaCategory routes an upload to the right processing pipeline upstream.
type MediaCategory string

const (
	CategoryImage MediaCategory = "tweet_image"
	CategoryGIF   MediaCategory = "tweet_gif"
	CategoryVideo MediaCategory = "tweet_video"
)

type uploadResponse struct {
	MediaIDString  string `json:"media_id_string"`
	ProcessingInfo *struct {
		State          string `json:"state"` // pending | in_progress | succeeded | failed
		CheckAfterSecs int    `json:"check_after_secs"`
		Error          *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"processing_info"`
}

// UploadMedia performs a single-call upload for images and other small
// synchronous media classes. Returns the platform media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, category MediaCategory) (string, error) {
	if err := c.waitForWriteSlot(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("media_data", base64.StdEncoding.EncodeToString(data))
	form.Set("media_category", string(category))

	var out uploadResponse
	if err := c.uploadRequest(ctx, form, &out); err != nil {
		return "", err
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("upload returned no media id")
	}

	c.logger.WithFields(logrus.Fields{
		"media_id": out.MediaIDString,
		"bytes":    len(data),
		"category": category,
	}).Debug("media uploaded")
	return out.MediaIDString, nil
}

// UploadMediaChunked performs the INIT → APPEND → FINALIZE flow for media
// classes the platform processes asynchronously (video), then polls the
// processing status a bounded number of times.
func (c *Client) UploadMediaChunked(ctx context.Context, data []byte, contentType string, category MediaCategory) (string, error) {
	if err := c.waitForWriteSlot(ctx); err != nil {
		return "", err
	}

	// INIT
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.Itoa(len(data)))
	form.Set("media_type", contentType)
	form.Set("media_category", string(category))

	var initResp uploadResponse
	if err := c.uploadRequest(ctx, form, &initResp); err != nil {
		return "", fmt.Errorf("chunked upload INIT failed: %w", err)
	}
	mediaID := initResp.MediaIDString
	if mediaID == "" {
		return "", fmt.Errorf("chunked upload INIT returned no media id")
	}

	// APPEND fixed-size segments in order
	for segment, offset := 0, 0; offset < len(data); segment, offset = segment+1, offset+c.config.ChunkSize {
		end := offset + c.config.ChunkSize
		if end > len(data) {
			end = len(data)
		}

		form := url.Values{}
		form.Set("command", "APPEND")
		form.Set("media_id", mediaID)
		form.Set("segment_index", strconv.Itoa(segment))
		form.Set("media_data", base64.StdEncoding.EncodeToString(data[offset:end]))

		if err := c.uploadRequest(ctx, form, nil); err != nil {
			return "", fmt.Errorf("chunked upload APPEND segment %d failed: %w", segment, err)
		}
	}

	// FINALIZE
	form = url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)

	var finResp uploadResponse
	if err := c.uploadRequest(ctx, form, &finResp); err != nil {
		return "", fmt.Errorf("chunked upload FINALIZE failed: %w", err)
	}

	// Synchronous processing: done
	if finResp.ProcessingInfo == nil {
		return mediaID, nil
	}

	return c.awaitProcessing(ctx, mediaID)
}

// awaitProcessing polls STATUS until the platform reports a terminal state,
// bounded by ProcessingMaxPolls so a stuck upload cannot hold a dispatch
// open indefinitely.
func (c *Client) awaitProcessing(ctx context.Context, mediaID string) (string, error) {
	for attempt := 0; attempt < c.config.ProcessingMaxPolls; attempt++ {
		if err := c.config.Sleep(ctx, c.config.ProcessingInterval); err != nil {
			return "", err
		}

		statusURL := fmt.Sprintf("%s%s?command=STATUS&media_id=%s",
			c.config.UploadBaseURL, c.config.UploadEndpoint, mediaID)
		req, err := http.NewRequestWithContext(ctx, "GET", statusURL, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			return "", fmt.Errorf("media status request failed: %w", err)
		}

		var status uploadResponse
		err = func() error {
			defer resp.Body.Close()
			if herr := c.handleResponse(resp); herr != nil {
				return herr
			}
			return json.NewDecoder(resp.Body).Decode(&status)
		}()
		if err != nil {
			return "", err
		}

		if status.ProcessingInfo == nil {
			return mediaID, nil
		}

		switch status.ProcessingInfo.State {
		case "succeeded":
			return mediaID, nil
		case "failed":
			if status.ProcessingInfo.Error != nil {
				return "", fmt.Errorf("media processing failed: code=%d %s",
					status.ProcessingInfo.Error.Code, status.ProcessingInfo.Error.Message)
			}
			return "", fmt.Errorf("media processing failed")
		default:
			c.logger.WithFields(logrus.Fields{
				"media_id": mediaID,
				"state":    status.ProcessingInfo.State,
				"attempt":  attempt + 1,
			}).Debug("media still processing")
		}
	}

	return "", fmt.Errorf("media %s still processing after %d polls", mediaID, c.config.ProcessingMaxPolls)
}

// uploadRequest posts a form-encoded request to the upload API. out may be
// nil when the caller does not need the body (APPEND returns 2xx empty).
func (c *Client) uploadRequest(ctx context.Context, form url.Values, out *uploadResponse) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
	}

	fullURL := c.config.UploadBaseURL + c.config.UploadEndpoint
	req, err := http.NewRequestWithContext(ctx, "POST", fullURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleResponse(resp); err != nil {
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode upload response: %w", err)
	}
	return nil
}
