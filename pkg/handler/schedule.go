package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/puberr"
	"github.com/featherpost/publisher-go/pkg/scheduler"
)

// SchedulerService is the slice of the scheduler the HTTP layer needs.
type SchedulerService interface {
	Schedule(ctx context.Context, req scheduler.Request) (*scheduler.Scheduled, error)
	Cancel(ctx context.Context, publicID string) error
}

// ScheduleHandler serves post scheduling and cancellation.
type ScheduleHandler struct {
	scheduler SchedulerService
	logger    *logrus.Logger
}

// NewScheduleHandler creates the scheduling handler.
func NewScheduleHandler(s SchedulerService, logger *logrus.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s, logger: logger}
}

// threadUnitRequest is one unit of a thread payload.
type threadUnitRequest struct {
	Content   string   `json:"content"`
	MediaKeys []string `json:"mediaKeys,omitempty"`
}

// scheduleRequest is the wire shape of a schedule call. Two payload styles
// are accepted: the legacy single-content form (content + mediaKeys) and the
// thread form (threadUnits). They normalize into one units sequence here and
// nowhere else; everything past this point sees only normalized units.
type scheduleRequest struct {
	Content      string              `json:"content,omitempty"`
	MediaKeys    []string            `json:"mediaKeys,omitempty"`
	ThreadUnits  []threadUnitRequest `json:"threadUnits,omitempty"`
	AccountID    uint                `json:"accountId"`
	ScheduledFor string              `json:"scheduledFor"`
	Timezone     string              `json:"timezone,omitempty"`
}

type scheduleResponse struct {
	PublicID     string    `json:"publicId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Status       string    `json:"status"`
}

// Schedule handles POST /api/posts/schedule.
func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "malformed request body"))
		return
	}

	units, err := normalizeUnits(req)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if req.AccountID == 0 {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "accountId is required"))
		return
	}

	when, err := parseScheduledFor(req.ScheduledFor, req.Timezone)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	result, err := h.scheduler.Schedule(r.Context(), scheduler.Request{
		UserID:       uid,
		AccountID:    req.AccountID,
		Units:        units,
		ScheduledFor: when,
	})
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, scheduleResponse{
		PublicID:     result.PublicID,
		ScheduledFor: when.UTC(),
		Status:       "scheduled",
	})
}

// Cancel handles POST /api/posts/{publicId}/cancel.
func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		respondError(w, h.logger, err)
		return
	}

	publicID := chi.URLParam(r, "publicId")
	if publicID == "" {
		respondError(w, h.logger, puberr.New(puberr.ErrCodeValidation, "publicId is required"))
		return
	}

	if err := h.scheduler.Cancel(r.Context(), publicID); err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]string{
		"publicId": publicID,
		"status":   "draft",
	})
}

// normalizeUnits folds both accepted payload styles into the canonical unit
// sequence. Exactly one style must be present.
func normalizeUnits(req scheduleRequest) ([]scheduler.UnitInput, error) {
	hasContent := strings.TrimSpace(req.Content) != ""
	hasThread := len(req.ThreadUnits) > 0

	switch {
	case hasContent && hasThread:
		return nil, puberr.New(puberr.ErrCodeValidation, "provide either content or threadUnits, not both")
	case hasThread:
		units := make([]scheduler.UnitInput, 0, len(req.ThreadUnits))
		for _, tu := range req.ThreadUnits {
			if strings.TrimSpace(tu.Content) == "" {
				return nil, puberr.New(puberr.ErrCodeValidation, "thread units must not be empty")
			}
			units = append(units, scheduler.UnitInput{
				Content:   tu.Content,
				MediaKeys: tu.MediaKeys,
			})
		}
		return units, nil
	case hasContent:
		return []scheduler.UnitInput{{
			Content:   req.Content,
			MediaKeys: req.MediaKeys,
		}}, nil
	default:
		return nil, puberr.New(puberr.ErrCodeValidation, "content or threadUnits is required")
	}
}

// parseScheduledFor accepts an RFC3339 timestamp, or a zone-less local
// timestamp interpreted in the request's IANA timezone.
func parseScheduledFor(raw, timezone string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, puberr.New(puberr.ErrCodeValidation, "scheduledFor is required")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, puberr.New(puberr.ErrCodeValidation, "unknown timezone: "+timezone)
		}
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc)
	if err != nil {
		return time.Time{}, puberr.New(puberr.ErrCodeValidation, "scheduledFor must be RFC3339 or local YYYY-MM-DDTHH:MM:SS")
	}
	return t, nil
}
