package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lessoncoach-backend/internal/models"
)

type RecordingHandler struct {
	recordings recordingService
	validate   *requestValidator
}

type recordingService interface {
	StartRecording(ctx context.Context, title, description string) (uuid.UUID, error)
	LogInteraction(ctx context.Context, recordingID uuid.UUID, typ models.InteractionType, data models.InteractionData) (int, error)
	SetActiveAction(recordingID uuid.UUID, label string) error
	StopRecording(ctx context.Context, recordingID uuid.UUID) (*models.Lesson, error)
}

func NewRecordingHandler(recordings recordingService) *RecordingHandler {
	return &RecordingHandler{
		recordings: recordings,
		validate:   newRequestValidator(),
	}
}

func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartRecordingRequest
	if !h.validate.decodeAndValidate(w, r, &req) {
		return
	}

	id, err := h.recordings.StartRecording(r.Context(), req.Title, req.Description)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"recording_id": id})
}

func (h *RecordingHandler) LogInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recording")
	if !ok {
		return
	}
	var req models.LogInteractionRequest
	if !h.validate.decodeAndValidate(w, r, &req) {
		return
	}

	count, err := h.recordings.LogInteraction(r.Context(), id, req.Type, req.Data)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"interaction_count": count})
}

func (h *RecordingHandler) SetAction(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recording")
	if !ok {
		return
	}
	var req models.SetActionRequest
	if !h.validate.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.recordings.SetActiveAction(id, req.Label); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"label": req.Label})
}

// Stop ends the recording and responds with the saved lesson.
func (h *RecordingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "recording")
	if !ok {
		return
	}

	l, err := h.recordings.StopRecording(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"lesson_id": l.ID,
		"lesson":    l,
	})
}
