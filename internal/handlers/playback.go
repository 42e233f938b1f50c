package handlers

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"lessoncoach-backend/internal/models"
	"lessoncoach-backend/internal/playback"
)

type PlaybackHandler struct {
	sessions playbackService
	validate *requestValidator
}

type playbackService interface {
	StartPlayback(ctx context.Context, lessonID uuid.UUID) (playback.SessionView, error)
	Session(ctx context.Context, id uuid.UUID) (playback.SessionView, error)
	UpdateInput(id uuid.UUID, input models.StudentInput) error
	Validate(ctx context.Context, id uuid.UUID, input models.StudentInput) (playback.SessionView, error)
	Abort(ctx context.Context, id uuid.UUID) (playback.SessionView, error)
	Actions(ctx context.Context, id uuid.UUID) ([]models.StudentActionRecord, error)
}

func NewPlaybackHandler(sessions playbackService) *PlaybackHandler {
	return &PlaybackHandler{
		sessions: sessions,
		validate: newRequestValidator(),
	}
}

func (h *PlaybackHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req models.StartPlaybackRequest
	if !h.validate.decodeAndValidate(w, r, &req) {
		return
	}
	lessonID, err := uuid.Parse(req.LessonID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid lesson ID", r))
		return
	}

	view, err := h.sessions.StartPlayback(r.Context(), lessonID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *PlaybackHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}

	view, err := h.sessions.Session(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateInput buffers the learner's input for the periodic check.
func (h *PlaybackHandler) UpdateInput(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}
	input, ok := h.readInput(w, r)
	if !ok {
		return
	}

	if err := h.sessions.UpdateInput(id, input); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PlaybackHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}
	input, ok := h.readInput(w, r)
	if !ok {
		return
	}

	view, err := h.sessions.Validate(r.Context(), id, input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PlaybackHandler) Abort(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}

	view, err := h.sessions.Abort(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PlaybackHandler) Actions(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "session")
	if !ok {
		return
	}

	actions, err := h.sessions.Actions(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if actions == nil {
		actions = []models.StudentActionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}

func (h *PlaybackHandler) readInput(w http.ResponseWriter, r *http.Request) (models.StudentInput, bool) {
	var req models.StudentInputRequest
	if !h.validate.decodeAndValidate(w, r, &req) {
		return models.StudentInput{}, false
	}

	input := models.StudentInput{Text: req.Text}
	if req.ImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
				map[string]string{"image_base64": "image_base64 must be valid base64"}, r))
			return models.StudentInput{}, false
		}
		input.Image = img
		input.ImageMIME = req.ImageMIME
	}
	return input, true
}
