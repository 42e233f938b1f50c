package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"lessoncoach-backend/internal/models"
)

type LessonHandler struct {
	lessons lessonService
}

type lessonService interface {
	Lessons(ctx context.Context) ([]models.LessonSummary, error)
	Lesson(ctx context.Context, id uuid.UUID) (*models.Lesson, error)
	DeleteLesson(ctx context.Context, id uuid.UUID) error
	DeleteRecording(ctx context.Context, lessonID uuid.UUID) error
}

func NewLessonHandler(lessons lessonService) *LessonHandler {
	return &LessonHandler{lessons: lessons}
}

func (h *LessonHandler) List(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.lessons.Lessons(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if lessons == nil {
		lessons = []models.LessonSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lessons": lessons,
		"total":   len(lessons),
	})
}

func (h *LessonHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "lesson")
	if !ok {
		return
	}

	l, err := h.lessons.Lesson(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *LessonHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "lesson")
	if !ok {
		return
	}

	if err := h.lessons.DeleteLesson(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Lesson deleted"})
}

// DeleteRecording drops the recorded interactions but keeps the lesson.
func (h *LessonHandler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "lesson")
	if !ok {
		return
	}

	if err := h.lessons.DeleteRecording(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Recording deleted"})
}
