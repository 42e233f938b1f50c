package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"lessoncoach-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store persists lessons, playback sessions and the learner actions inside
// them. PostgresStore and SQLiteStore implement it.
type Store interface {
	CreateLesson(ctx context.Context, title, description string, durationMs int64, interactions []models.Interaction, metadata models.RecordingMetadata) (uuid.UUID, error)
	GetLessons(ctx context.Context) ([]models.LessonSummary, error)
	GetLesson(ctx context.Context, id uuid.UUID) (*models.Lesson, error)
	DeleteLesson(ctx context.Context, id uuid.UUID) error
	DeleteRecording(ctx context.Context, lessonID uuid.UUID) error

	StartPlaybackSession(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error)
	RecordStudentAction(ctx context.Context, sessionID uuid.UUID, rec models.StudentActionRecord) error
	CompletePlaybackSession(ctx context.Context, sessionID uuid.UUID, finalScorePercent, total, correct int) error
	GetPlaybackSession(ctx context.Context, id uuid.UUID) (*models.PlaybackSession, error)
	ListStudentActions(ctx context.Context, sessionID uuid.UUID) ([]models.StudentActionRecord, error)

	Ping(ctx context.Context) error
	Close()
}

func encodeInteractions(interactions []models.Interaction) ([]byte, error) {
	if interactions == nil {
		interactions = []models.Interaction{}
	}
	return json.Marshal(interactions)
}
