package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
)

// Score is the running tally of a playback session. Both counters only grow.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Add returns the score after one more validation attempt.
func (s Score) Add(correct bool) Score {
	s.Total++
	if correct {
		s.Correct++
	}
	return s
}

// Percent is round(100 * correct / total), or 0 when nothing was attempted.
func (s Score) Percent() int {
	if s.Total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(s.Correct) / float64(s.Total)))
}

// StudentInput is what the learner has provided for the current step.
type StudentInput struct {
	Text      string `json:"text"`
	Image     []byte `json:"-"`
	ImageMIME string `json:"-"`
}

type StudentActionRecord struct {
	ID                uuid.UUID   `json:"id"`
	SessionID         uuid.UUID   `json:"session_id"`
	StepIndex         int         `json:"step_index"`
	ExpectedAction    Interaction `json:"expected_action"`
	StudentInput      string      `json:"student_input"`
	IsCorrect         bool        `json:"is_correct"`
	Feedback          string      `json:"feedback"`
	TimestampInLesson int64       `json:"timestamp_in_lesson"`
	CreatedAt         time.Time   `json:"created_at"`
}

type PlaybackSession struct {
	ID                uuid.UUID             `json:"id"`
	LessonID          uuid.UUID             `json:"lesson_id"`
	CurrentStepIndex  int                   `json:"current_step_index"`
	Score             Score                 `json:"score"`
	Status            SessionStatus         `json:"status"`
	FinalScorePercent *int                  `json:"final_score_percent,omitempty"`
	History           []StudentActionRecord `json:"history,omitempty"`
	StartedAt         time.Time             `json:"started_at"`
	CompletedAt       *time.Time            `json:"completed_at,omitempty"`
}

type StartPlaybackRequest struct {
	LessonID string `json:"lesson_id" validate:"required,uuid"`
}

type StudentInputRequest struct {
	Text        string `json:"text" validate:"max=2000"`
	ImageBase64 string `json:"image_base64" validate:"omitempty,base64"`
	ImageMIME   string `json:"image_mime" validate:"omitempty,oneof=image/jpeg image/png image/webp"`
}
