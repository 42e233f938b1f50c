package models

import (
	"time"

	"github.com/google/uuid"
)

type InteractionType string

const (
	InteractionInstruction InteractionType = "instruction"
	InteractionInput       InteractionType = "input"
	InteractionTap         InteractionType = "tap"
)

type InteractionData struct {
	Value       string `json:"value,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Interaction is one event captured while a lesson was being recorded.
// Timestamp is milliseconds since the recording started.
type Interaction struct {
	Timestamp int64           `json:"timestamp"`
	Type      InteractionType `json:"type"`
	Data      InteractionData `json:"data"`
}

type RecordingMetadata struct {
	TotalInteractions int       `json:"total_interactions"`
	RecordedAt        time.Time `json:"recorded_at"`
	Platform          string    `json:"platform"`
	Version           string    `json:"version"`
}

// Lesson is a recorded, read-only playback script.
type Lesson struct {
	ID           uuid.UUID         `json:"id"`
	RecordingID  *uuid.UUID        `json:"recording_id,omitempty"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	DurationMs   int64             `json:"duration_ms"`
	Interactions []Interaction     `json:"interactions"`
	Metadata     RecordingMetadata `json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

type LessonSummary struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	DurationMs       int64     `json:"duration_ms"`
	InteractionCount int       `json:"interaction_count"`
	CreatedAt        time.Time `json:"created_at"`
}

type StartRecordingRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type LogInteractionRequest struct {
	Type InteractionType `json:"type" validate:"required,max=32"`
	Data InteractionData `json:"data"`
}

type SetActionRequest struct {
	Label string `json:"label" validate:"max=500"`
}
