package models

import (
	"github.com/google/uuid"
)

type FeedbackKind string

const (
	FeedbackRecordingStarted  FeedbackKind = "recording_started"
	FeedbackInteractionLogged FeedbackKind = "interaction_logged"
	FeedbackRecordingStopped  FeedbackKind = "recording_stopped"
	FeedbackLessonStarted     FeedbackKind = "lesson_started"
	FeedbackStepInstruction   FeedbackKind = "step_instruction"
	FeedbackVerdict           FeedbackKind = "verdict"
	FeedbackHint              FeedbackKind = "hint"
	FeedbackWarning           FeedbackKind = "warning"
	FeedbackCompleted         FeedbackKind = "completed"
)

// Feedback is one status update for the learner or teacher. Message is meant
// for display, Speech (when set) for a spoken announcement.
type Feedback struct {
	Kind      FeedbackKind `json:"kind"`
	SessionID uuid.UUID    `json:"session_id"`
	StepIndex int          `json:"step_index"`
	Message   string       `json:"message"`
	Speech    string       `json:"speech,omitempty"`
	Correct   *bool        `json:"correct,omitempty"`
	Score     *Score       `json:"score,omitempty"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
