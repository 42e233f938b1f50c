package lesson

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/models"
)

const (
	DefaultRecordingTick = 1 * time.Second
	recordingPlatform    = "mobile"
	recordingVersion     = "1.0"
)

type RecorderConfig struct {
	ID        uuid.UUID
	Scheduler Scheduler
	Feedback  FeedbackSink
	Logger    *zap.Logger
	Tick      time.Duration
}

// Recorder captures a teacher's interactions into a lesson. It owns its state;
// nothing is shared with other recorders.
type Recorder struct {
	mu sync.Mutex

	id       uuid.UUID
	sched    Scheduler
	feedback FeedbackSink
	log      *zap.Logger
	tick     time.Duration

	active       bool
	title        string
	description  string
	startTime    time.Time
	elapsed      time.Duration
	activeAction string
	interactions []models.Interaction
	ticker       Timer
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		id:       cfg.ID,
		sched:    cfg.Scheduler,
		feedback: cfg.Feedback,
		log:      cfg.Logger,
		tick:     cfg.Tick,
	}
	if r.id == uuid.Nil {
		r.id = uuid.New()
	}
	if r.sched == nil {
		r.sched = NewScheduler()
	}
	if r.feedback == nil {
		r.feedback = discardFeedback{}
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.tick <= 0 {
		r.tick = DefaultRecordingTick
	}
	r.log = r.log.With(zap.String("recording_id", r.id.String()))
	return r
}

func (r *Recorder) ID() uuid.UUID { return r.id }

// Start begins a new recording. The title must not be blank.
func (r *Recorder) Start(ctx context.Context, title, description string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &ValidationError{Field: "title", Message: "Please enter a lesson title"}
	}

	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return &StateError{Op: "start recording", Msg: "recording already in progress"}
	}

	r.active = true
	r.title = title
	r.description = strings.TrimSpace(description)
	r.startTime = r.sched.Now()
	r.elapsed = 0
	r.interactions = nil
	r.ticker = r.sched.Every(r.tick, r.onTick)
	r.mu.Unlock()

	r.log.Info("recording started", zap.String("title", title))
	r.feedback.Emit(ctx, models.Feedback{
		Kind:      models.FeedbackRecordingStarted,
		SessionID: r.id,
		Message:   "🔴 Recording started! Perform actions and describe them.",
		Speech:    "Recording started. Perform your actions while describing them.",
	})
	return nil
}

func (r *Recorder) onTick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}
	r.elapsed = r.sched.Now().Sub(r.startTime)
}

// Elapsed is the recording duration as of the last tick.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActiveAction sets the label that overrides the instruction of every
// interaction logged after it. An empty label clears it.
func (r *Recorder) SetActiveAction(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeAction = strings.TrimSpace(label)
}

// LogInteraction appends an event to the recording. Outside a recording it
// does nothing.
func (r *Recorder) LogInteraction(ctx context.Context, typ models.InteractionType, data models.InteractionData) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		r.log.Debug("interaction dropped outside recording", zap.String("type", string(typ)))
		return
	}

	if r.activeAction != "" {
		data.Instruction = r.activeAction
	}
	r.appendLocked(typ, data)
	step := len(r.interactions) - 1
	r.mu.Unlock()

	label := data.Instruction
	if label == "" {
		label = data.Value
	}
	r.feedback.Emit(ctx, models.Feedback{
		Kind:      models.FeedbackInteractionLogged,
		SessionID: r.id,
		StepIndex: step,
		Message:   fmt.Sprintf("Logged %s action: %s", typ, label),
	})
}

func (r *Recorder) appendLocked(typ models.InteractionType, data models.InteractionData) {
	ts := r.sched.Now().Sub(r.startTime).Milliseconds()
	if n := len(r.interactions); n > 0 && ts < r.interactions[n-1].Timestamp {
		ts = r.interactions[n-1].Timestamp
	}
	if ts < 0 {
		ts = 0
	}

	r.interactions = append(r.interactions, models.Interaction{
		Timestamp: ts,
		Type:      typ,
		Data:      data,
	})
}

// Interactions returns a copy of the log recorded so far.
func (r *Recorder) Interactions() []models.Interaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Interaction, len(r.interactions))
	copy(out, r.interactions)
	return out
}

// Stop ends the recording, appends the end-of-lesson marker and returns the
// frozen lesson. Persisting it is up to the caller.
func (r *Recorder) Stop(ctx context.Context) (*models.Lesson, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, &StateError{Op: "stop recording", Msg: "no recording in progress"}
	}

	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}

	r.appendLocked(models.InteractionInstruction, models.InteractionData{
		Value:       "Lesson ended",
		Instruction: "End of lesson recording",
	})

	now := r.sched.Now()
	r.elapsed = now.Sub(r.startTime)
	r.active = false

	interactions := r.interactions
	r.interactions = nil
	r.activeAction = ""

	lesson := &models.Lesson{
		Title:        r.title,
		Description:  r.description,
		DurationMs:   r.elapsed.Milliseconds(),
		Interactions: interactions,
		Metadata: models.RecordingMetadata{
			TotalInteractions: len(interactions),
			RecordedAt:        now.UTC(),
			Platform:          recordingPlatform,
			Version:           recordingVersion,
		},
	}
	r.mu.Unlock()

	r.log.Info("recording stopped",
		zap.Int("interactions", len(interactions)),
		zap.Int64("duration_ms", lesson.DurationMs),
	)
	r.feedback.Emit(ctx, models.Feedback{
		Kind:      models.FeedbackRecordingStopped,
		SessionID: r.id,
		Message:   fmt.Sprintf("%q recorded with %d interaction points.", lesson.Title, len(interactions)),
	})
	return lesson, nil
}
