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
	DefaultValidationInterval = 3 * time.Second
	DefaultAdvanceDelay       = 2 * time.Second
	DefaultHintAfterFailures  = 3
)

type State int

const (
	StateNotStarted State = iota
	StateAwaitingInput
	StateValidating
	StateAdvancing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateValidating:
		return "validating"
	case StateAdvancing:
		return "advancing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionStore is the part of the persistence port a playback session writes to.
type SessionStore interface {
	StartPlaybackSession(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error)
	RecordStudentAction(ctx context.Context, sessionID uuid.UUID, rec models.StudentActionRecord) error
	CompletePlaybackSession(ctx context.Context, sessionID uuid.UUID, finalScorePercent, total, correct int) error
}

// Hinter suggests a nudge for a learner stuck on a step.
type Hinter interface {
	Hint(ctx context.Context, instruction string, previousAttempts []string) (string, error)
}

type EngineConfig struct {
	Store              SessionStore
	Validator          *Validator
	Scheduler          Scheduler
	Feedback           FeedbackSink
	Logger             *zap.Logger
	Hinter             Hinter
	ValidationInterval time.Duration
	AdvanceDelay       time.Duration
	HintAfterFailures  int
}

// Engine walks one learner through a lesson. Every transition happens under
// mu; collaborator calls and feedback delivery are made with mu released so
// timers keep firing.
type Engine struct {
	mu sync.Mutex
	// emitMu orders outbox delivery. It is never taken while mu is held.
	emitMu sync.Mutex

	store     SessionStore
	validator *Validator
	sched     Scheduler
	feedback  FeedbackSink
	log       *zap.Logger
	hinter    Hinter

	interval          time.Duration
	advanceDelay      time.Duration
	hintAfterFailures int

	ctx    context.Context
	cancel context.CancelFunc

	state     State
	lesson    *models.Lesson
	session   models.PlaybackSession
	persisted bool
	input     models.StudentInput
	failures  int
	attempts  []string

	ticker       Timer
	advanceTimer Timer

	outbox []models.Feedback
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:             cfg.Store,
		validator:         cfg.Validator,
		sched:             cfg.Scheduler,
		feedback:          cfg.Feedback,
		log:               cfg.Logger,
		hinter:            cfg.Hinter,
		interval:          cfg.ValidationInterval,
		advanceDelay:      cfg.AdvanceDelay,
		hintAfterFailures: cfg.HintAfterFailures,
	}
	if e.validator == nil {
		e.validator = NewValidator(nil)
	}
	if e.sched == nil {
		e.sched = NewScheduler()
	}
	if e.feedback == nil {
		e.feedback = discardFeedback{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.interval <= 0 {
		e.interval = DefaultValidationInterval
	}
	if e.advanceDelay <= 0 {
		e.advanceDelay = DefaultAdvanceDelay
	}
	if e.hintAfterFailures <= 0 {
		e.hintAfterFailures = DefaultHintAfterFailures
	}
	return e
}

// Start opens a playback session for the lesson and announces its first step.
// A lesson without interactions completes immediately with a 0/0 score.
func (e *Engine) Start(ctx context.Context, lesson *models.Lesson) error {
	if lesson == nil {
		return &ValidationError{Field: "lesson", Message: "no lesson selected"}
	}

	e.mu.Lock()
	if e.state != StateNotStarted {
		state := e.state
		e.mu.Unlock()
		return &StateError{Op: "start", State: state}
	}
	// Reserve the engine so a concurrent Start fails while the session opens.
	e.state = StateValidating
	e.mu.Unlock()

	sessionID, persisted := uuid.Nil, false
	if e.store != nil {
		id, err := e.store.StartPlaybackSession(ctx, lesson.ID)
		if err != nil {
			e.warn(ctx, uuid.Nil, 0, &PersistenceError{Op: "start playback session", Err: err})
		} else {
			sessionID, persisted = id, true
		}
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.lesson = lesson
	e.persisted = persisted
	e.session = models.PlaybackSession{
		ID:        sessionID,
		LessonID:  lesson.ID,
		Status:    models.SessionInProgress,
		StartedAt: e.sched.Now().UTC(),
	}
	e.log = e.log.With(zap.String("session_id", sessionID.String()), zap.String("lesson_id", lesson.ID.String()))
	e.log.Info("playback started", zap.Int("steps", len(lesson.Interactions)))

	if len(lesson.Interactions) == 0 {
		e.emit(models.Feedback{
			Kind:    models.FeedbackLessonStarted,
			Message: "This lesson has no recorded steps.",
		})
		e.completeLocked(false)
		e.mu.Unlock()
		e.flush(ctx)
		return e.persistCompletion(ctx)
	}

	first := lesson.Interactions[0]
	e.emit(models.Feedback{
		Kind:    models.FeedbackLessonStarted,
		Message: "Starting: " + InstructionText(first, "Follow the instructions"),
		Speech:  InstructionText(first, "Let's begin the lesson"),
	})

	e.state = StateAwaitingInput
	e.ticker = e.sched.Every(e.interval, e.onValidationTick)
	e.mu.Unlock()
	e.flush(ctx)
	return nil
}

// UpdateInput replaces the buffered learner input the periodic check validates.
func (e *Engine) UpdateInput(input models.StudentInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateNotStarted:
		return &ValidationError{Field: "session", Message: "no active lesson"}
	case StateCompleted:
		return nil
	}
	e.input = input
	return nil
}

// Validate checks input against the current step. After completion it does
// nothing. Only a correct verdict schedules the advance to the next step.
func (e *Engine) Validate(ctx context.Context, input models.StudentInput) error {
	e.mu.Lock()
	switch e.state {
	case StateNotStarted:
		e.mu.Unlock()
		return &ValidationError{Field: "session", Message: "no active lesson"}
	case StateCompleted:
		e.mu.Unlock()
		return nil
	case StateValidating, StateAdvancing:
		e.mu.Unlock()
		e.log.Warn("validation dropped, previous one still pending")
		return ErrValidationPending
	}

	idx := e.session.CurrentStepIndex
	if idx >= len(e.lesson.Interactions) {
		e.mu.Unlock()
		return nil
	}
	expected := e.lesson.Interactions[idx]
	e.state = StateValidating
	e.mu.Unlock()

	verdict := e.validator.Validate(ctx, expected, input)
	if verdict.ClassifierErr != nil {
		e.log.Warn("classifier failed, step left unjudged", zap.Int("step", idx), zap.Error(verdict.ClassifierErr))
	}

	e.mu.Lock()
	if e.state != StateValidating || e.session.CurrentStepIndex != idx {
		// Completed or moved on while the classifier was running.
		e.mu.Unlock()
		return nil
	}

	// No ruling means no attempt: the score and history stay untouched.
	if verdict.Inconclusive() {
		e.state = StateAwaitingInput
		e.emit(models.Feedback{
			Kind:      models.FeedbackWarning,
			StepIndex: idx,
			Message:   verdict.Feedback,
		})
		e.mu.Unlock()
		e.flush(ctx)
		return nil
	}

	e.session.Score = e.session.Score.Add(verdict.Correct)
	rec := models.StudentActionRecord{
		ID:                uuid.New(),
		SessionID:         e.session.ID,
		StepIndex:         idx,
		ExpectedAction:    expected,
		StudentInput:      describeInput(input, verdict),
		IsCorrect:         verdict.Correct,
		Feedback:          verdict.Feedback,
		TimestampInLesson: expected.Timestamp,
		CreatedAt:         e.sched.Now().UTC(),
	}
	e.session.History = append(e.session.History, rec)

	correct := verdict.Correct
	score := e.session.Score
	speech := "Try again"
	if correct {
		speech = "Correct!"
	}
	e.emit(models.Feedback{
		Kind:      models.FeedbackVerdict,
		StepIndex: idx,
		Message:   verdict.Feedback,
		Speech:    speech,
		Correct:   &correct,
		Score:     &score,
	})

	wantHint := false
	var attempts []string
	if correct {
		e.failures = 0
		e.attempts = nil
		e.state = StateAdvancing
		e.advanceTimer = e.sched.AfterFunc(e.advanceDelay, e.onAdvanceTimer)
	} else {
		e.failures++
		e.attempts = append(e.attempts, rec.StudentInput)
		e.state = StateAwaitingInput
		if e.hinter != nil && e.failures%e.hintAfterFailures == 0 {
			wantHint = true
			attempts = append([]string(nil), e.attempts...)
		}
	}
	sessionID, persisted := e.session.ID, e.persisted
	e.mu.Unlock()
	e.flush(ctx)

	e.log.Debug("step validated", zap.Int("step", idx), zap.Bool("correct", correct),
		zap.Int("score_correct", score.Correct), zap.Int("score_total", score.Total))

	if persisted && e.store != nil {
		if err := e.store.RecordStudentAction(ctx, sessionID, rec); err != nil {
			e.warn(ctx, sessionID, idx, &PersistenceError{Op: "record student action", Err: err})
		}
	}

	if wantHint {
		e.sendHint(ctx, idx, expected, attempts)
	}
	return nil
}

func describeInput(input models.StudentInput, v Verdict) string {
	if input.Text != "" {
		return input.Text
	}
	if v.Result != nil {
		return v.Result.UserAction
	}
	return ""
}

func (e *Engine) sendHint(ctx context.Context, idx int, expected models.Interaction, attempts []string) {
	hint, err := e.hinter.Hint(ctx, InstructionText(expected, expected.Data.Value), attempts)
	if err != nil || strings.TrimSpace(hint) == "" {
		e.log.Warn("hint unavailable", zap.Int("step", idx), zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.state == StateCompleted || e.session.CurrentStepIndex != idx {
		e.mu.Unlock()
		return
	}
	e.emit(models.Feedback{
		Kind:      models.FeedbackHint,
		StepIndex: idx,
		Message:   hint,
		Speech:    hint,
	})
	e.mu.Unlock()
	e.flush(ctx)
}

func (e *Engine) onValidationTick() {
	e.mu.Lock()
	if e.state != StateAwaitingInput {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	input := e.input
	expected := e.lesson.Interactions[e.session.CurrentStepIndex]
	e.mu.Unlock()

	if expected.Type == models.InteractionInput && strings.TrimSpace(input.Text) == "" {
		return
	}
	if len(input.Image) == 0 && e.validator.NeedsFrame(expected) {
		return
	}
	if err := e.Validate(ctx, input); err != nil {
		e.log.Debug("periodic validation skipped", zap.Error(err))
	}
}

func (e *Engine) onAdvanceTimer() {
	e.mu.Lock()
	if e.state != StateAdvancing {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.mu.Unlock()

	if err := e.Advance(ctx); err != nil {
		e.log.Debug("scheduled advance skipped", zap.Error(err))
	}
}

// Advance moves to the next step. Advancing from the last step completes the
// session instead of moving past the end.
func (e *Engine) Advance(ctx context.Context) error {
	e.mu.Lock()

	switch e.state {
	case StateNotStarted, StateCompleted:
		state := e.state
		e.mu.Unlock()
		return &StateError{Op: "advance", State: state}
	}
	if e.lesson == nil {
		e.mu.Unlock()
		return &StateError{Op: "advance", Msg: "session is still starting"}
	}

	if e.advanceTimer != nil {
		e.advanceTimer.Stop()
		e.advanceTimer = nil
	}

	if e.session.CurrentStepIndex >= len(e.lesson.Interactions)-1 {
		e.completeLocked(false)
		e.mu.Unlock()
		e.flush(ctx)
		return e.persistCompletion(ctx)
	}

	e.session.CurrentStepIndex++
	idx := e.session.CurrentStepIndex
	e.input = models.StudentInput{}
	e.failures = 0
	e.attempts = nil
	e.state = StateAwaitingInput

	next := e.lesson.Interactions[idx]
	e.emit(models.Feedback{
		Kind:      models.FeedbackStepInstruction,
		StepIndex: idx,
		Message:   fmt.Sprintf("Step %d: %s", idx+1, InstructionText(next, "Follow the next instruction")),
		Speech:    InstructionText(next, "Next step"),
	})
	e.mu.Unlock()
	e.flush(ctx)
	return nil
}

// Complete ends the session and persists the final score.
func (e *Engine) Complete(ctx context.Context) error {
	return e.finish(ctx, "complete", false)
}

// Abort ends the session early with whatever score has accrued.
func (e *Engine) Abort(ctx context.Context) error {
	return e.finish(ctx, "abort", true)
}

func (e *Engine) finish(ctx context.Context, op string, aborted bool) error {
	e.mu.Lock()
	switch e.state {
	case StateNotStarted, StateCompleted:
		state := e.state
		e.mu.Unlock()
		return &StateError{Op: op, State: state}
	}
	if e.lesson == nil {
		e.mu.Unlock()
		return &StateError{Op: op, Msg: "session is still starting"}
	}
	e.completeLocked(aborted)
	e.mu.Unlock()
	e.flush(ctx)
	return e.persistCompletion(ctx)
}

// completeLocked cancels both timers before anything else so no callback can
// touch the session after it ends.
func (e *Engine) completeLocked(aborted bool) {
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
	if e.advanceTimer != nil {
		e.advanceTimer.Stop()
		e.advanceTimer = nil
	}

	e.state = StateCompleted
	percent := e.session.Score.Percent()
	now := e.sched.Now().UTC()
	e.session.Status = models.SessionCompleted
	e.session.FinalScorePercent = &percent
	e.session.CompletedAt = &now

	score := e.session.Score
	e.log.Info("playback completed", zap.Bool("aborted", aborted), zap.Int("final_score_percent", percent),
		zap.Int("correct", score.Correct), zap.Int("total", score.Total))

	msg := fmt.Sprintf("🎉 Lesson completed! Score: %d%%", percent)
	if aborted {
		msg = fmt.Sprintf("Lesson stopped. Score so far: %d%% (%d of %d)", percent, score.Correct, score.Total)
	}
	e.emit(models.Feedback{
		Kind:      models.FeedbackCompleted,
		StepIndex: e.session.CurrentStepIndex,
		Message:   msg,
		Speech:    fmt.Sprintf("Excellent work! You scored %d percent!", percent),
		Score:     &score,
	})
}

// persistCompletion writes the final score. A failure is reported as a warning
// and returned, but the session stays completed.
func (e *Engine) persistCompletion(ctx context.Context) error {
	e.mu.Lock()
	sessionID, persisted := e.session.ID, e.persisted
	score := e.session.Score
	cancel := e.cancel
	e.mu.Unlock()

	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	if !persisted || e.store == nil {
		return nil
	}
	if err := e.store.CompletePlaybackSession(ctx, sessionID, score.Percent(), score.Total, score.Correct); err != nil {
		perr := &PersistenceError{Op: "complete playback session", Err: err}
		e.warn(ctx, sessionID, -1, perr)
		return perr
	}
	return nil
}

func (e *Engine) warn(ctx context.Context, sessionID uuid.UUID, step int, err error) {
	e.log.Warn("persistence failed", zap.Int("step", step), zap.Error(err))
	e.mu.Lock()
	e.outbox = append(e.outbox, models.Feedback{
		Kind:      models.FeedbackWarning,
		SessionID: sessionID,
		StepIndex: step,
		Message:   "Progress could not be saved. You can keep going.",
	})
	e.mu.Unlock()
	e.flush(ctx)
}

// emit stamps the session id on fb and queues it for flush. Callers hold mu.
func (e *Engine) emit(fb models.Feedback) {
	fb.SessionID = e.session.ID
	e.outbox = append(e.outbox, fb)
}

// flush delivers queued feedback in order. Sinks may block on the network, so
// it must be called with mu released.
func (e *Engine) flush(ctx context.Context) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	out := e.outbox
	e.outbox = nil
	e.mu.Unlock()

	for _, fb := range out {
		e.feedback.Emit(ctx, fb)
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Snapshot returns a copy of the session as it stands.
func (e *Engine) Snapshot() models.PlaybackSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	s.History = append([]models.StudentActionRecord(nil), e.session.History...)
	if e.session.FinalScorePercent != nil {
		p := *e.session.FinalScorePercent
		s.FinalScorePercent = &p
	}
	if e.session.CompletedAt != nil {
		t := *e.session.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
