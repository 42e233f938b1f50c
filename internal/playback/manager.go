package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/models"
	"lessoncoach-backend/internal/repository"
)

var (
	ErrSessionNotFound   = errors.New("playback session not found")
	ErrRecordingNotFound = errors.New("recording not found")
)

const (
	DefaultSessionTTL      = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

type Config struct {
	Store      repository.Store
	Classifier lesson.Classifier
	Hinter     lesson.Hinter
	// Feedback receives the events of every recording and session.
	Feedback  lesson.FeedbackSink
	Scheduler lesson.Scheduler
	Logger    *zap.Logger

	RecordingTick      time.Duration
	ValidationInterval time.Duration
	AdvanceDelay       time.Duration
	HintAfterFailures  int
	SessionTTL         time.Duration
	CleanupInterval    time.Duration
}

// SessionView is a playback session as reported to clients.
type SessionView struct {
	Session  models.PlaybackSession `json:"session"`
	State    string                 `json:"state"`
	Feedback []models.Feedback      `json:"feedback"`
}

type activeRecording struct {
	recorder  *lesson.Recorder
	startedAt time.Time
}

type activeSession struct {
	engine   *lesson.Engine
	feedback *lesson.FeedbackRecorder
}

// Manager owns the recorders and playback engines running in this process.
type Manager struct {
	cfg       Config
	store     repository.Store
	validator *lesson.Validator
	sched     lesson.Scheduler
	log       *zap.Logger

	mu         sync.Mutex
	recordings map[uuid.UUID]*activeRecording
	sessions   map[uuid.UUID]*activeSession

	stopOnce sync.Once
	stopChan chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.Scheduler == nil {
		cfg.Scheduler = lesson.NewScheduler()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	return &Manager{
		cfg:        cfg,
		store:      cfg.Store,
		validator:  lesson.NewValidator(cfg.Classifier),
		sched:      cfg.Scheduler,
		log:        cfg.Logger.Named("playback"),
		recordings: make(map[uuid.UUID]*activeRecording),
		sessions:   make(map[uuid.UUID]*activeSession),
		stopChan:   make(chan struct{}),
	}
}

// Start runs the cleanup loop until Stop is called.
func (m *Manager) Start() {
	go m.cleanupLoop()
	m.log.Info("session manager started", zap.Duration("session_ttl", m.cfg.SessionTTL))
}

// Stop ends the cleanup loop and aborts every session still in progress so
// partial scores are saved.
func (m *Manager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	var engines []*lesson.Engine
	for _, s := range m.sessions {
		engines = append(engines, s.engine)
	}
	for id, r := range m.recordings {
		r.recorder.Stop(ctx)
		delete(m.recordings, id)
	}
	m.mu.Unlock()

	for _, e := range engines {
		if e.State() != lesson.StateCompleted {
			if err := e.Abort(ctx); err != nil {
				m.log.Warn("abort on shutdown failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.cleanup(context.Background())
		}
	}
}

// cleanup drops completed sessions older than the TTL and aborts sessions or
// recordings that were abandoned for longer than that.
func (m *Manager) cleanup(ctx context.Context) {
	cutoff := m.sched.Now().Add(-m.cfg.SessionTTL)

	var stale []*lesson.Engine
	m.mu.Lock()
	for id, s := range m.sessions {
		snap := s.engine.Snapshot()
		switch {
		case snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff):
			delete(m.sessions, id)
		case snap.CompletedAt == nil && snap.StartedAt.Before(cutoff):
			stale = append(stale, s.engine)
		}
	}
	for id, r := range m.recordings {
		if r.startedAt.Before(cutoff) {
			r.recorder.Stop(ctx)
			delete(m.recordings, id)
			m.log.Info("abandoned recording discarded", zap.String("recording_id", id.String()))
		}
	}
	m.mu.Unlock()

	for _, e := range stale {
		if err := e.Abort(ctx); err != nil && !lesson.IsState(err) {
			m.log.Warn("failed to abort stale session", zap.Error(err))
		}
	}
}

// ──── Recording ────

func (m *Manager) StartRecording(ctx context.Context, title, description string) (uuid.UUID, error) {
	r := lesson.NewRecorder(lesson.RecorderConfig{
		Scheduler: m.sched,
		Feedback:  m.cfg.Feedback,
		Logger:    m.log,
		Tick:      m.cfg.RecordingTick,
	})
	if err := r.Start(ctx, title, description); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	m.recordings[r.ID()] = &activeRecording{recorder: r, startedAt: m.sched.Now()}
	m.mu.Unlock()
	return r.ID(), nil
}

func (m *Manager) recording(id uuid.UUID) (*lesson.Recorder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recordings[id]
	if !ok {
		return nil, ErrRecordingNotFound
	}
	return r.recorder, nil
}

func (m *Manager) LogInteraction(ctx context.Context, recordingID uuid.UUID, typ models.InteractionType, data models.InteractionData) (int, error) {
	r, err := m.recording(recordingID)
	if err != nil {
		return 0, err
	}
	r.LogInteraction(ctx, typ, data)
	return len(r.Interactions()), nil
}

func (m *Manager) SetActiveAction(recordingID uuid.UUID, label string) error {
	r, err := m.recording(recordingID)
	if err != nil {
		return err
	}
	r.SetActiveAction(label)
	return nil
}

// StopRecording freezes the recording and saves it as a new lesson.
func (m *Manager) StopRecording(ctx context.Context, recordingID uuid.UUID) (*models.Lesson, error) {
	m.mu.Lock()
	r, ok := m.recordings[recordingID]
	if ok {
		delete(m.recordings, recordingID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrRecordingNotFound
	}

	l, err := r.recorder.Stop(ctx)
	if err != nil {
		return nil, err
	}

	id, err := m.store.CreateLesson(ctx, l.Title, l.Description, l.DurationMs, l.Interactions, l.Metadata)
	if err != nil {
		return nil, &lesson.PersistenceError{Op: "create lesson", Err: err}
	}
	l.ID = id
	l.CreatedAt = m.sched.Now().UTC()

	m.log.Info("lesson saved", zap.String("lesson_id", id.String()), zap.Int("interactions", len(l.Interactions)))
	return l, nil
}

// ──── Lessons ────

func (m *Manager) Lessons(ctx context.Context) ([]models.LessonSummary, error) {
	lessons, err := m.store.GetLessons(ctx)
	if err != nil {
		return nil, &lesson.PersistenceError{Op: "list lessons", Err: err}
	}
	return lessons, nil
}

func (m *Manager) Lesson(ctx context.Context, id uuid.UUID) (*models.Lesson, error) {
	l, err := m.store.GetLesson(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, &lesson.PersistenceError{Op: "get lesson", Err: err}
	}
	return l, nil
}

func (m *Manager) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	if err := m.store.DeleteLesson(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return &lesson.PersistenceError{Op: "delete lesson", Err: err}
	}
	return nil
}

func (m *Manager) DeleteRecording(ctx context.Context, lessonID uuid.UUID) error {
	if err := m.store.DeleteRecording(ctx, lessonID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return &lesson.PersistenceError{Op: "delete recording", Err: err}
	}
	return nil
}

// ──── Playback ────

// StartPlayback loads the lesson and starts a new engine on it.
func (m *Manager) StartPlayback(ctx context.Context, lessonID uuid.UUID) (SessionView, error) {
	l, err := m.Lesson(ctx, lessonID)
	if err != nil {
		return SessionView{}, err
	}

	recorder := &lesson.FeedbackRecorder{}
	var sink lesson.FeedbackSink = recorder
	if m.cfg.Feedback != nil {
		sink = lesson.MultiFeedback{recorder, m.cfg.Feedback}
	}

	engine := lesson.NewEngine(lesson.EngineConfig{
		Store:              m.store,
		Validator:          m.validator,
		Scheduler:          m.sched,
		Feedback:           sink,
		Logger:             m.log,
		Hinter:             m.cfg.Hinter,
		ValidationInterval: m.cfg.ValidationInterval,
		AdvanceDelay:       m.cfg.AdvanceDelay,
		HintAfterFailures:  m.cfg.HintAfterFailures,
	})
	// The engine outlives the request that started it.
	if err := engine.Start(context.WithoutCancel(ctx), l); err != nil && !lesson.IsPersistence(err) {
		return SessionView{}, err
	}

	s := &activeSession{engine: engine, feedback: recorder}
	id := engine.Snapshot().ID

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s.view(), nil
}

func (s *activeSession) view() SessionView {
	return SessionView{
		Session:  s.engine.Snapshot(),
		State:    s.engine.State().String(),
		Feedback: s.feedback.Events(),
	}
}

func (m *Manager) session(id uuid.UUID) (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Session reports a running session, or the persisted record of one that
// has already been cleaned up.
func (m *Manager) Session(ctx context.Context, id uuid.UUID) (SessionView, error) {
	if s, err := m.session(id); err == nil {
		return s.view(), nil
	}

	ps, err := m.store.GetPlaybackSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SessionView{}, ErrSessionNotFound
		}
		return SessionView{}, &lesson.PersistenceError{Op: "get playback session", Err: err}
	}
	state := lesson.StateCompleted.String()
	if ps.Status != models.SessionCompleted {
		// Left over from a process that stopped mid-lesson.
		state = string(ps.Status)
	}
	return SessionView{Session: *ps, State: state, Feedback: []models.Feedback{}}, nil
}

func (m *Manager) UpdateInput(id uuid.UUID, input models.StudentInput) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.engine.UpdateInput(input)
}

func (m *Manager) Validate(ctx context.Context, id uuid.UUID, input models.StudentInput) (SessionView, error) {
	s, err := m.session(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.engine.Validate(context.WithoutCancel(ctx), input); err != nil {
		return SessionView{}, err
	}
	return s.view(), nil
}

func (m *Manager) Abort(ctx context.Context, id uuid.UUID) (SessionView, error) {
	s, err := m.session(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := s.engine.Abort(context.WithoutCancel(ctx)); err != nil && !lesson.IsPersistence(err) {
		return SessionView{}, err
	}
	return s.view(), nil
}

// Actions returns the persisted attempts of a session, oldest first.
func (m *Manager) Actions(ctx context.Context, id uuid.UUID) ([]models.StudentActionRecord, error) {
	actions, err := m.store.ListStudentActions(ctx, id)
	if err != nil {
		return nil, &lesson.PersistenceError{Op: "list student actions", Err: err}
	}
	return actions, nil
}

// HasSession reports whether the session is running in this process.
func (m *Manager) HasSession(id uuid.UUID) bool {
	_, err := m.session(id)
	return err == nil
}
