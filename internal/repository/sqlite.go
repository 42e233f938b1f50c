package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lessoncoach-backend/internal/models"
)

// SQLiteStore keeps everything in a single SQLite file. Timestamps are stored
// as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS lessons (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lesson_recordings (
			id TEXT PRIMARY KEY,
			lesson_id TEXT NOT NULL UNIQUE,
			interactions TEXT NOT NULL,
			interaction_count INTEGER NOT NULL DEFAULT 0,
			metadata TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS playback_sessions (
			id TEXT PRIMARY KEY,
			lesson_id TEXT NOT NULL,
			status TEXT NOT NULL,
			final_score INTEGER,
			total_steps INTEGER NOT NULL DEFAULT 0,
			correct_steps INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS student_actions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			expected_action TEXT NOT NULL,
			student_input TEXT NOT NULL DEFAULT '',
			is_correct INTEGER NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			timestamp_in_lesson INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_created_at ON lessons(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_playback_sessions_lesson ON playback_sessions(lesson_id)`,
		`CREATE INDEX IF NOT EXISTS idx_student_actions_session ON student_actions(session_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) CreateLesson(ctx context.Context, title, description string, durationMs int64, interactions []models.Interaction, metadata models.RecordingMetadata) (uuid.UUID, error) {
	interactionsJSON, err := encodeInteractions(interactions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal interactions: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New()
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `INSERT INTO lessons (id, title, description, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)`, id.String(), title, description, durationMs, now); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert lesson: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO lesson_recordings (id, lesson_id, interactions, interaction_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), id.String(), string(interactionsJSON), len(interactions), string(metadataJSON), now); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert recording: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit lesson: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetLessons(ctx context.Context) ([]models.LessonSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.title, l.description, l.duration_ms, COALESCE(rec.interaction_count, 0), l.created_at
		FROM lessons l
		LEFT JOIN lesson_recordings rec ON rec.lesson_id = l.id
		ORDER BY l.created_at DESC, l.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	lessons := []models.LessonSummary{}
	for rows.Next() {
		var l models.LessonSummary
		var id string
		var createdAt int64
		if err := rows.Scan(&id, &l.Title, &l.Description, &l.DurationMs, &l.InteractionCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		if l.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid lesson id %q: %w", id, err)
		}
		l.CreatedAt = time.UnixMilli(createdAt).UTC()
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

func (s *SQLiteStore) GetLesson(ctx context.Context, id uuid.UUID) (*models.Lesson, error) {
	l := &models.Lesson{ID: id}
	var createdAt int64
	var recordingID, interactionsJSON, metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT l.title, l.description, l.duration_ms, l.created_at,
			rec.id, rec.interactions, rec.metadata
		FROM lessons l
		LEFT JOIN lesson_recordings rec ON rec.lesson_id = l.id
		WHERE l.id = ?`, id.String()).Scan(
		&l.Title, &l.Description, &l.DurationMs, &createdAt,
		&recordingID, &interactionsJSON, &metadataJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	l.CreatedAt = time.UnixMilli(createdAt).UTC()

	if recordingID.Valid {
		rid, err := uuid.Parse(recordingID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid recording id %q: %w", recordingID.String, err)
		}
		l.RecordingID = &rid
	}
	if err := decodeRecording(l, []byte(interactionsJSON.String), []byte(metadataJSON.String)); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteStore) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM lessons WHERE id = ?", id.String())
	if err != nil {
		return fmt.Errorf("failed to delete lesson: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	cascade := []string{
		`DELETE FROM student_actions WHERE session_id IN (SELECT id FROM playback_sessions WHERE lesson_id = ?)`,
		`DELETE FROM playback_sessions WHERE lesson_id = ?`,
		`DELETE FROM lesson_recordings WHERE lesson_id = ?`,
	}
	for _, stmt := range cascade {
		if _, err := tx.ExecContext(ctx, stmt, id.String()); err != nil {
			return fmt.Errorf("failed to delete lesson data: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteRecording(ctx context.Context, lessonID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM lesson_recordings WHERE lesson_id = ?", lessonID.String())
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) StartPlaybackSession(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `INSERT INTO playback_sessions (id, lesson_id, status, started_at)
		VALUES (?, ?, ?, ?)`, id.String(), lessonID.String(), string(models.SessionInProgress), time.Now().UnixMilli())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start playback session: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) RecordStudentAction(ctx context.Context, sessionID uuid.UUID, rec models.StudentActionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	expected, err := json.Marshal(rec.ExpectedAction)
	if err != nil {
		return fmt.Errorf("failed to marshal expected action: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	isCorrect := 0
	if rec.IsCorrect {
		isCorrect = 1
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO student_actions
		(id, session_id, step_index, expected_action, student_input, is_correct, feedback, timestamp_in_lesson, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), sessionID.String(), rec.StepIndex, string(expected), rec.StudentInput, isCorrect,
		rec.Feedback, rec.TimestampInLesson, createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record student action: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CompletePlaybackSession(ctx context.Context, sessionID uuid.UUID, finalScorePercent, total, correct int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE playback_sessions
		SET status = ?, final_score = ?, total_steps = ?, correct_steps = ?, completed_at = ?
		WHERE id = ?`,
		string(models.SessionCompleted), finalScorePercent, total, correct, time.Now().UnixMilli(), sessionID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete playback session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetPlaybackSession(ctx context.Context, id uuid.UUID) (*models.PlaybackSession, error) {
	ps := &models.PlaybackSession{ID: id}
	var lessonID, status string
	var finalScore, completedAt sql.NullInt64
	var startedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT lesson_id, status, final_score, total_steps, correct_steps, started_at, completed_at
		FROM playback_sessions WHERE id = ?`, id.String()).Scan(
		&lessonID, &status, &finalScore, &ps.Score.Total, &ps.Score.Correct, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playback session: %w", err)
	}

	if ps.LessonID, err = uuid.Parse(lessonID); err != nil {
		return nil, fmt.Errorf("invalid lesson id %q: %w", lessonID, err)
	}
	ps.Status = models.SessionStatus(status)
	ps.StartedAt = time.UnixMilli(startedAt).UTC()
	if finalScore.Valid {
		p := int(finalScore.Int64)
		ps.FinalScorePercent = &p
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		ps.CompletedAt = &t
	}

	history, err := s.ListStudentActions(ctx, id)
	if err != nil {
		return nil, err
	}
	ps.History = history
	if n := len(history); n > 0 {
		ps.CurrentStepIndex = history[n-1].StepIndex
	}
	return ps, nil
}

func (s *SQLiteStore) ListStudentActions(ctx context.Context, sessionID uuid.UUID) ([]models.StudentActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, step_index, expected_action, student_input, is_correct, feedback, timestamp_in_lesson, created_at
		FROM student_actions
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`, sessionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list student actions: %w", err)
	}
	defer rows.Close()

	actions := []models.StudentActionRecord{}
	for rows.Next() {
		a := models.StudentActionRecord{SessionID: sessionID}
		var id, expected string
		var isCorrect int
		var createdAt int64
		if err := rows.Scan(&id, &a.StepIndex, &expected, &a.StudentInput, &isCorrect, &a.Feedback,
			&a.TimestampInLesson, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan student action: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid action id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(expected), &a.ExpectedAction); err != nil {
			return nil, fmt.Errorf("failed to decode expected action: %w", err)
		}
		a.IsCorrect = isCorrect != 0
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}
