package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lessoncoach-backend/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (r *PostgresStore) CreateLesson(ctx context.Context, title, description string, durationMs int64, interactions []models.Interaction, metadata models.RecordingMetadata) (uuid.UUID, error) {
	interactionsJSON, err := encodeInteractions(interactions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal interactions: %w", err)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	_, err = tx.Exec(ctx, `INSERT INTO lessons (id, title, description, duration_ms)
		VALUES ($1, $2, $3, $4)`, id, title, description, durationMs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert lesson: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO lesson_recordings (lesson_id, interactions, interaction_count, metadata)
		VALUES ($1, $2, $3, $4)`, id, interactionsJSON, len(interactions), metadataJSON)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert recording: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit lesson: %w", err)
	}
	return id, nil
}

func (r *PostgresStore) GetLessons(ctx context.Context) ([]models.LessonSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.title, l.description, l.duration_ms, COALESCE(rec.interaction_count, 0), l.created_at
		FROM lessons l
		LEFT JOIN lesson_recordings rec ON rec.lesson_id = l.id
		ORDER BY l.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	lessons := []models.LessonSummary{}
	for rows.Next() {
		var l models.LessonSummary
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.DurationMs, &l.InteractionCount, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

func (r *PostgresStore) GetLesson(ctx context.Context, id uuid.UUID) (*models.Lesson, error) {
	l := &models.Lesson{}
	var interactionsJSON, metadataJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT l.id, l.title, l.description, l.duration_ms, l.created_at,
			rec.id, rec.interactions, rec.metadata
		FROM lessons l
		LEFT JOIN lesson_recordings rec ON rec.lesson_id = l.id
		WHERE l.id = $1`, id).Scan(
		&l.ID, &l.Title, &l.Description, &l.DurationMs, &l.CreatedAt,
		&l.RecordingID, &interactionsJSON, &metadataJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}

	if err := decodeRecording(l, interactionsJSON, metadataJSON); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *PostgresStore) DeleteLesson(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM lessons WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete lesson: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) DeleteRecording(ctx context.Context, lessonID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM lesson_recordings WHERE lesson_id = $1", lessonID)
	if err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) StartPlaybackSession(ctx context.Context, lessonID uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `INSERT INTO playback_sessions (lesson_id, status)
		VALUES ($1, $2) RETURNING id`, lessonID, models.SessionInProgress).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start playback session: %w", err)
	}
	return id, nil
}

func (r *PostgresStore) RecordStudentAction(ctx context.Context, sessionID uuid.UUID, rec models.StudentActionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	expected, err := json.Marshal(rec.ExpectedAction)
	if err != nil {
		return fmt.Errorf("failed to marshal expected action: %w", err)
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO student_actions
		(id, session_id, step_index, expected_action, student_input, is_correct, feedback, timestamp_in_lesson)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, sessionID, rec.StepIndex, expected, rec.StudentInput, rec.IsCorrect, rec.Feedback, rec.TimestampInLesson,
	)
	if err != nil {
		return fmt.Errorf("failed to record student action: %w", err)
	}
	return nil
}

func (r *PostgresStore) CompletePlaybackSession(ctx context.Context, sessionID uuid.UUID, finalScorePercent, total, correct int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE playback_sessions
		SET status = $2, final_score = $3, total_steps = $4, correct_steps = $5, completed_at = NOW()
		WHERE id = $1`,
		sessionID, models.SessionCompleted, finalScorePercent, total, correct,
	)
	if err != nil {
		return fmt.Errorf("failed to complete playback session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStore) GetPlaybackSession(ctx context.Context, id uuid.UUID) (*models.PlaybackSession, error) {
	s := &models.PlaybackSession{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, lesson_id, status, final_score, total_steps, correct_steps, started_at, completed_at
		FROM playback_sessions WHERE id = $1`, id).Scan(
		&s.ID, &s.LessonID, &s.Status, &s.FinalScorePercent, &s.Score.Total, &s.Score.Correct,
		&s.StartedAt, &s.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get playback session: %w", err)
	}

	history, err := r.ListStudentActions(ctx, id)
	if err != nil {
		return nil, err
	}
	s.History = history
	if n := len(history); n > 0 {
		s.CurrentStepIndex = history[n-1].StepIndex
	}
	return s, nil
}

func (r *PostgresStore) ListStudentActions(ctx context.Context, sessionID uuid.UUID) ([]models.StudentActionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, step_index, expected_action, student_input, is_correct, feedback,
			timestamp_in_lesson, created_at
		FROM student_actions
		WHERE session_id = $1
		ORDER BY created_at ASC, step_index ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list student actions: %w", err)
	}
	defer rows.Close()

	actions := []models.StudentActionRecord{}
	for rows.Next() {
		var a models.StudentActionRecord
		var expected []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.StepIndex, &expected, &a.StudentInput, &a.IsCorrect,
			&a.Feedback, &a.TimestampInLesson, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan student action: %w", err)
		}
		if err := json.Unmarshal(expected, &a.ExpectedAction); err != nil {
			return nil, fmt.Errorf("failed to decode expected action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (r *PostgresStore) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresStore) Close() {
	r.pool.Close()
}

// decodeRecording fills the interaction log of l. A lesson whose recording
// was deleted keeps an empty log.
func decodeRecording(l *models.Lesson, interactionsJSON, metadataJSON []byte) error {
	l.Interactions = []models.Interaction{}
	if len(interactionsJSON) > 0 {
		if err := json.Unmarshal(interactionsJSON, &l.Interactions); err != nil {
			return fmt.Errorf("failed to decode interactions: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &l.Metadata); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return nil
}
