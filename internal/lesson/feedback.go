package lesson

import (
	"context"
	"sync"

	"lessoncoach-backend/internal/models"
)

// FeedbackSink receives status strings and spoken announcements as the
// recorder and engine move between states.
type FeedbackSink interface {
	Emit(ctx context.Context, fb models.Feedback)
}

type FeedbackFunc func(ctx context.Context, fb models.Feedback)

func (f FeedbackFunc) Emit(ctx context.Context, fb models.Feedback) { f(ctx, fb) }

type discardFeedback struct{}

func (discardFeedback) Emit(context.Context, models.Feedback) {}

// MultiFeedback fans each event out to every sink in order.
type MultiFeedback []FeedbackSink

func (m MultiFeedback) Emit(ctx context.Context, fb models.Feedback) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, fb)
		}
	}
}

// FeedbackRecorder keeps every emitted event in memory.
type FeedbackRecorder struct {
	mu     sync.Mutex
	events []models.Feedback
}

func (r *FeedbackRecorder) Emit(_ context.Context, fb models.Feedback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fb)
}

func (r *FeedbackRecorder) Events() []models.Feedback {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Feedback, len(r.events))
	copy(out, r.events)
	return out
}

func (r *FeedbackRecorder) Kinds() []models.FeedbackKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]models.FeedbackKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}
