package lesson

import (
	"context"
	"testing"
	"time"

	"lessoncoach-backend/internal/models"
)

func newTestRecorder() (*Recorder, *ManualScheduler, *FeedbackRecorder) {
	sched := NewManualScheduler(testEpoch)
	fb := &FeedbackRecorder{}
	return NewRecorder(RecorderConfig{Scheduler: sched, Feedback: fb}), sched, fb
}

func TestRecorder_StartRequiresTitle(t *testing.T) {
	for _, title := range []string{"", "   "} {
		r, _, _ := newTestRecorder()
		if err := r.Start(context.Background(), title, "desc"); !IsValidation(err) {
			t.Fatalf("Start(%q) error = %v, want ValidationError", title, err)
		}
		if r.Active() {
			t.Fatalf("recorder active after rejected start")
		}
	}
}

func TestRecorder_LogOutsideRecordingIsNoop(t *testing.T) {
	r, _, fb := newTestRecorder()
	ctx := context.Background()

	r.LogInteraction(ctx, models.InteractionTap, models.InteractionData{Instruction: "Tap"})
	if n := len(r.Interactions()); n != 0 {
		t.Fatalf("interactions before start = %d, want 0", n)
	}

	if err := r.Start(ctx, "Colors", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	r.LogInteraction(ctx, models.InteractionTap, models.InteractionData{Instruction: "Tap"})
	if n := len(r.Interactions()); n != 0 {
		t.Fatalf("interactions after stop = %d, want 0", n)
	}

	for _, k := range fb.Kinds() {
		if k == models.FeedbackInteractionLogged {
			t.Fatalf("interaction_logged emitted outside a recording")
		}
	}
}

func TestRecorder_RecordsTimestampsAndEndMarker(t *testing.T) {
	r, sched, fb := newTestRecorder()
	ctx := context.Background()

	if err := r.Start(ctx, "  Colors  ", "Name colors"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(ctx, "Again", ""); !IsState(err) {
		t.Fatalf("second Start() error = %v, want StateError", err)
	}

	sched.Advance(1500 * time.Millisecond)
	r.LogInteraction(ctx, models.InteractionInstruction, models.InteractionData{Instruction: "Look around"})

	sched.Advance(2 * time.Second)
	if got := r.Elapsed(); got != 3*time.Second {
		t.Fatalf("Elapsed() = %v, want 3s (last tick)", got)
	}
	r.LogInteraction(ctx, models.InteractionInput, models.InteractionData{Value: "red", Instruction: "Type the color"})

	r.SetActiveAction("Touch something red")
	sched.Advance(500 * time.Millisecond)
	r.LogInteraction(ctx, models.InteractionTap, models.InteractionData{Instruction: "tap at 10,20"})

	lesson, err := r.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if lesson.Title != "Colors" || lesson.Description != "Name colors" {
		t.Errorf("title/description = %q/%q", lesson.Title, lesson.Description)
	}
	if lesson.DurationMs != 4000 {
		t.Errorf("DurationMs = %d, want 4000", lesson.DurationMs)
	}

	got := lesson.Interactions
	if len(got) != 4 {
		t.Fatalf("interactions = %d, want 4", len(got))
	}
	wantTimestamps := []int64{1500, 3500, 4000, 4000}
	for i, ts := range wantTimestamps {
		if got[i].Timestamp != ts {
			t.Errorf("interaction[%d].Timestamp = %d, want %d", i, got[i].Timestamp, ts)
		}
	}
	if got[2].Data.Instruction != "Touch something red" {
		t.Errorf("active action not applied: %q", got[2].Data.Instruction)
	}
	end := got[3]
	if end.Type != models.InteractionInstruction || end.Data.Value != "Lesson ended" || end.Data.Instruction != "End of lesson recording" {
		t.Errorf("end marker = %+v", end)
	}

	if lesson.Metadata.TotalInteractions != 4 || lesson.Metadata.Platform != "mobile" || lesson.Metadata.Version != "1.0" {
		t.Errorf("metadata = %+v", lesson.Metadata)
	}
	if sched.Pending() != 0 {
		t.Errorf("ticker still scheduled after stop")
	}

	kinds := fb.Kinds()
	if kinds[0] != models.FeedbackRecordingStarted || kinds[len(kinds)-1] != models.FeedbackRecordingStopped {
		t.Errorf("feedback kinds = %v", kinds)
	}

	if _, err := r.Stop(ctx); !IsState(err) {
		t.Fatalf("second Stop() error = %v, want StateError", err)
	}
}

func TestRecorder_ImmediateStop(t *testing.T) {
	r, _, _ := newTestRecorder()
	ctx := context.Background()

	if err := r.Start(ctx, "Quick", ""); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lesson, err := r.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(lesson.Interactions) != 1 || lesson.Interactions[0].Timestamp != 0 {
		t.Fatalf("interactions = %+v, want only the end marker at 0", lesson.Interactions)
	}
}
