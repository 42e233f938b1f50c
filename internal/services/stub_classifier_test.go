package services

import (
	"context"
	"math/rand"
	"testing"

	"lessoncoach-backend/internal/lesson"
)

func TestStubTapClassifier_ApprovalRate(t *testing.T) {
	c := NewStubTapClassifier(0.7, rand.New(rand.NewSource(42)))

	approved := 0
	const n = 2000
	for i := 0; i < n; i++ {
		res, err := c.Classify(context.Background(), lesson.ClassifyRequest{})
		if err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
		if res.IsCorrect {
			approved++
			if res.Feedback != "Perfect tap!" {
				t.Fatalf("approved feedback = %q", res.Feedback)
			}
		} else if res.Feedback != "Try tapping the correct area" {
			t.Fatalf("rejected feedback = %q", res.Feedback)
		}
	}

	ratio := float64(approved) / n
	if ratio < 0.65 || ratio > 0.75 {
		t.Fatalf("approval ratio = %.3f, want about 0.7", ratio)
	}
}

func TestStubTapClassifier_Extremes(t *testing.T) {
	always := NewStubTapClassifier(1, rand.New(rand.NewSource(1)))
	never := NewStubTapClassifier(0, rand.New(rand.NewSource(1)))

	for i := 0; i < 50; i++ {
		if res, _ := always.Classify(context.Background(), lesson.ClassifyRequest{}); !res.IsCorrect {
			t.Fatal("rate 1 rejected a tap")
		}
		if res, _ := never.Classify(context.Background(), lesson.ClassifyRequest{}); res.IsCorrect {
			t.Fatal("rate 0 approved a tap")
		}
	}
}
