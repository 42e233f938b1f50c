package services

import (
	"context"
	"math/rand"
	"sync"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/models"
)

// StubTapClassifier approves a tap with a fixed probability. It stands in for
// the vision model when no API key is configured.
type StubTapClassifier struct {
	mu   sync.Mutex
	rng  *rand.Rand
	rate float64
}

var _ lesson.Classifier = (*StubTapClassifier)(nil)

func NewStubTapClassifier(approvalRate float64, rng *rand.Rand) *StubTapClassifier {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if approvalRate < 0 {
		approvalRate = 0
	}
	if approvalRate > 1 {
		approvalRate = 1
	}
	return &StubTapClassifier{rng: rng, rate: approvalRate}
}

func (c *StubTapClassifier) Classify(ctx context.Context, req lesson.ClassifyRequest) (*models.ClassificationResult, error) {
	c.mu.Lock()
	ok := c.rng.Float64() < c.rate
	c.mu.Unlock()

	feedback := "Try tapping the correct area"
	if ok {
		feedback = "Perfect tap!"
	}
	return &models.ClassificationResult{
		ObjectsDetected: []string{},
		UserAction:      "tap",
		IsCorrect:       ok,
		Feedback:        feedback,
		Confidence:      c.rate,
	}, nil
}
