package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/models"
)

type fakeGenerator struct {
	text  string
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(f.text)}}},
		},
	}, nil
}

func tapRequest(instruction string) lesson.ClassifyRequest {
	return lesson.ClassifyRequest{
		Image:       []byte{0xff, 0xd8},
		MIMEType:    "image/jpeg",
		Instruction: instruction,
		Expected:    models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: instruction}},
	}
}

func TestGeminiClassifier_ParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n{\"objectsDetected\":[\"red apple\"],\"userAction\":\"touching the apple\",\"isCorrect\":true,\"feedback\":\"Nice, that's the red apple!\",\"confidence\":0.9}\n```"}
	c := newGeminiClassifier(gen, 2, nil)

	got, err := c.Classify(context.Background(), tapRequest("Touch something red"))
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !got.IsCorrect || got.Feedback != "Nice, that's the red apple!" || got.Confidence != 0.9 {
		t.Fatalf("result = %+v", got)
	}
	if len(got.ObjectsDetected) != 1 || got.ObjectsDetected[0] != "red apple" {
		t.Fatalf("objects = %v", got.ObjectsDetected)
	}

	if len(gen.parts) != 2 {
		t.Fatalf("parts sent = %d, want prompt and image", len(gen.parts))
	}
	prompt, ok := gen.parts[0].(genai.Text)
	if !ok || !strings.Contains(string(prompt), `"Touch something red"`) {
		t.Fatalf("prompt does not carry the instruction: %v", gen.parts[0])
	}
	if blob, ok := gen.parts[1].(genai.Blob); !ok || blob.MIMEType != "image/jpeg" {
		t.Fatalf("image part = %#v", gen.parts[1])
	}
}

func TestGeminiClassifier_FallsBackOnProse(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		wantOK bool
	}{
		{"prose with matching action", "The user is touching a red ball with a finger.", true},
		{"missing isCorrect", `{"feedback":"looks good"}`, true},
		{"prose with wrong color", "The user is touching a blue cup.", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newGeminiClassifier(&fakeGenerator{text: tc.text}, 1, nil)
			got, err := c.Classify(context.Background(), tapRequest("Touch something red"))
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if got.Confidence != fallbackConfidence {
				t.Fatalf("confidence = %v, want fallback %v", got.Confidence, fallbackConfidence)
			}
			if tc.name == "missing isCorrect" {
				// no color or action words in the text
				if got.IsCorrect {
					t.Fatalf("expected incorrect verdict, got %+v", got)
				}
				return
			}
			if got.IsCorrect != tc.wantOK {
				t.Fatalf("IsCorrect = %v, want %v (%+v)", got.IsCorrect, tc.wantOK, got)
			}
		})
	}
}

func TestGeminiClassifier_NoImage(t *testing.T) {
	gen := &fakeGenerator{}
	c := newGeminiClassifier(gen, 1, nil)

	req := tapRequest("Touch something red")
	req.Image = nil
	got, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got.IsCorrect {
		t.Fatal("a missing frame must not be approved")
	}
	if gen.parts != nil {
		t.Fatal("model called without an image")
	}

	tap := models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: "Touch something red"}}
	if !lesson.NewValidator(c).NeedsFrame(tap) {
		t.Fatal("validator does not know the classifier needs a frame")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want lesson.ClassificationKind
	}{
		{"googleapi 404", &googleapi.Error{Code: 404}, lesson.ClassificationNotAvailable},
		{"googleapi 403", &googleapi.Error{Code: 403}, lesson.ClassificationAccessDenied},
		{"googleapi 429", &googleapi.Error{Code: 429}, lesson.ClassificationRateLimited},
		{"wrapped googleapi", fmt.Errorf("generate: %w", &googleapi.Error{Code: 429}), lesson.ClassificationRateLimited},
		{"message 403", errors.New("rpc error: 403 permission denied"), lesson.ClassificationAccessDenied},
		{"message 404", errors.New("models/foo is not found: 404"), lesson.ClassificationNotAvailable},
		{"other", errors.New("connection reset"), lesson.ClassificationOther},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var ce *lesson.ClassificationError
			if !errors.As(classifyError(tc.err), &ce) {
				t.Fatalf("classifyError() did not return a ClassificationError")
			}
			if ce.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", ce.Kind, tc.want)
			}
			if !errors.Is(ce, tc.err) {
				t.Fatalf("cause not wrapped")
			}
		})
	}
}

func TestGeminiClassifier_ErrorIsClassified(t *testing.T) {
	c := newGeminiClassifier(&fakeGenerator{err: &googleapi.Error{Code: 429}}, 1, nil)
	_, err := c.Classify(context.Background(), tapRequest("Touch something red"))

	var ce *lesson.ClassificationError
	if !errors.As(err, &ce) || ce.Kind != lesson.ClassificationRateLimited {
		t.Fatalf("Classify() error = %v, want rate limited", err)
	}
}

func TestGeminiClassifier_Hint(t *testing.T) {
	gen := &fakeGenerator{text: "  Look for something the color of a fire truck.  "}
	c := newGeminiClassifier(gen, 1, nil)

	hint, err := c.Hint(context.Background(), "Touch something red", []string{"blue", "green"})
	if err != nil {
		t.Fatalf("Hint() error = %v", err)
	}
	if hint != "Look for something the color of a fire truck." {
		t.Fatalf("hint = %q", hint)
	}
	prompt := string(gen.parts[0].(genai.Text))
	if !strings.Contains(prompt, `["blue","green"]`) {
		t.Fatalf("prompt missing attempts: %s", prompt)
	}

	failing := newGeminiClassifier(&fakeGenerator{err: errors.New("boom")}, 1, nil)
	hint, err = failing.Hint(context.Background(), "Touch something red", nil)
	if err != nil || hint != fallbackHint {
		t.Fatalf("Hint() on failure = %q, %v; want fallback hint", hint, err)
	}
}

func TestGeminiClassifier_RateSlotRespectsContext(t *testing.T) {
	c := newGeminiClassifier(&fakeGenerator{text: "{}"}, 1, nil)
	if err := c.acquireRate(context.Background()); err != nil {
		t.Fatalf("acquireRate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, tapRequest("Touch")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Classify() with no free slot error = %v, want context.Canceled", err)
	}

	c.releaseRate()
	if _, err := c.Classify(context.Background(), tapRequest("Touch")); err != nil {
		t.Fatalf("Classify() after release error = %v", err)
	}
}
