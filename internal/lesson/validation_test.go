package lesson

import (
	"context"
	"errors"
	"testing"

	"lessoncoach-backend/internal/models"
)

func TestMatchInput(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		got      string
		want     bool
	}{
		{name: "exact", expected: "red", got: "red", want: true},
		{name: "learner text contains expected", expected: "red", got: "the red ball", want: true},
		{name: "expected contains learner text", expected: "the red ball", got: "red", want: true},
		{name: "case and space ignored", expected: "RED", got: "  red ", want: true},
		{name: "different word", expected: "red", got: "blue", want: false},
		{name: "empty learner text", expected: "red", got: "", want: false},
		{name: "whitespace learner text", expected: "red", got: "   ", want: false},
		{name: "empty expected", expected: "", got: "anything", want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchInput(tc.expected, tc.got); got != tc.want {
				t.Fatalf("MatchInput(%q, %q) = %v, want %v", tc.expected, tc.got, got, tc.want)
			}
		})
	}
}

type stubClassifier struct {
	result *models.ClassificationResult
	err    error
	last   ClassifyRequest
}

func (c *stubClassifier) Classify(ctx context.Context, req ClassifyRequest) (*models.ClassificationResult, error) {
	c.last = req
	return c.result, c.err
}

func TestValidator_Validate(t *testing.T) {
	tap := models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: "Touch something red"}}

	tests := []struct {
		name         string
		classifier   Classifier
		expected     models.Interaction
		input        models.StudentInput
		wantCorrect  bool
		wantFeedback string
		wantErrKind  *ClassificationKind
	}{
		{
			name:         "instruction always passes",
			expected:     models.Interaction{Type: models.InteractionInstruction},
			wantCorrect:  true,
			wantFeedback: "Continue following the instructions",
		},
		{
			name:         "unknown type passes",
			expected:     models.Interaction{Type: "swipe"},
			wantCorrect:  true,
			wantFeedback: "Continue following the instructions",
		},
		{
			name:         "input match",
			expected:     models.Interaction{Type: models.InteractionInput, Data: models.InteractionData{Value: "Red"}},
			input:        models.StudentInput{Text: "The red ball"},
			wantCorrect:  true,
			wantFeedback: `Great! You typed "the red ball" correctly!`,
		},
		{
			name:         "input mismatch",
			expected:     models.Interaction{Type: models.InteractionInput, Data: models.InteractionData{Value: "Red"}},
			input:        models.StudentInput{Text: "blue"},
			wantFeedback: `Try typing "red"`,
		},
		{
			name:         "tap classifier verdict",
			classifier:   &stubClassifier{result: &models.ClassificationResult{IsCorrect: true, Feedback: "You touched a red apple"}},
			expected:     tap,
			input:        models.StudentInput{Image: []byte{1, 2, 3}, ImageMIME: "image/jpeg"},
			wantCorrect:  true,
			wantFeedback: "You touched a red apple",
		},
		{
			name:         "tap default feedback",
			classifier:   &stubClassifier{result: &models.ClassificationResult{IsCorrect: false}},
			expected:     tap,
			wantFeedback: "Try tapping the correct area",
		},
		{
			name:         "tap without classifier",
			expected:     tap,
			wantFeedback: ClassificationMessage(ClassificationNotAvailable),
			wantErrKind:  kindPtr(ClassificationNotAvailable),
		},
		{
			name:         "tap rate limited",
			classifier:   &stubClassifier{err: &ClassificationError{Kind: ClassificationRateLimited, Err: errors.New("429")}},
			expected:     tap,
			wantFeedback: ClassificationMessage(ClassificationRateLimited),
			wantErrKind:  kindPtr(ClassificationRateLimited),
		},
		{
			name:         "tap generic failure",
			classifier:   &stubClassifier{err: errors.New("boom")},
			expected:     tap,
			wantFeedback: ClassificationMessage(ClassificationOther),
			wantErrKind:  kindPtr(ClassificationOther),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewValidator(tc.classifier)
			got := v.Validate(context.Background(), tc.expected, tc.input)

			if got.Correct != tc.wantCorrect {
				t.Errorf("Correct = %v, want %v", got.Correct, tc.wantCorrect)
			}
			if got.Feedback != tc.wantFeedback {
				t.Errorf("Feedback = %q, want %q", got.Feedback, tc.wantFeedback)
			}

			if tc.wantErrKind == nil {
				if got.ClassifierErr != nil {
					t.Errorf("ClassifierErr = %v, want nil", got.ClassifierErr)
				}
				return
			}
			var ce *ClassificationError
			if !errors.As(got.ClassifierErr, &ce) {
				t.Fatalf("ClassifierErr = %v, want ClassificationError", got.ClassifierErr)
			}
			if ce.Kind != *tc.wantErrKind {
				t.Errorf("kind = %s, want %s", ce.Kind, *tc.wantErrKind)
			}
		})
	}
}

func TestValidator_TapForwardsInstructionAndImage(t *testing.T) {
	c := &stubClassifier{result: &models.ClassificationResult{IsCorrect: true}}
	v := NewValidator(c)

	expected := models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: "Point at the door"}}
	v.Validate(context.Background(), expected, models.StudentInput{Image: []byte("img"), ImageMIME: "image/png"})

	if c.last.Instruction != "Point at the door" {
		t.Errorf("instruction = %q", c.last.Instruction)
	}
	if string(c.last.Image) != "img" || c.last.MIMEType != "image/png" {
		t.Errorf("image not forwarded: %+v", c.last)
	}
}

type frameClassifier struct {
	stubClassifier
}

func (frameClassifier) NeedsFrame() bool { return true }

func TestValidator_TapWithoutFrameIsUnjudged(t *testing.T) {
	c := &frameClassifier{stubClassifier{result: &models.ClassificationResult{IsCorrect: true}}}
	v := NewValidator(c)
	tap := models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: "Touch something red"}}

	if !v.NeedsFrame(tap) {
		t.Fatal("NeedsFrame(tap) = false")
	}
	if v.NeedsFrame(models.Interaction{Type: models.InteractionInput}) {
		t.Fatal("NeedsFrame(input) = true")
	}
	if NewValidator(&stubClassifier{}).NeedsFrame(tap) {
		t.Fatal("a classifier without frames should not need one")
	}

	got := v.Validate(context.Background(), tap, models.StudentInput{})
	if !got.Inconclusive() || got.Correct {
		t.Fatalf("verdict = %+v, want unjudged", got)
	}
	if c.last.Expected.Type != "" {
		t.Fatal("classifier called without a frame")
	}
}

func TestStepOf(t *testing.T) {
	cases := []struct {
		in   models.Interaction
		want Step
	}{
		{models.Interaction{Type: models.InteractionInstruction, Data: models.InteractionData{Instruction: "Wave"}}, InstructionStep{Text: "Wave"}},
		{models.Interaction{Type: models.InteractionInput, Data: models.InteractionData{Value: "hi", Instruction: "Say hi"}}, InputStep{Value: "hi", Instruction: "Say hi"}},
		{models.Interaction{Type: models.InteractionTap, Data: models.InteractionData{Instruction: "Tap"}}, TapStep{Instruction: "Tap"}},
		{models.Interaction{Type: "drag"}, UnknownStep{Type: "drag"}},
	}
	for _, c := range cases {
		if got := StepOf(c.in); got != c.want {
			t.Errorf("StepOf(%s) = %#v, want %#v", c.in.Type, got, c.want)
		}
	}
}

func kindPtr(k ClassificationKind) *ClassificationKind { return &k }
