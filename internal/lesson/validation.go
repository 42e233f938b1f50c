package lesson

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lessoncoach-backend/internal/models"
)

// Step is the typed view of a recorded interaction. The concrete types are
// InstructionStep, InputStep, TapStep and UnknownStep.
type Step interface {
	isStep()
}

type InstructionStep struct {
	Text string
}

type InputStep struct {
	Value       string
	Instruction string
}

type TapStep struct {
	Instruction string
}

// UnknownStep carries an interaction type this build does not know about.
type UnknownStep struct {
	Type models.InteractionType
	Data models.InteractionData
}

func (InstructionStep) isStep() {}
func (InputStep) isStep()       {}
func (TapStep) isStep()         {}
func (UnknownStep) isStep()     {}

func StepOf(i models.Interaction) Step {
	switch i.Type {
	case models.InteractionInstruction:
		return InstructionStep{Text: i.Data.Instruction}
	case models.InteractionInput:
		return InputStep{Value: i.Data.Value, Instruction: i.Data.Instruction}
	case models.InteractionTap:
		return TapStep{Instruction: i.Data.Instruction}
	default:
		return UnknownStep{Type: i.Type, Data: i.Data}
	}
}

// InstructionText is the human-readable prompt for an interaction, or fallback
// when none was recorded.
func InstructionText(i models.Interaction, fallback string) string {
	if s := strings.TrimSpace(i.Data.Instruction); s != "" {
		return s
	}
	return fallback
}

// ClassifyRequest is what the action classifier is asked to judge.
type ClassifyRequest struct {
	Image       []byte
	MIMEType    string
	Instruction string
	Expected    models.Interaction
}

// Classifier judges a camera-observed learner action.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (*models.ClassificationResult, error)
}

// FrameClassifier is implemented by classifiers that look at the camera frame
// and cannot rule on a tap without one.
type FrameClassifier interface {
	Classifier
	NeedsFrame() bool
}

const noFrameFeedback = "I can't see anything yet. Point your camera at what you're doing."

// Verdict is the outcome of validating one learner attempt.
type Verdict struct {
	Correct  bool
	Feedback string
	// Result is set when a classifier produced the verdict.
	Result *models.ClassificationResult
	// ClassifierErr is the classifier failure the verdict fell back from.
	ClassifierErr error
	// Unjudged is set when there was nothing to rule on yet.
	Unjudged bool
}

// Inconclusive reports whether the attempt got no ruling at all. Such an
// attempt must not count toward the score.
func (v Verdict) Inconclusive() bool {
	return v.Unjudged || v.ClassifierErr != nil
}

// Validator picks the comparison for a step by its interaction type.
type Validator struct {
	classifier Classifier
}

func NewValidator(classifier Classifier) *Validator {
	return &Validator{classifier: classifier}
}

func (v *Validator) Validate(ctx context.Context, expected models.Interaction, input models.StudentInput) Verdict {
	switch step := StepOf(expected).(type) {
	case InputStep:
		return validateInput(step, input.Text)
	case TapStep:
		return v.validateTap(ctx, step, expected, input)
	case InstructionStep, UnknownStep:
		return Verdict{Correct: true, Feedback: "Continue following the instructions"}
	default:
		panic(fmt.Sprintf("lesson: unhandled step type %T", step))
	}
}

// NeedsFrame reports whether judging expected requires a camera frame.
func (v *Validator) NeedsFrame(expected models.Interaction) bool {
	if _, ok := StepOf(expected).(TapStep); !ok {
		return false
	}
	fc, ok := v.classifier.(FrameClassifier)
	return ok && fc.NeedsFrame()
}

func validateInput(step InputStep, text string) Verdict {
	if MatchInput(step.Value, text) {
		return Verdict{
			Correct:  true,
			Feedback: fmt.Sprintf("Great! You typed %q correctly!", normalize(text)),
		}
	}
	return Verdict{
		Correct:  false,
		Feedback: fmt.Sprintf("Try typing %q", normalize(step.Value)),
	}
}

// MatchInput reports whether the learner's text contains the expected text or
// the other way round, ignoring case and surrounding space. Empty learner text
// never matches, while an empty expected value accepts any non-empty text.
func MatchInput(expected, got string) bool {
	e, g := normalize(expected), normalize(got)
	if g == "" {
		return false
	}
	return strings.Contains(g, e) || strings.Contains(e, g)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (v *Validator) validateTap(ctx context.Context, step TapStep, expected models.Interaction, input models.StudentInput) Verdict {
	if v.classifier == nil {
		err := &ClassificationError{Kind: ClassificationNotAvailable, Err: errors.New("no classifier configured")}
		return Verdict{Feedback: ClassificationMessage(err.Kind), ClassifierErr: err}
	}
	if len(input.Image) == 0 && v.NeedsFrame(expected) {
		return Verdict{Feedback: noFrameFeedback, Unjudged: true}
	}

	result, err := v.classifier.Classify(ctx, ClassifyRequest{
		Image:       input.Image,
		MIMEType:    input.ImageMIME,
		Instruction: step.Instruction,
		Expected:    expected,
	})
	if err != nil {
		var ce *ClassificationError
		if !errors.As(err, &ce) {
			ce = &ClassificationError{Kind: ClassificationOther, Err: err}
		}
		return Verdict{Feedback: ClassificationMessage(ce.Kind), ClassifierErr: ce}
	}

	feedback := result.Feedback
	if feedback == "" {
		if result.IsCorrect {
			feedback = "Perfect tap!"
		} else {
			feedback = "Try tapping the correct area"
		}
	}
	return Verdict{Correct: result.IsCorrect, Feedback: feedback, Result: result}
}
