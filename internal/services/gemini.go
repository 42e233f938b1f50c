package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"lessoncoach-backend/internal/lesson"
	"lessoncoach-backend/internal/models"
)

const fallbackHint = "Try looking more carefully at the objects around you and think about what the instruction is asking you to do."

// contentGenerator is the part of *genai.GenerativeModel the classifier uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiClassifier judges camera frames of a learner against the instruction
// of a tap step. It also writes hints for learners who are stuck.
type GeminiClassifier struct {
	client   *genai.Client
	model    contentGenerator
	log      *zap.Logger
	rateChan chan struct{} // Token bucket
}

var (
	_ lesson.FrameClassifier = (*GeminiClassifier)(nil)
	_ lesson.Hinter          = (*GeminiClassifier)(nil)
)

func NewGeminiClassifier(apiKey, modelName string, concurrentReqs int, logger *zap.Logger) (*GeminiClassifier, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.SetTopP(0.95)

	c := newGeminiClassifier(model, concurrentReqs, logger)
	c.client = client
	return c, nil
}

func newGeminiClassifier(model contentGenerator, concurrentReqs int, logger *zap.Logger) *GeminiClassifier {
	if concurrentReqs <= 0 {
		concurrentReqs = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Token bucket for rate limiting
	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiClassifier{
		model:    model,
		log:      logger.Named("gemini"),
		rateChan: rateChan,
	}
}

func (s *GeminiClassifier) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// NeedsFrame is always true: the model judges the camera frame.
func (s *GeminiClassifier) NeedsFrame() bool { return true }

// acquireRate blocks until a rate slot is available
func (s *GeminiClassifier) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Minute):
		return &lesson.ClassificationError{Kind: lesson.ClassificationRateLimited, Err: errors.New("timeout waiting for Gemini rate slot")}
	}
}

func (s *GeminiClassifier) releaseRate() {
	s.rateChan <- struct{}{}
}

// Classify asks the model what the learner is doing in the frame and whether
// it matches the instruction. Unparseable answers go through FallbackAnalysis.
func (s *GeminiClassifier) Classify(ctx context.Context, req lesson.ClassifyRequest) (*models.ClassificationResult, error) {
	if len(req.Image) == 0 {
		return &models.ClassificationResult{
			ObjectsDetected: []string{},
			UserAction:      "no camera frame",
			IsCorrect:       false,
			Feedback:        "I can't see anything yet. Point your camera at what you're doing.",
		}, nil
	}

	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	prompt, err := buildClassifyPrompt(req.Instruction, req.Expected)
	if err != nil {
		return nil, err
	}

	resp, err := s.model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.Blob{MIMEType: mimeType, Data: req.Image},
	)
	if err != nil {
		return nil, classifyError(err)
	}

	text := extractText(resp)
	result, ok := parseClassification(text)
	if !ok {
		s.log.Warn("unparseable classification response, using fallback analysis",
			zap.Int("response_len", len(text)))
		result = FallbackAnalysis(req.Instruction, text)
	}

	s.log.Debug("action classified",
		zap.String("instruction", req.Instruction),
		zap.Bool("correct", result.IsCorrect),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// Hint writes a nudge for a learner stuck on instruction. Model failures
// return a fixed generic hint.
func (s *GeminiClassifier) Hint(ctx context.Context, instruction string, previousAttempts []string) (string, error) {
	if err := s.acquireRate(ctx); err != nil {
		return fallbackHint, nil
	}
	defer s.releaseRate()

	attempts, _ := json.Marshal(previousAttempts)
	prompt := fmt.Sprintf(`A user is struggling with this learning task: %q

Their previous attempts: %s

Provide a helpful, encouraging hint that guides them toward success without giving away the answer completely.
Keep it specific and actionable.

Return just the hint text, no JSON formatting needed.`, instruction, attempts)

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		s.log.Warn("hint generation failed", zap.Error(err))
		return fallbackHint, nil
	}

	hint := strings.TrimSpace(extractText(resp))
	if hint == "" {
		return fallbackHint, nil
	}
	return hint, nil
}

// Ping checks that the API key and model work.
func (s *GeminiClassifier) Ping(ctx context.Context) (string, error) {
	resp, err := s.model.GenerateContent(ctx, genai.Text("Hello, can you respond with 'API test successful'?"))
	if err != nil {
		return "", classifyError(err)
	}
	return strings.TrimSpace(extractText(resp)), nil
}

func buildClassifyPrompt(instruction string, expected models.Interaction) (string, error) {
	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		return "", fmt.Errorf("failed to marshal expected action: %w", err)
	}

	return fmt.Sprintf(`You are an AI tutor analyzing what a user is doing based on mobile camera input.

Current Instruction: %q
Expected Action: %s

Analyze the image and determine:
1. What objects, colors, and shapes are visible?
2. What action is the user performing (touching, pointing, holding, showing)?
3. Does the user's action match the expected action?
4. Provide specific, encouraging feedback.

Focus on:
- Hand gestures and positions
- Object colors (red, blue, yellow, green, etc.)
- Touch interactions (finger touching objects)
- Pointing gestures (finger pointing at objects)
- Holding/showing objects to camera

Respond with ONLY a valid JSON object in this exact format:
{
  "objectsDetected": ["list of objects and colors you see"],
  "userAction": "specific description of what the user is doing",
  "isCorrect": true,
  "feedback": "encouraging and specific feedback message",
  "confidence": 0.8
}

Set isCorrect to true if the user is doing what the instruction asks, false otherwise.
Be encouraging in your feedback and specific about what you observed.
Do not include any text before or after the JSON object.`, instruction, expectedJSON), nil
}

// parseClassification reads the model's JSON answer. It reports false when
// the answer is not JSON or lacks feedback or a boolean isCorrect.
func parseClassification(text string) (*models.ClassificationResult, bool) {
	cleaned := stripCodeFence(text)

	var raw struct {
		ObjectsDetected []string `json:"objectsDetected"`
		UserAction      string   `json:"userAction"`
		IsCorrect       *bool    `json:"isCorrect"`
		Feedback        string   `json:"feedback"`
		Confidence      float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, false
	}
	if raw.Feedback == "" || raw.IsCorrect == nil {
		return nil, false
	}
	if raw.ObjectsDetected == nil {
		raw.ObjectsDetected = []string{}
	}

	return &models.ClassificationResult{
		ObjectsDetected: raw.ObjectsDetected,
		UserAction:      raw.UserAction,
		IsCorrect:       *raw.IsCorrect,
		Feedback:        raw.Feedback,
		Confidence:      raw.Confidence,
	}, true
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// classifyError sorts a model failure into the classification error kinds.
func classifyError(err error) error {
	var ce *lesson.ClassificationError
	if errors.As(err, &ce) {
		return err
	}

	kind := lesson.ClassificationOther
	var gerr *googleapi.Error
	var aerr *apierror.APIError
	switch {
	case errors.As(err, &gerr):
		kind = kindForHTTPStatus(gerr.Code)
	case errors.As(err, &aerr):
		if code := aerr.HTTPCode(); code > 0 {
			kind = kindForHTTPStatus(code)
		} else if st := aerr.GRPCStatus(); st != nil {
			kind = kindForGRPCCode(st.Code())
		}
	}

	if kind == lesson.ClassificationOther {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "404"):
			kind = lesson.ClassificationNotAvailable
		case strings.Contains(msg, "403"):
			kind = lesson.ClassificationAccessDenied
		case strings.Contains(msg, "429"):
			kind = lesson.ClassificationRateLimited
		}
	}
	return &lesson.ClassificationError{Kind: kind, Err: err}
}

func kindForHTTPStatus(code int) lesson.ClassificationKind {
	switch code {
	case 404:
		return lesson.ClassificationNotAvailable
	case 401, 403:
		return lesson.ClassificationAccessDenied
	case 429:
		return lesson.ClassificationRateLimited
	default:
		return lesson.ClassificationOther
	}
}

func kindForGRPCCode(code codes.Code) lesson.ClassificationKind {
	switch code {
	case codes.NotFound:
		return lesson.ClassificationNotAvailable
	case codes.PermissionDenied, codes.Unauthenticated:
		return lesson.ClassificationAccessDenied
	case codes.ResourceExhausted:
		return lesson.ClassificationRateLimited
	default:
		return lesson.ClassificationOther
	}
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
