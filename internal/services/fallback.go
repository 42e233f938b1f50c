package services

import (
	"fmt"
	"strings"

	"lessoncoach-backend/internal/models"
)

const fallbackConfidence = 0.6

var knownColors = []string{"red", "blue", "yellow", "green", "white", "black", "orange", "purple", "pink"}

// FallbackAnalysis derives a verdict from free text when the model did not
// answer with the expected JSON: the first color and action words named in
// the text must match those in the instruction.
func FallbackAnalysis(instruction, text string) *models.ClassificationResult {
	textLower := strings.ToLower(text)
	instructionLower := strings.ToLower(instruction)

	detectedColor := firstColor(textLower)
	expectedColor := firstColor(instructionLower)

	hasTouch := containsAny(textLower, "touch", "finger", "hand")
	hasPoint := containsAny(textLower, "point")
	hasHold := containsAny(textLower, "hold", "showing")

	expectedTouch := strings.Contains(instructionLower, "touch")
	expectedPoint := strings.Contains(instructionLower, "point")
	expectedHold := containsAny(instructionLower, "hold", "show")

	colorMatch := detectedColor == expectedColor
	actionMatch := (expectedTouch && hasTouch) || (expectedPoint && hasPoint) || (expectedHold && hasHold)
	isCorrect := colorMatch && actionMatch

	var doing, doingNoun string
	switch {
	case hasTouch:
		doing, doingNoun = "touching", "touching"
	case hasPoint:
		doing, doingNoun = "pointing to", "pointing"
	default:
		doing, doingNoun = "showing", "showing"
	}

	var todo, todoShort string
	switch {
	case expectedTouch:
		todo, todoShort = "touching it with your finger", "touch it"
	case expectedPoint:
		todo, todoShort = "pointing to it", "point to it"
	default:
		todo, todoShort = "holding it up", "hold it up"
	}

	var feedback string
	switch {
	case isCorrect:
		feedback = fmt.Sprintf("Great job! I can see you're %s the %s object correctly!", doing, detectedColor)
	case colorMatch:
		feedback = fmt.Sprintf("I see the %s object, but try %s as instructed.", detectedColor, todo)
	case actionMatch:
		feedback = fmt.Sprintf("Good %s action! Now try to find the %s object instead.", doingNoun, expectedColor)
	default:
		feedback = fmt.Sprintf("I can see you're trying! Look for the %s object and %s as instructed.", expectedColor, todoShort)
	}

	action := "showing"
	switch {
	case hasTouch:
		action = "touching"
	case hasPoint:
		action = "pointing to"
	case hasHold:
		action = "holding"
	}
	object := detectedColor
	objects := []string{detectedColor}
	if detectedColor == "" {
		object = "an object"
		objects = []string{"various objects"}
	}

	return &models.ClassificationResult{
		ObjectsDetected: objects,
		UserAction:      action + " " + object,
		IsCorrect:       isCorrect,
		Feedback:        feedback,
		Confidence:      fallbackConfidence,
	}
}

func firstColor(s string) string {
	for _, c := range knownColors {
		if strings.Contains(s, c) {
			return c
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
