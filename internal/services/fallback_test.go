package services

import "testing"

func TestFallbackAnalysis(t *testing.T) {
	tests := []struct {
		name         string
		instruction  string
		text         string
		wantCorrect  bool
		wantAction   string
		wantFeedback string
	}{
		{
			name:         "color and action match",
			instruction:  "Touch something red",
			text:         "A hand touching a red mug",
			wantCorrect:  true,
			wantAction:   "touching red",
			wantFeedback: "Great job! I can see you're touching the red object correctly!",
		},
		{
			name:         "color matches, action does not",
			instruction:  "Point at the blue book",
			text:         "There is a blue book on the table",
			wantAction:   "showing blue",
			wantFeedback: "I see the blue object, but try pointing to it as instructed.",
		},
		{
			name:         "action matches, color does not",
			instruction:  "Hold up something yellow",
			text:         "The user is holding a green leaf",
			wantAction:   "holding green",
			wantFeedback: "Good showing action! Now try to find the yellow object instead.",
		},
		{
			name:         "nothing matches",
			instruction:  "Touch the orange",
			text:         "An empty room",
			wantAction:   "showing an object",
			wantFeedback: "I can see you're trying! Look for the orange object and touch it as instructed.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FallbackAnalysis(tc.instruction, tc.text)
			if got.IsCorrect != tc.wantCorrect {
				t.Errorf("IsCorrect = %v, want %v", got.IsCorrect, tc.wantCorrect)
			}
			if got.UserAction != tc.wantAction {
				t.Errorf("UserAction = %q, want %q", got.UserAction, tc.wantAction)
			}
			if got.Feedback != tc.wantFeedback {
				t.Errorf("Feedback = %q, want %q", got.Feedback, tc.wantFeedback)
			}
			if got.Confidence != fallbackConfidence {
				t.Errorf("Confidence = %v, want %v", got.Confidence, fallbackConfidence)
			}
		})
	}
}
