package models

// ClassificationResult is the judgment returned by the vision classifier.
// Field names match the JSON the model is asked to produce.
type ClassificationResult struct {
	ObjectsDetected []string `json:"objectsDetected"`
	UserAction      string   `json:"userAction"`
	IsCorrect       bool     `json:"isCorrect"`
	Feedback        string   `json:"feedback"`
	Confidence      float64  `json:"confidence"`
}
