// Package classifier defines the classification contract shared by every
// model backend: the category vocabulary, the result shape and the rules
// used to turn a backend's raw text into a validated Result.
package classifier

import (
	"context"
	"strings"
)

// Category is one of the fixed job-mail classification labels.
type Category string

const (
	Acknowledgement  Category = "acknowledgement"
	Rejection        Category = "rejection"
	FollowupRequired Category = "followup_required"
	JobBoard         Category = "jobboard"
	Unknown          Category = "unknown"
)

// Categories returns the full vocabulary in display order.
func Categories() []Category {
	return []Category{Acknowledgement, Rejection, FollowupRequired, JobBoard, Unknown}
}

// ParseCategory maps s onto the vocabulary. The second return value is false
// when s is not a known category, in which case Unknown is returned.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case Acknowledgement, Rejection, FollowupRequired, JobBoard, Unknown:
		return c, true
	}
	return Unknown, false
}

// Result is the normalized outcome of one classification attempt.
type Result struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Provider   string   `json:"provider"`
	Model      string   `json:"model"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Classifier is implemented by every backend adapter.
type Classifier interface {
	// Classify returns a validated Result for one message. Failures are
	// *ParseError or *ProviderError.
	Classify(ctx context.Context, subject, body string) (Result, error)
	// Name is the backend name recorded with each result.
	Name() string
}
