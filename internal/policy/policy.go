// Package policy maps a classification onto the mailbox action to take.
package policy

import "jobmail/internal/classifier"

// DefaultThreshold is the minimum confidence for any action.
const DefaultThreshold = 0.8

// Action is what the processing loop does to a message. The zero value is
// NoAction.
type Action struct {
	Label   string `json:"label,omitempty"`
	Archive bool   `json:"archive"`
}

// NoAction leaves the message untouched.
var NoAction = Action{}

// IsNone reports whether the action changes nothing.
func (a Action) IsNone() bool {
	return a.Label == "" && !a.Archive
}

// Labels holds the mailbox label name used for each actionable category.
type Labels struct {
	Acknowledged string
	Rejected     string
	FollowUp     string
	JobBoard     string
}

// DefaultLabels returns the stock label names.
func DefaultLabels() Labels {
	return Labels{
		Acknowledged: "Acknowledged",
		Rejected:     "Rejected",
		FollowUp:     "FollowUp",
		JobBoard:     "JobBoard",
	}
}

// Decide returns the action for a classification. Anything below threshold
// and every unknown result yields NoAction. Follow-ups are labeled but stay
// in the inbox.
func (l Labels) Decide(category classifier.Category, confidence, threshold float64) Action {
	if confidence < threshold {
		return NoAction
	}

	switch category {
	case classifier.Acknowledgement:
		return Action{Label: l.Acknowledged, Archive: true}
	case classifier.Rejection:
		return Action{Label: l.Rejected, Archive: true}
	case classifier.FollowupRequired:
		return Action{Label: l.FollowUp}
	case classifier.JobBoard:
		return Action{Label: l.JobBoard, Archive: true}
	default:
		return NoAction
	}
}

// Decide applies the default labels.
func Decide(category classifier.Category, confidence, threshold float64) Action {
	return DefaultLabels().Decide(category, confidence, threshold)
}
