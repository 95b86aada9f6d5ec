package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// FakeName is the backend name reported by Fake.
const FakeName = "fake"

// keywordRule maps phrases to a category. Rules are checked in order so the
// more specific signals win.
type keywordRule struct {
	category Category
	phrases  []string
}

var fakeRules = []keywordRule{
	{FollowupRequired, []string{"action required", "schedule your", "complete your", "assessment", "interview invitation", "please respond"}},
	{Rejection, []string{"not moving forward", "other candidates", "position has been filled", "unfortunately", "not been selected"}},
	{JobBoard, []string{"new jobs", "job alert", "jobs matching", "recommended jobs", "jobs for you"}},
	{Acknowledgement, []string{"received your application", "thank you for your application", "thanks for applying", "application was sent", "application was viewed"}},
}

// Fake is a deterministic, networkless backend. It answers from keyword
// rules unless a scripted reply is registered for the subject. Replies go
// through ParseResponse so the contract rules apply exactly as for a real
// backend.
type Fake struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []string
}

// NewFake returns a Fake with no scripted replies.
func NewFake() *Fake {
	return &Fake{
		replies: make(map[string]string),
		errs:    make(map[string]error),
	}
}

// Script makes Classify answer raw for messages with the given subject.
func (f *Fake) Script(subject, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[subject] = raw
}

// Fail makes Classify return err for messages with the given subject.
func (f *Fake) Fail(subject string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[subject] = err
}

// Calls returns the subjects classified so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Name implements Classifier.
func (f *Fake) Name() string { return FakeName }

// Classify implements Classifier.
func (f *Fake) Classify(ctx context.Context, subject, body string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &ProviderError{Provider: FakeName, Err: err}
	}

	f.mu.Lock()
	f.calls = append(f.calls, subject)
	raw, scripted := f.replies[subject]
	err := f.errs[subject]
	f.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	if !scripted {
		raw = ruleReply(subject, body)
	}
	return ParseResponse(raw, FakeName, "keyword-rules")
}

// ruleReply answers the way a well-behaved backend would.
func ruleReply(subject, body string) string {
	reply := rawReply{Category: Unknown, Confidence: 0.5, Reasoning: "no rule matched"}
	text := strings.ToLower(subject + "\n" + body)
rules:
	for _, rule := range fakeRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				reply = rawReply{Category: rule.category, Confidence: 0.9, Reasoning: fmt.Sprintf("matched %q", phrase)}
				break rules
			}
		}
	}
	b, _ := json.Marshal(reply)
	return string(b)
}

type rawReply struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}
