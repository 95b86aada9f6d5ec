// Package mailbox holds the provider-neutral message and search types shared
// by the processing loop and mailbox clients.
package mailbox

import (
	"strings"
	"time"
)

// Message is a read-only view of one mailbox message.
type Message struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	// Body is plain text; HTML-only messages are down-converted.
	Body   string
	Labels []string
}

// Query selects candidate messages.
type Query struct {
	// Raw is a provider search expression such as "in:inbox".
	Raw string
	// After and Before bound the received date; zero means unbounded.
	After  time.Time
	Before time.Time
}

const dateLayout = "2006/01/02"

// String renders the query in Gmail search syntax.
func (q Query) String() string {
	parts := make([]string, 0, 3)
	if raw := strings.TrimSpace(q.Raw); raw != "" {
		parts = append(parts, raw)
	}
	if !q.After.IsZero() {
		parts = append(parts, "after:"+q.After.Format(dateLayout))
	}
	if !q.Before.IsZero() {
		parts = append(parts, "before:"+q.Before.Format(dateLayout))
	}
	return strings.Join(parts, " ")
}

// ParseDate reads a YYYY-MM-DD or YYYY/MM/DD command-line date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, s)
}
