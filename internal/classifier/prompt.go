package classifier

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultBodyChars bounds how much of a message body is sent to a backend.
const DefaultBodyChars = 2000

const truncationMarker = "\n\n[...]\n\n"

// SystemPrompt is sent with every request to general-purpose chat models.
const SystemPrompt = `Classify the type of a job-application email. Reply with ONLY this JSON object:
{"category": "X", "confidence": Y, "reasoning": "Z"}

category must be exactly one of: acknowledgement, rejection, followup_required, jobboard, unknown

How to decide:
- acknowledgement: about YOUR application (received, sent to the employer, viewed, thanks for applying)
- rejection: your application was declined or the position was filled
- followup_required: you must act (schedule an interview, complete an assessment, reply)
- jobboard: job alerts or several job listings at once
- unknown: spam, newsletters or anything unclear

Examples:
"We received your application" -> {"category": "acknowledgement", "confidence": 0.95, "reasoning": "receipt confirmation"}
"We are moving forward with other candidates" -> {"category": "rejection", "confidence": 0.95, "reasoning": "declined"}
"Please schedule your interview" -> {"category": "followup_required", "confidence": 0.95, "reasoning": "action needed"}
"5 new jobs: Engineer at Acme, Developer at Initech" -> {"category": "jobboard", "confidence": 0.95, "reasoning": "job alert"}
"Cheap watches on sale" -> {"category": "unknown", "confidence": 0.9, "reasoning": "spam"}

Do not extract or list job details. Output only the classification JSON.`

// SmallModelPrompt is a shorter, more literal prompt for small local models
// that tend to start summarizing job listings instead of classifying.
const SmallModelPrompt = `Classify the email TYPE. Output this JSON:
{"category": "X", "confidence": 0.0-1.0, "reasoning": "brief"}

category must be ONE of: acknowledgement, rejection, followup_required, jobboard, unknown

- more than one job listing = jobboard
- "received", "was sent to", "was viewed", "thanks for applying" = acknowledgement
- "not moving forward", "position filled" = rejection
- "schedule", "complete assessment", "action required" = followup_required
- spam or unclear = unknown

"Your application was sent to Acme" is acknowledgement (about YOUR application).
"5 new jobs matching your search" is jobboard (several listings).

Output ONLY the JSON. Do NOT extract job details.`

// UserMessage renders the per-message prompt.
func UserMessage(subject, body string) string {
	return fmt.Sprintf("Subject: %s\nBody: %s\n\nOutput JSON only:", strings.TrimSpace(subject), body)
}

// PrepareBody normalizes body to NFKC and bounds it to maxChars runes.
// Overlong bodies keep their opening and closing parts, joined by a marker,
// since sign-offs often carry the call to action.
func PrepareBody(body string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(strings.TrimSpace(norm.NFKC.String(body)))
	if len(runes) <= maxChars {
		return string(runes)
	}
	head := maxChars * 3 / 4
	tail := maxChars - head
	return string(runes[:head]) + truncationMarker + string(runes[len(runes)-tail:])
}
