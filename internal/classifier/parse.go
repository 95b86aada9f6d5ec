package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseResponse validates a backend's raw text output and builds a Result.
//
// A reply that is empty or not a JSON object yields a *ParseError. A reply
// that parses but carries a missing or unrecognized category is coerced to
// Unknown; a missing confidence becomes 0 and an out-of-range one is clamped
// into [0,1].
func ParseResponse(raw, provider, model string) (Result, error) {
	text := stripCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return Result{}, &ParseError{Provider: provider, Raw: raw, Err: ErrEmptyResponse}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Result{}, &ParseError{Provider: provider, Raw: raw, Err: err}
	}
	if fields == nil {
		return Result{}, &ParseError{Provider: provider, Raw: raw, Err: fmt.Errorf("response is not an object")}
	}

	category := Unknown
	if rawCategory, ok := fields["category"]; ok {
		var s string
		if err := json.Unmarshal(rawCategory, &s); err == nil {
			category, _ = ParseCategory(s)
		}
	}

	var reasoning string
	if rawReasoning, ok := fields["reasoning"]; ok {
		_ = json.Unmarshal(rawReasoning, &reasoning)
	}

	return Result{
		Category:   category,
		Confidence: ClampConfidence(readConfidence(fields["confidence"])),
		Provider:   provider,
		Model:      model,
		Reasoning:  strings.TrimSpace(reasoning),
	}, nil
}

// ClampConfidence forces c into the closed interval [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// readConfidence accepts a JSON number or a numeric string; anything else
// counts as absent.
func readConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

// stripCodeFence unwraps ```json ... ``` or ``` ... ``` blocks that chat
// models like to add around JSON.
func stripCodeFence(text string) string {
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+len("```"):]
	} else {
		return text
	}
	if j := strings.Index(text, "```"); j >= 0 {
		text = text[:j]
	}
	return strings.TrimSpace(text)
}
