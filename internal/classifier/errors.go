package classifier

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse is wrapped by a ParseError when a backend returned
// successfully but without any content, usually because its output budget
// was too small.
var ErrEmptyResponse = errors.New("empty response")

// ParseError reports a backend reply that could not be read as a
// classification object. It is never retried by the adapter.
type ParseError struct {
	Provider string
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unparseable classification response: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderError reports a backend that stayed unreachable or kept failing
// after retries were exhausted.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: classification request failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ConfigError reports missing or invalid setup. It is fatal for a run and is
// raised before any mailbox work starts.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is or wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
