package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/retry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&config.Config{
		AnthropicKey:     "sk-ant-test",
		AnthropicModel:   "claude-3-5-haiku-latest",
		AnthropicBaseURL: srv.URL,
		AITimeout:        5,
	}, zerolog.Nop())
	require.NoError(t, err)
	client.retry = retry.Policy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}
	return client
}

func textReply(text string) string {
	return fmt.Sprintf(`{"id": "msg_1", "type": "message", "role": "assistant", "content": [{"type": "text", "text": %q}], "stop_reason": "end_turn"}`, text)
}

func TestClassify_Success(t *testing.T) {
	var captured apiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = fmt.Fprint(w, textReply("```json\n{\"category\": \"followup_required\", \"confidence\": 0.91}\n```"))
	})

	result, err := client.Classify(context.Background(), "Please schedule your interview", "Pick a slot.")
	require.NoError(t, err)

	assert.Equal(t, classifier.FollowupRequired, result.Category)
	assert.InDelta(t, 0.91, result.Confidence, 1e-9)
	assert.Equal(t, ProviderName, result.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", result.Model)

	assert.Equal(t, defaultMaxTokens, captured.MaxTokens)
	assert.Equal(t, 0.0, captured.Temperature)
	assert.Equal(t, classifier.SystemPrompt, captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Contains(t, captured.Messages[0].Content, "Subject: Please schedule your interview")
}

func TestClassify_JoinsTextBlocks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"content": [{"type": "text", "text": "{\"category\": "}, {"type": "text", "text": "\"jobboard\", \"confidence\": 0.95}"}], "stop_reason": "end_turn"}`)
	})

	result, err := client.Classify(context.Background(), "Job alert", "")
	require.NoError(t, err)
	assert.Equal(t, classifier.JobBoard, result.Category)
}

func TestClassify_StatusHandling(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedCalls int32
	}{
		{"overloaded is retried", 529, 3},
		{"rate limit is retried", http.StatusTooManyRequests, 3},
		{"server error is retried", http.StatusInternalServerError, 3},
		{"bad request fails at once", http.StatusBadRequest, 1},
		{"unauthorized fails at once", http.StatusUnauthorized, 1},
		{"not found fails at once", http.StatusNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprint(w, `{"type": "error", "error": {"type": "some_error", "message": "nope"}}`)
			})

			_, err := client.Classify(context.Background(), "anything", "")

			var providerErr *classifier.ProviderError
			require.True(t, errors.As(err, &providerErr))
			assert.Equal(t, ProviderName, providerErr.Provider)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, "nope", statusErr.Message)
			assert.Equal(t, tt.expectedCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestClassify_RecoversAfterTransientFailure(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprint(w, textReply(`{"category": "rejection", "confidence": 0.9}`))
	})

	result, err := client.Classify(context.Background(), "Update", "")
	require.NoError(t, err)
	assert.Equal(t, classifier.Rejection, result.Category)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClassify_EmptyReplyIsParseError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = fmt.Fprint(w, `{"content": [], "stop_reason": "max_tokens"}`)
	})

	_, err := client.Classify(context.Background(), "anything", "")

	var parseErr *classifier.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.ErrorIs(t, err, classifier.ErrEmptyResponse)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := NewClient(&config.Config{AnthropicKey: "k", AnthropicModel: "m", AnthropicBaseURL: url, AITimeout: 1}, zerolog.Nop())
	require.NoError(t, err)
	client.retry = retry.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond}

	_, err = client.Classify(context.Background(), "anything", "")
	var providerErr *classifier.ProviderError
	assert.True(t, errors.As(err, &providerErr))
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient(&config.Config{AnthropicModel: "m"}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, classifier.IsConfigError(err))
}
