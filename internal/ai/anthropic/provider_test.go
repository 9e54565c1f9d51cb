package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal/ai"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			RequestTimeout: 5 * time.Second,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

var frame = ai.AnalyzeParams{
	ImageData:   []byte{0xff, 0xd8, 0xff, 0xe0},
	ContentType: "image/jpeg",
	Prompt:      "describe the crane",
}

func TestAnalyze_SendsImageAndPrompt(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req apiRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, DefaultModel, req.Model)
		assert.Equal(t, ai.DefaultSystemPrompt, req.System)
		if !assert.Len(t, req.Messages, 1) || !assert.Len(t, req.Messages[0].Content, 2) {
			return
		}
		assert.Equal(t, "image", req.Messages[0].Content[0].Type)
		assert.Equal(t, "image/jpeg", req.Messages[0].Content[0].Source.MediaType)
		assert.Equal(t, "describe the crane", req.Messages[0].Content[1].Text)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"content":[{"type":"text","text":"{\"ok\":"},{"type":"text","text":"true}"}],"usage":{"input_tokens":12,"output_tokens":3}}`)
	})

	resp, err := p.Analyze(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestAnalyze_RetriesTransientErrors(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body, "retried requests must carry the full body")
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"content":[{"type":"text","text":"done"}]}`)
	})

	resp, err := p.Analyze(context.Background(), frame)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{}`, ai.EAIUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `{}`, ai.EAIRateLimit},
		{"overloaded", 529, `{}`, ai.EAIUnavailable},
		{"bad image", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"Could not process image"}}`, ai.EAIInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := p.Analyze(context.Background(), frame)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAnalyze_EmptyReply(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[]}`)
	})
	_, err := p.Analyze(context.Background(), frame)
	assert.ErrorIs(t, err, ai.EAIEmptyResponse)
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
