// Package openai implements ai.VisionProvider against OpenAI-compatible chat
// completion endpoints. StepFun and Zhipu expose the same request shape
// under their own base URLs.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/sitewatch/internal/ai"
	"github.com/DukeRupert/sitewatch/internal/metrics"
)

const (
	// DefaultBaseURL is StepFun's OpenAI-compatible endpoint
	DefaultBaseURL = "https://api.stepfun.com/v1"

	// DefaultModel is StepFun's vision model
	DefaultModel = "step-1v-8k"

	providerName = "openai"
)

// Config contains configuration for the OpenAI-compatible provider
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.VisionProvider over /chat/completions
type Provider struct {
	config   Config
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a new OpenAI-compatible provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	config.ProviderConfig = config.ProviderConfig.WithDefaults()

	return &Provider{
		config:   config,
		endpoint: strings.TrimRight(config.BaseURL, "/") + "/chat/completions",
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger.With("provider", providerName, "model", config.Model),
	}, nil
}

func (p *Provider) Name() string { return providerName }

// Analyze sends the frame as a data URI alongside the prompt.
func (p *Provider) Analyze(ctx context.Context, params ai.AnalyzeParams) (*ai.AnalysisResponse, error) {
	startTime := time.Now()

	if err := ai.ValidateParams(params); err != nil {
		return nil, ai.WrapError("analyze", err)
	}

	body, err := p.buildRequestBody(params)
	if err != nil {
		return nil, ai.WrapError("build request", err)
	}

	var resp *chatResponse
	err = ai.Do(ctx, p.config.ProviderConfig, p.logger, func(ctx context.Context) error {
		r, err := p.executeRequest(ctx, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	duration := time.Since(startTime)
	if err != nil {
		metrics.ProviderCall(providerName, "error", duration)
		return nil, ai.WrapError("execute request", err)
	}
	metrics.ProviderCall(providerName, "success", duration)
	metrics.ProviderTokens(providerName, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, ai.WrapError("parse response", ai.EAIEmptyResponse)
	}
	text, err := resp.Choices[0].Message.text()
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	return &ai.AnalysisResponse{
		Text: text,
		Usage: ai.UsageInfo{
			Model:        p.config.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     duration,
		},
	}, nil
}

func (p *Provider) buildRequestBody(params ai.AnalyzeParams) ([]byte, error) {
	system := params.SystemPrompt
	if system == "" {
		system = ai.DefaultSystemPrompt
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = ai.DefaultMaxTokens
	}

	dataURI := "data:" + params.ContentType + ";base64," + base64.StdEncoding.EncodeToString(params.ImageData)

	reqBody := chatRequest{
		Model:     p.config.Model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: params.Prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI}},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return bodyBytes, nil
}

func (p *Provider) executeRequest(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ai.EAITimeout
		}
		return nil, fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ai.EAIUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, bodyBytes)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(bodyBytes, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// mapHTTPError maps HTTP status codes to provider errors
func mapHTTPError(statusCode int, body []byte) error {
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		if errResp.Error.Code == "content_filter" || errResp.Error.Code == "content_policy_violation" {
			return ai.EAIContentPolicy
		}
		if strings.Contains(strings.ToLower(errResp.Error.Message), "image") {
			return ai.EAIInvalidImage
		}
		return fmt.Errorf("bad request: %s", errResp.Error.Message)
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ai.EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", statusCode, errResp.Error.Message)
	}
}

// API request/response types

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

// chatMessage content is either a string or a list of parts.
type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	Message      replyMessage `json:"message"`
	FinishReason string       `json:"finish_reason"`
}

type replyMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// text returns the reply content. Some compatible servers send an object
// instead of a string; it is passed through as JSON text.
func (m replyMessage) text() (string, error) {
	raw := bytes.TrimSpace(m.Content)
	if len(raw) == 0 || string(raw) == "null" {
		return "", ai.EAIEmptyResponse
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return "", ai.EAIEmptyResponse
		}
		return s, nil
	}
	return string(raw), nil
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
