package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// VisionProvider sends one frame plus a prompt to a vision model and returns
// the model's raw text. Interpreting that text is the caller's job.
type VisionProvider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Analyze submits the image and prompt and returns the model's reply.
	Analyze(ctx context.Context, params AnalyzeParams) (*AnalysisResponse, error)
}

// AnalyzeParams contains parameters for a single analysis call
type AnalyzeParams struct {
	ImageData    []byte // Raw image bytes
	ContentType  string // MIME type (e.g., "image/jpeg")
	Prompt       string // User prompt sent alongside the image
	SystemPrompt string // Optional system instruction
	MaxTokens    int    // Optional cap on the reply length
}

// AnalysisResponse is the model's raw reply
type AnalysisResponse struct {
	Text  string
	Usage UsageInfo
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration, retries included
}

// DefaultSystemPrompt frames the model as a site safety inspector.
const DefaultSystemPrompt = "你是一个专业的建筑工地安全检查员，负责识别施工现场的各类安全隐患。"

// DefaultMaxTokens is used when AnalyzeParams.MaxTokens is zero.
const DefaultMaxTokens = 4096

// MaxImageSize is the largest frame accepted by any provider (20MB).
const MaxImageSize = 20 * 1024 * 1024

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// WithDefaults fills unset fields.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 1 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidImage indicates the image format or content is invalid
	EAIInvalidImage = errors.New("invalid image format or content")

	// EAIContentPolicy indicates the image violates content policy
	EAIContentPolicy = errors.New("image violates content policy")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the reply carried no text
	EAIEmptyResponse = errors.New("ai provider returned no text")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}

// allowedContentTypes are the image types every provider accepts.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ValidateParams checks the image and prompt before any network call.
func ValidateParams(params AnalyzeParams) error {
	if len(params.ImageData) == 0 {
		return EAIInvalidImage
	}
	if len(params.ImageData) > MaxImageSize {
		return fmt.Errorf("%w: image size %d exceeds maximum %d", EAIInvalidImage, len(params.ImageData), MaxImageSize)
	}
	if params.ContentType == "" {
		return fmt.Errorf("%w: content type is required", EAIInvalidImage)
	}
	if !allowedContentTypes[params.ContentType] {
		return fmt.Errorf("%w: unsupported content type %s", EAIInvalidImage, params.ContentType)
	}
	if params.Prompt == "" {
		return errors.New("prompt is required")
	}
	return nil
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// cfg.MaxRetries attempts have been made. Delays double from
// cfg.RetryBaseDelay. The last error is returned unchanged.
func Do(ctx context.Context, cfg ProviderConfig, logger *slog.Logger, fn func(ctx context.Context) error) error {
	cfg = cfg.WithDefaults()
	backoff := retry.WithMaxRetries(uint64(cfg.MaxRetries-1), retry.NewExponential(cfg.RetryBaseDelay))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt < cfg.MaxRetries {
			logger.Info("Retrying AI request", "attempt", attempt, "error", err)
		}
		return retry.RetryableError(err)
	})
}
