package mock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/sitewatch/internal/ai"
)

// DefaultReply satisfies both the hazard and the scene state schema: no
// hazards, an idle crane and one supervisor on site.
const DefaultReply = "```json\n" + `{
  "existing_hazards": [],
  "new_hazards": [],
  "voice_warnings": [],
  "crane": {"presence": true, "position": "site centre", "status": "idle", "confidence": 0.9,
            "features": {"model": "tower crane", "color": "yellow", "boom_state": "retracted", "boom_direction": "north", "boom_angle": "0"}},
  "personnel": [{"position": "near gate", "helmet_color": "red", "role": "manager", "behavior": "inspecting", "distance_to_crane": "far"}],
  "safety_status": {"has_supervisor": true, "has_crane_supervisor": false, "risk_level": "low", "issues": []},
  "state_analysis": {"continuous_operation": false, "operation_description": "crane parked", "personnel_changes": "none"}
}` + "\n```"

// Provider is a mock vision provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Replies are returned in order, one per call; once exhausted the last
	// one repeats. An empty list means DefaultReply.
	Replies []string

	// Error, when set, fails every call.
	Error error

	// Delay simulates provider latency. It honours ctx cancellation.
	Delay time.Duration

	calls      int
	lastParams ai.AnalyzeParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

func (p *Provider) Name() string { return "mock" }

// Analyze returns the next canned reply
func (p *Provider) Analyze(ctx context.Context, params ai.AnalyzeParams) (*ai.AnalysisResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.lastParams = params
	reply := DefaultReply
	if len(p.Replies) > 0 {
		i := n - 1
		if i >= len(p.Replies) {
			i = len(p.Replies) - 1
		}
		reply = p.Replies[i]
	}
	failure := p.Error
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}
	if err := ai.ValidateParams(params); err != nil {
		return nil, ai.WrapError("analyze", err)
	}

	p.logger.Debug("mock provider reply", "call", n, "bytes", len(reply))

	return &ai.AnalysisResponse{
		Text: reply,
		Usage: ai.UsageInfo{
			Model:        "mock",
			InputTokens:  len(params.Prompt) / 4,
			OutputTokens: len(reply) / 4,
			Duration:     delay,
		},
	}, nil
}

// Calls reports how many times Analyze was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastParams returns the parameters of the most recent call.
func (p *Provider) LastParams() ai.AnalyzeParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastParams
}
