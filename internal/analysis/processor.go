// Package analysis runs one camera frame through the whole pipeline: prompt,
// vision provider, parser, hazard reconciliation, scene state and alerts.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/DukeRupert/sitewatch/internal/ai"
	"github.com/DukeRupert/sitewatch/internal/alert"
	"github.com/DukeRupert/sitewatch/internal/catalog"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/metrics"
	"github.com/DukeRupert/sitewatch/internal/parser"
	"github.com/DukeRupert/sitewatch/internal/prompt"
	"github.com/DukeRupert/sitewatch/internal/service"
	"github.com/DukeRupert/sitewatch/internal/tracker"
)

// Frame result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// publishTimeout bounds alert delivery, which runs even if the caller has
// gone away.
const publishTimeout = 5 * time.Second

// FrameRequest is one camera frame to analyze for hazards.
type FrameRequest struct {
	CameraID string

	// SceneID optionally names the scene whose equipment state should be
	// tracked from this frame as well.
	SceneID string

	Image       []byte
	ContentType string
}

// SceneFrameRequest is one frame analyzed only for equipment and personnel
// state.
type SceneFrameRequest struct {
	SceneID     string
	Image       []byte
	ContentType string
}

// Issue is a hazard update that could not be applied.
type Issue struct {
	HazardID string `json:"hazard_id,omitempty"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// FrameResult is what every caller receives: a success summary or a typed
// failure with a readable message. Lists are never nil.
type FrameResult struct {
	Status  string `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	UpdatedHazards  []string            `json:"updated_hazards"`
	ResolvedHazards []string            `json:"resolved_hazards"`
	NewHazards      []string            `json:"new_hazards"`
	Alerts          []domain.Alert      `json:"alerts"`
	Issues          []Issue             `json:"issues"`
	Observation     *domain.Observation `json:"observation,omitempty"`
}

func newResult() FrameResult {
	return FrameResult{
		Status:          StatusSuccess,
		UpdatedHazards:  []string{},
		ResolvedHazards: []string{},
		NewHazards:      []string{},
		Alerts:          []domain.Alert{},
		Issues:          []Issue{},
	}
}

func (r *FrameResult) fail(err error) {
	r.Status = StatusError
	r.Kind = domain.ErrorCode(err)
	r.Message = domain.ErrorMessage(err)
}

// Config tunes the Processor.
type Config struct {
	HistoryWindow         int
	RequestTimeout        time.Duration
	MaxTokens             int
	PersistMaxRetries     int
	PersistRetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = prompt.DefaultHistoryWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = ai.DefaultMaxTokens
	}
	if c.PersistMaxRetries < 0 {
		c.PersistMaxRetries = 0
	}
	if c.PersistRetryBaseDelay <= 0 {
		c.PersistRetryBaseDelay = 100 * time.Millisecond
	}
	return c
}

// Deps are the collaborators a Processor drives.
type Deps struct {
	Cameras    *catalog.CameraDirectory
	Scenes     *catalog.SceneCatalog
	Provider   ai.VisionProvider
	Normalizer service.FrameNormalizer
	Hazards    service.HazardService
	Reconciler *service.Reconciler
	Tracker    *tracker.Tracker
	Emitter    *alert.Emitter
	Publisher  alert.Publisher
}

// Processor analyzes frames. It is safe for concurrent use; frames for the
// same scene are serialized by the tracker's scene lock.
type Processor struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// NewProcessor creates a Processor. A nil Publisher discards alerts.
func NewProcessor(deps Deps, cfg Config, logger *slog.Logger) *Processor {
	if deps.Publisher == nil {
		deps.Publisher = alert.NopPublisher{}
	}
	if deps.Emitter == nil {
		deps.Emitter = alert.NewEmitter(logger)
	}
	return &Processor{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "frame_processor"),
	}
}

// =============================================================================
// Camera frames
// =============================================================================

// AnalyzeCameraFrame checks a frame against the scenes its camera monitors
// and applies the verdict to the hazard store. Nothing is written unless the
// model output parsed completely and ctx is still live.
func (p *Processor) AnalyzeCameraFrame(ctx context.Context, req FrameRequest) FrameResult {
	const op = "analysis.camera_frame"

	start := time.Now()
	result := newResult()
	logger := p.logger.With("camera_id", req.CameraID, "scene_id", req.SceneID)

	err := p.analyzeCameraFrame(ctx, op, req, &result, logger)
	if err != nil {
		result.fail(err)
		logger.Warn("frame analysis failed",
			"kind", result.Kind,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		logger.Info("frame analyzed",
			"updated", len(result.UpdatedHazards),
			"resolved", len(result.ResolvedHazards),
			"created", len(result.NewHazards),
			"alerts", len(result.Alerts),
			"issues", len(result.Issues),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	metrics.FrameProcessed("camera", outcome(result), time.Since(start))
	return result
}

func (p *Processor) analyzeCameraFrame(ctx context.Context, op string, req FrameRequest, result *FrameResult, logger *slog.Logger) error {
	camera, ok := p.deps.Cameras.Get(req.CameraID)
	if !ok {
		return domain.NotFound(op, "camera", req.CameraID)
	}

	if req.SceneID != "" {
		unlock, err := p.deps.Tracker.LockScene(ctx, req.SceneID)
		if err != nil {
			return domain.Wrap(err, domain.EINTERNAL, op, "could not lock scene")
		}
		defer unlock()
	}

	frame, err := p.deps.Normalizer.Normalize(req.Image)
	if err != nil {
		return err
	}

	status := domain.HazardStatusActive
	active, err := p.deps.Hazards.ListHazardsByCamera(ctx, camera.ID, &status)
	if err != nil {
		return err
	}

	in := prompt.HazardPromptInput{
		Camera:        camera,
		Scenes:        p.deps.Scenes.Select(camera.SceneIDs),
		ActiveHazards: active,
		TargetSceneID: req.SceneID,
		HistoryWindow: p.cfg.HistoryWindow,
	}
	if req.SceneID != "" {
		in.History = p.deps.Tracker.History(req.SceneID, p.cfg.HistoryWindow)
	}

	text, err := p.analyze(ctx, op, frame, prompt.BuildHazardPrompt(in))
	if err != nil {
		return err
	}

	detection, err := parser.ParseDetection(text)
	if err != nil {
		metrics.ParseFailed("detection")
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.Wrap(err, domain.EINTERNAL, op, "frame abandoned before saving")
	}

	// The scene state is saved inside the hazard transaction; the frame
	// commits as a unit or not at all.
	var beforeCommit func(ctx context.Context) error
	var stored *domain.Observation
	if req.SceneID != "" && detection.SceneState != nil {
		beforeCommit = func(ctx context.Context) error {
			obs, err := p.deps.Tracker.Update(ctx, req.SceneID, *detection.SceneState)
			if err != nil {
				return err
			}
			stored = &obs
			return nil
		}
	} else if req.SceneID != "" {
		logger.Warn("scene state requested but not returned")
	}

	var reconciled *service.ReconcileOutcome
	err = p.persist(ctx, "hazards", service.IsRetryable, func(ctx context.Context) error {
		var err error
		reconciled, err = p.deps.Reconciler.ApplyWith(ctx, camera.ID, detection, beforeCommit)
		return err
	})
	if err != nil {
		return err
	}

	result.UpdatedHazards = reconciled.Updated
	result.ResolvedHazards = reconciled.Resolved
	result.NewHazards = reconciled.CreatedIDs()
	result.Observation = stored
	for _, issue := range reconciled.Issues {
		result.Issues = append(result.Issues, Issue{HazardID: issue.HazardID, Reason: issue.Reason, Detail: issue.Detail})
	}

	// Both stores are committed; only now do alerts go out
	known := make(map[string]bool, len(active)+len(result.UpdatedHazards)+len(result.NewHazards))
	for _, h := range active {
		known[h.ID] = true
	}
	for _, id := range result.UpdatedHazards {
		known[id] = true
	}
	for _, id := range result.NewHazards {
		known[id] = true
	}
	result.Alerts = p.deps.Emitter.Emit(detection.VoiceWarnings, known, result.NewHazards)
	p.publish(ctx, camera.ID, result.Alerts)
	return nil
}

// =============================================================================
// Scene frames
// =============================================================================

// AnalyzeSceneFrame records the equipment and personnel state seen in a
// frame as the scene's current observation.
func (p *Processor) AnalyzeSceneFrame(ctx context.Context, req SceneFrameRequest) FrameResult {
	const op = "analysis.scene_frame"

	start := time.Now()
	result := newResult()
	logger := p.logger.With("scene_id", req.SceneID)

	obs, err := p.analyzeSceneFrame(ctx, op, req)
	if err != nil {
		result.fail(err)
		logger.Warn("scene analysis failed", "kind", result.Kind, "error", err)
	} else {
		result.Observation = &obs
		logger.Info("scene analyzed",
			"status", obs.Crane.Status,
			"personnel", len(obs.Personnel),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	metrics.FrameProcessed("scene", outcome(result), time.Since(start))
	return result
}

func (p *Processor) analyzeSceneFrame(ctx context.Context, op string, req SceneFrameRequest) (domain.Observation, error) {
	if req.SceneID == "" {
		return domain.Observation{}, domain.Invalid(op, "scene id is required")
	}

	unlock, err := p.deps.Tracker.LockScene(ctx, req.SceneID)
	if err != nil {
		return domain.Observation{}, domain.Wrap(err, domain.EINTERNAL, op, "could not lock scene")
	}
	defer unlock()

	frame, err := p.deps.Normalizer.Normalize(req.Image)
	if err != nil {
		return domain.Observation{}, err
	}

	history := p.deps.Tracker.History(req.SceneID, p.cfg.HistoryWindow)
	text, err := p.analyze(ctx, op, frame, prompt.BuildScenePrompt(req.SceneID, history, p.cfg.HistoryWindow))
	if err != nil {
		return domain.Observation{}, err
	}

	obs, err := parser.ParseSceneState(text)
	if err != nil {
		metrics.ParseFailed("scene_state")
		return domain.Observation{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Observation{}, domain.Wrap(err, domain.EINTERNAL, op, "frame abandoned before saving")
	}

	return p.updateScene(ctx, req.SceneID, *obs)
}

// =============================================================================
// Helpers
// =============================================================================

// analyze sends the frame to the vision provider under the request timeout.
func (p *Processor) analyze(ctx context.Context, op string, frame *service.NormalizedFrame, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	resp, err := p.deps.Provider.Analyze(callCtx, ai.AnalyzeParams{
		ImageData:    frame.Data,
		ContentType:  frame.ContentType,
		Prompt:       text,
		SystemPrompt: ai.DefaultSystemPrompt,
		MaxTokens:    p.cfg.MaxTokens,
	})
	if err != nil {
		return "", domain.Provider(err, op)
	}
	return resp.Text, nil
}

func (p *Processor) updateScene(ctx context.Context, sceneID string, obs domain.Observation) (domain.Observation, error) {
	var stored domain.Observation
	err := p.persist(ctx, "scene_state", isPersistenceError, func(ctx context.Context) error {
		var err error
		stored, err = p.deps.Tracker.Update(ctx, sceneID, obs)
		return err
	})
	return stored, err
}

// persist runs fn, retrying errors that retryable accepts with bounded
// exponential backoff. If ctx ends while waiting to retry, the last error
// from fn is returned rather than the bare context error.
func (p *Processor) persist(ctx context.Context, store string, retryable func(error) bool, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(p.cfg.PersistMaxRetries), retry.NewExponential(p.cfg.PersistRetryBaseDelay))

	var last error
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.PersistRetried(store)
			p.logger.Info("retrying persistence", "store", store, "attempt", attempt, "error", last)
		}
		last = fn(ctx)
		if last != nil && retryable(last) {
			return retry.RetryableError(last)
		}
		return last
	})
	if err != nil && last != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return last
	}
	return err
}

func isPersistenceError(err error) bool {
	var pe *domain.PersistenceError
	return errors.As(err, &pe)
}

func (p *Processor) publish(ctx context.Context, cameraID string, alerts []domain.Alert) {
	if len(alerts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := p.deps.Publisher.Publish(ctx, alert.Message{
		CameraID:  cameraID,
		Alerts:    alerts,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("alerts not delivered", "camera_id", cameraID, "error", err)
	}
}

func outcome(r FrameResult) string {
	if r.Status == StatusSuccess {
		return StatusSuccess
	}
	return r.Kind
}
