package analysis

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal"
	"github.com/DukeRupert/sitewatch/internal/ai"
	"github.com/DukeRupert/sitewatch/internal/ai/mock"
	"github.com/DukeRupert/sitewatch/internal/alert"
	"github.com/DukeRupert/sitewatch/internal/catalog"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/repository"
	"github.com/DukeRupert/sitewatch/internal/service"
	"github.com/DukeRupert/sitewatch/internal/storage"
	"github.com/DukeRupert/sitewatch/internal/tracker"
)

const scenesYAML = `
construction_scenes:
  - id: crane_lift
    name: 吊装作业
    keywords: [吊车, 起重]
    conditions:
      - type: personnel
        items: [信号工, 吊车监护人]
    risk_level: 高
    violation_type: 无人监护吊装
    regulations: GB 6067.1-2010
`

const camerasYAML = `
cameras:
  - id: cam-01
    name: 东门
    location: 东北角
    scenes: [crane_lift]
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	img.Set(10, 10, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// flakyStorage fails the next failPuts writes.
type flakyStorage struct {
	storage.Storage
	mu       sync.Mutex
	failPuts int
}

func (f *flakyStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	f.mu.Lock()
	fail := f.failPuts > 0
	if fail {
		f.failPuts--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Storage.Put(ctx, key, data, opts)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []alert.Message
}

func (p *recordingPublisher) Name() string { return "recording" }

func (p *recordingPublisher) Publish(_ context.Context, msg alert.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

type fixture struct {
	processor *Processor
	provider  *mock.Provider
	hazards   service.HazardService
	tracker   *tracker.Tracker
	states    *flakyStorage
	published *recordingPublisher
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	scenes, err := catalog.Parse([]byte(scenesYAML))
	require.NoError(t, err)
	cameras, err := catalog.ParseCameras([]byte(camerasYAML), scenes)
	require.NoError(t, err)

	db, err := internal.OpenDatabase(ctx, internal.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, internal.RunMigrations(db, internal.DriverSQLite))
	hazards := service.NewHazardService(db, repository.New(db), logger)

	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, logger)
	require.NoError(t, err)
	states := &flakyStorage{Storage: local}
	tr, err := tracker.New(ctx, states, tracker.Options{}, logger)
	require.NoError(t, err)

	provider := mock.New(logger)
	provider.Replies = replies
	published := &recordingPublisher{}

	p := NewProcessor(Deps{
		Cameras:    cameras,
		Scenes:     scenes,
		Provider:   provider,
		Normalizer: service.NewFrameNormalizer(0, 0),
		Hazards:    hazards,
		Reconciler: service.NewReconciler(hazards, nil, domain.TransitionPolicy{}, logger),
		Tracker:    tr,
		Publisher:  published,
	}, Config{PersistMaxRetries: 3, PersistRetryBaseDelay: time.Millisecond}, logger)

	return &fixture{
		processor: p,
		provider:  provider,
		hazards:   hazards,
		tracker:   tr,
		states:    states,
		published: published,
	}
}

const newHazardReply = "```json\n" + `{
  "existing_hazards": [],
  "new_hazards": [{"scene_id": "crane_lift", "violation_type": "无人监护吊装", "location": "塔吊东侧2米",
                   "risk_level": "高", "description": "吊装时无监护人", "regulation_reference": "GB 6067.1-2010"}],
  "voice_warnings": [
    {"target": "new", "message": "吊装区域请立即安排监护人", "urgency": "高"},
    {"target": "ghost", "message": "不存在的隐患", "urgency": "low"}
  ]
}` + "\n```"

func TestAnalyzeCameraFrame_CreatesHazard(t *testing.T) {
	f := newFixture(t, newHazardReply)
	ctx := context.Background()

	res := f.processor.AnalyzeCameraFrame(ctx, FrameRequest{CameraID: "cam-01", Image: testImage(t), ContentType: "image/png"})

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	require.Len(t, res.NewHazards, 1)
	assert.Empty(t, res.UpdatedHazards)
	assert.Empty(t, res.Issues)
	assert.Nil(t, res.Observation)

	h, err := f.hazards.GetHazardByID(ctx, res.NewHazards[0])
	require.NoError(t, err)
	assert.Equal(t, domain.HazardStatusActive, h.Status)
	assert.Equal(t, "cam-01", h.CameraID)
	assert.Equal(t, domain.RiskLevelHigh, h.RiskLevel)

	tracks, err := f.hazards.ListTracks(ctx, h.ID)
	require.NoError(t, err)
	assert.Len(t, tracks, 1)

	require.Len(t, res.Alerts, 1)
	assert.Equal(t, domain.Alert{
		Target:   domain.NewTarget,
		HazardID: h.ID,
		Message:  "吊装区域请立即安排监护人",
		Urgency:  domain.UrgencyHigh,
	}, res.Alerts[0])

	require.Len(t, f.published.messages, 1)
	assert.Equal(t, "cam-01", f.published.messages[0].CameraID)
	assert.Equal(t, res.Alerts, f.published.messages[0].Alerts)

	// The frame sent to the provider was re-encoded.
	assert.Equal(t, "image/jpeg", f.provider.LastParams().ContentType)
	assert.Contains(t, f.provider.LastParams().Prompt, "GB 6067.1-2010")
}

func TestAnalyzeCameraFrame_UpdatesActiveHazards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.hazards.CreateHazard(ctx, domain.CreateHazardParams{
		CameraID:      "cam-01",
		SceneID:       "crane_lift",
		ViolationType: "无人监护吊装",
		RiskLevel:     domain.RiskLevelHigh,
		Location:      "塔吊东侧",
		DetectedAt:    time.Now(),
	})
	require.NoError(t, err)

	f.provider.Replies = []string{`{
	  "existing_hazards": [{"hazard_id": "` + h.ID + `", "status": "resolved", "current_state": "监护人已到位"}],
	  "new_hazards": [],
	  "voice_warnings": [{"target": "` + h.ID + `", "message": "隐患已消除", "urgency": "low"}]
	}`}

	res := f.processor.AnalyzeCameraFrame(ctx, FrameRequest{CameraID: "cam-01", Image: testImage(t), ContentType: "image/png"})

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Equal(t, []string{h.ID}, res.UpdatedHazards)
	assert.Equal(t, []string{h.ID}, res.ResolvedHazards)
	assert.Empty(t, res.NewHazards)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, h.ID, res.Alerts[0].HazardID)

	// The active hazard was part of the prompt.
	assert.Contains(t, f.provider.LastParams().Prompt, h.ID)

	got, err := f.hazards.GetHazardByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HazardStatusResolved, got.Status)
}

func TestAnalyzeCameraFrame_Failures(t *testing.T) {
	tests := []struct {
		name      string
		req       func(t *testing.T) FrameRequest
		reply     string
		err       error
		wantKind  string
		wantCalls int
	}{
		{
			name:      "unknown camera",
			req:       func(t *testing.T) FrameRequest { return FrameRequest{CameraID: "cam-99", Image: testImage(t)} },
			wantKind:  domain.ENOTFOUND,
			wantCalls: 0,
		},
		{
			name:      "undecodable image",
			req:       func(*testing.T) FrameRequest { return FrameRequest{CameraID: "cam-01", Image: []byte("not an image")} },
			wantKind:  domain.EINVALID,
			wantCalls: 0,
		},
		{
			name:      "provider failure",
			req:       func(t *testing.T) FrameRequest { return FrameRequest{CameraID: "cam-01", Image: testImage(t)} },
			err:       ai.EAIUnavailable,
			wantKind:  domain.EPROVIDER,
			wantCalls: 1,
		},
		{
			name:      "unparseable reply",
			req:       func(t *testing.T) FrameRequest { return FrameRequest{CameraID: "cam-01", Image: testImage(t)} },
			reply:     "I cannot see any hazards.",
			wantKind:  domain.EPARSE,
			wantCalls: 1,
		},
		{
			name:      "missing required list",
			req:       func(t *testing.T) FrameRequest { return FrameRequest{CameraID: "cam-01", Image: testImage(t)} },
			reply:     `{"existing_hazards": []}`,
			wantKind:  domain.EPARSE,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.reply != "" {
				f.provider.Replies = []string{tt.reply}
			}
			f.provider.Error = tt.err
			ctx := context.Background()

			res := f.processor.AnalyzeCameraFrame(ctx, tt.req(t))

			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.NotEmpty(t, res.Message)
			assert.NotNil(t, res.NewHazards)
			assert.NotNil(t, res.Alerts)
			assert.Equal(t, tt.wantCalls, f.provider.Calls())

			all, err := f.hazards.ListHazardsByCamera(ctx, "cam-01", nil)
			require.NoError(t, err)
			assert.Empty(t, all)
			assert.Empty(t, f.published.messages)
		})
	}
}

func TestAnalyzeCameraFrame_TracksTargetScene(t *testing.T) {
	f := newFixture(t, `{
	  "existing_hazards": [],
	  "new_hazards": [],
	  "scene_state": {
	    "crane": {"presence": true, "position": "基坑北侧", "status": "idle", "confidence": 0.8},
	    "personnel": [{"position": "塔吊下方", "helmet_color": "红色", "role": "manager", "behavior": "巡视"}],
	    "safety_status": {"has_supervisor": true, "issues": []}
	  }
	}`)
	ctx := context.Background()

	res := f.processor.AnalyzeCameraFrame(ctx, FrameRequest{CameraID: "cam-01", SceneID: "crane_lift", Image: testImage(t)})

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	require.NotNil(t, res.Observation)
	assert.Equal(t, domain.WorkingStateIdle, res.Observation.Crane.Status)
	assert.Contains(t, f.provider.LastParams().Prompt, "scene_state")

	h := f.tracker.History("crane_lift", 15)
	require.Len(t, h, 1)
	assert.Equal(t, res.Observation.Timestamp, h[0].Timestamp)
}

const hazardWithSceneReply = `{
  "existing_hazards": [],
  "new_hazards": [{"scene_id": "crane_lift", "violation_type": "无人监护吊装", "location": "塔吊东侧2米",
                   "risk_level": "高", "description": "吊装时无监护人"}],
  "voice_warnings": [{"target": "new", "message": "吊装区域请立即安排监护人", "urgency": "高"}],
  "scene_state": {
    "crane": {"presence": true, "position": "基坑北侧", "status": "working", "confidence": 0.9},
    "personnel": [],
    "safety_status": {"has_supervisor": false, "issues": ["无监护人"]}
  }
}`

func TestAnalyzeCameraFrame_SceneFailureRollsBackHazards(t *testing.T) {
	f := newFixture(t, hazardWithSceneReply)
	ctx := context.Background()
	req := FrameRequest{CameraID: "cam-01", SceneID: "crane_lift", Image: testImage(t)}

	f.states.failPuts = 100
	res := f.processor.AnalyzeCameraFrame(ctx, req)

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, domain.EPERSIST, res.Kind)
	assert.Empty(t, res.NewHazards)
	assert.Nil(t, res.Observation)
	assert.Empty(t, f.published.messages)

	all, err := f.hazards.ListHazardsByCamera(ctx, "cam-01", nil)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.tracker.History("crane_lift", 15))

	// Resending the same frame once storage recovers records it exactly once.
	f.states.failPuts = 0
	res = f.processor.AnalyzeCameraFrame(ctx, req)

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	require.Len(t, res.NewHazards, 1)
	require.NotNil(t, res.Observation)

	all, err = f.hazards.ListHazardsByCamera(ctx, "cam-01", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, f.tracker.History("crane_lift", 15), 1)
	assert.Len(t, f.published.messages, 1)
}

func TestAnalyzeCameraFrame_SceneRetryCommitsOnce(t *testing.T) {
	f := newFixture(t, hazardWithSceneReply)
	ctx := context.Background()
	f.states.failPuts = 2

	res := f.processor.AnalyzeCameraFrame(ctx, FrameRequest{CameraID: "cam-01", SceneID: "crane_lift", Image: testImage(t)})

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	all, err := f.hazards.ListHazardsByCamera(ctx, "cam-01", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, f.tracker.History("crane_lift", 15), 1)
}

// cancellingProvider cancels the caller's context once the reply is ready,
// as when a client disconnects while the model is answering.
type cancellingProvider struct {
	ai.VisionProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) Analyze(ctx context.Context, params ai.AnalyzeParams) (*ai.AnalysisResponse, error) {
	resp, err := p.VisionProvider.Analyze(ctx, params)
	p.cancel()
	return resp, err
}

func TestProcessor_CancelledDuringAnalysisSavesNothing(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		run   func(ctx context.Context, f *fixture) FrameResult
	}{
		{
			name:  "camera frame",
			reply: hazardWithSceneReply,
			run: func(ctx context.Context, f *fixture) FrameResult {
				return f.processor.AnalyzeCameraFrame(ctx, FrameRequest{CameraID: "cam-01", SceneID: "crane_lift", Image: testImage(t)})
			},
		},
		{
			name:  "scene frame",
			reply: mock.DefaultReply,
			run: func(ctx context.Context, f *fixture) FrameResult {
				return f.processor.AnalyzeSceneFrame(ctx, SceneFrameRequest{SceneID: "crane_lift", Image: testImage(t)})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.reply)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			f.processor.deps.Provider = &cancellingProvider{VisionProvider: f.provider, cancel: cancel}

			res := tt.run(ctx, f)

			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, domain.EINTERNAL, res.Kind, res.Message)
			assert.Equal(t, 1, f.provider.Calls())
			assert.Nil(t, res.Observation)

			all, err := f.hazards.ListHazardsByCamera(context.Background(), "cam-01", nil)
			require.NoError(t, err)
			assert.Empty(t, all)
			assert.Empty(t, f.tracker.History("crane_lift", 15))
			assert.Empty(t, f.published.messages)
		})
	}
}

func TestAnalyzeSceneFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := f.processor.AnalyzeSceneFrame(ctx, SceneFrameRequest{SceneID: "crane-a", Image: testImage(t)})
		require.Equal(t, StatusSuccess, res.Status, res.Message)
		require.NotNil(t, res.Observation)
		assert.Len(t, res.Observation.Personnel, 1)
	}

	assert.Len(t, f.tracker.History("crane-a", 15), 3)
	info, ok := f.tracker.SceneInfo("crane-a")
	require.True(t, ok)
	assert.Equal(t, 2, info.HistoryCount)
}

func TestAnalyzeSceneFrame_RetriesPersistence(t *testing.T) {
	f := newFixture(t)
	f.states.failPuts = 2

	res := f.processor.AnalyzeSceneFrame(context.Background(), SceneFrameRequest{SceneID: "crane-a", Image: testImage(t)})

	require.Equal(t, StatusSuccess, res.Status, res.Message)
	assert.Len(t, f.tracker.History("crane-a", 15), 1)
}

func TestAnalyzeSceneFrame_PersistenceExhausted(t *testing.T) {
	f := newFixture(t)
	f.states.failPuts = 10

	res := f.processor.AnalyzeSceneFrame(context.Background(), SceneFrameRequest{SceneID: "crane-a", Image: testImage(t)})

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, domain.EPERSIST, res.Kind)
	assert.Nil(t, res.Observation)
	assert.Empty(t, f.tracker.History("crane-a", 15))
	assert.Equal(t, 6, f.states.failPuts) // first attempt plus three retries
}

func TestAnalyzeSceneFrame_Rejects(t *testing.T) {
	f := newFixture(t)

	res := f.processor.AnalyzeSceneFrame(context.Background(), SceneFrameRequest{Image: testImage(t)})
	assert.Equal(t, domain.EINVALID, res.Kind)

	f.provider.Replies = []string{`{"crane": {"presence": true, "status": "dancing"}, "personnel": [], "safety_status": {}}`}
	res = f.processor.AnalyzeSceneFrame(context.Background(), SceneFrameRequest{SceneID: "crane-a", Image: testImage(t)})
	assert.Equal(t, domain.EPARSE, res.Kind)
	assert.Empty(t, f.tracker.SceneIDs())
}
