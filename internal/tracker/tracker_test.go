package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// flakyStorage fails Put while failPuts is set.
type flakyStorage struct {
	storage.Storage
	mu       sync.Mutex
	failPuts bool
	puts     int
}

func (f *flakyStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	f.mu.Lock()
	f.puts++
	fail := f.failPuts
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Storage.Put(ctx, key, data, opts)
}

func newStore(t *testing.T) *flakyStorage {
	t.Helper()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)
	return &flakyStorage{Storage: local}
}

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func observation(status domain.WorkingState, people int) domain.Observation {
	obs := domain.Observation{
		Crane: domain.EquipmentState{
			Presence:   status != domain.WorkingStateAbsent,
			Status:     status,
			Confidence: 0.9,
			Position:   domain.Text(fmt.Sprintf("slot-%d", people)),
		},
		Personnel: []domain.Person{},
	}
	for i := 0; i < people; i++ {
		obs.Personnel = append(obs.Personnel, domain.Person{Role: domain.PersonRoleWorker})
	}
	return obs
}

func TestTracker_BoundedHistory(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, newStore(t), Options{Now: stepClock(time.Unix(0, 0))}, testLogger())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := tr.Update(ctx, "crane-a", observation(domain.WorkingStateWorking, i))
		require.NoError(t, err)
	}

	info, ok := tr.SceneInfo("crane-a")
	require.True(t, ok)
	assert.Equal(t, DefaultCapacity, info.HistoryCount)
	assert.True(t, info.HasCurrent)

	all := tr.History("crane-a", 100)
	require.Len(t, all, DefaultCapacity+1)
	// Oldest surviving entry is update #4; the last is the latest update.
	assert.Len(t, all[0].Personnel, 4)
	assert.Len(t, all[len(all)-1].Personnel, 19)

	recent := tr.History("crane-a", 3)
	require.Len(t, recent, 3)
	assert.Len(t, recent[2].Personnel, 19)
	assert.Len(t, recent[0].Personnel, 17)
}

func TestTracker_TimestampsNeverDecrease(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{
		time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC),
		time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC), // clock stepped back
		time.Date(2026, 1, 1, 12, 0, 20, 0, time.UTC),
	}
	i := 0
	clock := func() time.Time { t := times[i]; i++; return t }

	tr, err := New(ctx, newStore(t), Options{Now: clock}, testLogger())
	require.NoError(t, err)

	for range times {
		_, err := tr.Update(ctx, "s", observation(domain.WorkingStateIdle, 0))
		require.NoError(t, err)
	}

	h := tr.History("s", 10)
	require.Len(t, h, 3)
	for j := 1; j < len(h); j++ {
		assert.False(t, h[j].Timestamp.Before(h[j-1].Timestamp))
	}
	assert.Equal(t, times[0], h[1].Timestamp)
	assert.Equal(t, times[2], tr.LastUpdate())
}

func TestTracker_ReloadsPersistedState(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tr, err := New(ctx, store, Options{Now: stepClock(time.Unix(100, 0))}, testLogger())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := tr.Update(ctx, "s1", observation(domain.WorkingStateWorking, i))
		require.NoError(t, err)
	}
	_, err = tr.Update(ctx, "s2", observation(domain.WorkingStateAbsent, 0))
	require.NoError(t, err)

	reloaded, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, tr.History("s1", 15), reloaded.History("s1", 15))
	assert.Equal(t, []string{"s1", "s2"}, reloaded.SceneIDs())
	assert.Equal(t, tr.LastUpdate().Unix(), reloaded.LastUpdate().Unix())
}

func TestTracker_PersistFailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tr, err := New(ctx, store, Options{Now: stepClock(time.Unix(0, 0))}, testLogger())
	require.NoError(t, err)
	_, err = tr.Update(ctx, "s", observation(domain.WorkingStateIdle, 1))
	require.NoError(t, err)
	before := tr.History("s", 15)

	store.failPuts = true
	_, err = tr.Update(ctx, "s", observation(domain.WorkingStateWorking, 2))
	require.Error(t, err)

	var pe *domain.PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, domain.EPERSIST, domain.ErrorCode(err))
	assert.Equal(t, before, tr.History("s", 15))

	// The document on disk is also the previous one.
	reloaded, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, before, reloaded.History("s", 15))
}

func TestTracker_Forget(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tr, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	for _, id := range []string{"s1", "s2"} {
		_, err := tr.Update(ctx, id, observation(domain.WorkingStateIdle, 1))
		require.NoError(t, err)
	}

	removed, err := tr.Forget(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"s2"}, tr.SceneIDs())

	reloaded, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, reloaded.SceneIDs())

	removed, err = tr.Forget(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, removed)

	// Forgetting the last scene removes the document.
	removed, err = tr.Forget(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, removed)
	exists, err := store.Exists(ctx, storage.DefaultSceneStateKey)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, tr.Ping(ctx))
}

func TestTracker_ForgetFailureChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	tr, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	for _, id := range []string{"s1", "s2"} {
		_, err := tr.Update(ctx, id, observation(domain.WorkingStateIdle, 1))
		require.NoError(t, err)
	}

	store.failPuts = true
	_, err = tr.Forget(ctx, "s1")
	assert.Equal(t, domain.EPERSIST, domain.ErrorCode(err))
	assert.Equal(t, []string{"s1", "s2"}, tr.SceneIDs())
}

func TestTracker_UnknownScene(t *testing.T) {
	tr, err := New(context.Background(), newStore(t), Options{}, testLogger())
	require.NoError(t, err)

	h := tr.History("nobody", 15)
	assert.NotNil(t, h)
	assert.Empty(t, h)

	_, ok := tr.SceneInfo("nobody")
	assert.False(t, ok)
}

func TestTracker_RejectsInvalidObservation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tr, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)

	_, err = tr.Update(ctx, "s", domain.Observation{Crane: domain.EquipmentState{Status: "flying"}})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Equal(t, 0, store.puts)

	_, err = tr.Update(ctx, "", observation(domain.WorkingStateIdle, 0))
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestTracker_StoredCopyIsIsolated(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, newStore(t), Options{}, testLogger())
	require.NoError(t, err)

	obs := observation(domain.WorkingStateWorking, 2)
	_, err = tr.Update(ctx, "s", obs)
	require.NoError(t, err)

	obs.Personnel[0].Behavior = "mutated"
	got := tr.History("s", 1)
	got[0].Personnel[1].Behavior = "mutated too"

	again := tr.History("s", 1)
	assert.Equal(t, domain.Text(""), again[0].Personnel[0].Behavior)
	assert.Equal(t, domain.Text(""), again[0].Personnel[1].Behavior)
}

func TestTracker_LoadDropsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	doc := `{"scenes": {
	  "good": {"history": [
	      {"timestamp": "2026-01-01T00:00:00Z", "crane": {"presence": true, "status": "idle", "confidence": 0.5}, "personnel": [], "safety_status": {"issues": []}, "state_analysis": {}},
	      {"timestamp": "2026-01-01T00:00:01Z", "crane": {"presence": true, "status": "teleporting"}, "personnel": []},
	      "garbage"
	    ],
	    "current": {"timestamp": "2026-01-01T00:00:02Z", "crane": {"presence": false, "status": "absent"}, "personnel": [], "safety_status": {}, "state_analysis": {}}},
	  "bad": {"history": [], "current": {"timestamp": "not a time"}}
	}, "last_update": "2026-01-01T00:00:02Z"}`
	require.NoError(t, store.Put(ctx, storage.DefaultSceneStateKey, strings.NewReader(doc), storage.PutOptions{Overwrite: true}))

	tr, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, tr.SceneIDs())
	h := tr.History("good", 15)
	require.Len(t, h, 2)
	assert.Equal(t, domain.WorkingStateIdle, h[0].Crane.Status)
	assert.Equal(t, domain.WorkingStateAbsent, h[1].Crane.Status)
}

func TestTracker_LoadRejectsCorruptDocument(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, storage.DefaultSceneStateKey, strings.NewReader("{not json"), storage.PutOptions{Overwrite: true}))

	_, err := New(ctx, store, Options{}, testLogger())
	assert.Error(t, err)
}

func TestTracker_ConcurrentScenes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	tr, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		for n := 0; n < 5; n++ {
			wg.Add(1)
			go func(scene string) {
				defer wg.Done()
				unlock, err := tr.LockScene(ctx, scene)
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()
				_, err = tr.Update(ctx, scene, observation(domain.WorkingStateWorking, 1))
				assert.NoError(t, err)
			}(fmt.Sprintf("scene-%d", s))
		}
	}
	wg.Wait()

	reloaded, err := New(ctx, store, Options{}, testLogger())
	require.NoError(t, err)
	assert.Len(t, reloaded.SceneIDs(), 8)
	for _, id := range reloaded.SceneIDs() {
		assert.Len(t, reloaded.History(id, 15), 5)
	}
}
