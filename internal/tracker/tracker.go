// Package tracker keeps a bounded timeline of observations per scene and
// persists all timelines as a single document.
//
// A timeline is the current observation plus up to Capacity earlier ones,
// oldest first. Updates replace the whole document in storage and only
// become visible in memory once that write has succeeded, so a failed
// update leaves both the document and the in-memory view unchanged.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/lock"
	"github.com/DukeRupert/sitewatch/internal/metrics"
	"github.com/DukeRupert/sitewatch/internal/storage"
)

// DefaultCapacity is the number of past observations kept per scene.
const DefaultCapacity = 15

// Options configures a Tracker.
type Options struct {
	// Key is the storage key of the timeline document.
	Key string

	// Capacity bounds the history of each scene, excluding the current
	// observation.
	Capacity int

	// Locker provides per-scene exclusive sections. Defaults to an
	// in-process KeyedMutex.
	Locker lock.Locker

	// Now is the clock used to stamp observations.
	Now func() time.Time
}

// document is the persisted layout.
type document struct {
	Scenes     map[string]domain.SceneTimeline `json:"scenes"`
	LastUpdate *time.Time                      `json:"last_update"`
}

// rawDocument is decoded first so that bad entries can be dropped
// individually.
type rawDocument struct {
	Scenes map[string]struct {
		History []json.RawMessage `json:"history"`
		Current json.RawMessage   `json:"current"`
	} `json:"scenes"`
	LastUpdate *time.Time `json:"last_update"`
}

// Tracker is the scene state store. It is safe for concurrent use.
type Tracker struct {
	store    storage.Storage
	key      string
	capacity int
	locker   lock.Locker
	now      func() time.Time
	logger   *slog.Logger

	// writeMu serializes document writes; mu guards the in-memory view.
	writeMu    sync.Mutex
	mu         sync.RWMutex
	scenes     map[string]domain.SceneTimeline
	lastUpdate time.Time
}

// New loads the timeline document from store. A missing document yields an
// empty tracker. Entries that fail validation are dropped with a warning;
// a document that cannot be decoded at all is an error.
func New(ctx context.Context, store storage.Storage, opts Options, logger *slog.Logger) (*Tracker, error) {
	if opts.Key == "" {
		opts.Key = storage.DefaultSceneStateKey
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Tracker{
		store:    store,
		key:      opts.Key,
		capacity: opts.Capacity,
		locker:   opts.Locker,
		now:      opts.Now,
		logger:   logger.With("component", "scene_tracker"),
		scenes:   make(map[string]domain.SceneTimeline),
	}
	if err := t.load(ctx); err != nil {
		return nil, err
	}
	metrics.SetTrackedScenes(len(t.scenes))
	return t, nil
}

func (t *Tracker) load(ctx context.Context) error {
	rc, _, err := t.store.Get(ctx, t.key)
	if err != nil {
		if storage.IsNotFound(err) {
			t.logger.Info("no scene state document, starting empty", "key", t.key)
			return nil
		}
		return fmt.Errorf("load scene state: %w", err)
	}
	defer rc.Close()

	var raw rawDocument
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		return fmt.Errorf("decode scene state %s: %w", t.key, err)
	}

	dropped := 0
	for sceneID, entry := range raw.Scenes {
		var tl domain.SceneTimeline
		for _, h := range entry.History {
			obs, ok := decodeObservation(h)
			if !ok {
				dropped++
				continue
			}
			tl.History = append(tl.History, obs)
		}
		if len(entry.Current) > 0 && string(entry.Current) != "null" {
			if obs, ok := decodeObservation(entry.Current); ok {
				tl.Current = &obs
			} else {
				dropped++
			}
		}
		if len(tl.History) > t.capacity {
			tl.History = append([]domain.Observation(nil), tl.History[len(tl.History)-t.capacity:]...)
		}
		if tl.Current == nil && len(tl.History) == 0 {
			continue
		}
		t.scenes[sceneID] = tl
	}
	if raw.LastUpdate != nil {
		t.lastUpdate = *raw.LastUpdate
	}

	if dropped > 0 {
		t.logger.Warn("dropped unreadable scene state entries", "key", t.key, "dropped", dropped)
	}
	t.logger.Info("scene state loaded", "key", t.key, "scenes", len(t.scenes))
	return nil
}

func decodeObservation(b json.RawMessage) (domain.Observation, bool) {
	var obs domain.Observation
	if err := json.Unmarshal(b, &obs); err != nil {
		return domain.Observation{}, false
	}
	if obs.Validate() != nil {
		return domain.Observation{}, false
	}
	if obs.Personnel == nil {
		obs.Personnel = []domain.Person{}
	}
	return obs, true
}

// LockScene enters the exclusive section for sceneID. Frames for the same
// scene hold it from prompt construction through Update.
func (t *Tracker) LockScene(ctx context.Context, sceneID string) (lock.Unlock, error) {
	return t.locker.Lock(ctx, "scene:"+sceneID)
}

// Update records obs as the current observation of sceneID, stamping it
// with the current time, and persists the document. The stored copy is
// returned.
func (t *Tracker) Update(ctx context.Context, sceneID string, obs domain.Observation) (domain.Observation, error) {
	const op = "tracker.update"

	if sceneID == "" {
		return domain.Observation{}, domain.Invalid(op, "scene id is required")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	prev := t.scenes[sceneID]
	next := make(map[string]domain.SceneTimeline, len(t.scenes)+1)
	for k, v := range t.scenes {
		next[k] = v
	}
	last := t.lastUpdate
	t.mu.RUnlock()

	stamp := t.now().UTC()
	if prev.Current != nil && stamp.Before(prev.Current.Timestamp) {
		stamp = prev.Current.Timestamp
	}
	stored := cloneObservation(obs)
	stored.Timestamp = stamp
	if err := stored.Validate(); err != nil {
		return domain.Observation{}, domain.Invalid(op, err.Error())
	}

	history := make([]domain.Observation, 0, len(prev.History)+1)
	history = append(history, prev.History...)
	if prev.Current != nil {
		history = append(history, *prev.Current)
	}
	if len(history) > t.capacity {
		history = history[len(history)-t.capacity:]
	}
	next[sceneID] = domain.SceneTimeline{History: history, Current: &stored}

	if stamp.After(last) {
		last = stamp
	}

	if err := t.persist(ctx, next, last); err != nil {
		return domain.Observation{}, &domain.PersistenceError{Op: op, Err: err}
	}

	t.mu.Lock()
	t.scenes = next
	t.lastUpdate = last
	t.mu.Unlock()
	metrics.SetTrackedScenes(len(next))

	t.logger.Debug("scene state updated",
		"scene_id", sceneID,
		"history", len(history),
		"status", stored.Crane.Status,
	)
	return cloneObservation(stored), nil
}

func (t *Tracker) persist(ctx context.Context, scenes map[string]domain.SceneTimeline, last time.Time) error {
	start := time.Now()
	doc := document{Scenes: scenes, LastUpdate: &last}
	for id, tl := range doc.Scenes {
		if tl.History == nil {
			tl.History = []domain.Observation{}
			doc.Scenes[id] = tl
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode scene state: %w", err)
	}
	err = t.store.Put(ctx, t.key, bytes.NewReader(data), storage.PutOptions{
		ContentType: "application/json",
		Overwrite:   true,
	})
	metrics.PersistAttempt("scene_state", err, time.Since(start))
	return err
}

// Forget drops sceneID and its timeline. It reports false when the scene was
// not tracked. Once no scene remains the document itself is deleted.
func (t *Tracker) Forget(ctx context.Context, sceneID string) (bool, error) {
	const op = "tracker.forget"

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	_, ok := t.scenes[sceneID]
	next := make(map[string]domain.SceneTimeline, len(t.scenes))
	for k, v := range t.scenes {
		if k != sceneID {
			next[k] = v
		}
	}
	last := t.lastUpdate
	t.mu.RUnlock()

	if !ok {
		return false, nil
	}

	var err error
	if len(next) == 0 {
		start := time.Now()
		err = t.store.Delete(ctx, t.key)
		metrics.PersistAttempt("scene_state", err, time.Since(start))
	} else {
		err = t.persist(ctx, next, last)
	}
	if err != nil {
		return false, &domain.PersistenceError{Op: op, Err: err}
	}

	t.mu.Lock()
	t.scenes = next
	t.mu.Unlock()
	metrics.SetTrackedScenes(len(next))

	t.logger.Info("scene forgotten", "scene_id", sceneID, "remaining", len(next))
	return true, nil
}

// Ping checks that the backing store answers. A missing document is fine.
func (t *Tracker) Ping(ctx context.Context) error {
	_, err := t.store.Exists(ctx, t.key)
	return err
}

// History returns up to count observations for sceneID, oldest first,
// ending with the current observation. Unknown scenes yield an empty list.
func (t *Tracker) History(sceneID string, count int) []domain.Observation {
	t.mu.RLock()
	tl, ok := t.scenes[sceneID]
	t.mu.RUnlock()

	out := []domain.Observation{}
	if !ok || count <= 0 {
		return out
	}

	all := tl.History
	if tl.Current != nil {
		all = append(all[:len(all):len(all)], *tl.Current)
	}
	if len(all) > count {
		all = all[len(all)-count:]
	}
	for _, obs := range all {
		out = append(out, cloneObservation(obs))
	}
	return out
}

// SceneInfo summarizes the timeline of sceneID.
func (t *Tracker) SceneInfo(sceneID string) (domain.SceneInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tl, ok := t.scenes[sceneID]
	if !ok {
		return domain.SceneInfo{SceneID: sceneID}, false
	}
	info := domain.SceneInfo{
		SceneID:      sceneID,
		HistoryCount: len(tl.History),
		HasCurrent:   tl.Current != nil,
		LastUpdate:   t.lastUpdate,
	}
	if tl.Current != nil {
		info.LastUpdate = tl.Current.Timestamp
	}
	return info, true
}

// SceneIDs lists tracked scenes in lexical order.
func (t *Tracker) SceneIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.scenes))
	for id := range t.scenes {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// LastUpdate is the time of the most recent successful update.
func (t *Tracker) LastUpdate() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUpdate
}

func cloneObservation(o domain.Observation) domain.Observation {
	c := o
	c.Personnel = append([]domain.Person{}, o.Personnel...)
	c.SafetyStatus.Issues = append([]string{}, o.SafetyStatus.Issues...)
	if o.Crane.Features != nil {
		f := *o.Crane.Features
		c.Crane.Features = &f
	}
	if o.Crane.Movement != nil {
		m := *o.Crane.Movement
		c.Crane.Movement = &m
	}
	return c
}
