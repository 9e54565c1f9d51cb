package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/DukeRupert/sitewatch/internal/catalog"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/tracker"
)

// SceneHandler serves scene state and the scene rule catalog.
type SceneHandler struct {
	tracker       *tracker.Tracker
	scenes        *catalog.SceneCatalog
	historyWindow int
	logger        *slog.Logger
}

// NewSceneHandler creates a new SceneHandler. historyWindow is the default
// and maximum number of observations returned by History.
func NewSceneHandler(tr *tracker.Tracker, scenes *catalog.SceneCatalog, historyWindow int, logger *slog.Logger) *SceneHandler {
	return &SceneHandler{
		tracker:       tr,
		scenes:        scenes,
		historyWindow: historyWindow,
		logger:        logger,
	}
}

// RegisterRoutes registers the scene routes with the provided mux.
//
// Routes:
// - GET /api/scenes                      -> List
// - GET /api/scenes/{sceneID}            -> Get
// - GET /api/scenes/{sceneID}/history    -> History
// - DELETE /api/scenes/{sceneID}         -> Forget
// - POST /api/scenes/{sceneID}/conditions -> CheckConditions
func (h *SceneHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/scenes", h.List)
	mux.HandleFunc("GET /api/scenes/{sceneID}", h.Get)
	mux.HandleFunc("DELETE /api/scenes/{sceneID}", h.Forget)
	mux.HandleFunc("GET /api/scenes/{sceneID}/history", h.History)
	mux.HandleFunc("POST /api/scenes/{sceneID}/conditions", h.CheckConditions)
}

// SceneResponse describes one scene: its catalog rule, if any, and what
// the tracker knows about it.
type SceneResponse struct {
	domain.SceneInfo
	Rule    *domain.SceneRule   `json:"rule,omitempty"`
	Current *domain.Observation `json:"current,omitempty"`
}

// List returns the catalog rules and the ids of tracked scenes. Repeated
// ?keyword= parameters narrow the rules to those sharing a keyword.
func (h *SceneHandler) List(w http.ResponseWriter, r *http.Request) {
	rules := h.scenes.Scenes()
	if keywords := r.URL.Query()["keyword"]; len(keywords) > 0 {
		rules = h.scenes.FindByKeyword(keywords...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":   rules,
		"tracked": h.tracker.SceneIDs(),
	})
}

// Get returns the tracking summary and current observation of a scene.
func (h *SceneHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_scene"

	sceneID := r.PathValue("sceneID")
	info, tracked := h.tracker.SceneInfo(sceneID)
	rule, inCatalog := h.scenes.GetScene(sceneID)
	if !tracked && !inCatalog {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "scene", sceneID))
		return
	}

	resp := SceneResponse{SceneInfo: info}
	if inCatalog {
		resp.Rule = &rule
	}
	if info.HasCurrent {
		if latest := h.tracker.History(sceneID, 1); len(latest) == 1 {
			resp.Current = &latest[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Forget drops the tracked timeline of a scene. The catalog rule, if any,
// is untouched.
func (h *SceneHandler) Forget(w http.ResponseWriter, r *http.Request) {
	const op = "handler.forget_scene"

	sceneID := r.PathValue("sceneID")
	removed, err := h.tracker.Forget(r.Context(), sceneID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !removed {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "scene", sceneID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns up to ?count= observations, oldest first. Unknown scenes
// yield an empty list.
func (h *SceneHandler) History(w http.ResponseWriter, r *http.Request) {
	const op = "handler.scene_history"

	count := h.historyWindow
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "count must be a positive integer"))
			return
		}
		count = n
	}

	sceneID := r.PathValue("sceneID")
	writeJSON(w, http.StatusOK, map[string]any{
		"scene_id": sceneID,
		"history":  h.tracker.History(sceneID, count),
	})
}

// maxConditionsBody caps the observed items document.
const maxConditionsBody = 64 << 10

// ConditionsRequest lists what was observed, keyed by condition type.
type ConditionsRequest struct {
	Observed map[string][]string `json:"observed"`
}

// CheckConditions reports whether the observed items satisfy every
// condition of a catalog scene.
func (h *SceneHandler) CheckConditions(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_conditions"

	sceneID := r.PathValue("sceneID")
	if _, ok := h.scenes.GetScene(sceneID); !ok {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "scene", sceneID))
		return
	}

	var req ConditionsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxConditionsBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "body must be a JSON object with an observed map"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scene_id":  sceneID,
		"satisfied": h.scenes.ValidateConditions(sceneID, req.Observed),
	})
}
