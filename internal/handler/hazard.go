package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/sitewatch/internal/catalog"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/service"
)

// =============================================================================
// Response Types
// =============================================================================

// HazardResponse is the JSON form of a hazard.
type HazardResponse struct {
	ID            string     `json:"hazard_id"`
	CameraID      string     `json:"camera_id"`
	SceneID       string     `json:"scene_id"`
	ViolationType string     `json:"violation_type"`
	RiskLevel     string     `json:"risk_level"`
	Location      string     `json:"location"`
	Status        string     `json:"status"`
	DetectedAt    time.Time  `json:"detected_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TrackResponse is the JSON form of a hazard track.
type TrackResponse struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Details   string          `json:"details"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TrackedAt time.Time       `json:"tracked_at"`
}

// HazardDetailResponse is a hazard with its tracks, oldest first.
type HazardDetailResponse struct {
	HazardResponse
	Tracks []TrackResponse `json:"tracks"`
}

func toHazardResponse(h domain.Hazard) HazardResponse {
	return HazardResponse{
		ID:            h.ID,
		CameraID:      h.CameraID,
		SceneID:       h.SceneID,
		ViolationType: h.ViolationType,
		RiskLevel:     h.RiskLevel.String(),
		Location:      h.Location,
		Status:        string(h.Status),
		DetectedAt:    h.DetectedAt,
		ResolvedAt:    h.ResolvedAt,
		UpdatedAt:     h.UpdatedAt,
	}
}

// =============================================================================
// Handler Configuration
// =============================================================================

// HazardHandler serves read-only hazard queries.
type HazardHandler struct {
	hazards service.HazardService
	cameras *catalog.CameraDirectory
	logger  *slog.Logger
}

// NewHazardHandler creates a new HazardHandler.
func NewHazardHandler(hazards service.HazardService, cameras *catalog.CameraDirectory, logger *slog.Logger) *HazardHandler {
	return &HazardHandler{
		hazards: hazards,
		cameras: cameras,
		logger:  logger,
	}
}

// RegisterRoutes registers the hazard routes with the provided mux.
//
// Routes:
// - GET /api/cameras                     -> ListCameras
// - GET /api/cameras/{cameraID}/hazards  -> ListByCamera
// - GET /api/hazards/{hazardID}          -> Get
func (h *HazardHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/cameras", h.ListCameras)
	mux.HandleFunc("GET /api/cameras/{cameraID}/hazards", h.ListByCamera)
	mux.HandleFunc("GET /api/hazards/{hazardID}", h.Get)
}

// =============================================================================
// GET /api/cameras
// =============================================================================

// CameraResponse is the JSON form of a camera.
type CameraResponse struct {
	ID       string   `json:"camera_id"`
	Name     string   `json:"name"`
	Location string   `json:"location"`
	SceneIDs []string `json:"scene_ids"`

	ActiveHazards int64 `json:"active_hazards"`
}

// ListCameras lists the configured cameras with their active hazard counts.
func (h *HazardHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cameras := h.cameras.List()
	out := make([]CameraResponse, 0, len(cameras))
	for _, c := range cameras {
		active, err := h.hazards.CountActiveHazards(r.Context(), c.ID)
		if err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		out = append(out, CameraResponse{
			ID:            c.ID,
			Name:          c.Name,
			Location:      c.Location,
			SceneIDs:      c.SceneIDs,
			ActiveHazards: active,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": out})
}

// =============================================================================
// GET /api/cameras/{cameraID}/hazards?status=active|resolved
// =============================================================================

// ListByCamera lists a camera's hazards, newest first.
func (h *HazardHandler) ListByCamera(w http.ResponseWriter, r *http.Request) {
	const op = "handler.list_hazards"

	cameraID := r.PathValue("cameraID")
	if _, ok := h.cameras.Get(cameraID); !ok {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "camera", cameraID))
		return
	}

	var status *domain.HazardStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, ok := domain.ParseHazardStatus(raw)
		if !ok {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "status must be active or resolved"))
			return
		}
		status = &s
	}

	hazards, err := h.hazards.ListHazardsByCamera(r.Context(), cameraID, status)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]HazardResponse, 0, len(hazards))
	for _, hz := range hazards {
		out = append(out, toHazardResponse(hz))
	}
	writeJSON(w, http.StatusOK, map[string]any{"camera_id": cameraID, "hazards": out})
}

// =============================================================================
// GET /api/hazards/{hazardID}
// =============================================================================

// Get returns one hazard with its full track history.
func (h *HazardHandler) Get(w http.ResponseWriter, r *http.Request) {
	hazardID := r.PathValue("hazardID")

	hz, err := h.hazards.GetHazardByID(r.Context(), hazardID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	tracks, err := h.hazards.ListTracks(r.Context(), hazardID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := HazardDetailResponse{
		HazardResponse: toHazardResponse(*hz),
		Tracks:         make([]TrackResponse, 0, len(tracks)),
	}
	for _, t := range tracks {
		resp.Tracks = append(resp.Tracks, TrackResponse{
			ID:        t.ID,
			Status:    string(t.Status),
			Details:   t.Details,
			Payload:   t.Payload,
			TrackedAt: t.TrackedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
