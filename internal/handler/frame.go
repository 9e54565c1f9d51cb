// Package handler contains the HTTP handlers of the sitewatch API.
//
// This file accepts camera frames and runs them through the analysis
// pipeline. Each request is one frame; the response is the frame result.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/sitewatch/internal/analysis"
	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/storage"
)

// =============================================================================
// Handler Configuration
// =============================================================================

// FrameAnalyzer is the part of the pipeline the frame handler drives.
type FrameAnalyzer interface {
	AnalyzeCameraFrame(ctx context.Context, req analysis.FrameRequest) analysis.FrameResult
	AnalyzeSceneFrame(ctx context.Context, req analysis.SceneFrameRequest) analysis.FrameResult
}

// FrameHandler handles frame submissions.
type FrameHandler struct {
	analyzer      FrameAnalyzer
	maxUploadSize int64
	logger        *slog.Logger
}

// NewFrameHandler creates a new FrameHandler.
func NewFrameHandler(analyzer FrameAnalyzer, maxUploadSize int64, logger *slog.Logger) *FrameHandler {
	return &FrameHandler{
		analyzer:      analyzer,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers the frame routes with the provided mux.
//
// Routes:
// - POST /api/cameras/{cameraID}/frames -> CameraFrame
// - POST /api/scenes/{sceneID}/frames   -> SceneFrame
func (h *FrameHandler) RegisterRoutes(mux *http.ServeMux, limitCamera, limitScene func(http.Handler) http.Handler) {
	mux.Handle("POST /api/cameras/{cameraID}/frames", limitCamera(http.HandlerFunc(h.CameraFrame)))
	mux.Handle("POST /api/scenes/{sceneID}/frames", limitScene(http.HandlerFunc(h.SceneFrame)))
}

// =============================================================================
// POST /api/cameras/{cameraID}/frames - Hazard analysis
// =============================================================================

// CameraFrame analyzes one frame for hazards. The frame is either the raw
// request body (Content-Type image/*) or the "image" part of a multipart
// form. An optional scene_id (query or form value) also tracks that
// scene's equipment state from the same frame.
func (h *FrameHandler) CameraFrame(w http.ResponseWriter, r *http.Request) {
	const op = "handler.camera_frame"

	image, contentType, err := h.readFrame(w, r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result := h.analyzer.AnalyzeCameraFrame(r.Context(), analysis.FrameRequest{
		CameraID:    r.PathValue("cameraID"),
		SceneID:     strings.TrimSpace(r.FormValue("scene_id")),
		Image:       image,
		ContentType: contentType,
	})
	writeJSON(w, ErrorCodeToHTTPStatus(result.Kind), result)
}

// =============================================================================
// POST /api/scenes/{sceneID}/frames - Scene state analysis
// =============================================================================

// SceneFrame records the equipment and personnel state seen in one frame.
func (h *FrameHandler) SceneFrame(w http.ResponseWriter, r *http.Request) {
	const op = "handler.scene_frame"

	image, contentType, err := h.readFrame(w, r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result := h.analyzer.AnalyzeSceneFrame(r.Context(), analysis.SceneFrameRequest{
		SceneID:     r.PathValue("sceneID"),
		Image:       image,
		ContentType: contentType,
	})
	writeJSON(w, ErrorCodeToHTTPStatus(result.Kind), result)
}

// readFrame extracts the frame bytes, bounded by the upload limit.
func (h *FrameHandler) readFrame(w http.ResponseWriter, r *http.Request, op string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	mediaType := r.Header.Get("Content-Type")
	if strings.HasPrefix(mediaType, "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
			return nil, "", uploadError(err, op)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", domain.Invalid(op, "multipart form must contain an image part")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", uploadError(err, op)
		}
		return checkFrame(op, data, header.Header.Get("Content-Type"))
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", uploadError(err, op)
	}
	return checkFrame(op, data, mediaType)
}

// checkFrame sniffs the content type. A declared type is only used for
// formats sniffing cannot recognize, such as TIFF.
func checkFrame(op string, data []byte, declared string) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", domain.Invalid(op, "frame is empty")
	}
	contentType := storage.SniffFrameType("", "", data)
	if contentType == "application/octet-stream" && storage.IsAllowedFrameType(declared) {
		contentType = declared
	}
	if !storage.IsAllowedFrameType(contentType) {
		return nil, "", domain.Invalid(op, "frame must be a JPEG, PNG, GIF, BMP or TIFF image")
	}
	return data, contentType, nil
}

func uploadError(err error, op string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return domain.Errorf(domain.ETOOLARGE, op, "frame exceeds the %d byte limit", maxErr.Limit)
	}
	return domain.Wrap(err, domain.EINVALID, op, "could not read frame")
}
