// Package service contains the business logic layer.
//
// This file implements the hazard store: hazards and their append-only
// tracks over database/sql.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// HazardService defines the hazard store used by the reconciler and the
// read endpoints.
type HazardService interface {
	// CreateHazard records a new active hazard with a fresh id.
	// Returns domain.EINVALID for validation errors.
	CreateHazard(ctx context.Context, params domain.CreateHazardParams) (*domain.Hazard, error)

	// GetHazardByID retrieves a hazard.
	// Returns domain.ENOTFOUND if the hazard doesn't exist.
	GetHazardByID(ctx context.Context, id string) (*domain.Hazard, error)

	// UpdateHazardStatus persists the status, resolved_at and updated_at of h.
	// Returns domain.ENOTFOUND if the hazard doesn't exist.
	UpdateHazardStatus(ctx context.Context, h *domain.Hazard) error

	// ListHazardsByCamera lists a camera's hazards, newest first, optionally
	// filtered by status.
	ListHazardsByCamera(ctx context.Context, cameraID string, status *domain.HazardStatus) ([]domain.Hazard, error)

	// CountActiveHazards returns how many of a camera's hazards are active.
	CountActiveHazards(ctx context.Context, cameraID string) (int64, error)

	// AppendTrack records one observation of a hazard.
	AppendTrack(ctx context.Context, track domain.HazardTrack) (*domain.HazardTrack, error)

	// ListTracks returns a hazard's tracks, oldest first.
	ListTracks(ctx context.Context, hazardID string) ([]domain.HazardTrack, error)

	// InTx runs fn against a store bound to one database transaction. The
	// transaction commits if fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(store HazardService) error) error
}

// =============================================================================
// Implementation
// =============================================================================

// hazardService implements the HazardService interface.
type hazardService struct {
	db      *sql.DB // nil inside a transaction
	queries *repository.Queries
	now     func() time.Time
	logger  *slog.Logger
}

// NewHazardService creates a new HazardService.
func NewHazardService(db *sql.DB, queries *repository.Queries, logger *slog.Logger) HazardService {
	return &hazardService{
		db:      db,
		queries: queries,
		now:     time.Now,
		logger:  logger,
	}
}

// =============================================================================
// CreateHazard
// =============================================================================

func (s *hazardService) CreateHazard(ctx context.Context, params domain.CreateHazardParams) (*domain.Hazard, error) {
	const op = "hazard.create"

	if err := params.Validate(); err != nil {
		return nil, domain.Invalid(op, err.Error())
	}

	now := s.now().UTC()
	row, err := s.queries.CreateHazard(ctx, repository.CreateHazardParams{
		HazardID:      uuid.NewString(),
		CameraID:      params.CameraID,
		SceneID:       params.SceneID,
		ViolationType: params.ViolationType,
		RiskLevel:     params.RiskLevel.String(),
		Location:      params.Location,
		Status:        domain.HazardStatusActive.String(),
		DetectedAt:    params.DetectedAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create hazard")
	}

	return rowToHazard(row), nil
}

// =============================================================================
// GetHazardByID
// =============================================================================

func (s *hazardService) GetHazardByID(ctx context.Context, id string) (*domain.Hazard, error) {
	const op = "hazard.get"

	row, err := s.queries.GetHazardByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "hazard", id)
		}
		return nil, domain.Internal(err, op, "failed to get hazard")
	}

	return rowToHazard(row), nil
}

// =============================================================================
// UpdateHazardStatus
// =============================================================================

func (s *hazardService) UpdateHazardStatus(ctx context.Context, h *domain.Hazard) error {
	const op = "hazard.update_status"

	if !h.Status.IsValid() {
		return domain.Invalid(op, fmt.Sprintf("invalid status %q", h.Status))
	}

	// Surface a missing row as not found rather than a silent no-op
	if _, err := s.GetHazardByID(ctx, h.ID); err != nil {
		return err
	}

	var resolvedAt sql.NullTime
	if h.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: h.ResolvedAt.UTC(), Valid: true}
	}
	updatedAt := h.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	if err := s.queries.UpdateHazardStatus(ctx, repository.UpdateHazardStatusParams{
		Status:     h.Status.String(),
		ResolvedAt: resolvedAt,
		UpdatedAt:  updatedAt.UTC(),
		HazardID:   h.ID,
	}); err != nil {
		return domain.Internal(err, op, "failed to update hazard status")
	}

	return nil
}

// =============================================================================
// ListHazardsByCamera
// =============================================================================

func (s *hazardService) ListHazardsByCamera(ctx context.Context, cameraID string, status *domain.HazardStatus) ([]domain.Hazard, error) {
	const op = "hazard.list_by_camera"

	var (
		rows []repository.Hazard
		err  error
	)
	if status != nil {
		rows, err = s.queries.ListHazardsByCameraAndStatus(ctx, repository.ListHazardsByCameraAndStatusParams{
			CameraID: cameraID,
			Status:   status.String(),
		})
	} else {
		rows, err = s.queries.ListHazardsByCamera(ctx, cameraID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list hazards")
	}

	hazards := make([]domain.Hazard, 0, len(rows))
	for _, row := range rows {
		hazards = append(hazards, *rowToHazard(row))
	}
	return hazards, nil
}

func (s *hazardService) CountActiveHazards(ctx context.Context, cameraID string) (int64, error) {
	const op = "hazard.count_active"

	n, err := s.queries.CountActiveHazardsByCamera(ctx, cameraID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to count hazards")
	}
	return n, nil
}

// =============================================================================
// Tracks
// =============================================================================

func (s *hazardService) AppendTrack(ctx context.Context, track domain.HazardTrack) (*domain.HazardTrack, error) {
	const op = "hazard.append_track"

	if track.HazardID == "" {
		return nil, domain.Invalid(op, "hazard id is required")
	}
	if track.TrackedAt.IsZero() {
		track.TrackedAt = s.now()
	}

	payload := pqtype.NullRawMessage{}
	if len(track.Payload) > 0 {
		payload = pqtype.NullRawMessage{RawMessage: track.Payload, Valid: true}
	}

	row, err := s.queries.CreateHazardTrack(ctx, repository.CreateHazardTrackParams{
		HazardID:  track.HazardID,
		Status:    track.Status.String(),
		Details:   track.Details,
		Payload:   payload,
		TrackedAt: track.TrackedAt.UTC(),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to append hazard track")
	}

	return rowToTrack(row), nil
}

func (s *hazardService) ListTracks(ctx context.Context, hazardID string) ([]domain.HazardTrack, error) {
	const op = "hazard.list_tracks"

	rows, err := s.queries.ListHazardTracks(ctx, hazardID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list hazard tracks")
	}

	tracks := make([]domain.HazardTrack, 0, len(rows))
	for _, row := range rows {
		tracks = append(tracks, *rowToTrack(row))
	}
	return tracks, nil
}

// =============================================================================
// Transactions
// =============================================================================

func (s *hazardService) InTx(ctx context.Context, fn func(store HazardService) error) error {
	const op = "hazard.tx"

	// Already inside a transaction: join it
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	txStore := &hazardService{
		queries: s.queries.WithTx(tx),
		now:     s.now,
		logger:  s.logger,
	}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal(err, op, "failed to commit transaction")
	}
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func rowToHazard(row repository.Hazard) *domain.Hazard {
	h := &domain.Hazard{
		ID:            row.HazardID,
		CameraID:      row.CameraID,
		SceneID:       row.SceneID,
		ViolationType: row.ViolationType,
		RiskLevel:     domain.RiskLevel(row.RiskLevel),
		Location:      row.Location,
		Status:        domain.HazardStatus(row.Status),
		DetectedAt:    row.DetectedAt.UTC(),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if row.ResolvedAt.Valid {
		t := row.ResolvedAt.Time.UTC()
		h.ResolvedAt = &t
	}
	return h
}

func rowToTrack(row repository.HazardTrack) *domain.HazardTrack {
	t := &domain.HazardTrack{
		ID:        row.ID,
		HazardID:  row.HazardID,
		Status:    domain.HazardStatus(row.Status),
		Details:   row.Details,
		TrackedAt: row.TrackedAt.UTC(),
	}
	if row.Payload.Valid {
		t.Payload = append([]byte(nil), row.Payload.RawMessage...)
	}
	return t
}
