// Package domain contains core business types and interfaces.
//
// This file defines the Hazard lifecycle types: hazards detected on a
// camera, their append-only tracks, and the transition rules between
// statuses.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Hazard Status
// =============================================================================

// HazardStatus represents the lifecycle state of a hazard.
type HazardStatus string

const (
	// HazardStatusActive indicates the hazard is still observed on site.
	HazardStatusActive HazardStatus = "active"

	// HazardStatusResolved indicates the hazard has been rectified.
	HazardStatusResolved HazardStatus = "resolved"
)

var hazardStatusLabels = map[string]HazardStatus{
	"active":   HazardStatusActive,
	"存在":       HazardStatusActive,
	"未解决":      HazardStatusActive,
	"resolved": HazardStatusResolved,
	"已解决":      HazardStatusResolved,
	"已整改":      HazardStatusResolved,
}

// ParseHazardStatus folds s into a known status.
func ParseHazardStatus(s string) (HazardStatus, bool) {
	st, ok := hazardStatusLabels[FoldLabel(s)]
	return st, ok
}

// String returns the string representation of the status.
func (s HazardStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s HazardStatus) IsValid() bool {
	switch s {
	case HazardStatusActive, HazardStatusResolved:
		return true
	}
	return false
}

// TransitionPolicy decides which hazard status changes are accepted.
type TransitionPolicy struct {
	// AllowReopen permits resolved -> active.
	AllowReopen bool
}

// CanTransition reports whether from -> to is accepted. Same-status
// transitions are always accepted and change nothing.
func (p TransitionPolicy) CanTransition(from, to HazardStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case HazardStatusActive:
		return to == HazardStatusResolved
	case HazardStatusResolved:
		return p.AllowReopen && to == HazardStatusActive
	}
	return false
}

// =============================================================================
// Hazard Domain Type
// =============================================================================

// Hazard is a detected safety violation tied to a camera and a scene rule.
type Hazard struct {
	ID            string
	CameraID      string
	SceneID       string
	ViolationType string
	RiskLevel     RiskLevel
	Location      string
	Status        HazardStatus
	DetectedAt    time.Time
	ResolvedAt    *time.Time // set once, on the first transition to resolved
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsActive returns true if the hazard is still active.
func (h *Hazard) IsActive() bool {
	return h.Status == HazardStatusActive
}

// TransitionTo applies a status change under the given policy.
// It returns false when nothing changed.
func (h *Hazard) TransitionTo(p TransitionPolicy, target HazardStatus, now time.Time) (bool, error) {
	if !p.CanTransition(h.Status, target) {
		return false, fmt.Errorf("cannot transition hazard from %s to %s", h.Status, target)
	}
	if h.Status == target {
		return false, nil
	}
	h.Status = target
	h.UpdatedAt = now
	switch target {
	case HazardStatusResolved:
		if h.ResolvedAt == nil {
			t := now
			h.ResolvedAt = &t
		}
	case HazardStatusActive:
		h.ResolvedAt = nil
	}
	return true, nil
}

// HazardTrack is one append-only observation of a hazard.
type HazardTrack struct {
	ID        int64
	HazardID  string
	Status    HazardStatus
	Details   string
	Payload   json.RawMessage // structured recommendation, may be nil
	TrackedAt time.Time
}

// HazardWithTracks bundles a hazard with its history, oldest track first.
type HazardWithTracks struct {
	Hazard
	Tracks []HazardTrack
}

// CreateHazardParams contains validated parameters for recording a hazard.
type CreateHazardParams struct {
	CameraID      string    // Required: Camera the hazard was seen by
	SceneID       string    // Required: Scene rule it violates
	ViolationType string    // Required: Violation type label
	RiskLevel     RiskLevel // Required: Assessed risk
	Location      string    // Optional: Where on site
	DetectedAt    time.Time // Required: First sighting
}

// Validate checks required fields.
func (p CreateHazardParams) Validate() error {
	switch {
	case p.CameraID == "":
		return fmt.Errorf("camera id is required")
	case p.SceneID == "":
		return fmt.Errorf("scene id is required")
	case p.ViolationType == "":
		return fmt.Errorf("violation type is required")
	case !p.RiskLevel.IsValid():
		return fmt.Errorf("invalid risk level %q", p.RiskLevel)
	case p.DetectedAt.IsZero():
		return fmt.Errorf("detection time is required")
	}
	return nil
}
