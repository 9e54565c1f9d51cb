package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/lock"
	"github.com/DukeRupert/sitewatch/internal/metrics"
)

// ReconcileOutcome summarizes one applied detection.
type ReconcileOutcome struct {
	// Updated lists hazards that received a track, in detection order.
	Updated []string

	// Resolved lists hazards that became resolved in this pass.
	Resolved []string

	// Created holds the hazards recorded in this pass, in detection order.
	Created []domain.Hazard

	// Issues are per-entry problems. They never abort the pass.
	Issues []*domain.ReconciliationError
}

// CreatedIDs returns the ids of Created.
func (o *ReconcileOutcome) CreatedIDs() []string {
	ids := make([]string, 0, len(o.Created))
	for _, h := range o.Created {
		ids = append(ids, h.ID)
	}
	return ids
}

// trackPayload is the structured part of a hazard track.
type trackPayload struct {
	ReportedStatus      string `json:"reported_status,omitempty"`
	Recommendation      string `json:"recommendation,omitempty"`
	Description         string `json:"description,omitempty"`
	RegulationReference string `json:"regulation_reference,omitempty"`
	Location            string `json:"location,omitempty"`
	RiskLevel           string `json:"risk_level,omitempty"`
}

// Reconciler applies parsed detections to the hazard store.
type Reconciler struct {
	store  HazardService
	locker lock.Locker
	policy domain.TransitionPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewReconciler creates a Reconciler. A nil locker means an in-process
// KeyedMutex.
func NewReconciler(store HazardService, locker lock.Locker, policy domain.TransitionPolicy, logger *slog.Logger) *Reconciler {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Reconciler{
		store:  store,
		locker: locker,
		policy: policy,
		now:    time.Now,
		logger: logger.With("component", "reconciler"),
	}
}

// Apply reconciles result against the hazards of cameraID.
//
// Every write of the pass happens in one transaction while the referenced
// hazards are locked. Entries that cannot be applied become Issues; a store
// failure rolls the whole pass back and returns *domain.PersistenceError.
func (r *Reconciler) Apply(ctx context.Context, cameraID string, result *domain.DetectionResult) (*ReconcileOutcome, error) {
	return r.ApplyWith(ctx, cameraID, result, nil)
}

// ApplyWith is Apply with a hook that runs inside the transaction after the
// hazard writes and before commit. An error from beforeCommit rolls the
// hazard writes back and is returned as is.
//
// beforeCommit may run more than once if the store retries the transaction,
// so it must leave nothing behind when it fails.
func (r *Reconciler) ApplyWith(ctx context.Context, cameraID string, result *domain.DetectionResult, beforeCommit func(ctx context.Context) error) (*ReconcileOutcome, error) {
	const op = "reconcile.apply"

	if cameraID == "" {
		return nil, domain.Invalid(op, "camera id is required")
	}
	if result == nil {
		return nil, domain.Invalid(op, "detection result is required")
	}

	keys := make([]string, 0, len(result.ExistingHazards))
	for _, u := range result.ExistingHazards {
		keys = append(keys, "hazard:"+u.HazardID)
	}
	unlock, err := lock.LockAll(ctx, r.locker, keys)
	if err != nil {
		return nil, &domain.PersistenceError{Op: op, Err: err}
	}
	defer unlock()

	now := r.now().UTC()
	start := time.Now()

	var (
		outcome *ReconcileOutcome
		hookErr error
	)
	err = r.store.InTx(ctx, func(tx HazardService) error {
		hookErr = nil
		// Reset on every attempt so nothing from a rolled back pass leaks
		outcome = &ReconcileOutcome{
			Updated:  []string{},
			Resolved: []string{},
			Created:  []domain.Hazard{},
			Issues:   []*domain.ReconciliationError{},
		}
		for _, u := range result.ExistingHazards {
			if err := r.applyUpdate(ctx, tx, cameraID, u, now, outcome); err != nil {
				return err
			}
		}
		for _, n := range result.NewHazards {
			if err := r.createHazard(ctx, tx, cameraID, n, now, outcome); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if beforeCommit != nil {
			hookErr = beforeCommit(ctx)
			return hookErr
		}
		return nil
	})
	metrics.PersistAttempt("hazards", err, time.Since(start))
	if err != nil {
		r.logger.Error("reconciliation rolled back", "camera_id", cameraID, "error", err)
		if hookErr != nil && errors.Is(err, hookErr) {
			return nil, hookErr
		}
		return nil, &domain.PersistenceError{Op: op, Err: err}
	}

	for _, h := range outcome.Created {
		metrics.HazardCreated(h.RiskLevel.String())
	}
	for range outcome.Resolved {
		metrics.HazardResolved()
	}
	for _, issue := range outcome.Issues {
		metrics.ReconciliationIssue(issue.Reason)
	}

	r.logger.Info("detection reconciled",
		"camera_id", cameraID,
		"updated", len(outcome.Updated),
		"resolved", len(outcome.Resolved),
		"created", len(outcome.Created),
		"issues", len(outcome.Issues),
	)
	return outcome, nil
}

func (r *Reconciler) applyUpdate(ctx context.Context, tx HazardService, cameraID string, u domain.HazardUpdate, now time.Time, out *ReconcileOutcome) error {
	h, err := tx.GetHazardByID(ctx, u.HazardID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			r.issue(out, u.HazardID, domain.ReasonUnknownHazard, "")
			return nil
		}
		return err
	}
	if h.CameraID != cameraID {
		r.issue(out, u.HazardID, domain.ReasonCameraMismatch, "hazard belongs to camera "+h.CameraID)
		return nil
	}

	from := h.Status
	changed, terr := h.TransitionTo(r.policy, u.Status, now)
	if terr != nil {
		// The status stays as it was, but the observation is still recorded
		r.issue(out, u.HazardID, domain.ReasonIllegalTransition, terr.Error())
	}
	if changed {
		if err := tx.UpdateHazardStatus(ctx, h); err != nil {
			return err
		}
		if h.Status == domain.HazardStatusResolved {
			out.Resolved = append(out.Resolved, h.ID)
		}
		r.logger.Debug("hazard status changed", "hazard_id", h.ID, "from", from, "to", h.Status)
	}

	payload, err := json.Marshal(trackPayload{
		ReportedStatus: u.Status.String(),
		Recommendation: u.Recommendation,
	})
	if err != nil {
		return err
	}
	if _, err := tx.AppendTrack(ctx, domain.HazardTrack{
		HazardID:  h.ID,
		Status:    h.Status,
		Details:   u.CurrentState,
		Payload:   payload,
		TrackedAt: now,
	}); err != nil {
		return err
	}

	out.Updated = append(out.Updated, h.ID)
	return nil
}

func (r *Reconciler) createHazard(ctx context.Context, tx HazardService, cameraID string, n domain.NewHazard, now time.Time, out *ReconcileOutcome) error {
	h, err := tx.CreateHazard(ctx, domain.CreateHazardParams{
		CameraID:      cameraID,
		SceneID:       n.SceneID,
		ViolationType: n.ViolationType,
		RiskLevel:     n.RiskLevel,
		Location:      n.Location,
		DetectedAt:    now,
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.EINVALID {
			r.issue(out, "", domain.ReasonInvalidHazard, domain.ErrorMessage(err))
			return nil
		}
		return err
	}

	payload, err := json.Marshal(trackPayload{
		Description:         n.Description,
		RegulationReference: n.RegulationReference,
		Location:            n.Location,
		RiskLevel:           n.RiskLevel.String(),
		Recommendation:      n.Recommendation,
	})
	if err != nil {
		return err
	}
	if _, err := tx.AppendTrack(ctx, domain.HazardTrack{
		HazardID:  h.ID,
		Status:    h.Status,
		Details:   n.Description,
		Payload:   payload,
		TrackedAt: now,
	}); err != nil {
		return err
	}

	out.Created = append(out.Created, *h)
	r.logger.Info("hazard created",
		"hazard_id", h.ID,
		"camera_id", cameraID,
		"scene_id", h.SceneID,
		"risk_level", h.RiskLevel,
	)
	return nil
}

func (r *Reconciler) issue(out *ReconcileOutcome, hazardID, reason, detail string) {
	out.Issues = append(out.Issues, &domain.ReconciliationError{
		HazardID: hazardID,
		Reason:   reason,
		Detail:   detail,
	})
	r.logger.Warn("hazard update not applied", "hazard_id", hazardID, "reason", reason, "detail", detail)
}

// IsRetryable reports whether a failed Apply may be attempted again with the
// same input.
func IsRetryable(err error) bool {
	var pe *domain.PersistenceError
	return errors.As(err, &pe) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
