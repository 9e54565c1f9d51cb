// Package alert turns the warnings proposed by one reconciliation pass into
// an ordered list of alerts and fans them out to on-site speakers and live
// dashboards.
package alert

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/DukeRupert/sitewatch/internal/domain"
	"github.com/DukeRupert/sitewatch/internal/metrics"
)

// Emitter validates and orders warnings. It never synthesizes alerts of its
// own.
type Emitter struct {
	logger *slog.Logger
}

// NewEmitter creates an Emitter.
func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger.With("component", "alert_emitter")}
}

// Emit returns the valid warnings as alerts, most urgent first. Warnings of
// equal urgency keep their relative order, and a repeated (target, message)
// pair is kept only once.
//
// known holds the hazard ids a warning may target. The target "new" is
// accepted only when created is non-empty; when exactly one hazard was
// created the alert carries its id.
func (e *Emitter) Emit(warnings []domain.VoiceWarning, known map[string]bool, created []string) []domain.Alert {
	alerts := make([]domain.Alert, 0, len(warnings))

	for i, w := range warnings {
		a, ok := e.validate(i, w, known, created)
		if !ok {
			continue
		}
		alerts = append(alerts, a)
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Urgency.Rank() > alerts[j].Urgency.Rank()
	})

	out := alerts[:0]
	seen := make(map[[2]string]bool, len(alerts))
	for _, a := range alerts {
		k := [2]string{a.Target, a.Message}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
		metrics.AlertEmitted(string(a.Urgency))
	}
	return out
}

func (e *Emitter) validate(index int, w domain.VoiceWarning, known map[string]bool, created []string) (domain.Alert, bool) {
	target := strings.TrimSpace(w.Target)
	message := strings.TrimSpace(w.Message)

	urgency, ok := domain.ParseUrgency(w.Urgency)
	if !ok {
		e.logger.Warn("unknown warning urgency, using low",
			"index", index,
			"urgency", w.Urgency,
		)
		urgency = domain.UrgencyLow
	}

	if message == "" {
		e.logger.Warn("dropping warning without message", "index", index, "target", target)
		metrics.AlertDropped(string(urgency))
		return domain.Alert{}, false
	}

	a := domain.Alert{Message: message, Urgency: urgency}
	switch {
	case domain.FoldLabel(target) == domain.NewTarget:
		if len(created) == 0 {
			e.logger.Warn("dropping warning for new hazards, none were created", "index", index)
			metrics.AlertDropped(string(urgency))
			return domain.Alert{}, false
		}
		a.Target = domain.NewTarget
		if len(created) == 1 {
			a.HazardID = created[0]
		}
	case known[target]:
		a.Target = target
		a.HazardID = target
	default:
		e.logger.Warn("dropping warning with unknown target", "index", index, "target", target)
		metrics.AlertDropped(string(urgency))
		return domain.Alert{}, false
	}
	return a, true
}
