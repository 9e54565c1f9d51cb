package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

var folder = cases.Fold()

// FoldLabel normalizes a model- or operator-supplied label for comparison.
// Full-width characters are narrowed, case is folded and surrounding
// whitespace is removed.
func FoldLabel(s string) string {
	return strings.TrimSpace(folder.String(width.Fold.String(s)))
}

// =============================================================================
// Risk Level
// =============================================================================

// RiskLevel is the severity assigned to a scene rule or hazard.
type RiskLevel string

const (
	RiskLevelHigh   RiskLevel = "high"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelLow    RiskLevel = "low"
)

var riskLabels = map[string]RiskLevel{
	"high":   RiskLevelHigh,
	"高":      RiskLevelHigh,
	"高风险":    RiskLevelHigh,
	"重大":     RiskLevelHigh,
	"medium": RiskLevelMedium,
	"中":      RiskLevelMedium,
	"中等":     RiskLevelMedium,
	"中风险":    RiskLevelMedium,
	"较大":     RiskLevelMedium,
	"low":    RiskLevelLow,
	"低":      RiskLevelLow,
	"低风险":    RiskLevelLow,
	"一般":     RiskLevelLow,
}

// ParseRiskLevel accepts the English labels in any case or width and the
// localized labels used by site safety regulations.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	r, ok := riskLabels[FoldLabel(s)]
	return r, ok
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// IsValid returns true if the risk level is a recognized value.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelHigh, RiskLevelMedium, RiskLevelLow:
		return true
	}
	return false
}

// Rank orders risk levels; higher is more severe. Unknown levels rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelHigh:
		return 3
	case RiskLevelMedium:
		return 2
	case RiskLevelLow:
		return 1
	}
	return 0
}

// =============================================================================
// Urgency
// =============================================================================

// Urgency is the priority of a voice/text warning.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

var urgencyLabels = map[string]Urgency{
	"high":   UrgencyHigh,
	"urgent": UrgencyHigh,
	"高":      UrgencyHigh,
	"紧急":     UrgencyHigh,
	"medium": UrgencyMedium,
	"中":      UrgencyMedium,
	"low":    UrgencyLow,
	"低":      UrgencyLow,
}

// ParseUrgency folds s into a known urgency.
func ParseUrgency(s string) (Urgency, bool) {
	u, ok := urgencyLabels[FoldLabel(s)]
	return u, ok
}

// Rank orders urgencies; higher is more urgent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}
