package domain

// Condition is one criterion a scene rule is evaluated against.
type Condition struct {
	Type      string   `yaml:"type" json:"type"`
	Items     []string `yaml:"items" json:"items"`
	Standards []string `yaml:"standards,omitempty" json:"standards,omitempty"`
}

// SceneRule is a catalog entry describing one monitored hazard scene.
type SceneRule struct {
	ID                string      `yaml:"id" json:"id"`
	Name              string      `yaml:"name" json:"name"`
	Keywords          []string    `yaml:"keywords" json:"keywords"`
	Conditions        []Condition `yaml:"conditions" json:"conditions"`
	RiskLevel         RiskLevel   `yaml:"-" json:"risk_level"`
	ViolationType     string      `yaml:"violation_type" json:"violation_type"`
	Regulations       string      `yaml:"regulations" json:"regulations"`
	ViolationExamples []string    `yaml:"violation_examples,omitempty" json:"violation_examples,omitempty"`
}

// Camera is a site camera and the scene rules it monitors.
type Camera struct {
	ID       string
	Name     string
	Location string
	SceneIDs []string
}

// =============================================================================
// Detection Result
// =============================================================================

// HazardUpdate is the model's verdict on an already-tracked hazard.
type HazardUpdate struct {
	HazardID       string
	Status         HazardStatus
	CurrentState   string
	Recommendation string
}

// NewHazard is a hazard the model reports for the first time.
type NewHazard struct {
	SceneID             string
	ViolationType       string
	Location            string
	RiskLevel           RiskLevel
	Description         string
	RegulationReference string
	Recommendation      string
}

// NewTarget is the warning target naming hazards created in the same pass.
const NewTarget = "new"

// VoiceWarning is a warning the model proposes to broadcast on site.
type VoiceWarning struct {
	Target  string
	Message string
	Urgency string // raw label; folded by the alert emitter
}

// DetectionResult is the parsed output of one hazard analysis. Lists are
// never nil.
type DetectionResult struct {
	ExistingHazards []HazardUpdate
	NewHazards      []NewHazard
	VoiceWarnings   []VoiceWarning
	SceneState      *Observation // present only when the prompt asked for it
}

// Alert is a validated, ordered warning ready for publishing.
type Alert struct {
	Target   string  `json:"target"`
	HazardID string  `json:"hazard_id,omitempty"`
	Message  string  `json:"message"`
	Urgency  Urgency `json:"urgency"`
}
