package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Loose scalars
// =============================================================================

// Text is a string field that also accepts numbers and booleans, which
// vision models emit interchangeably for free-form values such as angles
// and distances.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*t = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = Text(v)
	case s == "true" || s == "false":
		*t = Text(s)
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return fmt.Errorf("expected string or number, got %s", Truncate(s, 32))
		}
		*t = Text(s)
	}
	return nil
}

// =============================================================================
// Equipment
// =============================================================================

// WorkingState describes whether tracked equipment is operating.
type WorkingState string

const (
	WorkingStateWorking WorkingState = "working"
	WorkingStateIdle    WorkingState = "idle"
	WorkingStateAbsent  WorkingState = "absent"
)

var workingStateLabels = map[string]WorkingState{
	"working": WorkingStateWorking,
	"工作":      WorkingStateWorking,
	"作业中":     WorkingStateWorking,
	"idle":    WorkingStateIdle,
	"静止":      WorkingStateIdle,
	"空闲":      WorkingStateIdle,
	"absent":  WorkingStateAbsent,
	"不存在":     WorkingStateAbsent,
}

// ParseWorkingState folds s into a known working state.
func ParseWorkingState(s string) (WorkingState, bool) {
	w, ok := workingStateLabels[FoldLabel(s)]
	return w, ok
}

// EquipmentFeatures are identifying attributes of a piece of equipment.
type EquipmentFeatures struct {
	Model         Text `json:"model,omitempty"`
	Color         Text `json:"color,omitempty"`
	BoomState     Text `json:"boom_state,omitempty"`
	BoomDirection Text `json:"boom_direction,omitempty"`
	BoomAngle     Text `json:"boom_angle,omitempty"`
}

// Movement describes change since the previous observation.
type Movement struct {
	PositionChanged       bool `json:"position_changed"`
	MovementDescription   Text `json:"movement_description,omitempty"`
	BoomChanged           bool `json:"boom_changed"`
	BoomChangeDescription Text `json:"boom_change_description,omitempty"`
}

// EquipmentState is the observed state of the tracked equipment.
type EquipmentState struct {
	Presence   bool               `json:"presence"`
	Position   Text               `json:"position,omitempty"`
	Features   *EquipmentFeatures `json:"features,omitempty"`
	Status     WorkingState       `json:"status"`
	Confidence float64            `json:"confidence"`
	Movement   *Movement          `json:"movement,omitempty"`
}

// =============================================================================
// Personnel
// =============================================================================

// PersonRole distinguishes workers from supervisors.
type PersonRole string

const (
	PersonRoleWorker  PersonRole = "worker"
	PersonRoleManager PersonRole = "manager"
	PersonRoleOther   PersonRole = "other"
)

// RoleFromHelmet infers a role from helmet colour: red and white helmets
// are worn by supervisors on site, everything else by workers.
func RoleFromHelmet(color string) PersonRole {
	c := FoldLabel(color)
	switch {
	case c == "":
		return PersonRoleOther
	case strings.Contains(c, "red"), strings.Contains(c, "红"),
		strings.Contains(c, "white"), strings.Contains(c, "白"):
		return PersonRoleManager
	}
	return PersonRoleWorker
}

// Person is one person observed in the frame.
type Person struct {
	Position        Text       `json:"position,omitempty"`
	HelmetColor     Text       `json:"helmet_color,omitempty"`
	Role            PersonRole `json:"role"`
	Behavior        Text       `json:"behavior,omitempty"`
	DistanceToCrane Text       `json:"distance_to_crane,omitempty"`
}

// =============================================================================
// Assessments
// =============================================================================

// SafetyAssessment summarizes supervision and risk in the frame.
type SafetyAssessment struct {
	HasSupervisor      bool      `json:"has_supervisor"`
	HasCraneSupervisor bool      `json:"has_crane_supervisor"`
	RiskLevel          RiskLevel `json:"risk_level,omitempty"`
	Issues             []string  `json:"issues"`
}

// ContinuityAssessment compares the frame against the recent history.
type ContinuityAssessment struct {
	ContinuousOperation  bool `json:"continuous_operation"`
	OperationDescription Text `json:"operation_description,omitempty"`
	PersonnelChanges     Text `json:"personnel_changes,omitempty"`
}

// Observation is the structured state of one scene at one instant. Once
// recorded into a timeline it is never modified.
type Observation struct {
	Timestamp     time.Time            `json:"timestamp"`
	Crane         EquipmentState       `json:"crane"`
	Personnel     []Person             `json:"personnel"`
	SafetyStatus  SafetyAssessment     `json:"safety_status"`
	StateAnalysis ContinuityAssessment `json:"state_analysis"`
}

// Validate checks the invariants every stored observation must hold.
func (o *Observation) Validate() error {
	if o.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	switch o.Crane.Status {
	case WorkingStateWorking, WorkingStateIdle, WorkingStateAbsent:
	default:
		return fmt.Errorf("invalid equipment status %q", o.Crane.Status)
	}
	if o.Crane.Confidence < 0 || o.Crane.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", o.Crane.Confidence)
	}
	if o.SafetyStatus.RiskLevel != "" && !o.SafetyStatus.RiskLevel.IsValid() {
		return fmt.Errorf("invalid risk level %q", o.SafetyStatus.RiskLevel)
	}
	return nil
}

// SceneTimeline is the bounded history of one scene. History is ordered
// oldest first and never includes Current.
type SceneTimeline struct {
	History []Observation `json:"history"`
	Current *Observation  `json:"current"`
}

// SceneInfo summarizes a scene timeline.
type SceneInfo struct {
	SceneID      string    `json:"scene_id"`
	HistoryCount int       `json:"history_count"`
	HasCurrent   bool      `json:"has_current"`
	LastUpdate   time.Time `json:"last_update"`
}
