// Package parser turns untrusted vision model output into structured
// detection results and scene observations.
//
// Model text is never trusted: the JSON payload is extracted from the
// surrounding prose, decoded strictly and validated against the expected
// shape. Every failure is reported as a *domain.ParseError carrying a
// bounded snippet of the raw text.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

const (
	SchemaDetection  = "detection"
	SchemaSceneState = "scene_state"
)

const fence = "```"

// ExtractJSON returns the JSON payload embedded in model text: the interior
// of the first fenced block labelled json, else the first fenced block whose
// interior starts with an object, else the whole trimmed text.
func ExtractJSON(raw string) string {
	blocks := fencedBlocks(raw)
	for _, b := range blocks {
		if strings.EqualFold(b.label, "json") {
			return b.body
		}
	}
	for _, b := range blocks {
		if strings.HasPrefix(b.body, "{") {
			return b.body
		}
	}
	return strings.TrimSpace(raw)
}

type block struct {
	label string
	body  string
}

// fencedBlocks splits raw into its fenced blocks. The first line of a block
// is its label; an unterminated block runs to the end of the text.
func fencedBlocks(raw string) []block {
	var out []block
	rest := raw
	for {
		i := strings.Index(rest, fence)
		if i < 0 {
			return out
		}
		rest = rest[i+len(fence):]

		seg := rest
		end := strings.Index(rest, fence)
		if end >= 0 {
			seg = rest[:end]
		}

		var b block
		if nl := strings.IndexByte(seg, '\n'); nl >= 0 {
			b = block{label: strings.TrimSpace(seg[:nl]), body: strings.TrimSpace(seg[nl+1:])}
		} else {
			body := strings.TrimSpace(seg)
			if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
				b = block{label: "json", body: strings.TrimSpace(body[4:])}
			} else {
				b = block{body: body}
			}
		}
		out = append(out, b)

		if end < 0 {
			return out
		}
		rest = rest[end+len(fence):]
	}
}

// decodeObject strictly decodes a single JSON object.
func decodeObject(body string) (map[string]any, error) {
	if body == "" {
		return nil, errors.New("no JSON payload found")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected content after JSON object")
	}
	obj, ok := top.(map[string]any)
	if !ok {
		return nil, errors.New("top-level value is not an object")
	}
	return obj, nil
}

// ParseDetection parses a hazard analysis response.
func ParseDetection(raw string) (*domain.DetectionResult, error) {
	obj, err := decodeObject(ExtractJSON(raw))
	if err != nil {
		return nil, domain.NewParseError(SchemaDetection, err.Error(), raw)
	}
	result, err := detectionFrom(obj)
	if err != nil {
		return nil, domain.NewParseError(SchemaDetection, err.Error(), raw)
	}
	return result, nil
}

// ParseSceneState parses an equipment and personnel state response.
func ParseSceneState(raw string) (*domain.Observation, error) {
	obj, err := decodeObject(ExtractJSON(raw))
	if err != nil {
		return nil, domain.NewParseError(SchemaSceneState, err.Error(), raw)
	}
	obs, err := observationFrom(obj, "")
	if err != nil {
		return nil, domain.NewParseError(SchemaSceneState, err.Error(), raw)
	}
	return obs, nil
}

func detectionFrom(obj map[string]any) (*domain.DetectionResult, error) {
	result := &domain.DetectionResult{
		ExistingHazards: []domain.HazardUpdate{},
		NewHazards:      []domain.NewHazard{},
		VoiceWarnings:   []domain.VoiceWarning{},
	}

	existing, err := objectList(obj, "existing_hazards", true)
	if err != nil {
		return nil, err
	}
	for i, e := range existing {
		f := fields{obj: e, path: fmt.Sprintf("existing_hazards[%d]", i)}
		u := domain.HazardUpdate{
			HazardID:       f.str("hazard_id", true),
			CurrentState:   f.str("current_state", true),
			Recommendation: f.str("recommendation", false),
		}
		status := f.str("status", true)
		if f.err == nil {
			st, ok := domain.ParseHazardStatus(status)
			if !ok {
				f.fail("status", fmt.Sprintf("unknown status %q", status))
			}
			u.Status = st
		}
		if f.err != nil {
			return nil, f.err
		}
		result.ExistingHazards = append(result.ExistingHazards, u)
	}

	created, err := objectList(obj, "new_hazards", true)
	if err != nil {
		return nil, err
	}
	for i, e := range created {
		f := fields{obj: e, path: fmt.Sprintf("new_hazards[%d]", i)}
		h := domain.NewHazard{
			SceneID:             f.str("scene_id", true),
			ViolationType:       f.str("violation_type", true),
			Location:            f.str("location", true),
			Description:         f.str("description", true),
			RegulationReference: f.str("regulation_reference", false),
			Recommendation:      f.str("recommendation", false),
		}
		risk := f.str("risk_level", true)
		if f.err == nil {
			level, ok := domain.ParseRiskLevel(risk)
			if !ok {
				f.fail("risk_level", fmt.Sprintf("unknown risk level %q", risk))
			}
			h.RiskLevel = level
		}
		if f.err != nil {
			return nil, f.err
		}
		result.NewHazards = append(result.NewHazards, h)
	}

	warnings, err := objectList(obj, "voice_warnings", false)
	if err != nil {
		return nil, err
	}
	for i, e := range warnings {
		f := fields{obj: e, path: fmt.Sprintf("voice_warnings[%d]", i)}
		w := domain.VoiceWarning{
			Target:  f.str("target", true),
			Message: f.str("message", true),
			Urgency: f.str("urgency", false),
		}
		if f.err != nil {
			return nil, f.err
		}
		result.VoiceWarnings = append(result.VoiceWarnings, w)
	}

	if v, ok := obj["scene_state"]; ok && v != nil {
		state, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("scene_state: expected object")
		}
		obs, err := observationFrom(state, "scene_state.")
		if err != nil {
			return nil, err
		}
		result.SceneState = obs
	}

	return result, nil
}

func observationFrom(obj map[string]any, prefix string) (*domain.Observation, error) {
	obs := &domain.Observation{Personnel: []domain.Person{}}

	crane, err := object(obj, "crane", prefix, true)
	if err != nil {
		return nil, err
	}
	cf := fields{obj: crane, path: prefix + "crane"}
	obs.Crane.Presence = cf.boolean("presence")
	obs.Crane.Position = domain.Text(cf.str("position", false))
	obs.Crane.Confidence = clamp(cf.number("confidence"))

	status := cf.str("status", false)
	switch {
	case cf.err != nil:
	case status == "" && !obs.Crane.Presence:
		obs.Crane.Status = domain.WorkingStateAbsent
	default:
		ws, ok := domain.ParseWorkingState(status)
		if !ok {
			cf.fail("status", fmt.Sprintf("unknown working state %q", status))
		}
		obs.Crane.Status = ws
	}

	if feats := cf.object("features"); feats != nil {
		ff := fields{obj: feats, path: cf.path + ".features"}
		obs.Crane.Features = &domain.EquipmentFeatures{
			Model:         domain.Text(ff.str("model", false)),
			Color:         domain.Text(ff.str("color", false)),
			BoomState:     domain.Text(ff.str("boom_state", false)),
			BoomDirection: domain.Text(ff.str("boom_direction", false)),
			BoomAngle:     domain.Text(ff.str("boom_angle", false)),
		}
		cf.absorb(ff.err)
	}
	if mv := cf.object("movement"); mv != nil {
		mf := fields{obj: mv, path: cf.path + ".movement"}
		obs.Crane.Movement = &domain.Movement{
			PositionChanged:       mf.boolean("position_changed"),
			MovementDescription:   domain.Text(mf.str("movement_description", false)),
			BoomChanged:           mf.boolean("boom_changed"),
			BoomChangeDescription: domain.Text(mf.str("boom_change_description", false)),
		}
		cf.absorb(mf.err)
	}
	if cf.err != nil {
		return nil, cf.err
	}

	people, err := objectList(obj, "personnel", true)
	if err != nil {
		return nil, prefixed(prefix, err)
	}
	for i, p := range people {
		pf := fields{obj: p, path: fmt.Sprintf("%spersonnel[%d]", prefix, i)}
		person := domain.Person{
			Position:        domain.Text(pf.str("position", false)),
			HelmetColor:     domain.Text(pf.str("helmet_color", false)),
			Behavior:        domain.Text(pf.str("behavior", false)),
			DistanceToCrane: domain.Text(pf.str("distance_to_crane", false)),
		}
		person.Role = parseRole(pf.str("role", false), string(person.HelmetColor))
		if pf.err != nil {
			return nil, pf.err
		}
		obs.Personnel = append(obs.Personnel, person)
	}

	safety, err := object(obj, "safety_status", prefix, true)
	if err != nil {
		return nil, err
	}
	sf := fields{obj: safety, path: prefix + "safety_status"}
	obs.SafetyStatus.HasSupervisor = sf.boolean("has_supervisor")
	obs.SafetyStatus.HasCraneSupervisor = sf.boolean("has_crane_supervisor")
	obs.SafetyStatus.Issues = sf.strings("issues")
	if risk := sf.str("risk_level", false); risk != "" && sf.err == nil {
		level, ok := domain.ParseRiskLevel(risk)
		if !ok {
			sf.fail("risk_level", fmt.Sprintf("unknown risk level %q", risk))
		}
		obs.SafetyStatus.RiskLevel = level
	}
	if sf.err != nil {
		return nil, sf.err
	}

	analysis, err := object(obj, "state_analysis", prefix, false)
	if err != nil {
		return nil, err
	}
	if analysis != nil {
		af := fields{obj: analysis, path: prefix + "state_analysis"}
		obs.StateAnalysis = domain.ContinuityAssessment{
			ContinuousOperation:  af.boolean("continuous_operation"),
			OperationDescription: domain.Text(af.str("operation_description", false)),
			PersonnelChanges:     domain.Text(af.str("personnel_changes", false)),
		}
		if af.err != nil {
			return nil, af.err
		}
	}

	return obs, nil
}

func parseRole(label, helmet string) domain.PersonRole {
	switch domain.FoldLabel(label) {
	case "worker", "工人":
		return domain.PersonRoleWorker
	case "manager", "supervisor", "管理人员":
		return domain.PersonRoleManager
	}
	return domain.RoleFromHelmet(helmet)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func prefixed(prefix string, err error) error {
	if prefix == "" {
		return err
	}
	return fmt.Errorf("%s%w", prefix, err)
}
