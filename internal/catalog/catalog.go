// Package catalog loads the static scene rules and camera assignments the
// analysis pipeline is configured with. Both are read once at start and
// never modified afterwards, so lookups take no locks.
package catalog

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

// sceneFile is the document root. JSON documents decode through the same
// path since YAML is a superset of JSON.
type sceneFile struct {
	Scenes []sceneEntry `yaml:"construction_scenes"`
}

type sceneEntry struct {
	domain.SceneRule `yaml:",inline"`
	RiskLevel        string `yaml:"risk_level"`
}

// SceneCatalog is the immutable set of scene rules.
type SceneCatalog struct {
	scenes []domain.SceneRule
	byID   map[string]int
}

// Load reads and validates the scene rule document at path. Any problem
// with the document is returned as an error; there is no partial catalog.
func Load(path string, logger *slog.Logger) (*SceneCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene rules: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scene rules %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("scene catalog loaded", "path", path, "scenes", len(c.scenes))
	}
	return c, nil
}

// Parse builds a catalog from an in-memory document.
func Parse(data []byte) (*SceneCatalog, error) {
	var doc sceneFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}
	if len(doc.Scenes) == 0 {
		return nil, fmt.Errorf("no construction_scenes defined")
	}

	c := &SceneCatalog{
		scenes: make([]domain.SceneRule, 0, len(doc.Scenes)),
		byID:   make(map[string]int, len(doc.Scenes)),
	}
	for i, entry := range doc.Scenes {
		rule := entry.SceneRule
		if rule.ID == "" {
			return nil, fmt.Errorf("scene %d: missing id", i)
		}
		if _, dup := c.byID[rule.ID]; dup {
			return nil, fmt.Errorf("scene %s: duplicate id", rule.ID)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("scene %s: empty keyword set", rule.ID)
		}
		if len(rule.Conditions) == 0 {
			return nil, fmt.Errorf("scene %s: empty condition list", rule.ID)
		}
		for j, cond := range rule.Conditions {
			if cond.Type == "" || len(cond.Items) == 0 {
				return nil, fmt.Errorf("scene %s: condition %d needs a type and items", rule.ID, j)
			}
		}
		level, ok := domain.ParseRiskLevel(entry.RiskLevel)
		if !ok {
			return nil, fmt.Errorf("scene %s: unknown risk level %q", rule.ID, entry.RiskLevel)
		}
		rule.RiskLevel = level

		c.byID[rule.ID] = len(c.scenes)
		c.scenes = append(c.scenes, rule)
	}
	return c, nil
}

// GetScene returns the rule with the given id.
func (c *SceneCatalog) GetScene(id string) (domain.SceneRule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.SceneRule{}, false
	}
	return c.scenes[i], true
}

// Scenes returns every rule in document order.
func (c *SceneCatalog) Scenes() []domain.SceneRule {
	out := make([]domain.SceneRule, len(c.scenes))
	copy(out, c.scenes)
	return out
}

// Select returns the rules for ids, in the order given, skipping unknown ids.
func (c *SceneCatalog) Select(ids []string) []domain.SceneRule {
	out := make([]domain.SceneRule, 0, len(ids))
	for _, id := range ids {
		if rule, ok := c.GetScene(id); ok {
			out = append(out, rule)
		}
	}
	return out
}

// FindByKeyword returns the rules sharing at least one keyword with the
// query, in document order. Matching ignores case and character width.
func (c *SceneCatalog) FindByKeyword(keywords ...string) []domain.SceneRule {
	want := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if f := domain.FoldLabel(kw); f != "" {
			want[f] = struct{}{}
		}
	}

	out := make([]domain.SceneRule, 0)
	if len(want) == 0 {
		return out
	}
	for _, rule := range c.scenes {
		for _, kw := range rule.Keywords {
			if _, ok := want[domain.FoldLabel(kw)]; ok {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// ValidateConditions reports whether the observed items satisfy every
// condition of the scene: for each condition type, at least one of its
// items must have been observed.
func (c *SceneCatalog) ValidateConditions(sceneID string, observed map[string][]string) bool {
	rule, ok := c.GetScene(sceneID)
	if !ok {
		return false
	}
	for _, cond := range rule.Conditions {
		seen := make(map[string]struct{}, len(observed[cond.Type]))
		for _, item := range observed[cond.Type] {
			seen[domain.FoldLabel(item)] = struct{}{}
		}
		matched := false
		for _, item := range cond.Items {
			if _, ok := seen[domain.FoldLabel(item)]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
