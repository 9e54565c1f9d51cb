package catalog

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/DukeRupert/sitewatch/internal/domain"
)

type cameraFile struct {
	Cameras []struct {
		ID       string   `yaml:"id"`
		Name     string   `yaml:"name"`
		Location string   `yaml:"location"`
		Scenes   []string `yaml:"scenes"`
	} `yaml:"cameras"`
}

// CameraDirectory maps camera ids to their monitored scenes.
type CameraDirectory struct {
	cameras map[string]domain.Camera
	order   []string
}

// LoadCameras reads the camera document at path. Every scene a camera
// references must exist in scenes.
func LoadCameras(path string, scenes *SceneCatalog, logger *slog.Logger) (*CameraDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cameras: %w", err)
	}
	d, err := ParseCameras(data, scenes)
	if err != nil {
		return nil, fmt.Errorf("cameras %s: %w", path, err)
	}
	if logger != nil {
		logger.Info("camera directory loaded", "path", path, "cameras", len(d.order))
	}
	return d, nil
}

// ParseCameras builds a directory from an in-memory document.
func ParseCameras(data []byte, scenes *SceneCatalog) (*CameraDirectory, error) {
	var doc cameraFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed document: %w", err)
	}

	d := &CameraDirectory{cameras: make(map[string]domain.Camera, len(doc.Cameras))}
	for i, cam := range doc.Cameras {
		if cam.ID == "" {
			return nil, fmt.Errorf("camera %d: missing id", i)
		}
		if _, dup := d.cameras[cam.ID]; dup {
			return nil, fmt.Errorf("camera %s: duplicate id", cam.ID)
		}
		for _, sid := range cam.Scenes {
			if _, ok := scenes.GetScene(sid); !ok {
				return nil, fmt.Errorf("camera %s: unknown scene %q", cam.ID, sid)
			}
		}
		d.cameras[cam.ID] = domain.Camera{
			ID:       cam.ID,
			Name:     cam.Name,
			Location: cam.Location,
			SceneIDs: append([]string(nil), cam.Scenes...),
		}
		d.order = append(d.order, cam.ID)
	}
	return d, nil
}

// Get returns the camera with the given id.
func (d *CameraDirectory) Get(id string) (domain.Camera, bool) {
	cam, ok := d.cameras[id]
	return cam, ok
}

// List returns all cameras in document order.
func (d *CameraDirectory) List() []domain.Camera {
	out := make([]domain.Camera, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.cameras[id])
	}
	return out
}
