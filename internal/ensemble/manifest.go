package ensemble

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// ManifestFile records the calibration history next to the artifacts.
const ManifestFile = "model_versions.json"

// VersionMetrics holds the evaluation result a calibration run recorded
// for the ensemble at that point in time.
type VersionMetrics struct {
	MeanAccuracy float64   `json:"mean_accuracy"`
	Accuracies   []float64 `json:"accuracies"`
	Samples      int       `json:"samples"`
}

// ModelVersion is one entry of the manifest.
type ModelVersion struct {
	Version   string         `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Metrics   VersionMetrics `json:"metrics"`
	IsActive  bool           `json:"is_active"`
}

// Manifest is the versioned calibration history of a models directory,
// newest first. The calibration tool appends to it; the service only
// reads the active entry.
type Manifest struct {
	path     string
	Versions []ModelVersion
}

// LoadManifest reads the manifest at path. A missing file yields an
// empty manifest bound to that path.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m.Versions); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Active returns the active version, or nil when none is marked.
func (m *Manifest) Active() *ModelVersion {
	for i := range m.Versions {
		if m.Versions[i].IsActive {
			return &m.Versions[i]
		}
	}
	return nil
}

// Append records a new version with the given metrics, marks it active,
// deactivates the rest and persists the manifest.
func (m *Manifest) Append(metrics VersionMetrics) error {
	now := time.Now().UTC()
	for i := range m.Versions {
		m.Versions[i].IsActive = false
	}
	m.Versions = append(m.Versions, ModelVersion{
		Version:   now.Format("20060102-150405"),
		CreatedAt: now,
		Metrics:   metrics,
		IsActive:  true,
	})
	sort.Slice(m.Versions, func(i, j int) bool {
		return m.Versions[i].CreatedAt.After(m.Versions[j].CreatedAt)
	})
	return m.save()
}

func (m *Manifest) save() error {
	data, err := json.MarshalIndent(m.Versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o600)
}
