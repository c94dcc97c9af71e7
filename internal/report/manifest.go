package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/webimg/internal/model"
)

// ManifestFile is the manifest's name inside the output directory.
const ManifestFile = "manifest.json"

// Manifest is the on-disk contract consumed by downstream tools. Assets maps
// each stored filename to its attribution URL.
type Manifest struct {
	Assets       *model.AssetMap `json:"assets"`
	RunID        string          `json:"run_id,omitempty"`
	Seeds        []string        `json:"seeds"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	PagesVisited int             `json:"pages_visited"`
	Truncated    bool            `json:"truncated"`
}

// WriteManifest writes result's manifest into dir and returns its path.
// The file is replaced atomically so readers never see a partial manifest.
func WriteManifest(dir, runID string, result *model.HarvestResult) (string, error) {
	m := Manifest{
		Assets:       result.Assets,
		RunID:        runID,
		Seeds:        result.Seeds,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		PagesVisited: result.PagesVisited,
		Truncated:    result.Truncated,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create manifest: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFile)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}
