package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest at the root of every mod.
const ManifestFile = "mod.yaml"

// DefaultEntry is the script run when the manifest names none.
const DefaultEntry = "main.js"

// Manifest describes a mod.
type Manifest struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Entry       string `yaml:"entry"`
}

// LoadManifest reads <modRoot>/mod.yaml.
func LoadManifest(modRoot string) (Manifest, error) {
	path := filepath.Join(modRoot, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read mod manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse mod manifest %s: %w", path, err)
	}

	if strings.TrimSpace(m.Name) == "" {
		return Manifest{}, fmt.Errorf("mod manifest %s: name is required", path)
	}
	if m.Entry == "" {
		m.Entry = DefaultEntry
	}
	if filepath.IsAbs(m.Entry) || !filepath.IsLocal(m.Entry) {
		return Manifest{}, fmt.Errorf("mod manifest %s: entry %q must be a path inside the mod", path, m.Entry)
	}
	return m, nil
}
