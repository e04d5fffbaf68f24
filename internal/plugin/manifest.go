package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Capability names a host function group a plugin must declare before it
// may call any function in that group.
type Capability string

const (
	CapFS      Capability = "fs"
	CapNetwork Capability = "network"
	CapEnv     Capability = "env"
)

var knownCapabilities = map[Capability]bool{
	CapFS:      true,
	CapNetwork: true,
	CapEnv:     true,
}

// Manifest describes one plugin's identity, declared capabilities, and
// the relative path to its compiled WebAssembly module.
type Manifest struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Capabilities []Capability `json:"capabilities"`
	Entry        string       `json:"entry"`

	// Description-level metadata, inert to execution but carried through
	// for `list --detailed` and similar diagnostics.
	Description  string   `json:"description,omitempty"`
	Author       string   `json:"author,omitempty"`
	License      string   `json:"license,omitempty"`
	Homepage     string   `json:"homepage,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// LoadManifest reads and validates a plugin.json at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: reading manifest %q: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plugin: parsing manifest %q: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin: manifest missing name")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin: manifest %q missing version", m.Name)
	}
	if m.Entry == "" {
		return fmt.Errorf("plugin: manifest %q missing entry", m.Name)
	}
	for _, c := range m.Capabilities {
		if !knownCapabilities[c] {
			return fmt.Errorf("plugin: manifest %q declares unknown capability %q", m.Name, c)
		}
	}
	return nil
}

// Has reports whether the manifest declares capability c.
func (m *Manifest) Has(c Capability) bool {
	for _, got := range m.Capabilities {
		if got == c {
			return true
		}
	}
	return false
}

// EntryPath resolves the manifest's Entry relative to the directory the
// manifest itself was loaded from.
func (m *Manifest) EntryPath(manifestDir string) string {
	if filepath.IsAbs(m.Entry) {
		return m.Entry
	}
	return filepath.Join(manifestDir, m.Entry)
}
