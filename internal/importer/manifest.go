// Package importer bulk-loads reference images listed in a YAML manifest.
//
// Manifest → channel(task) → N workers → reference indexing. Progress is kept in a
// JSON cursor next to the manifest so an interrupted import resumes where it stopped.
package importer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	domref "github.com/kailas-cloud/evidex/internal/domain/reference"
)

// Entry is one reference image with its metadata.
type Entry struct {
	ID              string `yaml:"id"`
	File            string `yaml:"file"`
	domref.Metadata `yaml:",inline"`
}

// Manifest lists the references to import, in order.
type Manifest struct {
	// Path is the absolute manifest location. Relative entry files resolve against its directory.
	Path       string  `yaml:"-"`
	References []Entry `yaml:"references"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	data, err := os.ReadFile(filepath.Clean(abs))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", abs, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", abs, err)
	}
	m.Path = abs

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.References) == 0 {
		return errors.New("manifest has no references")
	}
	seen := make(map[string]int, len(m.References))
	for i, e := range m.References {
		if e.File == "" {
			return fmt.Errorf("references[%d]: file is required", i)
		}
		if e.ID == "" {
			continue
		}
		if j, ok := seen[e.ID]; ok {
			return fmt.Errorf("references[%d]: duplicate id %q (first at %d)", i, e.ID, j)
		}
		seen[e.ID] = i
	}
	return nil
}

// FilePath returns the on-disk location of an entry's image.
func (m *Manifest) FilePath(e Entry) string {
	if filepath.IsAbs(e.File) {
		return filepath.Clean(e.File)
	}
	return filepath.Join(filepath.Dir(m.Path), e.File)
}
