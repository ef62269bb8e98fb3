package deps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestExtractor serves hand-written declarations, one YAML key per file:
//
//	plugins/Foo_.jar:
//	  - jars/bar.jar
//
// A key with an empty list declares that the file has no dependencies.
type ManifestExtractor struct {
	Declared map[string][]string
}

// LoadManifest reads a declaration file. A missing file declares nothing.
func LoadManifest(path string) (*ManifestExtractor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ManifestExtractor{Declared: map[string][]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	declared := map[string][]string{}
	if err := yaml.Unmarshal(data, &declared); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := &ManifestExtractor{Declared: make(map[string][]string, len(declared))}
	for name, targets := range declared {
		out.Declared[filepath.ToSlash(name)] = targets
	}
	return out, nil
}

func (m *ManifestExtractor) Dependencies(name string) ([]string, error) {
	targets, ok := m.Declared[name]
	if !ok {
		return nil, ErrNotDeclared
	}
	return append([]string{}, targets...), nil
}
