package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Load reads the registry at path. A missing file yields an empty registry.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reg, err := Decode(f)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
		}
		return nil, err
	}
	return reg, nil
}

// Save validates the registry and replaces path atomically. On any failure
// the previous file is left untouched.
func Save(path string, r *Registry) error {
	if err := r.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tp := path + ".tmp"

	f, err := os.OpenFile(tp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tp, err)
	}
	defer f.Close()

	if err := Encode(f, r); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("encode %s: %w", tp, err)
	}
	if err := f.Sync(); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("sync %s: %w", tp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("close %s: %w", tp, err)
	}

	if err := os.Rename(tp, path); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}

func sortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		return deps[i].Filename < deps[j].Filename
	})
}
