// Package deps discovers which files an artifact needs at runtime and merges
// the result into the registry's dependency edges.
package deps

import (
	"errors"
	"fmt"
	"sort"

	"github.com/olimci/plugindb/pkg/registry"
)

// ErrNotDeclared is returned by an Extractor that knows nothing about a file.
var ErrNotDeclared = errors.New("no dependency information")

// Extractor reports the registry names a file depends on.
type Extractor interface {
	Dependencies(name string) ([]string, error)
}

// Chain asks each extractor in turn; the first one that does not return
// ErrNotDeclared wins.
type Chain []Extractor

func (c Chain) Dependencies(name string) ([]string, error) {
	for _, ex := range c {
		if ex == nil {
			continue
		}
		out, err := ex.Dependencies(name)
		if errors.Is(err, ErrNotDeclared) {
			continue
		}
		return out, err
	}
	return nil, ErrNotDeclared
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Refreshed
	Dropped
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Refreshed:
		return "refreshed"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes one edge that differs from what the registry recorded.
type Change struct {
	File       string
	Dependency string
	Kind       ChangeKind
	Timestamp  registry.Timestamp
}

func (c Change) String() string {
	if c.Kind == Dropped {
		return fmt.Sprintf("%s: %s %s", c.File, c.Kind, c.Dependency)
	}
	return fmt.Sprintf("%s: %s %s@%s", c.File, c.Kind, c.Dependency, c.Timestamp)
}

// EdgeSet is the result of BuildEdges: the merged edge list for every file
// that was examined.
type EdgeSet struct {
	Edges   map[string][]registry.Dependency
	Changes []Change
}

// Apply writes the merged edges into reg.
func (s *EdgeSet) Apply(reg *registry.Registry) {
	for name, edges := range s.Edges {
		if rec, ok := reg.Get(name); ok {
			rec.SetDependencies(edges)
		}
	}
}

// BuildEdges recomputes the dependencies of names (every live record when
// empty). An edge whose recorded timestamp still matches its target is kept,
// an edge to a re-versioned target gets the new timestamp, and edges to
// targets that are gone, obsolete or no longer referenced are dropped.
// Records the extractor knows nothing about keep their current targets.
func BuildEdges(reg *registry.Registry, ex Extractor, names ...string) (*EdgeSet, error) {
	if len(names) == 0 {
		names = reg.Names()
	}

	out := &EdgeSet{Edges: make(map[string][]registry.Dependency, len(names))}

	for _, name := range names {
		rec, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown file %s", name)
		}
		if rec.IsObsolete() {
			continue
		}

		targets, err := declared(ex, rec)
		if err != nil {
			return nil, fmt.Errorf("dependencies of %s: %w", name, err)
		}

		merged := make([]registry.Dependency, 0, len(targets))
		wanted := make(map[string]struct{}, len(targets))
		for _, target := range targets {
			if target == name {
				continue
			}
			dep, ok := reg.Get(target)
			if !ok || dep.IsObsolete() {
				continue
			}
			wanted[target] = struct{}{}

			current := dep.Current.Timestamp
			old, had := rec.Dependency(target)
			switch {
			case !had:
				out.Changes = append(out.Changes, Change{File: name, Dependency: target, Kind: Added, Timestamp: current})
			case old.Timestamp != current:
				out.Changes = append(out.Changes, Change{File: name, Dependency: target, Kind: Refreshed, Timestamp: current})
			}
			merged = append(merged, registry.Dependency{Filename: target, Timestamp: current})
		}

		for _, old := range rec.Dependencies {
			if _, keep := wanted[old.Filename]; !keep {
				out.Changes = append(out.Changes, Change{File: name, Dependency: old.Filename, Kind: Dropped})
			}
		}

		sort.Slice(merged, func(i, j int) bool { return merged[i].Filename < merged[j].Filename })
		out.Edges[name] = merged
	}

	return out, nil
}

func declared(ex Extractor, rec *registry.FileRecord) ([]string, error) {
	if ex != nil {
		targets, err := ex.Dependencies(rec.Filename)
		if err == nil {
			return unique(targets), nil
		}
		if !errors.Is(err, ErrNotDeclared) {
			return nil, err
		}
	}

	targets := make([]string, 0, len(rec.Dependencies))
	for _, d := range rec.Dependencies {
		targets = append(targets, d.Filename)
	}
	return targets, nil
}

func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
