// Package registry models the update database: one record per distributable
// file with its current version, the versions it replaced, and the files it
// depends on.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/olimci/plugindb/pkg/graph"
)

// Version is one published state of a file.
type Version struct {
	Checksum  string
	Timestamp Timestamp
}

// Dependency is an edge from the owning record to Filename, stamped with the
// dependency's current timestamp at the time the edge was recorded.
type Dependency struct {
	Filename  string
	Timestamp Timestamp
}

// FileRecord tracks a single distributable file. A nil Current marks the
// file as obsolete (tombstone); such records are never deleted.
type FileRecord struct {
	Filename     string
	Current      *Version
	Filesize     int64
	Description  string
	Dependencies []Dependency
	Previous     []Version // newest first
}

// Registry is the full set of records. It is treated as immutable by readers
// within one run; writers mutate a Clone.
type Registry struct {
	Records map[string]*FileRecord
}

func New() *Registry {
	return &Registry{Records: make(map[string]*FileRecord)}
}

func (r *Registry) Get(name string) (*FileRecord, bool) {
	rec, ok := r.Records[name]
	return rec, ok
}

// Add inserts a new record and fails if one already exists for the name.
func (r *Registry) Add(rec *FileRecord) error {
	name := strings.TrimSpace(rec.Filename)
	if name == "" {
		return fmt.Errorf("record filename is empty")
	}
	if _, exists := r.Records[name]; exists {
		return fmt.Errorf("duplicate record %s", name)
	}
	r.Records[name] = rec
	return nil
}

// Ensure returns the record for name, creating an empty one if needed.
func (r *Registry) Ensure(name string) *FileRecord {
	if rec, ok := r.Records[name]; ok {
		return rec
	}
	rec := &FileRecord{Filename: name}
	r.Records[name] = rec
	return rec
}

// Names returns all record names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Records))
	for name := range r.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Clone() *Registry {
	out := &Registry{Records: make(map[string]*FileRecord, len(r.Records))}
	for name, rec := range r.Records {
		out.Records[name] = rec.Clone()
	}
	return out
}

// Graph returns the dependency graph over all records.
func (r *Registry) Graph() *graph.Graph {
	g := graph.New()
	for _, name := range r.Names() {
		g.AddNode(name)
		for _, dep := range r.Records[name].Dependencies {
			g.AddEdge(name, dep.Filename)
		}
	}
	return g
}

func (rec *FileRecord) Clone() *FileRecord {
	out := *rec
	if rec.Current != nil {
		cur := *rec.Current
		out.Current = &cur
	}
	out.Dependencies = append([]Dependency(nil), rec.Dependencies...)
	out.Previous = append([]Version(nil), rec.Previous...)
	return &out
}

func (rec *FileRecord) IsObsolete() bool {
	return rec.Current == nil
}

// HasChecksum reports whether sum is the current or any previous checksum.
func (rec *FileRecord) HasChecksum(sum string) bool {
	if rec.Current != nil && rec.Current.Checksum == sum {
		return true
	}
	return rec.IsPrevious(sum)
}

func (rec *FileRecord) IsPrevious(sum string) bool {
	for _, v := range rec.Previous {
		if v.Checksum == sum {
			return true
		}
	}
	return false
}

// Latest returns the timestamp of the newest known version, current or not.
func (rec *FileRecord) Latest() Timestamp {
	if rec.Current != nil {
		return rec.Current.Timestamp
	}
	if len(rec.Previous) > 0 {
		return rec.Previous[0].Timestamp
	}
	return 0
}

// SetVersion makes checksum the current version and pushes the old current
// version (if any) to the front of Previous.
func (rec *FileRecord) SetVersion(checksum string, ts Timestamp, size int64) error {
	if strings.TrimSpace(checksum) == "" {
		return fmt.Errorf("%s: checksum is empty", rec.Filename)
	}
	if latest := rec.Latest(); ts <= latest {
		return fmt.Errorf("%s: timestamp %s is not newer than %s", rec.Filename, ts, latest)
	}
	if rec.Current != nil {
		rec.Previous = append([]Version{*rec.Current}, rec.Previous...)
	}
	rec.Current = &Version{Checksum: checksum, Timestamp: ts}
	rec.Filesize = size
	return nil
}

// MarkRemoved retires the file: the current version becomes the newest
// previous version and the record turns into a tombstone.
func (rec *FileRecord) MarkRemoved() error {
	if rec.Current == nil {
		return fmt.Errorf("%s: already obsolete", rec.Filename)
	}
	rec.Previous = append([]Version{*rec.Current}, rec.Previous...)
	rec.Current = nil
	rec.Filesize = 0
	rec.Dependencies = nil
	return nil
}

// AddPrevious records a historical version. Known checksums are ignored;
// the version must be older than the current one.
func (rec *FileRecord) AddPrevious(checksum string, ts Timestamp) (bool, error) {
	if strings.TrimSpace(checksum) == "" {
		return false, fmt.Errorf("%s: checksum is empty", rec.Filename)
	}
	if rec.HasChecksum(checksum) {
		return false, nil
	}
	if rec.Current != nil && ts >= rec.Current.Timestamp {
		return false, fmt.Errorf("%s: previous version %s is not older than current %s", rec.Filename, ts, rec.Current.Timestamp)
	}

	idx := sort.Search(len(rec.Previous), func(i int) bool {
		return rec.Previous[i].Timestamp <= ts
	})
	if idx < len(rec.Previous) && rec.Previous[idx].Timestamp == ts {
		return false, fmt.Errorf("%s: a previous version already has timestamp %s", rec.Filename, ts)
	}

	rec.Previous = append(rec.Previous, Version{})
	copy(rec.Previous[idx+1:], rec.Previous[idx:])
	rec.Previous[idx] = Version{Checksum: checksum, Timestamp: ts}
	return true, nil
}

func (rec *FileRecord) SetDependencies(deps []Dependency) {
	rec.Dependencies = append([]Dependency(nil), deps...)
}

// Dependency returns the edge to name, if recorded.
func (rec *FileRecord) Dependency(name string) (Dependency, bool) {
	for _, d := range rec.Dependencies {
		if d.Filename == name {
			return d, true
		}
	}
	return Dependency{}, false
}
