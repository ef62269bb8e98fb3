package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFormat  = errors.New("malformed registry")
	ErrInvalid = errors.New("invalid registry")
)

// FormatError reports a registry file that could not be read.
type FormatError struct {
	Path   string
	Record string
	Err    error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(ErrFormat.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Record != "" {
		fmt.Fprintf(&b, " (record %s)", e.Record)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *FormatError) Unwrap() []error {
	return []error{ErrFormat, e.Err}
}

// ValidateRecord checks the per-record invariants: a usable name, a complete
// current version, and previous versions strictly older than current in
// newest-first order.
func ValidateRecord(rec *FileRecord) error {
	if strings.TrimSpace(rec.Filename) == "" {
		return fmt.Errorf("record filename is empty")
	}

	if rec.Current != nil {
		if strings.TrimSpace(rec.Current.Checksum) == "" {
			return fmt.Errorf("%s: current checksum is empty", rec.Filename)
		}
		if !rec.Current.Timestamp.Valid() {
			return fmt.Errorf("%s: invalid current timestamp %s", rec.Filename, rec.Current.Timestamp)
		}
		if rec.Filesize < 0 {
			return fmt.Errorf("%s: negative filesize %d", rec.Filename, rec.Filesize)
		}
	}

	for i, prev := range rec.Previous {
		if strings.TrimSpace(prev.Checksum) == "" {
			return fmt.Errorf("%s: previous version %s has an empty checksum", rec.Filename, prev.Timestamp)
		}
		if !prev.Timestamp.Valid() {
			return fmt.Errorf("%s: invalid previous timestamp %s", rec.Filename, prev.Timestamp)
		}
		if rec.Current != nil && prev.Timestamp >= rec.Current.Timestamp {
			return fmt.Errorf("%s: previous version %s is not older than current %s", rec.Filename, prev.Timestamp, rec.Current.Timestamp)
		}
		if i > 0 && prev.Timestamp >= rec.Previous[i-1].Timestamp {
			return fmt.Errorf("%s: previous versions are not strictly decreasing (%s after %s)", rec.Filename, prev.Timestamp, rec.Previous[i-1].Timestamp)
		}
	}

	if rec.Current == nil && len(rec.Dependencies) > 0 {
		return fmt.Errorf("%s: obsolete record has dependencies", rec.Filename)
	}

	seen := make(map[string]struct{}, len(rec.Dependencies))
	for _, dep := range rec.Dependencies {
		if strings.TrimSpace(dep.Filename) == "" {
			return fmt.Errorf("%s: dependency filename is empty", rec.Filename)
		}
		if _, dup := seen[dep.Filename]; dup {
			return fmt.Errorf("%s: duplicate dependency %s", rec.Filename, dep.Filename)
		}
		seen[dep.Filename] = struct{}{}
		if !dep.Timestamp.Valid() {
			return fmt.Errorf("%s: invalid timestamp %s on dependency %s", rec.Filename, dep.Timestamp, dep.Filename)
		}
	}

	return nil
}

// Validate checks every record, every dependency target, and that the
// dependency graph is acyclic. A cycle is reported as *graph.CycleError.
func (r *Registry) Validate() error {
	for _, name := range r.Names() {
		rec := r.Records[name]
		if rec.Filename != name {
			return fmt.Errorf("%w: record %s is stored under %s", ErrInvalid, rec.Filename, name)
		}
		if err := ValidateRecord(rec); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		for _, dep := range rec.Dependencies {
			if dep.Filename == name {
				return fmt.Errorf("%w: %s depends on itself", ErrInvalid, name)
			}
			if _, ok := r.Records[dep.Filename]; !ok {
				return fmt.Errorf("%w: %s depends on unknown file %s", ErrInvalid, name, dep.Filename)
			}
		}
	}

	return r.Graph().Check()
}
