// Package scan walks a local installation, checksums its files and derives
// each file's status against the registry. It never modifies the
// installation.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/status"
)

var (
	DefaultDirs     = []string{"plugins", "jars", "retro", "misc", "macros", "scripts"}
	DefaultTopLevel = []string{"ij.jar"}
)

// Entry is the scan result for one file name.
type Entry struct {
	Name      string
	Status    status.Status
	Record    *registry.FileRecord
	Checksum  string
	Timestamp registry.Timestamp
	Size      int64
	Present   bool
}

type Scanner struct {
	Root      string
	Algorithm digest.Algorithm
	Dirs      []string
	TopLevel  []string
	Ignore    []string
	Cache     *Cache
	Workers   int
	Logger    *slog.Logger
}

func (s *Scanner) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

// Scan reports every tracked name plus every untracked file under the scan
// directories. When only is non-empty just those names are reported.
func (s *Scanner) Scan(ctx context.Context, reg *registry.Registry, only ...string) ([]Entry, error) {
	names, err := s.names(reg, only)
	if err != nil {
		return nil, err
	}

	entries, err := s.Checksums(ctx, names)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		e := &entries[i]
		rec, tracked := reg.Get(e.Name)
		if tracked {
			e.Record = rec
			e.Status = status.Derive(rec, e.Checksum, e.Present)
		} else {
			e.Status = status.Derive(nil, e.Checksum, e.Present)
		}
	}

	s.logger().Debug("scan finished", "root", s.Root, "files", len(entries))
	return entries, nil
}

// Checksums stats and hashes the given names relative to Root. Missing files
// are returned with Present unset.
func (s *Scanner) Checksums(ctx context.Context, names []string) ([]Entry, error) {
	entries := make([]Entry, len(names))
	errs := make([]error, len(names))

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(names) {
		workers = len(names)
	}

	jobs := make(chan int, len(names))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				entries[i], errs[i] = s.checksumOne(names[i])
			}
		}()
	}

	for i := range names {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Scanner) checksumOne(name string) (Entry, error) {
	entry := Entry{Name: name}
	full := filepath.Join(s.Root, filepath.FromSlash(name))

	info, err := os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return entry, nil
	}
	if err != nil {
		return entry, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return entry, nil
	}

	entry.Present = true
	entry.Size = info.Size()
	entry.Timestamp = registry.TimestampOf(info.ModTime())

	algo := s.Algorithm
	if algo == "" {
		algo = digest.Default
	}

	key := CacheKey{Path: full, Size: info.Size(), ModTime: info.ModTime().UnixNano(), Algorithm: algo.String()}
	if s.Cache != nil {
		if sum, ok := s.Cache.Get(key); ok {
			entry.Checksum = sum
			return entry, nil
		}
	}

	sum, err := digest.Checksum(full, algo)
	if err != nil {
		return entry, fmt.Errorf("checksum %s: %w", name, err)
	}
	entry.Checksum = sum
	if s.Cache != nil {
		s.Cache.Add(key, sum)
	}
	return entry, nil
}

func (s *Scanner) names(reg *registry.Registry, only []string) ([]string, error) {
	if len(only) > 0 {
		out := make([]string, 0, len(only))
		for _, name := range only {
			n, err := Normalize(s.Root, name)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return dedupe(out), nil
	}

	local, err := s.Walk()
	if err != nil {
		return nil, err
	}
	return dedupe(append(reg.Names(), local...)), nil
}

// Walk lists the files under the scan directories as slash separated names
// relative to Root.
func (s *Scanner) Walk() ([]string, error) {
	dirs := s.Dirs
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	top := s.TopLevel
	if top == nil {
		top = DefaultTopLevel
	}

	var out []string
	for _, name := range top {
		info, err := os.Stat(filepath.Join(s.Root, filepath.FromSlash(name)))
		if err == nil && info.Mode().IsRegular() && !s.ignored(name) {
			out = append(out, path.Clean(name))
		}
	}

	for _, dir := range dirs {
		base := filepath.Join(s.Root, filepath.FromSlash(dir))
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == base {
					return fs.SkipDir
				}
				return err
			}

			rel, err := filepath.Rel(s.Root, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)

			if d.IsDir() {
				if p != base && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || s.ignored(name) {
				return nil
			}
			out = append(out, name)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", dir, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

func (s *Scanner) ignored(name string) bool {
	base := path.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	for _, ig := range s.Ignore {
		if ok, _ := path.Match(ig, name); ok || ig == name {
			return true
		}
	}
	return false
}

// Normalize turns a user supplied path, absolute or relative to root, into a
// registry name.
func Normalize(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		rel, err := filepath.Rel(root, name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is outside %s", name, root)
		}
		name = rel
	}
	clean := path.Clean(filepath.ToSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return clean, nil
}

func dedupe(names []string) []string {
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		if len(out) > 0 && out[len(out)-1] == name {
			continue
		}
		out = append(out, name)
	}
	return out
}
