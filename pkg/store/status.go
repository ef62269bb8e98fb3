package store

import (
	"context"

	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/status"
	"github.com/olimci/plugindb/pkg/store/lock"
)

type StatusSnapshot struct {
	Entries []scan.Entry
	Counts  map[status.Status]int
	Lock    lock.Lock
}

// Changed lists the entries that differ from the registry.
func (s StatusSnapshot) Changed() []scan.Entry {
	var out []scan.Entry
	for _, e := range s.Entries {
		if e.Status == status.Installed || (e.Status == status.Obsolete && !e.Present) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Status scans files (everything when empty) against the registry.
func (w *Workspace) Status(ctx context.Context, files []string) (StatusSnapshot, error) {
	entries, err := w.Scanner().Scan(ctx, w.Registry, files...)
	if err != nil {
		return StatusSnapshot{}, err
	}

	counts := make(map[status.Status]int)
	for _, e := range entries {
		counts[e.Status]++
	}

	lck, err := w.Store.LoadLock()
	if err != nil {
		w.Logger.Warn("could not read lock file", "error", err)
	}

	return StatusSnapshot{Entries: entries, Counts: counts, Lock: lck}, nil
}
