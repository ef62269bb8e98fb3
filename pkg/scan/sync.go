package scan

import (
	"context"
	"fmt"

	"github.com/olimci/plugindb/pkg/registry"
)

// SyncedVersion is a historical version picked up from an old installation.
type SyncedVersion struct {
	Name    string
	Version registry.Version
}

// Sync checksums the tracked files of an older installation at oldRoot and
// records every unknown checksum as a previous version, stamped with the
// file's modification time. Versions not older than the current one are
// skipped. reg is modified in place; pass a clone.
func (s *Scanner) Sync(ctx context.Context, reg *registry.Registry, oldRoot string) ([]SyncedVersion, error) {
	old := *s
	old.Root = oldRoot

	entries, err := old.Checksums(ctx, reg.Names())
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", oldRoot, err)
	}

	var added []SyncedVersion
	for _, e := range entries {
		if !e.Present {
			continue
		}
		rec, _ := reg.Get(e.Name)
		if rec.HasChecksum(e.Checksum) {
			continue
		}
		if rec.Current != nil && e.Timestamp >= rec.Current.Timestamp {
			s.logger().Warn("skipping version newer than current", "file", e.Name, "timestamp", e.Timestamp.String(), "current", rec.Current.Timestamp.String())
			continue
		}

		ok, err := rec.AddPrevious(e.Checksum, e.Timestamp)
		if err != nil {
			s.logger().Warn("skipping version", "file", e.Name, "error", err)
			continue
		}
		if ok {
			added = append(added, SyncedVersion{Name: e.Name, Version: registry.Version{Checksum: e.Checksum, Timestamp: e.Timestamp}})
			s.logger().Debug("added previous version", "file", e.Name, "timestamp", e.Timestamp.String())
		}
	}

	return added, nil
}
