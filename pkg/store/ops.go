package store

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/publish"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/status"
	"github.com/olimci/plugindb/pkg/store/lock"
	"github.com/olimci/plugindb/pkg/utils/fileutils"
)

type PublishOptions struct {
	Files  []string
	Remove bool
	Auto   bool
	Strict bool
	// Target overrides options.upload_to.
	Target string
}

type UpdateOptions struct {
	Files             []string
	From              string
	Auto              bool
	UninstallObsolete bool
}

// Checksums reports the present files among paths, or every present file
// when paths is empty.
func (w *Workspace) Checksums(ctx context.Context, paths []string) ([]scan.Entry, error) {
	entries, err := w.Scanner().Scan(ctx, w.Registry, paths...)
	if err != nil {
		return nil, err
	}

	out := entries[:0]
	for _, e := range entries {
		if e.Present {
			out = append(out, e)
		}
	}
	return out, nil
}

// Publish resolves an upload (or remove) request and pushes the result to
// the target. With no files every modified and new file is uploaded.
func (w *Workspace) Publish(ctx context.Context, opts PublishOptions) (PublishResult, error) {
	action := status.Upload
	if opts.Remove {
		action = status.Remove
	}

	files, err := w.normalize(opts.Files)
	if err != nil {
		return PublishResult{}, err
	}
	if action == status.Remove && len(files) == 0 {
		return PublishResult{}, fmt.Errorf("remove needs the files to remove")
	}

	entries, err := w.Scanner().Scan(ctx, w.Registry)
	if err != nil {
		return PublishResult{}, err
	}
	ex, err := w.Extractor()
	if err != nil {
		return PublishResult{}, err
	}

	r := resolve.New(w.Registry, entries, resolve.ExtractorDeps(w.Registry, ex), w.Logger)
	if len(files) == 0 {
		files = r.Candidates(action)
	}

	plan, err := r.Resolve(resolve.Request{
		Action: action,
		Files:  files,
		Auto:   opts.Auto,
		Strict: opts.Strict || w.Config.Options.Strict,
	})
	if err != nil {
		return PublishResult{}, err
	}

	target := opts.Target
	if target == "" {
		target = w.Config.Options.UploadTo
	}
	tr, err := w.Transport(target)
	if err != nil {
		return PublishResult{}, err
	}

	pub := &publish.Publisher{
		Root:         w.Store.Root,
		RegistryPath: w.Store.RegistryPath(),
		Transport:    tr,
		Extractor:    ex,
		Algorithm:    w.algo,
		Logger:       w.Logger,
		Now:          w.now,
	}
	res, err := pub.Publish(ctx, w.Registry, plan)
	if err != nil {
		return PublishResult{Target: target, Plan: plan}, err
	}

	if !res.NoOp {
		w.Registry = res.Registry
		w.journal(func(lck *lock.Lock) {
			lck.Publish = &lock.Publish{
				Target:    target,
				Timestamp: registry.TimestampOf(w.now()).String(),
				Uploaded:  res.Uploaded,
				Removed:   res.Removed,
			}
		})
	}

	return PublishResult{Target: target, Plan: plan, Result: res}, nil
}

// Update downloads the registry from the update source and brings the local
// files in line with it. The downloaded registry replaces the local one
// once every file is in place.
func (w *Workspace) Update(ctx context.Context, opts UpdateOptions) (UpdateResult, error) {
	source := opts.From
	if source == "" {
		source = w.Config.Options.UpdateFrom
	}
	if source == "" {
		source = w.Config.Options.UploadTo
	}
	if source == "" {
		return UpdateResult{}, fmt.Errorf("no update source: pass --from or set options.update_from")
	}

	tr, err := w.Transport(source)
	if err != nil {
		return UpdateResult{}, err
	}
	remote, err := w.fetchRegistry(ctx, tr)
	if err != nil {
		return UpdateResult{}, err
	}

	files, err := w.normalize(opts.Files)
	if err != nil {
		return UpdateResult{}, err
	}

	entries, err := w.Scanner().Scan(ctx, remote)
	if err != nil {
		return UpdateResult{}, err
	}
	r := resolve.New(remote, entries, nil, w.Logger)

	res := UpdateResult{Source: source}
	var refresh, uninstall []string

	if len(files) == 0 {
		refresh = append(r.Candidates(status.Update), r.Candidates(status.Install)...)
		if opts.UninstallObsolete {
			uninstall = r.Candidates(status.Uninstall)
		} else {
			res.Obsolete = r.Candidates(status.Uninstall)
		}
	} else {
		for _, name := range files {
			e, ok := r.Entries[name]
			if !ok {
				return UpdateResult{}, fmt.Errorf("%w: %s", resolve.ErrUnknownFile, name)
			}
			switch e.Status {
			case status.NotInstalled, status.Updateable:
				refresh = append(refresh, name)
			case status.Obsolete:
				if opts.UninstallObsolete {
					uninstall = append(uninstall, name)
				} else {
					res.Obsolete = append(res.Obsolete, name)
				}
			default:
				res.Skipped = append(res.Skipped, name)
			}
		}
	}

	// Installs and updates resolve together so a dependency one of them
	// pulls in is not reported as implied when it was requested anyway.
	var plans []*resolve.Plan
	if len(refresh) > 0 {
		plan, err := r.Resolve(resolve.Request{Action: status.Update, Files: refresh, Auto: opts.Auto})
		if err != nil {
			return UpdateResult{}, err
		}
		plans = append(plans, plan)
	}
	if len(uninstall) > 0 {
		plan, err := r.Resolve(resolve.Request{Action: status.Uninstall, Files: uninstall})
		if err != nil {
			return UpdateResult{}, err
		}
		plans = append(plans, plan)
	}
	res.Plan = mergePlans(plans...)

	in := &publish.Installer{
		Root:      w.Store.Root,
		Staging:   w.Store.UpdatePath(),
		Transport: tr,
		Algorithm: w.algo,
		Logger:    w.Logger,
	}
	applied, err := in.Apply(ctx, remote, res.Plan)
	res.ApplyResult = applied
	if err != nil {
		return res, err
	}

	if err := registry.Save(w.Store.RegistryPath(), remote); err != nil {
		return res, err
	}
	w.Registry = remote

	if !res.Plan.Empty() {
		w.journal(func(lck *lock.Lock) {
			lck.Update = &lock.Update{
				Source:      source,
				Timestamp:   registry.TimestampOf(w.now()).String(),
				Installed:   applied.Installed,
				Updated:     applied.Updated,
				Uninstalled: applied.Uninstalled,
			}
		})
	}
	return res, nil
}

func (w *Workspace) fetchRegistry(ctx context.Context, tr publish.Transport) (*registry.Registry, error) {
	staged := filepath.Join(w.Store.UpdatePath(), registryFile)
	defer func() { _ = fileutils.RemoveFile(w.Store.UpdatePath(), registryFile) }()

	w.Logger.Info("downloading registry", "source", tr.String())
	if err := tr.Get(ctx, publish.RegistryFile, staged); err != nil {
		return nil, fmt.Errorf("download registry from %s: %w", tr, err)
	}

	reg, err := registry.Load(staged)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("registry from %s: %w", tr, err)
	}
	return reg, nil
}

// Sync records the versions found in an older installation as previous
// versions and saves the registry when anything was added.
func (w *Workspace) Sync(ctx context.Context, oldRoot string) ([]scan.SyncedVersion, error) {
	abs, err := fileutils.AbsPath(oldRoot)
	if err != nil {
		return nil, err
	}

	next := w.Registry.Clone()
	added, err := w.Scanner().Sync(ctx, next, abs)
	if err != nil || len(added) == 0 {
		return nil, err
	}

	if err := registry.Save(w.Store.RegistryPath(), next); err != nil {
		return nil, err
	}
	w.Registry = next
	return added, nil
}

// RecalcDeps rebuilds the dependency edges of files (all live files when
// empty) without touching versions.
func (w *Workspace) RecalcDeps(files []string) ([]deps.Change, error) {
	names, err := w.normalize(files)
	if err != nil {
		return nil, err
	}
	ex, err := w.Extractor()
	if err != nil {
		return nil, err
	}

	next := w.Registry.Clone()
	edges, err := deps.BuildEdges(next, ex, names...)
	if err != nil {
		return nil, err
	}
	if len(edges.Changes) == 0 {
		return nil, nil
	}
	edges.Apply(next)

	if err := registry.Save(w.Store.RegistryPath(), next); err != nil {
		return nil, err
	}
	w.Registry = next
	return edges.Changes, nil
}

func (w *Workspace) WriteGraph(out io.Writer) error {
	return w.Registry.Graph().WriteDot(out, "plugindb")
}

// journal updates the lock file. Failures are logged; the registry has
// already been written at this point.
func (w *Workspace) journal(update func(*lock.Lock)) {
	lck, err := w.Store.LoadLock()
	if err != nil {
		w.Logger.Warn("could not read lock file, rewriting it", "error", err)
		lck = lock.Lock{}
	}
	update(&lck)
	if err := w.Store.SaveLock(lck); err != nil {
		w.Logger.Warn("could not write lock file", "error", err)
	}
}

// mergePlans concatenates plans, keeping the first item for each file.
func mergePlans(plans ...*resolve.Plan) *resolve.Plan {
	out := &resolve.Plan{}
	seen := make(map[string]struct{})
	for _, p := range plans {
		if out.Action == status.NoOp {
			out.Action = p.Action
		}
		for _, it := range p.Items {
			if _, dup := seen[it.Name]; dup {
				continue
			}
			seen[it.Name] = struct{}{}
			out.Items = append(out.Items, it)
		}
		out.Rejected = append(out.Rejected, p.Rejected...)
	}
	return out
}
