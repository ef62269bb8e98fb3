package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/status"
)

// RegistryFile is the remote name of the registry.
const RegistryFile = "db.xml.gz"

var (
	ErrTransfer       = errors.New("transfer failed")
	ErrMissingVersion = errors.New("current version is not on the target")
)

// TransferError reports the file whose transfer aborted the batch.
type TransferError struct {
	File   string
	Remote string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %v", ErrTransfer, e.File, e.Remote, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransfer, e.Err}
}

// RemoteName is the name a version is stored under on the distribution root.
func RemoteName(name string, ts registry.Timestamp) string {
	return name + "-" + ts.String()
}

type Publisher struct {
	Root         string
	RegistryPath string
	Transport    Transport
	Extractor    deps.Extractor
	// Algorithm verifies local copies of versions the target is missing.
	Algorithm    digest.Algorithm
	Logger       *slog.Logger
	Now          func() time.Time
}

type Result struct {
	Registry    *registry.Registry
	Uploaded    []string
	Removed     []string
	// Backfilled lists files whose existing current version was missing on
	// the target and went out with this batch.
	Backfilled  []string
	Transferred []string
	Edges       []deps.Change
	NoOp        bool
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

func (p *Publisher) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

type transfer struct {
	name   string
	local  string
	remote string
}

// Publish applies the upload and remove items of plan. The next registry is
// built on a clone and validated before anything is transferred; files go
// out one at a time and the first failure aborts the batch; the registry is
// uploaded and then replaced locally only after every file made it. reg is
// never modified.
func (p *Publisher) Publish(ctx context.Context, reg *registry.Registry, plan *resolve.Plan) (*Result, error) {
	if !publishes(plan) {
		p.logger().Info("nothing to publish")
		return &Result{Registry: reg, NoOp: true}, nil
	}

	next := reg.Clone()
	now := p.now()
	res := &Result{Registry: next}

	var transfers []transfer
	var rebuild []string

	for _, it := range plan.Items {
		switch it.Action {
		case status.NoOp:
			continue
		case status.Upload:
			if !it.Entry.Present {
				return nil, fmt.Errorf("cannot upload %s: file is missing", it.Name)
			}
			rec := next.Ensure(it.Name)
			rebuild = append(rebuild, it.Name)

			if rec.Current != nil && rec.Current.Checksum == it.Entry.Checksum {
				p.logger().Info("unchanged, refreshing dependencies only", "file", it.Name)
				continue
			}

			ts := registry.Next(rec.Latest(), now)
			if err := rec.SetVersion(it.Entry.Checksum, ts, it.Entry.Size); err != nil {
				return nil, err
			}
			transfers = append(transfers, transfer{
				name:   it.Name,
				local:  filepath.Join(p.Root, filepath.FromSlash(it.Name)),
				remote: RemoteName(it.Name, ts),
			})
			res.Uploaded = append(res.Uploaded, it.Name)
		case status.Remove:
			rec, ok := next.Get(it.Name)
			if !ok {
				return nil, fmt.Errorf("cannot remove unknown file %s", it.Name)
			}
			if err := rec.MarkRemoved(); err != nil {
				return nil, err
			}
			res.Removed = append(res.Removed, it.Name)
		default:
			return nil, fmt.Errorf("cannot publish %s of %s", it.Action, it.Name)
		}
	}

	if len(rebuild) > 0 {
		edges, err := deps.BuildEdges(next, p.Extractor, rebuild...)
		if err != nil {
			return nil, fmt.Errorf("rebuild dependencies: %w", err)
		}
		edges.Apply(next)
		res.Edges = edges.Changes
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}

	if p.Transport == nil {
		p.logger().Warn("no upload target configured, updating the local registry only")
	} else {
		missing, err := p.missingVersions(ctx, next, transfers)
		if err != nil {
			return nil, err
		}
		for _, tr := range missing {
			res.Backfilled = append(res.Backfilled, tr.name)
		}
		transfers = append(missing, transfers...)
	}

	for _, tr := range transfers {
		if p.Transport == nil {
			break
		}
		if err := ctx.Err(); err != nil {
			p.rollback(res.Transferred)
			return nil, err
		}
		p.logger().Info("uploading", "file", tr.name, "remote", tr.remote, "target", p.Transport.String())
		if err := p.Transport.Put(ctx, tr.local, tr.remote); err != nil {
			p.rollback(res.Transferred)
			return nil, &TransferError{File: tr.name, Remote: tr.remote, Err: err}
		}
		res.Transferred = append(res.Transferred, tr.remote)
	}

	staged := p.RegistryPath + ".new"
	if err := registry.Save(staged, next); err != nil {
		p.rollback(res.Transferred)
		return nil, err
	}
	defer os.Remove(staged)

	if p.Transport != nil {
		if err := p.Transport.Put(ctx, staged, RegistryFile); err != nil {
			p.rollback(res.Transferred)
			return nil, &TransferError{File: p.RegistryPath, Remote: RegistryFile, Err: err}
		}
	}

	if err := os.Rename(staged, p.RegistryPath); err != nil {
		return nil, fmt.Errorf("replace %s: %w", p.RegistryPath, err)
	}

	p.logger().Info("published", "uploaded", len(res.Uploaded), "removed", len(res.Removed))
	return res, nil
}

// missingVersions queues the current versions in next that the target does
// not hold, such as versions published earlier without an upload target.
// The local copy must still match the recorded checksum.
func (p *Publisher) missingVersions(ctx context.Context, next *registry.Registry, queued []transfer) ([]transfer, error) {
	pending := make(map[string]struct{}, len(queued))
	for _, tr := range queued {
		pending[tr.name] = struct{}{}
	}

	algo := p.Algorithm
	if algo == "" {
		algo = digest.Default
	}

	var out []transfer
	for _, name := range next.Names() {
		rec := next.Records[name]
		if rec.IsObsolete() {
			continue
		}
		if _, ok := pending[name]; ok {
			continue
		}

		remote := RemoteName(name, rec.Current.Timestamp)
		ok, err := p.Transport.Exists(ctx, remote)
		if err != nil {
			return nil, fmt.Errorf("look up %s on %s: %w", remote, p.Transport, err)
		}
		if ok {
			continue
		}

		local := filepath.Join(p.Root, filepath.FromSlash(name))
		sum, err := digest.Checksum(local, algo)
		if err != nil || sum != rec.Current.Checksum {
			return nil, fmt.Errorf("%w: %s has no copy on %s and the local file does not match version %s",
				ErrMissingVersion, name, p.Transport, rec.Current.Timestamp)
		}
		p.logger().Info("queueing unpublished version", "file", name, "remote", remote)
		out = append(out, transfer{name: name, local: local, remote: remote})
	}
	return out, nil
}

// rollback removes versions already transferred in a failed batch. Remote
// names carry the new timestamp, so nothing else refers to them yet.
func (p *Publisher) rollback(remotes []string) {
	for _, remote := range remotes {
		if err := p.Transport.Delete(context.Background(), remote); err != nil {
			p.logger().Warn("could not clean up transferred file", "remote", remote, "error", err)
		}
	}
}

func publishes(plan *resolve.Plan) bool {
	if plan == nil {
		return false
	}
	for _, it := range plan.Items {
		if it.Action.Publishes() {
			return true
		}
	}
	return false
}
