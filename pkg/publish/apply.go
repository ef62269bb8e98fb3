package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/resolve"
	"github.com/olimci/plugindb/pkg/status"
	"github.com/olimci/plugindb/pkg/utils/fileutils"
)

var ErrChecksumMismatch = errors.New("wrong checksum")

// Installer brings a local installation up to date from a distribution root.
type Installer struct {
	Root      string
	Staging   string
	Transport Transport
	Algorithm digest.Algorithm
	Logger    *slog.Logger
}

type ApplyResult struct {
	Installed   []string
	Updated     []string
	Uninstalled []string
}

func (in *Installer) logger() *slog.Logger {
	if in.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return in.Logger
}

func (in *Installer) staging() string {
	if in.Staging != "" {
		return in.Staging
	}
	return filepath.Join(in.Root, "update")
}

// Apply carries out the client side items of plan: installs and updates are
// downloaded into the staging directory, verified against the registry
// checksum and renamed over the local file; uninstalls delete it.
func (in *Installer) Apply(ctx context.Context, reg *registry.Registry, plan *resolve.Plan) (*ApplyResult, error) {
	res := &ApplyResult{}
	if plan == nil {
		return res, nil
	}
	defer os.Remove(in.staging())

	for _, it := range plan.Items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch it.Action {
		case status.NoOp:
			continue
		case status.Install, status.Update:
			if in.Transport == nil {
				return res, fmt.Errorf("no download source configured")
			}
			if err := in.fetch(ctx, reg, it.Name); err != nil {
				return res, err
			}
			if it.Action == status.Install {
				res.Installed = append(res.Installed, it.Name)
			} else {
				res.Updated = append(res.Updated, it.Name)
			}
		case status.Uninstall:
			if err := fileutils.RemoveFile(in.Root, it.Name); err != nil {
				return res, fmt.Errorf("uninstall %s: %w", it.Name, err)
			}
			in.logger().Info("uninstalled", "file", it.Name)
			res.Uninstalled = append(res.Uninstalled, it.Name)
		default:
			return res, fmt.Errorf("cannot apply %s of %s locally", it.Action, it.Name)
		}
	}

	return res, nil
}

func (in *Installer) fetch(ctx context.Context, reg *registry.Registry, name string) error {
	rec, ok := reg.Get(name)
	if !ok || rec.Current == nil {
		return fmt.Errorf("%s has no current version", name)
	}

	remote := RemoteName(name, rec.Current.Timestamp)
	staged := filepath.Join(in.staging(), filepath.FromSlash(name))

	in.logger().Info("downloading", "file", name, "remote", remote, "source", in.Transport.String())
	if err := in.Transport.Get(ctx, remote, staged); err != nil {
		return &TransferError{File: name, Remote: remote, Err: err}
	}

	algo := in.Algorithm
	if algo == "" {
		algo = digest.Default
	}
	sum, err := digest.Checksum(staged, algo)
	if err != nil {
		_ = fileutils.RemoveFile(in.staging(), name)
		return fmt.Errorf("checksum %s: %w", staged, err)
	}
	if sum != rec.Current.Checksum {
		_ = fileutils.RemoveFile(in.staging(), name)
		return fmt.Errorf("%w for %s: got %s, want %s", ErrChecksumMismatch, name, sum, rec.Current.Checksum)
	}

	dest := filepath.Join(in.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", dest, err)
	}
	if err := os.Rename(staged, dest); err != nil {
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	_ = fileutils.RemoveFile(in.staging(), name)
	return nil
}
