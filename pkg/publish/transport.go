// Package publish pushes new file versions and the updated registry to a
// distribution root, and pulls them back down on the client side.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olimci/plugindb/pkg/utils/fileutils"
)

var ErrNotFound = errors.New("remote file not found")

// Transport moves files between the local machine and a distribution root.
// Remote names are slash separated.
type Transport interface {
	Put(ctx context.Context, localPath, remoteName string) error
	Get(ctx context.Context, remoteName, localPath string) error
	Delete(ctx context.Context, remoteName string) error
	Exists(ctx context.Context, remoteName string) (bool, error)
	String() string
}

// ParseTarget picks a transport for an upload/download target: an
// s3://bucket/prefix URL or a directory.
func ParseTarget(target string, s3cfg S3Config) (Transport, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("target is empty")
	}

	if rest, ok := strings.CutPrefix(target, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid s3 target %q: bucket is missing", target)
		}
		cfg := s3cfg
		cfg.Bucket = bucket
		cfg.Prefix = strings.Trim(prefix, "/")
		return NewS3Transport(cfg)
	}

	root, err := fileutils.AbsPath(target)
	if err != nil {
		return nil, err
	}
	return &DirTransport{Root: root}, nil
}

// DirTransport publishes into a local or mounted directory.
type DirTransport struct {
	Root string
}

func (d *DirTransport) path(remoteName string) (string, error) {
	p := filepath.Join(d.Root, filepath.FromSlash(remoteName))
	if !fileutils.Within(d.Root, p) {
		return "", fmt.Errorf("remote name %q escapes %s", remoteName, d.Root)
	}
	return p, nil
}

func (d *DirTransport) Put(ctx context.Context, localPath, remoteName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := d.path(remoteName)
	if err != nil {
		return err
	}
	return fileutils.CopyFile(localPath, dest)
}

func (d *DirTransport) Get(ctx context.Context, remoteName, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := d.path(remoteName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, remoteName)
	}
	return fileutils.CopyFile(src, localPath)
}

func (d *DirTransport) Delete(ctx context.Context, remoteName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fileutils.RemoveFile(d.Root, remoteName)
}

func (d *DirTransport) Exists(ctx context.Context, remoteName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := d.path(remoteName)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (d *DirTransport) String() string {
	return d.Root
}
