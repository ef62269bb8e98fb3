package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/olimci/plugindb/pkg/deps"
	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/publish"
	"github.com/olimci/plugindb/pkg/registry"
	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/store/config"
)

// Workspace is an opened installation: its configuration, the registry as
// loaded from disk and the checksum cache. Close persists the cache.
type Workspace struct {
	Store    Store
	Config   config.Config
	Registry *registry.Registry
	Logger   *slog.Logger
	Now      func() time.Time

	algo  digest.Algorithm
	cache *scan.Cache
}

func (s Store) Workspace(logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cfg, err := s.LoadConfig()
	if err != nil {
		return nil, err
	}
	algo, err := digest.ParseAlgorithm(cfg.Options.Algorithm)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Load(s.RegistryPath())
	if err != nil {
		return nil, err
	}

	cache, err := scan.LoadCache(s.ChecksumCachePath(), cfg.Options.CacheSize)
	if err != nil {
		return nil, err
	}

	logger.Debug("opened workspace", "root", s.Root, "files", len(reg.Records), "algorithm", algo.String())
	return &Workspace{
		Store:    s,
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
		Now:      time.Now,
		algo:     algo,
		cache:    cache,
	}, nil
}

func (w *Workspace) Close() error {
	if err := w.cache.Save(); err != nil {
		return fmt.Errorf("save checksum cache: %w", err)
	}
	return nil
}

func (w *Workspace) Scanner() *scan.Scanner {
	return &scan.Scanner{
		Root:      w.Store.Root,
		Algorithm: w.algo,
		Dirs:      w.Config.Options.ScanDirs,
		Ignore:    w.Config.Options.Ignore,
		Cache:     w.cache,
		Workers:   w.Config.Options.Workers,
		Logger:    w.Logger,
	}
}

// Extractor consults dependencies.yaml first and falls back to reading the
// class references of the local jars.
func (w *Workspace) Extractor() (deps.Extractor, error) {
	manifest, err := deps.LoadManifest(w.Store.DependenciesPath())
	if err != nil {
		return nil, err
	}

	local, err := w.Scanner().Walk()
	if err != nil {
		return nil, err
	}

	return deps.Chain{manifest, deps.NewClassExtractor(w.Store.Root, local, w.Logger)}, nil
}

// Transport opens target, a directory or s3://bucket/prefix. An empty target
// yields a nil transport.
func (w *Workspace) Transport(target string) (publish.Transport, error) {
	if strings.TrimSpace(target) == "" {
		return nil, nil
	}
	return publish.ParseTarget(target, publish.S3Config{
		Endpoint:  w.Config.S3.Endpoint,
		Region:    w.Config.S3.Region,
		AccessKey: w.Config.S3.AccessKey,
		SecretKey: w.Config.S3.SecretKey,
		UseSSL:    w.Config.S3.UseSSL,
	})
}

func (w *Workspace) normalize(files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		name, err := scan.Normalize(w.Store.Root, f)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (w *Workspace) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}
