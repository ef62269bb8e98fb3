// Package store locates an installation on disk, loads its configuration and
// runs the scan, publish and update operations against it.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/olimci/plugindb/pkg/digest"
	"github.com/olimci/plugindb/pkg/scan"
	"github.com/olimci/plugindb/pkg/store/config"
	"github.com/olimci/plugindb/pkg/store/lock"
	"github.com/olimci/plugindb/pkg/utils/fileutils"
	"github.com/olimci/plugindb/pkg/version"
)

const (
	configFile       = "plugindb.toml"
	lockFile         = ".plugindb.lock.json"
	registryFile     = "db.xml.gz"
	dependenciesFile = "dependencies.yaml"
	cacheFile        = ".checksums.cbor"
	updateDir        = "update"
	envRoot          = "PLUGINDB_ROOT"
)

var (
	ErrAlreadyInitialized = errors.New("plugindb is already initialized")
	ErrNotInitialized     = errors.New("plugindb is not initialized")
)

// Store points to an installation root.
type Store struct {
	Root string
}

// DefaultStore loads a .env file from the working directory if there is one,
// then uses PLUGINDB_ROOT or the working directory as the root.
func DefaultStore() (Store, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Store{}, fmt.Errorf("load .env: %w", err)
	}

	if customRoot := strings.TrimSpace(os.Getenv(envRoot)); customRoot != "" {
		return Open(customRoot)
	}

	wd, err := os.Getwd()
	if err != nil {
		return Store{}, fmt.Errorf("resolve working directory: %w", err)
	}
	return Store{Root: wd}, nil
}

func Open(root string) (Store, error) {
	abs, err := fileutils.AbsPath(root)
	if err != nil {
		return Store{}, fmt.Errorf("resolve root: %w", err)
	}
	return Store{Root: abs}, nil
}

func (s Store) ConfigPath() string {
	return filepath.Join(s.Root, configFile)
}

func (s Store) LockPath() string {
	return filepath.Join(s.Root, lockFile)
}

func (s Store) RegistryPath() string {
	return filepath.Join(s.Root, registryFile)
}

func (s Store) DependenciesPath() string {
	return filepath.Join(s.Root, dependenciesFile)
}

func (s Store) ChecksumCachePath() string {
	return filepath.Join(s.Root, cacheFile)
}

func (s Store) UpdatePath() string {
	return filepath.Join(s.Root, updateDir)
}

func (s Store) IsInitialized() bool {
	_, err := os.Stat(s.ConfigPath())
	return err == nil
}

func DefaultConfig() config.Config {
	return config.Config{
		PluginDB: config.PluginDB{
			Version: version.Version,
		},
		Options: config.Options{
			Algorithm: digest.Default.String(),
			ScanDirs:  append([]string(nil), scan.DefaultDirs...),
			Workers:   1,
			CacheSize: scan.DefaultCacheSize,
		},
	}
}

// Init writes the default configuration and fails if one exists.
func (s Store) Init() error {
	if s.IsInitialized() {
		return ErrAlreadyInitialized
	}
	_, err := ensureDefaultConfig(s.ConfigPath())
	return err
}

// LoadConfig reads the config file on top of the defaults and applies the
// PLUGINDB_S3_* overrides. A missing file yields the defaults.
func (s Store) LoadConfig() (config.Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(s.ConfigPath()); err == nil {
		if _, err := toml.DecodeFile(s.ConfigPath(), &cfg); err != nil {
			return config.Config{}, fmt.Errorf("decode %s: %w", s.ConfigPath(), err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("stat %s: %w", s.ConfigPath(), err)
	}

	if cfg.PluginDB.Version == "" {
		cfg.PluginDB.Version = version.Version
	}
	if err := version.EnsureCompatible(cfg.PluginDB.Version); err != nil {
		return config.Config{}, fmt.Errorf("unsupported config version %q: %w", cfg.PluginDB.Version, err)
	}
	if _, err := digest.ParseAlgorithm(cfg.Options.Algorithm); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", s.ConfigPath(), err)
	}
	if cfg.Options.Workers < 1 {
		cfg.Options.Workers = 1
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (s Store) SaveConfig(cfg config.Config) error {
	if cfg.PluginDB.Version == "" {
		cfg.PluginDB.Version = version.Version
	}
	return writeTOML(s.ConfigPath(), cfg)
}

func (s Store) LoadLock() (lock.Lock, error) {
	var lck lock.Lock
	if _, err := os.Stat(s.LockPath()); err == nil {
		if err := decodeJSONFile(s.LockPath(), &lck); err != nil {
			return lock.Lock{}, fmt.Errorf("decode %s: %w", s.LockPath(), err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return lock.Lock{}, fmt.Errorf("stat %s: %w", s.LockPath(), err)
	}
	return lck, nil
}

func (s Store) SaveLock(lck lock.Lock) error {
	return writeJSON(s.LockPath(), lck)
}
