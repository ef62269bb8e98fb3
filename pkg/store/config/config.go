package config

import (
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	PluginDB PluginDB `toml:"plugindb"` // application metadata
	Options  Options  `toml:"options"`
	S3       S3       `toml:"s3"` // credentials for s3:// targets
}

type PluginDB struct {
	Version string `toml:"version"` // version that wrote the file
}

type Options struct {
	Algorithm  string   `toml:"algorithm"`             // sha1|sha256|blake3
	ScanDirs   []string `toml:"scan_dirs,omitempty"`   // directories below the root holding tracked files
	Ignore     []string `toml:"ignore,omitempty"`      // glob patterns skipped by the scanner
	UploadTo   string   `toml:"upload_to,omitempty"`   // default publish target, a directory or s3://bucket/prefix
	UpdateFrom string   `toml:"update_from,omitempty"` // default update source, falls back to upload_to
	Workers    int      `toml:"workers"`               // concurrent checksum workers
	CacheSize  int      `toml:"cache_size"`            // checksum cache entries kept between runs
	Strict     bool     `toml:"strict"`                // reject the whole request on the first invalid action
}

type S3 struct {
	Endpoint  string `toml:"endpoint,omitempty"`
	Region    string `toml:"region,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Env prefix for the S3 overrides, e.g. PLUGINDB_S3_ACCESS_KEY.
const EnvPrefix = "PLUGINDB_S3_"

// ApplyEnv overrides the S3 section with PLUGINDB_S3_* variables so secrets
// can stay out of the config file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ENDPOINT":   &c.S3.Endpoint,
		"REGION":     &c.S3.Region,
		"ACCESS_KEY": &c.S3.AccessKey,
		"SECRET_KEY": &c.S3.SecretKey,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(EnvPrefix + "USE_SSL"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %sUSE_SSL: %w", EnvPrefix, err)
		}
		c.S3.UseSSL = b
	}
	return nil
}
