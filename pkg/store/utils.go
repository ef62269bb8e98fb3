package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/olimci/plugindb/pkg/utils/fileutils"
)

func ensureDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := writeTOML(path, DefaultConfig()); err != nil {
		return false, err
	}
	return true, nil
}

func writeTOML(path string, value any) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fileutils.WriteAtomic(path, &buf, 0o644)
}

func writeJSON(path string, value any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return fileutils.WriteAtomic(path, &buf, 0o644)
}

func decodeJSONFile(path string, value any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(value)
}
