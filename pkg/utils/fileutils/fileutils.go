package fileutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func ExpandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}

func AbsPath(path string) (string, error) {
	expanded := ExpandHome(strings.TrimSpace(path))
	if expanded == "" {
		return "", fmt.Errorf("path is empty")
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", path, err)
	}

	return filepath.Clean(abs), nil
}

// WriteAtomic streams r into dest through a sibling temporary file, so
// readers of dest only ever see the old or the complete new content.
func WriteAtomic(dest string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %s: %w", dest, err)
	}

	tmpDest := dest + ".tmp"
	f, err := os.OpenFile(tmpDest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create temporary file %s: %w", tmpDest, err)
	}

	_, copyErr := io.Copy(f, r)
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmpDest)
		return fmt.Errorf("write %s: %w", tmpDest, err)
	}

	if err := os.Rename(tmpDest, dest); err != nil {
		_ = os.Remove(tmpDest)
		return fmt.Errorf("replace %s with %s: %w", dest, tmpDest, err)
	}

	return nil
}

func CopyFile(src, dest string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source file %s: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source is not a regular file: %s", src)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", src, err)
	}
	defer srcFile.Close()

	return WriteAtomic(dest, srcFile, srcInfo.Mode().Perm())
}

// RemoveFile deletes the regular file at root/name and prunes the directories
// left empty below root. A missing file is not an error.
func RemoveFile(root, name string) error {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !Within(root, target) {
		return fmt.Errorf("refusing to remove %s outside %s", name, root)
	}

	info, err := os.Lstat(target)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return err
	case info.IsDir():
		return fmt.Errorf("refusing to remove directory %s", target)
	default:
		if err := os.Remove(target); err != nil {
			return err
		}
	}

	cleanRoot := filepath.Clean(root)
	for dir := filepath.Dir(target); dir != cleanRoot && Within(cleanRoot, dir); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// Within reports whether path lies strictly below root.
func Within(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
