package digest

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

const manifestName = "META-INF/MANIFEST.MF"

// volatileManifestKeys are rewritten by build tools on every build even when
// the archive contents are unchanged.
var volatileManifestKeys = []string{
	"Archiver-Version:",
	"Bnd-LastModified:",
	"Build-Jdk:",
	"Build-Jdk-Spec:",
	"Built-By:",
	"Created-By:",
}

// Checksum computes the hex checksum of the regular file at path.
// Archives (.jar, .zip) are hashed over their sorted entries so that
// repacking identical contents yields the same checksum.
func Checksum(path string, algo Algorithm) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("unsupported file type at %s (%s)", path, info.Mode().String())
	}

	if IsArchive(path) {
		sum, err := hashArchive(path, algo)
		if err == nil {
			return sum, nil
		}
		if !errors.Is(err, zip.ErrFormat) {
			return "", err
		}
		// Not actually a zip file; fall through to a byte hash.
	}

	return hashFile(path, algo)
}

// IsArchive reports whether name is hashed entry-wise.
func IsArchive(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jar", ".zip":
		return true
	default:
		return false
	}
}

func hashFile(path string, algo Algorithm) (string, error) {
	h, err := algo.New()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashArchive(path string, algo Algorithm) (string, error) {
	h, err := algo.New()
	if err != nil {
		return "", err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()

	entries := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	for _, entry := range entries {
		if _, err := io.WriteString(h, entry.Name+"\n"); err != nil {
			return "", err
		}
		if err := hashEntry(h, entry); err != nil {
			return "", fmt.Errorf("hash %s in %s: %w", entry.Name, path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashEntry(w io.Writer, entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if entry.Name != manifestName {
		_, err := io.Copy(w, rc)
		return err
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	_, err = w.Write(normalizeManifest(data))
	return err
}

func normalizeManifest(data []byte) []byte {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if isVolatileManifestLine(line) {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func isVolatileManifestLine(line string) bool {
	for _, key := range volatileManifestKeys {
		if strings.HasPrefix(line, key) {
			return true
		}
	}
	return false
}
