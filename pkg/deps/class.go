package deps

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

const classMagic = 0xCAFEBABE

// ClassExtractor finds dependencies by reading the class references of the
// compiled classes inside a jar and mapping each one back to the jar that
// provides it.
type ClassExtractor struct {
	Root   string
	Jars   []string
	Logger *slog.Logger

	providers map[string]string
	indexErr  error
	indexed   bool
}

func NewClassExtractor(root string, jars []string, logger *slog.Logger) *ClassExtractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	names := append([]string(nil), jars...)
	sort.Strings(names)
	return &ClassExtractor{Root: root, Jars: names, Logger: logger}
}

func (c *ClassExtractor) Dependencies(name string) ([]string, error) {
	if !isJar(name) {
		return nil, ErrNotDeclared
	}
	if err := c.index(); err != nil {
		return nil, err
	}

	refs, err := jarClassRefs(filepath.Join(c.Root, filepath.FromSlash(name)))
	if errors.Is(err, zip.ErrFormat) {
		return nil, ErrNotDeclared
	}
	if err != nil {
		return nil, fmt.Errorf("read classes of %s: %w", name, err)
	}

	found := make(map[string]struct{})
	for _, ref := range refs {
		provider, ok := c.providers[ref]
		if !ok || provider == name {
			continue
		}
		found[provider] = struct{}{}
	}

	out := make([]string, 0, len(found))
	for provider := range found {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out, nil
}

func (c *ClassExtractor) index() error {
	if c.indexed {
		return c.indexErr
	}
	c.indexed = true
	c.providers = make(map[string]string)

	for _, jar := range c.Jars {
		if !isJar(jar) {
			continue
		}
		classes, err := jarClasses(filepath.Join(c.Root, filepath.FromSlash(jar)))
		if errors.Is(err, zip.ErrFormat) {
			c.Logger.Warn("not a zip archive, skipping", "jar", jar)
			continue
		}
		if err != nil {
			c.indexErr = fmt.Errorf("index %s: %w", jar, err)
			return c.indexErr
		}
		for _, class := range classes {
			if prev, dup := c.providers[class]; dup {
				c.Logger.Debug("class provided twice", "class", class, "kept", prev, "ignored", jar)
				continue
			}
			c.providers[class] = jar
		}
	}

	c.Logger.Debug("indexed classes", "jars", len(c.Jars), "classes", len(c.providers))
	return nil
}

func isJar(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".jar")
}

// jarClasses lists the internal names (a/b/C) of the classes in a jar.
func jarClasses(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []string
	for _, f := range r.File {
		if class, ok := strings.CutSuffix(f.Name, ".class"); ok && !f.FileInfo().IsDir() {
			out = append(out, class)
		}
	}
	return out, nil
}

// jarClassRefs returns every class referenced from any class in the jar.
func jarClassRefs(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	seen := make(map[string]struct{})
	for _, f := range r.File {
		if !strings.HasSuffix(f.Name, ".class") || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}

		refs, err := ClassRefs(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		for _, ref := range refs {
			seen[ref] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for ref := range seen {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out, nil
}

var errClassFormat = errors.New("malformed class file")

// ClassRefs parses the constant pool of a class file and returns the names of
// all CONSTANT_Class entries. Array types are reduced to their element class;
// arrays of primitives are skipped.
func ClassRefs(data []byte) ([]string, error) {
	r := bytes.NewReader(data)

	var header struct {
		Magic uint32
		Minor uint16
		Major uint16
		Count uint16
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", errClassFormat, err)
	}
	if header.Magic != classMagic {
		return nil, fmt.Errorf("%w: bad magic %#x", errClassFormat, header.Magic)
	}

	utf8 := make(map[uint16]string)
	var classIdx []uint16

	for i := uint16(1); i < header.Count; i++ {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
		}

		switch tag {
		case 1: // Utf8
			var n uint16
			if err := binary.Read(r, binary.BigEndian, &n); err != nil {
				return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
			}
			utf8[i] = string(buf)
		case 7: // Class
			var idx uint16
			if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
				return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
			}
			classIdx = append(classIdx, idx)
		case 5, 6: // Long, Double take two slots
			if err := skip(r, 8); err != nil {
				return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
			}
			i++
		default:
			n, ok := constantSize[tag]
			if !ok {
				return nil, fmt.Errorf("%w: constant %d has unknown tag %d", errClassFormat, i, tag)
			}
			if err := skip(r, n); err != nil {
				return nil, fmt.Errorf("%w: constant %d: %v", errClassFormat, i, err)
			}
		}
	}

	seen := make(map[string]struct{}, len(classIdx))
	out := make([]string, 0, len(classIdx))
	for _, idx := range classIdx {
		name, ok := utf8[idx]
		if !ok {
			return nil, fmt.Errorf("%w: class entry points at missing name %d", errClassFormat, idx)
		}
		name, ok = elementClass(name)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

var constantSize = map[byte]int64{
	3:  4, // Integer
	4:  4, // Float
	8:  2, // String
	9:  4, // Fieldref
	10: 4, // Methodref
	11: 4, // InterfaceMethodref
	12: 4, // NameAndType
	15: 3, // MethodHandle
	16: 2, // MethodType
	17: 4, // Dynamic
	18: 4, // InvokeDynamic
	19: 2, // Module
	20: 2, // Package
}

func skip(r *bytes.Reader, n int64) error {
	if int64(r.Len()) < n {
		return io.ErrUnexpectedEOF
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}

func elementClass(name string) (string, bool) {
	if !strings.HasPrefix(name, "[") {
		return name, true
	}
	elem := strings.TrimLeft(name, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1], true
	}
	return "", false
}
