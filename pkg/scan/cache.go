package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize = 8192
	cacheVersion     = 1
)

var (
	cacheEnc cbor.EncMode
	cacheDec cbor.DecMode
)

func init() {
	var err error
	cacheEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("scan: CBOR encoder initialization failed: " + err.Error())
	}
	cacheDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("scan: CBOR decoder initialization failed: " + err.Error())
	}
}

// CacheKey identifies one checksum computation. A file whose size or mtime
// changed gets a new key and is hashed again.
type CacheKey struct {
	Path      string
	Size      int64
	ModTime   int64
	Algorithm string
}

type cacheEntry struct {
	Path      string `cbor:"1,keyasint"`
	Size      int64  `cbor:"2,keyasint"`
	ModTime   int64  `cbor:"3,keyasint"`
	Algorithm string `cbor:"4,keyasint"`
	Checksum  string `cbor:"5,keyasint"`
}

type cacheFile struct {
	Version int          `cbor:"1,keyasint"`
	Entries []cacheEntry `cbor:"2,keyasint"`
}

// Cache is a bounded checksum cache, optionally persisted to a file.
type Cache struct {
	path  string
	items *lru.Cache[CacheKey, string]

	mu    sync.Mutex
	dirty bool
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	items, err := lru.New[CacheKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("create checksum cache: %w", err)
	}
	return &Cache{items: items}, nil
}

// LoadCache opens the cache persisted at path. A missing or unreadable file
// starts an empty cache; it is rewritten on the next Save.
func LoadCache(path string, size int) (*Cache, error) {
	c, err := NewCache(size)
	if err != nil {
		return nil, err
	}
	c.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file cacheFile
	if err := cacheDec.Unmarshal(data, &file); err != nil || file.Version != cacheVersion {
		c.dirty = true
		return c, nil
	}

	for _, e := range file.Entries {
		c.items.Add(CacheKey{Path: e.Path, Size: e.Size, ModTime: e.ModTime, Algorithm: e.Algorithm}, e.Checksum)
	}
	return c, nil
}

func (c *Cache) Get(key CacheKey) (string, bool) {
	return c.items.Get(key)
}

func (c *Cache) Add(key CacheKey, checksum string) {
	c.items.Add(key, checksum)
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	return c.items.Len()
}

// Save writes the cache back to its file if anything changed.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" || !c.dirty {
		return nil
	}

	file := cacheFile{Version: cacheVersion}
	for _, key := range c.items.Keys() {
		sum, ok := c.items.Peek(key)
		if !ok {
			continue
		}
		file.Entries = append(file.Entries, cacheEntry{
			Path:      key.Path,
			Size:      key.Size,
			ModTime:   key.ModTime,
			Algorithm: key.Algorithm,
			Checksum:  sum,
		})
	}

	data, err := cacheEnc.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode checksum cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", c.path, err)
	}
	tp := c.path + ".tmp"
	if err := os.WriteFile(tp, data, 0o644); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("write %s: %w", tp, err)
	}
	if err := os.Rename(tp, c.path); err != nil {
		_ = os.Remove(tp)
		return fmt.Errorf("replace %s: %w", c.path, err)
	}

	c.dirty = false
	return nil
}
