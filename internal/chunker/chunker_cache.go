package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cooklang/cooksync/internal/utils"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheEntries = 100_000
	DefaultCacheBytes   = 256 << 20
)

// Cache holds chunk contents by id
type Cache interface {
	Get(id string) ([]byte, bool)
	Set(id string, data []byte) error
	Contains(id string) bool
}

// InMemoryCache is an LRU bounded both by entry count and by total bytes
type InMemoryCache struct {
	lru      *lru.Cache[string, []byte]
	size     atomic.Int64
	maxBytes int64
}

func NewInMemoryCache(maxEntries int, maxBytes int64) (*InMemoryCache, error) {
	c := &InMemoryCache{maxBytes: maxBytes}
	cache, err := lru.NewWithEvict(maxEntries, func(_ string, value []byte) {
		c.size.Add(-int64(len(value)))
	})
	if err != nil {
		return nil, err
	}
	c.lru = cache
	return c, nil
}

func (c *InMemoryCache) Get(id string) ([]byte, bool) {
	return c.lru.Get(id)
}

func (c *InMemoryCache) Set(id string, data []byte) error {
	// ids are content hashes, an existing entry already holds these bytes
	if found, _ := c.lru.ContainsOrAdd(id, data); found {
		return nil
	}
	c.size.Add(int64(len(data)))

	for c.maxBytes > 0 && c.size.Load() > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
	return nil
}

func (c *InMemoryCache) Contains(id string) bool {
	return c.lru.Contains(id)
}

// Bytes is the total size of cached chunks
func (c *InMemoryCache) Bytes() int64 {
	return c.size.Load()
}

// DiskCache keeps chunks as files under dir/<a>/<b>/<id>
type DiskCache struct {
	dir string
}

func NewDiskCache(dir string) (*DiskCache, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("chunk cache dir: %w", err)
	}
	return &DiskCache{dir: dir}, nil
}

func (c *DiskCache) chunkPath(id string) (string, error) {
	if id == "" || !IsValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(c.dir, id[:1], id[1:2], id), nil
}

func (c *DiskCache) Get(id string) ([]byte, bool) {
	path, err := c.chunkPath(id)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *DiskCache) Set(id string, data []byte) error {
	path, err := c.chunkPath(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return utils.WriteFileAtomic(path, bytes.NewReader(data), 0o644)
}

func (c *DiskCache) Contains(id string) bool {
	path, err := c.chunkPath(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Purge removes every chunk kept on disk
func (c *DiskCache) Purge() error {
	if err := os.RemoveAll(c.dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return utils.EnsureDir(c.dir)
}

// LayeredCache reads through a fast cache into a slower, durable one.
// Chunks found only in the slow layer are promoted.
type LayeredCache struct {
	fast Cache
	slow Cache
}

func NewLayeredCache(fast, slow Cache) *LayeredCache {
	return &LayeredCache{fast: fast, slow: slow}
}

func (c *LayeredCache) Get(id string) ([]byte, bool) {
	if data, ok := c.fast.Get(id); ok {
		return data, true
	}
	data, ok := c.slow.Get(id)
	if ok {
		_ = c.fast.Set(id, data)
	}
	return data, ok
}

func (c *LayeredCache) Set(id string, data []byte) error {
	if err := c.slow.Set(id, data); err != nil {
		return err
	}
	return c.fast.Set(id, data)
}

func (c *LayeredCache) Contains(id string) bool {
	return c.fast.Contains(id) || c.slow.Contains(id)
}
