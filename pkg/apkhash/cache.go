package apkhash

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/allegro/bigcache"
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
)

// Cache memoizes checksums per file version. A replaced APK changes size or
// mtime and therefore its key, so stale digests are never served.
type Cache struct {
	backend *bigcache.BigCache
}

func NewCache(ttl time.Duration) (*Cache, error) {
	config := bigcache.DefaultConfig(ttl)
	config.Shards = 16
	config.MaxEntriesInWindow = 64
	config.HardMaxCacheSize = 1
	config.Verbose = false

	backend, err := bigcache.NewBigCache(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize checksum cache")
	}
	return &Cache{backend: backend}, nil
}

func versionKey(path string, info os.FileInfo) string {
	raw := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	return fmt.Sprintf("%016x", xxhash.Sum64String(raw))
}

// File returns the checksum of path, hashing it only when this version of
// the file has not been seen before.
func (c *Cache) File(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", errors.Wrap(err, "failed to stat apk")
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	key := versionKey(path, info)
	if entry, err := c.backend.Get(key); err == nil {
		return string(entry), nil
	}

	sum, err := File(ctx, path)
	if err != nil {
		return "", err
	}
	if err := c.backend.Set(key, []byte(sum)); err != nil {
		return "", errors.Wrapf(err, "failed to cache checksum for %s", path)
	}
	return sum, nil
}
