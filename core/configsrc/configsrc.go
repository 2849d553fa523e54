package configsrc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"delta-sync/core/storage"

	"golang.org/x/sync/singleflight"
)

const (
	// KindFile reads config objects from a local directory.
	KindFile = "file"
	// KindStorage reads config objects from the object storage bucket.
	KindStorage = "storage"
)

// Fetcher retrieves the raw bytes of a named config object.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FileFetcher reads objects relative to Dir.
type FileFetcher struct {
	Dir string
}

// Fetch reads the named file.
func (f FileFetcher) Fetch(_ context.Context, name string) ([]byte, error) {
	path := name
	if !filepath.IsAbs(name) && f.Dir != "" {
		path = filepath.Join(f.Dir, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// StorageFetcher reads objects from a bucket.
type StorageFetcher struct {
	Client storage.Client
	Bucket string
}

// Fetch downloads the named object.
func (s StorageFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	return storage.ReadObject(ctx, s.Client, s.Bucket, name)
}

// NewFetcher picks the fetcher for kind.
func NewFetcher(kind, dir string, client storage.Client, bucket string) (Fetcher, error) {
	switch kind {
	case "", KindFile:
		return FileFetcher{Dir: dir}, nil
	case KindStorage:
		if client == nil {
			return nil, fmt.Errorf("config source %q requires a storage client", kind)
		}
		return StorageFetcher{Client: client, Bucket: bucket}, nil
	default:
		return nil, fmt.Errorf("unknown config source %q", kind)
	}
}

// Cache fetches each object at most once for its lifetime. Concurrent requests
// for the same object share one fetch. A Cache is meant to live for one run, so
// a new run always sees the current objects and a running one never reloads.
type Cache struct {
	fetcher Fetcher

	mu      sync.RWMutex
	entries map[string][]byte
	sf      singleflight.Group
}

// NewCache wraps fetcher with a run-scoped cache.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{fetcher: fetcher, entries: make(map[string][]byte)}
}

// Get returns the object bytes, fetching them on first use. Failures are not cached.
func (c *Cache) Get(ctx context.Context, name string) ([]byte, error) {
	c.mu.RLock()
	data, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	result, err, _ := c.sf.Do(name, func() (any, error) {
		c.mu.RLock()
		data, ok := c.entries[name]
		c.mu.RUnlock()
		if ok {
			return data, nil
		}

		data, err := c.fetcher.Fetch(ctx, name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[name] = data
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
