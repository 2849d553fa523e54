package configsrc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"delta-sync/core/storage/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (c *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	c.calls.Add(1)
	return c.data, c.err
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customers.yaml"), []byte("customers: []"), 0o600))

	data, err := FileFetcher{Dir: dir}.Fetch(context.Background(), "customers.yaml")
	require.NoError(t, err)
	assert.Equal(t, "customers: []", string(data))

	_, err = FileFetcher{Dir: dir}.Fetch(context.Background(), "missing.yaml")
	assert.Error(t, err)
}

func TestStorageFetcher(t *testing.T) {
	m := new(mocks.Client)
	m.On("GetObject", mock.Anything, "delta-sync", "config/mapping.yaml", mock.Anything).
		Return(io.NopCloser(bytes.NewReader([]byte("rules: []"))), nil)

	data, err := StorageFetcher{Client: m, Bucket: "delta-sync"}.Fetch(context.Background(), "config/mapping.yaml")
	require.NoError(t, err)
	assert.Equal(t, "rules: []", string(data))
}

func TestNewFetcher(t *testing.T) {
	f, err := NewFetcher("", "config", nil, "")
	require.NoError(t, err)
	assert.IsType(t, FileFetcher{}, f)

	_, err = NewFetcher(KindStorage, "", nil, "bucket")
	assert.Error(t, err)

	f, err = NewFetcher(KindStorage, "", new(mocks.Client), "bucket")
	require.NoError(t, err)
	assert.IsType(t, StorageFetcher{}, f)

	_, err = NewFetcher("ftp", "", nil, "")
	assert.ErrorContains(t, err, "unknown config source")
}

func TestCache_FetchesOnce(t *testing.T) {
	fetcher := &countingFetcher{data: []byte("payload")}
	cache := NewCache(fetcher)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := cache.Get(context.Background(), "customers.yaml")
			assert.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		}()
	}
	wg.Wait()

	_, err := cache.Get(context.Background(), "customers.yaml")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("timeout")}
	cache := NewCache(fetcher)

	_, err := cache.Get(context.Background(), "mapping.yaml")
	assert.Error(t, err)
	_, err = cache.Get(context.Background(), "mapping.yaml")
	assert.Error(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())
}
