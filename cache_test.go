package sftpfs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache returns a cache backed by a fresh in-process server per dial,
// plus a counter of how many dials actually happened.
func newTestCache(t *testing.T) (*FSCache, *atomic.Int32) {
	t.Helper()

	var dials atomic.Int32

	cache := NewFSCache(func(ctx context.Context, id string) (*Client, string, error) {
		dials.Add(1)

		cl, _ := startTestClient(t, testServerConfig{exts: allExtensions()})
		return cl, "/", nil
	})

	return cache, &dials
}

func TestFSCacheIdentity(t *testing.T) {
	cache, dials := newTestCache(t)
	ctx := context.Background()

	fs1, err := cache.Open(ctx, "alice@host:22")
	require.NoError(t, err)

	fs2, err := cache.Open(ctx, "alice@host:22")
	require.NoError(t, err)

	// Same identity, same instance, one dial.
	assert.Same(t, fs1, fs2)
	assert.EqualValues(t, 1, dials.Load())

	fs3, err := cache.Open(ctx, "bob@host:22")
	require.NoError(t, err)

	assert.NotSame(t, fs1, fs3)
	assert.EqualValues(t, 2, dials.Load())
}

func TestFSCacheConcurrentOpen(t *testing.T) {
	cache, dials := newTestCache(t)
	ctx := context.Background()

	const goroutines = 16

	var wg sync.WaitGroup
	instances := make([]*FileSystem, goroutines)

	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()

			fs, err := cache.Open(ctx, "shared")
			if err == nil {
				instances[i] = fs
			}
		}()
	}

	wg.Wait()

	require.NotNil(t, instances[0])
	for i := 1; i < goroutines; i++ {
		assert.Same(t, instances[0], instances[i], "instance %d", i)
	}

	assert.EqualValues(t, 1, dials.Load())
}

func TestFSCacheFreshAfterClose(t *testing.T) {
	cache, dials := newTestCache(t)
	ctx := context.Background()

	fs1, err := cache.Open(ctx, "id")
	require.NoError(t, err)

	require.NoError(t, fs1.Close())

	// The closed instance is gone; the identity dials anew.
	_, ok := cache.Get("id")
	assert.False(t, ok)

	fs2, err := cache.Open(ctx, "id")
	require.NoError(t, err)

	assert.NotSame(t, fs1, fs2)
	assert.EqualValues(t, 2, dials.Load())
}

func TestFSCacheGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := cache.Get("id")
	assert.False(t, ok)

	fs1, err := cache.Open(ctx, "id")
	require.NoError(t, err)

	got, ok := cache.Get("id")
	require.True(t, ok)
	assert.Same(t, fs1, got)
}

func TestFSCacheFailedDialNotCached(t *testing.T) {
	boom := errors.New("no route to host")

	var dials atomic.Int32
	cache := NewFSCache(func(ctx context.Context, id string) (*Client, string, error) {
		dials.Add(1)
		return nil, "", boom
	})

	ctx := context.Background()

	_, err := cache.Open(ctx, "id")
	assert.ErrorIs(t, err, boom)

	// The failure is not cached; the next Open dials again.
	_, err = cache.Open(ctx, "id")
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, dials.Load())

	_, ok := cache.Get("id")
	assert.False(t, ok)
}

func TestFSCacheClosedInstanceOwnsClient(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	fsys, err := cache.Open(ctx, "id")
	require.NoError(t, err)

	cl := fsys.Client()
	require.NoError(t, fsys.Close())

	// Closing the cached instance tears down its session too.
	_, err = cl.Stat("/")
	assert.ErrorIs(t, err, ErrSessionClosed)
}
