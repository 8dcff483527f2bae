package sftpfs

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// A DialFunc establishes the session behind a cached FileSystem: it connects
// whatever transport the identity describes and returns a ready Client plus
// the remote root the instance is bound to.
type DialFunc func(ctx context.Context, id string) (cl *Client, root string, err error)

// FSCache hands out FileSystem instances keyed by connection identity, an
// opaque string the caller derives from endpoint, credential and options.
//
// For a given identity, every concurrent and subsequent Open observes the
// same instance until that instance is closed; closing removes it, and the
// next Open dials a fresh one. Instances the cache creates own their Client:
// closing the FileSystem also closes the session.
type FSCache struct {
	dial DialFunc

	mu        sync.Mutex
	instances map[string]*fsEntry
}

// fsEntry is inserted before dialing, so concurrent Opens of one identity
// agree on a single dial. fs and err are written once, before done closes.
type fsEntry struct {
	done chan struct{}
	fs   *FileSystem
	err  error
}

// NewFSCache returns an empty cache dialing new sessions with dial.
func NewFSCache(dial DialFunc) *FSCache {
	return &FSCache{
		dial:      dial,
		instances: make(map[string]*fsEntry),
	}
}

// Open returns the FileSystem for the given identity, dialing one if none is
// cached. Concurrent Opens of the same identity share a single dial and get
// the identical instance; a failed dial is not cached.
func (c *FSCache) Open(ctx context.Context, id string) (*FileSystem, error) {
	c.mu.Lock()
	entry, ok := c.instances[id]
	if !ok {
		entry = &fsEntry{done: make(chan struct{})}
		c.instances[id] = entry
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-entry.done:
			return entry.fs, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fsys, err := c.open(ctx, id)

	c.mu.Lock()
	entry.fs, entry.err = fsys, err
	if err != nil && c.instances[id] == entry {
		delete(c.instances, id)
	}
	c.mu.Unlock()

	close(entry.done)

	return entry.fs, entry.err
}

func (c *FSCache) open(ctx context.Context, id string) (*FileSystem, error) {
	cl, root, err := c.dial(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "sftpfs: dialing %q", id)
	}

	fsys, err := NewFileSystem(cl, root)
	if err != nil {
		cl.Close()
		return nil, err
	}

	fsys.id = id
	fsys.cache = c
	fsys.ownsClient = true

	return fsys, nil
}

// Get returns the cached FileSystem for the identity without dialing.
// An identity whose dial is still in flight reports not cached.
func (c *FSCache) Get(id string) (*FileSystem, bool) {
	c.mu.Lock()
	entry, ok := c.instances[id]
	c.mu.Unlock()

	if !ok {
		return nil, false
	}

	select {
	case <-entry.done:
		return entry.fs, entry.err == nil
	default:
		return nil, false
	}
}

// remove drops the instance from the cache, but only while it is still the
// instance cached under that identity. A close racing a later re-open must
// not evict the replacement.
func (c *FSCache) remove(id string, fsys *FileSystem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.instances[id]; ok && entry.fs == fsys {
		delete(c.instances, id)
	}
}
