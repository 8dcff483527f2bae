package sftpfs

import (
	"io/fs"
	"path"
	"sync"
)

// A FileLock is an advisory byte-range lock held through an open File.
//
// Locks are client-local: they are tracked entirely within this process and
// never communicated to the server. They coordinate goroutines sharing one
// Client, nothing more.
type FileLock struct {
	owner *File
	key   string

	// Covered range, [off, off+len). A zero length extends to infinity.
	off, len int64

	mu       sync.Mutex
	released bool
}

// overlaps reports whether the two ranges share at least one byte.
func (lk *FileLock) overlaps(off, len int64) bool {
	if lk.len != 0 && off >= lk.off+lk.len {
		return false
	}
	if len != 0 && lk.off >= off+len {
		return false
	}
	return true
}

// Unlock releases the lock. Releasing an already released lock is a no-op.
func (lk *FileLock) Unlock() {
	lk.mu.Lock()
	released := lk.released
	lk.released = true
	lk.mu.Unlock()

	if !released {
		lk.owner.cl.locks.release(lk)
	}
}

// lockRegistry tracks the advisory byte-range locks held across all Files of
// a Client, keyed by cleaned remote path.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string][]*FileLock
}

func (r *lockRegistry) acquire(owner *File, name string, off, len int64) (*FileLock, error) {
	if off < 0 || len < 0 {
		return nil, fs.ErrInvalid
	}

	key := path.Clean(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, held := range r.locks[key] {
		if held.overlaps(off, len) {
			return nil, ErrLockConflict
		}
	}

	lk := &FileLock{
		owner: owner,
		key:   key,
		off:   off,
		len:   len,
	}

	if r.locks == nil {
		r.locks = make(map[string][]*FileLock)
	}
	r.locks[key] = append(r.locks[key], lk)

	return lk, nil
}

func (r *lockRegistry) release(lk *FileLock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.locks[lk.key]
	for i, other := range held {
		if other == lk {
			r.locks[lk.key] = append(held[:i], held[i+1:]...)
			break
		}
	}

	if len(r.locks[lk.key]) == 0 {
		delete(r.locks, lk.key)
	}
}

// releaseAll releases every lock held through the given File.
// Closing a File must never leave its locks behind.
func (r *lockRegistry) releaseAll(owner *File) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, held := range r.locks {
		kept := held[:0]
		for _, lk := range held {
			if lk.owner != owner {
				kept = append(kept, lk)
				continue
			}

			lk.mu.Lock()
			lk.released = true
			lk.mu.Unlock()
		}

		if len(kept) == 0 {
			delete(r.locks, key)
		} else {
			r.locks[key] = kept
		}
	}
}
