package sftpfs

import (
	"io/fs"
	"os"
	"path"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/sftpfs/sftpfs/sshfx"
	"github.com/sftpfs/sftpfs/sshfx/openssh"
)

// FileSystem is a rooted view of a remote filesystem over one Client.
//
// Every name is interpreted relative to the root the FileSystem was created
// with, using io/fs name syntax: unrooted, slash-separated, no "." or ".."
// elements. Names that do not satisfy fs.ValidPath fail with fs.ErrInvalid,
// so a FileSystem can never be walked out of its root.
//
// It implements fs.FS, fs.ReadDirFS, fs.StatFS, fs.ReadFileFS and fs.SubFS,
// plus the write-side operations io/fs has no interfaces for.
type FileSystem struct {
	cl   *Client
	root string

	// Identity under which the instance is cached, empty when the instance
	// was built directly rather than through an FSCache.
	id    string
	cache *FSCache

	ownsClient bool

	closed atomic.Bool
}

// NewFileSystem returns a FileSystem rooted at the given remote path, which
// is canonicalized by the server first. The Client remains usable on its
// own; closing the FileSystem does not close it.
func NewFileSystem(cl *Client, root string) (*FileSystem, error) {
	resolved, err := cl.RealPath(root)
	if err != nil {
		return nil, errors.Wrapf(err, "sftpfs: resolving root %q", root)
	}

	return &FileSystem{
		cl:   cl,
		root: resolved,
	}, nil
}

// Client returns the Client this FileSystem operates through.
func (fsys *FileSystem) Client() *Client {
	return fsys.cl
}

// Root returns the server-canonicalized root path.
func (fsys *FileSystem) Root() string {
	return fsys.root
}

// Close marks the FileSystem unusable and removes it from the cache that
// produced it, so a later cache open builds a fresh instance. When the
// instance owns its Client, the session is closed with it.
func (fsys *FileSystem) Close() error {
	if fsys.closed.Swap(true) {
		return fs.ErrClosed
	}

	if fsys.cache != nil {
		fsys.cache.remove(fsys.id, fsys)
	}

	if fsys.ownsClient {
		return fsys.cl.Close()
	}

	return nil
}

// join validates name and resolves it under the root.
func (fsys *FileSystem) join(op, name string) (string, error) {
	if fsys.closed.Load() {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrClosed}
	}

	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}

	if name == "." {
		return fsys.root, nil
	}

	return path.Join(fsys.root, name), nil
}

// Open opens the named file for reading. Opening a directory returns an
// fs.ReadDirFile streaming its entries.
func (fsys *FileSystem) Open(name string) (fs.File, error) {
	full, err := fsys.join("open", name)
	if err != nil {
		return nil, err
	}

	fi, err := fsys.cl.Stat(full)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return fsys.cl.Open(full)
	}

	d, err := fsys.cl.OpenDir(full)
	if err != nil {
		return nil, err
	}

	return &dirFile{Dir: d, info: fi}, nil
}

// dirFile adapts a Dir to the fs.File and fs.ReadDirFile contracts.
type dirFile struct {
	*Dir
	info fs.FileInfo
}

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.Dir.Name(), Err: errors.New("is a directory")}
}

// ReadDir reads the named directory and returns its entries sorted by
// filename. The "." and ".." entries are never included.
func (fsys *FileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	full, err := fsys.join("readdir", name)
	if err != nil {
		return nil, err
	}

	return fsys.cl.ReadDir(full)
}

// Stat returns a FileInfo describing the named file, following links.
func (fsys *FileSystem) Stat(name string) (fs.FileInfo, error) {
	full, err := fsys.join("stat", name)
	if err != nil {
		return nil, err
	}

	return fsys.cl.Stat(full)
}

// Lstat returns a FileInfo describing the named file without following links.
func (fsys *FileSystem) Lstat(name string) (fs.FileInfo, error) {
	full, err := fsys.join("lstat", name)
	if err != nil {
		return nil, err
	}

	return fsys.cl.LStat(full)
}

// ReadFile reads the named file and returns its contents.
func (fsys *FileSystem) ReadFile(name string) ([]byte, error) {
	full, err := fsys.join("readfile", name)
	if err != nil {
		return nil, err
	}

	return fsys.cl.ReadFile(full)
}

// WriteFile writes data to the named file, creating it with perm if it does
// not exist and truncating it if it does.
func (fsys *FileSystem) WriteFile(name string, data []byte, perm fs.FileMode) error {
	full, err := fsys.join("writefile", name)
	if err != nil {
		return err
	}

	return fsys.cl.WriteFile(full, data, perm)
}

// OpenFile is the generalized open call, with os.OpenFile flag semantics.
func (fsys *FileSystem) OpenFile(name string, flag int, perm fs.FileMode) (*File, error) {
	full, err := fsys.join("openfile", name)
	if err != nil {
		return nil, err
	}

	return fsys.cl.OpenFile(full, flag, perm)
}

// Sub returns a FileSystem rooted at dir under the current root.
// The sub filesystem shares the Client; closing it closes neither the
// session nor the parent.
func (fsys *FileSystem) Sub(dir string) (fs.FS, error) {
	full, err := fsys.join("sub", dir)
	if err != nil {
		return nil, err
	}

	return &FileSystem{
		cl:   fsys.cl,
		root: full,
	}, nil
}

// Mkdir creates the named directory.
func (fsys *FileSystem) Mkdir(name string, perm fs.FileMode) error {
	full, err := fsys.join("mkdir", name)
	if err != nil {
		return err
	}

	return fsys.cl.Mkdir(full, perm)
}

// MkdirAll creates the named directory along with any necessary parents.
func (fsys *FileSystem) MkdirAll(name string, perm fs.FileMode) error {
	full, err := fsys.join("mkdir", name)
	if err != nil {
		return err
	}

	return fsys.cl.MkdirAll(full, perm)
}

// Remove removes the named file or empty directory.
func (fsys *FileSystem) Remove(name string) error {
	full, err := fsys.join("remove", name)
	if err != nil {
		return err
	}

	return fsys.cl.Remove(full)
}

// Move renames oldname to newname.
//
// Without replace, Move fails with fs.ErrExist when newname already exists.
// With replace, an existing newname is overwritten: atomically when the
// server supports the posix-rename@openssh.com extension, otherwise by
// removing newname first, which leaves a window in which newname does not
// exist.
func (fsys *FileSystem) Move(oldname, newname string, replace bool) error {
	oldfull, err := fsys.join("rename", oldname)
	if err != nil {
		return err
	}

	newfull, err := fsys.join("rename", newname)
	if err != nil {
		return err
	}

	if !replace {
		if _, err := fsys.cl.LStat(newfull); err == nil {
			return &os.LinkError{Op: "rename", Old: oldfull, New: newfull, Err: fs.ErrExist}
		}

		return fsys.cl.Rename(oldfull, newfull)
	}

	if fsys.cl.hasExtensionPair(openssh.ExtensionPosixRename()) {
		return fsys.cl.Rename(oldfull, newfull)
	}

	if err := fsys.cl.Remove(newfull); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return fsys.cl.Rename(oldfull, newfull)
}

// Symlink creates newname as a symbolic link to oldname.
// Only absolute oldname targets behave the same against every server.
func (fsys *FileSystem) Symlink(oldname, newname string) error {
	full, err := fsys.join("symlink", newname)
	if err != nil {
		return err
	}

	return fsys.cl.Symlink(oldname, full)
}

// ReadLink returns the destination of the named symbolic link.
func (fsys *FileSystem) ReadLink(name string) (string, error) {
	full, err := fsys.join("readlink", name)
	if err != nil {
		return "", err
	}

	return fsys.cl.ReadLink(full)
}

// Attributes returns the raw attribute set of the named file, with its Flags
// field recording which views the server filled in.
func (fsys *FileSystem) Attributes(name string) (*sshfx.Attributes, error) {
	full, err := fsys.join("stat", name)
	if err != nil {
		return nil, err
	}

	fi, err := fsys.cl.Stat(full)
	if err != nil {
		return nil, err
	}

	entry := fi.Sys().(*sshfx.Attributes)
	return entry, nil
}

// SetAttributes applies attrs to the named file. Only the fields flagged
// present in attrs.Flags are changed; unrelated attributes keep their
// values.
func (fsys *FileSystem) SetAttributes(name string, attrs *sshfx.Attributes) error {
	full, err := fsys.join("setstat", name)
	if err != nil {
		return err
	}

	return fsys.cl.Setstat(full, attrs)
}

// Truncate changes the size of the named file, leaving times, permissions
// and ownership untouched.
func (fsys *FileSystem) Truncate(name string, size int64) error {
	return fsys.SetAttributes(name, &sshfx.Attributes{
		Flags: sshfx.AttrSize,
		Size:  uint64(size),
	})
}

// Chmod changes the permission bits of the named file.
func (fsys *FileSystem) Chmod(name string, mode fs.FileMode) error {
	return fsys.SetAttributes(name, &sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.FromGoFileMode(mode),
	})
}

// Chown changes the numeric uid and gid of the named file.
func (fsys *FileSystem) Chown(name string, uid, gid int) error {
	return fsys.SetAttributes(name, &sshfx.Attributes{
		Flags: sshfx.AttrUIDGID,
		UID:   uint32(uid),
		GID:   uint32(gid),
	})
}

// Chtimes changes the access and modification times of the named file,
// truncated to the second.
func (fsys *FileSystem) Chtimes(name string, atime, mtime time.Time) error {
	return fsys.SetAttributes(name, &sshfx.Attributes{
		Flags: sshfx.AttrACModTime,
		ATime: uint32(atime.Unix()),
		MTime: uint32(mtime.Unix()),
	})
}

// LookupUser resolves a user principal by name.
//
// The protocol identifies owners by numeric uid only and provides no name
// directory, so the lookup always fails, softly, with fs.ErrNotExist.
// Callers probing for principal support get a detectable miss instead of a
// hard failure.
func (fsys *FileSystem) LookupUser(name string) (uint32, error) {
	return 0, errors.Wrapf(fs.ErrNotExist, "sftpfs: no user principal directory, user %q", name)
}

// LookupGroup resolves a group principal by name.
// It fails softly with fs.ErrNotExist, like LookupUser.
func (fsys *FileSystem) LookupGroup(name string) (uint32, error) {
	return 0, errors.Wrapf(fs.ErrNotExist, "sftpfs: no group principal directory, group %q", name)
}
