package sftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/sftpfs/sftpfs/sshfx"
	"github.com/sftpfs/sftpfs/sshfx/openssh"
)

// toPortableFlags converts the flags passed to OpenFile into SFTP flags.
func toPortableFlags(f int) uint32 {
	var out uint32
	switch f & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		out |= sshfx.FlagRead
	case os.O_WRONLY:
		out |= sshfx.FlagWrite
	case os.O_RDWR:
		out |= sshfx.FlagRead | sshfx.FlagWrite
	}
	if f&os.O_APPEND == os.O_APPEND {
		out |= sshfx.FlagAppend
	}
	if f&os.O_CREATE == os.O_CREATE {
		out |= sshfx.FlagCreate
	}
	if f&os.O_TRUNC == os.O_TRUNC {
		out |= sshfx.FlagTruncate
	}
	if f&os.O_EXCL == os.O_EXCL {
		out |= sshfx.FlagExclusive
	}
	return out
}

// Open opens the named file for reading.
// The associated file descriptor has mode O_RDONLY.
func (cl *Client) Open(name string) (*File, error) {
	return cl.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates the named file.
// If the file already exists, it is truncated.
// If the file does not exist, it is created with mode 0o666 (before umask).
// The associated file descriptor has mode O_RDWR.
func (cl *Client) Create(name string) (*File, error) {
	return cl.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// OpenFile is the generalized open call; most users will use Open or Create
// instead. It opens the named file with the specified flag (O_RDONLY etc.)
// and perm (before umask), if applicable.
func (cl *Client) OpenFile(name string, flag int, perm fs.FileMode) (*File, error) {
	ctx := context.Background()

	pkt, err := getPacket[sshfx.HandlePacket](ctx, nil, cl, &sshfx.OpenPacket{
		Filename: name,
		PFlags:   toPortableFlags(flag),
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrPermissions,
			Permissions: sshfx.FromGoFileMode(perm.Perm()),
		},
	})
	if err != nil {
		return nil, wrapPathError("openfile", name, err)
	}

	f := &File{
		cl:   cl,
		name: name,
	}
	f.handle.init(pkt.Handle)

	return f, nil
}

// File represents a remote file.
//
// All methods of File are safe for concurrent use, but the file offset is
// shared: interleaved Read or Write calls from multiple goroutines see a
// single cursor. Use ReadAt and WriteAt for concurrent positioned I/O.
type File struct {
	cl     *Client
	name   string
	handle handle

	mu     sync.Mutex
	offset int64
}

// Name returns the name of the file as presented to OpenFile.
func (f *File) Name() string {
	return f.name
}

// Close closes the File, rendering it unusable for I/O.
// Any byte-range locks held through this File are released first; the close
// request itself is still sent even when lock cleanup is all there was to do.
func (f *File) Close() error {
	f.cl.locks.releaseAll(f)

	return wrapPathError("close", f.name, f.handle.close(f.cl))
}

// Stat returns the FileInfo structure describing this open file.
func (f *File) Stat() (fs.FileInfo, error) {
	handle, cancel, err := f.handle.get()
	if err != nil {
		return nil, wrapPathError("fstat", f.name, err)
	}

	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), cancel, f.cl, &sshfx.FStatPacket{
		Handle: handle,
	})
	if err != nil {
		return nil, wrapPathError("fstat", f.name, err)
	}

	return &sshfx.NameEntry{
		Filename: f.name,
		Attrs:    pkt.Attrs,
	}, nil
}

func (f *File) fsetstat(attrs *sshfx.Attributes) error {
	handle, cancel, err := f.handle.get()
	if err != nil {
		return wrapPathError("fsetstat", f.name, err)
	}

	return wrapPathError("fsetstat", f.name,
		f.cl.sendPacket(context.Background(), cancel, &sshfx.FSetStatPacket{
			Handle: handle,
			Attrs:  *attrs,
		}),
	)
}

// Setstat applies the given partial attribute set through the open handle.
// Only the fields flagged present are changed.
func (f *File) Setstat(attrs *sshfx.Attributes) error {
	return f.fsetstat(attrs)
}

// Truncate changes the size of the file.
// It does not change the I/O offset.
func (f *File) Truncate(size int64) error {
	return f.fsetstat(&sshfx.Attributes{
		Flags: sshfx.AttrSize,
		Size:  uint64(size),
	})
}

// Chmod changes the mode of the file to mode.
func (f *File) Chmod(mode fs.FileMode) error {
	return f.fsetstat(&sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.FromGoFileMode(mode),
	})
}

// Chown changes the numeric uid and gid of the file.
func (f *File) Chown(uid, gid int) error {
	return f.fsetstat(&sshfx.Attributes{
		Flags: sshfx.AttrUIDGID,
		UID:   uint32(uid),
		GID:   uint32(gid),
	})
}

// Chtimes changes the access and modification times of the file,
// truncated to the second.
func (f *File) Chtimes(atime, mtime time.Time) error {
	return f.fsetstat(&sshfx.Attributes{
		Flags: sshfx.AttrACModTime,
		ATime: uint32(atime.Unix()),
		MTime: uint32(mtime.Unix()),
	})
}

// Sync requests the server to flush the file to stable storage, using the
// fsync@openssh.com extension. If the server did not announce support for
// the extension, no request is sent and Sync fails as unsupported.
func (f *File) Sync() error {
	if !f.cl.hasExtensionPair(openssh.ExtensionFsync()) {
		return wrapPathError("fsync", f.name, errors.ErrUnsupported)
	}

	handle, cancel, err := f.handle.get()
	if err != nil {
		return wrapPathError("fsync", f.name, err)
	}

	return wrapPathError("fsync", f.name,
		f.cl.sendPacket(context.Background(), cancel, &openssh.FsyncExtendedPacket{
			Handle: handle,
		}),
	)
}

// Lock acquires an advisory byte-range lock covering len bytes starting at
// off. A zero len locks to the end of the file, however large it grows.
//
// The lock is client-local: it coordinates File handles of the same Client
// only, and is invisible to the server and to other clients. If the range
// overlaps a lock already held within this process, Lock fails with
// ErrLockConflict.
func (f *File) Lock(off, len int64) (*FileLock, error) {
	if _, _, err := f.handle.get(); err != nil {
		return nil, wrapPathError("lock", f.name, err)
	}

	lk, err := f.cl.locks.acquire(f, f.name, off, len)
	if err != nil {
		return nil, wrapPathError("lock", f.name, err)
	}

	return lk, nil
}

// chunkAt issues a single SSH_FX_READ for up to len(b) bytes at offset.
// It returns the number of bytes read, which may be short of len(b) even
// before the end of file.
func (f *File) chunkAt(ctx context.Context, cancel <-chan struct{}, b []byte, offset int64) (int, error) {
	handle, _, err := f.handle.get()
	if err != nil {
		return 0, err
	}

	reqid, ch, err := f.cl.conn.dispatch(cancel, &sshfx.ReadPacket{
		Handle: handle,
		Offset: uint64(offset),
		Length: uint32(len(b)),
	})
	if err != nil {
		return 0, err
	}

	// Clip so that an overlong reply forces the unmarshal to reallocate
	// instead of growing the slice into cap(b) past len(b).
	resp := sshfx.DataPacket{Data: slices.Clip(b)}
	n, err := f.cl.recvData(ctx, reqid, ch, &resp)
	if n > len(b) {
		// The peer sent more data than we asked for. The clip above kept
		// it out of b, so copy over the prefix that fits and drop the rest.
		n = copy(b, resp.Data)
	}
	if err == nil && n == 0 && len(b) > 0 {
		// A non-error zero-byte data reply would loop forever upstream.
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

// ReadAt reads len(b) bytes from the File starting at byte offset off.
// It returns the number of bytes read and the error, if any. ReadAt always
// returns a non-nil error when n < len(b). At end of file, that error is
// io.EOF.
//
// Requests larger than the read buffer size are split into chunks and
// pipelined, with a bounded number outstanding. Responses are consumed in
// request order, so a short chunk read restarts the window from the short
// point rather than leaving a gap.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	handle, cancel, err := f.handle.get()
	if err != nil {
		return 0, wrapPathError("readat", f.name, err)
	}

	ctx := context.Background()

	if len(b) <= f.cl.readBufLen {
		// A short but successful chunk read carries no verdict on the bytes
		// after it; only issuing another read can tell an early-returning
		// server apart from end of file.
		var read int
		for len(b) > 0 {
			n, err := f.chunkAt(ctx, cancel, b, off)
			read += n
			off += int64(n)
			b = b[n:]

			if err != nil {
				return read, wrapPathError("readat", f.name, err)
			}
		}
		return read, nil
	}

	type window struct {
		reqid uint32
		ch    chan result
		b     []byte
	}

	var read int

	for len(b) > 0 {
		pending := make([]window, 0, f.cl.maxInflight)
		next, nextOff := b, off

		for len(next) > 0 && len(pending) < f.cl.maxInflight {
			n := min(len(next), f.cl.readBufLen)

			reqid, ch, err := f.cl.conn.dispatch(cancel, &sshfx.ReadPacket{
				Handle: handle,
				Offset: uint64(nextOff),
				Length: uint32(n),
			})
			if err != nil {
				if len(pending) == 0 {
					return read, wrapPathError("readat", f.name, err)
				}
				break
			}

			pending = append(pending, window{reqid: reqid, ch: ch, b: next[:n]})
			next = next[n:]
			nextOff += int64(n)
		}

		short := false
		var firstErr error

		for _, w := range pending {
			if firstErr != nil || short {
				// The window is already dead; resolve the remaining
				// requests without keeping their results.
				f.cl.conn.discard(w.reqid, w.ch)
				continue
			}

			resp := sshfx.DataPacket{Data: slices.Clip(w.b)}
			n, err := f.cl.recvData(ctx, w.reqid, w.ch, &resp)
			if n > len(w.b) {
				// Overlong reply; keep the prefix that fits in this chunk.
				n = copy(w.b, resp.Data)
			}
			read += n
			off += int64(n)
			b = b[n:]

			if err == nil && n == 0 {
				err = io.ErrUnexpectedEOF
			}
			if err != nil {
				firstErr = err
				continue
			}

			if n < len(w.b) {
				// Later chunks in the window read past this gap; restart
				// the window from the short point.
				short = true
			}
		}

		if firstErr != nil {
			return read, wrapPathError("readat", f.name, firstErr)
		}
	}

	return read, nil
}

// WriteAt writes len(b) bytes to the File starting at byte offset off.
// It returns the number of bytes written and the error, if any. WriteAt
// returns a non-nil error when n != len(b).
//
// Requests larger than the write buffer size are split into chunks and
// pipelined, with a bounded number outstanding. Statuses are consumed in
// request order; on failure the count reflects only the bytes before the
// first failing chunk, later chunks in the window notwithstanding.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	handle, cancel, err := f.handle.get()
	if err != nil {
		return 0, wrapPathError("writeat", f.name, err)
	}

	ctx := context.Background()

	if len(b) <= f.cl.writeBufLen {
		err := f.cl.sendPacket(ctx, cancel, &sshfx.WritePacket{
			Handle: handle,
			Offset: uint64(off),
			Data:   b,
		})
		if err != nil {
			return 0, wrapPathError("writeat", f.name, err)
		}
		return len(b), nil
	}

	type window struct {
		reqid uint32
		ch    chan result
		n     int
	}

	var written int

	for len(b) > 0 {
		pending := make([]window, 0, f.cl.maxInflight)
		nextOff := off + int64(written)

		for len(b) > 0 && len(pending) < f.cl.maxInflight {
			n := min(len(b), f.cl.writeBufLen)

			reqid, ch, err := f.cl.conn.dispatch(cancel, &sshfx.WritePacket{
				Handle: handle,
				Offset: uint64(nextOff),
				Data:   b[:n],
			})
			if err != nil {
				if len(pending) == 0 {
					return written, wrapPathError("writeat", f.name, err)
				}
				break
			}

			pending = append(pending, window{reqid: reqid, ch: ch, n: n})
			b = b[n:]
			nextOff += int64(n)
		}

		var firstErr error
		for _, w := range pending {
			if firstErr != nil {
				// The bytes past the first failure do not count as written,
				// whatever the server made of them.
				f.cl.conn.discard(w.reqid, w.ch)
				continue
			}

			if err := f.cl.recvStatus(ctx, w.reqid, w.ch); err != nil {
				firstErr = err
				continue
			}

			written += w.n
		}

		if firstErr != nil {
			return written, wrapPathError("writeat", f.name, firstErr)
		}
	}

	return written, nil
}

// Read reads up to len(b) bytes from the File and stores them in b, advancing
// the file offset. It returns the number of bytes read and any error
// encountered. At end of file, Read returns 0, io.EOF.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.ReadAt(b, f.offset)
	f.offset += int64(n)

	return n, err
}

// Write writes len(b) bytes from b to the File, advancing the file offset.
// It returns the number of bytes written and an error, if any. Write returns
// a non-nil error when n != len(b).
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.WriteAt(b, f.offset)
	f.offset += int64(n)

	return n, err
}

// Seek sets the offset for the next Read or Write on the File to offset,
// interpreted according to whence. Seeking relative to the end issues an
// FSTAT to learn the current size.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		fi, err := f.Stat()
		if err != nil {
			return f.offset, err
		}
		offset += fi.Size()
	default:
		return f.offset, wrapPathError("seek", f.name,
			fmt.Errorf("invalid whence: %d", whence))
	}

	if offset < 0 {
		return f.offset, wrapPathError("seek", f.name, fs.ErrInvalid)
	}

	f.offset = offset
	return f.offset, nil
}

// WriteTo writes the file to w, starting at the current offset.
// The return value is the number of bytes written; any error encountered
// while copying, except io.EOF, is also returned.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, f.cl.readBufLen)

	var total int64
	for {
		n, err := f.ReadAt(buf, f.offset)
		f.offset += int64(n)

		if n > 0 {
			m, err1 := w.Write(buf[:n])
			total += int64(m)
			if err1 != nil {
				return total, err1
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// ReadFrom reads data from r until EOF and writes it to the file, starting
// at the current offset. The return value is the number of bytes read; any
// error encountered while copying, except io.EOF, is also returned.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, f.cl.writeBufLen)

	var total int64
	for {
		n, err := r.Read(buf)

		if n > 0 {
			m, err1 := f.WriteAt(buf[:n], f.offset)
			f.offset += int64(m)
			total += int64(m)
			if err1 != nil {
				return total, err1
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}
