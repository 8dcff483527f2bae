package sftpfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sftpfs/sftpfs/sshfx"
	"github.com/sftpfs/sftpfs/sshfx/openssh"
)

// ClientOption specifies an option that can be set on a client.
type ClientOption func(*Client) error

// WithMaxInflight sets the maximum number of inflight packets used when a
// large transfer is split into pipelined chunk requests.
func WithMaxInflight(count int) ClientOption {
	return func(cl *Client) error {
		if count < 1 {
			return fmt.Errorf("sftp: max inflight packets cannot be less than 1, was: %d", count)
		}

		cl.maxInflight = count
		return nil
	}
}

// WithReadBufferSize caps the data length of a single SSH_FX_READ request.
// Larger logical reads are split into multiple pipelined requests.
func WithReadBufferSize(size int) ClientOption {
	return func(cl *Client) error {
		if err := checkDataLength(size); err != nil {
			return err
		}

		cl.readBufLen = size
		return adjustMaxPacket(cl, size)
	}
}

// WithWriteBufferSize caps the data length of a single SSH_FX_WRITE request.
// Larger logical writes are split into multiple pipelined requests.
func WithWriteBufferSize(size int) ClientOption {
	return func(cl *Client) error {
		if err := checkDataLength(size); err != nil {
			return err
		}

		cl.writeBufLen = size
		return adjustMaxPacket(cl, size)
	}
}

// WithMaxPacketLength sets the maximum length of a packet the client will
// accept. It can only be increased; attempts to lower it are no-ops, and
// lengths below 1 are rejected.
func WithMaxPacketLength(length int) ClientOption {
	return func(cl *Client) error {
		if length < 1 {
			return fmt.Errorf("sftp: max packet length cannot be less than 1, was: %d", length)
		}

		if int64(length) > math.MaxUint32 {
			return fmt.Errorf("sftp: max packet length must fit in a uint32: %d", length)
		}

		cl.maxPacket = max(cl.maxPacket, uint32(length))
		return nil
	}
}

// WithVersionSelector sets the strategy deciding which protocol version the
// session should use after the handshake.
func WithVersionSelector(selector VersionSelector) ClientOption {
	return func(cl *Client) error {
		cl.selector = selector
		return nil
	}
}

func checkDataLength(size int) error {
	if size < 1 {
		return fmt.Errorf("sftp: buffer size cannot be less than 1, was: %d", size)
	}

	if int64(size) > math.MaxUint32 {
		return fmt.Errorf("sftp: buffer size must fit in a uint32: %d", size)
	}

	return nil
}

func adjustMaxPacket(cl *Client, dataLen int) error {
	return WithMaxPacketLength(dataLen + sshfx.MaxPacketLengthOverhead)(cl)
}

// Client represents an SFTP session on an SSH connection.
// A client may be called concurrently from multiple goroutines:
// requests are pipelined over the one subsystem channel.
type Client struct {
	conn clientConn

	maxPacket   uint32
	readBufLen  int
	writeBufLen int
	maxInflight int

	selector VersionSelector

	version uint32
	exts    map[string]string

	locks lockRegistry
}

// NewClient creates a new SFTP client on conn, opening an "sftp" subsystem
// channel. The context bounds only initialization and handshake.
func NewClient(ctx context.Context, conn *ssh.Client, opts ...ClientOption) (*Client, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, err
	}

	if err := s.RequestSubsystem("sftp"); err != nil {
		s.Close()
		return nil, err
	}

	w, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	r, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, err
	}

	return NewClientPipe(ctx, r, w, opts...)
}

// NewClientPipe creates a new SFTP client given a Reader and a WriteCloser.
// This can be used to run a client over TCP/TLS, or with the system's own
// ssh client program. The context bounds only initialization and handshake.
func NewClientPipe(ctx context.Context, rd io.Reader, wr io.WriteCloser, opts ...ClientOption) (*Client, error) {
	cl := &Client{
		maxPacket:   sshfx.DefaultMaxPacketLength,
		readBufLen:  sshfx.DefaultMaxDataLength,
		writeBufLen: sshfx.DefaultMaxDataLength,
		maxInflight: 64,
	}

	for _, opt := range opts {
		if err := opt(cl); err != nil {
			return nil, err
		}
	}

	cl.conn = clientConn{
		rd:        rd,
		wr:        wr,
		maxPacket: cl.maxPacket,
		closed:    make(chan struct{}),
		inflight:  make(map[uint32]chan<- result),
	}

	verPkt, err := cl.conn.handshake(ctx)
	if err != nil {
		wr.Close()
		return nil, err
	}

	cl.exts = make(map[string]string, len(verPkt.Extensions))
	for _, ext := range verPkt.Extensions {
		cl.exts[ext.Name] = ext.Data
	}

	go func() {
		err := cl.conn.recvLoop()
		cl.conn.disconnect(err)
		cl.conn.wr.Close()
	}()

	if err := cl.negotiate(ctx, verPkt); err != nil {
		cl.conn.disconnect(err)
		wr.Close()
		return nil, err
	}

	return cl, nil
}

// Close closes the SFTP session: every outstanding call fails with
// ErrSessionClosed, and any later operation fails the same way without
// touching the transport.
func (cl *Client) Close() error {
	cl.conn.disconnect(nil)
	cl.conn.wr.Close()
	return nil
}

// Wait blocks until the session is closed, and returns the error that caused
// it to fail, if any.
func (cl *Client) Wait() error {
	return cl.conn.Wait()
}

// Version returns the negotiated protocol version of the session.
func (cl *Client) Version() uint32 {
	return cl.version
}

// HasExtension reports whether the server advertised the given extension
// name, and returns its associated data.
func (cl *Client) HasExtension(name string) (data string, ok bool) {
	data, ok = cl.exts[name]
	return data, ok
}

func (cl *Client) hasExtensionPair(ext *sshfx.ExtensionPair) bool {
	return cl.exts[ext.Name] == ext.Data
}

type respPacket[PKT any] interface {
	*PKT
	sshfx.Packet
}

// getPacket dispatches req and decodes the response as either the expected
// packet type or a status, anything else being a protocol error.
func getPacket[PKT any, P respPacket[PKT]](ctx context.Context, cancel <-chan struct{}, cl *Client, req sshfx.PacketMarshaller) (*PKT, error) {
	raw, err := cl.conn.send(ctx, cancel, req)
	if err != nil {
		return nil, err
	}

	var resp P

	switch raw.PacketType {
	case resp.Type():
		resp = new(PKT)
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, err
		}

		return resp, nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, err
		}

		return nil, statusToError(&status, false)

	default:
		return nil, fmt.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}

// sendPacket dispatches req expecting a bare SSH_FXP_STATUS response.
func (cl *Client) sendPacket(ctx context.Context, cancel <-chan struct{}, req sshfx.PacketMarshaller) error {
	reqid, ch, err := cl.conn.dispatch(cancel, req)
	if err != nil {
		return err
	}

	return cl.recvStatus(ctx, reqid, ch)
}

func (cl *Client) recvStatus(ctx context.Context, reqid uint32, ch chan result) error {
	raw, err := cl.conn.recv(ctx, reqid, ch)
	if err != nil {
		return err
	}

	switch raw.PacketType {
	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return err
		}

		return statusToError(&status, true)

	default:
		return fmt.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}

func (cl *Client) recvData(ctx context.Context, reqid uint32, ch chan result, resp *sshfx.DataPacket) (int, error) {
	raw, err := cl.conn.recv(ctx, reqid, ch)
	if err != nil {
		return 0, err
	}

	switch raw.PacketType {
	case sshfx.PacketTypeData:
		err := resp.UnmarshalPacketBody(&raw.Data)
		return len(resp.Data), err

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return 0, err
		}

		return 0, statusToError(&status, false)

	default:
		return 0, fmt.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}

// statusToError translates a peer-reported status into the closed error set
// callers are expected to test against.
func statusToError(status *sshfx.StatusPacket, okExpected bool) error {
	switch status.StatusCode {
	case sshfx.StatusOK:
		if !okExpected {
			return fmt.Errorf("sftp: unexpected SSH_FX_OK")
		}
		return nil

	case sshfx.StatusEOF:
		// Numerous odd things break if we do not return bare io.EOF errors.
		return io.EOF
	}

	return &StatusError{
		Code:        status.StatusCode,
		Message:     status.ErrorMessage,
		LanguageTag: status.LanguageTag,
	}
}

func wrapPathError(op, name string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return io.EOF
	}

	return &fs.PathError{Op: op, Path: name, Err: err}
}

func wrapLinkError(op, oldname, newname string, err error) error {
	if err == nil {
		return nil
	}

	return &os.LinkError{Op: op, Old: oldname, New: newname, Err: err}
}

// Mkdir creates the specified directory.
// An error is returned if a file or directory with the specified path already
// exists, or if the parent directory does not exist.
func (cl *Client) Mkdir(name string, perm fs.FileMode) error {
	return wrapPathError("mkdir", name,
		cl.sendPacket(context.Background(), nil, &sshfx.MkdirPacket{
			Path: name,
			Attrs: sshfx.Attributes{
				Flags:       sshfx.AttrPermissions,
				Permissions: sshfx.FromGoFileMode(perm.Perm()),
			},
		}),
	)
}

// MkdirAll creates a directory named path, along with any necessary parents.
// If path is already a directory, MkdirAll does nothing and returns nil.
func (cl *Client) MkdirAll(name string, perm fs.FileMode) error {
	dir, err := cl.Stat(name)
	if err == nil {
		if dir.IsDir() {
			return nil
		}

		return wrapPathError("mkdir", name, syscall.ENOTDIR)
	}

	if parent := path.Dir(name); parent != "" && parent != name {
		if err := cl.MkdirAll(parent, perm); err != nil {
			return err
		}
	}

	if err := cl.Mkdir(name, perm); err != nil {
		// Handle arguments like "foo/." by double-checking the directory.
		dir, err1 := cl.LStat(name)
		if err1 == nil && dir.IsDir() {
			return nil
		}
		return err
	}

	return nil
}

// Remove removes the named file or (empty) directory.
//
// If both the remove and rmdir requests fail, Remove stats the name to decide
// which of the two errors to report.
func (cl *Client) Remove(name string) error {
	ctx := context.Background()

	err := cl.sendPacket(ctx, nil, &sshfx.RemovePacket{
		Path: name,
	})
	if err == nil {
		return nil
	}

	err1 := cl.sendPacket(ctx, nil, &sshfx.RmdirPacket{
		Path: name,
	})
	if err1 == nil {
		return nil
	}

	attrs, err2 := getPacket[sshfx.AttrsPacket](ctx, nil, cl, &sshfx.StatPacket{
		Path: name,
	})
	if err2 != nil {
		err = err2
	} else if perm, ok := attrs.Attrs.GetPermissions(); ok && perm.IsDir() {
		err = err1
	}

	return wrapPathError("remove", name, err)
}

func (cl *Client) setstat(ctx context.Context, name string, attrs *sshfx.Attributes) error {
	return wrapPathError("setstat", name,
		cl.sendPacket(ctx, nil, &sshfx.SetStatPacket{
			Path:  name,
			Attrs: *attrs,
		}),
	)
}

// Setstat applies the given partial attribute set to the named file.
// Only the fields flagged present are changed; everything else is left
// untouched on the remote side.
func (cl *Client) Setstat(name string, attrs *sshfx.Attributes) error {
	return cl.setstat(context.Background(), name, attrs)
}

// Truncate changes the size of the named file.
// If the file is a symbolic link, it changes the size of the link's target.
func (cl *Client) Truncate(name string, size int64) error {
	return cl.setstat(context.Background(), name, &sshfx.Attributes{
		Flags: sshfx.AttrSize,
		Size:  uint64(size),
	})
}

// Chmod changes the mode of the named file to mode.
// If the file is a symbolic link, it changes the mode of the link's target.
func (cl *Client) Chmod(name string, mode fs.FileMode) error {
	return cl.setstat(context.Background(), name, &sshfx.Attributes{
		Flags:       sshfx.AttrPermissions,
		Permissions: sshfx.FromGoFileMode(mode),
	})
}

// Chown changes the numeric uid and gid of the named file.
// If the file is a symbolic link, it changes the uid and gid of the link's target.
func (cl *Client) Chown(name string, uid, gid int) error {
	return cl.setstat(context.Background(), name, &sshfx.Attributes{
		Flags: sshfx.AttrUIDGID,
		UID:   uint32(uid),
		GID:   uint32(gid),
	})
}

// Chtimes changes the access and modification times of the named file.
//
// The protocol only supports accuracy to the second,
// so the given times are truncated to the second before being sent.
func (cl *Client) Chtimes(name string, atime, mtime time.Time) error {
	return cl.setstat(context.Background(), name, &sshfx.Attributes{
		Flags: sshfx.AttrACModTime,
		ATime: uint32(atime.Unix()),
		MTime: uint32(mtime.Unix()),
	})
}

// RealPath returns the server-canonicalized absolute path for the given path.
// This is useful for converting path names containing ".." components,
// or relative paths without a leading slash, into absolute paths.
func (cl *Client) RealPath(name string) (string, error) {
	pkt, err := getPacket[sshfx.PathPseudoPacket](context.Background(), nil, cl, &sshfx.RealPathPacket{
		Path: name,
	})
	if err != nil {
		return "", wrapPathError("realpath", name, err)
	}

	return pkt.Path, nil
}

// ReadLink returns the destination of the named symbolic link.
//
// There is no guarantee for how a server reports a relative link destination:
// it may come back relative, or converted to an absolute path.
func (cl *Client) ReadLink(name string) (string, error) {
	pkt, err := getPacket[sshfx.PathPseudoPacket](context.Background(), nil, cl, &sshfx.ReadLinkPacket{
		Path: name,
	})
	if err != nil {
		return "", wrapPathError("readlink", name, err)
	}

	return pkt.Path, nil
}

// Rename renames (moves) oldpath to newpath.
//
// When the server supports the posix-rename@openssh.com extension, an
// existing newpath is atomically replaced. Otherwise the standard rename
// request is sent, and most servers refuse to clobber an existing newpath.
func (cl *Client) Rename(oldpath, newpath string) error {
	if cl.hasExtensionPair(openssh.ExtensionPosixRename()) {
		return wrapLinkError("rename", oldpath, newpath,
			cl.sendPacket(context.Background(), nil, &openssh.PosixRenameExtendedPacket{
				OldPath: oldpath,
				NewPath: newpath,
			}),
		)
	}

	return wrapLinkError("rename", oldpath, newpath,
		cl.sendPacket(context.Background(), nil, &sshfx.RenamePacket{
			OldPath: oldpath,
			NewPath: newpath,
		}),
	)
}

// Symlink creates newname as a symbolic link to oldname.
//
// Correct behavior is only guaranteed for absolute oldname targets: the wire
// protocol does not pin down how a relative target resolves on the peer, so
// relative-target links are peer-dependent and passed through verbatim.
func (cl *Client) Symlink(oldname, newname string) error {
	return wrapLinkError("symlink", oldname, newname,
		cl.sendPacket(context.Background(), nil, &sshfx.SymlinkPacket{
			LinkPath:   newname,
			TargetPath: oldname,
		}),
	)
}

// Link creates newname as a hard link to the oldname file.
//
// If the server did not announce support for the hardlink@openssh.com
// extension, no request is sent and Link fails as unsupported.
func (cl *Client) Link(oldname, newname string) error {
	if !cl.hasExtensionPair(openssh.ExtensionHardlink()) {
		return wrapLinkError("hardlink", oldname, newname, errors.ErrUnsupported)
	}

	return wrapLinkError("hardlink", oldname, newname,
		cl.sendPacket(context.Background(), nil, &openssh.HardlinkExtendedPacket{
			OldPath: oldname,
			NewPath: newname,
		}),
	)
}

// Stat returns a FileInfo describing the named file.
// If the name is a symbolic link, the returned FileInfo describes the target.
func (cl *Client) Stat(name string) (fs.FileInfo, error) {
	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), nil, cl, &sshfx.StatPacket{
		Path: name,
	})
	if err != nil {
		return nil, wrapPathError("stat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: name,
		Attrs:    pkt.Attrs,
	}, nil
}

// LStat returns a FileInfo describing the named file.
// If the name is a symbolic link, the returned FileInfo describes the link
// itself; LStat makes no attempt to follow it.
func (cl *Client) LStat(name string) (fs.FileInfo, error) {
	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), nil, cl, &sshfx.LStatPacket{
		Path: name,
	})
	if err != nil {
		return nil, wrapPathError("lstat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: name,
		Attrs:    pkt.Attrs,
	}, nil
}

// ReadFile reads the named file and returns its contents.
// A successful call returns a nil error, not io.EOF.
func (cl *Client) ReadFile(name string) ([]byte, error) {
	f, err := cl.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var b []byte
	buf := make([]byte, cl.readBufLen)

	for {
		n, err := f.Read(buf)
		b = append(b, buf[:n]...)

		if err != nil {
			if errors.Is(err, io.EOF) {
				return b, nil
			}
			return b, err
		}
	}
}

// WriteFile writes data to the named file, creating it if necessary.
// If the file does not exist, WriteFile creates it with permissions perm
// (before umask); otherwise WriteFile truncates it before writing.
func (cl *Client) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f, err := cl.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	_, err = f.Write(data)

	if err1 := f.Close(); err == nil {
		err = err1
	}

	return err
}

// handle holds the peer-issued opaque token of an open file or directory.
//
// The atomic pointer invalidates the handle on close, so that any operation
// started after the close fails instead of reusing a dead token, and the
// closed channel aborts dispatches racing with the close.
type handle struct {
	value  atomic.Pointer[string]
	closed chan struct{}
}

func (h *handle) init(handle string) {
	h.value.Store(&handle)
	h.closed = make(chan struct{})
}

func (h *handle) get() (handle string, cancel <-chan struct{}, err error) {
	p := h.value.Load()
	if p == nil {
		return "", nil, fs.ErrClosed
	}
	return *p, h.closed, nil
}

func (h *handle) close(cl *Client) error {
	// Unconditionally invalidate the local copy of the handle first, so no
	// new use-after-close receiver method can start after this swap.
	handle := h.value.Swap(nil)
	if handle == nil {
		return fs.ErrClosed
	}

	// Only one Close can ever get past the swap above. Closing the channel
	// here guarantees that no further requests are dispatched from this
	// handle, making the close request below its final request.
	close(h.closed)

	// Do not pass h.closed or a caller context into this send: even in a
	// closed-context codepath the SSH_FXP_CLOSE packet must still be sent,
	// or the remote end leaks the handle.
	return cl.sendPacket(context.Background(), nil, &sshfx.ClosePacket{
		Handle: *handle,
	})
}
