package sftpfs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sftpfs/sftpfs/sshfx"
	"github.com/sftpfs/sftpfs/sshfx/openssh"
)

// testServerConfig controls what the wire-level test peer advertises and
// tolerates, so individual tests can model different server personalities.
type testServerConfig struct {
	// Version the server settles on in SSH_FXP_VERSION. Zero means 3.
	version uint32

	// Extensions advertised in SSH_FXP_VERSION.
	exts []*sshfx.ExtensionPair

	// Accept a version-select extended request naming one of these.
	selectable []string

	// Answer every SSH_FXP_READ with this many extra bytes past the
	// requested length, as a misbehaving server would.
	readOverrun int
}

func allExtensions() []*sshfx.ExtensionPair {
	return []*sshfx.ExtensionPair{
		{Name: sshfx.ExtensionNameVersions, Data: "3,4,5,6"},
		openssh.ExtensionPosixRename(),
		openssh.ExtensionHardlink(),
		openssh.ExtensionFsync(),
	}
}

// testServer serves the SFTP v3 dialect over a pipe, jailed to a temp dir.
// Request paths are absolute remote paths resolved under the jail.
type testServer struct {
	t    *testing.T
	cfg  testServerConfig
	jail string

	rd io.Reader
	wr io.WriteCloser

	handles    map[string]*testHandle
	nextHandle int
}

type testHandle struct {
	file *os.File

	isDir   bool
	entries []*sshfx.NameEntry
	sent    bool
}

func newTestClient(t *testing.T, cfg testServerConfig, opts ...ClientOption) (*Client, string, error) {
	t.Helper()

	c2s, clientWr := io.Pipe()
	s2c, serverWr := io.Pipe()

	srv := &testServer{
		t:       t,
		cfg:     cfg,
		jail:    t.TempDir(),
		rd:      c2s,
		wr:      serverWr,
		handles: make(map[string]*testHandle),
	}

	go srv.serve()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cl, err := NewClientPipe(ctx, s2c, clientWr, opts...)
	if err != nil {
		clientWr.Close()
		return nil, srv.jail, err
	}

	t.Cleanup(func() { cl.Close() })

	return cl, srv.jail, nil
}

// startTestClient wires a Client to an in-process test server and returns
// both the client and the server's jail directory.
func startTestClient(t *testing.T, cfg testServerConfig, opts ...ClientOption) (*Client, string) {
	t.Helper()

	cl, jail, err := newTestClient(t, cfg, opts...)
	require.NoError(t, err)

	return cl, jail
}

// newFailingClient wires a Client to a test server expecting initialization
// to fail, and returns the failure.
func newFailingClient(t *testing.T, cfg testServerConfig, opts ...ClientOption) (*Client, error) {
	t.Helper()

	cl, _, err := newTestClient(t, cfg, opts...)
	require.Error(t, err)

	return cl, err
}

// local resolves an absolute remote path to a path inside the jail.
func (s *testServer) local(remote string) string {
	clean := path.Clean("/" + remote)
	return filepath.Join(s.jail, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

func (s *testServer) readFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.rd, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 1 || length > sshfx.DefaultMaxPacketLength {
		return nil, fmt.Errorf("bad frame length: %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(s.rd, frame); err != nil {
		return nil, err
	}

	return frame, nil
}

func (s *testServer) writePacket(reqid uint32, resp sshfx.PacketMarshaller) error {
	header, payload, err := resp.MarshalPacket(reqid, nil)
	if err != nil {
		return err
	}

	if _, err := s.wr.Write(header); err != nil {
		return err
	}

	if len(payload) != 0 {
		if _, err := s.wr.Write(payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *testServer) writeStatus(reqid uint32, err error) error {
	status := sshfx.StatusPacket{StatusCode: sshfx.StatusOK}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		status.StatusCode = sshfx.StatusEOF
	case errors.Is(err, fs.ErrNotExist):
		status.StatusCode = sshfx.StatusNoSuchFile
	case errors.Is(err, fs.ErrPermission):
		status.StatusCode = sshfx.StatusPermissionDenied
	case errors.Is(err, fs.ErrExist):
		status.StatusCode = sshfx.StatusFileAlreadyExists
	case errors.Is(err, errors.ErrUnsupported):
		status.StatusCode = sshfx.StatusOPUnsupported
	default:
		status.StatusCode = sshfx.StatusFailure
	}

	if err != nil {
		status.ErrorMessage = err.Error()
	}

	return s.writePacket(reqid, &status)
}

func (s *testServer) serve() {
	defer s.wr.Close()

	if err := s.handshake(); err != nil {
		return
	}

	for {
		frame, err := s.readFrame()
		if err != nil {
			return
		}

		var raw sshfx.RawPacket
		if err := raw.UnmarshalFrom(sshfx.NewBuffer(frame)); err != nil {
			return
		}

		if err := s.handle(&raw); err != nil {
			return
		}
	}
}

func (s *testServer) handshake() error {
	frame, err := s.readFrame()
	if err != nil {
		return err
	}

	if sshfx.PacketType(frame[0]) != sshfx.PacketTypeInit {
		return fmt.Errorf("expected SSH_FXP_INIT, got %d", frame[0])
	}

	version := s.cfg.version
	if version == 0 {
		version = 3
	}

	verPkt := sshfx.VersionPacket{
		Version:    version,
		Extensions: s.cfg.exts,
	}

	data, err := verPkt.MarshalBinary()
	if err != nil {
		return err
	}

	_, err = s.wr.Write(data)
	return err
}

func (s *testServer) handle(raw *sshfx.RawPacket) error {
	pkt, err := sshfx.NewPacket(raw.PacketType)
	if err != nil {
		return s.writeStatus(raw.RequestID, errors.ErrUnsupported)
	}

	if err := pkt.UnmarshalPacketBody(&raw.Data); err != nil {
		return err
	}

	reqid := raw.RequestID

	switch pkt := pkt.(type) {
	case *sshfx.OpenPacket:
		return s.handleOpen(reqid, pkt)

	case *sshfx.ClosePacket:
		h, ok := s.handles[pkt.Handle]
		if !ok {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		delete(s.handles, pkt.Handle)
		if h.file != nil {
			return s.writeStatus(reqid, h.file.Close())
		}
		return s.writeStatus(reqid, nil)

	case *sshfx.ReadPacket:
		h, ok := s.handles[pkt.Handle]
		if !ok || h.file == nil {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		buf := make([]byte, int(pkt.Length)+s.cfg.readOverrun)
		n, err := h.file.ReadAt(buf, int64(pkt.Offset))
		if n > 0 {
			return s.writePacket(reqid, &sshfx.DataPacket{Data: buf[:n]})
		}
		return s.writeStatus(reqid, err)

	case *sshfx.WritePacket:
		h, ok := s.handles[pkt.Handle]
		if !ok || h.file == nil {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		_, err := h.file.WriteAt(pkt.Data, int64(pkt.Offset))
		return s.writeStatus(reqid, err)

	case *sshfx.LStatPacket:
		fi, err := os.Lstat(s.local(pkt.Path))
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writePacket(reqid, &sshfx.AttrsPacket{Attrs: fileInfoToAttrs(fi)})

	case *sshfx.StatPacket:
		fi, err := os.Stat(s.local(pkt.Path))
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writePacket(reqid, &sshfx.AttrsPacket{Attrs: fileInfoToAttrs(fi)})

	case *sshfx.FStatPacket:
		h, ok := s.handles[pkt.Handle]
		if !ok || h.file == nil {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		fi, err := h.file.Stat()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writePacket(reqid, &sshfx.AttrsPacket{Attrs: fileInfoToAttrs(fi)})

	case *sshfx.SetStatPacket:
		return s.writeStatus(reqid, s.applyAttrs(s.local(pkt.Path), &pkt.Attrs))

	case *sshfx.FSetStatPacket:
		h, ok := s.handles[pkt.Handle]
		if !ok || h.file == nil {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		return s.writeStatus(reqid, s.applyAttrs(h.file.Name(), &pkt.Attrs))

	case *sshfx.OpenDirPacket:
		return s.handleOpenDir(reqid, pkt)

	case *sshfx.ReadDirPacket:
		h, ok := s.handles[pkt.Handle]
		if !ok || !h.isDir {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		if h.sent {
			return s.writeStatus(reqid, io.EOF)
		}
		h.sent = true
		return s.writePacket(reqid, &sshfx.NamePacket{Entries: h.entries})

	case *sshfx.RemovePacket:
		fi, err := os.Lstat(s.local(pkt.Path))
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		if fi.IsDir() {
			return s.writeStatus(reqid, fmt.Errorf("%s is a directory", pkt.Path))
		}
		return s.writeStatus(reqid, os.Remove(s.local(pkt.Path)))

	case *sshfx.MkdirPacket:
		perm, ok := pkt.Attrs.GetPermissions()
		if !ok {
			perm = 0o755
		}
		return s.writeStatus(reqid, os.Mkdir(s.local(pkt.Path), sshfx.ToGoFileMode(perm).Perm()))

	case *sshfx.RmdirPacket:
		fi, err := os.Lstat(s.local(pkt.Path))
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		if !fi.IsDir() {
			return s.writeStatus(reqid, fmt.Errorf("%s is not a directory", pkt.Path))
		}
		return s.writeStatus(reqid, os.Remove(s.local(pkt.Path)))

	case *sshfx.RealPathPacket:
		return s.writePacket(reqid, &sshfx.PathPseudoPacket{Path: path.Clean("/" + pkt.Path)})

	case *sshfx.RenamePacket:
		if _, err := os.Lstat(s.local(pkt.NewPath)); err == nil {
			return s.writeStatus(reqid, fs.ErrExist)
		}
		return s.writeStatus(reqid, os.Rename(s.local(pkt.OldPath), s.local(pkt.NewPath)))

	case *sshfx.ReadLinkPacket:
		target, err := os.Readlink(s.local(pkt.Path))
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writePacket(reqid, &sshfx.PathPseudoPacket{Path: filepath.ToSlash(target)})

	case *sshfx.SymlinkPacket:
		// The target string is stored verbatim; where it points is the
		// client's problem, as with a real server.
		return s.writeStatus(reqid, os.Symlink(filepath.FromSlash(pkt.TargetPath), s.local(pkt.LinkPath)))

	case *sshfx.ExtendedPacket:
		return s.handleExtended(reqid, pkt)
	}

	return s.writeStatus(reqid, errors.ErrUnsupported)
}

func (s *testServer) handleOpen(reqid uint32, pkt *sshfx.OpenPacket) error {
	var flag int
	switch pkt.PFlags & (sshfx.FlagRead | sshfx.FlagWrite) {
	case sshfx.FlagRead:
		flag = os.O_RDONLY
	case sshfx.FlagWrite:
		flag = os.O_WRONLY
	case sshfx.FlagRead | sshfx.FlagWrite:
		flag = os.O_RDWR
	}
	if pkt.PFlags&sshfx.FlagAppend != 0 {
		flag |= os.O_APPEND
	}
	if pkt.PFlags&sshfx.FlagCreate != 0 {
		flag |= os.O_CREATE
	}
	if pkt.PFlags&sshfx.FlagTruncate != 0 {
		flag |= os.O_TRUNC
	}
	if pkt.PFlags&sshfx.FlagExclusive != 0 {
		flag |= os.O_EXCL
	}

	perm, ok := pkt.Attrs.GetPermissions()
	if !ok {
		perm = 0o644
	}

	f, err := os.OpenFile(s.local(pkt.Filename), flag, sshfx.ToGoFileMode(perm).Perm())
	if err != nil {
		return s.writeStatus(reqid, err)
	}

	return s.writePacket(reqid, &sshfx.HandlePacket{Handle: s.newHandle(&testHandle{file: f})})
}

func (s *testServer) handleOpenDir(reqid uint32, pkt *sshfx.OpenDirPacket) error {
	local := s.local(pkt.Path)

	fi, err := os.Stat(local)
	if err != nil {
		return s.writeStatus(reqid, err)
	}
	if !fi.IsDir() {
		return s.writeStatus(reqid, fmt.Errorf("%s is not a directory", pkt.Path))
	}

	dirents, err := os.ReadDir(local)
	if err != nil {
		return s.writeStatus(reqid, err)
	}

	// Real servers include the dot entries; the client is expected to hide
	// them.
	entries := []*sshfx.NameEntry{
		{Filename: ".", Attrs: fileInfoToAttrs(fi)},
		{Filename: "..", Attrs: fileInfoToAttrs(fi)},
	}

	for _, de := range dirents {
		dfi, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, &sshfx.NameEntry{
			Filename: de.Name(),
			Longname: de.Name(),
			Attrs:    fileInfoToAttrs(dfi),
		})
	}

	return s.writePacket(reqid, &sshfx.HandlePacket{Handle: s.newHandle(&testHandle{isDir: true, entries: entries})})
}

func (s *testServer) handleExtended(reqid uint32, pkt *sshfx.ExtendedPacket) error {
	advertised := false
	for _, ext := range s.cfg.exts {
		if ext.Name == pkt.ExtendedRequest {
			advertised = true
			break
		}
	}

	buf := pkt.RawData

	switch pkt.ExtendedRequest {
	case sshfx.ExtensionNameVersionSelect:
		version, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		for _, v := range s.cfg.selectable {
			if v == version {
				return s.writeStatus(reqid, nil)
			}
		}
		return s.writeStatus(reqid, fmt.Errorf("cannot select version %s", version))

	case "posix-rename@openssh.com":
		if !advertised {
			return s.writeStatus(reqid, errors.ErrUnsupported)
		}
		oldpath, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		newpath, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writeStatus(reqid, os.Rename(s.local(oldpath), s.local(newpath)))

	case "hardlink@openssh.com":
		if !advertised {
			return s.writeStatus(reqid, errors.ErrUnsupported)
		}
		oldpath, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		newpath, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		return s.writeStatus(reqid, os.Link(s.local(oldpath), s.local(newpath)))

	case "fsync@openssh.com":
		if !advertised {
			return s.writeStatus(reqid, errors.ErrUnsupported)
		}
		handle, err := buf.ConsumeString()
		if err != nil {
			return s.writeStatus(reqid, err)
		}
		h, ok := s.handles[handle]
		if !ok || h.file == nil {
			return s.writeStatus(reqid, fs.ErrClosed)
		}
		return s.writeStatus(reqid, h.file.Sync())
	}

	return s.writeStatus(reqid, errors.ErrUnsupported)
}

func (s *testServer) newHandle(h *testHandle) string {
	s.nextHandle++
	id := "h" + strconv.Itoa(s.nextHandle)
	s.handles[id] = h
	return id
}

func (s *testServer) applyAttrs(local string, attrs *sshfx.Attributes) error {
	if size, ok := attrs.GetSize(); ok {
		if err := os.Truncate(local, int64(size)); err != nil {
			return err
		}
	}

	if perm, ok := attrs.GetPermissions(); ok {
		if err := os.Chmod(local, sshfx.ToGoFileMode(perm).Perm()); err != nil {
			return err
		}
	}

	if atime, mtime, ok := attrs.GetACModTime(); ok {
		if err := os.Chtimes(local, time.Unix(int64(atime), 0), time.Unix(int64(mtime), 0)); err != nil {
			return err
		}
	}

	// uid/gid changes need privileges the tests do not have.
	return nil
}

func fileInfoToAttrs(fi os.FileInfo) sshfx.Attributes {
	var attrs sshfx.Attributes

	attrs.SetSize(uint64(fi.Size()))
	attrs.SetPermissions(sshfx.FromGoFileMode(fi.Mode()))
	attrs.SetACModTime(uint32(fi.ModTime().Unix()), uint32(fi.ModTime().Unix()))

	return attrs
}
