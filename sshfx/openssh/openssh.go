// Package openssh implements the OpenSSH secsh-filexfer extensions
// that this client knows how to take advantage of.
//
// Each extension is opt-in: the client only sends an extended packet after
// the server advertised the matching extension pair during the handshake.
package openssh

import (
	"github.com/sftpfs/sftpfs/sshfx"
)

const (
	extensionPosixRename = "posix-rename@openssh.com"
	extensionHardlink    = "hardlink@openssh.com"
	extensionFsync       = "fsync@openssh.com"
)

// ExtensionPosixRename returns the ExtensionPair advertising posix-rename@openssh.com.
func ExtensionPosixRename() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionPosixRename,
		Data: "1",
	}
}

// ExtensionHardlink returns the ExtensionPair advertising hardlink@openssh.com.
func ExtensionHardlink() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionHardlink,
		Data: "1",
	}
}

// ExtensionFsync returns the ExtensionPair advertising fsync@openssh.com.
func ExtensionFsync() *sshfx.ExtensionPair {
	return &sshfx.ExtensionPair{
		Name: extensionFsync,
		Data: "1",
	}
}

// PosixRenameExtendedPacket defines the posix-rename@openssh.com extended packet.
//
// It renames oldpath to newpath with POSIX semantics:
// an existing newpath is atomically replaced.
type PosixRenameExtendedPacket struct {
	OldPath string
	NewPath string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *PosixRenameExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *PosixRenameExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	p := &sshfx.ExtendedPacket{
		ExtendedRequest: extensionPosixRename,

		Data: ep,
	}
	return p.MarshalPacket(reqid, b)
}

// Len returns the number of bytes the packet-specific data would marshal into.
func (ep *PosixRenameExtendedPacket) Len() int {
	return 4 + len(ep.OldPath) + 4 + len(ep.NewPath)
}

// MarshalInto marshals the packet-specific data onto the end of the given Buffer.
func (ep *PosixRenameExtendedPacket) MarshalInto(buf *sshfx.Buffer) {
	buf.AppendString(ep.OldPath)
	buf.AppendString(ep.NewPath)
}

// UnmarshalFrom decodes the packet-specific data from buf.
func (ep *PosixRenameExtendedPacket) UnmarshalFrom(buf *sshfx.Buffer) (err error) {
	if ep.OldPath, err = buf.ConsumeString(); err != nil {
		return err
	}

	ep.NewPath, err = buf.ConsumeString()
	return err
}

// HardlinkExtendedPacket defines the hardlink@openssh.com extended packet.
type HardlinkExtendedPacket struct {
	OldPath string
	NewPath string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *HardlinkExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *HardlinkExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	p := &sshfx.ExtendedPacket{
		ExtendedRequest: extensionHardlink,

		Data: ep,
	}
	return p.MarshalPacket(reqid, b)
}

// Len returns the number of bytes the packet-specific data would marshal into.
func (ep *HardlinkExtendedPacket) Len() int {
	return 4 + len(ep.OldPath) + 4 + len(ep.NewPath)
}

// MarshalInto marshals the packet-specific data onto the end of the given Buffer.
func (ep *HardlinkExtendedPacket) MarshalInto(buf *sshfx.Buffer) {
	buf.AppendString(ep.OldPath)
	buf.AppendString(ep.NewPath)
}

// UnmarshalFrom decodes the packet-specific data from buf.
func (ep *HardlinkExtendedPacket) UnmarshalFrom(buf *sshfx.Buffer) (err error) {
	if ep.OldPath, err = buf.ConsumeString(); err != nil {
		return err
	}

	ep.NewPath, err = buf.ConsumeString()
	return err
}

// FsyncExtendedPacket defines the fsync@openssh.com extended packet.
type FsyncExtendedPacket struct {
	Handle string
}

// Type returns the SSH_FXP_EXTENDED packet type.
func (ep *FsyncExtendedPacket) Type() sshfx.PacketType {
	return sshfx.PacketTypeExtended
}

// MarshalPacket returns ep as a two-part binary encoding of the full extended packet.
func (ep *FsyncExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	p := &sshfx.ExtendedPacket{
		ExtendedRequest: extensionFsync,

		Data: ep,
	}
	return p.MarshalPacket(reqid, b)
}

// Len returns the number of bytes the packet-specific data would marshal into.
func (ep *FsyncExtendedPacket) Len() int {
	return 4 + len(ep.Handle)
}

// MarshalInto marshals the packet-specific data onto the end of the given Buffer.
func (ep *FsyncExtendedPacket) MarshalInto(buf *sshfx.Buffer) {
	buf.AppendString(ep.Handle)
}

// UnmarshalFrom decodes the packet-specific data from buf.
func (ep *FsyncExtendedPacket) UnmarshalFrom(buf *sshfx.Buffer) (err error) {
	ep.Handle, err = buf.ConsumeString()
	return err
}
