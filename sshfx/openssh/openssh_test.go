package openssh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sftpfs/sftpfs/sshfx"
)

func TestPosixRenameWire(t *testing.T) {
	header, payload, err := (&PosixRenameExtendedPacket{
		OldPath: "/old",
		NewPath: "/new",
	}).MarshalPacket(11, nil)
	require.NoError(t, err)

	var raw sshfx.RawPacket
	require.NoError(t, raw.ReadFrom(bytes.NewReader(append(header, payload...)), nil, sshfx.DefaultMaxPacketLength))
	require.Equal(t, sshfx.PacketTypeExtended, raw.PacketType)

	var ext sshfx.ExtendedPacket
	require.NoError(t, ext.UnmarshalPacketBody(&raw.Data))
	assert.Equal(t, "posix-rename@openssh.com", ext.ExtendedRequest)

	var body PosixRenameExtendedPacket
	require.NoError(t, body.UnmarshalFrom(&ext.RawData))
	assert.Equal(t, "/old", body.OldPath)
	assert.Equal(t, "/new", body.NewPath)
}

func TestFsyncWire(t *testing.T) {
	header, payload, err := (&FsyncExtendedPacket{Handle: "h9"}).MarshalPacket(12, nil)
	require.NoError(t, err)

	var raw sshfx.RawPacket
	require.NoError(t, raw.ReadFrom(bytes.NewReader(append(header, payload...)), nil, sshfx.DefaultMaxPacketLength))

	var ext sshfx.ExtendedPacket
	require.NoError(t, ext.UnmarshalPacketBody(&raw.Data))
	assert.Equal(t, "fsync@openssh.com", ext.ExtendedRequest)

	var body FsyncExtendedPacket
	require.NoError(t, body.UnmarshalFrom(&ext.RawData))
	assert.Equal(t, "h9", body.Handle)
}

func TestExtensionPairs(t *testing.T) {
	assert.Equal(t, "posix-rename@openssh.com", ExtensionPosixRename().Name)
	assert.Equal(t, "hardlink@openssh.com", ExtensionHardlink().Name)
	assert.Equal(t, "fsync@openssh.com", ExtensionFsync().Name)

	for _, ext := range []string{ExtensionPosixRename().Data, ExtensionHardlink().Data, ExtensionFsync().Data} {
		assert.Equal(t, "1", ext)
	}
}
