package sshfx

// Extension names defined by the filexfer drafts for version negotiation.
const (
	// ExtensionNameVersions is advertised by servers willing to renegotiate,
	// its data is a comma-separated list of supported versions.
	ExtensionNameVersions = "versions"

	// ExtensionNameVersionSelect is the extended request a client sends to
	// switch the session to one of the advertised versions.
	// It must be the first request after the init/version exchange.
	ExtensionNameVersionSelect = "version-select"
)

// VersionSelectPacket defines the "version-select" extended packet.
type VersionSelectPacket struct {
	Version string
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *VersionSelectPacket) Type() PacketType {
	return PacketTypeExtended
}

// MarshalPacket returns p as a two-part binary encoding of the full extended packet.
func (p *VersionSelectPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	ep := &ExtendedPacket{
		ExtendedRequest: ExtensionNameVersionSelect,

		Data: p,
	}
	return ep.MarshalPacket(reqid, b)
}

// Len returns the number of bytes the packet-specific data would marshal into.
func (p *VersionSelectPacket) Len() int {
	return 4 + len(p.Version)
}

// MarshalInto marshals the packet-specific data onto the end of the given Buffer.
func (p *VersionSelectPacket) MarshalInto(buf *Buffer) {
	buf.AppendString(p.Version)
}

// UnmarshalFrom decodes the packet-specific data from buf.
func (p *VersionSelectPacket) UnmarshalFrom(buf *Buffer) (err error) {
	p.Version, err = buf.ConsumeString()
	return err
}
