package sshfx

import "io"

// InitPacket defines the SSH_FXP_INIT packet.
//
// It is the one request that carries no request id;
// the version field sits where the id would otherwise be.
type InitPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *InitPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	buf := NewBuffer(make([]byte, 4, 4+size))
	buf.AppendUint8(uint8(PacketTypeInit))
	buf.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(buf)
	}

	buf.PutLength(size)

	return buf.b, nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
func (p *InitPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// VersionPacket defines the SSH_FXP_VERSION packet.
type VersionPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p.
func (p *VersionPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	buf := NewBuffer(make([]byte, 4, 4+size))
	buf.AppendUint8(uint8(PacketTypeVersion))
	buf.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(buf)
	}

	buf.PutLength(size)

	return buf.b, nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
func (p *VersionPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// ReadFrom reads a full SSH_FXP_VERSION frame from r into p.
// A frame of any other type, or one longer than maxPacketLength,
// is a handshake failure.
func (p *VersionPacket) ReadFrom(r io.Reader, b []byte, maxPacketLength uint32) error {
	b, err := readPacket(r, b, maxPacketLength)
	if err != nil {
		return err
	}

	buf := NewBuffer(b)

	typ, err := buf.ConsumeUint8()
	if err != nil {
		return err
	}

	if PacketType(typ) != PacketTypeVersion {
		return &unexpectedPacketErr{want: PacketTypeVersion, got: PacketType(typ)}
	}

	return p.UnmarshalPacketBody(buf)
}

type unexpectedPacketErr struct {
	want, got PacketType
}

func (e *unexpectedPacketErr) Error() string {
	return "unexpected packet type: got " + e.got.String() + ", want " + e.want.String()
}
