package sshfx

// ExtendedData defines the marshalable request-specific data of an
// SSH_FXP_EXTENDED packet.
type ExtendedData interface {
	Len() int
	MarshalInto(buf *Buffer)
	UnmarshalFrom(buf *Buffer) error
}

// ExtendedPacket defines the SSH_FXP_EXTENDED packet,
// the vendor extension mechanism of the protocol.
type ExtendedPacket struct {
	ExtendedRequest string

	Data ExtendedData

	// RawData holds the undecoded request-specific data after an
	// UnmarshalPacketBody with a nil Data field.
	RawData Buffer
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *ExtendedPacket) Type() PacketType {
	return PacketTypeExtended
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *ExtendedPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	buf := NewBuffer(b)
	if buf.Cap() < 9 {
		size := 4 + len(p.ExtendedRequest) // string(extended-request)
		if p.Data != nil {
			size += p.Data.Len()
		}
		buf = NewMarshalBuffer(size)
	}

	buf.StartPacket(PacketTypeExtended, reqid)
	buf.AppendString(p.ExtendedRequest)

	if p.Data != nil {
		p.Data.MarshalInto(buf)
	}

	return buf.Packet(payload)
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
//
// If p.Data is nil, the request-specific data is left in RawData undecoded,
// so a receiver can decide how to interpret an extension it may not support.
func (p *ExtendedPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.ExtendedRequest, err = buf.ConsumeString(); err != nil {
		return err
	}

	if p.Data != nil {
		return p.Data.UnmarshalFrom(buf)
	}

	p.RawData = *buf
	return nil
}

// ExtendedReplyPacket defines the SSH_FXP_EXTENDED_REPLY packet.
type ExtendedReplyPacket struct {
	Data Buffer
}

// Type returns the SSH_FXP_xy value associated with this packet type.
func (p *ExtendedReplyPacket) Type() PacketType {
	return PacketTypeExtendedReply
}

// MarshalPacket returns p as a two-part binary encoding of p.
func (p *ExtendedReplyPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	buf := NewBuffer(b)
	if buf.Cap() < 9 {
		buf = NewMarshalBuffer(p.Data.Len())
	}

	buf.StartPacket(PacketTypeExtendedReply, reqid)

	return buf.Packet(p.Data.Bytes())
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// The Data field takes ownership of the Buffer's remaining bytes.
func (p *ExtendedReplyPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	p.Data = *buf
	return nil
}
