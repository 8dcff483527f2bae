package sshfx

import (
	"fmt"
	"io"
)

// PacketMarshaller narrowly defines packets that can be marshaled.
//
// The split header and payload permits the caller to hold onto the payload
// bytes (which typically alias a caller-owned slice) and write them to the
// transport without an intermediate copy.
type PacketMarshaller interface {
	// MarshalPacket is expected to be a pointer receiver method.
	// It marshals the packet into a frame using the given request id,
	// reusing the given byte slice as backing storage when it is large enough.
	MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error)
}

// Packet defines the full interface of a packet: it can report its own type,
// and marshal and unmarshal itself.
type Packet interface {
	PacketMarshaller

	// Type returns the SSH_FXP_xy value associated with the packet.
	Type() PacketType

	// UnmarshalPacketBody decodes a packet body from the given Buffer.
	// It is assumed that the uint32(request-id) has already been consumed.
	UnmarshalPacketBody(buf *Buffer) error
}

// ComposePacket converts returns from MarshalPacket into an equivalent call
// to MarshalBinary, by appending the payload onto the header.
func ComposePacket(header, payload []byte, err error) ([]byte, error) {
	return append(header, payload...), err
}

// Default length values, from draft-ietf-secsh-filexfer-02 section 3.
const (
	DefaultMaxPacketLength = 34000
	DefaultMaxDataLength   = 32768
)

// MaxPacketLengthOverhead is the difference between the default maximum
// packet length and the default maximum data length: the framing, type,
// request id, handle and offset fields of a data-carrying packet.
const MaxPacketLengthOverhead = DefaultMaxPacketLength - DefaultMaxDataLength

// RawPacket implements the general packet format from
// draft-ietf-secsh-filexfer-02 section 3, leaving the body undecoded.
type RawPacket struct {
	PacketType PacketType
	RequestID  uint32

	Data Buffer
}

// Type returns the undecoded packet type.
func (p *RawPacket) Type() PacketType {
	return p.PacketType
}

// MarshalPacket returns p as a two-part binary encoding of p.
// The internal p.RequestID is overridden by the reqid argument.
func (p *RawPacket) MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error) {
	buf := NewBuffer(b)
	if buf.Cap() < 9 {
		buf = NewMarshalBuffer(0)
	}

	buf.StartPacket(p.PacketType, reqid)

	return buf.Packet(p.Data.Bytes())
}

// MarshalBinary returns p as the binary encoding of p.
func (p *RawPacket) MarshalBinary() ([]byte, error) {
	return ComposePacket(p.MarshalPacket(p.RequestID, nil))
}

// UnmarshalFrom decodes a RawPacket from the given Buffer into p.
// The Data field takes ownership of the Buffer's remaining bytes.
func (p *RawPacket) UnmarshalFrom(buf *Buffer) error {
	typ, err := buf.ConsumeUint8()
	if err != nil {
		return err
	}

	p.PacketType = PacketType(typ)

	if p.RequestID, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	p.Data = *buf
	return nil
}

// readPacket reads a uint32 length-prefixed binary frame from r into b,
// allocating a fresh slice if b is too small for the claimed length.
func readPacket(r io.Reader, b []byte, maxPacketLength uint32) ([]byte, error) {
	if len(b) < 4 {
		b = make([]byte, 4)
	}

	if _, err := io.ReadFull(r, b[:4]); err != nil {
		return nil, err
	}

	length := unmarshalUint32(b)
	if length < 1 {
		return nil, ErrShortPacket
	}
	if length > maxPacketLength {
		return nil, ErrLongPacket
	}

	if int(length) > len(b) {
		b = make([]byte, length)
	}

	if _, err := io.ReadFull(r, b[:length]); err != nil {
		return nil, err
	}

	return b[:length], nil
}

func unmarshalUint32(b []byte) uint32 {
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}

// ReadFrom reads a full frame from r into p, using b as a backing-array hint.
// A frame longer than maxPacketLength fails with ErrLongPacket.
func (p *RawPacket) ReadFrom(r io.Reader, b []byte, maxPacketLength uint32) error {
	b, err := readPacket(r, b, maxPacketLength)
	if err != nil {
		return err
	}

	return p.UnmarshalFrom(NewBuffer(b))
}

// NewPacket returns a zero value of the request packet associated with the
// given type, ready to have its body unmarshaled into it.
func NewPacket(typ PacketType) (Packet, error) {
	switch typ {
	case PacketTypeOpen:
		return new(OpenPacket), nil
	case PacketTypeClose:
		return new(ClosePacket), nil
	case PacketTypeRead:
		return new(ReadPacket), nil
	case PacketTypeWrite:
		return new(WritePacket), nil
	case PacketTypeLStat:
		return new(LStatPacket), nil
	case PacketTypeFStat:
		return new(FStatPacket), nil
	case PacketTypeSetstat:
		return new(SetStatPacket), nil
	case PacketTypeFSetstat:
		return new(FSetStatPacket), nil
	case PacketTypeOpenDir:
		return new(OpenDirPacket), nil
	case PacketTypeReadDir:
		return new(ReadDirPacket), nil
	case PacketTypeRemove:
		return new(RemovePacket), nil
	case PacketTypeMkdir:
		return new(MkdirPacket), nil
	case PacketTypeRmdir:
		return new(RmdirPacket), nil
	case PacketTypeRealPath:
		return new(RealPathPacket), nil
	case PacketTypeStat:
		return new(StatPacket), nil
	case PacketTypeRename:
		return new(RenamePacket), nil
	case PacketTypeReadLink:
		return new(ReadLinkPacket), nil
	case PacketTypeSymlink:
		return new(SymlinkPacket), nil
	case PacketTypeExtended:
		return new(ExtendedPacket), nil
	default:
		return nil, fmt.Errorf("unexpected request packet type: %v", typ)
	}
}
