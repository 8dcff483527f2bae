package sshfx

import (
	"encoding/binary"
	"errors"
)

// Frame decoding errors.
var (
	// ErrShortPacket is returned when a packet ends before all of its fields could be decoded.
	ErrShortPacket = errors.New("packet too short")

	// ErrLongPacket is returned when a packet claims a length above the negotiated maximum.
	ErrLongPacket = errors.New("packet too long")
)

// Buffer wraps the encoding details of the SSH wire format:
// fixed-width big-endian integers, and length-prefixed strings and byte slices.
//
// Data types are encoded as per section 4 of draft-ietf-secsh-architecture-09.
type Buffer struct {
	b   []byte
	off int
}

// NewBuffer creates a Buffer reading from, or appending onto, buf.
// The Buffer takes ownership of buf; the caller should not use it afterwards.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{b: buf}
}

// NewMarshalBuffer creates a Buffer ready to marshal a packet into.
// It reserves the 4-byte length prefix, and preallocates room for
// the 1-byte packet type, the 4-byte request id, and size more bytes.
func NewMarshalBuffer(size int) *Buffer {
	return NewBuffer(make([]byte, 4, 4+1+4+size))
}

// Bytes returns the unconsumed bytes of the Buffer.
// The slice is only valid until the next Append or Consume call.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Cap returns the capacity of the underlying slice.
func (b *Buffer) Cap() int {
	return cap(b.b)
}

// Reset clears the buffer for reuse, keeping the underlying slice.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// StartPacket resets the buffer and writes the length placeholder,
// packet type and request id that start every request frame.
func (b *Buffer) StartPacket(packetType PacketType, reqid uint32) {
	b.b, b.off = append(b.b[:0], make([]byte, 4)...), 0

	b.AppendUint8(uint8(packetType))
	b.AppendUint32(reqid)
}

// Packet finalizes a frame started with StartPacket.
// It writes the total body length (including the given payload, which is
// returned unmodified so it can be written separately without copying)
// into the reserved length prefix, and returns the framed header.
func (b *Buffer) Packet(payload []byte) (header, payloadPassThru []byte, err error) {
	b.PutLength(len(b.b) - 4 + len(payload))
	return b.b, payload, nil
}

// PutLength writes size into the first four bytes of the buffer in network byte order.
func (b *Buffer) PutLength(size int) {
	if len(b.b) < 4 {
		b.b = append(b.b, make([]byte, 4-len(b.b))...)
	}

	binary.BigEndian.PutUint32(b.b, uint32(size))
}

// AppendUint8 appends a single byte.
func (b *Buffer) AppendUint8(v uint8) {
	b.b = append(b.b, v)
}

// ConsumeUint8 consumes a single byte.
func (b *Buffer) ConsumeUint8() (uint8, error) {
	if b.Len() < 1 {
		return 0, ErrShortPacket
	}

	var v uint8
	v, b.off = b.b[b.off], b.off+1
	return v, nil
}

// AppendUint32 appends a uint32 in network byte order.
func (b *Buffer) AppendUint32(v uint32) {
	b.b = append(b.b,
		byte(v>>24),
		byte(v>>16),
		byte(v>>8),
		byte(v),
	)
}

// ConsumeUint32 consumes a uint32 in network byte order.
func (b *Buffer) ConsumeUint32() (uint32, error) {
	if b.Len() < 4 {
		return 0, ErrShortPacket
	}

	v := binary.BigEndian.Uint32(b.b[b.off:])
	b.off += 4
	return v, nil
}

// AppendUint64 appends a uint64 in network byte order.
func (b *Buffer) AppendUint64(v uint64) {
	b.b = append(b.b,
		byte(v>>56),
		byte(v>>48),
		byte(v>>40),
		byte(v>>32),
		byte(v>>24),
		byte(v>>16),
		byte(v>>8),
		byte(v),
	)
}

// ConsumeUint64 consumes a uint64 in network byte order.
func (b *Buffer) ConsumeUint64() (uint64, error) {
	if b.Len() < 8 {
		return 0, ErrShortPacket
	}

	v := binary.BigEndian.Uint64(b.b[b.off:])
	b.off += 8
	return v, nil
}

// AppendInt64 appends an int64 in network byte order.
func (b *Buffer) AppendInt64(v int64) {
	b.AppendUint64(uint64(v))
}

// ConsumeInt64 consumes an int64 in network byte order.
func (b *Buffer) ConsumeInt64() (int64, error) {
	v, err := b.ConsumeUint64()
	return int64(v), err
}

// AppendByteSlice appends the given bytes as a length-prefixed byte string.
func (b *Buffer) AppendByteSlice(v []byte) {
	b.AppendUint32(uint32(len(v)))
	b.b = append(b.b, v...)
}

// ConsumeByteSlice consumes a length-prefixed byte string.
// The returned slice aliases the buffer, and is only valid until the next buffer modification.
func (b *Buffer) ConsumeByteSlice() ([]byte, error) {
	length, err := b.ConsumeUint32()
	if err != nil {
		return nil, err
	}

	if b.Len() < int(length) || length > uint32(b.Len()) {
		return nil, ErrShortPacket
	}

	v := b.b[b.off:]
	if len(v) > int(length) {
		v = v[:length:length]
	}
	b.off += int(length)
	return v, nil
}

// AppendString appends the given string as a length-prefixed byte string.
// Strings are not NUL-terminated on the wire.
func (b *Buffer) AppendString(v string) {
	b.AppendUint32(uint32(len(v)))
	b.b = append(b.b, v...)
}

// ConsumeString consumes a length-prefixed byte string as a Go string.
func (b *Buffer) ConsumeString() (string, error) {
	v, err := b.ConsumeByteSlice()
	if err != nil {
		return "", err
	}

	return string(v), nil
}
