package sftpfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/sftpfs/sftpfs/sshfx"
)

type result struct {
	pkt *sshfx.RawPacket
	err error
}

// clientConn owns one subsystem channel.
//
// Writes are serialized under mu together with inflight-map mutation, so that
// allocating a request id, registering its waiter, and framing the bytes onto
// the channel is one short critical section. The full round trip is never
// held under the lock; that is what permits pipelining.
type clientConn struct {
	reqid atomic.Uint32
	rd    io.Reader

	maxPacket uint32

	mu       sync.Mutex
	wr       io.WriteCloser
	closed   chan struct{}
	inflight map[uint32]chan<- result
	err      error
}

// handshake performs the SSH_FXP_INIT / SSH_FXP_VERSION exchange.
// The context bounds only this exchange; a timeout or malformed reply leaves
// the session unusable.
func (c *clientConn) handshake(ctx context.Context) (*sshfx.VersionPacket, error) {
	initPkt := &sshfx.InitPacket{
		Version: sftpProtocolVersion,
	}

	data, err := initPkt.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if _, err := c.wr.Write(data); err != nil {
		return nil, &NegotiationError{Reason: fmt.Sprintf("write init: %v", err)}
	}

	var verPkt sshfx.VersionPacket
	errch := make(chan error, 1)

	go func() {
		defer close(errch)

		if err := verPkt.ReadFrom(c.rd, make([]byte, c.maxPacket), c.maxPacket); err != nil {
			errch <- &NegotiationError{Reason: fmt.Sprintf("read version: %v", err)}
		}
	}()

	select {
	case err := <-errch:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		// Tear down the transport so the version read does not stay parked
		// on c.rd. Closing the write side prompts a well-behaved peer to
		// hang up; closing the reader, when it supports it, unblocks the
		// read directly.
		c.wr.Close()
		if closer, ok := c.rd.(io.Closer); ok {
			closer.Close()
		}
		return nil, &NegotiationError{Reason: ctx.Err().Error()}
	}

	return &verPkt, nil
}

// Wait blocks until the session is closed, and returns the error that closed
// it, if any.
func (c *clientConn) Wait() error {
	<-c.closed
	return c.err
}

// disconnect fails the session: every pending call is woken with
// ErrSessionClosed, and every future dispatch fails immediately without
// touching the transport. The first error wins; a graceful Close records nil.
func (c *clientConn) disconnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		// already closed
		return
	default:
	}

	debug("disconnect: %v", err)

	c.err = err
	close(c.closed)

	bcast := result{
		err: ErrSessionClosed,
	}

	for reqid, ch := range c.inflight {
		ch <- bcast

		// Replace the hijacked chan so the result can never be sent twice.
		c.inflight[reqid] = make(chan<- result, 1)
	}
}

// recvLoop is the single logical reader of the session. It continuously
// parses inbound frames and resolves the pending call matching the embedded
// request id. An id with no matching waiter is a protocol violation that
// fails the whole session.
func (c *clientConn) recvLoop() error {
	for {
		pkt := new(sshfx.RawPacket)

		if err := pkt.ReadFrom(c.rd, nil, c.maxPacket); err != nil {
			return err
		}

		debug("recv: %s id %d", pkt.PacketType, pkt.RequestID)

		ch, loaded := c.takeChan(pkt.RequestID)
		if !loaded {
			return fmt.Errorf("sftp: response for unknown request id: %d", pkt.RequestID)
		}

		ch <- result{pkt: pkt}
	}
}

func (c *clientConn) takeChan(reqid uint32) (chan<- result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, loaded := c.inflight[reqid]
	delete(c.inflight, reqid)

	return ch, loaded
}

// dispatch marshals req under the next request id, registers a waiter for the
// response, and writes the frame. Multiple dispatches may be outstanding at
// once; each returned channel receives exactly one result.
//
// If the cancel channel is already closed, dispatch fails with fs.ErrClosed
// before sending anything: this is how operations on a closed handle are
// refused without a round trip.
func (c *clientConn) dispatch(cancel <-chan struct{}, req sshfx.PacketMarshaller) (uint32, chan result, error) {
	reqid := c.reqid.Add(1)

	header, payload, err := req.MarshalPacket(reqid, nil)
	if err != nil {
		return reqid, nil, err
	}

	ch := make(chan result, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return reqid, nil, ErrSessionClosed
	case <-cancel:
		return reqid, nil, fs.ErrClosed
	default:
	}

	c.inflight[reqid] = ch

	if _, err := c.wr.Write(header); err != nil {
		delete(c.inflight, reqid)
		return reqid, nil, fmt.Errorf("sftp: write packet header: %w", err)
	}

	if len(payload) != 0 {
		if _, err := c.wr.Write(payload); err != nil {
			delete(c.inflight, reqid)
			return reqid, nil, fmt.Errorf("sftp: write packet payload: %w", err)
		}
	}

	return reqid, ch, nil
}

// discard abandons the pending call for reqid after a caller-side
// cancellation. The waiter is replaced with a throwaway channel so a late
// response resolves harmlessly instead of tripping the unknown-id check,
// leaving correlation state for every other id intact.
func (c *clientConn) discard(reqid uint32, ch chan result) {
	c.mu.Lock()
	if _, loaded := c.inflight[reqid]; loaded {
		c.inflight[reqid] = make(chan result, 1)
	}
	c.mu.Unlock()

	select {
	case <-ch:
	default:
	}
}

// recv waits for the response matched to reqid.
func (c *clientConn) recv(ctx context.Context, reqid uint32, ch chan result) (*sshfx.RawPacket, error) {
	select {
	case <-ctx.Done():
		c.discard(reqid, ch)
		return nil, ctx.Err()

	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}

		if res.pkt.RequestID != reqid {
			return nil, fmt.Errorf("sftp: unexpected request id: %d != %d", res.pkt.RequestID, reqid)
		}

		return res.pkt, nil
	}
}

// send dispatches req and waits for its matched response.
func (c *clientConn) send(ctx context.Context, cancel <-chan struct{}, req sshfx.PacketMarshaller) (*sshfx.RawPacket, error) {
	reqid, ch, err := c.dispatch(cancel, req)
	if err != nil {
		return nil, err
	}

	return c.recv(ctx, reqid, ch)
}
