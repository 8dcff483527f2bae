// Package sftpfs implements the client side of the SSH File Transfer Protocol
// as described in
// https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt,
// along with a rooted virtual-filesystem view of the remote tree and a cache
// of filesystem instances keyed by connection identity.
//
// A Client multiplexes any number of concurrent requests over one subsystem
// channel: requests are pipelined, and responses are correlated back to their
// callers by request id.
package sftpfs

// sftpProtocolVersion is the filexfer protocol version sent in SSH_FXP_INIT,
// and the only version this client speaks natively.
const sftpProtocolVersion = 3
