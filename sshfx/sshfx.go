// Package sshfx implements the wire encoding for secsh-filexfer as described in
// https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt
//
// Packets are framed as a 4-byte big-endian length, a 1-byte packet type,
// and a packet-specific body. With the exception of SSH_FXP_INIT and
// SSH_FXP_VERSION, every body starts with a uint32 request id that correlates
// requests and responses.
package sshfx
