package sftpfs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sftpfs/sftpfs/sshfx"
)

// A VersionSelector chooses the protocol version a session should use, given
// the version the server settled on and the versions it advertised through
// the "versions" extension. Returning an error aborts negotiation and leaves
// the session unusable.
//
// The client speaks version 3 natively; selecting any other version is only
// meaningful against peers whose higher-version dialect the caller knows how
// to restrict themselves to.
type VersionSelector func(current uint32, available []uint32) (uint32, error)

// SelectCurrent keeps whatever version the server settled on.
// It is the default when no selector is configured.
func SelectCurrent(current uint32, available []uint32) (uint32, error) {
	return current, nil
}

// SelectMaximum picks the highest version the server advertised.
func SelectMaximum(current uint32, available []uint32) (uint32, error) {
	selected := current
	for _, v := range available {
		if v > selected {
			selected = v
		}
	}
	return selected, nil
}

// SelectHighestBelow returns a selector picking the highest advertised
// version at or below ceiling, and failing when there is none.
func SelectHighestBelow(ceiling uint32) VersionSelector {
	return func(current uint32, available []uint32) (uint32, error) {
		var selected uint32
		if current <= ceiling {
			selected = current
		}

		for _, v := range available {
			if v <= ceiling && v > selected {
				selected = v
			}
		}

		if selected == 0 {
			return 0, fmt.Errorf("no advertised version at or below %d", ceiling)
		}

		return selected, nil
	}
}

// FailOnDowngrade keeps the current version, but fails negotiation when the
// server settled below the version this client natively speaks.
func FailOnDowngrade(current uint32, available []uint32) (uint32, error) {
	if current < sftpProtocolVersion {
		return 0, fmt.Errorf("server downgraded to version %d", current)
	}
	return current, nil
}

// parseVersionsExtension parses the comma-separated version list carried by
// the "versions" extension. Unparsable entries are skipped; peers are not all
// careful about the data they advertise.
func parseVersionsExtension(data string) []uint32 {
	if data == "" {
		return nil
	}

	var versions []uint32
	for _, s := range strings.Split(data, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
		if err != nil {
			continue
		}
		versions = append(versions, uint32(v))
	}
	return versions
}

// negotiate applies the configured version selector to the handshake outcome,
// and when the selection differs from the settled version, performs the
// "version-select" exchange, which must be the first request of the session.
func (cl *Client) negotiate(ctx context.Context, verPkt *sshfx.VersionPacket) error {
	current := verPkt.Version

	available := parseVersionsExtension(cl.exts[sshfx.ExtensionNameVersions])
	if len(available) == 0 {
		available = []uint32{current}
	}

	selector := cl.selector
	if selector == nil {
		if current != sftpProtocolVersion {
			return &NegotiationError{
				Current:   current,
				Available: available,
				Reason:    fmt.Sprintf("expected server version %d", sftpProtocolVersion),
			}
		}
		selector = SelectCurrent
	}

	selected, err := selector(current, available)
	if err != nil {
		return &NegotiationError{
			Current:   current,
			Available: available,
			Reason:    err.Error(),
		}
	}

	if selected == current {
		cl.version = current
		return nil
	}

	advertised := false
	for _, v := range available {
		if v == selected {
			advertised = true
			break
		}
	}
	if !advertised {
		return &NegotiationError{
			Current:   current,
			Selected:  selected,
			Available: available,
			Reason:    "selected version was not advertised",
		}
	}

	err = cl.sendPacket(ctx, nil, &sshfx.VersionSelectPacket{
		Version: strconv.FormatUint(uint64(selected), 10),
	})
	if err != nil {
		return &NegotiationError{
			Current:   current,
			Selected:  selected,
			Available: available,
			Reason:    fmt.Sprintf("version-select: %v", err),
		}
	}

	cl.version = selected
	return nil
}
