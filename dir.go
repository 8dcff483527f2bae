package sftpfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"slices"
	"strings"

	"github.com/sftpfs/sftpfs/sshfx"
)

// OpenDir opens the named directory for streaming its entries.
func (cl *Client) OpenDir(name string) (*Dir, error) {
	pkt, err := getPacket[sshfx.HandlePacket](context.Background(), nil, cl, &sshfx.OpenDirPacket{
		Path: name,
	})
	if err != nil {
		return nil, wrapPathError("opendir", name, err)
	}

	d := &Dir{
		cl:   cl,
		name: name,
	}
	d.handle.init(pkt.Handle)

	return d, nil
}

// Dir represents an open directory handle.
//
// A Dir streams entries in server order, one SSH_FXP_READDIR batch at a
// time. The "." and ".." entries are never surfaced. A Dir is not safe for
// concurrent use.
type Dir struct {
	cl     *Client
	name   string
	handle handle

	// Entries received from the last batch but not yet surfaced.
	entries []*sshfx.NameEntry

	// Once the peer reports end of stream, no further requests are issued;
	// re-reading a finished Dir just keeps reporting the end.
	eof bool
}

// Name returns the name of the directory as presented to OpenDir.
func (d *Dir) Name() string {
	return d.name
}

// Close closes the directory handle.
func (d *Dir) Close() error {
	return wrapPathError("close", d.name, d.handle.close(d.cl))
}

// rangedir yields directory entries in batch order, filtering out the "."
// and ".." entries some servers include. The yielded error, if any, ends the
// sequence; io.EOF is never yielded.
func (d *Dir) rangedir(ctx context.Context) iter.Seq2[*sshfx.NameEntry, error] {
	return func(yield func(*sshfx.NameEntry, error) bool) {
		for {
			for i, ent := range d.entries {
				if name := ent.Filename; name == "." || name == ".." {
					continue
				}

				if !yield(ent, nil) {
					d.entries = slices.Delete(d.entries, 0, i+1)
					return
				}
			}

			// Always cleared: every buffered entry was either yielded or
			// filtered out above.
			d.entries = nil

			if d.eof {
				return
			}

			handle, cancel, err := d.handle.get()
			if err != nil {
				yield(nil, err)
				return
			}

			pkt, err := getPacket[sshfx.NamePacket](ctx, cancel, d.cl, &sshfx.ReadDirPacket{
				Handle: handle,
			})
			if err != nil {
				if errors.Is(err, io.EOF) {
					d.eof = true
					return
				}

				yield(nil, err)
				return
			}

			// An empty batch without a status is treated as end of stream;
			// asking again would only loop.
			if len(pkt.Entries) == 0 {
				d.eof = true
				return
			}

			d.entries = pkt.Entries
		}
	}
}

// ReadDir reads the contents of the directory and returns a slice of up to n
// DirEntry values in directory order. Subsequent calls on the same Dir yield
// further entries.
//
// If n > 0, ReadDir returns at most n entries. When the directory is
// exhausted it returns an empty slice and io.EOF.
//
// If n <= 0, ReadDir returns all remaining entries in a single slice, and a
// nil error at the end of the directory.
func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	var ret []fs.DirEntry

	for ent, err := range d.rangedir(context.Background()) {
		if err != nil {
			return ret, wrapPathError("readdir", d.name, err)
		}

		ret = append(ret, ent)

		if n > 0 && len(ret) >= n {
			return ret, nil
		}
	}

	if n > 0 && len(ret) == 0 {
		return nil, io.EOF
	}

	return ret, nil
}

// Readdir is the os.File styled variant of ReadDir,
// returning fs.FileInfo values instead of fs.DirEntry.
func (d *Dir) Readdir(n int) ([]fs.FileInfo, error) {
	var ret []fs.FileInfo

	for ent, err := range d.rangedir(context.Background()) {
		if err != nil {
			return ret, wrapPathError("readdir", d.name, err)
		}

		ret = append(ret, ent)

		if n > 0 && len(ret) >= n {
			return ret, nil
		}
	}

	if n > 0 && len(ret) == 0 {
		return nil, io.EOF
	}

	return ret, nil
}

// ReadDir reads the named directory and returns all of its entries sorted by
// filename. The "." and ".." entries are never included.
func (cl *Client) ReadDir(name string) ([]fs.DirEntry, error) {
	d, err := cl.OpenDir(name)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	entries, err := d.ReadDir(0)

	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})

	return entries, err
}
