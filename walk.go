package sftpfs

import (
	"os"
	"path"

	"github.com/kr/fs"
)

// Walk returns a new Walker rooted at root, lazily traversing the remote
// tree depth-first.
func (cl *Client) Walk(root string) *fs.Walker {
	return fs.WalkFS(root, walkFS{cl})
}

// walkFS adapts a Client to the kr/fs FileSystem interface.
type walkFS struct {
	cl *Client
}

func (w walkFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := w.cl.ReadDir(dirname)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, ent := range entries {
		fi, err := ent.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, fi)
	}

	return infos, nil
}

func (w walkFS) Lstat(name string) (os.FileInfo, error) {
	return w.cl.LStat(name)
}

func (w walkFS) Join(elem ...string) string {
	return path.Join(elem...)
}
