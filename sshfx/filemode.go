package sshfx

import "io/fs"

// FileMode represents the POSIX-style permission and type bits carried in the
// permissions attribute field.
type FileMode uint32

// POSIX permission and mode type bits.
const (
	ModePerm       = FileMode(0o0777) // S_IRWXU | S_IRWXG | S_IRWXO
	ModeSetUID     = FileMode(0o4000) // S_ISUID
	ModeSetGID     = FileMode(0o2000) // S_ISGID
	ModeSticky     = FileMode(0o1000) // S_ISVTX
	ModeType       = FileMode(0xF000) // S_IFMT
	ModeNamedPipe  = FileMode(0x1000) // S_IFIFO
	ModeCharDevice = FileMode(0x2000) // S_IFCHR
	ModeDir        = FileMode(0x4000) // S_IFDIR
	ModeDevice     = FileMode(0x6000) // S_IFBLK
	ModeRegular    = FileMode(0x8000) // S_IFREG
	ModeSymlink    = FileMode(0xA000) // S_IFLNK
	ModeSocket     = FileMode(0xC000) // S_IFSOCK
)

// IsDir reports whether m describes a directory.
func (m FileMode) IsDir() bool {
	return m&ModeType == ModeDir
}

// IsRegular reports whether m describes a regular file.
func (m FileMode) IsRegular() bool {
	return m&ModeType == ModeRegular
}

// Perm returns the POSIX permission bits in m.
func (m FileMode) Perm() FileMode {
	return m & ModePerm
}

// ToGoFileMode converts a POSIX permissions value into a Go fs.FileMode.
func ToGoFileMode(m FileMode) fs.FileMode {
	mode := fs.FileMode(m.Perm())

	switch m & ModeType {
	case ModeNamedPipe:
		mode |= fs.ModeNamedPipe
	case ModeCharDevice:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case ModeDir:
		mode |= fs.ModeDir
	case ModeDevice:
		mode |= fs.ModeDevice
	case ModeRegular:
		// no type bits in fs.FileMode for regular files
	case ModeSymlink:
		mode |= fs.ModeSymlink
	case ModeSocket:
		mode |= fs.ModeSocket
	}

	if m&ModeSetUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&ModeSetGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&ModeSticky != 0 {
		mode |= fs.ModeSticky
	}

	return mode
}

// FromGoFileMode converts a Go fs.FileMode into the POSIX permissions value
// sent on the wire.
func FromGoFileMode(mode fs.FileMode) FileMode {
	m := FileMode(mode.Perm())

	switch mode & fs.ModeType {
	case fs.ModeNamedPipe:
		m |= ModeNamedPipe
	case fs.ModeDevice | fs.ModeCharDevice:
		m |= ModeCharDevice
	case fs.ModeDir:
		m |= ModeDir
	case fs.ModeDevice:
		m |= ModeDevice
	case fs.ModeSymlink:
		m |= ModeSymlink
	case fs.ModeSocket:
		m |= ModeSocket
	default:
		if mode.IsRegular() {
			m |= ModeRegular
		}
	}

	if mode&fs.ModeSetuid != 0 {
		m |= ModeSetUID
	}
	if mode&fs.ModeSetgid != 0 {
		m |= ModeSetGID
	}
	if mode&fs.ModeSticky != 0 {
		m |= ModeSticky
	}

	return m
}
