package sshfx

import (
	"io/fs"
	"path"
	"time"
)

// Attribute presence flags, from draft-ietf-secsh-filexfer-02 section 5.
const (
	AttrSize        = 1 << iota // SSH_FILEXFER_ATTR_SIZE
	AttrUIDGID                  // SSH_FILEXFER_ATTR_UIDGID
	AttrPermissions             // SSH_FILEXFER_ATTR_PERMISSIONS
	AttrACModTime               // SSH_FILEXFER_ACMODTIME

	AttrExtended = 1 << 31 // SSH_FILEXFER_ATTR_EXTENDED
)

// Attributes defines the file attributes type from draft-ietf-secsh-filexfer-02 section 5.
//
// Only the fields covered by Flags are encoded, in canonical field order.
// A zero Flags encodes the empty attribute set,
// which when written changes nothing on the remote side.
type Attributes struct {
	Flags uint32

	Size uint64 // AttrSize

	UID uint32 // AttrUIDGID
	GID uint32

	Permissions FileMode // AttrPermissions

	ATime uint32 // AttrACModTime
	MTime uint32

	ExtendedAttributes []ExtendedAttribute // AttrExtended
}

// GetSize returns the Size field, and whether it is present.
func (a *Attributes) GetSize() (uint64, bool) {
	return a.Size, a.Flags&AttrSize != 0
}

// SetSize sets the Size field and marks it present.
func (a *Attributes) SetSize(size uint64) {
	a.Flags |= AttrSize
	a.Size = size
}

// GetUIDGID returns the UID and GID fields, and whether they are present.
func (a *Attributes) GetUIDGID() (uid, gid uint32, ok bool) {
	return a.UID, a.GID, a.Flags&AttrUIDGID != 0
}

// SetUIDGID sets the UID and GID fields and marks them present.
func (a *Attributes) SetUIDGID(uid, gid uint32) {
	a.Flags |= AttrUIDGID
	a.UID, a.GID = uid, gid
}

// GetPermissions returns the Permissions field, and whether it is present.
func (a *Attributes) GetPermissions() (FileMode, bool) {
	return a.Permissions, a.Flags&AttrPermissions != 0
}

// SetPermissions sets the Permissions field and marks it present.
func (a *Attributes) SetPermissions(perms FileMode) {
	a.Flags |= AttrPermissions
	a.Permissions = perms
}

// GetACModTime returns the ATime and MTime fields, and whether they are present.
func (a *Attributes) GetACModTime() (atime, mtime uint32, ok bool) {
	return a.ATime, a.MTime, a.Flags&AttrACModTime != 0
}

// SetACModTime sets the ATime and MTime fields and marks them present.
func (a *Attributes) SetACModTime(atime, mtime uint32) {
	a.Flags |= AttrACModTime
	a.ATime, a.MTime = atime, mtime
}

// Len returns the number of bytes a would marshal into.
func (a *Attributes) Len() int {
	length := 4

	if a.Flags&AttrSize != 0 {
		length += 8
	}

	if a.Flags&AttrUIDGID != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrPermissions != 0 {
		length += 4
	}

	if a.Flags&AttrACModTime != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrExtended != 0 {
		length += 4

		for _, ext := range a.ExtendedAttributes {
			length += ext.Len()
		}
	}

	return length
}

// MarshalInto marshals a onto the end of the given Buffer.
func (a *Attributes) MarshalInto(buf *Buffer) {
	buf.AppendUint32(a.Flags)

	if a.Flags&AttrSize != 0 {
		buf.AppendUint64(a.Size)
	}

	if a.Flags&AttrUIDGID != 0 {
		buf.AppendUint32(a.UID)
		buf.AppendUint32(a.GID)
	}

	if a.Flags&AttrPermissions != 0 {
		buf.AppendUint32(uint32(a.Permissions))
	}

	if a.Flags&AttrACModTime != 0 {
		buf.AppendUint32(a.ATime)
		buf.AppendUint32(a.MTime)
	}

	if a.Flags&AttrExtended != 0 {
		buf.AppendUint32(uint32(len(a.ExtendedAttributes)))

		for _, ext := range a.ExtendedAttributes {
			ext.MarshalInto(buf)
		}
	}
}

// UnmarshalFrom unmarshals Attributes from the given Buffer into a.
//
// The values of fields not covered by a.Flags are undefined.
func (a *Attributes) UnmarshalFrom(buf *Buffer) (err error) {
	if a.Flags, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	if a.Flags&AttrSize != 0 {
		if a.Size, err = buf.ConsumeUint64(); err != nil {
			return err
		}
	}

	if a.Flags&AttrUIDGID != 0 {
		if a.UID, err = buf.ConsumeUint32(); err != nil {
			return err
		}

		if a.GID, err = buf.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrPermissions != 0 {
		perms, err := buf.ConsumeUint32()
		if err != nil {
			return err
		}

		a.Permissions = FileMode(perms)
	}

	if a.Flags&AttrACModTime != 0 {
		if a.ATime, err = buf.ConsumeUint32(); err != nil {
			return err
		}

		if a.MTime, err = buf.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrExtended != 0 {
		count, err := buf.ConsumeUint32()
		if err != nil {
			return err
		}

		a.ExtendedAttributes = make([]ExtendedAttribute, count)
		for i := range a.ExtendedAttributes {
			if err := a.ExtendedAttributes[i].UnmarshalFrom(buf); err != nil {
				return err
			}
		}
	}

	return nil
}

// ExtendedAttribute defines the extended file attribute type from
// draft-ietf-secsh-filexfer-02 section 5.
type ExtendedAttribute struct {
	Type string
	Data string
}

// Len returns the number of bytes e would marshal into.
func (e *ExtendedAttribute) Len() int {
	return 4 + len(e.Type) + 4 + len(e.Data)
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *ExtendedAttribute) MarshalInto(buf *Buffer) {
	buf.AppendString(e.Type)
	buf.AppendString(e.Data)
}

// UnmarshalFrom unmarshals an ExtendedAttribute from the given Buffer into e.
func (e *ExtendedAttribute) UnmarshalFrom(buf *Buffer) (err error) {
	if e.Type, err = buf.ConsumeString(); err != nil {
		return err
	}

	if e.Data, err = buf.ConsumeString(); err != nil {
		return err
	}

	return nil
}

// NameEntry implements the repeated SSH_FXP_NAME data type from
// draft-ietf-secsh-filexfer-02.
//
// It doubles as the fs.FileInfo and fs.DirEntry produced by directory
// listings and stat requests.
type NameEntry struct {
	Filename string
	Longname string
	Attrs    Attributes
}

// Len returns the number of bytes e would marshal into.
func (e *NameEntry) Len() int {
	return 4 + len(e.Filename) + 4 + len(e.Longname) + e.Attrs.Len()
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *NameEntry) MarshalInto(buf *Buffer) {
	buf.AppendString(e.Filename)
	buf.AppendString(e.Longname)
	e.Attrs.MarshalInto(buf)
}

// UnmarshalFrom unmarshals a NameEntry from the given Buffer into e.
func (e *NameEntry) UnmarshalFrom(buf *Buffer) (err error) {
	if e.Filename, err = buf.ConsumeString(); err != nil {
		return err
	}

	if e.Longname, err = buf.ConsumeString(); err != nil {
		return err
	}

	return e.Attrs.UnmarshalFrom(buf)
}

var (
	_ fs.FileInfo = &NameEntry{}
	_ fs.DirEntry = &NameEntry{}
)

// Name returns the base name of the file.
func (e *NameEntry) Name() string {
	return path.Base(e.Filename)
}

// Size returns the length in bytes of the file, when known.
func (e *NameEntry) Size() int64 {
	size, _ := e.Attrs.GetSize()
	return int64(size)
}

// Mode returns the file mode bits translated to a Go fs.FileMode.
func (e *NameEntry) Mode() fs.FileMode {
	perms, _ := e.Attrs.GetPermissions()
	return ToGoFileMode(perms)
}

// Type returns the type bits of the file mode.
func (e *NameEntry) Type() fs.FileMode {
	return e.Mode().Type()
}

// ModTime returns the modification time of the file, when known.
func (e *NameEntry) ModTime() time.Time {
	_, mtime, _ := e.Attrs.GetACModTime()
	return time.Unix(int64(mtime), 0)
}

// IsDir reports whether the entry describes a directory.
func (e *NameEntry) IsDir() bool {
	perms, _ := e.Attrs.GetPermissions()
	return perms.IsDir()
}

// Info returns the entry itself, which is also its own FileInfo.
func (e *NameEntry) Info() (fs.FileInfo, error) {
	return e, nil
}

// Sys returns the raw wire Attributes of the entry.
func (e *NameEntry) Sys() any {
	return &e.Attrs
}
