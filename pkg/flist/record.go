package flist

import "strings"

// FileType classifies a filesystem object. The numeric values are part of
// the v2 cache format.
type FileType uint32

const (
	TypeUnknown FileType = iota
	TypeDir
	TypeFile
	TypeLink
)

func (t FileType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	case TypeLink:
		return "link"
	default:
		return "unknown"
	}
}

// POSIX file-type bits of the mode word.
const (
	modeTypeMask = 0o170000
	modeDir      = 0o040000
	modeRegular  = 0o100000
	modeSymlink  = 0o120000
)

// TypeOfMode derives the file type from POSIX mode bits.
func TypeOfMode(mode uint32) FileType {
	switch mode & modeTypeMask {
	case modeDir:
		return TypeDir
	case modeRegular:
		return TypeFile
	case modeSymlink:
		return TypeLink
	default:
		return TypeUnknown
	}
}

// FileRecord is one entry of the list: a discovered filesystem object.
// When Detail is false only Path, Depth, and Type are meaningful.
type FileRecord struct {
	Path   string
	Depth  int
	Type   FileType
	Detail bool

	Mode  uint32
	UID   uint32
	GID   uint32
	Atime uint32
	Mtime uint32
	Ctime uint32
	Size  uint64
}

// pathDepth returns the number of '/' separators in path.
func pathDepth(path string) int {
	return strings.Count(path, "/")
}

// statData carries the subset of a stat record the list stores.
type statData struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Atime uint32
	Mtime uint32
	Ctime uint32
	Size  uint64
}

// insertStat appends a record with full stat data. The record's type is
// derived from the mode.
func (l *List) insertStat(path string, st statData) {
	l.recs = append(l.recs, FileRecord{
		Path:   path,
		Depth:  pathDepth(path),
		Type:   TypeOfMode(st.Mode),
		Detail: true,
		Mode:   st.Mode,
		UID:    st.UID,
		GID:    st.GID,
		Atime:  st.Atime,
		Mtime:  st.Mtime,
		Ctime:  st.Ctime,
		Size:   st.Size,
	})
}

// insertLite appends a record carrying only a path and type.
func (l *List) insertLite(path string, typ FileType) {
	l.recs = append(l.recs, FileRecord{
		Path:  path,
		Depth: pathDepth(path),
		Type:  typ,
	})
}

// record returns the record at index i in insertion order.
func (l *List) record(i int) (*FileRecord, error) {
	if i < 0 || i >= len(l.recs) {
		return nil, ErrIndexRange
	}
	return &l.recs[i], nil
}
