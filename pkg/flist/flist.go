// Package flist maintains a distributed list of file metadata records.
//
// A list is created by walking a directory tree in parallel ([WalkPath])
// or by reading a previously written cache file ([ReadCache]), is
// read-only thereafter, and can be serialized to a single shared cache
// file with [List.WriteCache]. Each participant of the job owns one shard
// of the list; accessors address the local shard by insertion order while
// the summary fields describe the whole distributed list.
//
// Lists built in stat mode carry a full stat record per entry plus
// replicated user/group name tables; lists built in readdir mode carry
// only paths and types.
package flist

import (
	"github.com/fruitsalade/treewalk/pkg/comm"
)

// List is one participant's view of a distributed file list.
type List struct {
	c      *comm.Comm
	detail bool

	recs []FileRecord

	users  *NameTable
	groups *NameTable

	// Summary fields, uniform across participants once computed.
	totalFiles  uint64
	maxFileName uint64
	minDepth    int
	maxDepth    int

	// Wall-clock bounds of the walk that built the list, seconds since
	// the epoch. Zero for lists read from a v2/v3 cache written with
	// zeroed timestamps.
	WalkStart uint64
	WalkEnd   uint64
}

func newList(c *comm.Comm, detail bool) *List {
	return &List{
		c:      c,
		detail: detail,
		users:  newNameTable(),
		groups: newNameTable(),
	}
}

// HaveDetail reports whether records carry stat data.
func (l *List) HaveDetail() bool { return l.detail }

// Clear drops every local record and resets the summary fields to their
// zero sentinels. The name tables are kept.
func (l *List) Clear() {
	l.recs = nil
	l.totalFiles = 0
	l.maxFileName = 0
	l.minDepth = 0
	l.maxDepth = 0
}

// GlobalSize returns the number of records across all participants.
func (l *List) GlobalSize() uint64 { return l.totalFiles }

// LocalSize returns the number of records in this participant's shard.
func (l *List) LocalSize() uint64 { return uint64(len(l.recs)) }

// UserCount returns the number of entries in the user table.
func (l *List) UserCount() uint64 { return l.users.Count() }

// GroupCount returns the number of entries in the group table.
func (l *List) GroupCount() uint64 { return l.groups.Count() }

// FileMaxName returns the global maximum of len(path)+1 over all records.
// Valid after the summary has run; [WalkPath] and [ReadCache] both leave
// it current.
func (l *List) FileMaxName() uint64 { return l.maxFileName }

// UserMaxName returns the stride of the user table.
func (l *List) UserMaxName() uint64 { return l.users.Stride() }

// GroupMaxName returns the stride of the group table.
func (l *List) GroupMaxName() uint64 { return l.groups.Stride() }

// MinDepth returns the global minimum record depth.
func (l *List) MinDepth() int { return l.minDepth }

// MaxDepth returns the global maximum record depth.
func (l *List) MaxDepth() int { return l.maxDepth }

// Users returns the replicated user name table.
func (l *List) Users() *NameTable { return l.users }

// Groups returns the replicated group name table.
func (l *List) Groups() *NameTable { return l.groups }

// FileName returns the path of local record i.
func (l *List) FileName(i int) (string, error) {
	rec, err := l.record(i)
	if err != nil {
		return "", err
	}
	return rec.Path, nil
}

// FileDepth returns the depth of local record i.
func (l *List) FileDepth(i int) (int, error) {
	rec, err := l.record(i)
	if err != nil {
		return 0, err
	}
	return rec.Depth, nil
}

// FileType returns the type of local record i.
func (l *List) FileType(i int) (FileType, error) {
	rec, err := l.record(i)
	if err != nil {
		return TypeUnknown, err
	}
	return rec.Type, nil
}

// detailField resolves record i for a stat-detail accessor, reporting
// ErrIndexRange before ErrNoDetail so a bad index is never masked.
func (l *List) detailField(i int) (*FileRecord, error) {
	rec, err := l.record(i)
	if err != nil {
		return nil, err
	}
	if !l.detail {
		return nil, ErrNoDetail
	}
	return rec, nil
}

// FileMode returns the POSIX mode bits of local record i.
func (l *List) FileMode(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.Mode, nil
}

// FileUID returns the owning user id of local record i.
func (l *List) FileUID(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.UID, nil
}

// FileGID returns the owning group id of local record i.
func (l *List) FileGID(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.GID, nil
}

// FileAtime returns the access time of local record i in seconds.
func (l *List) FileAtime(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.Atime, nil
}

// FileMtime returns the modification time of local record i in seconds.
func (l *List) FileMtime(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.Mtime, nil
}

// FileCtime returns the change time of local record i in seconds.
func (l *List) FileCtime(i int) (uint32, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.Ctime, nil
}

// FileSize returns the size in bytes of local record i.
func (l *List) FileSize(i int) (uint64, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return 0, err
	}
	return rec.Size, nil
}

// FileUsername returns the user name owning local record i, fabricating a
// decimal name for ids absent from the user table.
func (l *List) FileUsername(i int) (string, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return "", err
	}
	return l.users.NameOf(rec.UID)
}

// FileGroupname returns the group name owning local record i, fabricating
// a decimal name for ids absent from the group table.
func (l *List) FileGroupname(i int) (string, error) {
	rec, err := l.detailField(i)
	if err != nil {
		return "", err
	}
	return l.groups.NameOf(rec.GID)
}
