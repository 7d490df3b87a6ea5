package flist

import "errors"

var (
	// ErrIndexRange reports a per-index accessor called with an index
	// outside [0, LocalSize).
	ErrIndexRange = errors.New("flist: index out of range")

	// ErrNoDetail reports a stat-detail accessor called on a list built
	// without stat data.
	ErrNoDetail = errors.New("flist: list has no stat detail")

	// ErrUnsupportedVersion reports a cache file whose version field is
	// neither 2 nor 3.
	ErrUnsupportedVersion = errors.New("flist: unsupported cache version")

	// ErrIDRenderOverflow reports a fabricated name for an unknown id that
	// does not fit the table's stride.
	ErrIDRenderOverflow = errors.New("flist: id does not fit name stride")
)
