//go:build linux

package flist

import "golang.org/x/sys/unix"

// lstatFile stats path without following symlinks.
func lstatFile(path string) (statData, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return statData{}, err
	}
	return statData{
		Mode:  uint32(st.Mode),
		UID:   st.Uid,
		GID:   st.Gid,
		Atime: uint32(st.Atim.Sec),
		Mtime: uint32(st.Mtim.Sec),
		Ctime: uint32(st.Ctim.Sec),
		Size:  uint64(st.Size),
	}, nil
}
