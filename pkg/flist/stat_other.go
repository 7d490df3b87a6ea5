//go:build !linux

package flist

import (
	"io/fs"
	"os"
)

// lstatFile stats path without following symlinks. Platforms without the
// Linux stat surface fill what the portable API exposes; atime and ctime
// fall back to mtime.
func lstatFile(path string) (statData, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return statData{}, err
	}
	mtime := uint32(info.ModTime().Unix())
	return statData{
		Mode:  posixMode(info.Mode()),
		Atime: mtime,
		Mtime: mtime,
		Ctime: mtime,
		Size:  uint64(info.Size()),
	}, nil
}

func posixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	switch {
	case m.IsDir():
		mode |= modeDir
	case m&fs.ModeSymlink != 0:
		mode |= modeSymlink
	case m.IsRegular():
		mode |= modeRegular
	}
	return mode
}
