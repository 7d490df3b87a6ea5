package comm

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// Mode selects how a shared file is opened.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
)

// File is a shared file opened collectively by every participant. Each
// participant holds its own descriptor; reads and writes at explicit
// offsets never touch a shared file position.
type File struct {
	c *Comm
	f *os.File
}

// ErrRemoteOpen reports that the local open succeeded but another rank's
// failed, so the collective open was abandoned.
var ErrRemoteOpen = errors.New("comm: open failed on another rank")

// OpenFile opens path on every participant. It is collective: the open
// either succeeds on all ranks or fails on all ranks.
func (c *Comm) OpenFile(path string, mode Mode) (*File, error) {
	var f *os.File
	var err error
	switch mode {
	case ReadOnly:
		f, err = os.Open(path)
	default:
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	}

	ok := uint64(1)
	if err != nil {
		ok = 0
	}
	if c.AllreduceU64(ok, OpMin) == 0 {
		if f != nil {
			f.Close()
		}
		if err == nil {
			err = ErrRemoteOpen
		}
		return nil, err
	}
	return &File{c: c, f: f}, nil
}

// Truncate resizes the file. Collective; one rank performs the truncation
// and every rank synchronizes on it.
func (fl *File) Truncate(size int64) error {
	var err error
	if fl.c.Rank() == 0 {
		err = fl.f.Truncate(size)
	}
	fl.c.Barrier()
	return err
}

// ReadAt is an independent read of len(b) bytes at byte displacement off.
func (fl *File) ReadAt(b []byte, off int64) error {
	n, err := fl.f.ReadAt(b, off)
	if err == io.EOF && n == len(b) {
		err = nil
	}
	return err
}

// WriteAt is an independent write of b at byte displacement off.
func (fl *File) WriteAt(b []byte, off int64) error {
	_, err := fl.f.WriteAt(b, off)
	return err
}

// ReadAtAll is a collective read: every participant reads its own region
// and all synchronize before returning.
func (fl *File) ReadAtAll(b []byte, off int64) error {
	var err error
	if len(b) > 0 {
		err = fl.ReadAt(b, off)
	}
	fl.c.Barrier()
	return err
}

// WriteAtAll is a collective write: every participant writes its own
// region and all synchronize before returning.
func (fl *File) WriteAtAll(b []byte, off int64) error {
	var err error
	if len(b) > 0 {
		err = fl.WriteAt(b, off)
	}
	fl.c.Barrier()
	return err
}

// ReadU64s is an independent typed read of len(buf) big-endian u64 values
// at byte displacement off.
func (fl *File) ReadU64s(buf []uint64, off int64) error {
	raw := make([]byte, 8*len(buf))
	if err := fl.ReadAt(raw, off); err != nil {
		return err
	}
	for i := range buf {
		buf[i] = binary.BigEndian.Uint64(raw[8*i:])
	}
	return nil
}

// WriteU64s is an independent typed write of vals as big-endian u64 values
// at byte displacement off.
func (fl *File) WriteU64s(vals []uint64, off int64) error {
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint64(raw[8*i:], v)
	}
	return fl.WriteAt(raw, off)
}

// Close closes the file on every participant. Collective.
func (fl *File) Close() error {
	err := fl.f.Close()
	fl.c.Barrier()
	return err
}
