package flist

import (
	"encoding/binary"

	"github.com/fruitsalade/treewalk/pkg/comm"
)

const fileAlign = 8

// roundUp returns the smallest multiple of align that is >= n.
func roundUp(n, align uint64) uint64 {
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}

// cstring returns the bytes of b up to the first NUL.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// fileFrameType builds the element type of a packed file record.
//
// Lite:     path[stride] ; type:u32
// Detailed: path[stride] ; mode,uid,gid,atime,mtime,ctime:u32 ; size:u64
func fileFrameType(detail bool, stride uint64) comm.Datatype {
	path := comm.Bytes(int(stride))
	if !detail {
		return comm.Series(path, comm.U32())
	}
	return comm.Series(path,
		comm.U32(), comm.U32(), comm.U32(),
		comm.U32(), comm.U32(), comm.U32(),
		comm.U64())
}

// nameFrameType builds the element type of a packed name/id pair.
func nameFrameType(stride uint64) comm.Datatype {
	return comm.Series(comm.Bytes(int(stride)), comm.U32())
}

// fileStride computes the global path stride: the longest local
// path length + 1 for the NUL, rounded up to a multiple of 8, maximized
// across all participants. Collective.
func (l *List) fileStride() uint64 {
	var longest uint64
	for i := range l.recs {
		if n := uint64(len(l.recs[i].Path)) + 1; n > longest {
			longest = n
		}
	}
	return l.c.AllreduceU64(roundUp(longest, fileAlign), comm.OpMax)
}

// packRecords serializes the local shard into a contiguous buffer of file
// frames using the globally agreed stride.
func (l *List) packRecords(stride uint64) []byte {
	dt := fileFrameType(l.detail, stride)
	extent := int(dt.Extent())

	buf := make([]byte, len(l.recs)*extent)
	off := 0
	for i := range l.recs {
		rec := &l.recs[i]
		copy(buf[off:off+int(stride)], rec.Path)
		p := off + int(stride)
		if l.detail {
			binary.BigEndian.PutUint32(buf[p:], rec.Mode)
			binary.BigEndian.PutUint32(buf[p+4:], rec.UID)
			binary.BigEndian.PutUint32(buf[p+8:], rec.GID)
			binary.BigEndian.PutUint32(buf[p+12:], rec.Atime)
			binary.BigEndian.PutUint32(buf[p+16:], rec.Mtime)
			binary.BigEndian.PutUint32(buf[p+20:], rec.Ctime)
			binary.BigEndian.PutUint64(buf[p+24:], rec.Size)
		} else {
			binary.BigEndian.PutUint32(buf[p:], uint32(rec.Type))
		}
		off += extent
	}
	return buf
}

// insertPackedLite appends one record decoded from a lite file frame.
func (l *List) insertPackedLite(frame []byte, stride uint64) {
	path := cstring(frame[:stride])
	typ := FileType(binary.BigEndian.Uint32(frame[stride:]))
	l.insertLite(path, typ)
}

// insertPackedDetail appends one record decoded from a detailed file
// frame.
func (l *List) insertPackedDetail(frame []byte, stride uint64) {
	path := cstring(frame[:stride])
	p := stride
	l.insertStat(path, statData{
		Mode:  binary.BigEndian.Uint32(frame[p:]),
		UID:   binary.BigEndian.Uint32(frame[p+4:]),
		GID:   binary.BigEndian.Uint32(frame[p+8:]),
		Atime: binary.BigEndian.Uint32(frame[p+12:]),
		Mtime: binary.BigEndian.Uint32(frame[p+16:]),
		Ctime: binary.BigEndian.Uint32(frame[p+20:]),
		Size:  binary.BigEndian.Uint64(frame[p+24:]),
	})
}
