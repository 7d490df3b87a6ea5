package flist

import (
	"errors"
	"fmt"
	"time"

	"github.com/fruitsalade/treewalk/internal/metrics"
	"github.com/fruitsalade/treewalk/pkg/comm"
)

// Cache format versions. Version 1 exists in the wild as a name-only list
// and is neither read nor written here.
const (
	cacheVersionLite = 2
	cacheVersionStat = 3
)

// collectiveErr folds a local error across all participants so every rank
// unwinds together: it returns nil everywhere or an error everywhere.
func collectiveErr(c *comm.Comm, err error) error {
	ok := uint64(1)
	if err != nil {
		ok = 0
	}
	if c.AllreduceU64(ok, comm.OpMin) == 1 {
		return nil
	}
	if err == nil {
		err = errors.New("flist: cache i/o failed on another participant")
	}
	return err
}

// WriteCache serializes the list to a single shared cache file.
// Collective. The format version follows the list's detail flag: v2 for
// lite lists, v3 for detailed ones. The file is truncated before writing
// and records land in (participant rank, insertion order) order.
func (l *List) WriteCache(path string) error {
	start := time.Now()
	c := l.c

	stride := l.fileStride()
	buf := l.packRecords(stride)
	count := uint64(len(l.recs))
	offset := c.ExscanU64(count)

	f, err := c.OpenFile(path, comm.WriteOnly)
	if err != nil {
		return fmt.Errorf("flist: open cache %q: %w", path, err)
	}
	defer f.Close()

	if err := collectiveErr(c, f.Truncate(0)); err != nil {
		return fmt.Errorf("flist: truncate cache %q: %w", path, err)
	}

	var header []uint64
	if l.detail {
		header = []uint64{cacheVersionStat, l.WalkStart, l.WalkEnd,
			l.users.Count(), l.users.Stride(),
			l.groups.Count(), l.groups.Stride(),
			l.totalFiles, stride}
	} else {
		header = []uint64{cacheVersionLite, l.WalkStart, l.WalkEnd,
			l.totalFiles, stride}
	}

	var disp int64
	var werr error
	if c.Rank() == 0 {
		werr = f.WriteU64s(header, disp)
	}
	disp += int64(len(header)) * 8
	c.Barrier()
	if err := collectiveErr(c, werr); err != nil {
		return fmt.Errorf("flist: write cache header: %w", err)
	}
	written := int64(len(header)) * 8

	// The replicated name tables are written by one participant; every
	// participant advances the displacement by the same amount.
	if l.detail {
		for _, t := range []*NameTable{l.users, l.groups} {
			if t.Count() == 0 || t.Stride() == 0 {
				continue
			}
			var terr error
			if c.Rank() == 0 {
				terr = f.WriteAt(t.packed, disp)
			}
			disp += int64(t.Count()) * nameFrameType(t.Stride()).Extent()
			if err := collectiveErr(c, terr); err != nil {
				return fmt.Errorf("flist: write name table: %w", err)
			}
			written += int64(len(t.packed))
		}
	}

	if l.totalFiles > 0 && stride > 0 {
		dt := fileFrameType(l.detail, stride)
		ferr := f.WriteAtAll(buf, disp+int64(offset)*dt.Extent())
		if err := collectiveErr(c, ferr); err != nil {
			return fmt.Errorf("flist: write cache records: %w", err)
		}
		written += int64(len(buf))
	}

	metrics.CacheWritten(written)
	metrics.ObserveCacheWrite(time.Since(start))
	return nil
}

// ReadCache reads a cache file into a new distributed list, partitioning
// the records evenly across participants. Collective. On any error the
// returned list is nil.
func ReadCache(c *comm.Comm, path string) (*List, error) {
	start := time.Now()

	f, err := c.OpenFile(path, comm.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("flist: open cache %q: %w", path, err)
	}
	defer f.Close()

	// The version is read first and separately; the remaining header is 4
	// or 8 u64s depending on it.
	version := []uint64{0}
	if c.Rank() == 0 {
		if rerr := f.ReadU64s(version, 0); rerr != nil {
			version[0] = 0
		}
	}
	c.BcastU64s(version, 0)
	disp := int64(8)

	var l *List
	switch version[0] {
	case cacheVersionLite:
		l, err = readCacheLite(c, f, disp)
	case cacheVersionStat:
		l, err = readCacheStat(c, f, disp)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version[0])
	}
	if err != nil {
		return nil, err
	}

	l.ComputeSummary()
	metrics.ObserveCacheRead(time.Since(start))
	return l, nil
}

// partition computes this participant's record count for an even split of
// all records: floor(N/R) plus one for the first N mod R ranks.
func partition(c *comm.Comm, all uint64) uint64 {
	ranks := uint64(c.Size())
	count := all / ranks
	if uint64(c.Rank()) < all%ranks {
		count++
	}
	return count
}

func readCacheLite(c *comm.Comm, f *comm.File, disp int64) (*List, error) {
	l := newList(c, false)

	header := make([]uint64, 4)
	var herr error
	if c.Rank() == 0 {
		herr = f.ReadU64s(header, disp)
	}
	c.BcastU64s(header, 0)
	disp += int64(len(header)) * 8
	if err := collectiveErr(c, herr); err != nil {
		return nil, fmt.Errorf("flist: read cache header: %w", err)
	}

	l.WalkStart = header[0]
	l.WalkEnd = header[1]
	all := header[2]
	stride := header[3]

	count := partition(c, all)
	offset := c.ExscanU64(count)

	if all > 0 && stride > 0 {
		dt := fileFrameType(false, stride)
		extent := uint64(dt.Extent())
		buf := make([]byte, count*extent)
		rerr := f.ReadAtAll(buf, disp+int64(offset)*dt.Extent())
		if err := collectiveErr(c, rerr); err != nil {
			return nil, fmt.Errorf("flist: read cache records: %w", err)
		}
		for i := uint64(0); i < count; i++ {
			l.insertPackedLite(buf[i*extent:(i+1)*extent], stride)
		}
		metrics.CacheRead(int64(len(buf)))
	}
	return l, nil
}

func readCacheStat(c *comm.Comm, f *comm.File, disp int64) (*List, error) {
	l := newList(c, true)

	header := make([]uint64, 8)
	var herr error
	if c.Rank() == 0 {
		herr = f.ReadU64s(header, disp)
	}
	c.BcastU64s(header, 0)
	disp += int64(len(header)) * 8
	if err := collectiveErr(c, herr); err != nil {
		return nil, fmt.Errorf("flist: read cache header: %w", err)
	}

	l.WalkStart = header[0]
	l.WalkEnd = header[1]

	// The replicated name tables are read by one participant and
	// broadcast.
	for i, t := range []*NameTable{l.users, l.groups} {
		tblCount := header[2+2*i]
		tblStride := header[3+2*i]
		if tblCount == 0 || tblStride == 0 {
			continue
		}
		extent := nameFrameType(tblStride).Extent()
		packed := make([]byte, int64(tblCount)*extent)
		var terr error
		if c.Rank() == 0 {
			terr = f.ReadAt(packed, disp)
		}
		packed = c.BcastBytes(packed, 0)
		disp += int64(tblCount) * extent
		if err := collectiveErr(c, terr); err != nil {
			return nil, fmt.Errorf("flist: read name table: %w", err)
		}
		t.setPacked(packed, tblCount, tblStride)
	}

	all := header[6]
	stride := header[7]

	count := partition(c, all)
	offset := c.ExscanU64(count)

	if all > 0 && stride > 0 {
		dt := fileFrameType(true, stride)
		extent := uint64(dt.Extent())
		buf := make([]byte, count*extent)
		rerr := f.ReadAtAll(buf, disp+int64(offset)*dt.Extent())
		if err := collectiveErr(c, rerr); err != nil {
			return nil, fmt.Errorf("flist: read cache records: %w", err)
		}
		for i := uint64(0); i < count; i++ {
			l.insertPackedDetail(buf[i*extent:(i+1)*extent], stride)
		}
		metrics.CacheRead(int64(len(buf)))
	}
	return l, nil
}
