package flist

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fruitsalade/treewalk/pkg/comm"
)

func TestCacheV2RoundTrip(t *testing.T) {
	root := buildTinyTree(t)
	cache := filepath.Join(t.TempDir(), "cache.bin")

	// Readdir-mode walk on 2 participants, then write.
	var wrote []FileRecord
	var mu sync.Mutex
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, false)
		mu.Lock()
		wrote = append(wrote, l.recs...)
		mu.Unlock()
		return l.WriteCache(cache)
	})
	if err != nil {
		t.Fatal(err)
	}

	// Header layout: five big-endian u64s, then lite frames.
	raw, err := os.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	if v := binary.BigEndian.Uint64(raw[0:]); v != 2 {
		t.Fatalf("version = %d, want 2", v)
	}
	total := binary.BigEndian.Uint64(raw[24:])
	stride := binary.BigEndian.Uint64(raw[32:])
	if total != 4 {
		t.Errorf("total_files = %d, want 4", total)
	}
	if stride%8 != 0 {
		t.Errorf("path_stride %d not a multiple of 8", stride)
	}
	for _, r := range wrote {
		if uint64(len(r.Path)) >= stride {
			t.Errorf("path %q does not fit strictly inside stride %d", r.Path, stride)
		}
	}
	wantLen := 40 + total*(stride+4)
	if uint64(len(raw)) != wantLen {
		t.Errorf("file length = %d, want %d", len(raw), wantLen)
	}

	// Read on 3 participants: shard sizes differ by at most 1 and the
	// union matches what was written.
	var read []FileRecord
	sizes := make([]uint64, 3)
	err = comm.Run(3, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if err != nil {
			return err
		}
		if l.HaveDetail() {
			t.Errorf("rank %d: v2 list claims detail", c.Rank())
		}
		if l.GlobalSize() != 4 {
			t.Errorf("rank %d: total = %d, want 4", c.Rank(), l.GlobalSize())
		}
		mu.Lock()
		read = append(read, l.recs...)
		sizes[c.Rank()] = l.LocalSize()
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for r, n := range sizes {
		if n != 1 && n != 2 {
			t.Errorf("rank %d shard size = %d, want 1 or 2", r, n)
		}
	}
	if sizes[0]+sizes[1]+sizes[2] != 4 {
		t.Errorf("shard sizes %v do not sum to 4", sizes)
	}

	key := func(r FileRecord) string { return r.Path + "|" + r.Type.String() }
	wroteSet := make(map[string]int)
	for _, r := range wrote {
		wroteSet[key(r)]++
	}
	for _, r := range read {
		wroteSet[key(r)]--
	}
	for k, n := range wroteSet {
		if n != 0 {
			t.Errorf("record multiset mismatch at %s (%+d)", k, n)
		}
	}
}

func TestCacheV3RoundTrip(t *testing.T) {
	root := buildTinyTree(t)
	cache := filepath.Join(t.TempDir(), "cache.bin")

	var mu sync.Mutex
	var wrote []FileRecord
	var wroteUsers, wroteGroups []byte
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, true)
		mu.Lock()
		wrote = append(wrote, l.recs...)
		if c.Rank() == 0 {
			wroteUsers = l.users.packed
			wroteGroups = l.groups.packed
		}
		mu.Unlock()
		return l.WriteCache(cache)
	})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	if v := binary.BigEndian.Uint64(raw[0:]); v != 3 {
		t.Fatalf("version = %d, want 3", v)
	}
	if s := binary.BigEndian.Uint64(raw[32:]); s%4 != 0 {
		t.Errorf("users_stride %d not a multiple of 4", s)
	}
	if s := binary.BigEndian.Uint64(raw[48:]); s%4 != 0 {
		t.Errorf("groups_stride %d not a multiple of 4", s)
	}
	if n := binary.BigEndian.Uint64(raw[56:]); n != 4 {
		t.Errorf("total_files = %d, want 4", n)
	}

	var read []FileRecord
	err = comm.Run(3, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if err != nil {
			return err
		}
		if !l.HaveDetail() {
			t.Errorf("rank %d: v3 list lost detail", c.Rank())
		}
		mu.Lock()
		read = append(read, l.recs...)
		mu.Unlock()

		// Name tables are replicated and identical to the writer's.
		if string(l.users.packed) != string(wroteUsers) {
			t.Errorf("rank %d: user table differs after round trip", c.Rank())
		}
		if string(l.groups.packed) != string(wroteGroups) {
			t.Errorf("rank %d: group table differs after round trip", c.Rank())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	wroteSet := make(map[FileRecord]int)
	for _, r := range wrote {
		wroteSet[r]++
	}
	for _, r := range read {
		wroteSet[r]--
	}
	for k, n := range wroteSet {
		if n != 0 {
			t.Errorf("record multiset mismatch at %+v (%+d)", k, n)
		}
	}
}

func TestCacheVersionMismatch(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "bogus.bin")
	raw := make([]byte, 40)
	binary.BigEndian.PutUint64(raw, 7)
	if err := os.WriteFile(cache, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	err := comm.Run(2, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("rank %d: err = %v, want ErrUnsupportedVersion", c.Rank(), err)
		}
		if l != nil {
			t.Errorf("rank %d: list not nil on failure", c.Rank())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCacheOpenFailed(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.bin")
	err := comm.Run(2, func(c *comm.Comm) error {
		l, err := ReadCache(c, missing)
		if err == nil {
			t.Errorf("rank %d: expected open error", c.Rank())
		}
		if l != nil {
			t.Errorf("rank %d: list not nil on failure", c.Rank())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCacheLongPathRoundTrip(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "long.bin")
	long := "/" + strings.Repeat("x", 100) // len 101, stride 104

	err := comm.Run(1, func(c *comm.Comm) error {
		l := newList(c, false)
		l.insertLite(long, TypeFile)
		l.ComputeSummary()
		return l.WriteCache(cache)
	})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	stride := binary.BigEndian.Uint64(raw[32:])
	if stride != 104 {
		t.Fatalf("stride = %d, want 104", stride)
	}
	if uint64(len(long)) >= stride {
		t.Fatal("path does not fit strictly inside stride")
	}

	err = comm.Run(2, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if err != nil {
			return err
		}
		if l.LocalSize() == 1 {
			got, err := l.FileName(0)
			if err != nil || got != long {
				t.Errorf("round-tripped path = %q (%v)", got, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCacheUnknownUIDFabrication(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "uid.bin")

	err := comm.Run(1, func(c *comm.Comm) error {
		l := newList(c, true)
		l.users.pack([]nameEntry{{"root", 0}})
		l.groups.pack([]nameEntry{{"root", 0}})
		l.insertStat("/t/orphan", statData{
			Mode: 0o100644, UID: 4242, GID: 0,
			Atime: 1, Mtime: 2, Ctime: 3, Size: 9,
		})
		l.ComputeSummary()
		return l.WriteCache(cache)
	})
	if err != nil {
		t.Fatal(err)
	}

	err = comm.Run(2, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if err != nil {
			return err
		}
		if l.LocalSize() != 1 {
			return nil // the other rank owns the record
		}
		name, err := l.FileUsername(0)
		if err != nil {
			t.Errorf("rank %d: %v", c.Rank(), err)
			return nil
		}
		if name != "4242" {
			t.Errorf("rank %d: username = %q, want 4242", c.Rank(), name)
		}
		again, err := l.FileUsername(0)
		if err != nil || again != name {
			t.Errorf("rank %d: second lookup = %q (%v)", c.Rank(), again, err)
		}
		group, err := l.FileGroupname(0)
		if err != nil || group != "root" {
			t.Errorf("rank %d: groupname = %q (%v)", c.Rank(), group, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCacheTimestampsPersist(t *testing.T) {
	root := t.TempDir()
	cache := filepath.Join(t.TempDir(), "ts.bin")

	var wantStart, wantEnd uint64
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, false)
		if c.Rank() == 0 {
			wantStart, wantEnd = l.WalkStart, l.WalkEnd
		}
		return l.WriteCache(cache)
	})
	if err != nil {
		t.Fatal(err)
	}
	if wantStart == 0 {
		t.Fatal("walk did not record a start timestamp")
	}

	err = comm.Run(2, func(c *comm.Comm) error {
		l, err := ReadCache(c, cache)
		if err != nil {
			return err
		}
		if l.WalkStart != wantStart || l.WalkEnd != wantEnd {
			t.Errorf("rank %d: timestamps %d..%d, want %d..%d",
				c.Rank(), l.WalkStart, l.WalkEnd, wantStart, wantEnd)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
