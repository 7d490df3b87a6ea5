package flist

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fruitsalade/treewalk/pkg/comm"
)

// buildTinyTree creates root containing file "a" (100 bytes) and
// directory "b" with file "b/c".
func buildTinyTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b", "c"), []byte("c"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

// gatherRecords walks on size participants and returns every record of
// the union list plus the per-rank shard sizes.
func gatherRecords(t *testing.T, size int, root string, useStat bool) ([]FileRecord, []uint64) {
	t.Helper()
	var mu sync.Mutex
	var all []FileRecord
	sizes := make([]uint64, size)

	err := comm.Run(size, func(c *comm.Comm) error {
		l := WalkPath(c, root, useStat)
		mu.Lock()
		all = append(all, l.recs...)
		sizes[c.Rank()] = l.LocalSize()
		mu.Unlock()

		if got := l.GlobalSize(); got != c.AllreduceU64(l.LocalSize(), comm.OpSum) {
			t.Errorf("rank %d: global size %d disagrees with shard sum", c.Rank(), got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return all, sizes
}

func recordByPath(recs []FileRecord, path string) *FileRecord {
	for i := range recs {
		if recs[i].Path == path {
			return &recs[i]
		}
	}
	return nil
}

func TestWalkStatTinyTree(t *testing.T) {
	root := buildTinyTree(t)
	recs, _ := gatherRecords(t, 2, root, true)

	if len(recs) != 4 {
		t.Fatalf("walked %d records, want 4: %+v", len(recs), recs)
	}

	rootDepth := strings.Count(root, "/")
	wantDepths := map[int]int{rootDepth: 1, rootDepth + 1: 2, rootDepth + 2: 1}
	gotDepths := make(map[int]int)
	for _, r := range recs {
		gotDepths[r.Depth]++
		if r.Depth != strings.Count(r.Path, "/") {
			t.Errorf("%s: depth %d != separator count", r.Path, r.Depth)
		}
		if TypeOfMode(r.Mode) != r.Type {
			t.Errorf("%s: type %v disagrees with mode %o", r.Path, r.Type, r.Mode)
		}
	}
	for d, n := range wantDepths {
		if gotDepths[d] != n {
			t.Errorf("depth %d: %d records, want %d", d, gotDepths[d], n)
		}
	}

	a := recordByPath(recs, filepath.Join(root, "a"))
	if a == nil {
		t.Fatal("file a missing")
	}
	if a.Type != TypeFile || a.Size != 100 {
		t.Errorf("a: type=%v size=%d", a.Type, a.Size)
	}
	b := recordByPath(recs, filepath.Join(root, "b"))
	if b == nil || b.Type != TypeDir {
		t.Errorf("b missing or not a dir: %+v", b)
	}
}

func TestWalkStatHaveDetail(t *testing.T) {
	root := buildTinyTree(t)
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, true)
		if !l.HaveDetail() {
			t.Errorf("rank %d: stat walk lost detail", c.Rank())
		}
		if l.WalkStart == 0 || l.WalkEnd < l.WalkStart {
			t.Errorf("rank %d: walk timestamps %d..%d", c.Rank(), l.WalkStart, l.WalkEnd)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWalkReaddirMode(t *testing.T) {
	root := buildTinyTree(t)
	recs, _ := gatherRecords(t, 2, root, false)

	if len(recs) != 4 {
		t.Fatalf("walked %d records, want 4", len(recs))
	}
	wantTypes := map[string]FileType{
		root:                          TypeDir,
		filepath.Join(root, "a"):      TypeFile,
		filepath.Join(root, "b"):      TypeDir,
		filepath.Join(root, "b", "c"): TypeFile,
	}
	for path, want := range wantTypes {
		r := recordByPath(recs, path)
		if r == nil {
			t.Errorf("%s missing", path)
			continue
		}
		if r.Type != want {
			t.Errorf("%s: type = %v, want %v", path, r.Type, want)
		}
	}

	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, false)
		if l.HaveDetail() {
			t.Errorf("rank %d: readdir walk claims detail", c.Rank())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWalkEmptyDir(t *testing.T) {
	root := t.TempDir()
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, root, true)
		if l.GlobalSize() != 1 {
			t.Errorf("rank %d: total = %d, want 1", c.Rank(), l.GlobalSize())
		}
		d := strings.Count(root, "/")
		if l.MinDepth() != d || l.MaxDepth() != d {
			t.Errorf("rank %d: depths %d..%d, want %d", c.Rank(), l.MinDepth(), l.MaxDepth(), d)
		}
		if l.LocalSize() == 1 {
			typ, err := l.FileType(0)
			if err != nil || typ != TypeDir {
				t.Errorf("root record type = %v (%v)", typ, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWalkSymlinkNotFollowed(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "inside"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	for _, useStat := range []bool{false, true} {
		recs, _ := gatherRecords(t, 2, root, useStat)

		// root, target, target/inside, link: the link's contents are
		// never traversed.
		if len(recs) != 4 {
			t.Fatalf("useStat=%v: walked %d records, want 4: %+v", useStat, len(recs), recs)
		}
		if r := recordByPath(recs, filepath.Join(link, "inside")); r != nil {
			t.Errorf("useStat=%v: traversed through symlink: %+v", useStat, r)
		}
		r := recordByPath(recs, link)
		if r == nil || r.Type != TypeLink {
			t.Errorf("useStat=%v: link record = %+v, want link type", useStat, r)
		}
	}
}

func TestWalkSkipsDotEntries(t *testing.T) {
	root := buildTinyTree(t)
	recs, _ := gatherRecords(t, 2, root, false)
	for _, r := range recs {
		base := filepath.Base(r.Path)
		if base == "." || base == ".." {
			t.Errorf("dot entry emitted: %q", r.Path)
		}
	}
}

func TestWalkMissingRoot(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	err := comm.Run(2, func(c *comm.Comm) error {
		l := WalkPath(c, missing, true)
		if l == nil {
			t.Error("walk returned nil list")
			return nil
		}
		if l.GlobalSize() != 0 {
			t.Errorf("total = %d, want 0", l.GlobalSize())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
