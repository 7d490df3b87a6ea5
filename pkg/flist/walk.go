package flist

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treewalk/internal/logging"
	"github.com/fruitsalade/treewalk/internal/metrics"
	"github.com/fruitsalade/treewalk/pkg/comm"
	"github.com/fruitsalade/treewalk/pkg/queue"
)

// maxPathLen bounds the scratch buffer used to assemble paths, including
// the terminating NUL. Matches the queue's task bound.
const maxPathLen = queue.MaxTaskLen

// walker carries the state of one participant's walk: the list being
// populated, the walk root, and the bounded path scratch buffer. It lives
// for the duration of a single WalkPath call and is captured by the queue
// callbacks, so no two walks can alias it.
type walker struct {
	list    *List
	root    string
	scratch []byte
}

// WalkPath traverses the tree rooted at root in parallel across all
// participants of c and returns the resulting distributed list.
//
// With useStat false the walk runs in readdir mode: records carry only
// paths and types, taken from directory-entry type fields where usable.
// With useStat true every path is individually stat'd, and the user and
// group name tables are populated before traversal begins.
//
// Per-entry failures are logged and skipped; the walk itself always
// produces a list. Collective.
func WalkPath(c *comm.Comm, root string, useStat bool) *List {
	start := time.Now()
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	l := newList(c, useStat)
	l.WalkStart = uint64(start.Unix())

	// Name tables come first so traversal can resolve ownership later.
	if useStat {
		l.users = loadUsers(c)
		l.groups = loadGroups(c)
	}

	w := &walker{
		list:    l,
		root:    root,
		scratch: make([]byte, 0, maxPathLen),
	}
	if useStat {
		queue.Run(c, w.statCreate, w.statProcess)
	} else {
		queue.Run(c, w.readdirCreate, w.readdirProcess)
	}

	l.WalkEnd = uint64(time.Now().Unix())
	l.ComputeSummary()
	metrics.ObserveWalk(time.Since(start))
	return l
}

// joinPath assembles dir + "/" + name in the bounded scratch buffer. It
// reports false when the result plus NUL would not fit.
func (w *walker) joinPath(dir, name string) (string, bool) {
	if len(dir)+1+len(name)+1 > cap(w.scratch) {
		return "", false
	}
	b := w.scratch[:0]
	b = append(b, dir...)
	b = append(b, '/')
	b = append(b, name...)
	return string(b), true
}

func dropTooLong(dir, name string) {
	logging.Warn("path too long, entry dropped",
		zap.String("dir", dir),
		zap.String("name", name),
		zap.Int("limit", maxPathLen))
	metrics.WalkError("path_too_long")
}

// readdirCreate seeds a readdir-mode walk: the seeding participant stats
// the root, records it, and enumerates it in place.
func (w *walker) readdirCreate(h *queue.Handle) {
	if w.list.c.Rank() != 0 {
		return
	}
	if len(w.root)+1 > maxPathLen {
		logging.Warn("walk root exceeds path limit", zap.String("root", w.root))
		metrics.WalkError("path_too_long")
		return
	}
	st, err := lstatFile(w.root)
	if err != nil {
		logging.Warn("cannot stat walk root", zap.String("root", w.root), zap.Error(err))
		metrics.WalkError("metadata")
		return
	}
	w.list.insertStat(w.root, st)
	metrics.RecordDiscovered(TypeOfMode(st.Mode).String())
	if TypeOfMode(st.Mode) == TypeDir {
		w.readdirProcessDir(w.root, h)
	}
}

// readdirProcess handles one dequeued directory in readdir mode.
func (w *walker) readdirProcess(h *queue.Handle) {
	dir, ok := h.Dequeue()
	if !ok {
		return
	}
	w.readdirProcessDir(dir, h)
}

// readdirProcessDir enumerates one directory, recording each entry from
// its directory-entry type field where usable and falling back to a
// single stat call otherwise. Subdirectories are enqueued.
func (w *walker) readdirProcessDir(dir string, h *queue.Handle) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Warn("cannot open directory", zap.String("dir", dir), zap.Error(err))
		metrics.WalkError("dir_open")
		return
	}
	metrics.DirOpened()

	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		path, ok := w.joinPath(dir, name)
		if !ok {
			dropTooLong(dir, name)
			continue
		}

		typ := e.Type()
		switch {
		case typ.IsDir():
			w.list.insertLite(path, TypeDir)
			h.Enqueue(path)
		case typ&fs.ModeSymlink != 0:
			// Symlinks are recorded but never followed, even when they
			// target a directory.
			w.list.insertLite(path, TypeLink)
		case typ.IsRegular():
			w.list.insertLite(path, TypeFile)
		case typ&fs.ModeIrregular != 0:
			// Entry type is not usable; one stat call gets us the mode.
			st, err := lstatFile(path)
			if err != nil {
				logging.Warn("cannot stat entry", zap.String("path", path), zap.Error(err))
				metrics.WalkError("metadata")
				w.list.insertLite(path, TypeUnknown)
			} else {
				w.list.insertStat(path, st)
				if TypeOfMode(st.Mode) == TypeDir {
					h.Enqueue(path)
				}
			}
		default:
			// Pipes, sockets, devices: a real type, just not one the
			// list distinguishes.
			w.list.insertLite(path, TypeUnknown)
		}

		if n := len(w.list.recs); n > 0 {
			metrics.RecordDiscovered(w.list.recs[n-1].Type.String())
		}
	}
}

// statCreate seeds a stat-mode walk with just the root path.
func (w *walker) statCreate(h *queue.Handle) {
	if w.list.c.Rank() != 0 {
		return
	}
	if len(w.root)+1 > maxPathLen {
		logging.Warn("walk root exceeds path limit", zap.String("root", w.root))
		metrics.WalkError("path_too_long")
		return
	}
	h.Enqueue(w.root)
}

// statProcess stats one dequeued path, records it, and enumerates it into
// the queue when it is a directory.
func (w *walker) statProcess(h *queue.Handle) {
	path, ok := h.Dequeue()
	if !ok {
		return
	}
	st, err := lstatFile(path)
	if err != nil {
		logging.Warn("cannot stat path", zap.String("path", path), zap.Error(err))
		metrics.WalkError("metadata")
		return
	}
	w.list.insertStat(path, st)
	metrics.RecordDiscovered(TypeOfMode(st.Mode).String())

	if TypeOfMode(st.Mode) != TypeDir {
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		logging.Warn("cannot open directory", zap.String("dir", path), zap.Error(err))
		metrics.WalkError("dir_open")
		return
	}
	metrics.DirOpened()
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		child, ok := w.joinPath(path, name)
		if !ok {
			dropTooLong(path, name)
			continue
		}
		h.Enqueue(child)
	}
}
