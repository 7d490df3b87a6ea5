package flist

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/fruitsalade/treewalk/internal/logging"
	"github.com/fruitsalade/treewalk/pkg/comm"
	"github.com/fruitsalade/treewalk/pkg/retry"
)

// Paths of the OS name databases enumerated for stat-mode walks.
const (
	passwdFile = "/etc/passwd"
	groupFile  = "/etc/group"
)

const nameAlign = 4

// NameTable is a replicated bidirectional map between names and numeric
// ids, backed by the packed byte array it is serialized from. Identical on
// every participant. Written once during setup; the only later mutation is
// the deterministic fabrication of decimal names for unknown ids.
type NameTable struct {
	byName map[string]uint32
	byID   map[uint32]string

	packed []byte
	count  uint64
	stride uint64
}

func newNameTable() *NameTable {
	return &NameTable{
		byName: make(map[string]uint32),
		byID:   make(map[uint32]string),
	}
}

// Count returns the number of packed entries.
func (t *NameTable) Count() uint64 { return t.count }

// Stride returns the byte footprint reserved per name, a multiple of 4.
func (t *NameTable) Stride() uint64 { return t.stride }

// IDOf returns the id stored for name.
func (t *NameTable) IDOf(name string) (uint32, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// NameOf returns the name stored for id. Unknown ids get the decimal
// rendering of id fabricated, stored, and returned, so repeated lookups
// are stable; the rendering must fit in stride-1 bytes.
func (t *NameTable) NameOf(id uint32) (string, error) {
	if name, ok := t.byID[id]; ok {
		return name, nil
	}
	name := strconv.FormatUint(uint64(id), 10)
	if t.stride == 0 || uint64(len(name)) > t.stride-1 {
		return "", fmt.Errorf("%w: id %d needs %d bytes, stride is %d",
			ErrIDRenderOverflow, id, len(name)+1, t.stride)
	}
	t.byID[id] = name
	return name, nil
}

// nameEntry is one enumerated name/id pair before packing.
type nameEntry struct {
	name string
	id   uint32
}

// pack serializes entries into the fixed-stride external layout
// (name[stride] ; id:u32) and records count, stride, and the packed array.
func (t *NameTable) pack(entries []nameEntry) {
	var longest uint64
	for _, e := range entries {
		if n := uint64(len(e.name)) + 1; n > longest {
			longest = n
		}
	}
	stride := roundUp(longest, nameAlign)

	extent := stride + 4
	buf := make([]byte, uint64(len(entries))*extent)
	off := uint64(0)
	for _, e := range entries {
		copy(buf[off:off+stride], e.name)
		binary.BigEndian.PutUint32(buf[off+stride:], e.id)
		off += extent
	}

	t.packed = buf
	t.count = uint64(len(entries))
	t.stride = stride
	t.rebuild()
}

// setPacked installs a packed array received from a broadcast or a cache
// file and rebuilds the maps.
func (t *NameTable) setPacked(packed []byte, count, stride uint64) {
	t.packed = packed
	t.count = count
	t.stride = stride
	t.rebuild()
}

// rebuild derives the bidirectional maps from the packed array.
func (t *NameTable) rebuild() {
	t.byName = make(map[string]uint32, t.count)
	t.byID = make(map[uint32]string, t.count)

	extent := t.stride + 4
	off := uint64(0)
	for i := uint64(0); i < t.count; i++ {
		name := cstring(t.packed[off : off+t.stride])
		id := binary.BigEndian.Uint32(t.packed[off+t.stride:])
		t.byName[name] = id
		t.byID[id] = name
		off += extent
	}
}

// transient reports the error kinds worth retrying during name-db
// enumeration: I/O errors and interrupted system calls.
func transient(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, syscall.EINTR)
}

// enumerateNameDB parses one colon-separated name database. Both passwd
// and group files carry the name in field 0 and the numeric id in field 2.
// Partial results are returned alongside the error so an exhausted retry
// keeps what was collected.
func enumerateNameDB(path string) ([]nameEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []nameEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		id, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		entries = append(entries, nameEntry{name: fields[0], id: uint32(id)})
	}
	return entries, sc.Err()
}

// loadNameTable populates one table: exactly one participant enumerates
// the database, the packed result is broadcast, and every participant
// rebuilds the maps. Transient enumeration errors are retried up to 3
// attempts; on exhaustion the table holds whatever was collected.
func loadNameTable(c *comm.Comm, dbPath string) *NameTable {
	t := newNameTable()

	if c.Rank() == 0 {
		var entries []nameEntry
		err := retry.Do(context.Background(), retry.DefaultConfig(), func() error {
			es, err := enumerateNameDB(dbPath)
			entries = es
			if err != nil && transient(err) {
				return retry.Retryable(err)
			}
			return err
		})
		if err != nil {
			logging.Warn("name database enumeration failed",
				zap.String("db", dbPath),
				zap.Int("collected", len(entries)),
				zap.Error(err))
		}
		t.pack(entries)
	}

	meta := []uint64{t.count, t.stride}
	c.BcastU64s(meta, 0)
	packed := c.BcastBytes(t.packed, 0)
	if c.Rank() != 0 {
		t.setPacked(packed, meta[0], meta[1])
	}
	return t
}

func loadUsers(c *comm.Comm) *NameTable  { return loadNameTable(c, passwdFile) }
func loadGroups(c *comm.Comm) *NameTable { return loadNameTable(c, groupFile) }
