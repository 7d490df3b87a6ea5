package flist

import "github.com/fruitsalade/treewalk/pkg/comm"

// ComputeSummary refreshes the list's global summary fields: total record
// count, maximum path length (+1 for the NUL), and minimum and maximum
// depth. Collective. When every shard is empty only the total is set and
// the other fields stay at their zero sentinels.
func (l *List) ComputeSummary() {
	l.maxFileName = 0
	l.minDepth = 0
	l.maxDepth = 0

	count := uint64(len(l.recs))
	l.totalFiles = l.c.AllreduceU64(count, comm.OpSum)
	if l.totalFiles == 0 {
		return
	}

	var maxName, maxDepth uint64
	minDepth := int64(-1)
	for i := range l.recs {
		rec := &l.recs[i]
		if n := uint64(len(rec.Path)) + 1; n > maxName {
			maxName = n
		}
		d := int64(rec.Depth)
		if d > int64(maxDepth) {
			maxDepth = uint64(d)
		}
		if minDepth == -1 || d < minDepth {
			minDepth = d
		}
	}

	l.maxFileName = l.c.AllreduceU64(maxName, comm.OpMax)
	globalMax := l.c.AllreduceU64(maxDepth, comm.OpMax)

	// An empty shard contributes the global max so the true minimum wins.
	if count == 0 {
		minDepth = int64(globalMax)
	}
	globalMin := l.c.AllreduceU64(uint64(minDepth), comm.OpMin)

	l.minDepth = int(globalMin)
	l.maxDepth = int(globalMax)
}
