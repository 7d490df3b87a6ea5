// Package comm provides the collective substrate for a fixed-size group of
// participants.
//
// A job is launched with [Run], which hands every participant a *Comm
// carrying its rank. All coordination happens through collective
// operations: broadcast, gather, all-reduce, exclusive prefix-sum scan,
// barrier, and typed shared-file I/O. Every participant must enter each
// collective in the same order; a participant that never arrives deadlocks
// the job. There is no cancellation or recovery protocol.
//
// On-disk integers use a portable big-endian fixed-width representation,
// so cache files are host-endianness-independent. Displacement arithmetic
// is done with [Datatype] extents.
package comm

import (
	"errors"
	"fmt"
	"sync"
)

// Op selects the reduction applied by Allreduce.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
)

// Group is the shared state of one parallel job.
type Group struct {
	mu      sync.Mutex
	cond    *sync.Cond
	size    int
	arrived int
	gen     uint64
	inputs  []interface{}
	result  interface{}
}

func newGroup(size int) *Group {
	g := &Group{
		size:   size,
		inputs: make([]interface{}, size),
	}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Comm is one participant's endpoint into the group.
type Comm struct {
	g    *Group
	rank int
}

// Run launches a parallel job of the given size. fn runs once per
// participant, each on its own goroutine, and Run returns once every
// participant has returned. The joined errors of all participants are
// returned.
func Run(size int, fn func(c *Comm) error) error {
	if size < 1 {
		return fmt.Errorf("comm: group size must be at least 1, got %d", size)
	}

	g := newGroup(size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = fn(&Comm{g: g, rank: rank})
		}(r)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Rank returns this participant's rank in [0, Size).
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of participants in the job.
func (c *Comm) Size() int { return c.g.size }

// gather runs one collective step: every rank contributes in, the last
// arrival computes reduce over the inputs in rank order, and every rank
// returns the shared result. The result must be treated as read-only.
func (c *Comm) gather(in interface{}, reduce func(inputs []interface{}) interface{}) interface{} {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()

	gen := g.gen
	g.inputs[c.rank] = in
	g.arrived++
	if g.arrived == g.size {
		g.result = reduce(g.inputs)
		g.arrived = 0
		g.gen++
		g.cond.Broadcast()
	} else {
		for g.gen == gen {
			g.cond.Wait()
		}
	}
	return g.result
}

// Barrier blocks until every participant has entered it.
func (c *Comm) Barrier() {
	c.gather(nil, func([]interface{}) interface{} { return nil })
}

// BcastU64s replaces the contents of buf on every rank with root's values.
// Every rank must pass a buffer of the same length.
func (c *Comm) BcastU64s(buf []uint64, root int) {
	res := c.gather(buf, func(in []interface{}) interface{} {
		src := in[root].([]uint64)
		out := make([]uint64, len(src))
		copy(out, src)
		return out
	}).([]uint64)
	copy(buf, res)
}

// BcastBytes returns the contents of root's buffer on every rank. Non-root
// ranks may pass nil.
func (c *Comm) BcastBytes(b []byte, root int) []byte {
	res := c.gather(b, func(in []interface{}) interface{} {
		src, _ := in[root].([]byte)
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}).([]byte)
	if c.rank == root {
		return b
	}
	out := make([]byte, len(res))
	copy(out, res)
	return out
}

// GatherBytes returns, on root, a copy of every rank's buffer in rank
// order. Other ranks receive nil.
func (c *Comm) GatherBytes(b []byte, root int) [][]byte {
	res := c.gather(b, func(in []interface{}) interface{} {
		out := make([][]byte, len(in))
		for i, x := range in {
			src, _ := x.([]byte)
			cp := make([]byte, len(src))
			copy(cp, src)
			out[i] = cp
		}
		return out
	}).([][]byte)
	if c.rank != root {
		return nil
	}
	return res
}

// AllreduceU64 reduces v across all ranks with op and returns the result
// on every rank.
func (c *Comm) AllreduceU64(v uint64, op Op) uint64 {
	return c.gather(v, func(in []interface{}) interface{} {
		acc := in[0].(uint64)
		for _, x := range in[1:] {
			u := x.(uint64)
			switch op {
			case OpSum:
				acc += u
			case OpMin:
				if u < acc {
					acc = u
				}
			case OpMax:
				if u > acc {
					acc = u
				}
			}
		}
		return acc
	}).(uint64)
}

// ExscanU64 returns the exclusive prefix sum of v in rank order. Rank 0
// receives 0.
func (c *Comm) ExscanU64(v uint64) uint64 {
	res := c.gather(v, func(in []interface{}) interface{} {
		out := make([]uint64, len(in))
		var sum uint64
		for i, x := range in {
			out[i] = sum
			sum += x.(uint64)
		}
		return out
	}).([]uint64)
	return res[c.rank]
}

// Shared returns a single value shared by every rank. create runs exactly
// once per call site across the group.
func (c *Comm) Shared(create func() interface{}) interface{} {
	return c.gather(nil, func([]interface{}) interface{} { return create() })
}
