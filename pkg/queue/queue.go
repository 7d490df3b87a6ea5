// Package queue distributes tasks among the participants of a parallel
// job.
//
// The engine is driven by two callbacks. create runs once per participant
// at startup and may enqueue seed tasks. process runs once per dequeued
// task; it must call [Handle.Dequeue] exactly once and may call
// [Handle.Enqueue] any number of times. Tasks are opaque strings of at
// most [MaxTaskLen] bytes; enqueuing a longer task is the caller's bug.
//
// Distribution is dynamic: a task enqueued by one participant may be
// processed by any participant. The run terminates once the queue is
// globally empty and no task is in flight.
package queue

import (
	"sync"

	"github.com/fruitsalade/treewalk/pkg/comm"
)

// MaxTaskLen is the longest task string the queue accepts, matching the
// bounded scratch buffers of callers that assemble paths.
const MaxTaskLen = 4096

// state is the queue shared by all participants of one run.
type state struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []string
	inflight int
}

func newState() *state {
	st := &state{}
	st.cond = sync.NewCond(&st.mu)
	return st
}

func (st *state) push(task string) {
	st.mu.Lock()
	st.tasks = append(st.tasks, task)
	st.mu.Unlock()
	st.cond.Signal()
}

// take blocks until a task is available or the run has drained. Newest
// tasks are taken first, keeping traversals depth-first and the queue
// shallow.
func (st *state) take() (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for {
		if n := len(st.tasks); n > 0 {
			task := st.tasks[n-1]
			st.tasks = st.tasks[:n-1]
			st.inflight++
			return task, true
		}
		if st.inflight == 0 {
			return "", false
		}
		st.cond.Wait()
	}
}

func (st *state) finish() {
	st.mu.Lock()
	st.inflight--
	drained := st.inflight == 0 && len(st.tasks) == 0
	st.mu.Unlock()
	if drained {
		st.cond.Broadcast()
	}
}

// Handle is the callback surface handed to create and process.
type Handle struct {
	st   *state
	task string
	has  bool
}

// Enqueue adds a task to the queue.
func (h *Handle) Enqueue(task string) {
	h.st.push(task)
}

// Dequeue returns the task being processed. It reports false when called
// outside process or more than once per task.
func (h *Handle) Dequeue() (string, bool) {
	if !h.has {
		return "", false
	}
	h.has = false
	return h.task, true
}

// Run executes one queue-driven job. Collective: every participant of c
// must call it with equivalent callbacks. It returns once all tasks have
// been processed on all participants.
func Run(c *comm.Comm, create, process func(h *Handle)) {
	st := c.Shared(func() interface{} { return newState() }).(*state)

	h := &Handle{st: st}
	create(h)

	// No participant may observe an empty queue before all seeds are in.
	c.Barrier()

	for {
		task, ok := st.take()
		if !ok {
			break
		}
		h.task = task
		h.has = true
		process(h)
		h.has = false
		st.finish()
	}

	c.Barrier()
}
