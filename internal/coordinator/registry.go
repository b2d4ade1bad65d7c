package coordinator

import (
	"fmt"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// Registry holds the tasks of one phase. Every task it has seen sits in
// exactly one of idle, running and complete.
type Registry struct {
	typ       common.TaskType
	populated bool
	idle      map[int]common.Task
	running   map[int]common.Task
	complete  map[int]common.Task
}

func NewRegistry(typ common.TaskType) *Registry {
	return &Registry{
		typ:      typ,
		idle:     make(map[int]common.Task),
		running:  make(map[int]common.Task),
		complete: make(map[int]common.Task),
	}
}

// Populate fills idle with the phase's task set. It can only run once.
func (r *Registry) Populate(tasks []common.Task) error {
	if r.populated {
		return fmt.Errorf("%s registry: %w", r.typ, ErrAlreadyPopulated)
	}
	for _, t := range tasks {
		t.Type = r.typ
		r.idle[t.ID] = t
	}
	r.populated = true
	return nil
}

func (r *Registry) Populated() bool { return r.populated }

// SelectIdle returns the idle task with the lowest id not in skip, without
// moving it. A nil skip set excludes nothing.
func (r *Registry) SelectIdle(skip map[int]bool) (common.Task, bool) {
	var (
		best  common.Task
		found bool
	)
	for id, t := range r.idle {
		if skip[id] {
			continue
		}
		if !found || id < best.ID {
			best, found = t, true
		}
	}
	return best, found
}

func (r *Registry) MarkRunning(id int) error {
	t, ok := r.idle[id]
	if !ok {
		return fmt.Errorf("%s task %d: %w", r.typ, id, ErrNotIdle)
	}
	delete(r.idle, id)
	r.running[id] = t
	return nil
}

func (r *Registry) MarkComplete(id int) error {
	t, ok := r.running[id]
	if !ok {
		return fmt.Errorf("%s task %d: %w", r.typ, id, ErrNotRunning)
	}
	delete(r.running, id)
	r.complete[id] = t
	return nil
}

// Requeue returns a running task to idle after its worker went away.
func (r *Registry) Requeue(id int) error {
	t, ok := r.running[id]
	if !ok {
		return fmt.Errorf("%s task %d: %w", r.typ, id, ErrNotRunning)
	}
	delete(r.running, id)
	r.idle[id] = t
	return nil
}

// Exhausted reports whether idle and running are both empty. It is
// vacuously true before Populate.
func (r *Registry) Exhausted() bool {
	return len(r.idle) == 0 && len(r.running) == 0
}

// Counts is the size of each bucket.
type Counts struct {
	Idle     int `json:"idle"`
	Running  int `json:"running"`
	Complete int `json:"complete"`
}

func (r *Registry) Counts() Counts {
	return Counts{Idle: len(r.idle), Running: len(r.running), Complete: len(r.complete)}
}

// Dump lists every task id the registry knows with the bucket it sits in.
// A task found in more than one bucket is reported under every bucket, so
// callers can check disjointness.
func (r *Registry) Dump() map[int][]common.TaskStatus {
	out := make(map[int][]common.TaskStatus)
	for id := range r.idle {
		out[id] = append(out[id], common.TaskStatusIdle)
	}
	for id := range r.running {
		out[id] = append(out[id], common.TaskStatusInProgress)
	}
	for id := range r.complete {
		out[id] = append(out[id], common.TaskStatusCompleted)
	}
	return out
}
