package coordinator

import (
	"errors"
	"testing"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

func populated(t *testing.T, n int) *Registry {
	t.Helper()
	r := NewRegistry(common.TaskTypeMap)
	var tasks []common.Task
	for i := 0; i < n; i++ {
		tasks = append(tasks, common.Task{ID: i, Path: "in"})
	}
	if err := r.Populate(tasks); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}
	return r
}

func TestRegistryPopulateTwice(t *testing.T) {
	r := populated(t, 1)
	if err := r.Populate(nil); !errors.Is(err, ErrAlreadyPopulated) {
		t.Errorf("expected ErrAlreadyPopulated, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := populated(t, 3)

	task, ok := r.SelectIdle(nil)
	if !ok || task.ID != 0 {
		t.Fatalf("expected task 0, got %v %v", task, ok)
	}
	if task.Type != common.TaskTypeMap {
		t.Errorf("expected map task, got %v", task.Type)
	}
	// SelectIdle does not move the task.
	if again, _ := r.SelectIdle(nil); again.ID != 0 {
		t.Errorf("expected task 0 again, got %d", again.ID)
	}

	if err := r.MarkRunning(0); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if err := r.MarkRunning(0); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
	if next, _ := r.SelectIdle(nil); next.ID != 1 {
		t.Errorf("expected task 1, got %d", next.ID)
	}

	if err := r.Requeue(0); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if err := r.Requeue(0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if err := r.MarkComplete(0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning completing an idle task, got %v", err)
	}

	for id := 0; id < 3; id++ {
		if err := r.MarkRunning(id); err != nil {
			t.Fatalf("MarkRunning(%d) failed: %v", id, err)
		}
		if r.Exhausted() {
			t.Fatalf("registry exhausted with task %d running", id)
		}
		if err := r.MarkComplete(id); err != nil {
			t.Fatalf("MarkComplete(%d) failed: %v", id, err)
		}
	}
	if !r.Exhausted() {
		t.Error("expected registry to be exhausted")
	}
	if err := r.MarkComplete(2); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning on double complete, got %v", err)
	}
	if _, ok := r.SelectIdle(nil); ok {
		t.Error("expected no idle task")
	}
	if c := r.Counts(); c != (Counts{Complete: 3}) {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestRegistrySelectIdleSkips(t *testing.T) {
	r := populated(t, 3)

	task, ok := r.SelectIdle(map[int]bool{0: true})
	if !ok || task.ID != 1 {
		t.Fatalf("expected task 1, got %v %v", task, ok)
	}
	if _, ok := r.SelectIdle(map[int]bool{0: true, 1: true, 2: true}); ok {
		t.Error("expected no selectable task")
	}
	if c := r.Counts(); c != (Counts{Idle: 3}) {
		t.Errorf("skipped tasks must stay idle, got %+v", c)
	}
}

func TestRegistryUnknownTask(t *testing.T) {
	r := populated(t, 1)
	if err := r.MarkRunning(7); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
	if err := r.Requeue(7); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestRegistryExhaustedBeforePopulate(t *testing.T) {
	r := NewRegistry(common.TaskTypeReduce)
	if !r.Exhausted() {
		t.Error("empty registry should be vacuously exhausted")
	}
	if r.Populated() {
		t.Error("registry should not be populated")
	}
}

func TestRegistryDumpDisjoint(t *testing.T) {
	r := populated(t, 4)
	r.MarkRunning(1)
	r.MarkRunning(2)
	r.MarkComplete(2)

	dump := r.Dump()
	want := map[int]common.TaskStatus{
		0: common.TaskStatusIdle,
		1: common.TaskStatusInProgress,
		2: common.TaskStatusCompleted,
		3: common.TaskStatusIdle,
	}
	if len(dump) != len(want) {
		t.Fatalf("expected %d ids, got %v", len(want), dump)
	}
	for id, status := range want {
		if got := dump[id]; len(got) != 1 || got[0] != status {
			t.Errorf("task %d: expected [%v], got %v", id, status, got)
		}
	}
}
