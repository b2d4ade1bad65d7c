package coordinator

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

func TestSessionsAssignComplete(t *testing.T) {
	s := NewSessions()
	if _, err := s.Connect("w1", &fakeTransport{}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := s.Connect("w1", &fakeTransport{}); !errors.Is(err, ErrDuplicateWorker) {
		t.Errorf("expected ErrDuplicateWorker, got %v", err)
	}

	if _, err := s.Complete("w1"); !errors.Is(err, ErrNoAssignedTask) {
		t.Errorf("expected ErrNoAssignedTask, got %v", err)
	}

	task := common.Task{ID: 3, Type: common.TaskTypeReduce, Path: "job/intermediate/data_3.txt"}
	if err := s.Assign("w1", task); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := s.Assign("w1", task); !errors.Is(err, ErrAlreadyAssigned) {
		t.Errorf("expected ErrAlreadyAssigned, got %v", err)
	}
	if err := s.Assign("w2", task); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("expected ErrUnknownWorker, got %v", err)
	}
	if idle := s.Idle(); len(idle) != 0 {
		t.Errorf("expected no idle workers, got %v", idle)
	}

	got, err := s.Complete("w1")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != task {
		t.Errorf("expected %v, got %v", task, got)
	}
	if idle := s.Idle(); !reflect.DeepEqual(idle, []string{"w1"}) {
		t.Errorf("expected w1 idle, got %v", idle)
	}
}

func TestSessionsDisconnectReturnsTask(t *testing.T) {
	s := NewSessions()
	s.Connect("w1", &fakeTransport{})
	s.Connect("w2", &fakeTransport{})
	s.Assign("w1", common.Task{ID: 1})

	held, err := s.Disconnect("w1")
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if held == nil || held.ID != 1 {
		t.Errorf("expected held task 1, got %v", held)
	}

	held, err = s.Disconnect("w2")
	if err != nil || held != nil {
		t.Errorf("expected no held task, got %v %v", held, err)
	}
	if _, err := s.Disconnect("w2"); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("expected ErrUnknownWorker, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty table, got %d", s.Len())
	}
}
