package coordinator

import (
	"fmt"
	"sort"
	"time"

	"github.com/sagarneeli/mr-tracker/internal/common"
)

// Transport is the tracker's side of one worker connection.
type Transport interface {
	Send(d common.Dispatch) error
	Close() error
}

// Session is one connected worker.
type Session struct {
	ID          string
	Transport   Transport
	Task        *common.Task
	ConnectedAt time.Time
}

// Sessions is the table of connected workers.
type Sessions struct {
	m map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

func (s *Sessions) Connect(workerID string, t Transport) (*Session, error) {
	if _, ok := s.m[workerID]; ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrDuplicateWorker)
	}
	sess := &Session{ID: workerID, Transport: t, ConnectedAt: time.Now()}
	s.m[workerID] = sess
	return sess, nil
}

// Disconnect removes the worker and hands back the task it held, if any.
func (s *Sessions) Disconnect(workerID string) (*common.Task, error) {
	sess, ok := s.m[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrUnknownWorker)
	}
	delete(s.m, workerID)
	return sess.Task, nil
}

func (s *Sessions) Get(workerID string) (*Session, error) {
	sess, ok := s.m[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", workerID, ErrUnknownWorker)
	}
	return sess, nil
}

func (s *Sessions) Assign(workerID string, task common.Task) error {
	sess, err := s.Get(workerID)
	if err != nil {
		return err
	}
	if sess.Task != nil {
		return fmt.Errorf("worker %s holds %s task %d: %w", workerID, sess.Task.Type, sess.Task.ID, ErrAlreadyAssigned)
	}
	sess.Task = &task
	return nil
}

// Complete clears the worker's task and returns it.
func (s *Sessions) Complete(workerID string) (common.Task, error) {
	sess, err := s.Get(workerID)
	if err != nil {
		return common.Task{}, err
	}
	if sess.Task == nil {
		return common.Task{}, fmt.Errorf("worker %s: %w", workerID, ErrNoAssignedTask)
	}
	t := *sess.Task
	sess.Task = nil
	return t, nil
}

// Idle returns the ids of workers without a task, sorted.
func (s *Sessions) Idle() []string {
	var ids []string
	for id, sess := range s.m {
		if sess.Task == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns every connected session sorted by id.
func (s *Sessions) All() []*Session {
	out := make([]*Session, 0, len(s.m))
	for _, sess := range s.m {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Sessions) Len() int { return len(s.m) }
