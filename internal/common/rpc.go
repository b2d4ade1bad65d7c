package common

import (
	"errors"
	"fmt"
)

// TaskType represents the type of task (Map or Reduce).
type TaskType int

const (
	TaskTypeMap TaskType = iota
	TaskTypeReduce
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeMap:
		return "map"
	case TaskTypeReduce:
		return "reduce"
	default:
		return fmt.Sprintf("TaskType(%d)", int(t))
	}
}

func (t TaskType) MarshalText() ([]byte, error) {
	switch t {
	case TaskTypeMap, TaskTypeReduce:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("%w: task type %d", ErrInvalidMessage, int(t))
	}
}

func (t *TaskType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "map":
		*t = TaskTypeMap
	case "reduce":
		*t = TaskTypeReduce
	default:
		return fmt.Errorf("%w: task type %q", ErrInvalidMessage, b)
	}
	return nil
}

// TaskStatus represents the status of a task inside its registry.
type TaskStatus int

const (
	TaskStatusIdle TaskStatus = iota
	TaskStatusInProgress
	TaskStatusCompleted
)

func (s TaskStatus) String() string {
	switch s {
	case TaskStatusIdle:
		return "idle"
	case TaskStatusInProgress:
		return "running"
	case TaskStatusCompleted:
		return "complete"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// Task represents a unit of work. It never changes after creation.
type Task struct {
	ID   int
	Type TaskType
	Path string
}

// Record is one key/value pair produced by a map or reduce body.
type Record struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// MapBody selects the mapper a worker runs.
type MapBody struct {
	Mapper string `json:"mapper"`
}

// ReduceBody selects the reducer a worker runs.
type ReduceBody struct {
	Reducer string `json:"reducer"`
}

// Dispatch is sent by the tracker to hand a task to a worker.
// Exactly one of Map and Reduce is set.
type Dispatch struct {
	TaskID      int         `json:"taskId"`
	Path        string      `json:"path"`
	OutputDir   string      `json:"outputDir"`
	NumReducers int         `json:"numReducers"`
	Data        []string    `json:"data"`
	Map         *MapBody    `json:"map,omitempty"`
	Reduce      *ReduceBody `json:"reduce,omitempty"`
}

// Type reports which phase the dispatch belongs to.
func (d Dispatch) Type() TaskType {
	if d.Reduce != nil {
		return TaskTypeReduce
	}
	return TaskTypeMap
}

// Result is sent by a worker once it has run its task. Type echoes the
// dispatch so map and reduce tasks sharing an id are told apart. Persisted is
// set by workers in local mode that already wrote their partitions; Records is
// then empty.
type Result struct {
	TaskID    int      `json:"taskId"`
	Type      TaskType `json:"type"`
	Records   []Record `json:"records,omitempty"`
	Persisted bool     `json:"persisted,omitempty"`
}

// MessageKind discriminates the envelope payload.
type MessageKind string

const (
	KindDispatch MessageKind = "dispatch"
	KindResult   MessageKind = "result"
)

// Message is the envelope carried over a worker connection.
type Message struct {
	Kind     MessageKind `json:"kind"`
	Dispatch *Dispatch   `json:"dispatch,omitempty"`
	Result   *Result     `json:"result,omitempty"`
}

var ErrInvalidMessage = errors.New("invalid message")

// Validate checks that the discriminant matches the payload.
func (m Message) Validate() error {
	switch m.Kind {
	case KindDispatch:
		if m.Dispatch == nil || m.Result != nil {
			return fmt.Errorf("%w: dispatch payload missing", ErrInvalidMessage)
		}
		if (m.Dispatch.Map == nil) == (m.Dispatch.Reduce == nil) {
			return fmt.Errorf("%w: dispatch must carry exactly one of map or reduce", ErrInvalidMessage)
		}
		return nil
	case KindResult:
		if m.Result == nil || m.Dispatch != nil {
			return fmt.Errorf("%w: result payload missing", ErrInvalidMessage)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
}
