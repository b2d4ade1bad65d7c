package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sagarneeli/mr-tracker/internal/common"
	"github.com/sagarneeli/mr-tracker/internal/partition"
	"github.com/sagarneeli/mr-tracker/internal/storage"
	"github.com/sagarneeli/mr-tracker/internal/transport"
)

var ErrUnknownBody = errors.New("unknown map or reduce body")

// Conn is the worker's connection to the tracker.
type Conn interface {
	Receive() (common.Dispatch, error)
	SendResult(r common.Result) error
	Close() error
}

type Config struct {
	CoordinatorHost string
	JobID           string
	// Local, when set, is the storage the worker writes partitions to itself.
	Local  storage.Storage
	Logger *slog.Logger
}

// Start connects to the job and runs tasks until the tracker closes the
// connection.
func Start(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	url := transport.JobURL(cfg.CoordinatorHost, cfg.JobID)
	conn, err := transport.Dial(ctx, url)
	if err != nil {
		return err
	}
	logger.Info("connected to coordinator", "url", url, "local", cfg.Local != nil)
	return New(conn, cfg.Local, logger).Run(ctx)
}

type Worker struct {
	conn  Conn
	local storage.Storage
	log   *slog.Logger

	numMaps    int
	numReduces int
}

func New(conn Conn, local storage.Storage, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{conn: conn, local: local, log: logger}
}

// Run executes dispatched tasks one at a time. It returns nil once the
// tracker closes the connection normally.
func (w *Worker) Run(ctx context.Context) error {
	defer w.conn.Close()

	type received struct {
		d   common.Dispatch
		err error
	}
	// Keep reading while a task runs so control frames are answered.
	inbox := make(chan received, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			d, err := w.conn.Receive()
			select {
			case inbox <- received{d, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var msg received
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg = <-inbox:
		}
		if errors.Is(msg.err, transport.ErrClosed) {
			w.log.Info("job complete", "maps", w.numMaps, "reduces", w.numReduces)
			return nil
		}
		if msg.err != nil {
			return fmt.Errorf("receive: %w", msg.err)
		}

		res, err := w.Execute(msg.d)
		if err != nil {
			return err
		}
		if err := w.conn.SendResult(res); err != nil {
			return fmt.Errorf("send result for task %d: %w", msg.d.TaskID, err)
		}
	}
}

// Execute runs one dispatched task and builds its result.
func (w *Worker) Execute(d common.Dispatch) (common.Result, error) {
	var records []common.Record
	switch {
	case d.Map != nil:
		mapf, ok := LookupMapper(d.Map.Mapper)
		if !ok {
			return common.Result{}, fmt.Errorf("mapper %q: %w", d.Map.Mapper, ErrUnknownBody)
		}
		w.log.Info("starting map task", "task", d.TaskID, "path", d.Path, "lines", len(d.Data))
		records = mapf(d.Data)
		w.numMaps++
	case d.Reduce != nil:
		reducef, ok := LookupReducer(d.Reduce.Reducer)
		if !ok {
			return common.Result{}, fmt.Errorf("reducer %q: %w", d.Reduce.Reducer, ErrUnknownBody)
		}
		w.log.Info("starting reduce task", "task", d.TaskID, "path", d.Path, "lines", len(d.Data))
		records = reduceLines(d.Data, reducef)
		w.numReduces++
	default:
		return common.Result{}, fmt.Errorf("task %d: %w", d.TaskID, common.ErrInvalidMessage)
	}

	res := common.Result{TaskID: d.TaskID, Type: d.Type()}
	if w.local == nil {
		res.Records = records
		return res, nil
	}

	n := d.NumReducers
	if n < 1 {
		n = 1
	}
	if err := storage.WritePartitions(w.local, d.OutputDir, partition.Split(records, n)); err != nil {
		return common.Result{}, fmt.Errorf("task %d: %w", d.TaskID, err)
	}
	w.log.Info("partitions written locally", "task", d.TaskID, "dir", d.OutputDir, "records", len(records))
	res.Persisted = true
	return res, nil
}

// reduceLines groups key<TAB>value lines by key and runs the reducer once per
// key in key order. Lines without a key are skipped.
func reduceLines(lines []string, reducef ReduceFunc) []common.Record {
	grouped := make(map[string][]string)
	for _, line := range lines {
		r, ok := storage.ParseRecord(line)
		if !ok {
			continue
		}
		grouped[r.Key] = append(grouped[r.Key], r.Value)
	}

	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []common.Record
	for _, k := range keys {
		for _, v := range reducef(k, grouped[k]) {
			out = append(out, common.Record{Key: k, Value: v})
		}
	}
	return out
}
