package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/sagarneeli/mr-tracker/internal/common"
	"github.com/sagarneeli/mr-tracker/internal/partition"
	"github.com/sagarneeli/mr-tracker/internal/storage"
)

const (
	inputDir        = "input"
	intermediateDir = "intermediate"
	outputDir       = "output"
)

var ErrStopped = errors.New("coordinator stopped")

// Phase is derived from the two registries and only moves forward.
type Phase int

const (
	PhaseMapping Phase = iota
	PhaseReducing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseMapping:
		return "MAPPING"
	case PhaseReducing:
		return "REDUCING"
	case PhaseDone:
		return "DONE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type Config struct {
	JobID   string
	NReduce int
	Mapper  string
	Reducer string

	Logger *slog.Logger
	// ErrorSink receives storage failures. Defaults to logging them.
	ErrorSink func(error)
}

func (c Config) Validate() error {
	switch {
	case c.JobID == "":
		return errors.New("job id is required")
	case path.Base(c.JobID) != c.JobID || c.JobID == "." || c.JobID == "..":
		return fmt.Errorf("job id %q must be a single path element", c.JobID)
	case c.NReduce < 1:
		return fmt.Errorf("reducer count must be at least 1, got %d", c.NReduce)
	case c.Mapper == "" || c.Reducer == "":
		return errors.New("mapper and reducer names are required")
	}
	return nil
}

// Status is a point-in-time view of a job.
type Status struct {
	JobID   string `json:"id"`
	Phase   Phase  `json:"phase"`
	NReduce int    `json:"nReduce"`
	Map     Counts `json:"map"`
	Reduce  Counts `json:"reduce"`
	Workers int    `json:"workers"`
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventResult
	eventStatus
)

type event struct {
	kind      eventKind
	workerID  string
	transport Transport
	result    common.Result
	err       error
	status    chan<- Status
}

// Coordinator schedules one job. All state is owned by the goroutine running
// Run; the exported event methods only enqueue.
type Coordinator struct {
	cfg   Config
	store storage.Storage
	log   *slog.Logger

	mapTasks    *Registry
	reduceTasks *Registry
	sessions    *Sessions
	finished    bool

	events  chan event
	stopped chan struct{}
	done    chan struct{}
	drained chan struct{}
}

// NewCoordinator creates a new Coordinator instance.
func NewCoordinator(cfg Config, store storage.Storage) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:         cfg,
		store:       store,
		log:         logger.With("job", cfg.JobID),
		mapTasks:    NewRegistry(common.TaskTypeMap),
		reduceTasks: NewRegistry(common.TaskTypeReduce),
		sessions:    NewSessions(),
		events:      make(chan event),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
		drained:     make(chan struct{}),
	}, nil
}

// Run discovers the input, then processes events until ctx is cancelled.
// It must be called exactly once.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)

	if err := c.start(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			for _, sess := range c.sessions.All() {
				sess.Transport.Close()
			}
			return ctx.Err()
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// Connect registers a new worker connection.
func (c *Coordinator) Connect(workerID string, t Transport) {
	c.post(event{kind: eventConnect, workerID: workerID, transport: t})
}

// Disconnect reports a closed or failed worker connection.
func (c *Coordinator) Disconnect(workerID string, cause error) {
	c.post(event{kind: eventDisconnect, workerID: workerID, err: cause})
}

// Deliver hands a worker's result to the scheduler.
func (c *Coordinator) Deliver(workerID string, r common.Result) {
	c.post(event{kind: eventResult, workerID: workerID, result: r})
}

func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case c.events <- event{kind: eventStatus, status: reply}:
	case <-c.stopped:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Done is closed once every reduce task has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Drained is closed once the job is done and every worker connection has gone.
func (c *Coordinator) Drained() <-chan struct{} {
	return c.drained
}

func (c *Coordinator) JobID() string { return c.cfg.JobID }

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

func (c *Coordinator) handle(ev event) {
	switch ev.kind {
	case eventConnect:
		c.onConnect(ev.workerID, ev.transport)
	case eventDisconnect:
		c.onDisconnect(ev.workerID, ev.err)
	case eventResult:
		c.onResult(ev.workerID, ev.result)
	case eventStatus:
		ev.status <- c.status()
	}
}

func (c *Coordinator) start() error {
	entries, err := c.store.List(c.dir(inputDir))
	if err != nil {
		return fmt.Errorf("list input for job %s: %w", c.cfg.JobID, err)
	}
	tasks := make([]common.Task, 0, len(entries))
	for i, e := range entries {
		tasks = append(tasks, common.Task{ID: i, Type: common.TaskTypeMap, Path: e.Path})
	}
	if err := c.mapTasks.Populate(tasks); err != nil {
		return err
	}
	c.log.Info("job started", "map_tasks", len(tasks), "n_reduce", c.cfg.NReduce)
	c.advance()
	return nil
}

func (c *Coordinator) onConnect(workerID string, t Transport) {
	if _, err := c.sessions.Connect(workerID, t); err != nil {
		c.drop(err, "connect")
		return
	}
	c.log.Info("worker connected", "worker", workerID, "workers", c.sessions.Len())

	if c.finished {
		t.Close()
		return
	}
	if c.advance() {
		c.dispatchIdle()
		return
	}
	c.dispatchNext(workerID)
}

func (c *Coordinator) onDisconnect(workerID string, cause error) {
	task, err := c.sessions.Disconnect(workerID)
	if err != nil {
		c.log.Debug("disconnect for unknown worker", "worker", workerID, "err", err)
		return
	}
	c.log.Info("worker disconnected", "worker", workerID, "cause", cause)
	c.checkDrained()
	if task == nil {
		return
	}
	if err := c.registry(task.Type).Requeue(task.ID); err != nil {
		c.drop(err, "requeue")
		return
	}
	c.log.Info("task requeued", "phase", task.Type, "task", task.ID)
	c.dispatchIdle()
}

func (c *Coordinator) onResult(workerID string, res common.Result) {
	sess, err := c.sessions.Get(workerID)
	if err != nil {
		c.drop(err, "result")
		return
	}
	if sess.Task == nil {
		c.drop(fmt.Errorf("worker %s: %w", workerID, ErrNoAssignedTask), "result")
		return
	}
	task := *sess.Task
	if task.ID != res.TaskID || task.Type != res.Type {
		c.drop(fmt.Errorf("worker %s sent %s task %d, holds %s task %d: %w",
			workerID, res.Type, res.TaskID, task.Type, task.ID, ErrStaleResult), "result")
		return
	}

	if !res.Persisted {
		buckets := partition.Split(res.Records, c.cfg.NReduce)
		if err := storage.WritePartitions(c.store, c.outputDir(task.Type), buckets); err != nil {
			c.sink(fmt.Errorf("job %s: %s task %d: %w", c.cfg.JobID, task.Type, task.ID, err))
			return
		}
	}

	if _, err := c.sessions.Complete(workerID); err != nil {
		c.drop(err, "result")
		return
	}
	if err := c.registry(task.Type).MarkComplete(task.ID); err != nil {
		c.drop(err, "result")
		return
	}
	c.log.Info("task complete", "worker", workerID, "phase", task.Type, "task", task.ID, "records", len(res.Records))

	if c.advance() {
		c.dispatchIdle()
		return
	}
	c.dispatchNext(workerID)
}

// advance populates the reduce registry once every map task is complete and
// finishes the job once every reduce task is complete. It reports whether a
// transition happened.
func (c *Coordinator) advance() bool {
	if c.finished || !c.mapTasks.Populated() || !c.mapTasks.Exhausted() {
		return false
	}

	transitioned := false
	if !c.reduceTasks.Populated() {
		tasks, err := c.discoverReduceTasks()
		if err != nil {
			c.sink(err)
			return false
		}
		if err := c.reduceTasks.Populate(tasks); err != nil {
			c.drop(err, "transition")
			return false
		}
		c.log.Info("map phase complete", "reduce_tasks", len(tasks))
		transitioned = true
	}
	if c.reduceTasks.Exhausted() {
		c.finish()
		return true
	}
	return transitioned
}

func (c *Coordinator) discoverReduceTasks() ([]common.Task, error) {
	entries, err := c.store.List(c.dir(intermediateDir))
	if err != nil {
		return nil, fmt.Errorf("list intermediate for job %s: %w", c.cfg.JobID, err)
	}
	var tasks []common.Task
	for _, e := range entries {
		if e.Size == 0 {
			continue
		}
		bucket, ok := storage.ParsePartitionFile(e.Path)
		if !ok {
			c.log.Warn("skipping unexpected intermediate file", "path", e.Path)
			continue
		}
		tasks = append(tasks, common.Task{ID: bucket, Type: common.TaskTypeReduce, Path: e.Path})
	}
	return tasks, nil
}

func (c *Coordinator) finish() {
	c.finished = true
	close(c.done)
	c.log.Info("job complete", "output", c.dir(outputDir))
	for _, sess := range c.sessions.All() {
		if err := sess.Transport.Close(); err != nil {
			c.log.Debug("close worker", "worker", sess.ID, "err", err)
		}
	}
	c.checkDrained()
}

func (c *Coordinator) checkDrained() {
	if !c.finished || c.sessions.Len() > 0 {
		return
	}
	select {
	case <-c.drained:
	default:
		close(c.drained)
		c.log.Info("all workers disconnected")
	}
}

func (c *Coordinator) dispatchIdle() {
	for _, id := range c.sessions.Idle() {
		// A failed send inside the loop redispatches to workers not yet visited.
		if sess, err := c.sessions.Get(id); err != nil || sess.Task != nil {
			continue
		}
		c.dispatchNext(id)
	}
}

// dispatchNext gives the worker an idle task of the current phase, if any.
func (c *Coordinator) dispatchNext(workerID string) {
	sess, err := c.sessions.Get(workerID)
	if err != nil {
		c.drop(err, "dispatch")
		return
	}
	if sess.Task != nil {
		c.drop(fmt.Errorf("worker %s: %w", workerID, ErrAlreadyAssigned), "dispatch")
		return
	}

	var reg *Registry
	switch c.phase() {
	case PhaseMapping:
		reg = c.mapTasks
	case PhaseReducing:
		reg = c.reduceTasks
	default:
		return
	}
	// Unreadable tasks stay idle and are retried on a later dispatch.
	var (
		task   common.Task
		lines  []string
		failed map[int]bool
	)
	for {
		var ok bool
		task, ok = reg.SelectIdle(failed)
		if !ok {
			c.log.Debug("no idle task", "worker", workerID, "phase", c.phase(), "unreadable", len(failed))
			return
		}
		lines, err = c.store.ReadLines(task.Path)
		if err == nil {
			break
		}
		c.sink(fmt.Errorf("job %s: %s task %d: %w", c.cfg.JobID, task.Type, task.ID, err))
		if failed == nil {
			failed = make(map[int]bool)
		}
		failed[task.ID] = true
	}
	if err := reg.MarkRunning(task.ID); err != nil {
		c.drop(err, "dispatch")
		return
	}
	if err := c.sessions.Assign(workerID, task); err != nil {
		reg.Requeue(task.ID)
		c.drop(err, "dispatch")
		return
	}

	if err := sess.Transport.Send(c.dispatchFor(task, lines)); err != nil {
		c.log.Error("send task failed", "worker", workerID, "phase", task.Type, "task", task.ID, "err", err)
		sess.Transport.Close()
		c.onDisconnect(workerID, err)
		return
	}
	c.log.Debug("task dispatched", "worker", workerID, "phase", task.Type, "task", task.ID, "lines", len(lines))
}

func (c *Coordinator) dispatchFor(task common.Task, lines []string) common.Dispatch {
	d := common.Dispatch{
		TaskID:      task.ID,
		Path:        task.Path,
		OutputDir:   c.outputDir(task.Type),
		NumReducers: c.cfg.NReduce,
		Data:        lines,
	}
	if task.Type == common.TaskTypeMap {
		d.Map = &common.MapBody{Mapper: c.cfg.Mapper}
	} else {
		d.Reduce = &common.ReduceBody{Reducer: c.cfg.Reducer}
	}
	return d
}

func (c *Coordinator) phase() Phase {
	switch {
	case !c.mapTasks.Populated() || !c.mapTasks.Exhausted():
		return PhaseMapping
	case !c.reduceTasks.Populated() || !c.reduceTasks.Exhausted():
		return PhaseReducing
	default:
		return PhaseDone
	}
}

func (c *Coordinator) status() Status {
	return Status{
		JobID:   c.cfg.JobID,
		Phase:   c.phase(),
		NReduce: c.cfg.NReduce,
		Map:     c.mapTasks.Counts(),
		Reduce:  c.reduceTasks.Counts(),
		Workers: c.sessions.Len(),
	}
}

func (c *Coordinator) registry(t common.TaskType) *Registry {
	if t == common.TaskTypeReduce {
		return c.reduceTasks
	}
	return c.mapTasks
}

func (c *Coordinator) dir(name string) string {
	return path.Join(c.cfg.JobID, name)
}

func (c *Coordinator) outputDir(t common.TaskType) string {
	if t == common.TaskTypeReduce {
		return c.dir(outputDir)
	}
	return c.dir(intermediateDir)
}

func (c *Coordinator) drop(err error, event string) {
	c.log.Warn("dropping event", "event", event, "err", err)
}

func (c *Coordinator) sink(err error) {
	if c.cfg.ErrorSink != nil {
		c.cfg.ErrorSink(err)
		return
	}
	c.log.Error("storage failure", "err", err)
}
