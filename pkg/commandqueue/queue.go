package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/kitool/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultLane is used when a caller supplies no session key.
const DefaultLane = "main"

var (
	// ErrQueueClosed is returned for tasks enqueued after Close
	ErrQueueClosed = errors.New("command queue is closed")

	// ErrLaneCleared is returned to tasks dropped by ClearLane
	ErrLaneCleared = errors.New("lane cleared")
)

// Task is one unit of work, typically a single tool call.
type Task func(ctx context.Context) (string, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	// WarnAfter logs a warning when the task is still queued after this long
	WarnAfter time.Duration
	// RequestID deduplicates retries and concurrent duplicates of one call
	RequestID string
}

// Observer is notified of queue depth and wait times.
type Observer interface {
	ObserveQueue(lane string, depth int, wait time.Duration)
}

// taskRecord tracks a task's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value string
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	queue   []*taskRecord
	running bool
}

// CommandQueue runs tasks FIFO per lane; different lanes run concurrently.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	replay    *replayCache
	observer  Observer
}

// Options configures a CommandQueue.
type Options struct {
	// DedupTTL bounds how long completed results are kept for RequestID replay
	DedupTTL time.Duration
	Observer Observer
}

// New creates a new CommandQueue
func New(opts Options) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())

	return &CommandQueue{
		lanes:    make(map[string]*laneState),
		ctx:      ctx,
		cancel:   cancel,
		replay:   newReplayCache(opts.DedupTTL),
		observer: opts.Observer,
	}
}

// Enqueue adds a task to lane and waits for its result. Tasks in one lane run
// one at a time in arrival order. A task carrying the RequestID of a running
// or recently finished task is not run; it gets that task's result.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if lane == "" {
		lane = DefaultLane
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}
	if opts.RequestID == "" {
		return cq.enqueue(ctx, lane, task, opts)
	}

	for {
		f, leader := cq.replay.begin(opts.RequestID)
		if leader {
			value, err := cq.enqueue(ctx, lane, task, opts)
			cq.replay.finish(opts.RequestID, f, taskResult{value: value, err: err}, replayable(err))
			return value, err
		}

		log.Debug().Str("lane", lane).Str("request_id", opts.RequestID).Msg("Joining deduplicated task")
		select {
		case <-f.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		// The first caller gave up before its task finished; this caller
		// still wants the result, so it takes over the request ID.
		if callerGaveUp(f.result.err) && ctx.Err() == nil {
			continue
		}
		return f.result.value, f.result.err
	}
}

// replayable reports whether a result may be served to retries. Calls that
// never ran or were abandoned by their caller must run again.
func replayable(err error) bool {
	return !errors.Is(err, ErrLaneCleared) &&
		!errors.Is(err, ErrQueueClosed) &&
		!callerGaveUp(err)
}

func callerGaveUp(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (cq *CommandQueue) enqueue(ctx context.Context, lane string, task Task, opts TaskOptions) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "commandqueue.enqueue", attribute.String("lane", lane))
	defer span.End()

	if tracing.SessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, lane)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return "", ErrQueueClosed
	}
	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	cq.processLane(lane)

	var result taskResult
	select {
	case result = <-record.result:
	case <-ctx.Done():
		// A task that already started sees the same cancelled ctx and
		// winds down on its own.
		if cq.withdraw(lane, record) {
			logger.Debug().Str("lane", lane).Str("taskId", record.id).Msg("Queued task abandoned by caller")
		}
		result = taskResult{err: ctx.Err()}
	}
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

// withdraw removes record from lane if it has not started yet.
func (cq *CommandQueue) withdraw(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i:i], ls.queue[i+1:]...)
			if len(ls.queue) == 0 && !ls.running {
				delete(cq.lanes, lane)
			}
			return true
		}
	}
	return false
}

// processLane starts the head task of lane when nothing in it is running.
func (cq *CommandQueue) processLane(lane string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok || ls.running {
		return
	}
	if len(ls.queue) == 0 {
		delete(cq.lanes, lane)
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true

	if cq.observer != nil {
		cq.observer.ObserveQueue(lane, len(ls.queue), time.Since(record.enqueuedAt))
	}

	cq.wg.Add(1)
	go cq.executeTask(lane, record)
}

// executeTask executes a single task
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record)
	duration := time.Since(startTime)

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	cq.mu.Lock()
	if ls, ok := cq.lanes[lane]; ok {
		ls.running = false
	}
	cq.mu.Unlock()

	cq.processLane(lane)
}

// run executes the task, turning a panic into an error so the lane keeps draining.
func (cq *CommandQueue) run(ctx context.Context, record *taskRecord) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", record.id, r)
		}
	}()
	return record.task(ctx)
}

// startWarnTimer starts a timer to warn about long wait times
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		cq.mu.Lock()
		queuePos := -1
		if ls, ok := cq.lanes[lane]; ok {
			for i, r := range ls.queue {
				if r.id == record.id {
					queuePos = i
					break
				}
			}
		}
		cq.mu.Unlock()

		if queuePos >= 0 {
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Int64("waitMs", time.Since(record.enqueuedAt).Milliseconds()).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
		}
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// GetStats returns queued and running counts for all active lanes
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for lane, ls := range cq.lanes {
		running := 0
		if ls.running {
			running = 1
		}
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": running,
		}
	}
	return stats
}

// ClearLane rejects all queued (not yet running) tasks of a lane
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return 0
	}

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	return count
}

// WaitForActive waits for all lanes to drain, up to timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		drained := len(cq.lanes) == 0
		cq.mu.Unlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects queued tasks, cancels running ones and waits for them to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	cq.closed = true
	for _, ls := range cq.lanes {
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrQueueClosed}
		}
		ls.queue = nil
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	return nil
}
