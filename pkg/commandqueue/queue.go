package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/stepwise/internal/tracing"
	"github.com/rs/zerolog/log"
)

// Task is a unit of work run in a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	generation  int
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue provides lane-based task serialization with concurrency control.
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates an empty queue.
func New() *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (cq *CommandQueue) lookup(name string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[name]
	return ls, ok
}

func (cq *CommandQueue) lane(name string) *laneState {
	if ls, ok := cq.lookup(name); ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[name]; ok {
		return ls
	}
	ls := &laneState{concurrency: 1}
	cq.lanes[name] = ls
	log.Debug().Str("lane", name).Msg("Lane initialized")
	return ls
}

// Enqueue adds task to lane and blocks until it has run.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	ls := cq.lane(lane)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		generation: ls.generation,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	go cq.processLane(lane)

	result := <-record.result
	return result.value, result.err
}

func (cq *CommandQueue) processLane(lane string) {
	ls, ok := cq.lookup(lane)
	if !ok {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if record.generation != ls.generation {
			record.result <- taskResult{err: fmt.Errorf("task cancelled due to lane reset")}
			continue
		}

		ls.running++
		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	logger := tracing.LoggerFromContext(record.ctx, log.Logger)
	wait := time.Since(record.enqueuedAt)

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	event := logger.Debug()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("wait", wait).
		Dur("duration", duration).
		Msg("Task finished")

	go cq.processLane(lane)
}

// SetConcurrency updates the concurrency limit for a lane.
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane)
	ls.mu.Lock()
	oldMax := ls.concurrency
	ls.concurrency = concurrency
	ls.mu.Unlock()

	if concurrency > oldMax {
		go cq.processLane(lane)
	}
}

// RunningCount returns the number of running tasks in a lane.
func (cq *CommandQueue) RunningCount(lane string) int {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// ResetLane rejects every queued task of a lane. Running tasks finish.
func (cq *CommandQueue) ResetLane(lane string) int {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++
	n := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: fmt.Errorf("lane reset")}
	}
	ls.queue = nil
	return n
}

// RemoveLane forgets an idle lane.
func (cq *CommandQueue) RemoveLane(lane string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return
	}
	ls.mu.Lock()
	idle := ls.running == 0 && len(ls.queue) == 0
	ls.mu.Unlock()
	if idle {
		delete(cq.lanes, lane)
	}
}

// Close cancels running tasks and waits for them.
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	return nil
}
