// Package scheduler admits forwarded calls under a global concurrency
// ceiling, serving higher-priority methods first and equal priorities
// in arrival order.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/mcpgw/internal/config"
	"github.com/vyrodovalexey/mcpgw/internal/observability"
	"github.com/vyrodovalexey/mcpgw/internal/util"
)

// Task is the unit of work admitted by the scheduler.
type Task func(context.Context) error

// task is a queued Task with its admission metadata.
type task struct {
	backend  string
	priority int
	seq      uint64
	fn       Task
	ctx      context.Context
	enqueued time.Time

	// done receives the task's result exactly once. Buffered so the
	// runner never blocks on an abandoned waiter.
	done chan error

	// index is the heap position, -1 once dequeued.
	index int
}

// Scheduler bounds the number of concurrently executing tasks. Queued
// tasks wait in a priority heap; dispatch happens inline on submit and
// on every task completion.
type Scheduler struct {
	maxConcurrent int
	maxPerBackend int
	taskTimeout   time.Duration
	logger        observability.Logger

	mu         sync.Mutex
	queue      taskHeap
	running    int
	perBackend map[string]int
	seq        uint64
	closed     bool

	submitted int64
	completed int64
	timedOut  int64
	cancelled int64

	wg sync.WaitGroup
}

// New creates a scheduler from configuration.
func New(cfg *config.SchedulerConfig, logger observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Scheduler{
		maxConcurrent: cfg.MaxConcurrent,
		maxPerBackend: cfg.MaxPerBackend,
		taskTimeout:   cfg.TaskTimeout.Duration(),
		logger:        logger,
		perBackend:    make(map[string]int),
	}
}

// Submit queues fn and blocks until it completes, the task timeout
// elapses, or ctx is done. The task itself executes under a context
// that carries ctx's values but not its cancellation: once dispatched,
// work is never cancelled cooperatively. A task that times out or is
// cancelled while still queued is removed without ever starting; one
// abandoned while running finishes on its own and its result is
// discarded.
func (s *Scheduler) Submit(ctx context.Context, backend string, priority int, fn Task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return util.ErrSchedulerClosed
	}

	s.seq++
	s.submitted++
	t := &task{
		backend:  backend,
		priority: priority,
		seq:      s.seq,
		fn:       fn,
		// The task runs detached from the caller's cancellation: a
		// departing caller only stops waiting, it never cancels
		// dispatched work or pollutes the backend's failure accounting.
		ctx:      context.WithoutCancel(ctx),
		enqueued: time.Now(),
		done:     make(chan error, 1),
	}

	heap.Push(&s.queue, t)
	getSchedulerMetrics().queueDepth.Set(float64(s.queue.Len()))
	s.dispatchLocked()
	s.mu.Unlock()

	var timeoutCh <-chan time.Time
	if s.taskTimeout > 0 {
		timer := time.NewTimer(s.taskTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-t.done:
		return err

	case <-timeoutCh:
		s.abandon(t, true)
		getSchedulerMetrics().timeoutsTotal.Inc()
		return util.NewTimeoutError("scheduled task", s.taskTimeout)

	case <-ctx.Done():
		s.abandon(t, false)
		return ctx.Err()
	}
}

// abandon removes a task from the queue if it has not started yet.
// Running tasks are left to finish; their result goes to the buffered
// done channel and is dropped.
func (s *Scheduler) abandon(t *task, timedOut bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
		getSchedulerMetrics().queueDepth.Set(float64(s.queue.Len()))
	}
	if timedOut {
		s.timedOut++
	} else {
		s.cancelled++
	}
}

// dispatchLocked starts queued tasks while capacity remains. Tasks
// whose backend is at its per-backend bound are set aside and
// requeued, letting lower-priority tasks for other backends proceed.
// Must be called with lock held.
func (s *Scheduler) dispatchLocked() {
	var parked []*task

	for s.running < s.maxConcurrent && s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)

		if s.maxPerBackend > 0 && s.perBackend[t.backend] >= s.maxPerBackend {
			parked = append(parked, t)
			continue
		}

		s.running++
		s.perBackend[t.backend]++
		s.wg.Add(1)

		getSchedulerMetrics().waitDuration.Observe(time.Since(t.enqueued).Seconds())

		go s.run(t)
	}

	for _, t := range parked {
		heap.Push(&s.queue, t)
	}

	getSchedulerMetrics().queueDepth.Set(float64(s.queue.Len()))
	getSchedulerMetrics().running.Set(float64(s.running))
}

// run executes a task and releases its slot.
func (s *Scheduler) run(t *task) {
	defer s.wg.Done()

	err := t.fn(t.ctx)

	s.mu.Lock()
	s.running--
	s.perBackend[t.backend]--
	if s.perBackend[t.backend] == 0 {
		delete(s.perBackend, t.backend)
	}
	s.completed++
	s.dispatchLocked()
	s.mu.Unlock()

	t.done <- err
}

// Stats is a point-in-time view of the scheduler. TimedOut and
// Cancelled count abandoned waits; a task abandoned while already
// running still finishes and is then counted in Completed as well.
type Stats struct {
	QueueDepth int            `json:"queueDepth"`
	Running    int            `json:"running"`
	PerBackend map[string]int `json:"perBackend,omitempty"`
	Submitted  int64          `json:"submitted"`
	Completed  int64          `json:"completed"`
	TimedOut   int64          `json:"timedOut"`
	Cancelled  int64          `json:"cancelled"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	perBackend := make(map[string]int, len(s.perBackend))
	for k, v := range s.perBackend {
		perBackend[k] = v
	}

	return Stats{
		QueueDepth: s.queue.Len(),
		Running:    s.running,
		PerBackend: perBackend,
		Submitted:  s.submitted,
		Completed:  s.completed,
		TimedOut:   s.timedOut,
		Cancelled:  s.cancelled,
	}
}

// Close rejects new submissions and fails every queued task with
// ErrSchedulerClosed. Running tasks finish; use Drain to wait for
// them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		t.done <- util.ErrSchedulerClosed
	}
	getSchedulerMetrics().queueDepth.Set(0)

	s.logger.Info("scheduler closed")
}

// Drain blocks until all running tasks have finished.
func (s *Scheduler) Drain() {
	s.wg.Wait()
}

// taskHeap orders tasks by priority (higher first) and by submission
// sequence for equal priorities (earlier first).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
