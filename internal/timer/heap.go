package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrManagerStopped is returned when scheduling on a stopped manager
var ErrManagerStopped = errors.New("timer manager is stopped")

// TimerTask represents a task scheduled for future execution
type TimerTask struct {
	ID       string
	ExpiryAt time.Time
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// timerHeap is a min-heap of TimerTasks ordered by ExpiryAt
type timerHeap []*TimerTask

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	return h[i].ExpiryAt.Before(h[j].ExpiryAt)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	task := x.(*TimerTask)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil  // avoid memory leak
	task.index = -1 // for safety
	*h = old[0 : n-1]
	return task
}

// TimerManager runs one-shot tasks at absolute times. Tasks that need to
// recur reschedule themselves from their callback.
type TimerManager struct {
	clock    clockwork.Clock
	heap     timerHeap
	tasks    map[string]*TimerTask // for O(1) lookup by ID
	mu       sync.Mutex
	wakeup   chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
	inflight sync.WaitGroup
}

// NewTimerManager creates a timer manager driven by clock
func NewTimerManager(clock clockwork.Clock) *TimerManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	tm := &TimerManager{
		clock:  clock,
		heap:   make(timerHeap, 0),
		tasks:  make(map[string]*TimerTask),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	heap.Init(&tm.heap)
	return tm
}

// Start starts the dispatch loop
func (tm *TimerManager) Start() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started || tm.stopped {
		return
	}
	tm.started = true
	go tm.run()
}

// Stop cancels every pending task. Once Stop returns no further callback
// is started; callbacks already running are left to finish.
func (tm *TimerManager) Stop() {
	tm.mu.Lock()
	if tm.stopped {
		tm.mu.Unlock()
		return
	}
	tm.stopped = true
	started := tm.started
	tm.heap = tm.heap[:0]
	tm.tasks = make(map[string]*TimerTask)
	close(tm.stopCh)
	tm.mu.Unlock()

	if started {
		<-tm.done
	}
}

// Wait blocks until callbacks that were already started have returned
func (tm *TimerManager) Wait() {
	tm.inflight.Wait()
}

// Schedule adds a task to run at expiryAt, replacing any task with the same ID
func (tm *TimerManager) Schedule(id string, expiryAt time.Time, callback func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.stopped {
		return ErrManagerStopped
	}

	if existing, ok := tm.tasks[id]; ok {
		heap.Remove(&tm.heap, existing.index)
		delete(tm.tasks, id)
	}

	task := &TimerTask{
		ID:       id,
		ExpiryAt: expiryAt,
		Callback: callback,
	}

	heap.Push(&tm.heap, task)
	tm.tasks[id] = task

	// Wake up the loop if this is the earliest task
	if tm.heap[0] == task {
		select {
		case tm.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a scheduled task
func (tm *TimerManager) Cancel(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&tm.heap, task.index)
	delete(tm.tasks, id)
	return true
}

// Next returns the expiry time of a scheduled task
func (tm *TimerManager) Next(id string) (time.Time, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.ExpiryAt, true
}

func (tm *TimerManager) run() {
	defer close(tm.done)

	for {
		tm.mu.Lock()

		if tm.stopped {
			tm.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if tm.heap.Len() == 0 {
			// No tasks, wait for a wakeup
			waitDuration = 24 * time.Hour
		} else {
			next := tm.heap[0]
			waitDuration = next.ExpiryAt.Sub(tm.clock.Now())

			if waitDuration <= 0 {
				task := heap.Pop(&tm.heap).(*TimerTask)
				delete(tm.tasks, task.ID)

				tm.inflight.Add(1)
				go func() {
					defer tm.inflight.Done()
					task.Callback()
				}()

				tm.mu.Unlock()
				continue
			}
		}

		tm.mu.Unlock()

		timer := tm.clock.NewTimer(waitDuration)
		select {
		case <-timer.Chan():
		case <-tm.wakeup:
			timer.Stop()
		case <-tm.stopCh:
			timer.Stop()
			return
		}
	}
}

// Stats returns statistics about the timer manager
func (tm *TimerManager) Stats() TimerStats {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	return TimerStats{
		ScheduledTasks: len(tm.tasks),
		Running:        tm.started && !tm.stopped,
	}
}

// TimerStats contains statistics about the timer manager
type TimerStats struct {
	ScheduledTasks int
	Running        bool
}
