package dispatch

import "sync"

// Queue is a FIFO of tasks with an explicit closed state.
//
// Once closed no task can be added, and Take reports ok == false as soon as
// the queue is both closed and empty.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items    []Task
	closed   bool
	capacity int
}

// NewQueue returns an open queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Add(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, t)
	q.cond.Signal()
	return nil
}

// TryAdd is Add without the reason.
func (q *Queue) TryAdd(t Task) bool { return q.Add(t) == nil }

// Take blocks until a task is available or the queue is closed and empty.
func (q *Queue) Take() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

// TryTake never blocks. ok == false means the queue is empty right now.
func (q *Queue) TryTake() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (Task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return t, true
}

// Close marks the queue complete for adding and wakes every blocked Take.
// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// IsCompleted reports whether the queue is closed and empty.
func (q *Queue) IsCompleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns every queued task without processing it.
func (q *Queue) Drain() []Task {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	return out
}
