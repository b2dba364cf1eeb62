package dispatch

import "sync"

type Priority int

const (
	// PriorityRetry is dispatched before everything else (retry after a
	// low-promotion first pass).
	PriorityRetry Priority = iota
	// PriorityFirstPass is the normal interactive path.
	PriorityFirstPass
	// PriorityBackground is batch work. Under sustained retry/first-pass
	// load it starves; that is the accepted trade-off, not a bug.
	PriorityBackground
)

// tierQueue holds waiting tickets for one tier in three strict levels,
// FIFO within a level. Capacity covers all levels combined.
type tierQueue struct {
	mu       sync.Mutex
	levels   [3][]*ticket
	size     int
	capacity int

	// ready carries one token per queued ticket so the tier loop can
	// block without polling.
	ready chan struct{}
}

func newTierQueue(capacity int) *tierQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &tierQueue{
		capacity: capacity,
		ready:    make(chan struct{}, capacity),
	}
}

func (q *tierQueue) push(t *ticket) bool {
	q.mu.Lock()
	if q.size >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.levels[t.priority] = append(q.levels[t.priority], t)
	q.size++
	q.mu.Unlock()

	q.ready <- struct{}{}
	return true
}

// pop removes the oldest ticket of the highest non-empty level. It must
// only be called after receiving a token from ready.
func (q *tierQueue) pop() *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	for level := range q.levels {
		if len(q.levels[level]) == 0 {
			continue
		}
		t := q.levels[level][0]
		q.levels[level] = q.levels[level][1:]
		q.size--
		return t
	}
	return nil
}

func (q *tierQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
