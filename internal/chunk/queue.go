package chunk

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// offsetHeap implements heap.Interface as a min-heap by start offset.
type offsetHeap []*Chunk

func (h offsetHeap) Len() int           { return len(h) }
func (h offsetHeap) Less(i, j int) bool { return h[i].Range.Start < h[j].Range.Start }
func (h offsetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *offsetHeap) Push(x any) {
	*h = append(*h, x.(*Chunk))
}

func (h *offsetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue holds fetched chunks waiting for the writer, lowest offset first.
// Ordering only helps disk locality; every write is offset-addressed.
type Queue struct {
	mu     sync.Mutex
	heap   offsetHeap
	signal chan struct{}
}

func NewQueue(capacity int) *Queue {
	return &Queue{
		heap:   make(offsetHeap, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

func (q *Queue) Push(c *Chunk) {
	q.mu.Lock()
	heap.Push(&q.heap, c)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop returns the lowest-offset chunk without waiting.
func (q *Queue) TryPop() (*Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	return heap.Pop(&q.heap).(*Chunk), true
}

// Pop waits up to timeout for a chunk. It returns false on timeout or when
// ctx is done with the queue still empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Chunk, bool) {
	if c, ok := q.TryPop(); ok {
		return c, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			if c, ok := q.TryPop(); ok {
				return c, true
			}
		case <-timer.C:
			return q.TryPop()
		case <-ctx.Done():
			return q.TryPop()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
