package order

import "context"

// Queue buffers orders before execution. It is the in-process staging
// queue beneath PersistentQueue; neither is wired into the executor.
type Queue struct {
	ch chan Order
}

// NewQueue builds a buffered order queue.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Order, size)}
}

// Enqueue buffers an order, reporting false if the queue is full.
func (q *Queue) Enqueue(o Order) bool {
	select {
	case q.ch <- o:
		return true
	default:
		return false
	}
}

func (q *Queue) Chan() <-chan Order {
	return q.ch
}

func (q *Queue) Close() {
	close(q.ch)
}

// Len reports the number of orders currently buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain consumes orders with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(Order)) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-q.ch:
			if !ok {
				return
			}
			handler(o)
		}
	}
}
