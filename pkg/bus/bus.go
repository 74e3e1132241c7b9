package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned when using a closed CommandQueue.
var ErrQueueClosed = errors.New("command queue closed")

// CommandQueue is an unbounded FIFO hand-off between the stdin reader and the
// peer dispatcher. Producers never block; consumers wait on ctx.
type CommandQueue struct {
	mu     sync.Mutex
	items  []Command
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue appends cmd to the tail of the queue.
func (q *CommandQueue) Enqueue(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Requeue puts cmd back at the head of the queue. It is used for a command
// that was dequeued but never handed to the transport.
func (q *CommandQueue) Requeue(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, Command{})
	copy(q.items[1:], q.items)
	q.items[0] = cmd
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes and returns the head of the queue, waiting until a command
// is available, ctx is done, or the queue is closed.
func (q *CommandQueue) Dequeue(ctx context.Context) (Command, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Command{}, ErrQueueClosed
		}
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = Command{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return cmd, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return Command{}, ErrQueueClosed
		case <-ctx.Done():
			return Command{}, ctx.Err()
		}
	}
}

// Len reports the number of queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *CommandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.items = nil
		close(q.done)
	}
}

func (q *CommandQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
