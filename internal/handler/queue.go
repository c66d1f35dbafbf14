package handler

import "sync"

// ChannelQueues serializes work per channel. Each channel gets a FIFO
// queue drained by its own goroutine; different channels run in
// parallel.
type ChannelQueues struct {
	mu     sync.Mutex
	queues map[string]chan func()
	wg     sync.WaitGroup
	closed bool
}

// NewChannelQueues creates an empty queue set.
func NewChannelQueues() *ChannelQueues {
	return &ChannelQueues{queues: make(map[string]chan func())}
}

// Submit enqueues fn on channelID's queue, creating the worker on
// first use. Returns false after Close.
func (q *ChannelQueues) Submit(channelID string, fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	ch, ok := q.queues[channelID]
	if !ok {
		ch = make(chan func(), 64)
		q.queues[channelID] = ch
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for fn := range ch {
				fn()
			}
		}()
	}
	q.mu.Unlock()
	ch <- fn
	return true
}

// Close stops accepting work and waits for in-flight handlers.
func (q *ChannelQueues) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
