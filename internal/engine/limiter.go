package engine

import (
	"container/list"
	"context"
	"sync"
)

// Limiter bounds concurrent runtime invocations process-wide. Waiters are
// served FIFO; cancelling a waiting context dequeues it without starting
// the invocation. A zero max means unbounded.
type Limiter struct {
	mu      sync.Mutex
	max     int
	active  int
	waiters *list.List // of chan struct{}
}

// NewLimiter creates a limiter allowing max concurrent holders.
func NewLimiter(max int) *Limiter {
	return &Limiter{max: max, waiters: list.New()}
}

// Acquire blocks until a slot is available or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.max <= 0 || l.active < l.max {
		l.active++
		l.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		// The slot may have been granted concurrently with cancellation;
		// pass it on rather than leaking it.
		select {
		case <-ready:
			l.grantNextLocked()
		default:
			l.waiters.Remove(elem)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot and wakes the oldest waiter.
func (l *Limiter) Release() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grantNextLocked()
}

func (l *Limiter) grantNextLocked() {
	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	if l.active > 0 {
		l.active--
	}
}

// Active returns the number of held slots (waiters excluded).
func (l *Limiter) Active() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// limitedRuntime wraps a Runtime with a shared limiter.
type limitedRuntime struct {
	Runtime
	limiter *Limiter
}

// Limited wraps rt so every invocation first acquires a slot in limiter.
// The slot is held until the event stream terminates.
func Limited(rt Runtime, limiter *Limiter) Runtime {
	if limiter == nil {
		return rt
	}
	return &limitedRuntime{Runtime: rt, limiter: limiter}
}

func (l *limitedRuntime) Invoke(ctx context.Context, params InvokeParams) (<-chan Event, error) {
	if err := l.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	inner, err := l.Runtime.Invoke(ctx, params)
	if err != nil {
		l.limiter.Release()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer l.limiter.Release()
		for ev := range inner {
			out <- ev
		}
	}()
	return out, nil
}
