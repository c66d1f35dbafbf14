package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterUnbounded(t *testing.T) {
	l := NewLimiter(0)
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
}

func TestLimiterBlocksAtMax(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := l.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatalf("second Acquire() should block at max")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("waiter not woken after Release()")
	}
}

func TestLimiterCancelDequeuesWaiter(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled waiter never returned")
	}

	// The slot must still be releasable and re-acquirable.
	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() after cancel error = %v", err)
	}
}

func TestLimiterFIFOOrder(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	order := make(chan int, 2)
	ready := make(chan struct{}, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			ready <- struct{}{}
			if err := l.Acquire(context.Background()); err == nil {
				order <- i
				l.Release()
			}
		}()
		<-ready
		time.Sleep(20 * time.Millisecond) // establish queue order
	}

	l.Release()
	first := <-order
	second := <-order
	if first != 1 || second != 2 {
		t.Fatalf("waiters served out of order: %d then %d", first, second)
	}
}
