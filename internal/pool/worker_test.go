package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	wp := New(4)
	defer wp.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		err := wp.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := counter.Load(); got != 100 {
		t.Fatalf("ran %d tasks, want 100", got)
	}
}

func TestWorkerPoolCloseDrains(t *testing.T) {
	wp := New(2)

	var counter atomic.Int64
	for i := 0; i < 20; i++ {
		if err := wp.Submit(context.Background(), func() {
			counter.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	wp.Close()

	if got := counter.Load(); got != 20 {
		t.Fatalf("close drained %d tasks, want 20", got)
	}
}

func TestWorkerPoolSubmitAfterClose(t *testing.T) {
	wp := New(1)
	wp.Close()
	wp.Close() // idempotent

	err := wp.Submit(context.Background(), func() {})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
