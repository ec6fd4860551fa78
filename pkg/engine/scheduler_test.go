package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRealizationScheduler_ForEach(t *testing.T) {
	events := &mockEventPublisher{}
	s := NewRealizationScheduler(2, events, zerolog.Nop())

	var mu sync.Mutex
	seen := make(map[int]bool)
	var running, peak int32

	err := s.ForEach(context.Background(), "run-1", "prior", []int{0, 1, 2, 3, 4}, func(ctx context.Context, real int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)

		mu.Lock()
		seen[real] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}

	if len(seen) != 5 {
		t.Errorf("processed %d realizations, want 5", len(seen))
	}
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak)
	}
	if got := len(events.ofType(EventTypeRealizationCompleted)); got != 5 {
		t.Errorf("got %d completed events, want 5", got)
	}
}

func TestRealizationScheduler_ForEachFailure(t *testing.T) {
	events := &mockEventPublisher{}
	s := NewRealizationScheduler(1, events, zerolog.Nop())
	boom := errors.New("boom")

	err := s.ForEach(context.Background(), "run-1", "prior", []int{0, 1, 2}, func(ctx context.Context, real int) error {
		if real == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ForEach() error = %v, want %v", err, boom)
	}
	if err.Error() != "realization 1: boom" {
		t.Errorf("error = %q", err.Error())
	}

	failed := events.ofType(EventTypeRealizationFailed)
	if len(failed) != 1 || failed[0].Realization != 1 || failed[0].Level != "error" {
		t.Errorf("failed events = %+v", failed)
	}
}

func TestRealizationScheduler_Collect(t *testing.T) {
	s := NewRealizationScheduler(0, nil, zerolog.Nop())
	if s.MaxParallel() != DefaultMaxParallel {
		t.Errorf("MaxParallel() = %d, want %d", s.MaxParallel(), DefaultMaxParallel)
	}

	var calls int32
	failed := s.Collect(context.Background(), "run-1", "prior", []int{0, 1, 2, 3}, func(ctx context.Context, real int) error {
		atomic.AddInt32(&calls, 1)
		if real%2 == 1 {
			return errors.New("odd")
		}
		return nil
	})

	if calls != 4 {
		t.Errorf("fn called %d times, want 4", calls)
	}
	if len(failed) != 2 || failed[1] == nil || failed[3] == nil {
		t.Errorf("failed = %v", failed)
	}
}

func TestRealizationScheduler_Cancelled(t *testing.T) {
	s := NewRealizationScheduler(1, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.ForEach(ctx, "run-1", "prior", []int{0, 1}, func(ctx context.Context, real int) error {
		t.Errorf("fn called for realization %d after cancel", real)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ForEach() error = %v, want context.Canceled", err)
	}
}
