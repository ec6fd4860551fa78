package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxParallel is used when no worker limit is configured.
const DefaultMaxParallel = 10

// RealizationScheduler fans work out over realizations with a bounded
// number of workers. Each realization only touches its own run path, so
// realizations need no coordination beyond the worker limit.
type RealizationScheduler struct {
	// maxParallel is the maximum number of concurrent workers
	maxParallel int

	// events receives per-realization progress, may be nil
	events EventPublisher

	logger zerolog.Logger
}

// NewRealizationScheduler creates a scheduler.
func NewRealizationScheduler(maxParallel int, events EventPublisher, logger zerolog.Logger) *RealizationScheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &RealizationScheduler{
		maxParallel: maxParallel,
		events:      events,
		logger:      logger.With().Str("component", "scheduler").Logger(),
	}
}

// MaxParallel returns the worker limit.
func (s *RealizationScheduler) MaxParallel() int {
	return s.maxParallel
}

// ForEach runs fn for every realization. The first failure cancels the
// remaining work and is returned.
func (s *RealizationScheduler) ForEach(
	ctx context.Context,
	runID, ensemble string,
	realizations []int,
	fn func(ctx context.Context, realization int) error,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for _, real := range realizations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s.publishEvent(gctx, runID, ensemble, real, EventTypeRealizationStarted, "started", nil)
			if err := fn(gctx, real); err != nil {
				s.publishEvent(gctx, runID, ensemble, real, EventTypeRealizationFailed, err.Error(), nil)
				return fmt.Errorf("realization %d: %w", real, err)
			}
			s.publishEvent(gctx, runID, ensemble, real, EventTypeRealizationCompleted, "completed", nil)
			return nil
		})
	}
	return g.Wait()
}

// Collect runs fn for every realization without cancelling on failure and
// returns the error of every realization that failed.
func (s *RealizationScheduler) Collect(
	ctx context.Context,
	runID, ensemble string,
	realizations []int,
	fn func(ctx context.Context, realization int) error,
) map[int]error {
	var mu sync.Mutex
	failed := make(map[int]error)

	g := new(errgroup.Group)
	g.SetLimit(s.maxParallel)
	for _, real := range realizations {
		g.Go(func() error {
			s.publishEvent(ctx, runID, ensemble, real, EventTypeRealizationStarted, "started", nil)
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, real)
			}
			if err != nil {
				s.publishEvent(ctx, runID, ensemble, real, EventTypeRealizationFailed, err.Error(), nil)
				mu.Lock()
				failed[real] = err
				mu.Unlock()
				return nil
			}
			s.publishEvent(ctx, runID, ensemble, real, EventTypeRealizationCompleted, "completed", nil)
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// publishEvent publishes a realization event. Publishing never fails the work.
func (s *RealizationScheduler) publishEvent(
	ctx context.Context,
	runID, ensemble string,
	realization int,
	eventType EventType,
	message string,
	details map[string]interface{},
) {
	if s.events == nil {
		return
	}

	event := &Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		RunID:       runID,
		Ensemble:    ensemble,
		Realization: realization,
		Message:     message,
		Details:     details,
		Level:       eventType.Severity(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
	}
}
