package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// EventSink persists or forwards every published event.
type EventSink interface {
	RecordEvent(ctx context.Context, event engine.Event) error
}

// EventBus publishes engine events to sinks and channel subscribers.
// Slow subscribers lose events rather than blocking the run.
type EventBus struct {
	config EventsConfig
	logger zerolog.Logger
	buffer chan engine.Event
	sinks  []EventSink
	subs   map[string]*subscription
	wg     sync.WaitGroup
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type subscription struct {
	filter engine.EventFilter
	ch     chan engine.Event
}

var _ engine.EventPublisher = (*EventBus)(nil)

// NewEventBus creates an event bus with the given configuration.
func NewEventBus(cfg EventsConfig, logger zerolog.Logger, sinks ...EventSink) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	eb := &EventBus{
		config: cfg,
		logger: logger,
		sinks:  sinks,
		subs:   make(map[string]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Enabled && cfg.EnableAsync {
		eb.buffer = make(chan engine.Event, cfg.BufferSize)
		eb.wg.Add(1)
		go eb.processEvents()
	}

	return eb
}

// AddSink registers an additional sink.
func (eb *EventBus) AddSink(sink EventSink) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.sinks = append(eb.sinks, sink)
}

// Publish publishes an event to all sinks and matching subscribers.
func (eb *EventBus) Publish(ctx context.Context, event *engine.Event) error {
	if !eb.config.Enabled || event == nil {
		return nil
	}

	e := *event
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = e.Type.Severity()
	}

	if eb.buffer == nil {
		if eb.isClosed() {
			return fmt.Errorf("event bus stopped")
		}
		eb.deliver(ctx, e)
		return nil
	}

	// Shutdown marks the bus closed under the write lock, so nothing is
	// queued after the processor started draining.
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return fmt.Errorf("event bus stopped")
	}
	select {
	case eb.buffer <- e:
		return nil
	default:
		return fmt.Errorf("event buffer full, %s event dropped", e.Type)
	}
}

func (eb *EventBus) isClosed() bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.closed
}

// Subscribe returns a channel receiving events that match filter. The
// subscription ends when ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, filter engine.EventFilter) (<-chan engine.Event, error) {
	_, ch, err := eb.SubscribeWithID(ctx, filter)
	return ch, err
}

// SubscribeWithID is Subscribe that also returns the subscription ID for Unsubscribe.
func (eb *EventBus) SubscribeWithID(ctx context.Context, filter engine.EventFilter) (string, <-chan engine.Event, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return "", nil, fmt.Errorf("event bus stopped")
	}

	id := uuid.New().String()
	sub := &subscription{
		filter: filter,
		ch:     make(chan engine.Event, eb.config.BufferSize),
	}
	eb.subs[id] = sub

	go func() {
		select {
		case <-ctx.Done():
			_ = eb.Unsubscribe(context.Background(), id)
		case <-eb.ctx.Done():
		}
	}()

	return id, sub.ch, nil
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(_ context.Context, subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subs, subscriptionID)
	close(sub.ch)
	return nil
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliver(context.Background(), event)
		case <-eb.ctx.Done():
			// Drain what was accepted before shutdown
			for {
				select {
				case event := <-eb.buffer:
					eb.deliver(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliver(ctx context.Context, event engine.Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sink := range eb.sinks {
		if err := sink.RecordEvent(ctx, event); err != nil {
			eb.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("event sink failed")
		}
	}

	for id, sub := range eb.subs {
		if !MatchesFilter(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			eb.logger.Debug().Str("subscription", id).Str("event_type", string(event.Type)).Msg("subscriber too slow, event dropped")
		}
	}
}

// Shutdown stops the bus after delivering buffered events and closes every
// subscriber channel.
func (eb *EventBus) Shutdown(ctx context.Context) error {
	eb.mu.Lock()
	eb.closed = true
	eb.mu.Unlock()
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown timeout")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()
	for id, sub := range eb.subs {
		close(sub.ch)
		delete(eb.subs, id)
	}
	return nil
}

var levelRank = map[string]int{
	"debug":   0,
	"info":    1,
	"warning": 2,
	"error":   3,
}

// MatchesFilter reports whether event passes every criterion set in filter.
func MatchesFilter(filter engine.EventFilter, event engine.Event) bool {
	if filter.RunID != "" && filter.RunID != event.RunID {
		return false
	}
	if filter.Ensemble != "" && filter.Ensemble != event.Ensemble {
		return false
	}
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinLevel != "" && levelRank[event.Level] < levelRank[filter.MinLevel] {
		return false
	}
	return true
}

// LogSink writes every event to a zerolog logger at the event's level.
type LogSink struct {
	Logger zerolog.Logger
}

// RecordEvent implements EventSink.
func (s LogSink) RecordEvent(_ context.Context, event engine.Event) error {
	var e *zerolog.Event
	switch event.Level {
	case "error":
		e = s.Logger.Error()
	case "warning":
		e = s.Logger.Warn()
	case "debug":
		e = s.Logger.Debug()
	default:
		e = s.Logger.Info()
	}

	e = e.Str("event_type", string(event.Type))
	if event.RunID != "" {
		e = e.Str("run_id", event.RunID)
	}
	if event.Ensemble != "" {
		e = e.Str("ensemble", event.Ensemble)
	}
	if event.Realization >= 0 {
		e = e.Int("realization", event.Realization)
	}
	if len(event.Details) > 0 {
		e = e.Fields(event.Details)
	}
	e.Msg(event.Message)
	return nil
}
