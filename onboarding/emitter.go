package onboarding

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Emitter receives step events. Emit must not block the caller and has no
// error return: delivery is best effort.
type Emitter interface {
	Emit(ev StepEvent)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev StepEvent)

func (f EmitterFunc) Emit(ev StepEvent) { f(ev) }

type nopEmitter struct{}

func (nopEmitter) Emit(StepEvent) {}

// Sink delivers a batch of step events to the event store.
type Sink interface {
	SendStepEvents(ctx context.Context, events []StepEvent) error
}

type AsyncConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	SendTimeout   time.Duration
	// OnError is called for every dropped event and every batch the sink
	// rejects. Drops are reported on the emitting goroutine, send failures on
	// the worker.
	OnError func(err error, events []StepEvent)
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	return c
}

// AsyncEmitter buffers events in memory and ships them to a Sink from a single
// worker goroutine. A full buffer drops the event.
type AsyncEmitter struct {
	sink   Sink
	cfg    AsyncConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan StepEvent
	done   chan struct{}
}

func NewAsyncEmitter(sink Sink, cfg AsyncConfig, logger *zap.Logger) *AsyncEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	a := &AsyncEmitter{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		events: make(chan StepEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncEmitter) Emit(ev StepEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.report(ErrEmitterClosed, []StepEvent{ev})
		return
	}
	select {
	case a.events <- ev:
	default:
		a.report(ErrEmitterFull, []StepEvent{ev})
	}
}

// Close stops accepting events and waits for buffered ones to be sent or for
// ctx to end.
func (a *AsyncEmitter) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncEmitter) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]StepEvent, 0, a.cfg.BatchSize)
	for {
		select {
		case ev, ok := <-a.events:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= a.cfg.BatchSize {
				a.flush(batch)
				batch = make([]StepEvent, 0, a.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = make([]StepEvent, 0, a.cfg.BatchSize)
			}
		}
	}
}

func (a *AsyncEmitter) flush(batch []StepEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()

	if err := a.sink.SendStepEvents(ctx, batch); err != nil {
		a.report(err, batch)
		return
	}
	a.logger.Debug("step events delivered", zap.Int("count", len(batch)))
}

func (a *AsyncEmitter) report(err error, events []StepEvent) {
	a.logger.Warn("step events not delivered", zap.Int("count", len(events)), zap.Error(err))
	if a.cfg.OnError != nil {
		a.cfg.OnError(err, events)
	}
}
