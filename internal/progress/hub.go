package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// pipeline stages stay agnostic about how events are buffered or exported.
type Emitter interface {
	Emit(evt Event)
}

// Config sizes the hub's buffer and batching. Zero values take the defaults
// below; BaseContext parents every sink call and defaults to Background.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub collects events from the discovery, download, and extraction stages and
// fans batches out to its sinks. Emit never blocks: when the buffer is full
// the event is counted as dropped instead. Slow sinks cost events, not run
// throughput.
type Hub struct {
	cfg   Config
	sinks []Sink

	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closed      atomic.Bool
	closeOnce   sync.Once
	closeCtx    context.Context
}

// NewHub starts the batching goroutine; the hub accepts events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.pump()
	return h
}

// Emit enqueues one event. Invalid events are discarded, and a full buffer
// drops the event with a rate-limited warning.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		total := h.dropped.Add(1)
		if h.shouldLogDrop(time.Now()) {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped_total", total))
		}
	}
}

// Dropped reports how many events the hub has discarded under backpressure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close stops intake, drains buffered events through the sinks, closes them,
// and waits for the pump to exit. Later calls return once the first finishes.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// pump owns the batch. The flush timer is armed only while the batch holds
// events; a nil channel keeps the disarmed case out of the select.
func (h *Hub) pump() {
	defer close(h.done)

	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var timer *time.Timer
	var flushC <-chan time.Time

	arm := func() {
		if timer == nil {
			timer = time.NewTimer(h.cfg.MaxBatchWait)
		} else {
			timer.Reset(h.cfg.MaxBatchWait)
		}
		flushC = timer.C
	}
	disarm := func() {
		if flushC == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		flushC = nil
	}

	for {
		select {
		case evt := <-h.queue:
			if len(batch) == 0 {
				arm()
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				disarm()
				h.dispatch(batch)
				batch = batch[:0]
			}
		case <-flushC:
			flushC = nil
			if len(batch) > 0 {
				h.dispatch(batch)
				batch = batch[:0]
			}
		case <-h.quit:
			disarm()
			h.drain(batch)
			return
		}
	}
}

// drain empties whatever Emit managed to buffer before quit closed, then
// shuts the sinks down.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.dispatch(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.dispatch(batch)
			}
			h.shutdownSinks()
			return
		}
	}
}

func (h *Hub) dispatch(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks keep references past Consume (async exporters); hand each call
	// the same immutable copy rather than the reused batch slice.
	shared := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, shared); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) shutdownSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

func (h *Hub) shouldLogDrop(now time.Time) bool {
	nano := now.UnixNano()
	last := h.lastDropLog.Load()
	if nano-last < dropLogInterval.Nanoseconds() {
		return false
	}
	return h.lastDropLog.CompareAndSwap(last, nano)
}
