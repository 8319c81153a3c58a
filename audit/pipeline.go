// Package audit implements an append-only activity log: entity
// mutations, sync completions, and classifier decisions are recorded
// asynchronously so the request/sync path never blocks on the sink.
// Collapsed from a buffered, batching analytics ingestion pipeline with
// three event channels and a ClickHouse sink down to one event channel
// and a pluggable Sink, since this domain has no need for per-event-type
// fan-out or columnar-store throughput.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/metrics"
)

// EventKind classifies an audit Event.
type EventKind string

const (
	EventEntityMutated     EventKind = "entity_mutated"
	EventSyncCompleted     EventKind = "sync_completed"
	EventConflictSurfaced  EventKind = "conflict_surfaced"
	EventPredictionMade    EventKind = "prediction_made"
	EventPredictionOutcome EventKind = "prediction_outcome"
)

// Event is one audit-log entry.
type Event struct {
	Kind      EventKind      `json:"kind"`
	UserID    string         `json:"user_id"`
	EntityID  string         `json:"entity_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink persists a batch of events.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
	Close() error
}

// Config controls batching and backpressure.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Workers       int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Pipeline is the async audit ingestion engine: Record never blocks the
// caller beyond a full channel, in which case the event is dropped and
// counted rather than applying backpressure to the store or sync path.
type Pipeline struct {
	logger  zerolog.Logger
	cfg     Config
	sink    Sink
	metrics *metrics.Metrics

	events chan Event
	wg     sync.WaitGroup
	cancel context.CancelFunc

	received atomic.Int64
	written  atomic.Int64
	dropped  atomic.Int64
}

// NewPipeline constructs a Pipeline. m may be nil in tests that don't
// assert on exported metrics.
func NewPipeline(logger zerolog.Logger, sink Sink, cfg Config, m *metrics.Metrics) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		logger:  logger.With().Str("component", "audit-pipeline").Logger(),
		cfg:     cfg,
		sink:    sink,
		metrics: m,
		events:  make(chan Event, cfg.BufferSize),
	}
}

// Start launches the flush workers.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop cancels the workers, drains any buffered events through one
// final flush, and closes the sink.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.drain()
	_ = p.sink.Close()
}

// Record enqueues an event. Non-blocking: a full buffer drops the event
// rather than stalling the caller (the store/sync path never waits on
// audit logging).
func (p *Pipeline) Record(ev Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	p.received.Add(1)
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.AuditDropped.Inc()
		}
		p.logger.Warn().Str("kind", string(ev.Kind)).Msg("audit event buffer full, dropping event")
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	batch := make([]Event, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func(fctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := p.sink.WriteEvents(fctx, batch); err != nil {
			p.logger.Error().Err(err).Int("count", len(batch)).Msg("audit flush failed")
		} else {
			p.written.Add(int64(len(batch)))
			if p.metrics != nil {
				p.metrics.AuditWritten.Add(float64(len(batch)))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// ctx is already done; flush the partial batch with a fresh one.
			flush(context.Background())
			return
		case ev := <-p.events:
			batch = append(batch, ev)
			if len(batch) >= p.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// drain flushes whatever is left in the channel after Stop cancels the
// workers, using a fresh background context since ctx passed to Start
// is already done.
func (p *Pipeline) drain() {
	batch := make([]Event, 0, p.cfg.BatchSize)
	for {
		select {
		case ev := <-p.events:
			batch = append(batch, ev)
			if len(batch) >= p.cfg.BatchSize {
				if err := p.sink.WriteEvents(context.Background(), batch); err == nil {
					p.written.Add(int64(len(batch)))
					if p.metrics != nil {
						p.metrics.AuditWritten.Add(float64(len(batch)))
					}
				}
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				if err := p.sink.WriteEvents(context.Background(), batch); err == nil {
					p.written.Add(int64(len(batch)))
					if p.metrics != nil {
						p.metrics.AuditWritten.Add(float64(len(batch)))
					}
				}
			}
			return
		}
	}
}

// Stats reports pipeline counters.
type Stats struct {
	Received int64
	Written  int64
	Dropped  int64
}

func (p *Pipeline) Stats() Stats {
	return Stats{Received: p.received.Load(), Written: p.written.Load(), Dropped: p.dropped.Load()}
}

// LogSink writes events through the structured logger; the default
// sink when no external audit store is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit-log-sink").Logger()}
}

func (s *LogSink) WriteEvents(_ context.Context, events []Event) error {
	for _, ev := range events {
		s.logger.Info().
			Str("kind", string(ev.Kind)).
			Str("user", ev.UserID).
			Str("entity", ev.EntityID).
			Interface("detail", ev.Detail).
			Time("at", ev.CreatedAt).
			Msg("audit event")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
