package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *memorySink) WriteEvents(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}, nil)
	p.Start(context.Background())

	for i := 0; i < 3; i++ {
		p.Record(Event{Kind: EventEntityMutated, UserID: "u1"})
	}

	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 10*time.Millisecond)
	p.Stop()
}

func TestPipelineFlushesOnStop(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, nil)
	p.Start(context.Background())

	p.Record(Event{Kind: EventSyncCompleted, UserID: "u1"})
	p.Stop()

	assert.Equal(t, 1, sink.count())
	assert.True(t, sink.closed)
}

func TestPipelineDropsWhenBufferFull(t *testing.T) {
	sink := &memorySink{}
	p := NewPipeline(zerolog.Nop(), sink, Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 1, Workers: 0}, nil)
	// Deliberately do not Start(): nothing drains the channel, so the
	// second Record must observe a full buffer and drop.
	p.Record(Event{Kind: EventEntityMutated})
	p.Record(Event{Kind: EventEntityMutated})

	assert.EqualValues(t, 1, p.Stats().Dropped)
}
