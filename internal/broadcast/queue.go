package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/streak"
)

const DefaultQueueSize = 1024

var (
	ErrQueueFull   = errors.New("broadcast queue full, record dropped")
	ErrQueueClosed = errors.New("broadcast queue closed")
)

// QueueErrorFunc is called from the queue worker when the wrapped sink fails.
type QueueErrorFunc func(ctx context.Context, rec gifts.Record, err error)

// Queue decouples a slow sink (Redis publish with retries) from the
// normalizer lanes. Emit never blocks: when the buffer is full the record
// is dropped and ErrQueueFull returned.
type Queue struct {
	name  string
	sink  streak.Sink
	ch    chan gifts.Record
	onErr QueueErrorFunc

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueue(name string, sink streak.Sink, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:   name,
		sink:   sink,
		ch:     make(chan gifts.Record, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// SetErrorHandler registers a callback for records the wrapped sink rejected.
// Set it before the first Emit.
func (q *Queue) SetErrorHandler(fn QueueErrorFunc) {
	q.onErr = fn
}

func (q *Queue) Emit(_ context.Context, rec gifts.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- rec:
		return nil
	default:
		if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("broadcast queue full, dropping records", "sink", q.name, "dropped_total", n)
		}
		return ErrQueueFull
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for rec := range q.ch {
		if err := q.sink.Emit(q.ctx, rec); err != nil {
			q.failed.Add(1)
			slog.Warn("queued sink failed", "sink", q.name, "event_id", rec.EventID, "error", err)
			if q.onErr != nil {
				q.onErr(q.ctx, rec, err)
			}
		}
	}
}

// Dropped reports how many records were refused because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Failed reports how many queued records the wrapped sink rejected.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// Close stops accepting records and waits for the backlog to drain. If ctx
// ends first, in-flight work is canceled and the rest is discarded.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}
