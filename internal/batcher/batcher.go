package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/store"
)

// RecordProcessor handles a single record after it has been written (payout totals).
type RecordProcessor interface {
	Process(ctx context.Context, rec gifts.Record)
}

// Batcher is the gift event log sink. Emit only buffers; writes happen on
// the flush path.
type Batcher struct {
	store          store.DataStore
	processors     []RecordProcessor
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []gifts.Record
	consecutiveFail int
	natsPublish     func(subject string, data []byte) error

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

const (
	DefaultFlushInterval  = 2 * time.Second
	DefaultFlushThreshold = 100
	DefaultBufferMax      = 10000
)

func New(s store.DataStore, cfg Config, procs ...RecordProcessor) *Batcher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = DefaultFlushThreshold
	}
	if cfg.BufferMax <= 0 {
		cfg.BufferMax = DefaultBufferMax
	}
	return &Batcher{
		store:          s,
		processors:     procs,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]gifts.Record, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetNATSPublisher sets the function used to publish system alerts back to NATS.
func (b *Batcher) SetNATSPublisher(fn func(subject string, data []byte) error) {
	b.natsPublish = fn
}

// Emit satisfies the normalizer's sink contract.
func (b *Batcher) Emit(_ context.Context, rec gifts.Record) error {
	b.Add(rec)
	return nil
}

// Add enqueues a normalized record for batched writing.
func (b *Batcher) Add(rec gifts.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Backpressure: drop oldest if buffer full.
	if len(b.buffer) >= b.bufferMax {
		dropped := len(b.buffer) - b.bufferMax + 1
		b.buffer = b.buffer[dropped:]
		slog.Warn("buffer overflow, dropping oldest gift records", "dropped", dropped, "buffer_size", b.bufferMax)
		b.publishAlert("giftstream.alert.buffer_overflow", []byte(`{"message":"buffer overflow, dropping gift records"}`))
	}

	b.buffer = append(b.buffer, rec)

	if len(b.buffer) >= b.flushThreshold {
		go b.flush()
	}
}

// Start begins the periodic flush ticker.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-ctx.Done():
				// Final flush on shutdown.
				b.flush()
				close(b.done)
				return
			}
		}
	}()
}

// Wait blocks until the batcher has completed its final flush.
func (b *Batcher) Wait() {
	<-b.done
}

// BufferLen returns the current buffer size (for status checks).
func (b *Batcher) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]gifts.Record, 0, b.flushThreshold)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("flushing gift batch", "count", len(batch))

	if err := b.store.InsertGiftEvents(ctx, batch); err != nil {
		slog.Error("failed to insert gift events", "error", err, "count", len(batch))
		b.handleWriteFailure(batch)
		return
	}

	b.mu.Lock()
	b.consecutiveFail = 0
	b.mu.Unlock()

	for _, p := range b.processors {
		for _, rec := range batch {
			p.Process(ctx, rec)
		}
	}

	slog.Info("gift batch flushed", "count", len(batch))
}

func (b *Batcher) handleWriteFailure(batch []gifts.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++

	// Re-queue the failed batch ahead of anything added since.
	b.buffer = append(batch, b.buffer...)

	if len(b.buffer) > b.bufferMax {
		b.buffer = b.buffer[len(b.buffer)-b.bufferMax:]
	}

	if b.consecutiveFail >= 3 {
		slog.Error("3 consecutive gift log write failures", "buffer_size", len(b.buffer))
		b.publishAlert("giftstream.alert.write_failure", []byte(`{"message":"3 consecutive gift log write failures"}`))
	}
}

func (b *Batcher) publishAlert(subject string, data []byte) {
	if b.natsPublish != nil {
		if err := b.natsPublish(subject, data); err != nil {
			slog.Error("failed to publish alert", "subject", subject, "error", err)
		}
	}
}
