package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/testutil"
)

func makeRecord(id, sender string, count int64) gifts.Record {
	return gifts.Record{
		NormalizedGiftEvent: gifts.NormalizedGiftEvent{
			EventID:          id,
			SenderID:         sender,
			GiftID:           5655,
			GiftName:         "Rose",
			IncrementalCount: count,
			CoinValue:        count * 2,
			EmittedAt:        time.Now().UTC(),
		},
		SenderNickname: "Nick " + sender,
	}
}

// countingProcessor records every record handed to it.
type countingProcessor struct {
	mu   sync.Mutex
	seen []gifts.Record
}

func (c *countingProcessor) Process(_ context.Context, rec gifts.Record) {
	c.mu.Lock()
	c.seen = append(c.seen, rec)
	c.mu.Unlock()
}

func (c *countingProcessor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func newTestBatcher(ms *testutil.MockStore, threshold, bufMax int, procs ...RecordProcessor) *Batcher {
	return New(ms, Config{
		FlushInterval:  1 * time.Hour, // long interval so we control flush manually
		FlushThreshold: threshold,
		BufferMax:      bufMax,
	}, procs...)
}

func TestEmit_BuffersRecords(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	if err := b.Emit(context.Background(), makeRecord("1", "felix", 19)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Add(makeRecord("2", "felix", 3))

	if b.BufferLen() != 2 {
		t.Errorf("expected buffer length 2, got %d", b.BufferLen())
	}
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls before flush, got %d", ms.GetInsertCalls())
	}
}

func TestFlush_WritesAndRunsProcessors(t *testing.T) {
	ms := testutil.NewMockStore()
	proc := &countingProcessor{}
	b := newTestBatcher(ms, 1000, 10000, proc)

	b.Add(makeRecord("1", "felix", 19))
	b.Add(makeRecord("2", "felix", 3))
	b.flush()

	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.BufferLen())
	}
	if ms.GetInsertCalls() != 1 {
		t.Errorf("expected 1 insert call, got %d", ms.GetInsertCalls())
	}
	if ms.GetRecordCount() != 2 {
		t.Errorf("expected 2 records stored, got %d", ms.GetRecordCount())
	}
	if proc.count() != 2 {
		t.Errorf("expected processor to see 2 records, got %d", proc.count())
	}
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	b.flush()
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls on empty buffer, got %d", ms.GetInsertCalls())
	}
}

func TestThreshold_TriggersFlush(t *testing.T) {
	ms := testutil.NewMockStore()
	threshold := 5
	b := newTestBatcher(ms, threshold, 10000)

	for i := 0; i < threshold; i++ {
		b.Add(makeRecord(fmt.Sprintf("%d", i), "felix", 1))
	}

	// The threshold-triggered flush runs in a goroutine. Wait briefly.
	time.Sleep(100 * time.Millisecond)

	if ms.GetInsertCalls() < 1 {
		t.Errorf("expected at least 1 insert call after reaching threshold, got %d", ms.GetInsertCalls())
	}
}

func TestBackpressure_DropsOldestRecords(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("db down")
	bufMax := 10
	b := newTestBatcher(ms, 1000, bufMax)

	var alerts []string
	var mu sync.Mutex
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		alerts = append(alerts, subject)
		mu.Unlock()
		return nil
	})

	for i := 0; i < bufMax+5; i++ {
		b.Add(makeRecord(fmt.Sprintf("rec-%d", i), "felix", 1))
	}

	if b.BufferLen() > bufMax {
		t.Errorf("expected buffer <= %d, got %d", bufMax, b.BufferLen())
	}

	b.mu.Lock()
	first := b.buffer[0].EventID
	b.mu.Unlock()
	if first != "rec-5" {
		t.Errorf("expected oldest records dropped, first is %s", first)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) == 0 || alerts[0] != "giftstream.alert.buffer_overflow" {
		t.Errorf("expected buffer_overflow alert, got %v", alerts)
	}
}

func TestWriteFailure_RequeueBatch(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	proc := &countingProcessor{}
	b := newTestBatcher(ms, 1000, 10000, proc)

	b.Add(makeRecord("1", "felix", 19))
	b.Add(makeRecord("2", "felix", 3))
	b.flush()

	if b.BufferLen() != 2 {
		t.Errorf("expected 2 records re-queued, got %d", b.BufferLen())
	}
	if proc.count() != 0 {
		t.Errorf("expected processors skipped on write failure, got %d", proc.count())
	}
}

func TestConsecutiveFailures_AlertsAfterThree(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	b := newTestBatcher(ms, 1000, 10000)

	var alerts []string
	var mu sync.Mutex
	b.SetNATSPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		alerts = append(alerts, subject)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		b.Add(makeRecord(fmt.Sprintf("%d", i), "felix", 1))
		b.flush()
	}

	mu.Lock()
	defer mu.Unlock()

	found := false
	for _, a := range alerts {
		if a == "giftstream.alert.write_failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected write_failure alert after 3 consecutive failures, got alerts: %v", alerts)
	}
}

func TestConsecutiveFailures_ResetsOnSuccess(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.InsertErr = fmt.Errorf("connection refused")
	b := newTestBatcher(ms, 1000, 10000)

	b.Add(makeRecord("1", "felix", 1))
	b.flush()
	b.Add(makeRecord("2", "felix", 1))
	b.flush()

	ms.SetInsertErr(nil)
	b.flush()

	b.mu.Lock()
	cf := b.consecutiveFail
	b.mu.Unlock()

	if cf != 0 {
		t.Errorf("expected consecutiveFail reset to 0, got %d", cf)
	}
	if ms.GetRecordCount() != 2 {
		t.Errorf("expected re-queued records written once recovered, got %d", ms.GetRecordCount())
	}
}

func TestStartAndShutdown(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)
	b.flushInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Add(makeRecord("1", "felix", 1))

	time.Sleep(150 * time.Millisecond)

	cancel()
	b.Wait()

	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after shutdown, got %d", b.BufferLen())
	}
}

func TestConcurrentAdds(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 100000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Add(makeRecord(fmt.Sprintf("rec-%d", n), "felix", 1))
		}(i)
	}
	wg.Wait()

	if b.BufferLen() != 100 {
		t.Errorf("expected 100 records, got %d", b.BufferLen())
	}
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	ms := testutil.NewMockStore()
	b := New(ms, Config{})

	if b.bufferMax != DefaultBufferMax || b.flushThreshold != DefaultFlushThreshold || b.flushInterval != DefaultFlushInterval {
		t.Fatalf("expected defaults, got max=%d threshold=%d interval=%v", b.bufferMax, b.flushThreshold, b.flushInterval)
	}

	// Neither of these may panic with a zero config.
	b.Add(makeRecord("1", "felix", 1))
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	cancel()
	b.Wait()

	if ms.GetRecordCount() != 1 {
		t.Errorf("expected record flushed on shutdown, got %d", ms.GetRecordCount())
	}
}
