package streak

import (
	"context"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

func TestSweep_RemovesExpired(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 2, 12, 21, 0, 0, 0, time.UTC)
	s.Observe(gifts.StreakKey{SenderID: "gone", GiftID: 1}, 3, now.Add(-10*time.Minute))
	s.Observe(gifts.StreakKey{SenderID: "live", GiftID: 1}, 3, now.Add(-10*time.Second))

	sw := NewSweeper(s, SweeperConfig{Interval: time.Hour, IdleThreshold: time.Minute})
	sw.now = func() time.Time { return now }

	if n := sw.sweep(); n != 1 {
		t.Errorf("expected 1 expired streak, got %d", n)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 remaining streak, got %d", s.Len())
	}
}

func TestSweeper_Defaults(t *testing.T) {
	sw := NewSweeper(NewStore(), SweeperConfig{})
	if sw.interval != DefaultSweepInterval {
		t.Errorf("expected default interval, got %v", sw.interval)
	}
	if sw.idle != DefaultIdleThreshold {
		t.Errorf("expected default idle threshold, got %v", sw.idle)
	}
}

func TestSweeper_StartAndShutdown(t *testing.T) {
	s := NewStore()
	s.Observe(gifts.StreakKey{SenderID: "stale", GiftID: 1}, 2, time.Now().UTC().Add(-time.Hour))

	sw := NewSweeper(s, SweeperConfig{Interval: 20 * time.Millisecond, IdleThreshold: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Error("expected ticker sweep to remove stale streak")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		sw.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
