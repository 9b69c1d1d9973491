package streak

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultSweepInterval = 60 * time.Second
	DefaultIdleThreshold = 120 * time.Second
)

type SweeperConfig struct {
	Interval      time.Duration
	IdleThreshold time.Duration
}

// Sweeper periodically drops streaks that never received an end signal.
type Sweeper struct {
	store    *Store
	interval time.Duration
	idle     time.Duration
	now      func() time.Time

	done chan struct{}
}

func NewSweeper(s *Store, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	return &Sweeper{
		store:    s,
		interval: cfg.Interval,
		idle:     cfg.IdleThreshold,
		now:      func() time.Time { return time.Now().UTC() },
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep. Cancelling ctx stops further sweeps.
func (sw *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	go func() {
		defer ticker.Stop()
		defer close(sw.done)
		for {
			select {
			case <-ticker.C:
				sw.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the sweep goroutine has exited.
func (sw *Sweeper) Wait() {
	<-sw.done
}

func (sw *Sweeper) sweep() int {
	removed := sw.store.SweepExpired(sw.now(), sw.idle)
	if len(removed) == 0 {
		return 0
	}
	for _, k := range removed {
		slog.Debug("streak expired", "sender_id", k.SenderID, "gift_id", k.GiftID)
	}
	slog.Info("expired idle streaks", "count", len(removed), "idle_threshold", sw.idle)
	return len(removed)
}
