package streak

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

// DefaultValueMultiplier converts a gift's unit value into coins.
const DefaultValueMultiplier = 2

// Sink receives normalized gift records. Implementations must not block on
// slow consumers for long; the normalizer calls them inline.
type Sink interface {
	Emit(ctx context.Context, rec gifts.Record) error
}

// SinkErrorFunc is called when a sink rejects a record.
type SinkErrorFunc func(ctx context.Context, sink string, rec gifts.Record, err error)

type Config struct {
	ValueMultiplier int64
}

// Stats is a point-in-time snapshot of normalizer counters.
type Stats struct {
	Processed     int64 `json:"processed"`
	Emitted       int64 `json:"emitted"`
	Suppressed    int64 `json:"suppressed"`
	Rejected      int64 `json:"rejected"`
	SinkFailures  int64 `json:"sink_failures"`
	CoinsEmitted  int64 `json:"coins_emitted"`
	ActiveStreaks int   `json:"active_streaks"`
}

// Normalizer turns cumulative streak counts into incremental gift events.
type Normalizer struct {
	store      *Store
	logSink    Sink
	broadcast  Sink
	multiplier int64
	now        func() time.Time
	onSinkErr  SinkErrorFunc

	processed    atomic.Int64
	emitted      atomic.Int64
	suppressed   atomic.Int64
	rejected     atomic.Int64
	sinkFailures atomic.Int64
	coins        atomic.Int64
}

func NewNormalizer(store *Store, logSink, broadcast Sink, cfg Config) *Normalizer {
	m := cfg.ValueMultiplier
	if m <= 0 {
		m = DefaultValueMultiplier
	}
	return &Normalizer{
		store:      store,
		logSink:    logSink,
		broadcast:  broadcast,
		multiplier: m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetSinkErrorHandler registers a callback for sink failures.
func (n *Normalizer) SetSinkErrorHandler(fn SinkErrorFunc) {
	n.onSinkErr = fn
}

// Process normalizes one raw event. It returns the emitted event and true
// when a delta worth billing was observed. Invalid input is rejected
// without touching the store.
func (n *Normalizer) Process(ctx context.Context, raw gifts.RawGiftEvent) (gifts.NormalizedGiftEvent, bool, error) {
	if err := raw.Validate(); err != nil {
		n.rejected.Add(1)
		return gifts.NormalizedGiftEvent{}, false, err
	}
	n.processed.Add(1)

	key := raw.Key()

	// Activity is stamped with our own clock, the one the sweeper compares
	// against. The connector's observed_at only travels with the record.
	prev := n.store.Observe(key, raw.RepeatCount, n.now())

	// Counts never decrease within a streak, so same-or-lower means a new one.
	incremental := raw.RepeatCount
	if raw.RepeatCount > prev {
		incremental = raw.RepeatCount - prev
	}

	var coins int64
	if raw.Gift.UnitValue > 0 && incremental > 0 {
		coins = raw.Gift.UnitValue * n.multiplier * incremental
	}

	var (
		out  gifts.NormalizedGiftEvent
		emit = incremental > 0 && coins > 0
	)
	if emit {
		out = gifts.NormalizedGiftEvent{
			EventID:          uuid.New().String(),
			SenderID:         raw.SenderID,
			GiftID:           raw.GiftID,
			GiftName:         raw.Gift.Name,
			IncrementalCount: incremental,
			CoinValue:        coins,
			EmittedAt:        n.now(),
		}
		n.deliver(ctx, gifts.Record{
			NormalizedGiftEvent: out,
			SenderNickname:      raw.SenderNickname,
			GiftPictureURL:      raw.Gift.PictureURL,
			DiamondCount:        raw.Gift.UnitValue,
			ObservedAt:          raw.ObservedAt,
		})
		n.emitted.Add(1)
		n.coins.Add(coins)
	} else {
		n.suppressed.Add(1)
		slog.Debug("gift suppressed",
			"sender_id", raw.SenderID,
			"gift_id", raw.GiftID,
			"repeat_count", raw.RepeatCount,
			"previous", prev,
			"unit_value", raw.Gift.UnitValue,
		)
	}

	// Cleared only after emission so the final increment is never lost.
	if raw.StreakEnded {
		n.store.Remove(key)
	}

	return out, emit, nil
}

func (n *Normalizer) deliver(ctx context.Context, rec gifts.Record) {
	n.emitTo(ctx, "log", n.logSink, rec)
	n.emitTo(ctx, "broadcast", n.broadcast, rec)
}

func (n *Normalizer) emitTo(ctx context.Context, name string, s Sink, rec gifts.Record) {
	if s == nil {
		return
	}
	if err := s.Emit(ctx, rec); err != nil {
		n.sinkFailures.Add(1)
		slog.Warn("gift sink failed",
			"sink", name,
			"event_id", rec.EventID,
			"sender_id", rec.SenderID,
			"error", err,
		)
		if n.onSinkErr != nil {
			// The hook may do network I/O (alerting); keep it off the lane.
			go n.onSinkErr(context.WithoutCancel(ctx), name, rec, err)
		}
	}
}

// Stats returns the current counters.
func (n *Normalizer) Stats() Stats {
	return Stats{
		Processed:     n.processed.Load(),
		Emitted:       n.emitted.Load(),
		Suppressed:    n.suppressed.Load(),
		Rejected:      n.rejected.Load(),
		SinkFailures:  n.sinkFailures.Load(),
		CoinsEmitted:  n.coins.Load(),
		ActiveStreaks: n.store.Len(),
	}
}
