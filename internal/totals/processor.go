// Package totals rolls normalized gift records up into per-sender daily
// payout totals.
package totals

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/store"
)

type Processor struct {
	store store.DataStore
}

func NewProcessor(s store.DataStore) *Processor {
	return &Processor{store: s}
}

// Process adds rec's incremental count and coin value to the sender's total
// for the UTC day it was emitted.
func (p *Processor) Process(ctx context.Context, rec gifts.Record) {
	if rec.SenderID == "" || rec.CoinValue <= 0 {
		return
	}

	delta := store.TotalsDelta{Gifts: rec.IncrementalCount, Coins: rec.CoinValue}
	if err := p.store.UpsertSenderTotal(ctx, rec.SenderID, rec.SenderNickname, rec.EmittedAt, delta); err != nil {
		slog.Error("failed to update sender totals", "sender_id", rec.SenderID, "event_id", rec.EventID, "error", err)
	}
}
