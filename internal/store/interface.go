package store

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TotalsDelta is added to a sender's running totals for one day.
type TotalsDelta struct {
	Gifts int64
	Coins int64
}

// SenderTotals is one row of per-sender payout accounting.
type SenderTotals struct {
	SenderID  string `json:"sender_id"`
	Nickname  string `json:"nickname,omitempty"`
	TotalDate string `json:"total_date"`
	GiftCount int64  `json:"gift_count"`
	CoinTotal int64  `json:"coin_total"`
}

// DataStore is the interface consumed by the batcher, processors, catalog and the API.
// The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertGiftEvents(ctx context.Context, recs []gifts.Record) error
	UpsertSenderTotal(ctx context.Context, senderID, nickname string, date time.Time, delta TotalsDelta) error
	QueryGiftEvents(ctx context.Context, senderID string, limit int) ([]gifts.Record, error)
	GetSenderTotals(ctx context.Context, senderID string) (SenderTotals, error)
	GetTotalsSummary(ctx context.Context) ([]SenderTotals, error)
	ListGifts(ctx context.Context) ([]gifts.CatalogEntry, error)
	UpsertGift(ctx context.Context, g gifts.CatalogEntry) error
	Close()
}
