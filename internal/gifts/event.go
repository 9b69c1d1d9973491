package gifts

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// ErrInvalidEvent marks a raw gift event that cannot be normalized.
var ErrInvalidEvent = errors.New("invalid gift event")

// Metadata describes a gift as known to the catalog.
type Metadata struct {
	Name       string `json:"name"`
	UnitValue  int64  `json:"unit_value"`
	PictureURL string `json:"picture_url,omitempty"`
}

// RawGiftEvent is one gift message as reported by the live connector.
// RepeatCount is cumulative within the current streak.
type RawGiftEvent struct {
	SenderID       string
	SenderNickname string
	GiftID         int64
	Gift           Metadata
	RepeatCount    int64
	StreakEnded    bool
	ObservedAt     time.Time
}

// Key returns the streak key this event belongs to.
func (e RawGiftEvent) Key() StreakKey {
	return StreakKey{SenderID: e.SenderID, GiftID: e.GiftID}
}

// Validate reports whether the event can be fed to the normalizer.
func (e RawGiftEvent) Validate() error {
	if e.SenderID == "" {
		return fmt.Errorf("%w: missing sender id", ErrInvalidEvent)
	}
	if e.GiftID == 0 {
		return fmt.Errorf("%w: missing gift id", ErrInvalidEvent)
	}
	if e.RepeatCount < 0 {
		return fmt.Errorf("%w: negative repeat count %d", ErrInvalidEvent, e.RepeatCount)
	}
	return nil
}

// StreakKey identifies one outstanding streak.
type StreakKey struct {
	SenderID string
	GiftID   int64
}

func (k StreakKey) String() string {
	return k.SenderID + ":" + strconv.FormatInt(k.GiftID, 10)
}

// NormalizedGiftEvent carries only the sends observed since the previous
// event for the same streak key.
type NormalizedGiftEvent struct {
	EventID          string    `json:"event_id"`
	SenderID         string    `json:"sender_id"`
	GiftID           int64     `json:"gift_id"`
	GiftName         string    `json:"gift_name"`
	IncrementalCount int64     `json:"incremental_count"`
	CoinValue        int64     `json:"coin_value"`
	EmittedAt        time.Time `json:"emitted_at"`
}

// Record is what the log and broadcast sinks receive.
type Record struct {
	NormalizedGiftEvent
	SenderNickname string    `json:"sender_nickname,omitempty"`
	GiftPictureURL string    `json:"gift_picture_url,omitempty"`
	DiamondCount   int64     `json:"diamond_count"`
	ObservedAt     time.Time `json:"observed_at"`
}

// CatalogEntry is one row of the gift catalog.
type CatalogEntry struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	UnitValue  int64  `json:"unit_value"`
	PictureURL string `json:"picture_url,omitempty"`
}

// wireEvent matches the JSON published by the live connector.
type wireEvent struct {
	User struct {
		UniqueID string `json:"unique_id"`
		Nickname string `json:"nickname"`
	} `json:"user"`
	Gift struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		DiamondCount int64  `json:"diamond_count"`
		PictureURL   string `json:"picture_url"`
	} `json:"gift"`
	RepeatCount *int64    `json:"repeat_count"`
	RepeatEnd   bool      `json:"repeat_end"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Decode parses a live connector payload. Missing fields get defaults;
// semantic checks are left to Validate.
func Decode(raw []byte) (RawGiftEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return RawGiftEvent{}, fmt.Errorf("decode gift event: %w", err)
	}

	e := RawGiftEvent{
		SenderID:       w.User.UniqueID,
		SenderNickname: w.User.Nickname,
		GiftID:         w.Gift.ID,
		Gift: Metadata{
			Name:       w.Gift.Name,
			UnitValue:  w.Gift.DiamondCount,
			PictureURL: w.Gift.PictureURL,
		},
		RepeatCount: 1,
		StreakEnded: w.RepeatEnd,
		ObservedAt:  w.ObservedAt,
	}

	// Non-streakable gifts omit the count.
	if w.RepeatCount != nil {
		e.RepeatCount = *w.RepeatCount
	}

	if e.ObservedAt.IsZero() {
		slog.Warn("gift event missing observed_at, using ingestion time",
			"sender_id", e.SenderID,
			"gift_id", e.GiftID,
		)
		e.ObservedAt = time.Now().UTC()
	}

	return e, nil
}
