package gifts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecode_ValidEvent(t *testing.T) {
	ts := time.Date(2026, 2, 12, 21, 4, 20, 0, time.UTC)
	raw, _ := json.Marshal(map[string]any{
		"user":         map[string]any{"unique_id": "felixthetaidum", "nickname": "Felix The Taidum"},
		"gift":         map[string]any{"id": 5655, "name": "Rose", "diamond_count": 1},
		"repeat_count": 19,
		"repeat_end":   false,
		"observed_at":  ts.Format(time.RFC3339),
	})

	e, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.SenderID != "felixthetaidum" {
		t.Errorf("expected sender felixthetaidum, got %s", e.SenderID)
	}
	if e.SenderNickname != "Felix The Taidum" {
		t.Errorf("expected nickname Felix The Taidum, got %s", e.SenderNickname)
	}
	if e.GiftID != 5655 {
		t.Errorf("expected gift id 5655, got %d", e.GiftID)
	}
	if e.Gift.Name != "Rose" || e.Gift.UnitValue != 1 {
		t.Errorf("unexpected gift metadata: %+v", e.Gift)
	}
	if e.RepeatCount != 19 {
		t.Errorf("expected repeat count 19, got %d", e.RepeatCount)
	}
	if e.StreakEnded {
		t.Error("expected streak not ended")
	}
	if !e.ObservedAt.Equal(ts) {
		t.Errorf("expected observed_at %v, got %v", ts, e.ObservedAt)
	}
}

func TestDecode_MissingRepeatCountDefaultsToOne(t *testing.T) {
	raw := []byte(`{"user":{"unique_id":"generoususer"},"gift":{"id":9999,"name":"Team Heart","diamond_count":50},"repeat_end":true}`)

	e, err := Decode(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.RepeatCount != 1 {
		t.Errorf("expected default repeat count 1, got %d", e.RepeatCount)
	}
	if !e.StreakEnded {
		t.Error("expected streak ended")
	}
}

func TestDecode_MissingObservedAt(t *testing.T) {
	before := time.Now().UTC()
	e, err := Decode([]byte(`{"user":{"unique_id":"u"},"gift":{"id":1},"repeat_count":2}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ObservedAt.Before(before) {
		t.Errorf("expected ingestion time fallback, got %v", e.ObservedAt)
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	good := RawGiftEvent{SenderID: "u", GiftID: 1, RepeatCount: 1}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	bad := []RawGiftEvent{
		{GiftID: 1, RepeatCount: 1},
		{SenderID: "u", RepeatCount: 1},
		{SenderID: "u", GiftID: 1, RepeatCount: -3},
	}
	for _, e := range bad {
		err := e.Validate()
		if !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("expected ErrInvalidEvent for %+v, got %v", e, err)
		}
	}
}

func TestStreakKey_String(t *testing.T) {
	k := RawGiftEvent{SenderID: "felix", GiftID: 5655}.Key()
	if k.String() != "felix:5655" {
		t.Errorf("expected felix:5655, got %s", k.String())
	}
}

func TestRecord_JSONFlattensEvent(t *testing.T) {
	rec := Record{
		NormalizedGiftEvent: NormalizedGiftEvent{EventID: "e1", SenderID: "u", GiftID: 1, IncrementalCount: 3, CoinValue: 6},
		SenderNickname:      "User",
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m["incremental_count"] != float64(3) {
		t.Errorf("expected top-level incremental_count 3, got %v", m["incremental_count"])
	}
	if m["sender_nickname"] != "User" {
		t.Errorf("expected sender_nickname User, got %v", m["sender_nickname"])
	}
}
