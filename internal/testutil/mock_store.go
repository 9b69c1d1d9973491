package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Records []gifts.Record
	Totals  map[string]store.SenderTotals // key: "senderID|date"
	Gifts   map[int64]gifts.CatalogEntry

	InsertErr      error
	UpsertTotalErr error
	UpsertGiftErr  error

	InsertCalls      int
	UpsertTotalCalls int
	UpsertGiftCalls  int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Records: make([]gifts.Record, 0),
		Totals:  make(map[string]store.SenderTotals),
		Gifts:   make(map[int64]gifts.CatalogEntry),
	}
}

func (m *MockStore) InsertGiftEvents(_ context.Context, recs []gifts.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Records = append(m.Records, recs...)
	return nil
}

func (m *MockStore) UpsertSenderTotal(_ context.Context, senderID, nickname string, date time.Time, delta store.TotalsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertTotalCalls++
	if m.UpsertTotalErr != nil {
		return m.UpsertTotalErr
	}
	d := date.UTC().Format("2006-01-02")
	key := senderID + "|" + d
	t := m.Totals[key]
	t.SenderID = senderID
	t.TotalDate = d
	if nickname != "" {
		t.Nickname = nickname
	}
	t.GiftCount += delta.Gifts
	t.CoinTotal += delta.Coins
	m.Totals[key] = t
	return nil
}

func (m *MockStore) QueryGiftEvents(_ context.Context, senderID string, limit int) ([]gifts.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []gifts.Record
	for i := len(m.Records) - 1; i >= 0; i-- {
		r := m.Records[i]
		if senderID != "" && r.SenderID != senderID {
			continue
		}
		results = append(results, r)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MockStore) GetSenderTotals(_ context.Context, senderID string) (store.SenderTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  store.SenderTotals
		found bool
	)
	for _, t := range m.Totals {
		if t.SenderID == senderID && (!found || t.TotalDate > best.TotalDate) {
			best = t
			found = true
		}
	}
	if !found {
		return store.SenderTotals{}, store.ErrNotFound
	}
	return best, nil
}

func (m *MockStore) GetTotalsSummary(_ context.Context) ([]store.SenderTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]store.SenderTotals{}
	for _, t := range m.Totals {
		if cur, ok := latest[t.SenderID]; !ok || t.TotalDate > cur.TotalDate {
			latest[t.SenderID] = t
		}
	}
	results := make([]store.SenderTotals, 0, len(latest))
	for _, t := range latest {
		results = append(results, t)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CoinTotal > results[j].CoinTotal })
	return results, nil
}

func (m *MockStore) ListGifts(_ context.Context) ([]gifts.CatalogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]gifts.CatalogEntry, 0, len(m.Gifts))
	for _, g := range m.Gifts {
		results = append(results, g)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

func (m *MockStore) UpsertGift(_ context.Context, g gifts.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertGiftCalls++
	if m.UpsertGiftErr != nil {
		return m.UpsertGiftErr
	}
	m.Gifts[g.ID] = g
	return nil
}

func (m *MockStore) Close() {}

// GetInsertCalls returns how many times InsertGiftEvents was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// GetRecordCount returns total records stored.
func (m *MockStore) GetRecordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Records)
}

// SetInsertErr changes the insert error under the lock.
func (m *MockStore) SetInsertErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertErr = err
}
