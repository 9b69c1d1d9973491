// Package catalog keeps the gift id -> name/value mapping used to price gifts.
//
// The catalog is loaded from storage at startup, learns entries from gift
// events that embed their own metadata, and can be edited over the API.
// A gift the catalog does not know is worth 0 coins.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

// Source lists persisted catalog entries.
type Source interface {
	ListGifts(ctx context.Context) ([]gifts.CatalogEntry, error)
}

// PersistFunc stores a learned or updated entry.
type PersistFunc func(ctx context.Context, g gifts.CatalogEntry) error

type Catalog struct {
	mu      sync.RWMutex
	entries map[int64]gifts.CatalogEntry
	persist PersistFunc
}

func New() *Catalog {
	return &Catalog{entries: make(map[int64]gifts.CatalogEntry)}
}

// SetPersistFunc registers where learned entries are written.
func (c *Catalog) SetPersistFunc(fn PersistFunc) {
	c.persist = fn
}

// Load replaces the catalog contents with what src holds.
func (c *Catalog) Load(ctx context.Context, src Source) error {
	list, err := src.ListGifts(ctx)
	if err != nil {
		return fmt.Errorf("load gift catalog: %w", err)
	}

	entries := make(map[int64]gifts.CatalogEntry, len(list))
	for _, g := range list {
		entries[g.ID] = g
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	slog.Info("gift catalog loaded", "gifts", len(entries))
	return nil
}

func (c *Catalog) Lookup(id int64) (gifts.CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.entries[id]
	return g, ok
}

// Resolve completes e.Gift from the catalog. When the event carries a
// positive unit value that the catalog lacks or disagrees with, the event's
// metadata wins and is learned.
func (c *Catalog) Resolve(ctx context.Context, e *gifts.RawGiftEvent) {
	if e.Gift.UnitValue > 0 {
		c.learn(ctx, gifts.CatalogEntry{
			ID:         e.GiftID,
			Name:       e.Gift.Name,
			UnitValue:  e.Gift.UnitValue,
			PictureURL: e.Gift.PictureURL,
		})
		return
	}

	g, ok := c.Lookup(e.GiftID)
	if !ok {
		slog.Debug("gift not in catalog", "gift_id", e.GiftID)
		return
	}
	e.Gift.UnitValue = g.UnitValue
	if e.Gift.Name == "" {
		e.Gift.Name = g.Name
	}
	if e.Gift.PictureURL == "" {
		e.Gift.PictureURL = g.PictureURL
	}
}

func (c *Catalog) learn(ctx context.Context, g gifts.CatalogEntry) {
	c.mu.Lock()
	cur, ok := c.entries[g.ID]
	if ok {
		if g.Name == "" {
			g.Name = cur.Name
		}
		if g.PictureURL == "" {
			g.PictureURL = cur.PictureURL
		}
		if cur == g {
			c.mu.Unlock()
			return
		}
	}
	c.entries[g.ID] = g
	c.mu.Unlock()

	slog.Info("gift catalog learned entry", "gift_id", g.ID, "name", g.Name, "unit_value", g.UnitValue)
	if c.persist != nil {
		if err := c.persist(ctx, g); err != nil {
			slog.Warn("failed to persist learned gift", "gift_id", g.ID, "error", err)
		}
	}
}

// Update merges entries into the catalog and returns how many changed.
func (c *Catalog) Update(entries []gifts.CatalogEntry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	for _, g := range entries {
		if cur, ok := c.entries[g.ID]; ok && cur == g {
			continue
		}
		c.entries[g.ID] = g
		changed++
	}
	return changed
}

// Snapshot returns all entries ordered by id.
func (c *Catalog) Snapshot() []gifts.CatalogEntry {
	c.mu.RLock()
	out := make([]gifts.CatalogEntry, 0, len(c.entries))
	for _, g := range c.entries {
		out = append(out, g)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
