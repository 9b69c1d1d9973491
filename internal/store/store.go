package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InsertGiftEvents batch-inserts normalized gift records into gift_events.
func (s *Store) InsertGiftEvents(ctx context.Context, recs []gifts.Record) error {
	if len(recs) == 0 {
		return nil
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{r.EventID, r.SenderID, r.SenderNickname, r.GiftID, r.GiftName, r.IncrementalCount, r.CoinValue, r.EmittedAt}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"gift_events"},
		[]string{"event_id", "sender_id", "sender_nickname", "gift_id", "gift_name", "incremental_count", "coin_value", "emitted_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy gift events: %w", err)
	}

	slog.Debug("inserted gift events", "count", len(recs))
	return nil
}

// UpsertSenderTotal adds delta to the sender's totals for the UTC day of date.
func (s *Store) UpsertSenderTotal(ctx context.Context, senderID, nickname string, date time.Time, delta TotalsDelta) error {
	d := date.UTC().Format("2006-01-02")

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sender_totals (sender_id, total_date, nickname, gift_count, coin_total)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sender_id, total_date) DO UPDATE SET
			gift_count = sender_totals.gift_count + EXCLUDED.gift_count,
			coin_total = sender_totals.coin_total + EXCLUDED.coin_total,
			nickname   = COALESCE(NULLIF(EXCLUDED.nickname, ''), sender_totals.nickname),
			updated_at = now()
	`, senderID, d, nickname, delta.Gifts, delta.Coins)
	if err != nil {
		return fmt.Errorf("upsert sender totals: %w", err)
	}
	return nil
}

// QueryGiftEvents returns the most recent gift events, optionally for one sender.
func (s *Store) QueryGiftEvents(ctx context.Context, senderID string, limit int) ([]gifts.Record, error) {
	q := `SELECT event_id, sender_id, sender_nickname, gift_id, gift_name, incremental_count, coin_value, emitted_at FROM gift_events`
	args := []any{}
	argN := 1

	if senderID != "" {
		q += fmt.Sprintf(` WHERE sender_id = $%d`, argN)
		args = append(args, senderID)
		argN++
	}

	q += ` ORDER BY emitted_at DESC`

	if limit > 0 {
		q += fmt.Sprintf(` LIMIT $%d`, argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []gifts.Record
	for rows.Next() {
		var r gifts.Record
		if err := rows.Scan(&r.EventID, &r.SenderID, &r.SenderNickname, &r.GiftID, &r.GiftName, &r.IncrementalCount, &r.CoinValue, &r.EmittedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetSenderTotals returns the latest totals row for a sender.
func (s *Store) GetSenderTotals(ctx context.Context, senderID string) (SenderTotals, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT sender_id, nickname, total_date, gift_count, coin_total
		FROM sender_totals
		WHERE sender_id = $1
		ORDER BY total_date DESC
		LIMIT 1
	`, senderID)

	var (
		t    SenderTotals
		date time.Time
	)
	if err := row.Scan(&t.SenderID, &t.Nickname, &date, &t.GiftCount, &t.CoinTotal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SenderTotals{}, ErrNotFound
		}
		return SenderTotals{}, err
	}
	t.TotalDate = date.Format("2006-01-02")
	return t, nil
}

// GetTotalsSummary returns the latest day's totals for every sender, biggest first.
func (s *Store) GetTotalsSummary(ctx context.Context) ([]SenderTotals, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (sender_id)
			       sender_id, nickname, total_date, gift_count, coin_total
			FROM sender_totals
			ORDER BY sender_id, total_date DESC
		) latest
		ORDER BY coin_total DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []SenderTotals{}
	for rows.Next() {
		var (
			t    SenderTotals
			date time.Time
		)
		if err := rows.Scan(&t.SenderID, &t.Nickname, &date, &t.GiftCount, &t.CoinTotal); err != nil {
			return nil, err
		}
		t.TotalDate = date.Format("2006-01-02")
		results = append(results, t)
	}
	return results, rows.Err()
}

// ListGifts returns the whole gift catalog.
func (s *Store) ListGifts(ctx context.Context) ([]gifts.CatalogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT gift_id, name, unit_value, picture_url FROM gift_catalog ORDER BY gift_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []gifts.CatalogEntry{}
	for rows.Next() {
		var g gifts.CatalogEntry
		if err := rows.Scan(&g.ID, &g.Name, &g.UnitValue, &g.PictureURL); err != nil {
			return nil, err
		}
		results = append(results, g)
	}
	return results, rows.Err()
}

// UpsertGift creates or replaces one catalog entry.
func (s *Store) UpsertGift(ctx context.Context, g gifts.CatalogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gift_catalog (gift_id, name, unit_value, picture_url, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (gift_id) DO UPDATE SET
			name        = EXCLUDED.name,
			unit_value  = EXCLUDED.unit_value,
			picture_url = EXCLUDED.picture_url,
			updated_at  = now()
	`, g.ID, g.Name, g.UnitValue, g.PictureURL)
	if err != nil {
		return fmt.Errorf("upsert gift %d: %w", g.ID, err)
	}
	return nil
}
