package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/batcher"
	"github.com/MikeSquared-Agency/giftstream/internal/broadcast"
	"github.com/MikeSquared-Agency/giftstream/internal/catalog"
	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/store"
	"github.com/MikeSquared-Agency/giftstream/internal/streak"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultEventLimit = 50

// Deps are the components the API reads from.
type Deps struct {
	Store      store.DataStore
	Batcher    *batcher.Batcher
	Normalizer *streak.Normalizer
	Catalog    *catalog.Catalog
	Hub        *broadcast.Hub
}

type Server struct {
	deps   Deps
	router chi.Router
	http   *http.Server
}

func NewServer(deps Deps, port int) *Server {
	srv := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", srv.handleStatus)
		r.Get("/events", srv.handleGetEvents)
		r.Get("/totals/summary", srv.handleTotalsSummary)
		r.Get("/totals/{senderID}", srv.handleGetSenderTotals)
		r.Get("/catalog", srv.handleGetCatalog)
		r.Put("/catalog", srv.handlePutCatalog)
	})
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.ServeWS)
	}

	srv.router = r
	srv.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("starting HTTP API", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "giftstream",
	}
	if s.deps.Batcher != nil {
		body["buffer_size"] = s.deps.Batcher.BufferLen()
	}
	if s.deps.Normalizer != nil {
		body["stats"] = s.deps.Normalizer.Stats()
	}
	if s.deps.Catalog != nil {
		body["catalog_size"] = s.deps.Catalog.Len()
	}
	if s.deps.Hub != nil {
		body["ws_clients"] = s.deps.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	senderID := r.URL.Query().Get("sender_id")
	limit := defaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.deps.Store.QueryGiftEvents(r.Context(), senderID, limit)
	if err != nil {
		slog.Error("query gift events failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if recs == nil {
		recs = []gifts.Record{}
	}

	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleTotalsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Store.GetTotalsSummary(r.Context())
	if err != nil {
		slog.Error("query totals summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetSenderTotals(w http.ResponseWriter, r *http.Request) {
	senderID := chi.URLParam(r, "senderID")

	t, err := s.deps.Store.GetSenderTotals(r.Context(), senderID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "totals not found"})
		return
	}
	if err != nil {
		slog.Error("query sender totals failed", "sender_id", senderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Snapshot())
}

func (s *Server) handlePutCatalog(w http.ResponseWriter, r *http.Request) {
	var entries []gifts.CatalogEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of gifts"})
		return
	}

	for _, g := range entries {
		if g.ID <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "gift id must be positive"})
			return
		}
		if g.UnitValue < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("gift %d: unit_value must not be negative", g.ID)})
			return
		}
	}

	for _, g := range entries {
		if err := s.deps.Store.UpsertGift(r.Context(), g); err != nil {
			slog.Error("upsert gift failed", "gift_id", g.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
	}
	changed := s.deps.Catalog.Update(entries)

	slog.Info("gift catalog updated", "received", len(entries), "changed", changed)
	writeJSON(w, http.StatusOK, map[string]int{"received": len(entries), "changed": changed})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
