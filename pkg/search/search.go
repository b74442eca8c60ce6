// Package search finds locations by name: the user's own places first, then
// Nominatim geocoding results. Geocoding responses are cached in SQLite
// without expiry.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/places"
)

// Result is one suggestion.
type Result struct {
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Source string  `json:"source"`          // "place" | "geocode"
	Class  string  `json:"class,omitempty"` // nominatim
	Type   string  `json:"type,omitempty"`  // nominatim
}

// Geocoder resolves free text to locations.
type Geocoder interface {
	Geocode(ctx context.Context, q string, limit int) ([]Result, error)
}

// Options configure a Searcher.
type Options struct {
	// CachePath is the SQLite geocode cache. Empty disables caching.
	CachePath string
	Geocoder  Geocoder
	Places    *places.Store
	// MinInterval between geocoder calls.
	MinInterval time.Duration
	// Retries of transient geocoder failures.
	Retries int
}

// DefaultMinInterval follows the public Nominatim usage policy.
const DefaultMinInterval = 1 * time.Second

// Searcher combines place and geocode lookups.
type Searcher struct {
	db       *sql.DB
	geocoder Geocoder
	places   *places.Store
	interval time.Duration
	retries  int

	throttleMu sync.Mutex
	last       time.Time
}

// New opens the cache, if configured, and returns a searcher.
func New(opts Options) (*Searcher, error) {
	s := &Searcher{
		geocoder: opts.Geocoder,
		places:   opts.Places,
		interval: opts.MinInterval,
		retries:  opts.Retries,
	}
	if s.interval <= 0 {
		s.interval = DefaultMinInterval
	}
	if opts.CachePath == "" {
		return s, nil
	}
	db, err := sql.Open("sqlite", opts.CachePath)
	if err != nil {
		return nil, fmt.Errorf("search: open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geocode_cache (
		query TEXT PRIMARY KEY,
		json  TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("search: cache schema: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_geocode_cache_fetched_at ON geocode_cache(fetched_at)`)
	s.db = db
	return s, nil
}

// Close releases the cache.
func (s *Searcher) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Search returns up to limit results for q, saved places first.
func (s *Searcher) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" || limit <= 0 {
		return []Result{}, nil
	}
	out := s.matchPlaces(q, limit)
	if len(out) >= limit || s.geocoder == nil {
		return out, nil
	}
	geo, err := s.geocodeCached(ctx, q, limit-len(out))
	if err != nil {
		if len(out) > 0 {
			logger.Warn("search: geocoding %q: %v", q, err)
			return out, nil
		}
		return nil, err
	}
	return append(out, geo...), nil
}

func (s *Searcher) matchPlaces(q string, limit int) []Result {
	out := []Result{}
	if s.places == nil {
		return out
	}
	needle := strings.ToLower(q)
	for _, p := range s.places.All() {
		if !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		out = append(out, Result{Name: p.Name, Lat: p.LatLng[0], Lng: p.LatLng[1], Source: "place"})
		if len(out) >= limit {
			break
		}
	}
	return out
}

func cacheKey(q string, limit int) string {
	return fmt.Sprintf("%d|%s", limit, strings.ToLower(q))
}

// geocodeCached only caches successful lookups, empty ones included.
func (s *Searcher) geocodeCached(ctx context.Context, q string, limit int) ([]Result, error) {
	key := cacheKey(q, limit)
	if s.db != nil {
		var raw string
		err := s.db.QueryRowContext(ctx, `SELECT json FROM geocode_cache WHERE query = ?`, key).Scan(&raw)
		if err == nil {
			var cached []Result
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				logger.Debug("search: cache hit %q", q)
				return cached, nil
			}
			logger.Error("search: cache entry for %q unreadable (ignoring)", q)
		}
	}

	res, err := s.geocodeWithRetry(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	if s.db != nil {
		b, _ := json.Marshal(res)
		if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,CURRENT_TIMESTAMP)`, key, string(b)); err != nil {
			logger.Warn("search: caching %q: %v", q, err)
		}
	}
	return res, nil
}

func (s *Searcher) geocodeWithRetry(ctx context.Context, q string, limit int) ([]Result, error) {
	attempts := s.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := s.throttle(ctx); err != nil {
			return nil, err
		}
		res, err := s.geocoder.Geocode(ctx, q, limit)
		if err == nil {
			if attempt > 1 {
				logger.Info("search: geocoder recovered after %d attempt(s) for %q", attempt, q)
			}
			if len(res) > limit {
				res = res[:limit]
			}
			if res == nil {
				res = []Result{}
			}
			return res, nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
		logger.Warn("search: transient geocoder error (attempt %d/%d) query=%q err=%v", attempt, attempts, q, err)
	}
	return nil, fmt.Errorf("search: geocode %q: %w", q, lastErr)
}

func transient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") || strings.Contains(msg, "EOF")
}

// throttle spaces geocoder calls by the configured interval.
func (s *Searcher) throttle(ctx context.Context) error {
	s.throttleMu.Lock()
	wait := s.interval - time.Since(s.last)
	if wait < 0 {
		wait = 0
	}
	s.last = time.Now().Add(wait)
	s.throttleMu.Unlock()
	if wait == 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
