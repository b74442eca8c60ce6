// Package places keeps the user's saved places and mirrors the whole
// collection to the key-value store on every change.
//
// A place is identified by its exact coordinate pair; there is no other id.
// The store never holds two places at the same coordinate.
package places

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/metrics"
)

var (
	// ErrDuplicateCoordinate is returned by Create when a place already exists
	// at the coordinate.
	ErrDuplicateCoordinate = errors.New("places: a place already exists at this coordinate")
	// ErrNotFound is returned when no place matches a coordinate.
	ErrNotFound = errors.New("places: no place at this coordinate")
	// ErrInvalidRadius is returned for negative radii.
	ErrInvalidRadius = errors.New("places: radius must be >= 0")
)

// TimestampLayout matches JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t the way stored places carry their creation time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Place is a saved point of interest.
type Place struct {
	LatLng    [2]float64 `json:"latlng"`
	Radius    int        `json:"radius"`
	Name      string     `json:"name"`
	Timestamp string     `json:"timestamp"`
}

// Created parses the creation timestamp; the zero time when it is malformed.
func (p Place) Created() time.Time {
	t, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Store is the in-memory collection plus its persistence.
type Store struct {
	mu     sync.Mutex
	kv     kv.Store
	places []Place
}

// NewStore returns an empty store persisting to s. Call Load to read the
// saved collection.
func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

// Load replaces the in-memory collection with the persisted one. Duplicate
// coordinates in stored data are dropped, first occurrence wins.
func (s *Store) Load(ctx context.Context) error {
	var stored []Place
	if _, err := kv.GetJSON(ctx, s.kv, kv.KeyPlaces, &stored); err != nil {
		return fmt.Errorf("places: load: %w", err)
	}
	deduped := Dedupe(stored)
	if n := len(stored) - len(deduped); n > 0 {
		logger.Warn("places: dropped %d stored place(s) with duplicate coordinates", n)
	}
	s.mu.Lock()
	s.places = deduped
	s.mu.Unlock()
	logger.Debug("places: loaded %d place(s)", len(deduped))
	return nil
}

// Persist writes the whole collection.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx, s.places)
}

func (s *Store) persistLocked(ctx context.Context, next []Place) error {
	if next == nil {
		next = []Place{}
	}
	if err := kv.SetJSON(ctx, s.kv, kv.KeyPlaces, next); err != nil {
		return fmt.Errorf("places: persist: %w", err)
	}
	return nil
}

func (s *Store) indexLocked(latlng [2]float64) int {
	for i, p := range s.places {
		if p.LatLng[0] == latlng[0] && p.LatLng[1] == latlng[1] {
			return i
		}
	}
	return -1
}

// Find returns the place at exactly latlng.
func (s *Store) Find(latlng [2]float64) (Place, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(latlng); i >= 0 {
		return s.places[i], true
	}
	return Place{}, false
}

// All returns the places in creation order.
func (s *Store) All() []Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Place(nil), s.places...)
}

// Len returns the number of places.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.places)
}

// Create appends a new place. The collection is untouched when a place
// already exists at latlng or when persisting fails.
func (s *Store) Create(ctx context.Context, latlng [2]float64, radius int, name, timestamp string) (Place, error) {
	if radius < 0 {
		return Place{}, ErrInvalidRadius
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(latlng) >= 0 {
		return Place{}, ErrDuplicateCoordinate
	}
	p := Place{LatLng: latlng, Radius: radius, Name: name, Timestamp: timestamp}
	next := make([]Place, len(s.places), len(s.places)+1)
	copy(next, s.places)
	next = append(next, p)
	if err := s.persistLocked(ctx, next); err != nil {
		return Place{}, err
	}
	s.places = next
	metrics.PlaceMutationsTotal.WithLabelValues("create").Inc()
	logger.Debug("places: created %q at %v", name, latlng)
	return p, nil
}

// Update renames the place at latlng. Coordinates and radius never change.
func (s *Store) Update(ctx context.Context, latlng [2]float64, newName string) (Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(latlng)
	if i < 0 {
		return Place{}, ErrNotFound
	}
	next := append([]Place(nil), s.places...)
	next[i].Name = newName
	if err := s.persistLocked(ctx, next); err != nil {
		return Place{}, err
	}
	s.places = next
	metrics.PlaceMutationsTotal.WithLabelValues("update").Inc()
	return next[i], nil
}

// Delete removes the place at latlng.
func (s *Store) Delete(ctx context.Context, latlng [2]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(latlng)
	if i < 0 {
		return ErrNotFound
	}
	next := make([]Place, 0, len(s.places)-1)
	next = append(next, s.places[:i]...)
	next = append(next, s.places[i+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}
	s.places = next
	metrics.PlaceMutationsTotal.WithLabelValues("delete").Inc()
	return nil
}
