// Package geo provides the device position: single fixes for saving a place
// and a watch subscription for following the user on the map.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrPositionUnavailable is returned when no fix could be obtained.
var ErrPositionUnavailable = errors.New("geo: position unavailable")

// Fix is one position reading. Accuracy is in meters.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy_m,omitempty"`
	Altitude  float64   `json:"altitude_m,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LatLng returns the fix as a [lat, lng] pair.
func (f Fix) LatLng() [2]float64 { return [2]float64{f.Lat, f.Lng} }

// Radius is the accuracy rounded up to whole meters.
func (f Fix) Radius() int { return int(math.Ceil(f.Accuracy)) }

// Locator is a source of positions.
type Locator interface {
	// CurrentPosition returns the latest fix, waiting for one until ctx is
	// done.
	CurrentPosition(ctx context.Context) (Fix, error)
	// Watch calls onUpdate for every new fix and onError for failures until
	// stop is called. stop is safe to call more than once.
	Watch(onUpdate func(Fix), onError func(error)) (stop func())
}

type subscriber struct {
	onUpdate func(Fix)
	onError  func(error)
}

// hub keeps the last fix and fans updates out to watchers.
type hub struct {
	mu      sync.Mutex
	last    Fix
	valid   bool
	changed chan struct{}
	subs    map[uint64]subscriber
	nextID  uint64
}

func newHub() *hub {
	return &hub{changed: make(chan struct{}), subs: make(map[uint64]subscriber)}
}

func (h *hub) publish(f Fix) {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	h.mu.Lock()
	h.last = f
	h.valid = true
	close(h.changed)
	h.changed = make(chan struct{})
	subs := h.snapshotLocked()
	h.mu.Unlock()
	for _, s := range subs {
		if s.onUpdate != nil {
			s.onUpdate(f)
		}
	}
}

func (h *hub) fail(err error) {
	h.mu.Lock()
	subs := h.snapshotLocked()
	h.mu.Unlock()
	for _, s := range subs {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

func (h *hub) snapshotLocked() []subscriber {
	out := make([]subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *hub) lastFix() (Fix, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.valid
}

func (h *hub) current(ctx context.Context) (Fix, error) {
	h.mu.Lock()
	if h.valid {
		f := h.last
		h.mu.Unlock()
		return f, nil
	}
	ch := h.changed
	h.mu.Unlock()
	select {
	case <-ch:
		f, _ := h.lastFix()
		return f, nil
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, ctx.Err())
	}
}

func (h *hub) watch(onUpdate func(Fix), onError func(error)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscriber{onUpdate: onUpdate, onError: onError}
	last, valid := h.last, h.valid
	h.mu.Unlock()

	if valid && onUpdate != nil {
		onUpdate(last)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
