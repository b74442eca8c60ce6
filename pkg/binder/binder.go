// Package binder turns user actions on the map into place store operations
// and keeps the drawn place features in sync with the store.
//
// At most one editing session (create or edit) is open at a time. Opening a
// session closes the previous one, and a closed session's id is rejected.
package binder

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/rubiojr/minaplatser/pkg/geo"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/surface"
)

var (
	// ErrStaleSession is returned for ids other than the open session's.
	ErrStaleSession = errors.New("binder: session is not open")
	// ErrSuperseded is returned by StartCreate when another create flow or
	// session was started while waiting for the position.
	ErrSuperseded = errors.New("binder: superseded by a newer action")
	// ErrUnknownGroup is returned by Select for groups not drawn by the binder.
	ErrUnknownGroup = errors.New("binder: unknown feature group")
)

// User facing notices.
const (
	MsgPositionUnavailable = "Det gick inte att hitta din plats just nu"
	MsgPlaceExists         = "Platsen finns redan."
	MsgSaveFailed          = "Platsen kunde inte sparas"
)

// Zoom levels used when following the position.
const (
	CreateZoom = 16
	WatchZoom  = 15
)

// Styles of drawn circles.
var (
	PlaceCircleStyle = surface.CircleStyle{Color: "rgba(86, 209, 205, 0.67)", FillColor: "gray", ClassName: "radius-circle"}
	PulseCircleStyle = surface.CircleStyle{ClassName: "pulse"}
)

// Kind of an editing session.
type Kind string

const (
	KindCreate Kind = "create"
	KindEdit   Kind = "edit"
)

// Session is the open place form.
type Session struct {
	ID     string     `json:"id"`
	Kind   Kind       `json:"kind"`
	LatLng [2]float64 `json:"latlng"`
	Radius int        `json:"radius"`
	Name   string     `json:"name,omitempty"`
	Date   string     `json:"date,omitempty"`
	Info   string     `json:"info"`
}

type session struct {
	Session
	provisional surface.Circle       // create sessions
	group       surface.FeatureGroup // edit sessions
	once        sync.Once
}

// close tears the session down. Safe to call more than once.
func (s *session) close() {
	s.once.Do(func() {
		if s.provisional != nil {
			s.provisional.Remove()
		}
		logger.Debug("binder: closed %s session %s", s.Kind, s.ID)
	})
}

// Options configure a Binder.
type Options struct {
	Store   *places.Store
	Locator geo.Locator
	Surface surface.Surface
	Notices *notice.Board
	// Now defaults to time.Now.
	Now func() time.Time
}

// Binder is the glue between the map, the locator and the place store.
// Lock order is binder, then surface.
type Binder struct {
	mu      sync.Mutex
	store   *places.Store
	loc     geo.Locator
	surf    surface.Surface
	notices *notice.Board
	now     func() time.Time

	session *session
	flow    uint64
	groups  map[string]surface.FeatureGroup

	watchGen  uint64
	watchStop func()
	pulse     surface.Circle
}

// New returns a binder. Call RenderAll to draw the stored places.
func New(opts Options) *Binder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notices == nil {
		opts.Notices = notice.NewBoard(notice.DefaultTTL)
	}
	return &Binder{
		store:   opts.Store,
		loc:     opts.Locator,
		surf:    opts.Surface,
		notices: opts.Notices,
		now:     opts.Now,
		groups:  make(map[string]surface.FeatureGroup),
	}
}

// Current returns the open session.
func (b *Binder) Current() (Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return Session{}, false
	}
	return b.session.Session, true
}

// openLocked replaces the open session with s.
func (b *Binder) openLocked(s *session) Session {
	if b.session != nil {
		b.session.close()
	}
	s.ID = uuid.NewString()
	b.session = s
	b.flow++
	logger.Debug("binder: opened %s session %s at %v", s.Kind, s.ID, s.LatLng)
	return s.Session
}

func (b *Binder) closeLocked() {
	if b.session != nil {
		b.session.close()
		b.session = nil
	}
}

// StartCreate asks for the current position and opens a create session
// there, drawing a provisional circle of the fix accuracy.
func (b *Binder) StartCreate(ctx context.Context) (Session, error) {
	b.mu.Lock()
	b.flow++
	flow := b.flow
	b.mu.Unlock()

	fix, err := b.loc.CurrentPosition(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if flow != b.flow {
		logger.Debug("binder: dropping position of superseded create flow")
		return Session{}, ErrSuperseded
	}
	if err != nil {
		b.notices.Show(MsgPositionUnavailable)
		if !errors.Is(err, geo.ErrPositionUnavailable) {
			err = fmt.Errorf("%w: %v", geo.ErrPositionUnavailable, err)
		}
		return Session{}, err
	}

	latlng := fix.LatLng()
	radius := fix.Radius()
	b.surf.SetView(latlng, CreateZoom)
	if _, exists := b.store.Find(latlng); exists {
		b.notices.Show(MsgPlaceExists)
		return Session{}, places.ErrDuplicateCoordinate
	}

	style := surface.CircleStyle{Radius: float64(radius)}
	circle := b.surf.CreateCircle(latlng, style)
	circle.Add()
	return b.openLocked(&session{
		Session: Session{
			Kind:   KindCreate,
			LatLng: latlng,
			Radius: radius,
			Info:   createInfo(radius),
		},
		provisional: circle,
	}), nil
}

func createInfo(radius int) string {
	if radius > 10 {
		return fmt.Sprintf("Din plats blev ganska stor med en radie på %d meter. Vi fick inte så exakt platsinformation.", radius)
	}
	return fmt.Sprintf("Din plats har en radie på %d meter. Du är någonstans i den här cirkeln", radius)
}

// Select opens an edit session for the place drawn by group.
func (b *Binder) Select(groupID string) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupID]
	if !ok {
		return Session{}, ErrUnknownGroup
	}
	g.BringToFront()
	p, ok := b.store.Find(g.LatLng())
	if !ok {
		return Session{}, places.ErrNotFound
	}
	return b.openLocked(&session{
		Session: Session{
			Kind:   KindEdit,
			LatLng: p.LatLng,
			Radius: p.Radius,
			Name:   p.Name,
			Date:   placeDate(p),
			Info:   fmt.Sprintf("Datum: %s\nPlatsens radie: %d meter", placeDate(p), p.Radius),
		},
		group: g,
	}), nil
}

func placeDate(p places.Place) string {
	t := p.Created()
	if t.IsZero() {
		return p.Timestamp
	}
	t = t.Local()
	return fmt.Sprintf("%d/%d %d (%s)", t.Day(), int(t.Month()), t.Year(), humanize.Time(t))
}

// Submit saves the open session under name. A create session adds the
// place, an edit session renames it. The session stays open when saving
// fails.
func (b *Binder) Submit(ctx context.Context, sessionID, name string) (places.Place, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session
	if s == nil || s.ID != sessionID {
		return places.Place{}, ErrStaleSession
	}

	var (
		p   places.Place
		err error
	)
	switch s.Kind {
	case KindCreate:
		p, err = b.store.Create(ctx, s.LatLng, s.Radius, name, places.Timestamp(b.now()))
	case KindEdit:
		p, err = b.store.Update(ctx, s.LatLng, name)
	}
	if err != nil {
		if errors.Is(err, places.ErrDuplicateCoordinate) {
			b.notices.Show(MsgPlaceExists)
		} else {
			b.notices.Show(MsgSaveFailed)
		}
		return places.Place{}, err
	}
	if s.group != nil {
		s.group.Remove()
		delete(b.groups, s.group.ID())
	}
	b.renderLocked(p)
	b.closeLocked()
	return p, nil
}

// Delete discards the open session. For an edit session the place is
// removed from the store and the map; a create session saves nothing.
func (b *Binder) Delete(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session
	if s == nil || s.ID != sessionID {
		return ErrStaleSession
	}
	if s.Kind == KindEdit {
		if err := b.store.Delete(ctx, s.LatLng); err != nil && !errors.Is(err, places.ErrNotFound) {
			b.notices.Show(MsgSaveFailed)
			return err
		}
		s.group.Remove()
		delete(b.groups, s.group.ID())
	}
	b.closeLocked()
	return nil
}

// RenderAll redraws every stored place. An open edit session follows its
// place to the new drawing, and is closed when its place is gone.
func (b *Binder) RenderAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, g := range b.groups {
		g.Remove()
		delete(b.groups, id)
	}
	s := b.session
	editing := s != nil && s.Kind == KindEdit
	found := false
	for _, p := range b.store.All() {
		g := b.renderLocked(p)
		if editing && p.LatLng == s.LatLng {
			s.group = g
			found = true
		}
	}
	if editing && !found {
		b.closeLocked()
	}
}

// renderLocked draws a place as a marker with a popup and a radius circle,
// grouped so a click on either selects the place.
func (b *Binder) renderLocked(p places.Place) surface.FeatureGroup {
	marker := b.surf.CreateMarker(p.LatLng, "<h2>"+html.EscapeString(p.Name)+"</h2>")
	style := PlaceCircleStyle
	style.Radius = float64(p.Radius)
	circle := b.surf.CreateCircle(p.LatLng, style)
	g := b.surf.CreateFeatureGroup(marker, circle)
	g.Add()
	marker.OpenPopup()
	g.OnClick(func(fg surface.FeatureGroup) {
		if _, err := b.Select(fg.ID()); err != nil {
			logger.Warn("binder: select %s: %v", fg.ID(), err)
		}
	})
	b.groups[g.ID()] = g
	return g
}

// Watch starts or stops following the position. While on, the view stays
// centered on the latest fix with a pulsing accuracy circle.
func (b *Binder) Watch(on bool) {
	b.mu.Lock()
	if on == (b.watchStop != nil) {
		b.mu.Unlock()
		return
	}
	b.watchGen++
	gen := b.watchGen
	if !on {
		stop := b.watchStop
		b.watchStop = nil
		if b.pulse != nil {
			b.pulse.Remove()
			b.pulse = nil
		}
		b.mu.Unlock()
		stop()
		logger.Info("binder: stopped following position")
		return
	}
	b.watchStop = func() {}
	b.mu.Unlock()

	stop := b.loc.Watch(
		func(f geo.Fix) { b.onWatchFix(gen, f) },
		func(err error) { b.onWatchError(gen, err) },
	)

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.watchGen {
		// turned off while subscribing
		stop()
		return
	}
	b.watchStop = stop
	logger.Info("binder: following position")
}

// Watching reports whether the position is being followed.
func (b *Binder) Watching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watchStop != nil
}

func (b *Binder) onWatchFix(gen uint64, f geo.Fix) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.watchGen {
		return
	}
	latlng := surface.LatLng(f.LatLng())
	b.surf.SetView(latlng, WatchZoom)
	if b.pulse == nil {
		style := PulseCircleStyle
		style.Radius = float64(f.Radius())
		b.pulse = b.surf.CreateCircle(latlng, style)
		b.pulse.Add()
		return
	}
	b.pulse.SetRadius(float64(f.Radius()))
	b.pulse.SetLatLng(latlng)
}

func (b *Binder) onWatchError(gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.watchGen {
		return
	}
	logger.Warn("binder: position watch: %v", err)
	b.notices.Show(MsgPositionUnavailable)
}
