package mapview

import (
	"github.com/google/uuid"

	"github.com/rubiojr/minaplatser/pkg/surface"
)

type featureKind string

const (
	kindMarker featureKind = "marker"
	kindCircle featureKind = "circle"
	kindGroup  featureKind = "group"
)

// feature is the shared record behind marker, circle and group handles.
// Guarded by Map.mu.
type feature struct {
	id        string
	kind      featureKind
	latlng    surface.LatLng
	popup     string
	popupOpen bool
	style     surface.CircleStyle
	members   []*feature
	parent    *feature
	added     bool
	z         int
	onClick   []func(surface.FeatureGroup)
}

// FeatureState is the drawable form of a feature.
type FeatureState struct {
	ID        string               `json:"id"`
	Kind      string               `json:"kind"`
	LatLng    surface.LatLng       `json:"latlng"`
	Popup     string               `json:"popup,omitempty"`
	PopupOpen bool                 `json:"popupOpen,omitempty"`
	Style     *surface.CircleStyle `json:"style,omitempty"`
	Members   []FeatureState       `json:"members,omitempty"`
}

func (f *feature) state() FeatureState {
	st := FeatureState{ID: f.id, Kind: string(f.kind), LatLng: f.latlng}
	switch f.kind {
	case kindMarker:
		st.Popup = f.popup
		st.PopupOpen = f.popupOpen
	case kindCircle:
		style := f.style
		st.Style = &style
	case kindGroup:
		for _, mem := range f.members {
			st.Members = append(st.Members, mem.state())
		}
	}
	return st
}

func (m *Map) newFeature(kind featureKind, at surface.LatLng) *feature {
	f := &feature{id: uuid.NewString(), kind: kind, latlng: at}
	m.mu.Lock()
	m.features[f.id] = f
	m.mu.Unlock()
	return f
}

func (m *Map) add(f *feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.added {
		return
	}
	f.added = true
	m.topZ++
	f.z = m.topZ
}

func (m *Map) remove(f *feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.added = false
	if f.parent != nil {
		for i, mem := range f.parent.members {
			if mem == f {
				f.parent.members = append(f.parent.members[:i], f.parent.members[i+1:]...)
				break
			}
		}
		f.parent = nil
	}
	delete(m.features, f.id)
	if f.kind == kindGroup {
		for _, mem := range f.members {
			mem.added = false
			mem.parent = nil
			delete(m.features, mem.id)
		}
		f.members = nil
	}
}

// CreateMarker returns a marker with a popup, not yet on the map.
func (m *Map) CreateMarker(at surface.LatLng, popupHTML string) surface.Marker {
	f := m.newFeature(kindMarker, at)
	f.popup = popupHTML
	return &Marker{handle{m: m, f: f}}
}

// CreateCircle returns a circle, not yet on the map.
func (m *Map) CreateCircle(at surface.LatLng, style surface.CircleStyle) surface.Circle {
	f := m.newFeature(kindCircle, at)
	f.style = style
	return &Circle{handle{m: m, f: f}}
}

// CreateFeatureGroup groups features into one clickable unit, not yet on the
// map. Features created by another surface are ignored.
func (m *Map) CreateFeatureGroup(features ...surface.Feature) surface.FeatureGroup {
	g := m.newFeature(kindGroup, surface.LatLng{})
	m.mu.Lock()
	for _, sf := range features {
		f, ok := m.features[sf.ID()]
		if !ok {
			continue
		}
		if len(g.members) == 0 {
			g.latlng = f.latlng
		}
		f.parent = g
		f.added = true
		g.members = append(g.members, f)
	}
	m.mu.Unlock()
	return &Group{handle{m: m, f: g}}
}

// Click delivers a click on the feature with id. Clicks on a group member
// go to its group.
func (m *Map) Click(id string) error {
	m.mu.Lock()
	f, ok := m.features[id]
	if ok && f.parent != nil {
		f = f.parent
	}
	if !ok || !f.added || f.kind != kindGroup {
		m.mu.Unlock()
		return ErrNoFeature
	}
	fns := append([]func(surface.FeatureGroup){}, f.onClick...)
	m.mu.Unlock()

	g := &Group{handle{m: m, f: f}}
	for _, fn := range fns {
		fn(g)
	}
	return nil
}

type handle struct {
	m *Map
	f *feature
}

func (h handle) ID() string { return h.f.id }
func (h handle) Add()       { h.m.add(h.f) }
func (h handle) Remove()    { h.m.remove(h.f) }

// Marker is a marker handle.
type Marker struct{ handle }

func (mk *Marker) OpenPopup() {
	mk.m.mu.Lock()
	mk.f.popupOpen = true
	mk.m.mu.Unlock()
}

// Circle is a circle handle.
type Circle struct{ handle }

func (c *Circle) SetLatLng(at surface.LatLng) {
	c.m.mu.Lock()
	c.f.latlng = at
	c.m.mu.Unlock()
}

func (c *Circle) SetRadius(r float64) {
	c.m.mu.Lock()
	c.f.style.Radius = r
	c.m.mu.Unlock()
}

// Group is a feature group handle.
type Group struct{ handle }

func (g *Group) BringToFront() {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	g.m.topZ++
	g.f.z = g.m.topZ
}

func (g *Group) LatLng() surface.LatLng {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if len(g.f.members) > 0 {
		return g.f.members[0].latlng
	}
	return g.f.latlng
}

func (g *Group) OnClick(fn func(surface.FeatureGroup)) {
	g.m.mu.Lock()
	g.f.onClick = append(g.f.onClick, fn)
	g.m.mu.Unlock()
}
