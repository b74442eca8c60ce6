// Package mapview is the map surface behind the QML window: it keeps the
// attached tile layers, the drawn features and the view, and turns them into
// a Scene the window renders. User input from the window (feature clicks,
// pans and zooms) comes back in through Click and UserView.
package mapview

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/surface"
	"github.com/rubiojr/minaplatser/pkg/tileproxy"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

// ErrNoFeature is returned by Click for ids not on the map.
var ErrNoFeature = errors.New("mapview: no such feature")

// Zoom limits of the surface.
const (
	MinZoom = 2
	MaxZoom = 22
)

// View is the visible center and zoom level.
type View struct {
	Center surface.LatLng `json:"center"`
	Zoom   int            `json:"zoom"`
}

// worldBounds keeps the view on the world: [-90,-180]..[90,180].
var worldBounds = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// Map implements surface.Surface.
type Map struct {
	mu       sync.Mutex
	view     View
	layers   []*TileLayer // attached, bottom to top
	features map[string]*feature
	topZ     int

	zoomEnd []func(View)
	moveEnd []func(View)
}

var _ surface.Surface = (*Map)(nil)

// New returns an empty map showing center at zoom.
func New(center surface.LatLng, zoom int) *Map {
	m := &Map{features: make(map[string]*feature)}
	m.view = View{Center: clampCenter(center), Zoom: clampZoom(zoom)}
	return m
}

func clampZoom(z int) int {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

func clampCenter(c surface.LatLng) surface.LatLng {
	pt := orb.Point{c.Lng(), c.Lat()}
	if worldBounds.Contains(pt) {
		return c
	}
	lng := min(max(pt[0], worldBounds.Min[0]), worldBounds.Max[0])
	lat := min(max(pt[1], worldBounds.Min[1]), worldBounds.Max[1])
	return surface.LatLng{lat, lng}
}

// View returns the current view.
func (m *Map) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// OnZoomEnd registers fn to run after every zoom level change.
func (m *Map) OnZoomEnd(fn func(View)) {
	m.mu.Lock()
	m.zoomEnd = append(m.zoomEnd, fn)
	m.mu.Unlock()
}

// OnMoveEnd registers fn to run after the view changed in any way.
func (m *Map) OnMoveEnd(fn func(View)) {
	m.mu.Lock()
	m.moveEnd = append(m.moveEnd, fn)
	m.mu.Unlock()
}

// SetView moves the view. The center is kept inside the world bounds.
func (m *Map) SetView(at surface.LatLng, zoom int) {
	m.setView(View{Center: clampCenter(at), Zoom: clampZoom(zoom)})
}

// UserView applies a pan/zoom reported by the window.
func (m *Map) UserView(v View) View {
	v = View{Center: clampCenter(v.Center), Zoom: clampZoom(v.Zoom)}
	m.setView(v)
	return v
}

func (m *Map) setView(v View) {
	m.mu.Lock()
	prev := m.view
	m.view = v
	zoomFns := append([]func(View){}, m.zoomEnd...)
	moveFns := append([]func(View){}, m.moveEnd...)
	m.mu.Unlock()

	if prev == v {
		return
	}
	if prev.Zoom != v.Zoom {
		for _, fn := range zoomFns {
			fn(v)
		}
	}
	for _, fn := range moveFns {
		fn(v)
	}
}

// CreateTileLayer returns a detached layer for spec.
func (m *Map) CreateTileLayer(spec tiles.Spec, provider string) surface.TileLayer {
	return &TileLayer{m: m, id: uuid.NewString(), provider: provider, spec: spec}
}

// TopTileLayer returns the topmost attached tile layer, or nil.
func (m *Map) TopTileLayer() *TileLayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.layers) == 0 {
		return nil
	}
	return m.layers[len(m.layers)-1]
}

// Upstream adapts the top tile layer for the tile proxy.
func (m *Map) Upstream() (tileproxy.Upstream, bool) {
	l := m.TopTileLayer()
	if l == nil {
		return tileproxy.Upstream{}, false
	}
	return tileproxy.Upstream{
		LayerID:  l.id,
		Provider: l.provider,
		Endpoint: l.spec.Endpoint,
		MaxZoom:  l.spec.Options.MaxZoom,
		Report:   l.ReportTileError,
	}, true
}

// TileLayer is a tile layer handle.
type TileLayer struct {
	m        *Map
	id       string
	provider string
	spec     tiles.Spec
	attached bool
	onError  []func(error)
}

// ID returns the layer id.
func (l *TileLayer) ID() string { return l.id }

// Provider returns the provider name the layer was created for.
func (l *TileLayer) Provider() string { return l.provider }

// Spec returns the resolved spec the layer draws.
func (l *TileLayer) Spec() tiles.Spec { return l.spec }

func (l *TileLayer) Attach() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.attached {
		return
	}
	l.attached = true
	l.m.layers = append(l.m.layers, l)
	logger.Debug("mapview: attached tile layer %s (%s)", l.id, l.provider)
}

func (l *TileLayer) Detach() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if !l.attached {
		return
	}
	l.attached = false
	for i, other := range l.m.layers {
		if other == l {
			l.m.layers = append(l.m.layers[:i], l.m.layers[i+1:]...)
			break
		}
	}
	logger.Debug("mapview: detached tile layer %s (%s)", l.id, l.provider)
}

func (l *TileLayer) OnTileError(fn func(error)) {
	l.m.mu.Lock()
	l.onError = append(l.onError, fn)
	l.m.mu.Unlock()
}

// ReportTileError emits the tile error event. Detached layers load no tiles,
// so their late errors are dropped.
func (l *TileLayer) ReportTileError(err error) {
	l.m.mu.Lock()
	if !l.attached {
		l.m.mu.Unlock()
		return
	}
	fns := append([]func(error){}, l.onError...)
	l.m.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Scene is everything the window draws.
type Scene struct {
	View      View              `json:"view"`
	MinZoom   int               `json:"minZoom"`
	MaxBounds [2]surface.LatLng `json:"maxBounds"`
	TileLayer *LayerState       `json:"tileLayer,omitempty"`
	Features  []FeatureState    `json:"features"`
}

// LayerState describes the top tile layer.
type LayerState struct {
	ID          string `json:"id"`
	Provider    string `json:"provider"`
	MaxZoom     int    `json:"maxZoom"`
	Attribution string `json:"attribution"`
}

// Scene returns a snapshot of the map, features ordered bottom to top.
func (m *Map) Scene() Scene {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := Scene{
		View:    m.view,
		MinZoom: MinZoom,
		MaxBounds: [2]surface.LatLng{
			{worldBounds.Min[1], worldBounds.Min[0]},
			{worldBounds.Max[1], worldBounds.Max[0]},
		},
		Features: []FeatureState{},
	}
	if n := len(m.layers); n > 0 {
		l := m.layers[n-1]
		sc.TileLayer = &LayerState{
			ID:          l.id,
			Provider:    l.provider,
			MaxZoom:     l.spec.Options.MaxZoom,
			Attribution: l.spec.Options.Attribution,
		}
	}
	var top []*feature
	for _, f := range m.features {
		if f.added && f.parent == nil {
			top = append(top, f)
		}
	}
	sort.Slice(top, func(i, j int) bool { return top[i].z < top[j].z })
	for _, f := range top {
		sc.Features = append(sc.Features, f.state())
	}
	return sc
}
