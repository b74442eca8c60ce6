// Package surface defines the contract between minaplatser's map logic and
// whatever draws the map. The tile layer controller and the place binder only
// talk to these interfaces; pkg/mapview provides the implementation backing
// the QML window.
package surface

import "github.com/rubiojr/minaplatser/pkg/tiles"

// LatLng is a [latitude, longitude] pair in degrees.
type LatLng [2]float64

// Lat returns the latitude.
func (p LatLng) Lat() float64 { return p[0] }

// Lng returns the longitude.
func (p LatLng) Lng() float64 { return p[1] }

// TileLayer is one provider's image grid. It emits a tile error once per
// failed tile image while attached.
type TileLayer interface {
	Attach()
	Detach()
	OnTileError(func(error))
}

// Feature is anything drawn over the tiles.
type Feature interface {
	ID() string
	Add()
	Remove()
}

// Marker is a pin with an HTML popup.
type Marker interface {
	Feature
	OpenPopup()
}

// CircleStyle controls how a circle is drawn. Radius is in meters.
type CircleStyle struct {
	Radius    float64 `json:"radius"`
	Color     string  `json:"color,omitempty"`
	FillColor string  `json:"fillColor,omitempty"`
	ClassName string  `json:"className,omitempty"`
}

// Circle is a radius drawn around a point.
type Circle interface {
	Feature
	SetLatLng(LatLng)
	SetRadius(float64)
}

// FeatureGroup draws several features as one clickable unit.
type FeatureGroup interface {
	Feature
	BringToFront()
	// LatLng is the coordinate the group's first feature was drawn at.
	LatLng() LatLng
	OnClick(func(FeatureGroup))
}

// Surface creates features and controls the view.
type Surface interface {
	CreateTileLayer(spec tiles.Spec, provider string) TileLayer
	CreateMarker(at LatLng, popupHTML string) Marker
	CreateCircle(at LatLng, style CircleStyle) Circle
	CreateFeatureGroup(features ...Feature) FeatureGroup
	SetView(at LatLng, zoom int)
}
