package mapview

import (
	"context"
	"time"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/surface"
)

// RestoreView reads the saved view, using the defaults for missing values.
func RestoreView(ctx context.Context, s kv.Store, center surface.LatLng, zoom int) View {
	v := View{Center: center, Zoom: zoom}
	var c surface.LatLng
	if ok, err := kv.GetJSON(ctx, s, kv.KeyViewCenter, &c); err != nil {
		logger.Warn("mapview: reading %s: %v", kv.KeyViewCenter, err)
	} else if ok {
		v.Center = c
	}
	var z int
	if ok, err := kv.GetJSON(ctx, s, kv.KeyZoom, &z); err != nil {
		logger.Warn("mapview: reading %s: %v", kv.KeyZoom, err)
	} else if ok {
		v.Zoom = z
	}
	return v
}

// PersistView saves the zoom on every zoomend and the center on every
// moveend.
func PersistView(m *Map, s kv.Store) {
	save := func(key string, v any) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := kv.SetJSON(ctx, s, key, v); err != nil {
			logger.Warn("mapview: persisting %s: %v", key, err)
		}
	}
	m.OnZoomEnd(func(v View) {
		logger.Debug("mapview: zoom level %d", v.Zoom)
		save(kv.KeyZoom, v.Zoom)
	})
	m.OnMoveEnd(func(v View) { save(kv.KeyViewCenter, v.Center) })
}
