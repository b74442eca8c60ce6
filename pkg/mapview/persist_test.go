package mapview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/surface"
)

func TestViewPersistence(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	v := RestoreView(ctx, store, surface.LatLng{59.3, 18.0}, 13)
	assert.Equal(t, View{Center: surface.LatLng{59.3, 18.0}, Zoom: 13}, v)

	m := New(v.Center, v.Zoom)
	PersistView(m, store)
	m.UserView(View{Center: surface.LatLng{57.7, 11.9}, Zoom: 9})

	raw, ok, err := store.Get(ctx, kv.KeyZoom)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "9", string(raw))

	restored := RestoreView(ctx, store, surface.LatLng{0, 0}, 2)
	assert.Equal(t, View{Center: surface.LatLng{57.7, 11.9}, Zoom: 9}, restored)
}
