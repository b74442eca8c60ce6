package tilelayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/mapview"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/surface"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

type fixture struct {
	c       *Controller
	m       *mapview.Map
	kv      *kv.Memory
	notices *notice.Board
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		m:       mapview.New(surface.LatLng{59.3, 18.0}, 13),
		kv:      kv.NewMemory(),
		notices: notice.NewBoard(time.Minute),
	}
	f.c = New(Options{Surface: f.m, KV: f.kv, Notices: f.notices})
	return f
}

// failTile reports a tile error on whatever layer is attached right now.
func (f *fixture) failTile(t *testing.T) {
	t.Helper()
	l := f.m.TopTileLayer()
	require.NotNil(t, l, "no layer attached")
	l.ReportTileError(errors.New("status 404"))
}

func (f *fixture) persisted(t *testing.T) string {
	t.Helper()
	var name string
	ok, err := kv.GetJSON(context.Background(), f.kv, kv.KeyMapType, &name)
	require.NoError(t, err)
	require.True(t, ok)
	return name
}

func TestInitDefault(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Init(context.Background(), tiles.DefaultProvider))

	st := f.c.Status()
	assert.Equal(t, Active, st.State)
	assert.Equal(t, tiles.DefaultProvider, st.Provider)
	assert.Equal(t, tiles.FallbackProvider, st.Fallback)
	assert.Equal(t, tiles.DefaultProvider, f.m.TopTileLayer().Provider())
	assert.Equal(t, tiles.DefaultProvider, f.persisted(t))
}

func TestInitStoredName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, kv.SetJSON(ctx, f.kv, kv.KeyMapType, "Humanitarian"))
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	assert.Equal(t, "Humanitarian", f.c.Status().Provider)
}

func TestInitStaleStoredName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, kv.SetJSON(ctx, f.kv, kv.KeyMapType, "Removed Map"))
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	assert.Equal(t, tiles.DefaultProvider, f.c.Status().Provider)
	assert.Equal(t, tiles.DefaultProvider, f.persisted(t))
}

func TestSwitchFailureFallsBackToPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	require.NoError(t, f.c.SwitchTo(ctx, "Humanitarian"))
	require.NoError(t, f.c.SwitchTo(ctx, "Stadia Outdoors"))

	f.failTile(t)

	st := f.c.Status()
	assert.Equal(t, Active, st.State)
	assert.Equal(t, "Humanitarian", st.Provider, "falls back to the pre-switch provider")
	assert.Equal(t, "Humanitarian", f.m.TopTileLayer().Provider())
}

func TestBrokenProviderFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, "OpenStreetMap"))
	require.NoError(t, f.c.SwitchTo(ctx, tiles.BrokenProvider))
	assert.Equal(t, tiles.BrokenProvider, f.persisted(t))

	f.failTile(t)

	assert.Equal(t, "OpenStreetMap", f.c.Status().Provider)
	assert.Equal(t, "OpenStreetMap", f.persisted(t))
	assert.Equal(t, "Kartan Testkarta som inte kan laddas kunde inte laddas. Istället visas OpenStreetMap",
		f.notices.Current().Message)
}

func TestRepeatedErrorsFallBackOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	require.NoError(t, f.c.SwitchTo(ctx, tiles.BrokenProvider))

	broken := f.m.TopTileLayer()
	gen := f.c.Status().Generation
	broken.ReportTileError(errors.New("tile 1"))
	afterFirst := f.c.Status()

	// the faulted layer is detached, so its later errors never arrive
	broken.ReportTileError(errors.New("tile 2"))
	// and a late delivery tagged with its generation is stale
	f.c.OnTileLoadError(gen, errors.New("tile 3"))

	assert.Equal(t, afterFirst, f.c.Status())
	assert.Equal(t, tiles.DefaultProvider, afterFirst.Provider)
}

func TestStaleGenerationIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	old := f.c.Status().Generation
	require.NoError(t, f.c.SwitchTo(ctx, "Humanitarian"))

	f.c.OnTileLoadError(old, errors.New("late"))
	st := f.c.Status()
	assert.Equal(t, Active, st.State)
	assert.Equal(t, "Humanitarian", st.Provider)
}

func TestDoubleFailureEndsBlank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	require.NoError(t, f.c.SwitchTo(ctx, tiles.BrokenProvider))

	f.failTile(t) // broken -> Stamen Terrain
	require.Equal(t, tiles.DefaultProvider, f.c.Status().Provider)
	f.failTile(t) // Stamen Terrain was its own fallback

	st := f.c.Status()
	assert.Equal(t, Blank, st.State)
	assert.Empty(t, st.Provider)
	assert.Nil(t, f.m.TopTileLayer())
	assert.Contains(t, f.notices.Current().Message, tiles.DefaultProvider)

	// the user can still pick a provider afterwards
	require.NoError(t, f.c.SwitchTo(ctx, "OpenStreetMap"))
	assert.Equal(t, Active, f.c.Status().State)
}

func TestFallbackConfigurationErrorEndsBlank(t *testing.T) {
	catalog := tiles.Catalog{
		{Name: "A", APIProvider: "OpenStreetMap", MaxZoom: 19, AttributionNames: []string{"OpenStreetMap"}},
		{Name: "Credit only", APIProvider: "Stamen Design", MaxZoom: 19},
	}
	m := mapview.New(surface.LatLng{0, 0}, 3)
	c := New(Options{Catalog: catalog, Surface: m, KV: kv.NewMemory(), InitialFallback: "Credit only"})
	require.NoError(t, c.Init(context.Background(), "A"))

	m.TopTileLayer().ReportTileError(errors.New("boom"))
	assert.Equal(t, Blank, c.Status().State)
}

func TestInitNothingWorksEndsBlank(t *testing.T) {
	m := mapview.New(surface.LatLng{0, 0}, 3)
	c := New(Options{Catalog: tiles.Catalog{}, Surface: m, KV: kv.NewMemory()})
	require.NoError(t, c.Init(context.Background(), tiles.DefaultProvider))
	assert.Equal(t, Blank, c.Status().State)
}

func TestUnknownProviderRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.c.Init(ctx, tiles.DefaultProvider))
	before := f.c.Status()

	err := f.c.SwitchTo(ctx, "Nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, before, f.c.Status())

	assert.ErrorIs(t, f.c.Activate(ctx, "Nope"), ErrUnknownProvider)
}

func TestAPIKeyIsSubstituted(t *testing.T) {
	m := mapview.New(surface.LatLng{0, 0}, 3)
	c := New(Options{Surface: m, KV: kv.NewMemory(), APIKeys: map[string]string{"Thunderforest": "k3y"}})
	require.NoError(t, c.Activate(context.Background(), "Landscape"))
	assert.Contains(t, m.TopTileLayer().Spec().Endpoint, "apikey=k3y")
}

func TestAPIKeySourceIsCaseInsensitive(t *testing.T) {
	for _, source := range []string{"thunderforest", "THUNDERFOREST", "Thunderforest"} {
		m := mapview.New(surface.LatLng{0, 0}, 3)
		c := New(Options{Surface: m, KV: kv.NewMemory(), APIKeys: map[string]string{source: "k3y"}})
		require.NoError(t, c.Activate(context.Background(), "Thunderforest Outdoors"))
		assert.Contains(t, m.TopTileLayer().Spec().Endpoint, "apikey=k3y", source)
	}
}

func TestProviders(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Init(context.Background(), "Humanitarian"))
	list := f.c.Providers()
	require.Len(t, list, 9)
	var active []string
	for _, p := range list {
		if p.Active {
			active = append(active, p.Name)
		}
	}
	assert.Equal(t, []string{"Humanitarian"}, active)
	assert.Equal(t, "OpenStreetMap", list[0].Name)
}

func TestStateText(t *testing.T) {
	b, err := Blank.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "blank", string(b))
}
