package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubiojr/minaplatser/pkg/binder"
	"github.com/rubiojr/minaplatser/pkg/geo"
	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/mapview"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/surface"
	"github.com/rubiojr/minaplatser/pkg/tilelayer"
	"github.com/rubiojr/minaplatser/pkg/tileproxy"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

type env struct {
	srv *httptest.Server
	loc *geo.Manual
	kv  *kv.Memory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad/") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\ntile"))
	}))
	t.Cleanup(upstream.Close)

	table := tiles.Table{
		"Good": {URLTemplate: upstream.URL + "/good/{z}/{x}/{y}.png", CreditURL: "https://good.example"},
		"Bad":  {URLTemplate: upstream.URL + "/bad/{z}/{x}/{y}.png", CreditURL: "https://bad.example"},
	}
	catalog := tiles.Catalog{
		{Name: "Good map", APIProvider: "Good", MaxZoom: 18, AttributionNames: []string{"Good"}, Description: "works"},
		{Name: "Bad map", APIProvider: "Bad", MaxZoom: 18, AttributionNames: []string{"Bad"}, Description: "404s"},
	}

	e := &env{loc: geo.NewManual(), kv: kv.NewMemory()}
	m := mapview.New(surface.LatLng{59.3, 18.0}, 13)
	notices := notice.NewBoard(time.Minute)
	store := places.NewStore(e.kv)
	ctrl := tilelayer.New(tilelayer.Options{Catalog: catalog, Table: table, Surface: m, KV: e.kv, Notices: notices, InitialFallback: "Good map"})
	require.NoError(t, ctrl.Init(context.Background(), "Good map"))

	s := &Server{
		Map:     m,
		Tiles:   ctrl,
		Proxy:   tileproxy.New(tileproxy.Config{}, m.Upstream),
		Binder:  binder.New(binder.Options{Store: store, Locator: e.loc, Surface: m, Notices: notices}),
		Places:  store,
		Notices: notices,
		Version: "test",
	}
	e.srv = httptest.NewServer(s.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestProviderFallbackThroughTileProxy(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/tiles/1/0/0.png", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := e.do(t, http.MethodPut, "/api/provider", map[string]string{"name": "Bad map"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bad map", decode[tilelayer.Status](t, data).Provider)

	resp, _ = e.do(t, http.MethodGet, "/api/tiles/1/1/0.png", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	_, data = e.do(t, http.MethodGet, "/api/scene", nil)
	st := decode[State](t, data)
	assert.Equal(t, "Good map", st.Tiles.Provider)
	require.NotNil(t, st.Notice)
	assert.Equal(t, "Kartan Bad map kunde inte laddas. Istället visas Good map", st.Notice.Message)
	require.NotNil(t, st.Scene.TileLayer)
	assert.Contains(t, st.Scene.TileLayer.Attribution, "good.example")

	var persisted string
	ok, err := kv.GetJSON(context.Background(), e.kv, kv.KeyMapType, &persisted)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Good map", persisted)

	resp, _ = e.do(t, http.MethodGet, "/api/tiles/1/1/0.png", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProviders(t *testing.T) {
	e := newEnv(t)
	_, data := e.do(t, http.MethodGet, "/api/providers", nil)
	list := decode[[]tilelayer.ProviderInfo](t, data)
	require.Len(t, list, 2)
	assert.True(t, list[0].Active)
	assert.Equal(t, "works", list[0].Description)

	resp, _ := e.do(t, http.MethodPut, "/api/provider", map[string]string{"name": "Missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaceLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/places", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no position yet")

	e.loc.Set(geo.Fix{Lat: 59.1, Lng: 17.6, Accuracy: 12})
	resp, data := e.do(t, http.MethodPost, "/api/places", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decode[binder.Session](t, data)
	assert.Equal(t, binder.KindCreate, sess.Kind)

	resp, data = e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/submit", map[string]string{"name": " Cabin "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Cabin", decode[places.Place](t, data).Name)

	resp, _ = e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/submit", map[string]string{"name": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "session already closed")

	resp, _ = e.do(t, http.MethodPost, "/api/places", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "place exists")

	_, data = e.do(t, http.MethodGet, "/api/places", nil)
	assert.Len(t, decode[[]places.Place](t, data), 1)

	_, data = e.do(t, http.MethodGet, "/api/scene", nil)
	st := decode[State](t, data)
	var groupID string
	for _, f := range st.Scene.Features {
		if f.Kind == "group" {
			groupID = f.ID
		}
	}
	require.NotEmpty(t, groupID)

	resp, data = e.do(t, http.MethodPost, "/api/features/"+groupID+"/click", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edit := decode[binder.Session](t, data)
	assert.Equal(t, binder.KindEdit, edit.Kind)
	assert.Equal(t, "Cabin", edit.Name)

	resp, _ = e.do(t, http.MethodDelete, "/api/sessions/"+edit.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, data = e.do(t, http.MethodGet, "/api/places", nil)
	assert.Empty(t, decode[[]places.Place](t, data))

	resp, _ = e.do(t, http.MethodPost, "/api/features/nope/click", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGPXExportImport(t *testing.T) {
	e := newEnv(t)
	doc := `<gpx version="1.1"><wpt lat="1.5" lon="2.5"><name>Fyren</name><desc>radius=3</desc></wpt></gpx>`
	resp, err := http.Post(e.srv.URL+"/api/places/import", "application/gpx+xml", strings.NewReader(doc))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, data := e.do(t, http.MethodGet, "/api/places/export.gpx", nil)
	assert.Equal(t, "application/gpx+xml", resp2.Header.Get("Content-Type"))
	assert.Contains(t, string(data), "<name>Fyren</name>")

	_, data = e.do(t, http.MethodGet, "/api/scene", nil)
	assert.Len(t, decode[State](t, data).Scene.Features, 1, "imported place is drawn")
}

func TestWatchAndView(t *testing.T) {
	e := newEnv(t)
	e.loc.Set(geo.Fix{Lat: 60, Lng: 15, Accuracy: 20})

	_, data := e.do(t, http.MethodPut, "/api/watch", map[string]bool{"on": true})
	assert.Equal(t, map[string]bool{"on": true}, decode[map[string]bool](t, data))
	_, data = e.do(t, http.MethodGet, "/api/scene", nil)
	st := decode[State](t, data)
	assert.True(t, st.Watching)
	assert.Equal(t, binder.WatchZoom, st.Scene.View.Zoom)

	_, data = e.do(t, http.MethodPut, "/api/watch", map[string]bool{"on": false})
	assert.Equal(t, map[string]bool{"on": false}, decode[map[string]bool](t, data))

	_, data = e.do(t, http.MethodPut, "/api/view", mapview.View{Center: surface.LatLng{57.7, 11.9}, Zoom: 30})
	assert.Equal(t, mapview.MaxZoom, decode[mapview.View](t, data).Zoom)
}

func TestMisc(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/api/location", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/notice", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, data := e.do(t, http.MethodGet, "/api/search?q=x", nil)
	assert.JSONEq(t, `[]`, string(data))

	_, data = e.do(t, http.MethodGet, "/api/version", nil)
	assert.Equal(t, "test", decode[map[string]any](t, data)["app_version"])

	_, data = e.do(t, http.MethodGet, "/api/tiles/stats", nil)
	assert.Contains(t, string(data), "cache_hits")

	resp, _ = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodOptions, "/api/places", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&tiles.ConfigurationError{Provider: "x"}))
	assert.Equal(t, http.StatusConflict, statusFor(binder.ErrStaleSession))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(geo.ErrPositionUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
