package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/rubiojr/minaplatser/pkg/api"
	"github.com/rubiojr/minaplatser/pkg/binder"
	"github.com/rubiojr/minaplatser/pkg/geo"
	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/mapview"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/search"
	"github.com/rubiojr/minaplatser/pkg/surface"
	"github.com/rubiojr/minaplatser/pkg/tilelayer"
	"github.com/rubiojr/minaplatser/pkg/tileproxy"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

// locator is a position source that also reports its last fix.
type locator interface {
	geo.Locator
	api.LastFixer
}

// app holds the wired components of a running instance.
type app struct {
	cfg  *Config
	dirs appDirs

	kv      kv.Store
	places  *places.Store
	notices *notice.Board
	mapView *mapview.Map
	tiles   *tilelayer.Controller
	proxy   *tileproxy.Proxy
	binder  *binder.Binder
	search  *search.Searcher
	locator locator

	closers []func()
}

// openStore opens the configured key-value backend.
func openStore(ctx context.Context, cfg *Config, dirs appDirs) (kv.Store, error) {
	path := cfg.Storage.Path
	if path == "" {
		path = filepath.Join(dirs.Data, "minaplatser.db")
	}
	store, err := kv.Open(ctx, kv.Config{
		Backend: cfg.Storage.Backend,
		Path:    path,
		Redis: kv.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	logger.Debug("storage: %s backend ready", cfg.Storage.Backend)
	return store, nil
}

// openPlaces opens storage and loads the saved places.
func openPlaces(ctx context.Context, cfg *Config, dirs appDirs) (kv.Store, *places.Store, error) {
	store, err := openStore(ctx, cfg, dirs)
	if err != nil {
		return nil, nil, err
	}
	ps := places.NewStore(store)
	if err := ps.Load(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, ps, nil
}

func newLocator(ctx context.Context, cfg LocationConfig) (locator, func(), error) {
	switch cfg.Source {
	case "geoclue":
		g := geo.StartGeoClue(ctx, cfg.DesktopID)
		return g, g.Stop, nil
	case "manual", "none":
		m := geo.NewManual()
		m.Wait = cfg.Wait
		if cfg.Position != "" {
			pos, err := parsePosition(cfg.Position)
			if err != nil {
				return nil, nil, err
			}
			m.Set(geo.Fix{Lat: pos[0], Lng: pos[1], Accuracy: cfg.Accuracy, Timestamp: time.Now()})
		}
		return m, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown location source %q", cfg.Source)
}

// newApp builds every component and brings the map to its initial state.
func newApp(ctx context.Context, cfg *Config) (_ *app, err error) {
	dirs, err := resolveDirs(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, dirs: dirs, notices: notice.NewBoard(notice.DefaultTTL)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.kv, a.places, err = openPlaces(ctx, cfg, dirs)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := a.kv.Close(); err != nil {
			logger.Warn("storage: close: %v", err)
		}
	})

	view := mapview.RestoreView(ctx, a.kv, surface.LatLng{cfg.Map.Lat, cfg.Map.Lng}, cfg.Map.Zoom)
	a.mapView = mapview.New(view.Center, view.Zoom)
	mapview.PersistView(a.mapView, a.kv)

	for _, err := range tiles.DefaultCatalog().Validate(tiles.DefaultTable()) {
		logger.Warn("tiles: %v", err)
	}
	a.tiles = tilelayer.New(tilelayer.Options{
		APIKeys: cfg.Tiles.APIKeys,
		Surface: a.mapView,
		KV:      a.kv,
		Notices: a.notices,
	})
	if err := a.tiles.Init(ctx, cfg.Tiles.Default); err != nil {
		return nil, err
	}

	maxBytes, err := cfg.Tiles.MaxBytes()
	if err != nil {
		return nil, err
	}
	a.proxy = tileproxy.New(tileproxy.Config{
		CacheDir:   filepath.Join(dirs.Cache, "tiles"),
		CacheTTL:   cfg.Tiles.CacheTTL,
		DiskTTL:    cfg.Tiles.DiskTTL,
		MaxEntries: cfg.Tiles.MaxEntries,
		MaxBytes:   maxBytes,
		Timeout:    cfg.Tiles.Timeout,
	}, a.mapView.Upstream)

	var stopLocator func()
	a.locator, stopLocator, err = newLocator(ctx, cfg.Location)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stopLocator)

	a.binder = binder.New(binder.Options{
		Store:   a.places,
		Locator: a.locator,
		Surface: a.mapView,
		Notices: a.notices,
	})
	a.binder.RenderAll()
	a.closers = append(a.closers, func() { a.binder.Watch(false) })

	if cfg.Search.Enabled {
		a.search, err = search.New(search.Options{
			CachePath: filepath.Join(dirs.Cache, "geocode.db"),
			Geocoder:  search.NewNominatim(cfg.Search.Server),
			Places:    a.places,
			Retries:   cfg.Search.Retries,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.search.Close() })
	}

	logger.Debug("app: %d place(s), tiles %s, data in %s", a.places.Len(), a.tiles.Status().State, dirs.Data)
	return a, nil
}

func (a *app) server() *api.Server {
	return &api.Server{
		Map:      a.mapView,
		Tiles:    a.tiles,
		Proxy:    a.proxy,
		Binder:   a.binder,
		Places:   a.places,
		Notices:  a.notices,
		Search:   a.search,
		Location: a.locator,
		Version:  Version,
	}
}

// listen binds the API address before anything else starts, so the window
// can be pointed at it.
func (a *app) listen() (net.Listener, error) {
	l, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", a.cfg.Listen, err)
	}
	return l, nil
}

// serve runs the API and the tile cache pruner until ctx is done.
func (a *app) serve(ctx context.Context, l net.Listener) error {
	a.proxy.StartPruner(ctx)
	return a.server().Serve(ctx, l)
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
