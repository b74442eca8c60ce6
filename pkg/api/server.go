// Package api is the localhost HTTP API the map window talks to. It serves
// tiles, a scene snapshot to draw, and endpoints for every user action.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/rubiojr/minaplatser/pkg/binder"
	"github.com/rubiojr/minaplatser/pkg/geo"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/mapview"
	"github.com/rubiojr/minaplatser/pkg/metrics"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/search"
	"github.com/rubiojr/minaplatser/pkg/tilelayer"
	"github.com/rubiojr/minaplatser/pkg/tileproxy"
)

// LastFixer reports the latest known position.
type LastFixer interface {
	Last() (geo.Fix, bool)
}

// Server wires the components to HTTP routes.
type Server struct {
	Map     *mapview.Map
	Tiles   *tilelayer.Controller
	Proxy   *tileproxy.Proxy
	Binder  *binder.Binder
	Places  *places.Store
	Notices *notice.Board
	// Search and Location are optional.
	Search   *search.Searcher
	Location LastFixer
	// Version is reported by /api/version when set.
	Version string
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(middleware.Recoverer)
	if logger.DebugEnabled() {
		r.Use(middleware.Logger)
	}
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", s.handleGetProviders)
		r.Get("/provider", s.handleGetProvider)
		r.Put("/provider", s.handlePutProvider)

		r.Get("/scene", s.handleGetScene)
		r.Put("/view", s.handlePutView)
		r.Post("/features/{id}/click", s.handleClickFeature)

		r.Get("/places", s.handleGetPlaces)
		r.Post("/places", s.handleCreatePlace)
		r.Get("/places/export.gpx", s.handleExportPlaces)
		r.Post("/places/import", s.handleImportPlaces)

		r.Get("/session", s.handleGetSession)
		r.Post("/sessions/{id}/submit", s.handleSubmitSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)

		r.Get("/watch", s.handleGetWatch)
		r.Put("/watch", s.handlePutWatch)

		r.Get("/notice", s.handleGetNotice)
		r.Delete("/notice", s.handleDeleteNotice)

		r.Get("/search", s.handleSearch)
		r.Get("/location", s.handleGetLocation)
		r.Get("/version", s.handleGetVersion)

		r.Get("/tiles/stats", s.handleTileStats)
		r.Get("/tiles/*", s.Proxy.ServeHTTP)
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Serve serves the API on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("api: listening on http://%s", l.Addr())

	eg.Go(func() error {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Debug("api: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
