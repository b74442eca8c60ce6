// Package metrics exposes Prometheus counters for the tile transport, the
// tile layer controller and the place store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TileRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minaplatser_tile_requests_total",
		Help: "Tile requests by outcome (mem_hit, disk_hit, upstream, error, rejected)",
	}, []string{"result"})
	TileUpstreamDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "minaplatser_tile_upstream_duration_ms",
		Help:    "Upstream tile fetch duration in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	TileEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "minaplatser_tile_evictions_total",
		Help: "Tiles evicted from the memory cache",
	})
	TileFallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minaplatser_tile_fallbacks_total",
		Help: "Automatic provider fallbacks by failed provider",
	}, []string{"provider"})
	PlaceMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minaplatser_place_mutations_total",
		Help: "Place store mutations by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(TileRequestsTotal)
	prometheus.MustRegister(TileUpstreamDurationMs)
	prometheus.MustRegister(TileEvictionsTotal)
	prometheus.MustRegister(TileFallbacksTotal)
	prometheus.MustRegister(PlaceMutationsTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
