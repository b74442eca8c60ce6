// Package tileproxy serves map tiles to the map window from whatever tile
// layer is attached to the map. Tiles are cached in memory and on disk, and
// concurrent requests for the same tile share one upstream fetch.
//
// A failed upstream fetch is reported back to the layer that asked for it as
// a *TileLoadError; that is the map's "tileerror" event.
package tileproxy

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/singleflight"

	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/metrics"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

// Defaults
const (
	DefaultCacheTTL      = 1 * time.Hour
	DefaultDiskTTL       = 0 // never expire
	DefaultPruneInterval = 3 * time.Minute
	DefaultMaxEntries    = 20000
	DefaultMaxBytes      = 256 * 1024 * 1024
	DefaultTimeout       = 12 * time.Second
	DefaultUserAgent     = "minaplatser tile proxy/1.0"
)

// Upstream describes the attached tile layer a request is served from.
type Upstream struct {
	LayerID  string
	Provider string
	Endpoint string
	MaxZoom  int
	// Report receives a *TileLoadError for every failed fetch.
	Report func(error)
}

// UpstreamFunc returns the currently attached layer, or false when the map
// has no tile layer.
type UpstreamFunc func() (Upstream, bool)

// TileLoadError is a failed tile image.
type TileLoadError struct {
	Provider string
	Tile     maptile.Tile
	Status   int
	Err      error
}

func (e *TileLoadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("tile %d/%d/%d from %q: upstream status %d", e.Tile.Z, e.Tile.X, e.Tile.Y, e.Provider, e.Status)
	}
	return fmt.Sprintf("tile %d/%d/%d from %q: %v", e.Tile.Z, e.Tile.X, e.Tile.Y, e.Provider, e.Err)
}

func (e *TileLoadError) Unwrap() error { return e.Err }

// Config tunes caching and upstream access. Zero values select defaults.
type Config struct {
	CacheDir      string
	CacheTTL      time.Duration
	DiskTTL       time.Duration
	MaxEntries    int
	MaxBytes      int64
	PruneInterval time.Duration
	Timeout       time.Duration
	UserAgent     string
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.MaxEntries < 100 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = DefaultPruneInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

type cacheKey struct {
	endpoint string
	tile     maptile.Tile
}

// Proxy is an http handler for /api/tiles/{z}/{x}/{y}.png.
type Proxy struct {
	cfg      Config
	upstream UpstreamFunc
	client   *http.Client
	mem      *expirable.LRU[cacheKey, []byte]
	flight   singleflight.Group

	prunerOnce sync.Once

	hits, diskHits, misses, stored, failures, shared atomic.Uint64
}

// New returns a proxy serving tiles of the layer returned by upstream.
func New(cfg Config, upstream UpstreamFunc) *Proxy {
	cfg.applyDefaults()
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			logger.Warn("tileproxy: disk cache disabled, cannot create %s: %v", cfg.CacheDir, err)
			cfg.CacheDir = ""
		}
	}
	return &Proxy{
		cfg:      cfg,
		upstream: upstream,
		client:   &http.Client{Timeout: cfg.Timeout},
		mem: expirable.NewLRU[cacheKey, []byte](cfg.MaxEntries, func(cacheKey, []byte) {
			metrics.TileEvictionsTotal.Inc()
		}, cfg.CacheTTL),
	}
}

// parseTilePath accepts "{z}/{x}/{y}.png" (the extension may also be .jpg).
func parseTilePath(p string) (maptile.Tile, error) {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) != 3 {
		return maptile.Tile{}, errors.New("bad path")
	}
	last := parts[2]
	if ext := filepath.Ext(last); ext == ".png" || ext == ".jpg" {
		last = strings.TrimSuffix(last, ext)
	} else {
		return maptile.Tile{}, errors.New("bad extension")
	}
	z, err1 := strconv.Atoi(parts[0])
	x, err2 := strconv.Atoi(parts[1])
	y, err3 := strconv.Atoi(last)
	if err1 != nil || err2 != nil || err3 != nil || z < 0 || z > 30 || x < 0 || y < 0 {
		return maptile.Tile{}, errors.New("invalid coords")
	}
	if n := 1 << uint(z); x >= n || y >= n {
		return maptile.Tile{}, errors.New("tile outside zoom level")
	}
	return maptile.Tile{X: uint32(x), Y: uint32(y), Z: maptile.Zoom(z)}, nil
}

// ServeHTTP serves one tile. The request path must end in {z}/{x}/{y}.png.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	idx := strings.Index(r.URL.Path, "/tiles/")
	if idx < 0 {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	tile, err := parseTilePath(r.URL.Path[idx+len("/tiles/"):])
	if err != nil {
		metrics.TileRequestsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up, ok := p.upstream()
	if !ok {
		metrics.TileRequestsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "no tile layer attached", http.StatusServiceUnavailable)
		return
	}
	if int(tile.Z) > up.MaxZoom {
		metrics.TileRequestsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "zoom above provider max", http.StatusNotFound)
		return
	}

	data, err := p.Fetch(r.Context(), up, tile)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=120")
	_, _ = w.Write(data)
}

// Fetch returns the tile bytes from memory, disk or upstream. Upstream
// failures are reported to up.Report before being returned, also when the
// failed fetch was shared with a request for another layer.
func (p *Proxy) Fetch(ctx context.Context, up Upstream, tile maptile.Tile) ([]byte, error) {
	key := cacheKey{endpoint: up.Endpoint, tile: tile}
	if data, ok := p.mem.Get(key); ok {
		p.hits.Add(1)
		metrics.TileRequestsTotal.WithLabelValues("mem_hit").Inc()
		logger.Debug("TILE mem-hit %s z=%d x=%d y=%d", up.Provider, tile.Z, tile.X, tile.Y)
		return data, nil
	}
	if data, ok := p.readDisk(key); ok {
		p.hits.Add(1)
		p.diskHits.Add(1)
		metrics.TileRequestsTotal.WithLabelValues("disk_hit").Inc()
		p.mem.Add(key, data)
		return data, nil
	}

	flightKey := fmt.Sprintf("%s|%d/%d/%d", up.Endpoint, tile.Z, tile.X, tile.Y)
	// A client hanging up must neither cancel a shared fetch nor surface as a
	// tile error.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := p.flight.Do(flightKey, func() (interface{}, error) {
		return p.fetchUpstream(fetchCtx, up, key)
	})
	if shared {
		p.shared.Add(1)
	}
	if err != nil {
		if up.Report != nil {
			up.Report(err)
		}
		return nil, err
	}
	return v.([]byte), nil
}

func (p *Proxy) fetchUpstream(ctx context.Context, up Upstream, key cacheKey) ([]byte, error) {
	p.misses.Add(1)
	tile := key.tile
	upURL := tiles.TileURL(up.Endpoint, int(tile.Z), int(tile.X), int(tile.Y))
	start := time.Now()
	logger.Debug("TILE miss -> upstream fetch %s url=%s", up.Provider, upURL)

	fail := func(status int, err error) ([]byte, error) {
		p.failures.Add(1)
		metrics.TileRequestsTotal.WithLabelValues("error").Inc()
		tle := &TileLoadError{Provider: up.Provider, Tile: tile, Status: status, Err: err}
		logger.Debug("TILE %v", tle)
		return nil, tle
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upURL, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	resp, err := p.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(0, err)
	}
	metrics.TileUpstreamDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	metrics.TileRequestsTotal.WithLabelValues("upstream").Inc()

	p.mem.Add(key, body)
	p.writeDisk(key, body)
	return body, nil
}

func (p *Proxy) diskPath(key cacheKey) string {
	sum := sha1.Sum([]byte(key.endpoint))
	return filepath.Join(p.cfg.CacheDir, hex.EncodeToString(sum[:6]),
		strconv.Itoa(int(key.tile.Z)), strconv.Itoa(int(key.tile.X)), strconv.Itoa(int(key.tile.Y))+".tile")
}

func (p *Proxy) readDisk(key cacheKey) ([]byte, bool) {
	if p.cfg.CacheDir == "" {
		return nil, false
	}
	path := p.diskPath(key)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if p.cfg.DiskTTL != 0 && time.Since(fi.ModTime()) > p.cfg.DiskTTL {
		logger.Debug("TILE disk-miss reason=expired path=%s", path)
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeDisk stores a tile best effort, using a temp file and rename so
// readers never see partial tiles.
func (p *Proxy) writeDisk(key cacheKey, data []byte) {
	if p.cfg.CacheDir == "" {
		return
	}
	final := p.diskPath(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return
	}
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, final); err == nil {
		p.stored.Add(1)
	}
}

// StartPruner trims the disk cache periodically until ctx is done. It only
// starts once per proxy.
func (p *Proxy) StartPruner(ctx context.Context) {
	if p.cfg.CacheDir == "" {
		return
	}
	p.prunerOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(p.cfg.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.PruneDisk()
				}
			}
		}()
	})
}

// PruneDisk removes expired tiles, then the oldest tiles until both the
// entry and byte limits hold.
func (p *Proxy) PruneDisk() {
	if p.cfg.CacheDir == "" {
		return
	}
	type cached struct {
		path string
		mod  time.Time
		size int64
	}
	var files []cached
	var total int64
	_ = filepath.WalkDir(p.cfg.CacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if p.cfg.DiskTTL != 0 && time.Since(info.ModTime()) > p.cfg.DiskTTL {
			_ = os.Remove(path)
			return nil
		}
		files = append(files, cached{path, info.ModTime(), info.Size()})
		total += info.Size()
		return nil
	})
	if len(files) <= p.cfg.MaxEntries && total <= p.cfg.MaxBytes {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	count := len(files)
	for _, f := range files {
		if count <= p.cfg.MaxEntries && total <= p.cfg.MaxBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			count--
			total -= f.size
		}
	}
	logger.Debug("tileproxy: pruned disk cache to %d tiles (%s)", count, humanize.Bytes(uint64(total)))
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	MemoryEntries  int    `json:"memory_cache_entries"`
	MemoryTTL      int    `json:"memory_cache_ttl_seconds"`
	MaxEntries     int    `json:"cache_max_entries"`
	DiskDir        string `json:"disk_cache_dir"`
	DiskTTL        int    `json:"disk_cache_ttl_seconds"`
	DiskMaxBytes   string `json:"disk_cache_max_bytes"`
	Hits           uint64 `json:"cache_hits"`
	DiskHits       uint64 `json:"cache_disk_hits"`
	Misses         uint64 `json:"cache_misses"`
	SharedFetches  uint64 `json:"shared_fetches"`
	Stored         uint64 `json:"tiles_stored"`
	UpstreamErrors uint64 `json:"errors"`
}

// Stats returns the current counters. DiskTTL is -1 when tiles never expire.
func (p *Proxy) Stats() Stats {
	diskTTL := int(p.cfg.DiskTTL.Seconds())
	if p.cfg.DiskTTL == 0 {
		diskTTL = -1
	}
	return Stats{
		MemoryEntries:  p.mem.Len(),
		MemoryTTL:      int(p.cfg.CacheTTL.Seconds()),
		MaxEntries:     p.cfg.MaxEntries,
		DiskDir:        p.cfg.CacheDir,
		DiskTTL:        diskTTL,
		DiskMaxBytes:   humanize.Bytes(uint64(p.cfg.MaxBytes)),
		Hits:           p.hits.Load(),
		DiskHits:       p.diskHits.Load(),
		Misses:         p.misses.Load(),
		SharedFetches:  p.shared.Load(),
		Stored:         p.stored.Load(),
		UpstreamErrors: p.failures.Load(),
	}
}

func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
