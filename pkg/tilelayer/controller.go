// Package tilelayer owns the map's active tile layer. It activates providers
// from the catalog, persists the chosen one, and falls back to the last
// provider that worked when the active layer fails to load tiles.
//
// Every attached layer is tagged with a generation. Tile errors carrying an
// older generation belong to a layer that is already gone and are ignored.
package tilelayer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/metrics"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/surface"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

// ErrUnknownProvider is returned for names missing from the catalog.
var ErrUnknownProvider = errors.New("tilelayer: unknown provider")

// State of the controller.
type State int

const (
	Uninitialized State = iota
	Active
	Faulted
	// Blank means no provider could be shown. The map stays usable without
	// tiles.
	Blank
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Faulted:
		return "faulted"
	case Blank:
		return "blank"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{Uninitialized, Active, Faulted, Blank} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("tilelayer: unknown state %q", b)
}

// Options configure a Controller.
type Options struct {
	Catalog tiles.Catalog
	Table   tiles.Table
	// APIKeys maps a tile source key (Provider.APIProvider) to its key.
	// Source names match case-insensitively.
	APIKeys map[string]string
	Surface surface.Surface
	KV      kv.Store
	Notices *notice.Board
	// InitialFallback is the fallback before the user picked any provider.
	InitialFallback string
}

// Controller is the tile layer state machine. Activations are serialized.
type Controller struct {
	mu sync.Mutex

	catalog  tiles.Catalog
	resolver *tiles.Resolver
	apiKeys  map[string]string
	surface  surface.Surface
	kv       kv.Store
	notices  *notice.Board

	state    State
	current  string
	fallback string
	layer    surface.TileLayer
	gen      uint64
}

// New returns an uninitialized controller.
func New(opts Options) *Controller {
	if opts.Catalog == nil {
		opts.Catalog = tiles.DefaultCatalog()
	}
	if opts.Table == nil {
		opts.Table = tiles.DefaultTable()
	}
	if opts.InitialFallback == "" {
		opts.InitialFallback = tiles.FallbackProvider
	}
	if opts.Notices == nil {
		opts.Notices = notice.NewBoard(notice.DefaultTTL)
	}
	apiKeys := make(map[string]string, len(opts.APIKeys))
	for source, key := range opts.APIKeys {
		apiKeys[strings.ToLower(source)] = key
	}
	return &Controller{
		catalog:  opts.Catalog,
		resolver: tiles.NewResolver(opts.Table),
		apiKeys:  apiKeys,
		surface:  opts.Surface,
		kv:       opts.KV,
		notices:  opts.Notices,
		fallback: opts.InitialFallback,
	}
}

// Init activates the persisted provider. A missing or stale stored name
// falls back to defaultName, then to the initial fallback, then to Blank.
func (c *Controller) Init(ctx context.Context, defaultName string) error {
	var stored string
	found, err := kv.GetJSON(ctx, c.kv, kv.KeyMapType, &stored)
	if err != nil {
		logger.Warn("tilelayer: reading %s: %v", kv.KeyMapType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var candidates []string
	if found && stored != "" {
		candidates = append(candidates, stored)
	}
	candidates = append(candidates, defaultName, c.fallback)
	for _, name := range candidates {
		if name == "" {
			continue
		}
		err := c.activateLocked(ctx, name)
		if err == nil {
			return nil
		}
		logger.Warn("tilelayer: cannot start with %q: %v", name, err)
	}
	c.blankLocked()
	return nil
}

// Activate shows provider name. The name is persisted as soon as the layer
// is attached.
func (c *Controller) Activate(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(ctx, name)
}

// SwitchTo is a user initiated provider change. The provider active before
// the switch becomes the fallback.
func (c *Controller) SwitchTo(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.catalog.FindByName(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	prevFallback := c.fallback
	if c.state == Active {
		c.fallback = c.current
	}
	if err := c.activateLocked(ctx, name); err != nil {
		c.fallback = prevFallback
		return err
	}
	return nil
}

func (c *Controller) activateLocked(ctx context.Context, name string) error {
	p, ok := c.catalog.FindByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	spec, err := c.resolver.Resolve(p, c.apiKeys[strings.ToLower(p.APIProvider)])
	if err != nil {
		return fmt.Errorf("tilelayer: activate %q: %w", name, err)
	}

	c.gen++
	gen := c.gen
	layer := c.surface.CreateTileLayer(spec, p.Name)
	layer.OnTileError(func(err error) { c.OnTileLoadError(gen, err) })
	if c.layer != nil {
		c.layer.Detach()
	}
	layer.Attach()
	c.layer = layer
	c.current = p.Name
	c.state = Active
	logger.Info("tilelayer: showing %q (generation %d)", p.Name, gen)

	if err := kv.SetJSON(ctx, c.kv, kv.KeyMapType, p.Name); err != nil {
		logger.Warn("tilelayer: persisting %s: %v", kv.KeyMapType, err)
	}
	return nil
}

// OnTileLoadError handles a failed tile of the layer tagged generation. Only
// the first error of the active layer triggers a fallback.
func (c *Controller) OnTileLoadError(generation uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.gen || c.state != Active {
		logger.Debug("tilelayer: ignoring tile error of generation %d: %v", generation, err)
		return
	}

	failed, fallback := c.current, c.fallback
	c.state = Faulted
	metrics.TileFallbacksTotal.WithLabelValues(failed).Inc()
	logger.Warn("tilelayer: %q failed to load tiles: %v", failed, err)
	c.layer.Detach()
	c.layer = nil

	if fallback == "" || fallback == failed {
		c.blankLocked()
		return
	}
	c.notices.Show(fmt.Sprintf("Kartan %s kunde inte laddas. Istället visas %s", failed, fallback))
	if err := c.activateLocked(context.Background(), fallback); err != nil {
		logger.Error("tilelayer: fallback %q failed: %v", fallback, err)
		c.blankLocked()
	}
}

func (c *Controller) blankLocked() {
	failed := c.current
	if c.layer != nil {
		c.layer.Detach()
		c.layer = nil
	}
	c.gen++
	c.state = Blank
	c.current = ""
	if failed != "" {
		c.notices.Show(fmt.Sprintf("Kartan %s kunde inte laddas och ingen annan karta kan visas", failed))
	} else {
		c.notices.Show("Ingen karta kunde laddas")
	}
	logger.Error("tilelayer: no tile provider could be shown")
}

// Status is a snapshot of the controller.
type Status struct {
	State      State  `json:"state"`
	Provider   string `json:"provider,omitempty"`
	Fallback   string `json:"fallback,omitempty"`
	Generation uint64 `json:"generation"`
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Provider: c.current, Fallback: c.fallback, Generation: c.gen}
}

// ProviderInfo is a catalog entry as listed to the user.
type ProviderInfo struct {
	tiles.Provider
	Active bool `json:"active"`
}

// Providers lists the catalog in order, marking the active provider.
func (c *Controller) Providers() []ProviderInfo {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	out := make([]ProviderInfo, 0, len(c.catalog))
	for _, p := range c.catalog {
		out = append(out, ProviderInfo{Provider: p, Active: p.Name == current})
	}
	return out
}
