package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rubiojr/minaplatser/pkg/tiles"
)

// Config holds every setting of the application.
type Config struct {
	Debug     bool           `mapstructure:"debug"`
	DataDir   string         `mapstructure:"data_dir"`
	ConfigDir string         `mapstructure:"config_dir"`
	CacheDir  string         `mapstructure:"cache_dir"`
	Listen    string         `mapstructure:"listen"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Tiles     TilesConfig    `mapstructure:"tiles"`
	Map       MapConfig      `mapstructure:"map"`
	Location  LocationConfig `mapstructure:"location"`
	Search    SearchConfig   `mapstructure:"search"`
}

// StorageConfig selects where places and map settings are kept.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"` // sqlite | redis | memory
	Path    string      `mapstructure:"path"`    // sqlite file, defaults to <data_dir>/minaplatser.db
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// TilesConfig tunes the tile layer and the tile proxy.
type TilesConfig struct {
	Default    string            `mapstructure:"default"`
	CacheTTL   time.Duration     `mapstructure:"cache_ttl"`
	DiskTTL    time.Duration     `mapstructure:"disk_ttl"`
	MaxEntries int               `mapstructure:"max_entries"`
	MaxSize    string            `mapstructure:"max_size"` // e.g. "256 MB"
	Timeout    time.Duration     `mapstructure:"timeout"`
	APIKeys    map[string]string `mapstructure:"api_keys"`
}

// MapConfig is the initial view used before any view was saved.
type MapConfig struct {
	Lat  float64 `mapstructure:"lat"`
	Lng  float64 `mapstructure:"lng"`
	Zoom int     `mapstructure:"zoom"`
}

// LocationConfig selects the position source.
type LocationConfig struct {
	Source    string `mapstructure:"source"` // geoclue | manual | none
	DesktopID string `mapstructure:"desktop_id"`
	// Position is "lat,lng" for the manual source.
	Position string        `mapstructure:"position"`
	Accuracy float64       `mapstructure:"accuracy"`
	Wait     time.Duration `mapstructure:"wait"`
}

type SearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Server  string `mapstructure:"server"`
	Retries int    `mapstructure:"retries"`
}

// Default configuration values.
const (
	DefaultListen    = "127.0.0.1:43098"
	DefaultDesktopID = "io.github.rubiojr.minaplatser"
	DefaultNominatim = "https://nominatim.openstreetmap.org"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("data_dir", "")
	v.SetDefault("config_dir", "")
	v.SetDefault("cache_dir", "")
	v.SetDefault("listen", DefaultListen)

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "minaplatser:")

	v.SetDefault("tiles.default", tiles.DefaultProvider)
	v.SetDefault("tiles.cache_ttl", 20*time.Minute)
	v.SetDefault("tiles.disk_ttl", 7*24*time.Hour)
	v.SetDefault("tiles.max_entries", 20000)
	v.SetDefault("tiles.max_size", "256 MB")
	v.SetDefault("tiles.timeout", 12*time.Second)
	v.SetDefault("tiles.api_keys", map[string]string{})

	v.SetDefault("map.lat", 59.120403)
	v.SetDefault("map.lng", 17.649355)
	v.SetDefault("map.zoom", 5)

	v.SetDefault("location.source", "geoclue")
	v.SetDefault("location.desktop_id", DefaultDesktopID)
	v.SetDefault("location.position", "")
	v.SetDefault("location.accuracy", 10.0)
	v.SetDefault("location.wait", 15*time.Second)

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.server", DefaultNominatim)
	v.SetDefault("search.retries", 2)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"debug":      "debug",
	"data-dir":   "data_dir",
	"config-dir": "config_dir",
	"cache-dir":  "cache_dir",
	"listen":     "listen",
	"storage":    "storage.backend",
	"provider":   "tiles.default",
	"position":   "location.position",
}

// LoadConfig loads configuration from file, environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MINAPLATSER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if cfgFile == "" {
		for _, p := range configCandidates() {
			if fileExists(p) {
				cfgFile = p
				break
			}
		}
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	// A fixed position replaces GeoClue unless a source was chosen explicitly.
	if cfg.Location.Position != "" && !v.InConfig("location.source") && os.Getenv("MINAPLATSER_LOCATION_SOURCE") == "" {
		cfg.Location.Source = "manual"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configCandidates() []string {
	paths := []string{"minaplatser.yaml", "minaplatser.yml"}
	dir := filepath.Join(xdgConfigDir(), appDirName)
	paths = append(paths,
		filepath.Join(dir, "minaplatser.yaml"),
		filepath.Join(dir, "minaplatser.yml"),
	)
	if env := os.Getenv("MINAPLATSER_CONFIG"); env != "" {
		paths = append([]string{env}, paths...)
	}
	return paths
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch c.Location.Source {
	case "geoclue", "manual", "none":
	default:
		return fmt.Errorf("location.source: unknown source %q", c.Location.Source)
	}
	if _, err := c.Tiles.MaxBytes(); err != nil {
		return err
	}
	if c.Location.Position != "" {
		if _, err := parsePosition(c.Location.Position); err != nil {
			return err
		}
	}
	return nil
}

// MaxBytes parses the human readable disk cache limit.
func (t TilesConfig) MaxBytes() (int64, error) {
	if t.MaxSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(t.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("tiles.max_size: %w", err)
	}
	return int64(n), nil
}

// parsePosition parses "lat,lng".
func parsePosition(s string) ([2]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return [2]float64{}, fmt.Errorf("position %q: want lat,lng", s)
	}
	var out [2]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [2]float64{}, fmt.Errorf("position %q: %w", s, err)
		}
		out[i] = f
	}
	if out[0] < -90 || out[0] > 90 || out[1] < -180 || out[1] > 180 {
		return [2]float64{}, fmt.Errorf("position %q: out of range", s)
	}
	return out, nil
}
