package main

import (
	"fmt"
	"os"
	"path/filepath"
)

const appDirName = "minaplatser"

// appDirs are the resolved data, config and cache directories.
type appDirs struct {
	Data   string
	Config string
	Cache  string
}

// resolveDirs applies the configured overrides on top of the XDG defaults and
// creates the directories.
func resolveDirs(cfg *Config) (appDirs, error) {
	d := appDirs{
		Data:   cfg.DataDir,
		Config: cfg.ConfigDir,
		Cache:  cfg.CacheDir,
	}
	if d.Data == "" {
		d.Data = filepath.Join(xdgDataDir(), appDirName)
	}
	if d.Config == "" {
		d.Config = filepath.Join(xdgConfigDir(), appDirName)
	}
	if d.Cache == "" {
		d.Cache = filepath.Join(xdgCacheDir(), appDirName)
	}
	for _, dir := range []string{d.Data, d.Config, d.Cache} {
		if err := ensureDir(dir); err != nil {
			return d, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return d, nil
}

// fileExists reports whether the given path exists and is a file (not a directory).
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// xdgConfigDir returns $XDG_CONFIG_HOME or falls back to $HOME/.config.
func xdgConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// xdgCacheDir returns $XDG_CACHE_HOME or falls back to $HOME/.cache.
func xdgCacheDir() string {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// xdgDataDir returns $XDG_DATA_HOME or falls back to $HOME/.local/share.
func xdgDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, homeRel string) string {
	if d := os.Getenv(env); d != "" {
		return d
	}
	home := os.Getenv("HOME")
	if home == "" {
		// Last resort: current working directory (should not normally happen in Flatpak)
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, homeRel)
	}
	return filepath.Join(home, homeRel)
}

// ensureDir creates the directory and any necessary parents if it doesn't exist.
func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
