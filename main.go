package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rubiojr/minaplatser/pkg/logger"
)

// Version information (set at build time).
var Version = "0.1.0"

var (
	cfgFile string
	cfg     *Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

// newRootCmd creates the root command. Without a subcommand it runs the map
// window.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "minaplatser",
		Short: "Mina Platser - save and revisit places on a map",
		Long: `Mina Platser shows a map centered on your position and lets you save
the places you care about, each with a name and the accuracy radius of the
fix it was saved from.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			var err error
			cfg, err = LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger.SetDebug(cfg.Debug)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), true)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./minaplatser.yaml or $XDG_CONFIG_HOME/minaplatser/minaplatser.yaml)")
	pf.Bool("debug", false, "enable debug logging")
	pf.String("data-dir", "", "custom data directory (overrides XDG_DATA_HOME)")
	pf.String("config-dir", "", "custom config directory (overrides XDG_CONFIG_HOME)")
	pf.String("cache-dir", "", "custom cache directory (overrides XDG_CACHE_HOME)")
	pf.String("storage", "sqlite", "storage backend (sqlite|redis|memory)")
	pf.String("listen", DefaultListen, "API listen address")
	pf.String("provider", "", "map provider used when none was saved")
	pf.String("position", "", "fixed position \"lat,lng\" instead of GeoClue")

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newProvidersCmd(),
		newPlacesCmd(),
		newVersionCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Open the map window (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), true)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the map API without a window",
		Long: `Serve the HTTP API the map window uses, without opening the window.
Combine with --position to run without GeoClue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), false)
		},
	}
}

// runApp wires the components, serves the API and, with window set, shows
// the map until it is closed.
func runApp(parent context.Context, window bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.listen()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return a.serve(egctx, l)
	})
	if !window {
		return eg.Wait()
	}

	windowDone := make(chan struct{})
	eg.Go(func() error {
		select {
		case <-windowDone:
		case <-egctx.Done():
			select {
			case <-windowDone:
			default:
				quitWindow()
			}
		}
		return nil
	})

	werr := runWindow(a.dirs.Cache, "http://"+l.Addr().String())
	close(windowDone)
	cancel()
	if err := eg.Wait(); err != nil {
		return err
	}
	return werr
}
