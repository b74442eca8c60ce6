package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rubiojr/minaplatser/pkg/kv"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List the map providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			dirs, err := resolveDirs(cfg)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg, dirs)
			if err != nil {
				return err
			}
			defer store.Close()
			var saved string
			if _, err := kv.GetJSON(ctx, store, kv.KeyMapType, &saved); err != nil {
				return err
			}
			return renderProviders(cmd.OutOrStdout(), tiles.DefaultCatalog(), saved)
		},
	}
}

func renderProviders(w io.Writer, catalog tiles.Catalog, saved string) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Name", "Source", "Max zoom", "Description"})
	for _, p := range catalog {
		mark := ""
		if p.Name == saved {
			mark = "*"
		}
		t.AppendRow(table.Row{mark, p.Name, p.APIProvider, p.MaxZoom, p.Description})
	}
	t.Render()
	return nil
}

func newPlacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "places",
		Short: "Manage saved places",
	}
	cmd.AddCommand(newPlacesListCmd(), newPlacesExportCmd(), newPlacesImportCmd())
	return cmd
}

// withPlaces opens storage and the place store for a one-off command.
func withPlaces(ctx context.Context, fn func(*places.Store) error) error {
	dirs, err := resolveDirs(cfg)
	if err != nil {
		return err
	}
	store, ps, err := openPlaces(ctx, cfg, dirs)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ps)
}

func newPlacesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved places",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPlaces(cmd.Context(), func(ps *places.Store) error {
				renderPlaces(cmd.OutOrStdout(), ps.All(), time.Now())
				return nil
			})
		},
	}
}

func renderPlaces(w io.Writer, all []places.Place, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Latitude", "Longitude", "Radius", "Saved"})
	for _, p := range all {
		saved := "-"
		if c := p.Created(); !c.IsZero() {
			saved = humanize.RelTime(c, now, "ago", "from now")
		}
		t.AppendRow(table.Row{
			p.Name,
			strconv.FormatFloat(p.LatLng[0], 'f', -1, 64),
			strconv.FormatFloat(p.LatLng[1], 'f', -1, 64),
			fmt.Sprintf("%d m", p.Radius),
			saved,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(all)})
	t.Render()
}

func newPlacesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file.gpx]",
		Short: "Export places as GPX (stdout without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlaces(cmd.Context(), func(ps *places.Store) error {
				if len(args) == 0 {
					return ps.ExportGPX(cmd.OutOrStdout())
				}
				return exportFile(ps, args[0])
			})
		},
	}
}

// exportFile writes to a temp file and renames it over path.
func exportFile(ps *places.Store, path string) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := ps.ExportGPX(f); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func newPlacesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.gpx>",
		Short: "Import waypoints from a GPX file as places",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withPlaces(cmd.Context(), func(ps *places.Store) error {
				res, err := ps.ImportGPX(cmd.Context(), f, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d place(s), skipped %d already saved\n", res.Added, res.Skipped)
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "minaplatser v%s\n", Version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
