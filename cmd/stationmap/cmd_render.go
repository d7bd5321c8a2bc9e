package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/yegors/stationmap/internal/synoptic"
)

var (
	renderHTMLPath string
	renderPNGPath  string
)

var renderCmd = &cobra.Command{
	Use:   "render [metadata|latest]",
	Short: "Render the interactive HTML map and the static PNG map",
	Long: `Load the station table for a kind (fetching it on a cache miss) and write
both maps. Output paths default to [maps] html_path and png_path.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(synoptic.KindMetadata), string(synoptic.KindLatest)},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindArg(args, synoptic.KindLatest)
		if err != nil {
			return err
		}
		return runRender(cmd, kind, renderHTMLPath, renderPNGPath, true, true)
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderHTMLPath, "html", "", "Interactive map output path (default [maps] html_path)")
	renderCmd.Flags().StringVar(&renderPNGPath, "png", "", "Static map output path (default [maps] png_path)")
	rootCmd.AddCommand(renderCmd)
}

// runRender gets the table for kind and writes the selected maps.
// Empty paths fall back to the configured ones.
func runRender(cmd *cobra.Command, kind synoptic.Kind, htmlPath, pngPath string, withHTML, withPNG bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.cache.Get(cmd.Context(), kind)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if withHTML {
		if htmlPath == "" {
			htmlPath = a.cfg.Maps.HTMLPath
		}
		if err := a.interactiveRenderer().RenderFile(htmlPath, t); err != nil {
			return fmt.Errorf("failed to render interactive map: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("wrote ")+pathStyle.Render(htmlPath))
	}

	if withPNG {
		if pngPath == "" {
			pngPath = a.cfg.Maps.PNGPath
		}
		if err := a.staticRenderer().RenderFile(pngPath, t); err != nil {
			return fmt.Errorf("failed to render static map: %w", err)
		}
		fmt.Fprintln(out, successStyle.Render("wrote ")+pathStyle.Render(pngPath))
	}

	return nil
}
