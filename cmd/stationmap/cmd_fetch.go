package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/synoptic"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [metadata|latest]",
	Short: "Load a station table, fetching it when the cache has none",
	Long: `Return the cached table for a kind. When no usable cache artifact exists
the table is fetched from the Synoptic API, normalized and cached.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(synoptic.KindMetadata), string(synoptic.KindLatest)},
	RunE:      runFetch,
}

var listCmd = &cobra.Command{
	Use:       "list [metadata|latest]",
	Short:     "Print the rows of a station table",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(synoptic.KindMetadata), string(synoptic.KindLatest)},
	RunE:      runList,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(listCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	kind, err := kindArg(args, synoptic.KindLatest)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.cache.Get(cmd.Context(), kind)
	if err != nil {
		return err
	}

	status, err := a.cache.Status(cmd.Context(), kind)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("%d %s stations", t.Len(), kind)))
	if status.Location != "" {
		fmt.Fprintln(out, infoStyle.Render("cache: ")+pathStyle.Render(status.Location))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	kind, err := kindArg(args, synoptic.KindLatest)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.cache.Get(cmd.Context(), kind)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), stationTable(t))
	return nil
}

// stationTable formats a table for the terminal. Observations are summarized
// by size since the payloads are nested objects.
func stationTable(t stations.Table) string {
	headers := []string{"STID", "NAME", "LATITUDE", "LONGITUDE"}
	if t.Kind == synoptic.KindLatest {
		headers = append(headers, "OBSERVATIONS")
	}

	rows := make([][]string, 0, t.Len())
	for _, r := range t.Rows {
		row := []string{
			r.StationID,
			r.Name,
			strconv.FormatFloat(r.Latitude, 'f', 5, 64),
			strconv.FormatFloat(r.Longitude, 'f', 5, 64),
		}
		if t.Kind == synoptic.KindLatest {
			row = append(row, fmt.Sprintf("%d bytes", len(r.Observations)))
		}
		rows = append(rows, row)
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(infoStyle).
		Headers(headers...).
		Rows(rows...).
		String()
}
