package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/yegors/stationmap/internal/stations"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or invalidate cached station tables",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [metadata|latest]...",
	Short: "Remove cached tables so the next read fetches again",
	Long:  `Remove the cache artifact of each given kind, or of every kind when none is given.`,
	Args:  cobra.MaximumNArgs(2),
	RunE:  runCacheInvalidate,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status [metadata|latest]...",
	Short: "Show which station tables are cached",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runCacheStatus,
}

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	kinds, err := kindArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, kind := range kinds {
		if err := a.cache.Invalidate(cmd.Context(), kind); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("invalidated ")+string(kind))
	}
	return nil
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	kinds, err := kindArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	statuses := make([]stations.Status, 0, len(kinds))
	for _, kind := range kinds {
		status, err := a.cache.Status(cmd.Context(), kind)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}

	fmt.Fprintln(cmd.OutOrStdout(), statusTable(statuses))
	return nil
}

func statusTable(statuses []stations.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := "missing"
		savedAt := "-"
		switch {
		case s.Present && s.Expired:
			state = "expired"
		case s.Present:
			state = "cached"
		}
		if s.SavedAt != nil {
			savedAt = s.SavedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{string(s.Kind), state, strconv.Itoa(s.Rows), savedAt, s.Location})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(infoStyle).
		Headers("KIND", "STATE", "ROWS", "SAVED", "LOCATION").
		Rows(rows...).
		String()
}
