package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/yegors/stationmap/internal/config"
	"github.com/yegors/stationmap/internal/geo"
	"github.com/yegors/stationmap/internal/maps"
	"github.com/yegors/stationmap/internal/stations"
	"github.com/yegors/stationmap/internal/storage"
	"github.com/yegors/stationmap/internal/synoptic"
	"github.com/yegors/stationmap/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"

	configPath string
)

var (
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF00"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ADD8"))

	pathStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#FFA500"))
)

var rootCmd = &cobra.Command{
	Use:   "stationmap",
	Short: "Fetch, cache and map weather stations from the Synoptic API",
	Long: `stationmap retrieves station metadata or latest observations around a
configured point, caches the normalized table locally and renders it as an
interactive HTML map and a static PNG map.

Without a sub-command it renders the latest observations to the PNG map.`,
	Version:       Version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd, synoptic.KindLatest, "", "", false, true)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}

// app holds the components shared by the sub-commands
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	store stations.Store
	cache *stations.Cache
}

func newApp() (*app, error) {
	cfg, err := config.LoadWithFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating logger: %w", err)
	}

	store, err := storage.New(cfg.Cache, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
	}

	client := synoptic.NewClient(cfg.Synoptic, log)
	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		cache: stations.NewCache(client, store, cfg.Cache, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close cache store", logger.Error(err))
	}
	_ = a.log.Sync()
}

func (a *app) center() *geo.Point {
	return &geo.Point{Lat: a.cfg.Synoptic.Latitude, Lon: a.cfg.Synoptic.Longitude}
}

func (a *app) interactiveRenderer() *maps.InteractiveRenderer {
	return maps.NewInteractiveRenderer(a.cfg.Maps, a.log)
}

func (a *app) staticRenderer() *maps.StaticRenderer {
	return maps.NewStaticRenderer(a.cfg.Maps, a.center(), a.log)
}

// kindArg parses an optional positional kind, falling back to def
func kindArg(args []string, def synoptic.Kind) (synoptic.Kind, error) {
	if len(args) == 0 {
		return def, nil
	}
	return synoptic.ParseKind(args[0])
}

// kindArgs parses every positional kind, or returns all kinds when none are given
func kindArgs(args []string) ([]synoptic.Kind, error) {
	if len(args) == 0 {
		return synoptic.Kinds(), nil
	}
	kinds := make([]synoptic.Kind, 0, len(args))
	for _, arg := range args {
		kind, err := synoptic.ParseKind(arg)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
