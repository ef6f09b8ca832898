package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsinham/miraview/internal/catalog"
	"github.com/mrsinham/miraview/internal/export"
	"github.com/mrsinham/miraview/internal/server"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	args := os.Args[1:]
	sub := "export"
	if len(args) > 0 && (args[0] == "export" || args[0] == "serve") {
		sub = args[0]
		args = args[1:]
	}

	var err error
	switch sub {
	case "serve":
		err = runServe(args)
	default:
		err = runExport(args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configFile := fs.String("config", "", "Load configuration from YAML file")
	input := fs.String("input", "", "Directory (or single file) to scan for DICOM instances")
	outputDir := fs.String("output", "", "Directory for exported PNG images")
	dbPath := fs.String("db", "", "Path to the catalog SQLite database")
	upscale := fs.Int("upscale", 0, "Upscale factor for exported images (1 = no upscale)")
	use8Bit := fs.Bool("8bit", false, "Export 8-bit grayscale instead of 16-bit")
	scanAll := fs.Bool("scan-all", false, "Consider every file a candidate regardless of extension")
	groupByTop := fs.Bool("group-by-top-level-folder", false, "Label files with the top-level folder under the scan root")
	strict := fs.Bool("strict", false, "Reject streams without the standard preamble")
	workers := fs.Int("workers", 0, fmt.Sprintf("Number of parallel workers (default 1, CPU cores: %d)", runtime.NumCPU()))
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("miraview %s\n", version)
		return nil
	}

	cfg := defaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = loadConfig(*configFile); err != nil {
			return err
		}
	}
	if *input != "" {
		cfg.ScanRoot = *input
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *upscale > 0 {
		cfg.Upscale = *upscale
	}
	if *use8Bit {
		cfg.Use8Bit = true
	}
	if *scanAll {
		cfg.ScanAll = true
	}
	if *groupByTop {
		cfg.GroupByTop = true
	}
	if *strict {
		cfg.Strict = true
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	log := newLogger(*verbose)

	store, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	bitDepth := 16
	if cfg.Use8Bit {
		bitDepth = 8
	}
	inputs := []string{cfg.ScanRoot}
	if extra := fs.Args(); len(extra) > 0 && *input == "" {
		inputs = extra
	} else if *input == "" {
		// Scanning the default root implies one folder per study.
		cfg.GroupByTop = true
	}

	exp := &export.Exporter{
		Store:           store,
		OutputRoot:      cfg.OutputDir,
		UpscaleFactor:   cfg.Upscale,
		BitDepth:        bitDepth,
		ScanAllFiles:    cfg.ScanAll,
		GroupByTopLevel: cfg.GroupByTop,
		Strict:          cfg.Strict,
		Workers:         cfg.Workers,
		Log:             log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := exp.Run(ctx, inputs)
	if stats != nil {
		log.Info().
			Int("candidates", stats.Candidates).
			Int("processed", stats.Processed).
			Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).
			Int("studies", stats.Studies).
			Int("series", stats.Series).
			Msg("export complete")
	}
	return err
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "Load configuration from YAML file")
	listenAddr := fs.String("listen", "", "Address to listen on")
	dbPath := fs.String("db", "", "Path to the catalog SQLite database")
	staticDir := fs.String("static", "", "Directory with the frontend bundle (optional)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := defaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = loadConfig(*configFile); err != nil {
			return err
		}
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}

	log := newLogger(*verbose)

	store, err := catalog.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := &server.Server{Store: store, StaticDir: cfg.StaticDir, Log: log}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DBPath).Msg("serving viewer API")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
