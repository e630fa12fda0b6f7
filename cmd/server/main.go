package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/colorize-api/internal/colorize"
	"github.com/Brownie44l1/colorize-api/internal/envconfig"
	"github.com/Brownie44l1/colorize-api/internal/handlers"
	"github.com/Brownie44l1/colorize-api/internal/model"
	"github.com/Brownie44l1/colorize-api/internal/tiling"
	"github.com/Brownie44l1/colorize-api/web"
)

type serveOptions struct {
	host      string
	modelPath string
	metadata  string
	ortLib    string
	device    string
	edge      string
	workers   uint
	maxUpload uint64
	maxPixels uint64
	debug     bool
}

func newRootCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:           "colorize-api",
		Short:         "Serve a tile-based image colorization model over HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", envconfig.Host(), "listen address")
	flags.StringVar(&opts.modelPath, "model", envconfig.Model(), "path to the ONNX generator")
	flags.StringVar(&opts.metadata, "metadata", envconfig.Metadata(), "path to the generator metadata JSON")
	flags.StringVar(&opts.ortLib, "ort-lib", envconfig.ORTLibrary(), "path to the onnxruntime shared library")
	flags.StringVar(&opts.device, "device", envconfig.Device(), "inference device: auto, cpu or cuda")
	flags.StringVar(&opts.edge, "edge", envconfig.Edge(), "border tile policy: pad or stretch")
	flags.UintVar(&opts.workers, "workers", envconfig.Workers(), "tiles colorized concurrently per image")
	flags.Uint64Var(&opts.maxUpload, "max-upload", envconfig.MaxUpload(), "maximum upload size in bytes")
	flags.Uint64Var(&opts.maxPixels, "max-pixels", envconfig.MaxPixels(), "maximum image width*height, 0 for no limit")
	flags.BoolVar(&opts.debug, "debug", envconfig.LogLevel() <= slog.LevelDebug, "enable debug logging")

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage())
	return cmd
}

func envUsage() string {
	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("\nEnvironment Variables:\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "      %-22s %s\n", name, vars[name].Description)
	}
	return sb.String()
}

func runServer(ctx context.Context, opts serveOptions) error {
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	device, err := model.ParseDevice(opts.device)
	if err != nil {
		return err
	}
	edge, err := tiling.ParseEdgePolicy(opts.edge)
	if err != nil {
		return err
	}

	slog.Info("loading model", "path", opts.modelPath)

	modelServer, err := model.NewServer(opts.modelPath, opts.metadata, model.Options{
		Device:      device,
		Buffers:     int(opts.workers),
		LibraryPath: opts.ortLib,
	})
	if err != nil {
		return err
	}
	defer modelServer.Close()

	processor, err := colorize.New(modelServer, colorize.Options{
		Workers: int(opts.workers),
		Edge:    edge,
	})
	if err != nil {
		return err
	}

	templates, err := web.Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	tileWidth, tileHeight := modelServer.TileSize()
	handler := handlers.NewHandler(processor, templates, handlers.PageData{
		Title:      "Image Colorization",
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
	}, handlers.Limits{
		MaxUpload: int64(opts.maxUpload),
		MaxPixels: int64(opts.maxPixels),
	})

	srv := &http.Server{
		Addr:              opts.host,
		Handler:           handler.Routes(web.Static()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server starting", "addr", opts.host, "device", modelServer.Device(),
		"tile", fmt.Sprintf("%dx%d", tileWidth, tileHeight), "workers", processor.Workers(), "edge", edge)
	slog.Info("endpoints",
		"GET /", "landing page",
		"GET /health", "health check",
		"POST /colorize", "colorize an uploaded image (form field 'image')")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
