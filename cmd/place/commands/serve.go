package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dyluth/place/internal/config"
	"github.com/dyluth/place/internal/mirror"
	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "place.yml"
	shutdownTimeout   = 5 * time.Second
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve [PORT] [DIM]",
	Short: "Run the Place server",
	Long: `Run the Place server on PORT with a DIM×DIM board (1 to 256).

Settings are layered, later sources winning:
  1. place.yml (or the file named by --config)
  2. PLACE_* environment variables
  3. the PORT and DIM arguments

Optional place.yml keys:
  http_addr       - health, metrics and WebSocket address (default ":8080", "" disables)
  redis_url       - mirror every placement to Redis (disabled when empty)
  instance        - Redis key namespace (default "default")
  cooldown        - minimum interval between one session's placements
  log_level       - debug, info, warn, error
  log_format      - text or json

Examples:
  # 16×16 board on port 5000
  place serve 5000 16

  # Mirror placements to a local Redis
  PLACE_REDIS_URL=redis://localhost:6379 place serve 5000 64`,
	Args: cobra.MaximumNArgs(2),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to place.yml (default: ./place.yml if present)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig(serveConfigPath, args)
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{
				"Pass the port and board size:\n  place serve 5000 16",
				"Or set them in place.yml:\n  port: 5000\n  dim: 16",
			},
		)
	}

	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := server.NewMetrics(promRegistry)

	registry, err := server.NewRegistry(cfg.Dim, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}

	httpOpts := server.HTTPOptions{
		Addr:           *cfg.HTTPAddr,
		Gatherer:       promRegistry,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}

	if cfg.RedisURL != "" {
		mirrorClient, err := connectMirror(ctx, cfg.RedisURL, cfg.Instance)
		if err != nil {
			return err
		}
		defer mirrorClient.Close()
		mirrorClient.SetHistoryLimit(cfg.HistoryLimit)

		publisher := mirror.NewPublisher(mirrorClient, mirror.DefaultQueueSize, logger)
		registry.AddObserver(publisher)
		promauto.With(promRegistry).NewCounterFunc(prometheus.CounterOpts{
			Namespace: "place",
			Name:      "mirror_dropped_total",
			Help:      "Placements not mirrored because the publisher queue was full",
		}, func() float64 { return float64(publisher.Dropped()) })

		pubCtx, cancelPublisher := context.WithCancel(context.Background())
		pubDone := make(chan struct{})
		go func() {
			defer close(pubDone)
			publisher.Run(pubCtx)
		}()
		// Runs after the server has stopped producing placements.
		defer func() {
			cancelPublisher()
			<-pubDone
		}()

		httpOpts.Pinger = mirrorClient
		logger.WithFields(logrus.Fields{
			"instance": cfg.Instance,
			"history":  cfg.HistoryLimit,
		}).Info("Mirroring placements to Redis")
	}

	srv := server.New(registry, server.Options{
		Addr:         cfg.Addr(),
		LoginTimeout: cfg.LoginTimeout,
		WriteTimeout: cfg.WriteTimeout,
		SendQueue:    cfg.SendQueue,
		Cooldown:     cfg.Cooldown,
		Logger:       logger,
		Metrics:      metrics,
	})

	var httpServer *server.HTTPServer
	if cfg.HTTPEnabled() {
		httpServer = server.NewHTTPServer(srv, httpOpts)
		if err := httpServer.Start(); err != nil {
			return printer.Error(
				"failed to start HTTP server",
				err.Error(),
				[]string{"Choose another address with http_addr, or disable it:\n  PLACE_HTTP_ADDR= place serve ..."},
			)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx)
	}()

	printer.Success("Place server listening on %s (%d×%d board)\n", cfg.Addr(), cfg.Dim, cfg.Dim)

	select {
	case err := <-serveErr:
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			httpServer.Shutdown(shutdownCtx)
			cancel()
		}
		return printer.Error(
			"server stopped",
			err.Error(),
			[]string{fmt.Sprintf("Check that port %d is free", cfg.Port)},
		)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}
	if err := <-serveErr; err != nil && !errors.Is(err, server.ErrServerClosed) {
		logger.WithError(err).Warn("Accept loop ended with error")
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP shutdown incomplete")
		}
	}

	return nil
}

// loadServeConfig layers place.yml, PLACE_* variables and the positional
// PORT and DIM arguments, then validates the result.
func loadServeConfig(path string, args []string) (*config.Config, error) {
	cfg := &config.Config{}

	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		loaded, err := config.Read(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("port must be a number, got %q", args[0])
		}
		cfg.Port = port
	}
	if len(args) > 1 {
		dim, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("dim must be a number, got %q", args[1])
		}
		cfg.Dim = dim
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
