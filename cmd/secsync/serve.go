package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"secsync/internal/api"
	"secsync/internal/config"
	"secsync/internal/connectivity"
	"secsync/internal/database"
	"secsync/internal/events"
	"secsync/internal/logging"
	"secsync/internal/metrics"
	"secsync/internal/remote"
	"secsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Run the queue, the connectivity monitor, the local HTTP API, the gRPC
health service and the metrics endpoint until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	log := logging.Component(&logger, "serve")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer handle.Close()

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		log.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
	})

	client := remote.NewClient(cfg.Remote)
	queue, err := worker.NewQueue(worker.Options{
		Store:            handle.store,
		Sender:           client,
		Policy:           worker.PolicyFromConfig(cfg.Queue),
		Publisher:        bus,
		Logger:           &logger,
		FlushConcurrency: cfg.Queue.FlushConcurrency,
		Online:           cfg.Queue.StartOnline,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	startMetrics(ctx, cfg, &logger)
	if n, err := queue.Len(ctx); err == nil {
		metrics.SetQueueLength(n)
		log.Info().Int("pending", n).Str("store", cfg.Store.Driver).Msg("sync queue ready")
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, cfg.Queue.StartOnline, &logger)
		if err != nil {
			log.Error().Err(err).Msg("create grpc server")
			return err
		}
		bus.Subscribe(events.EventConnectivity, grpcServer.ConnectivityHandler())
		go func() {
			if err := grpcServer.Serve(); err != nil {
				log.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	// background goroutines use the queue and the store, so they are joined before either closes
	var background sync.WaitGroup
	defer background.Wait()

	var sw api.ConnectivitySwitch = queue
	if cfg.Connectivity.Enabled {
		monitor := connectivity.NewMonitor(client, queue, cfg.Connectivity, cfg.Queue.StartOnline, &logger)
		sw = monitor
		background.Add(1)
		go func() {
			defer background.Done()
			monitor.Start(ctx)
		}()
	} else if cfg.Queue.StartOnline {
		background.Add(1)
		go func() {
			defer background.Done()
			if _, err := queue.FlushAll(ctx); err != nil {
				log.Error().Err(err).Msg("startup flush failed")
			}
		}()
	}

	if handle.db != nil {
		backups := database.NewBackupService(handle.db, cfg.Backup, &logger)
		background.Add(1)
		go func() {
			defer background.Done()
			backups.Start(ctx)
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, queue, sw, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				log.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	}

	log.Info().Bool("online", sw.Online()).Msg("secsync started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}

	log.Info().Msg("secsync stopped")
	return nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
