package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/stompbridge/internal/archive"
	"github.com/rickgao/stompbridge/internal/bus"
	"github.com/rickgao/stompbridge/internal/config"
	"github.com/rickgao/stompbridge/internal/connection"
	"github.com/rickgao/stompbridge/internal/database"
	"github.com/rickgao/stompbridge/internal/logging"
	"github.com/rickgao/stompbridge/internal/stompws"
	"github.com/rickgao/stompbridge/internal/supervisor"
	"github.com/rickgao/stompbridge/internal/version"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), runConfigPath)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "configs/stompbridge.yaml", "path to config file")
	rootCmd.AddCommand(runCmd)
}

// backend is one upstream server with its manager and supervisor.
type backend struct {
	name       string
	manager    *connection.Manager
	supervisor *supervisor.Supervisor
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.FromStrings(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting stompbridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
		"backends", len(cfg.Backends),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	local := bus.NewLocal(cfg.Bus.BufferSize, cfg.Bus.QueueLimit, logger)
	defer local.Close()

	sinks := []connection.Publisher{local}

	if cfg.Bus.MQTT.Enabled {
		mq, err := bus.DialMQTT(cfg.Bus.MQTT, logger)
		if err != nil {
			return err
		}
		defer mq.Close()
		sinks = append(sinks, mq)
		logger.Info("mqtt sink enabled", "broker", cfg.Bus.MQTT.Broker, "prefix", cfg.Bus.MQTT.TopicPrefix)
	}

	var (
		db     pinger
		writer *archive.Writer
	)
	if cfg.Archive.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Archive.Database, "stompbridge-"+cfg.Instance.ID)
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = archive.NewWriter(archive.WriterConfigFrom(cfg.Archive), pool, logger)
		if err := writer.Start(ctx); err != nil {
			return err
		}
	}

	backends := make([]*backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b := newBackend(bc, cfg.Reconnect, sinks, writer, logger)
		backends = append(backends, b)

		go b.supervisor.Run(ctx)

		if err := b.manager.Start(ctx); err != nil {
			logger.Warn("initial connect failed, retrying in background",
				"backend", b.name,
				"error", err,
			)
			b.supervisor.Request()
		}
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(backends, local, writer, db, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("stompbridge running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown failed", "error", err)
	}
	for _, b := range backends {
		if err := b.manager.Stop(shutdownCtx); err != nil {
			logger.Warn("backend stop failed", "backend", b.name, "error", err)
		}
	}
	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Warn("archive writer stop failed", "error", err)
		}
	}

	logger.Info("stompbridge stopped")
	return nil
}

// newBackend wires a manager for bc to the shared sinks and gives it a supervisor.
func newBackend(bc config.BackendConfig, rc config.ReconnectConfig, sinks []connection.Publisher, writer *archive.Writer, logger *slog.Logger) *backend {
	logger = logger.With("backend", bc.Name)

	pubs := append([]connection.Publisher(nil), sinks...)
	if writer != nil {
		pubs = append(pubs, writer.Source(bc.Name))
	}

	client := stompws.NewClient(stompConfig(bc), logger)
	mgr := connection.NewManager(managerConfig(bc), client, bus.NewFanout(logger, pubs...), logger)
	sup := supervisor.New(mgr, rc, logger)
	mgr.SetErrorHandler(sup)

	return &backend{
		name:       bc.Name,
		manager:    mgr,
		supervisor: sup,
	}
}

func stompConfig(bc config.BackendConfig) stompws.Config {
	cfg := stompws.DefaultConfig()
	cfg.HandshakeTimeout = bc.ConnectTimeout
	cfg.Host = bc.Host
	cfg.Login = bc.Login
	cfg.Passcode = bc.Passcode
	cfg.HeartbeatSend = bc.HeartbeatSend
	cfg.HeartbeatRecv = bc.HeartbeatRecv
	return cfg
}

func managerConfig(bc config.BackendConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.URL = bc.URL
	cfg.ConnectTimeout = bc.ConnectTimeout
	cfg.Destinations = bc.Destinations
	if len(bc.Headers) > 0 {
		cfg.Header = make(http.Header, len(bc.Headers))
		for k, v := range bc.Headers {
			cfg.Header.Set(k, v)
		}
	}
	return cfg
}
