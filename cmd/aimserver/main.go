// cmd/aimserver/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
	"github.com/opd-ai/go-ballistics/pkg/config"
	"github.com/opd-ai/go-ballistics/pkg/event"
	"github.com/opd-ai/go-ballistics/pkg/health"
	"github.com/opd-ai/go-ballistics/pkg/logging"
	"github.com/opd-ai/go-ballistics/pkg/network"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	configPath := flag.String("config", "ballistics.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	logFile := flag.String("log-file", "", "Write rotated JSON logs to this file instead of stderr")
	flag.Parse()

	if *logFile != "" {
		fileLogger, closer := logging.NewFileLogger(*logFile, logging.LevelFromEnv(), 64, 14)
		defer closer.Close()
		logger = fileLogger
	}

	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "Failed to create default configuration", err,
				"config_path", *configPath,
			)
			os.Exit(1)
		}
		logger.Info(ctx, "Created default configuration file",
			"config_path", *configPath,
		)
		return
	}

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Info(ctx, "Configuration file not found, using default configuration",
			"config_path", *configPath,
		)
	} else {
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			logger.Error(ctx, "Failed to load configuration", err,
				"config_path", *configPath,
			)
			os.Exit(1)
		}
	}

	if err := config.ApplyEnvironmentOverrides(cfg); err != nil {
		logger.Error(ctx, "Failed to apply environment configuration", err)
		os.Exit(1)
	}

	server := network.NewAimServer(cfg, logger)

	var rejected atomic.Uint64
	server.Events().Subscribe(event.RequestRejected, func(event.Event) {
		rejected.Add(1)
	})

	healthChecker := health.NewChecker(health.DefaultTimeout)
	healthChecker.Register(
		health.SolverCheck(ballistics.NewSolver(cfg.Solver, logger)),
		health.ListenerCheck(server.ListenerAddress),
		health.MemoryCheck(500, nil),
	)

	// The HTTP port carries the health endpoints and the WebSocket transport.
	mux := http.NewServeMux()
	mux.Handle("/", healthChecker.Handler())
	mux.HandleFunc("/ws", server.HandleWebSocket)

	healthServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Service.HealthPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Starting health check server",
			"port", cfg.Service.HealthPort,
		)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Health check server failed", err)
		}
	}()

	logger.Info(ctx, "Starting aim server",
		"address", cfg.Service.ServerAddress,
		"max_clients", cfg.Service.MaxClients,
	)
	if err := server.Start(cfg.Service.ServerAddress); err != nil {
		logger.Error(ctx, "Failed to start aim server", err,
			"address", cfg.Service.ServerAddress,
		)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info(ctx, "Shutting down aim server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Health check server shutdown failed", err)
	}

	server.Stop()
	logger.Info(ctx, "Aim server stopped",
		"solved", server.Solved(),
		"cache_hits", server.CacheHits(),
		"rejected", rejected.Load(),
	)
}
