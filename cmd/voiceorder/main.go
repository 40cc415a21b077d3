// Package main is the entry point for the voiceorder service: a realtime
// voice-ordering backend that bridges WebRTC provider sessions into order
// drafts, submissions and kitchen announcements.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/tablecraft/voiceorder/config"
	"github.com/tablecraft/voiceorder/gateway"
	"github.com/tablecraft/voiceorder/kitchen"
	"github.com/tablecraft/voiceorder/metric"
	"github.com/tablecraft/voiceorder/natsclient"
	"github.com/tablecraft/voiceorder/order"
	"github.com/tablecraft/voiceorder/session"
	"github.com/tablecraft/voiceorder/transport"
)

const appName = "voiceorder"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			fmt.Fprintf(os.Stderr, "PANIC: %v\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *validateOnly {
		logger.Info("configuration is valid")
		return nil
	}

	registry := metric.NewMetricsRegistry()

	creds, err := session.NewCredentialClient(cfg.Credentials, logger)
	if err != nil {
		return err
	}
	submitter, err := order.NewClient(cfg.OrderAPI, logger)
	if err != nil {
		return err
	}

	var notifier session.Notifier
	var nc *natsclient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsclient.Connect(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		announcer, err := kitchen.NewAnnouncer(cfg.Kitchen, nc, logger, registry)
		if err != nil {
			return err
		}
		notifier = announcer
	} else {
		logger.Warn("NATS not configured, kitchen announcements disabled")
	}

	factory := session.DefaultConnFactory(cfg.Transport, logger,
		transport.NewMetrics(registry, "transport"))
	manager := session.NewManager(session.ManagerConfig{
		Matcher:     cfg.Matcher,
		MaxSessions: cfg.MaxSessions,
	}, creds, factory, submitter, notifier, logger, session.NewMetrics(registry))

	srv, err := gateway.NewServer(cfg.Gateway, manager, logger, registry)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	srv.Routes(mux)
	mux.Handle("GET /metrics", registry.Handler())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
	srv.Shutdown(shutdownCtx)
	manager.CloseAll()

	logger.Info("shutdown complete", "app", appName)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
