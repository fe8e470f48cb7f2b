// Command bridge runs the political simulation bridge: a WebSocket server
// that relays political events, game state, and turn synchronization
// between a political engine process and a game engine process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politicalsim/bridge/internal/bridge"
	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
	httpapi "politicalsim/bridge/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	logging.ReplaceGlobals(logger)

	manager, err := bridge.New(*cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to construct bridge manager", logging.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("failed to start bridge manager", logging.Error(err))
	}
	defer manager.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", manager.Transport().UpgradeHandler())

	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   manager,
		Diagnostics: manager,
		JWTSecret:   cfg.JWTSecret,
	})
	handlers.Register(mux)

	server := &http.Server{Addr: cfg.Address, Handler: mux}

	certProvided := cfg.TLSCertPath != "" && cfg.TLSKeyPath != ""
	logger.Info("bridge listening",
		logging.String("address", listenerURL(cfg.Address, certProvided)),
		logging.Bool("tls", certProvided))

	serveErr := make(chan error, 1)
	go func() {
		if certProvided {
			serveErr <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}
		serveErr <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("bridge server terminated", logging.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", logging.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", logging.Error(err))
		}
	}

	logger.Info("bridge stopped")
}
