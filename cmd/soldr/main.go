// Command soldr runs the durable webhook-delivery proxy: it accepts
// inbound deliveries on the proxy listener, retries failed deliveries in
// the background, and exposes origin/request/attempt administration on
// the management listener. Bootstrap and signal handling follow the
// examples' main() convention (context cancellation on SIGINT/SIGTERM),
// generalized from a single HTTP server to soldr's three concurrent
// components.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/soldrproxy/soldr/internal/alert"
	"github.com/soldrproxy/soldr/internal/cache"
	"github.com/soldrproxy/soldr/internal/clock"
	"github.com/soldrproxy/soldr/internal/config"
	"github.com/soldrproxy/soldr/internal/errs"
	"github.com/soldrproxy/soldr/internal/ingest"
	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/machine"
	"github.com/soldrproxy/soldr/internal/management"
	"github.com/soldrproxy/soldr/internal/retryqueue"
	"github.com/soldrproxy/soldr/internal/store"
	"github.com/soldrproxy/soldr/internal/upstream"
)

func main() {
	configPath := flag.String("config-path", "", "path to a YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		if errors.Is(err, errs.ErrConfig) {
			log.Printf("configuration error: %v", err)
		} else {
			log.Printf("fatal: %v", err)
		}
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewStdLogger("info")

	st, err := store.Open(cfg.Database.URL, clock.Real{})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	originCache := cache.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origins, err := st.ListOrigins(ctx)
	if err != nil {
		return fmt.Errorf("loading origins: %w", err)
	}
	originCache.Refresh(origins)

	svc := &machine.Services{
		Store:    st,
		Cache:    originCache,
		Alert:    alert.NewSMTPSink(logger),
		Upstream: upstream.New(),
		Logger:   logger,
		Clock:    clock.Real{},
	}

	ingestHandler := ingest.New(svc, logger)
	proxyServer := &http.Server{Addr: cfg.Proxy.Listen, Handler: ingestHandler.Wrapped()}

	mgmt := management.New(st, originCache, cfg.Management.Secret, logger)
	managementServer := &http.Server{Addr: cfg.Management.Listen, Handler: mgmt.Handler()}

	queue := retryqueue.New(svc, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Start(ctx)
	}()

	serveErrs := make(chan error, 2)
	go func() {
		logger.Info("starting proxy listener", map[string]interface{}{"addr": cfg.Proxy.Listen})
		if err := proxyServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- fmt.Errorf("proxy server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting management listener", map[string]interface{}{"addr": cfg.Management.Listen})
		if err := managementServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- fmt.Errorf("management server: %w", err)
		}
	}()

	select {
	case <-sigCh:
		logger.Info("received shutdown signal", nil)
	case err := <-serveErrs:
		logger.Error("server failed", map[string]interface{}{"error": err.Error()})
		cancel()
		return err
	}

	// Per spec.md §5, shutdown does not need to drain in-flight drives:
	// only the HTTP servers and the retry-queue ticker are stopped.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = proxyServer.Shutdown(shutdownCtx)
	_ = managementServer.Shutdown(shutdownCtx)
	cancel()
	queue.Stop()
	wg.Wait()

	logger.Info("shutdown complete", nil)
	return nil
}
