// Command ksond serves a small kson API: a greeter service with an
// immediate and a long-running action, and a books collection.
//
// The transport, the futures store and the concurrency limits are taken
// from the configuration store (KSON_* envvars or a JSONC file passed with
// -config). Prometheus metrics are exposed on -metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/server"
	"github.com/achilleasa/kson/server/middleware/concurrency"
	"github.com/achilleasa/kson/server/middleware/metrics"
	"github.com/achilleasa/kson/server/middleware/tracing"
	"github.com/achilleasa/kson/transport"
	"github.com/achilleasa/kson/transport/amqp"
	"github.com/achilleasa/kson/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configFile    = flag.String("config", "", "path to a JSONC configuration file")
		metricsAddr   = flag.String("metrics", ":9090", "listen address for the prometheus endpoint; empty disables it")
		transportName = flag.String("transport", "http", "transport to serve on (http or amqp)")
		debug         = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			logger.Error("unable to load configuration", err, logging.LogFields{"file": *configFile})
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *transportName, *metricsAddr); err != nil {
		logger.Error("server stopped", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logging.ServiceLogger, transportName, metricsAddr string) error {
	tr, err := transportByName(transportName)
	if err != nil {
		return err
	}

	srv, err := server.New(
		server.WithTransport(tr),
		server.WithLogger(logger),
		server.WithMiddleware(
			tracing.Factory(nil),
			metrics.New(nil).Factory(),
			concurrency.DynamicFactory("ksond"),
		),
	)
	if err != nil {
		return err
	}

	if err = mountAPI(srv); err != nil {
		return err
	}

	if metricsAddr != "" {
		go serveMetrics(ctx, logger, metricsAddr)
	}

	go func() {
		select {
		case <-srv.Ready():
			logger.Info("serving", logging.LogFields{"transport": transportName})
		case <-ctx.Done():
		}
	}()

	return srv.Serve(ctx)
}

func transportByName(name string) (transport.Provider, error) {
	switch name {
	case "http":
		return http.New(), nil
	case "amqp":
		return amqp.New(), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", name)
}

func serveMetrics(ctx context.Context, logger logging.ServiceLogger, addr string) {
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &nethttp.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", logging.LogFields{"addr": addr})
	if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		logger.Error("metrics endpoint stopped", err, logging.LogFields{"addr": addr})
	}
}
