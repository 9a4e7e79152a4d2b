// Command gamenet-endpoint runs one gameNet endpoint: it binds a socket,
// optionally dials a fixed remote peer, and serves the reliable and
// unreliable channels until an interrupt signal arrives. Grounded on the
// teacher's cmd/session-service/main.go process shell (flag parsing,
// zap logger construction, signal-driven shutdown).
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/duskforge/gamenet/internal/gamenet/config"
	"github.com/duskforge/gamenet/internal/gamenet/endpoint"
	gnlog "github.com/duskforge/gamenet/internal/gamenet/log"
	gnmetrics "github.com/duskforge/gamenet/internal/gamenet/metrics"
	"github.com/duskforge/gamenet/internal/gamenet/monitor"
	"github.com/duskforge/gamenet/internal/gamenet/telemetry"
)

var (
	configFile = flag.String("f", "configs/gamenet.yaml", "config file path")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := gnlog.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting gamenet endpoint", zap.String("version", version), zap.Int("local_port", cfg.Endpoint.LocalPort))

	var m *gnmetrics.Metrics
	if cfg.Metrics.Enable {
		m = gnmetrics.New("gamenet", prometheus.DefaultRegisterer)
		go serveMetrics(cfg.Metrics, logger)
	}

	tracer, err := telemetry.New(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	ep, err := endpoint.Open(cfg.Endpoint, endpoint.Deps{Logger: logger, Metrics: m, Tracer: tracer})
	if err != nil {
		logger.Fatal("failed to open endpoint", zap.Error(err))
	}
	logger.Info("endpoint bound", zap.String("local_addr", ep.LocalAddr().String()))

	hub := monitor.NewHub(logger)
	stopPublisher := make(chan struct{})
	go hub.RunPublisher(stopPublisher, time.Second, ep)
	if cfg.Metrics.Enable {
		http.Handle("/ws/stats", hub.HandleUpgrade())
	}

	go drainLoop(ep, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	close(stopPublisher)
	hub.Close()
	if err := ep.Close(); err != nil {
		logger.Error("error closing endpoint", zap.Error(err))
	}

	logger.Info("gamenet endpoint shutdown complete")
}

// drainLoop is a minimal application loop that logs delivered payloads;
// a real application would replace this with its own consumer.
func drainLoop(ep *endpoint.Endpoint, logger *zap.Logger) {
	for {
		r, ok := ep.Receive()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if r.HasSeq {
			logger.Debug("delivered reliable payload", zap.Uint16("seq", r.Seq), zap.Int("bytes", len(r.Payload)))
		} else {
			logger.Debug("delivered unreliable payload", zap.Int("bytes", len(r.Payload)))
		}
	}
}

func serveMetrics(cfg config.MetricsConfig, logger *zap.Logger) {
	mux := http.DefaultServeMux // also serves /ws/stats, registered in main
	mux.Handle(cfg.Path, promhttp.Handler())
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	logger.Info("serving metrics", zap.String("addr", addr), zap.String("path", cfg.Path))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
