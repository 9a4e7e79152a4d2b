// Command gamenet-trafficgen drives a configurable reliable/unreliable
// send mix against a gameNet endpoint and reports latency percentiles,
// the way the teacher's tools/stress-test/main.go drives HTTP load and
// reports Result statistics, adapted here to pace over x/time/rate
// instead of a raw ticker and to measure reliable-send round trips
// instead of HTTP request/response latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/duskforge/gamenet/internal/gamenet/config"
	"github.com/duskforge/gamenet/internal/gamenet/endpoint"
)

// Config is the traffic generator's run configuration.
type Config struct {
	ConfigFile      string
	Duration        time.Duration
	RatePerSecond   float64
	UnreliableRatio float64
	PayloadSize     int
}

// Result accumulates the outcome of a generator run.
type Result struct {
	Sent       int64
	SendErrors int64
	Delivered  int64

	mu          sync.Mutex
	rttSamples  []time.Duration
	sendTimes   map[uint16]time.Time
}

func main() {
	configFile := flag.String("f", "configs/gamenet.yaml", "gamenet config file path")
	duration := flag.Duration("d", 10*time.Second, "generator run duration")
	rps := flag.Float64("rps", 50, "reliable+unreliable sends per second")
	unreliableRatio := flag.Float64("unreliable-ratio", 0.2, "fraction of sends issued on the unreliable channel")
	payloadSize := flag.Int("payload-size", 64, "payload size in bytes")
	flag.Parse()

	cfg := Config{
		ConfigFile:      *configFile,
		Duration:        *duration,
		RatePerSecond:   *rps,
		UnreliableRatio: *unreliableRatio,
		PayloadSize:     *payloadSize,
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	gnCfg, err := config.Load(cfg.ConfigFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ep, err := endpoint.Open(gnCfg.Endpoint, endpoint.Deps{Logger: logger})
	if err != nil {
		logger.Fatal("failed to open endpoint", zap.Error(err))
	}
	defer ep.Close()

	gen := newGenerator(cfg, ep, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, stopping traffic generator")
		gen.Stop()
	}()

	gen.Run()
	gen.PrintResult()
}

type generator struct {
	cfg    Config
	ep     *endpoint.Endpoint
	logger *zap.Logger
	result *Result

	ctx    context.Context
	cancel context.CancelFunc
}

func newGenerator(cfg Config, ep *endpoint.Endpoint, logger *zap.Logger) *generator {
	ctx, cancel := context.WithCancel(context.Background())
	return &generator{
		cfg:    cfg,
		ep:     ep,
		logger: logger,
		result: &Result{sendTimes: make(map[uint16]time.Time)},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (g *generator) Stop() { g.cancel() }

// Run paces sends at cfg.RatePerSecond using a token-bucket limiter and
// concurrently drains delivered records to sample round-trip latency
// for reliable payloads, until cfg.Duration elapses or Stop is called.
func (g *generator) Run() {
	g.logger.Info("starting gamenet traffic generator",
		zap.Duration("duration", g.cfg.Duration),
		zap.Float64("rps", g.cfg.RatePerSecond),
		zap.Float64("unreliable_ratio", g.cfg.UnreliableRatio),
	)

	limiter := rate.NewLimiter(rate.Limit(g.cfg.RatePerSecond), int(g.cfg.RatePerSecond)+1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); g.sendLoop(limiter) }()
	go func() { defer wg.Done(); g.drainLoop() }()

	select {
	case <-time.After(g.cfg.Duration):
		g.logger.Info("run duration reached, stopping")
		g.cancel()
	case <-g.ctx.Done():
	}
	wg.Wait()
}

func (g *generator) sendLoop(limiter *rate.Limiter) {
	var seq uint64
	var reliableSeq uint16 // mirrors the reliable sequence the endpoint assigns
	payload := make([]byte, g.cfg.PayloadSize)

	for {
		if err := limiter.Wait(g.ctx); err != nil {
			return
		}

		reliable := randFloat(seq) >= g.cfg.UnreliableRatio
		n := copy(payload, fmt.Sprintf("trafficgen-%d", seq))
		_ = n

		if err := g.ep.Send(payload, reliable); err != nil {
			atomic.AddInt64(&g.result.SendErrors, 1)
			g.logger.Debug("send failed", zap.Error(err), zap.Bool("reliable", reliable))
		} else {
			atomic.AddInt64(&g.result.Sent, 1)
			if reliable {
				g.result.mu.Lock()
				g.result.sendTimes[reliableSeq] = time.Now()
				g.result.mu.Unlock()
				reliableSeq++
			}
		}
		seq++
	}
}

func (g *generator) drainLoop() {
	for {
		select {
		case <-g.ctx.Done():
			return
		default:
		}
		r, ok := g.ep.Receive()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		atomic.AddInt64(&g.result.Delivered, 1)
		if r.HasSeq {
			g.result.mu.Lock()
			if sentAt, found := g.result.sendTimes[r.Seq]; found {
				g.result.rttSamples = append(g.result.rttSamples, time.Since(sentAt))
				delete(g.result.sendTimes, r.Seq)
			}
			g.result.mu.Unlock()
		}
	}
}

// randFloat derives a deterministic, evenly-spread value in [0, 1) from
// a monotonically increasing counter, used to split the send mix
// without pulling in a shared *rand.Rand across goroutines.
func randFloat(n uint64) float64 {
	const prime = 2654435761
	return float64((n*prime)%1000) / 1000.0
}

func (g *generator) PrintResult() {
	g.result.mu.Lock()
	samples := append([]time.Duration(nil), g.result.rttSamples...)
	g.result.mu.Unlock()
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("gamenet traffic generator results")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Sent:             %d\n", g.result.Sent)
	fmt.Printf("Send errors:      %d\n", g.result.SendErrors)
	fmt.Printf("Delivered:        %d\n", g.result.Delivered)
	fmt.Println(strings.Repeat("-", 60))
	if len(samples) == 0 {
		fmt.Println("No reliable round-trip samples collected.")
		fmt.Println(strings.Repeat("=", 60))
		return
	}
	fmt.Printf("RTT samples:      %d\n", len(samples))
	fmt.Printf("Min RTT:          %v\n", samples[0])
	fmt.Printf("Max RTT:          %v\n", samples[len(samples)-1])
	fmt.Printf("P50 RTT:          %v\n", percentile(samples, 50))
	fmt.Printf("P95 RTT:          %v\n", percentile(samples, 95))
	fmt.Printf("P99 RTT:          %v\n", percentile(samples, 99))
	fmt.Println(strings.Repeat("=", 60))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
