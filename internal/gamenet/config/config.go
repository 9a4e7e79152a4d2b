// Package config holds gameNet's process-local configuration tree
// (spec.md §6: "These are process-local; there is no negotiation"),
// loaded from YAML the way the teacher's service configs are.
package config

// Config is the full gameNet endpoint configuration.
type Config struct {
	Endpoint EndpointConfig `yaml:"Endpoint"`
	Log      LogConfig      `yaml:"Log"`
	Metrics  MetricsConfig  `yaml:"Metrics"`
	Tracing  TracingConfig  `yaml:"Tracing"`
}

// EndpointConfig holds the enumerated configuration from spec.md §6.
type EndpointConfig struct {
	LocalPort  int    `yaml:"LocalPort"`
	RemoteHost string `yaml:"RemoteHost,omitempty"`
	RemotePort int    `yaml:"RemotePort,omitempty"`

	// Window is the max inflight reliable packets (spec.md §6: WINDOW).
	Window uint32 `yaml:"Window"`

	// SkipTimeoutMs bounds per-gap head-of-line blocking (SKIP_TIMEOUT_MS).
	SkipTimeoutMs uint64 `yaml:"SkipTimeoutMs"`

	// RTOMinMs / RTOMaxMs bound the retransmission timeout estimate.
	RTOMinMs int `yaml:"RTOMinMs"`
	RTOMaxMs int `yaml:"RTOMaxMs"`

	// MaxRetries caps retransmit attempts before a sequence is abandoned.
	MaxRetries int `yaml:"MaxRetries"`

	// SockRecvTimeoutMs is the idle-tick granularity (SOCK_RECV_TIMEOUT_MS).
	SockRecvTimeoutMs int `yaml:"SockRecvTimeoutMs"`

	// SACKWidth is the number of sequences a SACK bitmap can cover beyond cum_ack.
	SACKWidth int `yaml:"SACKWidth"`

	// PendingQueueCap bounds the unbounded-by-default pending send queue
	// (spec.md §9 open question; 0 means unbounded).
	PendingQueueCap int `yaml:"PendingQueueCap"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"Level"`  // debug, info, warn, error
	Format string `yaml:"Format"` // json, console
}

// MetricsConfig configures the Prometheus metrics exporter.
type MetricsConfig struct {
	Enable bool   `yaml:"Enable"`
	Host   string `yaml:"Host"`
	Port   int    `yaml:"Port"`
	Path   string `yaml:"Path"`
}

// TracingConfig configures optional OpenTelemetry span export.
type TracingConfig struct {
	Enable      bool    `yaml:"Enable"`
	ServiceName string  `yaml:"ServiceName"`
	Endpoint    string  `yaml:"Endpoint"`
	Exporter    string  `yaml:"Exporter"` // jaeger, zipkin
	SampleRate  float64 `yaml:"SampleRate"`
	Environment string  `yaml:"Environment"`
}

// DefaultConfig returns the spec.md §6 configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			LocalPort:         0,
			Window:            64,
			SkipTimeoutMs:     200,
			RTOMinMs:          100,
			RTOMaxMs:          2000,
			MaxRetries:        16,
			SockRecvTimeoutMs: 50,
			SACKWidth:         64,
			PendingQueueCap:   0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enable: false,
			Host:   "0.0.0.0",
			Port:   9464,
			Path:   "/metrics",
		},
		Tracing: TracingConfig{
			Enable:      false,
			ServiceName: "gamenet-endpoint",
			Endpoint:    "http://localhost:14268/api/traces",
			Exporter:    "jaeger",
			SampleRate:  1.0,
			Environment: "development",
		},
	}
}
