package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`

	// Pipeline configuration
	Ingest    IngestConfig   `json:"ingest"`
	Detectors DetectorConfig `json:"detectors"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// IngestConfig governs upload intake and file processing.
type IngestConfig struct {
	// MaxFileBytes rejects oversized files before parsing.
	MaxFileBytes int64 `json:"maxFileBytes"`

	// FileWorkers bounds how many files are processed concurrently.
	// Records within one file are always processed in order.
	FileWorkers int `json:"fileWorkers"`
}

// DetectorConfig enumerates every threshold used by the scoring engine.
// No detector carries hard-coded magic numbers.
type DetectorConfig struct {
	// Recipient concentration: RecipientCountThreshold or more
	// transactions to the same to_account within RecipientWindow.
	RecipientWindow         time.Duration `json:"recipientWindow"`
	RecipientCountThreshold int           `json:"recipientCountThreshold"`

	// Threshold avoidance: ThresholdAvoidanceCount or more amounts
	// within ThresholdAvoidanceMargin (fraction, e.g. 0.05) below
	// LargeAmountCeiling inside RecipientWindow.
	ThresholdAvoidanceMargin float64 `json:"thresholdAvoidanceMargin"`
	ThresholdAvoidanceCount  int     `json:"thresholdAvoidanceCount"`

	// Large amount: absolute ceiling, or LargeAmountStddevMultiplier
	// standard deviations above the account's historical mean.
	LargeAmountCeiling          float64 `json:"largeAmountCeiling"`
	LargeAmountStddevMultiplier float64 `json:"largeAmountStddevMultiplier"`

	// Frequency spike: current-window count exceeding the trailing
	// baseline by FrequencyMultiplier (e.g. 4.0 for 400%).
	FrequencyMultiplier float64       `json:"frequencyMultiplier"`
	FrequencyWindow     time.Duration `json:"frequencyWindow"`

	// HistoryWindow bounds the per-account rolling history loaded as
	// scoring context.
	HistoryWindow time.Duration `json:"historyWindow"`

	// Keywords flagged when present in a description.
	HighRiskKeywords []string `json:"highRiskKeywords"`

	// Base scores contributed by each detector when it fires. The
	// final risk score is their sum clamped to [0, 10].
	Scores DetectorScores `json:"scores"`

	// Severity cut-offs shared by transaction status and alert
	// severity.
	Severity SeverityThresholds `json:"severity"`
}

// DetectorScores holds the per-detector base contributions.
type DetectorScores struct {
	Recipient          float64 `json:"recipient"`
	ThresholdAvoidance float64 `json:"thresholdAvoidance"`
	LargeAmount        float64 `json:"largeAmount"`
	Frequency          float64 `json:"frequency"`
	Keywords           float64 `json:"keywords"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// DefaultConfig returns the standalone single-node configuration:
// SQLite, in-memory LRU cache, channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			SQLitePath:   "./harrier.db",
			OpTimeout:    5 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Ingest: IngestConfig{
			MaxFileBytes: 50 << 20, // 50MB
			FileWorkers:  4,
		},
		Detectors: DefaultDetectorConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// DefaultDetectorConfig returns the standard detector thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		RecipientWindow:             48 * time.Hour,
		RecipientCountThreshold:     10,
		ThresholdAvoidanceMargin:    0.05,
		ThresholdAvoidanceCount:     3,
		LargeAmountCeiling:          50000,
		LargeAmountStddevMultiplier: 3.0,
		FrequencyMultiplier:         4.0,
		FrequencyWindow:             24 * time.Hour,
		HistoryWindow:               30 * 24 * time.Hour,
		HighRiskKeywords:            []string{"cash", "loan", "offshore", "crypto"},
		Scores: DetectorScores{
			// Recipient concentration is the strongest single signal;
			// its base score alone must reach the flagged band.
			Recipient:          7.0,
			ThresholdAvoidance: 4.5,
			LargeAmount:        3.5,
			Frequency:          3.0,
			Keywords:           2.0,
		},
		Severity: DefaultSeverityThresholds(),
	}
}

// DistributedConfig returns the multi-node configuration:
// PostgreSQL, Redis-backed two-phase cache, NATS event bus.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
		OpTimeout:    5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
