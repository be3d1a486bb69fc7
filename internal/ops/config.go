package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/exec"
	"main/internal/journal"
	"main/internal/pipeline"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/signal"
	"main/pkg/websocket"
)

// FileConfig mirrors the JSON config layout. Quantities and prices are
// decimal strings; durations are written in the unit their field names.
type FileConfig struct {
	Discord    DiscordConfig    `json:"discord"`
	Symbols    []SymbolConfig   `json:"symbols"`
	Risk       RiskConfig       `json:"risk"`
	Extractor  ExtractorConfig  `json:"extractor"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Supervisor SupervisorConfig `json:"supervisor"`
	Journal    JournalConfig    `json:"journal"`
	Exchange   ExchangeConfig   `json:"exchange"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
	Pyroscope  PyroscopeConfig  `json:"pyroscope"`
	Postgres   PostgresConfig   `json:"postgres"`
}

// DiscordConfig describes the chat source and the alert webhook.
type DiscordConfig struct {
	Token      string   `json:"token"`
	GatewayURL string   `json:"gatewayUrl"`
	ChannelIDs []string `json:"channelIds"`
	WebhookURL string   `json:"webhookUrl"`
}

// SymbolConfig describes one tradable symbol entry.
type SymbolConfig struct {
	Name           string `json:"name"`
	LotSize        string `json:"lotSize"`
	PositionCap    string `json:"positionCap"`
	ReferencePrice string `json:"referencePrice"`
}

// RiskConfig captures the risk gate limits.
type RiskConfig struct {
	KillSwitch          bool    `json:"killSwitch"`
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	MaxNotionalExposure string  `json:"maxNotionalExposure"`
	RateLimit           int     `json:"rateLimit"`
	RateWindowSeconds   int     `json:"rateWindowSeconds"`
}

// ExtractorConfig tunes signal extraction.
type ExtractorConfig struct {
	ConfidenceThreshold   float64 `json:"confidenceThreshold"`
	ClassifyTimeoutMillis int     `json:"classifyTimeoutMillis"`
	DefaultSize           string  `json:"defaultSize"`
	MaxTextLength         int     `json:"maxTextLength"`
	MaxAttempts           int     `json:"maxAttempts"`
}

// PipelineConfig tunes queue depths and cadence.
type PipelineConfig struct {
	InboundQueueSize        int `json:"inboundQueueSize"`
	IntentQueueSize         int `json:"intentQueueSize"`
	PlanQueueSize           int `json:"planQueueSize"`
	DeadLetterQueueSize     int `json:"deadLetterQueueSize"`
	StaleAfterSeconds       int `json:"staleAfterSeconds"`
	SnapshotIntervalSeconds int `json:"snapshotIntervalSeconds"`
}

// SupervisorConfig tunes stage restart policy.
type SupervisorConfig struct {
	MaxRestarts      int `json:"maxRestarts"`
	BackoffMinMillis int `json:"backoffMinMillis"`
	BackoffMaxMillis int `json:"backoffMaxMillis"`
}

// JournalConfig tunes the event journal and snapshotting.
type JournalConfig struct {
	Dir                 string `json:"dir"`
	SegmentMaxBytes     int64  `json:"segmentMaxBytes"`
	FlushIntervalMillis int    `json:"flushIntervalMillis"`
	SnapshotPath        string `json:"snapshotPath"`
}

// ExchangeConfig tunes order submission retries, resync and the built-in
// paper exchange.
type ExchangeConfig struct {
	MaxConnRetries      int `json:"maxConnRetries"`
	ResyncTimeoutMillis int `json:"resyncTimeoutMillis"`
	PaperLatencyMillis  int `json:"paperLatencyMillis"`
	PaperFillChunks     int `json:"paperFillChunks"`
}

// TelemetryConfig describes the observer websocket endpoint.
type TelemetryConfig struct {
	Addr string `json:"addr"`
}

// PyroscopeConfig enables continuous profiling.
type PyroscopeConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
}

// PostgresConfig describes the durable order/position store.
type PostgresConfig struct {
	DSN string `json:"dsn"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry     *schema.Registry
	Risk         risk.Config
	Extractor    signal.Config
	Pipeline     pipeline.Config
	Journal      journal.Config
	Exec         exec.Config
	Paper        exec.PaperConfig
	Discord      DiscordConfig
	SnapshotPath string
	Telemetry    TelemetryConfig
	Pyroscope    PyroscopeConfig
	Postgres     PostgresConfig
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Symbols)
	if err != nil {
		return Loaded{}, err
	}

	exposure, err := parseDecimal(cfg.Risk.MaxNotionalExposure, "risk.maxNotionalExposure")
	if err != nil {
		return Loaded{}, err
	}
	defaultSize, err := parseDecimal(cfg.Extractor.DefaultSize, "extractor.defaultSize")
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Journal.Dir == "" {
		return Loaded{}, fmt.Errorf("config: journal.dir is required")
	}
	if cfg.Journal.SnapshotPath == "" {
		return Loaded{}, fmt.Errorf("config: journal.snapshotPath is required")
	}

	return Loaded{
		Registry: registry,
		Risk: risk.Config{
			KillSwitch:          cfg.Risk.KillSwitch,
			ConfidenceThreshold: cfg.Risk.ConfidenceThreshold,
			MaxNotionalExposure: exposure,
			RateLimit:           cfg.Risk.RateLimit,
			RateWindow:          time.Duration(cfg.Risk.RateWindowSeconds) * time.Second,
		},
		Extractor: signal.Config{
			ConfidenceThreshold: cfg.Extractor.ConfidenceThreshold,
			ClassifyTimeout:     time.Duration(cfg.Extractor.ClassifyTimeoutMillis) * time.Millisecond,
			DefaultSize:         defaultSize,
			MaxTextLength:       cfg.Extractor.MaxTextLength,
			MaxAttempts:         cfg.Extractor.MaxAttempts,
		},
		Pipeline: pipeline.Config{
			InboundQueueSize:    cfg.Pipeline.InboundQueueSize,
			IntentQueueSize:     cfg.Pipeline.IntentQueueSize,
			PlanQueueSize:       cfg.Pipeline.PlanQueueSize,
			DeadLetterQueueSize: cfg.Pipeline.DeadLetterQueueSize,
			StaleAfter:          time.Duration(cfg.Pipeline.StaleAfterSeconds) * time.Second,
			SnapshotInterval:    time.Duration(cfg.Pipeline.SnapshotIntervalSeconds) * time.Second,
			Supervisor: pipeline.SupervisorConfig{
				MaxRestarts: cfg.Supervisor.MaxRestarts,
				BackoffMin:  time.Duration(cfg.Supervisor.BackoffMinMillis) * time.Millisecond,
				BackoffMax:  time.Duration(cfg.Supervisor.BackoffMaxMillis) * time.Millisecond,
			},
		},
		Journal: journal.Config{
			Dir:             cfg.Journal.Dir,
			SegmentMaxBytes: cfg.Journal.SegmentMaxBytes,
			FlushInterval:   time.Duration(cfg.Journal.FlushIntervalMillis) * time.Millisecond,
		},
		Exec: exec.Config{
			MaxConnRetries: cfg.Exchange.MaxConnRetries,
			RetryBackoff:   websocket.DefaultBackoff(),
			ResyncTimeout:  time.Duration(cfg.Exchange.ResyncTimeoutMillis) * time.Millisecond,
		},
		Paper: exec.PaperConfig{
			Latency:    time.Duration(cfg.Exchange.PaperLatencyMillis) * time.Millisecond,
			FillChunks: cfg.Exchange.PaperFillChunks,
		},
		Discord:      cfg.Discord,
		SnapshotPath: cfg.Journal.SnapshotPath,
		Telemetry:    cfg.Telemetry,
		Pyroscope:    cfg.Pyroscope,
		Postgres:     cfg.Postgres,
	}, nil
}

func buildRegistry(symbols []SymbolConfig) (*schema.Registry, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("config: at least one symbol is required")
	}
	registry := schema.NewRegistry()
	for _, sym := range symbols {
		if sym.Name == "" {
			return nil, fmt.Errorf("config: symbol with empty name")
		}
		lot, err := parseDecimal(sym.LotSize, "symbol "+sym.Name+" lotSize")
		if err != nil {
			return nil, err
		}
		if lot.Sign() <= 0 {
			return nil, fmt.Errorf("config: symbol %s lotSize must be positive", sym.Name)
		}
		posCap, err := parseDecimal(sym.PositionCap, "symbol "+sym.Name+" positionCap")
		if err != nil {
			return nil, err
		}
		refPrice, err := parseDecimal(sym.ReferencePrice, "symbol "+sym.Name+" referencePrice")
		if err != nil {
			return nil, err
		}
		if err := registry.AddSymbol(schema.SymbolSpec{
			Name:           sym.Name,
			LotSize:        lot,
			PositionCap:    posCap,
			ReferencePrice: refPrice,
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func parseDecimal(value, field string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	out, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", field, err)
	}
	return out, nil
}
