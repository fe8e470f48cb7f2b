package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default TCP address the bridge listens on.
	DefaultAddr = "localhost:8888"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultConnectionTimeout closes a connection that sends nothing for this long.
	DefaultConnectionTimeout = 90 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultMaxConnections bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxConnections = 256

	// DefaultLogLevel controls verbosity for bridge logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "bridge.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultTurnTimeout is the planning-phase budget before a turn is forced to advance.
	DefaultTurnTimeout = 300 * time.Second
	// DefaultPhaseTimeout is the execution/resolution phase budget.
	DefaultPhaseTimeout = 60 * time.Second
	// DefaultAutoAdvanceTurns is the default for TurnSyncConfig.AutoAdvance. The turn
	// synchronizer does not read it: phases and turns advance only on an explicit call or
	// a deadline timeout, whether or not both engines are ready.
	DefaultAutoAdvanceTurns = false

	// DefaultBatchSize caps how many events accumulate before a forced flush.
	DefaultBatchSize = 10
	// DefaultBatchTimeout is the maximum time an event may wait in a pending batch.
	DefaultBatchTimeout = 5 * time.Second
	// DefaultMaxEventHistory bounds the in-memory event replay ring.
	DefaultMaxEventHistory = 10000
	// DefaultReplayBufferHours bounds how far back replay_events may reach, informational only
	// since history is capacity- not time-bounded; retained for parity with the sizing knob.
	DefaultReplayBufferHours = 24

	// DefaultMeasurementInterval controls how frequently the profiler samples system metrics.
	DefaultMeasurementInterval = 1 * time.Second
	// DefaultHistorySize bounds the profiler's per-metric sample ring.
	DefaultHistorySize = 1000

	// DefaultCompressState toggles gzip compression of full state snapshots.
	DefaultCompressState = true
	// DefaultTrackChanges is the default for StateSyncConfig.TrackChanges. The serializer
	// does not read it; incremental diffs are always computed.
	DefaultTrackChanges = true
	// DefaultMaxStateHistory bounds the serializer's compressed snapshot history ring.
	DefaultMaxStateHistory = 100

	// DefaultIncrementalSizeThresholdRatio is the incremental/full byte-size crossover point.
	DefaultIncrementalSizeThresholdRatio = 0.5
)

// Config captures all runtime tunables for the bridge service.
type Config struct {
	Address               string
	AllowedOrigins        []string
	MaxPayloadBytes       int64
	PingInterval          time.Duration
	ConnectionTimeout     time.Duration
	MaxConnections        int
	TLSCertPath           string
	TLSKeyPath            string
	JWTSecret             string
	Logging               LoggingConfig
	TurnSync              TurnSyncConfig
	Events                EventsConfig
	Profiler              ProfilerConfig
	StateSync             StateSyncConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TurnSyncConfig tunes the turn/phase synchronizer.
type TurnSyncConfig struct {
	TurnTimeout  time.Duration
	PhaseTimeout time.Duration
	AutoAdvance  bool
}

// EventsConfig tunes the political event broadcaster.
type EventsConfig struct {
	BatchSize         int
	BatchTimeout      time.Duration
	MaxEventHistory   int
	ReplayBufferHours int
}

// ProfilerConfig tunes the performance profiler.
type ProfilerConfig struct {
	MeasurementInterval time.Duration
	HistorySize         int
	AlertThresholds     map[string]float64
}

// StateSyncConfig tunes the game state serializer.
type StateSyncConfig struct {
	CompressState               bool
	TrackChanges                bool
	MaxHistory                  int
	IncrementalSizeThresholdRatio float64
}

// DefaultAlertThresholds mirrors the profiler's original default thresholds.
func DefaultAlertThresholds() map[string]float64 {
	return map[string]float64{
		"cpu_usage_percent":          80.0,
		"memory_usage_mb":            512.0,
		"turn_duration_seconds":      10.0,
		"message_latency_ms":         100.0,
		"event_processing_delay_ms":  50.0,
		"state_serialization_time_ms": 1000.0,
		"websocket_connection_count": 100.0,
	}
}

// Load reads the bridge configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:           getString("BRIDGE_ADDR", DefaultAddr),
		AllowedOrigins:    parseList(os.Getenv("BRIDGE_ALLOWED_ORIGINS")),
		MaxPayloadBytes:   DefaultMaxPayloadBytes,
		PingInterval:      DefaultPingInterval,
		ConnectionTimeout: DefaultConnectionTimeout,
		MaxConnections:    DefaultMaxConnections,
		TLSCertPath:       strings.TrimSpace(os.Getenv("BRIDGE_TLS_CERT")),
		TLSKeyPath:        strings.TrimSpace(os.Getenv("BRIDGE_TLS_KEY")),
		JWTSecret:         strings.TrimSpace(os.Getenv("BRIDGE_JWT_SECRET")),
		Logging: LoggingConfig{
			Level:      getString("BRIDGE_LOG_LEVEL", DefaultLogLevel),
			Path:       getString("BRIDGE_LOG_PATH", DefaultLogPath),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		TurnSync: TurnSyncConfig{
			TurnTimeout:  DefaultTurnTimeout,
			PhaseTimeout: DefaultPhaseTimeout,
			AutoAdvance:  DefaultAutoAdvanceTurns,
		},
		Events: EventsConfig{
			BatchSize:         DefaultBatchSize,
			BatchTimeout:      DefaultBatchTimeout,
			MaxEventHistory:   DefaultMaxEventHistory,
			ReplayBufferHours: DefaultReplayBufferHours,
		},
		Profiler: ProfilerConfig{
			MeasurementInterval: DefaultMeasurementInterval,
			HistorySize:         DefaultHistorySize,
			AlertThresholds:     DefaultAlertThresholds(),
		},
		StateSync: StateSyncConfig{
			CompressState:                 DefaultCompressState,
			TrackChanges:                  DefaultTrackChanges,
			MaxHistory:                    DefaultMaxStateHistory,
			IncrementalSizeThresholdRatio: DefaultIncrementalSizeThresholdRatio,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_CONNECTION_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_CONNECTION_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.ConnectionTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_MAX_CONNECTIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_MAX_CONNECTIONS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxConnections = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("BRIDGE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_TURN_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_TURN_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.TurnSync.TurnTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_PHASE_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_PHASE_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.TurnSync.PhaseTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_AUTO_ADVANCE_TURNS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("BRIDGE_AUTO_ADVANCE_TURNS must be a boolean value, got %q", raw))
		} else {
			cfg.TurnSync.AutoAdvance = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_BATCH_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_BATCH_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.Events.BatchSize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_BATCH_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_BATCH_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.Events.BatchTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_MAX_EVENT_HISTORY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_MAX_EVENT_HISTORY must be a positive integer, got %q", raw))
		} else {
			cfg.Events.MaxEventHistory = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_MEASUREMENT_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_MEASUREMENT_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.Profiler.MeasurementInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_HISTORY_SIZE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_HISTORY_SIZE must be a positive integer, got %q", raw))
		} else {
			cfg.Profiler.HistorySize = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_COMPRESS_STATE")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("BRIDGE_COMPRESS_STATE must be a boolean value, got %q", raw))
		} else {
			cfg.StateSync.CompressState = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_MAX_STATE_HISTORY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("BRIDGE_MAX_STATE_HISTORY must be a positive integer, got %q", raw))
		} else {
			cfg.StateSync.MaxHistory = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("BRIDGE_INCREMENTAL_THRESHOLD_RATIO")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 || value > 1 {
			problems = append(problems, fmt.Sprintf("BRIDGE_INCREMENTAL_THRESHOLD_RATIO must be in (0,1], got %q", raw))
		} else {
			cfg.StateSync.IncrementalSizeThresholdRatio = value
		}
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "BRIDGE_TLS_CERT and BRIDGE_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
