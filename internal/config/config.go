package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the recorder.
type Config struct {
	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Tab matching and behavior
	TabURLFilter  string
	StartURL      string
	LaunchBrowser bool

	// HTTP API
	BindAddr string

	// Record store
	DataDir       string
	DedupWindowMS int

	// Raw traffic archive
	ArchiveEnabled         bool
	ArchiveMaxFileSizeMB   int
	ArchiveBufferSize      int
	ArchiveMaxPayloadBytes int

	// DOM capture watcher
	PollIntervalMS  int
	PollMaxAttempts int
	BackfillDelayMS int

	// Extraction vocabulary overrides (optional YAML file)
	VocabularyFile string

	// Notification endpoint; empty disables
	NotifyEndpoint string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:             getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:                getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:           getEnvOrDefault("RECORDER_TAB_URL_FILTER", "matrix.tencent.com/ai-detect"),
		StartURL:               getEnvOrDefault("RECORDER_START_URL", "https://matrix.tencent.com/ai-detect"),
		LaunchBrowser:          getEnvBoolOrDefault("RECORDER_LAUNCH_BROWSER", false),
		BindAddr:               getEnvOrDefault("RECORDER_BIND_ADDR", "127.0.0.1:8196"),
		DataDir:                getEnvOrDefault("RECORDER_DATA_DIR", "./recorder_data"),
		DedupWindowMS:          getEnvIntOrDefault("RECORDER_DEDUP_WINDOW_MS", 3000),
		ArchiveEnabled:         getEnvBoolOrDefault("RECORDER_ARCHIVE_ENABLED", true),
		ArchiveMaxFileSizeMB:   getEnvIntOrDefault("RECORDER_ARCHIVE_MAX_FILE_SIZE_MB", 100),
		ArchiveBufferSize:      getEnvIntOrDefault("RECORDER_ARCHIVE_BUFFER_SIZE", 1000),
		ArchiveMaxPayloadBytes: getEnvIntOrDefault("RECORDER_ARCHIVE_MAX_PAYLOAD_BYTES", 4*1024*1024),
		PollIntervalMS:         getEnvIntOrDefault("RECORDER_POLL_INTERVAL_MS", 2000),
		PollMaxAttempts:        getEnvIntOrDefault("RECORDER_POLL_MAX_ATTEMPTS", 30),
		BackfillDelayMS:        getEnvIntOrDefault("RECORDER_BACKFILL_DELAY_MS", 1500),
		VocabularyFile:         getEnvOrDefault("RECORDER_VOCABULARY_FILE", ""),
		NotifyEndpoint:         getEnvOrDefault("RECORDER_NOTIFY_ENDPOINT", ""),
		LogLevel:               strings.ToLower(getEnvOrDefault("RECORDER_LOG_LEVEL", "info")),
		LogFile:                getEnvOrDefault("RECORDER_LOG_FILE", "logs/zhuque_recorder.log"),
	}

	if cfg.DedupWindowMS < 0 {
		cfg.DedupWindowMS = 0
	}
	if cfg.PollIntervalMS < 250 {
		cfg.PollIntervalMS = 250
	}
	if cfg.PollMaxAttempts < 1 {
		cfg.PollMaxAttempts = 1
	}

	return cfg, nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// DedupWindow returns the duplicate suppression window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMS) * time.Millisecond
}

// PollInterval returns the DOM polling cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// BackfillDelay returns the verdict backfill delay as a duration.
func (c *Config) BackfillDelay() time.Duration {
	return time.Duration(c.BackfillDelayMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
