package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Feed kinds.
const (
	FeedSpool  = "spool"
	FeedBridge = "bridge"
)

// Config holds every runtime setting. Environment variables win over the
// YAML file, which wins over defaults.
type Config struct {
	DBDSN        string
	HTTPPort     string
	LogLevel     string
	LogFormat    string
	Timezone     string
	Location     *time.Location
	StrictConfig bool

	Feed      FeedConfig
	Discovery DiscoveryConfig
	Sync      SyncConfig
	Responder ResponderConfig
}

type FeedConfig struct {
	Kind           string
	SpoolDir       string
	Watch          bool
	BridgeURL      string
	BridgeToken    string
	CallTimeoutSec int
}

type DiscoveryConfig struct {
	EmptyThreshold   int
	BurstSteps       int
	BackfillDelayMs  int
	PollIntervalSec  int
	BurstDelayMs     int
	TickTimeoutSec   int
	SeedFromLedger   bool
	SkewToleranceSec int
}

type SyncConfig struct {
	URL         string
	ReadURL     string
	APIKey      string
	IntervalSec int
	TimeoutSec  int
	BatchSize   int
}

// ResponderConfig drives the running total answer. Replies are only posted
// when PostURL is set.
type ResponderConfig struct {
	InitialTotal int
	Mention      string
	Phrase       string
	Reply        string
	PostURL      string
	BotID        string
}

type fileConfig struct {
	DBDSN     string              `json:"db_dsn" yaml:"db_dsn"`
	HTTPPort  string              `json:"http_port" yaml:"http_port"`
	LogLevel  string              `json:"log_level" yaml:"log_level"`
	LogFormat string              `json:"log_format" yaml:"log_format"`
	Timezone  string              `json:"timezone" yaml:"timezone"`
	Feed      feedFileConfig      `json:"feed" yaml:"feed"`
	Discovery discoveryFileConfig `json:"discovery" yaml:"discovery"`
	Sync      syncFileConfig      `json:"sync" yaml:"sync"`
	Responder struct {
		InitialTotal *int   `json:"initial_total" yaml:"initial_total"`
		Mention      string `json:"mention" yaml:"mention"`
		Phrase       string `json:"phrase" yaml:"phrase"`
		Reply        string `json:"reply" yaml:"reply"`
		PostURL      string `json:"post_url" yaml:"post_url"`
	} `json:"responder" yaml:"responder"`
}

type feedFileConfig struct {
	Kind           string `json:"kind" yaml:"kind"`
	SpoolDir       string `json:"spool_dir" yaml:"spool_dir"`
	Watch          *bool  `json:"watch" yaml:"watch"`
	BridgeURL      string `json:"bridge_url" yaml:"bridge_url"`
	CallTimeoutSec *int   `json:"call_timeout_sec" yaml:"call_timeout_sec"`
}

type discoveryFileConfig struct {
	EmptyThreshold   *int  `json:"empty_threshold" yaml:"empty_threshold"`
	BurstSteps       *int  `json:"burst_steps" yaml:"burst_steps"`
	BackfillDelayMs  *int  `json:"backfill_delay_ms" yaml:"backfill_delay_ms"`
	PollIntervalSec  *int  `json:"poll_interval_sec" yaml:"poll_interval_sec"`
	BurstDelayMs     *int  `json:"burst_delay_ms" yaml:"burst_delay_ms"`
	TickTimeoutSec   *int  `json:"tick_timeout_sec" yaml:"tick_timeout_sec"`
	SeedFromLedger   *bool `json:"seed_from_ledger" yaml:"seed_from_ledger"`
	SkewToleranceSec *int  `json:"skew_tolerance_sec" yaml:"skew_tolerance_sec"`
}

type syncFileConfig struct {
	URL         string `json:"url" yaml:"url"`
	ReadURL     string `json:"read_url" yaml:"read_url"`
	IntervalSec *int   `json:"interval_sec" yaml:"interval_sec"`
	TimeoutSec  *int   `json:"timeout_sec" yaml:"timeout_sec"`
	BatchSize   *int   `json:"batch_size" yaml:"batch_size"`
}

const (
	defaultDBDSN        = "runtime/beer_counter.db"
	defaultPort         = ":8080"
	defaultSpoolDir     = "runtime/spool"
	defaultCallTimeout  = 15
	defaultInitialTotal = 73
	maxBatchSize        = 1000
)

func defaultDiscovery() DiscoveryConfig {
	return DiscoveryConfig{
		EmptyThreshold:   5,
		BurstSteps:       5,
		BackfillDelayMs:  3000,
		PollIntervalSec:  60,
		BurstDelayMs:     500,
		TickTimeoutSec:   120,
		SeedFromLedger:   true,
		SkewToleranceSec: 120,
	}
}

func defaultSync() SyncConfig {
	return SyncConfig{IntervalSec: 300, TimeoutSec: 30, BatchSize: 500}
}

// Load reads .env, the optional config file and the environment.
func Load() (Config, error) {
	_ = godotenv.Load(getEnv("DOTENV_PATH", ".env"))

	cfg := Config{
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
		Discovery:    defaultDiscovery(),
		Sync:         defaultSync(),
		Responder:    ResponderConfig{InitialTotal: defaultInitialTotal},
		Feed:         FeedConfig{Watch: true, CallTimeoutSec: defaultCallTimeout},
	}

	configPath := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join("config", "config.yaml")
	}
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil && (explicit || !errors.Is(fileErr, os.ErrNotExist)) {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		slog.Warn("config load failed, using defaults", "path", configPath, "err", fileErr)
	}

	cfg.DBDSN = firstNonEmpty(os.Getenv("DB_DSN"), fileCfg.DBDSN, defaultDBDSN)
	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") && !strings.Contains(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}
	cfg.LogLevel = strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), fileCfg.LogLevel, "info"))
	cfg.LogFormat = strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), fileCfg.LogFormat, "text"))
	cfg.Timezone = firstNonEmpty(os.Getenv("TIMEZONE"), fileCfg.Timezone, "Local")

	cfg.Feed.Kind = strings.ToLower(firstNonEmpty(os.Getenv("FEED_KIND"), fileCfg.Feed.Kind, FeedSpool))
	cfg.Feed.SpoolDir = firstNonEmpty(os.Getenv("FEED_SPOOL_DIR"), fileCfg.Feed.SpoolDir, defaultSpoolDir)
	cfg.Feed.BridgeURL = firstNonEmpty(os.Getenv("FEED_BRIDGE_URL"), fileCfg.Feed.BridgeURL)
	cfg.Feed.BridgeToken = os.Getenv("FEED_BRIDGE_TOKEN")
	if fileCfg.Feed.Watch != nil {
		cfg.Feed.Watch = *fileCfg.Feed.Watch
	}
	cfg.Feed.Watch = parseBoolEnvDefault("FEED_WATCH", cfg.Feed.Watch)
	overrideInt(&cfg.Feed.CallTimeoutSec, fileCfg.Feed.CallTimeoutSec)

	d := &cfg.Discovery
	overrideInt(&d.EmptyThreshold, fileCfg.Discovery.EmptyThreshold)
	overrideInt(&d.BurstSteps, fileCfg.Discovery.BurstSteps)
	overrideInt(&d.BackfillDelayMs, fileCfg.Discovery.BackfillDelayMs)
	overrideInt(&d.PollIntervalSec, fileCfg.Discovery.PollIntervalSec)
	overrideInt(&d.BurstDelayMs, fileCfg.Discovery.BurstDelayMs)
	overrideInt(&d.TickTimeoutSec, fileCfg.Discovery.TickTimeoutSec)
	overrideInt(&d.SkewToleranceSec, fileCfg.Discovery.SkewToleranceSec)
	if fileCfg.Discovery.SeedFromLedger != nil {
		d.SeedFromLedger = *fileCfg.Discovery.SeedFromLedger
	}
	d.SeedFromLedger = parseBoolEnvDefault("DISCOVERY_SEED_FROM_LEDGER", d.SeedFromLedger)

	s := &cfg.Sync
	s.URL = strings.TrimSpace(firstNonEmpty(os.Getenv("SUPABASE_URL"), fileCfg.Sync.URL))
	s.ReadURL = strings.TrimSpace(firstNonEmpty(os.Getenv("SUPABASE_READ_URL"), fileCfg.Sync.ReadURL))
	s.APIKey = strings.TrimSpace(os.Getenv("SUPABASE_API_KEY"))
	overrideInt(&s.IntervalSec, fileCfg.Sync.IntervalSec)
	overrideInt(&s.TimeoutSec, fileCfg.Sync.TimeoutSec)
	overrideInt(&s.BatchSize, fileCfg.Sync.BatchSize)
	if fileCfg.Responder.InitialTotal != nil {
		cfg.Responder.InitialTotal = *fileCfg.Responder.InitialTotal
	}
	r := &cfg.Responder
	r.Mention = firstNonEmpty(os.Getenv("RESPONDER_MENTION"), fileCfg.Responder.Mention)
	r.Phrase = firstNonEmpty(os.Getenv("RESPONDER_PHRASE"), fileCfg.Responder.Phrase)
	r.Reply = firstNonEmpty(os.Getenv("RESPONDER_REPLY"), fileCfg.Responder.Reply)
	r.PostURL = strings.TrimSpace(firstNonEmpty(os.Getenv("RESPONDER_POST_URL"), fileCfg.Responder.PostURL))
	r.BotID = strings.TrimSpace(os.Getenv("RESPONDER_BOT_ID"))

	envInts := []struct {
		key      string
		dst      *int
		min, max int
	}{
		{"FEED_CALL_TIMEOUT_SEC", &cfg.Feed.CallTimeoutSec, 1, 600},
		{"DISCOVERY_EMPTY_THRESHOLD", &d.EmptyThreshold, 1, 1000},
		{"DISCOVERY_BURST_STEPS", &d.BurstSteps, 0, 1000},
		{"DISCOVERY_BACKFILL_DELAY_MS", &d.BackfillDelayMs, 1, 3_600_000},
		{"DISCOVERY_POLL_INTERVAL_SEC", &d.PollIntervalSec, 1, 86_400},
		{"DISCOVERY_BURST_DELAY_MS", &d.BurstDelayMs, 0, 60_000},
		{"DISCOVERY_TICK_TIMEOUT_SEC", &d.TickTimeoutSec, 1, 3600},
		{"RESOLVER_SKEW_TOLERANCE_SEC", &d.SkewToleranceSec, 0, 3600},
		{"SYNC_INTERVAL_SEC", &s.IntervalSec, 1, 86_400},
		{"SYNC_TIMEOUT_SEC", &s.TimeoutSec, 1, 600},
		{"SYNC_BATCH_SIZE", &s.BatchSize, 1, maxBatchSize},
		{"RESPONDER_INITIAL_TOTAL", &cfg.Responder.InitialTotal, 0, 1 << 30},
	}
	for _, e := range envInts {
		v, ok, err := parseIntEnv(e.key)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, fmt.Errorf("invalid %s: %w", e.key, err)
			}
			slog.Warn("invalid integer setting, using default", "key", e.key, "err", err)
			continue
		}
		if ok {
			*e.dst = v
		}
		if clamped := clampInt(*e.dst, e.min, e.max); clamped != *e.dst {
			slog.Warn("setting clamped", "key", e.key, "was", *e.dst, "now", clamped)
			*e.dst = clamped
		}
	}

	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
		}
		slog.Warn("invalid timezone, using UTC", "timezone", cfg.Timezone, "err", err)
		loc = time.UTC
	}
	cfg.Location = loc

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		slog.Warn("config validation failed, continuing", "err", err)
	}
	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "local":
		return time.Local, nil
	case "utc", "":
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DBDSN) == "" {
		return errors.New("DB_DSN is required")
	}
	switch cfg.Feed.Kind {
	case FeedSpool:
		if strings.TrimSpace(cfg.Feed.SpoolDir) == "" {
			return errors.New("FEED_SPOOL_DIR is required for the spool feed")
		}
	case FeedBridge:
		if strings.TrimSpace(cfg.Feed.BridgeURL) == "" {
			return errors.New("FEED_BRIDGE_URL is required for the bridge feed")
		}
	default:
		return fmt.Errorf("unknown FEED_KIND %q", cfg.Feed.Kind)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", cfg.LogFormat)
	}
	if cfg.Sync.URL != "" && cfg.Sync.APIKey == "" {
		return errors.New("SUPABASE_API_KEY is required when SUPABASE_URL is set")
	}
	if cfg.Responder.Reply != "" && !strings.Contains(cfg.Responder.Reply, "%d") {
		return errors.New("RESPONDER_REPLY must contain %d")
	}
	return nil
}

// BackfillDelay and friends convert the integer settings.
func (d DiscoveryConfig) BackfillDelay() time.Duration {
	return time.Duration(d.BackfillDelayMs) * time.Millisecond
}

func (d DiscoveryConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSec) * time.Second
}

func (d DiscoveryConfig) BurstDelay() time.Duration {
	return time.Duration(d.BurstDelayMs) * time.Millisecond
}

func (d DiscoveryConfig) TickTimeout() time.Duration {
	return time.Duration(d.TickTimeoutSec) * time.Second
}

func (d DiscoveryConfig) SkewTolerance() time.Duration {
	return time.Duration(d.SkewToleranceSec) * time.Second
}

func (s SyncConfig) Interval() time.Duration { return time.Duration(s.IntervalSec) * time.Second }
func (s SyncConfig) Timeout() time.Duration  { return time.Duration(s.TimeoutSec) * time.Second }

func (f FeedConfig) CallTimeout() time.Duration {
	return time.Duration(f.CallTimeoutSec) * time.Second
}

func overrideInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Now returns utc time truncated to the second.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
