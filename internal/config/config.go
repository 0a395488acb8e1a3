// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes the Slack
// credentials, command names, storage locations, server timeouts, logging,
// rate limiting, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/doxyme-slack-calling/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SlackConfig holds the Slack app credentials and protocol settings.
type SlackConfig struct {
	SigningSecret string        // SLACK_SIGNING_SECRET (required)
	BotToken      string        // SLACK_BOT_TOKEN (required)
	APIURL        string        // SLACK_API_URL, empty keeps the client default
	Path          string        // SLACK_PATH, the single webhook endpoint
	ReplayWindow  time.Duration // SLACK_REPLAY_WINDOW
	HTTPTimeout   time.Duration // SLACK_HTTP_TIMEOUT for outbound calls
	MaxAttempts   int           // SLACK_MAX_ATTEMPTS when rate limited
	SetupCommand  string        // SETUP_COMMAND
	InviteCommand string        // INVITE_COMMAND
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	AppName       string        // reported by the liveness endpoint
	RoomDomain    string        // allowed room host suffix
	DataDir       string        // optional override for the mapping document dir
	EventsDBPath  string        // receipt ledger; empty means <data dir>/events.db
	EventDedupTTL time.Duration // how long an event_id is remembered

	Slack SlackConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		AppName:       getenv("APP_NAME", "doxyme-slack-calling"),
		RoomDomain:    strings.ToLower(strings.TrimSpace(getenv("ROOM_DOMAIN", "doxy.me"))),
		DataDir:       strings.TrimSpace(getenv("DATA_DIR", "")),
		EventsDBPath:  strings.TrimSpace(getenv("EVENTS_DB_PATH", "")),
		EventDedupTTL: getdur("EVENT_DEDUP_TTL", time.Hour),

		Slack: SlackConfig{
			SigningSecret: strings.TrimSpace(getenv("SLACK_SIGNING_SECRET", "")),
			BotToken:      strings.TrimSpace(getenv("SLACK_BOT_TOKEN", "")),
			APIURL:        strings.TrimSpace(getenv("SLACK_API_URL", "")),
			Path:          normalizeBasePath(getenv("SLACK_PATH", "/api/slack")),
			ReplayWindow:  getdur("SLACK_REPLAY_WINDOW", 5*time.Minute),
			HTTPTimeout:   getdur("SLACK_HTTP_TIMEOUT", 10*time.Second),
			MaxAttempts:   getint("SLACK_MAX_ATTEMPTS", 3),
			SetupCommand:  normalizeCommand(getenv("SETUP_COMMAND", "/doxy-setup")),
			InviteCommand: normalizeCommand(getenv("INVITE_COMMAND", "/doxyme")),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "doxyme-slack-calling"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	// Required credentials first: without them nothing else matters.
	if cfg.Slack.SigningSecret == "" {
		return cfg, errors.New("missing required environment variable: SLACK_SIGNING_SECRET")
	}
	if cfg.Slack.BotToken == "" {
		return cfg, errors.New("missing required environment variable: SLACK_BOT_TOKEN")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RoomDomain == "" {
		return cfg, errors.New("ROOM_DOMAIN must not be empty")
	}
	if cfg.EventDedupTTL <= 0 {
		return cfg, errors.New("EVENT_DEDUP_TTL must be > 0")
	}
	if cfg.Slack.Path == "/" {
		return cfg, errors.New("SLACK_PATH must not be the root path")
	}
	if cfg.Slack.ReplayWindow <= 0 {
		return cfg, errors.New("SLACK_REPLAY_WINDOW must be > 0")
	}
	if cfg.Slack.HTTPTimeout <= 0 {
		return cfg, errors.New("SLACK_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Slack.MaxAttempts < 1 {
		return cfg, errors.New("SLACK_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Slack.SetupCommand == "/" || cfg.Slack.InviteCommand == "/" {
		return cfg, errors.New("SETUP_COMMAND and INVITE_COMMAND must not be empty")
	}
	if cfg.Slack.SetupCommand == cfg.Slack.InviteCommand {
		return cfg, errors.New("SETUP_COMMAND and INVITE_COMMAND must differ")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// normalizeCommand ensures a slash command name carries its leading '/'.
func normalizeCommand(c string) string {
	c = strings.TrimSpace(c)
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}
