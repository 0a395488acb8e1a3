package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// requiredEnv sets the credentials every successful Load needs.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SLACK_SIGNING_SECRET", "shh")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	requiredEnv(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	requiredEnv(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.Slack.Path != "/api/slack" {
		t.Fatalf("unexpected default slack path %q", cfg.Slack.Path)
	}
}

// --- required values fail fast ---

func TestLoad_RequiresSlackCredentials(t *testing.T) {
	t.Run("signing secret", func(t *testing.T) {
		t.Setenv("SLACK_SIGNING_SECRET", "")
		t.Setenv("SLACK_BOT_TOKEN", "xoxb-1")
		if _, err := Load(); err == nil || !containsErr(err, "SLACK_SIGNING_SECRET") {
			t.Fatalf("expected missing secret error, got %v", err)
		}
	})
	t.Run("bot token", func(t *testing.T) {
		t.Setenv("SLACK_SIGNING_SECRET", "shh")
		t.Setenv("SLACK_BOT_TOKEN", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "SLACK_BOT_TOKEN") {
			t.Fatalf("expected missing token error, got %v", err)
		}
	})
}

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "3000" || cfg.AppName != "doxyme-slack-calling" || cfg.RoomDomain != "doxy.me" {
		t.Fatalf("app defaults unexpected: %+v", cfg)
	}
	if cfg.DataDir != "" || cfg.EventsDBPath != "" || cfg.EventDedupTTL != time.Hour {
		t.Fatalf("storage defaults unexpected: %+v", cfg)
	}
	s := cfg.Slack
	if s.ReplayWindow != 5*time.Minute || s.HTTPTimeout != 10*time.Second || s.MaxAttempts != 3 {
		t.Fatalf("slack defaults unexpected: %+v", s)
	}
	if s.SetupCommand != "/doxy-setup" || s.InviteCommand != "/doxyme" || s.APIURL != "" {
		t.Fatalf("command defaults unexpected: %+v", s)
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	requiredEnv(t)
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")

	// App
	t.Setenv("APP_NAME", "calls")
	t.Setenv("ROOM_DOMAIN", " Example.ORG ")
	t.Setenv("DATA_DIR", "/srv/doxy")
	t.Setenv("EVENTS_DB_PATH", "/srv/doxy/ev.db")
	t.Setenv("EVENT_DEDUP_TTL", "10m")

	// Slack
	t.Setenv("SLACK_API_URL", "http://127.0.0.1:9/api/")
	t.Setenv("SLACK_PATH", "slack/events/")
	t.Setenv("SLACK_REPLAY_WINDOW", "90s")
	t.Setenv("SLACK_HTTP_TIMEOUT", "2s")
	t.Setenv("SLACK_MAX_ATTEMPTS", "5")
	t.Setenv("SETUP_COMMAND", "room-setup")
	t.Setenv("INVITE_COMMAND", "/room")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 20
	t.Setenv("RATE_BURST", "nope") // -> default 40

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging unexpected: %+v", cfg)
	}

	if cfg.AppName != "calls" || cfg.RoomDomain != "example.org" || cfg.DataDir != "/srv/doxy" ||
		cfg.EventsDBPath != "/srv/doxy/ev.db" || cfg.EventDedupTTL != 10*time.Minute {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	want := SlackConfig{
		SigningSecret: "shh",
		BotToken:      "xoxb-1",
		APIURL:        "http://127.0.0.1:9/api/",
		Path:          "/slack/events",
		ReplayWindow:  90 * time.Second,
		HTTPTimeout:   2 * time.Second,
		MaxAttempts:   5,
		SetupCommand:  "/room-setup",
		InviteCommand: "/room",
	}
	if cfg.Slack != want {
		t.Fatalf("slack config = %+v, want %+v", cfg.Slack, want)
	}

	if cfg.RateRPS != 20.0 || cfg.RateBurst != 40 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"blank room domain", "ROOM_DOMAIN", "  ", "ROOM_DOMAIN"},
		{"dedup ttl", "EVENT_DEDUP_TTL", "0s", "EVENT_DEDUP_TTL"},
		{"root slack path", "SLACK_PATH", "/", "SLACK_PATH"},
		{"replay window", "SLACK_REPLAY_WINDOW", "-1s", "SLACK_REPLAY_WINDOW"},
		{"http timeout", "SLACK_HTTP_TIMEOUT", "0s", "SLACK_HTTP_TIMEOUT"},
		{"max attempts", "SLACK_MAX_ATTEMPTS", "0", "SLACK_MAX_ATTEMPTS"},
		{"same commands", "INVITE_COMMAND", "/doxy-setup", "must differ"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requiredEnv(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	t.Setenv("B_T", " yes ")
	if !getbool("B_T", false) {
		t.Fatalf("getbool(yes) = false")
	}
	t.Setenv("B_F", "Off")
	if getbool("B_F", true) {
		t.Fatalf("getbool(Off) = true")
	}
	// default on unset/empty/garbage
	t.Setenv("B_EMPTY", "")
	t.Setenv("B_JUNK", "sometimes")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) || !getbool("B_JUNK", true) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_normalizeBasePath_normalizeCommand(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	in := " a, ,b ,  c  ,"
	want := []string{"a", "b", "c"}
	if got := splitCSV(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("api/slack") != "/api/slack" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/api/slack/") != "/api/slack" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}

	if normalizeCommand(" doxyme ") != "/doxyme" || normalizeCommand("/doxy-setup") != "/doxy-setup" {
		t.Fatalf("normalizeCommand failed")
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "SLACK_SIGNING_SECRET", "SLACK_BOT_TOKEN", "DATA_DIR", "SLACK_API_URL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
