package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ent0n29/callcoach/internal/coach"
	"github.com/ent0n29/callcoach/internal/completion"
)

// FileEnv names the optional config file (toml, yaml or json). Environment
// variables always win over file values.
const FileEnv = "CALLCOACH_CONFIG"

// Config contains all runtime settings for the coaching service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	LogLevel  string
	LogFormat string

	DatabaseURL   string
	KnowledgePath string

	Completion completion.Config
	Coach      coach.Config
}

// key -> environment variable.
var envBindings = map[string]string{
	"app.bind_addr":                  "APP_BIND_ADDR",
	"app.shutdown_timeout":           "APP_SHUTDOWN_TIMEOUT",
	"app.session_inactivity_timeout": "APP_SESSION_INACTIVITY_TIMEOUT",
	"app.metrics_namespace":          "APP_METRICS_NAMESPACE",
	"app.allow_any_origin":           "APP_ALLOW_ANY_ORIGIN",
	"app.log_level":                  "APP_LOG_LEVEL",
	"app.log_format":                 "APP_LOG_FORMAT",

	"database_url":   "DATABASE_URL",
	"knowledge_path": "KNOWLEDGE_PATH",

	"completion.mode":        "COMPLETION_MODE",
	"completion.base_url":    "COMPLETION_BASE_URL",
	"completion.api_key":     "COMPLETION_API_KEY",
	"completion.model":       "COMPLETION_MODEL",
	"completion.timeout":     "COMPLETION_TIMEOUT",
	"completion.temperature": "COMPLETION_TEMPERATURE",
	"completion.max_tokens":  "COMPLETION_MAX_TOKENS",
	"completion.retries":     "COMPLETION_RETRIES",

	"coach.debounce":           "COACH_DEBOUNCE",
	"coach.silence":            "COACH_SILENCE",
	"coach.practice_silence":   "COACH_PRACTICE_SILENCE",
	"coach.fallback_interval":  "COACH_FALLBACK_INTERVAL",
	"coach.interim_timeout":    "COACH_INTERIM_TIMEOUT",
	"coach.generation_timeout": "COACH_GENERATION_TIMEOUT",
	"coach.transcript_window":  "COACH_TRANSCRIPT_WINDOW",
	"coach.practice_mode":      "COACH_PRACTICE_MODE",
}

func setDefaults(v *viper.Viper) {
	def := coach.DefaultConfig()

	v.SetDefault("app.bind_addr", ":8080")
	v.SetDefault("app.shutdown_timeout", "15s")
	v.SetDefault("app.session_inactivity_timeout", def.InactivityTimeout.String())
	v.SetDefault("app.metrics_namespace", "callcoach")
	v.SetDefault("app.allow_any_origin", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database_url", "")
	v.SetDefault("knowledge_path", "")

	v.SetDefault("completion.mode", completion.ModeAuto)
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.model", "")
	v.SetDefault("completion.timeout", def.GenerationTimeout.String())
	v.SetDefault("completion.temperature", 0.4)
	v.SetDefault("completion.max_tokens", 400)
	v.SetDefault("completion.retries", 1)

	v.SetDefault("coach.debounce", def.Debounce.String())
	v.SetDefault("coach.silence", def.Silence.String())
	v.SetDefault("coach.practice_silence", def.PracticeSilence.String())
	v.SetDefault("coach.fallback_interval", def.FallbackInterval.String())
	v.SetDefault("coach.interim_timeout", def.InterimTimeout.String())
	v.SetDefault("coach.generation_timeout", def.GenerationTimeout.String())
	v.SetDefault("coach.transcript_window", def.TranscriptWindow)
	v.SetDefault("coach.practice_mode", false)
}

// Load reads the optional config file plus environment variables and applies
// safe defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if path := strings.TrimSpace(os.Getenv(FileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	r := reader{v: v}
	cfg := Config{
		BindAddr:                 r.str("app.bind_addr"),
		ShutdownTimeout:          r.duration("app.shutdown_timeout"),
		SessionInactivityTimeout: r.duration("app.session_inactivity_timeout"),
		MetricsNamespace:         r.str("app.metrics_namespace"),
		AllowAnyOrigin:           r.boolean("app.allow_any_origin"),
		LogLevel:                 r.str("app.log_level"),
		LogFormat:                r.str("app.log_format"),
		DatabaseURL:              r.str("database_url"),
		KnowledgePath:            r.str("knowledge_path"),
		Completion: completion.Config{
			Mode:        strings.ToLower(r.str("completion.mode")),
			BaseURL:     r.str("completion.base_url"),
			APIKey:      r.str("completion.api_key"),
			Model:       r.str("completion.model"),
			Timeout:     r.duration("completion.timeout"),
			Temperature: r.float("completion.temperature"),
			MaxTokens:   r.integer("completion.max_tokens"),
			MaxRetries:  r.integer("completion.retries"),
		},
		Coach: coach.Config{
			Debounce:          r.duration("coach.debounce"),
			Silence:           r.duration("coach.silence"),
			PracticeSilence:   r.duration("coach.practice_silence"),
			FallbackInterval:  r.duration("coach.fallback_interval"),
			InterimTimeout:    r.duration("coach.interim_timeout"),
			GenerationTimeout: r.duration("coach.generation_timeout"),
			TranscriptWindow:  r.integer("coach.transcript_window"),
			PracticeMode:      r.boolean("coach.practice_mode"),
		},
	}
	if r.err != nil {
		return Config{}, r.err
	}
	cfg.Coach.InactivityTimeout = cfg.SessionInactivityTimeout

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	switch c.Completion.Mode {
	case completion.ModeAuto, completion.ModeHTTP, completion.ModeMock, completion.ModeDisabled:
	default:
		return fmt.Errorf("COMPLETION_MODE %q is not one of auto|http|mock|disabled", c.Completion.Mode)
	}
	if c.Completion.Mode == completion.ModeHTTP && c.Completion.BaseURL == "" {
		return errors.New("COMPLETION_BASE_URL is required when COMPLETION_MODE=http")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if c.Completion.MaxTokens <= 0 {
		return fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if c.Completion.MaxRetries < 0 {
		return fmt.Errorf("COMPLETION_RETRIES must be >= 0")
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("COMPLETION_TEMPERATURE must be within [0, 2]")
	}

	positive := map[string]time.Duration{
		"COACH_DEBOUNCE":           c.Coach.Debounce,
		"COACH_SILENCE":            c.Coach.Silence,
		"COACH_PRACTICE_SILENCE":   c.Coach.PracticeSilence,
		"COACH_FALLBACK_INTERVAL":  c.Coach.FallbackInterval,
		"COACH_GENERATION_TIMEOUT": c.Coach.GenerationTimeout,
	}
	for env, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", env)
		}
	}
	// Zero disables the interim race.
	if c.Coach.InterimTimeout < 0 {
		return fmt.Errorf("COACH_INTERIM_TIMEOUT must be >= 0")
	}
	if c.Coach.TranscriptWindow <= 0 {
		return fmt.Errorf("COACH_TRANSCRIPT_WINDOW must be positive")
	}
	return nil
}

// reader parses string-typed viper values and keeps the first error so Load
// can report which variable was malformed.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) str(key string) string {
	return strings.TrimSpace(r.v.GetString(key))
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s parse error: %w", envBindings[key], err)
	}
}

func (r *reader) duration(key string) time.Duration {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return d
}

func (r *reader) integer(key string) int {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return n
}

func (r *reader) float(key string) float64 {
	raw := r.str(key)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.fail(key, err)
		return 0
	}
	return f
}

func (r *reader) boolean(key string) bool {
	switch strings.ToLower(r.str(key)) {
	case "", "0", "false", "f", "no", "n", "off":
		return false
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		r.fail(key, errors.New("expected bool"))
		return false
	}
}
