package config

import (
	"errors"
	"fmt"
	"time"
)

// Settings is the explicit configuration object handed to the engine and
// its collaborators at construction. Nothing below cmd/ reads the
// environment; the CLI builds Settings once and passes it down.
type Settings struct {
	// MaxAttempts is the default number of invalid answers tolerated per
	// question before the session escalates. Nodes may override it.
	MaxAttempts int
	// Reachability is "ignore", "warn" or "error".
	Reachability string

	LogLevel  string
	LogFormat string

	Store      StoreSettings
	Scheduling SchedulingSettings
	Handoff    HandoffSettings
	Extract    ExtractSettings
	Twilio     TwilioSettings
	HTTP       HTTPSettings
}

// StoreSettings selects the session, ticket and slot persistence backend.
type StoreSettings struct {
	// DSN is "memory", a SQLite path, or a postgres:// URL.
	DSN string
}

// SchedulingSettings configures slot generation and holds.
type SchedulingSettings struct {
	WindowDays int
	MaxSlots   int
	HoldTTL    time.Duration
	Timezone   string
}

// HandoffSettings configures click-to-call tokens.
type HandoffSettings struct {
	CallBaseURL  string
	CallTokenTTL time.Duration
}

// ExtractSettings configures the completion service router.
type ExtractSettings struct {
	APIKey           string
	Model            string
	FieldsTimeout    time.Duration
	SentimentTimeout time.Duration
	Sentiment        bool
}

// TwilioSettings configures the SMS channel.
type TwilioSettings struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// FlowVersion is the flow new SMS conversations start on.
	FlowVersion string
	// PublicURL enables webhook signature checks when set.
	PublicURL string
}

// HTTPSettings configures the API server.
type HTTPSettings struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Enabled reports whether Twilio credentials are present.
func (t TwilioSettings) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:  3,
		Reachability: "warn",
		LogLevel:     "info",
		LogFormat:    "text",
		Store:        StoreSettings{DSN: "memory"},
		Scheduling: SchedulingSettings{
			WindowDays: 7,
			MaxSlots:   3,
			HoldTTL:    10 * time.Minute,
			Timezone:   "Local",
		},
		Handoff: HandoffSettings{
			CallBaseURL:  "http://localhost:8080",
			CallTokenTTL: 30 * time.Minute,
		},
		Extract: ExtractSettings{
			Model:            "gpt-4o-mini",
			FieldsTimeout:    8 * time.Second,
			SentimentTimeout: 4 * time.Second,
			Sentiment:        true,
		},
		HTTP: HTTPSettings{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// SettingsFrom reads Settings from a Config, starting from the defaults.
func SettingsFrom(c Config) Settings {
	s := DefaultSettings()
	s.MaxAttempts = c.Int("max_attempts", s.MaxAttempts)
	s.Reachability = c.String("reachability", s.Reachability)
	s.LogLevel = c.String("log.level", s.LogLevel)
	s.LogFormat = c.String("log.format", s.LogFormat)

	s.Store.DSN = c.String("store.dsn", s.Store.DSN)

	sched := c.Section("scheduling")
	s.Scheduling.WindowDays = sched.Int("window_days", s.Scheduling.WindowDays)
	s.Scheduling.MaxSlots = sched.Int("max_slots", s.Scheduling.MaxSlots)
	s.Scheduling.HoldTTL = sched.Duration("hold_ttl", s.Scheduling.HoldTTL)
	s.Scheduling.Timezone = sched.String("timezone", s.Scheduling.Timezone)

	s.Handoff.CallBaseURL = c.String("handoff.call_base_url", s.Handoff.CallBaseURL)
	s.Handoff.CallTokenTTL = c.Duration("handoff.call_token_ttl", s.Handoff.CallTokenTTL)

	ext := c.Section("extract")
	s.Extract.APIKey = ext.String("api_key", s.Extract.APIKey)
	s.Extract.Model = ext.String("model", s.Extract.Model)
	s.Extract.FieldsTimeout = ext.Duration("fields_timeout", s.Extract.FieldsTimeout)
	s.Extract.SentimentTimeout = ext.Duration("sentiment_timeout", s.Extract.SentimentTimeout)
	s.Extract.Sentiment = ext.Bool("sentiment", s.Extract.Sentiment)

	tw := c.Section("twilio")
	s.Twilio.AccountSID = tw.String("account_sid", s.Twilio.AccountSID)
	s.Twilio.AuthToken = tw.String("auth_token", s.Twilio.AuthToken)
	s.Twilio.FromNumber = tw.String("from_number", s.Twilio.FromNumber)
	s.Twilio.FlowVersion = tw.String("flow_version", s.Twilio.FlowVersion)
	s.Twilio.PublicURL = tw.String("public_url", s.Twilio.PublicURL)

	s.HTTP.Addr = c.String("http.addr", s.HTTP.Addr)
	s.HTTP.ShutdownTimeout = c.Duration("http.shutdown_timeout", s.HTTP.ShutdownTimeout)
	return s
}

// LoadSettings reads Settings from a YAML or JSON file. An empty path
// yields the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	c, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFrom(c), nil
}

// EnvBindings maps environment variable names to Config keys.
var EnvBindings = map[string]string{
	"INTAKEFLOW_MAX_ATTEMPTS":      "max_attempts",
	"INTAKEFLOW_REACHABILITY":      "reachability",
	"INTAKEFLOW_LOG_LEVEL":         "log.level",
	"INTAKEFLOW_LOG_FORMAT":        "log.format",
	"DATABASE_URL":                 "store.dsn",
	"INTAKEFLOW_DSN":               "store.dsn",
	"INTAKEFLOW_HOLD_TTL":          "scheduling.hold_ttl",
	"INTAKEFLOW_TIMEZONE":          "scheduling.timezone",
	"INTAKEFLOW_CALL_BASE_URL":     "handoff.call_base_url",
	"INTAKEFLOW_CALL_TOKEN_TTL":    "handoff.call_token_ttl",
	"OPENAI_API_KEY":               "extract.api_key",
	"INTAKEFLOW_OPENAI_MODEL":      "extract.model",
	"TWILIO_ACCOUNT_SID":           "twilio.account_sid",
	"TWILIO_AUTH_TOKEN":            "twilio.auth_token",
	"TWILIO_FROM_NUMBER":           "twilio.from_number",
	"INTAKEFLOW_SMS_FLOW":          "twilio.flow_version",
	"INTAKEFLOW_PUBLIC_URL":        "twilio.public_url",
	"INTAKEFLOW_HTTP_ADDR":         "http.addr",
	"INTAKEFLOW_SHUTDOWN_TIMEOUT":  "http.shutdown_timeout",
	"INTAKEFLOW_SENTIMENT_ENABLED": "extract.sentiment",
}

// ApplyEnv overlays environment values onto c using EnvBindings.
// INTAKEFLOW_DSN takes precedence over DATABASE_URL.
func ApplyEnv(c Config, lookup func(string) (string, bool)) Config {
	for env, key := range EnvBindings {
		if env == "DATABASE_URL" {
			continue
		}
		if v, ok := lookup(env); ok && v != "" {
			c.Set(key, v)
		}
	}
	if _, ok := lookup("INTAKEFLOW_DSN"); !ok {
		if v, ok := lookup("DATABASE_URL"); ok && v != "" {
			c.Set("store.dsn", v)
		}
	}
	return c
}

// Sentinel errors for settings validation.
var (
	ErrInvalidMaxAttempts  = errors.New("max_attempts must be at least 1")
	ErrInvalidReachability = errors.New("reachability must be ignore, warn or error")
	ErrInvalidScheduling   = errors.New("scheduling window_days and max_slots must be at least 1")
	ErrInvalidTimeout      = errors.New("timeouts must be positive")
)

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.MaxAttempts < 1 {
		errs = append(errs, ErrInvalidMaxAttempts)
	}
	switch s.Reachability {
	case "ignore", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidReachability, s.Reachability))
	}
	if s.Scheduling.WindowDays < 1 || s.Scheduling.MaxSlots < 1 {
		errs = append(errs, ErrInvalidScheduling)
	}
	if s.Scheduling.HoldTTL <= 0 || s.Handoff.CallTokenTTL <= 0 ||
		s.Extract.FieldsTimeout <= 0 || s.Extract.SentimentTimeout <= 0 {
		errs = append(errs, ErrInvalidTimeout)
	}
	return errors.Join(errs...)
}

// Location resolves the scheduling timezone.
func (s SchedulingSettings) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}
