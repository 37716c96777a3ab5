package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	History     HistoryConfig    `yaml:"history"`
	Recognizer  RecognizerConfig `yaml:"recognizer"`
	Session     SessionConfig    `yaml:"session"`
	Dictation   DictationConfig  `yaml:"dictation"`
	Clipboard   ClipboardConfig  `yaml:"clipboard"`
}

// BusConfig shapes the NATS transport. Port applies to the embedded
// server; -1 binds a random free port.
type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// StoreConfig locates the document snapshot database.
type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// HistoryConfig controls the dictation audit timeline.
type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

// RecognizerConfig selects and parameterizes the speech engine backend.
type RecognizerConfig struct {
	Mode           string   `yaml:"mode"` // mock, exec
	Command        string   `yaml:"command"`
	MockPhrases    []string `yaml:"mock_phrases"`
	MockIntervalMS int      `yaml:"mock_interval_ms"`
}

// SessionConfig tunes the silence watchdog.
type SessionConfig struct {
	WatchdogIntervalMS    int `yaml:"watchdog_interval_ms"`
	SilenceWarnAfterMS    int `yaml:"silence_warn_after_ms"`
	SilenceWarnDurationMS int `yaml:"silence_warn_duration_ms"`
}

// DictationConfig extends the built-in command table. Replacements may
// contain newlines; phrases are normalized before insertion.
type DictationConfig struct {
	ExtraCommands map[string]string `yaml:"extra_commands"`
}

// ClipboardConfig overrides copy command detection with an explicit argv.
type ClipboardConfig struct {
	Command []string `yaml:"command"`
}

func Default() Config {
	return Config{
		RuntimeName: "dicta-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/dicta-documents.db",
		},
		History: HistoryConfig{
			Path:          "./data/dicta-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Recognizer: RecognizerConfig{
			Mode:           "mock",
			MockPhrases:    []string{"hello world", "comma", "this is the mock recognizer", "period"},
			MockIntervalMS: 1500,
		},
		Session: SessionConfig{
			WatchdogIntervalMS:    1000,
			SilenceWarnAfterMS:    5000,
			SilenceWarnDurationMS: 3000,
		},
		Dictation: DictationConfig{},
		Clipboard: ClipboardConfig{},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DICTA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DICTA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DICTA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "DICTA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "DICTA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "DICTA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "DICTA_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "DICTA_STORE_VACUUM_ON_START")
	overrideString(&cfg.History.Path, "DICTA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "DICTA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "DICTA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "DICTA_HISTORY_MAX_SESSIONS")
	overrideString(&cfg.Recognizer.Mode, "DICTA_RECOGNIZER_MODE")
	overrideString(&cfg.Recognizer.Command, "DICTA_RECOGNIZER_COMMAND")
	overrideStringSlice(&cfg.Recognizer.MockPhrases, "DICTA_RECOGNIZER_MOCK_PHRASES")
	overrideInt(&cfg.Recognizer.MockIntervalMS, "DICTA_RECOGNIZER_MOCK_INTERVAL_MS")
	overrideInt(&cfg.Session.WatchdogIntervalMS, "DICTA_SESSION_WATCHDOG_INTERVAL_MS")
	overrideInt(&cfg.Session.SilenceWarnAfterMS, "DICTA_SESSION_SILENCE_WARN_AFTER_MS")
	overrideInt(&cfg.Session.SilenceWarnDurationMS, "DICTA_SESSION_SILENCE_WARN_DURATION_MS")
	overrideStringSlice(&cfg.Clipboard.Command, "DICTA_CLIPBOARD_COMMAND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port != -1 && (cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535) {
			return errors.New("bus.port must be -1 (random) or between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.Recognizer.Mode {
	case "mock", "exec":
	default:
		return errors.New("recognizer.mode must be one of mock|exec")
	}
	if cfg.Recognizer.Mode == "exec" && strings.TrimSpace(cfg.Recognizer.Command) == "" {
		return errors.New("recognizer.command must be set when mode=exec")
	}
	if cfg.Recognizer.Mode == "mock" && cfg.Recognizer.MockIntervalMS <= 0 {
		return errors.New("recognizer.mock_interval_ms must be positive")
	}
	if cfg.Session.WatchdogIntervalMS <= 0 {
		return errors.New("session.watchdog_interval_ms must be positive")
	}
	if cfg.Session.SilenceWarnAfterMS <= 0 {
		return errors.New("session.silence_warn_after_ms must be positive")
	}
	if cfg.Session.SilenceWarnDurationMS <= 0 {
		return errors.New("session.silence_warn_duration_ms must be positive")
	}
	for phrase := range cfg.Dictation.ExtraCommands {
		if strings.TrimSpace(phrase) == "" {
			return errors.New("dictation.extra_commands must not contain empty phrases")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
