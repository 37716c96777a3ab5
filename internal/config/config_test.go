package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Session.SilenceWarnAfterMS != 5000 {
		t.Fatalf("expected default silence threshold 5000, got %d", cfg.Session.SilenceWarnAfterMS)
	}
	if cfg.Session.SilenceWarnDurationMS != 3000 {
		t.Fatalf("expected default warn duration 3000, got %d", cfg.Session.SilenceWarnDurationMS)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected default recognizer mode mock, got %q", cfg.Recognizer.Mode)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "dicta.yaml")
	raw := `runtime_name: pad
recognizer:
  mode: exec
  command: "whisper-stream --lang en"
session:
  silence_warn_after_ms: 7000
dictation:
  extra_commands:
    ellipsis: "..."
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "pad" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command == "" {
		t.Fatalf("expected exec recognizer, got %+v", cfg.Recognizer)
	}
	if cfg.Session.SilenceWarnAfterMS != 7000 {
		t.Fatalf("expected threshold 7000, got %d", cfg.Session.SilenceWarnAfterMS)
	}
	if cfg.Session.SilenceWarnDurationMS != 3000 {
		t.Fatalf("expected untouched warn duration, got %d", cfg.Session.SilenceWarnDurationMS)
	}
	if cfg.Dictation.ExtraCommands["ellipsis"] != "..." {
		t.Fatalf("expected extra command, got %v", cfg.Dictation.ExtraCommands)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DICTA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DICTA_BUS_USERNAME", "alice")
	t.Setenv("DICTA_BUS_TLS_INSECURE", "true")
	t.Setenv("DICTA_STORE_PATH", "./tmp-docs.db")
	t.Setenv("DICTA_HISTORY_RETENTION_MODE", "persistent")
	t.Setenv("DICTA_RECOGNIZER_MODE", "exec")
	t.Setenv("DICTA_RECOGNIZER_COMMAND", "asr --stream")
	t.Setenv("DICTA_SESSION_WATCHDOG_INTERVAL_MS", "250")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" {
		t.Fatal("expected username override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Store.Path != "./tmp-docs.db" {
		t.Fatalf("expected store path override, got %q", cfg.Store.Path)
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected retention override, got %q", cfg.History.RetentionMode)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command != "asr --stream" {
		t.Fatalf("expected recognizer override, got %+v", cfg.Recognizer)
	}
	if cfg.Session.WatchdogIntervalMS != 250 {
		t.Fatalf("expected watchdog override, got %d", cfg.Session.WatchdogIntervalMS)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"empty runtime name":   func(c *Config) { c.RuntimeName = "" },
		"bad http port":        func(c *Config) { c.HTTP.Port = 0 },
		"no servers":           func(c *Config) { c.Bus.Embedded = false; c.Bus.Servers = nil },
		"zero embedded port":   func(c *Config) { c.Bus.Port = 0 },
		"empty store path":     func(c *Config) { c.Store.Path = "" },
		"bad retention mode":   func(c *Config) { c.History.RetentionMode = "forever" },
		"bad recognizer mode":  func(c *Config) { c.Recognizer.Mode = "telepathy" },
		"exec without command": func(c *Config) { c.Recognizer.Mode = "exec"; c.Recognizer.Command = " " },
		"zero watchdog":        func(c *Config) { c.Session.WatchdogIntervalMS = 0 },
		"zero warn threshold":  func(c *Config) { c.Session.SilenceWarnAfterMS = 0 },
		"zero warn duration":   func(c *Config) { c.Session.SilenceWarnDurationMS = 0 },
		"empty extra phrase":   func(c *Config) { c.Dictation.ExtraCommands = map[string]string{" ": "."} },
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidateAllowsRandomEmbeddedPort(t *testing.T) {
	cfg := Default()
	cfg.Bus.Port = -1
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
