package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nat64d/nat64d/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Control.Addr != ":8853" {
		t.Errorf("Control.Addr = %q, want %q", cfg.Control.Addr, ":8853")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.NAT64.Prefix != "64:ff9b::/96" {
		t.Errorf("NAT64.Prefix = %q, want %q", cfg.NAT64.Prefix, "64:ff9b::/96")
	}

	if cfg.NAT64.UDPTimeout != 5*time.Minute {
		t.Errorf("NAT64.UDPTimeout = %v, want %v", cfg.NAT64.UDPTimeout, 5*time.Minute)
	}

	if cfg.NAT64.TCPEstTimeout != 2*time.Hour+4*time.Minute {
		t.Errorf("NAT64.TCPEstTimeout = %v, want %v", cfg.NAT64.TCPEstTimeout, 2*time.Hour+4*time.Minute)
	}

	if cfg.NAT64.ExpirerBatchSize != 1024 {
		t.Errorf("NAT64.ExpirerBatchSize = %d, want %d", cfg.NAT64.ExpirerBatchSize, 1024)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
control:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
nat64:
  prefix: "64:ff9b::/96"
  address_dependent_filtering: true
  udp_timeout: "1m"
  icmp_timeout: "30s"
  tcp_est_timeout: "1h"
  tcp_trans_timeout: "2m"
  expirer_batch_size: 256
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Control.Addr != ":60000" {
		t.Errorf("Control.Addr = %q, want %q", cfg.Control.Addr, ":60000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if !cfg.NAT64.AddressDependentFiltering {
		t.Error("NAT64.AddressDependentFiltering = false, want true")
	}

	if cfg.NAT64.UDPTimeout != 1*time.Minute {
		t.Errorf("NAT64.UDPTimeout = %v, want %v", cfg.NAT64.UDPTimeout, 1*time.Minute)
	}

	if cfg.NAT64.ExpirerBatchSize != 256 {
		t.Errorf("NAT64.ExpirerBatchSize = %d, want %d", cfg.NAT64.ExpirerBatchSize, 256)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override control.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
control:
  addr: ":55555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Control.Addr != ":55555" {
		t.Errorf("Control.Addr = %q, want %q", cfg.Control.Addr, ":55555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.NAT64.Prefix != "64:ff9b::/96" {
		t.Errorf("NAT64.Prefix = %q, want default %q", cfg.NAT64.Prefix, "64:ff9b::/96")
	}

	if cfg.NAT64.UDPTimeout != 5*time.Minute {
		t.Errorf("NAT64.UDPTimeout = %v, want default %v", cfg.NAT64.UDPTimeout, 5*time.Minute)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty control addr",
			modify: func(cfg *config.Config) {
				cfg.Control.Addr = ""
			},
			wantErr: config.ErrEmptyControlAddr,
		},
		{
			name: "invalid prefix",
			modify: func(cfg *config.Config) {
				cfg.NAT64.Prefix = "not-a-cidr"
			},
			wantErr: config.ErrInvalidPrefix,
		},
		{
			name: "zero udp timeout",
			modify: func(cfg *config.Config) {
				cfg.NAT64.UDPTimeout = 0
			},
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name: "negative tcp est timeout",
			modify: func(cfg *config.Config) {
				cfg.NAT64.TCPEstTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name: "zero expirer batch size",
			modify: func(cfg *config.Config) {
				cfg.NAT64.ExpirerBatchSize = 0
			},
			wantErr: config.ErrInvalidExpirerBatchSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadWithPoolAndBindings(t *testing.T) {
	t.Parallel()

	yamlContent := `
control:
  addr: ":8853"
pool:
  - "203.0.113.5"
  - "203.0.113.6"
bindings:
  - proto: tcp
    v6_addr: "2001:db8::1"
    v6_port: 80
    v4_addr: "203.0.113.5"
    v4_port: 1025
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Pool) != 2 {
		t.Fatalf("Pool count = %d, want 2", len(cfg.Pool))
	}
	if cfg.Pool[0] != "203.0.113.5" {
		t.Errorf("Pool[0] = %q, want %q", cfg.Pool[0], "203.0.113.5")
	}

	if len(cfg.Bindings) != 1 {
		t.Fatalf("Bindings count = %d, want 1", len(cfg.Bindings))
	}

	b := cfg.Bindings[0]
	if b.Proto != "tcp" {
		t.Errorf("Bindings[0].Proto = %q, want %q", b.Proto, "tcp")
	}
	if b.V6Addr != "2001:db8::1" || b.V6Port != 80 {
		t.Errorf("Bindings[0] v6 = %s:%d, want 2001:db8::1:80", b.V6Addr, b.V6Port)
	}
	if b.V4Addr != "203.0.113.5" || b.V4Port != 1025 {
		t.Errorf("Bindings[0] v4 = %s:%d, want 203.0.113.5:1025", b.V4Addr, b.V4Port)
	}
}

func TestValidateBindingErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "invalid proto",
			modify: func(cfg *config.Config) {
				cfg.Bindings = []config.BindingConfig{
					{Proto: "bogus", V6Addr: "2001:db8::1", V4Addr: "203.0.113.5"},
				}
			},
			wantErr: config.ErrInvalidBindingProto,
		},
		{
			name: "invalid v6 addr",
			modify: func(cfg *config.Config) {
				cfg.Bindings = []config.BindingConfig{
					{Proto: "tcp", V6Addr: "not-an-ip", V4Addr: "203.0.113.5"},
				}
			},
			wantErr: config.ErrInvalidBindingAddr,
		},
		{
			name: "invalid pool addr",
			modify: func(cfg *config.Config) {
				cfg.Pool = []string{"not-an-ip"}
			},
			wantErr: config.ErrInvalidPoolAddr,
		},
		{
			name: "duplicate binding keys",
			modify: func(cfg *config.Config) {
				cfg.Bindings = []config.BindingConfig{
					{Proto: "tcp", V6Addr: "2001:db8::1", V6Port: 80, V4Addr: "203.0.113.5", V4Port: 1025},
					{Proto: "tcp", V6Addr: "2001:db8::1", V6Port: 80, V4Addr: "203.0.113.6", V4Port: 1026},
				}
			},
			wantErr: config.ErrDuplicateBindingKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBindingConfigKey(t *testing.T) {
	t.Parallel()

	bc := config.BindingConfig{Proto: "tcp", V6Addr: "2001:db8::1", V6Port: 80}

	want := "tcp|2001:db8::1|80"
	if got := bc.Key(); got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestBindingConfigAddrParsing(t *testing.T) {
	t.Parallel()

	bc := config.BindingConfig{V6Addr: "2001:db8::1", V4Addr: "203.0.113.5"}

	v6, err := bc.V6AddrParsed()
	if err != nil {
		t.Fatalf("V6AddrParsed() error: %v", err)
	}
	if v6.String() != "2001:db8::1" {
		t.Errorf("V6AddrParsed() = %s, want 2001:db8::1", v6)
	}

	v4, err := bc.V4AddrParsed()
	if err != nil {
		t.Fatalf("V4AddrParsed() error: %v", err)
	}
	if v4.String() != "203.0.113.5" {
		t.Errorf("V4AddrParsed() = %s, want 203.0.113.5", v4)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
control:
  addr: ":8853"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NAT64D_CONTROL_ADDR", ":60000")
	t.Setenv("NAT64D_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Control.Addr != ":60000" {
		t.Errorf("Control.Addr = %q, want %q (from env)", cfg.Control.Addr, ":60000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
control:
  addr: ":8853"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NAT64D_METRICS_ADDR", ":9200")
	t.Setenv("NAT64D_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "nat64d.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
