// Package config manages nat64d daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete nat64d configuration.
type Config struct {
	Control  ControlConfig   `koanf:"control"`
	Metrics  MetricsConfig   `koanf:"metrics"`
	Log      LogConfig       `koanf:"log"`
	NAT64    NAT64Config     `koanf:"nat64"`
	Pool     []string        `koanf:"pool"`
	Bindings []BindingConfig `koanf:"bindings"`
}

// ControlConfig holds the JSON/HTTP control API server configuration.
type ControlConfig struct {
	// Addr is the control API listen address (e.g., ":8853").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// NAT64Config holds the core translator parameters.
type NAT64Config struct {
	// Prefix is the RFC 6052 IPv4-embedded-IPv6 prefix, e.g. "64:ff9b::/96".
	// Empty defaults to the Well-Known Prefix.
	Prefix string `koanf:"prefix"`

	// AddressDependentFiltering enables ADF enforcement on v4-initiated TCP
	// SYNs against static bindings.
	AddressDependentFiltering bool `koanf:"address_dependent_filtering"`

	// UDPTimeout, ICMPTimeout, TCPEstTimeout, TCPTransTimeout override the
	// RFC 6146 Section 4 default session lifetimes.
	UDPTimeout      time.Duration `koanf:"udp_timeout"`
	ICMPTimeout     time.Duration `koanf:"icmp_timeout"`
	TCPEstTimeout   time.Duration `koanf:"tcp_est_timeout"`
	TCPTransTimeout time.Duration `koanf:"tcp_trans_timeout"`

	// ExpirerInterval is the polling interval of the session reaper.
	ExpirerInterval time.Duration `koanf:"expirer_interval"`

	// ExpirerBatchSize bounds how many sessions the reaper destroys before
	// releasing the core lock.
	ExpirerBatchSize int `koanf:"expirer_batch_size"`
}

// BindingConfig describes a declarative static BIB entry from the
// configuration file. Each entry is installed on daemon startup and SIGHUP
// reload.
type BindingConfig struct {
	// Proto is the protocol tag: "udp", "tcp", or "icmp".
	Proto string `koanf:"proto"`

	// V6Addr/V6Port is the IPv6 transport address side of the binding.
	V6Addr string `koanf:"v6_addr"`
	V6Port uint16 `koanf:"v6_port"`

	// V4Addr/V4Port is the IPv4 transport address side of the binding.
	V4Addr string `koanf:"v4_addr"`
	V4Port uint16 `koanf:"v4_port"`
}

// Key returns a unique identifier for the binding based on
// (proto, v6_addr, v6_port). Used by Validate to reject duplicate bindings.
func (bc BindingConfig) Key() string {
	return fmt.Sprintf("%s|%s|%d", bc.Proto, bc.V6Addr, bc.V6Port)
}

// V6AddrParsed parses V6Addr as a netip.Addr.
func (bc BindingConfig) V6AddrParsed() (netip.Addr, error) {
	addr, err := netip.ParseAddr(bc.V6Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse binding v6_addr %q: %w", bc.V6Addr, err)
	}
	return addr, nil
}

// V4AddrParsed parses V4Addr as a netip.Addr.
func (bc BindingConfig) V4AddrParsed() (netip.Addr, error) {
	addr, err := netip.ParseAddr(bc.V4Addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse binding v4_addr %q: %w", bc.V4Addr, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Session timeouts follow RFC 6146 Section 4's recommended lifetimes:
// 5 minutes for UDP, 60 seconds for ICMP, 2h4m for established TCP, and
// 4 minutes for TCP in transition.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr: ":8853",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		NAT64: NAT64Config{
			Prefix:                    "64:ff9b::/96",
			AddressDependentFiltering: false,
			UDPTimeout:                5 * time.Minute,
			ICMPTimeout:               60 * time.Second,
			TCPEstTimeout:             2*time.Hour + 4*time.Minute,
			TCPTransTimeout:           4 * time.Minute,
			ExpirerInterval:           1 * time.Second,
			ExpirerBatchSize:          1024,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for nat64d configuration.
// Variables are named NAT64D_<section>_<key>, e.g., NAT64D_CONTROL_ADDR.
const envPrefix = "NAT64D_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (NAT64D_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	NAT64D_CONTROL_ADDR  -> control.addr
//	NAT64D_METRICS_ADDR  -> metrics.addr
//	NAT64D_METRICS_PATH  -> metrics.path
//	NAT64D_LOG_LEVEL     -> log.level
//	NAT64D_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// NAT64D_CONTROL_ADDR -> control.addr (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms NAT64D_CONTROL_ADDR -> control.addr.
// Strips the NAT64D_ prefix, lowercases, and replaces the first _ (the
// section separator) with ., so NAT64D_NAT64_UDP_TIMEOUT -> nat64.udp_timeout.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.addr":                   defaults.Control.Addr,
		"metrics.addr":                   defaults.Metrics.Addr,
		"metrics.path":                   defaults.Metrics.Path,
		"log.level":                      defaults.Log.Level,
		"log.format":                     defaults.Log.Format,
		"nat64.prefix":                   defaults.NAT64.Prefix,
		"nat64.address_dependent_filtering": defaults.NAT64.AddressDependentFiltering,
		"nat64.udp_timeout":              defaults.NAT64.UDPTimeout.String(),
		"nat64.icmp_timeout":             defaults.NAT64.ICMPTimeout.String(),
		"nat64.tcp_est_timeout":          defaults.NAT64.TCPEstTimeout.String(),
		"nat64.tcp_trans_timeout":        defaults.NAT64.TCPTransTimeout.String(),
		"nat64.expirer_interval":         defaults.NAT64.ExpirerInterval.String(),
		"nat64.expirer_batch_size":       defaults.NAT64.ExpirerBatchSize,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyControlAddr indicates the control API listen address is empty.
	ErrEmptyControlAddr = errors.New("control.addr must not be empty")

	// ErrInvalidPrefix indicates nat64.prefix does not parse as a CIDR.
	ErrInvalidPrefix = errors.New("nat64.prefix must be a valid CIDR")

	// ErrInvalidTimeout indicates one of the nat64 timeouts is not positive.
	ErrInvalidTimeout = errors.New("nat64 timeout must be > 0")

	// ErrInvalidExpirerBatchSize indicates expirer_batch_size is not positive.
	ErrInvalidExpirerBatchSize = errors.New("nat64.expirer_batch_size must be >= 1")

	// ErrInvalidPoolAddr indicates a pool entry does not parse as an IPv4 address.
	ErrInvalidPoolAddr = errors.New("pool address must be a valid IPv4 address")

	// ErrInvalidBindingProto indicates a binding has an unrecognized protocol.
	ErrInvalidBindingProto = errors.New("binding proto must be udp, tcp, or icmp")

	// ErrInvalidBindingAddr indicates a binding endpoint address is invalid.
	ErrInvalidBindingAddr = errors.New("binding endpoint address is invalid")

	// ErrDuplicateBindingKey indicates two bindings share the same
	// (proto, v6_addr, v6_port) key.
	ErrDuplicateBindingKey = errors.New("duplicate binding key")
)

// ValidBindingProtos lists the recognized binding protocol strings.
var ValidBindingProtos = map[string]bool{
	"udp":  true,
	"tcp":  true,
	"icmp": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Control.Addr == "" {
		return ErrEmptyControlAddr
	}

	if _, err := netip.ParsePrefix(cfg.NAT64.Prefix); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPrefix, err)
	}

	for _, d := range []time.Duration{
		cfg.NAT64.UDPTimeout, cfg.NAT64.ICMPTimeout,
		cfg.NAT64.TCPEstTimeout, cfg.NAT64.TCPTransTimeout,
	} {
		if d <= 0 {
			return ErrInvalidTimeout
		}
	}

	if cfg.NAT64.ExpirerBatchSize < 1 {
		return ErrInvalidExpirerBatchSize
	}

	if err := validatePool(cfg.Pool); err != nil {
		return err
	}

	if err := validateBindings(cfg.Bindings); err != nil {
		return err
	}

	return nil
}

// validatePool checks each pool address string parses as IPv4.
func validatePool(pool []string) error {
	for i, s := range pool {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("pool[%d] %q: %w", i, s, ErrInvalidPoolAddr)
		}
	}
	return nil
}

// validateBindings checks each declarative binding entry for correctness.
func validateBindings(bindings []BindingConfig) error {
	seen := make(map[string]struct{}, len(bindings))

	for i, bc := range bindings {
		if !ValidBindingProtos[bc.Proto] {
			return fmt.Errorf("bindings[%d] proto %q: %w", i, bc.Proto, ErrInvalidBindingProto)
		}
		if _, err := bc.V6AddrParsed(); err != nil {
			return fmt.Errorf("bindings[%d]: %w: %w", i, ErrInvalidBindingAddr, err)
		}
		if _, err := bc.V4AddrParsed(); err != nil {
			return fmt.Errorf("bindings[%d]: %w: %w", i, ErrInvalidBindingAddr, err)
		}

		key := bc.Key()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("bindings[%d] key %q: %w", i, key, ErrDuplicateBindingKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
