// Package config is the validated knob container of spec §6's
// "Configuration" table: every field here is a public option with a
// documented effect on the listener, dispatcher, or transport.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// TLS configures the server's TLS collaborator (spec §6: "tls"). A nil
// *TLS on Config means plaintext (h2c, prior-knowledge).
type TLS struct {
	CertFile string `koanf:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `koanf:"key_file" validate:"required_with=CertFile"`
}

// Config is the full set of server knobs from spec §6's external
// interfaces table, populated by Load and validated with struct tags
// before a server ever starts.
type Config struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"min=0,max=65535"`

	MaxConnections        int `koanf:"max_connections" validate:"min=0"`
	MaxConcurrentStreams  int `koanf:"max_concurrent_streams" validate:"min=1"`
	MaxConcurrentRequests int `koanf:"max_concurrent_requests" validate:"min=0"`
	MaxQueuedRequests     int `koanf:"max_queued_requests" validate:"min=0"`
	MaxMessageSize        int `koanf:"max_message_size" validate:"min=1"`
	MaxFrameSize          int `koanf:"max_frame_size" validate:"min=16384,max=16777215"`
	HeaderTableSize       int `koanf:"header_table_size" validate:"min=0"`
	InitialWindowSize     int `koanf:"initial_window_size" validate:"min=0"`

	KeepaliveInterval time.Duration `koanf:"keepalive_interval" validate:"min=0"`
	KeepaliveTimeout  time.Duration `koanf:"keepalive_timeout" validate:"min=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"min=0"`
	DrainTimeout      time.Duration `koanf:"drain_timeout" validate:"min=0"`

	EnableHealthCheck bool `koanf:"enable_health_check"`
	EnableReflection  bool `koanf:"enable_reflection"`
	DebugMode         bool `koanf:"debug_mode"`

	CompressionEnabled   bool     `koanf:"compression_enabled"`
	CompressionThreshold int      `koanf:"compression_threshold" validate:"min=0"`
	SupportedCodecs      []string `koanf:"supported_codecs" validate:"dive,oneof=identity gzip"`

	TLS *TLS `koanf:"tls" validate:"omitempty"`
}

// Default returns the knob set a server starts from absent any file/env
// overrides: plaintext, health+reflection on, conservative HTTP/2
// defaults: RFC 7540's initial SETTINGS values (16 KiB frames, 65,535-byte
// window, 4 KiB header table) and 250 concurrent streams.
func Default() Config {
	return Config{
		Host:                  "0.0.0.0",
		Port:                  8080,
		MaxConnections:        0, // unbounded
		MaxConcurrentStreams:  250,
		MaxConcurrentRequests: 0, // unbounded
		MaxQueuedRequests:     0, // unbounded
		MaxMessageSize:        4 << 20,
		MaxFrameSize:          16384,
		HeaderTableSize:       4096,
		InitialWindowSize:     65535,
		KeepaliveInterval:     2 * time.Hour,
		KeepaliveTimeout:      20 * time.Second,
		IdleTimeout:           0,
		DrainTimeout:          30 * time.Second,
		EnableHealthCheck:     true,
		EnableReflection:      true,
		DebugMode:             false,
		CompressionEnabled:    true,
		CompressionThreshold:  1024,
		SupportedCodecs:       []string{"identity", "gzip"},
	}
}

// defaultsMap mirrors Default() as a flat key map so it can be loaded as
// the lowest-priority koanf layer, the same defaults-then-file-then-env
// shape as every other koanf-based config loader in the pack.
func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"host":                    d.Host,
		"port":                    d.Port,
		"max_connections":         d.MaxConnections,
		"max_concurrent_streams":  d.MaxConcurrentStreams,
		"max_concurrent_requests": d.MaxConcurrentRequests,
		"max_queued_requests":     d.MaxQueuedRequests,
		"max_message_size":        d.MaxMessageSize,
		"max_frame_size":          d.MaxFrameSize,
		"header_table_size":       d.HeaderTableSize,
		"initial_window_size":     d.InitialWindowSize,
		"keepalive_interval":      d.KeepaliveInterval,
		"keepalive_timeout":       d.KeepaliveTimeout,
		"idle_timeout":            d.IdleTimeout,
		"drain_timeout":           d.DrainTimeout,
		"enable_health_check":     d.EnableHealthCheck,
		"enable_reflection":       d.EnableReflection,
		"debug_mode":              d.DebugMode,
		"compression_enabled":     d.CompressionEnabled,
		"compression_threshold":   d.CompressionThreshold,
		"supported_codecs":        d.SupportedCodecs,
	}
}

// Load builds a Config from defaults, then a YAML file (if path is
// non-empty), then the WIRELOOP_-prefixed environment — each layer
// overriding the previous, matching koanf's provider-merge order — and
// validates the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	// Field names are themselves snake_case (e.g. "max_connections"), so
	// only a double underscore introduces nesting (WIRELOOP_TLS__CERT_FILE
	// -> tls.cert_file); a single underscore stays part of the key.
	envTransform := func(s string) string {
		trimmed := strings.ToLower(strings.TrimPrefix(s, "WIRELOOP_"))
		return strings.ReplaceAll(trimmed, "__", ".")
	}
	if err := k.Load(env.Provider("WIRELOOP_", ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	var out Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &out,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}
	if err := k.UnmarshalWithConf("", &out, unmarshalConf); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// Validate runs struct-tag validation over a Config (spec §6: invalid
// knobs must be rejected before a server reaches RUNNING).
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}
