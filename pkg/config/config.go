// Package config provides YAML-based configuration loading for warp.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/spf13/viper"
    "gopkg.in/yaml.v3"

    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/transport"
)

// Config is the root application configuration.
type Config struct {
    Log     LogConfig     `mapstructure:"log" yaml:"log"`
    Session SessionConfig `mapstructure:"session" yaml:"session"`
    Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
    Status  StatusConfig  `mapstructure:"status" yaml:"status"`
    Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level" yaml:"level"`
    // Format: console or json
    Format string `mapstructure:"format" yaml:"format"`
    // Outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs" yaml:"outputs"`

    Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
    Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable" yaml:"enable"`
    Filename   string `mapstructure:"filename" yaml:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
    Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SessionConfig tunes the controller/host pair of every session.
type SessionConfig struct {
    CloseTimeout  time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
    StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
    Grace         time.Duration `mapstructure:"grace" yaml:"grace"`
    SendBuffer    int           `mapstructure:"send_buffer" yaml:"send_buffer"`
    // Codec of the channel bodies: cbor, json or proto.
    Codec     string        `mapstructure:"codec" yaml:"codec"`
    Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// EngineConfig configures the transport engine sessions construct.
type EngineConfig struct {
    // Kind: quic, tcp or mem
    Kind               string        `mapstructure:"kind" yaml:"kind"`
    ALPN               string        `mapstructure:"alpn" yaml:"alpn"`
    InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
    DialTimeout        time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
    RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
    // PublishRate paces outgoing media in bytes/s; 0 disables pacing.
    PublishRate  int64 `mapstructure:"publish_rate" yaml:"publish_rate"`
    PublishBurst int64 `mapstructure:"publish_burst" yaml:"publish_burst"`
}

// StatusConfig controls the websocket status server. An empty Listen
// disables it.
type StatusConfig struct {
    Listen   string        `mapstructure:"listen" yaml:"listen"`
    Throttle time.Duration `mapstructure:"throttle" yaml:"throttle"`
}

// RelayConfig configures the bundled relay.
type RelayConfig struct {
    Listen    string `mapstructure:"listen" yaml:"listen"`
    Transport string `mapstructure:"transport" yaml:"transport"`
    OutBuffer int    `mapstructure:"out_buffer" yaml:"out_buffer"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stderr"},
            Development: false,
            Rotation: RotationConfig{
                Filename:   "logs/warp.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Session: SessionConfig{
            CloseTimeout:  2 * time.Second,
            StatsInterval: 250 * time.Millisecond,
            Grace:         500 * time.Millisecond,
            SendBuffer:    256,
            Codec:         "cbor",
            Retention:     5 * time.Minute,
        },
        Engine: EngineConfig{
            Kind:           "quic",
            ALPN:           "warp",
            DialTimeout:    10 * time.Second,
            RequestTimeout: 5 * time.Second,
        },
        Status: StatusConfig{Throttle: 100 * time.Millisecond},
        Relay:  RelayConfig{Listen: ":4443", Transport: "quic", OutBuffer: 256},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// A .env file in the working directory is loaded first. Environment variables
// use the prefix WARP and `.`/`-` are replaced with `_`.
// Example: WARP_ENGINE_KIND=tcp
func Load(path string) (*Config, error) {
    if err := loadDotEnv(".env"); err != nil { return nil, fmt.Errorf("load .env: %w", err) }
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("WARP")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    v.SetDefault("session.close_timeout", cfg.Session.CloseTimeout)
    v.SetDefault("session.stats_interval", cfg.Session.StatsInterval)
    v.SetDefault("session.grace", cfg.Session.Grace)
    v.SetDefault("session.send_buffer", cfg.Session.SendBuffer)
    v.SetDefault("session.codec", cfg.Session.Codec)
    v.SetDefault("session.retention", cfg.Session.Retention)
    v.SetDefault("engine.kind", cfg.Engine.Kind)
    v.SetDefault("engine.alpn", cfg.Engine.ALPN)
    v.SetDefault("engine.insecure_skip_verify", cfg.Engine.InsecureSkipVerify)
    v.SetDefault("engine.dial_timeout", cfg.Engine.DialTimeout)
    v.SetDefault("engine.request_timeout", cfg.Engine.RequestTimeout)
    v.SetDefault("engine.publish_rate", cfg.Engine.PublishRate)
    v.SetDefault("engine.publish_burst", cfg.Engine.PublishBurst)
    v.SetDefault("status.listen", cfg.Status.Listen)
    v.SetDefault("status.throttle", cfg.Status.Throttle)
    v.SetDefault("relay.listen", cfg.Relay.Listen)
    v.SetDefault("relay.transport", cfg.Relay.Transport)
    v.SetDefault("relay.out_buffer", cfg.Relay.OutBuffer)

    if path == "" {
        if envPath := os.Getenv("WARP_CONFIG"); envPath != "" { path = envPath }
    }
    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("warp")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".warp"))
        }
    }

    // a missing config file is fine; defaults and env still apply
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) { return nil, fmt.Errorf("read config: %w", err) }
    }

    if err := v.Unmarshal(cfg); err != nil { return nil, fmt.Errorf("decode config: %w", err) }
    if err := cfg.validate(); err != nil { return nil, err }
    return cfg, nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
    err := godotenv.Load(path)
    if errors.Is(err, os.ErrNotExist) { return nil }
    return err
}

func (c *Config) validate() error {
    switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
    case "debug", "info", "warn", "warning", "error":
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }
    if c.Log.Format == "" { c.Log.Format = "console" }
    if len(c.Log.Outputs) == 0 { c.Log.Outputs = []string{"stderr"} }

    if _, err := protocol.ParseFormat(c.Session.Codec); err != nil { return fmt.Errorf("invalid session.codec: %w", err) }
    if c.Session.CloseTimeout <= 0 { return fmt.Errorf("invalid session.close_timeout: %s", c.Session.CloseTimeout) }
    if c.Session.SendBuffer < 0 { return fmt.Errorf("invalid session.send_buffer: %d", c.Session.SendBuffer) }

    c.Engine.Kind = strings.ToLower(strings.TrimSpace(c.Engine.Kind))
    if _, err := transport.ParseKind(c.Engine.Kind); err != nil { return fmt.Errorf("invalid engine.kind: %w", err) }
    if c.Engine.PublishRate < 0 { return fmt.Errorf("invalid engine.publish_rate: %d", c.Engine.PublishRate) }
    c.Relay.Transport = strings.ToLower(strings.TrimSpace(c.Relay.Transport))
    if _, err := transport.ParseKind(c.Relay.Transport); err != nil { return fmt.Errorf("invalid relay.transport: %w", err) }
    return nil
}

// Codec returns the parsed session codec.
func (c *Config) Codec() protocol.Format {
    f, _ := protocol.ParseFormat(c.Session.Codec)
    return f
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() ([]byte, error) { return yaml.Marshal(c) }
