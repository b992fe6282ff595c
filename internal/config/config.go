// Package config loads client and server settings from flags, the
// environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/omochice/drocsid-chat/internal/client"
	"github.com/omochice/drocsid-chat/internal/server"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// EnvPrefix is prepended to every environment variable, e.g.
// DROCSID_KEEPALIVE_PERIOD for keepalive.period.
const EnvPrefix = "DROCSID"

// Keys understood by Load.
const (
	KeyHost            = "host"
	KeyPort            = "port"
	KeyNetwork         = "network"
	KeyWSPath          = "ws_path"
	KeyKeepalivePeriod = "keepalive.period"
	KeyKeepaliveIdle   = "keepalive.idle"
	KeyReadChunkSize   = "read.chunk_size"
	KeyReadMaxLine     = "read.max_line"
	KeyDialTimeout     = "dial_timeout"
	KeyLogLevel        = "log.level"
	KeyServerListen    = "server.listen"
	KeyServerProbe     = "server.probe_interval"
	KeyServerIdle      = "server.idle_timeout"
)

var defaults = map[string]any{
	KeyHost:            "127.0.0.1",
	KeyPort:            8888,
	KeyNetwork:         client.NetworkTCP,
	KeyWSPath:          client.DefaultWSPath,
	KeyKeepalivePeriod: client.DefaultKeepalivePeriod,
	KeyKeepaliveIdle:   client.DefaultIdleThreshold,
	KeyReadChunkSize:   client.DefaultReadChunkSize,
	KeyReadMaxLine:     protocol.DefaultMaxLineLength,
	KeyDialTimeout:     client.DefaultDialTimeout,
	KeyLogLevel:        "info",
	KeyServerListen:    "127.0.0.1:8888",
	KeyServerProbe:     15 * time.Second,
	KeyServerIdle:      60 * time.Second,
}

// ErrInvalid marks a configuration value that failed validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the resolved configuration of either binary.
type Config struct {
	Host            string
	Port            int
	Network         string
	WSPath          string
	KeepalivePeriod time.Duration
	IdleThreshold   time.Duration
	ReadChunkSize   int
	MaxLineLength   int
	DialTimeout     time.Duration
	LogLevel        string

	Server ServerConfig
}

// ServerConfig holds the server-only settings.
type ServerConfig struct {
	Listen        string
	ProbeInterval time.Duration
	IdleTimeout   time.Duration
}

// New returns a viper instance with defaults and environment binding
// applied.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name maps to a config key.
// Flag names use dashes where keys use dots or underscores.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

var flagKeys = map[string]string{
	"host":             KeyHost,
	"port":             KeyPort,
	"network":          KeyNetwork,
	"ws-path":          KeyWSPath,
	"keepalive-period": KeyKeepalivePeriod,
	"keepalive-idle":   KeyKeepaliveIdle,
	"dial-timeout":     KeyDialTimeout,
	"log-level":        KeyLogLevel,
	"listen":           KeyServerListen,
	"probe-interval":   KeyServerProbe,
	"idle-timeout":     KeyServerIdle,
	"read-chunk-size":  KeyReadChunkSize,
	"read-max-line":    KeyReadMaxLine,
}

// Load reads configFile when it is non-empty and resolves every key.
// The result is validated.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Host:            v.GetString(KeyHost),
		Port:            v.GetInt(KeyPort),
		Network:         strings.ToLower(v.GetString(KeyNetwork)),
		WSPath:          v.GetString(KeyWSPath),
		KeepalivePeriod: v.GetDuration(KeyKeepalivePeriod),
		IdleThreshold:   v.GetDuration(KeyKeepaliveIdle),
		ReadChunkSize:   v.GetInt(KeyReadChunkSize),
		MaxLineLength:   v.GetInt(KeyReadMaxLine),
		DialTimeout:     v.GetDuration(KeyDialTimeout),
		LogLevel:        v.GetString(KeyLogLevel),
		Server: ServerConfig{
			Listen:        v.GetString(KeyServerListen),
			ProbeInterval: v.GetDuration(KeyServerProbe),
			IdleTimeout:   v.GetDuration(KeyServerIdle),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first bad value.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, KeyHost)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %s %d out of range 1-65535", ErrInvalid, KeyPort, c.Port)
	}
	switch c.Network {
	case client.NetworkTCP, client.NetworkWebSocket:
	default:
		return fmt.Errorf("%w: %s %q is not %q or %q", ErrInvalid, KeyNetwork, c.Network, client.NetworkTCP, client.NetworkWebSocket)
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("%w: %s %q must start with /", ErrInvalid, KeyWSPath, c.WSPath)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{KeyKeepalivePeriod, c.KeepalivePeriod},
		{KeyKeepaliveIdle, c.IdleThreshold},
		{KeyDialTimeout, c.DialTimeout},
		{KeyServerProbe, c.Server.ProbeInterval},
		{KeyServerIdle, c.Server.IdleTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, d.key, d.d)
		}
	}

	if c.ReadChunkSize <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyReadChunkSize)
	}
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyReadMaxLine)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, KeyServerListen)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalid, KeyLogLevel, name)
	}
	return level, nil
}

// ClientOptions converts c into client options.
func (c Config) ClientOptions(logger *slog.Logger) client.Options {
	return client.Options{
		Host:            c.Host,
		Port:            c.Port,
		Network:         c.Network,
		WSPath:          c.WSPath,
		DialTimeout:     c.DialTimeout,
		KeepalivePeriod: c.KeepalivePeriod,
		IdleThreshold:   c.IdleThreshold,
		ReadChunkSize:   c.ReadChunkSize,
		MaxLineLength:   c.MaxLineLength,
		Logger:          logger,
	}
}

// ServerOptions converts c into server options.
func (c Config) ServerOptions(logger *slog.Logger) server.Options {
	return server.Options{
		ProbeInterval: c.Server.ProbeInterval,
		IdleTimeout:   c.Server.IdleTimeout,
		MaxLineLength: c.MaxLineLength,
		Logger:        logger,
	}
}
