// Package config loads SignalBoost settings with Viper from an optional
// config.yaml, environment variables (prefix SBOOST_) and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vesaa/signalboost/internal/diag"
	"github.com/vesaa/signalboost/internal/engine"
)

// Config holds all runtime configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Platform PlatformConfig `mapstructure:"platform"`
	Diag     diag.Scoring   `mapstructure:"diag"`
	Engine   engine.Config  `mapstructure:"engine"`

	// OverridesPath points at a YAML document with feature switches and
	// per-group profile overrides.
	OverridesPath string `mapstructure:"overrides_path"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// ServerConfig is the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// JWTSecret signs control tokens. Change it in production.
	JWTSecret string        `mapstructure:"jwt_secret"`
	AdminUser string        `mapstructure:"admin_user"`
	AdminPass string        `mapstructure:"admin_pass"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// StoreConfig is the SQLite history database.
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Retention int    `mapstructure:"retention"`
}

// PlatformConfig controls the dispatcher and the optional remote target.
type PlatformConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	SpeedTestURL string        `mapstructure:"speedtest_url"`
	SSH          SSHConfig     `mapstructure:"ssh"`
}

// SSHConfig selects a remote host to diagnose and tune instead of the local
// one. Empty Host means local.
type SSHConfig struct {
	Host     string        `mapstructure:"host"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	KeyPath  string        `mapstructure:"key_path"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads config from ./config.yaml or ~/.signalboost/config.yaml and
// falls back to defaults. SBOOST_ environment variables override file
// values; nested keys use underscores (SBOOST_SERVER_PORT).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.signalboost")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile reads config from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SBOOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.jwt_secret", "change-me-signalboost")
	v.SetDefault("server.admin_user", "admin")
	v.SetDefault("server.admin_pass", "admin")
	v.SetDefault("server.token_ttl", 24*time.Hour)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", "signalboost.db")
	v.SetDefault("store.retention", 5000)

	v.SetDefault("platform.timeout", 15*time.Second)
	v.SetDefault("platform.speedtest_url", "")
	v.SetDefault("platform.ssh.host", "")
	v.SetDefault("platform.ssh.user", "root")
	v.SetDefault("platform.ssh.password", "")
	v.SetDefault("platform.ssh.key_path", "~/.ssh/id_rsa")
	v.SetDefault("platform.ssh.timeout", 15*time.Second)

	sc := diag.DefaultScoring()
	v.SetDefault("diag.ping_host", sc.PingHost)
	v.SetDefault("diag.ping_count", sc.PingCount)
	v.SetDefault("diag.bandwidth_duration", sc.BandwidthDuration)
	v.SetDefault("diag.bandwidth_grace", sc.BandwidthGrace)
	v.SetDefault("diag.jitter_ceiling_ms", sc.JitterCeilingMs)
	v.SetDefault("diag.latency_floor_ms", sc.LatencyFloorMs)
	v.SetDefault("diag.latency_ceiling_ms", sc.LatencyCeilingMs)
	v.SetDefault("diag.congestion_default", sc.CongestionDefault)
	v.SetDefault("diag.co_channel_weight", sc.CoChannelWeight)
	v.SetDefault("diag.signal_samples", sc.SignalSamples)
	v.SetDefault("diag.signal_sample_interval", sc.SignalSampleInterval)
	v.SetDefault("diag.signal_variance_multiplier", sc.SignalVarianceMultiplier)
	v.SetDefault("diag.band_penalty_24ghz", sc.BandPenalty24GHz)
	v.SetDefault("diag.interference_default", sc.InterferenceDefault)
	v.SetDefault("diag.dns_probe_domain", sc.DNSProbeDomain)
	v.SetDefault("diag.dns_queries", sc.DNSQueries)
	v.SetDefault("diag.dns_timeout", sc.DNSTimeout)

	ec := engine.DefaultConfig()
	v.SetDefault("engine.monitor_interval", ec.MonitorInterval)
	v.SetDefault("engine.monitor_bandwidth", ec.MonitorBandwidth)
	v.SetDefault("engine.join_timeout", ec.JoinTimeout)
	v.SetDefault("engine.reapply_interval", ec.ReapplyInterval)
	v.SetDefault("engine.target_signal", ec.TargetSignal)
	v.SetDefault("engine.history_size", ec.HistorySize)
	v.SetDefault("engine.shaping_headroom", ec.ShapingHeadroom)
	v.SetDefault("engine.mtu_target", ec.MTUTarget)

	v.SetDefault("overrides_path", "")
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when the store is enabled"))
	}
	if c.Engine.TargetSignal < 0 || c.Engine.TargetSignal > 100 {
		errs = append(errs, fmt.Errorf("engine.target_signal %d outside 0-100", c.Engine.TargetSignal))
	}
	if c.Diag.PingCount < 0 {
		errs = append(errs, fmt.Errorf("diag.ping_count %d is negative", c.Diag.PingCount))
	}
	return errors.Join(errs...)
}
