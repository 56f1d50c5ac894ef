package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/loykin/apptrack/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. APPTRACK_STORE_PATH.
const EnvPrefix = "APPTRACK"

// Config represents the TOML configuration file.
type Config struct {
	// Username owns new logs. Empty resolves the OS account.
	Username string `toml:"username" mapstructure:"username"`
	// Track lists process names to start tracking on startup.
	Track      []string         `toml:"track" mapstructure:"track"`
	Store      StoreConfig      `toml:"store" mapstructure:"store"`
	Tracker    TrackerConfig    `toml:"tracker" mapstructure:"tracker"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
}

type StoreConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type TrackerConfig struct {
	Interval   time.Duration `toml:"interval" mapstructure:"interval"`
	SaveEvery  time.Duration `toml:"save_every" mapstructure:"save_every"`
	BadgeEvery time.Duration `toml:"badge_every" mapstructure:"badge_every"`
}

type SupervisorConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// MetricsConfig enables a node_exporter textfile. An empty Textfile
// disables metrics.
type MetricsConfig struct {
	Textfile      string        `toml:"textfile" mapstructure:"textfile"`
	FlushInterval time.Duration `toml:"flush_interval" mapstructure:"flush_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Track: []string{},
		Store: StoreConfig{Path: "stats.json"},
		Tracker: TrackerConfig{
			Interval:   5 * time.Second,
			SaveEvery:  120 * time.Second,
			BadgeEvery: 300 * time.Second,
		},
		Supervisor: SupervisorConfig{Interval: 3 * time.Second},
		Log:        logger.DefaultConfig(),
		Metrics:    MetricsConfig{FlushInterval: 15 * time.Second},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("username", d.Username)
	v.SetDefault("track", d.Track)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("tracker.interval", d.Tracker.Interval)
	v.SetDefault("tracker.save_every", d.Tracker.SaveEvery)
	v.SetDefault("tracker.badge_every", d.Tracker.BadgeEvery)
	v.SetDefault("supervisor.interval", d.Supervisor.Interval)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.timestamps", d.Log.TimeStamps)
	v.SetDefault("log.source", d.Log.Source)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
	v.SetDefault("metrics.flush_interval", d.Metrics.FlushInterval)
}

// Load reads path over the defaults and applies APPTRACK_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Track = normalizeNames(cfg.Track)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting the engine cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path must not be empty")
	}
	for key, d := range map[string]time.Duration{
		"tracker.interval":    c.Tracker.Interval,
		"tracker.save_every":  c.Tracker.SaveEvery,
		"tracker.badge_every": c.Tracker.BadgeEvery,
		"supervisor.interval": c.Supervisor.Interval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Metrics.Textfile != "" && c.Metrics.FlushInterval <= 0 {
		return fmt.Errorf("metrics.flush_interval must be positive, got %s", c.Metrics.FlushInterval)
	}
	if _, err := logger.ParseLevel(string(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case logger.FormatText, logger.FormatJSON, "":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// normalizeNames trims names and drops blanks and duplicates.
func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// fileConfig mirrors Config with durations spelled as strings ("5s"),
// the form Load accepts back.
type fileConfig struct {
	Username   string        `toml:"username"`
	Track      []string      `toml:"track"`
	Store      StoreConfig   `toml:"store"`
	Tracker    fileTracker   `toml:"tracker"`
	Supervisor fileInterval  `toml:"supervisor"`
	Log        logger.Config `toml:"log"`
	Metrics    fileMetrics   `toml:"metrics"`
}

type fileTracker struct {
	Interval   string `toml:"interval"`
	SaveEvery  string `toml:"save_every"`
	BadgeEvery string `toml:"badge_every"`
}

type fileInterval struct {
	Interval string `toml:"interval"`
}

type fileMetrics struct {
	Textfile      string `toml:"textfile"`
	FlushInterval string `toml:"flush_interval"`
}

// Write encodes cfg as TOML at path, creating parent directories.
// It refuses to replace an existing file unless overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	fc := fileConfig{
		Username: cfg.Username,
		Track:    cfg.Track,
		Store:    cfg.Store,
		Tracker: fileTracker{
			Interval:   cfg.Tracker.Interval.String(),
			SaveEvery:  cfg.Tracker.SaveEvery.String(),
			BadgeEvery: cfg.Tracker.BadgeEvery.String(),
		},
		Supervisor: fileInterval{Interval: cfg.Supervisor.Interval.String()},
		Log:        cfg.Log,
		Metrics: fileMetrics{
			Textfile:      cfg.Metrics.Textfile,
			FlushInterval: cfg.Metrics.FlushInterval.String(),
		},
	}
	if fc.Track == nil {
		fc.Track = []string{}
	}
	if err := toml.NewEncoder(f).Encode(fc); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}
