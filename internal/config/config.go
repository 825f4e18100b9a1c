package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel     = LogLevelInfo
	DefaultPollInterval = 300
	MinPollInterval     = 30

	defaultEnvPrefix = "DOCSISMON"
	configName       = "docsismon"
)

type Config struct {
	LogLevel   string           `mapstructure:"log_level"`
	Debug      bool             `mapstructure:"debug"`
	PIDFile    string           `mapstructure:"pid_file"`
	Modem      ModemConfig      `mapstructure:"modem"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Exporter   ExporterConfig   `mapstructure:"exporter"`
	Events     EventsConfig     `mapstructure:"events"`

	// ConfigFile is the file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

type ModemConfig struct {
	Name     string `mapstructure:"name"`
	Vendor   string `mapstructure:"vendor"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// PollInterval is in seconds.
	PollInterval int `mapstructure:"poll_interval"`
}

func (m ModemConfig) Interval() time.Duration {
	return time.Duration(m.PollInterval) * time.Second
}

type ThresholdsConfig struct {
	File string `mapstructure:"file"`
}

type StorageConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

type ExporterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	// PollRate is the minimum number of seconds between manual polls.
	PollRate int `mapstructure:"poll_rate"`
}

type EventsConfig struct {
	PowerShiftDB float64 `mapstructure:"power_shift_db"`
	SNRDropDB    float64 `mapstructure:"snr_drop_db"`
	UncorrSpike  int64   `mapstructure:"uncorr_spike"`
}

var defaults = map[string]any{
	"log_level":              string(DefaultLogLevel),
	"debug":                  false,
	"pid_file":               "",
	"modem.name":             "modem",
	"modem.vendor":           "",
	"modem.url":              "",
	"modem.username":         "",
	"modem.password":         "",
	"modem.poll_interval":    DefaultPollInterval,
	"thresholds.file":        "",
	"storage.enabled":        true,
	"storage.db_path":        "/var/lib/docsismon/docsismon.db",
	"storage.retention_days": 90,
	"mqtt.enabled":           false,
	"mqtt.broker":            "",
	"mqtt.username":          "",
	"mqtt.password":          "",
	"mqtt.client_id":         "docsismon",
	"mqtt.topic_prefix":      "docsismon",
	"mqtt.discovery_prefix":  "homeassistant",
	"exporter.enabled":       false,
	"exporter.listen":        "127.0.0.1:9476",
	"exporter.poll_rate":     10,
	"events.power_shift_db":  3.0,
	"events.snr_drop_db":     3.0,
	"events.uncorr_spike":    1000,
}

// flag name -> config key
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"debug":      "debug",
	"pid-file":   "pid_file",
	"vendor":     "modem.vendor",
	"url":        "modem.url",
	"username":   "modem.username",
	"interval":   "modem.poll_interval",
	"thresholds": "thresholds.file",
	"db":         "storage.db_path",
	"listen":     "exporter.listen",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("docsismon", pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("debug", false, "Enable debug logging")
	fs.String("pid-file", "", "Path to the PID file")
	fs.String("vendor", "", "Modem vendor")
	fs.String("url", "", "Modem base URL")
	fs.String("username", "", "Modem username")
	fs.Int("interval", DefaultPollInterval, "Poll interval in seconds")
	fs.String("thresholds", "", "Path to a threshold table JSON file")
	fs.String("db", "", "Path to the SQLite database")
	fs.String("listen", "", "Listen address of the HTTP API")
	return fs
}

// Load reads configuration from defaults, the config file, DOCSISMON_*
// environment variables and command line args, in increasing precedence.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{
		envPrefix:   defaultEnvPrefix,
		searchPaths: []string{"/etc/docsismon", "."},
	}
	for _, opt := range opts {
		opt(&o)
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path := o.configPath
	if f := fs.Lookup("config"); f.Changed {
		path = f.Value.String()
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		for _, p := range o.searchPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Modem.Vendor = strings.ToLower(strings.TrimSpace(cfg.Modem.Vendor))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func invalid(code errors.ErrorCode, field string, value any, reason string) error {
	return errors.New().Wrap(code, &FieldError{field: field, value: value, reason: reason})
}

// Validate checks values that do not depend on other packages.
func (c *Config) Validate() error {
	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return invalid(errors.ErrInvalidLogLevel, "log_level", c.LogLevel, "must be debug, info, warning or error")
	}
	if c.Modem.Name == "" {
		return invalid(errors.ErrInvalidConfig, "modem.name", c.Modem.Name, "must not be empty")
	}
	if c.Modem.Vendor == "" {
		return invalid(errors.ErrMissingConfig, "modem.vendor", c.Modem.Vendor, "is required")
	}
	if c.Modem.PollInterval < MinPollInterval {
		return invalid(errors.ErrInvalidInterval, "modem.poll_interval", c.Modem.PollInterval, "must be at least 30 seconds")
	}
	if c.Events.PowerShiftDB <= 0 || c.Events.SNRDropDB <= 0 {
		return invalid(errors.ErrInvalidConfig, "events", c.Events, "thresholds must be positive")
	}
	if c.Exporter.PollRate < 0 {
		return invalid(errors.ErrInvalidConfig, "exporter.poll_rate", c.Exporter.PollRate, "must not be negative")
	}
	return nil
}
