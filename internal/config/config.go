package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/seisguard/internal/forward"
	"github.com/rewired-gh/seisguard/internal/intensity"
	"github.com/rewired-gh/seisguard/internal/snapshot"
	"github.com/rewired-gh/seisguard/internal/trigger"
)

// Config represents the complete application configuration
type Config struct {
	Station     StationConfig     `mapstructure:"station"`
	Receiver    ReceiverConfig    `mapstructure:"receiver"`
	Trigger     TriggerConfig     `mapstructure:"trigger"`
	Intensity   IntensityConfig   `mapstructure:"intensity"`
	Sensitivity SensitivityConfig `mapstructure:"sensitivity"`
	Forward     ForwardConfig     `mapstructure:"forward"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// StationConfig identifies the station whose datagrams are received
type StationConfig struct {
	Network    string  `mapstructure:"network"`
	Station    string  `mapstructure:"station"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ReceiverConfig holds the UDP listener configuration
type ReceiverConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	QueueSize int    `mapstructure:"queue_size"`
	RcvBuf    int    `mapstructure:"rcv_buf"`
}

// TriggerConfig holds the STA/LTA detector configuration
type TriggerConfig struct {
	STA            float64       `mapstructure:"sta"`
	LTA            float64       `mapstructure:"lta"`
	Threshold      float64       `mapstructure:"threshold"`
	ResetThreshold float64       `mapstructure:"reset_threshold"`
	Duration       float64       `mapstructure:"duration"`
	Channels       []string      `mapstructure:"channels"`
	Energy         string        `mapstructure:"energy"`
	GapFactor      float64       `mapstructure:"gap_factor"`
	GapTolerance   time.Duration `mapstructure:"gap_tolerance"`

	// Highpass and Lowpass replace the built-in filter when both are set.
	Highpass float64 `mapstructure:"highpass"`
	Lowpass  float64 `mapstructure:"lowpass"`
	Order    int     `mapstructure:"order"`
}

// IntensityConfig holds the seismic intensity estimator configuration
type IntensityConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Channels []string `mapstructure:"channels"`

	// MinNotify is the intensity at which a notification is sent.
	MinNotify float64 `mapstructure:"min_notify"`
}

// SensitivityEntry is one static counts-per-unit value
type SensitivityEntry struct {
	Channel string  `mapstructure:"channel"`
	Value   float64 `mapstructure:"value"`
}

// SensitivityConfig holds instrument sensitivity sources
type SensitivityConfig struct {
	Static          []SensitivityEntry `mapstructure:"static"`
	FDSNEnabled     bool               `mapstructure:"fdsn_enabled"`
	FDSNURLs        []string           `mapstructure:"fdsn_urls"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	MaxRetries      int                `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration      `mapstructure:"retry_delay_base"`
	RefreshInterval time.Duration      `mapstructure:"refresh_interval"`
}

// ForwardConfig holds UDP forwarding configuration
type ForwardConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Channels  []string `mapstructure:"channels"`
	Data      bool     `mapstructure:"data"`
	Alarms    bool     `mapstructure:"alarms"`
	QueueSize int      `mapstructure:"queue_size"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// SnapshotConfig holds waveform image configuration
type SnapshotConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Delay    time.Duration `mapstructure:"delay"`
	Seconds  float64       `mapstructure:"seconds"`
	Highpass float64       `mapstructure:"highpass"`
	Lowpass  float64       `mapstructure:"lowpass"`
	Order    int           `mapstructure:"order"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath           string        `mapstructure:"db_path"`
	MaxAlerts        int           `mapstructure:"max_alerts"`
	MaxIntensityRows int           `mapstructure:"max_intensity_rows"`
	RotateInterval   time.Duration `mapstructure:"rotate_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	// SEISGUARD_TELEGRAM_BOT_TOKEN overrides telegram.bot_token
	v.SetEnvPrefix("SEISGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("station.network", "AM")
	v.SetDefault("station.station", "")
	v.SetDefault("station.sample_rate", 100.0)

	v.SetDefault("receiver.address", "0.0.0.0")
	v.SetDefault("receiver.port", 8888)
	v.SetDefault("receiver.queue_size", 1024)
	v.SetDefault("receiver.rcv_buf", 1<<20)

	v.SetDefault("trigger.sta", 6.0)
	v.SetDefault("trigger.lta", 30.0)
	v.SetDefault("trigger.threshold", 1.7)
	v.SetDefault("trigger.reset_threshold", 1.6)
	v.SetDefault("trigger.duration", 0.0)
	v.SetDefault("trigger.channels", []string{"HZ"})
	v.SetDefault("trigger.energy", string(trigger.EnergySquared))
	v.SetDefault("trigger.gap_factor", 1.5)
	v.SetDefault("trigger.gap_tolerance", "0s")
	v.SetDefault("trigger.order", 4)

	v.SetDefault("intensity.enabled", true)
	v.SetDefault("intensity.channels", []string{"ENE", "ENN", "ENZ"})
	v.SetDefault("intensity.min_notify", 2.5)

	v.SetDefault("sensitivity.fdsn_enabled", true)
	v.SetDefault("sensitivity.timeout", "20s")
	v.SetDefault("sensitivity.max_retries", 3)
	v.SetDefault("sensitivity.retry_delay_base", "2s")
	v.SetDefault("sensitivity.refresh_interval", "24h")

	v.SetDefault("forward.enabled", false)
	v.SetDefault("forward.channels", []string{"all"})
	v.SetDefault("forward.data", true)
	v.SetDefault("forward.alarms", true)
	v.SetDefault("forward.queue_size", 256)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "2s")
	v.SetDefault("telegram.queue_size", 64)

	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.dir", "./data/snapshots")
	v.SetDefault("snapshot.delay", "60s")
	v.SetDefault("snapshot.seconds", 90.0)
	v.SetDefault("snapshot.highpass", 0.7)
	v.SetDefault("snapshot.lowpass", 2.0)
	v.SetDefault("snapshot.order", 4)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_alerts", 1000)
	v.SetDefault("storage.max_intensity_rows", 100000)
	v.SetDefault("storage.rotate_interval", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Station.Station == "" {
		return fmt.Errorf("station.station is required")
	}
	if c.Station.SampleRate <= 0 {
		return fmt.Errorf("station.sample_rate must be positive")
	}

	if c.Receiver.Port < 0 || c.Receiver.Port > 65535 {
		return fmt.Errorf("receiver.port must be between 0 and 65535")
	}
	if c.Receiver.QueueSize < 1 {
		return fmt.Errorf("receiver.queue_size must be at least 1")
	}

	if err := c.TriggerSettings().Validate(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	if (c.Trigger.Highpass > 0) != (c.Trigger.Lowpass > 0) {
		return fmt.Errorf("trigger.highpass and trigger.lowpass must be set together")
	}

	if c.Intensity.Enabled {
		if err := c.IntensitySettings().Validate(); err != nil {
			return fmt.Errorf("intensity: %w", err)
		}
	}

	for _, s := range c.Sensitivity.Static {
		if s.Channel == "" {
			return fmt.Errorf("sensitivity.static entries require a channel")
		}
		if s.Value <= 0 {
			return fmt.Errorf("sensitivity.static value for %s must be positive", s.Channel)
		}
	}
	if c.Sensitivity.FDSNEnabled {
		if c.Sensitivity.Timeout <= 0 {
			return fmt.Errorf("sensitivity.timeout must be positive")
		}
		if c.Sensitivity.RefreshInterval < time.Minute {
			return fmt.Errorf("sensitivity.refresh_interval must be at least 1 minute")
		}
	}

	if c.Forward.Enabled {
		if len(c.Forward.Addresses) == 0 {
			return fmt.Errorf("forward.addresses must contain at least one destination")
		}
		if c.Forward.QueueSize < 1 {
			return fmt.Errorf("forward.queue_size must be at least 1")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
		if c.Telegram.QueueSize < 1 {
			return fmt.Errorf("telegram.queue_size must be at least 1")
		}
	}

	if c.Snapshot.Enabled {
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot.dir is required when snapshots are enabled")
		}
		if c.Snapshot.Delay < 0 {
			return fmt.Errorf("snapshot.delay must not be negative")
		}
		if c.Snapshot.Seconds <= 0 {
			return fmt.Errorf("snapshot.seconds must be positive")
		}
	}

	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}
	if c.Storage.MaxIntensityRows < 1 {
		return fmt.Errorf("storage.max_intensity_rows must be at least 1")
	}
	if c.Storage.RotateInterval < time.Minute {
		return fmt.Errorf("storage.rotate_interval must be at least 1 minute")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// TriggerSettings converts the trigger section into detector settings.
func (c *Config) TriggerSettings() trigger.Config {
	tc := trigger.Config{
		STA:            c.Trigger.STA,
		LTA:            c.Trigger.LTA,
		Threshold:      c.Trigger.Threshold,
		ResetThreshold: c.Trigger.ResetThreshold,
		MinDuration:    c.Trigger.Duration,
		SampleRate:     c.Station.SampleRate,
		Energy:         trigger.Energy(c.Trigger.Energy),
		GapFactor:      c.Trigger.GapFactor,
		GapTolerance:   c.Trigger.GapTolerance,
		Channels:       c.Trigger.Channels,
	}
	if c.Trigger.Highpass > 0 && c.Trigger.Lowpass > 0 {
		tc.Band = &trigger.Band{Order: c.Trigger.Order, Low: c.Trigger.Highpass, High: c.Trigger.Lowpass}
	}
	return tc
}

// IntensitySettings converts the intensity section, folding in static sensitivities.
func (c *Config) IntensitySettings() intensity.Config {
	return intensity.Config{
		Channels:      c.Intensity.Channels,
		SampleRate:    c.Station.SampleRate,
		Sensitivities: c.StaticSensitivities(),
	}
}

// StaticSensitivities returns the configured sensitivities keyed by channel.
func (c *Config) StaticSensitivities() map[string]float64 {
	out := make(map[string]float64, len(c.Sensitivity.Static))
	for _, s := range c.Sensitivity.Static {
		out[s.Channel] = s.Value
	}
	return out
}

func (c *Config) ForwardSettings() forward.Config {
	return forward.Config{
		Addresses: c.Forward.Addresses,
		Channels:  c.Forward.Channels,
		Data:      c.Forward.Data,
		Alarms:    c.Forward.Alarms,
		QueueSize: c.Forward.QueueSize,
	}
}

func (c *Config) SnapshotSettings() snapshot.Config {
	sc := snapshot.Config{
		Dir:     c.Snapshot.Dir,
		Delay:   c.Snapshot.Delay,
		Seconds: c.Snapshot.Seconds,
	}
	if c.Snapshot.Highpass > 0 && c.Snapshot.Lowpass > 0 {
		sc.Band = &snapshot.Band{Low: c.Snapshot.Highpass, High: c.Snapshot.Lowpass, Order: c.Snapshot.Order}
	}
	return sc
}

// ListenAddress returns the receiver host:port.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Receiver.Address, c.Receiver.Port)
}
