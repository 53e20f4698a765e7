package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voiceproc/internal/domain"
	"voiceproc/internal/infra"
)

type Config struct {
	Asset           AssetConfig           `yaml:"asset"`
	Session         SessionConfig         `yaml:"session"`
	Output          OutputConfig          `yaml:"output"`
	VoiceProcessing VoiceProcessingConfig `yaml:"voice_processing"`
	Events          EventsConfig          `yaml:"events"`
	Recovery        RecoveryConfig        `yaml:"recovery"`
	Control         ControlConfig         `yaml:"control"`
	Pushover        PushoverConfig        `yaml:"pushover"`
	Log             LogConfig             `yaml:"log"`
}

type AssetConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	Category                   string   `yaml:"category"`
	Options                    []string `yaml:"options"`
	NotifyOthersOnDeactivation *bool    `yaml:"notify_others_on_deactivation"`
}

type OutputConfig struct {
	Backend         string  `yaml:"backend"`
	SampleRate      float64 `yaml:"sample_rate"`
	FramesPerBuffer int     `yaml:"frames_per_buffer"`
}

type VoiceProcessingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type EventsConfig struct {
	QueueSize    int    `yaml:"queue_size"`
	PollInterval string `yaml:"poll_interval"`
}

type RecoveryConfig struct {
	MaxAttempts          int    `yaml:"max_attempts"`
	InitialDelay         string `yaml:"initial_delay"`
	MaxDelay             string `yaml:"max_delay"`
	MaxReinitializations int    `yaml:"max_reinitializations"`
}

type ControlConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`

	// TrustProxyHeaders keys rate limiting on X-Forwarded-For. Enable only
	// behind a proxy that sets it.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type PushoverConfig struct {
	Token    string `yaml:"token"`
	UserKey  string `yaml:"user_key"`
	Endpoint string `yaml:"endpoint"`
	Enabled  bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path after loading a .env file from the working directory, if
// there is one, so ${VAR} references can come from either.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Asset.Path == "" {
		c.Asset.Path = "stereo-voice.wav"
	}
	if c.Session.Category == "" {
		def := domain.DefaultSessionConfiguration()
		c.Session.Category = string(def.Category)
		if c.Session.Options == nil {
			for _, o := range def.Options {
				c.Session.Options = append(c.Session.Options, string(o))
			}
		}
	}
	if c.Session.NotifyOthersOnDeactivation == nil {
		notify := true
		c.Session.NotifyOthersOnDeactivation = &notify
	}
	if c.Output.Backend == "" {
		c.Output.Backend = "null"
	}
	if c.Output.SampleRate == 0 {
		c.Output.SampleRate = 48000
	}
	if c.Output.FramesPerBuffer == 0 {
		c.Output.FramesPerBuffer = 512
	}
	if c.Events.QueueSize == 0 {
		c.Events.QueueSize = 64
	}
	if c.Events.PollInterval == "" {
		c.Events.PollInterval = "500ms"
	}
	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = 1
	}
	if c.Recovery.InitialDelay == "" {
		c.Recovery.InitialDelay = "200ms"
	}
	if c.Recovery.MaxDelay == "" {
		c.Recovery.MaxDelay = "5s"
	}
	if c.Recovery.MaxReinitializations == 0 {
		c.Recovery.MaxReinitializations = 3
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Output.Backend != "null" && c.Output.Backend != "portaudio" {
		return fmt.Errorf("output.backend must be null or portaudio, got %q", c.Output.Backend)
	}
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("events.queue_size must be positive")
	}
	if err := c.SessionConfiguration().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	for name, value := range map[string]string{
		"events.poll_interval":   c.Events.PollInterval,
		"recovery.initial_delay": c.Recovery.InitialDelay,
		"recovery.max_delay":     c.Recovery.MaxDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) SessionConfiguration() domain.SessionConfiguration {
	cfg := domain.SessionConfiguration{
		Category:                   domain.Category(c.Session.Category),
		NotifyOthersOnDeactivation: c.Session.NotifyOthersOnDeactivation != nil && *c.Session.NotifyOthersOnDeactivation,
	}
	for _, o := range c.Session.Options {
		cfg.Options = append(cfg.Options, domain.RouteOption(o))
	}
	return cfg
}

func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Events.PollInterval)
	return d
}

// RetryConfig is the backoff applied to session activation during recovery.
func (c *Config) RetryConfig() infra.RetryConfig {
	initial, _ := time.ParseDuration(c.Recovery.InitialDelay)
	maxDelay, _ := time.ParseDuration(c.Recovery.MaxDelay)
	return infra.RetryConfig{
		MaxAttempts:  c.Recovery.MaxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
	}
}
