// Package config loads runtime settings from .env, an optional config file
// and PLAYGROUND_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chadiek/agent-playground/internal/activity"
	"github.com/chadiek/agent-playground/internal/bands"
	"github.com/chadiek/agent-playground/internal/playground"
	"github.com/chadiek/agent-playground/internal/visual"
)

const (
	configName = "playground"
	envPrefix  = "PLAYGROUND"
)

var ErrInvalidVideoFit = errors.New("config: video_fit must be cover or contain")

// Outputs toggles the output surfaces.
type Outputs struct {
	Audio bool `mapstructure:"audio"`
	Video bool `mapstructure:"video"`
	Chat  bool `mapstructure:"chat"`
}

// Inputs toggles local capture. Only the microphone can be published.
type Inputs struct {
	Mic bool `mapstructure:"mic"`
}

// Bands holds the band analyzer settings shared by both analyzers.
type Bands struct {
	Agent           int           `mapstructure:"agent"`
	Local           int           `mapstructure:"local"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	FFTSize         int           `mapstructure:"fft_size"`
	Smoothing       float64       `mapstructure:"smoothing"`
	LoBin           int           `mapstructure:"lo_bin"`
	HiBin           int           `mapstructure:"hi_bin"`
	Spacing         string        `mapstructure:"spacing"`
}

// Config holds application configuration.
type Config struct {
	HTTPAddress    string  `mapstructure:"http_address"`
	HTTPPassword   string  `mapstructure:"http_password"`
	SignalingURL   string  `mapstructure:"signaling_url"`
	Token          string  `mapstructure:"token"`
	ICEServersJSON string  `mapstructure:"ice_servers_json"`
	ThemeColor     string  `mapstructure:"theme_color"`
	VideoFit       string  `mapstructure:"video_fit"`
	Outputs        Outputs `mapstructure:"outputs"`
	Inputs         Inputs  `mapstructure:"inputs"`
	Bands          Bands   `mapstructure:"bands"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_address", ":8080")
	v.SetDefault("http_password", "")
	v.SetDefault("signaling_url", "ws://localhost:7880/signal")
	v.SetDefault("token", "")
	v.SetDefault("ice_servers_json", "")
	v.SetDefault("theme_color", "blue")
	v.SetDefault("video_fit", "cover")
	v.SetDefault("outputs.audio", true)
	v.SetDefault("outputs.video", true)
	v.SetDefault("outputs.chat", false)
	v.SetDefault("inputs.mic", true)
	v.SetDefault("bands.agent", 5)
	v.SetDefault("bands.local", 20)
	v.SetDefault("bands.refresh_interval", 32*time.Millisecond)
	v.SetDefault("bands.fft_size", 2048)
	v.SetDefault("bands.smoothing", 0.8)
	v.SetDefault("bands.lo_bin", 100)
	v.SetDefault("bands.hi_bin", 600)
	v.SetDefault("bands.spacing", string(bands.Linear))
}

// Load reads .env, then path (or playground.{yaml,toml,json} in the working
// directory when path is empty), then the environment. A missing file is not
// an error.
func Load(path string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.VideoFit = strings.ToLower(strings.TrimSpace(cfg.VideoFit))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the session core cannot use.
func (c Config) Validate() error {
	switch c.VideoFit {
	case "cover", "contain":
	default:
		return fmt.Errorf("%w, got %q", ErrInvalidVideoFit, c.VideoFit)
	}
	if c.Bands.Agent <= 0 || c.Bands.Local <= 0 {
		return fmt.Errorf("config: band counts must be positive, got agent=%d local=%d", c.Bands.Agent, c.Bands.Local)
	}
	switch bands.Spacing(c.Bands.Spacing) {
	case bands.Linear, bands.Geometric:
	default:
		return fmt.Errorf("config: unknown band spacing %q", c.Bands.Spacing)
	}
	return nil
}

func (b Bands) analyzer(n int) bands.Config {
	cfg := bands.DefaultConfig(n)
	cfg.Interval = b.RefreshInterval
	cfg.FFTSize = b.FFTSize
	cfg.Smoothing = b.Smoothing
	cfg.LoBin = b.LoBin
	cfg.HiBin = b.HiBin
	cfg.Spacing = bands.Spacing(b.Spacing)
	return cfg
}

// Playground maps the settings onto the session core configuration.
func (c Config) Playground() playground.Config {
	return playground.Config{
		ThemeColor: c.ThemeColor,
		VideoFit:   c.VideoFit,
		Outputs:    visual.Outputs{Audio: c.Outputs.Audio, Video: c.Outputs.Video, Chat: c.Outputs.Chat},
		AgentBands: c.Bands.analyzer(c.Bands.Agent),
		LocalBands: c.Bands.analyzer(c.Bands.Local),
		Activity:   activity.DefaultConfig(),
	}
}
