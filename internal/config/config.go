package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "CALLBOT"

type Config struct {
	Mode    string        `mapstructure:"mode"`
	Port    int           `mapstructure:"port"`
	Secret  string        `mapstructure:"secret"`
	Log     LogConfig     `mapstructure:"log"`
	Matrix  MatrixConfig  `mapstructure:"matrix"`
	Call    CallConfig    `mapstructure:"call"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Session SessionConfig `mapstructure:"session"`
	API     APIConfig     `mapstructure:"api"`
	Feed    FeedConfig    `mapstructure:"feed"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MatrixConfig struct {
	HomeserverURL string `mapstructure:"homeserver_url"`
	UserID        string `mapstructure:"user_id"`
	AccessToken   string `mapstructure:"access_token"`
	VoiceRoomID   string `mapstructure:"voice_room_id"`
}

type CallConfig struct {
	DefaultBaseURL string `mapstructure:"default_base_url"`
}

type BrokerConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DiscoveryTTL   time.Duration `mapstructure:"discovery_ttl"`
}

type SessionConfig struct {
	ScanAttempts   int           `mapstructure:"scan_attempts"`
	ScanBaseDelay  time.Duration `mapstructure:"scan_base_delay"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PlayTimeout    time.Duration `mapstructure:"play_timeout"`
	DetectDelay    time.Duration `mapstructure:"detect_delay"`
}

type APIConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	MaxSoundSize int64         `mapstructure:"max_sound_size"`
}

type FeedConfig struct {
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("matrix.homeserver_url", "")
	v.SetDefault("matrix.user_id", "")
	v.SetDefault("matrix.access_token", "")
	v.SetDefault("matrix.voice_room_id", "")
	v.SetDefault("call.default_base_url", "https://call.element.io")
	v.SetDefault("broker.request_timeout", "5s")
	v.SetDefault("broker.discovery_ttl", "0s")
	v.SetDefault("session.scan_attempts", 3)
	v.SetDefault("session.scan_base_delay", "1s")
	v.SetDefault("session.connect_timeout", "10s")
	v.SetDefault("session.play_timeout", "10s")
	v.SetDefault("session.detect_delay", "2s")
	v.SetDefault("api.rate_limit", 20)
	v.SetDefault("api.rate_interval", "1m")
	v.SetDefault("api.max_sound_size", 4<<20)
	v.SetDefault("feed.read_limit", 4096)
	v.SetDefault("feed.ping_period", "54s")
	v.SetDefault("feed.send_buffer", 64)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the
// defaults. CALLBOT_* environment variables override both, e.g.
// CALLBOT_MATRIX_ACCESS_TOKEN for matrix.access_token.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("homeserver", cfg.Matrix.HomeserverURL).Str("user", cfg.Matrix.UserID).Msg("config ready")
	return &cfg, nil
}

// Validate reports every missing setting the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.HomeserverURL == "" {
		errs = append(errs, errors.New("matrix.homeserver_url is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("matrix.user_id is required"))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("matrix.access_token is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Session.ScanAttempts < 1 {
		errs = append(errs, fmt.Errorf("session.scan_attempts must be positive, got %d", c.Session.ScanAttempts))
	}
	return errors.Join(errs...)
}
